package transaction

import (
	"context"

	"stratum/pkg/command"
	"stratum/pkg/heap"
	"stratum/pkg/node"
)

// Mapper translates between one entity type and its row representation, and
// generates the write commands for it. Implementations never interpret the
// engine's bookkeeping; they only move field data.
type Mapper interface {
	// Role names the type/table mapping served by this mapper.
	Role() string
	// Extract returns the entity's current column values.
	Extract(entity any) (map[string]any, error)
	// Relations returns the raw related values found on the entity, keyed by
	// relation name.
	Relations(entity any) (map[string]any, error)
	// Hydrate writes settled column values back onto the entity.
	Hydrate(entity any, data map[string]any) error
	// QueueCreate generates the insert command for a new entity.
	QueueCreate(entity any, n *node.Node, s *node.State) (command.Command, error)
	// QueueUpdate generates the update command for a managed entity. A
	// no-change state yields command.Nop.
	QueueUpdate(entity any, n *node.Node, s *node.State) (command.Command, error)
	// QueueDelete generates the delete command for an entity.
	QueueDelete(entity any, n *node.Node, s *node.State) (command.Command, error)
}

// Runner executes commands inside one transactional boundary. Execution
// order across Run calls must be preserved; composite commands enforce their
// own internal ordering.
type Runner interface {
	Run(ctx context.Context, cmd command.Command) error
	Complete(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// QueueContext is the surface a relation uses to enqueue dependent work while
// the pool is being walked.
type QueueContext interface {
	// Attach registers pending work for an entity, returning the existing
	// tuple when the entity is already tracked.
	Attach(entity any, task Task, cascade bool) (*Tuple, bool)
	// EnsureState makes sure the tuple has a mapper, a node and a state,
	// creating them the same way the engine does when it first visits the
	// tuple.
	EnsureState(t *Tuple) (*node.State, error)
	// MapperFor resolves the mapper serving an entity.
	MapperFor(entity any) (Mapper, error)
	// Heap exposes the identity map.
	Heap() *heap.Heap
	// Defer parks a follow-up command to be executed, in order, once its
	// awaited values have arrived.
	Defer(cmd command.Command)
}

// Relation is the capability surface every relation kind implements.
type Relation interface {
	// Name is the relation's name on the owning role.
	Name() string
	// Cascade reports whether dependent writes and deletes propagate through
	// this relation.
	Cascade() bool
	// Extract normalizes the raw related value found on the entity into a
	// canonical shape (single entity, slice of entities, or nil).
	Extract(raw any) (any, error)
	// Queue enqueues whatever work the relation requires and reports the
	// resolution status to record on the owning node.
	Queue(qc QueueContext, t *Tuple, related any) (node.RelationStatus, error)
}

// Relations is a role's relation capabilities partitioned by write order.
type Relations struct {
	Masters  []Relation
	Slaves   []Relation
	Embedded []Relation
}

// Catalog resolves the mapper and relation capabilities for entities.
type Catalog interface {
	// Role determines which role an entity belongs to.
	Role(entity any) (string, error)
	// Mapper returns the mapper serving a role.
	Mapper(role string) (Mapper, error)
	// Relations returns the partitioned relation capabilities of a role.
	Relations(role string) (*Relations, error)
}
