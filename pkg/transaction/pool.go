package transaction

import "stratum/pkg/node"

// Task is the kind of pending work a tuple represents.
type Task uint8

const (
	// TaskStore persists the entity (insert or update).
	TaskStore Task = iota
	// TaskDelete removes the entity.
	TaskDelete
	// TaskForceDelete removes the entity even when it was never tracked;
	// deleting an unknown entity is then a no-op.
	TaskForceDelete
)

// String returns the task name for diagnostics.
func (t Task) String() string {
	switch t {
	case TaskStore:
		return "store"
	case TaskDelete:
		return "delete"
	case TaskForceDelete:
		return "force-delete"
	default:
		return "unknown"
	}
}

// TupleStatus is the strictly ordered progression a tuple moves through. The
// engine advances a tuple's status whenever a pass makes no forward progress,
// so a tuple can never loop forever in the same status: either it resolves
// within the progression or the exhaustion surfaces as a deadlock.
type TupleStatus uint8

const (
	// StatusPreparing is the initial status of freshly attached work.
	StatusPreparing TupleStatus = iota
	// StatusProcessing means dependency resolution has started.
	StatusProcessing
	// StatusProposed means the tuple has been offered a full resolution pass.
	StatusProposed
	// StatusWaiting means the tuple is blocked on upstream work.
	StatusWaiting
	// StatusPreprocessed means the entity's own command has been generated.
	StatusPreprocessed
	// StatusDeferred means a relation signalled it cannot complete this pass.
	StatusDeferred
	// StatusProcessed is terminal.
	StatusProcessed
)

// String returns the status name for diagnostics.
func (s TupleStatus) String() string {
	switch s {
	case StatusPreparing:
		return "preparing"
	case StatusProcessing:
		return "processing"
	case StatusProposed:
		return "proposed"
	case StatusWaiting:
		return "waiting"
	case StatusPreprocessed:
		return "preprocessed"
	case StatusDeferred:
		return "deferred"
	case StatusProcessed:
		return "processed"
	default:
		return "unknown"
	}
}

// Tuple is one unit of pending work: an entity plus the task to perform on
// it, with the engine's per-walk bookkeeping.
type Tuple struct {
	Entity  any
	Node    *node.Node
	Mapper  Mapper
	Task    Task
	Status  TupleStatus
	Cascade bool
}

// Advance moves the status one step forward.
func (t *Tuple) Advance(status TupleStatus) {
	if status > t.Status {
		t.Status = status
	}
}

// Pool is the mutable work queue: at most one live tuple per entity,
// iterated in insertion order. Iteration tolerates concurrent growth, so
// relation resolution may attach work for newly discovered entities and have
// it visited within the same logical walk.
type Pool struct {
	tuples []*Tuple
	index  map[any]*Tuple
}

// NewPool returns an empty pool.
func NewPool() *Pool {
	return &Pool{index: make(map[any]*Tuple)}
}

// Attach inserts a tuple for the entity unless one already exists, in which
// case the existing tuple is returned and registration is a no-op. A delete
// task replaces a pending store task for the same entity.
func (p *Pool) Attach(entity any, task Task, cascade bool) (*Tuple, bool) {
	if t, ok := p.index[entity]; ok {
		if task != TaskStore && t.Task == TaskStore && t.Status == StatusPreparing {
			t.Task = task
			t.Cascade = cascade
		}
		return t, false
	}
	t := &Tuple{Entity: entity, Task: task, Status: StatusPreparing, Cascade: cascade}
	p.tuples = append(p.tuples, t)
	p.index[entity] = t
	return t, true
}

// Get returns the live tuple for an entity, or nil.
func (p *Pool) Get(entity any) *Tuple {
	return p.index[entity]
}

// Rebind rekeys a tuple after a forward reference was replaced by its
// resolved target.
func (p *Pool) Rebind(t *Tuple, old, entity any) {
	delete(p.index, old)
	if existing, ok := p.index[entity]; ok && existing != t {
		// The target is already tracked; the promise tuple collapses into it.
		t.Status = StatusProcessed
		return
	}
	p.index[entity] = t
	t.Entity = entity
}

// Len returns the current number of tuples, including ones attached after
// iteration began.
func (p *Pool) Len() int { return len(p.tuples) }

// At returns the tuple at insertion position i.
func (p *Pool) At(i int) *Tuple { return p.tuples[i] }
