// Package transaction implements the unit-of-work engine: it accepts persist
// and delete intents over a graph of related entities, builds a
// dependency-aware command plan by walking a mutable work pool to a fixed
// point, hands the generated commands to a runner inside one transactional
// boundary, and finally reconciles the identity map with committed reality
// (or resets it on failure).
//
// Execution is single-threaded and cooperative: a tuple that cannot progress
// is re-queued for a later pass rather than blocking, and a pass that makes
// no forward progress advances every unfinished tuple's status by one step,
// so a walk either terminates or surfaces a diagnosable deadlock.
package transaction

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"stratum/pkg/command"
	"stratum/pkg/heap"
	"stratum/pkg/node"
	"stratum/pkg/reference"
	"stratum/pkg/schema"
)

// Mode controls whether relations are resolved for an intent.
type Mode uint8

const (
	// ModeCascade resolves the entity's relations, scheduling dependent work.
	ModeCascade Mode = iota
	// ModeEntityOnly writes the entity alone, skipping relation resolution.
	ModeEntityOnly
)

// Option configures a Transaction.
type Option func(*Transaction)

// WithLogger installs a structured logger for pass/tuple tracing.
func WithLogger(log *zap.Logger) Option {
	return func(t *Transaction) { t.log = log }
}

// WithMetrics installs engine metrics.
func WithMetrics(m *Metrics) Option {
	return func(t *Transaction) { t.metrics = m }
}

// Transaction drives one unit-of-work batch to completion.
type Transaction struct {
	heap    *heap.Heap
	schema  *schema.Registry
	catalog Catalog
	runner  Runner
	log     *zap.Logger
	metrics *Metrics

	pool   *Pool
	parked []command.Command
}

// New builds a transaction over the shared identity map. Reentrant runs
// against the same heap must be serialized by the caller; tracked state is
// not isolated per transaction instance.
func New(h *heap.Heap, reg *schema.Registry, catalog Catalog, runner Runner, opts ...Option) *Transaction {
	t := &Transaction{
		heap:    h,
		schema:  reg,
		catalog: catalog,
		runner:  runner,
		log:     zap.NewNop(),
		pool:    NewPool(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Persist schedules an entity (and, in cascade mode, its relations) to be
// stored. Registering the same entity twice is a no-op.
func (t *Transaction) Persist(entity any, mode Mode) *Transaction {
	t.pool.Attach(entity, TaskStore, mode == ModeCascade)
	return t
}

// Delete schedules an entity to be removed. Registering the same entity
// twice is a no-op.
func (t *Transaction) Delete(entity any, mode Mode) *Transaction {
	t.pool.Attach(entity, TaskDelete, mode == ModeCascade)
	return t
}

// Run executes the whole pending batch. On any failure the runner is rolled
// back exactly once, every tracked entity's state is reset to its
// pre-transaction values and the original error is returned. On success the
// runner is completed and the identity map is synchronized with the settled
// values (generated keys included). An error surfaced after Complete comes
// from reconciliation only: storage stays committed and node bookkeeping is
// settled, but one or more entities could not be hydrated or reindexed.
func (t *Transaction) Run(ctx context.Context) error {
	err := t.walk(ctx)
	if err == nil {
		err = t.flushParked(ctx)
	}
	if err != nil {
		if rbErr := t.runner.Rollback(ctx); rbErr != nil {
			t.log.Warn("rollback failed", zap.Error(rbErr))
		}
		t.reset()
		t.metrics.observeOutcome("rollback")
		return err
	}
	if err := t.runner.Complete(ctx); err != nil {
		t.reset()
		t.metrics.observeOutcome("error")
		return err
	}
	if err := t.synchronize(); err != nil {
		t.metrics.observeOutcome("error")
		return err
	}
	t.metrics.observeOutcome("commit")
	return nil
}

// walk drains the pool: tuples are visited in insertion order, work attached
// mid-pass is visited within the same logical walk, and passes repeat until
// everything is processed. A pass without progress bumps each unfinished
// tuple's status; a tuple bumped past DEFERRED is deadlocked.
func (t *Transaction) walk(ctx context.Context) error {
	passes := 0
	for {
		passes++
		progress := false
		pending := 0
		for i := 0; i < t.pool.Len(); i++ {
			tp := t.pool.At(i)
			if tp.Status == StatusProcessed {
				continue
			}
			before := tp.Status
			advanced, err := t.resolveTuple(ctx, tp)
			if err != nil {
				t.metrics.observePasses(passes)
				return err
			}
			if advanced || tp.Status != before {
				progress = true
			}
			if tp.Status != StatusProcessed {
				pending++
			}
		}
		t.log.Debug("pool pass",
			zap.Int("pass", passes),
			zap.Int("tuples", t.pool.Len()),
			zap.Int("pending", pending),
			zap.Bool("progress", progress))
		if pending == 0 {
			break
		}
		if !progress {
			for i := 0; i < t.pool.Len(); i++ {
				tp := t.pool.At(i)
				if tp.Status == StatusProcessed {
					continue
				}
				if tp.Status >= StatusDeferred {
					t.metrics.observePasses(passes)
					return newDeadlockError(t.pool)
				}
				tp.Status++
			}
		}
	}
	t.metrics.observePasses(passes)
	return nil
}

func (t *Transaction) resolveTuple(ctx context.Context, tp *Tuple) (bool, error) {
	// A lazily loaded placeholder is swapped for its target before any work
	// is scheduled; a promise pointing at nothing needs no work at all.
	if p, ok := tp.Entity.(reference.Promise); ok {
		target, resolved := p.Resolve()
		if !resolved {
			return false, nil
		}
		if target == nil {
			tp.Status = StatusProcessed
			return true, nil
		}
		t.pool.Rebind(tp, p, target)
		if tp.Status == StatusProcessed {
			return true, nil
		}
	}
	// Deleting an entity the heap never saw is already logically done.
	if tp.Task != TaskStore && tp.Node == nil && t.heap.Get(tp.Entity) == nil {
		tp.Status = StatusProcessed
		return true, nil
	}
	if _, err := t.EnsureState(tp); err != nil {
		return false, err
	}
	// Escape hatch for leaf writes: the caller excluded relations.
	if !tp.Cascade {
		var err error
		if tp.Task == TaskStore {
			err = t.queueStore(ctx, tp)
		} else {
			err = t.queueDelete(ctx, tp)
		}
		if err != nil {
			return false, err
		}
		tp.Status = StatusProcessed
		return true, nil
	}
	if tp.Task == TaskStore {
		return t.resolveStore(ctx, tp)
	}
	return t.resolveDelete(ctx, tp)
}

type relationOutcome struct {
	progress   bool
	processing bool
	deferred   bool
}

func (t *Transaction) resolveRelations(tp *Tuple, rels []Relation, raw map[string]any) (relationOutcome, error) {
	var out relationOutcome
	for _, rel := range rels {
		prev := tp.Node.RelationStatus(rel.Name())
		if prev == node.RelationResolved {
			continue
		}
		related, err := rel.Extract(raw[rel.Name()])
		if err != nil {
			return out, fmt.Errorf("resolve relation %s.%s: %w", tp.Node.Role(), rel.Name(), err)
		}
		status, err := rel.Queue(t, tp, related)
		if err != nil {
			return out, fmt.Errorf("resolve relation %s.%s: %w", tp.Node.Role(), rel.Name(), err)
		}
		tp.Node.SetRelationStatus(rel.Name(), status)
		if status != prev {
			out.progress = true
		}
		switch status {
		case node.RelationProcessing, node.RelationNotResolved:
			out.processing = true
		case node.RelationDeferred:
			out.deferred = true
		}
	}
	return out, nil
}

// resolveStore handles a STORE tuple: masters first (dependencies that must
// exist before this entity's row can reference them), then the entity's own
// command with embedded relations folded in, then slaves, which may need the
// entity's own possibly just-generated key.
func (t *Transaction) resolveStore(ctx context.Context, tp *Tuple) (bool, error) {
	rels, err := t.catalog.Relations(tp.Node.Role())
	if err != nil {
		return false, err
	}
	raw, err := tp.Mapper.Relations(tp.Entity)
	if err != nil {
		return false, err
	}
	out, err := t.resolveRelations(tp, rels.Masters, raw)
	if err != nil {
		return false, err
	}
	progress := out.progress
	if out.processing {
		return progress, nil
	}
	if out.deferred {
		if tp.Status < StatusDeferred {
			tp.Status = StatusDeferred
			progress = true
		}
		return progress, nil
	}
	if !scheduled(tp.Node.Status()) {
		for _, rel := range rels.Embedded {
			related, err := rel.Extract(raw[rel.Name()])
			if err != nil {
				return progress, err
			}
			status, err := rel.Queue(t, tp, related)
			if err != nil {
				return progress, err
			}
			tp.Node.SetRelationStatus(rel.Name(), status)
		}
		if err := t.queueStore(ctx, tp); err != nil {
			return progress, err
		}
		tp.Advance(StatusPreprocessed)
		progress = true
	}
	out, err = t.resolveRelations(tp, rels.Slaves, raw)
	if err != nil {
		return progress, err
	}
	progress = progress || out.progress
	if out.processing {
		return progress, nil
	}
	if out.deferred {
		if tp.Status < StatusDeferred {
			tp.Status = StatusDeferred
			progress = true
		}
		return progress, nil
	}
	tp.Status = StatusProcessed
	return true, nil
}

// resolveDelete handles DELETE and FORCE_DELETE tuples: slaves first, since
// dependents must be removed or reassigned before the row they reference is
// gone, then the delete itself, then masters.
func (t *Transaction) resolveDelete(ctx context.Context, tp *Tuple) (bool, error) {
	rels, err := t.catalog.Relations(tp.Node.Role())
	if err != nil {
		return false, err
	}
	raw, err := tp.Mapper.Relations(tp.Entity)
	if err != nil {
		return false, err
	}
	out, err := t.resolveRelations(tp, rels.Slaves, raw)
	if err != nil {
		return false, err
	}
	progress := out.progress
	if out.processing {
		return progress, nil
	}
	if out.deferred {
		if tp.Status < StatusDeferred {
			tp.Status = StatusDeferred
			progress = true
		}
		return progress, nil
	}
	if tp.Node.Status() != node.StatusDeleted && tp.Node.Status() != node.StatusScheduledDelete {
		if err := t.queueDelete(ctx, tp); err != nil {
			return progress, err
		}
		tp.Advance(StatusPreprocessed)
		progress = true
	}
	out, err = t.resolveRelations(tp, rels.Masters, raw)
	if err != nil {
		return progress, err
	}
	progress = progress || out.progress
	if out.processing || out.deferred {
		return progress, nil
	}
	tp.Status = StatusProcessed
	return true, nil
}

func scheduled(s node.Status) bool {
	return s == node.StatusScheduledInsert || s == node.StatusScheduledUpdate
}

func (t *Transaction) queueStore(ctx context.Context, tp *Tuple) error {
	st := tp.Node.State()
	var cmd command.Command
	var err error
	if tp.Node.Status() == node.StatusNew {
		cmd, err = tp.Mapper.QueueCreate(tp.Entity, tp.Node, st)
		if err != nil {
			return err
		}
		tp.Node.SetStatus(node.StatusScheduledInsert)
	} else {
		cmd, err = tp.Mapper.QueueUpdate(tp.Entity, tp.Node, st)
		if err != nil {
			return err
		}
		tp.Node.SetStatus(node.StatusScheduledUpdate)
	}
	t.log.Debug("store command",
		zap.String("role", tp.Node.Role()),
		zap.String("status", tp.Node.Status().String()))
	return t.execute(ctx, cmd)
}

// queueDelete generates and immediately executes the delete command. Deletes
// are not deferred the way inserts and updates are; unless a relation opts
// into cascading, dependent cleanup is left to the database's own
// referential actions.
func (t *Transaction) queueDelete(ctx context.Context, tp *Tuple) error {
	cmd, err := tp.Mapper.QueueDelete(tp.Entity, tp.Node, tp.Node.State())
	if err != nil {
		return err
	}
	tp.Node.SetStatus(node.StatusScheduledDelete)
	if err := t.execute(ctx, cmd); err != nil {
		return err
	}
	tp.Node.SetStatus(node.StatusDeleted)
	t.log.Debug("delete command", zap.String("role", tp.Node.Role()))
	return nil
}

// execute hands a command to the runner, parking it when upstream values it
// depends on have not arrived yet.
func (t *Transaction) execute(ctx context.Context, cmd command.Command) error {
	if cmd == nil {
		return nil
	}
	if _, ok := cmd.(command.Nop); ok {
		t.metrics.observeCommand("noop")
		return nil
	}
	if !cmd.Ready() {
		t.parked = append(t.parked, cmd)
		return nil
	}
	t.metrics.observeCommand(commandKind(cmd))
	return t.runner.Run(ctx, cmd)
}

// flushParked drains parked commands in order as their awaited values arrive.
func (t *Transaction) flushParked(ctx context.Context) error {
	for len(t.parked) > 0 {
		progress := false
		var rest []command.Command
		for _, cmd := range t.parked {
			if !cmd.Ready() {
				rest = append(rest, cmd)
				continue
			}
			t.metrics.observeCommand(commandKind(cmd))
			if err := t.runner.Run(ctx, cmd); err != nil {
				return err
			}
			progress = true
		}
		t.parked = rest
		if !progress && len(t.parked) > 0 {
			return &WaitingCommandError{Count: len(t.parked)}
		}
	}
	return nil
}

// reset discards all pending changes across the entire identity map, not
// just entities touched by this transaction; tracked state lives in one
// shared heap rather than being transaction-scoped.
func (t *Transaction) reset() {
	t.heap.ForEach(func(_ any, n *node.Node) bool {
		n.Rollback()
		return true
	})
	t.parked = nil
	t.pool = NewPool()
}

// synchronize writes settled values back onto entities, refreshes identity
// map indexes from each role's key columns and evicts deleted entities that
// nothing in the heap still claims. The runner has already committed by the
// time this runs, so node bookkeeping is settled first and the sweep always
// covers every tuple: a hydration failure surfaces as an error but cannot
// strand scheduled statuses or dirty states behind it.
func (t *Transaction) synchronize() error {
	var errs error
	for i := 0; i < t.pool.Len(); i++ {
		tp := t.pool.At(i)
		n := tp.Node
		if n == nil {
			continue
		}
		switch n.Status() {
		case node.StatusDeleted, node.StatusScheduledDelete:
			n.Commit()
			if !n.Claimed() {
				t.heap.Detach(tp.Entity)
			}
		default:
			n.Commit()
			if n.State() != nil && tp.Mapper != nil {
				if err := tp.Mapper.Hydrate(tp.Entity, n.State().Data()); err != nil {
					errs = errors.Join(errs, err)
					continue
				}
			}
			keys, err := t.indexKeys(n.Role())
			if err != nil {
				errs = errors.Join(errs, err)
				continue
			}
			t.heap.Reindex(tp.Entity, keys...)
		}
	}
	t.pool = NewPool()
	t.parked = nil
	return errs
}

func (t *Transaction) indexKeys(role string) ([]string, error) {
	pk, err := t.schema.Define(role, schema.PropertyPrimaryKey)
	if err != nil {
		return nil, err
	}
	lookups, err := t.schema.Define(role, schema.PropertyLookupKeys)
	if err != nil {
		return nil, err
	}
	keys := []string{pk.(string)}
	keys = append(keys, lookups.([]string)...)
	return keys, nil
}

func commandKind(cmd command.Command) string {
	switch cmd.(type) {
	case *command.Insert:
		return "insert"
	case *command.Update:
		return "update"
	case *command.Delete:
		return "delete"
	case *command.Sequence:
		return "sequence"
	case *command.Deferred:
		return "deferred"
	default:
		return "other"
	}
}

// Attach implements QueueContext.
func (t *Transaction) Attach(entity any, task Task, cascade bool) (*Tuple, bool) {
	return t.pool.Attach(entity, task, cascade)
}

// EnsureState implements QueueContext: it equips a tuple with its mapper,
// node and state exactly the way the walk does when it first visits the
// tuple, capturing the baseline the change-set is diffed against.
func (t *Transaction) EnsureState(tp *Tuple) (*node.State, error) {
	if tp.Mapper == nil {
		role, err := t.catalog.Role(tp.Entity)
		if err != nil {
			return nil, err
		}
		m, err := t.catalog.Mapper(role)
		if err != nil {
			return nil, err
		}
		tp.Mapper = m
	}
	if tp.Node == nil {
		if n := t.heap.Get(tp.Entity); n != nil {
			tp.Node = n
		} else {
			n := node.New(tp.Mapper.Role())
			t.heap.Attach(tp.Entity, n)
			tp.Node = n
		}
	}
	if tp.Node.State() == nil {
		data, err := tp.Mapper.Extract(tp.Entity)
		if err != nil {
			return nil, err
		}
		tp.Node.SetState(node.NewState(data))
	} else if tp.Node.Status() == node.StatusManaged {
		// The state survived an earlier transaction; pick up edits made to the
		// entity since it was committed.
		data, err := tp.Mapper.Extract(tp.Entity)
		if err != nil {
			return nil, err
		}
		tp.Node.State().Absorb(data)
	}
	return tp.Node.State(), nil
}

// MapperFor implements QueueContext.
func (t *Transaction) MapperFor(entity any) (Mapper, error) {
	role, err := t.catalog.Role(entity)
	if err != nil {
		return nil, err
	}
	return t.catalog.Mapper(role)
}

// Heap implements QueueContext.
func (t *Transaction) Heap() *heap.Heap { return t.heap }

// Defer implements QueueContext.
func (t *Transaction) Defer(cmd command.Command) {
	t.parked = append(t.parked, cmd)
}
