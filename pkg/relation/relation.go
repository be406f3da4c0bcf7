// Package relation implements the capability surface the engine needs from
// every relation kind: extracting related values from an entity and
// enqueuing the related entity's own persist/delete work into the pool.
//
// Each kind is an explicit variant rather than a hierarchy: belongs-to and
// shadow belongs-to are masters, has-one/has-many are slaves, embedded folds
// into the owner's own command, and refers-to is the reversed back-reference
// that never resolves synchronously.
package relation

import (
	"fmt"
	"reflect"

	"stratum/pkg/command"
	"stratum/pkg/node"
	"stratum/pkg/reference"
	"stratum/pkg/schema"
	"stratum/pkg/transaction"
)

// Build assembles the partitioned relation capabilities for a role from
// schema metadata.
func Build(reg *schema.Registry, role string) (*transaction.Relations, error) {
	owner, ok := reg.Role(role)
	if !ok {
		return nil, fmt.Errorf("relation: unknown role %q", role)
	}
	part, err := reg.Partition(role)
	if err != nil {
		return nil, err
	}
	out := &transaction.Relations{}
	for _, spec := range part.Masters {
		rel, err := build(owner, spec)
		if err != nil {
			return nil, err
		}
		out.Masters = append(out.Masters, rel)
	}
	for _, spec := range part.Slaves {
		rel, err := build(owner, spec)
		if err != nil {
			return nil, err
		}
		out.Slaves = append(out.Slaves, rel)
	}
	for _, spec := range part.Embedded {
		rel, err := build(owner, spec)
		if err != nil {
			return nil, err
		}
		out.Embedded = append(out.Embedded, rel)
	}
	return out, nil
}

func build(owner schema.Role, spec schema.Relation) (transaction.Relation, error) {
	switch spec.Kind {
	case schema.BelongsTo:
		return &BelongsTo{spec: spec}, nil
	case schema.ShadowBelongsTo:
		return &ShadowBelongsTo{spec: spec, ownerTable: owner.Table, ownerPK: owner.PrimaryKey}, nil
	case schema.RefersTo:
		return &RefersTo{spec: spec, ownerTable: owner.Table, ownerPK: owner.PrimaryKey}, nil
	case schema.HasOne:
		return &HasMany{spec: spec, single: true}, nil
	case schema.HasMany:
		return &HasMany{spec: spec}, nil
	case schema.Embedded:
		return &EmbeddedRelation{spec: spec}, nil
	default:
		return nil, fmt.Errorf("relation: unsupported kind %q", spec.Kind)
	}
}

// normalize unwraps typed-nil pointers so relations see a plain nil.
func normalize(raw any) any {
	if raw == nil {
		return nil
	}
	v := reflect.ValueOf(raw)
	switch v.Kind() {
	case reflect.Pointer, reflect.Interface, reflect.Map, reflect.Slice:
		if v.IsNil() {
			return nil
		}
	}
	return raw
}

// forwardKey wires the parent's key column into the dependent's state. The
// first hop carries the trigger so the arrival counts as one real change.
func forwardKey(parent *node.State, parentKey string, dependent *node.State, dependentKey string) {
	parent.Forward(parentKey, dependent, dependentKey, true)
}

// BelongsTo is a master relation: a foreign key on the owning entity that
// must point at an existing (or already scheduled) parent row.
type BelongsTo struct {
	spec schema.Relation
}

// Name implements transaction.Relation.
func (r *BelongsTo) Name() string { return r.spec.Name }

// Cascade implements transaction.Relation.
func (r *BelongsTo) Cascade() bool { return r.spec.Cascade }

// Extract implements transaction.Relation.
func (r *BelongsTo) Extract(raw any) (any, error) { return normalize(raw), nil }

// Queue resolves once the parent's own write command is queued ahead of the
// owner's, wiring the parent's key into the owner's foreign-key column.
func (r *BelongsTo) Queue(qc transaction.QueueContext, t *transaction.Tuple, related any) (node.RelationStatus, error) {
	if t.Task != transaction.TaskStore {
		return node.RelationResolved, nil
	}
	if related == nil {
		if !r.spec.Nullable {
			return node.RelationNotResolved, fmt.Errorf("required parent is missing")
		}
		return node.RelationResolved, nil
	}
	if p, ok := related.(reference.Promise); ok {
		target, resolved := p.Resolve()
		if !resolved {
			return node.RelationProcessing, nil
		}
		if target == nil {
			if !r.spec.Nullable {
				return node.RelationNotResolved, fmt.Errorf("required parent reference resolved to nothing")
			}
			return node.RelationResolved, nil
		}
		related = target
	}
	ct, _ := qc.Attach(related, transaction.TaskStore, true)
	rn := ct.Node
	if rn == nil {
		rn = qc.Heap().Get(related)
	}
	if rn == nil || rn.Status() == node.StatusNew {
		// The parent's key-producing command is not queued yet; retry once the
		// pool has visited it.
		return node.RelationProcessing, nil
	}
	rs, err := qc.EnsureState(ct)
	if err != nil {
		return node.RelationNotResolved, err
	}
	forwardKey(rs, r.spec.OuterKey, t.Node.State(), r.spec.InnerKey)
	return node.RelationResolved, nil
}

// ShadowBelongsTo is a foreign key that may or may not be connected to a
// loaded parent. When the parent side is pending and the owner has already
// reached the PROPOSED status, it defers instead of waiting, and on the
// deferred retry it accepts with a follow-up update so two mutually
// dependent entities cannot starve each other.
type ShadowBelongsTo struct {
	spec       schema.Relation
	ownerTable string
	ownerPK    string
}

// Name implements transaction.Relation.
func (r *ShadowBelongsTo) Name() string { return r.spec.Name }

// Cascade implements transaction.Relation.
func (r *ShadowBelongsTo) Cascade() bool { return r.spec.Cascade }

// Extract implements transaction.Relation.
func (r *ShadowBelongsTo) Extract(raw any) (any, error) { return normalize(raw), nil }

// Queue implements transaction.Relation.
func (r *ShadowBelongsTo) Queue(qc transaction.QueueContext, t *transaction.Tuple, related any) (node.RelationStatus, error) {
	if t.Task != transaction.TaskStore {
		return node.RelationResolved, nil
	}
	if related == nil {
		// Not connected; the column keeps whatever the entity carried.
		return node.RelationResolved, nil
	}
	if p, ok := related.(reference.Promise); ok {
		target, resolved := p.Resolve()
		if !resolved || target == nil {
			if resolved {
				return node.RelationResolved, nil
			}
			return node.RelationProcessing, nil
		}
		related = target
	}
	ct, _ := qc.Attach(related, transaction.TaskStore, true)
	rn := ct.Node
	if rn == nil {
		rn = qc.Heap().Get(related)
	}
	if rn != nil && rn.Status() != node.StatusNew {
		rs, err := qc.EnsureState(ct)
		if err != nil {
			return node.RelationNotResolved, err
		}
		forwardKey(rs, r.spec.OuterKey, t.Node.State(), r.spec.InnerKey)
		return node.RelationResolved, nil
	}
	if t.Status >= transaction.StatusDeferred {
		if err := followUp(qc, t, ct, r.ownerTable, r.ownerPK, r.spec.InnerKey, r.spec.OuterKey); err != nil {
			return node.RelationNotResolved, err
		}
		return node.RelationResolved, nil
	}
	if t.Status >= transaction.StatusProposed {
		return node.RelationDeferred, nil
	}
	return node.RelationProcessing, nil
}

// RefersTo is the reversed relation: a purely informational back-reference
// whose owning side is the other entity. It never resolves synchronously; on
// the deferred retry the back-reference column is written by a follow-up
// update once the other side's key exists.
type RefersTo struct {
	spec       schema.Relation
	ownerTable string
	ownerPK    string
}

// Name implements transaction.Relation.
func (r *RefersTo) Name() string { return r.spec.Name }

// Cascade implements transaction.Relation.
func (r *RefersTo) Cascade() bool { return r.spec.Cascade }

// Extract implements transaction.Relation.
func (r *RefersTo) Extract(raw any) (any, error) { return normalize(raw), nil }

// Queue implements transaction.Relation.
func (r *RefersTo) Queue(qc transaction.QueueContext, t *transaction.Tuple, related any) (node.RelationStatus, error) {
	if t.Task != transaction.TaskStore {
		return node.RelationResolved, nil
	}
	if related == nil {
		return node.RelationResolved, nil
	}
	if p, ok := related.(reference.Promise); ok {
		target, resolved := p.Resolve()
		if !resolved {
			return node.RelationDeferred, nil
		}
		if target == nil {
			return node.RelationResolved, nil
		}
		related = target
	}
	ct, _ := qc.Attach(related, transaction.TaskStore, r.spec.Cascade)
	if t.Status >= transaction.StatusDeferred {
		if err := followUp(qc, t, ct, r.ownerTable, r.ownerPK, r.spec.InnerKey, r.spec.OuterKey); err != nil {
			return node.RelationNotResolved, err
		}
		return node.RelationResolved, nil
	}
	return node.RelationDeferred, nil
}

// followUp emits a conditional update writing the other side's key into the
// owner's column once both keys exist. The owner's primary key addresses the
// row; both values may still be unassigned and arrive through forwarding.
func followUp(qc transaction.QueueContext, t *transaction.Tuple, other *transaction.Tuple, table, pk, innerKey, outerKey string) error {
	os, err := qc.EnsureState(other)
	if err != nil {
		return err
	}
	own := t.Node.State()
	upd := command.NewUpdate(table, pk, nil, nil)
	upd.WaitFor(innerKey)
	own.Forward(pk, upd, pk, false)
	os.Forward(outerKey, upd, innerKey, true)
	// Keep the logical view in sync without re-triggering change detection.
	os.Forward(outerKey, own, innerKey, false)
	qc.Defer(command.NewDeferred(upd))
	return nil
}

// HasMany is a slave relation: dependent rows keyed by the owning entity.
// With single set it behaves as has-one.
type HasMany struct {
	spec   schema.Relation
	single bool
}

// Name implements transaction.Relation.
func (r *HasMany) Name() string { return r.spec.Name }

// Cascade implements transaction.Relation.
func (r *HasMany) Cascade() bool { return r.spec.Cascade }

// Extract normalizes the raw value into a slice of related entities.
func (r *HasMany) Extract(raw any) (any, error) {
	raw = normalize(raw)
	if raw == nil {
		return nil, nil
	}
	if r.single {
		return []any{raw}, nil
	}
	v := reflect.ValueOf(raw)
	if v.Kind() != reflect.Slice {
		return nil, fmt.Errorf("expected a slice, got %T", raw)
	}
	out := make([]any, 0, v.Len())
	for i := 0; i < v.Len(); i++ {
		if child := normalize(v.Index(i).Interface()); child != nil {
			out = append(out, child)
		}
	}
	return out, nil
}

/// Queue schedules dependents: stores enqueue each child with the owner's key
// forwarded into its foreign-key column; deletes enqueue dependent removals
// when the relation cascades, and otherwise leave cleanup to the database.
// A cascading delete stays in processing until every dependent's removal has
// been processed, so the owner's row outlives the rows referencing it.
func (r *HasMany) Queue(qc transaction.QueueContext, t *transaction.Tuple, related any) (node.RelationStatus, error) {
	children, _ := related.([]any)
	if t.Task != transaction.TaskStore {
		if !r.spec.Cascade {
			return node.RelationResolved, nil
		}
		pending := false
		for _, child := range children {
			ct, _ := qc.Attach(child, transaction.TaskForceDelete, true)
			if ct != t && ct.Status != transaction.StatusProcessed {
				pending = true
			}
		}
		if pending {
			return node.RelationProcessing, nil
		}
		return node.RelationResolved, nil
	}
	own := t.Node.State()
	for _, child := range children {
		if p, ok := child.(reference.Promise); ok {
			target, resolved := p.Resolve()
			if !resolved || target == nil {
				// Unloaded dependents already carry the key in storage.
				continue
			}
			child = target
		}
		ct, _ := qc.Attach(child, transaction.TaskStore, true)
		cs, err := qc.EnsureState(ct)
		if err != nil {
			return node.RelationNotResolved, err
		}
		forwardKey(own, r.spec.OuterKey, cs, r.spec.InnerKey)
	}
	return node.RelationResolved, nil
}

// EmbeddedRelation folds the related object's columns into the owning
// entity's own write command instead of issuing separate work.
type EmbeddedRelation struct {
	spec schema.Relation
}

// Name implements transaction.Relation.
func (r *EmbeddedRelation) Name() string { return r.spec.Name }

// Cascade implements transaction.Relation.
func (r *EmbeddedRelation) Cascade() bool { return r.spec.Cascade }

// Extract implements transaction.Relation.
func (r *EmbeddedRelation) Extract(raw any) (any, error) { return normalize(raw), nil }

// Queue merges the embedded object's columns into the owner's state so they
// ride along in the same command.
func (r *EmbeddedRelation) Queue(qc transaction.QueueContext, t *transaction.Tuple, related any) (node.RelationStatus, error) {
	if related == nil {
		return node.RelationResolved, nil
	}
	m, err := qc.MapperFor(related)
	if err != nil {
		return node.RelationNotResolved, err
	}
	data, err := m.Extract(related)
	if err != nil {
		return node.RelationNotResolved, err
	}
	own := t.Node.State()
	for k, v := range data {
		own.Register(k, v, true)
	}
	return node.RelationResolved, nil
}
