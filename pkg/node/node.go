// Package node tracks the lifecycle of a single entity within the identity
// map: its persisted status, its field state for the current transaction and
// the resolution status of each of its relations.
package node

import "sort"

// Status describes the persisted lifecycle of an entity.
type Status uint8

const (
	// StatusNew marks an entity that has never been written.
	StatusNew Status = iota
	// StatusManaged marks an entity known to exist in storage.
	StatusManaged
	// StatusScheduledInsert marks an entity whose insert command has been queued.
	StatusScheduledInsert
	// StatusScheduledUpdate marks an entity whose update command has been queued.
	StatusScheduledUpdate
	// StatusDeleted marks an entity whose delete command has run.
	StatusDeleted
	// StatusScheduledDelete marks an entity whose delete command has been queued.
	StatusScheduledDelete
)

// String returns the status name for diagnostics.
func (s Status) String() string {
	switch s {
	case StatusNew:
		return "new"
	case StatusManaged:
		return "managed"
	case StatusScheduledInsert:
		return "scheduled-insert"
	case StatusScheduledUpdate:
		return "scheduled-update"
	case StatusDeleted:
		return "deleted"
	case StatusScheduledDelete:
		return "scheduled-delete"
	default:
		return "unknown"
	}
}

// RelationStatus describes how far a single relation has been resolved for
// the owning entity within the current transaction.
type RelationStatus uint8

const (
	// RelationNotResolved is the zero value for an untouched relation.
	RelationNotResolved RelationStatus = iota
	// RelationProcessing means resolution started but the dependency is not ready.
	RelationProcessing
	// RelationResolved means the relation needs no further work.
	RelationResolved
	// RelationDeferred means the relation cannot complete this pass and must
	// be re-attempted later.
	RelationDeferred
)

// Node is the per-entity tracking record. A node exists for every entity
// known to the identity map; an entity has at most one node.
type Node struct {
	role      string
	status    Status
	origin    Status
	touched   bool
	state     *State
	relations map[string]RelationStatus
	claims    int
}

// New returns a node for the given role in the NEW status.
func New(role string) *Node {
	return &Node{role: role}
}

// NewManaged returns a node for an entity already present in storage.
func NewManaged(role string) *Node {
	return &Node{role: role, status: StatusManaged}
}

// Role returns the role (type/table mapping) the node belongs to.
func (n *Node) Role() string { return n.role }

// Status returns the current lifecycle status.
func (n *Node) Status() Status { return n.status }

// SetStatus advances the lifecycle status, remembering the pre-transaction
// status the first time it is changed so a rollback can restore it.
func (n *Node) SetStatus(status Status) {
	if !n.touched {
		n.origin = n.status
		n.touched = true
	}
	n.status = status
}

// State returns the tracked field state, or nil when none was created yet.
func (n *Node) State() *State { return n.state }

// SetState installs the field state for the current transaction.
func (n *Node) SetState(state *State) { n.state = state }

// RelationStatus reports the resolution status recorded for a relation.
func (n *Node) RelationStatus(name string) RelationStatus {
	return n.relations[name]
}

// SetRelationStatus records the resolution status for a relation.
func (n *Node) SetRelationStatus(name string, status RelationStatus) {
	if n.relations == nil {
		n.relations = make(map[string]RelationStatus)
	}
	n.relations[name] = status
}

// Relations lists the relations with a recorded resolution status, sorted.
func (n *Node) Relations() []string {
	out := make([]string, 0, len(n.relations))
	for name := range n.relations {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Claim registers an outstanding external reference to the entity. A deleted
// entity is evicted from the identity map only once all claims are released.
func (n *Node) Claim() { n.claims++ }

// Unclaim releases a previously registered claim.
func (n *Node) Unclaim() {
	if n.claims > 0 {
		n.claims--
	}
}

// Claimed reports whether any external claims are outstanding.
func (n *Node) Claimed() bool { return n.claims > 0 }

// Commit settles the node after a successful transaction: the entity becomes
// managed (or stays deleted), relation bookkeeping is discarded and the state
// baseline is advanced to the committed data.
func (n *Node) Commit() {
	switch n.status {
	case StatusDeleted, StatusScheduledDelete:
		n.status = StatusDeleted
	default:
		n.status = StatusManaged
	}
	n.origin = n.status
	n.touched = false
	n.relations = nil
	if n.state != nil {
		n.state.Commit()
	}
}

// Rollback restores the node to its pre-transaction status and resets the
// tracked field state to the transaction baseline.
func (n *Node) Rollback() {
	if n.touched {
		n.status = n.origin
		n.touched = false
	}
	n.relations = nil
	if n.state != nil {
		n.state.Rollback()
	}
}
