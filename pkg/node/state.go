package node

import "reflect"

// Consumer receives late-bound field values. Both tracked states and pending
// write commands implement it, so a generated key can flow from a parent's
// insert into a dependent's foreign-key column without re-reading the parent.
type Consumer interface {
	Register(key string, value any, fresh bool)
}

type forwarding struct {
	key       string
	target    Consumer
	targetKey string
	trigger   bool
}

// State is the mutable field-data snapshot for one entity within the current
// transaction. The data map is the authoritative logical view; the
// transaction baseline is captured once (first-write-wins per key) and used
// to detect actual changes.
type State struct {
	data     map[string]any
	baseline map[string]any
	fresh    map[string]bool
	forwards []forwarding
	command  Consumer
}

// NewState captures the given field data as both the current view and the
// transaction baseline.
func NewState(data map[string]any) *State {
	s := &State{
		data:     make(map[string]any, len(data)),
		baseline: make(map[string]any, len(data)),
		fresh:    make(map[string]bool),
	}
	for k, v := range data {
		s.data[k] = v
		s.baseline[k] = v
	}
	return s
}

// Get returns the current value for a column.
func (s *State) Get(key string) (any, bool) {
	v, ok := s.data[key]
	return v, ok
}

// Has reports whether a column currently holds a non-nil value.
func (s *State) Has(key string) bool {
	v, ok := s.data[key]
	return ok && v != nil
}

// Data returns a copy of the current logical view.
func (s *State) Data() map[string]any {
	out := make(map[string]any, len(s.data))
	for k, v := range s.data {
		out[k] = v
	}
	return out
}

// Register updates a column value and cascades it to every forwarding target
// registered for the key. The fresh flag marks the value as already delivered
// within this transaction: re-delivering the same fresh value is a no-op,
// which keeps mutually forwarding states from looping, and Absorb leaves
// fresh keys alone. Freshness never counts as a change by itself; the change
// set is always a diff against the transaction baseline.
func (s *State) Register(key string, value any, fresh bool) {
	if prev, ok := s.data[key]; ok && s.fresh[key] && equalValue(prev, value) {
		return
	}
	s.data[key] = value
	if fresh {
		s.fresh[key] = true
	}
	if s.command != nil {
		s.command.Register(key, value, fresh)
	}
	for _, f := range s.forwards {
		if f.key == key {
			f.target.Register(f.targetKey, value, f.trigger)
		}
	}
}

// Forward registers a propagation link: whenever the value of key changes on
// this state, push it (renamed to targetKey) into the target consumer. When
// the key already holds a non-nil value it is delivered immediately. Only the
// first hop of a chain should be registered with trigger set; downstream hops
// use trigger false so a single assignment is counted as one change.
func (s *State) Forward(key string, target Consumer, targetKey string, trigger bool) {
	s.forwards = append(s.forwards, forwarding{key: key, target: target, targetKey: targetKey, trigger: trigger})
	if v, ok := s.data[key]; ok && v != nil {
		target.Register(targetKey, v, trigger)
	}
}

// Absorb folds freshly extracted entity data into the tracked view, picking
// up edits made to the entity between transactions. Keys holding a fresh
// in-transaction value are left alone; the extracted copy of those is stale.
func (s *State) Absorb(data map[string]any) {
	for k, v := range data {
		if s.fresh[k] {
			continue
		}
		s.data[k] = v
	}
}

// Subscriptions returns the number of active forwarding links.
func (s *State) Subscriptions() int { return len(s.forwards) }

// SetCommand links the in-flight write command carrying this state's data, so
// values arriving after the command was constructed still reach its bound
// parameters.
func (s *State) SetCommand(cmd Consumer) { s.command = cmd }

// Command returns the in-flight command carrier, if any.
func (s *State) Command() Consumer { return s.command }

// Changes returns the columns whose current value differs from the
// transaction baseline. A forwarded value equal to what the entity already
// carried is not a change; a parent key delivered to a child that never had
// one is.
func (s *State) Changes() map[string]any {
	out := make(map[string]any)
	for k, v := range s.data {
		base, ok := s.baseline[k]
		if !ok || !equalValue(base, v) {
			out[k] = v
		}
	}
	return out
}

// Commit advances the baseline to the current data and drops all
// transaction-scoped bookkeeping.
func (s *State) Commit() {
	s.baseline = make(map[string]any, len(s.data))
	for k, v := range s.data {
		s.baseline[k] = v
	}
	s.fresh = make(map[string]bool)
	s.forwards = nil
	s.command = nil
}

// Rollback discards all pending changes, restoring the baseline view.
func (s *State) Rollback() {
	s.data = make(map[string]any, len(s.baseline))
	for k, v := range s.baseline {
		s.data[k] = v
	}
	s.fresh = make(map[string]bool)
	s.forwards = nil
	s.command = nil
}

func equalValue(a, b any) bool {
	if a == nil || b == nil {
		return a == b
	}
	return reflect.DeepEqual(a, b)
}
