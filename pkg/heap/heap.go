// Package heap implements the identity map: a mapping from live entity
// instances to their tracking nodes, plus per-role key indexes used to find
// entities by primary or secondary key. Entities must be pointer-identified;
// the heap never inspects their fields.
//
// The heap is deliberately not synchronized: the engine touches it from a
// single execution path, and callers sharing one heap across transactions
// must serialize their runs.
package heap

import "stratum/pkg/node"

// Heap is the identity map.
type Heap struct {
	nodes   map[any]*node.Node
	order   []any
	indexes map[string]map[string]map[any]any // role -> key -> value -> entity
}

// New returns an empty identity map.
func New() *Heap {
	return &Heap{
		nodes:   make(map[any]*node.Node),
		indexes: make(map[string]map[string]map[any]any),
	}
}

// Get returns the node tracking an entity, or nil when the entity is unknown.
func (h *Heap) Get(entity any) *node.Node {
	return h.nodes[entity]
}

// Attach registers an entity with its node and indexes it by the given state
// keys. Attaching an already-known entity replaces its node.
func (h *Heap) Attach(entity any, n *node.Node, indexKeys ...string) {
	if _, known := h.nodes[entity]; !known {
		h.order = append(h.order, entity)
	}
	h.nodes[entity] = n
	h.index(entity, n, indexKeys)
}

// Reindex refreshes the index entries for an already-attached entity.
func (h *Heap) Reindex(entity any, indexKeys ...string) {
	n, ok := h.nodes[entity]
	if !ok {
		return
	}
	h.index(entity, n, indexKeys)
}

func (h *Heap) index(entity any, n *node.Node, keys []string) {
	if n.State() == nil {
		return
	}
	role := n.Role()
	for _, key := range keys {
		v, ok := n.State().Get(key)
		if !ok || v == nil {
			continue
		}
		if h.indexes[role] == nil {
			h.indexes[role] = make(map[string]map[any]any)
		}
		if h.indexes[role][key] == nil {
			h.indexes[role][key] = make(map[any]any)
		}
		h.indexes[role][key][v] = entity
	}
}

// Detach evicts an entity and every index entry pointing at it.
func (h *Heap) Detach(entity any) {
	n, ok := h.nodes[entity]
	if !ok {
		return
	}
	delete(h.nodes, entity)
	for i, e := range h.order {
		if e == entity {
			h.order = append(h.order[:i], h.order[i+1:]...)
			break
		}
	}
	for _, byValue := range h.indexes[n.Role()] {
		for v, e := range byValue {
			if e == entity {
				delete(byValue, v)
			}
		}
	}
}

// Find looks an entity up by an indexed key value.
func (h *Heap) Find(role, key string, value any) (any, bool) {
	byKey, ok := h.indexes[role]
	if !ok {
		return nil, false
	}
	byValue, ok := byKey[key]
	if !ok {
		return nil, false
	}
	e, ok := byValue[value]
	return e, ok
}

// Len returns the number of tracked entities.
func (h *Heap) Len() int { return len(h.nodes) }

// ForEach visits every tracked entity in attach order. Returning false stops
// the iteration.
func (h *Heap) ForEach(fn func(entity any, n *node.Node) bool) {
	entities := append([]any(nil), h.order...)
	for _, e := range entities {
		n, ok := h.nodes[e]
		if !ok {
			continue
		}
		if !fn(e, n) {
			return
		}
	}
}
