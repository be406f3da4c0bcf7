// Package reference models forward references: placeholders standing in for
// entities that have not been loaded yet. The engine swaps a resolvable
// promise for its target before scheduling work, and skips work for promises
// that resolve to nothing.
package reference

// Promise is a lazily resolvable entity placeholder.
type Promise interface {
	// Role names the entity type the promise stands for.
	Role() string
	// Resolve returns the target entity. The second result is false while the
	// promise cannot be resolved yet; a true result with a nil entity means
	// the reference points at nothing.
	Resolve() (any, bool)
}

// Lazy is a function-backed promise.
type Lazy struct {
	role string
	fn   func() (any, bool)
}

// NewLazy builds a promise resolved by the given function.
func NewLazy(role string, fn func() (any, bool)) *Lazy {
	return &Lazy{role: role, fn: fn}
}

// Role implements Promise.
func (l *Lazy) Role() string { return l.role }

// Resolve implements Promise.
func (l *Lazy) Resolve() (any, bool) { return l.fn() }
