// Package command models database write work as composable units: single row
// mutations, ordered sequences and lazily evaluated wrappers. Commands are
// generated by the unit-of-work engine and interpreted by a runner; a command
// may declare itself not ready until upstream values (such as a parent's
// generated primary key) have been supplied.
package command

// KeyGen describes how a primary key value is produced for an insert.
type KeyGen uint8

const (
	// KeyGenNone means the caller supplied the key (or the table has none).
	KeyGenNone KeyGen = iota
	// KeyGenSerial means the storage assigns a sequential integer key.
	KeyGenSerial
	// KeyGenUUID means the runner assigns a random string key.
	KeyGenUUID
)

// Command is a unit of database work. A command is ready when every scoped
// value it depends on has been supplied.
type Command interface {
	Ready() bool
}

// Consumer receives late-bound values, mirroring the contract tracked states
// expose. Row commands implement it so forwarding can write onto their bound
// parameters after construction but before execution.
type Consumer interface {
	Register(key string, value any, fresh bool)
}

// Nop is the empty command, produced when an update has no changes to write.
type Nop struct{}

// Ready always holds for the empty command.
func (Nop) Ready() bool { return true }

// Insert stores one new row.
type Insert struct {
	Table  string
	PK     string
	KeyGen KeyGen

	values map[string]any
	waits  map[string]struct{}
	onKey  Consumer
}

// NewInsert builds an insert for the given table, primary key column and
// initial column values.
func NewInsert(table, pk string, values map[string]any, keyGen KeyGen) *Insert {
	vals := make(map[string]any, len(values))
	for k, v := range values {
		vals[k] = v
	}
	return &Insert{Table: table, PK: pk, KeyGen: keyGen, values: vals}
}

// WaitFor declares that the named column must be supplied before the insert
// may execute.
func (c *Insert) WaitFor(column string) {
	if c.waits == nil {
		c.waits = make(map[string]struct{})
	}
	delete(c.values, column)
	c.waits[column] = struct{}{}
}

// Register supplies a column value, releasing a pending wait for it.
func (c *Insert) Register(key string, value any, _ bool) {
	c.values[key] = value
	delete(c.waits, key)
}

// OnGeneratedKey registers the consumer notified when the runner assigns the
// primary key, typically the entity's tracked state.
func (c *Insert) OnGeneratedKey(target Consumer) { c.onKey = target }

// ReceiveKey is invoked by the runner with the storage-assigned key.
func (c *Insert) ReceiveKey(value any) {
	c.values[c.PK] = value
	if c.onKey != nil {
		c.onKey.Register(c.PK, value, true)
	}
}

// Values returns the bound column values.
func (c *Insert) Values() map[string]any { return c.values }

// Ready reports whether all awaited columns have been supplied.
func (c *Insert) Ready() bool { return len(c.waits) == 0 }

// Update rewrites columns of one existing row, addressed by primary key.
type Update struct {
	Table string
	PK    string

	scope     any
	scopeWait bool
	values    map[string]any
	waits     map[string]struct{}
}

// NewUpdate builds an update for the given table. A nil scope leaves the
// command waiting for its primary key value.
func NewUpdate(table, pk string, scope any, values map[string]any) *Update {
	vals := make(map[string]any, len(values))
	for k, v := range values {
		vals[k] = v
	}
	return &Update{Table: table, PK: pk, scope: scope, scopeWait: scope == nil, values: vals}
}

// WaitFor declares that the named column must be supplied before execution.
func (c *Update) WaitFor(column string) {
	if c.waits == nil {
		c.waits = make(map[string]struct{})
	}
	delete(c.values, column)
	c.waits[column] = struct{}{}
}

// Register supplies either the scope (when keyed by the primary key column)
// or a column value.
func (c *Update) Register(key string, value any, _ bool) {
	if key == c.PK {
		if c.scopeWait {
			c.scope = value
			c.scopeWait = false
		}
		return
	}
	c.values[key] = value
	delete(c.waits, key)
}

// Scope returns the primary key value addressing the row.
func (c *Update) Scope() any { return c.scope }

// Values returns the bound column values.
func (c *Update) Values() map[string]any { return c.values }

// Ready reports whether the scope and all awaited columns are present.
func (c *Update) Ready() bool { return !c.scopeWait && len(c.waits) == 0 }

// Delete removes one row addressed by primary key.
type Delete struct {
	Table string
	PK    string

	scope     any
	scopeWait bool
}

// NewDelete builds a delete for the given table and primary key value. A nil
// scope leaves the command waiting for it.
func NewDelete(table, pk string, scope any) *Delete {
	return &Delete{Table: table, PK: pk, scope: scope, scopeWait: scope == nil}
}

// Register supplies the scope value.
func (c *Delete) Register(key string, value any, _ bool) {
	if key == c.PK && c.scopeWait {
		c.scope = value
		c.scopeWait = false
	}
}

// Scope returns the primary key value addressing the row.
func (c *Delete) Scope() any { return c.scope }

// Ready reports whether the scope is present.
func (c *Delete) Ready() bool { return !c.scopeWait }

// Sequence executes its children in order. It is ready only once every child
// is ready.
type Sequence struct {
	commands []Command
}

// NewSequence builds an ordered composite from the given commands.
func NewSequence(commands ...Command) *Sequence {
	return &Sequence{commands: commands}
}

// Append adds a command to the end of the sequence.
func (c *Sequence) Append(cmd Command) { c.commands = append(c.commands, cmd) }

// Commands returns the children in execution order.
func (c *Sequence) Commands() []Command { return c.commands }

// Ready reports whether every child is ready.
func (c *Sequence) Ready() bool {
	for _, cmd := range c.commands {
		if !cmd.Ready() {
			return false
		}
	}
	return true
}

// Deferred wraps a command whose effect is decided late: it is held back
// until its inner command becomes ready, and runners skip it entirely when
// the inner command has nothing to do.
type Deferred struct {
	Inner Command
}

// NewDeferred wraps the given command.
func NewDeferred(inner Command) *Deferred { return &Deferred{Inner: inner} }

// Ready defers to the wrapped command.
func (c *Deferred) Ready() bool { return c.Inner.Ready() }
