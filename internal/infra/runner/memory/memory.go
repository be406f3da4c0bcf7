// Package memory provides an in-memory command runner with transactional
// staging. It backs tests and small deployments that do not need durability.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"stratum/pkg/command"
	"stratum/pkg/transaction"
)

var _ transaction.Runner = (*Runner)(nil)

type table map[any]map[string]any

// Runner executes commands against process-local tables. Work applies to a
// staging copy that becomes visible only on Complete.
type Runner struct {
	mu        sync.Mutex
	committed map[string]table
	staging   map[string]table
	nextID    map[string]int64
}

// NewRunner returns an empty in-memory runner.
func NewRunner() *Runner {
	return &Runner{
		committed: make(map[string]table),
		nextID:    make(map[string]int64),
	}
}

// Run applies one command to the staging area.
func (r *Runner) Run(ctx context.Context, cmd command.Command) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.run(ctx, cmd)
}

func (r *Runner) run(ctx context.Context, cmd command.Command) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	switch c := cmd.(type) {
	case nil, command.Nop:
		return nil
	case *command.Sequence:
		for _, child := range c.Commands() {
			if err := r.run(ctx, child); err != nil {
				return err
			}
		}
		return nil
	case *command.Deferred:
		if upd, ok := c.Inner.(*command.Update); ok && len(upd.Values()) == 0 {
			return nil
		}
		return r.run(ctx, c.Inner)
	case *command.Insert:
		return r.insert(c)
	case *command.Update:
		return r.update(c)
	case *command.Delete:
		return r.delete(c)
	default:
		return fmt.Errorf("memory: unsupported command %T", cmd)
	}
}

func (r *Runner) insert(c *command.Insert) error {
	values := c.Values()
	key, ok := values[c.PK]
	if !ok || key == nil {
		switch c.KeyGen {
		case command.KeyGenSerial:
			r.nextID[c.Table]++
			key = r.nextID[c.Table]
		case command.KeyGenUUID:
			key = uuid.NewString()
		default:
			return fmt.Errorf("memory: insert into %q without primary key %q", c.Table, c.PK)
		}
		c.ReceiveKey(key)
	}
	tbl := r.stage(c.Table)
	if _, exists := tbl[key]; exists {
		return fmt.Errorf("memory: duplicate key %v in %q", key, c.Table)
	}
	row := make(map[string]any, len(values)+1)
	for k, v := range values {
		row[k] = v
	}
	row[c.PK] = key
	tbl[key] = row
	return nil
}

func (r *Runner) update(c *command.Update) error {
	tbl := r.stage(c.Table)
	row, ok := tbl[c.Scope()]
	if !ok {
		return fmt.Errorf("memory: update of missing row %v in %q", c.Scope(), c.Table)
	}
	for k, v := range c.Values() {
		row[k] = v
	}
	return nil
}

func (r *Runner) delete(c *command.Delete) error {
	tbl := r.stage(c.Table)
	if _, ok := tbl[c.Scope()]; !ok {
		return fmt.Errorf("memory: delete of missing row %v in %q", c.Scope(), c.Table)
	}
	delete(tbl, c.Scope())
	return nil
}

// stage returns the staging copy of a table, cloning committed rows on first
// touch within the current run.
func (r *Runner) stage(name string) table {
	if r.staging == nil {
		r.staging = make(map[string]table)
	}
	if tbl, ok := r.staging[name]; ok {
		return tbl
	}
	tbl := make(table, len(r.committed[name]))
	for key, row := range r.committed[name] {
		clone := make(map[string]any, len(row))
		for k, v := range row {
			clone[k] = v
		}
		tbl[key] = clone
	}
	r.staging[name] = tbl
	return tbl
}

// Complete promotes the staging area to the committed view.
func (r *Runner) Complete(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for name, tbl := range r.staging {
		r.committed[name] = tbl
	}
	r.staging = nil
	return nil
}

// Rollback discards the staging area.
func (r *Runner) Rollback(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.staging = nil
	return nil
}

// Get returns the committed row with the given key.
func (r *Runner) Get(tableName string, key any) (map[string]any, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.committed[tableName][key]
	if !ok {
		return nil, false
	}
	out := make(map[string]any, len(row))
	for k, v := range row {
		out[k] = v
	}
	return out, true
}

// Count returns the committed row count of a table.
func (r *Runner) Count(tableName string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.committed[tableName])
}
