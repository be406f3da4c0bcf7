// Package sqlite provides a command runner backed by an embedded SQLite
// database via the cgo-free modernc driver.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"stratum/pkg/command"
	"stratum/pkg/transaction"
)

var _ transaction.Runner = (*Runner)(nil)

// Runner executes commands inside a single SQLite transaction, opened lazily
// on the first command and resolved by Complete or Rollback.
type Runner struct {
	db *sql.DB
	tx *sql.Tx
}

// NewRunner opens (or creates) the database file at path.
func NewRunner(path string) (*Runner, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable sqlite foreign keys: %w", err)
	}
	return &Runner{db: db}, nil
}

// Exec runs a raw statement outside the unit-of-work transaction, for schema
// setup.
func (r *Runner) Exec(ctx context.Context, query string, args ...any) error {
	_, err := r.db.ExecContext(ctx, query, args...)
	return err
}

// Close releases the underlying database handle.
func (r *Runner) Close() error { return r.db.Close() }

func (r *Runner) begin(ctx context.Context) (*sql.Tx, error) {
	if r.tx != nil {
		return r.tx, nil
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin sqlite transaction: %w", err)
	}
	r.tx = tx
	return tx, nil
}

// Run applies one command within the pending transaction.
func (r *Runner) Run(ctx context.Context, cmd command.Command) error {
	switch c := cmd.(type) {
	case nil, command.Nop:
		return nil
	case *command.Sequence:
		for _, child := range c.Commands() {
			if err := r.Run(ctx, child); err != nil {
				return err
			}
		}
		return nil
	case *command.Deferred:
		if upd, ok := c.Inner.(*command.Update); ok && len(upd.Values()) == 0 {
			return nil
		}
		return r.Run(ctx, c.Inner)
	case *command.Insert:
		return r.insert(ctx, c)
	case *command.Update:
		return r.update(ctx, c)
	case *command.Delete:
		return r.delete(ctx, c)
	default:
		return fmt.Errorf("sqlite: unsupported command %T", cmd)
	}
}

func (r *Runner) insert(ctx context.Context, c *command.Insert) error {
	values := c.Values()
	if _, ok := values[c.PK]; !ok && c.KeyGen == command.KeyGenUUID {
		key := uuid.NewString()
		values[c.PK] = key
		c.ReceiveKey(key)
	}
	cols := sortedColumns(values)
	args := make([]any, 0, len(cols))
	for _, col := range cols {
		args = append(args, values[col])
	}
	tx, err := r.begin(ctx)
	if err != nil {
		return err
	}
	query := fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s)",
		c.Table, strings.Join(cols, ", "), placeholders(len(cols)),
	)
	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("insert into %s: %w", c.Table, err)
	}
	if _, ok := values[c.PK]; !ok && c.KeyGen == command.KeyGenSerial {
		id, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("read generated key for %s: %w", c.Table, err)
		}
		c.ReceiveKey(id)
	}
	return nil
}

func (r *Runner) update(ctx context.Context, c *command.Update) error {
	cols := sortedColumns(c.Values())
	sets := make([]string, 0, len(cols))
	args := make([]any, 0, len(cols)+1)
	for _, col := range cols {
		sets = append(sets, col+" = ?")
		args = append(args, c.Values()[col])
	}
	args = append(args, c.Scope())
	tx, err := r.begin(ctx)
	if err != nil {
		return err
	}
	query := fmt.Sprintf("UPDATE %s SET %s WHERE %s = ?", c.Table, strings.Join(sets, ", "), c.PK)
	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update %s: %w", c.Table, err)
	}
	return requireRow(res, "update", c.Table, c.Scope())
}

func (r *Runner) delete(ctx context.Context, c *command.Delete) error {
	tx, err := r.begin(ctx)
	if err != nil {
		return err
	}
	query := fmt.Sprintf("DELETE FROM %s WHERE %s = ?", c.Table, c.PK)
	res, err := tx.ExecContext(ctx, query, c.Scope())
	if err != nil {
		return fmt.Errorf("delete from %s: %w", c.Table, err)
	}
	return requireRow(res, "delete", c.Table, c.Scope())
}

// Complete commits the pending transaction, if any.
func (r *Runner) Complete(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if r.tx == nil {
		return nil
	}
	tx := r.tx
	r.tx = nil
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit sqlite transaction: %w", err)
	}
	return nil
}

// Rollback discards the pending transaction, if any.
func (r *Runner) Rollback(_ context.Context) error {
	if r.tx == nil {
		return nil
	}
	tx := r.tx
	r.tx = nil
	if err := tx.Rollback(); err != nil {
		return fmt.Errorf("rollback sqlite transaction: %w", err)
	}
	return nil
}

func requireRow(res sql.Result, op, table string, scope any) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s of missing row %v in %s", op, scope, table)
	}
	return nil
}

func sortedColumns(values map[string]any) []string {
	cols := make([]string, 0, len(values))
	for col := range values {
		cols = append(cols, col)
	}
	sort.Strings(cols)
	return cols
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
