// Package postgres provides a command runner backed by PostgreSQL via pgx.
package postgres

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"stratum/pkg/command"
	"stratum/pkg/transaction"
)

var _ transaction.Runner = (*Runner)(nil)

// Runner executes commands inside a single PostgreSQL transaction, opened
// lazily on the first command and resolved by Complete or Rollback.
type Runner struct {
	pool *pgxpool.Pool
	tx   pgx.Tx
}

// NewRunner connects to the database at the given DSN.
func NewRunner(ctx context.Context, dsn string) (*Runner, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Runner{pool: pool}, nil
}

// Close releases the connection pool.
func (r *Runner) Close() { r.pool.Close() }

func (r *Runner) begin(ctx context.Context) (pgx.Tx, error) {
	if r.tx != nil {
		return r.tx, nil
	}
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin postgres transaction: %w", err)
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
		return fmt.Errorf("postgres: unsupported command %T", cmd)
	}
}

func (r *Runner) insert(ctx context.Context, c *command.Insert) error {
	values := c.Values()
	if _, ok := values[c.PK]; !ok && c.KeyGen == command.KeyGenUUID {
		key := uuid.NewString()
		values[c.PK] = key
		c.ReceiveKey(key)
	}
	query, args, returning := BuildInsert(c.Table, c.PK, values, c.KeyGen)
	tx, err := r.begin(ctx)
	if err != nil {
		return err
	}
	if returning {
		var id int64
		if err := tx.QueryRow(ctx, query, args...).Scan(&id); err != nil {
			return fmt.Errorf("insert into %s: %w", c.Table, err)
		}
		c.ReceiveKey(id)
		return nil
	}
	if _, err := tx.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert into %s: %w", c.Table, err)
	}
	return nil
}

func (r *Runner) update(ctx context.Context, c *command.Update) error {
	query, args := BuildUpdate(c.Table, c.PK, c.Scope(), c.Values())
	tx, err := r.begin(ctx)
	if err != nil {
		return err
	}
	tag, err := tx.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update %s: %w", c.Table, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update of missing row %v in %s", c.Scope(), c.Table)
	}
	return nil
}

func (r *Runner) delete(ctx context.Context, c *command.Delete) error {
	query, args := BuildDelete(c.Table, c.PK, c.Scope())
	tx, err := r.begin(ctx)
	if err != nil {
		return err
	}
	tag, err := tx.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("delete from %s: %w", c.Table, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("delete of missing row %v in %s", c.Scope(), c.Table)
	}
	return nil
}

// Complete commits the pending transaction, if any.
func (r *Runner) Complete(ctx context.Context) error {
	if r.tx == nil {
		return nil
	}
	tx := r.tx
	r.tx = nil
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit postgres transaction: %w", err)
	}
	return nil
}

// Rollback discards the pending transaction, if any.
func (r *Runner) Rollback(ctx context.Context) error {
	if r.tx == nil {
		return nil
	}
	tx := r.tx
	r.tx = nil
	if err := tx.Rollback(ctx); err != nil && err != pgx.ErrTxClosed {
		return fmt.Errorf("rollback postgres transaction: %w", err)
	}
	return nil
}

// BuildInsert renders an INSERT statement with numbered placeholders. When
// the key is storage-assigned it appends a RETURNING clause and reports that
// the caller must scan the generated key.
func BuildInsert(table, pk string, values map[string]any, keyGen command.KeyGen) (string, []any, bool) {
	cols := sortedColumns(values)
	args := make([]any, 0, len(cols))
	marks := make([]string, 0, len(cols))
	for i, col := range cols {
		args = append(args, values[col])
		marks = append(marks, fmt.Sprintf("$%d", i+1))
	}
	query := fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s)",
		table, strings.Join(cols, ", "), strings.Join(marks, ", "),
	)
	_, hasKey := values[pk]
	returning := !hasKey && keyGen == command.KeyGenSerial
	if returning {
		query += " RETURNING " + pk
	}
	return query, args, returning
}

// BuildUpdate renders an UPDATE statement addressing one row by primary key.
func BuildUpdate(table, pk string, scope any, values map[string]any) (string, []any) {
	cols := sortedColumns(values)
	sets := make([]string, 0, len(cols))
	args := make([]any, 0, len(cols)+1)
	for i, col := range cols {
		sets = append(sets, fmt.Sprintf("%s = $%d", col, i+1))
		args = append(args, values[col])
	}
	args = append(args, scope)
	query := fmt.Sprintf(
		"UPDATE %s SET %s WHERE %s = $%d",
		table, strings.Join(sets, ", "), pk, len(args),
	)
	return query, args
}

// BuildDelete renders a DELETE statement addressing one row by primary key.
func BuildDelete(table, pk string, scope any) (string, []any) {
	return fmt.Sprintf("DELETE FROM %s WHERE %s = $1", table, pk), []any{scope}
}

func sortedColumns(values map[string]any) []string {
	cols := make([]string, 0, len(values))
	for col := range values {
		cols = append(cols, col)
	}
	sort.Strings(cols)
	return cols
}
