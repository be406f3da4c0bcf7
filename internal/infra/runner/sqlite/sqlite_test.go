package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"stratum/pkg/command"
)

func newTestRunner(t *testing.T) *Runner {
	t.Helper()
	r, err := NewRunner(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { r.Close() })
	ctx := context.Background()
	if err := r.Exec(ctx, `CREATE TABLE users (id INTEGER PRIMARY KEY AUTOINCREMENT, email TEXT)`); err != nil {
		t.Fatal(err)
	}
	if err := r.Exec(ctx, `CREATE TABLE tags (key TEXT PRIMARY KEY, name TEXT)`); err != nil {
		t.Fatal(err)
	}
	return r
}

func (r *Runner) countRows(t *testing.T, table string) int {
	t.Helper()
	var n int
	if err := r.db.QueryRow("SELECT COUNT(*) FROM " + table).Scan(&n); err != nil {
		t.Fatal(err)
	}
	return n
}

func TestInsertAssignsSerialKey(t *testing.T) {
	r := newTestRunner(t)
	ctx := context.Background()
	ins := command.NewInsert("users", "id", map[string]any{"email": "a@b"}, command.KeyGenSerial)
	if err := r.Run(ctx, ins); err != nil {
		t.Fatal(err)
	}
	if err := r.Complete(ctx); err != nil {
		t.Fatal(err)
	}
	id, ok := ins.Values()["id"].(int64)
	if !ok || id == 0 {
		t.Fatalf("generated key not fed back: %v", ins.Values())
	}
	var email string
	if err := r.db.QueryRow("SELECT email FROM users WHERE id = ?", id).Scan(&email); err != nil {
		t.Fatal(err)
	}
	if email != "a@b" {
		t.Fatalf("email = %q", email)
	}
}

func TestInsertAssignsUUIDKey(t *testing.T) {
	r := newTestRunner(t)
	ctx := context.Background()
	ins := command.NewInsert("tags", "key", map[string]any{"name": "x"}, command.KeyGenUUID)
	if err := r.Run(ctx, ins); err != nil {
		t.Fatal(err)
	}
	if err := r.Complete(ctx); err != nil {
		t.Fatal(err)
	}
	key, ok := ins.Values()["key"].(string)
	if !ok || key == "" {
		t.Fatalf("uuid key not assigned: %v", ins.Values())
	}
	if r.countRows(t, "tags") != 1 {
		t.Fatal("row not committed")
	}
}

func TestRollbackDiscardsWork(t *testing.T) {
	r := newTestRunner(t)
	ctx := context.Background()
	ins := command.NewInsert("users", "id", map[string]any{"email": "a@b"}, command.KeyGenSerial)
	if err := r.Run(ctx, ins); err != nil {
		t.Fatal(err)
	}
	if err := r.Rollback(ctx); err != nil {
		t.Fatal(err)
	}
	if r.countRows(t, "users") != 0 {
		t.Fatal("rollback leaked a row")
	}
}

func TestUpdateAndDelete(t *testing.T) {
	r := newTestRunner(t)
	ctx := context.Background()
	ins := command.NewInsert("users", "id", map[string]any{"email": "a@b"}, command.KeyGenSerial)
	if err := r.Run(ctx, ins); err != nil {
		t.Fatal(err)
	}
	id := ins.Values()["id"]
	if err := r.Run(ctx, command.NewUpdate("users", "id", id, map[string]any{"email": "c@d"})); err != nil {
		t.Fatal(err)
	}
	if err := r.Run(ctx, command.NewUpdate("users", "id", int64(999), map[string]any{"email": "x"})); err == nil {
		t.Fatal("update of a missing row must error")
	}
	if err := r.Run(ctx, command.NewDelete("users", "id", int64(999))); err == nil {
		t.Fatal("delete of a missing row must error")
	}
	if err := r.Run(ctx, command.NewDelete("users", "id", id)); err != nil {
		t.Fatal(err)
	}
	if err := r.Complete(ctx); err != nil {
		t.Fatal(err)
	}
	if r.countRows(t, "users") != 0 {
		t.Fatal("row survived the delete")
	}
}
