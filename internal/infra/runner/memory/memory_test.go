package memory

import (
	"context"
	"testing"

	"stratum/pkg/command"
)

func TestInsertGeneratesSerialKeys(t *testing.T) {
	r := NewRunner()
	ctx := context.Background()
	var got []any
	for i := 0; i < 2; i++ {
		ins := command.NewInsert("users", "id", map[string]any{"email": "a@b"}, command.KeyGenSerial)
		ins.OnGeneratedKey(keyCatcher{&got})
		if err := r.Run(ctx, ins); err != nil {
			t.Fatal(err)
		}
	}
	if len(got) != 2 || got[0] != int64(1) || got[1] != int64(2) {
		t.Fatalf("serial keys %v", got)
	}
}

func TestInsertGeneratesUUIDKeys(t *testing.T) {
	r := NewRunner()
	ins := command.NewInsert("tags", "key", map[string]any{"name": "x"}, command.KeyGenUUID)
	if err := r.Run(context.Background(), ins); err != nil {
		t.Fatal(err)
	}
	key, ok := ins.Values()["key"].(string)
	if !ok || key == "" {
		t.Fatalf("uuid key not assigned: %v", ins.Values())
	}
}

func TestInsertRejectsDuplicateKey(t *testing.T) {
	r := NewRunner()
	ctx := context.Background()
	ins := command.NewInsert("users", "id", map[string]any{"id": int64(1)}, command.KeyGenNone)
	if err := r.Run(ctx, ins); err != nil {
		t.Fatal(err)
	}
	dup := command.NewInsert("users", "id", map[string]any{"id": int64(1)}, command.KeyGenNone)
	if err := r.Run(ctx, dup); err == nil {
		t.Fatal("duplicate key must error")
	}
}

func TestUpdateAndDeleteRequireExistingRow(t *testing.T) {
	r := NewRunner()
	ctx := context.Background()
	if err := r.Run(ctx, command.NewUpdate("users", "id", int64(9), map[string]any{"email": "x"})); err == nil {
		t.Fatal("update of a missing row must error")
	}
	if err := r.Run(ctx, command.NewDelete("users", "id", int64(9))); err == nil {
		t.Fatal("delete of a missing row must error")
	}
}

func TestCompletePromotesStaging(t *testing.T) {
	r := NewRunner()
	ctx := context.Background()
	ins := command.NewInsert("users", "id", map[string]any{"id": int64(1), "email": "a@b"}, command.KeyGenNone)
	if err := r.Run(ctx, ins); err != nil {
		t.Fatal(err)
	}
	if _, ok := r.Get("users", int64(1)); ok {
		t.Fatal("staged row must not be visible before complete")
	}
	if err := r.Complete(ctx); err != nil {
		t.Fatal(err)
	}
	row, ok := r.Get("users", int64(1))
	if !ok || row["email"] != "a@b" {
		t.Fatalf("row not committed: %v", row)
	}
}

func TestRollbackDiscardsStaging(t *testing.T) {
	r := NewRunner()
	ctx := context.Background()
	seed := command.NewInsert("users", "id", map[string]any{"id": int64(1), "email": "a@b"}, command.KeyGenNone)
	if err := r.Run(ctx, seed); err != nil {
		t.Fatal(err)
	}
	if err := r.Complete(ctx); err != nil {
		t.Fatal(err)
	}
	upd := command.NewUpdate("users", "id", int64(1), map[string]any{"email": "c@d"})
	if err := r.Run(ctx, upd); err != nil {
		t.Fatal(err)
	}
	if err := r.Rollback(ctx); err != nil {
		t.Fatal(err)
	}
	row, _ := r.Get("users", int64(1))
	if row["email"] != "a@b" {
		t.Fatalf("rollback leaked a staged change: %v", row)
	}
}

func TestSequenceAndDeferred(t *testing.T) {
	r := NewRunner()
	ctx := context.Background()
	seq := command.NewSequence(
		command.NewInsert("users", "id", map[string]any{"id": int64(1)}, command.KeyGenNone),
		command.NewInsert("users", "id", map[string]any{"id": int64(2)}, command.KeyGenNone),
	)
	if err := r.Run(ctx, seq); err != nil {
		t.Fatal(err)
	}
	// A deferred update with nothing to write is skipped entirely.
	empty := command.NewUpdate("users", "id", int64(999), nil)
	if err := r.Run(ctx, command.NewDeferred(empty)); err != nil {
		t.Fatal(err)
	}
	if err := r.Complete(ctx); err != nil {
		t.Fatal(err)
	}
	if r.Count("users") != 2 {
		t.Fatalf("count = %d", r.Count("users"))
	}
}

type keyCatcher struct{ into *[]any }

func (k keyCatcher) Register(_ string, value any, _ bool) {
	*k.into = append(*k.into, value)
}
