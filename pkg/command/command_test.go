package command

import "testing"

func TestInsertWaitsForColumn(t *testing.T) {
	ins := NewInsert("posts", "id", map[string]any{"title": "hello", "author_id": int64(0)}, KeyGenSerial)
	if !ins.Ready() {
		t.Fatal("insert with all values should be ready")
	}
	ins.WaitFor("author_id")
	if ins.Ready() {
		t.Fatal("insert must wait for the declared column")
	}
	if _, ok := ins.Values()["author_id"]; ok {
		t.Fatal("awaited column must leave the bound values")
	}
	ins.Register("author_id", int64(3), true)
	if !ins.Ready() {
		t.Fatal("supplied value must release the wait")
	}
	if ins.Values()["author_id"] != int64(3) {
		t.Fatalf("value not bound: %v", ins.Values())
	}
}

func TestInsertReceiveKeyNotifiesConsumer(t *testing.T) {
	rec := &recorder{}
	ins := NewInsert("posts", "id", nil, KeyGenSerial)
	ins.OnGeneratedKey(rec)
	ins.ReceiveKey(int64(11))
	if ins.Values()["id"] != int64(11) {
		t.Fatal("generated key must be bound to the insert")
	}
	if rec.key != "id" || rec.value != int64(11) || !rec.fresh {
		t.Fatalf("consumer not notified: %+v", rec)
	}
}

func TestUpdateScope(t *testing.T) {
	upd := NewUpdate("posts", "id", nil, map[string]any{"title": "new"})
	if upd.Ready() {
		t.Fatal("update without scope must not be ready")
	}
	upd.Register("id", int64(4), true)
	if !upd.Ready() || upd.Scope() != int64(4) {
		t.Fatalf("scope not bound: ready=%v scope=%v", upd.Ready(), upd.Scope())
	}
	// A second key registration must not clobber the scope or leak into SET.
	upd.Register("id", int64(9), true)
	if upd.Scope() != int64(4) {
		t.Fatalf("scope was overwritten: %v", upd.Scope())
	}
	if _, ok := upd.Values()["id"]; ok {
		t.Fatal("primary key must not appear among updated columns")
	}
}

func TestUpdateWaitFor(t *testing.T) {
	upd := NewUpdate("users", "id", int64(1), nil)
	upd.WaitFor("last_post_id")
	if upd.Ready() {
		t.Fatal("update must wait for the declared column")
	}
	upd.Register("last_post_id", int64(8), true)
	if !upd.Ready() || upd.Values()["last_post_id"] != int64(8) {
		t.Fatalf("awaited column not bound: %v", upd.Values())
	}
}

func TestDeleteScope(t *testing.T) {
	del := NewDelete("posts", "id", nil)
	if del.Ready() {
		t.Fatal("delete without scope must not be ready")
	}
	del.Register("id", int64(2), false)
	if !del.Ready() || del.Scope() != int64(2) {
		t.Fatalf("scope not bound: %v", del.Scope())
	}
}

func TestSequenceReady(t *testing.T) {
	a := NewInsert("a", "id", nil, KeyGenSerial)
	b := NewUpdate("b", "id", nil, map[string]any{"x": 1})
	seq := NewSequence(a, b)
	if seq.Ready() {
		t.Fatal("sequence with an unready child must not be ready")
	}
	b.Register("id", int64(1), true)
	if !seq.Ready() {
		t.Fatal("sequence should be ready once every child is")
	}
	seq.Append(NewDelete("c", "id", nil))
	if seq.Ready() {
		t.Fatal("appended unready child must gate the sequence")
	}
}

func TestDeferredDelegatesReadiness(t *testing.T) {
	upd := NewUpdate("users", "id", nil, nil)
	def := NewDeferred(upd)
	if def.Ready() {
		t.Fatal("deferred must mirror the inner command")
	}
	upd.Register("id", int64(1), true)
	if !def.Ready() {
		t.Fatal("deferred must become ready with the inner command")
	}
}

type recorder struct {
	key   string
	value any
	fresh bool
}

func (r *recorder) Register(key string, value any, fresh bool) {
	r.key, r.value, r.fresh = key, value, fresh
}
