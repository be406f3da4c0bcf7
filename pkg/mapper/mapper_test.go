package mapper

import (
	"testing"

	"stratum/pkg/command"
	"stratum/pkg/node"
	"stratum/pkg/schema"
)

type testUser struct {
	ID    int64  `db:"id"`
	Email string `db:"email"`
	Posts []any  `rel:"posts"`
}

type testTag struct {
	Key  string `db:"key"`
	Name string `db:"name"`
}

func testRegistry(t *testing.T) *schema.Registry {
	t.Helper()
	reg, err := schema.NewRegistry(
		schema.Role{
			Name: "user", Table: "users", PrimaryKey: "id", GeneratedKey: true,
			Relations: []schema.Relation{
				{Name: "posts", Kind: schema.HasMany, Target: "post", InnerKey: "author_id", OuterKey: "id"},
			},
		},
		schema.Role{Name: "post", Table: "posts", PrimaryKey: "id", GeneratedKey: true},
		schema.Role{Name: "tag", Table: "tags", PrimaryKey: "key", GeneratedKey: true},
	)
	if err != nil {
		t.Fatal(err)
	}
	return reg
}

func TestNewStructRejectsBadPrototypes(t *testing.T) {
	reg := testRegistry(t)
	if _, err := NewStruct(reg, "ghost", &testUser{}); err == nil {
		t.Fatal("unknown role must error")
	}
	if _, err := NewStruct(reg, "user", testUser{}); err == nil {
		t.Fatal("non-pointer prototype must error")
	}
	if _, err := NewStruct(reg, "user", &testTag{}); err == nil {
		t.Fatal("prototype without the primary key column must error")
	}
}

func TestExtractOmitsUnsetPrimaryKey(t *testing.T) {
	reg := testRegistry(t)
	m, err := NewStruct(reg, "user", &testUser{})
	if err != nil {
		t.Fatal(err)
	}
	data, err := m.Extract(&testUser{Email: "a@b"})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := data["id"]; ok {
		t.Fatal("zero primary key must be omitted")
	}
	if data["email"] != "a@b" {
		t.Fatalf("email not extracted: %v", data)
	}
	data, err = m.Extract(&testUser{ID: 5, Email: "a@b"})
	if err != nil {
		t.Fatal(err)
	}
	if data["id"] != int64(5) {
		t.Fatalf("assigned primary key must be kept: %v", data)
	}
}

func TestRelationsUsesRelTags(t *testing.T) {
	reg := testRegistry(t)
	m, err := NewStruct(reg, "user", &testUser{})
	if err != nil {
		t.Fatal(err)
	}
	posts := []any{"p1"}
	raw, err := m.Relations(&testUser{Posts: posts})
	if err != nil {
		t.Fatal(err)
	}
	if got, ok := raw["posts"].([]any); !ok || len(got) != 1 {
		t.Fatalf("posts relation not extracted: %v", raw)
	}
}

func TestHydrateConvertsScalars(t *testing.T) {
	reg := testRegistry(t)
	m, err := NewStruct(reg, "user", &testUser{})
	if err != nil {
		t.Fatal(err)
	}
	u := &testUser{}
	err = m.Hydrate(u, map[string]any{"id": int64(12), "email": "a@b", "missing": 1})
	if err != nil {
		t.Fatal(err)
	}
	if u.ID != 12 || u.Email != "a@b" {
		t.Fatalf("hydrate result %+v", u)
	}
	if err := m.Hydrate(u, map[string]any{"email": []int{1}}); err == nil {
		t.Fatal("incompatible value must error")
	}
}

func TestQueueCreateKeyGeneration(t *testing.T) {
	reg := testRegistry(t)
	users, err := NewStruct(reg, "user", &testUser{})
	if err != nil {
		t.Fatal(err)
	}
	st := node.NewState(map[string]any{"email": "a@b"})
	cmd, err := users.QueueCreate(&testUser{}, nil, st)
	if err != nil {
		t.Fatal(err)
	}
	ins := cmd.(*command.Insert)
	if ins.Table != "users" || ins.KeyGen != command.KeyGenSerial {
		t.Fatalf("insert %+v", ins)
	}
	// The runner's key feedback must land back in the state.
	ins.ReceiveKey(int64(77))
	if v, _ := st.Get("id"); v != int64(77) {
		t.Fatalf("generated key not registered: %v", v)
	}

	tags, err := NewStruct(reg, "tag", &testTag{})
	if err != nil {
		t.Fatal(err)
	}
	cmd, err = tags.QueueCreate(&testTag{}, nil, node.NewState(map[string]any{"name": "x"}))
	if err != nil {
		t.Fatal(err)
	}
	if cmd.(*command.Insert).KeyGen != command.KeyGenUUID {
		t.Fatal("string primary key should use uuid generation")
	}

	// A caller-assigned key suppresses generation.
	cmd, err = users.QueueCreate(&testUser{}, nil, node.NewState(map[string]any{"id": int64(9)}))
	if err != nil {
		t.Fatal(err)
	}
	if cmd.(*command.Insert).KeyGen != command.KeyGenNone {
		t.Fatal("assigned key must suppress generation")
	}
}

func TestQueueUpdate(t *testing.T) {
	reg := testRegistry(t)
	m, err := NewStruct(reg, "user", &testUser{})
	if err != nil {
		t.Fatal(err)
	}
	st := node.NewState(map[string]any{"id": int64(3), "email": "a@b"})
	cmd, err := m.QueueUpdate(&testUser{}, nil, st)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := cmd.(command.Nop); !ok {
		t.Fatalf("no-change update must be a nop, got %T", cmd)
	}
	st.Register("email", "c@d", false)
	cmd, err = m.QueueUpdate(&testUser{}, nil, st)
	if err != nil {
		t.Fatal(err)
	}
	upd := cmd.(*command.Update)
	if upd.Scope() != int64(3) || upd.Values()["email"] != "c@d" || len(upd.Values()) != 1 {
		t.Fatalf("update %v scope %v", upd.Values(), upd.Scope())
	}
}

func TestQueueUpdateWaitsForUnassignedKey(t *testing.T) {
	reg := testRegistry(t)
	m, err := NewStruct(reg, "user", &testUser{})
	if err != nil {
		t.Fatal(err)
	}
	st := node.NewState(map[string]any{"email": "a@b"})
	st.Register("email", "c@d", false)
	cmd, err := m.QueueUpdate(&testUser{}, nil, st)
	if err != nil {
		t.Fatal(err)
	}
	if cmd.Ready() {
		t.Fatal("update without a key must wait")
	}
	st.Register("id", int64(4), true)
	if !cmd.Ready() {
		t.Fatal("key arrival must release the update")
	}
}

func TestQueueDelete(t *testing.T) {
	reg := testRegistry(t)
	m, err := NewStruct(reg, "user", &testUser{})
	if err != nil {
		t.Fatal(err)
	}
	st := node.NewState(map[string]any{"id": int64(6)})
	cmd, err := m.QueueDelete(&testUser{}, nil, st)
	if err != nil {
		t.Fatal(err)
	}
	del := cmd.(*command.Delete)
	if del.Table != "users" || del.Scope() != int64(6) {
		t.Fatalf("delete %+v", del)
	}
}
