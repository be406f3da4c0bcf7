package relation

import (
	"testing"

	"stratum/pkg/schema"
)

func buildRegistry(t *testing.T) *schema.Registry {
	t.Helper()
	reg, err := schema.NewRegistry(
		schema.Role{
			Name: "user", Table: "users", PrimaryKey: "id", GeneratedKey: true,
			Relations: []schema.Relation{
				{Name: "posts", Kind: schema.HasMany, Target: "post", InnerKey: "author_id", OuterKey: "id", Cascade: true},
				{Name: "avatar", Kind: schema.HasOne, Target: "post", InnerKey: "author_id", OuterKey: "id"},
				{Name: "profile", Kind: schema.Embedded, Target: "post"},
			},
		},
		schema.Role{
			Name: "post", Table: "posts", PrimaryKey: "id", GeneratedKey: true,
			Relations: []schema.Relation{
				{Name: "author", Kind: schema.BelongsTo, Target: "user", InnerKey: "author_id", OuterKey: "id"},
				{Name: "editor", Kind: schema.ShadowBelongsTo, Target: "user", InnerKey: "editor_id", OuterKey: "id"},
				{Name: "pinned", Kind: schema.RefersTo, Target: "post", InnerKey: "pinned_id", OuterKey: "id"},
			},
		},
	)
	if err != nil {
		t.Fatal(err)
	}
	return reg
}

func TestBuildPartitionsByKind(t *testing.T) {
	reg := buildRegistry(t)
	rels, err := Build(reg, "post")
	if err != nil {
		t.Fatal(err)
	}
	if len(rels.Masters) != 3 || len(rels.Slaves) != 0 || len(rels.Embedded) != 0 {
		t.Fatalf("post partition masters=%d slaves=%d embedded=%d",
			len(rels.Masters), len(rels.Slaves), len(rels.Embedded))
	}
	rels, err = Build(reg, "user")
	if err != nil {
		t.Fatal(err)
	}
	if len(rels.Slaves) != 2 || len(rels.Embedded) != 1 {
		t.Fatalf("user partition %+v", rels)
	}
	if _, err := Build(reg, "ghost"); err == nil {
		t.Fatal("unknown role must error")
	}
}

func TestHasManyExtract(t *testing.T) {
	rel := &HasMany{spec: schema.Relation{Name: "posts"}}
	got, err := rel.Extract([]any{"a", nil, "b"})
	if err != nil {
		t.Fatal(err)
	}
	if children := got.([]any); len(children) != 2 {
		t.Fatalf("nil children must be dropped: %v", children)
	}
	if _, err := rel.Extract("not-a-slice"); err == nil {
		t.Fatal("non-slice value must error")
	}
	got, err = rel.Extract(nil)
	if err != nil || got != nil {
		t.Fatalf("nil extract: %v %v", got, err)
	}
}

func TestHasOneExtractWrapsSingle(t *testing.T) {
	rel := &HasMany{spec: schema.Relation{Name: "avatar"}, single: true}
	got, err := rel.Extract("child")
	if err != nil {
		t.Fatal(err)
	}
	if children := got.([]any); len(children) != 1 || children[0] != "child" {
		t.Fatalf("single child not wrapped: %v", children)
	}
}

func TestNormalizeUnwrapsTypedNil(t *testing.T) {
	type thing struct{}
	var p *thing
	rel := &BelongsTo{spec: schema.Relation{Name: "author"}}
	got, err := rel.Extract(p)
	if err != nil {
		t.Fatal(err)
	}
	if got != nil {
		t.Fatalf("typed nil must normalize to nil, got %#v", got)
	}
}
