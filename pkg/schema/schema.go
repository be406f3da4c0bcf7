// Package schema holds the declarative metadata the engine consumes: one
// role per mapped entity type, its table and key columns, and its relations.
// A role's relations are partitioned once into masters (dependencies that
// must be written first), slaves (dependents written after) and embedded
// (folded into the entity's own write); the partition is cached per role.
package schema

import (
	"fmt"
	"sort"
	"sync"
)

// RelationKind identifies one of the supported relation behaviors.
type RelationKind string

const (
	// BelongsTo is a foreign key on this entity pointing at a parent row.
	BelongsTo RelationKind = "belongs-to"
	// ShadowBelongsTo is a foreign key that may or may not be connected to a
	// loaded parent; it carries special deferral rules for mutual dependencies.
	ShadowBelongsTo RelationKind = "shadow-belongs-to"
	// HasOne is a single dependent row keyed by this entity.
	HasOne RelationKind = "has-one"
	// HasMany is a collection of dependent rows keyed by this entity.
	HasMany RelationKind = "has-many"
	// Embedded folds the related data into this entity's own write command.
	Embedded RelationKind = "embedded"
	// RefersTo is an informational back-reference whose owning side is the
	// other entity; it never resolves synchronously.
	RefersTo RelationKind = "refers-to"
)

// Mode is the side of the write-order partition a relation kind falls on.
type Mode uint8

const (
	// ModeMaster relations must be resolved before the entity's own write.
	ModeMaster Mode = iota
	// ModeSlave relations are resolved after the entity's own write.
	ModeSlave
	// ModeEmbedded relations are merged into the entity's own command.
	ModeEmbedded
)

// Mode returns the partition side for the relation kind.
func (k RelationKind) Mode() Mode {
	switch k {
	case BelongsTo, ShadowBelongsTo, RefersTo:
		return ModeMaster
	case Embedded:
		return ModeEmbedded
	default:
		return ModeSlave
	}
}

func (k RelationKind) known() bool {
	switch k {
	case BelongsTo, ShadowBelongsTo, HasOne, HasMany, Embedded, RefersTo:
		return true
	}
	return false
}

// Relation describes one edge between two roles.
type Relation struct {
	Name     string       `yaml:"name"`
	Kind     RelationKind `yaml:"kind"`
	Target   string       `yaml:"target"`
	InnerKey string       `yaml:"innerKey"`
	OuterKey string       `yaml:"outerKey"`
	Cascade  bool         `yaml:"cascade"`
	Nullable bool         `yaml:"nullable"`
}

// Role describes one mapped entity type.
type Role struct {
	Name         string     `yaml:"name"`
	Table        string     `yaml:"table"`
	PrimaryKey   string     `yaml:"primaryKey"`
	GeneratedKey bool       `yaml:"generatedKey"`
	LookupKeys   []string   `yaml:"lookupKeys"`
	Relations    []Relation `yaml:"relations"`
}

// Partition is the precomputed split of a role's relations by write order.
type Partition struct {
	Masters  []Relation
	Slaves   []Relation
	Embedded []Relation
}

// Property names a role attribute retrievable through Define.
type Property string

const (
	// PropertyTable is the role's table name (string).
	PropertyTable Property = "table"
	// PropertyPrimaryKey is the role's primary key column (string).
	PropertyPrimaryKey Property = "primaryKey"
	// PropertyGeneratedKey reports whether storage assigns the key (bool).
	PropertyGeneratedKey Property = "generatedKey"
	// PropertyLookupKeys lists secondary index columns ([]string).
	PropertyLookupKeys Property = "lookupKeys"
)

// Registry is an immutable set of roles with cached relation partitions.
type Registry struct {
	roles map[string]Role

	mu         sync.Mutex
	partitions map[string]Partition
}

// NewRegistry validates the given roles and builds a registry from them.
func NewRegistry(roles ...Role) (*Registry, error) {
	byName := make(map[string]Role, len(roles))
	for _, r := range roles {
		if r.Name == "" {
			return nil, fmt.Errorf("schema: role without a name")
		}
		if _, ok := byName[r.Name]; ok {
			return nil, fmt.Errorf("schema: duplicate role %q", r.Name)
		}
		byName[r.Name] = r
	}
	reg := &Registry{roles: byName, partitions: make(map[string]Partition)}
	if err := reg.validate(); err != nil {
		return nil, err
	}
	return reg, nil
}

func (r *Registry) validate() error {
	for name, role := range r.roles {
		if role.Table == "" {
			return fmt.Errorf("schema: role %q has no table", name)
		}
		if role.PrimaryKey == "" {
			return fmt.Errorf("schema: role %q has no primary key", name)
		}
		seen := make(map[string]struct{}, len(role.Relations))
		for _, rel := range role.Relations {
			if rel.Name == "" {
				return fmt.Errorf("schema: role %q has an unnamed relation", name)
			}
			if _, dup := seen[rel.Name]; dup {
				return fmt.Errorf("schema: role %q declares relation %q twice", name, rel.Name)
			}
			seen[rel.Name] = struct{}{}
			if !rel.Kind.known() {
				return fmt.Errorf("schema: role %q relation %q has unknown kind %q", name, rel.Name, rel.Kind)
			}
			if _, ok := r.roles[rel.Target]; !ok {
				return fmt.Errorf("schema: role %q relation %q targets unknown role %q", name, rel.Name, rel.Target)
			}
			if rel.Kind != Embedded && (rel.InnerKey == "" || rel.OuterKey == "") {
				return fmt.Errorf("schema: role %q relation %q needs innerKey and outerKey", name, rel.Name)
			}
		}
	}
	return nil
}

// Role returns the definition for a role name.
func (r *Registry) Role(name string) (Role, bool) {
	role, ok := r.roles[name]
	return role, ok
}

// Roles returns all role names in lexical order.
func (r *Registry) Roles() []string {
	out := make([]string, 0, len(r.roles))
	for name := range r.roles {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Define retrieves a single role property, mirroring the lookup contract the
// engine uses to build index keys after commit.
func (r *Registry) Define(role string, property Property) (any, error) {
	def, ok := r.roles[role]
	if !ok {
		return nil, fmt.Errorf("schema: unknown role %q", role)
	}
	switch property {
	case PropertyTable:
		return def.Table, nil
	case PropertyPrimaryKey:
		return def.PrimaryKey, nil
	case PropertyGeneratedKey:
		return def.GeneratedKey, nil
	case PropertyLookupKeys:
		return append([]string(nil), def.LookupKeys...), nil
	default:
		return nil, fmt.Errorf("schema: unknown property %q", property)
	}
}

// Partition returns the cached master/slave/embedded split for a role.
func (r *Registry) Partition(role string) (Partition, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.partitions[role]; ok {
		return p, nil
	}
	def, ok := r.roles[role]
	if !ok {
		return Partition{}, fmt.Errorf("schema: unknown role %q", role)
	}
	var p Partition
	for _, rel := range def.Relations {
		switch rel.Kind.Mode() {
		case ModeMaster:
			p.Masters = append(p.Masters, rel)
		case ModeEmbedded:
			p.Embedded = append(p.Embedded, rel)
		default:
			p.Slaves = append(p.Slaves, rel)
		}
	}
	r.partitions[role] = p
	return p, nil
}
