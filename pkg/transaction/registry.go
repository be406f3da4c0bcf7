package transaction

import (
	"fmt"
	"reflect"

	"stratum/pkg/reference"
)

// Registry is the default Catalog: it maps entity types to roles and roles
// to their mapper and relation capabilities.
type Registry struct {
	byType    map[reflect.Type]string
	mappers   map[string]Mapper
	relations map[string]*Relations
}

// NewCatalogRegistry returns an empty catalog registry.
func NewCatalogRegistry() *Registry {
	return &Registry{
		byType:    make(map[reflect.Type]string),
		mappers:   make(map[string]Mapper),
		relations: make(map[string]*Relations),
	}
}

// Register wires a role: the prototype fixes which entity type belongs to
// the role, the mapper serves its field data and the relations carry its
// dependency capabilities. A nil relations set means the role has none.
func (r *Registry) Register(role string, prototype any, m Mapper, rels *Relations) error {
	if _, ok := r.mappers[role]; ok {
		return fmt.Errorf("transaction: role %q already registered", role)
	}
	t := reflect.TypeOf(prototype)
	if t == nil || t.Kind() != reflect.Pointer {
		return fmt.Errorf("transaction: role %q prototype must be a pointer, got %T", role, prototype)
	}
	if rels == nil {
		rels = &Relations{}
	}
	r.byType[t] = role
	r.mappers[role] = m
	r.relations[role] = rels
	return nil
}

// Role implements Catalog.
func (r *Registry) Role(entity any) (string, error) {
	if p, ok := entity.(reference.Promise); ok {
		return p.Role(), nil
	}
	t := reflect.TypeOf(entity)
	role, ok := r.byType[t]
	if !ok {
		return "", fmt.Errorf("transaction: no role registered for %T", entity)
	}
	return role, nil
}

// Mapper implements Catalog.
func (r *Registry) Mapper(role string) (Mapper, error) {
	m, ok := r.mappers[role]
	if !ok {
		return nil, fmt.Errorf("transaction: no mapper registered for role %q", role)
	}
	return m, nil
}

// Relations implements Catalog.
func (r *Registry) Relations(role string) (*Relations, error) {
	rels, ok := r.relations[role]
	if !ok {
		return nil, fmt.Errorf("transaction: no relations registered for role %q", role)
	}
	return rels, nil
}
