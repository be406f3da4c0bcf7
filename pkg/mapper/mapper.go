// Package mapper provides the reflective struct mapper: it moves field data
// between entities and their row representation using `db` column tags and
// `rel` relation tags, and generates the write commands the engine hands to
// a runner.
package mapper

import (
	"fmt"
	"reflect"

	"stratum/pkg/command"
	"stratum/pkg/node"
	"stratum/pkg/schema"
)

// Struct maps one Go struct type to a role using field tags:
//
//	type Post struct {
//		ID     int64  `db:"id"`
//		Title  string `db:"title"`
//		Author *User  `rel:"author"`
//	}
//
// Column fields carry a `db` tag; related values carry a `rel` tag naming
// the relation declared in the schema.
type Struct struct {
	def    schema.Role
	typ    reflect.Type
	cols   map[string]int
	rels   map[string]int
	keyGen command.KeyGen
}

// NewStruct builds a mapper for the given role from a prototype pointer.
func NewStruct(reg *schema.Registry, role string, prototype any) (*Struct, error) {
	def, ok := reg.Role(role)
	if !ok {
		return nil, fmt.Errorf("mapper: unknown role %q", role)
	}
	t := reflect.TypeOf(prototype)
	if t == nil || t.Kind() != reflect.Pointer || t.Elem().Kind() != reflect.Struct {
		return nil, fmt.Errorf("mapper: role %q prototype must be a struct pointer, got %T", role, prototype)
	}
	el := t.Elem()
	m := &Struct{
		def:  def,
		typ:  el,
		cols: make(map[string]int),
		rels: make(map[string]int),
	}
	for i := 0; i < el.NumField(); i++ {
		f := el.Field(i)
		if !f.IsExported() {
			continue
		}
		if tag := f.Tag.Get("db"); tag != "" && tag != "-" {
			m.cols[tag] = i
		}
		if tag := f.Tag.Get("rel"); tag != "" && tag != "-" {
			m.rels[tag] = i
		}
	}
	pkField, ok := m.cols[def.PrimaryKey]
	if !ok {
		return nil, fmt.Errorf("mapper: role %q has no field tagged with primary key column %q", role, def.PrimaryKey)
	}
	if def.GeneratedKey {
		if el.Field(pkField).Type.Kind() == reflect.String {
			m.keyGen = command.KeyGenUUID
		} else {
			m.keyGen = command.KeyGenSerial
		}
	}
	return m, nil
}

// Role implements transaction.Mapper.
func (m *Struct) Role() string { return m.def.Name }

func (m *Struct) value(entity any) (reflect.Value, error) {
	v := reflect.ValueOf(entity)
	if !v.IsValid() || v.Kind() != reflect.Pointer || v.IsNil() || v.Elem().Type() != m.typ {
		return reflect.Value{}, fmt.Errorf("mapper: role %q cannot map %T", m.def.Name, entity)
	}
	return v.Elem(), nil
}

// Extract returns the entity's column values. An unset (zero) primary key is
// omitted so key generation can tell caller-assigned keys apart.
func (m *Struct) Extract(entity any) (map[string]any, error) {
	v, err := m.value(entity)
	if err != nil {
		return nil, err
	}
	out := make(map[string]any, len(m.cols))
	for col, idx := range m.cols {
		f := v.Field(idx)
		if col == m.def.PrimaryKey && f.IsZero() {
			continue
		}
		out[col] = f.Interface()
	}
	return out, nil
}

// Relations returns the raw related values keyed by relation name.
func (m *Struct) Relations(entity any) (map[string]any, error) {
	v, err := m.value(entity)
	if err != nil {
		return nil, err
	}
	out := make(map[string]any, len(m.rels))
	for name, idx := range m.rels {
		out[name] = v.Field(idx).Interface()
	}
	return out, nil
}

// Hydrate writes settled column values back onto the entity, converting
// storage-native scalars (e.g. int64 keys) to the field types.
func (m *Struct) Hydrate(entity any, data map[string]any) error {
	v, err := m.value(entity)
	if err != nil {
		return err
	}
	for col, idx := range m.cols {
		value, ok := data[col]
		if !ok || value == nil {
			continue
		}
		f := v.Field(idx)
		rv := reflect.ValueOf(value)
		switch {
		case rv.Type() == f.Type():
			f.Set(rv)
		case rv.Type().ConvertibleTo(f.Type()) && rv.Kind() != reflect.String && f.Kind() != reflect.String:
			f.Set(rv.Convert(f.Type()))
		case rv.Kind() == reflect.String && f.Kind() == reflect.String:
			f.Set(rv.Convert(f.Type()))
		case f.Kind() == reflect.Pointer && rv.Type().ConvertibleTo(f.Type().Elem()):
			p := reflect.New(f.Type().Elem())
			p.Elem().Set(rv.Convert(f.Type().Elem()))
			f.Set(p)
		default:
			return fmt.Errorf("mapper: role %q cannot hydrate column %q from %T", m.def.Name, col, value)
		}
	}
	return nil
}

// QueueCreate generates the insert command for a new entity and links it as
// the state's in-flight carrier so late-arriving values reach its bound
// parameters.
func (m *Struct) QueueCreate(_ any, _ *node.Node, s *node.State) (command.Command, error) {
	gen := m.keyGen
	if s.Has(m.def.PrimaryKey) {
		gen = command.KeyGenNone
	}
	ins := command.NewInsert(m.def.Table, m.def.PrimaryKey, s.Data(), gen)
	ins.OnGeneratedKey(s)
	s.SetCommand(ins)
	return ins, nil
}

// QueueUpdate generates the update command carrying only actual changes; a
// state with no changes short-circuits to the empty command.
func (m *Struct) QueueUpdate(_ any, _ *node.Node, s *node.State) (command.Command, error) {
	changes := s.Changes()
	delete(changes, m.def.PrimaryKey)
	if len(changes) == 0 {
		return command.Nop{}, nil
	}
	scope, _ := s.Get(m.def.PrimaryKey)
	upd := command.NewUpdate(m.def.Table, m.def.PrimaryKey, scope, changes)
	if scope == nil {
		s.Forward(m.def.PrimaryKey, upd, m.def.PrimaryKey, false)
	}
	s.SetCommand(upd)
	return upd, nil
}

// QueueDelete generates the delete command addressing the entity's row.
func (m *Struct) QueueDelete(_ any, _ *node.Node, s *node.State) (command.Command, error) {
	scope, _ := s.Get(m.def.PrimaryKey)
	del := command.NewDelete(m.def.Table, m.def.PrimaryKey, scope)
	if scope == nil {
		s.Forward(m.def.PrimaryKey, del, m.def.PrimaryKey, false)
	}
	return del, nil
}
