package schema

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// IDField is the reserved field name under which every primary key is surfaced.
const IDField = "id"

// ErrInvalidSchema is matched by every error returned from Build.
var ErrInvalidSchema = errors.New("invalid schema")

// ConfigError describes why an entity declaration was rejected.
type ConfigError struct {
	Entity string
	Reason string
}

func (e *ConfigError) Error() string {
	if e.Entity == "" {
		return fmt.Sprintf("schema: %s", e.Reason)
	}
	return fmt.Sprintf("schema: entity %q: %s", e.Entity, e.Reason)
}

func (e *ConfigError) Is(target error) bool {
	return target == ErrInvalidSchema
}

func configErr(entity, format string, args ...any) error {
	return &ConfigError{Entity: entity, Reason: fmt.Sprintf(format, args...)}
}

// Attribute is a public scalar field of a resource type.
type Attribute struct {
	Name   string     `json:"name"`
	Column string     `json:"column"`
	Type   ScalarType `json:"type"`
}

// JoinTable describes the association table behind a MANY_TO_MANY relationship.
type JoinTable struct {
	Schema       string `json:"schema"`
	Table        string `json:"table"`
	LocalColumn  string `json:"local_column"`  // references the owning type's primary key
	RemoteColumn string `json:"remote_column"` // references the target type's primary key
}

// Relationship links a resource type to a target type.
type Relationship struct {
	Name        string      `json:"name"`
	Target      string      `json:"target"`
	Cardinality Cardinality `json:"-"`
	// LocalColumn is on the owning table: the foreign key for MANY_TO_ONE, the
	// owner's primary key otherwise.
	LocalColumn string `json:"local_column"`
	// RemoteColumn is on the target table: the foreign key back to the owner for
	// ONE_TO_MANY, the target's primary key otherwise.
	RemoteColumn string     `json:"remote_column"`
	Through      *JoinTable `json:"through,omitempty"`
}

func (r Relationship) MarshalJSON() ([]byte, error) {
	type plain Relationship
	return json.Marshal(struct {
		plain
		Direction string `json:"direction"`
	}{plain(r), r.Cardinality.String()})
}

// ResourceType is the immutable descriptor of one exposed entity.
type ResourceType struct {
	Name        string
	Schema      string
	Table       string
	PrimaryKey  string
	KeyType     ScalarType
	attributes  []Attribute
	attrIndex   map[string]int
	relations   []Relationship
	relIndex    map[string]int
	hiddenByRel map[string]string // fk column -> relationship name
}

// Attributes returns the public attributes in declaration order.
func (rt *ResourceType) Attributes() []Attribute {
	return rt.attributes
}

// Attribute looks up a public attribute by name.
func (rt *ResourceType) Attribute(name string) (Attribute, bool) {
	i, ok := rt.attrIndex[name]
	if !ok {
		return Attribute{}, false
	}
	return rt.attributes[i], true
}

// Relationships returns the relationships in declaration order.
func (rt *ResourceType) Relationships() []Relationship {
	return rt.relations
}

// Relationship looks up a relationship by name.
func (rt *ResourceType) Relationship(name string) (Relationship, bool) {
	i, ok := rt.relIndex[name]
	if !ok {
		return Relationship{}, false
	}
	return rt.relations[i], true
}

// HasField reports whether name is an attribute or relationship of rt.
func (rt *ResourceType) HasField(name string) bool {
	_, attr := rt.attrIndex[name]
	_, rel := rt.relIndex[name]
	return attr || rel
}

// FieldNames returns attribute names followed by relationship names.
func (rt *ResourceType) FieldNames() []string {
	names := make([]string, 0, len(rt.attributes)+len(rt.relations))
	for _, a := range rt.attributes {
		names = append(names, a.Name)
	}
	for _, r := range rt.relations {
		names = append(names, r.Name)
	}
	return names
}

func (rt *ResourceType) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]any{
		"name":          rt.Name,
		"schema":        rt.Schema,
		"table":         rt.Table,
		"primary_key":   rt.PrimaryKey,
		"attributes":    rt.attributes,
		"relationships": rt.relations,
	})
}

// Model is the process-wide set of resource types. It is read-only once built.
type Model struct {
	types map[string]*ResourceType
	order []string
}

// Type returns the resource type registered under name.
func (m *Model) Type(name string) (*ResourceType, bool) {
	rt, ok := m.types[name]
	return rt, ok
}

// Types returns every resource type in declaration order.
func (m *Model) Types() []*ResourceType {
	out := make([]*ResourceType, 0, len(m.order))
	for _, name := range m.order {
		out = append(out, m.types[name])
	}
	return out
}

// Follow resolves relationship rel on rt and returns it with its target type.
func (m *Model) Follow(rt *ResourceType, rel string) (Relationship, *ResourceType, bool) {
	r, ok := rt.Relationship(rel)
	if !ok {
		return Relationship{}, nil, false
	}
	target, ok := m.types[r.Target]
	return r, target, ok
}

func (m *Model) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.Types())
}

// Build validates decl and produces the Model. Any error wraps ErrInvalidSchema.
func Build(decl Declaration) (*Model, error) {
	m := &Model{types: make(map[string]*ResourceType, len(decl.Entities))}

	for _, ent := range decl.Entities {
		rt, err := newResourceType(ent)
		if err != nil {
			return nil, err
		}
		if _, dup := m.types[rt.Name]; dup {
			return nil, configErr(rt.Name, "declared more than once")
		}
		m.types[rt.Name] = rt
		m.order = append(m.order, rt.Name)
	}

	// relationships need every target registered first
	for _, ent := range decl.Entities {
		rt := m.types[ent.name()]
		for _, rd := range ent.Relationships {
			rel, err := m.resolveRelationship(rt, ent, rd)
			if err != nil {
				return nil, err
			}
			if _, dup := rt.relIndex[rel.Name]; dup {
				return nil, configErr(rt.Name, "relationship %q declared more than once", rel.Name)
			}
			rt.relIndex[rel.Name] = len(rt.relations)
			rt.relations = append(rt.relations, rel)
			if rel.Cardinality == ManyToOne {
				rt.hiddenByRel[rel.LocalColumn] = rel.Name
			}
		}
	}

	for _, ent := range decl.Entities {
		if err := m.types[ent.name()].buildAttributes(ent); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func newResourceType(ent Entity) (*ResourceType, error) {
	name := ent.name()
	if name == "" {
		return nil, configErr("", "entity without name or table")
	}
	if strings.ContainsAny(name, ".,:[] ") {
		return nil, configErr(name, "name contains a reserved character")
	}

	rt := &ResourceType{
		Name:        name,
		Schema:      ent.schemaName(),
		Table:       ent.tableName(),
		attrIndex:   make(map[string]int),
		relIndex:    make(map[string]int),
		hiddenByRel: make(map[string]string),
	}

	var pks []Column
	for _, col := range ent.Columns {
		if col.Name == "" {
			return nil, configErr(name, "column without name")
		}
		if col.PrimaryKey {
			pks = append(pks, col)
		}
	}
	switch len(pks) {
	case 1:
	case 0:
		return nil, configErr(name, "no primary key declared")
	default:
		return nil, configErr(name, "more than one primary key declared (%s, %s)", pks[0].Name, pks[1].Name)
	}
	keyType, err := ParseScalarType(pks[0].Type)
	if err != nil {
		return nil, configErr(name, "primary key: %v", err)
	}
	rt.PrimaryKey = pks[0].Name
	rt.KeyType = keyType
	return rt, nil
}

func (m *Model) resolveRelationship(rt *ResourceType, ent Entity, rd RelationshipDecl) (Relationship, error) {
	if rd.Name == "" {
		return Relationship{}, configErr(rt.Name, "relationship without name")
	}
	if rd.Name == IDField {
		return Relationship{}, configErr(rt.Name, "relationship may not be named %q", IDField)
	}
	target, ok := m.types[rd.Target]
	if !ok {
		return Relationship{}, configErr(rt.Name, "relationship %q targets unknown type %q", rd.Name, rd.Target)
	}
	card, err := ParseCardinality(rd.Cardinality)
	if err != nil {
		return Relationship{}, configErr(rt.Name, "relationship %q: %v", rd.Name, err)
	}

	rel := Relationship{Name: rd.Name, Target: target.Name, Cardinality: card}
	switch card {
	case ManyToOne:
		if rd.Column == "" {
			return Relationship{}, configErr(rt.Name, "relationship %q: MANY_TO_ONE requires column", rd.Name)
		}
		if !ent.hasColumn(rd.Column) {
			return Relationship{}, configErr(rt.Name, "relationship %q: unknown column %q", rd.Name, rd.Column)
		}
		if rd.RemoteColumn != "" && rd.RemoteColumn != target.PrimaryKey {
			return Relationship{}, configErr(rt.Name, "relationship %q: remoteColumn must be the primary key of %s", rd.Name, target.Name)
		}
		rel.LocalColumn = rd.Column
		rel.RemoteColumn = target.PrimaryKey
	case OneToMany:
		if rd.RemoteColumn == "" {
			return Relationship{}, configErr(rt.Name, "relationship %q: ONE_TO_MANY requires remoteColumn", rd.Name)
		}
		if rd.Column != "" && rd.Column != rt.PrimaryKey {
			return Relationship{}, configErr(rt.Name, "relationship %q: column must be the primary key", rd.Name)
		}
		rel.LocalColumn = rt.PrimaryKey
		rel.RemoteColumn = rd.RemoteColumn
	case ManyToMany:
		if rd.Through == "" || rd.ThroughLocal == "" || rd.ThroughRemote == "" {
			return Relationship{}, configErr(rt.Name, "relationship %q: MANY_TO_MANY requires through, throughLocal and throughRemote", rd.Name)
		}
		jtSchema, jtTable := splitQualified(rd.Through, rt.Schema)
		rel.LocalColumn = rt.PrimaryKey
		rel.RemoteColumn = target.PrimaryKey
		rel.Through = &JoinTable{
			Schema:       jtSchema,
			Table:        jtTable,
			LocalColumn:  rd.ThroughLocal,
			RemoteColumn: rd.ThroughRemote,
		}
	}
	return rel, nil
}

func (rt *ResourceType) buildAttributes(ent Entity) error {
	for _, col := range ent.Columns {
		if col.PrimaryKey {
			continue
		}
		if _, fk := rt.hiddenByRel[col.Name]; fk {
			continue
		}
		name := orDefault(col.Attribute, col.Name)
		if name == IDField {
			return configErr(rt.Name, "attribute %q collides with the reserved id field", name)
		}
		if _, rel := rt.relIndex[name]; rel {
			return configErr(rt.Name, "attribute %q collides with a relationship", name)
		}
		if _, dup := rt.attrIndex[name]; dup {
			return configErr(rt.Name, "attribute %q declared more than once", name)
		}
		typ, err := ParseScalarType(col.Type)
		if err != nil {
			return configErr(rt.Name, "attribute %q: %v", name, err)
		}
		rt.attrIndex[name] = len(rt.attributes)
		rt.attributes = append(rt.attributes, Attribute{Name: name, Column: col.Name, Type: typ})
	}
	return nil
}

func splitQualified(name, defaultSchema string) (string, string) {
	if s, t, ok := strings.Cut(name, "."); ok {
		return s, t
	}
	return defaultSchema, name
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
