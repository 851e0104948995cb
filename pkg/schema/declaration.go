package schema

import (
	"fmt"

	"github.com/mitchellh/mapstructure"
)

// Declaration is the external schema description the Model is built from. It is
// usually read from the `schema` section of the config file or produced by Introspect.
type Declaration struct {
	Entities []Entity `mapstructure:"entities" json:"entities"`
}

// Entity declares one exposed table.
type Entity struct {
	Name          string             `mapstructure:"name" json:"name,omitempty"`     // wire type, defaults to Table
	Schema        string             `mapstructure:"schema" json:"schema,omitempty"` // defaults to public
	Table         string             `mapstructure:"table" json:"table,omitempty"`   // defaults to Name
	Columns       []Column           `mapstructure:"columns" json:"columns"`
	Relationships []RelationshipDecl `mapstructure:"relationships" json:"relationships,omitempty"`
}

// Column declares a table column.
type Column struct {
	Name       string `mapstructure:"name" json:"name"`
	Type       string `mapstructure:"type" json:"type,omitempty"`
	PrimaryKey bool   `mapstructure:"primaryKey" json:"primaryKey,omitempty"`
	Attribute  string `mapstructure:"attribute" json:"attribute,omitempty"` // public name, defaults to Name
}

// RelationshipDecl declares a relationship from the enclosing entity.
//
//	MANY_TO_ONE:  Column is the local foreign key referencing the target's primary key.
//	ONE_TO_MANY:  RemoteColumn is the foreign key on the target referencing the local primary key.
//	MANY_TO_MANY: Through names the join table, ThroughLocal/ThroughRemote its two foreign keys.
type RelationshipDecl struct {
	Name          string `mapstructure:"name" json:"name"`
	Target        string `mapstructure:"target" json:"target"`
	Cardinality   string `mapstructure:"cardinality" json:"cardinality"`
	Column        string `mapstructure:"column" json:"column,omitempty"`
	RemoteColumn  string `mapstructure:"remoteColumn" json:"remoteColumn,omitempty"`
	Through       string `mapstructure:"through" json:"through,omitempty"`
	ThroughLocal  string `mapstructure:"throughLocal" json:"throughLocal,omitempty"`
	ThroughRemote string `mapstructure:"throughRemote" json:"throughRemote,omitempty"`
}

// Decode converts a generic map (e.g. a parsed YAML or JSON document) into a Declaration.
func Decode(raw map[string]any) (Declaration, error) {
	var decl Declaration
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &decl,
		WeaklyTypedInput: true,
		ErrorUnused:      true,
	})
	if err != nil {
		return decl, err
	}
	if err := dec.Decode(raw); err != nil {
		return decl, fmt.Errorf("%w: %v", ErrInvalidSchema, err)
	}
	return decl, nil
}

func (e Entity) name() string {
	return orDefault(e.Name, e.Table)
}

func (e Entity) tableName() string {
	return orDefault(e.Table, e.Name)
}

func (e Entity) schemaName() string {
	return orDefault(e.Schema, "public")
}

func (e Entity) hasColumn(name string) bool {
	for _, c := range e.Columns {
		if c.Name == name {
			return true
		}
	}
	return false
}

func (e Entity) primaryKey() string {
	for _, c := range e.Columns {
		if c.PrimaryKey {
			return c.Name
		}
	}
	return ""
}
