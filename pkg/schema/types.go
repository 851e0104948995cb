package schema

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ScalarType is the type of a resource attribute.
type ScalarType string

const (
	TypeString    ScalarType = "string"
	TypeText      ScalarType = "text"
	TypeInteger   ScalarType = "integer"
	TypeFloat     ScalarType = "float"
	TypeNumeric   ScalarType = "numeric"
	TypeBoolean   ScalarType = "boolean"
	TypeTimestamp ScalarType = "timestamp"
	TypeDate      ScalarType = "date"
	TypeUUID      ScalarType = "uuid"
	TypeJSON      ScalarType = "json"
)

// ParseScalarType parses a declared attribute type. An empty string means TypeString.
func ParseScalarType(s string) (ScalarType, error) {
	switch t := ScalarType(strings.ToLower(strings.TrimSpace(s))); t {
	case "":
		return TypeString, nil
	case TypeString, TypeText, TypeInteger, TypeFloat, TypeNumeric, TypeBoolean,
		TypeTimestamp, TypeDate, TypeUUID, TypeJSON:
		return t, nil
	default:
		return "", fmt.Errorf("unknown scalar type %q", s)
	}
}

// FromPostgres maps an information_schema data_type to a ScalarType.
func FromPostgres(dataType string) ScalarType {
	switch strings.ToLower(dataType) {
	case "character varying", "character", "varchar", "char", "citext", "name":
		return TypeString
	case "text":
		return TypeText
	case "smallint", "integer", "bigint":
		return TypeInteger
	case "real", "double precision":
		return TypeFloat
	case "numeric", "decimal", "money":
		return TypeNumeric
	case "boolean":
		return TypeBoolean
	case "timestamp without time zone", "timestamp with time zone":
		return TypeTimestamp
	case "date":
		return TypeDate
	case "uuid":
		return TypeUUID
	case "json", "jsonb":
		return TypeJSON
	default:
		return TypeText
	}
}

// Orderable reports whether lt/gt/le/ge comparisons are meaningful for t.
func (t ScalarType) Orderable() bool {
	switch t {
	case TypeString, TypeText, TypeInteger, TypeFloat, TypeNumeric, TypeTimestamp, TypeDate:
		return true
	}
	return false
}

// Textual reports whether substring and pattern operators apply to t.
func (t ScalarType) Textual() bool {
	return t == TypeString || t == TypeText
}

// Comparable reports whether eq/ne apply to t.
func (t ScalarType) Comparable() bool {
	return t != TypeJSON
}

// Coerce converts a raw query-string value into a Go value the store can bind for t.
func (t ScalarType) Coerce(raw string) (any, error) {
	switch t {
	case TypeString, TypeText:
		return raw, nil
	case TypeInteger:
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%q is not an integer", raw)
		}
		return n, nil
	case TypeFloat, TypeNumeric:
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, fmt.Errorf("%q is not a number", raw)
		}
		return f, nil
	case TypeBoolean:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return nil, fmt.Errorf("%q is not a boolean", raw)
		}
		return b, nil
	case TypeTimestamp:
		for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05", time.DateOnly} {
			if ts, err := time.Parse(layout, raw); err == nil {
				return ts, nil
			}
		}
		return nil, fmt.Errorf("%q is not an RFC 3339 timestamp", raw)
	case TypeDate:
		d, err := time.Parse(time.DateOnly, raw)
		if err != nil {
			return nil, fmt.Errorf("%q is not a date (YYYY-MM-DD)", raw)
		}
		return d, nil
	case TypeUUID:
		u, err := uuid.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("%q is not a uuid", raw)
		}
		return u.String(), nil
	default:
		return nil, fmt.Errorf("values of type %s cannot be compared", t)
	}
}

// Cardinality is the multiplicity of a relationship.
type Cardinality int

const (
	ManyToOne Cardinality = iota + 1
	OneToMany
	ManyToMany
)

// String returns the wire form used in relationship meta.direction.
func (c Cardinality) String() string {
	switch c {
	case ManyToOne:
		return "MANYTOONE"
	case OneToMany:
		return "ONETOMANY"
	case ManyToMany:
		return "MANYTOMANY"
	default:
		return "UNKNOWN"
	}
}

// ToMany reports whether the relationship links to a sequence of identifiers.
func (c Cardinality) ToMany() bool {
	return c == OneToMany || c == ManyToMany
}

// ParseCardinality accepts MANY_TO_ONE, many_to_one, MANYTOONE and similar spellings.
func ParseCardinality(s string) (Cardinality, error) {
	norm := strings.ToUpper(strings.NewReplacer("_", "", "-", "", " ", "").Replace(s))
	switch norm {
	case "MANYTOONE":
		return ManyToOne, nil
	case "ONETOMANY":
		return OneToMany, nil
	case "MANYTOMANY":
		return ManyToMany, nil
	default:
		return 0, fmt.Errorf("unknown cardinality %q", s)
	}
}
