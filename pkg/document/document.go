// Package document renders entities as JSON:API resource documents and decodes request
// documents.
package document

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Identifier is the minimal reference to a resource object.
type Identifier struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

// Linkage is the data member of a relationship: one identifier or null for MANY_TO_ONE,
// an ordered list for to-many relationships.
type Linkage struct {
	ToMany bool
	One    *Identifier
	Many   []Identifier
}

// ToOne returns linkage to id, or null linkage when id is nil.
func ToOne(id *Identifier) Linkage {
	return Linkage{One: id}
}

// ToMany returns list linkage. A nil slice renders as [].
func ToMany(ids []Identifier) Linkage {
	return Linkage{ToMany: true, Many: ids}
}

// Identifiers returns the referenced identifiers in order.
func (l Linkage) Identifiers() []Identifier {
	if l.ToMany {
		return l.Many
	}
	if l.One == nil {
		return nil
	}
	return []Identifier{*l.One}
}

func (l Linkage) MarshalJSON() ([]byte, error) {
	if l.ToMany {
		if l.Many == nil {
			return []byte("[]"), nil
		}
		return json.Marshal(l.Many)
	}
	return json.Marshal(l.One)
}

func (l *Linkage) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	switch {
	case bytes.Equal(b, []byte("null")):
		*l = Linkage{}
		return nil
	case len(b) > 0 && b[0] == '[':
		var ids []Identifier
		if err := json.Unmarshal(b, &ids); err != nil {
			return err
		}
		*l = ToMany(ids)
		return nil
	case len(b) > 0 && b[0] == '{':
		var id Identifier
		if err := json.Unmarshal(b, &id); err != nil {
			return err
		}
		*l = ToOne(&id)
		return nil
	default:
		return fmt.Errorf("linkage must be null, an object or an array")
	}
}

// Links maps link names (self, related, first, ...) to URLs.
type Links map[string]string

// RelationshipResults counts a to-many relationship's linkage.
type RelationshipResults struct {
	Available int `json:"available"`
	Limit     int `json:"limit"`
	Returned  int `json:"returned"`
}

type RelationshipMeta struct {
	Direction string               `json:"direction"`
	Results   *RelationshipResults `json:"results,omitempty"`
}

// Relationship is one member of a resource object's relationships.
type Relationship struct {
	Data  *Linkage          `json:"data,omitempty"`
	Links Links             `json:"links,omitempty"`
	Meta  *RelationshipMeta `json:"meta,omitempty"`
}

// UnmarshalJSON keeps an explicit "data": null as null linkage rather than absence.
func (r *Relationship) UnmarshalJSON(b []byte) error {
	var raw struct {
		Data  json.RawMessage   `json:"data"`
		Links Links             `json:"links"`
		Meta  *RelationshipMeta `json:"meta"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	*r = Relationship{Links: raw.Links, Meta: raw.Meta}
	if raw.Data != nil {
		var l Linkage
		if err := json.Unmarshal(raw.Data, &l); err != nil {
			return err
		}
		r.Data = &l
	}
	return nil
}

// ResourceObject is the serialized form of one entity.
type ResourceObject struct {
	Type          string                   `json:"type"`
	ID            string                   `json:"id,omitempty"`
	Attributes    map[string]any           `json:"attributes"`
	Relationships map[string]*Relationship `json:"relationships,omitempty"`
	Links         Links                    `json:"links,omitempty"`
}

// Identifier returns the object's type and id.
func (o *ResourceObject) Identifier() Identifier {
	return Identifier{Type: o.Type, ID: o.ID}
}

// Results is the top-level result count of a collection.
type Results struct {
	Available int `json:"available"`
	Limit     int `json:"limit"`
	Offset    int `json:"offset"`
	Returned  int `json:"returned"`
}

// Document is a top-level response document. Data holds a *ResourceObject, a
// []*ResourceObject, a Linkage or nil.
type Document struct {
	Data     any               `json:"data"`
	Included []*ResourceObject `json:"included"`
	Links    Links             `json:"links,omitempty"`
	Meta     map[string]any    `json:"meta"`
}

// Results returns the collection counts, if d is a collection document.
func (d *Document) Results() (Results, bool) {
	r, ok := d.Meta["results"].(Results)
	return r, ok
}

// Objects returns the primary data as a list of objects. A single object or null
// yields a list of at most one.
func (d *Document) Objects() []*ResourceObject {
	switch data := d.Data.(type) {
	case []*ResourceObject:
		return data
	case *ResourceObject:
		if data == nil {
			return nil
		}
		return []*ResourceObject{data}
	}
	return nil
}

type objectKey struct {
	typ, id string
}

// dedupe drops included objects that repeat one another or anything in data.
func dedupe(data, included []*ResourceObject) []*ResourceObject {
	seen := make(map[objectKey]bool, len(data)+len(included))
	for _, o := range data {
		seen[objectKey{o.Type, o.ID}] = true
	}
	out := make([]*ResourceObject, 0, len(included))
	for _, o := range included {
		k := objectKey{o.Type, o.ID}
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, o)
	}
	return out
}
