package document

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/edgeflare/pgapi/pkg/executor"
	"github.com/edgeflare/pgapi/pkg/hooks"
	"github.com/edgeflare/pgapi/pkg/query"
	"github.com/edgeflare/pgapi/pkg/schema"
)

// Options configure a Serializer.
type Options struct {
	// BaseURL prefixes every link, e.g. "https://api.example.com/v1". No trailing slash.
	BaseURL string
	// RelationshipLimit caps the identifiers rendered in a to-many relationship.
	RelationshipLimit int
}

// Serializer turns entities into resource objects and assembles documents. It fires
// after_serialise_object per object and after_serialise_identifier per linkage identifier.
type Serializer struct {
	model *schema.Model
	hooks *hooks.Registry
	opts  Options
}

func NewSerializer(m *schema.Model, reg *hooks.Registry, opts Options) *Serializer {
	opts.BaseURL = strings.TrimSuffix(opts.BaseURL, "/")
	if opts.RelationshipLimit <= 0 {
		opts.RelationshipLimit = query.DefaultLimit
	}
	return &Serializer{model: m, hooks: reg, opts: opts}
}

// Fields returns the effective selection for rt: the sparse fieldset narrowed by the
// registered field filters. nil selects every field.
func (s *Serializer) Fields(hc *hooks.Context, rt *schema.ResourceType, spec *query.Spec) query.FieldSet {
	allowed := s.hooks.AllowedFields(hc.With(rt, hc.Event, nil))
	return spec.FieldsFor(rt.Name).Intersect(allowed)
}

// Object serializes ent. A rejection from after_serialise_object is returned as is, so
// callers decide whether it drops the member or fails the request.
func (s *Serializer) Object(hc *hooks.Context, spec *query.Spec, ent *executor.Entity) (*ResourceObject, error) {
	rt := ent.Type
	fields := s.Fields(hc, rt, spec)

	obj := &ResourceObject{
		Type:       rt.Name,
		ID:         ent.ID,
		Attributes: make(map[string]any),
		Links:      Links{"self": s.SelfURL(rt.Name, ent.ID)},
	}
	for _, attr := range rt.Attributes() {
		if fields == nil || fields.Has(attr.Name) {
			obj.Attributes[attr.Name] = ent.Value(attr)
		}
	}

	for _, rel := range rt.Relationships() {
		if fields != nil && !fields.Has(rel.Name) {
			continue
		}
		if obj.Relationships == nil {
			obj.Relationships = make(map[string]*Relationship)
		}
		r, err := s.relationship(hc, ent, rel)
		if err != nil {
			return nil, err
		}
		obj.Relationships[rel.Name] = r
	}

	if err := s.hooks.Run(hc.With(rt, hooks.AfterSerialiseObject, obj)); err != nil {
		return nil, err
	}
	return obj, nil
}

// Objects serializes ents in order. Members rejected by after_serialise_object are
// dropped; any other error fails the whole call.
func (s *Serializer) Objects(hc *hooks.Context, spec *query.Spec, ents []*executor.Entity) ([]*ResourceObject, error) {
	objs := make([]*ResourceObject, 0, len(ents))
	for _, ent := range ents {
		obj, err := s.Object(hc, spec, ent)
		if hooks.IsRejection(err) {
			continue
		}
		if err != nil {
			return nil, err
		}
		objs = append(objs, obj)
	}
	return objs, nil
}

func (s *Serializer) relationship(hc *hooks.Context, ent *executor.Entity, rel schema.Relationship) (*Relationship, error) {
	base := s.SelfURL(ent.Type.Name, ent.ID)
	r := &Relationship{
		Links: Links{
			"self":    base + "/relationships/" + rel.Name,
			"related": base + "/" + rel.Name,
		},
		Meta: &RelationshipMeta{Direction: rel.Cardinality.String()},
	}

	refs, loaded := ent.Linkage(rel.Name)
	if !loaded {
		return r, nil
	}
	ids, err := s.Identifiers(hc, ent.Type, rel, refs)
	if err != nil {
		return nil, err
	}

	if !rel.Cardinality.ToMany() {
		l := ToOne(nil)
		if len(ids) > 0 {
			l = ToOne(&ids[0])
		}
		r.Data = &l
		return r, nil
	}

	available := len(ids)
	if len(ids) > s.opts.RelationshipLimit {
		ids = ids[:s.opts.RelationshipLimit]
	}
	l := ToMany(ids)
	r.Data = &l
	r.Meta.Results = &RelationshipResults{
		Available: available,
		Limit:     s.opts.RelationshipLimit,
		Returned:  len(ids),
	}
	return r, nil
}

// Identifiers renders the linkage of owner's relationship rel, firing
// after_serialise_identifier for each. Rejected identifiers are left out.
func (s *Serializer) Identifiers(hc *hooks.Context, owner *schema.ResourceType, rel schema.Relationship, refs []executor.Ref) ([]Identifier, error) {
	target, ok := s.model.Type(rel.Target)
	if !ok {
		return nil, fmt.Errorf("document: %s.%s targets unknown type %q", owner.Name, rel.Name, rel.Target)
	}
	ids := make([]Identifier, 0, len(refs))
	for _, ref := range refs {
		id := &Identifier{Type: target.Name, ID: ref.ID}
		ihc := hc.With(target, hooks.AfterSerialiseIdentifier, id)
		ihc.Relationship = rel.Name
		err := s.hooks.Run(ihc)
		if hooks.IsRejection(err) {
			continue
		}
		if err != nil {
			return nil, err
		}
		ids = append(ids, *id)
	}
	return ids, nil
}

// SelfURL is the canonical URL of one resource.
func (s *Serializer) SelfURL(typ, id string) string {
	return s.opts.BaseURL + "/" + typ + "/" + url.PathEscape(id)
}

// Collection assembles a collection document. path is the request path (e.g. "/posts"
// or "/people/1/posts"); pagination links keep every other parameter of spec.Values.
func (s *Serializer) Collection(path string, spec *query.Spec, data []*ResourceObject, available int, included []*ResourceObject) *Document {
	page := spec.Page
	return &Document{
		Data:     data,
		Included: dedupe(data, included),
		Links:    s.pageLinks(path, spec.Values, page, available),
		Meta: map[string]any{
			"results": Results{
				Available: available,
				Limit:     page.Limit,
				Offset:    page.Offset,
				Returned:  len(data),
			},
		},
	}
}

// Resource assembles a single-resource document. A nil obj renders as null data.
func (s *Serializer) Resource(path string, obj *ResourceObject, included []*ResourceObject) *Document {
	var data []*ResourceObject
	if obj != nil {
		data = []*ResourceObject{obj}
	}
	return &Document{
		Data:     obj,
		Included: dedupe(data, included),
		Links:    Links{"self": s.opts.BaseURL + path},
		Meta:     map[string]any{},
	}
}

// Linkage assembles the document of a relationship endpoint.
func (s *Serializer) Linkage(owner *executor.Entity, rel schema.Relationship, ids []Identifier) *Document {
	base := s.SelfURL(owner.Type.Name, owner.ID)
	l := ToMany(ids)
	if !rel.Cardinality.ToMany() {
		l = ToOne(nil)
		if len(ids) > 0 {
			l = ToOne(&ids[0])
		}
	}
	return &Document{
		Data:     l,
		Included: []*ResourceObject{},
		Links: Links{
			"self":    base + "/relationships/" + rel.Name,
			"related": base + "/" + rel.Name,
		},
		Meta: map[string]any{"direction": rel.Cardinality.String()},
	}
}

func (s *Serializer) pageLinks(path string, values url.Values, page query.Page, available int) Links {
	self := s.opts.BaseURL + path
	if len(values) > 0 {
		self += "?" + values.Encode()
	}
	at := func(offset int) string {
		v := url.Values{}
		for k, vs := range values {
			v[k] = vs
		}
		v.Set("page[limit]", strconv.Itoa(page.Limit))
		v.Set("page[offset]", strconv.Itoa(offset))
		return s.opts.BaseURL + path + "?" + v.Encode()
	}

	last := 0
	if available > 0 && page.Limit > 0 {
		last = (available - 1) / page.Limit * page.Limit
	}
	links := Links{
		"self":  self,
		"first": at(0),
		"last":  at(last),
	}
	if page.Offset < available-page.Limit {
		links["next"] = at(page.Offset + page.Limit)
	}
	if page.Offset > 0 {
		links["prev"] = at(max(page.Offset-page.Limit, 0))
	}
	return links
}
