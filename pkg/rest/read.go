package rest

import (
	"fmt"
	"net/http"

	"github.com/edgeflare/pgapi/pkg/apierr"
	"github.com/edgeflare/pgapi/pkg/document"
	"github.com/edgeflare/pgapi/pkg/executor"
	"github.com/edgeflare/pgapi/pkg/hooks"
	pg "github.com/edgeflare/pgapi/pkg/pgx"
	"github.com/edgeflare/pgapi/pkg/query"
	"github.com/edgeflare/pgapi/pkg/schema"
	"github.com/edgeflare/pgapi/pkg/translate"
)

func (s *Server) parse(r *http.Request, rt *schema.ResourceType) (*query.Spec, error) {
	return query.Parse(r.URL.Query(), rt, s.model, s.opts.Query)
}

// relationship resolves the {rel} path segment of rt.
func (s *Server) relationship(r *http.Request, rt *schema.ResourceType) (schema.Relationship, *schema.ResourceType, error) {
	name := r.PathValue("rel")
	rel, target, ok := s.model.Follow(rt, name)
	if !ok {
		return schema.Relationship{}, nil, apierr.UnknownPath("%s has no relationship %q", rt.Name, name)
	}
	return rel, target, nil
}

// page is a serialized window of a collection.
type page struct {
	data      []*document.ResourceObject
	entities  []*executor.Entity
	available int
}

// collection runs plan and serializes the requested page. When after_serialise_object
// hooks are registered for rt every match is serialized first so that rejected members
// are left out of both data and the available count.
func (s *Server) collection(hc *hooks.Context, conn pg.Querier, plan *translate.Plan, spec *query.Spec) (*page, error) {
	rt := plan.Type
	if !s.hooks.Has(rt.Name, hooks.AfterSerialiseObject) {
		res, err := s.exec.Collection(hc, conn, plan, spec)
		if err != nil {
			return nil, err
		}
		objs, err := s.serializer.Objects(hc, spec, res.Entities)
		if err != nil {
			return nil, err
		}
		return &page{data: objs, entities: res.Entities, available: res.Available}, nil
	}

	all, err := s.exec.All(hc, conn, plan, spec)
	if err != nil {
		return nil, err
	}
	visible := make([]*executor.Entity, 0, len(all))
	objs := make([]*document.ResourceObject, 0, len(all))
	for _, ent := range all {
		obj, err := s.serializer.Object(hc, spec, ent)
		if hooks.IsRejection(err) {
			continue
		}
		if err != nil {
			return nil, err
		}
		visible = append(visible, ent)
		objs = append(objs, obj)
	}

	res := executor.Paginate(visible, spec.Page)
	start := min(spec.Page.Offset, len(objs))
	end := min(start+len(res.Entities), len(objs))
	return &page{data: objs[start:end], entities: res.Entities, available: res.Available}, nil
}

// checkIncludes fails with 403 when an include path crosses a relationship that a field
// filter hides from the request.
func (s *Server) checkIncludes(hc *hooks.Context, rt *schema.ResourceType, spec *query.Spec) error {
	for _, path := range spec.Include {
		owner := rt
		for _, name := range path {
			if s.hooks.HasFieldFilters(owner.Name) {
				allowed := s.hooks.AllowedFields(hc.With(owner, hc.Event, nil))
				if allowed != nil && !allowed.Has(name) {
					return apierr.Forbidden(fmt.Sprintf("relationship %q of %s may not be included", name, owner.Name), nil)
				}
			}
			_, target, ok := s.model.Follow(owner, name)
			if !ok {
				return apierr.BadParameter("include", "%s has no relationship %q", owner.Name, name)
			}
			owner = target
		}
	}
	return nil
}

// included side-loads spec.Include for primary, which are of type rt, and serializes the
// result. Rejected objects are left out.
func (s *Server) included(hc *hooks.Context, conn pg.Querier, rt *schema.ResourceType, primary []*executor.Entity, spec *query.Spec) ([]*document.ResourceObject, error) {
	if err := s.checkIncludes(hc, rt, spec); err != nil {
		return nil, err
	}
	ents, err := s.exec.Include(hc, conn, primary, spec)
	if err != nil {
		return nil, err
	}
	return s.serializer.Objects(hc, spec, ents)
}

// single serializes ent with its includes. A rejection of ent itself is returned.
func (s *Server) single(hc *hooks.Context, conn pg.Querier, ent *executor.Entity, spec *query.Spec) (*document.ResourceObject, []*document.ResourceObject, error) {
	obj, err := s.serializer.Object(hc, spec, ent)
	if err != nil {
		return nil, nil, err
	}
	incl, err := s.included(hc, conn, ent.Type, []*executor.Entity{ent}, spec)
	if err != nil {
		return nil, nil, err
	}
	return obj, incl, nil
}

func (s *Server) collectionGet(r *http.Request, res *Resource) (*response, error) {
	rt := res.Type
	spec, err := s.parse(r, rt)
	if err != nil {
		return nil, err
	}
	plan, err := s.translator.Collection(rt, spec)
	if err != nil {
		return nil, err
	}

	conn := s.conn(r)
	hc := s.hookContext(r, conn, rt)
	p, err := s.collection(hc, conn, plan, spec)
	if err != nil {
		return nil, err
	}
	incl, err := s.included(hc, conn, rt, p.entities, spec)
	if err != nil {
		return nil, err
	}

	doc := s.serializer.Collection(r.URL.Path, spec, p.data, p.available, incl)
	if err := s.hooks.Run(hc.With(rt, hooks.AfterCollectionGet, doc)); err != nil {
		return nil, err
	}
	return &response{status: http.StatusOK, doc: doc}, nil
}

func (s *Server) get(r *http.Request, res *Resource) (*response, error) {
	rt := res.Type
	spec, err := s.parse(r, rt)
	if err != nil {
		return nil, err
	}

	conn := s.conn(r)
	hc := s.hookContext(r, conn, rt)
	ent, err := s.exec.Get(hc, conn, rt, r.PathValue("id"), spec)
	if err != nil {
		return nil, err
	}
	obj, incl, err := s.single(hc, conn, ent, spec)
	if err != nil {
		return nil, err
	}

	doc := s.serializer.Resource(r.URL.Path, obj, incl)
	if err := s.hooks.Run(hc.With(rt, hooks.AfterGet, doc)); err != nil {
		return nil, err
	}
	return &response{status: http.StatusOK, doc: doc}, nil
}

// owner fetches the entity named by {id} with only the linkage of rel loaded and checks
// it is visible to the request.
func (s *Server) owner(hc *hooks.Context, conn pg.Querier, rt *schema.ResourceType, id string, rel schema.Relationship) (*executor.Entity, *document.ResourceObject, error) {
	spec := &query.Spec{Fields: map[string]query.FieldSet{rt.Name: query.NewFieldSet(rel.Name)}}
	ent, err := s.exec.Get(hc, conn, rt, id, spec)
	if err != nil {
		return nil, nil, err
	}
	// visibility is decided on the complete object, not the narrowed selection
	obj, err := s.serializer.Object(hc, allFields, ent)
	if err != nil {
		return nil, nil, err
	}
	return ent, obj, nil
}

func (s *Server) relatedGet(r *http.Request, res *Resource) (*response, error) {
	rt := res.Type
	rel, target, err := s.relationship(r, rt)
	if err != nil {
		return nil, err
	}
	spec, err := s.parse(r, target)
	if err != nil {
		return nil, err
	}

	conn := s.conn(r)
	hc := s.hookContext(r, conn, rt)
	hc.Relationship = rel.Name
	owner, _, err := s.owner(hc, conn, rt, r.PathValue("id"), rel)
	if err != nil {
		return nil, err
	}

	var doc *document.Document
	if rel.Cardinality.ToMany() {
		plan, err := s.translator.Collection(target, spec, translate.Scope{Owner: rt, Rel: rel, OwnerID: owner.Key})
		if err != nil {
			return nil, err
		}
		p, err := s.collection(hc, conn, plan, spec)
		if err != nil {
			return nil, err
		}
		incl, err := s.included(hc, conn, target, p.entities, spec)
		if err != nil {
			return nil, err
		}
		doc = s.serializer.Collection(r.URL.Path, spec, p.data, p.available, incl)
	} else {
		var obj *document.ResourceObject
		var incl []*document.ResourceObject
		refs, _ := owner.Linkage(rel.Name)
		if len(refs) > 0 {
			ent, err := s.exec.Get(hc, conn, target, refs[0].ID, spec)
			if err != nil {
				return nil, err
			}
			if obj, incl, err = s.single(hc, conn, ent, spec); err != nil {
				return nil, err
			}
		}
		doc = s.serializer.Resource(r.URL.Path, obj, incl)
	}

	if err := s.hooks.Run(hc.With(rt, hooks.AfterRelatedGet, doc)); err != nil {
		return nil, err
	}
	return &response{status: http.StatusOK, doc: doc}, nil
}

func (s *Server) relationshipsGet(r *http.Request, res *Resource) (*response, error) {
	rt := res.Type
	rel, _, err := s.relationship(r, rt)
	if err != nil {
		return nil, err
	}

	conn := s.conn(r)
	hc := s.hookContext(r, conn, rt)
	hc.Relationship = rel.Name
	owner, _, err := s.owner(hc, conn, rt, r.PathValue("id"), rel)
	if err != nil {
		return nil, err
	}
	refs, _ := owner.Linkage(rel.Name)
	ids, err := s.serializer.Identifiers(hc, rt, rel, refs)
	if err != nil {
		return nil, err
	}

	doc := s.serializer.Linkage(owner, rel, ids)
	if err := s.hooks.Run(hc.With(rt, hooks.AfterRelationshipsGet, doc)); err != nil {
		return nil, err
	}
	return &response{status: http.StatusOK, doc: doc}, nil
}
