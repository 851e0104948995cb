package rest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"slices"

	"github.com/edgeflare/pgapi/pkg/apierr"
	"github.com/edgeflare/pgapi/pkg/document"
	"github.com/edgeflare/pgapi/pkg/executor"
	"github.com/edgeflare/pgapi/pkg/hooks"
	pg "github.com/edgeflare/pgapi/pkg/pgx"
	"github.com/edgeflare/pgapi/pkg/query"
	"github.com/edgeflare/pgapi/pkg/schema"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// linkWrite is the requested linkage of one relationship in a mutation.
type linkWrite struct {
	rel    schema.Relationship
	target *schema.ResourceType
	ids    []document.Identifier
}

// rowWrite is a validated resource payload: the column values to store and the
// relationships to set.
type rowWrite struct {
	row   map[string]any
	links []linkWrite
}

// planWrite validates payload against rt without touching the store.
func (s *Server) planWrite(rt *schema.ResourceType, payload *document.ResourceObject) (*rowWrite, error) {
	w := &rowWrite{row: make(map[string]any)}
	for name, v := range payload.Attributes {
		attr, ok := rt.Attribute(name)
		if !ok {
			return nil, apierr.BadRequest("/data/attributes/"+name, "%s has no attribute %q", rt.Name, name)
		}
		val, err := attributeValue(attr, v)
		if err != nil {
			return nil, apierr.BadRequest("/data/attributes/"+name, "%v", err)
		}
		w.row[attr.Column] = val
	}

	names := make([]string, 0, len(payload.Relationships))
	for name := range payload.Relationships {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		rel, target, ok := s.model.Follow(rt, name)
		if !ok {
			return nil, apierr.BadRequest("/data/relationships/"+name, "%s has no relationship %q", rt.Name, name)
		}
		l := payload.Relationships[name].Data
		if err := checkShape(rel, *l, "/data/relationships/"+name+"/data"); err != nil {
			return nil, err
		}
		w.links = append(w.links, linkWrite{rel: rel, target: target, ids: l.Identifiers()})
	}
	return w, nil
}

func checkShape(rel schema.Relationship, l document.Linkage, pointer string) error {
	if rel.Cardinality.ToMany() && !l.ToMany {
		return apierr.BadRequest(pointer, "%s is a to-many relationship and needs an array", rel.Name)
	}
	if !rel.Cardinality.ToMany() && l.ToMany {
		return apierr.BadRequest(pointer, "%s is a to-one relationship and needs an identifier or null", rel.Name)
	}
	return nil
}

// attributeValue converts a decoded JSON value to the value bound for attr.
func attributeValue(attr schema.Attribute, v any) (any, error) {
	if v == nil || attr.Type == schema.TypeJSON {
		return v, nil
	}
	switch attr.Type {
	case schema.TypeString, schema.TypeText:
		if s, ok := v.(string); ok {
			return s, nil
		}
	case schema.TypeBoolean:
		if b, ok := v.(bool); ok {
			return b, nil
		}
	case schema.TypeInteger:
		if n, ok := v.(json.Number); ok {
			if i, err := n.Int64(); err == nil {
				return i, nil
			}
			// 1.0 and 1e3 are whole numbers too
			if f, err := n.Float64(); err == nil && f == math.Trunc(f) && math.Abs(f) <= 1<<53 {
				return int64(f), nil
			}
		}
	case schema.TypeFloat, schema.TypeNumeric:
		if n, ok := v.(json.Number); ok {
			if f, err := n.Float64(); err == nil {
				return f, nil
			}
		}
	case schema.TypeTimestamp, schema.TypeDate, schema.TypeUUID:
		if s, ok := v.(string); ok {
			return attr.Type.Coerce(s)
		}
	}
	return nil, fmt.Errorf("%v is not a valid %s value", v, attr.Type)
}

// checkFields rejects payload fields outside the registered field filters.
func (s *Server) checkFields(hc *hooks.Context, fields []string) error {
	allowed := s.hooks.AllowedFields(hc)
	if allowed == nil {
		return nil
	}
	for _, f := range fields {
		if !allowed.Has(f) {
			return apierr.Forbidden(fmt.Sprintf("field %q of %s is not writable", f, hc.Type.Name), nil)
		}
	}
	return nil
}

func payloadFields(payload *document.ResourceObject) []string {
	fields := make([]string, 0, len(payload.Attributes)+len(payload.Relationships))
	for name := range payload.Attributes {
		fields = append(fields, name)
	}
	for name := range payload.Relationships {
		fields = append(fields, name)
	}
	return fields
}

// resolve parses ids as keys of target and checks that each exists.
func (s *Server) resolve(ctx context.Context, conn pg.Querier, target *schema.ResourceType, ids []document.Identifier) ([]any, error) {
	keys := make([]any, 0, len(ids))
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if id.Type != target.Name {
			return nil, apierr.Conflict("identifier type %q does not match %s", id.Type, target.Name)
		}
		key, err := target.ParseID(id.ID)
		if err != nil {
			return nil, apierr.NotFound(target.Name, id.ID)
		}
		if k := executor.FormatID(key); !seen[k] {
			seen[k] = true
			keys = append(keys, key)
		}
	}

	found, err := s.exec.Lookup(ctx, conn, target, keys)
	if err != nil {
		return nil, err
	}
	exists := make(map[string]bool, len(found))
	for _, ent := range found {
		exists[ent.ID] = true
	}
	for _, key := range keys {
		if id := executor.FormatID(key); !exists[id] {
			return nil, apierr.NotFound(target.Name, id)
		}
	}
	return keys, nil
}

type linkMode int

const (
	linkAdd linkMode = iota
	linkRemove
	linkReplace
)

// link changes the linkage of owner's to-many relationship rel. owner must have the
// linkage of rel loaded.
func (s *Server) link(ctx context.Context, tx pg.Querier, owner *executor.Entity, rel schema.Relationship, target *schema.ResourceType, keys []any, mode linkMode) error {
	current, _ := owner.Linkage(rel.Name)
	linked := make(map[string]bool, len(current))
	for _, ref := range current {
		linked[ref.ID] = true
	}
	wanted := make(map[string]bool, len(keys))
	for _, k := range keys {
		wanted[executor.FormatID(k)] = true
	}

	var add, remove []any
	switch mode {
	case linkAdd:
		for _, k := range keys {
			if !linked[executor.FormatID(k)] {
				add = append(add, k)
			}
		}
	case linkRemove:
		for _, k := range keys {
			if linked[executor.FormatID(k)] {
				remove = append(remove, k)
			}
		}
	case linkReplace:
		for _, ref := range current {
			if !wanted[ref.ID] {
				remove = append(remove, ref.Key)
			}
		}
		for _, k := range keys {
			if !linked[executor.FormatID(k)] {
				add = append(add, k)
			}
		}
	}

	if rel.Through != nil {
		join := pg.Table{Schema: rel.Through.Schema, Name: rel.Through.Table}
		for _, k := range remove {
			if _, err := pg.DeleteRow(ctx, tx, join, map[string]any{
				rel.Through.LocalColumn: owner.Key, rel.Through.RemoteColumn: k,
			}); err != nil {
				return err
			}
		}
		for _, k := range add {
			if _, err := pg.InsertRow(ctx, tx, join, map[string]any{
				rel.Through.LocalColumn: owner.Key, rel.Through.RemoteColumn: k,
			}); err != nil {
				return err
			}
		}
		return nil
	}

	// ONE_TO_MANY: the foreign key lives on the target rows
	targets := tableOf(target)
	for _, k := range remove {
		_, err := pg.UpdateRow(ctx, tx, targets,
			map[string]any{rel.RemoteColumn: nil},
			map[string]any{target.PrimaryKey: k, rel.RemoteColumn: owner.Key})
		if err != nil && !errors.Is(err, pgx.ErrNoRows) {
			return err
		}
	}
	for _, k := range add {
		if _, err := pg.UpdateRow(ctx, tx, targets,
			map[string]any{rel.RemoteColumn: owner.Key},
			map[string]any{target.PrimaryKey: k}); err != nil {
			return err
		}
	}
	return nil
}

func tableOf(rt *schema.ResourceType) pg.Table {
	return pg.Table{Schema: rt.Schema, Name: rt.Table}
}

// storeError maps constraint violations caused by the request to client errors.
func storeError(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case "23505":
		return apierr.Conflict("%s", pgErr.Message)
	case "23502", "23503", "23514", "22P02", "22003", "22007", "22008":
		return apierr.BadRequest("/data", "%s", pgErr.Message)
	}
	return err
}

// writeToOne sets the foreign keys of the to-one links of w on its row.
func (s *Server) writeToOne(ctx context.Context, tx pg.Querier, w *rowWrite) error {
	for _, lw := range w.links {
		if lw.rel.Cardinality.ToMany() {
			continue
		}
		keys, err := s.resolve(ctx, tx, lw.target, lw.ids)
		if err != nil {
			return err
		}
		var key any
		if len(keys) > 0 {
			key = keys[0]
		}
		w.row[lw.rel.LocalColumn] = key
	}
	return nil
}

// writeToMany replaces the to-many linkage named in w after the row is written.
func (s *Server) writeToMany(ctx context.Context, tx pg.Querier, owner *executor.Entity, w *rowWrite) error {
	for _, lw := range w.links {
		if !lw.rel.Cardinality.ToMany() {
			continue
		}
		keys, err := s.resolve(ctx, tx, lw.target, lw.ids)
		if err != nil {
			return err
		}
		if err := s.link(ctx, tx, owner, lw.rel, lw.target, keys, linkReplace); err != nil {
			return err
		}
	}
	return nil
}

var allFields = &query.Spec{}

func (s *Server) collectionPost(r *http.Request, res *Resource) (*response, error) {
	rt := res.Type
	if err := checkContentType(r); err != nil {
		return nil, err
	}
	spec, err := s.parse(r, rt)
	if err != nil {
		return nil, err
	}
	payload, err := document.DecodeResource(r.Body)
	if err != nil {
		return nil, err
	}
	if payload.Type != rt.Name {
		return nil, apierr.Conflict("resource type %q does not match endpoint %s", payload.Type, rt.Name)
	}
	if _, err := s.planWrite(rt, payload); err != nil {
		return nil, err
	}
	var key any
	if payload.ID != "" {
		if key, err = rt.ParseID(payload.ID); err != nil {
			return nil, apierr.BadRequest("/data/id", "%v", err)
		}
	}

	var (
		obj  *document.ResourceObject
		incl []*document.ResourceObject
	)
	err = s.inTx(r.Context(), s.conn(r), func(tx pg.Querier) error {
		hc := s.hookContext(r, tx, rt)
		hc.Payload = payload
		if err := s.checkFields(hc, payloadFields(payload)); err != nil {
			return err
		}
		if err := s.hooks.Run(hc.With(rt, hooks.BeforeCollectionPost, payload)); err != nil {
			return err
		}

		w, err := s.planWrite(rt, payload)
		if err != nil {
			return err
		}
		if key != nil {
			w.row[rt.PrimaryKey] = key
		}
		if err := s.writeToOne(hc, tx, w); err != nil {
			return err
		}
		row, err := pg.InsertRow(hc, tx, tableOf(rt), w.row, rt.PrimaryKey)
		if err != nil {
			return storeError(err)
		}
		id := executor.FormatID(row[rt.PrimaryKey])

		ent, err := s.exec.Get(hc, tx, rt, id, allFields)
		if err != nil {
			return err
		}
		if err := s.writeToMany(hc, tx, ent, w); err != nil {
			return storeError(err)
		}
		if ent, err = s.exec.Get(hc, tx, rt, id, spec); err != nil {
			return err
		}
		obj, incl, err = s.single(hc, tx, ent, spec)
		return err
	})
	if err != nil {
		return nil, err
	}

	path := "/" + rt.Name + "/" + url.PathEscape(obj.ID)
	resp := &response{status: http.StatusCreated, location: s.serializer.SelfURL(rt.Name, obj.ID)}
	if parsePrefer(r).WantsBody() {
		resp.doc = s.serializer.Resource(path, obj, incl)
	} else {
		resp.status = http.StatusNoContent
	}
	return resp, nil
}

func (s *Server) patch(r *http.Request, res *Resource) (*response, error) {
	rt := res.Type
	if err := checkContentType(r); err != nil {
		return nil, err
	}
	spec, err := s.parse(r, rt)
	if err != nil {
		return nil, err
	}
	payload, err := document.DecodeResource(r.Body)
	if err != nil {
		return nil, err
	}
	id := r.PathValue("id")
	if payload.Type != rt.Name {
		return nil, apierr.Conflict("resource type %q does not match endpoint %s", payload.Type, rt.Name)
	}
	if payload.ID != id {
		return nil, apierr.Conflict("resource id %q does not match endpoint id %q", payload.ID, id)
	}
	if _, err := s.planWrite(rt, payload); err != nil {
		return nil, err
	}

	var (
		obj  *document.ResourceObject
		incl []*document.ResourceObject
	)
	err = s.inTx(r.Context(), s.conn(r), func(tx pg.Querier) error {
		hc := s.hookContext(r, tx, rt)
		hc.Payload = payload
		stored, err := s.exec.Get(hc, tx, rt, id, allFields)
		if err != nil {
			return err
		}
		storedObj, err := s.serializer.Object(hc, allFields, stored)
		if err != nil {
			return err
		}
		if err := s.checkFields(hc, payloadFields(payload)); err != nil {
			return err
		}
		if err := s.hooks.Run(hc.With(rt, hooks.BeforePatch, storedObj)); err != nil {
			return err
		}

		w, err := s.planWrite(rt, payload)
		if err != nil {
			return err
		}
		if err := s.writeToOne(hc, tx, w); err != nil {
			return err
		}
		if len(w.row) > 0 {
			if _, err := pg.UpdateRow(hc, tx, tableOf(rt), w.row, map[string]any{rt.PrimaryKey: stored.Key}); err != nil {
				return storeError(err)
			}
		}
		if err := s.writeToMany(hc, tx, stored, w); err != nil {
			return storeError(err)
		}

		ent, err := s.exec.Get(hc, tx, rt, id, spec)
		if err != nil {
			return err
		}
		obj, incl, err = s.single(hc, tx, ent, spec)
		return err
	})
	if err != nil {
		return nil, err
	}

	if !parsePrefer(r).WantsBody() {
		return &response{status: http.StatusNoContent}, nil
	}
	return &response{status: http.StatusOK, doc: s.serializer.Resource(r.URL.Path, obj, incl)}, nil
}

func (s *Server) delete(r *http.Request, res *Resource) (*response, error) {
	rt := res.Type
	id := r.PathValue("id")

	err := s.inTx(r.Context(), s.conn(r), func(tx pg.Querier) error {
		hc := s.hookContext(r, tx, rt)
		stored, err := s.exec.Get(hc, tx, rt, id, allFields)
		if err != nil {
			return err
		}
		storedObj, err := s.serializer.Object(hc, allFields, stored)
		if err != nil {
			return err
		}
		if err := s.hooks.Run(hc.With(rt, hooks.BeforeDelete, storedObj)); err != nil {
			return err
		}
		if _, err := pg.DeleteRow(hc, tx, tableOf(rt), map[string]any{rt.PrimaryKey: stored.Key}); err != nil {
			return storeError(err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &response{status: http.StatusNoContent}, nil
}

// relationshipsMutate handles POST, PATCH and DELETE on a relationship endpoint. POST
// adds members, DELETE removes them and PATCH replaces the linkage. To-one
// relationships only accept PATCH.
func (s *Server) relationshipsMutate(ev hooks.Event) handlerFunc {
	return func(r *http.Request, res *Resource) (*response, error) {
		rt := res.Type
		if err := checkContentType(r); err != nil {
			return nil, err
		}
		rel, target, err := s.relationship(r, rt)
		if err != nil {
			return nil, err
		}
		if !rel.Cardinality.ToMany() && ev != hooks.BeforeRelationshipsPatch {
			return nil, apierr.Forbidden(fmt.Sprintf("%s is a to-one relationship; replace it with PATCH", rel.Name), nil)
		}
		linkage, err := document.DecodeLinkage(r.Body)
		if err != nil {
			return nil, err
		}
		if err := checkShape(rel, linkage, "/data"); err != nil {
			return nil, err
		}

		id := r.PathValue("id")
		err = s.inTx(r.Context(), s.conn(r), func(tx pg.Querier) error {
			hc := s.hookContext(r, tx, rt)
			hc.Relationship = rel.Name
			hc.Payload = linkage
			owner, ownerObj, err := s.owner(hc, tx, rt, id, rel)
			if err != nil {
				return err
			}
			if err := s.checkFields(hc, []string{rel.Name}); err != nil {
				return err
			}
			if err := s.hooks.Run(hc.With(rt, ev, ownerObj)); err != nil {
				return err
			}

			keys, err := s.resolve(hc, tx, target, linkage.Identifiers())
			if err != nil {
				return err
			}
			if !rel.Cardinality.ToMany() {
				var key any
				if len(keys) > 0 {
					key = keys[0]
				}
				_, err := pg.UpdateRow(hc, tx, tableOf(rt),
					map[string]any{rel.LocalColumn: key},
					map[string]any{rt.PrimaryKey: owner.Key})
				return storeError(err)
			}

			mode := linkReplace
			switch ev {
			case hooks.BeforeRelationshipsPost:
				mode = linkAdd
			case hooks.BeforeRelationshipsDelete:
				mode = linkRemove
			}
			return storeError(s.link(hc, tx, owner, rel, target, keys, mode))
		})
		if err != nil {
			return nil, err
		}
		return &response{status: http.StatusNoContent}, nil
	}
}
