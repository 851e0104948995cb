// Package executor runs compiled plans against PostgreSQL and turns rows into entities
// with their relationship linkage loaded. It only reads; no statement it issues writes.
//
// Linkage is loaded eagerly and in batches: MANY_TO_ONE linkage comes from the foreign
// key column already selected, and each to-many relationship costs one ANY($1) query for
// the whole page, never one query per row.
package executor

import (
	"context"
	"fmt"

	"github.com/edgeflare/pgapi/pkg/apierr"
	pg "github.com/edgeflare/pgapi/pkg/pgx"
	"github.com/edgeflare/pgapi/pkg/query"
	"github.com/edgeflare/pgapi/pkg/schema"
	"github.com/edgeflare/pgapi/pkg/translate"
	"github.com/jackc/pgx/v5"
)

// Ref identifies one related entity.
type Ref struct {
	ID  string
	Key any
}

// Entity is one fetched row of a resource type.
type Entity struct {
	Type *schema.ResourceType
	ID   string
	Key  any
	Row  map[string]any
	// Links holds the linkage of every loaded relationship. A loaded MANY_TO_ONE
	// relationship has zero or one Ref.
	Links map[string][]Ref
}

// Value returns the value of the named attribute.
func (e *Entity) Value(attr schema.Attribute) any {
	return normalize(e.Row[attr.Column])
}

// Linkage returns the loaded linkage of rel and whether it was loaded.
func (e *Entity) Linkage(rel string) ([]Ref, bool) {
	refs, ok := e.Links[rel]
	return refs, ok
}

// Result is one page of a collection.
type Result struct {
	Entities  []*Entity
	Available int
	Page      query.Page
}

type Executor struct {
	tr *translate.Translator
}

func New(tr *translate.Translator) *Executor {
	return &Executor{tr: tr}
}

// Collection counts every row matching plan and fetches the requested page.
func (e *Executor) Collection(ctx context.Context, conn pg.Querier, plan *translate.Plan, spec *query.Spec) (*Result, error) {
	rt := plan.Type
	res := &Result{Page: plan.Page}

	if err := conn.QueryRow(ctx, plan.CountSQL(), plan.Args()...).Scan(&res.Available); err != nil {
		return nil, fmt.Errorf("count %s: %w", rt.Name, err)
	}
	if res.Available <= plan.Page.Offset {
		res.Entities = []*Entity{}
		return res, nil
	}

	ents, err := e.fetch(ctx, conn, rt, plan.SelectSQL(), plan.SelectArgs())
	if err != nil {
		return nil, err
	}
	if err := e.LoadLinkage(ctx, conn, ents, spec); err != nil {
		return nil, err
	}
	res.Entities = ents
	return res, nil
}

// All fetches every row matching plan, ignoring paging. Callers that drop members after
// fetching page the remainder themselves with Paginate.
func (e *Executor) All(ctx context.Context, conn pg.Querier, plan *translate.Plan, spec *query.Spec) ([]*Entity, error) {
	ents, err := e.fetch(ctx, conn, plan.Type, plan.SelectAllSQL(), plan.Args())
	if err != nil {
		return nil, err
	}
	if err := e.LoadLinkage(ctx, conn, ents, spec); err != nil {
		return nil, err
	}
	return ents, nil
}

// Paginate applies page to members that were filtered in memory.
func Paginate(ents []*Entity, page query.Page) *Result {
	res := &Result{Available: len(ents), Page: page, Entities: []*Entity{}}
	if page.Offset >= len(ents) {
		return res
	}
	end := min(page.Offset+page.Limit, len(ents))
	res.Entities = ents[page.Offset:end]
	return res
}

// Get fetches one entity by wire id. An id that does not resolve is apierr.NotFound.
func (e *Executor) Get(ctx context.Context, conn pg.Querier, rt *schema.ResourceType, id string, spec *query.Spec) (*Entity, error) {
	key, err := rt.ParseID(id)
	if err != nil {
		return nil, apierr.NotFound(rt.Name, id)
	}
	ents, err := e.Lookup(ctx, conn, rt, []any{key})
	if err != nil {
		return nil, err
	}
	if len(ents) == 0 {
		return nil, apierr.NotFound(rt.Name, id)
	}
	if err := e.LoadLinkage(ctx, conn, ents, spec); err != nil {
		return nil, err
	}
	return ents[0], nil
}

// Lookup fetches the entities of rt with the given keys, ordered by primary key.
// Linkage is not loaded.
func (e *Executor) Lookup(ctx context.Context, conn pg.Querier, rt *schema.ResourceType, keys []any) ([]*Entity, error) {
	if len(keys) == 0 {
		return []*Entity{}, nil
	}
	sql, args := e.tr.Lookup(rt, keys)
	return e.fetch(ctx, conn, rt, sql, args)
}

func (e *Executor) fetch(ctx context.Context, conn pg.Querier, rt *schema.ResourceType, sql string, args []any) ([]*Entity, error) {
	rows, err := conn.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", rt.Name, err)
	}
	maps, err := pgx.CollectRows(rows, pgx.RowToMap)
	if err != nil {
		return nil, fmt.Errorf("collect %s: %w", rt.Name, err)
	}

	ents := make([]*Entity, 0, len(maps))
	for _, row := range maps {
		key := row[rt.PrimaryKey]
		ents = append(ents, &Entity{
			Type:  rt,
			ID:    FormatID(key),
			Key:   key,
			Row:   row,
			Links: make(map[string][]Ref),
		})
	}
	return ents, nil
}
