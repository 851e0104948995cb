package executor

import (
	"context"
	"fmt"
	"strings"

	pg "github.com/edgeflare/pgapi/pkg/pgx"
	"github.com/edgeflare/pgapi/pkg/query"
	"github.com/edgeflare/pgapi/pkg/schema"
	"github.com/edgeflare/pgapi/pkg/translate"
	"github.com/jackc/pgx/v5"
)

// LoadLinkage loads every relationship of the entities' type that the sparse fieldset
// selects. ents must all be of one type.
func (e *Executor) LoadLinkage(ctx context.Context, conn pg.Querier, ents []*Entity, spec *query.Spec) error {
	if len(ents) == 0 {
		return nil
	}
	rt := ents[0].Type
	fields := spec.FieldsFor(rt.Name)
	for _, rel := range rt.Relationships() {
		if fields != nil && !fields.Has(rel.Name) {
			continue
		}
		if err := e.loadRelationship(ctx, conn, ents, rel); err != nil {
			return err
		}
	}
	return nil
}

func (e *Executor) loadRelationship(ctx context.Context, conn pg.Querier, owners []*Entity, rel schema.Relationship) error {
	if rel.Cardinality == schema.ManyToOne {
		for _, o := range owners {
			refs := []Ref{}
			if v := o.Row[rel.LocalColumn]; v != nil {
				refs = append(refs, Ref{ID: FormatID(v), Key: v})
			}
			o.Links[rel.Name] = refs
		}
		return nil
	}

	seen := make(map[string]bool, len(owners))
	keys := make([]any, 0, len(owners))
	for _, o := range owners {
		if !seen[o.ID] {
			seen[o.ID] = true
			keys = append(keys, o.Key)
		}
	}

	sql, args, err := e.tr.Linkage(owners[0].Type, rel, keys)
	if err != nil {
		return err
	}
	rows, err := conn.Query(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("load %s.%s: %w", owners[0].Type.Name, rel.Name, err)
	}
	pairs, err := pgx.CollectRows(rows, pgx.RowToMap)
	if err != nil {
		return fmt.Errorf("load %s.%s: %w", owners[0].Type.Name, rel.Name, err)
	}

	byOwner := make(map[string][]Ref, len(owners))
	for _, p := range pairs {
		owner := FormatID(p[translate.LinkOwner])
		id := p[translate.LinkID]
		byOwner[owner] = append(byOwner[owner], Ref{ID: FormatID(id), Key: id})
	}
	for _, o := range owners {
		refs := byOwner[o.ID]
		if refs == nil {
			refs = []Ref{}
		}
		o.Links[rel.Name] = refs
	}
	return nil
}

type entityKey struct {
	typ, id string
}

// Include resolves spec.Include level by level starting from primary and returns the
// side-loaded entities in discovery order. Entities already in primary are never
// returned and each (type, id) appears once.
func (e *Executor) Include(ctx context.Context, conn pg.Querier, primary []*Entity, spec *query.Spec) ([]*Entity, error) {
	if len(spec.Include) == 0 || len(primary) == 0 {
		return []*Entity{}, nil
	}

	known := make(map[entityKey]*Entity)
	for _, ent := range primary {
		known[entityKey{ent.Type.Name, ent.ID}] = ent
	}
	levels := map[string][]*Entity{"": primary}
	included := []*Entity{}
	model := e.tr.Model()

	// spec.Include lists every prefix before the paths extending it
	for _, path := range spec.Include {
		owners := levels[strings.Join(path[:len(path)-1], ".")]
		if len(owners) == 0 {
			levels[strings.Join(path, ".")] = nil
			continue
		}
		rel, target, ok := model.Follow(owners[0].Type, path[len(path)-1])
		if !ok {
			return nil, fmt.Errorf("include %s: unknown relationship", strings.Join(path, "."))
		}
		var unloaded []*Entity
		for _, o := range owners {
			if _, ok := o.Links[rel.Name]; !ok {
				unloaded = append(unloaded, o)
			}
		}
		if len(unloaded) > 0 {
			if err := e.loadRelationship(ctx, conn, unloaded, rel); err != nil {
				return nil, err
			}
		}

		var missing []any
		var ordered []entityKey
		queued := make(map[entityKey]bool)
		for _, o := range owners {
			for _, ref := range o.Links[rel.Name] {
				k := entityKey{target.Name, ref.ID}
				if queued[k] {
					continue
				}
				queued[k] = true
				ordered = append(ordered, k)
				if _, ok := known[k]; !ok {
					missing = append(missing, ref.Key)
				}
			}
		}

		fetched, err := e.Lookup(ctx, conn, target, missing)
		if err != nil {
			return nil, err
		}
		if err := e.LoadLinkage(ctx, conn, fetched, spec); err != nil {
			return nil, err
		}
		for _, ent := range fetched {
			known[entityKey{target.Name, ent.ID}] = ent
			included = append(included, ent)
		}

		next := make([]*Entity, 0, len(ordered))
		for _, k := range ordered {
			if ent, ok := known[k]; ok {
				next = append(next, ent)
			}
		}
		levels[strings.Join(path, ".")] = next
	}
	return included, nil
}
