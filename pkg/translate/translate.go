// Package translate compiles a query.Spec into parameterised PostgreSQL statements.
//
// Dotted filter and sort paths are resolved against the schema Model; each distinct
// relationship prefix becomes one aliased join. Filters that cross a to-many relationship
// are compiled into a primary key subquery so the base row set is never duplicated.
// All client errors (unknown paths, operator and type mismatches, values that do not
// coerce to the attribute type) surface here, before any statement reaches the store.
package translate

import (
	"fmt"
	"slices"
	"strings"

	"github.com/edgeflare/pgapi/pkg/apierr"
	"github.com/edgeflare/pgapi/pkg/query"
	"github.com/edgeflare/pgapi/pkg/schema"
)

// Translator is safe for concurrent use; it only reads the Model.
type Translator struct {
	model *schema.Model
}

func New(m *schema.Model) *Translator {
	return &Translator{model: m}
}

// Model returns the schema the translator resolves paths against.
func (t *Translator) Model() *schema.Model {
	return t.model
}

// Plan is a compiled collection query.
type Plan struct {
	Type   *schema.ResourceType
	Page   query.Page
	cols   string
	from   string // base table with sort joins
	count  string // base table with filter joins only
	where  string
	order  string
	params params
}

// Scope restricts a collection to the members of one owner's relationship, as used by
// GET /{type}/{id}/{rel}.
type Scope struct {
	Owner   *schema.ResourceType
	Rel     schema.Relationship
	OwnerID any
}

// Collection compiles spec for rt. Scopes are AND-combined with the filters.
func (t *Translator) Collection(rt *schema.ResourceType, spec *query.Spec, scopes ...Scope) (*Plan, error) {
	plan := &Plan{Type: rt, Page: spec.Page, cols: selectList(rt, "t0")}

	toMany, err := t.crossesToMany(rt, spec.Filters)
	if err != nil {
		return nil, err
	}

	outer := newJoinSet("t", "LEFT JOIN")
	var conds []string
	for _, sc := range scopes {
		conds = append(conds, scopeCondition(sc, "t0", &plan.params))
	}

	var filterJoins int
	if toMany {
		inner := newJoinSet("f", "JOIN")
		preds, err := t.predicates(rt, spec.Filters, inner, &plan.params)
		if err != nil {
			return nil, err
		}
		pk := column("f0", rt.PrimaryKey)
		conds = append(conds, fmt.Sprintf("%s IN (SELECT %s FROM %s AS %s%s WHERE %s)",
			column("t0", rt.PrimaryKey), pk, table(rt), ident("f0"), inner.sql(len(inner.clauses)),
			strings.Join(preds, " AND ")))
	} else {
		preds, err := t.predicates(rt, spec.Filters, outer, &plan.params)
		if err != nil {
			return nil, err
		}
		conds = append(conds, preds...)
		filterJoins = len(outer.clauses)
	}

	order, err := t.orderBy(rt, spec.Sort, outer)
	if err != nil {
		return nil, err
	}

	base := table(rt) + " AS " + ident("t0")
	plan.from = base + outer.sql(len(outer.clauses))
	plan.count = base + outer.sql(filterJoins)
	if len(conds) > 0 {
		plan.where = " WHERE " + strings.Join(conds, " AND ")
	}
	plan.order = " ORDER BY " + order
	return plan, nil
}

func (t *Translator) crossesToMany(rt *schema.ResourceType, filters []query.Filter) (bool, error) {
	for _, f := range filters {
		steps, _, err := t.model.Resolve(rt, f.Path)
		if err != nil {
			return false, apierr.BadParameter(f.Param, "%v", err)
		}
		for _, st := range steps {
			if st.Rel.Cardinality.ToMany() {
				return true, nil
			}
		}
	}
	return false, nil
}

func (t *Translator) predicates(rt *schema.ResourceType, filters []query.Filter, joins *joinSet, p *params) ([]string, error) {
	preds := make([]string, 0, len(filters))
	for _, f := range filters {
		steps, attr, err := t.model.Resolve(rt, f.Path)
		if err != nil {
			return nil, apierr.BadParameter(f.Param, "%v", err)
		}
		alias := joins.resolve(steps)
		pred, err := predicate(f, column(alias, attr.Column), attr, p)
		if err != nil {
			return nil, err
		}
		preds = append(preds, pred)
	}
	return preds, nil
}

func (t *Translator) orderBy(rt *schema.ResourceType, keys []query.SortKey, joins *joinSet) (string, error) {
	terms := make([]string, 0, len(keys)+1)
	hasPK := false
	for _, k := range keys {
		steps, attr, err := t.model.Resolve(rt, k.Path)
		if err != nil {
			return "", apierr.BadParameter("sort", "%v", err)
		}
		for _, st := range steps {
			if st.Rel.Cardinality != schema.ManyToOne {
				return "", apierr.BadParameter("sort", "%s: cannot sort across %s relationship %q",
					strings.Join(k.Path, "."), st.Rel.Cardinality, st.Rel.Name)
			}
		}
		if !attr.Type.Comparable() {
			return "", apierr.BadParameter("sort", "%s: %s values cannot be sorted", strings.Join(k.Path, "."), attr.Type)
		}
		if len(steps) == 0 && attr.Column == rt.PrimaryKey {
			hasPK = true
		}
		dir := query.Asc
		if k.Direction == query.Desc {
			dir = query.Desc
		}
		terms = append(terms, column(joins.resolve(steps), attr.Column)+" "+string(dir))
	}
	if !hasPK {
		terms = append(terms, column("t0", rt.PrimaryKey)+" ASC")
	}
	return strings.Join(terms, ", "), nil
}

// SelectSQL returns the paged select. Its arguments are SelectArgs.
func (p *Plan) SelectSQL() string {
	n := len(p.params.args)
	return fmt.Sprintf("SELECT %s FROM %s%s%s LIMIT $%d OFFSET $%d", p.cols, p.from, p.where, p.order, n+1, n+2)
}

// SelectArgs returns Args followed by the page limit and offset.
func (p *Plan) SelectArgs() []any {
	return append(slices.Clone(p.params.args), p.Page.Limit, p.Page.Offset)
}

// SelectAllSQL returns the unpaged select, used when members are filtered after fetching.
func (p *Plan) SelectAllSQL() string {
	return fmt.Sprintf("SELECT %s FROM %s%s%s", p.cols, p.from, p.where, p.order)
}

// CountSQL returns the count of all matching rows, ignoring paging.
func (p *Plan) CountSQL() string {
	return fmt.Sprintf("SELECT count(*) FROM %s%s", p.count, p.where)
}

// Args are the bind arguments of SelectAllSQL and CountSQL.
func (p *Plan) Args() []any {
	return slices.Clone(p.params.args)
}

// Lookup returns a statement fetching the rows of rt whose primary key is one of ids,
// ordered by primary key. ids must already be coerced with ResourceType.ParseID.
func (t *Translator) Lookup(rt *schema.ResourceType, ids []any) (string, []any) {
	sql := fmt.Sprintf("SELECT %s FROM %s AS %s WHERE %s = ANY($1) ORDER BY %s ASC",
		selectList(rt, "t0"), table(rt), ident("t0"),
		column("t0", rt.PrimaryKey), column("t0", rt.PrimaryKey))
	return sql, []any{ids}
}

// selectList names the columns needed to build resource objects of rt: the primary key,
// every attribute and every MANY_TO_ONE foreign key.
func selectList(rt *schema.ResourceType, alias string) string {
	seen := map[string]bool{rt.PrimaryKey: true}
	cols := []string{column(alias, rt.PrimaryKey)}
	add := func(c string) {
		if !seen[c] {
			seen[c] = true
			cols = append(cols, column(alias, c))
		}
	}
	for _, a := range rt.Attributes() {
		add(a.Column)
	}
	for _, r := range rt.Relationships() {
		if r.Cardinality == schema.ManyToOne {
			add(r.LocalColumn)
		}
	}
	return strings.Join(cols, ", ")
}

// scopeCondition restricts alias to the targets of sc.Rel on the owner row.
func scopeCondition(sc Scope, alias string, p *params) string {
	rel := sc.Rel
	switch {
	case rel.Through != nil:
		return fmt.Sprintf("%s IN (SELECT %s FROM %s WHERE %s = %s)",
			column(alias, rel.RemoteColumn),
			ident(rel.Through.RemoteColumn),
			qualified(rel.Through.Schema, rel.Through.Table),
			ident(rel.Through.LocalColumn), p.add(sc.OwnerID))
	case rel.LocalColumn == sc.Owner.PrimaryKey:
		return fmt.Sprintf("%s = %s", column(alias, rel.RemoteColumn), p.add(sc.OwnerID))
	default:
		return fmt.Sprintf("%s = (SELECT %s FROM %s WHERE %s = %s)",
			column(alias, rel.RemoteColumn),
			ident(rel.LocalColumn), table(sc.Owner),
			ident(sc.Owner.PrimaryKey), p.add(sc.OwnerID))
	}
}
