package translate

import (
	"fmt"
	"strings"

	"github.com/edgeflare/pgapi/pkg/schema"
	"github.com/jackc/pgx/v5"
)

// joinSet assigns one alias per distinct relationship prefix and records the join
// clauses needed to reach it.
type joinSet struct {
	prefix  string // alias prefix, e.g. "t" yields t0, t1, ...
	kind    string // "JOIN" or "LEFT JOIN"
	aliases map[string]string
	clauses []string
	next    int
}

func newJoinSet(prefix, kind string) *joinSet {
	return &joinSet{
		prefix:  prefix,
		kind:    kind,
		aliases: make(map[string]string),
		next:    1,
	}
}

func (j *joinSet) base() string {
	return j.prefix + "0"
}

func (j *joinSet) newAlias() string {
	a := fmt.Sprintf("%s%d", j.prefix, j.next)
	j.next++
	return a
}

// resolve joins every step not yet joined and returns the alias of the last type reached.
func (j *joinSet) resolve(steps []schema.Step) string {
	alias := j.base()
	names := make([]string, 0, len(steps))
	for _, st := range steps {
		names = append(names, st.Rel.Name)
		key := strings.Join(names, ".")
		if a, ok := j.aliases[key]; ok {
			alias = a
			continue
		}
		alias = j.join(alias, st)
		j.aliases[key] = alias
	}
	return alias
}

func (j *joinSet) join(from string, st schema.Step) string {
	rel := st.Rel
	target := table(st.To)

	if rel.Through == nil {
		to := j.newAlias()
		j.clauses = append(j.clauses, fmt.Sprintf("%s %s AS %s ON %s = %s",
			j.kind, target, ident(to),
			column(to, rel.RemoteColumn), column(from, rel.LocalColumn)))
		return to
	}

	jt, to := j.newAlias(), j.newAlias()
	j.clauses = append(j.clauses,
		fmt.Sprintf("%s %s AS %s ON %s = %s",
			j.kind, qualified(rel.Through.Schema, rel.Through.Table), ident(jt),
			column(jt, rel.Through.LocalColumn), column(from, rel.LocalColumn)),
		fmt.Sprintf("%s %s AS %s ON %s = %s",
			j.kind, target, ident(to),
			column(to, rel.RemoteColumn), column(jt, rel.Through.RemoteColumn)),
	)
	return to
}

func (j *joinSet) sql(upTo int) string {
	if upTo == 0 {
		return ""
	}
	return " " + strings.Join(j.clauses[:upTo], " ")
}

func table(rt *schema.ResourceType) string {
	return qualified(rt.Schema, rt.Table)
}

func qualified(schemaName, tableName string) string {
	return pgx.Identifier{schemaName, tableName}.Sanitize()
}

func ident(name string) string {
	return pgx.Identifier{name}.Sanitize()
}

func column(alias, col string) string {
	return pgx.Identifier{alias, col}.Sanitize()
}
