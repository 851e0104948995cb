package translate

import (
	"fmt"
	"strings"

	"github.com/edgeflare/pgapi/pkg/apierr"
	"github.com/edgeflare/pgapi/pkg/query"
	"github.com/edgeflare/pgapi/pkg/schema"
)

// params numbers bind parameters in the order values are added.
type params struct {
	args []any
}

func (p *params) add(v any) string {
	p.args = append(p.args, v)
	return fmt.Sprintf("$%d", len(p.args))
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// predicate compiles one filter against the column expression col of type attr.
func predicate(f query.Filter, col string, attr schema.Attribute, p *params) (string, error) {
	typ := attr.Type
	switch f.Operator {
	case query.Eq, query.Ne:
		if !typ.Comparable() {
			return "", apierr.BadParameter(f.Param, "%s values of %q cannot be compared", typ, attr.Name)
		}
	case query.Lt, query.Gt, query.Le, query.Ge:
		if !typ.Orderable() {
			return "", apierr.BadParameter(f.Param, "operator %s requires an orderable attribute, %q is %s", f.Operator, attr.Name, typ)
		}
	case query.StartsWith, query.EndsWith, query.Contains, query.Like, query.ILike:
		if !typ.Textual() {
			return "", apierr.BadParameter(f.Param, "operator %s requires a text attribute, %q is %s", f.Operator, attr.Name, typ)
		}
	default:
		return "", apierr.BadParameter(f.Param, "unknown operator %q", f.Operator)
	}

	switch f.Operator {
	case query.StartsWith:
		return col + " LIKE " + p.add(likeEscaper.Replace(f.Value)+"%"), nil
	case query.EndsWith:
		return col + " LIKE " + p.add("%"+likeEscaper.Replace(f.Value)), nil
	case query.Contains:
		return col + " LIKE " + p.add("%"+likeEscaper.Replace(f.Value)+"%"), nil
	case query.Like:
		return col + " LIKE " + p.add(strings.ReplaceAll(f.Value, "*", "%")), nil
	case query.ILike:
		return col + " ILIKE " + p.add(strings.ReplaceAll(f.Value, "*", "%")), nil
	}

	v, err := typ.Coerce(f.Value)
	if err != nil {
		return "", apierr.BadParameter(f.Param, "%v", err)
	}
	return col + " " + comparison[f.Operator] + " " + p.add(v), nil
}

var comparison = map[query.Operator]string{
	query.Eq: "=",
	query.Ne: "<>",
	query.Lt: "<",
	query.Gt: ">",
	query.Le: "<=",
	query.Ge: ">=",
}
