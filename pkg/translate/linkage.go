package translate

import (
	"fmt"

	"github.com/edgeflare/pgapi/pkg/schema"
)

// Column aliases of a Linkage statement.
const (
	LinkOwner = "owner"
	LinkID    = "id"
)

// Linkage returns one statement yielding (owner, id) pairs of a to-many relationship for
// every owner key at once. Owner keys are the values of rel.LocalColumn on the owner rows.
// Pairs are ordered by owner, then by related primary key.
func (t *Translator) Linkage(owner *schema.ResourceType, rel schema.Relationship, ownerKeys []any) (string, []any, error) {
	_, target, ok := t.model.Follow(owner, rel.Name)
	if !ok {
		return "", nil, fmt.Errorf("translate: %s has no relationship %q", owner.Name, rel.Name)
	}

	var ownerCol, idCol, from string
	switch {
	case rel.Through != nil:
		ownerCol = column("j", rel.Through.LocalColumn)
		idCol = column("j", rel.Through.RemoteColumn)
		from = qualified(rel.Through.Schema, rel.Through.Table) + " AS " + ident("j")
	case rel.Cardinality == schema.OneToMany:
		ownerCol = column("t0", rel.RemoteColumn)
		idCol = column("t0", target.PrimaryKey)
		from = table(target) + " AS " + ident("t0")
	default:
		return "", nil, fmt.Errorf("translate: %s.%s is not a to-many relationship", owner.Name, rel.Name)
	}

	sql := fmt.Sprintf("SELECT %s AS %s, %s AS %s FROM %s WHERE %s = ANY($1) ORDER BY %s, %s",
		ownerCol, ident(LinkOwner), idCol, ident(LinkID), from, ownerCol, ownerCol, idCol)
	return sql, []any{ownerKeys}, nil
}
