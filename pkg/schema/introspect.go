package schema

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strings"

	pg "github.com/edgeflare/pgapi/pkg/pgx"
)

// table is the raw catalog view of one base table.
type table struct {
	Schema      string
	Name        string
	Columns     []tableColumn
	ForeignKeys []foreignKey
}

type tableColumn struct {
	Name         string
	DataType     string
	IsPrimaryKey bool
}

type foreignKey struct {
	Constraint       string
	Column           string
	ReferencedSchema string
	ReferencedTable  string
	ReferencedColumn string
}

// qualified names the table a foreign key of t points at. An empty referenced schema
// means the schema of t.
func (fk foreignKey) qualified(t table) string {
	if fk.ReferencedSchema == "" {
		return t.Schema + "." + fk.ReferencedTable
	}
	return fk.ReferencedSchema + "." + fk.ReferencedTable
}

// Introspect reads tables, columns, primary keys and single-column foreign keys from
// information_schema and derives a Declaration. It is meant to run once at startup;
// the resulting Model is never re-read per request. With no schemas given, public is used.
func Introspect(ctx context.Context, conn pg.Conn, schemas ...string) (Declaration, error) {
	if len(schemas) == 0 {
		schemas = []string{"public"}
	}

	var tables []table
	for _, s := range schemas {
		if isSystem(s) {
			continue
		}
		st, err := loadSchema(ctx, conn, s)
		if err != nil {
			return Declaration{}, fmt.Errorf("load schema %s: %w", s, err)
		}
		tables = append(tables, st...)
	}
	return declarationFrom(tables), nil
}

func loadSchema(ctx context.Context, conn pg.Conn, schema string) ([]table, error) {
	rows, err := conn.Query(ctx, `
		SELECT table_schema, table_name
		FROM information_schema.tables
		WHERE table_schema = $1 AND table_type = 'BASE TABLE'
		ORDER BY table_name`, schema)
	if err != nil {
		return nil, err
	}

	var tables []table
	for rows.Next() {
		var t table
		if err := rows.Scan(&t.Schema, &t.Name); err != nil {
			rows.Close()
			return nil, err
		}
		tables = append(tables, t)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range tables {
		t := &tables[i]
		if t.Columns, err = queryColumns(ctx, conn, t.Schema, t.Name); err != nil {
			return nil, fmt.Errorf("query columns %s.%s: %w", t.Schema, t.Name, err)
		}
		if t.ForeignKeys, err = queryForeignKeys(ctx, conn, t.Schema, t.Name); err != nil {
			return nil, fmt.Errorf("query foreign keys %s.%s: %w", t.Schema, t.Name, err)
		}
	}
	return tables, nil
}

func queryColumns(ctx context.Context, conn pg.Conn, schema, table string) ([]tableColumn, error) {
	rows, err := conn.Query(ctx, `
		SELECT
			c.column_name,
			c.data_type,
			EXISTS (
				SELECT 1 FROM information_schema.table_constraints tc
				JOIN information_schema.key_column_usage kcu
					ON tc.constraint_name = kcu.constraint_name
					AND tc.table_schema = kcu.table_schema
				WHERE tc.constraint_type = 'PRIMARY KEY'
					AND tc.table_schema = $1
					AND tc.table_name = $2
					AND kcu.column_name = c.column_name
			) AS is_primary_key
		FROM information_schema.columns c
		WHERE c.table_schema = $1 AND c.table_name = $2
		ORDER BY c.ordinal_position`, schema, table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cols []tableColumn
	for rows.Next() {
		var col tableColumn
		if err := rows.Scan(&col.Name, &col.DataType, &col.IsPrimaryKey); err != nil {
			return nil, err
		}
		cols = append(cols, col)
	}
	return cols, rows.Err()
}

func queryForeignKeys(ctx context.Context, conn pg.Conn, schema, table string) ([]foreignKey, error) {
	rows, err := conn.Query(ctx, `
		SELECT
			tc.constraint_name,
			kcu.column_name,
			ccu.table_schema,
			ccu.table_name,
			ccu.column_name
		FROM information_schema.table_constraints tc
		JOIN information_schema.key_column_usage kcu
			ON tc.constraint_name = kcu.constraint_name
			AND tc.table_schema = kcu.table_schema
		JOIN information_schema.constraint_column_usage ccu
			ON ccu.constraint_name = tc.constraint_name
			AND ccu.constraint_schema = tc.constraint_schema
		WHERE tc.constraint_type = 'FOREIGN KEY'
			AND tc.table_schema = $1
			AND tc.table_name = $2
		ORDER BY tc.constraint_name, kcu.column_name`, schema, table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var fkeys []foreignKey
	for rows.Next() {
		var fk foreignKey
		if err := rows.Scan(&fk.Constraint, &fk.Column, &fk.ReferencedSchema, &fk.ReferencedTable, &fk.ReferencedColumn); err != nil {
			return nil, err
		}
		fkeys = append(fkeys, fk)
	}
	return fkeys, rows.Err()
}

func isSystem(schema string) bool {
	switch schema {
	case "information_schema", "pg_catalog", "pg_toast", "pg_temp_1", "pg_toast_temp_1":
		return true
	default:
		return false
	}
}

// declarationFrom turns catalog tables into entity declarations. Each single-column
// foreign key yields a MANY_TO_ONE relationship and its ONE_TO_MANY inverse; a table made
// only of two foreign keys is treated as a join table and yields MANY_TO_MANY on both sides.
// Tables are keyed by schema.table; a table name found in more than one schema is exposed
// as schema_table.
func declarationFrom(tables []table) Declaration {
	byName := make(map[string]*Entity, len(tables))
	var order []string
	var joins []table

	tables = slices.Clone(tables)
	exposed := make(map[string]int, len(tables))
	for i := range tables {
		tables[i].ForeignKeys = singleColumn(tables[i].ForeignKeys)
		if !isJoinTable(tables[i]) && len(primaryKeys(tables[i])) == 1 {
			exposed[tables[i].Name]++
		}
	}

	for _, t := range tables {
		if isJoinTable(t) {
			joins = append(joins, t)
			continue
		}
		if len(primaryKeys(t)) != 1 {
			continue
		}
		name := t.Name
		if exposed[t.Name] > 1 {
			name = t.Schema + "_" + t.Name
		}
		ent := &Entity{Name: name, Schema: t.Schema, Table: t.Name}
		for _, c := range t.Columns {
			ent.Columns = append(ent.Columns, Column{
				Name:       c.Name,
				Type:       string(FromPostgres(c.DataType)),
				PrimaryKey: c.IsPrimaryKey,
			})
		}
		byName[t.Schema+"."+t.Name] = ent
		order = append(order, t.Schema+"."+t.Name)
	}

	for _, t := range tables {
		src, ok := byName[t.Schema+"."+t.Name]
		if !ok {
			continue
		}
		for _, fk := range t.ForeignKeys {
			dst, ok := byName[fk.qualified(t)]
			if !ok || fk.ReferencedColumn != dst.primaryKey() {
				continue
			}
			toOne := uniqueName(src, strings.TrimSuffix(fk.Column, "_id"), dst.Name)
			src.Relationships = append(src.Relationships, RelationshipDecl{
				Name:        toOne,
				Target:      dst.Name,
				Cardinality: "MANY_TO_ONE",
				Column:      fk.Column,
			})
			toMany := uniqueName(dst, src.Name, src.Name+"_"+toOne)
			dst.Relationships = append(dst.Relationships, RelationshipDecl{
				Name:         toMany,
				Target:       src.Name,
				Cardinality:  "ONE_TO_MANY",
				RemoteColumn: fk.Column,
			})
		}
	}

	for _, j := range joins {
		a, b := j.ForeignKeys[0], j.ForeignKeys[1]
		left, lok := byName[a.qualified(j)]
		right, rok := byName[b.qualified(j)]
		if !lok || !rok || a.ReferencedColumn != left.primaryKey() || b.ReferencedColumn != right.primaryKey() {
			continue
		}
		through := j.Schema + "." + j.Name
		left.Relationships = append(left.Relationships, RelationshipDecl{
			Name:          uniqueName(left, right.Name, j.Name),
			Target:        right.Name,
			Cardinality:   "MANY_TO_MANY",
			Through:       through,
			ThroughLocal:  a.Column,
			ThroughRemote: b.Column,
		})
		if left == right {
			continue
		}
		right.Relationships = append(right.Relationships, RelationshipDecl{
			Name:          uniqueName(right, left.Name, j.Name),
			Target:        left.Name,
			Cardinality:   "MANY_TO_MANY",
			Through:       through,
			ThroughLocal:  b.Column,
			ThroughRemote: a.Column,
		})
	}

	decl := Declaration{Entities: make([]Entity, 0, len(order))}
	for _, name := range order {
		decl.Entities = append(decl.Entities, *byName[name])
	}
	return decl
}

// singleColumn drops composite foreign keys; they have no identifier-shaped linkage.
func singleColumn(fks []foreignKey) []foreignKey {
	count := make(map[string]int, len(fks))
	for _, fk := range fks {
		count[fk.Constraint]++
	}
	out := fks[:0:0]
	for _, fk := range fks {
		if count[fk.Constraint] == 1 {
			out = append(out, fk)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Column < out[j].Column })
	return out
}

func primaryKeys(t table) []string {
	var pks []string
	for _, c := range t.Columns {
		if c.IsPrimaryKey {
			pks = append(pks, c.Name)
		}
	}
	return pks
}

func isJoinTable(t table) bool {
	if len(t.ForeignKeys) != 2 {
		return false
	}
	fkCols := map[string]bool{t.ForeignKeys[0].Column: true, t.ForeignKeys[1].Column: true}
	for _, c := range t.Columns {
		if !fkCols[c.Name] {
			return false
		}
	}
	return true
}

// uniqueName returns preferred unless ent already uses it as a column or relationship
// name, in which case fallback is used.
func uniqueName(ent *Entity, preferred, fallback string) string {
	taken := func(n string) bool {
		if n == "" || n == IDField || ent.hasColumn(n) {
			return true
		}
		for _, r := range ent.Relationships {
			if r.Name == n {
				return true
			}
		}
		return false
	}
	if !taken(preferred) {
		return preferred
	}
	if !taken(fallback) {
		return fallback
	}
	for i := 2; ; i++ {
		if n := fmt.Sprintf("%s_%d", fallback, i); !taken(n) {
			return n
		}
	}
}
