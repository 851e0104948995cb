package pgx

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"
)

// Table names a schema-qualified table.
type Table struct {
	Schema string
	Name   string
}

func (t Table) String() string {
	return t.identifier()
}

func (t Table) identifier() string {
	schemaName := t.Schema
	if schemaName == "" {
		schemaName = "public"
	}
	return pgx.Identifier{schemaName, t.Name}.Sanitize()
}

var (
	ErrNoColumns = errors.New("no columns to write")
	ErrNoWhere   = errors.New("no WHERE conditions provided")
)

type queryBuilder struct {
	table     Table
	values    []any
	nextIndex int
}

func newQueryBuilder(t Table) *queryBuilder {
	return &queryBuilder{table: t, nextIndex: 1}
}

func (qb *queryBuilder) placeholder(value any) string {
	qb.values = append(qb.values, value)
	p := fmt.Sprintf("$%d", qb.nextIndex)
	qb.nextIndex++
	return p
}

func (qb *queryBuilder) assignments(data map[string]any, sep string) string {
	parts := make([]string, 0, len(data))
	for _, col := range sortedKeys(data) {
		parts = append(parts, fmt.Sprintf("%s = %s", pgx.Identifier{col}.Sanitize(), qb.placeholder(data[col])))
	}
	return strings.Join(parts, sep)
}

func returningClause(cols []string) string {
	if len(cols) == 0 {
		return ""
	}
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = pgx.Identifier{c}.Sanitize()
	}
	return " RETURNING " + strings.Join(quoted, ", ")
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// InsertRow inserts one row and returns the returning columns of the new row. An
// empty data map inserts DEFAULT VALUES.
func InsertRow(ctx context.Context, conn Querier, t Table, data map[string]any, returning ...string) (map[string]any, error) {
	qb := newQueryBuilder(t)

	var sql string
	if len(data) == 0 {
		sql = fmt.Sprintf("INSERT INTO %s DEFAULT VALUES", qb.table.identifier())
	} else {
		cols := sortedKeys(data)
		quoted := make([]string, len(cols))
		placeholders := make([]string, len(cols))
		for i, col := range cols {
			quoted[i] = pgx.Identifier{col}.Sanitize()
			placeholders[i] = qb.placeholder(data[col])
		}
		sql = fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
			qb.table.identifier(), strings.Join(quoted, ", "), strings.Join(placeholders, ", "))
	}
	sql += returningClause(returning)

	row, err := writeRow(ctx, conn, sql, qb.values, returning)
	if err != nil {
		return nil, fmt.Errorf("insert into %s: %w", t, err)
	}
	return row, nil
}

// UpdateRow sets data on the rows matching every where condition and returns the
// returning columns of the first updated row. pgx.ErrNoRows reports that nothing matched.
func UpdateRow(ctx context.Context, conn Querier, t Table, data, where map[string]any, returning ...string) (map[string]any, error) {
	if len(data) == 0 {
		return nil, ErrNoColumns
	}
	if len(where) == 0 {
		return nil, ErrNoWhere
	}
	qb := newQueryBuilder(t)
	set := qb.assignments(data, ", ")
	cond := qb.assignments(where, " AND ")
	sql := fmt.Sprintf("UPDATE %s SET %s WHERE %s", qb.table.identifier(), set, cond) + returningClause(returning)

	row, err := writeRow(ctx, conn, sql, qb.values, returning)
	if err != nil {
		return nil, fmt.Errorf("update %s: %w", t, err)
	}
	return row, nil
}

// DeleteRow deletes the rows matching every where condition and returns how many
// were removed.
func DeleteRow(ctx context.Context, conn Querier, t Table, where map[string]any) (int64, error) {
	if len(where) == 0 {
		return 0, ErrNoWhere
	}
	qb := newQueryBuilder(t)
	sql := fmt.Sprintf("DELETE FROM %s WHERE %s", qb.table.identifier(), qb.assignments(where, " AND "))

	tag, err := conn.Exec(ctx, sql, qb.values...)
	if err != nil {
		return 0, fmt.Errorf("delete from %s: %w", t, err)
	}
	return tag.RowsAffected(), nil
}

func writeRow(ctx context.Context, conn Querier, sql string, args []any, returning []string) (map[string]any, error) {
	if len(returning) == 0 {
		tag, err := conn.Exec(ctx, sql, args...)
		if err != nil {
			return nil, err
		}
		if tag.RowsAffected() == 0 {
			return nil, pgx.ErrNoRows
		}
		return map[string]any{}, nil
	}
	rows, err := conn.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	return pgx.CollectOneRow(rows, pgx.RowToMap)
}
