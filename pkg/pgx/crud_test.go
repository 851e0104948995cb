package pgx

import (
	"context"
	"testing"

	"github.com/edgeflare/pgapi/internal/testutil/pgtest"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRowHelpers(t *testing.T) {
	ctx := context.Background()
	conn := pgtest.Connect(ctx, t)
	pgtest.Exec(ctx, t, conn,
		`DROP SCHEMA IF EXISTS pgapi_crud CASCADE`,
		`CREATE SCHEMA pgapi_crud`,
		`CREATE TABLE pgapi_crud.notes (id serial PRIMARY KEY, title text NOT NULL DEFAULT 'untitled', "order" int)`,
	)
	t.Cleanup(func() {
		_, _ = conn.Exec(context.Background(), `DROP SCHEMA IF EXISTS pgapi_crud CASCADE`)
	})
	notes := Table{Schema: "pgapi_crud", Name: "notes"}

	row, err := InsertRow(ctx, conn, notes, map[string]any{"title": "first", "order": 1}, "id", "title")
	require.NoError(t, err)
	assert.EqualValues(t, 1, row["id"])
	assert.Equal(t, "first", row["title"])

	row, err = InsertRow(ctx, conn, notes, nil, "id", "title")
	require.NoError(t, err)
	assert.EqualValues(t, 2, row["id"])
	assert.Equal(t, "untitled", row["title"])

	row, err = UpdateRow(ctx, conn, notes, map[string]any{"title": "renamed"}, map[string]any{"id": 2}, "title")
	require.NoError(t, err)
	assert.Equal(t, "renamed", row["title"])

	_, err = UpdateRow(ctx, conn, notes, map[string]any{"title": "ghost"}, map[string]any{"id": 99}, "id")
	require.ErrorIs(t, err, pgx.ErrNoRows)
	_, err = UpdateRow(ctx, conn, notes, map[string]any{"title": "ghost"}, map[string]any{"id": 99})
	require.ErrorIs(t, err, pgx.ErrNoRows)

	_, err = UpdateRow(ctx, conn, notes, nil, map[string]any{"id": 1})
	require.ErrorIs(t, err, ErrNoColumns)
	_, err = UpdateRow(ctx, conn, notes, map[string]any{"title": "x"}, nil)
	require.ErrorIs(t, err, ErrNoWhere)

	n, err := DeleteRow(ctx, conn, notes, map[string]any{"id": 1})
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
	n, err = DeleteRow(ctx, conn, notes, map[string]any{"id": 1})
	require.NoError(t, err)
	assert.Zero(t, n)
	_, err = DeleteRow(ctx, conn, notes, nil)
	require.ErrorIs(t, err, ErrNoWhere)
}

func TestTableIdentifier(t *testing.T) {
	assert.Equal(t, `"public"."notes"`, Table{Name: "notes"}.String())
	assert.Equal(t, `"app"."we""ird"`, Table{Schema: "app", Name: `we"ird`}.String())
}
