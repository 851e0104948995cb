package pgx

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Querier is the statement surface shared by connections, pools and transactions.
// Read paths and row helpers take a Querier so they run unchanged inside a pgx.Tx.
type Querier interface {
	// Exec executes a SQL statement and returns its command tag.
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	// Query executes a SQL query and returns the rows to iterate.
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	// QueryRow executes a query that is expected to return at most one row.
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Conn abstracts *pgx.Conn, *pgxpool.Conn and *pgxpool.Pool: anything a request can
// read through and open a transaction on.
type Conn interface {
	Querier
	// Begin starts a transaction. Unlike database/sql, the context only affects the begin command.
	// i.e. there is no auto-rollback on context cancellation.
	Begin(ctx context.Context) (pgx.Tx, error)
	// BeginTx starts a transaction with txOptions determining the transaction mode.
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
}
