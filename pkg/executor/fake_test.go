package executor

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// fakeConn answers queries from canned tables matched by SQL substring, in
// registration order, and records every statement it receives.
type fakeConn struct {
	mu       sync.Mutex
	handlers []handler
	queries  []recorded
}

type handler struct {
	match string
	cols  []string
	rows  func(args []any) [][]any
}

type recorded struct {
	sql  string
	args []any
}

func (c *fakeConn) on(match string, cols []string, rows func(args []any) [][]any) *fakeConn {
	c.handlers = append(c.handlers, handler{match: match, cols: cols, rows: rows})
	return c
}

func (c *fakeConn) count(match string) int {
	n := 0
	for _, q := range c.queries {
		if strings.Contains(q.sql, match) {
			n++
		}
	}
	return n
}

func (c *fakeConn) answer(sql string, args []any) (*fakeRows, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.queries = append(c.queries, recorded{sql: sql, args: args})
	for _, h := range c.handlers {
		if strings.Contains(sql, h.match) {
			return &fakeRows{cols: h.cols, data: h.rows(args)}, nil
		}
	}
	return nil, fmt.Errorf("fake: unexpected query %s", sql)
}

func (c *fakeConn) Query(_ context.Context, sql string, args ...any) (pgx.Rows, error) {
	return c.answer(sql, args)
}

func (c *fakeConn) QueryRow(_ context.Context, sql string, args ...any) pgx.Row {
	rows, err := c.answer(sql, args)
	if err != nil {
		return fakeRow{err: err}
	}
	if !rows.Next() {
		return fakeRow{err: pgx.ErrNoRows}
	}
	return fakeRow{vals: rows.data[0]}
}

func (c *fakeConn) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	return pgconn.CommandTag{}, errors.New("fake: read only")
}

func (c *fakeConn) Begin(context.Context) (pgx.Tx, error) {
	return nil, errors.New("fake: read only")
}

func (c *fakeConn) BeginTx(context.Context, pgx.TxOptions) (pgx.Tx, error) {
	return nil, errors.New("fake: read only")
}

// static returns rows regardless of arguments.
func static(rows ...[]any) func([]any) [][]any {
	return func([]any) [][]any { return rows }
}

// byKeys returns the rows whose column col is one of the keys bound to $1, compared
// in wire form since pgx hands back int4 keys as int32.
func byKeys(col int, rows ...[]any) func([]any) [][]any {
	return func(args []any) [][]any {
		keys, _ := args[0].([]any)
		var out [][]any
		for _, r := range rows {
			for _, k := range keys {
				if FormatID(r[col]) == FormatID(k) {
					out = append(out, r)
					break
				}
			}
		}
		return out
	}
}

type fakeRows struct {
	cols []string
	data [][]any
	i    int
}

func (r *fakeRows) Close()                        {}
func (r *fakeRows) Err() error                    { return nil }
func (r *fakeRows) CommandTag() pgconn.CommandTag { return pgconn.NewCommandTag("SELECT") }
func (r *fakeRows) RawValues() [][]byte           { return nil }
func (r *fakeRows) Conn() *pgx.Conn               { return nil }

func (r *fakeRows) FieldDescriptions() []pgconn.FieldDescription {
	fds := make([]pgconn.FieldDescription, len(r.cols))
	for i, c := range r.cols {
		fds[i] = pgconn.FieldDescription{Name: c}
	}
	return fds
}

func (r *fakeRows) Next() bool {
	if r.i < len(r.data) {
		r.i++
		return true
	}
	return false
}

func (r *fakeRows) Values() ([]any, error) {
	return r.data[r.i-1], nil
}

func (r *fakeRows) Scan(dest ...any) error {
	if len(dest) == 1 {
		if rs, ok := dest[0].(pgx.RowScanner); ok {
			return rs.ScanRow(r)
		}
	}
	return assign(r.data[r.i-1], dest)
}

type fakeRow struct {
	vals []any
	err  error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	return assign(r.vals, dest)
}

func assign(vals, dest []any) error {
	if len(vals) != len(dest) {
		return fmt.Errorf("fake: %d values for %d destinations", len(vals), len(dest))
	}
	for i, d := range dest {
		dv := reflect.ValueOf(d).Elem()
		dv.Set(reflect.ValueOf(vals[i]).Convert(dv.Type()))
	}
	return nil
}
