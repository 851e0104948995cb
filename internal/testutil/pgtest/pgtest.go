package pgtest

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

var (
	containerOnce sync.Once
	containerURL  string
	containerErr  error
)

// ConnString returns the connection string of the test database. TEST_DATABASE wins;
// with PGAPI_TESTCONTAINERS=1 a postgres container is started once per test binary and
// reaped by the testcontainers reaper. Otherwise the test is skipped.
func ConnString(t testing.TB) string {
	t.Helper()
	if url := os.Getenv("TEST_DATABASE"); url != "" {
		return url
	}
	if os.Getenv("PGAPI_TESTCONTAINERS") != "1" {
		t.Skip("TEST_DATABASE not set; set it or PGAPI_TESTCONTAINERS=1 to run database tests")
	}

	containerOnce.Do(func() {
		containerURL, containerErr = startContainer(context.Background())
	})
	require.NoError(t, containerErr)
	return containerURL
}

func startContainer(ctx context.Context) (string, error) {
	ctr, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("pgapi_test"),
		tcpostgres.WithUsername("pgapi"),
		tcpostgres.WithPassword("pgapi"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		return "", fmt.Errorf("start postgres container: %w", err)
	}
	url, err := ctr.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		_ = ctr.Terminate(ctx)
		return "", fmt.Errorf("container connection string: %w", err)
	}
	return url, nil
}

// Connect creates a new database connection for testing
func Connect(ctx context.Context, t testing.TB) *pgx.Conn {
	conn, err := pgx.ConnectConfig(ctx, ParseConfig(t))
	require.NoError(t, err)

	t.Cleanup(func() {
		Close(t, conn)
	})

	return conn
}

// Pool creates a connection pool for testing, closed on cleanup.
func Pool(ctx context.Context, t testing.TB) *pgxpool.Pool {
	pool, err := pgxpool.New(ctx, ConnString(t))
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	return pool
}

// Close safely closes a database connection
func Close(t testing.TB, conn *pgx.Conn) {
	if conn.IsClosed() {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, conn.Close(ctx))
}

// ParseConfig returns a test connection config with logging
func ParseConfig(t testing.TB) *pgx.ConnConfig {
	config, err := pgx.ParseConfig(ConnString(t))
	require.NoError(t, err)

	config.OnNotice = func(_ *pgconn.PgConn, n *pgconn.Notice) {
		t.Logf("PostgreSQL %s: %s", n.Severity, n.Message)
	}

	return config
}

// Exec runs each statement on conn and fails the test on the first error.
func Exec(ctx context.Context, t testing.TB, conn interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
}, stmts ...string) {
	t.Helper()
	for _, stmt := range stmts {
		_, err := conn.Exec(ctx, stmt)
		require.NoError(t, err, stmt)
	}
}
