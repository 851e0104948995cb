package pgx

import (
	"context"
	"testing"
	"time"

	"github.com/edgeflare/pgapi/internal/testutil/pgtest"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestPoolManagerUnreachable(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	pm := NewPoolManager(zap.New(core))

	start := time.Now()
	err := pm.Add(context.Background(), Pool{
		Name:           "nowhere",
		ConnString:     "postgres://pgapi@127.0.0.1:1/pgapi?connect_timeout=1",
		ConnectTimeout: 600 * time.Millisecond,
	})
	require.Error(t, err)
	assert.Less(t, time.Since(start), 10*time.Second)
	assert.GreaterOrEqual(t, logs.FilterMessage("database not ready").Len(), 1)
	assert.Empty(t, pm.List())

	_, err = pm.Active()
	require.Error(t, err)
	_, err = pm.Get("nowhere")
	assert.ErrorIs(t, err, ErrPoolNotFound)

	err = pm.Add(context.Background(), Pool{Name: "empty"})
	require.Error(t, err)
}

func TestPoolManager(t *testing.T) {
	ctx := context.Background()
	connString := pgtest.ParseConfig(t).ConnString()

	t.Run("Add", func(t *testing.T) {
		pm := NewPoolManager()
		t.Cleanup(pm.Close)

		require.NoError(t, pm.Add(ctx, Pool{Name: "primary", ConnString: connString, ConnectTimeout: 5 * time.Second}))
		assert.ErrorIs(t, pm.Add(ctx, Pool{Name: "primary", ConnString: connString}), ErrPoolAlreadyExists)

		poolConfig, err := pgxpool.ParseConfig(connString)
		require.NoError(t, err)
		require.NoError(t, pm.Add(ctx, Pool{Name: "config-based", Config: poolConfig}))
		assert.Equal(t, []string{"config-based", "primary"}, pm.List())
	})

	t.Run("Active", func(t *testing.T) {
		pm := NewPoolManager()
		t.Cleanup(pm.Close)

		require.NoError(t, pm.Add(ctx, Pool{Name: "first", ConnString: connString}))
		require.NoError(t, pm.Add(ctx, Pool{Name: "second", ConnString: connString}, true))

		active, err := pm.Active()
		require.NoError(t, err)
		second, err := pm.Get("second")
		require.NoError(t, err)
		assert.Same(t, second, active)

		require.NoError(t, pm.SetActive("first"))
		assert.Error(t, pm.SetActive("nonexistent"))
	})

	t.Run("Close", func(t *testing.T) {
		pm := NewPoolManager()
		require.NoError(t, pm.Add(ctx, Pool{Name: "pool1", ConnString: connString}))

		pm.Close()
		assert.Empty(t, pm.List())
		_, err := pm.Active()
		assert.Error(t, err)
	})
}
