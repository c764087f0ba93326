package migrations

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap/zaptest"

	"solana-token-ledger/internal/storage/postgres"
)

func TestRunPostgresMigrations_Idempotent(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx, "postgres:15-alpine",
		tcpostgres.WithDatabase("testdb"),
		tcpostgres.WithUsername("test"),
		tcpostgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		t.Skipf("postgres container unavailable: %v", err)
	}
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	pool, err := postgres.NewPool(ctx, dsn)
	require.NoError(t, err)
	defer pool.Close()

	logger := zaptest.NewLogger(t)
	require.NoError(t, RunPostgresMigrations(ctx, pool, logger))
	require.NoError(t, RunPostgresMigrations(ctx, pool, logger))

	var n int
	require.NoError(t, pool.QueryRow(ctx, "SELECT count(*) FROM schema_migrations").Scan(&n))
	assert.Equal(t, 2, n)

	// A second data account violates the singleton index.
	_, err = pool.Exec(ctx, "INSERT INTO data_accounts (address, created_slot) VALUES ('a', 1)")
	require.NoError(t, err)
	_, err = pool.Exec(ctx, "INSERT INTO data_accounts (address, created_slot) VALUES ('b', 2)")
	assert.Error(t, err)

	var slot int64
	require.NoError(t, pool.QueryRow(ctx, "SELECT nextval('ledger_slot_seq')").Scan(&slot))
	assert.Equal(t, int64(1), slot)
}
