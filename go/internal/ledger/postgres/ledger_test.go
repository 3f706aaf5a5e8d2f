package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mcdev12/bidhouse/go/internal/ledger"
	"github.com/mcdev12/bidhouse/go/internal/ledger/ledgertest"
	"github.com/mcdev12/bidhouse/go/internal/ledger/postgres/migrations"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// setupTestPool starts a PostgreSQL container, applies migrations and
// returns a pool. The container is terminated on test cleanup.
func setupTestPool(t *testing.T) *pgxpool.Pool {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)

	ctx := context.Background()

	container, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("bidhouse"),
		tcpostgres.WithUsername("test"),
		tcpostgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err, "failed to start postgres container")
	t.Cleanup(func() {
		if err := container.Terminate(context.Background()); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err, "failed to get connection string")

	pool, err := NewPool(ctx, dsn, DefaultPoolConfig())
	require.NoError(t, err, "failed to create pool")
	t.Cleanup(pool.Close)

	require.NoError(t, migrations.Apply(ctx, pool))
	// Applying twice is a no-op.
	require.NoError(t, migrations.Apply(ctx, pool))

	return pool
}

// sharedLedger keeps the pool open between suite cases.
type sharedLedger struct {
	*Ledger
}

func (sharedLedger) Close() error { return nil }

func TestLedger(t *testing.T) {
	pool := setupTestPool(t)

	ledgertest.Run(t, func(t *testing.T, clock ledger.Clock) ledger.Ledger {
		_, err := pool.Exec(context.Background(), `TRUNCATE bids, auction_items`)
		require.NoError(t, err)
		return sharedLedger{New(pool, clock)}
	})
}
