package relay

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

func setupNotifyDB(t *testing.T) (*pgxpool.Pool, string) {
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
	require.NoError(t, err)

	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	return pool, dsn
}

func TestPGNotify_RelaysBetweenInstances(t *testing.T) {
	pool, dsn := setupNotifyDB(t)

	cfg := DefaultPGNotifyConfig()
	cfg.DatabaseURL = dsn
	cfg.PingInterval = time.Second

	local := &recordingDispatcher{}
	remote := &recordingDispatcher{}

	publisher, err := NewPGNotify(pool, local, cfg)
	require.NoError(t, err)
	subscriber, err := NewPGNotify(pool, remote, cfg)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = publisher.Start(ctx) }()
	go func() { _ = subscriber.Start(ctx) }()

	require.NoError(t, publisher.Publish(ctx, sampleDelta(1)))

	// Immediate local dispatch plus the echo from our own LISTEN.
	require.Eventually(t, func() bool { return len(local.received()) == 2 }, 10*time.Second, 20*time.Millisecond)
	require.Eventually(t, func() bool { return len(remote.received()) == 1 }, 10*time.Second, 20*time.Millisecond)
	assertSameDelta(t, sampleDelta(1), remote.received()[0])
}
