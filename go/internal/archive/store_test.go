package archive

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "clickhouse/clickhouse-server:24.1-alpine",
			ExposedPorts: []string{"9000/tcp"},
			WaitingFor: wait.ForAll(
				wait.ForLog("Application: Ready for connections").WithStartupTimeout(60*time.Second),
				wait.ForListeningPort("9000/tcp"),
			),
			Env: map[string]string{
				"CLICKHOUSE_DB":       "test",
				"CLICKHOUSE_USER":     "default",
				"CLICKHOUSE_PASSWORD": "",
			},
		},
		Started: true,
	})
	if err != nil {
		t.Skipf("clickhouse container unavailable: %v", err)
	}
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "9000")
	require.NoError(t, err)

	conn, err := NewConn(ctx, fmt.Sprintf("clickhouse://%s:%s/test", host, port.Port()))
	require.NoError(t, err)

	store := NewStore(conn)
	t.Cleanup(func() { _ = store.Close() })
	require.NoError(t, store.EnsureSchema(ctx))
	return store
}

func TestStore_InsertAndList(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	itemID := uuid.New()
	placed := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	records := []Record{
		{ItemID: itemID, Version: 2, BidderID: "bob", Amount: decimal.RequireFromString("110.00"), PlacedAt: placed.Add(time.Second), StreamSequence: 8, ArchivedAt: placed},
		{ItemID: itemID, Version: 1, BidderID: "alice", BidderUsername: "Alice", Amount: decimal.RequireFromString("105.50"), PlacedAt: placed, StreamSequence: 7, ArchivedAt: placed},
		{ItemID: uuid.New(), Version: 1, BidderID: "carol", Amount: decimal.RequireFromString("5.00"), PlacedAt: placed, ArchivedAt: placed},
	}
	require.NoError(t, store.InsertBatch(ctx, records))
	require.NoError(t, store.InsertBatch(ctx, nil))

	got, err := store.ListByItem(ctx, itemID)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, int64(1), got[0].Version)
	assert.Equal(t, "Alice", got[0].BidderUsername)
	assert.True(t, decimal.RequireFromString("105.50").Equal(got[0].Amount))
	assert.Equal(t, int64(2), got[1].Version)
}

func TestStore_RedeliveryIsIdempotent(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	itemID := uuid.New()
	at := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	rec := Record{ItemID: itemID, Version: 1, BidderID: "alice", Amount: decimal.NewFromInt(10), PlacedAt: at, ArchivedAt: at}

	require.NoError(t, store.InsertBatch(ctx, []Record{rec}))
	rec.ArchivedAt = at.Add(time.Minute)
	require.NoError(t, store.InsertBatch(ctx, []Record{rec}))

	got, err := store.ListByItem(ctx, itemID)
	require.NoError(t, err)
	require.Len(t, got, 1, "FINAL collapses rows sharing (item_id, version)")
	assert.Equal(t, at.Add(time.Minute), got[0].ArchivedAt.UTC())
}
