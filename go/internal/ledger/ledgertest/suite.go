// Package ledgertest is a behavioural suite every ledger backend must pass.
package ledgertest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/bidhouse/go/internal/ledger"
	"github.com/mcdev12/bidhouse/go/internal/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Factory returns a fresh, empty ledger bound to clock.
type Factory func(t *testing.T, clock ledger.Clock) ledger.Ledger

// Epoch is the fake clock start used by the suite.
var Epoch = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

// Run exercises the full ledger contract against newLedger.
func Run(t *testing.T, newLedger Factory) {
	t.Run("CreateAndGet", func(t *testing.T) { testCreateAndGet(t, newLedger) })
	t.Run("RejectsInvalidItem", func(t *testing.T) { testRejectsInvalidItem(t, newLedger) })
	t.Run("ConditionalUpdateApplies", func(t *testing.T) { testConditionalUpdateApplies(t, newLedger) })
	t.Run("ConditionalUpdateGuards", func(t *testing.T) { testConditionalUpdateGuards(t, newLedger) })
	t.Run("ConcurrentUpdatesSingleWinner", func(t *testing.T) { testConcurrentSingleWinner(t, newLedger) })
	t.Run("BidLog", func(t *testing.T) { testBidLog(t, newLedger) })
	t.Run("BidsByBidder", func(t *testing.T) { testBidsByBidder(t, newLedger) })
	t.Run("CloseItem", func(t *testing.T) { testCloseItem(t, newLedger) })
}

// D parses a decimal literal, panicking on bad input.
func D(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// AssertDecimal compares decimals by value rather than representation.
func AssertDecimal(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	assert.Truef(t, D(want).Equal(got), "want %s, got %s", want, got)
}

func setup(t *testing.T, newLedger Factory) (ledger.Ledger, *clockwork.FakeClock) {
	t.Helper()
	clock := clockwork.NewFakeClockAt(Epoch)
	l := newLedger(t, clock)
	t.Cleanup(func() { _ = l.Close() })
	return l, clock
}

func openItem(t *testing.T, l ledger.Ledger, price string, d time.Duration) *models.AuctionItem {
	t.Helper()
	item, err := l.CreateItem(context.Background(), ledger.NewItem{
		Title:          "Vintage camera",
		Description:    "Leica M3, 1956",
		StartingPrice:  D(price),
		AuctionEndTime: Epoch.Add(d),
	})
	require.NoError(t, err)
	return item
}

func bidFor(item *models.AuctionItem, amount, bidder string) ledger.ConditionalUpdate {
	return ledger.ConditionalUpdate{
		ItemID:                 item.ID,
		ExpectedVersion:        item.Version,
		RequireCurrentBidBelow: D(amount),
		RequireLive:            true,
		RequireBeforeEnd:       true,
		NewCurrentBid:          D(amount),
		NewHighestBidderID:     bidder,
	}
}

func testCreateAndGet(t *testing.T, newLedger Factory) {
	l, _ := setup(t, newLedger)
	ctx := context.Background()

	created := openItem(t, l, "500", time.Hour)
	assert.NotEqual(t, uuid.Nil, created.ID)

	got, err := l.GetItem(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "Vintage camera", got.Title)
	AssertDecimal(t, "500", got.StartingPrice)
	AssertDecimal(t, "500", got.CurrentBid)
	assert.Equal(t, int64(0), got.Version)
	assert.Equal(t, models.ItemStatusLive, got.Status)
	assert.Nil(t, got.HighestBidderID)
	assert.Nil(t, got.WinnerID)
	assert.Nil(t, got.FinalPrice)
	assert.True(t, Epoch.Add(time.Hour).Equal(got.AuctionEndTime))

	_, err = l.GetItem(ctx, uuid.New())
	assert.ErrorIs(t, err, ledger.ErrItemNotFound)
}

func testRejectsInvalidItem(t *testing.T, newLedger Factory) {
	l, _ := setup(t, newLedger)

	_, err := l.CreateItem(context.Background(), ledger.NewItem{
		Title:          "Broken",
		StartingPrice:  D("-1"),
		AuctionEndTime: Epoch.Add(time.Hour),
	})
	assert.ErrorIs(t, err, ledger.ErrInvalidItem)

	_, err = l.CreateItem(context.Background(), ledger.NewItem{
		StartingPrice:  D("1"),
		AuctionEndTime: Epoch.Add(time.Hour),
	})
	assert.ErrorIs(t, err, ledger.ErrInvalidItem)
}

func testConditionalUpdateApplies(t *testing.T, newLedger Factory) {
	l, _ := setup(t, newLedger)
	ctx := context.Background()
	item := openItem(t, l, "500", time.Hour)

	updated, err := l.ConditionalUpdate(ctx, bidFor(item, "600", "alice"))
	require.NoError(t, err)
	AssertDecimal(t, "600", updated.CurrentBid)
	assert.Equal(t, int64(1), updated.Version)
	require.NotNil(t, updated.HighestBidderID)
	assert.Equal(t, "alice", *updated.HighestBidderID)

	again, err := l.ConditionalUpdate(ctx, bidFor(updated, "612.50", "bob"))
	require.NoError(t, err)
	AssertDecimal(t, "612.50", again.CurrentBid)
	assert.Equal(t, int64(2), again.Version)

	stored, err := l.GetItem(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stored.Version)
	assert.Equal(t, "bob", *stored.HighestBidderID)
}

func testConditionalUpdateGuards(t *testing.T, newLedger Factory) {
	ctx := context.Background()

	tests := []struct {
		name    string
		prepare func(t *testing.T, l ledger.Ledger, clock *clockwork.FakeClock, item *models.AuctionItem) ledger.ConditionalUpdate
	}{
		{
			name: "stale version",
			prepare: func(_ *testing.T, _ ledger.Ledger, _ *clockwork.FakeClock, item *models.AuctionItem) ledger.ConditionalUpdate {
				upd := bidFor(item, "600", "alice")
				upd.ExpectedVersion = 7
				return upd
			},
		},
		{
			name: "amount equal to current bid",
			prepare: func(_ *testing.T, _ ledger.Ledger, _ *clockwork.FakeClock, item *models.AuctionItem) ledger.ConditionalUpdate {
				return bidFor(item, "500", "alice")
			},
		},
		{
			name: "amount below current bid",
			prepare: func(_ *testing.T, _ ledger.Ledger, _ *clockwork.FakeClock, item *models.AuctionItem) ledger.ConditionalUpdate {
				return bidFor(item, "499.99", "alice")
			},
		},
		{
			name: "clock at end time",
			prepare: func(_ *testing.T, _ ledger.Ledger, clock *clockwork.FakeClock, item *models.AuctionItem) ledger.ConditionalUpdate {
				clock.Advance(time.Hour)
				return bidFor(item, "600", "alice")
			},
		},
		{
			name: "item ended",
			prepare: func(t *testing.T, l ledger.Ledger, clock *clockwork.FakeClock, item *models.AuctionItem) ledger.ConditionalUpdate {
				clock.Advance(2 * time.Hour)
				_, err := l.CloseItem(ctx, item.ID)
				require.NoError(t, err)
				upd := bidFor(item, "600", "alice")
				upd.RequireBeforeEnd = false
				return upd
			},
		},
		{
			name: "unknown item",
			prepare: func(_ *testing.T, _ ledger.Ledger, _ *clockwork.FakeClock, item *models.AuctionItem) ledger.ConditionalUpdate {
				upd := bidFor(item, "600", "alice")
				upd.ItemID = uuid.New()
				return upd
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, clock := setup(t, newLedger)
			item := openItem(t, l, "500", time.Hour)
			before, err := l.GetItem(ctx, item.ID)
			require.NoError(t, err)

			_, err = l.ConditionalUpdate(ctx, tt.prepare(t, l, clock, item))
			require.ErrorIs(t, err, ledger.ErrNoMatch)

			after, err := l.GetItem(ctx, item.ID)
			require.NoError(t, err)
			AssertDecimal(t, before.CurrentBid.String(), after.CurrentBid)
			assert.Equal(t, before.Version, after.Version)
			assert.Nil(t, after.HighestBidderID)
		})
	}
}

func testConcurrentSingleWinner(t *testing.T, newLedger Factory) {
	l, _ := setup(t, newLedger)
	ctx := context.Background()
	item := openItem(t, l, "500", time.Hour)

	const racers = 16
	var (
		wg       sync.WaitGroup
		accepted atomic.Int32
		winner   atomic.Value
		start    = make(chan struct{})
	)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			amount := fmt.Sprintf("%d", 600+i*10)
			updated, err := l.ConditionalUpdate(ctx, bidFor(item, amount, fmt.Sprintf("bidder-%d", i)))
			if err == nil {
				accepted.Add(1)
				winner.Store(updated)
				return
			}
			assert.True(t, errors.Is(err, ledger.ErrNoMatch), "unexpected error: %v", err)
		}(i)
	}
	close(start)
	wg.Wait()

	require.Equal(t, int32(1), accepted.Load())
	won := winner.Load().(*models.AuctionItem)

	stored, err := l.GetItem(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stored.Version)
	AssertDecimal(t, won.CurrentBid.String(), stored.CurrentBid)
	assert.Equal(t, *won.HighestBidderID, *stored.HighestBidderID)
}

func testBidLog(t *testing.T, newLedger Factory) {
	l, clock := setup(t, newLedger)
	ctx := context.Background()
	item := openItem(t, l, "10", time.Hour)

	for v := int64(1); v <= 5; v++ {
		clock.Advance(time.Second)
		require.NoError(t, l.AppendBid(ctx, &models.Bid{
			ID:        uuid.New(),
			ItemID:    item.ID,
			BidderID:  fmt.Sprintf("bidder-%d", v),
			Amount:    D(fmt.Sprintf("%d", 10+v)),
			Version:   v,
			Source:    models.BidSourceREST,
			CreatedAt: clock.Now(),
		}))
	}

	// Re-appending an already logged version is a no-op.
	require.NoError(t, l.AppendBid(ctx, &models.Bid{
		ID: uuid.New(), ItemID: item.ID, BidderID: "dup", Amount: D("15"), Version: 5, CreatedAt: clock.Now(),
	}))

	count, err := l.CountBids(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, count)

	page, err := l.ListBids(ctx, item.ID, 2, 0)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, int64(5), page[0].Version)
	assert.Equal(t, int64(4), page[1].Version)
	assert.Equal(t, "bidder-5", page[0].BidderID)
	AssertDecimal(t, "15", page[0].Amount)

	page, err = l.ListBids(ctx, item.ID, 10, 3)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, int64(2), page[0].Version)
	assert.Equal(t, int64(1), page[1].Version)

	empty, err := l.ListBids(ctx, uuid.New(), 10, 0)
	if err == nil {
		assert.Empty(t, empty)
	} else {
		assert.ErrorIs(t, err, ledger.ErrItemNotFound)
	}
}

func testBidsByBidder(t *testing.T, newLedger Factory) {
	l, clock := setup(t, newLedger)
	ctx := context.Background()
	camera := openItem(t, l, "10", time.Hour)
	lens := openItem(t, l, "10", time.Hour)

	log := []struct {
		item   *models.AuctionItem
		bidder string
	}{
		{camera, "alice"},
		{lens, "alice"},
		{camera, "bob"},
		{camera, "alice"},
		{lens, "carol"},
	}
	versions := map[uuid.UUID]int64{}
	for _, entry := range log {
		clock.Advance(time.Second)
		versions[entry.item.ID]++
		v := versions[entry.item.ID]
		require.NoError(t, l.AppendBid(ctx, &models.Bid{
			ID:        uuid.New(),
			ItemID:    entry.item.ID,
			BidderID:  entry.bidder,
			Amount:    D(fmt.Sprintf("%d", 10+v)),
			Version:   v,
			CreatedAt: clock.Now(),
		}))
	}

	count, err := l.CountBidsByBidder(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	page, err := l.ListBidsByBidder(ctx, "alice", 2, 0)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, camera.ID, page[0].ItemID)
	assert.Equal(t, int64(3), page[0].Version)
	assert.Equal(t, lens.ID, page[1].ItemID)
	assert.Equal(t, int64(1), page[1].Version)
	for _, b := range page {
		assert.Equal(t, "alice", b.BidderID)
	}

	page, err = l.ListBidsByBidder(ctx, "alice", 2, 2)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, camera.ID, page[0].ItemID)
	assert.Equal(t, int64(1), page[0].Version)
	AssertDecimal(t, "11", page[0].Amount)

	none, err := l.ListBidsByBidder(ctx, "nobody", 10, 0)
	require.NoError(t, err)
	assert.Empty(t, none)
	count, err = l.CountBidsByBidder(ctx, "nobody")
	require.NoError(t, err)
	assert.Zero(t, count)
}

func testCloseItem(t *testing.T, newLedger Factory) {
	l, clock := setup(t, newLedger)
	ctx := context.Background()

	sold := openItem(t, l, "100", time.Minute)
	unsold := openItem(t, l, "100", time.Minute)
	later := openItem(t, l, "100", time.Hour)

	_, err := l.ConditionalUpdate(ctx, bidFor(sold, "150", "carol"))
	require.NoError(t, err)

	_, err = l.CloseItem(ctx, sold.ID)
	require.ErrorIs(t, err, ledger.ErrNoMatch, "must not close before end time")

	clock.Advance(time.Minute)

	closed, err := l.CloseItem(ctx, sold.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ItemStatusEnded, closed.Status)
	require.NotNil(t, closed.WinnerID)
	assert.Equal(t, "carol", *closed.WinnerID)
	require.NotNil(t, closed.FinalPrice)
	AssertDecimal(t, "150", *closed.FinalPrice)
	assert.Equal(t, int64(1), closed.Version)

	_, err = l.CloseItem(ctx, sold.ID)
	assert.ErrorIs(t, err, ledger.ErrNoMatch, "ENDED is terminal")

	closedUnsold, err := l.CloseItem(ctx, unsold.ID)
	require.NoError(t, err)
	assert.Nil(t, closedUnsold.WinnerID)
	assert.Nil(t, closedUnsold.FinalPrice)

	live, err := l.ListLiveItems(ctx)
	require.NoError(t, err)
	require.Len(t, live, 1)
	assert.Equal(t, later.ID, live[0].ID)
}
