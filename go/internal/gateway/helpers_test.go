package gateway

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/bidhouse/go/internal/ledger"
	"github.com/mcdev12/bidhouse/go/internal/ledger/memory"
	"github.com/mcdev12/bidhouse/go/internal/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// fakeSubscriber records frames in memory. When full is set every Send is
// refused, like a connection whose buffer has filled up.
type fakeSubscriber struct {
	id string

	mu     sync.Mutex
	frames [][]byte
	full   bool
}

func newFakeSubscriber(id string) *fakeSubscriber {
	return &fakeSubscriber{id: id}
}

func (f *fakeSubscriber) ID() string { return f.id }

func (f *fakeSubscriber) Send(frame []byte) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.full {
		return false
	}
	f.frames = append(f.frames, frame)
	return true
}

func (f *fakeSubscriber) setFull(full bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.full = full
}

func (f *fakeSubscriber) envelopes(t *testing.T) []Envelope {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Envelope, 0, len(f.frames))
	for _, frame := range f.frames {
		var env Envelope
		require.NoError(t, json.Unmarshal(frame, &env))
		out = append(out, env)
	}
	return out
}

func (f *fakeSubscriber) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.frames)
}

// versions returns the version of every UPDATE_BID frame received, in order.
func (f *fakeSubscriber) versions(t *testing.T) []int64 {
	t.Helper()
	var out []int64
	for _, env := range f.envelopes(t) {
		if env.Type != MessageUpdateBid {
			continue
		}
		var delta models.BidDelta
		require.NoError(t, json.Unmarshal(env.Data, &delta))
		out = append(out, delta.Version)
	}
	return out
}

type staticConns struct {
	subs []Subscriber
}

func (s staticConns) Connections() []Subscriber { return s.subs }

func newLedger(t *testing.T) (*memory.Ledger, *clockwork.FakeClock) {
	t.Helper()
	clock := clockwork.NewFakeClockAt(epoch)
	return memory.New(clock), clock
}

func createItem(t *testing.T, l ledger.Ledger, price string) *models.AuctionItem {
	t.Helper()
	item, err := l.CreateItem(context.Background(), ledger.NewItem{
		Title:          "Vintage Camera",
		StartingPrice:  d(price),
		AuctionEndTime: epoch.Add(time.Hour),
	})
	require.NoError(t, err)
	return item
}

func delta(itemID uuid.UUID, version int64, amount string) models.BidDelta {
	return models.BidDelta{
		ItemID:          itemID,
		CurrentBid:      d(amount),
		HighestBidderID: "bidder-1",
		Version:         version,
		Timestamp:       epoch,
	}
}

// commit applies one accepted bid directly against the ledger.
func commit(t *testing.T, l ledger.Ledger, item *models.AuctionItem, amount, bidder string) *models.AuctionItem {
	t.Helper()
	updated, err := l.ConditionalUpdate(context.Background(), ledger.ConditionalUpdate{
		ItemID:                 item.ID,
		ExpectedVersion:        item.Version,
		RequireCurrentBidBelow: d(amount),
		RequireLive:            true,
		RequireBeforeEnd:       true,
		NewCurrentBid:          d(amount),
		NewHighestBidderID:     bidder,
	})
	require.NoError(t, err)
	return updated
}
