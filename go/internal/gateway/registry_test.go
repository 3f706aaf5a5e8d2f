package gateway

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/mcdev12/bidhouse/go/internal/ledger"
	"github.com/mcdev12/bidhouse/go/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stateMarker(item *models.AuctionItem) []byte {
	frame, _ := EncodeMessage(MessageAuctionState, AuctionStatePayload{Item: item}, epoch)
	return frame
}

func TestRegistry_SubscribeReturnsSnapshot(t *testing.T) {
	l, _ := newLedger(t)
	item := createItem(t, l, "100")
	item = commit(t, l, item, "150", "alice")

	r := NewRegistry(l, 4)
	sub := newFakeSubscriber("conn-1")

	snap, err := r.Subscribe(context.Background(), sub, item.ID, stateMarker)
	require.NoError(t, err)
	assert.Equal(t, int64(1), snap.Version)
	assert.True(t, d("150").Equal(snap.CurrentBid))
	assert.Equal(t, 1, r.Count())

	envs := sub.envelopes(t)
	require.Len(t, envs, 1)
	assert.Equal(t, MessageAuctionState, envs[0].Type)
}

func TestRegistry_SubscribeIsIdempotent(t *testing.T) {
	l, _ := newLedger(t)
	item := createItem(t, l, "100")
	r := NewRegistry(l, 4)
	sub := newFakeSubscriber("conn-1")

	for i := 0; i < 3; i++ {
		_, err := r.Subscribe(context.Background(), sub, item.ID, nil)
		require.NoError(t, err)
	}
	assert.Equal(t, 1, r.Count())
	assert.Len(t, r.Subscribers(item.ID), 1)
	assert.Equal(t, []uuid.UUID{item.ID}, r.ItemsFor(sub))
}

func TestRegistry_SubscribeUnknownItem(t *testing.T) {
	l, _ := newLedger(t)
	r := NewRegistry(l, 4)
	sub := newFakeSubscriber("conn-1")
	missing := uuid.New()

	_, err := r.Subscribe(context.Background(), sub, missing, stateMarker)
	require.ErrorIs(t, err, ledger.ErrItemNotFound)

	assert.Equal(t, 0, r.Count())
	assert.Empty(t, r.Subscribers(missing))
	assert.Empty(t, r.ItemsFor(sub))
	assert.Equal(t, 0, sub.count())
}

func TestRegistry_UnsubscribeIsIdempotent(t *testing.T) {
	l, _ := newLedger(t)
	item := createItem(t, l, "100")
	r := NewRegistry(l, 4)
	sub := newFakeSubscriber("conn-1")

	r.Unsubscribe(sub, item.ID)
	assert.Equal(t, 0, r.Count())

	_, err := r.Subscribe(context.Background(), sub, item.ID, nil)
	require.NoError(t, err)

	r.Unsubscribe(sub, item.ID)
	r.Unsubscribe(sub, item.ID)
	assert.Equal(t, 0, r.Count())
	assert.Empty(t, r.Subscribers(item.ID))
	assert.Empty(t, r.ItemsFor(sub))
}

func TestRegistry_ConnectionClosedRemovesEverything(t *testing.T) {
	l, _ := newLedger(t)
	items := []*models.AuctionItem{
		createItem(t, l, "10"),
		createItem(t, l, "20"),
		createItem(t, l, "30"),
	}
	r := NewRegistry(l, 2)
	leaving := newFakeSubscriber("leaving")
	staying := newFakeSubscriber("staying")

	for _, item := range items {
		_, err := r.Subscribe(context.Background(), leaving, item.ID, nil)
		require.NoError(t, err)
	}
	_, err := r.Subscribe(context.Background(), staying, items[0].ID, nil)
	require.NoError(t, err)

	var totals []int
	r.OnChange(func(total int) { totals = append(totals, total) })

	assert.Equal(t, 3, r.ConnectionClosed(leaving))
	assert.Equal(t, 1, r.Count())
	assert.Equal(t, []int{1}, totals)
	for _, item := range items {
		for _, s := range r.Subscribers(item.ID) {
			assert.Equal(t, "staying", s.ID())
		}
	}

	assert.Equal(t, 0, r.ConnectionClosed(leaving))
}

func TestRegistry_DeliveryDropsStaleAndDuplicateVersions(t *testing.T) {
	l, _ := newLedger(t)
	item := createItem(t, l, "100")
	r := NewRegistry(l, 4)
	sub := newFakeSubscriber("conn-1")

	_, err := r.Subscribe(context.Background(), sub, item.ID, nil)
	require.NoError(t, err)
	s := r.subscriptions(item.ID)[0]

	for _, v := range []int64{1, 3, 2, 3, 0, 4} {
		frame, err := EncodeMessage(MessageUpdateBid, delta(item.ID, v, "200"), epoch)
		require.NoError(t, err)
		s.deliver(v, frame)
	}

	assert.Equal(t, []int64{1, 3, 4}, sub.versions(t))
}

func TestRegistry_DroppedFrameDoesNotAdvanceVersion(t *testing.T) {
	l, _ := newLedger(t)
	item := createItem(t, l, "100")
	r := NewRegistry(l, 4)
	sub := newFakeSubscriber("conn-1")

	_, err := r.Subscribe(context.Background(), sub, item.ID, nil)
	require.NoError(t, err)
	s := r.subscriptions(item.ID)[0]

	frame, _ := EncodeMessage(MessageUpdateBid, delta(item.ID, 1, "200"), epoch)
	sub.setFull(true)
	assert.Equal(t, deliveryDropped, s.deliver(1, frame))
	sub.setFull(false)
	assert.Equal(t, deliveryQueued, s.deliver(1, frame))
}

// racingReader simulates a delta being dispatched between interest being
// registered and the snapshot being read.
type racingReader struct {
	ledger.Ledger
	reads   int
	onFirst func()
}

func (r *racingReader) GetItem(ctx context.Context, id uuid.UUID) (*models.AuctionItem, error) {
	r.reads++
	item, err := r.Ledger.GetItem(ctx, id)
	if r.reads == 1 && r.onFirst != nil {
		r.onFirst()
	}
	return item, err
}

func TestRegistry_SnapshotNeverFollowsNewerDelta(t *testing.T) {
	l, _ := newLedger(t)
	item := createItem(t, l, "100")
	reader := &racingReader{Ledger: l}
	r := NewRegistry(reader, 4)
	sub := newFakeSubscriber("conn-1")

	reader.onFirst = func() {
		updated := commit(t, l, item, "150", "bob")
		frame, err := EncodeMessage(MessageUpdateBid, delta(item.ID, updated.Version, "150"), epoch)
		require.NoError(t, err)
		r.subscriptions(item.ID)[0].deliver(updated.Version, frame)
	}

	snap, err := r.Subscribe(context.Background(), sub, item.ID, stateMarker)
	require.NoError(t, err)
	assert.Equal(t, 2, reader.reads)
	assert.Equal(t, int64(1), snap.Version)

	envs := sub.envelopes(t)
	require.Len(t, envs, 2)
	assert.Equal(t, MessageUpdateBid, envs[0].Type)
	assert.Equal(t, MessageAuctionState, envs[1].Type)
}

// staleReader keeps serving the version the item had when it was created.
type staleReader struct {
	ledger.Ledger
	item    *models.AuctionItem
	onFirst func()
	reads   int
}

func (r *staleReader) GetItem(context.Context, uuid.UUID) (*models.AuctionItem, error) {
	r.reads++
	if r.reads == 1 && r.onFirst != nil {
		r.onFirst()
	}
	return r.item.Clone(), nil
}

func TestRegistry_SubscribeGivesUpWithoutLeakingInterest(t *testing.T) {
	l, _ := newLedger(t)
	item := createItem(t, l, "100")
	reader := &staleReader{Ledger: l, item: item}
	r := NewRegistry(reader, 4)
	sub := newFakeSubscriber("conn-1")

	reader.onFirst = func() {
		frame, err := EncodeMessage(MessageUpdateBid, delta(item.ID, 5, "500"), epoch)
		require.NoError(t, err)
		r.subscriptions(item.ID)[0].deliver(5, frame)
	}

	_, err := r.Subscribe(context.Background(), sub, item.ID, stateMarker)
	require.Error(t, err)
	assert.Equal(t, 3, reader.reads)

	assert.Equal(t, 0, r.Count())
	assert.Empty(t, r.Subscribers(item.ID))
	assert.Empty(t, r.ItemsFor(sub))
}

func TestRegistry_ConcurrentSubscribeAndClose(t *testing.T) {
	l, _ := newLedger(t)
	items := make([]*models.AuctionItem, 8)
	for i := range items {
		items[i] = createItem(t, l, "10")
	}
	r := NewRegistry(l, 4)

	var wg sync.WaitGroup
	for c := 0; c < 32; c++ {
		wg.Add(1)
		go func(c int) {
			defer wg.Done()
			sub := newFakeSubscriber(fmt.Sprintf("conn-%d", c))
			for _, item := range items {
				_, err := r.Subscribe(context.Background(), sub, item.ID, nil)
				assert.NoError(t, err)
			}
			if c%2 == 0 {
				r.ConnectionClosed(sub)
			}
		}(c)
	}
	wg.Wait()

	assert.Equal(t, 16*len(items), r.Count())
	for _, item := range items {
		assert.Len(t, r.Subscribers(item.ID), 16)
	}
	assert.Len(t, r.ItemCounts(), len(items))
}
