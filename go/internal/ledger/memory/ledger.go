// Package memory is a process-local ledger. Each item carries its own mutex,
// held only for the duration of a single ledger call, so a conditional update
// is indivisible without serializing unrelated items.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/mcdev12/bidhouse/go/internal/ledger"
	"github.com/mcdev12/bidhouse/go/internal/models"
)

type entry struct {
	mu   sync.Mutex
	item models.AuctionItem
	bids []*models.Bid // oldest first
}

type Ledger struct {
	clock ledger.Clock

	mu    sync.RWMutex
	items map[uuid.UUID]*entry
}

var _ ledger.Ledger = (*Ledger)(nil)

func New(clock ledger.Clock) *Ledger {
	return &Ledger{
		clock: clock,
		items: make(map[uuid.UUID]*entry),
	}
}

func (l *Ledger) lookup(id uuid.UUID) (*entry, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	e, ok := l.items[id]
	return e, ok
}

func (l *Ledger) GetItem(_ context.Context, id uuid.UUID) (*models.AuctionItem, error) {
	e, ok := l.lookup(id)
	if !ok {
		return nil, ledger.ErrItemNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.item.Clone(), nil
}

func (l *Ledger) CreateItem(_ context.Context, n ledger.NewItem) (*models.AuctionItem, error) {
	if err := n.Validate(); err != nil {
		return nil, err
	}
	id := n.ID
	if id == uuid.Nil {
		id = uuid.New()
	}
	now := l.clock.Now()

	e := &entry{item: models.AuctionItem{
		ID:             id,
		Title:          n.Title,
		Description:    n.Description,
		StartingPrice:  n.StartingPrice,
		CurrentBid:     n.StartingPrice,
		AuctionEndTime: n.AuctionEndTime.UTC(),
		Status:         models.ItemStatusLive,
		CreatedAt:      now,
		UpdatedAt:      now,
	}}

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, exists := l.items[id]; exists {
		return nil, ledger.ErrInvalidItem
	}
	l.items[id] = e
	return e.item.Clone(), nil
}

func (l *Ledger) ConditionalUpdate(_ context.Context, upd ledger.ConditionalUpdate) (*models.AuctionItem, error) {
	e, ok := l.lookup(upd.ItemID)
	if !ok {
		return nil, ledger.ErrNoMatch
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	now := l.clock.Now()
	it := &e.item
	switch {
	case it.Version != upd.ExpectedVersion:
		return nil, ledger.ErrNoMatch
	case !it.CurrentBid.LessThan(upd.RequireCurrentBidBelow):
		return nil, ledger.ErrNoMatch
	case upd.RequireLive && it.Status != models.ItemStatusLive:
		return nil, ledger.ErrNoMatch
	case upd.RequireBeforeEnd && !now.Before(it.AuctionEndTime):
		return nil, ledger.ErrNoMatch
	}

	bidder := upd.NewHighestBidderID
	it.CurrentBid = upd.NewCurrentBid
	it.HighestBidderID = &bidder
	it.Version++
	it.UpdatedAt = now

	return it.Clone(), nil
}

func (l *Ledger) AppendBid(_ context.Context, bid *models.Bid) error {
	e, ok := l.lookup(bid.ItemID)
	if !ok {
		return ledger.ErrItemNotFound
	}
	b := *bid
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	for _, existing := range e.bids {
		if existing.Version == b.Version {
			return nil
		}
	}
	e.bids = append(e.bids, &b)
	return nil
}

func (l *Ledger) ListBids(_ context.Context, itemID uuid.UUID, limit, offset int) ([]*models.Bid, error) {
	e, ok := l.lookup(itemID)
	if !ok {
		return nil, ledger.ErrItemNotFound
	}
	limit, offset = ledger.ClampPage(limit, offset)

	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]*models.Bid, 0, limit)
	for i := len(e.bids) - 1 - offset; i >= 0 && len(out) < limit; i-- {
		b := *e.bids[i]
		out = append(out, &b)
	}
	return out, nil
}

func (l *Ledger) CountBids(_ context.Context, itemID uuid.UUID) (int, error) {
	e, ok := l.lookup(itemID)
	if !ok {
		return 0, ledger.ErrItemNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.bids), nil
}

func (l *Ledger) bidsBy(bidderID string) []*models.Bid {
	l.mu.RLock()
	entries := make([]*entry, 0, len(l.items))
	for _, e := range l.items {
		entries = append(entries, e)
	}
	l.mu.RUnlock()

	var out []*models.Bid
	for _, e := range entries {
		e.mu.Lock()
		for _, b := range e.bids {
			if b.BidderID == bidderID {
				c := *b
				out = append(out, &c)
			}
		}
		e.mu.Unlock()
	}
	return out
}

func (l *Ledger) ListBidsByBidder(_ context.Context, bidderID string, limit, offset int) ([]*models.Bid, error) {
	limit, offset = ledger.ClampPage(limit, offset)

	bids := l.bidsBy(bidderID)
	sort.Slice(bids, func(i, j int) bool {
		if !bids[i].CreatedAt.Equal(bids[j].CreatedAt) {
			return bids[i].CreatedAt.After(bids[j].CreatedAt)
		}
		return bids[i].Version > bids[j].Version
	})
	if offset >= len(bids) {
		return []*models.Bid{}, nil
	}
	bids = bids[offset:]
	if len(bids) > limit {
		bids = bids[:limit]
	}
	return bids, nil
}

func (l *Ledger) CountBidsByBidder(_ context.Context, bidderID string) (int, error) {
	return len(l.bidsBy(bidderID)), nil
}

func (l *Ledger) CloseItem(_ context.Context, id uuid.UUID) (*models.AuctionItem, error) {
	e, ok := l.lookup(id)
	if !ok {
		return nil, ledger.ErrNoMatch
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	now := l.clock.Now()
	it := &e.item
	if it.Status != models.ItemStatusLive || now.Before(it.AuctionEndTime) {
		return nil, ledger.ErrNoMatch
	}

	it.Status = models.ItemStatusEnded
	if it.HighestBidderID != nil {
		winner := *it.HighestBidderID
		price := it.CurrentBid
		it.WinnerID = &winner
		it.FinalPrice = &price
	}
	it.UpdatedAt = now
	return it.Clone(), nil
}

func (l *Ledger) ListLiveItems(_ context.Context) ([]*models.AuctionItem, error) {
	l.mu.RLock()
	entries := make([]*entry, 0, len(l.items))
	for _, e := range l.items {
		entries = append(entries, e)
	}
	l.mu.RUnlock()

	var out []*models.AuctionItem
	for _, e := range entries {
		e.mu.Lock()
		if e.item.Status == models.ItemStatusLive {
			out = append(out, e.item.Clone())
		}
		e.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].AuctionEndTime.Before(out[j].AuctionEndTime)
	})
	return out, nil
}

func (l *Ledger) Close() error { return nil }
