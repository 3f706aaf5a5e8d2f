package gateway

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
	"github.com/mcdev12/bidhouse/go/internal/models"
	"github.com/rs/zerolog/log"
)

const defaultShardCount = 64

// Subscriber is a live connection as seen by the registry and dispatcher.
type Subscriber interface {
	ID() string
	// Send queues a frame without blocking. It returns false when the frame
	// was dropped (buffer full or connection closing).
	Send(frame []byte) bool
}

// ItemReader supplies authoritative snapshots on subscribe.
type ItemReader interface {
	GetItem(ctx context.Context, id uuid.UUID) (*models.AuctionItem, error)
}

// subscription is one (subscriber, item) pair. Its mutex orders snapshot and
// delta frames so a subscriber never sees an older version after a newer one.
type subscription struct {
	sub    Subscriber
	itemID uuid.UUID

	mu   sync.Mutex
	last int64 // highest version queued to this subscriber, -1 before the first
}

// deliver queues frame if version is newer than anything already queued.
func (s *subscription) deliver(version int64, frame []byte) deliveryResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	if version <= s.last {
		return deliveryStale
	}
	if !s.sub.Send(frame) {
		return deliveryDropped
	}
	s.last = version
	return deliveryQueued
}

// deliverFinal queues a frame that must follow every delta already queued,
// regardless of version (auction ended notices).
func (s *subscription) deliverFinal(frame []byte) deliveryResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.sub.Send(frame) {
		return deliveryDropped
	}
	return deliveryQueued
}

type deliveryResult string

const (
	deliveryQueued  deliveryResult = "queued"
	deliveryDropped deliveryResult = "dropped"
	deliveryStale   deliveryResult = "stale"
)

type itemShard struct {
	mu    sync.RWMutex
	items map[uuid.UUID]map[string]*subscription
}

type connShard struct {
	mu    sync.Mutex
	conns map[string]map[uuid.UUID]struct{}
}

// Registry tracks which live connections are interested in which items.
// Item interest sets and the per-connection index are split across
// independently locked shards.
type Registry struct {
	reader     ItemReader
	itemShards []*itemShard
	connShards []*connShard
	total      atomic.Int64
	onChange   func(total int)
}

func NewRegistry(reader ItemReader, shards int) *Registry {
	if shards <= 0 {
		shards = defaultShardCount
	}
	r := &Registry{
		reader:     reader,
		itemShards: make([]*itemShard, shards),
		connShards: make([]*connShard, shards),
	}
	for i := 0; i < shards; i++ {
		r.itemShards[i] = &itemShard{items: make(map[uuid.UUID]map[string]*subscription)}
		r.connShards[i] = &connShard{conns: make(map[string]map[uuid.UUID]struct{})}
	}
	return r
}

// OnChange registers a hook called with the new subscription total.
func (r *Registry) OnChange(fn func(total int)) {
	r.onChange = fn
}

func (r *Registry) itemShardFor(id uuid.UUID) *itemShard {
	return r.itemShards[xxhash.Sum64(id[:])%uint64(len(r.itemShards))]
}

func (r *Registry) connShardFor(subID string) *connShard {
	return r.connShards[xxhash.Sum64String(subID)%uint64(len(r.connShards))]
}

// Subscribe records sub's interest in itemID and returns a fresh snapshot.
// It is idempotent. When initial is non-nil it is invoked with the snapshot
// while deltas to this subscriber are held back, so the snapshot frame is
// queued after any delta it already reflects and before any newer one.
func (r *Registry) Subscribe(ctx context.Context, sub Subscriber, itemID uuid.UUID, initial func(*models.AuctionItem) []byte) (*models.AuctionItem, error) {
	s, created := r.add(sub, itemID)

	// Interest is registered before the read, so any delta committed after
	// the snapshot is either reflected in it or delivered afterwards. A delta
	// that raced ahead of the read forces one more read.
	for attempt := 0; attempt < 3; attempt++ {
		item, err := r.reader.GetItem(ctx, itemID)
		if err != nil {
			if created {
				r.Unsubscribe(sub, itemID)
			}
			return nil, fmt.Errorf("failed to read snapshot: %w", err)
		}

		s.mu.Lock()
		if item.Version < s.last {
			s.mu.Unlock()
			continue
		}
		if initial != nil {
			if frame := initial(item); frame != nil {
				sub.Send(frame)
			}
		}
		s.last = item.Version
		s.mu.Unlock()
		return item, nil
	}
	if created {
		r.Unsubscribe(sub, itemID)
	}
	return nil, fmt.Errorf("failed to read a current snapshot for item %s", itemID)
}

func (r *Registry) add(sub Subscriber, itemID uuid.UUID) (*subscription, bool) {
	shard := r.itemShardFor(itemID)
	shard.mu.Lock()
	set, ok := shard.items[itemID]
	if !ok {
		set = make(map[string]*subscription)
		shard.items[itemID] = set
	}
	s, exists := set[sub.ID()]
	if !exists {
		s = &subscription{sub: sub, itemID: itemID, last: -1}
		set[sub.ID()] = s
	}
	shard.mu.Unlock()

	if exists {
		return s, false
	}

	cs := r.connShardFor(sub.ID())
	cs.mu.Lock()
	items, ok := cs.conns[sub.ID()]
	if !ok {
		items = make(map[uuid.UUID]struct{})
		cs.conns[sub.ID()] = items
	}
	items[itemID] = struct{}{}
	cs.mu.Unlock()

	r.changed(r.total.Add(1))
	log.Debug().
		Str("connection_id", sub.ID()).
		Str("item_id", itemID.String()).
		Msg("subscription added")
	return s, true
}

// Unsubscribe removes sub's interest in itemID. Removing an absent entry is a no-op.
func (r *Registry) Unsubscribe(sub Subscriber, itemID uuid.UUID) {
	if !r.removeFromItem(sub.ID(), itemID) {
		return
	}

	cs := r.connShardFor(sub.ID())
	cs.mu.Lock()
	if items, ok := cs.conns[sub.ID()]; ok {
		delete(items, itemID)
		if len(items) == 0 {
			delete(cs.conns, sub.ID())
		}
	}
	cs.mu.Unlock()

	r.changed(r.total.Add(-1))
}

// ConnectionClosed drops every subscription held by sub. Transports call it
// exactly once from their disconnect path, after the connection stops
// processing inbound messages.
func (r *Registry) ConnectionClosed(sub Subscriber) int {
	cs := r.connShardFor(sub.ID())
	cs.mu.Lock()
	items := cs.conns[sub.ID()]
	delete(cs.conns, sub.ID())
	cs.mu.Unlock()

	removed := 0
	for itemID := range items {
		if r.removeFromItem(sub.ID(), itemID) {
			removed++
		}
	}
	if removed > 0 {
		r.changed(r.total.Add(int64(-removed)))
	}
	return removed
}

func (r *Registry) removeFromItem(subID string, itemID uuid.UUID) bool {
	shard := r.itemShardFor(itemID)
	shard.mu.Lock()
	defer shard.mu.Unlock()

	set, ok := shard.items[itemID]
	if !ok {
		return false
	}
	if _, ok := set[subID]; !ok {
		return false
	}
	delete(set, subID)
	if len(set) == 0 {
		delete(shard.items, itemID)
	}
	return true
}

// subscriptions returns the current interest set for itemID. The slice is a
// copy taken under the shard read lock; delivery happens without it held.
func (r *Registry) subscriptions(itemID uuid.UUID) []*subscription {
	shard := r.itemShardFor(itemID)
	shard.mu.RLock()
	defer shard.mu.RUnlock()

	set := shard.items[itemID]
	out := make([]*subscription, 0, len(set))
	for _, s := range set {
		out = append(out, s)
	}
	return out
}

// Subscribers lists the connections currently interested in itemID.
func (r *Registry) Subscribers(itemID uuid.UUID) []Subscriber {
	subs := r.subscriptions(itemID)
	out := make([]Subscriber, 0, len(subs))
	for _, s := range subs {
		out = append(out, s.sub)
	}
	return out
}

// ItemsFor lists the items sub is subscribed to.
func (r *Registry) ItemsFor(sub Subscriber) []uuid.UUID {
	cs := r.connShardFor(sub.ID())
	cs.mu.Lock()
	defer cs.mu.Unlock()

	items := cs.conns[sub.ID()]
	out := make([]uuid.UUID, 0, len(items))
	for id := range items {
		out = append(out, id)
	}
	return out
}

// Count returns the total number of live subscriptions.
func (r *Registry) Count() int {
	return int(r.total.Load())
}

// ItemCounts returns the number of subscribers per item with at least one.
func (r *Registry) ItemCounts() map[string]int {
	out := make(map[string]int)
	for _, shard := range r.itemShards {
		shard.mu.RLock()
		for id, set := range shard.items {
			out[id.String()] = len(set)
		}
		shard.mu.RUnlock()
	}
	return out
}

func (r *Registry) changed(total int64) {
	if r.onChange != nil {
		r.onChange(int(total))
	}
}
