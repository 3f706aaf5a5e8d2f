// Package lifecycle closes auctions when their end time passes. Each live
// item gets a one-shot timer at its end time; a periodic rescan picks up
// items created after startup or by other instances.
package lifecycle

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/bidhouse/go/internal/ledger"
	"github.com/mcdev12/bidhouse/go/internal/models"
	"github.com/rs/zerolog/log"
)

// Store is what the sweeper needs from the ledger.
type Store interface {
	GetItem(ctx context.Context, id uuid.UUID) (*models.AuctionItem, error)
	CloseItem(ctx context.Context, id uuid.UUID) (*models.AuctionItem, error)
	ListLiveItems(ctx context.Context) ([]*models.AuctionItem, error)
}

// EndNotifier tells an item's room that it has closed.
type EndNotifier interface {
	BroadcastItemEnded(item *models.AuctionItem, at time.Time)
}

type Config struct {
	RescanInterval time.Duration
	Workers        int
}

func DefaultConfig() Config {
	return Config{
		RescanInterval: 30 * time.Second,
		Workers:        4,
	}
}

type scheduled struct {
	timer    clockwork.Timer
	deadline time.Time
	stop     chan struct{}
}

// Sweeper flips LIVE items to ENDED at their end time.
type Sweeper struct {
	store    Store
	notifier EndNotifier
	clock    clockwork.Clock
	cfg      Config

	workCh chan uuid.UUID

	activeTimers   map[uuid.UUID]scheduled
	activeTimersMu sync.Mutex
}

func NewSweeper(store Store, notifier EndNotifier, clock clockwork.Clock, cfg Config) *Sweeper {
	if cfg.RescanInterval <= 0 {
		cfg.RescanInterval = DefaultConfig().RescanInterval
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	return &Sweeper{
		store:        store,
		notifier:     notifier,
		clock:        clock,
		cfg:          cfg,
		workCh:       make(chan uuid.UUID, cfg.Workers*16),
		activeTimers: make(map[uuid.UUID]scheduled),
	}
}

// Run schedules every live item, then rescans on an interval until ctx is
// cancelled.
func (s *Sweeper) Run(ctx context.Context) error {
	log.Info().
		Dur("rescan_interval", s.cfg.RescanInterval).
		Int("workers", s.cfg.Workers).
		Msg("auction sweeper started")

	var wg sync.WaitGroup
	for i := 0; i < s.cfg.Workers; i++ {
		wg.Add(1)
		go s.worker(ctx, &wg)
	}

	ticker := s.clock.NewTicker(s.cfg.RescanInterval)
	defer func() {
		ticker.Stop()
		s.cancelAll()
		wg.Wait()
		log.Info().Msg("auction sweeper stopped")
	}()

	s.rescan(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.Chan():
			s.rescan(ctx)
		}
	}
}

func (s *Sweeper) rescan(ctx context.Context) {
	items, err := s.store.ListLiveItems(ctx)
	if err != nil {
		log.Error().Err(err).Msg("failed to list live items")
		return
	}
	for _, item := range items {
		s.Schedule(ctx, item)
	}
	log.Debug().Int("live_items", len(items)).Msg("sweeper rescan complete")
}

// Schedule arms a timer for item's end time. Scheduling the same deadline
// twice is a no-op; a different deadline replaces the old timer.
func (s *Sweeper) Schedule(ctx context.Context, item *models.AuctionItem) {
	if item.Status != models.ItemStatusLive {
		return
	}

	s.activeTimersMu.Lock()
	if existing, ok := s.activeTimers[item.ID]; ok && existing.deadline.Equal(item.AuctionEndTime) {
		s.activeTimersMu.Unlock()
		return
	}

	duration := item.AuctionEndTime.Sub(s.clock.Now())
	if duration <= 0 {
		s.activeTimersMu.Unlock()
		s.enqueue(ctx, item.ID)
		return
	}

	timer := s.clock.NewTimer(duration)
	if existing, ok := s.activeTimers[item.ID]; ok {
		stopAndDrainTimer(existing.timer)
		close(existing.stop)
	}
	stop := make(chan struct{})
	s.activeTimers[item.ID] = scheduled{timer: timer, deadline: item.AuctionEndTime, stop: stop}
	s.activeTimersMu.Unlock()

	go func(id uuid.UUID, t clockwork.Timer) {
		select {
		case <-t.Chan():
			s.removeTimer(id, t)
			s.enqueue(ctx, id)
		case <-stop:
		case <-ctx.Done():
			stopAndDrainTimer(t)
		}
	}(item.ID, timer)

	log.Debug().
		Str("item_id", item.ID.String()).
		Time("deadline", item.AuctionEndTime).
		Dur("duration", duration).
		Msg("scheduled auction close")
}

func (s *Sweeper) enqueue(ctx context.Context, id uuid.UUID) {
	select {
	case s.workCh <- id:
	case <-ctx.Done():
	}
}

func (s *Sweeper) worker(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case id := <-s.workCh:
			s.closeItem(ctx, id)
		}
	}
}

// closeItem ends one item. Another instance may already have closed it, in
// which case the close is still announced to this instance's subscribers.
func (s *Sweeper) closeItem(ctx context.Context, id uuid.UUID) {
	item, err := s.store.CloseItem(ctx, id)
	if errors.Is(err, ledger.ErrNoMatch) {
		current, getErr := s.store.GetItem(ctx, id)
		if getErr != nil {
			log.Error().Err(getErr).Str("item_id", id.String()).Msg("failed to re-read unclosable item")
			return
		}
		if current.Status == models.ItemStatusLive {
			// End time moved; schedule against the new one.
			s.Schedule(ctx, current)
			return
		}
		s.notify(current)
		return
	}
	if err != nil {
		log.Error().Err(err).Str("item_id", id.String()).Msg("failed to close item")
		return
	}

	evt := log.Info().Str("item_id", id.String()).Int64("version", item.Version)
	if item.WinnerID != nil {
		evt = evt.Str("winner_id", *item.WinnerID).Str("final_price", item.FinalPrice.String())
	}
	evt.Msg("auction closed")

	s.notify(item)
}

func (s *Sweeper) notify(item *models.AuctionItem) {
	if s.notifier != nil {
		s.notifier.BroadcastItemEnded(item, s.clock.Now().UTC())
	}
}

// Pending reports how many close timers are armed.
func (s *Sweeper) Pending() int {
	s.activeTimersMu.Lock()
	defer s.activeTimersMu.Unlock()
	return len(s.activeTimers)
}

func (s *Sweeper) removeTimer(id uuid.UUID, t clockwork.Timer) {
	s.activeTimersMu.Lock()
	defer s.activeTimersMu.Unlock()
	if cur, ok := s.activeTimers[id]; ok && cur.timer == t {
		delete(s.activeTimers, id)
	}
}

func (s *Sweeper) cancelAll() {
	s.activeTimersMu.Lock()
	defer s.activeTimersMu.Unlock()
	for id, sched := range s.activeTimers {
		stopAndDrainTimer(sched.timer)
		close(sched.stop)
		delete(s.activeTimers, id)
	}
}

// stopAndDrainTimer stops a timer and drains its channel if it already fired.
func stopAndDrainTimer(timer clockwork.Timer) {
	if !timer.Stop() {
		select {
		case <-timer.Chan():
		default:
		}
	}
}
