package gateway

import (
	"context"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
	"github.com/mcdev12/bidhouse/go/internal/bidders"
	"github.com/mcdev12/bidhouse/go/internal/metrics"
	"github.com/mcdev12/bidhouse/go/internal/models"
	"github.com/mcdev12/bidhouse/go/internal/timesync"
	"github.com/rs/zerolog/log"
)

// ConnectionSource lists every open connection for room-less broadcasts.
type ConnectionSource interface {
	Connections() []Subscriber
}

// DispatcherConfig controls the fan-out worker pool.
type DispatcherConfig struct {
	Workers   int
	QueueSize int
}

func DefaultDispatcherConfig() DispatcherConfig {
	return DispatcherConfig{
		Workers:   8,
		QueueSize: 1000,
	}
}

type dispatchJob struct {
	itemID  uuid.UUID
	version int64
	frame   []byte
	final   bool
}

// Dispatcher pushes accepted state changes to every subscriber of an item.
// Jobs for one item always land on the same worker, so deltas leave in the
// order they were dispatched.
type Dispatcher struct {
	registry  *Registry
	conns     ConnectionSource
	directory bidders.Directory
	metrics   metrics.Collector
	queues    []chan dispatchJob
	wg        sync.WaitGroup
	startOnce sync.Once
}

func NewDispatcher(registry *Registry, conns ConnectionSource, directory bidders.Directory, collector metrics.Collector, cfg DispatcherConfig) *Dispatcher {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultDispatcherConfig().QueueSize
	}
	if collector == nil {
		collector = metrics.NoOp{}
	}
	d := &Dispatcher{
		registry:  registry,
		conns:     conns,
		directory: directory,
		metrics:   collector,
		queues:    make([]chan dispatchJob, cfg.Workers),
	}
	for i := range d.queues {
		d.queues[i] = make(chan dispatchJob, cfg.QueueSize)
	}
	return d
}

// Start runs the workers until ctx is cancelled and blocks until they exit.
func (d *Dispatcher) Start(ctx context.Context) {
	d.startOnce.Do(func() {
		log.Info().Int("workers", len(d.queues)).Msg("dispatcher started")
		for i := range d.queues {
			d.wg.Add(1)
			go d.worker(ctx, d.queues[i])
		}
	})
	<-ctx.Done()
	d.wg.Wait()
	log.Info().Msg("dispatcher stopped")
}

func (d *Dispatcher) worker(ctx context.Context, queue <-chan dispatchJob) {
	defer d.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-queue:
			d.deliver(job)
		}
	}
}

// Dispatch fans delta out to the item's room. The frame is built once and
// subscribers are read from the registry at delivery time. It never blocks.
func (d *Dispatcher) Dispatch(delta models.BidDelta) {
	if delta.HighestBidderUsername == "" && d.directory != nil && delta.HighestBidderID != "" {
		delta.HighestBidderUsername = bidders.Resolve(context.Background(), d.directory, delta.HighestBidderID)
	}
	frame, err := EncodeMessage(MessageUpdateBid, delta, delta.Timestamp)
	if err != nil {
		log.Error().Err(err).Str("item_id", delta.ItemID.String()).Msg("failed to encode bid delta")
		return
	}
	d.enqueue(dispatchJob{itemID: delta.ItemID, version: delta.Version, frame: frame})
}

// BroadcastItemEnded tells an item's room that bidding has closed.
func (d *Dispatcher) BroadcastItemEnded(item *models.AuctionItem, at time.Time) {
	payload := AuctionEndedPayload{
		ItemID:     item.ID.String(),
		WinnerID:   item.WinnerID,
		FinalPrice: item.FinalPrice,
	}
	if item.WinnerID != nil && d.directory != nil {
		payload.WinnerUsername = bidders.Resolve(context.Background(), d.directory, *item.WinnerID)
	}
	frame, err := EncodeMessage(MessageAuctionEnded, payload, at)
	if err != nil {
		log.Error().Err(err).Str("item_id", item.ID.String()).Msg("failed to encode auction ended")
		return
	}
	d.enqueue(dispatchJob{itemID: item.ID, version: item.Version, frame: frame, final: true})
}

// BroadcastTimeSync sends snap to every open connection and returns how many
// accepted it.
func (d *Dispatcher) BroadcastTimeSync(snap timesync.Snapshot) int {
	if d.conns == nil {
		return 0
	}
	frame, err := timeSyncFrame(snap)
	if err != nil {
		log.Error().Err(err).Msg("failed to encode time sync")
		return 0
	}
	sent := 0
	for _, c := range d.conns.Connections() {
		if c.Send(frame) {
			sent++
		}
	}
	return sent
}

func (d *Dispatcher) enqueue(job dispatchJob) {
	queue := d.queues[xxhash.Sum64(job.itemID[:])%uint64(len(d.queues))]
	select {
	case queue <- job:
	default:
		d.metrics.RecordDelivery("queue_full")
		log.Warn().
			Str("item_id", job.itemID.String()).
			Int64("version", job.version).
			Msg("dispatch queue full, dropping message")
	}
}

func (d *Dispatcher) deliver(job dispatchJob) {
	subs := d.registry.subscriptions(job.itemID)
	queued := 0
	for _, s := range subs {
		var res deliveryResult
		if job.final {
			res = s.deliverFinal(job.frame)
		} else {
			res = s.deliver(job.version, job.frame)
		}
		d.metrics.RecordDelivery(string(res))
		if res == deliveryQueued {
			queued++
		}
	}

	log.Debug().
		Str("item_id", job.itemID.String()).
		Int64("version", job.version).
		Int("subscribers", len(subs)).
		Int("queued", queued).
		Msg("message dispatched")
}
