package timesync

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// DefaultSyncInterval is how often the server pushes its clock to every connection.
const DefaultSyncInterval = 30 * time.Second

// Sink receives periodic snapshots and fans them out to connected clients.
// It returns the number of connections the snapshot was queued for.
type Sink interface {
	BroadcastTimeSync(snapshot Snapshot) int
}

// Pusher sends a snapshot to every connection on a fixed cadence. It runs on
// its own ticker so a stalled push never touches bid processing.
type Pusher struct {
	oracle   *Oracle
	sink     Sink
	interval time.Duration
	onPush   func(recipients int)
}

func NewPusher(oracle *Oracle, sink Sink, interval time.Duration) *Pusher {
	if interval <= 0 {
		interval = DefaultSyncInterval
	}
	return &Pusher{
		oracle:   oracle,
		sink:     sink,
		interval: interval,
	}
}

// OnPush registers a hook called after every periodic push (used for metrics).
func (p *Pusher) OnPush(fn func(recipients int)) {
	p.onPush = fn
}

// Run blocks until ctx is cancelled.
func (p *Pusher) Run(ctx context.Context) {
	ticker := p.oracle.Clock().NewTicker(p.interval)
	defer ticker.Stop()

	log.Info().Dur("interval", p.interval).Msg("time sync pusher started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("time sync pusher shutting down")
			return
		case <-ticker.Chan():
			n := p.sink.BroadcastTimeSync(p.oracle.Snapshot())
			if p.onPush != nil {
				p.onPush(n)
			}
			log.Debug().Int("recipients", n).Msg("pushed time sync")
		}
	}
}
