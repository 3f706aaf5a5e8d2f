package archive

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

type pending struct {
	record Record
	ack    func() error
	nak    func() error
}

// batcher buffers records and settles each message once its batch is
// stored (ack) or rejected (nak, so JetStream redelivers it).
type batcher struct {
	sink    Sink
	clock   clockwork.Clock
	size    int
	buf     []pending
	firstAt time.Time
}

func newBatcher(sink Sink, clock clockwork.Clock, size int) *batcher {
	if size <= 0 {
		size = 1
	}
	return &batcher{sink: sink, clock: clock, size: size}
}

func (b *batcher) add(ctx context.Context, p pending) {
	if len(b.buf) == 0 {
		b.firstAt = b.clock.Now()
	}
	b.buf = append(b.buf, p)
	if len(b.buf) >= b.size {
		b.flush(ctx)
	}
}

func (b *batcher) flushIfOlder(ctx context.Context, age time.Duration) {
	if len(b.buf) > 0 && b.clock.Since(b.firstAt) >= age {
		b.flush(ctx)
	}
}

func (b *batcher) flush(ctx context.Context) {
	if len(b.buf) == 0 {
		return
	}
	batch := b.buf
	b.buf = nil

	records := make([]Record, len(batch))
	for i, p := range batch {
		records[i] = p.record
	}

	if err := b.sink.InsertBatch(ctx, records); err != nil {
		log.Error().Err(err).Int("records", len(records)).Msg("failed to archive batch")
		for _, p := range batch {
			if nakErr := p.nak(); nakErr != nil {
				log.Error().Err(nakErr).Msg("failed to NAK message")
			}
		}
		return
	}

	for _, p := range batch {
		if ackErr := p.ack(); ackErr != nil {
			log.Error().Err(ackErr).Msg("failed to ACK message")
		}
	}
	log.Debug().Int("records", len(records)).Msg("archived batch")
}

func (b *batcher) pendingCount() int { return len(b.buf) }
