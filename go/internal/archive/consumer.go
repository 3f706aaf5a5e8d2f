package archive

import (
	"context"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/bidhouse/go/internal/relay"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog/log"
)

// ConsumerConfig holds configuration for the archive consumer.
type ConsumerConfig struct {
	StreamName    string
	ConsumerName  string
	SubjectFilter string
	MaxDeliver    int
	AckWait       time.Duration
	MaxAckPending int
	BatchSize     int           // flush when this many records are buffered
	FlushInterval time.Duration // or when the oldest buffered record is this old
}

func DefaultConsumerConfig() ConsumerConfig {
	nc := relay.DefaultNATSConfig()
	return ConsumerConfig{
		StreamName:    nc.StreamName,
		ConsumerName:  "bid-archiver",
		SubjectFilter: nc.SubjectPrefix + ".*",
		MaxDeliver:    10,
		AckWait:       time.Minute,
		MaxAckPending: 1000,
		BatchSize:     500,
		FlushInterval: 2 * time.Second,
	}
}

// Sink receives archived records.
type Sink interface {
	InsertBatch(ctx context.Context, records []Record) error
}

// Consumer reads deltas from a durable JetStream consumer and writes them to
// a Sink in batches. Messages are acked only after their batch is stored.
type Consumer struct {
	js       jetstream.JetStream
	consumer jetstream.Consumer
	batcher  *batcher
	config   ConsumerConfig
}

func NewConsumer(nc *nats.Conn, sink Sink, clock clockwork.Clock, config ConsumerConfig) (*Consumer, error) {
	js, err := jetstream.New(nc)
	if err != nil {
		return nil, fmt.Errorf("create JetStream context: %w", err)
	}

	c := &Consumer{
		js:      js,
		batcher: newBatcher(sink, clock, config.BatchSize),
		config:  config,
	}
	if err := c.ensureConsumer(context.Background()); err != nil {
		return nil, fmt.Errorf("ensure consumer: %w", err)
	}
	return c, nil
}

func (c *Consumer) ensureConsumer(ctx context.Context) error {
	stream, err := c.js.Stream(ctx, c.config.StreamName)
	if err != nil {
		return fmt.Errorf("get stream: %w", err)
	}

	consumerConfig := jetstream.ConsumerConfig{
		Name:          c.config.ConsumerName,
		Durable:       c.config.ConsumerName,
		Description:   "Bid history archiver",
		FilterSubject: c.config.SubjectFilter,
		DeliverPolicy: jetstream.DeliverAllPolicy,
		AckPolicy:     jetstream.AckExplicitPolicy,
		MaxDeliver:    c.config.MaxDeliver,
		AckWait:       c.config.AckWait,
		MaxAckPending: c.config.MaxAckPending,
		ReplayPolicy:  jetstream.ReplayInstantPolicy,
	}

	consumer, err := stream.Consumer(ctx, c.config.ConsumerName)
	if err != nil {
		consumer, err = stream.CreateConsumer(ctx, consumerConfig)
		if err != nil {
			return fmt.Errorf("create consumer: %w", err)
		}
		log.Info().
			Str("consumer", c.config.ConsumerName).
			Str("stream", c.config.StreamName).
			Msg("created JetStream consumer")
	} else {
		log.Info().
			Str("consumer", c.config.ConsumerName).
			Str("stream", c.config.StreamName).
			Msg("using existing JetStream consumer")
	}

	c.consumer = consumer
	return nil
}

// Start consumes until ctx is cancelled, then flushes what is buffered.
func (c *Consumer) Start(ctx context.Context) error {
	log.Info().
		Str("consumer", c.config.ConsumerName).
		Str("stream", c.config.StreamName).
		Int("batch_size", c.config.BatchSize).
		Msg("starting bid archiver")

	messageCh := make(chan jetstream.Msg, c.config.BatchSize)

	consumeCtx, err := c.consumer.Consume(func(msg jetstream.Msg) {
		select {
		case messageCh <- msg:
		case <-ctx.Done():
			_ = msg.Nak()
		}
	})
	if err != nil {
		return fmt.Errorf("start consumer: %w", err)
	}
	defer consumeCtx.Stop()

	ticker := c.batcher.clock.NewTicker(c.config.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("bid archiver shutting down")
			c.batcher.flush(context.WithoutCancel(ctx))
			return nil
		case msg := <-messageCh:
			c.add(ctx, msg)
		case <-ticker.Chan():
			c.batcher.flushIfOlder(ctx, c.config.FlushInterval)
		}
	}
}

func (c *Consumer) add(ctx context.Context, msg jetstream.Msg) {
	var seq uint64
	if meta, err := msg.Metadata(); err == nil {
		seq = meta.Sequence.Stream
	}

	rec, err := recordFromDelta(msg.Data(), seq, c.batcher.clock.Now())
	if err != nil {
		// A payload we cannot parse will not parse on redelivery either.
		log.Error().Err(err).Str("subject", msg.Subject()).Msg("dropping malformed delta")
		if termErr := msg.Term(); termErr != nil {
			log.Error().Err(termErr).Msg("failed to terminate message")
		}
		return
	}

	c.batcher.add(ctx, pending{record: rec, ack: msg.Ack, nak: msg.Nak})
}

func recordFromDelta(data []byte, seq uint64, now time.Time) (Record, error) {
	delta, err := relay.DecodeDelta(data)
	if err != nil {
		return Record{}, err
	}
	return Record{
		ItemID:         delta.ItemID,
		Version:        delta.Version,
		BidderID:       delta.HighestBidderID,
		BidderUsername: delta.HighestBidderUsername,
		Amount:         delta.CurrentBid,
		PlacedAt:       delta.Timestamp.UTC(),
		StreamSequence: seq,
		ArchivedAt:     now.UTC(),
	}, nil
}
