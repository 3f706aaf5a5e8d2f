package relay

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mcdev12/bidhouse/go/internal/models"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog/log"
)

type NATSConfig struct {
	URL             string
	StreamName      string
	SubjectPrefix   string
	MaxReconnects   int
	ReconnectWait   time.Duration
	MaxAge          time.Duration // How long the stream keeps deltas for the archiver
	Replicas        int
	DuplicateWindow time.Duration
	AckTimeout      time.Duration
}

func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:             nats.DefaultURL,
		StreamName:      "AUCTION_EVENTS",
		SubjectPrefix:   "auction.bids",
		MaxReconnects:   -1, // Infinite
		ReconnectWait:   2 * time.Second,
		MaxAge:          7 * 24 * time.Hour,
		Replicas:        1,
		DuplicateWindow: 2 * time.Hour,
		AckTimeout:      5 * time.Second,
	}
}

// NATS publishes every delta to JetStream, where it is persisted for the
// archiver, and listens on the same subjects with a plain subscription so
// every instance's dispatcher sees every delta.
type NATS struct {
	nc     *nats.Conn
	js     jetstream.JetStream
	sub    *nats.Subscription
	target Dispatcher
	config NATSConfig
}

// Connect dials NATS with the reconnect handling shared by every NATS client here.
func Connect(url string, maxReconnects int, reconnectWait time.Duration) (*nats.Conn, error) {
	opts := []nats.Option{
		nats.MaxReconnects(maxReconnects),
		nats.ReconnectWait(reconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Error().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			log.Error().Err(err).Msg("NATS error")
		}),
	}

	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	return nc, nil
}

func NewNATS(cfg NATSConfig, target Dispatcher) (*NATS, error) {
	nc, err := Connect(cfg.URL, cfg.MaxReconnects, cfg.ReconnectWait)
	if err != nil {
		return nil, err
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("create JetStream context: %w", err)
	}

	r := &NATS{nc: nc, js: js, target: target, config: cfg}

	if err := r.ensureStream(context.Background()); err != nil {
		nc.Close()
		return nil, fmt.Errorf("ensure stream: %w", err)
	}

	sub, err := nc.Subscribe(cfg.SubjectPrefix+".*", r.handleMsg)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("subscribe to %s: %w", cfg.SubjectPrefix, err)
	}
	r.sub = sub

	log.Info().
		Str("stream", cfg.StreamName).
		Str("subject", cfg.SubjectPrefix+".*").
		Msg("NATS relay ready")
	return r, nil
}

func (r *NATS) ensureStream(ctx context.Context) error {
	sc := jetstream.StreamConfig{
		Name:        r.config.StreamName,
		Description: "Accepted auction bid deltas",
		Subjects:    []string{r.config.SubjectPrefix + ".>"},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      r.config.MaxAge,
		MaxMsgs:     -1,
		Storage:     jetstream.FileStorage,
		Replicas:    r.config.Replicas,
		Duplicates:  r.config.DuplicateWindow,
	}

	stream, err := r.js.Stream(ctx, r.config.StreamName)
	if err != nil {
		if _, err = r.js.CreateStream(ctx, sc); err != nil {
			return fmt.Errorf("create stream: %w", err)
		}
		log.Info().Str("stream", r.config.StreamName).Msg("created JetStream stream")
		return nil
	}

	info, err := stream.Info(ctx)
	if err != nil {
		return fmt.Errorf("get stream info: %w", err)
	}
	if !isStreamConfigEqual(info.Config, sc) {
		if _, err = r.js.UpdateStream(ctx, sc); err != nil {
			return fmt.Errorf("update stream: %w", err)
		}
		log.Info().Str("stream", r.config.StreamName).Msg("updated JetStream stream")
	}
	return nil
}

// Subject returns the subject a delta for itemID is published on.
func (r *NATS) Subject(itemID string) string {
	return r.config.SubjectPrefix + "." + itemID
}

// Publish dispatches locally right away, then hands the delta to JetStream
// asynchronously. The copy that comes back over the subscription is dropped
// by the version guard.
func (r *NATS) Publish(_ context.Context, delta models.BidDelta) error {
	r.target.Dispatch(delta)

	data, err := encodeDelta(delta)
	if err != nil {
		return err
	}

	msgID := messageID(delta)
	future, err := r.js.PublishMsgAsync(&nats.Msg{
		Subject: r.Subject(delta.ItemID.String()),
		Data:    data,
		Header: nats.Header{
			"Item-ID": []string{delta.ItemID.String()},
			"Version": []string{fmt.Sprint(delta.Version)},
		},
	},
		jetstream.WithMsgID(msgID),
		jetstream.WithExpectStream(r.config.StreamName),
	)
	if err != nil {
		return fmt.Errorf("publish to JetStream: %w", err)
	}

	go r.awaitAck(future, msgID)
	return nil
}

func (r *NATS) awaitAck(future jetstream.PubAckFuture, msgID string) {
	timer := time.NewTimer(r.config.AckTimeout)
	defer timer.Stop()

	select {
	case ack := <-future.Ok():
		log.Debug().
			Str("msg_id", msgID).
			Uint64("sequence", ack.Sequence).
			Bool("duplicate", ack.Duplicate).
			Msg("published to JetStream")
	case err := <-future.Err():
		log.Error().Err(err).Str("msg_id", msgID).Msg("JetStream publish failed")
	case <-timer.C:
		log.Warn().Str("msg_id", msgID).Msg("timed out waiting for JetStream ack")
	}
}

func (r *NATS) handleMsg(msg *nats.Msg) {
	delta, err := DecodeDelta(msg.Data)
	if err != nil {
		log.Error().Err(err).Str("subject", msg.Subject).Msg("failed to decode relayed delta")
		return
	}
	if !strings.HasSuffix(msg.Subject, delta.ItemID.String()) {
		log.Warn().Str("subject", msg.Subject).Msg("relayed delta does not match its subject")
		return
	}
	r.target.Dispatch(delta)
}

// Conn exposes the connection for health checks.
func (r *NATS) Conn() *nats.Conn {
	return r.nc
}

func (r *NATS) Close() error {
	if r.sub != nil {
		if err := r.sub.Unsubscribe(); err != nil {
			log.Warn().Err(err).Msg("failed to unsubscribe NATS relay")
		}
	}
	if r.nc != nil {
		r.nc.Close()
	}
	return nil
}

func isStreamConfigEqual(a, b jetstream.StreamConfig) bool {
	return a.Name == b.Name &&
		a.MaxAge == b.MaxAge &&
		a.Replicas == b.Replicas &&
		a.Duplicates == b.Duplicates &&
		len(a.Subjects) == len(b.Subjects) &&
		(len(a.Subjects) == 0 || a.Subjects[0] == b.Subjects[0])
}
