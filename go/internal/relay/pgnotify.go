package relay

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lib/pq"
	"github.com/mcdev12/bidhouse/go/internal/models"
	"github.com/rs/zerolog/log"
)

type PGNotifyConfig struct {
	DatabaseURL          string // Postgres DSN for LISTEN
	Channel              string
	MinReconnectInterval time.Duration
	MaxReconnectInterval time.Duration
	PingInterval         time.Duration
}

func DefaultPGNotifyConfig() PGNotifyConfig {
	return PGNotifyConfig{
		Channel:              "auction_bids",
		MinReconnectInterval: 10 * time.Second,
		MaxReconnectInterval: time.Minute,
		PingInterval:         90 * time.Second,
	}
}

// PGNotify relays deltas over Postgres LISTEN/NOTIFY. It suits deployments
// that already run the Postgres ledger and have no broker.
type PGNotify struct {
	pool     *pgxpool.Pool
	listener *pq.Listener
	target   Dispatcher
	cfg      PGNotifyConfig
}

func NewPGNotify(pool *pgxpool.Pool, target Dispatcher, cfg PGNotifyConfig) (*PGNotify, error) {
	if cfg.Channel == "" {
		cfg.Channel = DefaultPGNotifyConfig().Channel
	}
	l := pq.NewListener(
		cfg.DatabaseURL,
		cfg.MinReconnectInterval,
		cfg.MaxReconnectInterval,
		func(ev pq.ListenerEventType, err error) {
			if err != nil {
				log.Error().Err(err).Msg("listener event")
			}
		},
	)
	if err := l.Listen(cfg.Channel); err != nil {
		l.Close()
		return nil, fmt.Errorf("failed to listen to channel: %w", err)
	}

	log.Info().
		Str("channel", cfg.Channel).
		Msg("listening for notifications")

	return &PGNotify{
		pool:     pool,
		listener: l,
		target:   target,
		cfg:      cfg,
	}, nil
}

// Publish dispatches locally and notifies the other instances. Local
// subscribers get the delta again from our own LISTEN; the version guard
// drops it.
func (p *PGNotify) Publish(ctx context.Context, delta models.BidDelta) error {
	p.target.Dispatch(delta)

	data, err := encodeDelta(delta)
	if err != nil {
		return err
	}
	if _, err := p.pool.Exec(ctx, `SELECT pg_notify($1, $2)`, p.cfg.Channel, string(data)); err != nil {
		return fmt.Errorf("failed to notify %s: %w", p.cfg.Channel, err)
	}
	return nil
}

// Start dispatches notifications until ctx is cancelled.
func (p *PGNotify) Start(ctx context.Context) error {
	log.Info().
		Str("channel", p.cfg.Channel).
		Dur("ping_interval", p.cfg.PingInterval).
		Msg("notify relay started")

	pingTicker := time.NewTicker(p.cfg.PingInterval)
	defer pingTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("notify relay shutting down")
			return p.Close()
		case note := <-p.listener.Notify:
			if note == nil {
				// The listener reconnected; notifications sent meanwhile are
				// lost, and clients resync on their next join.
				log.Warn().Str("channel", p.cfg.Channel).Msg("notify listener reconnected")
				continue
			}
			p.handleNotification(note.Extra)
		case <-pingTicker.C:
			if err := p.listener.Ping(); err != nil {
				log.Error().Err(err).Msg("failed to ping listener")
			}
		}
	}
}

func (p *PGNotify) handleNotification(payload string) {
	delta, err := DecodeDelta([]byte(payload))
	if err != nil {
		log.Error().Err(err).Msg("failed to decode notification")
		return
	}
	p.target.Dispatch(delta)
}

func (p *PGNotify) Close() error {
	return p.listener.Close()
}
