package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/bidhouse/go/internal/auction"
	"github.com/mcdev12/bidhouse/go/internal/bidders"
	"github.com/mcdev12/bidhouse/go/internal/config"
	"github.com/mcdev12/bidhouse/go/internal/gateway"
	"github.com/mcdev12/bidhouse/go/internal/httpapi"
	"github.com/mcdev12/bidhouse/go/internal/ledger"
	"github.com/mcdev12/bidhouse/go/internal/lifecycle"
	"github.com/mcdev12/bidhouse/go/internal/metrics"
	"github.com/mcdev12/bidhouse/go/internal/relay"
	"github.com/mcdev12/bidhouse/go/internal/timesync"
	"github.com/rs/zerolog/log"
)

type Services struct {
	Ledger     ledger.Ledger
	Oracle     *timesync.Oracle
	Directory  *bidders.Static
	Metrics    *metrics.Prometheus
	Gateway    *gateway.Service
	Arbitrator *auction.Arbitrator
	Sweeper    *lifecycle.Sweeper

	// probes feed GET /health.
	probes  map[string]httpapi.HealthProbe
	runners []func(context.Context) error
	closers []func() error
}

// setupServices wires the dependency chain:
// ledger → gateway (registry, dispatcher) → relay → arbitrator → sweeper.
func setupServices(ctx context.Context, cfg *config.Config) (*Services, error) {
	clock := clockwork.NewRealClock()
	oracle := timesync.NewOracle(clock)
	collector := metrics.NewPrometheus("bidhouse")

	s := &Services{
		Oracle:    oracle,
		Directory: bidders.NewStatic(nil),
		Metrics:   collector,
		probes:    make(map[string]httpapi.HealthProbe),
	}

	l, pool, err := setupLedger(ctx, cfg, oracle)
	if err != nil {
		return nil, err
	}
	s.Ledger = l
	s.closers = append(s.closers, l.Close)
	if pool != nil {
		s.probes["database"] = pool.Ping
	}

	if err := s.seed(ctx, cfg); err != nil {
		s.Close()
		return nil, err
	}

	gwConfig := gateway.DefaultConfig()
	gwConfig.TimeSyncInterval = cfg.TimeSyncInterval
	if cfg.DispatchWorkers > 0 {
		gwConfig.DispatcherConfig.Workers = cfg.DispatchWorkers
	}
	s.Gateway = gateway.NewService(gwConfig, l, oracle, s.Directory, collector)
	s.runners = append(s.runners, s.Gateway.Start)

	var publisher relay.Publisher
	switch cfg.RelayDriver {
	case config.RelayNATS:
		natsCfg := relay.DefaultNATSConfig()
		natsCfg.URL = cfg.NATSURL
		r, err := relay.NewNATS(natsCfg, s.Gateway.Dispatcher())
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("failed to create NATS relay: %w", err)
		}
		s.closers = append(s.closers, r.Close)
		s.probes["nats"] = func(context.Context) error {
			if !r.Conn().IsConnected() {
				return errors.New("NATS disconnected")
			}
			return nil
		}
		publisher = r

	case config.RelayPGNotify:
		pgCfg := relay.DefaultPGNotifyConfig()
		pgCfg.DatabaseURL = cfg.Database.DSN()
		r, err := relay.NewPGNotify(pool, s.Gateway.Dispatcher(), pgCfg)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("failed to create notify relay: %w", err)
		}
		s.runners = append(s.runners, r.Start)
		publisher = r

	default:
		publisher = relay.NewLocal(s.Gateway.Dispatcher())
	}

	s.Arbitrator = auction.NewArbitrator(l, oracle,
		auction.WithPublisher(relay.NewMetricPublisher(cfg.RelayDriver, publisher, collector)),
		auction.WithDirectory(s.Directory),
		auction.WithMetrics(collector),
	)
	s.Gateway.SetBidPlacer(s.Arbitrator)

	if cfg.SweeperEnabled {
		sweepCfg := lifecycle.DefaultConfig()
		sweepCfg.RescanInterval = cfg.SweeperRescan
		s.Sweeper = lifecycle.NewSweeper(l, s.Gateway.Dispatcher(), clock, sweepCfg)
		s.runners = append(s.runners, s.Sweeper.Run)
	}

	return s, nil
}

func (s *Services) seed(ctx context.Context, cfg *config.Config) error {
	if cfg.ConfigFile == "" {
		return nil
	}
	seed, err := config.LoadSeedFile(cfg.ConfigFile)
	if err != nil {
		return err
	}
	for id, name := range seed.Bidders {
		s.Directory.Set(id, name)
	}
	created, err := config.Seed(ctx, s.Ledger, seed, s.Oracle.Now())
	if err != nil {
		return err
	}
	log.Info().
		Int("bidders", len(seed.Bidders)).
		Int("items_created", created).
		Msg("loaded seed file")
	return nil
}

// Runners returns the long-running components. Each blocks until ctx is done.
func (s *Services) Runners() []func(context.Context) error {
	return s.runners
}

// Close releases resources in reverse order of acquisition.
func (s *Services) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			log.Error().Err(err).Msg("failed to close resource")
		}
	}
}
