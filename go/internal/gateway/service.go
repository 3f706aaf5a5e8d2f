// Package gateway is the real-time surface of the auction: WebSocket
// connections, the subscription registry and the broadcast dispatcher.
package gateway

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/mcdev12/bidhouse/go/internal/bidders"
	"github.com/mcdev12/bidhouse/go/internal/metrics"
	"github.com/mcdev12/bidhouse/go/internal/timesync"
	"github.com/rs/zerolog/log"
)

// Config holds configuration for the auction gateway
type Config struct {
	ConnectionConfig ConnectionConfig
	DispatcherConfig DispatcherConfig
	RegistryShards   int
	TimeSyncInterval time.Duration
}

// DefaultConfig returns default configuration for the auction gateway
func DefaultConfig() Config {
	return Config{
		ConnectionConfig: DefaultConnectionConfig(),
		DispatcherConfig: DefaultDispatcherConfig(),
		RegistryShards:   defaultShardCount,
		TimeSyncInterval: timesync.DefaultSyncInterval,
	}
}

// Service wires the registry, dispatcher, connections and time-sync pusher.
type Service struct {
	registry          *Registry
	dispatcher        *Dispatcher
	connectionManager *ConnectionManager
	wsHandler         *WebSocketHandler
	handler           *AuctionHandler
	pusher            *timesync.Pusher
}

// NewService builds the gateway. The bid placer is attached with
// SetBidPlacer because the arbitrator itself publishes through the gateway.
func NewService(config Config, items ItemReader, oracle *timesync.Oracle, directory bidders.Directory, collector metrics.Collector) *Service {
	if collector == nil {
		collector = metrics.NoOp{}
	}

	registry := NewRegistry(items, config.RegistryShards)
	registry.OnChange(collector.SetSubscriptions)

	handler := NewAuctionHandler(registry, nil, oracle, directory)
	connectionManager := NewConnectionManager(config.ConnectionConfig, handler, collector)
	dispatcher := NewDispatcher(registry, connectionManager, directory, collector, config.DispatcherConfig)

	pusher := timesync.NewPusher(oracle, dispatcher, config.TimeSyncInterval)
	pusher.OnPush(collector.RecordTimeSyncPush)

	return &Service{
		registry:          registry,
		dispatcher:        dispatcher,
		connectionManager: connectionManager,
		wsHandler:         NewWebSocketHandler(connectionManager, registry),
		handler:           handler,
		pusher:            pusher,
	}
}

// SetBidPlacer attaches the arbitrator. Call it before serving connections.
func (s *Service) SetBidPlacer(bids BidPlacer) {
	s.handler.bids = bids
}

// Start runs the dispatcher and time-sync pusher until ctx is cancelled,
// then closes every connection.
func (s *Service) Start(ctx context.Context) error {
	log.Info().Msg("starting auction gateway service")

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		s.dispatcher.Start(ctx)
	}()
	go func() {
		defer wg.Done()
		s.pusher.Run(ctx)
	}()

	<-ctx.Done()
	log.Info().Msg("auction gateway service shutting down")
	s.connectionManager.CloseAll()
	wg.Wait()
	log.Info().Msg("auction gateway service stopped")
	return nil
}

// RegisterRoutes registers the WebSocket HTTP routes
func (s *Service) RegisterRoutes(r *mux.Router) {
	s.wsHandler.RegisterRoutes(r)
	log.Info().Msg("auction gateway routes registered")
}

func (s *Service) Dispatcher() *Dispatcher { return s.dispatcher }

func (s *Service) Registry() *Registry { return s.registry }

func (s *Service) Stats() ConnectionStats { return s.wsHandler.Stats() }

// ConnectionCount is used by the health endpoint.
func (s *Service) ConnectionCount() int { return s.connectionManager.Count() }
