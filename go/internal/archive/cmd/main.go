package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/bidhouse/go/internal/archive"
	"github.com/mcdev12/bidhouse/go/internal/config"
	"github.com/mcdev12/bidhouse/go/internal/logging"
	"github.com/mcdev12/bidhouse/go/internal/relay"
	"github.com/rs/zerolog/log"
)

func main() {
	// load .env
	if err := config.LoadEnv(); err != nil {
		log.Warn().Err(err).Msg("could not load .env file")
	}

	logFile := logging.Setup(logging.Options{
		Level:  getEnv("LOG_LEVEL", "info"),
		File:   os.Getenv("LOG_FILE"),
		Pretty: true,
	})
	defer logFile.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	natsURL := getEnv("NATS_URL", "nats://localhost:4222")
	clickhouseDSN := getEnv("CLICKHOUSE_DSN", "clickhouse://default:@localhost:9000/default")

	conn, err := archive.NewConn(ctx, clickhouseDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("connect to ClickHouse")
	}
	store := archive.NewStore(conn)
	defer func() {
		if err := store.Close(); err != nil {
			log.Error().Err(err).Msg("close ClickHouse")
		}
	}()
	if err := store.EnsureSchema(ctx); err != nil {
		log.Fatal().Err(err).Msg("ensure bid_history schema")
	}

	nc, err := relay.Connect(natsURL, -1, 2*time.Second)
	if err != nil {
		log.Fatal().Err(err).Msg("connect to NATS")
	}
	defer nc.Close()

	cfg := archive.DefaultConsumerConfig()
	consumer, err := archive.NewConsumer(nc, store, clockwork.NewRealClock(), cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("create archive consumer")
	}

	log.Info().
		Str("nats_url", natsURL).
		Str("stream", cfg.StreamName).
		Msg("starting bid archiver")

	if err := consumer.Start(ctx); err != nil {
		log.Error().Err(err).Msg("bid archiver failed")
	}
	log.Info().Msg("bid archiver shutdown complete")
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
