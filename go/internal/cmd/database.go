package main

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mcdev12/bidhouse/go/internal/config"
	"github.com/mcdev12/bidhouse/go/internal/ledger"
	"github.com/mcdev12/bidhouse/go/internal/ledger/memory"
	"github.com/mcdev12/bidhouse/go/internal/ledger/postgres"
	"github.com/mcdev12/bidhouse/go/internal/ledger/postgres/migrations"
	redisledger "github.com/mcdev12/bidhouse/go/internal/ledger/redis"
	"github.com/mcdev12/bidhouse/go/internal/ledger/sqlite"
	"github.com/rs/zerolog/log"
)

// setupLedger opens the configured backend. The pool is non-nil only for
// the postgres driver, where the notify relay shares it.
func setupLedger(ctx context.Context, cfg *config.Config, clock ledger.Clock) (ledger.Ledger, *pgxpool.Pool, error) {
	switch cfg.LedgerDriver {
	case config.LedgerPostgres:
		pool, err := postgres.NewPool(ctx, cfg.Database.DSN(), postgres.DefaultPoolConfig())
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create database connection: %w", err)
		}
		if err := migrations.Apply(ctx, pool); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("failed to migrate database: %w", err)
		}
		log.Info().Str("dsn", cfg.Database.Redacted()).Msg("connected to database")
		return postgres.New(pool, clock), pool, nil

	case config.LedgerRedis:
		rcfg := redisledger.DefaultConfig()
		rcfg.Addr = cfg.RedisAddr
		rcfg.Password = cfg.RedisPass
		rcfg.DB = cfg.RedisDB
		l, err := redisledger.New(ctx, rcfg, clock)
		if err != nil {
			return nil, nil, err
		}
		log.Info().Str("addr", cfg.RedisAddr).Msg("connected to redis")
		return l, nil, nil

	case config.LedgerSQLite:
		l, err := sqlite.Open(cfg.SQLitePath, clock)
		if err != nil {
			return nil, nil, err
		}
		log.Info().Str("path", cfg.SQLitePath).Msg("opened sqlite ledger")
		return l, nil, nil

	default:
		log.Warn().Msg("using in-memory ledger, state is lost on restart")
		return memory.New(clock), nil, nil
	}
}
