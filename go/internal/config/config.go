// Package config loads server settings from the environment (optionally
// primed from a .env file) and an optional YAML seed file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/mcdev12/bidhouse/go/internal/dbconfig"
)

// Ledger drivers.
const (
	LedgerMemory   = "memory"
	LedgerPostgres = "postgres"
	LedgerRedis    = "redis"
	LedgerSQLite   = "sqlite"
)

// Relay drivers.
const (
	RelayLocal    = "local"
	RelayNATS     = "nats"
	RelayPGNotify = "pgnotify"
)

type Config struct {
	Port string

	LedgerDriver string
	Database     dbconfig.Config
	RedisAddr    string
	RedisPass    string
	RedisDB      int
	SQLitePath   string

	RelayDriver string
	NATSURL     string

	TimeSyncInterval time.Duration
	SweeperEnabled   bool
	SweeperRescan    time.Duration
	DispatchWorkers  int

	LogLevel  string
	LogFile   string
	LogPretty bool

	// ConfigFile points at the YAML seed file; empty disables seeding.
	ConfigFile string
}

// LoadEnv reads .env files if present. Missing files are not an error.
func LoadEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to load %s: %w", f, err)
		}
	}
	return nil
}

// FromEnv builds a Config from environment variables with defaults.
func FromEnv() (*Config, error) {
	cfg := &Config{
		Port:             getEnv("PORT", "8080"),
		LedgerDriver:     strings.ToLower(getEnv("LEDGER_DRIVER", LedgerMemory)),
		Database:         dbconfig.NewConfigFromEnv(),
		RedisAddr:        getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPass:        getEnv("REDIS_PASSWORD", ""),
		RedisDB:          getEnvAsInt("REDIS_DB", 0),
		SQLitePath:       getEnv("SQLITE_PATH", "bidhouse.db"),
		RelayDriver:      strings.ToLower(getEnv("RELAY_DRIVER", RelayLocal)),
		NATSURL:          getEnv("NATS_URL", "nats://localhost:4222"),
		TimeSyncInterval: getEnvAsDuration("TIME_SYNC_INTERVAL", 30*time.Second),
		SweeperEnabled:   getEnvAsBool("SWEEPER_ENABLED", true),
		SweeperRescan:    getEnvAsDuration("SWEEPER_RESCAN_INTERVAL", 30*time.Second),
		DispatchWorkers:  getEnvAsInt("DISPATCH_WORKERS", 8),
		LogLevel:         getEnv("LOG_LEVEL", "info"),
		LogFile:          getEnv("LOG_FILE", ""),
		LogPretty:        getEnvAsBool("LOG_PRETTY", true),
		ConfigFile:       getEnv("CONFIG_FILE", ""),
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	switch c.LedgerDriver {
	case LedgerMemory, LedgerPostgres, LedgerRedis, LedgerSQLite:
	default:
		return fmt.Errorf("unknown LEDGER_DRIVER %q", c.LedgerDriver)
	}
	switch c.RelayDriver {
	case RelayLocal, RelayNATS:
	case RelayPGNotify:
		if c.LedgerDriver != LedgerPostgres {
			return fmt.Errorf("RELAY_DRIVER=pgnotify requires LEDGER_DRIVER=postgres")
		}
	default:
		return fmt.Errorf("unknown RELAY_DRIVER %q", c.RelayDriver)
	}
	if c.TimeSyncInterval <= 0 {
		return fmt.Errorf("TIME_SYNC_INTERVAL must be positive")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
