package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"PORT", "LEDGER_DRIVER", "RELAY_DRIVER", "TIME_SYNC_INTERVAL", "SWEEPER_ENABLED",
		"SWEEPER_RESCAN_INTERVAL", "DISPATCH_WORKERS", "LOG_LEVEL", "LOG_FILE", "CONFIG_FILE",
	} {
		t.Setenv(key, "")
	}
}

func TestFromEnv_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, LedgerMemory, cfg.LedgerDriver)
	assert.Equal(t, RelayLocal, cfg.RelayDriver)
	assert.Equal(t, 30*time.Second, cfg.TimeSyncInterval)
	assert.True(t, cfg.SweeperEnabled)
	assert.Equal(t, 8, cfg.DispatchWorkers)
	assert.Empty(t, cfg.ConfigFile)
}

func TestFromEnv_Overrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "9090")
	t.Setenv("LEDGER_DRIVER", "Postgres")
	t.Setenv("RELAY_DRIVER", "pgnotify")
	t.Setenv("TIME_SYNC_INTERVAL", "5s")
	t.Setenv("SWEEPER_ENABLED", "false")
	t.Setenv("DISPATCH_WORKERS", "not-a-number")

	cfg, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, LedgerPostgres, cfg.LedgerDriver)
	assert.Equal(t, RelayPGNotify, cfg.RelayDriver)
	assert.Equal(t, 5*time.Second, cfg.TimeSyncInterval)
	assert.False(t, cfg.SweeperEnabled)
	assert.Equal(t, 8, cfg.DispatchWorkers)
}

func TestFromEnv_Invalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"unknown ledger", map[string]string{"LEDGER_DRIVER": "mongo"}},
		{"unknown relay", map[string]string{"RELAY_DRIVER": "kafka"}},
		{"pgnotify without postgres", map[string]string{"RELAY_DRIVER": "pgnotify"}},
		{"zero sync interval", map[string]string{"TIME_SYNC_INTERVAL": "0s"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := FromEnv()
			assert.Error(t, err)
		})
	}
}

func TestLoadEnv(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(path, []byte("PORT=7070\n"), 0o600))
	t.Cleanup(func() { os.Unsetenv("PORT") })
	require.NoError(t, os.Unsetenv("PORT"))

	require.NoError(t, LoadEnv(path))
	assert.Equal(t, "7070", os.Getenv("PORT"))

	assert.NoError(t, LoadEnv(filepath.Join(dir, "missing.env")))
}
