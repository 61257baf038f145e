package app

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("LEDGER_STORE", "memory")
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.True(t, cfg.UsesMemoryStore())
	require.Equal(t, 3, cfg.CloseRetryAttempts)
	require.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
	require.True(t, cfg.KafkaEnabled())
	require.False(t, cfg.IsProduction())
}

func TestConfigValidate(t *testing.T) {
	base := func() Config {
		return Config{Store: "Postgres", PGDSN: "postgres://x", CloseRetryAttempts: 1, WorkerConcurrency: 1, LogLevel: "info"}
	}

	cfg := base()
	require.NoError(t, cfg.Validate())
	require.Equal(t, StorePostgres, cfg.Store)

	cfg = base()
	cfg.PGDSN = ""
	require.ErrorContains(t, cfg.Validate(), "PG_DSN")

	cfg = base()
	cfg.Store = "sqlite"
	require.ErrorContains(t, cfg.Validate(), "LEDGER_STORE")

	cfg = base()
	cfg.CloseRetryAttempts = 0
	require.ErrorContains(t, cfg.Validate(), "CLOSE_RETRY_ATTEMPTS")

	cfg = base()
	cfg.LogLevel = "verbose"
	require.ErrorContains(t, cfg.Validate(), "LOG_LEVEL")
}

func TestNewLoggerHonoursFormatAndLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&Config{LogFormat: "json", LogLevel: "warn"}, &buf)
	logger.Info("hidden")
	logger.Warn("shown", slog.String("posting_id", "p-1"))

	out := buf.String()
	require.NotContains(t, out, "hidden")
	require.True(t, strings.HasPrefix(out, "{"))
	require.Contains(t, out, `"posting_id":"p-1"`)
}

func TestTestModeFlag(t *testing.T) {
	for value, want := range map[string]bool{"1": true, "true": true, "0": false, "": false, "yes": false} {
		t.Setenv(testModeEnv, value)
		require.Equal(t, want, InTestMode(), value)
	}
}
