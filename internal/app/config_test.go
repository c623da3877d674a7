package app

import (
	"bytes"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("PG_DSN", "postgres://u:p@db:5432/stock")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.Equal(t, ":8080", cfg.AppAddr)
	require.Equal(t, 3, cfg.DBTxMaxRetries)
	require.Equal(t, 120, cfg.RateLimitPerMinute)
	require.Equal(t, 5*time.Minute, cfg.RBACCacheTTL)
	require.Equal(t, 30*time.Second, cfg.PoolCacheTTL)
	require.Equal(t, "0 3 * * *", cfg.ReconcileCron)
	require.Equal(t, 72*time.Hour, cfg.IdempotencyRetention)
	require.InDelta(t, 10, cfg.LowStockThreshold, 1e-9)
	require.False(t, cfg.IsProduction())
}

func TestLoadConfigRejectsBadValues(t *testing.T) {
	cases := map[string]map[string]string{
		"negative retries": {"DB_TX_MAX_RETRIES": "-1"},
		"zero rate limit":  {"RATE_LIMIT_PER_MINUTE": "0"},
		"unknown format":   {"LOG_FORMAT": "xml"},
		"unparsable ttl":   {"POOL_CACHE_TTL": "soon"},
		"zero low stock":   {"LOW_STOCK_THRESHOLD": "0"},
	}
	for name, env := range cases {
		t.Run(name, func(t *testing.T) {
			for k, v := range env {
				t.Setenv(k, v)
			}
			_, err := LoadConfig()
			require.Error(t, err)
		})
	}
}

func TestLoggerFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&Config{LogFormat: "json", AppEnv: "production"}, &buf)
	logger.Info("ready", slog.Int("port", 8080))
	require.Contains(t, buf.String(), `"service":"odyssey-stock"`)
	require.Contains(t, buf.String(), `"port":8080`)

	buf.Reset()
	logger.Debug("hidden")
	require.Empty(t, buf.String())
}

func TestInTestMode(t *testing.T) {
	t.Setenv(testModeEnv, "true")
	require.True(t, InTestMode())
	t.Setenv(testModeEnv, "0")
	require.False(t, InTestMode())
}
