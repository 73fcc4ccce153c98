package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `
http_addr: ":8080"
log_level: debug
redis:
  addr: "redis:6379"
  feed: true
sqlite:
  path: data/bars.db
snapshot_interval: 1m
streams:
  - id: nifty-rsi
    symbol: NIFTY
    indicator: RSI
    params: {period: 14}
    buffer_size: 500
    poll_interval: 5s
  - id: nifty-vwap
    symbol: NIFTY
    indicator: sma
    vwap:
      multipliers: [1, 2]
      reset_interval: daily
      timezone: Asia/Kolkata
  - id: bank-bb
    symbol: BANKNIFTY
    indicator: bbands
    timeframe: 15m
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "indengine.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad_YAML(t *testing.T) {
	cfg, err := Load(writeConfig(t, sample))
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "indengine", cfg.Service)
	assert.True(t, cfg.Redis.Enabled())
	assert.True(t, cfg.Redis.Feed)
	assert.Equal(t, 24*time.Hour, cfg.Redis.SnapshotTTL)
	assert.True(t, cfg.SQLite.Enabled())
	assert.Equal(t, time.Minute, cfg.SnapshotInterval)

	require.Len(t, cfg.Streams, 3)
	rsi := cfg.Streams[0]
	assert.Equal(t, "RSI", rsi.Indicator)
	assert.Equal(t, 14, rsi.Params["period"])
	assert.Equal(t, 5*time.Second, rsi.PollInterval)
	assert.Equal(t, 500, rsi.WarmupBars, "warm-up defaults to the buffer size")

	require.NotNil(t, cfg.Streams[1].VWAP)
	assert.Equal(t, []float64{1, 2}, cfg.Streams[1].VWAP.Multipliers)
	assert.Equal(t, "Asia/Kolkata", cfg.Streams[1].VWAP.Timezone)
	assert.Zero(t, cfg.Streams[1].Timeframe)
	assert.Equal(t, 15*time.Minute, cfg.Streams[2].Timeframe)

	assert.Equal(t, []string{"NIFTY", "BANKNIFTY"}, cfg.Symbols())
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("HTTP_ADDR", ":7000")
	t.Setenv("REDIS_ADDR", "")
	t.Setenv("REDIS_FEED", "false")
	t.Setenv("SQLITE_PATH", "/tmp/x.db")
	t.Setenv("COMPUTE_RATE", "2.5")
	t.Setenv("ALLOWED_ORIGINS", "http://a, http://b")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ":7000", cfg.HTTPAddr)
	assert.False(t, cfg.Redis.Enabled())
	assert.Equal(t, "/tmp/x.db", cfg.SQLite.Path)
	assert.Equal(t, 2.5, cfg.ComputeRate)
	assert.Equal(t, 10, cfg.ComputeBurst)
	assert.Equal(t, []string{"http://a", "http://b"}, cfg.Gateway.AllowedOrigins)
	assert.Empty(t, cfg.Streams)
}

func TestLoad_BadEnv(t *testing.T) {
	t.Setenv("WORKERS", "many")
	t.Setenv("SNAPSHOT_INTERVAL", "soon")
	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "WORKERS")
	assert.Contains(t, err.Error(), "SNAPSHOT_INTERVAL")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"missing id", "streams:\n  - indicator: sma\n", "id is required"},
		{"duplicate id", "streams:\n  - {id: a, indicator: sma}\n  - {id: a, indicator: ema}\n", "duplicate id"},
		{"missing indicator", "streams:\n  - id: a\n", "indicator is required"},
		{"negative buffer", "streams:\n  - {id: a, indicator: sma, buffer_size: -1}\n", "must not be negative"},
		{"negative timeframe", "streams:\n  - {id: a, indicator: sma, timeframe: -5m}\n", "must not be negative"},
		{"relay without redis", "redis:\n  relay: true\n", "redis.relay"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv("REDIS_ADDR", "")
			_, err := Load(writeConfig(t, tc.body))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestLoad_Example(t *testing.T) {
	for _, key := range []string{"REDIS_ADDR", "SQLITE_PATH", "HTTP_ADDR", "REDIS_FEED", "REDIS_RELAY"} {
		t.Setenv(key, "")
	}
	cfg, err := Load("indengine.example.yaml")
	require.NoError(t, err)

	require.Len(t, cfg.Streams, 4)
	assert.Equal(t, []string{"NIFTY", "BANKNIFTY"}, cfg.Symbols())
	assert.Equal(t, 15*time.Minute, cfg.Streams[2].Timeframe)
	assert.Equal(t, 3000, cfg.Streams[2].WarmupBars)
	assert.True(t, cfg.Redis.Feed)
	assert.Equal(t, 4, cfg.Workers.Count)
}
