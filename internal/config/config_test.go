package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsValidate(t *testing.T) {
	cfg := Defaults()
	require.NoError(t, cfg.Validate())
}

func TestValidateRejectsBadValues(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "bogus"
	cfg.Arbitrage.FeeRate = 1.5
	cfg.Arbitrage.ReemitDelta = -0.01
	cfg.Paper.SizingMode = "martingale"
	cfg.Persist.MaxBufferedTicks = 1

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
	assert.Contains(t, err.Error(), "fee_rate")
	assert.Contains(t, err.Error(), "reemit_delta")
	assert.Contains(t, err.Error(), "sizing_mode")
	assert.Contains(t, err.Error(), "max_buffered_ticks")
}

func TestLoadMergesFileOverDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	data := `
mode = "paper"
log_level = "debug"

[arbitrage]
fee_rate = 0.001
min_edge = 0.01
max_quote_age = "5s"

[sync]
interval = "1m"
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "paper", cfg.Mode)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 0.001, cfg.Arbitrage.FeeRate)
	assert.Equal(t, 5*time.Second, cfg.Arbitrage.MaxQuoteAge.Duration)
	assert.Equal(t, time.Minute, cfg.Sync.Interval.Duration)
	// Untouched sections keep defaults.
	assert.Equal(t, "https://gamma-api.polymarket.com", cfg.Polymarket.GammaHost)
	assert.Equal(t, 500, cfg.Persist.MaxBatchSize)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("GMPARB_MODE", "stream")
	t.Setenv("GMPARB_ARBITRAGE_FEE_RATE", "0.003")
	t.Setenv("GMPARB_SYNC_INTERVAL", "90s")
	t.Setenv("GMPARB_WATCHLIST_EVENT_IDS", "ev1, ev2 ,ev3")

	cfg := Defaults()
	applyEnvOverrides(&cfg)

	assert.Equal(t, "stream", cfg.Mode)
	assert.Equal(t, 0.003, cfg.Arbitrage.FeeRate)
	assert.Equal(t, 90*time.Second, cfg.Sync.Interval.Duration)
	assert.Equal(t, []string{"ev1", "ev2", "ev3"}, cfg.Watchlist.EventIDs)
}
