// Package config defines the top-level configuration for the gmparb pipeline
// and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by GMPARB_* environment variables.
type Config struct {
	Polymarket PolymarketConfig `toml:"polymarket"`
	Database   DatabaseConfig   `toml:"database"`
	Redis      RedisConfig      `toml:"redis"`
	S3         S3Config         `toml:"s3"`
	Sync       SyncConfig       `toml:"sync"`
	Stream     StreamConfig     `toml:"stream"`
	Arbitrage  ArbitrageConfig  `toml:"arbitrage"`
	Paper      PaperConfig      `toml:"paper"`
	Persist    PersistConfig    `toml:"persist"`
	Watchlist  WatchlistConfig  `toml:"watchlist"`
	Mode       string           `toml:"mode"`
	LogLevel   string           `toml:"log_level"`
}

// PolymarketConfig holds Polymarket API endpoints.
type PolymarketConfig struct {
	ClobHost  string `toml:"clob_host"`
	GammaHost string `toml:"gamma_host"`
	WsHost    string `toml:"ws_host"`
	// GammaRateLimit is the maximum Gamma requests per second.
	GammaRateLimit float64 `toml:"gamma_rate_limit"`
	GammaBurst     int     `toml:"gamma_burst"`
}

// DatabaseConfig holds PostgreSQL connection parameters.
type DatabaseConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Enabled    bool   `toml:"enabled"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters for tick archival.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// SyncConfig holds incremental metadata sync parameters.
type SyncConfig struct {
	Interval duration `toml:"interval"`
	PageSize int      `toml:"page_size"`
	// Slack widens the checkpoint window to absorb clock skew between our
	// watermark and the source's updated_at values.
	Slack      duration `toml:"slack"`
	MaxBackoff duration `toml:"max_backoff"`
}

// StreamConfig holds websocket stream adapter parameters.
type StreamConfig struct {
	ReconnectDelay    duration `toml:"reconnect_delay"`
	MaxReconnectDelay duration `toml:"max_reconnect_delay"`
	SnapshotTimeout   duration `toml:"snapshot_timeout"`
	// WatchPollInterval controls how often the watchlist is re-read for
	// subscription reconciliation.
	WatchPollInterval duration `toml:"watch_poll_interval"`
}

// ArbitrageConfig holds GMP detection parameters.
type ArbitrageConfig struct {
	// FeeRate is the proportional taker fee applied to basket cost.
	FeeRate float64 `toml:"fee_rate"`
	// MinEdge is the minimum post-fee edge required to emit a signal.
	MinEdge float64 `toml:"min_edge"`
	// ReemitDelta re-emits a live signal when its edge has moved by more than
	// this amount since the last emission. Zero disables re-emission.
	ReemitDelta float64 `toml:"reemit_delta"`
	// MaxQuoteAge bounds quote staleness for a complete event evaluation.
	MaxQuoteAge duration `toml:"max_quote_age"`
}

// PaperConfig holds paper trading simulator parameters.
type PaperConfig struct {
	Enabled bool `toml:"enabled"`
	// SizingMode selects position sizing: "fixed" buys size_per_leg on every
	// leg, "capital" additionally caps one basket's entry cost at max_capital.
	SizingMode string `toml:"sizing_mode"`
	// SizePerLeg is the quantity bought on each basket leg.
	SizePerLeg float64 `toml:"size_per_leg"`
	// MaxCapital bounds one basket's total entry cost in capital mode.
	MaxCapital float64 `toml:"max_capital"`
	// MaxOrderAge cancels unfilled orders whose quotes went stale.
	MaxOrderAge duration `toml:"max_order_age"`
	// MaxOpenBaskets caps concurrently open baskets per event.
	MaxOpenBaskets int `toml:"max_open_baskets"`
}

// PersistConfig holds write-buffer parameters for the persistence gateway.
type PersistConfig struct {
	FlushInterval duration `toml:"flush_interval"`
	MaxBatchSize  int      `toml:"max_batch_size"`
	// MaxBufferedTicks bounds the tick buffer; oldest ticks are dropped on
	// overflow so the hot path never blocks.
	MaxBufferedTicks int `toml:"max_buffered_ticks"`
	TicksEnabled     bool `toml:"ticks_enabled"`
	// RetentionDays prunes ticks older than this after archival.
	RetentionDays int `toml:"retention_days"`
}

// WatchlistConfig seeds the monitored event set.
type WatchlistConfig struct {
	// EventIDs are added to the stored watchlist at startup.
	EventIDs []string `toml:"event_ids"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Polymarket: PolymarketConfig{
			ClobHost:       "https://clob.polymarket.com",
			GammaHost:      "https://gamma-api.polymarket.com",
			WsHost:         "wss://ws-subscriptions-clob.polymarket.com",
			GammaRateLimit: 5,
			GammaBurst:     10,
		},
		Database: DatabaseConfig{
			DSN:           "",
			Host:          "localhost",
			Port:          5432,
			Database:      "gmparb",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Enabled:    false,
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
			TLSEnabled: false,
		},
		S3: S3Config{
			Enabled:        false,
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "gmparb-ticks",
			UseSSL:         false,
			ForcePathStyle: true,
		},
		Sync: SyncConfig{
			Interval:   duration{5 * time.Minute},
			PageSize:   200,
			Slack:      duration{2 * time.Second},
			MaxBackoff: duration{time.Minute},
		},
		Stream: StreamConfig{
			ReconnectDelay:    duration{2 * time.Second},
			MaxReconnectDelay: duration{60 * time.Second},
			SnapshotTimeout:   duration{15 * time.Second},
			WatchPollInterval: duration{30 * time.Second},
		},
		Arbitrage: ArbitrageConfig{
			FeeRate:     0.002,
			MinEdge:     0.005,
			ReemitDelta: 0.01,
			MaxQuoteAge: duration{10 * time.Second},
		},
		Paper: PaperConfig{
			Enabled:        true,
			SizingMode:     "fixed",
			SizePerLeg:     10,
			MaxCapital:     100,
			MaxOrderAge:    duration{30 * time.Second},
			MaxOpenBaskets: 1,
		},
		Persist: PersistConfig{
			FlushInterval:    duration{2 * time.Second},
			MaxBatchSize:     500,
			MaxBufferedTicks: 10_000,
			TicksEnabled:     true,
			RetentionDays:    30,
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"sync":    true,
	"stream":  true,
	"paper":   true,
	"archive": true,
	"full":    true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: sync, stream, paper, archive, full)", c.Mode))
	}

	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Polymarket endpoints
	if c.Polymarket.GammaHost == "" {
		errs = append(errs, "polymarket: gamma_host must not be empty")
	}
	if c.Polymarket.ClobHost == "" {
		errs = append(errs, "polymarket: clob_host must not be empty")
	}
	if c.Polymarket.WsHost == "" {
		errs = append(errs, "polymarket: ws_host must not be empty")
	}
	if c.Polymarket.GammaRateLimit <= 0 {
		errs = append(errs, "polymarket: gamma_rate_limit must be > 0")
	}

	// Database
	if strings.TrimSpace(c.Database.DSN) == "" {
		if c.Database.Host == "" {
			errs = append(errs, "database: host must not be empty (or set database.dsn)")
		}
		if c.Database.Port <= 0 || c.Database.Port > 65535 {
			errs = append(errs, fmt.Sprintf("database: port must be 1-65535, got %d", c.Database.Port))
		}
		if c.Database.Database == "" {
			errs = append(errs, "database: database must not be empty")
		}
	}
	if c.Database.PoolMaxConns < 1 {
		errs = append(errs, "database: pool_max_conns must be >= 1")
	}
	if c.Database.PoolMinConns < 0 {
		errs = append(errs, "database: pool_min_conns must be >= 0")
	}
	if c.Database.PoolMinConns > c.Database.PoolMaxConns {
		errs = append(errs, "database: pool_min_conns must not exceed pool_max_conns")
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty when enabled")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	// S3
	if c.S3.Enabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty when enabled")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when enabled")
		}
	}

	// Sync
	if c.Sync.Interval.Duration <= 0 {
		errs = append(errs, "sync: interval must be > 0")
	}
	if c.Sync.PageSize < 1 {
		errs = append(errs, "sync: page_size must be >= 1")
	}
	if c.Sync.Slack.Duration < 0 {
		errs = append(errs, "sync: slack must be >= 0")
	}

	// Stream
	if c.Stream.ReconnectDelay.Duration <= 0 {
		errs = append(errs, "stream: reconnect_delay must be > 0")
	}
	if c.Stream.MaxReconnectDelay.Duration < c.Stream.ReconnectDelay.Duration {
		errs = append(errs, "stream: max_reconnect_delay must be >= reconnect_delay")
	}

	// Arbitrage
	if c.Arbitrage.FeeRate < 0 || c.Arbitrage.FeeRate >= 1 {
		errs = append(errs, fmt.Sprintf("arbitrage: fee_rate must be in [0, 1), got %g", c.Arbitrage.FeeRate))
	}
	if c.Arbitrage.MinEdge < 0 {
		errs = append(errs, "arbitrage: min_edge must be >= 0")
	}
	if c.Arbitrage.ReemitDelta < 0 {
		errs = append(errs, "arbitrage: reemit_delta must be >= 0")
	}
	if c.Arbitrage.MaxQuoteAge.Duration <= 0 {
		errs = append(errs, "arbitrage: max_quote_age must be > 0")
	}

	// Paper
	if c.Paper.Enabled {
		switch strings.ToLower(c.Paper.SizingMode) {
		case "fixed":
		case "capital":
			if c.Paper.MaxCapital <= 0 {
				errs = append(errs, "paper: max_capital must be > 0 in capital sizing mode")
			}
		default:
			errs = append(errs, fmt.Sprintf("paper: unknown sizing_mode %q (valid: fixed, capital)", c.Paper.SizingMode))
		}
		if c.Paper.SizePerLeg <= 0 {
			errs = append(errs, "paper: size_per_leg must be > 0 when enabled")
		}
		if c.Paper.MaxOpenBaskets < 1 {
			errs = append(errs, "paper: max_open_baskets must be >= 1 when enabled")
		}
	}

	// Persist
	if c.Persist.FlushInterval.Duration <= 0 {
		errs = append(errs, "persist: flush_interval must be > 0")
	}
	if c.Persist.MaxBatchSize < 1 {
		errs = append(errs, "persist: max_batch_size must be >= 1")
	}
	if c.Persist.MaxBufferedTicks < c.Persist.MaxBatchSize {
		errs = append(errs, "persist: max_buffered_ticks must be >= max_batch_size")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
