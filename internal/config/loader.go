package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies GMPARB_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known GMPARB_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Polymarket ──
	setStr(&cfg.Polymarket.ClobHost, "GMPARB_POLYMARKET_CLOB_HOST")
	setStr(&cfg.Polymarket.GammaHost, "GMPARB_POLYMARKET_GAMMA_HOST")
	setStr(&cfg.Polymarket.WsHost, "GMPARB_POLYMARKET_WS_HOST")
	setFloat64(&cfg.Polymarket.GammaRateLimit, "GMPARB_POLYMARKET_GAMMA_RATE_LIMIT")
	setInt(&cfg.Polymarket.GammaBurst, "GMPARB_POLYMARKET_GAMMA_BURST")

	// ── Database ──
	setStr(&cfg.Database.DSN, "GMPARB_DATABASE_DSN")
	setStr(&cfg.Database.Host, "GMPARB_DATABASE_HOST")
	setInt(&cfg.Database.Port, "GMPARB_DATABASE_PORT")
	setStr(&cfg.Database.Database, "GMPARB_DATABASE_DATABASE")
	setStr(&cfg.Database.User, "GMPARB_DATABASE_USER")
	setStr(&cfg.Database.Password, "GMPARB_DATABASE_PASSWORD")
	setStr(&cfg.Database.SSLMode, "GMPARB_DATABASE_SSLMODE")
	setInt(&cfg.Database.PoolMaxConns, "GMPARB_DATABASE_POOL_MAX_CONNS")
	setInt(&cfg.Database.PoolMinConns, "GMPARB_DATABASE_POOL_MIN_CONNS")
	setBool(&cfg.Database.RunMigrations, "GMPARB_DATABASE_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "GMPARB_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "GMPARB_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "GMPARB_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "GMPARB_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "GMPARB_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "GMPARB_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "GMPARB_REDIS_TLS_ENABLED")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "GMPARB_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "GMPARB_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "GMPARB_S3_REGION")
	setStr(&cfg.S3.Bucket, "GMPARB_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "GMPARB_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "GMPARB_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "GMPARB_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "GMPARB_S3_FORCE_PATH_STYLE")

	// ── Sync ──
	setDuration(&cfg.Sync.Interval, "GMPARB_SYNC_INTERVAL")
	setInt(&cfg.Sync.PageSize, "GMPARB_SYNC_PAGE_SIZE")
	setDuration(&cfg.Sync.Slack, "GMPARB_SYNC_SLACK")
	setDuration(&cfg.Sync.MaxBackoff, "GMPARB_SYNC_MAX_BACKOFF")

	// ── Stream ──
	setDuration(&cfg.Stream.ReconnectDelay, "GMPARB_STREAM_RECONNECT_DELAY")
	setDuration(&cfg.Stream.MaxReconnectDelay, "GMPARB_STREAM_MAX_RECONNECT_DELAY")
	setDuration(&cfg.Stream.SnapshotTimeout, "GMPARB_STREAM_SNAPSHOT_TIMEOUT")
	setDuration(&cfg.Stream.WatchPollInterval, "GMPARB_STREAM_WATCH_POLL_INTERVAL")

	// ── Arbitrage ──
	setFloat64(&cfg.Arbitrage.FeeRate, "GMPARB_ARBITRAGE_FEE_RATE")
	setFloat64(&cfg.Arbitrage.MinEdge, "GMPARB_ARBITRAGE_MIN_EDGE")
	setFloat64(&cfg.Arbitrage.ReemitDelta, "GMPARB_ARBITRAGE_REEMIT_DELTA")
	setDuration(&cfg.Arbitrage.MaxQuoteAge, "GMPARB_ARBITRAGE_MAX_QUOTE_AGE")

	// ── Paper ──
	setBool(&cfg.Paper.Enabled, "GMPARB_PAPER_ENABLED")
	setStr(&cfg.Paper.SizingMode, "GMPARB_PAPER_SIZING_MODE")
	setFloat64(&cfg.Paper.SizePerLeg, "GMPARB_PAPER_SIZE_PER_LEG")
	setFloat64(&cfg.Paper.MaxCapital, "GMPARB_PAPER_MAX_CAPITAL")
	setDuration(&cfg.Paper.MaxOrderAge, "GMPARB_PAPER_MAX_ORDER_AGE")
	setInt(&cfg.Paper.MaxOpenBaskets, "GMPARB_PAPER_MAX_OPEN_BASKETS")

	// ── Persist ──
	setDuration(&cfg.Persist.FlushInterval, "GMPARB_PERSIST_FLUSH_INTERVAL")
	setInt(&cfg.Persist.MaxBatchSize, "GMPARB_PERSIST_MAX_BATCH_SIZE")
	setInt(&cfg.Persist.MaxBufferedTicks, "GMPARB_PERSIST_MAX_BUFFERED_TICKS")
	setBool(&cfg.Persist.TicksEnabled, "GMPARB_PERSIST_TICKS_ENABLED")
	setInt(&cfg.Persist.RetentionDays, "GMPARB_PERSIST_RETENTION_DAYS")

	// ── Watchlist ──
	setStringSlice(&cfg.Watchlist.EventIDs, "GMPARB_WATCHLIST_EVENT_IDS")

	// ── Top-level ──
	setStr(&cfg.Mode, "GMPARB_MODE")
	setStr(&cfg.LogLevel, "GMPARB_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
