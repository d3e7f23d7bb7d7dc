package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies UPDOWN_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, fmt.Errorf("config: decode %s: %w", path, err)
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)
	normalize(&cfg)

	return &cfg, nil
}

// normalize lower-cases identifiers that are matched case-sensitively later.
func normalize(cfg *Config) {
	cfg.Mode = strings.ToLower(strings.TrimSpace(cfg.Mode))
	cfg.Profile.Venue = strings.ToLower(cfg.Profile.Venue)
	cfg.Arbitrage.Primary = strings.ToLower(cfg.Arbitrage.Primary)
	for name, coin := range cfg.Coins {
		if coin.Polymarket.Symbol == "" {
			coin.Polymarket.Symbol = strings.ToLower(name)
		}
		cfg.Coins[name] = coin
	}
}

// applyEnvOverrides reads well-known UPDOWN_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Polymarket ──
	setStr(&cfg.Polymarket.GammaHost, "UPDOWN_POLYMARKET_GAMMA_HOST")
	setStr(&cfg.Polymarket.ClobHost, "UPDOWN_POLYMARKET_CLOB_HOST")
	setStr(&cfg.Polymarket.WsHost, "UPDOWN_POLYMARKET_WS_HOST")
	setStr(&cfg.Polymarket.SiteHost, "UPDOWN_POLYMARKET_SITE_HOST")
	setDuration(&cfg.Polymarket.Timeframe, "UPDOWN_POLYMARKET_TIMEFRAME")

	// ── Kalshi ──
	setStr(&cfg.Kalshi.ApiKey, "UPDOWN_KALSHI_API_KEY")
	setStr(&cfg.Kalshi.RsaPrivateKeyPath, "UPDOWN_KALSHI_RSA_PRIVATE_KEY_PATH")
	setStr(&cfg.Kalshi.BaseURL, "UPDOWN_KALSHI_BASE_URL")
	setStr(&cfg.Kalshi.WsURL, "UPDOWN_KALSHI_WS_URL")

	// ── Spot / Binance ──
	setBool(&cfg.Spot.Enabled, "UPDOWN_SPOT_ENABLED")
	setStr(&cfg.Spot.URL, "UPDOWN_SPOT_URL")
	setStr(&cfg.Spot.Source, "UPDOWN_SPOT_SOURCE")
	setBool(&cfg.Binance.Enabled, "UPDOWN_BINANCE_ENABLED")
	setStr(&cfg.Binance.BaseURL, "UPDOWN_BINANCE_BASE_URL")

	// ── Hub ──
	setDuration(&cfg.Hub.TickInterval, "UPDOWN_HUB_TICK_INTERVAL")
	setDuration(&cfg.Hub.BookStaleAfter, "UPDOWN_HUB_BOOK_STALE_AFTER")
	setDuration(&cfg.Hub.PriceStaleAfter, "UPDOWN_HUB_PRICE_STALE_AFTER")
	setDuration(&cfg.Hub.StartupGrace, "UPDOWN_HUB_STARTUP_GRACE")
	setDuration(&cfg.Hub.ReselectAfterStale, "UPDOWN_HUB_RESELECT_AFTER_STALE")
	setDuration(&cfg.Hub.ReselectCooldown, "UPDOWN_HUB_RESELECT_COOLDOWN")
	setDuration(&cfg.Hub.SelectRetryMin, "UPDOWN_HUB_SELECT_RETRY_MIN")
	setDuration(&cfg.Hub.SelectRetryMax, "UPDOWN_HUB_SELECT_RETRY_MAX")
	setDuration(&cfg.Hub.ReferenceRetryMin, "UPDOWN_HUB_REFERENCE_RETRY_MIN")
	setDuration(&cfg.Hub.ReferenceRetryMax, "UPDOWN_HUB_REFERENCE_RETRY_MAX")
	setInt(&cfg.Hub.HistorySize, "UPDOWN_HUB_HISTORY_SIZE")
	setDuration(&cfg.Hub.ReconnectMin, "UPDOWN_HUB_RECONNECT_MIN")
	setDuration(&cfg.Hub.ReconnectMax, "UPDOWN_HUB_RECONNECT_MAX")

	// ── Signals ──
	setFloat64(&cfg.Signals.MomentumAlpha, "UPDOWN_SIGNALS_MOMENTUM_ALPHA")
	setInt(&cfg.Signals.DepthLevels, "UPDOWN_SIGNALS_DEPTH_LEVELS")
	setFloat64(&cfg.Signals.SlippageNotional, "UPDOWN_SIGNALS_SLIPPAGE_NOTIONAL")

	// ── Engine ──
	setDuration(&cfg.Engine.TickInterval, "UPDOWN_ENGINE_TICK_INTERVAL")
	setDuration(&cfg.Engine.DecisionCooldown, "UPDOWN_ENGINE_DECISION_COOLDOWN")
	setDuration(&cfg.Engine.LatencyMin, "UPDOWN_ENGINE_LATENCY_MIN")
	setDuration(&cfg.Engine.LatencyMax, "UPDOWN_ENGINE_LATENCY_MAX")
	setDuration(&cfg.Engine.SkipLogEvery, "UPDOWN_ENGINE_SKIP_LOG_EVERY")
	setInt(&cfg.Engine.LossStreakTrigger, "UPDOWN_ENGINE_LOSS_STREAK_TRIGGER")
	setFloat64(&cfg.Engine.LossGapBump, "UPDOWN_ENGINE_LOSS_GAP_BUMP")
	setFloat64(&cfg.Engine.LossSizeFactor, "UPDOWN_ENGINE_LOSS_SIZE_FACTOR")
	setBool(&cfg.Engine.GateModel.Enabled, "UPDOWN_ENGINE_GATE_MODEL_ENABLED")
	setFloat64(&cfg.Engine.GateModel.Floor, "UPDOWN_ENGINE_GATE_MODEL_FLOOR")
	setBool(&cfg.Engine.PersistPositions, "UPDOWN_ENGINE_PERSIST_POSITIONS")

	// ── Profile / Arbitrage ──
	setStr(&cfg.Profile.Venue, "UPDOWN_PROFILE_VENUE")
	setBool(&cfg.Profile.CrossEnabled, "UPDOWN_PROFILE_CROSS_ENABLED")
	setDuration(&cfg.Profile.CrossWindow, "UPDOWN_PROFILE_CROSS_WINDOW")
	setFloat64(&cfg.Profile.CrossMinLoss, "UPDOWN_PROFILE_CROSS_MIN_LOSS")
	setFloat64(&cfg.Profile.CrossRecoveryMultiple, "UPDOWN_PROFILE_CROSS_RECOVERY_MULTIPLE")
	setBool(&cfg.Profile.CrossWithoutFlip, "UPDOWN_PROFILE_CROSS_WITHOUT_FLIP")
	setStr(&cfg.Arbitrage.Primary, "UPDOWN_ARBITRAGE_PRIMARY")
	setDuration(&cfg.Arbitrage.MaxSlotSkew, "UPDOWN_ARBITRAGE_MAX_SLOT_SKEW")

	// ── Resolver ──
	setDuration(&cfg.Resolver.Window, "UPDOWN_RESOLVER_WINDOW")
	setInt(&cfg.Resolver.MinPoints, "UPDOWN_RESOLVER_MIN_POINTS")
	setDuration(&cfg.Resolver.AllowStaleAfter, "UPDOWN_RESOLVER_ALLOW_STALE_AFTER")
	setBool(&cfg.Resolver.OfficialEnabled, "UPDOWN_RESOLVER_OFFICIAL_ENABLED")
	setDuration(&cfg.Resolver.OfficialWait, "UPDOWN_RESOLVER_OFFICIAL_WAIT")
	setDuration(&cfg.Resolver.OfficialRetryMin, "UPDOWN_RESOLVER_OFFICIAL_RETRY_MIN")
	setDuration(&cfg.Resolver.OfficialRetryMax, "UPDOWN_RESOLVER_OFFICIAL_RETRY_MAX")
	setInt(&cfg.Resolver.OfficialMaxAttempts, "UPDOWN_RESOLVER_OFFICIAL_MAX_ATTEMPTS")
	setDuration(&cfg.Resolver.ForceAfter, "UPDOWN_RESOLVER_FORCE_AFTER")
	setDuration(&cfg.Resolver.UnknownAfter, "UPDOWN_RESOLVER_UNKNOWN_AFTER")

	// ── Journal / Report ──
	setStr(&cfg.Journal.Dir, "UPDOWN_JOURNAL_DIR")
	setInt(&cfg.Journal.RingSize, "UPDOWN_JOURNAL_RING_SIZE")
	setBool(&cfg.Report.Enabled, "UPDOWN_REPORT_ENABLED")
	setDuration(&cfg.Report.Interval, "UPDOWN_REPORT_INTERVAL")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "UPDOWN_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "UPDOWN_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "UPDOWN_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "UPDOWN_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "UPDOWN_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "UPDOWN_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "UPDOWN_REDIS_TLS_ENABLED")
	setStr(&cfg.Redis.KeyPrefix, "UPDOWN_REDIS_KEY_PREFIX")
	setInt64(&cfg.Redis.StreamMaxLen, "UPDOWN_REDIS_STREAM_MAX_LEN")

	// ── Postgres ──
	setBool(&cfg.Postgres.Enabled, "UPDOWN_POSTGRES_ENABLED")
	setStr(&cfg.Postgres.DSN, "UPDOWN_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, "UPDOWN_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "UPDOWN_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "UPDOWN_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "UPDOWN_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "UPDOWN_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "UPDOWN_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "UPDOWN_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "UPDOWN_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "UPDOWN_POSTGRES_RUN_MIGRATIONS")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "UPDOWN_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "UPDOWN_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "UPDOWN_S3_REGION")
	setStr(&cfg.S3.Bucket, "UPDOWN_S3_BUCKET")
	setStr(&cfg.S3.Prefix, "UPDOWN_S3_PREFIX")
	setStr(&cfg.S3.AccessKey, "UPDOWN_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "UPDOWN_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "UPDOWN_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "UPDOWN_S3_FORCE_PATH_STYLE")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "UPDOWN_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "UPDOWN_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "UPDOWN_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Kinds, "UPDOWN_NOTIFY_KINDS")
	setStr(&cfg.Notify.MinLevel, "UPDOWN_NOTIFY_MIN_LEVEL")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "UPDOWN_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "UPDOWN_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "UPDOWN_SERVER_CORS_ORIGINS")
	setFloat64(&cfg.Server.RateLimit, "UPDOWN_SERVER_RATE_LIMIT")
	setStr(&cfg.Server.APIKey, "UPDOWN_SERVER_API_KEY")

	// ── Top-level ──
	setStr(&cfg.Mode, "UPDOWN_MODE")
	setStr(&cfg.LogLevel, "UPDOWN_LOG_LEVEL")
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

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
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
