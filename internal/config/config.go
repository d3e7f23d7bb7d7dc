// Package config defines the top-level configuration for the up/down bot
// and provides validation helpers.
package config

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/alanyoungcy/updownbot/internal/domain"
)

// Run modes.
const (
	ModeProfile   = "profile"
	ModeArbitrage = "arbitrage"
	ModeMonitor   = "monitor"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by UPDOWN_* environment variables.
type Config struct {
	Polymarket PolymarketConfig `toml:"polymarket"`
	Kalshi     KalshiConfig     `toml:"kalshi"`
	Spot       SpotConfig       `toml:"spot"`
	Binance    BinanceConfig    `toml:"binance"`
	Hub        HubConfig        `toml:"hub"`
	Signals    SignalsConfig    `toml:"signals"`
	Engine     EngineConfig     `toml:"engine"`
	Profile    ProfileConfig    `toml:"profile"`
	Arbitrage  ArbitrageConfig  `toml:"arbitrage"`
	Resolver   ResolverConfig   `toml:"resolver"`
	Journal    JournalConfig    `toml:"journal"`
	Report     ReportConfig     `toml:"report"`
	Redis      RedisConfig      `toml:"redis"`
	Postgres   PostgresConfig   `toml:"postgres"`
	S3         S3Config         `toml:"s3"`
	Notify     NotifyConfig     `toml:"notify"`
	Server     ServerConfig     `toml:"server"`
	// Coins is keyed by lower-case coin symbol, e.g. "btc".
	Coins    map[string]CoinConfig `toml:"coins"`
	Mode     string                `toml:"mode"`
	LogLevel string                `toml:"log_level"`
}

// PolymarketConfig holds Polymarket API endpoints and the up/down series
// timeframe.
type PolymarketConfig struct {
	GammaHost string `toml:"gamma_host"`
	ClobHost  string `toml:"clob_host"`
	WsHost    string `toml:"ws_host"`
	SiteHost  string `toml:"site_host"`
	// Timeframe is the window length of the traded series; Variant is the
	// crypto price endpoint's name for it ("fifteen", "hourly").
	Timeframe duration `toml:"timeframe"`
	Variant   string   `toml:"variant"`
}

// KalshiConfig holds Kalshi exchange API credentials and endpoints.
type KalshiConfig struct {
	ApiKey            string `toml:"api_key"`
	RsaPrivateKeyPath string `toml:"rsa_private_key_path"`
	BaseURL           string `toml:"base_url"`
	WsURL             string `toml:"ws_url"`
}

// SpotConfig selects the underlying spot price stream.
type SpotConfig struct {
	Enabled bool   `toml:"enabled"`
	URL     string `toml:"url"`
	// Source is the price topic family: "binance" or "chainlink".
	Source string `toml:"source"`
}

// BinanceConfig configures the historical kline lookup used as a reference
// price source.
type BinanceConfig struct {
	Enabled bool   `toml:"enabled"`
	BaseURL string `toml:"base_url"`
}

// HubConfig holds the market data hub tunables shared by both venues.
type HubConfig struct {
	TickInterval        duration `toml:"tick_interval"`
	BookStaleAfter      duration `toml:"book_stale_after"`
	PriceStaleAfter     duration `toml:"price_stale_after"`
	StartupGrace        duration `toml:"startup_grace"`
	ReselectAfterStale  duration `toml:"reselect_after_stale"`
	ReselectCooldown    duration `toml:"reselect_cooldown"`
	SelectRetryMin      duration `toml:"select_retry_min"`
	SelectRetryMax      duration `toml:"select_retry_max"`
	ReferenceRetryMin   duration `toml:"reference_retry_min"`
	ReferenceRetryMax   duration `toml:"reference_retry_max"`
	HistorySize         int      `toml:"history_size"`
	HistorySampleEvery  duration `toml:"history_sample_every"`
	UnderlyingPollEvery duration `toml:"underlying_poll_every"`
	UnderlyingPollFor   duration `toml:"underlying_poll_for"`
	FetchTimeout        duration `toml:"fetch_timeout"`
	ReconnectMin        duration `toml:"reconnect_min"`
	ReconnectMax        duration `toml:"reconnect_max"`
	PublishEvery        duration `toml:"publish_every"`
}

// SignalsConfig tunes the signal computation.
type SignalsConfig struct {
	MomentumAlpha    float64  `toml:"momentum_alpha"`
	DepthLevels      int      `toml:"depth_levels"`
	SlippageNotional float64  `toml:"slippage_notional"`
	TradeWindow      duration `toml:"trade_window"`
}

// GateModelConfig switches the secondary gates to a multiplicative score.
type GateModelConfig struct {
	Enabled       bool    `toml:"enabled"`
	Floor         float64 `toml:"floor"`
	MissingFactor float64 `toml:"missing_factor"`
}

// EngineConfig holds the decision engine tunables shared by both engines.
type EngineConfig struct {
	TickInterval      duration        `toml:"tick_interval"`
	DecisionCooldown  duration        `toml:"decision_cooldown"`
	LatencyMin        duration        `toml:"latency_min"`
	LatencyMax        duration        `toml:"latency_max"`
	SkipLogEvery      duration        `toml:"skip_log_every"`
	LossStreakTrigger int             `toml:"loss_streak_trigger"`
	LossGapBump       float64         `toml:"loss_gap_bump"`
	LossSizeFactor    float64         `toml:"loss_size_factor"`
	GateModel         GateModelConfig `toml:"gate_model"`
	PersistPositions  bool            `toml:"persist_positions"`
}

// ProfileConfig configures the single-venue engine.
type ProfileConfig struct {
	Venue                 string   `toml:"venue"`
	CrossEnabled          bool     `toml:"cross_enabled"`
	CrossWindow           duration `toml:"cross_window"`
	CrossMinLoss          float64  `toml:"cross_min_loss"`
	CrossRecoveryMultiple float64  `toml:"cross_recovery_multiple"`
	CrossWithoutFlip      bool     `toml:"cross_without_flip"`
	MaxCrosses            int      `toml:"max_crosses"`
}

// ArbitrageConfig configures the dual-venue engine.
type ArbitrageConfig struct {
	// Primary is the venue whose leg is "A"; it breaks ties.
	Primary     string   `toml:"primary"`
	MaxSlotSkew duration `toml:"max_slot_skew"`
}

// ResolverConfig configures outcome resolution.
type ResolverConfig struct {
	Window              duration `toml:"window"`
	MinPoints           int      `toml:"min_points"`
	AllowStaleAfter     duration `toml:"allow_stale_after"`
	OfficialEnabled     bool     `toml:"official_enabled"`
	OfficialWait        duration `toml:"official_wait"`
	OfficialRetryMin    duration `toml:"official_retry_min"`
	OfficialRetryMax    duration `toml:"official_retry_max"`
	OfficialMaxAttempts int      `toml:"official_max_attempts"`
	ForceAfter          duration `toml:"force_after"`
	UnknownAfter        duration `toml:"unknown_after"`
}

// JournalConfig configures the telemetry journal.
type JournalConfig struct {
	RingSize int `toml:"ring_size"`
	// Dir holds one JSONL file per run; blank disables file output.
	Dir       string `toml:"dir"`
	QueueSize int    `toml:"queue_size"`
}

// ReportConfig configures the console status table.
type ReportConfig struct {
	Enabled  bool     `toml:"enabled"`
	Interval duration `toml:"interval"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Enabled      bool     `toml:"enabled"`
	Addr         string   `toml:"addr"`
	Password     string   `toml:"password"`
	DB           int      `toml:"db"`
	PoolSize     int      `toml:"pool_size"`
	MaxRetries   int      `toml:"max_retries"`
	TLSEnabled   bool     `toml:"tls_enabled"`
	KeyPrefix    string   `toml:"key_prefix"`
	SnapshotTTL  duration `toml:"snapshot_ttl"`
	StreamMaxLen int64    `toml:"stream_max_len"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	Enabled       bool   `toml:"enabled"`
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
	// AuditLevels are the journal levels copied into the audit table.
	AuditLevels []string `toml:"audit_levels"`
	// AuditKinds are journal kinds copied regardless of level.
	AuditKinds []string `toml:"audit_kinds"`
}

// S3Config holds S3-compatible object storage parameters. The run journal
// is uploaded there at shutdown when enabled.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	Prefix         string `toml:"prefix"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string `toml:"telegram_token"`
	TelegramChatID    string `toml:"telegram_chat_id"`
	DiscordWebhookURL string `toml:"discord_webhook_url"`
	// Kinds are the journal record kinds forwarded; MinLevel drops quieter
	// records.
	Kinds    []string `toml:"kinds"`
	MinLevel string   `toml:"min_level"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	// PushInterval is the /ws summary push period.
	PushInterval duration `toml:"push_interval"`
	// RateLimit is requests per second per client; 0 disables limiting.
	RateLimit float64 `toml:"rate_limit"`
	// APIKey, when set, is required as a Bearer token or X-API-Key header.
	APIKey string `toml:"api_key"`
}

// CoinConfig is one tracked coin: how each venue finds its market and the
// tiered rules each engine applies to it.
type CoinConfig struct {
	Polymarket PolymarketCoin `toml:"polymarket"`
	Kalshi     KalshiCoin     `toml:"kalshi"`
	// BinanceSymbol is used for historical reference lookups, e.g. "BTCUSDT".
	BinanceSymbol string `toml:"binance_symbol"`
	// SpotSymbol is the spot stream subscription ID, e.g. "btcusdt".
	SpotSymbol     string             `toml:"spot_symbol"`
	ProfileRules   []domain.TradeRule `toml:"profile_rules"`
	ArbitrageRules []domain.TradeRule `toml:"arbitrage_rules"`
}

// PolymarketCoin selects a coin's Polymarket market. Explicit IDs win over
// slugs and URLs, which win over the derived window slug.
type PolymarketCoin struct {
	Symbol    string   `toml:"symbol"`
	MarketIDs []string `toml:"market_ids"`
	Slugs     []string `toml:"slugs"`
	URLs      []string `toml:"urls"`
}

// KalshiCoin selects a coin's Kalshi market.
type KalshiCoin struct {
	Series  string   `toml:"series"`
	Tickers []string `toml:"tickers"`
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

// CoinNames returns the configured coins in sorted order.
func (c *Config) CoinNames() []string {
	out := make([]string, 0, len(c.Coins))
	for name := range c.Coins {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Venues returns the venues the configured mode ingests.
func (c *Config) Venues() []domain.Venue {
	switch c.Mode {
	case ModeProfile:
		return []domain.Venue{domain.Venue(c.Profile.Venue)}
	case ModeArbitrage:
		primary := domain.Venue(c.Arbitrage.Primary)
		return []domain.Venue{primary, otherVenue(primary)}
	}
	return []domain.Venue{domain.VenuePolymarket, domain.VenueKalshi}
}

// UsesVenue reports whether the configured mode ingests v.
func (c *Config) UsesVenue(v domain.Venue) bool {
	for _, u := range c.Venues() {
		if u == v {
			return true
		}
	}
	return false
}

func otherVenue(v domain.Venue) domain.Venue {
	if v == domain.VenueKalshi {
		return domain.VenuePolymarket
	}
	return domain.VenueKalshi
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Polymarket: PolymarketConfig{
			GammaHost: "https://gamma-api.polymarket.com",
			ClobHost:  "https://clob.polymarket.com",
			WsHost:    "wss://ws-subscriptions-clob.polymarket.com/ws/market",
			SiteHost:  "https://polymarket.com",
			Timeframe: duration{15 * time.Minute},
			Variant:   "fifteen",
		},
		Kalshi: KalshiConfig{
			BaseURL: "https://api.elections.kalshi.com/trade-api/v2",
			WsURL:   "wss://api.elections.kalshi.com/trade-api/ws/v2",
		},
		Spot: SpotConfig{
			Enabled: true,
			URL:     "wss://ws-live-data.polymarket.com",
			Source:  "binance",
		},
		Binance: BinanceConfig{
			Enabled: true,
			BaseURL: "https://api.binance.com",
		},
		Hub: HubConfig{
			TickInterval:        duration{250 * time.Millisecond},
			BookStaleAfter:      duration{10 * time.Second},
			PriceStaleAfter:     duration{15 * time.Second},
			StartupGrace:        duration{20 * time.Second},
			ReselectAfterStale:  duration{45 * time.Second},
			ReselectCooldown:    duration{60 * time.Second},
			SelectRetryMin:      duration{2 * time.Second},
			SelectRetryMax:      duration{60 * time.Second},
			ReferenceRetryMin:   duration{2 * time.Second},
			ReferenceRetryMax:   duration{60 * time.Second},
			HistorySize:         180,
			HistorySampleEvery:  duration{time.Second},
			UnderlyingPollEvery: duration{5 * time.Second},
			UnderlyingPollFor:   duration{10 * time.Minute},
			FetchTimeout:        duration{15 * time.Second},
			ReconnectMin:        duration{2 * time.Second},
			ReconnectMax:        duration{60 * time.Second},
			PublishEvery:        duration{time.Second},
		},
		Signals: SignalsConfig{
			MomentumAlpha:    0.2,
			DepthLevels:      5,
			SlippageNotional: 50,
			TradeWindow:      duration{60 * time.Second},
		},
		Engine: EngineConfig{
			TickInterval:      duration{250 * time.Millisecond},
			DecisionCooldown:  duration{200 * time.Millisecond},
			LatencyMin:        duration{150 * time.Millisecond},
			LatencyMax:        duration{600 * time.Millisecond},
			SkipLogEvery:      duration{10 * time.Second},
			LossStreakTrigger: 3,
			LossGapBump:       0.02,
			LossSizeFactor:    0.5,
			GateModel: GateModelConfig{
				Enabled:       false,
				Floor:         0.35,
				MissingFactor: 0.5,
			},
			PersistPositions: true,
		},
		Profile: ProfileConfig{
			Venue:                 string(domain.VenuePolymarket),
			CrossEnabled:          true,
			CrossWindow:           duration{120 * time.Second},
			CrossMinLoss:          1.0,
			CrossRecoveryMultiple: 1.5,
			MaxCrosses:            1,
		},
		Arbitrage: ArbitrageConfig{
			Primary:     string(domain.VenuePolymarket),
			MaxSlotSkew: duration{2 * time.Second},
		},
		Resolver: ResolverConfig{
			Window:              duration{60 * time.Second},
			MinPoints:           3,
			AllowStaleAfter:     duration{90 * time.Second},
			OfficialEnabled:     true,
			OfficialWait:        duration{2 * time.Minute},
			OfficialRetryMin:    duration{5 * time.Second},
			OfficialRetryMax:    duration{60 * time.Second},
			OfficialMaxAttempts: 40,
			ForceAfter:          duration{10 * time.Minute},
			UnknownAfter:        duration{30 * time.Minute},
		},
		Journal: JournalConfig{
			RingSize:  500,
			Dir:       "logs",
			QueueSize: 1024,
		},
		Report: ReportConfig{
			Enabled:  false,
			Interval: duration{30 * time.Second},
		},
		Redis: RedisConfig{
			Enabled:      false,
			Addr:         "localhost:6379",
			DB:           0,
			PoolSize:     20,
			MaxRetries:   3,
			TLSEnabled:   false,
			KeyPrefix:    "updown:",
			SnapshotTTL:  duration{30 * time.Second},
			StreamMaxLen: 10000,
		},
		Postgres: PostgresConfig{
			Enabled:       false,
			Host:          "localhost",
			Port:          5432,
			Database:      "updown",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
			AuditLevels:   []string{string(domain.LevelWarn), string(domain.LevelError)},
			AuditKinds:    []string{domain.KindCommit, domain.KindFill, domain.KindCross, domain.KindResolve, domain.KindMismatch},
		},
		S3: S3Config{
			Enabled:        false,
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "updown-runs",
			Prefix:         "journal",
			UseSSL:         false,
			ForcePathStyle: true,
		},
		Notify: NotifyConfig{
			Kinds:    []string{domain.KindFill, domain.KindCross, domain.KindMismatch, domain.KindError},
			MinLevel: string(domain.LevelInfo),
		},
		Server: ServerConfig{
			Enabled:      false,
			Port:         8080,
			PushInterval: duration{time.Second},
			RateLimit:    20,
		},
		Coins:    map[string]CoinConfig{},
		Mode:     ModeProfile,
		LogLevel: "info",
	}
}

// Validate checks that the configuration is internally consistent and that
// all required fields for the selected mode are present. It returns a single
// error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	switch c.Mode {
	case ModeProfile, ModeArbitrage, ModeMonitor:
	default:
		errs = append(errs, fmt.Sprintf("mode: must be one of profile, arbitrage, monitor; got %q", c.Mode))
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, fmt.Sprintf("log_level: unknown level %q", c.LogLevel))
	}

	if !validVenue(c.Profile.Venue) {
		errs = append(errs, fmt.Sprintf("profile: venue must be polymarket or kalshi, got %q", c.Profile.Venue))
	}
	if !validVenue(c.Arbitrage.Primary) {
		errs = append(errs, fmt.Sprintf("arbitrage: primary must be polymarket or kalshi, got %q", c.Arbitrage.Primary))
	}

	// Kalshi streams require signed requests.
	if c.UsesVenue(domain.VenueKalshi) {
		if c.Kalshi.ApiKey == "" || c.Kalshi.RsaPrivateKeyPath == "" {
			errs = append(errs, "kalshi: api_key and rsa_private_key_path are required when kalshi is ingested")
		}
		if c.Kalshi.BaseURL == "" {
			errs = append(errs, "kalshi: base_url must not be empty")
		}
	}

	if len(c.Coins) == 0 {
		errs = append(errs, "coins: at least one coin must be configured")
	}
	for _, name := range c.CoinNames() {
		errs = append(errs, c.validateCoin(name, c.Coins[name])...)
	}

	errs = append(errs, positive("hub.tick_interval", c.Hub.TickInterval)...)
	errs = append(errs, positive("hub.book_stale_after", c.Hub.BookStaleAfter)...)
	errs = append(errs, positive("hub.price_stale_after", c.Hub.PriceStaleAfter)...)
	errs = append(errs, positive("engine.tick_interval", c.Engine.TickInterval)...)
	if c.Hub.HistorySize < 2 {
		errs = append(errs, "hub: history_size must be >= 2")
	}
	if c.Hub.SelectRetryMax.Duration < c.Hub.SelectRetryMin.Duration {
		errs = append(errs, "hub: select_retry_max must not be below select_retry_min")
	}
	if c.Signals.MomentumAlpha <= 0 || c.Signals.MomentumAlpha > 1 {
		errs = append(errs, "signals: momentum_alpha must be in (0, 1]")
	}
	if c.Engine.LatencyMin.Duration < 0 || c.Engine.LatencyMax.Duration < c.Engine.LatencyMin.Duration {
		errs = append(errs, "engine: latency_max must be >= latency_min >= 0")
	}
	if c.Engine.LossSizeFactor <= 0 || c.Engine.LossSizeFactor > 1 {
		errs = append(errs, "engine: loss_size_factor must be in (0, 1]")
	}
	if gm := c.Engine.GateModel; gm.Enabled && (gm.Floor < 0 || gm.Floor > 1) {
		errs = append(errs, "engine: gate_model.floor must be in [0, 1]")
	}
	if c.Profile.CrossRecoveryMultiple < 0 {
		errs = append(errs, "profile: cross_recovery_multiple must be >= 0")
	}
	if c.Resolver.MinPoints < 1 {
		errs = append(errs, "resolver: min_points must be >= 1")
	}
	if c.Resolver.UnknownAfter.Duration < c.Resolver.ForceAfter.Duration {
		errs = append(errs, "resolver: unknown_after must not be below force_after")
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	// Postgres
	if c.Postgres.Enabled {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns < 0 || c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must be within [0, pool_max_conns]")
		}
	}

	// S3
	if c.S3.Enabled {
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
		if c.Journal.Dir == "" {
			errs = append(errs, "s3: journal.dir must be set to have a file to upload")
		}
	}

	// Notify
	if (c.Notify.TelegramToken == "") != (c.Notify.TelegramChatID == "") {
		errs = append(errs, "notify: telegram_token and telegram_chat_id must be set together")
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func (c *Config) validateCoin(name string, coin CoinConfig) []string {
	var errs []string
	prefix := "coins." + name
	if name != strings.ToLower(name) {
		errs = append(errs, prefix+": coin key must be lower case")
	}
	if c.UsesVenue(domain.VenueKalshi) && coin.Kalshi.Series == "" && len(coin.Kalshi.Tickers) == 0 {
		errs = append(errs, prefix+": kalshi.series or kalshi.tickers is required")
	}
	if c.Spot.Enabled && coin.SpotSymbol == "" {
		errs = append(errs, prefix+": spot_symbol is required when spot is enabled")
	}
	switch c.Mode {
	case ModeProfile:
		errs = append(errs, validateRules(prefix+".profile_rules", coin.ProfileRules)...)
	case ModeArbitrage:
		errs = append(errs, validateRules(prefix+".arbitrage_rules", coin.ArbitrageRules)...)
	}
	return errs
}

func validateRules(prefix string, rules []domain.TradeRule) []string {
	if len(rules) == 0 {
		return []string{prefix + ": at least one rule is required"}
	}
	var errs []string
	seen := make(map[float64]bool, len(rules))
	for i, r := range rules {
		p := fmt.Sprintf("%s[%d]", prefix, i)
		if r.TierSeconds <= 0 {
			errs = append(errs, p+": tier_seconds must be > 0")
		}
		if seen[r.TierSeconds] {
			errs = append(errs, fmt.Sprintf("%s: duplicate tier_seconds %g", p, r.TierSeconds))
		}
		seen[r.TierSeconds] = true
		if r.MinGap < 0 {
			errs = append(errs, p+": min_gap must be >= 0")
		}
		if r.MinPrice < 0 || (r.MaxPrice > 0 && r.MaxPrice < r.MinPrice) || r.MaxPrice > 1 {
			errs = append(errs, p+": price band must satisfy 0 <= min_price <= max_price <= 1")
		}
		if r.MaxSpend <= 0 || r.MinSpend < 0 || r.MinSpend > r.MaxSpend {
			errs = append(errs, p+": spend bounds must satisfy 0 <= min_spend <= max_spend, max_spend > 0")
		}
	}
	return errs
}

func validVenue(v string) bool {
	return v == string(domain.VenuePolymarket) || v == string(domain.VenueKalshi)
}

func positive(key string, d duration) []string {
	if d.Duration <= 0 {
		return []string{key + " must be > 0"}
	}
	return nil
}
