package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/updownbot/internal/domain"
)

const sampleTOML = `
mode = "profile"
log_level = "debug"

[engine]
tick_interval = "500ms"
latency_min = "100ms"
latency_max = "300ms"

[profile]
venue = "polymarket"
max_crosses = 2

[coins.btc]
spot_symbol = "btcusdt"
binance_symbol = "BTCUSDT"

[[coins.btc.profile_rules]]
tier_seconds = 300
min_gap = 0.001
min_price = 0.05
max_price = 0.95
min_spend = 5
max_spend = 50

[coins.btc.profile_rules.gates]
max_spread = 0.04
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func validConfig() Config {
	cfg := Defaults()
	cfg.Coins = map[string]CoinConfig{
		"btc": {
			SpotSymbol: "btcusdt",
			ProfileRules: []domain.TradeRule{{
				TierSeconds: 300, MinGap: 0.001, MinPrice: 0.05, MaxPrice: 0.95, MinSpend: 5, MaxSpend: 50,
			}},
		},
	}
	return cfg
}

func TestLoad_MergesFileOverDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleTOML))
	require.NoError(t, err)

	assert.Equal(t, ModeProfile, cfg.Mode)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 500*time.Millisecond, cfg.Engine.TickInterval.Duration)
	assert.Equal(t, 200*time.Millisecond, cfg.Engine.DecisionCooldown.Duration, "default kept")
	assert.Equal(t, 2, cfg.Profile.MaxCrosses)

	btc := cfg.Coins["btc"]
	assert.Equal(t, "btc", btc.Polymarket.Symbol, "symbol defaults to the coin key")
	require.Len(t, btc.ProfileRules, 1)
	require.NotNil(t, btc.ProfileRules[0].Gates.MaxSpread)
	assert.Equal(t, 0.04, *btc.ProfileRules[0].Gates.MaxSpread)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("UPDOWN_MODE", "MONITOR")
	t.Setenv("UPDOWN_ENGINE_TICK_INTERVAL", "1s")
	t.Setenv("UPDOWN_REDIS_STREAM_MAX_LEN", "42")
	t.Setenv("UPDOWN_SERVER_CORS_ORIGINS", "http://a, http://b,")
	t.Setenv("UPDOWN_ENGINE_LOSS_GAP_BUMP", "not-a-number")

	cfg, err := Load(writeConfig(t, sampleTOML))
	require.NoError(t, err)

	assert.Equal(t, ModeMonitor, cfg.Mode)
	assert.Equal(t, time.Second, cfg.Engine.TickInterval.Duration)
	assert.Equal(t, int64(42), cfg.Redis.StreamMaxLen)
	assert.Equal(t, []string{"http://a", "http://b"}, cfg.Server.CORSOrigins)
	assert.Equal(t, 0.02, cfg.Engine.LossGapBump, "unparsable values are ignored")
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	require.Error(t, err)

	_, err = Load(writeConfig(t, "[engine]\ntick_interval = \"soon\"\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config: decode")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{
			name:   "bad mode",
			mutate: func(c *Config) { c.Mode = "paper" },
			want:   "mode: must be one of",
		},
		{
			name:   "no coins",
			mutate: func(c *Config) { c.Coins = nil },
			want:   "at least one coin",
		},
		{
			name: "kalshi without credentials",
			mutate: func(c *Config) {
				c.Profile.Venue = string(domain.VenueKalshi)
				btc := c.Coins["btc"]
				btc.Kalshi.Series = "KXBTC15M"
				c.Coins["btc"] = btc
			},
			want: "kalshi: api_key and rsa_private_key_path are required",
		},
		{
			name: "monitor ingests kalshi",
			mutate: func(c *Config) {
				c.Mode = ModeMonitor
				c.Kalshi.ApiKey = "k"
				c.Kalshi.RsaPrivateKeyPath = "p"
			},
			want: "coins.btc: kalshi.series or kalshi.tickers is required",
		},
		{
			name: "arbitrage needs its own rules",
			mutate: func(c *Config) {
				c.Mode = ModeArbitrage
				c.Kalshi.ApiKey = "k"
				c.Kalshi.RsaPrivateKeyPath = "p"
				btc := c.Coins["btc"]
				btc.Kalshi.Series = "KXBTC15M"
				c.Coins["btc"] = btc
			},
			want: "coins.btc.arbitrage_rules: at least one rule is required",
		},
		{
			name: "duplicate tier",
			mutate: func(c *Config) {
				btc := c.Coins["btc"]
				btc.ProfileRules = append(btc.ProfileRules, btc.ProfileRules[0])
				c.Coins["btc"] = btc
			},
			want: "duplicate tier_seconds 300",
		},
		{
			name: "inverted band",
			mutate: func(c *Config) {
				btc := c.Coins["btc"]
				btc.ProfileRules = []domain.TradeRule{{TierSeconds: 60, MinPrice: 0.8, MaxPrice: 0.2, MaxSpend: 10}}
				c.Coins["btc"] = btc
			},
			want: "price band",
		},
		{
			name:   "missing spot symbol",
			mutate: func(c *Config) { btc := c.Coins["btc"]; btc.SpotSymbol = ""; c.Coins["btc"] = btc },
			want:   "spot_symbol is required",
		},
		{
			name:   "latency bounds",
			mutate: func(c *Config) { c.Engine.LatencyMax = duration{time.Millisecond} },
			want:   "latency_max must be >= latency_min",
		},
		{
			name:   "s3 without journal dir",
			mutate: func(c *Config) { c.S3.Enabled = true; c.Journal.Dir = "" },
			want:   "journal.dir must be set",
		},
		{
			name:   "half telegram",
			mutate: func(c *Config) { c.Notify.TelegramToken = "t" },
			want:   "telegram_token and telegram_chat_id",
		},
		{
			name:   "unknown before force",
			mutate: func(c *Config) { c.Resolver.UnknownAfter = duration{time.Minute} },
			want:   "unknown_after must not be below force_after",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestValidate_DefaultsWithCoinPass(t *testing.T) {
	cfg := validConfig()
	assert.NoError(t, cfg.Validate())
}

func TestVenues(t *testing.T) {
	cfg := validConfig()
	assert.Equal(t, []domain.Venue{domain.VenuePolymarket}, cfg.Venues())

	cfg.Mode = ModeArbitrage
	cfg.Arbitrage.Primary = string(domain.VenueKalshi)
	assert.Equal(t, []domain.Venue{domain.VenueKalshi, domain.VenuePolymarket}, cfg.Venues())
	assert.True(t, cfg.UsesVenue(domain.VenuePolymarket))

	cfg.Mode = ModeMonitor
	assert.Len(t, cfg.Venues(), 2)
}

func TestRedactedConfig(t *testing.T) {
	cfg := validConfig()
	cfg.Kalshi.ApiKey = "key-id"
	cfg.Postgres.DSN = "postgres://u:p@h/db"
	cfg.S3.SecretKey = "secret"
	cfg.Notify.TelegramToken = "tok"

	out := RedactedConfig(&cfg)
	assert.Equal(t, "***", out.Kalshi.ApiKey)
	assert.Equal(t, "***", out.Postgres.DSN)
	assert.Equal(t, "***", out.S3.SecretKey)
	assert.Equal(t, "***", out.Notify.TelegramToken)
	assert.Empty(t, out.Redis.Password, "empty secrets stay empty")

	assert.Equal(t, "key-id", cfg.Kalshi.ApiKey, "original untouched")
	out.Coins["eth"] = CoinConfig{}
	assert.NotContains(t, cfg.Coins, "eth")
	out.Notify.Kinds[0] = "changed"
	assert.Equal(t, domain.KindFill, cfg.Notify.Kinds[0])
}
