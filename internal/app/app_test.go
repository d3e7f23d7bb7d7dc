package app

import (
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/updownbot/internal/config"
	"github.com/alanyoungcy/updownbot/internal/domain"
	"github.com/alanyoungcy/updownbot/internal/engine"
	"github.com/alanyoungcy/updownbot/internal/server/handler"
)

func testApp(t *testing.T, mutate func(*config.Config)) *App {
	t.Helper()
	cfg := config.Defaults()
	if mutate != nil {
		mutate(&cfg)
	}
	a := New(&cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	a.runID = "0123456789abcdef"
	a.startedAt = time.Date(2025, 10, 9, 23, 30, 5, 0, time.UTC)
	return a
}

func TestJournalPath(t *testing.T) {
	dir := t.TempDir()
	a := testApp(t, func(c *config.Config) {
		c.Mode = config.ModeArbitrage
		c.Journal.Dir = dir
	})
	assert.Equal(t, filepath.Join(dir, "arbitrage-20251009T233005Z-01234567.jsonl"), a.journalPath())

	a = testApp(t, func(c *config.Config) { c.Journal.Dir = "" })
	assert.Empty(t, a.journalPath())
}

func TestNewAssignsRunID(t *testing.T) {
	cfg := config.Defaults()
	a := New(&cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	b := New(&cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	assert.Len(t, a.RunID(), 36)
	assert.NotEqual(t, a.RunID(), b.RunID())
}

func TestStopMessage(t *testing.T) {
	msg := stopMessage(handler.SummaryResponse{
		Mode:          config.ModeProfile,
		UptimeSeconds: 3725,
		Engines:       []engine.Summary{{Engine: "profile", Trades: 4, Wins: 3, Losses: 1, PnL: 12.5}},
	})
	assert.Equal(t, "mode profile, uptime 1h2m5s\nprofile: 4 trades, 3 wins, 1 losses, pnl 12.50", msg)
}

func TestBuildEngines_MonitorRunsNone(t *testing.T) {
	a := testApp(t, func(c *config.Config) { c.Mode = config.ModeMonitor })
	assert.Nil(t, a.buildEngines(nil, nil, &Dependencies{}, nil))
}

func TestEngineOptions(t *testing.T) {
	a := testApp(t, func(c *config.Config) {
		c.Coins = map[string]config.CoinConfig{
			"btc": {ProfileRules: []domain.TradeRule{{MinPrice: 0.4, MaxPrice: 0.6, MaxSpend: 50}}},
		}
	})
	opts := a.engineOptions(func(c config.CoinConfig) []domain.TradeRule { return c.ProfileRules }, &Dependencies{})
	assert.Equal(t, []string{"btc"}, opts.Coins)
	require.Contains(t, opts.Rules, "btc")
	assert.Nil(t, opts.Positions, "no store without postgres")
	assert.Equal(t, a.cfg.Engine.TickInterval.Duration, opts.TickInterval)
}

func TestCloseRunsClosersInReverse(t *testing.T) {
	a := testApp(t, nil)
	var order []int
	a.closers = []func(){func() { order = append(order, 1) }, func() { order = append(order, 2) }}
	a.Close()
	a.Close()
	assert.Equal(t, []int{2, 1}, order)
}

func TestRecorders_NoBackends(t *testing.T) {
	cfg := config.Defaults()
	deps := &Dependencies{}
	assert.Empty(t, deps.Recorders(&cfg))
}
