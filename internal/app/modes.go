package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	s3blob "github.com/alanyoungcy/updownbot/internal/blob/s3"
	"github.com/alanyoungcy/updownbot/internal/config"
	"github.com/alanyoungcy/updownbot/internal/domain"
	"github.com/alanyoungcy/updownbot/internal/engine"
	"github.com/alanyoungcy/updownbot/internal/hub"
	"github.com/alanyoungcy/updownbot/internal/journal"
	"github.com/alanyoungcy/updownbot/internal/platform/binance"
	"github.com/alanyoungcy/updownbot/internal/platform/kalshi"
	"github.com/alanyoungcy/updownbot/internal/platform/polymarket"
	"github.com/alanyoungcy/updownbot/internal/report"
	"github.com/alanyoungcy/updownbot/internal/resolver"
	"github.com/alanyoungcy/updownbot/internal/server"
	"github.com/alanyoungcy/updownbot/internal/server/handler"
	"github.com/alanyoungcy/updownbot/internal/server/ws"
	"github.com/alanyoungcy/updownbot/internal/signals"
)

// venueRuntime is one ingested venue: its hub, the spot stream feeding it
// and the official result tracker its positions settle through.
type venueRuntime struct {
	hub         *hub.Hub
	spot        hub.Feed
	spotSymbols []string
	tracker     *resolver.OfficialTracker
}

// buildVenue wires the REST clients, feed connections and hub of one venue.
func (a *App) buildVenue(v domain.Venue, deps *Dependencies, j *journal.Journal) (*venueRuntime, error) {
	cfg := a.cfg
	var historical *binance.Client
	if cfg.Binance.Enabled {
		historical = binance.NewClient(cfg.Binance.BaseURL, a.logger)
	}

	var (
		venue  hub.Venue
		market hub.Feed
		source resolver.OfficialSource
	)
	switch v {
	case domain.VenuePolymarket:
		coins := make(map[string]polymarket.CoinSelector, len(cfg.Coins))
		for name, c := range cfg.Coins {
			coins[name] = polymarket.CoinSelector{
				Symbol:        c.Polymarket.Symbol,
				MarketIDs:     c.Polymarket.MarketIDs,
				Slugs:         c.Polymarket.Slugs,
				URLs:          c.Polymarket.URLs,
				BinanceSymbol: c.BinanceSymbol,
			}
		}
		pv := polymarket.NewVenue(
			polymarket.NewGammaClient(cfg.Polymarket.GammaHost, a.logger),
			polymarket.NewClobClient(cfg.Polymarket.ClobHost, a.logger),
			polymarket.NewSiteClient(cfg.Polymarket.SiteHost, a.logger),
			historicalOrNil(historical),
			polymarket.VenueOptions{
				Timeframe: cfg.Polymarket.Timeframe.Duration,
				Variant:   cfg.Polymarket.Variant,
				Coins:     coins,
			},
			a.logger,
		)
		venue, source = pv, pv
		market = polymarket.NewWSClient(cfg.Polymarket.WsHost, cfg.Hub.ReconnectMin.Duration, cfg.Hub.ReconnectMax.Duration, a.logger)

	case domain.VenueKalshi:
		pem, err := os.ReadFile(cfg.Kalshi.RsaPrivateKeyPath)
		if err != nil {
			return nil, fmt.Errorf("app: read kalshi key: %w", err)
		}
		signer, err := kalshi.NewSigner(cfg.Kalshi.ApiKey, pem)
		if err != nil {
			return nil, fmt.Errorf("app: kalshi signer: %w", err)
		}
		coins := make(map[string]kalshi.CoinSelector, len(cfg.Coins))
		for name, c := range cfg.Coins {
			coins[name] = kalshi.CoinSelector{
				Series:        c.Kalshi.Series,
				Tickers:       c.Kalshi.Tickers,
				BinanceSymbol: c.BinanceSymbol,
			}
		}
		kv := kalshi.NewVenue(
			kalshi.NewClient(cfg.Kalshi.BaseURL, signer, a.logger),
			historicalOrNil(historical),
			kalshi.VenueOptions{Coins: coins},
			a.logger,
		)
		venue, source = kv, kv
		market = kalshi.NewWSClient(cfg.Kalshi.WsURL, signer, cfg.Hub.ReconnectMin.Duration, cfg.Hub.ReconnectMax.Duration, a.logger)

	default:
		return nil, fmt.Errorf("app: unknown venue %q", v)
	}

	rt := &venueRuntime{}
	var spot hub.Feed
	if cfg.Spot.Enabled {
		symbols := make(map[string]string, len(cfg.Coins))
		for name, c := range cfg.Coins {
			symbols[c.SpotSymbol] = name
			rt.spotSymbols = append(rt.spotSymbols, c.SpotSymbol)
		}
		codec := polymarket.NewSpotCodec(v, cfg.Spot.Source, symbols)
		spot = polymarket.NewSpotClient(cfg.Spot.URL, codec, cfg.Hub.ReconnectMin.Duration, cfg.Hub.ReconnectMax.Duration, a.logger)
		rt.spot = spot
	}

	if cfg.Resolver.OfficialEnabled {
		rt.tracker = resolver.NewOfficialTracker(v, source, resolver.OfficialOptions{
			RetryMin:    cfg.Resolver.OfficialRetryMin.Duration,
			RetryMax:    cfg.Resolver.OfficialRetryMax.Duration,
			MaxAttempts: cfg.Resolver.OfficialMaxAttempts,
			Timeout:     cfg.Hub.FetchTimeout.Duration,
		}, a.logger)
	}

	h := cfg.Hub
	rt.hub = hub.New(venue, market, spot, hub.Options{
		TickInterval:        h.TickInterval.Duration,
		BookStaleAfter:      h.BookStaleAfter.Duration,
		PriceStaleAfter:     h.PriceStaleAfter.Duration,
		StartupGrace:        h.StartupGrace.Duration,
		ReselectAfterStale:  h.ReselectAfterStale.Duration,
		ReselectCooldown:    h.ReselectCooldown.Duration,
		SelectRetryMin:      h.SelectRetryMin.Duration,
		SelectRetryMax:      h.SelectRetryMax.Duration,
		ReferenceRetryMin:   h.ReferenceRetryMin.Duration,
		ReferenceRetryMax:   h.ReferenceRetryMax.Duration,
		HistorySize:         h.HistorySize,
		HistorySampleEvery:  h.HistorySampleEvery.Duration,
		UnderlyingPollEvery: h.UnderlyingPollEvery.Duration,
		UnderlyingPollFor:   h.UnderlyingPollFor.Duration,
		FetchTimeout:        h.FetchTimeout.Duration,
		PublishEvery:        h.PublishEvery.Duration,
		Signals: signals.Options{
			MomentumAlpha:    cfg.Signals.MomentumAlpha,
			DepthLevels:      cfg.Signals.DepthLevels,
			SlippageNotional: cfg.Signals.SlippageNotional,
			TradeWindow:      cfg.Signals.TradeWindow.Duration,
		},
		Cache: deps.SnapshotCache,
	}, j, a.logger)
	return rt, nil
}

// historicalOrNil keeps a nil *binance.Client from becoming a non-nil
// interface value.
func historicalOrNil(c *binance.Client) polymarket.HistoricalSource {
	if c == nil {
		return nil
	}
	return c
}

// newResolver builds the outcome resolver over the venues' official trackers.
func (a *App) newResolver(venues map[domain.Venue]*venueRuntime) *resolver.Resolver {
	trackers := make(map[domain.Venue]*resolver.OfficialTracker, len(venues))
	for v, rt := range venues {
		if rt.tracker != nil {
			trackers[v] = rt.tracker
		}
	}
	r := a.cfg.Resolver
	return resolver.New(resolver.Options{
		Final: resolver.FinalPriceOptions{
			Window:          r.Window.Duration,
			MinPoints:       r.MinPoints,
			AllowStaleAfter: r.AllowStaleAfter.Duration,
		},
		OfficialWait: r.OfficialWait.Duration,
		ForceAfter:   r.ForceAfter.Duration,
		UnknownAfter: r.UnknownAfter.Duration,
	}, trackers)
}

// engineOptions maps the shared engine config; rules picks each coin's tier
// list for the engine being built.
func (a *App) engineOptions(rules func(config.CoinConfig) []domain.TradeRule, deps *Dependencies) engine.Options {
	cfg := a.cfg
	ruleSets := make(map[string]domain.RuleSet, len(cfg.Coins))
	for name, c := range cfg.Coins {
		ruleSets[name] = domain.NewRuleSet(rules(c))
	}
	e := cfg.Engine
	opts := engine.Options{
		Coins:            cfg.CoinNames(),
		Rules:            ruleSets,
		TickInterval:     e.TickInterval.Duration,
		DecisionCooldown: e.DecisionCooldown.Duration,
		LatencyMin:       e.LatencyMin.Duration,
		LatencyMax:       e.LatencyMax.Duration,
		SkipLogEvery:     e.SkipLogEvery.Duration,
		HistoryStep:      cfg.Hub.HistorySampleEvery.Duration,
		Governor: engine.GovernorOptions{
			StreakTrigger: e.LossStreakTrigger,
			GapBump:       e.LossGapBump,
			SizeFactor:    e.LossSizeFactor,
		},
		GateModel: engine.GateModel{
			Enabled:       e.GateModel.Enabled,
			Floor:         e.GateModel.Floor,
			MissingFactor: e.GateModel.MissingFactor,
		},
	}
	if e.PersistPositions && deps.PositionStore != nil {
		opts.Positions = deps.PositionStore
	}
	return opts
}

// buildEngines returns the engines of the configured mode. Monitor mode runs
// none.
func (a *App) buildEngines(venues map[domain.Venue]*venueRuntime, res *resolver.Resolver, deps *Dependencies, j *journal.Journal) []engine.Engine {
	cfg := a.cfg
	switch cfg.Mode {
	case config.ModeProfile:
		p := cfg.Profile
		src := venues[domain.Venue(p.Venue)].hub
		profile := engine.NewProfile(src, res,
			a.engineOptions(func(c config.CoinConfig) []domain.TradeRule { return c.ProfileRules }, deps),
			engine.ProfileOptions{
				CrossEnabled:          p.CrossEnabled,
				CrossWindow:           p.CrossWindow.Duration,
				CrossMinLoss:          p.CrossMinLoss,
				CrossRecoveryMultiple: p.CrossRecoveryMultiple,
				CrossWithoutFlip:      p.CrossWithoutFlip,
				MaxCrosses:            p.MaxCrosses,
			}, j, a.logger)
		return []engine.Engine{profile}

	case config.ModeArbitrage:
		vs := cfg.Venues()
		arb := engine.NewArbitrage(venues[vs[0]].hub, venues[vs[1]].hub, res,
			a.engineOptions(func(c config.CoinConfig) []domain.TradeRule { return c.ArbitrageRules }, deps),
			engine.ArbitrageOptions{MaxSlotSkew: cfg.Arbitrage.MaxSlotSkew.Duration},
			j, a.logger)
		return []engine.Engine{arb}
	}
	return nil
}

// startServer adds the status API and its push hub to g. The server is shut
// down gracefully when ctx is cancelled.
func (a *App) startServer(ctx context.Context, g *errgroup.Group, wsHub *ws.Hub, status *handler.StatusHandler, deps *Dependencies) {
	cfg := a.cfg.Server
	handlers := server.Handlers{
		Health: handler.NewHealthHandler(a.startedAt, deps.Probes),
		Status: status,
	}
	if deps.PositionStore != nil {
		handlers.Positions = handler.NewPositionHandler(deps.PositionStore, a.logger)
	}
	if deps.AuditStore != nil {
		handlers.Audit = handler.NewAuditHandler(deps.AuditStore, a.runID, a.logger)
	}

	wsHub.Produce("summary", func() any { return status.SummaryData() })
	wsHub.Produce("snapshots", func() any { return status.SnapshotData("", "") })
	wsHub.Produce("markets", func() any { return status.MarketData("") })

	srv := server.NewServer(server.Config{
		Port:        cfg.Port,
		CORSOrigins: cfg.CORSOrigins,
		RateLimit:   cfg.RateLimit,
		APIKey:      cfg.APIKey,
	}, handlers, wsHub, a.logger)

	g.Go(func() error {
		return wsHub.Run(ctx)
	})
	g.Go(func() error {
		return srv.Start()
	})
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}

// startConsole adds the periodic status table to g.
func (a *App) startConsole(ctx context.Context, g *errgroup.Group, feeds []report.SnapshotFeed, engines []engine.Engine) {
	console := report.NewConsole(os.Stdout, feeds, engines, a.cfg.Report.Interval.Duration, a.logger)
	g.Go(func() error {
		return console.Run(ctx)
	})
}

// positionHistory is implemented by engines that keep their closed
// positions.
type positionHistory interface {
	History() []domain.Position
}

// archive uploads the run's journal file, summary and closed positions.
func (a *App) archive(ctx context.Context, archiver *s3blob.RunArchiver, journalPath string, summary handler.SummaryResponse, engines []engine.Engine) {
	if journalPath != "" {
		key, err := archiver.UploadJournal(ctx, journalPath)
		if err != nil {
			a.logger.WarnContext(ctx, "journal upload failed", slog.String("error", err.Error()))
		} else {
			a.logger.InfoContext(ctx, "journal uploaded", slog.String("key", key))
		}
	}
	if _, err := archiver.UploadJSON(ctx, "summary.json", summary); err != nil {
		a.logger.WarnContext(ctx, "summary upload failed", slog.String("error", err.Error()))
	}

	var positions []domain.Position
	for _, e := range engines {
		if h, ok := e.(positionHistory); ok {
			positions = append(positions, h.History()...)
		}
	}
	if len(positions) == 0 {
		return
	}
	if _, err := s3blob.UploadJSONL(ctx, archiver, "positions.jsonl", positions); err != nil {
		a.logger.WarnContext(ctx, "positions upload failed", slog.String("error", err.Error()))
	}
}
