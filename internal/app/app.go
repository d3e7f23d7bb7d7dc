// Package app provides the top-level application lifecycle of the up/down
// bot. It wires the optional infrastructure, builds one hub per ingested
// venue and the engines of the configured mode, runs them until the context
// is cancelled and archives the run on the way out.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	s3blob "github.com/alanyoungcy/updownbot/internal/blob/s3"
	"github.com/alanyoungcy/updownbot/internal/config"
	"github.com/alanyoungcy/updownbot/internal/domain"
	"github.com/alanyoungcy/updownbot/internal/journal"
	"github.com/alanyoungcy/updownbot/internal/report"
	"github.com/alanyoungcy/updownbot/internal/server/handler"
	"github.com/alanyoungcy/updownbot/internal/server/ws"
)

// shutdownTimeout bounds the archive and farewell notification.
const shutdownTimeout = 30 * time.Second

// App is the root application object. It owns the configuration, logger, and a
// list of cleanup functions that are called in reverse order on shutdown.
type App struct {
	cfg       *config.Config
	logger    *slog.Logger
	runID     string
	startedAt time.Time
	closers   []func()
}

// New creates a new App from the given configuration and logger.
func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "app")),
		runID:  uuid.NewString(),
	}
}

// RunID identifies this process run in journal file names and archive keys.
func (a *App) RunID() string {
	return a.runID
}

// Run is the main entry point. It wires all dependencies, starts the hubs,
// engines, server and console for the configured mode and blocks until the
// context is cancelled. The journal, summary and closed positions are then
// archived when object storage is enabled.
func (a *App) Run(ctx context.Context) error {
	a.startedAt = time.Now().UTC()
	a.logger.InfoContext(ctx, "starting application",
		slog.String("mode", a.cfg.Mode),
		slog.String("run_id", a.runID),
		slog.Any("coins", a.cfg.CoinNames()),
	)

	deps, cleanup, err := Wire(ctx, a.cfg, a.runID, a.logger)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)

	recorders := deps.Recorders(a.cfg)
	var wsHub *ws.Hub
	if a.cfg.Server.Enabled {
		wsHub = ws.NewHub(ws.Options{PushInterval: a.cfg.Server.PushInterval.Duration}, a.logger)
		recorders = append(recorders, wsHub)
	}

	j := journal.New(journal.Options{
		RingSize:  a.cfg.Journal.RingSize,
		Path:      a.journalPath(),
		QueueSize: a.cfg.Journal.QueueSize,
	}, recorders, a.logger)

	venues := make(map[domain.Venue]*venueRuntime)
	var (
		reportFeeds []report.SnapshotFeed
		statusFeeds []handler.SnapshotFeed
	)
	for _, v := range a.cfg.Venues() {
		rt, err := a.buildVenue(v, deps, j)
		if err != nil {
			_ = j.Close()
			a.closeTrackers(venues)
			return err
		}
		venues[v] = rt
		reportFeeds = append(reportFeeds, rt.hub)
		statusFeeds = append(statusFeeds, rt.hub)
	}

	res := a.newResolver(venues)
	engines := a.buildEngines(venues, res, deps, j)
	status := handler.NewStatusHandler(a.cfg.Mode, a.startedAt, statusFeeds, engines, j)

	if err := deps.Notifier.NotifyAll(ctx, "updownbot started",
		fmt.Sprintf("mode %s, coins %v, run %s", a.cfg.Mode, a.cfg.CoinNames(), a.runID)); err != nil {
		a.logger.WarnContext(ctx, "start notification failed", slog.String("error", err.Error()))
	}

	coins := a.cfg.CoinNames()
	for v, rt := range venues {
		if err := rt.hub.Start(ctx, coins); err != nil {
			return fmt.Errorf("app: start %s hub: %w", v, err)
		}
		if rt.spot != nil {
			if err := rt.spot.Subscribe(ctx, rt.spotSymbols); err != nil {
				a.logger.WarnContext(ctx, "spot subscribe failed",
					slog.String("venue", string(v)),
					slog.String("error", err.Error()),
				)
			}
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	// Monitor mode without server or console has nothing else holding the
	// group open.
	g.Go(func() error {
		<-gctx.Done()
		return nil
	})
	if deps.Lease != nil {
		g.Go(func() error {
			return deps.Lease.Keep(gctx)
		})
	}
	for _, e := range engines {
		g.Go(func() error {
			return e.Run(gctx)
		})
	}
	if a.cfg.Report.Enabled {
		a.startConsole(gctx, g, reportFeeds, engines)
	}
	if wsHub != nil {
		a.startServer(gctx, g, wsHub, status, deps)
	}
	runErr := g.Wait()

	// Stop producers before draining the journal so the last records land.
	for _, rt := range venues {
		rt.hub.Stop()
	}
	for _, e := range engines {
		_ = e.Close()
	}
	a.closeTrackers(venues)
	summary := status.SummaryData()
	for _, s := range summary.Engines {
		a.logger.Info("run summary",
			slog.String("engine", s.Engine),
			slog.Int("trades", s.Trades),
			slog.Int("wins", s.Wins),
			slog.Int("losses", s.Losses),
			slog.Int("unknown", s.Unknown),
			slog.Float64("pnl", s.PnL),
		)
	}
	if n := j.Dropped(); n > 0 {
		a.logger.Warn("journal recorders missed records", slog.Int64("dropped", n))
	}
	if err := j.Close(); err != nil {
		a.logger.Warn("journal close failed", slog.String("error", err.Error()))
	}

	shutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if deps.BlobWriter != nil {
		archiver := s3blob.NewRunArchiver(deps.BlobWriter, deps.BlobPrefix, a.runID, a.startedAt)
		a.archive(shutCtx, archiver, j.Path(), summary, engines)
	}
	if err := deps.Notifier.NotifyAll(shutCtx, "updownbot stopped", stopMessage(summary)); err != nil {
		a.logger.Warn("stop notification failed", slog.String("error", err.Error()))
	}

	if runErr != nil {
		return fmt.Errorf("app: %w", runErr)
	}
	return ctx.Err()
}

// journalPath is the run's JSONL file, blank when file output is off.
func (a *App) journalPath() string {
	if a.cfg.Journal.Dir == "" {
		return ""
	}
	name := fmt.Sprintf("%s-%s-%s.jsonl", a.cfg.Mode, a.startedAt.Format("20060102T150405Z"), a.runID[:8])
	return filepath.Join(a.cfg.Journal.Dir, name)
}

func (a *App) closeTrackers(venues map[domain.Venue]*venueRuntime) {
	for _, rt := range venues {
		if rt.tracker != nil {
			_ = rt.tracker.Close()
		}
	}
}

func stopMessage(s handler.SummaryResponse) string {
	msg := fmt.Sprintf("mode %s, uptime %s", s.Mode, time.Duration(s.UptimeSeconds)*time.Second)
	for _, e := range s.Engines {
		msg += fmt.Sprintf("\n%s: %d trades, %d wins, %d losses, pnl %.2f", e.Engine, e.Trades, e.Wins, e.Losses, e.PnL)
	}
	return msg
}

// Close tears down all resources in reverse registration order. It is safe to
// call multiple times; subsequent calls are no-ops.
func (a *App) Close() {
	a.logger.Info("shutting down application")
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
