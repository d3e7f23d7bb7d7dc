// Package report prints a periodic console status of the hubs and engines
// as tables.
package report

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/alanyoungcy/updownbot/internal/domain"
	"github.com/alanyoungcy/updownbot/internal/engine"
)

// SnapshotFeed is a venue's live snapshot set, normally a *hub.Hub.
type SnapshotFeed interface {
	Venue() domain.Venue
	Snapshots() map[string]domain.InstrumentSnapshot
}

// Console renders hub snapshots, engine market views and run totals.
type Console struct {
	out      io.Writer
	feeds    []SnapshotFeed
	engines  []engine.Engine
	interval time.Duration
	clock    func() time.Time
	logger   *slog.Logger
}

// NewConsole creates a reporter writing to out every interval.
func NewConsole(out io.Writer, feeds []SnapshotFeed, engines []engine.Engine, interval time.Duration, logger *slog.Logger) *Console {
	return &Console{
		out:      out,
		feeds:    feeds,
		engines:  engines,
		interval: interval,
		clock:    time.Now,
		logger:   logger.With(slog.String("component", "report")),
	}
}

// Run prints a report every interval until ctx is cancelled, then prints a
// final one.
func (c *Console) Run(ctx context.Context) error {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			c.Render(c.clock())
			return nil
		case <-ticker.C:
			c.Render(c.clock())
		}
	}
}

// Render writes one full report.
func (c *Console) Render(now time.Time) {
	fmt.Fprintf(c.out, "\n[%s] status\n", now.UTC().Format("15:04:05"))
	if len(c.feeds) > 0 {
		c.renderSnapshots(now)
	}
	for _, e := range c.engines {
		fmt.Fprintf(c.out, "\n== %s ==\n", e.Name())
		c.renderViews(e.MarketViews(), now)
	}
	if len(c.engines) > 0 {
		c.renderSummaries()
	}
}

func (c *Console) renderSnapshots(now time.Time) {
	table := tablewriter.NewWriter(c.out)
	table.Header("Venue", "Coin", "Market", "Left", "Up bid/ask", "Down bid/ask", "Spot", "Ref", "Fresh")

	for _, f := range c.feeds {
		snaps := f.Snapshots()
		for _, coin := range sortedKeys(snaps) {
			s := snaps[coin]
			sum := domain.Summarize(s, now)
			c.append(table,
				string(f.Venue()),
				strings.ToUpper(coin),
				label(sum.Slug, sum.MarketID),
				left(sum.CloseTime, now),
				quote(sum.UpBid, sum.UpAsk),
				quote(sum.DownBid, sum.DownAsk),
				num(sum.Spot, 2),
				ref(sum.Reference, sum.RefSource),
				string(sum.Freshness),
			)
		}
	}
	c.render(table)
}

func (c *Console) renderViews(views []engine.MarketView, now time.Time) {
	table := tablewriter.NewWriter(c.out)
	table.Header("Coin", "State", "Left", "Spot", "Threshold", "Dir", "Gap", "Ask", "Skip", "Holding")

	for _, v := range views {
		c.append(table,
			strings.ToUpper(v.Coin),
			v.State,
			fmt.Sprintf("%.0fs", v.SecondsLeft),
			num(v.Spot, 2),
			ptr(v.Threshold, 2),
			v.Direction,
			ptr(v.Gap, 4),
			ptr(v.BestAsk, 3),
			v.LastSkip,
			holding(v.Position),
		)
	}
	c.render(table)
}

func (c *Console) renderSummaries() {
	table := tablewriter.NewWriter(c.out)
	table.Header("Engine", "Trades", "W/L/U", "Open", "Crosses", "Mismatch", "Spent", "Payout", "PnL", "Avg slip")

	for _, e := range c.engines {
		s := e.Summary()
		c.append(table,
			s.Engine,
			fmt.Sprintf("%d", s.Trades),
			fmt.Sprintf("%d/%d/%d", s.Wins, s.Losses, s.Unknown),
			fmt.Sprintf("%d+%d", s.Open, s.Pending),
			fmt.Sprintf("%d", s.Crosses),
			fmt.Sprintf("%d", s.Mismatches),
			fmt.Sprintf("$%.2f", s.Spent),
			fmt.Sprintf("$%.2f", s.Payout),
			fmt.Sprintf("$%+.2f", s.PnL),
			fmt.Sprintf("%.4f", s.AvgGapDelta),
		)
	}
	c.render(table)
}

func (c *Console) append(table *tablewriter.Table, cells ...any) {
	if err := table.Append(cells...); err != nil {
		c.logger.Warn("report: append row", slog.String("error", err.Error()))
	}
}

func (c *Console) render(table *tablewriter.Table) {
	if err := table.Render(); err != nil {
		c.logger.Warn("report: render table", slog.String("error", err.Error()))
	}
}

func sortedKeys(m map[string]domain.InstrumentSnapshot) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func label(slug, id string) string {
	if slug != "" {
		return slug
	}
	if id != "" {
		return id
	}
	return "-"
}

func left(closeAt, now time.Time) string {
	if closeAt.IsZero() {
		return "-"
	}
	return closeAt.Sub(now).Truncate(time.Second).String()
}

func quote(bid, ask float64) string {
	return fmt.Sprintf("%s/%s", num(bid, 3), num(ask, 3))
}

func num(v float64, prec int) string {
	if v == 0 {
		return "-"
	}
	return fmt.Sprintf("%.*f", prec, v)
}

func ptr(v *float64, prec int) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf("%.*f", prec, *v)
}

func ref(v float64, src domain.ReferenceSource) string {
	if v == 0 {
		return "-"
	}
	return fmt.Sprintf("%.2f (%s)", v, src)
}

func holding(p *domain.Position) string {
	if p == nil || len(p.Legs) == 0 {
		return "-"
	}
	sides := make([]string, len(p.Legs))
	for i, l := range p.Legs {
		sides[i] = fmt.Sprintf("%s %s %.0f@%.3f", l.Venue, l.Side, l.Shares, l.AvgPrice)
	}
	return strings.Join(sides, " + ")
}
