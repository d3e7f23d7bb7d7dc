// Package engine runs the simulated decision engines. Each engine reads hub
// snapshots on a fixed tick, evaluates tiered entry rules per coin, commits
// pending orders that confirm after a randomized execution latency, and
// settles the resulting positions through the outcome resolver.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"github.com/alanyoungcy/updownbot/internal/domain"
	"github.com/alanyoungcy/updownbot/internal/journal"
	"github.com/alanyoungcy/updownbot/internal/resolver"
)

// Engine is what the app, the status server and the console reporter see of
// a running engine.
type Engine interface {
	Name() string
	Run(ctx context.Context) error
	MarketViews() []MarketView
	Summary() Summary
	Close() error
}

var (
	_ Engine = (*Profile)(nil)
	_ Engine = (*Arbitrage)(nil)
)

// Options configures the behaviour shared by both engines.
type Options struct {
	// Coins lists the tracked coins; Rules holds each coin's tiered rules.
	Coins []string
	Rules map[string]domain.RuleSet

	TickInterval     time.Duration
	DecisionCooldown time.Duration
	LatencyMin       time.Duration
	LatencyMax       time.Duration
	SkipLogEvery     time.Duration
	// HistoryStep is the spacing of the hub's price history samples, used to
	// turn time left into random-walk steps for the confidence gate.
	HistoryStep time.Duration

	Governor  GovernorOptions
	GateModel GateModel

	// Positions, when set, receives every opened, crossed and closed position.
	Positions domain.PositionStore
	Clock     func() time.Time
	Rand      *rand.Rand
}

func (o Options) withDefaults() Options {
	if o.TickInterval <= 0 {
		o.TickInterval = 250 * time.Millisecond
	}
	if o.DecisionCooldown <= 0 {
		o.DecisionCooldown = 200 * time.Millisecond
	}
	if o.LatencyMin <= 0 && o.LatencyMax <= 0 {
		o.LatencyMin = 150 * time.Millisecond
		o.LatencyMax = 600 * time.Millisecond
	}
	if o.SkipLogEvery <= 0 {
		o.SkipLogEvery = 10 * time.Second
	}
	if o.HistoryStep <= 0 {
		o.HistoryStep = time.Second
	}
	if o.Clock == nil {
		o.Clock = time.Now
	}
	if o.Rand == nil {
		o.Rand = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return o
}

// coinState is one coin's independent state machine:
// idle -> pending -> open -> resolved -> idle.
type coinState struct {
	coin  string
	rules domain.RuleSet

	pending *domain.PendingOrder
	// pendingSnaps are the leg snapshots at commit time.
	pendingSnaps []domain.InstrumentSnapshot

	position *domain.Position
	// legSnaps keep each leg's market snapshot after rotation so the
	// resolver can still see its threshold and close.
	legSnaps []domain.InstrumentSnapshot
	// crossFail is the last cross failure reported for the open position.
	crossFail string

	lastDecision time.Time
	view         MarketView
}

func (st *coinState) state() string {
	switch {
	case st.position != nil:
		return "open"
	case st.pending != nil:
		return "pending"
	}
	return "idle"
}

// core holds what the profile and arbitrage engines share.
type core struct {
	name     string
	opts     Options
	resolver *resolver.Resolver
	journal  *journal.Logger
	logger   *slog.Logger
	skips    *skipLog
	governor *governor

	mu    sync.Mutex
	coins map[string]*coinState
	order []string
	stats stats
	// closed holds every position resolved during the run.
	closed []domain.Position

	persistCh chan domain.Position
	persistWG sync.WaitGroup
	closeOnce sync.Once
}

func newCore(name string, res *resolver.Resolver, opts Options, j *journal.Journal, logger *slog.Logger) *core {
	opts = opts.withDefaults()
	c := &core{
		name:     name,
		opts:     opts,
		resolver: res,
		logger:   logger.With(slog.String("component", "engine"), slog.String("engine", name)),
		skips:    newSkipLog(opts.SkipLogEvery),
		governor: newGovernor(opts.Governor),
		coins:    make(map[string]*coinState, len(opts.Coins)),
		stats:    stats{Summary: Summary{FillSources: make(map[domain.FillSource]int)}},
	}
	if j != nil {
		c.journal = j.Component("engine:" + name)
	}
	for _, coin := range opts.Coins {
		if _, ok := c.coins[coin]; ok {
			continue
		}
		c.coins[coin] = &coinState{coin: coin, rules: opts.Rules[coin], view: MarketView{Coin: coin, State: "idle"}}
		c.order = append(c.order, coin)
	}
	sort.Strings(c.order)

	if opts.Positions != nil {
		c.persistCh = make(chan domain.Position, 256)
		c.persistWG.Add(1)
		go c.persistLoop()
	}
	return c
}

// Name returns the engine name used in telemetry.
func (c *core) Name() string {
	return c.name
}

// run calls eval on every tick until ctx is cancelled.
func (c *core) run(ctx context.Context, eval func(ctx context.Context, now time.Time)) error {
	ticker := time.NewTicker(c.opts.TickInterval)
	defer ticker.Stop()
	c.logger.Info("engine started",
		slog.Int("coins", len(c.order)),
		slog.Duration("tick", c.opts.TickInterval),
	)
	for {
		select {
		case <-ctx.Done():
			c.logger.Info("engine stopped")
			return nil
		case <-ticker.C:
			eval(ctx, c.opts.Clock())
		}
	}
}

// guard runs one coin's evaluation, turning errors and panics into telemetry
// so other coins keep evaluating.
func (c *core) guard(coin string, fn func() error) {
	defer func() {
		if r := recover(); r != nil {
			c.stats.Errors++
			c.journal.Error(domain.KindError, coin, "evaluation panic", "panic", fmt.Sprint(r))
			c.logger.Error("evaluation panic",
				slog.String("coin", coin),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())),
			)
		}
	}()
	if err := fn(); err != nil {
		c.stats.Errors++
		c.journal.Error(domain.KindError, coin, "evaluation failed", "error", err)
	}
}

// latency draws an execution delay uniformly from [LatencyMin, LatencyMax].
func (c *core) latency() time.Duration {
	lo, hi := c.opts.LatencyMin, c.opts.LatencyMax
	if hi <= lo {
		return lo
	}
	return lo + time.Duration(c.opts.Rand.Int63n(int64(hi-lo)+1))
}

// cooling reports whether coin made a decision within DecisionCooldown, and
// otherwise stamps now as its latest decision.
func (c *core) cooling(st *coinState, now time.Time) bool {
	if !st.lastDecision.IsZero() && now.Sub(st.lastDecision) < c.opts.DecisionCooldown {
		return true
	}
	st.lastDecision = now
	return false
}

// exposure is the spend currently at risk across open positions and
// pending orders.
func (c *core) exposure() float64 {
	var total float64
	for _, st := range c.coins {
		if st.position != nil {
			total += st.position.Cost()
		}
		if st.pending != nil {
			total += st.pending.Fill.TotalCost
		}
	}
	return total
}

func (c *core) persist(pos domain.Position) {
	if c.persistCh == nil {
		return
	}
	select {
	case c.persistCh <- pos.Clone():
	default:
		c.logger.Warn("position persistence queue full", slog.String("position", pos.ID))
	}
}

func (c *core) persistLoop() {
	defer c.persistWG.Done()
	for pos := range c.persistCh {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := c.opts.Positions.Upsert(ctx, pos); err != nil {
			c.logger.Warn("position upsert failed",
				slog.String("position", pos.ID),
				slog.String("error", err.Error()),
			)
		}
		cancel()
	}
}

// Close flushes queued position writes.
func (c *core) Close() error {
	c.closeOnce.Do(func() {
		if c.persistCh != nil {
			close(c.persistCh)
			c.persistWG.Wait()
		}
	})
	return nil
}

// MarketViews returns the latest per-coin view, sorted by coin.
func (c *core) MarketViews() []MarketView {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]MarketView, 0, len(c.order))
	for _, coin := range c.order {
		st := c.coins[coin]
		v := st.view
		v.Markets = append([]string(nil), v.Markets...)
		v.State = st.state()
		v.LossStreak = c.governor.streak(coin)
		if st.position != nil {
			pos := st.position.Clone()
			v.Position = &pos
		} else {
			v.Position = nil
		}
		if st.pending != nil {
			p := *st.pending
			p.Legs = append([]domain.LegIntent(nil), p.Legs...)
			v.Pending = &p
		} else {
			v.Pending = nil
		}
		out = append(out, v)
	}
	return out
}

// History returns the positions closed so far, oldest first.
func (c *core) History() []domain.Position {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]domain.Position, len(c.closed))
	for i, p := range c.closed {
		out[i] = p.Clone()
	}
	return out
}

// Summary returns the run totals.
func (c *core) Summary() Summary {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.stats.Summary
	s.Engine = c.name
	s.FillSources = make(map[domain.FillSource]int, len(c.stats.FillSources))
	for k, v := range c.stats.FillSources {
		s.FillSources[k] = v
	}
	if c.stats.fills > 0 {
		s.AvgGapDelta = c.stats.gapDeltaSum / float64(c.stats.fills)
	}
	for _, st := range c.coins {
		if st.position != nil {
			s.Open++
		}
		if st.pending != nil {
			s.Pending++
		}
	}
	return s
}
