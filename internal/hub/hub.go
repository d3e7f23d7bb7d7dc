// Package hub owns the per-venue market data state. A Hub consumes the
// events of its feed connections on a single goroutine, keeps one
// InstrumentSnapshot per tracked coin and refreshes signals, freshness,
// reference prices and market selection on a fixed tick.
package hub

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/alanyoungcy/updownbot/internal/domain"
	"github.com/alanyoungcy/updownbot/internal/journal"
	"github.com/alanyoungcy/updownbot/internal/signals"
)

// Feed is a self-healing streaming connection. *feed.Conn satisfies it.
type Feed interface {
	Run(ctx context.Context) error
	Events() <-chan domain.FeedEvent
	Connected() bool
	Subscribe(ctx context.Context, ids []string) error
	Unsubscribe(ctx context.Context, ids []string) error
	Replace(ctx context.Context, old, next []string) error
	Refresh(ctx context.Context, ids []string) error
	Subscriptions() []string
}

// Venue is the market lookup side of one venue.
type Venue interface {
	Name() domain.Venue
	SelectMarket(ctx context.Context, coin string, now time.Time) (domain.Market, error)
	// SubscriptionIDs are the market feed IDs carrying m's books.
	SubscriptionIDs(m domain.Market) []string
	// ReferenceSources lists discovery sources, highest priority first.
	ReferenceSources() []domain.ReferenceSource
	LookupReference(ctx context.Context, m domain.Market, src domain.ReferenceSource) (value float64, recheckable bool, err error)
	Fields(m domain.Market) domain.VenueFields
}

// BookFetcher is implemented by venues that can re-seed books over REST.
type BookFetcher interface {
	FetchBooks(ctx context.Context, m domain.Market) ([]domain.BookSnapshotEvent, error)
}

// UnderlyingFetcher is implemented by venues that publish the underlying
// settlement value of a market.
type UnderlyingFetcher interface {
	FetchUnderlying(ctx context.Context, m domain.Market) (float64, time.Time, error)
}

// Options tunes a Hub. Zero values fall back to defaults.
type Options struct {
	TickInterval       time.Duration
	BookStaleAfter     time.Duration
	PriceStaleAfter    time.Duration
	StartupGrace       time.Duration
	ReselectAfterStale time.Duration
	ReselectCooldown   time.Duration
	SelectRetryMin     time.Duration
	SelectRetryMax     time.Duration
	ReferenceRetryMin  time.Duration
	ReferenceRetryMax  time.Duration
	HistorySize        int
	HistorySampleEvery time.Duration
	TradeKeep          int
	// UnderlyingPollEvery and UnderlyingPollFor bound the post-close polling
	// of venue-published settlement values.
	UnderlyingPollEvery time.Duration
	UnderlyingPollFor   time.Duration
	FetchTimeout        time.Duration
	PublishEvery        time.Duration

	Signals signals.Options
	// Cache, when set, receives a snapshot summary per coin every
	// PublishEvery.
	Cache domain.SnapshotCache
	Clock func() time.Time
}

func (o Options) withDefaults() Options {
	def := func(d *time.Duration, v time.Duration) {
		if *d <= 0 {
			*d = v
		}
	}
	def(&o.TickInterval, 250*time.Millisecond)
	def(&o.BookStaleAfter, 10*time.Second)
	def(&o.PriceStaleAfter, 15*time.Second)
	def(&o.StartupGrace, 20*time.Second)
	def(&o.ReselectAfterStale, 45*time.Second)
	def(&o.ReselectCooldown, 60*time.Second)
	def(&o.SelectRetryMin, 2*time.Second)
	def(&o.SelectRetryMax, 60*time.Second)
	def(&o.ReferenceRetryMin, 2*time.Second)
	def(&o.ReferenceRetryMax, 60*time.Second)
	def(&o.HistorySampleEvery, time.Second)
	def(&o.UnderlyingPollEvery, 5*time.Second)
	def(&o.UnderlyingPollFor, 10*time.Minute)
	def(&o.FetchTimeout, 15*time.Second)
	def(&o.PublishEvery, time.Second)
	if o.HistorySize <= 0 {
		o.HistorySize = 180
	}
	if o.TradeKeep <= 0 {
		o.TradeKeep = 200
	}
	if o.Clock == nil {
		o.Clock = time.Now
	}
	return o
}

type tokenKey struct {
	coin string
	side domain.Side
}

// Hub is the single writer of its instrument snapshots.
type Hub struct {
	venue   Venue
	market  Feed
	spot    Feed
	opts    Options
	journal *journal.Logger
	logger  *slog.Logger

	mu          sync.RWMutex
	instruments map[string]*instrument
	tokens      map[string]tokenKey

	// Loop-owned state.
	results     chan func()
	connected   map[string]bool
	lastPublish time.Time

	lifecycle sync.Mutex
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// New creates a hub. spot may be nil when no spot stream is configured; the
// price side of freshness then follows the books.
func New(venue Venue, market Feed, spot Feed, opts Options, j *journal.Journal, logger *slog.Logger) *Hub {
	h := &Hub{
		venue:       venue,
		market:      market,
		spot:        spot,
		opts:        opts.withDefaults(),
		logger:      logger.With(slog.String("component", "hub"), slog.String("venue", string(venue.Name()))),
		instruments: make(map[string]*instrument),
		tokens:      make(map[string]tokenKey),
		results:     make(chan func(), 64),
		connected:   make(map[string]bool),
	}
	if j != nil {
		h.journal = j.Component("hub:" + string(venue.Name()))
	}
	return h
}

// Venue returns the venue this hub tracks.
func (h *Hub) Venue() domain.Venue {
	return h.venue.Name()
}

// Start selects an initial market per coin, starts the feed connections and
// the tick loop. A coin whose selection fails is retried with backoff; Start
// itself only fails when called twice.
func (h *Hub) Start(ctx context.Context, coins []string) error {
	h.lifecycle.Lock()
	defer h.lifecycle.Unlock()
	if h.cancel != nil {
		return errors.New("hub: already started")
	}
	ctx, cancel := context.WithCancel(ctx)
	h.cancel = cancel

	h.prepare(ctx, coins)

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		_ = h.market.Run(ctx)
	}()
	if h.spot != nil {
		h.wg.Add(1)
		go func() {
			defer h.wg.Done()
			_ = h.spot.Run(ctx)
		}()
	}
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		h.loop(ctx)
	}()

	h.logger.Info("hub started", slog.Int("coins", len(coins)))
	return nil
}

// prepare creates the instruments and runs the initial selections.
func (h *Hub) prepare(ctx context.Context, coins []string) {
	now := h.opts.Clock()
	h.mu.Lock()
	for _, coin := range coins {
		if _, ok := h.instruments[coin]; ok {
			continue
		}
		h.instruments[coin] = newInstrument(h.venue.Name(), coin, now, h.opts)
	}
	h.mu.Unlock()

	for _, coin := range sortedKeys(coins) {
		sctx, cancel := context.WithTimeout(ctx, h.opts.FetchTimeout)
		m, err := h.venue.SelectMarket(sctx, coin, now)
		cancel()
		h.applySelection(ctx, coin, m, err, reasonInitial)
	}
}

// Stop tears down the feeds, the tick loop and in-flight fetches.
func (h *Hub) Stop() {
	h.lifecycle.Lock()
	cancel := h.cancel
	h.lifecycle.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	h.wg.Wait()
	h.logger.Info("hub stopped")
}

// Snapshots returns deep copies of every instrument snapshot keyed by coin.
func (h *Hub) Snapshots() map[string]domain.InstrumentSnapshot {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make(map[string]domain.InstrumentSnapshot, len(h.instruments))
	for coin, inst := range h.instruments {
		out[coin] = inst.snap.Clone()
	}
	return out
}

// Snapshot returns a copy of one coin's snapshot.
func (h *Hub) Snapshot(coin string) (domain.InstrumentSnapshot, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	inst, ok := h.instruments[coin]
	if !ok {
		return domain.InstrumentSnapshot{}, false
	}
	return inst.snap.Clone(), true
}

var _ domain.SnapshotSource = (*Hub)(nil)

func (h *Hub) loop(ctx context.Context) {
	ticker := time.NewTicker(h.opts.TickInterval)
	defer ticker.Stop()

	marketEvents := h.market.Events()
	var spotEvents <-chan domain.FeedEvent
	if h.spot != nil {
		spotEvents = h.spot.Events()
	}

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-marketEvents:
			if !ok {
				marketEvents = nil
				continue
			}
			h.apply(ev)
		case ev, ok := <-spotEvents:
			if !ok {
				spotEvents = nil
				continue
			}
			h.apply(ev)
		case fn := <-h.results:
			fn()
		case <-ticker.C:
			h.tick(ctx, h.opts.Clock())
		}
	}
}

// async runs work off the loop and hands the returned closure back to the
// loop, which is the only place state is mutated.
func (h *Hub) async(ctx context.Context, work func(ctx context.Context) func()) {
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		fctx, cancel := context.WithTimeout(ctx, h.opts.FetchTimeout)
		apply := work(fctx)
		cancel()
		if apply == nil {
			return
		}
		select {
		case h.results <- apply:
		case <-ctx.Done():
		}
	}()
}

// tick runs the periodic maintenance of every instrument.
func (h *Hub) tick(ctx context.Context, now time.Time) {
	h.mu.Lock()
	coins := make([]string, 0, len(h.instruments))
	for coin := range h.instruments {
		coins = append(coins, coin)
	}
	sort.Strings(coins)
	for _, coin := range coins {
		inst := h.instruments[coin]
		h.sampleHistory(inst)
		h.updateFreshness(inst, now)
		bs, hist, trades := signals.StateFromSnapshot(inst.snap)
		inst.snap.Signals = signals.Compute(bs, hist, trades, now, h.opts.Signals)
	}
	h.mu.Unlock()

	// Scheduling may call out to the feeds, so it runs without the lock.
	for _, coin := range coins {
		h.maintain(ctx, coin, now)
	}
	h.publish(ctx, now)
}

func (h *Hub) maintain(ctx context.Context, coin string, now time.Time) {
	h.mu.RLock()
	inst := h.instruments[coin]
	h.mu.RUnlock()

	h.scheduleSelection(ctx, inst, now)
	h.scheduleReselect(ctx, inst, now)
	h.scheduleReference(ctx, inst, now)
	h.scheduleUnderlying(ctx, inst, now)
}

func (h *Hub) publish(ctx context.Context, now time.Time) {
	if h.opts.Cache == nil || now.Sub(h.lastPublish) < h.opts.PublishEvery {
		return
	}
	h.lastPublish = now

	h.mu.RLock()
	sums := make([]domain.SnapshotSummary, 0, len(h.instruments))
	for _, inst := range h.instruments {
		sums = append(sums, domain.Summarize(inst.snap, now))
	}
	h.mu.RUnlock()

	h.async(ctx, func(ctx context.Context) func() {
		for _, sum := range sums {
			if err := h.opts.Cache.Put(ctx, sum); err != nil {
				h.logger.Debug("snapshot publish failed", slog.String("coin", sum.Coin), slog.String("error", err.Error()))
			}
		}
		return nil
	})
}

func sortedKeys(coins []string) []string {
	out := append([]string(nil), coins...)
	sort.Strings(out)
	return out
}
