package resolver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/updownbot/internal/domain"
	"github.com/alanyoungcy/updownbot/internal/retry"
)

// OfficialSource fetches a venue's published settlement for a market.
type OfficialSource interface {
	FetchResult(ctx context.Context, marketID string) (domain.MarketResult, error)
}

// OfficialOptions configures polling of an OfficialSource.
type OfficialOptions struct {
	RetryMin time.Duration
	RetryMax time.Duration
	// MaxAttempts stops polling after that many fetches; 0 polls until Close.
	MaxAttempts int
	Timeout     time.Duration
}

// Official is the latest known official state of one market.
type Official struct {
	Outcome    domain.Outcome
	FinalPrice *float64
	Attempts   int
	// Done is set once polling stopped, either with a result or exhausted.
	Done bool
	Err  error
}

// OfficialTracker polls an OfficialSource in the background, one goroutine
// per requested market. Results are read back with Lookup on the caller's
// own schedule.
type OfficialTracker struct {
	venue  domain.Venue
	source OfficialSource
	opts   OfficialOptions
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	entries map[string]*Official
}

// NewOfficialTracker creates a tracker for one venue.
func NewOfficialTracker(venue domain.Venue, source OfficialSource, opts OfficialOptions, logger *slog.Logger) *OfficialTracker {
	if opts.RetryMin <= 0 {
		opts.RetryMin = 5 * time.Second
	}
	if opts.RetryMax < opts.RetryMin {
		opts.RetryMax = opts.RetryMin
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &OfficialTracker{
		venue:   venue,
		source:  source,
		opts:    opts,
		logger:  logger.With(slog.String("component", "official_tracker"), slog.String("venue", string(venue))),
		ctx:     ctx,
		cancel:  cancel,
		entries: make(map[string]*Official),
	}
}

// Request starts polling marketID unless it is already tracked.
func (t *OfficialTracker) Request(marketID string) {
	if marketID == "" {
		return
	}
	t.mu.Lock()
	if _, ok := t.entries[marketID]; ok || t.ctx.Err() != nil {
		t.mu.Unlock()
		return
	}
	t.entries[marketID] = &Official{Outcome: domain.OutcomeUnknown}
	t.wg.Add(1)
	t.mu.Unlock()

	go t.poll(marketID)
}

// Lookup returns a copy of the tracked state of marketID.
func (t *OfficialTracker) Lookup(marketID string) (Official, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[marketID]
	if !ok {
		return Official{}, false
	}
	out := *e
	if e.FinalPrice != nil {
		out.FinalPrice = domain.Float(*e.FinalPrice)
	}
	return out, true
}

// Forget drops marketID. A poll still in flight finishes but its result is
// discarded.
func (t *OfficialTracker) Forget(marketID string) {
	t.mu.Lock()
	delete(t.entries, marketID)
	t.mu.Unlock()
}

// Close stops every poll loop and waits for them to exit.
func (t *OfficialTracker) Close() error {
	t.cancel()
	t.wg.Wait()
	return nil
}

func (t *OfficialTracker) poll(marketID string) {
	defer t.wg.Done()
	backoff := retry.NewBackoff(t.opts.RetryMin, t.opts.RetryMax)

	for attempt := 1; ; attempt++ {
		res, err := t.fetch(marketID)
		if err == nil && !settled(res) {
			err = domain.ErrResultPending
		}

		done := err == nil || (t.opts.MaxAttempts > 0 && attempt >= t.opts.MaxAttempts)
		if !t.store(marketID, res, err, attempt, done) {
			return
		}
		if err == nil {
			t.logger.Info("official result",
				slog.String("market", marketID),
				slog.String("outcome", string(res.Outcome)),
				slog.Float64("final_price", res.FinalPrice),
				slog.Int("attempts", attempt),
			)
			return
		}
		if done {
			t.logger.Warn("official result unavailable, giving up",
				slog.String("market", marketID),
				slog.Int("attempts", attempt),
				slog.String("error", err.Error()),
			)
			return
		}
		if !errors.Is(err, domain.ErrResultPending) {
			t.logger.Debug("official fetch failed",
				slog.String("market", marketID),
				slog.Int("attempt", attempt),
				slog.String("error", err.Error()),
			)
		}
		if retry.Sleep(t.ctx, backoff.Next()) != nil {
			return
		}
	}
}

func (t *OfficialTracker) fetch(marketID string) (domain.MarketResult, error) {
	ctx, cancel := context.WithTimeout(t.ctx, t.opts.Timeout)
	defer cancel()
	res, err := t.source.FetchResult(ctx, marketID)
	if err != nil {
		return domain.MarketResult{}, fmt.Errorf("resolver/official: fetch %s: %w", marketID, err)
	}
	return res, nil
}

// store records an attempt and reports whether the entry is still wanted.
func (t *OfficialTracker) store(marketID string, res domain.MarketResult, err error, attempt int, done bool) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[marketID]
	if !ok {
		return false
	}
	e.Attempts = attempt
	e.Done = done
	e.Err = err
	if err == nil {
		e.Outcome = res.Outcome
		if !e.Outcome.Known() {
			e.Outcome = domain.OutcomeUnknown
		}
		if validPrice(res.FinalPrice) {
			e.FinalPrice = domain.Float(res.FinalPrice)
		}
	}
	return true
}

// settled reports whether a result carries anything usable for settlement.
func settled(res domain.MarketResult) bool {
	return res.Outcome.Known() || (res.Closed && validPrice(res.FinalPrice))
}
