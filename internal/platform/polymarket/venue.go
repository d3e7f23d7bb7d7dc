package polymarket

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/alanyoungcy/updownbot/internal/domain"
)

// HistoricalSource looks up the underlying price at a point in time.
type HistoricalSource interface {
	OpenPrice(ctx context.Context, symbol string, at time.Time) (float64, error)
}

// CoinSelector tells the venue how to find a coin's market. Explicit market
// IDs win over slugs and URLs, which win over the derived window slug.
type CoinSelector struct {
	// Symbol is the slug prefix and crypto price symbol, e.g. "btc".
	Symbol        string
	MarketIDs     []string
	Slugs         []string
	URLs          []string
	BinanceSymbol string
}

// VenueOptions configures a Venue.
type VenueOptions struct {
	// Timeframe is the window length of the up/down series.
	Timeframe time.Duration
	// Variant is the crypto price endpoint's name for Timeframe.
	Variant string
	Coins   map[string]CoinSelector
	Clock   func() time.Time
}

// Venue adapts the Polymarket REST surface to the hub: market selection,
// reference discovery, official results and book re-seeding.
type Venue struct {
	gamma      *GammaClient
	clob       *ClobClient
	site       *SiteClient
	historical HistoricalSource
	opts       VenueOptions
	logger     *slog.Logger

	mu         sync.Mutex
	conditions map[string]string // market ID -> condition ID
}

// NewVenue creates a Polymarket venue adapter. clob, site and historical
// may be nil; the reference sources they back are then skipped.
func NewVenue(gamma *GammaClient, clob *ClobClient, site *SiteClient, historical HistoricalSource, opts VenueOptions, logger *slog.Logger) *Venue {
	if opts.Timeframe <= 0 {
		opts.Timeframe = 15 * time.Minute
	}
	if opts.Variant == "" {
		opts.Variant = "fifteen"
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return &Venue{
		gamma:      gamma,
		clob:       clob,
		site:       site,
		historical: historical,
		opts:       opts,
		logger:     logger.With(slog.String("component", "venue"), slog.String("venue", string(domain.VenuePolymarket))),
		conditions: make(map[string]string),
	}
}

// Name returns the venue identifier.
func (v *Venue) Name() domain.Venue {
	return domain.VenuePolymarket
}

// WindowSlug returns the deterministic up/down slug for the window that
// contains at, e.g. "btc-updown-15m-1760000400".
func WindowSlug(symbol string, timeframe time.Duration, at time.Time) string {
	start := at.UTC().Truncate(timeframe)
	return fmt.Sprintf("%s-updown-%s-%d", strings.ToLower(symbol), timeframeLabel(timeframe), start.Unix())
}

func timeframeLabel(d time.Duration) string {
	if d >= time.Hour && d%time.Hour == 0 {
		return fmt.Sprintf("%dh", int(d/time.Hour))
	}
	return fmt.Sprintf("%dm", int(d/time.Minute))
}

// SlugFromURL extracts the event slug from a polymarket.com event URL.
func SlugFromURL(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return ""
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	for i := 0; i < len(parts)-1; i++ {
		if parts[i] == "event" {
			return parts[i+1]
		}
	}
	if len(parts) > 0 {
		return parts[len(parts)-1]
	}
	return ""
}

// SelectMarket returns the open market for coin whose close time is the
// earliest one after now.
func (v *Venue) SelectMarket(ctx context.Context, coin string, now time.Time) (domain.Market, error) {
	sel, ok := v.opts.Coins[coin]
	if !ok {
		return domain.Market{}, fmt.Errorf("polymarket/venue: coin %s: %w", coin, domain.ErrNoMarket)
	}

	var candidates []APIMarket
	for _, id := range sel.MarketIDs {
		m, err := v.gamma.GetMarket(ctx, id)
		if err != nil {
			v.logger.Warn("market lookup failed", slog.String("coin", coin), slog.String("id", id), slog.String("error", err.Error()))
			continue
		}
		candidates = append(candidates, m)
	}

	if len(candidates) == 0 {
		slugs := append([]string(nil), sel.Slugs...)
		for _, u := range sel.URLs {
			if s := SlugFromURL(u); s != "" {
				slugs = append(slugs, s)
			}
		}
		for _, slug := range slugs {
			m, err := v.lookupSlug(ctx, slug)
			if err != nil {
				v.logger.Warn("slug lookup failed", slog.String("coin", coin), slog.String("slug", slug), slog.String("error", err.Error()))
				continue
			}
			candidates = append(candidates, m)
		}
	}

	if len(candidates) == 0 && sel.Symbol != "" {
		// The current window, then the next one in case the current one
		// is already closing.
		for _, at := range []time.Time{now, now.Add(v.opts.Timeframe)} {
			m, err := v.lookupSlug(ctx, WindowSlug(sel.Symbol, v.opts.Timeframe, at))
			if err != nil {
				if !errors.Is(err, domain.ErrNotFound) {
					return domain.Market{}, fmt.Errorf("polymarket/venue: select %s: %w", coin, err)
				}
				continue
			}
			candidates = append(candidates, m)
		}
	}

	best, ok := pickMarket(candidates, coin, now)
	if !ok {
		return domain.Market{}, fmt.Errorf("polymarket/venue: select %s: %w", coin, domain.ErrNoMarket)
	}
	for i := range candidates {
		if candidates[i].ID == best.ID {
			v.remember(candidates[i])
			break
		}
	}
	return best, nil
}

// lookupSlug resolves a slug through the event endpoint, which carries the
// event metadata, falling back to the market endpoint.
func (v *Venue) lookupSlug(ctx context.Context, slug string) (APIMarket, error) {
	ev, err := v.gamma.GetEventBySlug(ctx, slug)
	if err == nil && len(ev.Markets) > 0 {
		m := ev.Markets[0]
		meta := ev
		meta.Markets = nil
		m.Events = []APIEvent{meta}
		return m, nil
	}
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return APIMarket{}, err
	}
	return v.gamma.GetMarketBySlug(ctx, slug)
}

func pickMarket(candidates []APIMarket, coin string, now time.Time) (domain.Market, bool) {
	var open []domain.Market
	for i := range candidates {
		m := candidates[i].ToDomainMarket(coin)
		if m.Closed || m.Up.ID == "" || m.Down.ID == "" {
			continue
		}
		if !m.CloseTime.IsZero() && !m.CloseTime.After(now) {
			continue
		}
		open = append(open, m)
	}
	if len(open) == 0 {
		return domain.Market{}, false
	}
	sort.SliceStable(open, func(i, j int) bool {
		return open[i].CloseTime.Before(open[j].CloseTime)
	})
	return open[0], true
}

// remember records venue-specific metadata of a selected market.
func (v *Venue) remember(m APIMarket) {
	v.mu.Lock()
	v.conditions[m.ID] = m.ConditionID
	v.mu.Unlock()
}

// Fields returns the Polymarket-only snapshot fields for m.
func (v *Venue) Fields(m domain.Market) domain.VenueFields {
	v.mu.Lock()
	cond := v.conditions[m.ID]
	v.mu.Unlock()
	return domain.VenueFields{Polymarket: &domain.PolymarketFields{ConditionID: cond, EventSlug: m.EventID}}
}

// ReferenceSources lists discovery sources in priority order.
func (v *Venue) ReferenceSources() []domain.ReferenceSource {
	return []domain.ReferenceSource{domain.RefPriceToBeat, domain.RefHTML, domain.RefHistorical}
}

// LookupReference tries one reference source for m. Scraped and historical
// values are provisional.
func (v *Venue) LookupReference(ctx context.Context, m domain.Market, src domain.ReferenceSource) (float64, bool, error) {
	if !m.OpenTime.IsZero() && v.opts.Clock().Before(m.OpenTime) {
		return 0, false, fmt.Errorf("polymarket/venue: window not open: %w", domain.ErrNotFound)
	}
	sel := v.opts.Coins[m.Coin]

	switch src {
	case domain.RefPriceToBeat:
		if m.PriceToBeat > 0 {
			return m.PriceToBeat, false, nil
		}
		if m.EventID != "" {
			ev, err := v.gamma.GetEventBySlug(ctx, m.EventID)
			if err == nil && ev.EventMetadata != nil && ev.EventMetadata.PriceToBeat > 0 {
				return float64(ev.EventMetadata.PriceToBeat), false, nil
			}
		}
		if v.site != nil && sel.Symbol != "" && !m.OpenTime.IsZero() {
			cp, err := v.site.CryptoPrice(ctx, sel.Symbol, v.opts.Variant, m.OpenTime, m.CloseTime)
			if err != nil {
				return 0, false, err
			}
			return cp.Open, false, nil
		}
		return 0, false, fmt.Errorf("polymarket/venue: price to beat: %w", domain.ErrNotFound)

	case domain.RefHTML:
		if v.site == nil || m.URL == "" {
			return 0, false, fmt.Errorf("polymarket/venue: html: %w", domain.ErrNotFound)
		}
		val, err := v.site.PagePriceToBeat(ctx, m.URL)
		return val, true, err

	case domain.RefHistorical:
		if v.historical == nil || sel.BinanceSymbol == "" || m.OpenTime.IsZero() {
			return 0, false, fmt.Errorf("polymarket/venue: historical: %w", domain.ErrNotFound)
		}
		val, err := v.historical.OpenPrice(ctx, sel.BinanceSymbol, m.OpenTime)
		return val, true, err
	}
	return 0, false, fmt.Errorf("polymarket/venue: source %s: %w", src, domain.ErrNotFound)
}

// FetchResult implements the official result source. When Gamma has not
// published a final price the site's window close price stands in.
func (v *Venue) FetchResult(ctx context.Context, marketID string) (domain.MarketResult, error) {
	m, err := v.gamma.GetMarket(ctx, marketID)
	if err != nil {
		return domain.MarketResult{}, fmt.Errorf("polymarket/venue: result %s: %w", marketID, err)
	}
	res := m.Result()
	if res.FinalPrice > 0 || v.site == nil {
		return res, nil
	}

	dm := m.ToDomainMarket("")
	sym := v.symbolForSlug(m.Slug)
	if sym == "" || dm.OpenTime.IsZero() || dm.CloseTime.IsZero() || v.opts.Clock().Before(dm.CloseTime) {
		return res, nil
	}
	cp, err := v.site.CryptoPrice(ctx, sym, v.opts.Variant, dm.OpenTime, dm.CloseTime)
	if err == nil && cp.Close > 0 {
		res.FinalPrice = cp.Close
	}
	return res, nil
}

func (v *Venue) symbolForSlug(slug string) string {
	for _, sel := range v.opts.Coins {
		if sel.Symbol != "" && strings.HasPrefix(slug, strings.ToLower(sel.Symbol)+"-updown-") {
			return sel.Symbol
		}
	}
	return ""
}

// FetchBooks re-reads both token books over REST.
func (v *Venue) FetchBooks(ctx context.Context, m domain.Market) ([]domain.BookSnapshotEvent, error) {
	if v.clob == nil {
		return nil, nil
	}
	out := make([]domain.BookSnapshotEvent, 0, 2)
	for _, id := range m.TokenIDs() {
		ev, err := v.clob.GetBook(ctx, id)
		if err != nil {
			return out, err
		}
		out = append(out, ev)
	}
	return out, nil
}

// SubscriptionIDs returns the feed subscription IDs of m: its two tokens.
func (v *Venue) SubscriptionIDs(m domain.Market) []string {
	return m.TokenIDs()
}
