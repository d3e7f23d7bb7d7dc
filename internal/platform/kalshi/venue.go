package kalshi

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/alanyoungcy/updownbot/internal/domain"
)

// maxSeriesPages bounds the market listing walk of one selection.
const maxSeriesPages = 5

// HistoricalSource looks up the underlying price at a point in time.
type HistoricalSource interface {
	OpenPrice(ctx context.Context, symbol string, at time.Time) (float64, error)
}

// CoinSelector tells the venue how to find a coin's market. Explicit
// tickers win over the series listing.
type CoinSelector struct {
	// Series is the recurring series ticker, e.g. "KXBTC15M".
	Series        string
	Tickers       []string
	BinanceSymbol string
}

// VenueOptions configures a Venue.
type VenueOptions struct {
	Coins map[string]CoinSelector
	Clock func() time.Time
}

// Venue adapts the Kalshi REST surface to the hub.
type Venue struct {
	client     *Client
	historical HistoricalSource
	opts       VenueOptions
	logger     *slog.Logger
}

// NewVenue creates a Kalshi venue adapter. historical may be nil.
func NewVenue(client *Client, historical HistoricalSource, opts VenueOptions, logger *slog.Logger) *Venue {
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return &Venue{
		client:     client,
		historical: historical,
		opts:       opts,
		logger:     logger.With(slog.String("component", "venue"), slog.String("venue", string(domain.VenueKalshi))),
	}
}

// Name returns the venue identifier.
func (v *Venue) Name() domain.Venue {
	return domain.VenueKalshi
}

// SelectMarket returns the open market for coin whose close time is the
// earliest one after now.
func (v *Venue) SelectMarket(ctx context.Context, coin string, now time.Time) (domain.Market, error) {
	sel, ok := v.opts.Coins[coin]
	if !ok {
		return domain.Market{}, fmt.Errorf("kalshi/venue: coin %s: %w", coin, domain.ErrNoMarket)
	}

	var candidates []KalshiMarket
	for _, t := range sel.Tickers {
		m, err := v.client.GetMarket(ctx, t)
		if err != nil {
			v.logger.Warn("market lookup failed", slog.String("coin", coin), slog.String("ticker", t), slog.String("error", err.Error()))
			continue
		}
		candidates = append(candidates, m)
	}

	if len(candidates) == 0 && sel.Series != "" {
		filter := domain.MarketFilter{Series: sel.Series, Status: "open", Limit: 100}
		for page := 0; page < maxSeriesPages; page++ {
			markets, cursor, err := v.client.GetMarkets(ctx, filter)
			if err != nil {
				return domain.Market{}, fmt.Errorf("kalshi/venue: select %s: %w", coin, err)
			}
			candidates = append(candidates, markets...)
			if cursor == "" {
				break
			}
			filter.Cursor = cursor
		}
	}

	best, ok := pickMarket(candidates, coin, now)
	if !ok {
		return domain.Market{}, fmt.Errorf("kalshi/venue: select %s: %w", coin, domain.ErrNoMarket)
	}
	return best, nil
}

func pickMarket(candidates []KalshiMarket, coin string, now time.Time) (domain.Market, bool) {
	var open []domain.Market
	for i := range candidates {
		m := candidates[i].ToDomainMarket(coin)
		if m.Closed || m.ID == "" {
			continue
		}
		if m.CloseTime.IsZero() || !m.CloseTime.After(now) {
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

// SubscriptionIDs returns the feed subscription IDs of m: its ticker.
func (v *Venue) SubscriptionIDs(m domain.Market) []string {
	if m.ID == "" {
		return nil
	}
	return []string{m.ID}
}

// Fields returns the Kalshi-only snapshot fields for m.
func (v *Venue) Fields(m domain.Market) domain.VenueFields {
	return domain.VenueFields{Kalshi: &domain.KalshiFields{EventTicker: m.EventID, FloorStrike: m.PriceToBeat}}
}

// ReferenceSources lists discovery sources in priority order.
func (v *Venue) ReferenceSources() []domain.ReferenceSource {
	return []domain.ReferenceSource{domain.RefPriceToBeat, domain.RefHistorical}
}

// LookupReference tries one reference source for m. The floor strike is
// authoritative; the historical open is provisional.
func (v *Venue) LookupReference(ctx context.Context, m domain.Market, src domain.ReferenceSource) (float64, bool, error) {
	if !m.OpenTime.IsZero() && v.opts.Clock().Before(m.OpenTime) {
		return 0, false, fmt.Errorf("kalshi/venue: window not open: %w", domain.ErrNotFound)
	}

	switch src {
	case domain.RefPriceToBeat:
		if m.PriceToBeat > 0 {
			return m.PriceToBeat, false, nil
		}
		// The strike is often published shortly after the window opens.
		km, err := v.client.GetMarket(ctx, m.ID)
		if err != nil {
			return 0, false, err
		}
		if km.FloorStrike > 0 {
			return km.FloorStrike, false, nil
		}
		return 0, false, fmt.Errorf("kalshi/venue: floor strike: %w", domain.ErrNotFound)

	case domain.RefHistorical:
		sel := v.opts.Coins[m.Coin]
		if v.historical == nil || sel.BinanceSymbol == "" || m.OpenTime.IsZero() {
			return 0, false, fmt.Errorf("kalshi/venue: historical: %w", domain.ErrNotFound)
		}
		val, err := v.historical.OpenPrice(ctx, sel.BinanceSymbol, m.OpenTime)
		return val, true, err
	}
	return 0, false, fmt.Errorf("kalshi/venue: source %s: %w", src, domain.ErrNotFound)
}

// FetchResult implements the official result source.
func (v *Venue) FetchResult(ctx context.Context, marketID string) (domain.MarketResult, error) {
	m, err := v.client.GetMarket(ctx, marketID)
	if err != nil {
		return domain.MarketResult{}, fmt.Errorf("kalshi/venue: result %s: %w", marketID, err)
	}
	return m.Settlement(), nil
}

// FetchUnderlying returns the venue-published underlying value of m and its
// sample time.
func (v *Venue) FetchUnderlying(ctx context.Context, m domain.Market) (float64, time.Time, error) {
	km, err := v.client.GetMarket(ctx, m.ID)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("kalshi/venue: underlying %s: %w", m.ID, err)
	}
	val, ok := km.ExpirationPrice()
	if !ok {
		return 0, time.Time{}, fmt.Errorf("kalshi/venue: underlying %s: %w", m.ID, domain.ErrNotFound)
	}
	at := parseTime(km.ExpirationTime)
	if at.IsZero() {
		at = parseTime(km.CloseTime)
	}
	return val, at, nil
}

// FetchBooks re-reads the ticker's book over REST.
func (v *Venue) FetchBooks(ctx context.Context, m domain.Market) ([]domain.BookSnapshotEvent, error) {
	ob, err := v.client.GetOrderbook(ctx, m.ID)
	if err != nil {
		return nil, err
	}
	evs := BookEvents(m.ID, ob.YesBids, ob.NoBids, ob.Timestamp)
	out := make([]domain.BookSnapshotEvent, 0, len(evs))
	for _, ev := range evs {
		if snap, ok := ev.(domain.BookSnapshotEvent); ok {
			out = append(out, snap)
		}
	}
	return out, nil
}
