package polymarket

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"

	"github.com/alanyoungcy/updownbot/internal/domain"
	"github.com/alanyoungcy/updownbot/internal/platform/rest"
)

const (
	// DefaultGammaURL is the production Gamma API root.
	DefaultGammaURL = "https://gamma-api.polymarket.com"

	// Gamma /markets allows 300 req/10s; stay at 60% of it.
	gammaRatePerSec = 18
	gammaBurst      = 10
)

// GammaClient is the REST client for the Polymarket Gamma API, which
// provides market discovery, metadata and settlement state.
type GammaClient struct {
	rest *rest.Client
}

// NewGammaClient creates a new Gamma API client.
//
// baseURL is the Gamma API root, e.g. "https://gamma-api.polymarket.com".
func NewGammaClient(baseURL string, logger *slog.Logger) *GammaClient {
	if baseURL == "" {
		baseURL = DefaultGammaURL
	}
	return &GammaClient{
		rest: rest.New(rest.Options{
			BaseURL:    baseURL,
			RatePerSec: gammaRatePerSec,
			Burst:      gammaBurst,
		}, logger),
	}
}

// GetMarkets returns one page of markets. The cursor is a decimal offset.
func (g *GammaClient) GetMarkets(ctx context.Context, filter domain.MarketFilter) ([]APIMarket, string, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	offset, _ := strconv.Atoi(filter.Cursor)

	params := url.Values{}
	params.Set("limit", strconv.Itoa(limit))
	params.Set("offset", strconv.Itoa(offset))
	switch filter.Status {
	case "open", "active":
		params.Set("closed", "false")
	case "closed", "settled":
		params.Set("closed", "true")
	}
	if filter.Series != "" {
		params.Set("slug", filter.Series)
	}

	body, err := g.rest.Get(ctx, "/markets", params)
	if err != nil {
		return nil, "", fmt.Errorf("polymarket/gamma: get markets: %w", err)
	}

	var markets []APIMarket
	if err := json.Unmarshal(body, &markets); err != nil {
		return nil, "", fmt.Errorf("polymarket/gamma: decode markets: %w", err)
	}

	next := ""
	if len(markets) == limit {
		next = strconv.Itoa(offset + limit)
	}
	return markets, next, nil
}

// GetMarket returns a single market by its ID.
func (g *GammaClient) GetMarket(ctx context.Context, id string) (APIMarket, error) {
	body, err := g.rest.Get(ctx, "/markets/"+url.PathEscape(id), nil)
	if err != nil {
		return APIMarket{}, fmt.Errorf("polymarket/gamma: get market %s: %w", id, err)
	}

	var m APIMarket
	if err := json.Unmarshal(body, &m); err != nil {
		return APIMarket{}, fmt.Errorf("polymarket/gamma: decode market: %w", err)
	}
	return m, nil
}

// GetMarketBySlug returns a single market looked up by its URL slug.
func (g *GammaClient) GetMarketBySlug(ctx context.Context, slug string) (APIMarket, error) {
	params := url.Values{}
	params.Set("slug", slug)

	body, err := g.rest.Get(ctx, "/markets", params)
	if err != nil {
		return APIMarket{}, fmt.Errorf("polymarket/gamma: get market by slug %s: %w", slug, err)
	}

	var markets []APIMarket
	if err := json.Unmarshal(body, &markets); err != nil {
		return APIMarket{}, fmt.Errorf("polymarket/gamma: decode markets: %w", err)
	}
	if len(markets) == 0 {
		return APIMarket{}, fmt.Errorf("polymarket/gamma: %w: slug=%s", domain.ErrNotFound, slug)
	}
	return markets[0], nil
}

// GetEventBySlug returns an event and its markets by event slug.
func (g *GammaClient) GetEventBySlug(ctx context.Context, slug string) (APIEvent, error) {
	params := url.Values{}
	params.Set("slug", slug)

	body, err := g.rest.Get(ctx, "/events", params)
	if err != nil {
		return APIEvent{}, fmt.Errorf("polymarket/gamma: get event by slug %s: %w", slug, err)
	}

	var events []APIEvent
	if err := json.Unmarshal(body, &events); err != nil {
		return APIEvent{}, fmt.Errorf("polymarket/gamma: decode events: %w", err)
	}
	if len(events) == 0 {
		return APIEvent{}, fmt.Errorf("polymarket/gamma: %w: event slug=%s", domain.ErrNotFound, slug)
	}
	return events[0], nil
}

// GetEvent returns a single event by its ID.
func (g *GammaClient) GetEvent(ctx context.Context, id string) (APIEvent, error) {
	body, err := g.rest.Get(ctx, "/events/"+url.PathEscape(id), nil)
	if err != nil {
		return APIEvent{}, fmt.Errorf("polymarket/gamma: get event %s: %w", id, err)
	}

	var event APIEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return APIEvent{}, fmt.Errorf("polymarket/gamma: decode event: %w", err)
	}
	return event, nil
}

// FetchResult returns the settlement state of a market by ID.
func (g *GammaClient) FetchResult(ctx context.Context, marketID string) (domain.MarketResult, error) {
	m, err := g.GetMarket(ctx, marketID)
	if err != nil {
		return domain.MarketResult{}, err
	}
	return m.Result(), nil
}
