package polymarket

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/alanyoungcy/updownbot/internal/domain"
	"github.com/alanyoungcy/updownbot/internal/platform/rest"
)

// DefaultSiteURL is the public polymarket.com site root.
const DefaultSiteURL = "https://polymarket.com"

const (
	siteRatePerSec = 2
	siteBurst      = 2
)

// Embedded page state names the opening price in a handful of shapes,
// quoted or not.
var pagePricePatterns = []*regexp.Regexp{
	regexp.MustCompile(`"priceToBeat"\s*:\s*"?([0-9]+(?:\.[0-9]+)?)"?`),
	regexp.MustCompile(`"openPrice"\s*:\s*"?([0-9]+(?:\.[0-9]+)?)"?`),
	regexp.MustCompile(`(?i)price\s+to\s+beat[^0-9$]{0,40}\$?\s*([0-9][0-9,]*(?:\.[0-9]+)?)`),
}

// CryptoPrice is the opening and closing underlying price of one up/down
// window as published by the site. Close is zero until the window ends.
type CryptoPrice struct {
	Open  float64
	Close float64
}

// SiteClient reads data the site publishes outside the Gamma API: the
// crypto price endpoint and event pages.
type SiteClient struct {
	rest *rest.Client
}

// NewSiteClient creates a site client. baseURL defaults to DefaultSiteURL.
func NewSiteClient(baseURL string, logger *slog.Logger) *SiteClient {
	if baseURL == "" {
		baseURL = DefaultSiteURL
	}
	return &SiteClient{
		rest: rest.New(rest.Options{
			BaseURL:    baseURL,
			RatePerSec: siteRatePerSec,
			Burst:      siteBurst,
			MaxRetries: 1,
		}, logger),
	}
}

// CryptoPrice fetches the window prices for symbol (e.g. "BTC"). variant
// names the window length, e.g. "fifteen".
func (s *SiteClient) CryptoPrice(ctx context.Context, symbol, variant string, start, end time.Time) (CryptoPrice, error) {
	params := url.Values{}
	params.Set("symbol", strings.ToUpper(symbol))
	params.Set("eventStartTime", start.UTC().Format(time.RFC3339))
	params.Set("variant", variant)
	params.Set("endDate", end.UTC().Format(time.RFC3339))

	body, err := s.rest.Get(ctx, "/api/crypto/crypto-price", params)
	if err != nil {
		return CryptoPrice{}, fmt.Errorf("polymarket/site: crypto price %s: %w", symbol, err)
	}

	var resp struct {
		OpenPrice  *flexFloat `json:"openPrice"`
		ClosePrice *flexFloat `json:"closePrice"`
		Error      string     `json:"error"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return CryptoPrice{}, fmt.Errorf("polymarket/site: decode crypto price: %w", err)
	}
	if resp.Error != "" {
		return CryptoPrice{}, fmt.Errorf("polymarket/site: crypto price: %s", resp.Error)
	}
	if resp.OpenPrice == nil || *resp.OpenPrice <= 0 {
		return CryptoPrice{}, fmt.Errorf("polymarket/site: crypto price %s: %w", symbol, domain.ErrNotFound)
	}

	out := CryptoPrice{Open: float64(*resp.OpenPrice)}
	if resp.ClosePrice != nil && *resp.ClosePrice > 0 {
		out.Close = float64(*resp.ClosePrice)
	}
	return out, nil
}

// PagePriceToBeat fetches an event page and extracts the opening price from
// its embedded state.
func (s *SiteClient) PagePriceToBeat(ctx context.Context, pageURL string) (float64, error) {
	path := pageURL
	if u, err := url.Parse(pageURL); err == nil && u.IsAbs() {
		path = u.Path
	}

	body, err := s.rest.Get(ctx, path, nil)
	if err != nil {
		return 0, fmt.Errorf("polymarket/site: fetch page %s: %w", path, err)
	}
	v, ok := ExtractPriceToBeat(string(body))
	if !ok {
		return 0, fmt.Errorf("polymarket/site: page %s: %w", path, domain.ErrNotFound)
	}
	return v, nil
}

// ExtractPriceToBeat finds the first positive opening price in page text.
func ExtractPriceToBeat(page string) (float64, bool) {
	for _, re := range pagePricePatterns {
		for _, m := range re.FindAllStringSubmatch(page, -1) {
			v, err := strconv.ParseFloat(strings.ReplaceAll(m[1], ",", ""), 64)
			if err == nil && v > 0 {
				return v, true
			}
		}
	}
	return 0, false
}
