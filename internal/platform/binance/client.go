// Package binance reads historical candles from the Binance spot API. The
// hubs use the open of the window's first minute as a provisional
// reference price.
package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/alanyoungcy/updownbot/internal/domain"
	"github.com/alanyoungcy/updownbot/internal/platform/rest"
)

// DefaultBaseURL is the public spot API root.
const DefaultBaseURL = "https://api.binance.com"

// Kline is one candle.
type Kline struct {
	OpenTime  time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	CloseTime time.Time
}

// Client fetches klines.
type Client struct {
	rest *rest.Client
}

// NewClient creates a Binance client. baseURL defaults to DefaultBaseURL.
func NewClient(baseURL string, logger *slog.Logger) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{rest: rest.New(rest.Options{
		BaseURL:    baseURL,
		RatePerSec: 10,
		Burst:      5,
	}, logger)}
}

// Klines returns up to limit candles of interval starting at start.
func (c *Client) Klines(ctx context.Context, symbol, interval string, start time.Time, limit int) ([]Kline, error) {
	params := url.Values{}
	params.Set("symbol", strings.ToUpper(symbol))
	params.Set("interval", interval)
	params.Set("startTime", strconv.FormatInt(start.UnixMilli(), 10))
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}

	body, err := c.rest.Get(ctx, "/api/v3/klines", params)
	if err != nil {
		return nil, fmt.Errorf("binance: klines %s: %w", symbol, err)
	}

	// [openTime, open, high, low, close, volume, closeTime, ...]
	var rows [][]json.RawMessage
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("binance: decode klines: %w", err)
	}

	out := make([]Kline, 0, len(rows))
	for _, row := range rows {
		k, err := parseKline(row)
		if err != nil {
			return nil, fmt.Errorf("binance: decode klines: %w", err)
		}
		out = append(out, k)
	}
	return out, nil
}

// OpenPrice returns the open of the one-minute candle starting at at.
func (c *Client) OpenPrice(ctx context.Context, symbol string, at time.Time) (float64, error) {
	start := at.Truncate(time.Minute)
	ks, err := c.Klines(ctx, symbol, "1m", start, 1)
	if err != nil {
		return 0, err
	}
	if len(ks) == 0 || !ks[0].OpenTime.Equal(start) {
		return 0, fmt.Errorf("binance: no candle at %s: %w", start.UTC().Format(time.RFC3339), domain.ErrNotFound)
	}
	return ks[0].Open, nil
}

func parseKline(row []json.RawMessage) (Kline, error) {
	if len(row) < 7 {
		return Kline{}, fmt.Errorf("kline has %d fields", len(row))
	}
	var openMs, closeMs int64
	if err := json.Unmarshal(row[0], &openMs); err != nil {
		return Kline{}, fmt.Errorf("open time: %w", err)
	}
	if err := json.Unmarshal(row[6], &closeMs); err != nil {
		return Kline{}, fmt.Errorf("close time: %w", err)
	}

	var prices [4]float64
	for i := range prices {
		var s string
		if err := json.Unmarshal(row[i+1], &s); err != nil {
			return Kline{}, fmt.Errorf("price %d: %w", i, err)
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return Kline{}, fmt.Errorf("price %d: %w", i, err)
		}
		prices[i] = v
	}
	return Kline{
		OpenTime:  time.UnixMilli(openMs).UTC(),
		Open:      prices[0],
		High:      prices[1],
		Low:       prices[2],
		Close:     prices[3],
		CloseTime: time.UnixMilli(closeMs).UTC(),
	}, nil
}
