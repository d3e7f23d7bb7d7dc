package kalshi

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/alanyoungcy/updownbot/internal/domain"
	"github.com/alanyoungcy/updownbot/internal/platform/rest"
)

const (
	// DefaultBaseURL is the production trade API root.
	DefaultBaseURL = "https://api.elections.kalshi.com/trade-api/v2"

	// Basic tier allows 20 reads/s.
	ratePerSec = 10
	rateBurst  = 5
)

// Signer produces Kalshi RSA-PSS authentication headers.
type Signer struct {
	keyID string
	key   *rsa.PrivateKey
	now   func() time.Time
}

// NewSigner loads an RSA private key from PEM-encoded bytes (PKCS#8 or
// PKCS#1).
func NewSigner(keyID string, pemBytes []byte) (*Signer, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, fmt.Errorf("kalshi: no PEM block found in private key")
	}

	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		// Try PKCS1 as fallback.
		pkcs1Key, pkcs1Err := x509.ParsePKCS1PrivateKey(block.Bytes)
		if pkcs1Err != nil {
			return nil, fmt.Errorf("kalshi: parse private key: %w (pkcs1: %v)", err, pkcs1Err)
		}
		return &Signer{keyID: keyID, key: pkcs1Key, now: time.Now}, nil
	}

	rsaKey, ok := key.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("kalshi: expected RSA private key, got %T", key)
	}
	return &Signer{keyID: keyID, key: rsaKey, now: time.Now}, nil
}

// Headers signs timestamp + method + path with RSA-PSS-SHA256.
func (s *Signer) Headers(method, path string) (http.Header, error) {
	ts := strconv.FormatInt(s.now().UnixMilli(), 10)
	hash := sha256.Sum256([]byte(ts + method + path))
	signature, err := rsa.SignPSS(rand.Reader, s.key, crypto.SHA256, hash[:], &rsa.PSSOptions{
		SaltLength: rsa.PSSSaltLengthEqualsHash,
	})
	if err != nil {
		return nil, fmt.Errorf("kalshi: RSA sign: %w", err)
	}

	h := http.Header{}
	h.Set("KALSHI-ACCESS-KEY", s.keyID)
	h.Set("KALSHI-ACCESS-SIGNATURE", base64.StdEncoding.EncodeToString(signature))
	h.Set("KALSHI-ACCESS-TIMESTAMP", ts)
	return h, nil
}

// Client is the REST client for Kalshi market data. Requests are signed
// when a signer is configured.
type Client struct {
	rest *rest.Client
}

// NewClient creates a new Kalshi REST client.
//
// baseURL is the API root, e.g. "https://api.elections.kalshi.com/trade-api/v2".
// signer may be nil for the public market data endpoints.
func NewClient(baseURL string, signer *Signer, logger *slog.Logger) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	opts := rest.Options{
		BaseURL:    baseURL,
		RatePerSec: ratePerSec,
		Burst:      rateBurst,
	}
	if signer != nil {
		opts.Sign = signer.Headers
	}
	return &Client{rest: rest.New(opts, logger)}
}

// GetMarkets returns one page of markets matching filter and the cursor of
// the next page ("" when done).
func (c *Client) GetMarkets(ctx context.Context, filter domain.MarketFilter) ([]KalshiMarket, string, error) {
	params := url.Values{}
	if filter.Limit > 0 {
		params.Set("limit", strconv.Itoa(filter.Limit))
	}
	if filter.Cursor != "" {
		params.Set("cursor", filter.Cursor)
	}
	if filter.Series != "" {
		params.Set("series_ticker", filter.Series)
	}
	if filter.Status != "" {
		params.Set("status", filter.Status)
	}

	body, err := c.rest.Get(ctx, "/markets", params)
	if err != nil {
		return nil, "", fmt.Errorf("kalshi: get markets: %w", err)
	}

	var resp struct {
		Markets []KalshiMarket `json:"markets"`
		Cursor  string         `json:"cursor"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, "", fmt.Errorf("kalshi: decode markets: %w", err)
	}
	return resp.Markets, resp.Cursor, nil
}

// GetMarket returns a single market by its ticker.
func (c *Client) GetMarket(ctx context.Context, ticker string) (KalshiMarket, error) {
	body, err := c.rest.Get(ctx, "/markets/"+url.PathEscape(ticker), nil)
	if err != nil {
		return KalshiMarket{}, fmt.Errorf("kalshi: get market %s: %w", ticker, err)
	}

	var resp struct {
		Market KalshiMarket `json:"market"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return KalshiMarket{}, fmt.Errorf("kalshi: decode market: %w", err)
	}
	return resp.Market, nil
}

// GetEvent returns an event and its markets.
func (c *Client) GetEvent(ctx context.Context, eventTicker string) (string, []KalshiMarket, error) {
	body, err := c.rest.Get(ctx, "/events/"+url.PathEscape(eventTicker), nil)
	if err != nil {
		return "", nil, fmt.Errorf("kalshi: get event %s: %w", eventTicker, err)
	}

	var resp struct {
		Event struct {
			EventTicker string `json:"event_ticker"`
			Title       string `json:"title"`
		} `json:"event"`
		Markets []KalshiMarket `json:"markets"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", nil, fmt.Errorf("kalshi: decode event: %w", err)
	}
	return resp.Event.Title, resp.Markets, nil
}

// GetOrderbook returns the current orderbook for the given market ticker.
func (c *Client) GetOrderbook(ctx context.Context, ticker string) (KalshiOrderbook, error) {
	body, err := c.rest.Get(ctx, "/markets/"+url.PathEscape(ticker)+"/orderbook", nil)
	if err != nil {
		return KalshiOrderbook{}, fmt.Errorf("kalshi: get orderbook %s: %w", ticker, err)
	}

	var resp struct {
		Orderbook KalshiOrderbook `json:"orderbook"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return KalshiOrderbook{}, fmt.Errorf("kalshi: decode orderbook: %w", err)
	}

	resp.Orderbook.Ticker = ticker
	resp.Orderbook.Timestamp = time.Now()
	return resp.Orderbook, nil
}
