package polymarket

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/alanyoungcy/updownbot/internal/domain"
	"github.com/alanyoungcy/updownbot/internal/feed"
)

// DefaultRTDSURL is the real-time data service endpoint that streams
// underlying crypto prices.
const DefaultRTDSURL = "wss://ws-live-data.polymarket.com"

// Spot price sources on the real-time data service.
const (
	SpotSourceBinance   = "binance"
	SpotSourceChainlink = "chainlink"
)

type rtdsSubscription struct {
	Topic   string `json:"topic"`
	Type    string `json:"type"`
	Filters string `json:"filters,omitempty"`
}

type rtdsRequest struct {
	Action        string             `json:"action"`
	Subscriptions []rtdsSubscription `json:"subscriptions"`
}

type rtdsMessage struct {
	Topic     string          `json:"topic"`
	Type      string          `json:"type"`
	Timestamp int64           `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

type cryptoPrice struct {
	Symbol    string    `json:"symbol"`
	Timestamp int64     `json:"timestamp"`
	Value     flexFloat `json:"value"`
	Data      []struct {
		Timestamp int64     `json:"timestamp"`
		Value     flexFloat `json:"value"`
	} `json:"data"`
}

// SpotCodec subscribes to crypto price topics and turns updates into spot
// events. Subscription IDs are venue symbols such as "btcusdt" (binance)
// or "btc/usd" (chainlink).
type SpotCodec struct {
	venue  domain.Venue
	source string

	mu    sync.RWMutex
	coins map[string]string // symbol -> coin
}

var _ feed.Codec = (*SpotCodec)(nil)

// NewSpotCodec creates a codec for source with a symbol to coin mapping.
// Events are tagged with venue, the hub that consumes them.
func NewSpotCodec(venue domain.Venue, source string, coins map[string]string) *SpotCodec {
	m := make(map[string]string, len(coins))
	for sym, coin := range coins {
		m[strings.ToLower(sym)] = coin
	}
	return &SpotCodec{venue: venue, source: source, coins: m}
}

func (c *SpotCodec) topic() (topic, typ string) {
	if c.source == SpotSourceChainlink {
		return "crypto_prices_chainlink", "*"
	}
	return "crypto_prices", "update"
}

func (c *SpotCodec) request(action string, ids []string) ([][]byte, error) {
	topic, typ := c.topic()
	req := rtdsRequest{Action: action}
	for _, sym := range ids {
		filter, err := json.Marshal(map[string]string{"symbol": strings.ToLower(sym)})
		if err != nil {
			return nil, err
		}
		req.Subscriptions = append(req.Subscriptions, rtdsSubscription{Topic: topic, Type: typ, Filters: string(filter)})
	}
	b, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("polymarket/rtds: marshal %s: %w", action, err)
	}
	return [][]byte{b}, nil
}

// Header implements feed.Codec.
func (c *SpotCodec) Header() (http.Header, error) {
	return nil, nil
}

// SubscribeFrames implements feed.Codec.
func (c *SpotCodec) SubscribeFrames(ids []string, _ bool) ([][]byte, error) {
	return c.request("subscribe", ids)
}

// UnsubscribeFrames implements feed.Codec.
func (c *SpotCodec) UnsubscribeFrames(ids []string) ([][]byte, error) {
	return c.request("unsubscribe", ids)
}

// Decode implements feed.Codec. Historical batches sent on subscribe are
// expanded into one event per point, oldest first.
func (c *SpotCodec) Decode(raw []byte, recv time.Time) ([]domain.FeedEvent, error) {
	var msg rtdsMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, fmt.Errorf("polymarket/rtds: decode message: %w", err)
	}
	if !strings.HasPrefix(msg.Topic, "crypto_prices") || len(msg.Payload) == 0 {
		return nil, nil
	}

	var p cryptoPrice
	if err := json.Unmarshal(msg.Payload, &p); err != nil {
		return nil, fmt.Errorf("polymarket/rtds: decode price: %w", err)
	}
	coin := c.coinFor(p.Symbol)
	if coin == "" {
		return nil, nil
	}

	var out []domain.FeedEvent
	for _, pt := range p.Data {
		if pt.Value > 0 {
			out = append(out, c.event(coin, float64(pt.Value), pt.Timestamp, recv))
		}
	}
	if p.Value > 0 {
		ts := p.Timestamp
		if ts == 0 {
			ts = msg.Timestamp
		}
		out = append(out, c.event(coin, float64(p.Value), ts, recv))
	}
	return out, nil
}

func (c *SpotCodec) event(coin string, price float64, ms int64, recv time.Time) domain.SpotEvent {
	ts := recv
	if ms > 0 {
		ts = time.UnixMilli(ms).UTC()
	}
	return domain.SpotEvent{Venue: c.venue, Coin: coin, Price: price, TS: ts}
}

func (c *SpotCodec) coinFor(symbol string) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.coins[strings.ToLower(strings.TrimSpace(symbol))]
}

// NewSpotClient creates the self-healing real-time data connection. The
// service expects a text "ping" every few seconds.
func NewSpotClient(wsURL string, codec *SpotCodec, backoffMin, backoffMax time.Duration, logger *slog.Logger) *feed.Conn {
	if wsURL == "" {
		wsURL = DefaultRTDSURL
	}
	return feed.NewConn(feed.Options{
		Venue:        codec.venue,
		Name:         "spot",
		URL:          wsURL,
		BackoffMin:   backoffMin,
		BackoffMax:   backoffMax,
		PingInterval: 5 * time.Second,
		TextPing:     []byte("ping"),
	}, codec, logger)
}
