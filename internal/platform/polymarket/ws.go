package polymarket

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/updownbot/internal/domain"
	"github.com/alanyoungcy/updownbot/internal/feed"
)

// DefaultMarketWSURL is the CLOB market channel endpoint.
const DefaultMarketWSURL = "wss://ws-subscriptions-clob.polymarket.com/ws/market"

// MarketCodec speaks the CLOB market channel protocol: book snapshots,
// price_change level updates and last_trade_price prints keyed by asset ID.
type MarketCodec struct{}

var _ feed.Codec = MarketCodec{}

// Header implements feed.Codec. The market channel is public.
func (MarketCodec) Header() (http.Header, error) {
	return nil, nil
}

// SubscribeFrames implements feed.Codec. A fresh session opens with the
// market-type frame; later additions use the operation form.
func (MarketCodec) SubscribeFrames(ids []string, initial bool) ([][]byte, error) {
	var (
		b   []byte
		err error
	)
	if initial {
		b, err = json.Marshal(subscribeFrame{Type: "market", AssetIDs: ids})
	} else {
		b, err = json.Marshal(operationFrame{AssetIDs: ids, Operation: "subscribe"})
	}
	if err != nil {
		return nil, fmt.Errorf("polymarket/ws: marshal subscribe: %w", err)
	}
	return [][]byte{b}, nil
}

// UnsubscribeFrames implements feed.Codec.
func (MarketCodec) UnsubscribeFrames(ids []string) ([][]byte, error) {
	b, err := json.Marshal(operationFrame{AssetIDs: ids, Operation: "unsubscribe"})
	if err != nil {
		return nil, fmt.Errorf("polymarket/ws: marshal unsubscribe: %w", err)
	}
	return [][]byte{b}, nil
}

// Decode implements feed.Codec. The server sends either a single event
// object or an array of them (the initial book dump).
func (c MarketCodec) Decode(raw []byte, recv time.Time) ([]domain.FeedEvent, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil, nil
	}
	if raw[0] == '[' {
		var items []json.RawMessage
		if err := json.Unmarshal(raw, &items); err != nil {
			return nil, fmt.Errorf("polymarket/ws: decode batch: %w", err)
		}
		var out []domain.FeedEvent
		for _, item := range items {
			evs, err := c.decodeOne(item, recv)
			if err != nil {
				return out, err
			}
			out = append(out, evs...)
		}
		return out, nil
	}
	return c.decodeOne(raw, recv)
}

func (MarketCodec) decodeOne(raw []byte, recv time.Time) ([]domain.FeedEvent, error) {
	var envelope WSEvent
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, fmt.Errorf("polymarket/ws: decode envelope: %w", err)
	}

	switch envelope.EventType {
	case "book":
		var book BookMessage
		if err := json.Unmarshal(raw, &book); err != nil {
			return nil, fmt.Errorf("polymarket/ws: decode book: %w", err)
		}
		if book.AssetID == "" {
			return nil, nil
		}
		return []domain.FeedEvent{BookToEvent(&book, recv)}, nil

	case "price_change":
		var pc PriceChangeMessage
		if err := json.Unmarshal(raw, &pc); err != nil {
			return nil, fmt.Errorf("polymarket/ws: decode price_change: %w", err)
		}
		return PriceChangesToEvents(&pc, recv), nil

	case "last_trade_price":
		var lt LastTradeMessage
		if err := json.Unmarshal(raw, &lt); err != nil {
			return nil, fmt.Errorf("polymarket/ws: decode last_trade_price: %w", err)
		}
		if ev, ok := LastTradeToEvent(&lt, recv); ok {
			return []domain.FeedEvent{ev}, nil
		}
	}
	// tick_size_change and unknown events carry nothing the hub uses.
	return nil, nil
}

// NewWSClient creates the self-healing market channel connection.
//
// wsURL is the CLOB WebSocket endpoint, e.g. DefaultMarketWSURL.
func NewWSClient(wsURL string, backoffMin, backoffMax time.Duration, logger *slog.Logger) *feed.Conn {
	if wsURL == "" {
		wsURL = DefaultMarketWSURL
	}
	return feed.NewConn(feed.Options{
		Venue:      domain.VenuePolymarket,
		Name:       "market",
		URL:        wsURL,
		BackoffMin: backoffMin,
		BackoffMax: backoffMax,
		TextPing:   []byte("PING"),
	}, MarketCodec{}, logger)
}
