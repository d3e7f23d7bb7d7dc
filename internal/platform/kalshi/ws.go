package kalshi

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"sync"
	"time"

	"github.com/alanyoungcy/updownbot/internal/domain"
	"github.com/alanyoungcy/updownbot/internal/feed"
)

// DefaultWSURL is the production market data websocket.
const DefaultWSURL = "wss://api.elections.kalshi.com/trade-api/ws/v2"

var wsChannels = []string{"orderbook_delta", "trade"}

// ladder is the resting quantity per price in cents for each contract side.
type ladder struct {
	yes map[int64]int64
	no  map[int64]int64
}

// Codec speaks the Kalshi websocket protocol. Subscription IDs are market
// tickers; emitted token IDs are the tickers suffixed with ":yes"/":no".
// Kalshi sends quantity deltas, so the codec keeps the resting quantities
// of every subscribed ticker to emit absolute level sizes.
type Codec struct {
	signer *Signer
	path   string

	mu      sync.Mutex
	nextID  int64
	pending map[int64][]string // command ID -> tickers awaiting a sid
	waiting map[int64]int      // command ID -> confirmations outstanding
	sids    map[string][]int64 // ticker -> server subscription IDs
	books   map[string]*ladder
}

var (
	_ feed.Codec    = (*Codec)(nil)
	_ feed.Resetter = (*Codec)(nil)
)

// NewCodec creates a codec. wsURL is needed to sign the handshake path.
func NewCodec(wsURL string, signer *Signer) *Codec {
	path := "/trade-api/ws/v2"
	if u, err := url.Parse(wsURL); err == nil && u.Path != "" {
		path = u.Path
	}
	c := &Codec{signer: signer, path: path}
	c.Reset()
	return c
}

// Reset implements feed.Resetter. Subscription IDs and books are per
// session.
func (c *Codec) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending = make(map[int64][]string)
	c.waiting = make(map[int64]int)
	c.sids = make(map[string][]int64)
	c.books = make(map[string]*ladder)
}

// Header implements feed.Codec.
func (c *Codec) Header() (http.Header, error) {
	if c.signer == nil {
		return nil, fmt.Errorf("kalshi/ws: %w: signing key not configured", domain.ErrUnauthorized)
	}
	return c.signer.Headers(http.MethodGet, c.path)
}

// SubscribeFrames implements feed.Codec.
func (c *Codec) SubscribeFrames(ids []string, _ bool) ([][]byte, error) {
	c.mu.Lock()
	c.nextID++
	id := c.nextID
	c.pending[id] = append([]string(nil), ids...)
	c.waiting[id] = len(wsChannels)
	c.mu.Unlock()

	b, err := json.Marshal(KalshiWSCmd{
		ID:     id,
		Cmd:    "subscribe",
		Params: KalshiWSParams{Channels: wsChannels, Tickers: ids},
	})
	if err != nil {
		return nil, fmt.Errorf("kalshi/ws: marshal subscribe: %w", err)
	}
	return [][]byte{b}, nil
}

// UnsubscribeFrames implements feed.Codec. Tickers are removed from the
// server subscriptions that carry them; other tickers on the same
// subscriptions are untouched.
func (c *Codec) UnsubscribeFrames(ids []string) ([][]byte, error) {
	c.mu.Lock()
	bySID := make(map[int64][]string)
	for _, t := range ids {
		for _, sid := range c.sids[t] {
			bySID[sid] = append(bySID[sid], t)
		}
		delete(c.sids, t)
		delete(c.books, t)
	}
	sids := make([]int64, 0, len(bySID))
	for sid := range bySID {
		sids = append(sids, sid)
	}
	sort.Slice(sids, func(i, j int) bool { return sids[i] < sids[j] })

	frames := make([][]byte, 0, len(sids))
	for _, sid := range sids {
		c.nextID++
		b, err := json.Marshal(KalshiWSCmd{
			ID:  c.nextID,
			Cmd: "update_subscription",
			Params: KalshiWSParams{
				SIDs:    []int64{sid},
				Tickers: bySID[sid],
				Action:  "delete_markets",
			},
		})
		if err != nil {
			c.mu.Unlock()
			return nil, fmt.Errorf("kalshi/ws: marshal unsubscribe: %w", err)
		}
		frames = append(frames, b)
	}
	c.mu.Unlock()
	return frames, nil
}

// Decode implements feed.Codec.
func (c *Codec) Decode(raw []byte, recv time.Time) ([]domain.FeedEvent, error) {
	var env KalshiWSMessage
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("kalshi/ws: decode envelope: %w", err)
	}

	switch env.Type {
	case "subscribed":
		var sub KalshiWSSubscribed
		if err := json.Unmarshal(env.Msg, &sub); err != nil {
			return nil, fmt.Errorf("kalshi/ws: decode subscribed: %w", err)
		}
		c.confirm(env.ID, sub.SID)
		return nil, nil

	case "orderbook_snapshot":
		var ob KalshiWSOrderbook
		if err := json.Unmarshal(env.Msg, &ob); err != nil {
			return nil, fmt.Errorf("kalshi/ws: decode snapshot: %w", err)
		}
		c.mu.Lock()
		l := &ladder{yes: make(map[int64]int64), no: make(map[int64]int64)}
		for _, lvl := range ob.Yes {
			l.yes[lvl.Price] = lvl.Quantity
		}
		for _, lvl := range ob.No {
			l.no[lvl.Price] = lvl.Quantity
		}
		c.books[ob.Ticker] = l
		c.mu.Unlock()
		return BookEvents(ob.Ticker, ob.Yes, ob.No, recv), nil

	case "orderbook_delta":
		var d KalshiWSDelta
		if err := json.Unmarshal(env.Msg, &d); err != nil {
			return nil, fmt.Errorf("kalshi/ws: decode delta: %w", err)
		}
		c.mu.Lock()
		l, ok := c.books[d.Ticker]
		if !ok {
			c.mu.Unlock()
			return nil, nil
		}
		side := l.yes
		if d.Side == "no" {
			side = l.no
		}
		qty := side[d.Price] + d.Delta
		if qty <= 0 {
			delete(side, d.Price)
			qty = 0
		} else {
			side[d.Price] = qty
		}
		c.mu.Unlock()

		ts := recv
		if t := parseTime(d.TS); !t.IsZero() {
			ts = t
		}
		return LevelEvents(d.Ticker, d.Side, d.Price, qty, ts), nil

	case "trade":
		var tr KalshiWSTrade
		if err := json.Unmarshal(env.Msg, &tr); err != nil {
			return nil, fmt.Errorf("kalshi/ws: decode trade: %w", err)
		}
		ts := recv
		if tr.TS > 0 {
			ts = time.Unix(tr.TS, 0).UTC()
		}
		token, price := YesToken(tr.Ticker), tr.YesPrice
		if tr.TakerSide == "no" {
			token, price = NoToken(tr.Ticker), tr.NoPrice
		}
		if price <= 0 {
			return nil, nil
		}
		return []domain.FeedEvent{domain.TradeEvent{
			Venue:   domain.VenueKalshi,
			TokenID: token,
			Price:   centsToPrice(price),
			Size:    float64(tr.Count),
			Buy:     true,
			TS:      ts,
		}}, nil

	case "error":
		return nil, fmt.Errorf("kalshi/ws: server error: %s", string(env.Msg))
	}
	return nil, nil
}

func (c *Codec) confirm(cmdID, sid int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	tickers, ok := c.pending[cmdID]
	if !ok {
		return
	}
	for _, t := range tickers {
		c.sids[t] = append(c.sids[t], sid)
	}
	c.waiting[cmdID]--
	if c.waiting[cmdID] <= 0 {
		delete(c.pending, cmdID)
		delete(c.waiting, cmdID)
	}
}

// SIDs returns the server subscription IDs carrying ticker.
func (c *Codec) SIDs(ticker string) []int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]int64(nil), c.sids[ticker]...)
}

// NewWSClient creates the self-healing Kalshi market data connection.
//
// wsURL is the WebSocket endpoint, e.g. DefaultWSURL.
func NewWSClient(wsURL string, signer *Signer, backoffMin, backoffMax time.Duration, logger *slog.Logger) *feed.Conn {
	if wsURL == "" {
		wsURL = DefaultWSURL
	}
	return feed.NewConn(feed.Options{
		Venue:        domain.VenueKalshi,
		Name:         "market",
		URL:          wsURL,
		BackoffMin:   backoffMin,
		BackoffMax:   backoffMax,
		PingInterval: 10 * time.Second,
	}, NewCodec(wsURL, signer), logger)
}
