package kalshi

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/alanyoungcy/updownbot/internal/domain"
)

// --------------------------------------------------------------------------
// Kalshi API DTOs
// --------------------------------------------------------------------------

// KalshiMarket represents a market as returned by the Kalshi REST API.
type KalshiMarket struct {
	Ticker          string  `json:"ticker"`
	EventTicker     string  `json:"event_ticker"`
	Title           string  `json:"title"`
	Subtitle        string  `json:"subtitle"`
	YesSubTitle     string  `json:"yes_sub_title"`
	NoSubTitle      string  `json:"no_sub_title"`
	Status          string  `json:"status"` // "initialized", "active", "open", "closed", "settled", "finalized"
	YesBid          float64 `json:"yes_bid"`
	YesAsk          float64 `json:"yes_ask"`
	NoBid           float64 `json:"no_bid"`
	NoAsk           float64 `json:"no_ask"`
	LastPrice       float64 `json:"last_price"`
	Volume          int64   `json:"volume"`
	StrikeType      string  `json:"strike_type"`
	FloorStrike     float64 `json:"floor_strike"`
	CapStrike       float64 `json:"cap_strike"`
	Result          string  `json:"result"` // "yes", "no", "" (unsettled)
	ExpirationValue string  `json:"expiration_value"`
	OpenTime        string  `json:"open_time"`
	CloseTime       string  `json:"close_time"`
	ExpirationTime  string  `json:"expiration_time"`
}

// KalshiOrderbook represents the orderbook for a Kalshi market: resting
// YES bids and NO bids in cents.
type KalshiOrderbook struct {
	Ticker    string             `json:"ticker"`
	YesBids   []KalshiPriceLevel `json:"yes"`
	NoBids    []KalshiPriceLevel `json:"no"`
	Timestamp time.Time          `json:"-"`
}

// KalshiPriceLevel is a single price+quantity entry in the Kalshi orderbook.
// The API sends levels as [price, quantity] pairs; objects are accepted too.
type KalshiPriceLevel struct {
	Price    int64 `json:"price"`    // in cents (1-99)
	Quantity int64 `json:"quantity"` // number of contracts
}

// UnmarshalJSON accepts both [price, quantity] and {"price":..,"quantity":..}.
func (l *KalshiPriceLevel) UnmarshalJSON(data []byte) error {
	var pair []json.Number
	if err := json.Unmarshal(data, &pair); err == nil {
		if len(pair) != 2 {
			return fmt.Errorf("kalshi: price level has %d elements", len(pair))
		}
		p, err := numberToInt(pair[0])
		if err != nil {
			return err
		}
		q, err := numberToInt(pair[1])
		if err != nil {
			return err
		}
		l.Price, l.Quantity = p, q
		return nil
	}
	type plain KalshiPriceLevel
	var obj plain
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	*l = KalshiPriceLevel(obj)
	return nil
}

func numberToInt(n json.Number) (int64, error) {
	if i, err := n.Int64(); err == nil {
		return i, nil
	}
	f, err := n.Float64()
	if err != nil {
		return 0, err
	}
	return int64(f), nil
}

// --------------------------------------------------------------------------
// Kalshi WebSocket DTOs
// --------------------------------------------------------------------------

// KalshiWSMessage is the envelope for Kalshi WebSocket messages.
type KalshiWSMessage struct {
	ID   int64           `json:"id"`
	Type string          `json:"type"` // "orderbook_snapshot", "orderbook_delta", "trade", "subscribed", "error"
	Msg  json.RawMessage `json:"msg"`
	SID  int64           `json:"sid"`
	Seq  int64           `json:"seq"`
}

// KalshiWSOrderbook is an orderbook snapshot received via WebSocket.
type KalshiWSOrderbook struct {
	Ticker string             `json:"market_ticker"`
	Yes    []KalshiPriceLevel `json:"yes"`
	No     []KalshiPriceLevel `json:"no"`
}

// KalshiWSDelta changes the quantity resting at one price by Delta.
type KalshiWSDelta struct {
	Ticker string `json:"market_ticker"`
	Price  int64  `json:"price"`
	Delta  int64  `json:"delta"`
	Side   string `json:"side"` // "yes" or "no"
	TS     string `json:"ts"`
}

// KalshiWSTrade is a public trade print.
type KalshiWSTrade struct {
	Ticker    string `json:"market_ticker"`
	YesPrice  int64  `json:"yes_price"`
	NoPrice   int64  `json:"no_price"`
	Count     int64  `json:"count"`
	TakerSide string `json:"taker_side"`
	TS        int64  `json:"ts"`
}

// KalshiWSSubscribed confirms a subscription and carries its server ID.
type KalshiWSSubscribed struct {
	Channel string `json:"channel"`
	SID     int64  `json:"sid"`
}

// KalshiWSCmd is a command sent over the Kalshi WebSocket.
type KalshiWSCmd struct {
	ID     int64          `json:"id"`
	Cmd    string         `json:"cmd"` // "subscribe", "unsubscribe", "update_subscription"
	Params KalshiWSParams `json:"params"`
}

// KalshiWSParams defines the command parameters.
type KalshiWSParams struct {
	Channels []string `json:"channels,omitempty"`
	Tickers  []string `json:"market_tickers,omitempty"`
	SIDs     []int64  `json:"sids,omitempty"`
	Action   string   `json:"action,omitempty"` // "add_markets" or "delete_markets"
}

// --------------------------------------------------------------------------
// Conversion helpers
// --------------------------------------------------------------------------

// YesToken returns the token ID of the YES (UP) contract of ticker.
func YesToken(ticker string) string { return ticker + ":yes" }

// NoToken returns the token ID of the NO (DOWN) contract of ticker.
func NoToken(ticker string) string { return ticker + ":no" }

// TickerFromToken strips the contract suffix from a token ID.
func TickerFromToken(token string) string {
	if i := strings.LastIndexByte(token, ':'); i > 0 {
		return token[:i]
	}
	return token
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}

// Closed reports whether trading has ended.
func (m *KalshiMarket) Closed() bool {
	switch m.Status {
	case "closed", "settled", "finalized", "determined":
		return true
	}
	return false
}

// ToDomainMarket converts a Kalshi market for coin. YES maps to UP.
func (m *KalshiMarket) ToDomainMarket(coin string) domain.Market {
	question := m.Title
	if m.YesSubTitle != "" {
		question += " " + m.YesSubTitle
	}
	return domain.Market{
		Venue:       domain.VenueKalshi,
		ID:          m.Ticker,
		Slug:        m.Ticker,
		Coin:        coin,
		Question:    strings.TrimSpace(question),
		OpenTime:    parseTime(m.OpenTime),
		CloseTime:   parseTime(m.CloseTime),
		Up:          domain.TokenRef{ID: YesToken(m.Ticker), Label: "Yes"},
		Down:        domain.TokenRef{ID: NoToken(m.Ticker), Label: "No"},
		PriceToBeat: m.FloorStrike,
		Closed:      m.Closed(),
		EventID:     m.EventTicker,
	}
}

// ExpirationPrice parses the published underlying settlement value.
func (m *KalshiMarket) ExpirationPrice() (float64, bool) {
	s := strings.ReplaceAll(strings.TrimSpace(m.ExpirationValue), ",", "")
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || v <= 0 {
		return 0, false
	}
	return v, true
}

// Settlement derives the settlement state of the market.
func (m *KalshiMarket) Settlement() domain.MarketResult {
	res := domain.MarketResult{Closed: m.Closed(), Outcome: domain.OutcomeUnknown}
	switch strings.ToLower(m.Result) {
	case "yes":
		res.Outcome = domain.OutcomeUp
	case "no":
		res.Outcome = domain.OutcomeDown
	}
	if v, ok := m.ExpirationPrice(); ok {
		res.FinalPrice = v
	}
	return res
}

func centsToPrice(c int64) float64 {
	return float64(c) / 100
}

// BookEvents derives both token books from YES and NO bids: YES asks are
// 1 - NO bids and NO asks are 1 - YES bids.
func BookEvents(ticker string, yesBids, noBids []KalshiPriceLevel, ts time.Time) []domain.FeedEvent {
	yes := make([]domain.PriceLevel, 0, len(yesBids))
	yesAsksForNo := make([]domain.PriceLevel, 0, len(yesBids))
	for _, l := range yesBids {
		if l.Quantity <= 0 || l.Price <= 0 || l.Price >= 100 {
			continue
		}
		yes = append(yes, domain.PriceLevel{Price: centsToPrice(l.Price), Size: float64(l.Quantity)})
		yesAsksForNo = append(yesAsksForNo, domain.PriceLevel{Price: centsToPrice(100 - l.Price), Size: float64(l.Quantity)})
	}
	no := make([]domain.PriceLevel, 0, len(noBids))
	noAsksForYes := make([]domain.PriceLevel, 0, len(noBids))
	for _, l := range noBids {
		if l.Quantity <= 0 || l.Price <= 0 || l.Price >= 100 {
			continue
		}
		no = append(no, domain.PriceLevel{Price: centsToPrice(l.Price), Size: float64(l.Quantity)})
		noAsksForYes = append(noAsksForYes, domain.PriceLevel{Price: centsToPrice(100 - l.Price), Size: float64(l.Quantity)})
	}
	return []domain.FeedEvent{
		domain.BookSnapshotEvent{Venue: domain.VenueKalshi, TokenID: YesToken(ticker), Bids: yes, Asks: noAsksForYes, TS: ts},
		domain.BookSnapshotEvent{Venue: domain.VenueKalshi, TokenID: NoToken(ticker), Bids: no, Asks: yesAsksForNo, TS: ts},
	}
}

// LevelEvents mirrors one bid level change onto both token books.
func LevelEvents(ticker, side string, priceCents, qty int64, ts time.Time) []domain.FeedEvent {
	bidToken, askToken := YesToken(ticker), NoToken(ticker)
	if side == "no" {
		bidToken, askToken = askToken, bidToken
	}
	size := float64(qty)
	if size < 0 {
		size = 0
	}
	return []domain.FeedEvent{
		domain.BookDeltaEvent{Venue: domain.VenueKalshi, TokenID: bidToken, Side: domain.BookSideBid, Price: centsToPrice(priceCents), Size: size, TS: ts},
		domain.BookDeltaEvent{Venue: domain.VenueKalshi, TokenID: askToken, Side: domain.BookSideAsk, Price: centsToPrice(100 - priceCents), Size: size, TS: ts},
	}
}
