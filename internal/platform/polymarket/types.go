package polymarket

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/alanyoungcy/updownbot/internal/domain"
)

// flexBool unmarshals from JSON bool or string ("true"/"false") so Gamma API
// responses work whether "active" is sent as bool or string.
type flexBool bool

func (f *flexBool) UnmarshalJSON(data []byte) error {
	var b bool
	if err := json.Unmarshal(data, &b); err == nil {
		*f = flexBool(b)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*f = flexBool(strings.EqualFold(s, "true") || s == "1")
	return nil
}

// flexFloat unmarshals from a JSON number or a numeric string. Null and
// empty strings decode to zero.
type flexFloat float64

func (f *flexFloat) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*f = 0
		return nil
	}
	var v float64
	if err := json.Unmarshal(data, &v); err == nil {
		*f = flexFloat(v)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if strings.TrimSpace(s) == "" {
		*f = 0
		return nil
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return err
	}
	*f = flexFloat(v)
	return nil
}

// --------------------------------------------------------------------------
// Gamma API DTOs
// --------------------------------------------------------------------------

// APIEvent represents an event from the Gamma API. Up/down events carry the
// opening price of the window in their metadata once it is known.
type APIEvent struct {
	ID            string         `json:"id"`
	Title         string         `json:"title"`
	Slug          string         `json:"slug"`
	Active        flexBool       `json:"active"`
	Closed        bool           `json:"closed"`
	StartTime     string         `json:"startTime"`
	EndDate       string         `json:"endDate"`
	EventMetadata *EventMetadata `json:"eventMetadata,omitempty"`
	Markets       []APIMarket    `json:"markets"`
}

// EventMetadata is the structured metadata of an up/down event.
type EventMetadata struct {
	PriceToBeat flexFloat `json:"priceToBeat"`
	FinalPrice  flexFloat `json:"finalPrice"`
}

// APIMarket represents a market from the Gamma API. Outcomes, OutcomePrices
// and ClobTokenIDs are JSON-encoded string arrays.
type APIMarket struct {
	ID             string     `json:"id"`
	Question       string     `json:"question"`
	ConditionID    string     `json:"conditionId"`
	Slug           string     `json:"slug"`
	Active         flexBool   `json:"active"`
	Closed         bool       `json:"closed"`
	Outcomes       string     `json:"outcomes"`      // e.g. "[\"Up\",\"Down\"]"
	OutcomePrices  string     `json:"outcomePrices"` // e.g. "[\"1\",\"0\"]"
	ClobTokenIDs   string     `json:"clobTokenIds"`  // e.g. "[\"123\",\"456\"]"
	Tokens         []Token    `json:"tokens,omitempty"`
	StartDate      string     `json:"startDate"`
	EventStartTime string     `json:"eventStartTime"`
	EndDate        string     `json:"endDate"`
	UMAStatus      string     `json:"umaResolutionStatus"`
	Events         []APIEvent `json:"events,omitempty"`
}

// Token is one outcome token of a market as embedded by some endpoints.
type Token struct {
	TokenID string `json:"token_id"`
	Outcome string `json:"outcome"`
	Winner  bool   `json:"winner"`
}

// --------------------------------------------------------------------------
// Market channel WebSocket DTOs
// --------------------------------------------------------------------------

// WSEvent is the envelope shared by every market channel message.
type WSEvent struct {
	EventType string `json:"event_type"`
}

// BookMessage is a full book snapshot for one asset.
type BookMessage struct {
	EventType string         `json:"event_type"`
	AssetID   string         `json:"asset_id"`
	Market    string         `json:"market"`
	Bids      []WSPriceLevel `json:"bids"`
	Asks      []WSPriceLevel `json:"asks"`
	Timestamp string         `json:"timestamp"`
	Hash      string         `json:"hash"`
}

// WSPriceLevel is a single price level as sent over the websocket.
type WSPriceLevel struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

// PriceChangeMessage carries level updates. Current servers batch them in
// PriceChanges; older servers send a single change inline.
type PriceChangeMessage struct {
	EventType    string        `json:"event_type"`
	Market       string        `json:"market"`
	Timestamp    string        `json:"timestamp"`
	PriceChanges []PriceChange `json:"price_changes"`

	AssetID string `json:"asset_id"`
	Side    string `json:"side"`
	Price   string `json:"price"`
	Size    string `json:"size"`
}

// PriceChange is one level update. Size "0" removes the level.
type PriceChange struct {
	AssetID string `json:"asset_id"`
	Side    string `json:"side"` // "BUY" or "SELL"
	Price   string `json:"price"`
	Size    string `json:"size"`
}

// LastTradeMessage is a trade print.
type LastTradeMessage struct {
	EventType string `json:"event_type"`
	AssetID   string `json:"asset_id"`
	Market    string `json:"market"`
	Price     string `json:"price"`
	Size      string `json:"size"`
	Side      string `json:"side"`
	Timestamp string `json:"timestamp"`
}

// subscribeFrame is the first frame of a market channel session.
type subscribeFrame struct {
	Type     string   `json:"type"`
	AssetIDs []string `json:"assets_ids"`
}

// operationFrame changes the subscription set of a live session.
type operationFrame struct {
	AssetIDs  []string `json:"assets_ids"`
	Operation string   `json:"operation"` // "subscribe" or "unsubscribe"
}

// --------------------------------------------------------------------------
// Conversion helpers
// --------------------------------------------------------------------------

// decodeStringArray parses a JSON-encoded string array such as
// "[\"Up\",\"Down\"]". Malformed input yields nil.
func decodeStringArray(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	var out []string
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return nil
	}
	return out
}

// parseTime accepts RFC3339 timestamps with or without fractional seconds
// and plain dates.
func parseTime(s string) time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02 15:04:05Z07:00", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

// parseMillis converts a unix-millisecond string, falling back to fallback.
func parseMillis(s string, fallback time.Time) time.Time {
	ms, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || ms <= 0 {
		return fallback
	}
	return time.UnixMilli(ms).UTC()
}

func parseFloat(s string) (float64, bool) {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// tokenPairs returns (outcome, tokenID) pairs from either the encoded
// clobTokenIds/outcomes arrays or the embedded tokens list.
func (m *APIMarket) tokenPairs() [][2]string {
	ids := decodeStringArray(m.ClobTokenIDs)
	outcomes := decodeStringArray(m.Outcomes)
	var out [][2]string
	if len(ids) > 0 {
		for i, id := range ids {
			label := ""
			if i < len(outcomes) {
				label = outcomes[i]
			}
			out = append(out, [2]string{label, id})
		}
		return out
	}
	for _, t := range m.Tokens {
		out = append(out, [2]string{t.Outcome, t.TokenID})
	}
	return out
}

// event returns the first embedded event, if any.
func (m *APIMarket) event() *APIEvent {
	if len(m.Events) == 0 {
		return nil
	}
	return &m.Events[0]
}

// ToDomainMarket converts a Gamma market to a domain market for coin. The
// UP token is the outcome labelled "Up" (or "Yes"); the other is DOWN.
func (m *APIMarket) ToDomainMarket(coin string) domain.Market {
	dm := domain.Market{
		Venue:     domain.VenuePolymarket,
		ID:        m.ID,
		Slug:      m.Slug,
		Coin:      coin,
		Question:  m.Question,
		CloseTime: parseTime(m.EndDate),
		Closed:    m.Closed,
	}

	dm.OpenTime = parseTime(m.EventStartTime)
	if dm.OpenTime.IsZero() {
		dm.OpenTime = parseTime(m.StartDate)
	}

	pairs := m.tokenPairs()
	for i, p := range pairs {
		ref := domain.TokenRef{ID: p[1], Label: p[0]}
		switch {
		case isUpLabel(p[0]):
			dm.Up = ref
		case isDownLabel(p[0]):
			dm.Down = ref
		case i == 0 && dm.Up.ID == "":
			dm.Up = ref
		case dm.Down.ID == "":
			dm.Down = ref
		}
	}

	if ev := m.event(); ev != nil {
		dm.EventID = ev.Slug
		if ev.EventMetadata != nil && ev.EventMetadata.PriceToBeat > 0 {
			dm.PriceToBeat = float64(ev.EventMetadata.PriceToBeat)
		}
		if dm.OpenTime.IsZero() {
			dm.OpenTime = parseTime(ev.StartTime)
		}
	}
	if dm.EventID == "" {
		dm.EventID = m.Slug
	}
	dm.URL = "https://polymarket.com/event/" + dm.EventID
	return dm
}

// Result derives the settlement state of a Gamma market. A winner is read
// from the embedded tokens or, failing that, from outcome prices that have
// settled to exactly 1 and 0.
func (m *APIMarket) Result() domain.MarketResult {
	res := domain.MarketResult{Closed: m.Closed, Outcome: domain.OutcomeUnknown}
	if ev := m.event(); ev != nil && ev.EventMetadata != nil && ev.EventMetadata.FinalPrice > 0 {
		res.FinalPrice = float64(ev.EventMetadata.FinalPrice)
	}
	if !m.Closed {
		return res
	}

	for _, t := range m.Tokens {
		if t.Winner {
			res.Outcome = outcomeForLabel(t.Outcome)
			return res
		}
	}

	outcomes := decodeStringArray(m.Outcomes)
	prices := decodeStringArray(m.OutcomePrices)
	if len(outcomes) != 2 || len(prices) != 2 {
		return res
	}
	p0, ok0 := parseFloat(prices[0])
	p1, ok1 := parseFloat(prices[1])
	if !ok0 || !ok1 {
		return res
	}
	switch {
	case p0 == 1 && p1 == 0:
		res.Outcome = outcomeForLabel(outcomes[0])
	case p0 == 0 && p1 == 1:
		res.Outcome = outcomeForLabel(outcomes[1])
	}
	return res
}

func outcomeForLabel(label string) domain.Outcome {
	switch {
	case isUpLabel(label):
		return domain.OutcomeUp
	case isDownLabel(label):
		return domain.OutcomeDown
	}
	return domain.OutcomeUnknown
}

func isUpLabel(s string) bool {
	return strings.EqualFold(s, "up") || strings.EqualFold(s, "yes")
}

func isDownLabel(s string) bool {
	return strings.EqualFold(s, "down") || strings.EqualFold(s, "no")
}

// BookToEvent converts a book message to a snapshot event.
func BookToEvent(b *BookMessage, recv time.Time) domain.BookSnapshotEvent {
	return domain.BookSnapshotEvent{
		Venue:   domain.VenuePolymarket,
		TokenID: b.AssetID,
		Bids:    convertLevels(b.Bids),
		Asks:    convertLevels(b.Asks),
		TS:      parseMillis(b.Timestamp, recv),
	}
}

func convertLevels(in []WSPriceLevel) []domain.PriceLevel {
	out := make([]domain.PriceLevel, 0, len(in))
	for _, lvl := range in {
		p, okP := parseFloat(lvl.Price)
		s, okS := parseFloat(lvl.Size)
		if !okP || !okS {
			continue
		}
		out = append(out, domain.PriceLevel{Price: p, Size: s})
	}
	return out
}

// PriceChangesToEvents converts a price_change message to delta events.
func PriceChangesToEvents(pc *PriceChangeMessage, recv time.Time) []domain.FeedEvent {
	ts := parseMillis(pc.Timestamp, recv)
	changes := pc.PriceChanges
	if len(changes) == 0 && pc.AssetID != "" {
		changes = []PriceChange{{AssetID: pc.AssetID, Side: pc.Side, Price: pc.Price, Size: pc.Size}}
	}
	out := make([]domain.FeedEvent, 0, len(changes))
	for _, c := range changes {
		price, okP := parseFloat(c.Price)
		size, okS := parseFloat(c.Size)
		side, okSide := bookSide(c.Side)
		if !okP || !okS || !okSide || c.AssetID == "" {
			continue
		}
		out = append(out, domain.BookDeltaEvent{
			Venue:   domain.VenuePolymarket,
			TokenID: c.AssetID,
			Side:    side,
			Price:   price,
			Size:    size,
			TS:      ts,
		})
	}
	return out
}

// LastTradeToEvent converts a trade print. ok is false for malformed prints.
func LastTradeToEvent(lt *LastTradeMessage, recv time.Time) (domain.TradeEvent, bool) {
	price, ok := parseFloat(lt.Price)
	if !ok || price <= 0 || lt.AssetID == "" {
		return domain.TradeEvent{}, false
	}
	size, _ := parseFloat(lt.Size)
	return domain.TradeEvent{
		Venue:   domain.VenuePolymarket,
		TokenID: lt.AssetID,
		Price:   price,
		Size:    size,
		Buy:     !strings.EqualFold(lt.Side, "SELL"),
		TS:      parseMillis(lt.Timestamp, recv),
	}, true
}

func bookSide(s string) (domain.BookSide, bool) {
	switch strings.ToUpper(s) {
	case "BUY":
		return domain.BookSideBid, true
	case "SELL":
		return domain.BookSideAsk, true
	}
	return "", false
}
