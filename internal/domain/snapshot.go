package domain

import "time"

// Freshness classifies how recent an instrument's data is.
type Freshness string

const (
	FreshnessUnknown Freshness = "unknown"
	FreshnessHealthy Freshness = "healthy"
	FreshnessStale   Freshness = "stale"
)

// ReferenceSource is the provenance of a resolved threshold price.
type ReferenceSource string

const (
	RefPriceToBeat     ReferenceSource = "price_to_beat"
	RefHistorical      ReferenceSource = "historical"
	RefHTML            ReferenceSource = "html"
	RefVenueUnderlying ReferenceSource = "venue_underlying"
	// RefLabel is a price parsed out of an outcome label or question.
	RefLabel           ReferenceSource = "label"
	RefMissing         ReferenceSource = "missing"
)

// ReferencePrice is the threshold the underlying has to beat for UP to win.
type ReferencePrice struct {
	Value  float64
	Source ReferenceSource
	// Recheckable marks provisional values that discovery may still replace.
	Recheckable bool
	UpdatedAt   time.Time
}

// Set reports whether a usable reference value is present.
func (r ReferencePrice) Set() bool {
	return r.Value > 0 && r.Source != "" && r.Source != RefMissing
}

// PricePoint is one sample of the underlying spot price.
type PricePoint struct {
	TS    time.Time
	Price float64
}

// Trade is one executed print on an outcome token.
type Trade struct {
	TS    time.Time
	Price float64
	Size  float64
	// Buy is true when the aggressor bought the token.
	Buy bool
}

// TokenState is the per-token market data held by a snapshot.
type TokenState struct {
	Token     TokenRef
	Book      OrderBook
	LastTrade float64
	Trades    []Trade
}

func (t TokenState) clone() TokenState {
	out := t
	out.Book = t.Book.Clone()
	out.Trades = append([]Trade(nil), t.Trades...)
	return out
}

// PolymarketFields are snapshot fields only Polymarket provides.
type PolymarketFields struct {
	ConditionID string
	EventSlug   string
}

// KalshiFields are snapshot fields only Kalshi provides.
type KalshiFields struct {
	EventTicker string
	FloorStrike float64
	// Underlying is the venue-published underlying value, its sample time and
	// the market it was published for.
	Underlying       float64
	UnderlyingAt     time.Time
	UnderlyingMarket string
}

// VenueFields is a tagged union: exactly one pointer is set, matching the
// snapshot's venue.
type VenueFields struct {
	Polymarket *PolymarketFields
	Kalshi     *KalshiFields
}

// InstrumentSnapshot is the per-coin, per-venue market data state. Hubs own
// the mutable copy; everything else receives clones.
type InstrumentSnapshot struct {
	Venue  Venue
	Coin   string
	Market Market

	Up   TokenState
	Down TokenState

	// History is the bounded spot-price history, oldest first.
	History       []PricePoint
	SpotPrice     float64
	SpotUpdatedAt time.Time

	Reference ReferencePrice

	Freshness   Freshness
	LastBookAt  time.Time
	LastPriceAt time.Time

	Signals SignalBundle
	Fields  VenueFields
}

// Token returns the token state for side s.
func (s InstrumentSnapshot) Token(side Side) TokenState {
	if side == SideUp {
		return s.Up
	}
	return s.Down
}

// TimeLeft returns the time until the selected market closes.
func (s InstrumentSnapshot) TimeLeft(now time.Time) time.Duration {
	return s.Market.TimeLeft(now)
}

// Underlying returns the venue-native underlying sample for marketID, or for
// any market when marketID is empty.
func (s InstrumentSnapshot) Underlying(marketID string) (float64, time.Time, bool) {
	k := s.Fields.Kalshi
	if k == nil || k.Underlying <= 0 {
		return 0, time.Time{}, false
	}
	if marketID != "" && k.UnderlyingMarket != "" && k.UnderlyingMarket != marketID {
		return 0, time.Time{}, false
	}
	return k.Underlying, k.UnderlyingAt, true
}

// Clone returns a deep copy safe to hand out of the owning hub.
func (s InstrumentSnapshot) Clone() InstrumentSnapshot {
	out := s
	out.Up = s.Up.clone()
	out.Down = s.Down.clone()
	out.History = append([]PricePoint(nil), s.History...)
	out.Signals = s.Signals.Clone()
	if s.Fields.Polymarket != nil {
		pf := *s.Fields.Polymarket
		out.Fields.Polymarket = &pf
	}
	if s.Fields.Kalshi != nil {
		kf := *s.Fields.Kalshi
		out.Fields.Kalshi = &kf
	}
	return out
}

// SnapshotSource is the read-only contract decision engines consume.
type SnapshotSource interface {
	Snapshots() map[string]InstrumentSnapshot
}
