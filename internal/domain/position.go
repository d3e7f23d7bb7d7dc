package domain

import "time"

// FillEstimate is the result of walking one or two ask ladders with a budget.
// For a single-sided fill only the A fields are populated and Gap is zero.
type FillEstimate struct {
	Shares    float64 `json:"shares"`
	AvgPriceA float64 `json:"avg_price_a"`
	AvgPriceB float64 `json:"avg_price_b"`
	CostA     float64 `json:"cost_a"`
	CostB     float64 `json:"cost_b"`
	TotalCost float64 `json:"total_cost"`
	Gap       float64 `json:"gap"`
	TwoSided  bool    `json:"two_sided"`
}

// FillSource tags where a confirmed fill came from.
type FillSource string

const (
	FillRepriced      FillSource = "repriced"
	FillMarketChanged FillSource = "market-changed"
	FillOriginal      FillSource = "original"
)

// PositionStatus is the lifecycle state of a simulated position.
type PositionStatus string

const (
	PositionOpen     PositionStatus = "open"
	PositionCrossed  PositionStatus = "crossed"
	PositionResolved PositionStatus = "resolved"
)

// LegIntent identifies what a leg buys: one outcome token of one market.
type LegIntent struct {
	Venue     Venue     `json:"venue"`
	MarketKey string    `json:"market_key"`
	MarketID  string    `json:"market_id"`
	Slug      string    `json:"slug"`
	TokenID   string    `json:"token_id"`
	Side      Side      `json:"side"`
	CloseTime time.Time `json:"close_time"`
}

// Leg is a filled holding in one outcome token.
type Leg struct {
	LegIntent
	Shares   float64 `json:"shares"`
	AvgPrice float64 `json:"avg_price"`
	Cost     float64 `json:"cost"`

	Outcome    Outcome   `json:"outcome"`
	Resolved   bool      `json:"resolved"`
	ResolvedAt time.Time `json:"resolved_at"`
	// ResolutionSource names how the outcome was obtained.
	ResolutionSource string  `json:"resolution_source"`
	Payout           float64 `json:"payout"`
}

// Won reports whether a resolved leg paid out.
func (l Leg) Won() bool {
	return l.Resolved && l.Outcome.Wins(l.Side)
}

// Position is one simulated holding per (engine, coin). Single-venue
// positions have one leg, dual-venue positions have two.
type Position struct {
	ID         string         `json:"id"`
	Engine     string         `json:"engine"`
	Coin       string         `json:"coin"`
	Legs       []Leg          `json:"legs"`
	OpenedAt   time.Time      `json:"opened_at"`
	FillSource FillSource     `json:"fill_source"`
	OriginGap  float64        `json:"origin_gap"`
	ActualGap  float64        `json:"actual_gap"`
	Status     PositionStatus `json:"status"`
	ClosedAt   time.Time      `json:"closed_at"`
	// Spent is every buy including legs since sold by a cross; Proceeds is
	// what those sales returned.
	Spent    float64 `json:"spent"`
	Proceeds float64 `json:"proceeds"`
	Payout   float64 `json:"payout"`
	PnL      float64 `json:"pnl"`
	// Crosses counts how many times the profile engine flipped this holding.
	Crosses int `json:"crosses"`
}

// Cost returns the total spend across legs.
func (p Position) Cost() float64 {
	var c float64
	for _, l := range p.Legs {
		c += l.Cost
	}
	return c
}

// Resolved reports whether every leg has an outcome.
func (p Position) Resolved() bool {
	if len(p.Legs) == 0 {
		return false
	}
	for _, l := range p.Legs {
		if !l.Resolved {
			return false
		}
	}
	return true
}

// Clone deep-copies the legs.
func (p Position) Clone() Position {
	out := p
	out.Legs = append([]Leg(nil), p.Legs...)
	return out
}

// PendingOrder is a committed but unconfirmed execution. It cannot be
// cancelled, only repriced when due.
type PendingOrder struct {
	ID          string       `json:"id"`
	Coin        string       `json:"coin"`
	Direction   string       `json:"direction"`
	Legs        []LegIntent  `json:"legs"`
	Fill        FillEstimate `json:"fill"`
	Budget      float64      `json:"budget"`
	OriginGap   float64      `json:"origin_gap"`
	CommittedAt time.Time    `json:"committed_at"`
	DueAt       time.Time    `json:"due_at"`
}

// Due reports whether the order should be confirmed at now.
func (p PendingOrder) Due(now time.Time) bool {
	return !now.Before(p.DueAt)
}
