package domain

import (
	"strings"
	"time"
)

// Venue identifies one of the independent market operators whose books are
// ingested.
type Venue string

const (
	VenuePolymarket Venue = "polymarket"
	VenueKalshi     Venue = "kalshi"
)

// Side is the direction of a binary up/down market.
type Side string

const (
	SideUp   Side = "UP"
	SideDown Side = "DOWN"
)

// Opposite returns the other side of the market.
func (s Side) Opposite() Side {
	if s == SideUp {
		return SideDown
	}
	return SideUp
}

// Outcome is the settlement result of a market.
type Outcome string

const (
	OutcomeUp      Outcome = "UP"
	OutcomeDown    Outcome = "DOWN"
	OutcomeUnknown Outcome = "UNKNOWN"
)

// Known reports whether the outcome is UP or DOWN.
func (o Outcome) Known() bool {
	return o == OutcomeUp || o == OutcomeDown
}

// Wins reports whether holding side s pays out under outcome o.
func (o Outcome) Wins(s Side) bool {
	return (o == OutcomeUp && s == SideUp) || (o == OutcomeDown && s == SideDown)
}

// TokenRef is one of the two outcome tokens of a binary market. On Kalshi the
// token ID is the market ticker suffixed with ":yes" or ":no".
type TokenRef struct {
	ID    string
	Label string
}

// Market describes the currently selected binary market of an instrument.
type Market struct {
	Venue       Venue
	ID          string
	Slug        string // Polymarket slug or Kalshi ticker
	Coin        string
	Question    string
	OpenTime    time.Time
	CloseTime   time.Time
	Up          TokenRef
	Down        TokenRef
	PriceToBeat float64
	Closed      bool

	// EventID groups related markets (Polymarket event slug, Kalshi event ticker).
	EventID string
	// URL is the public page of the market, used for HTML reference scraping.
	URL string
}

// Key uniquely identifies the market across venues.
func (m Market) Key() string {
	if m.ID == "" {
		return ""
	}
	return string(m.Venue) + ":" + m.ID
}

// IsZero reports whether no market has been selected.
func (m Market) IsZero() bool {
	return m.ID == ""
}

// TimeLeft returns the time until close, negative once closed.
func (m Market) TimeLeft(now time.Time) time.Duration {
	if m.CloseTime.IsZero() {
		return 0
	}
	return m.CloseTime.Sub(now)
}

// Token returns the token reference for the given side.
func (m Market) Token(s Side) TokenRef {
	if s == SideUp {
		return m.Up
	}
	return m.Down
}

// TokenIDs returns the non-empty outcome token IDs.
func (m Market) TokenIDs() []string {
	out := make([]string, 0, 2)
	for _, id := range []string{m.Up.ID, m.Down.ID} {
		if strings.TrimSpace(id) != "" {
			out = append(out, id)
		}
	}
	return out
}

// MarketResult is the venue-native settlement state fetched after close.
type MarketResult struct {
	Closed bool
	// Outcome is UNKNOWN when the venue has not published a winner yet.
	Outcome Outcome
	// FinalPrice is the official underlying settlement value, 0 when absent.
	FinalPrice float64
}

// MarketFilter narrows a market listing.
type MarketFilter struct {
	Series string
	Status string
	Limit  int
	Cursor string
}
