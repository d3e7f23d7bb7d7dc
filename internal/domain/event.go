package domain

import "time"

// FeedEvent is an immutable market-data event emitted by a venue feed client.
// The hub is the single consumer that applies events to its snapshots.
type FeedEvent interface {
	EventVenue() Venue
	EventTime() time.Time
}

// BookSnapshotEvent replaces the full book of one token.
type BookSnapshotEvent struct {
	Venue   Venue
	TokenID string
	Bids    []PriceLevel
	Asks    []PriceLevel
	TS      time.Time
}

// BookDeltaEvent changes one level of one token's book. Size 0 removes the level.
type BookDeltaEvent struct {
	Venue   Venue
	TokenID string
	Side    BookSide
	Price   float64
	Size    float64
	TS      time.Time
}

// TradeEvent is a last-trade print on one token.
type TradeEvent struct {
	Venue   Venue
	TokenID string
	Price   float64
	Size    float64
	Buy     bool
	TS      time.Time
}

// SpotEvent is a spot price update for the underlying asset of a coin.
type SpotEvent struct {
	Venue Venue
	Coin  string
	Price float64
	TS    time.Time
}

// UnderlyingEvent is a venue-native underlying value for a market.
type UnderlyingEvent struct {
	Venue    Venue
	MarketID string
	Value    float64
	TS       time.Time
}

// ConnEvent reports a feed connection state change.
type ConnEvent struct {
	Venue     Venue
	Feed      string
	Connected bool
	Err       error
	TS        time.Time
}

func (e BookSnapshotEvent) EventVenue() Venue { return e.Venue }
func (e BookSnapshotEvent) EventTime() time.Time { return e.TS }
func (e BookDeltaEvent) EventVenue() Venue { return e.Venue }
func (e BookDeltaEvent) EventTime() time.Time { return e.TS }
func (e TradeEvent) EventVenue() Venue { return e.Venue }
func (e TradeEvent) EventTime() time.Time { return e.TS }
func (e SpotEvent) EventVenue() Venue { return e.Venue }
func (e SpotEvent) EventTime() time.Time { return e.TS }
func (e UnderlyingEvent) EventVenue() Venue { return e.Venue }
func (e UnderlyingEvent) EventTime() time.Time { return e.TS }
func (e ConnEvent) EventVenue() Venue { return e.Venue }
func (e ConnEvent) EventTime() time.Time { return e.TS }
