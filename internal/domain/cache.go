package domain

import (
	"context"
	"time"
)

// SnapshotSummary is the flat, cacheable view of an instrument snapshot.
type SnapshotSummary struct {
	Venue       Venue           `json:"venue"`
	Coin        string          `json:"coin"`
	MarketID    string          `json:"market_id"`
	Slug        string          `json:"slug"`
	CloseTime   time.Time       `json:"close_time"`
	UpBid       float64         `json:"up_bid"`
	UpAsk       float64         `json:"up_ask"`
	DownBid     float64         `json:"down_bid"`
	DownAsk     float64         `json:"down_ask"`
	Spot        float64         `json:"spot"`
	Reference   float64         `json:"reference"`
	RefSource   ReferenceSource `json:"ref_source"`
	Freshness   Freshness       `json:"freshness"`
	LastBookAt  time.Time       `json:"last_book_at"`
	LastPriceAt time.Time       `json:"last_price_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// Summarize flattens a snapshot for caching and display.
func Summarize(s InstrumentSnapshot, now time.Time) SnapshotSummary {
	sum := SnapshotSummary{
		Venue:       s.Venue,
		Coin:        s.Coin,
		MarketID:    s.Market.ID,
		Slug:        s.Market.Slug,
		CloseTime:   s.Market.CloseTime,
		Spot:        s.SpotPrice,
		Reference:   s.Reference.Value,
		RefSource:   s.Reference.Source,
		Freshness:   s.Freshness,
		LastBookAt:  s.LastBookAt,
		LastPriceAt: s.LastPriceAt,
		UpdatedAt:   now,
	}
	sum.UpBid, _ = s.Up.Book.BestBid()
	sum.UpAsk, _ = s.Up.Book.BestAsk()
	sum.DownBid, _ = s.Down.Book.BestBid()
	sum.DownAsk, _ = s.Down.Book.BestAsk()
	return sum
}

// SnapshotCache keeps the latest snapshot summary per (venue, coin) in a
// shared cache so out-of-process dashboards can read it.
type SnapshotCache interface {
	Put(ctx context.Context, sum SnapshotSummary) error
	Get(ctx context.Context, venue Venue, coin string) (SnapshotSummary, error)
}

// EventBus fans telemetry out over pub/sub and a capped durable stream.
type EventBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	StreamAppend(ctx context.Context, stream string, payload []byte) error
}
