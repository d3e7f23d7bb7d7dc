package domain

import (
	"math"
	"sort"
	"time"
)

// PriceLevel is a single price+size entry in an orderbook.
type PriceLevel struct {
	Price float64
	Size  float64
}

// BookSide selects the bid or ask ladder.
type BookSide string

const (
	BookSideBid BookSide = "bid"
	BookSideAsk BookSide = "ask"
)

// OrderBook is a reconstructed order book for one outcome token. Bids are
// sorted by descending price, asks by ascending price. No two levels share a
// price and zero-size levels are removed.
type OrderBook struct {
	Bids      []PriceLevel
	Asks      []PriceLevel
	BidValue  float64 // sum of price*size over all bids
	AskValue  float64 // sum of price*size over all asks
	UpdatedAt time.Time
}

// NewOrderBook builds a normalized book from raw ladders in any order.
func NewOrderBook(bids, asks []PriceLevel, ts time.Time) OrderBook {
	b := OrderBook{
		Bids:      NormalizeLevels(bids, true),
		Asks:      NormalizeLevels(asks, false),
		UpdatedAt: ts,
	}
	b.recompute()
	return b
}

// NormalizeLevels merges levels with equal prices, drops non-positive or
// non-finite sizes and prices, and sorts the ladder (descending when desc).
// A later level at an existing price replaces the earlier size.
func NormalizeLevels(levels []PriceLevel, desc bool) []PriceLevel {
	if len(levels) == 0 {
		return nil
	}
	byPrice := make(map[float64]float64, len(levels))
	for _, lvl := range levels {
		if !validLevel(lvl) {
			continue
		}
		byPrice[roundPrice(lvl.Price)] = lvl.Size
	}
	out := make([]PriceLevel, 0, len(byPrice))
	for p, s := range byPrice {
		out = append(out, PriceLevel{Price: p, Size: s})
	}
	sort.Slice(out, func(i, j int) bool {
		if desc {
			return out[i].Price > out[j].Price
		}
		return out[i].Price < out[j].Price
	})
	return out
}

// ApplyLevel sets the size at price on one side; size 0 removes the level.
func (b *OrderBook) ApplyLevel(side BookSide, price, size float64, ts time.Time) {
	if price <= 0 || math.IsNaN(price) || math.IsInf(price, 0) {
		return
	}
	price = roundPrice(price)
	switch side {
	case BookSideBid:
		b.Bids = upsertLevel(b.Bids, price, size, true)
	case BookSideAsk:
		b.Asks = upsertLevel(b.Asks, price, size, false)
	default:
		return
	}
	if ts.After(b.UpdatedAt) {
		b.UpdatedAt = ts
	}
	b.recompute()
}

// BestBid returns the highest bid and whether one exists.
func (b OrderBook) BestBid() (float64, bool) {
	if len(b.Bids) == 0 {
		return 0, false
	}
	return b.Bids[0].Price, true
}

// BestAsk returns the lowest ask and whether one exists.
func (b OrderBook) BestAsk() (float64, bool) {
	if len(b.Asks) == 0 {
		return 0, false
	}
	return b.Asks[0].Price, true
}

// Empty reports whether both ladders are empty.
func (b OrderBook) Empty() bool {
	return len(b.Bids) == 0 && len(b.Asks) == 0
}

// Clone returns a deep copy of the book.
func (b OrderBook) Clone() OrderBook {
	out := b
	out.Bids = append([]PriceLevel(nil), b.Bids...)
	out.Asks = append([]PriceLevel(nil), b.Asks...)
	return out
}

func (b *OrderBook) recompute() {
	b.BidValue = ladderValue(b.Bids)
	b.AskValue = ladderValue(b.Asks)
}

func ladderValue(levels []PriceLevel) float64 {
	var total float64
	for _, l := range levels {
		total += l.Price * l.Size
	}
	return total
}

func upsertLevel(levels []PriceLevel, price, size float64, desc bool) []PriceLevel {
	idx := sort.Search(len(levels), func(i int) bool {
		if desc {
			return levels[i].Price <= price
		}
		return levels[i].Price >= price
	})
	exists := idx < len(levels) && levels[idx].Price == price
	remove := size <= 0 || math.IsNaN(size) || math.IsInf(size, 0)

	switch {
	case exists && remove:
		return append(levels[:idx], levels[idx+1:]...)
	case exists:
		levels[idx].Size = size
		return levels
	case remove:
		return levels
	}

	levels = append(levels, PriceLevel{})
	copy(levels[idx+1:], levels[idx:])
	levels[idx] = PriceLevel{Price: price, Size: size}
	return levels
}

func validLevel(l PriceLevel) bool {
	if math.IsNaN(l.Price) || math.IsInf(l.Price, 0) || l.Price <= 0 {
		return false
	}
	if math.IsNaN(l.Size) || math.IsInf(l.Size, 0) || l.Size <= 0 {
		return false
	}
	return true
}

// roundPrice snaps a price to 1e-6 so that "0.1" parsed twice compares equal
// after arithmetic such as 1-0.9.
func roundPrice(p float64) float64 {
	return math.Round(p*1e6) / 1e6
}
