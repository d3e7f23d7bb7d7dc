package resolver

import (
	"math"
	"time"

	"github.com/alanyoungcy/updownbot/internal/domain"
)

// FinalPriceSource names how a final price was derived.
type FinalPriceSource string

const (
	FinalUnderlying FinalPriceSource = "underlying"
	FinalAverage    FinalPriceSource = "average"
	FinalStale      FinalPriceSource = "stale"
	FinalPending    FinalPriceSource = "pending"
)

// maxMagnitudeRatio bounds how far an official price may sit from the
// threshold before it is treated as a unit mismatch.
const maxMagnitudeRatio = 10.0

// FinalPriceOptions configures ComputeFinalPrice.
type FinalPriceOptions struct {
	Window          time.Duration
	MinPoints       int
	AllowStaleAfter time.Duration

	// CloseTime and MarketID identify the settled market. Zero values fall
	// back to the snapshot's selected market.
	CloseTime time.Time
	MarketID  string
}

// FinalPrice is the settlement price of the underlying.
type FinalPrice struct {
	Value  *float64
	Source FinalPriceSource
	Points int
}

// Pending reports whether no price is available yet.
func (f FinalPrice) Pending() bool {
	return f.Value == nil
}

// ComputeFinalPrice prefers a venue-native underlying sample near close, then
// the mean of at least MinPoints spot samples in the window before close, then
// (once AllowStaleAfter has passed since close) the last spot price.
func ComputeFinalPrice(snap domain.InstrumentSnapshot, now time.Time, opts FinalPriceOptions) FinalPrice {
	closeAt := opts.CloseTime
	if closeAt.IsZero() {
		closeAt = snap.Market.CloseTime
	}
	marketID := opts.MarketID
	if marketID == "" {
		marketID = snap.Market.ID
	}
	if closeAt.IsZero() || now.Before(closeAt) {
		return FinalPrice{Source: FinalPending}
	}

	if v, at, ok := snap.Underlying(marketID); ok && validPrice(v) && absDuration(at.Sub(closeAt)) <= opts.Window {
		return FinalPrice{Value: domain.Float(v), Source: FinalUnderlying, Points: 1}
	}

	from := closeAt.Add(-opts.Window)
	var sum float64
	var n int
	for _, p := range snap.History {
		if p.TS.Before(from) || p.TS.After(closeAt) || !validPrice(p.Price) {
			continue
		}
		sum += p.Price
		n++
	}
	minPoints := max(opts.MinPoints, 1)
	if n >= minPoints {
		return FinalPrice{Value: domain.Float(sum / float64(n)), Source: FinalAverage, Points: n}
	}

	if now.Sub(closeAt) >= opts.AllowStaleAfter && validPrice(snap.SpotPrice) {
		return FinalPrice{Value: domain.Float(snap.SpotPrice), Source: FinalStale, Points: n}
	}
	return FinalPrice{Source: FinalPending, Points: n}
}

// ComputeOutcomeFromValues returns UP when price ≥ threshold and DOWN
// otherwise. A nil or non-finite input or a non-positive threshold gives
// UNKNOWN.
func ComputeOutcomeFromValues(price, threshold *float64) domain.Outcome {
	if price == nil || threshold == nil {
		return domain.OutcomeUnknown
	}
	p, t := *price, *threshold
	if math.IsNaN(p) || math.IsInf(p, 0) || !validPrice(t) {
		return domain.OutcomeUnknown
	}
	if p >= t {
		return domain.OutcomeUp
	}
	return domain.OutcomeDown
}

// Plausible reports whether price is within an order of magnitude of
// threshold.
func Plausible(price, threshold float64) bool {
	if !validPrice(price) || !validPrice(threshold) {
		return false
	}
	r := price / threshold
	return r <= maxMagnitudeRatio && r >= 1/maxMagnitudeRatio
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
