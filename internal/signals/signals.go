// Package signals derives microstructure metrics from an instrument's books,
// spot history and recent trades. Everything here is pure: the same inputs
// always produce the same bundle.
package signals

import (
	"math"
	"sort"
	"time"

	"github.com/alanyoungcy/updownbot/internal/domain"
	"github.com/alanyoungcy/updownbot/internal/fill"
)

// Options tunes the computation. Zero values fall back to defaults.
type Options struct {
	MomentumAlpha    float64
	DepthLevels      int
	SlippageNotional float64
	TradeWindow      time.Duration
}

func (o Options) withDefaults() Options {
	if o.MomentumAlpha <= 0 || o.MomentumAlpha > 1 {
		o.MomentumAlpha = 0.2
	}
	if o.DepthLevels <= 0 {
		o.DepthLevels = 5
	}
	if o.SlippageNotional <= 0 {
		o.SlippageNotional = 50
	}
	if o.TradeWindow <= 0 {
		o.TradeWindow = time.Minute
	}
	return o
}

// BookState is the book-side input of Compute.
type BookState struct {
	Up   domain.OrderBook
	Down domain.OrderBook
	// LastPriceAt is the last spot price update, zero if none ever arrived.
	LastPriceAt time.Time
	Reference   domain.ReferenceSource
}

// StateFromSnapshot splits a snapshot into Compute's inputs. Trades on the
// down token are folded into the up-token perspective.
func StateFromSnapshot(s domain.InstrumentSnapshot) (BookState, []domain.PricePoint, []domain.Trade) {
	bs := BookState{
		Up:          s.Up.Book,
		Down:        s.Down.Book,
		LastPriceAt: s.LastPriceAt,
		Reference:   s.Reference.Source,
	}
	return bs, s.History, UpPerspective(s.Up.Trades, s.Down.Trades)
}

// UpPerspective merges both tokens' trades into one time-ordered stream seen
// from the up token: buying down is selling up at 1-price.
func UpPerspective(up, down []domain.Trade) []domain.Trade {
	out := make([]domain.Trade, 0, len(up)+len(down))
	out = append(out, up...)
	for _, t := range down {
		out = append(out, domain.Trade{TS: t.TS, Price: 1 - t.Price, Size: t.Size, Buy: !t.Buy})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].TS.Before(out[j].TS) })
	return out
}

// Compute returns the signal bundle. A field is nil when its inputs are
// missing; no input shape makes the whole computation fail.
func Compute(book BookState, history []domain.PricePoint, trades []domain.Trade, now time.Time, opts Options) domain.SignalBundle {
	opts = opts.withDefaults()

	b := domain.SignalBundle{
		Up:               tokenSignals(book.Up, opts),
		Down:             tokenSignals(book.Down, opts),
		PriceMomentum:    Momentum(history, opts.MomentumAlpha),
		PriceVolatility:  Volatility(history),
		ReferenceQuality: domain.Float(ReferenceQuality(book.Reference)),
	}
	b.TradeVelocity, b.TradeFlowImbalance = tradeFlow(trades, now, opts.TradeWindow)
	if !book.LastPriceAt.IsZero() {
		b.PriceStalenessSec = domain.Float(math.Max(0, now.Sub(book.LastPriceAt).Seconds()))
	}
	return b
}

func tokenSignals(ob domain.OrderBook, opts Options) domain.TokenSignals {
	var ts domain.TokenSignals
	bid, hasBid := ob.BestBid()
	ask, hasAsk := ob.BestAsk()
	if hasBid {
		ts.BestBid = domain.Float(bid)
	}
	if hasAsk {
		ts.BestAsk = domain.Float(ask)
		ts.DepthValue = domain.Float(topValue(ob.Asks, opts.DepthLevels))
		if est := fill.SimulateBuy(ob.Asks, opts.SlippageNotional); est != nil {
			ts.Slippage = domain.Float(math.Max(0, est.AvgPriceA-ask))
		}
	}
	if hasBid && hasAsk {
		ts.Spread = domain.Float(ask - bid)
		ts.Mid = domain.Float((ask + bid) / 2)
	}
	bv, av := topValue(ob.Bids, opts.DepthLevels), topValue(ob.Asks, opts.DepthLevels)
	if bv+av > 0 {
		ts.BookImbalance = domain.Float((bv - av) / (bv + av))
	}
	return ts
}

func topValue(levels []domain.PriceLevel, n int) float64 {
	var v float64
	for i, l := range levels {
		if i >= n {
			break
		}
		v += l.Price * l.Size
	}
	return v
}

// Momentum is the exponentially weighted average of simple returns over
// consecutive valid samples, newest weighted by alpha.
func Momentum(history []domain.PricePoint, alpha float64) *float64 {
	var (
		ewma float64
		prev float64
		seen bool
	)
	for _, p := range history {
		if !positive(p.Price) {
			continue
		}
		if prev > 0 {
			r := (p.Price - prev) / prev
			if !seen {
				ewma, seen = r, true
			} else {
				ewma = alpha*r + (1-alpha)*ewma
			}
		}
		prev = p.Price
	}
	if !seen {
		return nil
	}
	return domain.Float(ewma)
}

// Volatility is the population standard deviation of log returns between
// consecutive finite positive prices. It needs at least two such prices.
func Volatility(history []domain.PricePoint) *float64 {
	rets := LogReturns(history)
	if len(rets) == 0 {
		return nil
	}
	var sum float64
	for _, r := range rets {
		sum += r
	}
	mean := sum / float64(len(rets))
	var v float64
	for _, r := range rets {
		d := r - mean
		v += d * d
	}
	return domain.Float(math.Sqrt(v / float64(len(rets))))
}

// LogReturns returns ln(p[i]/p[i-1]) for each adjacent pair of valid prices.
// An invalid sample breaks the chain.
func LogReturns(history []domain.PricePoint) []float64 {
	var out []float64
	prev := 0.0
	for _, p := range history {
		if !positive(p.Price) {
			prev = 0
			continue
		}
		if prev > 0 {
			out = append(out, math.Log(p.Price/prev))
		}
		prev = p.Price
	}
	return out
}

func tradeFlow(trades []domain.Trade, now time.Time, window time.Duration) (*float64, *float64) {
	if len(trades) == 0 {
		return nil, nil
	}
	cut := now.Add(-window)
	var n int
	var buy, sell float64
	for _, t := range trades {
		if t.TS.Before(cut) || t.TS.After(now) || !positive(t.Size) {
			continue
		}
		n++
		if t.Buy {
			buy += t.Size
		} else {
			sell += t.Size
		}
	}
	velocity := domain.Float(float64(n) / window.Seconds())
	if buy+sell <= 0 {
		return velocity, nil
	}
	return velocity, domain.Float((buy - sell) / (buy + sell))
}

// ReferenceQuality scores how trustworthy a threshold's provenance is.
func ReferenceQuality(src domain.ReferenceSource) float64 {
	switch src {
	case domain.RefPriceToBeat, domain.RefVenueUnderlying:
		return 1
	case domain.RefHTML:
		return 0.8
	case domain.RefLabel:
		return 0.7
	case domain.RefHistorical:
		return 0.6
	default:
		return 0
	}
}

// Confidence is the probability that the underlying finishes on side s of
// threshold under a driftless random walk with per-sample volatility vol and
// steps samples remaining. It returns nil when any input is unusable.
func Confidence(spot, threshold, vol, steps float64, s domain.Side) *float64 {
	if !positive(spot) || !positive(threshold) || math.IsNaN(vol) || vol < 0 || math.IsNaN(steps) {
		return nil
	}
	if steps < 1 {
		steps = 1
	}
	d := math.Log(spot / threshold)
	var pUp float64
	if vol == 0 {
		switch {
		case d > 0:
			pUp = 1
		case d < 0:
			pUp = 0
		default:
			pUp = 0.5
		}
	} else {
		pUp = NormCDF(d / (vol * math.Sqrt(steps)))
	}
	if s == domain.SideDown {
		return domain.Float(1 - pUp)
	}
	return domain.Float(pUp)
}

// NormCDF is the standard normal cumulative distribution function.
func NormCDF(z float64) float64 {
	return 0.5 * math.Erfc(-z/math.Sqrt2)
}

func positive(v float64) bool {
	return v > 0 && !math.IsInf(v, 0) && !math.IsNaN(v)
}
