package engine

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"time"

	"github.com/alanyoungcy/updownbot/internal/domain"
	"github.com/alanyoungcy/updownbot/internal/fill"
	"github.com/alanyoungcy/updownbot/internal/journal"
	"github.com/alanyoungcy/updownbot/internal/resolver"
)

// gapTolerance is the gap difference below which two directions tie.
const gapTolerance = 1e-9

// ArbitrageOptions configures the dual-venue engine.
type ArbitrageOptions struct {
	// MaxSlotSkew is the largest close-time difference between the two
	// venues' markets that still counts as the same window.
	MaxSlotSkew time.Duration
}

// direction pairs one side on the primary venue with the opposite side on
// the secondary venue.
type direction struct {
	name    string
	primary domain.Side
}

var directions = []direction{
	{name: "A_UP_B_DOWN", primary: domain.SideUp},
	{name: "A_DOWN_B_UP", primary: domain.SideDown},
}

func (d direction) secondary() domain.Side {
	return d.primary.Opposite()
}

// candidate is one direction's fill at the rule's full spend.
type candidate struct {
	dir    direction
	est    *domain.FillEstimate
	askA   float64
	askB   float64
	askAOk bool
	askBOk bool
}

// Arbitrage buys complementary outcome tokens on two venues when their
// combined cost leaves a gap below one.
type Arbitrage struct {
	*core
	primary   domain.SnapshotSource
	secondary domain.SnapshotSource
	aopts     ArbitrageOptions
}

// NewArbitrage creates a dual-venue engine. The primary venue breaks ties
// between equally good directions.
func NewArbitrage(primary, secondary domain.SnapshotSource, res *resolver.Resolver, opts Options, aopts ArbitrageOptions, j *journal.Journal, logger *slog.Logger) *Arbitrage {
	if aopts.MaxSlotSkew <= 0 {
		aopts.MaxSlotSkew = 2 * time.Second
	}
	return &Arbitrage{
		core:      newCore("arbitrage", res, opts, j, logger),
		primary:   primary,
		secondary: secondary,
		aopts:     aopts,
	}
}

// Run evaluates on every tick until ctx is cancelled.
func (a *Arbitrage) Run(ctx context.Context) error {
	return a.run(ctx, a.Evaluate)
}

// Evaluate runs one evaluation pass over every coin.
func (a *Arbitrage) Evaluate(ctx context.Context, now time.Time) {
	snapsA := a.primary.Snapshots()
	snapsB := a.secondary.Snapshots()
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, coin := range a.order {
		st := a.coins[coin]
		a.guard(coin, func() error {
			sa, okA := snapsA[coin]
			sb, okB := snapsB[coin]
			return a.evalCoin(st, sa, okA, sb, okB, now)
		})
	}
}

func (a *Arbitrage) evalCoin(st *coinState, sa domain.InstrumentSnapshot, okA bool, sb domain.InstrumentSnapshot, okB bool, now time.Time) error {
	baseView(st, now, sa, sb)

	switch {
	case st.position != nil:
		if len(st.position.Legs) != 2 {
			return errors.New("engine/arbitrage: position must have two legs")
		}
		a.settle(st, func(v domain.Venue) (domain.InstrumentSnapshot, bool) {
			switch {
			case okA && sa.Venue == v:
				return sa, true
			case okB && sb.Venue == v:
				return sb, true
			}
			return domain.InstrumentSnapshot{}, false
		}, now)
		return nil
	case st.pending != nil:
		if st.pending.Due(now) {
			a.confirm(st, sa, okA, sb, okB, now)
		}
		return nil
	}

	switch {
	case !okA || sa.Market.IsZero():
		a.skip(st, skipNoMarket, now, "leg", "primary")
		return nil
	case !okB || sb.Market.IsZero():
		a.skip(st, skipNoMarket, now, "leg", "secondary")
		return nil
	}
	a.entry(st, sa, sb, now)
	return nil
}

func (a *Arbitrage) entry(st *coinState, sa, sb domain.InstrumentSnapshot, now time.Time) {
	left := math.Min(sa.TimeLeft(now).Seconds(), sb.TimeLeft(now).Seconds())
	switch {
	case len(st.rules) == 0:
		a.skip(st, skipNoRules, now)
		return
	case left <= 0:
		a.skip(st, skipClosed, now, "primary", sa.Market.ID, "secondary", sb.Market.ID)
		return
	case sa.Freshness != domain.FreshnessHealthy || sb.Freshness != domain.FreshnessHealthy:
		a.skip(st, skipStale, now, "primary", string(sa.Freshness), "secondary", string(sb.Freshness))
		return
	}
	if skew := sa.Market.CloseTime.Sub(sb.Market.CloseTime); skew > a.aopts.MaxSlotSkew || -skew > a.aopts.MaxSlotSkew {
		a.skip(st, skipSlot, now, "skew_sec", skew.Seconds(), "primary", sa.Market.ID, "secondary", sb.Market.ID)
		return
	}
	rule, ok := st.rules.Match(left)
	if !ok {
		a.skip(st, skipWindow, now, "seconds_left", left, "widest", st.rules.Widest())
		return
	}
	if a.cooling(st, now) {
		return
	}

	bump, sizeFactor := a.governor.adjust(st.coin)
	best := a.pick(sa, sb, rule.MaxSpend*sizeFactor)
	if best == nil {
		a.skip(st, skipNoFill, now, "budget", rule.MaxSpend*sizeFactor)
		return
	}
	st.view.Direction = best.dir.name
	st.view.Gap = domain.Float(best.est.Gap)
	if best.askAOk {
		st.view.BestAsk = domain.Float(best.askA)
	}

	minGap := rule.MinGap + bump
	if best.est.Gap < minGap {
		a.skip(st, skipGap, now, "direction", best.dir.name, "gap", best.est.Gap, "min_gap", minGap)
		return
	}
	if !best.askAOk || !best.askBOk || !rule.PriceInBand(best.askA) || !rule.PriceInBand(best.askB) {
		a.skip(st, skipBand, now, "direction", best.dir.name, "ask_a", best.askA, "ask_b", best.askB)
		return
	}

	// The legs hedge each other, so directional gates do not apply.
	g := rule.Gates
	g.MinConfidence = nil
	g.MinMomentum = nil
	gA := EvaluateGates(g, gateInput(sa, best.dir.primary, nil), a.opts.GateModel)
	gB := EvaluateGates(g, gateInput(sb, best.dir.secondary(), nil), a.opts.GateModel)
	if !gA.Pass || !gB.Pass {
		a.skip(st, skipGate, now, "failed_a", gA.Failed, "failed_b", gB.Failed)
		return
	}
	mult := math.Min(gA.Multiplier, gB.Multiplier)

	budget := rule.MaxSpend * mult * sizeFactor
	if budget <= 0 || budget < rule.MinSpend {
		a.skip(st, skipBudget, now, "budget", budget, "min_spend", rule.MinSpend)
		return
	}
	if limit := rule.Gates.MaxExposure; limit != nil && a.exposure()+budget > *limit {
		a.skip(st, skipExposure, now, "exposure", a.exposure(), "limit", *limit)
		return
	}

	est := best.est
	if budget < rule.MaxSpend*sizeFactor {
		est = fill.ComputeFillEstimate(sa.Token(best.dir.primary).Book.Asks, sb.Token(best.dir.secondary()).Book.Asks, budget)
	}
	if est == nil || est.TotalCost < rule.MinSpend {
		a.skip(st, skipNoFill, now, "direction", best.dir.name, "budget", budget)
		return
	}
	if est.Gap < minGap {
		a.skip(st, skipGap, now, "direction", best.dir.name, "gap", est.Gap, "min_gap", minGap)
		return
	}

	order := domain.PendingOrder{
		Direction: best.dir.name,
		Legs: []domain.LegIntent{
			intent(sa, best.dir.primary),
			intent(sb, best.dir.secondary()),
		},
		Fill:      *est,
		Budget:    budget,
		OriginGap: est.Gap,
	}
	a.commit(st, order, []domain.InstrumentSnapshot{sa, sb}, now,
		"primary", sa.Market.ID,
		"secondary", sb.Market.ID,
		"avg_a", est.AvgPriceA,
		"avg_b", est.AvgPriceB,
		"tier_seconds", rule.TierSeconds,
		"gate_multiplier", mult,
		"governed", bump > 0,
	)
}

// pick computes both directions and returns the one with the higher gap.
// Ties go to the direction whose primary leg is cheaper.
func (a *Arbitrage) pick(sa, sb domain.InstrumentSnapshot, budget float64) *candidate {
	var best *candidate
	for _, d := range directions {
		bookA := sa.Token(d.primary).Book
		bookB := sb.Token(d.secondary()).Book
		est := fill.ComputeFillEstimate(bookA.Asks, bookB.Asks, budget)
		if est == nil {
			continue
		}
		c := &candidate{dir: d, est: est}
		c.askA, c.askAOk = bookA.BestAsk()
		c.askB, c.askBOk = bookB.BestAsk()
		if best == nil || better(c, best) {
			best = c
		}
	}
	return best
}

func better(c, best *candidate) bool {
	diff := c.est.Gap - best.est.Gap
	if math.Abs(diff) > gapTolerance {
		return diff > 0
	}
	return c.askA < best.askA
}

// confirm reprices a due order when both markets are still active.
func (a *Arbitrage) confirm(st *coinState, sa domain.InstrumentSnapshot, okA bool, sb domain.InstrumentSnapshot, okB bool, now time.Time) {
	o := st.pending
	la, lb := o.Legs[0], o.Legs[1]
	est, src := o.Fill, domain.FillMarketChanged
	if okA && okB && sa.Market.Key() == la.MarketKey && sb.Market.Key() == lb.MarketKey {
		src = domain.FillOriginal
		if cur := fill.ComputeFillEstimate(sa.Token(la.Side).Book.Asks, sb.Token(lb.Side).Book.Asks, o.Budget); cur != nil {
			est, src = *cur, domain.FillRepriced
		}
	}
	a.open(st, est, src, est.Gap, []domain.InstrumentSnapshot{sa, sb}, now)
}
