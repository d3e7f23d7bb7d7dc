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
	"github.com/alanyoungcy/updownbot/internal/signals"
)

// ProfileOptions configures the single-venue engine.
type ProfileOptions struct {
	CrossEnabled bool
	// CrossWindow is the time left before close inside which a cross is
	// considered.
	CrossWindow time.Duration
	// CrossMinLoss is the smallest loss-to-date that triggers a cross.
	CrossMinLoss float64
	// CrossRecoveryMultiple is the required potential recovery of the new
	// side as a multiple of the loss-to-date.
	CrossRecoveryMultiple float64
	// CrossWithoutFlip allows crossing while the favored side is unchanged.
	CrossWithoutFlip bool
	MaxCrosses       int
}

func (o ProfileOptions) withDefaults() ProfileOptions {
	if o.CrossWindow <= 0 {
		o.CrossWindow = 120 * time.Second
	}
	if o.CrossRecoveryMultiple <= 0 {
		o.CrossRecoveryMultiple = 1.5
	}
	if o.MaxCrosses <= 0 {
		o.MaxCrosses = 1
	}
	return o
}

// Profile buys the side favored by the spot price against the threshold on
// one venue.
type Profile struct {
	*core
	src   domain.SnapshotSource
	popts ProfileOptions
}

// NewProfile creates a single-venue engine reading src.
func NewProfile(src domain.SnapshotSource, res *resolver.Resolver, opts Options, popts ProfileOptions, j *journal.Journal, logger *slog.Logger) *Profile {
	return &Profile{
		core:  newCore("profile", res, opts, j, logger),
		src:   src,
		popts: popts.withDefaults(),
	}
}

// Run evaluates on every tick until ctx is cancelled.
func (p *Profile) Run(ctx context.Context) error {
	return p.run(ctx, p.Evaluate)
}

// Evaluate runs one evaluation pass over every coin.
func (p *Profile) Evaluate(ctx context.Context, now time.Time) {
	snaps := p.src.Snapshots()
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, coin := range p.order {
		st := p.coins[coin]
		p.guard(coin, func() error {
			snap, ok := snaps[coin]
			return p.evalCoin(st, snap, ok, now)
		})
	}
}

func (p *Profile) evalCoin(st *coinState, snap domain.InstrumentSnapshot, ok bool, now time.Time) error {
	baseView(st, now, snap)

	switch {
	case st.position != nil:
		if len(st.position.Legs) != 1 {
			return errors.New("engine/profile: position must have exactly one leg")
		}
		leg := st.position.Legs[0]
		if now.Before(leg.CloseTime) {
			if ok {
				p.maybeCross(st, snap, now)
			}
			return nil
		}
		p.settle(st, func(v domain.Venue) (domain.InstrumentSnapshot, bool) {
			return snap, ok && snap.Venue == v
		}, now)
		return nil
	case st.pending != nil:
		if st.pending.Due(now) {
			p.confirm(st, snap, ok, now)
		}
		return nil
	}

	if !ok || snap.Market.IsZero() {
		p.skip(st, skipNoMarket, now)
		return nil
	}
	p.entry(st, snap, now)
	return nil
}

func (p *Profile) entry(st *coinState, snap domain.InstrumentSnapshot, now time.Time) {
	left := snap.TimeLeft(now).Seconds()
	switch {
	case len(st.rules) == 0:
		p.skip(st, skipNoRules, now)
		return
	case left <= 0:
		p.skip(st, skipClosed, now, "market", snap.Market.ID)
		return
	case snap.Freshness != domain.FreshnessHealthy:
		p.skip(st, skipStale, now, "freshness", string(snap.Freshness))
		return
	}
	rule, ok := st.rules.Match(left)
	if !ok {
		p.skip(st, skipWindow, now, "seconds_left", left, "widest", st.rules.Widest())
		return
	}
	if p.cooling(st, now) {
		return
	}

	th := resolver.ResolveThreshold(snap)
	if th.Missing() {
		p.skip(st, skipThreshold, now, "market", snap.Market.ID)
		return
	}
	st.view.Threshold = th.Value
	st.view.RefSource = th.Source
	spot := snap.SpotPrice
	if spot <= 0 || math.IsNaN(spot) {
		p.skip(st, skipSpot, now)
		return
	}

	threshold := *th.Value
	side := favored(spot, threshold)
	gap := math.Abs(spot-threshold) / threshold
	st.view.Direction = string(side)
	st.view.Gap = domain.Float(gap)

	bump, sizeFactor := p.governor.adjust(st.coin)
	if gap < rule.MinGap+bump {
		p.skip(st, skipGap, now, "gap", gap, "min_gap", rule.MinGap+bump)
		return
	}

	book := snap.Token(side).Book
	ask, ok := book.BestAsk()
	if ok {
		st.view.BestAsk = domain.Float(ask)
	}
	if !ok || !rule.PriceInBand(ask) {
		p.skip(st, skipBand, now, "side", string(side), "ask", ask, "min_price", rule.MinPrice, "max_price", rule.MaxPrice)
		return
	}

	var conf *float64
	if vol := snap.Signals.PriceVolatility; vol != nil {
		steps := left / p.opts.HistoryStep.Seconds()
		conf = signals.Confidence(spot, threshold, *vol, steps, side)
	}
	gates := EvaluateGates(rule.Gates, gateInput(snap, side, conf), p.opts.GateModel)
	if !gates.Pass {
		p.skip(st, skipGate, now, "failed", gates.Failed, "multiplier", gates.Multiplier)
		return
	}

	budget := rule.MaxSpend * gates.Multiplier * sizeFactor
	if budget <= 0 || budget < rule.MinSpend {
		p.skip(st, skipBudget, now, "budget", budget, "min_spend", rule.MinSpend)
		return
	}
	if limit := rule.Gates.MaxExposure; limit != nil && p.exposure()+budget > *limit {
		p.skip(st, skipExposure, now, "exposure", p.exposure(), "limit", *limit)
		return
	}

	est := fill.SimulateBuy(book.Asks, budget)
	if est == nil || est.TotalCost < rule.MinSpend {
		p.skip(st, skipNoFill, now, "side", string(side), "budget", budget)
		return
	}

	order := domain.PendingOrder{
		Direction: string(side),
		Legs:      []domain.LegIntent{intent(snap, side)},
		Fill:      *est,
		Budget:    budget,
		OriginGap: 1 - est.AvgPriceA,
	}
	p.commit(st, order, []domain.InstrumentSnapshot{snap}, now,
		"market", snap.Market.ID,
		"spot", spot,
		"threshold", threshold,
		"threshold_source", string(th.Source),
		"price_gap", gap,
		"tier_seconds", rule.TierSeconds,
		"gate_multiplier", gates.Multiplier,
		"governed", bump > 0,
	)
}

// confirm reprices a due order against the live book when its market is
// still active and falls back to the committed fill otherwise.
func (p *Profile) confirm(st *coinState, snap domain.InstrumentSnapshot, ok bool, now time.Time) {
	o := st.pending
	leg := o.Legs[0]
	est, src := o.Fill, domain.FillMarketChanged
	if ok && snap.Market.Key() == leg.MarketKey {
		src = domain.FillOriginal
		if cur := fill.SimulateBuy(snap.Token(leg.Side).Book.Asks, o.Budget); cur != nil {
			est, src = *cur, domain.FillRepriced
		}
	}
	p.open(st, est, src, 1-est.AvgPriceA, []domain.InstrumentSnapshot{snap}, now)
}

// maybeCross sells the held side into the bids and buys the other side when
// the favored outcome flipped late in the window and the new side can
// recover enough of the loss-to-date.
func (p *Profile) maybeCross(st *coinState, snap domain.InstrumentSnapshot, now time.Time) {
	pos := st.position
	if !p.popts.CrossEnabled || pos.Crosses >= p.popts.MaxCrosses {
		return
	}
	leg := pos.Legs[0]
	if snap.Market.Key() != leg.MarketKey || snap.Freshness != domain.FreshnessHealthy {
		return
	}
	left := snap.TimeLeft(now)
	if left <= 0 || left > p.popts.CrossWindow {
		return
	}
	th := resolver.ResolveThreshold(snap)
	if th.Missing() || snap.SpotPrice <= 0 {
		return
	}
	fav := favored(snap.SpotPrice, *th.Value)
	flipped := fav != leg.Side
	if !flipped && !p.popts.CrossWithoutFlip {
		return
	}

	sell := fill.SimulateSell(snap.Token(leg.Side).Book.Bids, leg.Shares)
	if sell == nil || !sell.Complete {
		sold := 0.0
		if sell != nil {
			sold = sell.Shares
		}
		p.crossFailed(st, "thin_bids", "cross failed: bids cannot absorb position",
			"position", pos.ID, "shares", leg.Shares, "fillable", sold)
		return
	}
	loss := leg.Cost - sell.Proceeds
	if loss < p.popts.CrossMinLoss {
		return
	}

	target := leg.Side.Opposite()
	buy := fill.SimulateBuy(snap.Token(target).Book.Asks, leg.Cost)
	if buy == nil {
		p.crossFailed(st, "no_asks", "cross failed: no asks on the other side", "position", pos.ID)
		return
	}
	recovery := buy.Shares - buy.TotalCost
	if recovery < p.popts.CrossRecoveryMultiple*loss {
		return
	}

	pos.Proceeds += sell.Proceeds
	pos.Spent += buy.TotalCost
	pos.Crosses++
	pos.Legs = []domain.Leg{{
		LegIntent: intent(snap, target),
		Shares:    buy.Shares,
		AvgPrice:  buy.AvgPriceA,
		Cost:      buy.TotalCost,
		Outcome:   domain.OutcomeUnknown,
	}}
	st.legSnaps = []domain.InstrumentSnapshot{snap}
	st.crossFail = ""
	p.stats.Crosses++
	p.stats.Proceeds += sell.Proceeds
	p.stats.Spent += buy.TotalCost

	p.journal.Info(domain.KindCross, st.coin, "position crossed",
		"position", pos.ID,
		"from", string(leg.Side),
		"to", string(target),
		"flipped", flipped,
		"sold_shares", sell.Shares,
		"sell_avg", sell.AvgPrice,
		"loss", loss,
		"bought_shares", buy.Shares,
		"buy_avg", buy.AvgPriceA,
		"recovery", recovery,
		"seconds_left", left.Seconds(),
	)
	p.persist(*pos)
}

// crossFailed counts and reports a failed cross once per position and
// reason; the same failure on later ticks is silent.
func (p *Profile) crossFailed(st *coinState, reason, msg string, kv ...any) {
	if st.crossFail == reason {
		return
	}
	st.crossFail = reason
	p.stats.CrossFailures++
	p.journal.Warn(domain.KindCross, st.coin, msg, append([]any{"reason", reason}, kv...)...)
}

// favored is the side the spot price currently sits on.
func favored(spot, threshold float64) domain.Side {
	if spot >= threshold {
		return domain.SideUp
	}
	return domain.SideDown
}
