package engine

import (
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/updownbot/internal/domain"
	"github.com/alanyoungcy/updownbot/internal/resolver"
)

// intent describes buying side s of snap's current market.
func intent(snap domain.InstrumentSnapshot, s domain.Side) domain.LegIntent {
	m := snap.Market
	return domain.LegIntent{
		Venue:     snap.Venue,
		MarketKey: m.Key(),
		MarketID:  m.ID,
		Slug:      m.Slug,
		TokenID:   m.Token(s).ID,
		Side:      s,
		CloseTime: m.CloseTime,
	}
}

// legFill returns leg i's share of a one- or two-sided fill.
func legFill(est domain.FillEstimate, i int) (shares, avg, cost float64) {
	if i == 0 {
		return est.Shares, est.AvgPriceA, est.CostA
	}
	return est.Shares, est.AvgPriceB, est.CostB
}

// commit records a pending order. From here on the order can only be
// repriced, never cancelled.
func (c *core) commit(st *coinState, o domain.PendingOrder, snaps []domain.InstrumentSnapshot, now time.Time, kv ...any) {
	o.ID = uuid.NewString()
	o.Coin = st.coin
	o.CommittedAt = now
	o.DueAt = now.Add(c.latency())
	st.pending = &o
	st.pendingSnaps = snaps
	st.view.LastSkip = ""
	c.skips.reset(st.coin)

	fields := []any{
		"order", o.ID,
		"direction", o.Direction,
		"budget", o.Budget,
		"shares", o.Fill.Shares,
		"cost", o.Fill.TotalCost,
		"origin_gap", o.OriginGap,
		"due_in_ms", o.DueAt.Sub(now).Milliseconds(),
	}
	c.journal.Info(domain.KindCommit, st.coin, "order committed", append(fields, kv...)...)
}

// open confirms the pending order with est. The position opens whatever the
// fill turned out to be.
func (c *core) open(st *coinState, est domain.FillEstimate, src domain.FillSource, actualGap float64, current []domain.InstrumentSnapshot, now time.Time) {
	o := st.pending
	pos := domain.Position{
		ID:         uuid.NewString(),
		Engine:     c.name,
		Coin:       st.coin,
		OpenedAt:   now,
		FillSource: src,
		OriginGap:  o.OriginGap,
		ActualGap:  actualGap,
		Status:     domain.PositionOpen,
		Spent:      est.TotalCost,
	}
	st.legSnaps = make([]domain.InstrumentSnapshot, len(o.Legs))
	for i, li := range o.Legs {
		shares, avg, cost := legFill(est, i)
		pos.Legs = append(pos.Legs, domain.Leg{
			LegIntent: li,
			Shares:    shares,
			AvgPrice:  avg,
			Cost:      cost,
			Outcome:   domain.OutcomeUnknown,
		})
		st.legSnaps[i] = st.pendingSnaps[i]
		if i < len(current) && current[i].Market.Key() == li.MarketKey {
			st.legSnaps[i] = current[i]
		}
	}

	delta := o.OriginGap - actualGap
	c.stats.recordFill(src, est.TotalCost, delta)
	st.pending, st.pendingSnaps = nil, nil
	st.position = &pos
	st.crossFail = ""

	level := domain.LevelInfo
	if src == domain.FillMarketChanged {
		level = domain.LevelWarn
	}
	c.journal.Log(level, domain.KindFill, st.coin, "position opened",
		"position", pos.ID,
		"order", o.ID,
		"fill_source", string(src),
		"shares", est.Shares,
		"cost", est.TotalCost,
		"origin_gap", o.OriginGap,
		"actual_gap", actualGap,
		"gap_delta", delta,
		"latency_ms", now.Sub(o.CommittedAt).Milliseconds(),
	)
	c.persist(pos)
}

// settle advances the resolution of st's open position. lookup returns the
// hub's current snapshot for a venue. A leg that resolves UNKNOWN is void
// and pays back its cost.
func (c *core) settle(st *coinState, lookup func(domain.Venue) (domain.InstrumentSnapshot, bool), now time.Time) {
	pos := st.position
	for i := range pos.Legs {
		leg := &pos.Legs[i]
		if cur, ok := lookup(leg.Venue); ok {
			st.legSnaps[i] = refreshLegSnapshot(st.legSnaps[i], cur, leg.LegIntent)
		}
		if leg.Resolved {
			continue
		}

		var peer domain.Outcome
		for j := range pos.Legs {
			if j != i && pos.Legs[j].Resolved {
				peer = pos.Legs[j].Outcome
			}
		}
		res := c.resolver.Resolve(resolver.Input{Leg: leg.LegIntent, Snapshot: st.legSnaps[i], Peer: peer}, now)
		if !res.Done {
			if !now.Before(leg.CloseTime) {
				c.skip(st, skipResolve, now, "market", leg.MarketID, "venue", string(leg.Venue), "detail", errText(res.Reason))
			}
			continue
		}

		leg.Outcome = res.Outcome
		leg.Resolved = true
		leg.ResolvedAt = now
		leg.ResolutionSource = res.Source
		switch {
		case !res.Outcome.Known():
			// Void: the stake is returned.
			leg.Payout = leg.Cost
		case leg.Won():
			leg.Payout = leg.Shares
		}
		if res.Forced {
			c.stats.Forced++
		}

		level := domain.LevelInfo
		if res.Forced {
			level = domain.LevelWarn
		}
		c.journal.Log(level, domain.KindResolve, st.coin, "leg resolved",
			"position", pos.ID,
			"venue", string(leg.Venue),
			"market", leg.MarketID,
			"side", string(leg.Side),
			"outcome", string(res.Outcome),
			"source", res.Source,
			"forced", res.Forced,
			"threshold", ptrValue(res.Threshold.Value),
			"final_price", ptrValue(res.FinalPrice.Value),
		)
		c.resolver.Forget(leg.Venue, leg.MarketID)
	}

	if pos.Resolved() {
		c.closePosition(st, now)
	}
}

func (c *core) closePosition(st *coinState, now time.Time) {
	pos := st.position
	unknown := false
	pos.Payout = 0
	for _, l := range pos.Legs {
		pos.Payout += l.Payout
		if !l.Outcome.Known() {
			unknown = true
		}
	}
	pos.PnL = pos.Payout + pos.Proceeds - pos.Spent
	pos.Status = domain.PositionResolved
	pos.ClosedAt = now
	c.stats.recordClose(*pos, unknown)

	if len(pos.Legs) == 2 {
		a, b := pos.Legs[0], pos.Legs[1]
		if a.Outcome.Known() && b.Outcome.Known() && a.Outcome != b.Outcome {
			c.stats.Mismatches++
			c.journal.Warn(domain.KindMismatch, st.coin, "venues resolved differently",
				"position", pos.ID,
				"outcome_"+string(a.Venue), string(a.Outcome),
				"source_"+string(a.Venue), a.ResolutionSource,
				"outcome_"+string(b.Venue), string(b.Outcome),
				"source_"+string(b.Venue), b.ResolutionSource,
			)
		}
	}

	if !unknown && c.governor.record(st.coin, pos.PnL) {
		if c.governor.engaged(st.coin) {
			c.journal.Warn(domain.KindResolve, st.coin, "loss governor engaged", "streak", c.governor.streak(st.coin))
		} else {
			c.journal.Info(domain.KindResolve, st.coin, "loss governor released")
		}
	}

	c.journal.Info(domain.KindResolve, st.coin, "position closed",
		"position", pos.ID,
		"spent", pos.Spent,
		"proceeds", pos.Proceeds,
		"payout", pos.Payout,
		"pnl", pos.PnL,
		"crosses", pos.Crosses,
	)
	c.persist(*pos)
	c.closed = append(c.closed, pos.Clone())
	st.position, st.legSnaps, st.crossFail = nil, nil, ""
}

// refreshLegSnapshot keeps kept describing the leg's market while taking the
// live spot history and any venue settlement value from cur.
func refreshLegSnapshot(kept, cur domain.InstrumentSnapshot, leg domain.LegIntent) domain.InstrumentSnapshot {
	if cur.Market.Key() == leg.MarketKey {
		return cur
	}
	var last time.Time
	if n := len(kept.History); n > 0 {
		last = kept.History[n-1].TS
	}
	for _, p := range cur.History {
		if p.TS.After(last) {
			kept.History = append(kept.History, p)
		}
	}
	kept.SpotPrice = cur.SpotPrice
	kept.SpotUpdatedAt = cur.SpotUpdatedAt
	kept.LastPriceAt = cur.LastPriceAt

	if k := cur.Fields.Kalshi; k != nil && k.Underlying > 0 && k.UnderlyingMarket == leg.MarketID {
		kf := domain.KalshiFields{}
		if kept.Fields.Kalshi != nil {
			kf = *kept.Fields.Kalshi
		}
		kf.Underlying = k.Underlying
		kf.UnderlyingAt = k.UnderlyingAt
		kf.UnderlyingMarket = k.UnderlyingMarket
		kept.Fields.Kalshi = &kf
	}
	return kept
}

func ptrValue(p *float64) any {
	if p == nil {
		return nil
	}
	return *p
}

func errText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
