package hub

import (
	"context"
	"errors"
	"time"

	"github.com/alanyoungcy/updownbot/internal/domain"
)

// Selection reasons recorded in rotation records.
const (
	reasonInitial = "initial"
	reasonRetry   = "retry"
	reasonClosed  = "closed"
	reasonStale   = "stale"
)

// scheduleSelection starts a selection when the coin has no market or its
// market has closed.
func (h *Hub) scheduleSelection(ctx context.Context, inst *instrument, now time.Time) {
	m := inst.snap.Market
	if !m.IsZero() && (m.CloseTime.IsZero() || now.Before(m.CloseTime)) {
		return
	}
	if inst.selectSched.Done() {
		inst.selectSched.Restart()
	}
	if inst.selecting || !inst.selectSched.Due(now) {
		return
	}
	reason := reasonClosed
	if m.IsZero() {
		reason = reasonRetry
	}
	h.startSelect(ctx, inst, now, reason)
}

// scheduleReselect forces a selection for an instrument that stayed stale
// past ReselectAfterStale, at most once per ReselectCooldown.
func (h *Hub) scheduleReselect(ctx context.Context, inst *instrument, now time.Time) {
	s := inst.snap
	if s.Freshness != domain.FreshnessStale || inst.staleSince.IsZero() || s.Market.IsZero() || inst.selecting {
		return
	}
	if now.Sub(inst.staleSince) < h.opts.ReselectAfterStale {
		return
	}
	if !inst.lastReselect.IsZero() && now.Sub(inst.lastReselect) < h.opts.ReselectCooldown {
		return
	}
	inst.lastReselect = now
	h.journal.Warn(domain.KindRotation, s.Coin, "forcing reselect of stale instrument",
		"market", s.Market.ID,
		"stale_for_sec", now.Sub(inst.staleSince).Seconds(),
	)
	inst.selectSched.Restart()
	h.startSelect(ctx, inst, now, reasonStale)
}

func (h *Hub) startSelect(ctx context.Context, inst *instrument, now time.Time, reason string) {
	inst.selecting = true
	coin := inst.snap.Coin
	h.async(ctx, func(fctx context.Context) func() {
		m, err := h.venue.SelectMarket(fctx, coin, now)
		return func() { h.applySelection(ctx, coin, m, err, reason) }
	})
}

// applySelection installs a selected market, refreshes the current one when
// a forced reselect found it again, or backs off after a failure.
func (h *Hub) applySelection(ctx context.Context, coin string, m domain.Market, err error, reason string) {
	h.mu.RLock()
	inst, ok := h.instruments[coin]
	h.mu.RUnlock()
	if !ok {
		return
	}
	inst.selecting = false
	now := h.opts.Clock()

	if err == nil && m.IsZero() {
		err = domain.ErrNoMarket
	}
	if err != nil {
		wait := inst.selectSched.Failed(now)
		level := domain.LevelWarn
		if errors.Is(err, domain.ErrNoMarket) && reason == reasonClosed {
			// The next window is routinely listed a little late.
			level = domain.LevelInfo
		}
		h.journal.Log(level, domain.KindRotation, coin, "market selection failed",
			"reason", reason,
			"attempt", inst.selectSched.Attempts(),
			"retry_in_sec", wait.Seconds(),
			"error", err,
		)
		return
	}
	inst.selectSched.Succeeded()

	if m.Key() == inst.snap.Market.Key() {
		if reason == reasonStale {
			h.refresh(ctx, inst)
		}
		return
	}
	h.install(ctx, inst, m, reason, now)
}

// install makes m the coin's market. The token routing table is swapped
// under the lock, so events of the old tokens are dropped from here on.
func (h *Hub) install(ctx context.Context, inst *instrument, m domain.Market, reason string, now time.Time) {
	h.mu.Lock()
	s := &inst.snap
	old := s.Market
	for _, id := range old.TokenIDs() {
		delete(h.tokens, id)
	}
	if m.Up.ID != "" {
		h.tokens[m.Up.ID] = tokenKey{coin: s.Coin, side: domain.SideUp}
	}
	if m.Down.ID != "" {
		h.tokens[m.Down.ID] = tokenKey{coin: s.Coin, side: domain.SideDown}
	}

	s.Market = m
	s.Up = domain.TokenState{Token: m.Up}
	s.Down = domain.TokenState{Token: m.Down}
	s.LastBookAt = time.Time{}
	s.Reference = domain.ReferencePrice{Source: domain.RefMissing}

	fields := h.venue.Fields(m)
	if prev := s.Fields.Kalshi; prev != nil && prev.Underlying > 0 && fields.Kalshi != nil {
		fields.Kalshi.Underlying = prev.Underlying
		fields.Kalshi.UnderlyingAt = prev.UnderlyingAt
		fields.Kalshi.UnderlyingMarket = prev.UnderlyingMarket
	}
	s.Fields = fields

	inst.startedAt = now
	inst.refSched.Restart()
	inst.refWarned = false
	if _, ok := h.venue.(UnderlyingFetcher); ok && !old.IsZero() {
		inst.settling = old
		inst.lastUnderPoll = time.Time{}
	}
	oldSubs := inst.subs
	inst.subs = h.venue.SubscriptionIDs(m)
	newSubs := inst.subs
	h.mu.Unlock()

	if err := h.market.Replace(ctx, oldSubs, newSubs); err != nil {
		h.journal.Warn(domain.KindFeed, s.Coin, "subscription swap failed", "market", m.ID, "error", err)
	}
	h.journal.Info(domain.KindRotation, s.Coin, "market selected",
		"reason", reason,
		"from", old.ID,
		"to", m.ID,
		"slug", m.Slug,
		"close_time", m.CloseTime.UTC().Format(time.RFC3339),
	)
}

// refresh recovers a stale instrument whose market is still current without
// tearing down the shared connections: subscriptions are re-sent on the live
// session and the books are re-seeded over REST.
func (h *Hub) refresh(ctx context.Context, inst *instrument) {
	coin := inst.snap.Coin
	if h.market.Connected() {
		if err := h.market.Refresh(ctx, inst.subs); err != nil {
			h.journal.Warn(domain.KindFeed, coin, "subscription refresh failed", "error", err)
		} else {
			h.journal.Info(domain.KindFeed, coin, "subscriptions refreshed", "market", inst.snap.Market.ID)
		}
	} else {
		h.journal.Warn(domain.KindFeed, coin, "market feed down, waiting for reconnect")
	}

	if h.spot != nil && h.spot.Connected() && !inst.snap.LastPriceAt.IsZero() &&
		h.opts.Clock().Sub(inst.snap.LastPriceAt) > h.opts.PriceStaleAfter {
		if err := h.spot.Refresh(ctx, h.spot.Subscriptions()); err != nil {
			h.journal.Warn(domain.KindFeed, coin, "spot refresh failed", "error", err)
		}
	}
	h.reseedBooks(ctx, inst)
}

func (h *Hub) reseedBooks(ctx context.Context, inst *instrument) {
	bf, ok := h.venue.(BookFetcher)
	if !ok || inst.booksBusy || inst.snap.Market.IsZero() {
		return
	}
	inst.booksBusy = true
	m := inst.snap.Market
	h.async(ctx, func(fctx context.Context) func() {
		books, err := bf.FetchBooks(fctx, m)
		return func() {
			inst.booksBusy = false
			if err != nil {
				h.journal.Warn(domain.KindFeed, m.Coin, "book reseed failed", "market", m.ID, "error", err)
			}
			for _, b := range books {
				h.apply(b)
			}
		}
	})
}

// scheduleUnderlying polls the venue settlement value of the previous market
// until it is published or UnderlyingPollFor has passed since its close.
func (h *Hub) scheduleUnderlying(ctx context.Context, inst *instrument, now time.Time) {
	uf, ok := h.venue.(UnderlyingFetcher)
	m := inst.settling
	if !ok || m.IsZero() || inst.underBusy {
		return
	}
	if !m.CloseTime.IsZero() && now.Sub(m.CloseTime) > h.opts.UnderlyingPollFor {
		h.journal.Warn(domain.KindResolve, inst.snap.Coin, "venue settlement value never published", "market", m.ID)
		inst.settling = domain.Market{}
		return
	}
	if now.Sub(inst.lastUnderPoll) < h.opts.UnderlyingPollEvery {
		return
	}
	inst.underBusy = true
	inst.lastUnderPoll = now
	venue := h.venue.Name()
	h.async(ctx, func(fctx context.Context) func() {
		v, at, err := uf.FetchUnderlying(fctx, m)
		return func() {
			inst.underBusy = false
			if err != nil || v <= 0 {
				return
			}
			h.apply(domain.UnderlyingEvent{Venue: venue, MarketID: m.ID, Value: v, TS: at})
			if inst.settling.ID == m.ID {
				inst.settling = domain.Market{}
			}
			h.journal.Info(domain.KindResolve, m.Coin, "venue settlement value published", "market", m.ID, "value", v)
		}
	})
}
