package hub

import (
	"time"

	"github.com/alanyoungcy/updownbot/internal/domain"
	"github.com/alanyoungcy/updownbot/internal/retry"
)

// instrument is the hub's mutable state for one coin. snap is guarded by
// Hub.mu; everything else is owned by the loop goroutine.
type instrument struct {
	snap domain.InstrumentSnapshot

	// startedAt opens the startup grace window; reset on rotation.
	startedAt  time.Time
	staleSince time.Time
	subs       []string

	selecting    bool
	selectSched  *retry.Schedule
	lastReselect time.Time

	refBusy   bool
	refSched  *retry.Schedule
	refWarned bool

	booksBusy bool

	// settling is the previous market whose venue settlement value is
	// still being polled.
	settling       domain.Market
	underBusy      bool
	lastUnderPoll  time.Time
	lastSampleSpot time.Time
}

func newInstrument(venue domain.Venue, coin string, now time.Time, opts Options) *instrument {
	return &instrument{
		snap: domain.InstrumentSnapshot{
			Venue:     venue,
			Coin:      coin,
			Freshness: domain.FreshnessUnknown,
			Reference: domain.ReferencePrice{Source: domain.RefMissing},
		},
		startedAt:   now,
		selectSched: retry.NewSchedule(opts.SelectRetryMin, opts.SelectRetryMax),
		refSched:    retry.NewSchedule(opts.ReferenceRetryMin, opts.ReferenceRetryMax),
	}
}

func (inst *instrument) token(side domain.Side) *domain.TokenState {
	if side == domain.SideUp {
		return &inst.snap.Up
	}
	return &inst.snap.Down
}

// apply folds one feed event into the owning instrument. Events for tokens
// of a replaced market no longer resolve and are dropped.
func (h *Hub) apply(ev domain.FeedEvent) {
	now := h.opts.Clock()

	if e, ok := ev.(domain.ConnEvent); ok {
		h.applyConn(e)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	switch e := ev.(type) {
	case domain.BookSnapshotEvent:
		inst, tok := h.lookupToken(e.TokenID)
		if inst == nil {
			return
		}
		tok.Book = domain.NewOrderBook(e.Bids, e.Asks, eventTime(e.TS, now))
		inst.snap.LastBookAt = now

	case domain.BookDeltaEvent:
		inst, tok := h.lookupToken(e.TokenID)
		if inst == nil {
			return
		}
		tok.Book.ApplyLevel(e.Side, e.Price, e.Size, eventTime(e.TS, now))
		inst.snap.LastBookAt = now

	case domain.TradeEvent:
		inst, tok := h.lookupToken(e.TokenID)
		if inst == nil || e.Price <= 0 {
			return
		}
		tok.LastTrade = e.Price
		tok.Trades = append(tok.Trades, domain.Trade{TS: eventTime(e.TS, now), Price: e.Price, Size: e.Size, Buy: e.Buy})
		if over := len(tok.Trades) - h.opts.TradeKeep; over > 0 {
			tok.Trades = append(tok.Trades[:0], tok.Trades[over:]...)
		}

	case domain.SpotEvent:
		inst, ok := h.instruments[e.Coin]
		if !ok || e.Price <= 0 {
			return
		}
		inst.snap.SpotPrice = e.Price
		inst.snap.SpotUpdatedAt = eventTime(e.TS, now)
		inst.snap.LastPriceAt = now

	case domain.UnderlyingEvent:
		for _, inst := range h.instruments {
			if inst.snap.Market.ID != e.MarketID && inst.settling.ID != e.MarketID {
				continue
			}
			k := inst.snap.Fields.Kalshi
			if k == nil {
				k = &domain.KalshiFields{}
				inst.snap.Fields.Kalshi = k
			}
			k.Underlying = e.Value
			k.UnderlyingAt = eventTime(e.TS, now)
			k.UnderlyingMarket = e.MarketID
		}
	}
}

func (h *Hub) lookupToken(id string) (*instrument, *domain.TokenState) {
	key, ok := h.tokens[id]
	if !ok {
		return nil, nil
	}
	inst, ok := h.instruments[key.coin]
	if !ok {
		return nil, nil
	}
	return inst, inst.token(key.side)
}

func (h *Hub) applyConn(e domain.ConnEvent) {
	was, seen := h.connected[e.Feed]
	h.connected[e.Feed] = e.Connected
	if seen && was == e.Connected {
		return
	}
	if e.Connected {
		h.journal.Info(domain.KindFeed, "", "feed connected", "feed", e.Feed)
		return
	}
	var errText string
	if e.Err != nil {
		errText = e.Err.Error()
	}
	h.journal.Warn(domain.KindFeed, "", "feed disconnected", "feed", e.Feed, "error", errText)
}

func eventTime(ts, fallback time.Time) time.Time {
	if ts.IsZero() {
		return fallback
	}
	return ts
}

// sampleHistory appends the spot price to the bounded history once per new
// spot update, at most every HistorySampleEvery.
func (h *Hub) sampleHistory(inst *instrument) {
	s := &inst.snap
	if s.SpotPrice <= 0 || !s.SpotUpdatedAt.After(inst.lastSampleSpot) {
		return
	}
	if n := len(s.History); n > 0 && s.SpotUpdatedAt.Sub(s.History[n-1].TS) < h.opts.HistorySampleEvery {
		return
	}
	inst.lastSampleSpot = s.SpotUpdatedAt
	s.History = append(s.History, domain.PricePoint{TS: s.SpotUpdatedAt, Price: s.SpotPrice})
	if over := len(s.History) - h.opts.HistorySize; over > 0 {
		s.History = append(s.History[:0], s.History[over:]...)
	}
}
