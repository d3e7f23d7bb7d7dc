package hub

import (
	"time"

	"github.com/alanyoungcy/updownbot/internal/domain"
)

// streamState is the freshness of one input stream.
type streamState int

const (
	streamMissing streamState = iota // never arrived, still inside the grace window
	streamFresh
	streamStale
)

func classifyStream(last, now time.Time, staleAfter time.Duration, inGrace bool) streamState {
	switch {
	case last.IsZero() && inGrace:
		return streamMissing
	case last.IsZero():
		return streamStale
	case now.Sub(last) > staleAfter:
		return streamStale
	}
	return streamFresh
}

// classify derives the freshness of an instrument. Healthy needs both books
// and price fresh; either one stale beyond its threshold is stale. Streams
// that never produced data count as stale only after the grace window.
func classify(book, price streamState) domain.Freshness {
	switch {
	case book == streamStale || price == streamStale:
		return domain.FreshnessStale
	case book == streamFresh && price == streamFresh:
		return domain.FreshnessHealthy
	}
	return domain.FreshnessUnknown
}

// updateFreshness recomputes the state and records each transition once.
// Callers hold h.mu.
func (h *Hub) updateFreshness(inst *instrument, now time.Time) {
	s := &inst.snap
	inGrace := now.Sub(inst.startedAt) < h.opts.StartupGrace

	book := classifyStream(s.LastBookAt, now, h.opts.BookStaleAfter, inGrace)
	price := book
	if h.spot != nil {
		price = classifyStream(s.LastPriceAt, now, h.opts.PriceStaleAfter, inGrace)
	}

	next := classify(book, price)
	if next == s.Freshness {
		return
	}
	prev := s.Freshness
	s.Freshness = next

	switch next {
	case domain.FreshnessStale:
		inst.staleSince = now
		h.journal.Warn(domain.KindFreshness, s.Coin, "instrument stale",
			"from", string(prev),
			"market", s.Market.ID,
			"book_age_sec", ageSeconds(s.LastBookAt, now),
			"price_age_sec", ageSeconds(s.LastPriceAt, now),
		)
	default:
		inst.staleSince = time.Time{}
		h.journal.Info(domain.KindFreshness, s.Coin, "instrument "+string(next),
			"from", string(prev),
			"market", s.Market.ID,
		)
	}
}

func ageSeconds(last, now time.Time) float64 {
	if last.IsZero() {
		return -1
	}
	return now.Sub(last).Seconds()
}
