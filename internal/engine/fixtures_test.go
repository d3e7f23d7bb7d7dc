package engine_test

import (
	"context"
	"io"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/alanyoungcy/updownbot/internal/domain"
	"github.com/alanyoungcy/updownbot/internal/engine"
	"github.com/alanyoungcy/updownbot/internal/journal"
	"github.com/alanyoungcy/updownbot/internal/resolver"
)

var windowStart = time.Date(2025, 10, 9, 12, 0, 0, 0, time.UTC)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type source struct {
	mu    sync.Mutex
	snaps map[string]domain.InstrumentSnapshot
}

func newSource(snaps ...domain.InstrumentSnapshot) *source {
	s := &source{snaps: make(map[string]domain.InstrumentSnapshot)}
	for _, snap := range snaps {
		s.snaps[snap.Coin] = snap
	}
	return s
}

func (s *source) Snapshots() map[string]domain.InstrumentSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]domain.InstrumentSnapshot, len(s.snaps))
	for k, v := range s.snaps {
		out[k] = v.Clone()
	}
	return out
}

func (s *source) update(coin string, fn func(*domain.InstrumentSnapshot)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := s.snaps[coin]
	fn(&snap)
	s.snaps[coin] = snap
}

// market builds a healthy 15 minute window snapshot for btc.
func market(venue domain.Venue, id string, start time.Time, spot, threshold float64) domain.InstrumentSnapshot {
	m := domain.Market{
		Venue:       venue,
		ID:          id,
		Slug:        id,
		Coin:        "btc",
		OpenTime:    start,
		CloseTime:   start.Add(15 * time.Minute),
		Up:          domain.TokenRef{ID: id + "-up", Label: "Up"},
		Down:        domain.TokenRef{ID: id + "-down", Label: "Down"},
		PriceToBeat: threshold,
	}
	return domain.InstrumentSnapshot{
		Venue:     venue,
		Coin:      "btc",
		Market:    m,
		SpotPrice: spot,
		Reference: domain.ReferencePrice{Value: threshold, Source: domain.RefPriceToBeat},
		Freshness: domain.FreshnessHealthy,
	}
}

func lvl(price, size float64) domain.PriceLevel {
	return domain.PriceLevel{Price: price, Size: size}
}

func setBook(s *domain.InstrumentSnapshot, side domain.Side, bids, asks []domain.PriceLevel) {
	book := domain.NewOrderBook(bids, asks, time.Time{})
	if side == domain.SideUp {
		s.Up.Book = book
		return
	}
	s.Down.Book = book
}

// settleAt appends three spot samples just before close at price.
func settleAt(s *domain.InstrumentSnapshot, closeAt time.Time, price float64) {
	for i := 3; i >= 1; i-- {
		s.History = append(s.History, domain.PricePoint{TS: closeAt.Add(-time.Duration(i) * 10 * time.Second), Price: price})
	}
	s.SpotPrice = price
}

func rules() map[string]domain.RuleSet {
	return map[string]domain.RuleSet{
		"btc": domain.NewRuleSet([]domain.TradeRule{{
			TierSeconds: 300,
			MinGap:      0.001,
			MinPrice:    0.05,
			MaxPrice:    0.95,
			MinSpend:    5,
			MaxSpend:    48,
		}}),
	}
}

func engineOptions() engine.Options {
	return engine.Options{
		Coins:        []string{"btc"},
		Rules:        rules(),
		LatencyMin:   200 * time.Millisecond,
		LatencyMax:   200 * time.Millisecond,
		SkipLogEvery: 10 * time.Second,
		Rand:         rand.New(rand.NewSource(1)),
	}
}

func newResolver() *resolver.Resolver {
	return resolver.New(resolver.Options{
		Final: resolver.FinalPriceOptions{
			Window:          time.Minute,
			MinPoints:       3,
			AllowStaleAfter: 90 * time.Second,
		},
		OfficialWait: 2 * time.Minute,
		ForceAfter:   10 * time.Minute,
		UnknownAfter: 30 * time.Minute,
	}, nil)
}

func newJournal() *journal.Journal {
	return journal.New(journal.Options{RingSize: 500}, nil, testLogger())
}

func records(j *journal.Journal, kind string) []domain.Record {
	var out []domain.Record
	for _, r := range j.Last(0) {
		if r.Kind == kind {
			out = append(out, r)
		}
	}
	return out
}

type memPositions struct {
	mu    sync.Mutex
	saved []domain.Position
}

func (m *memPositions) Upsert(_ context.Context, pos domain.Position) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saved = append(m.saved, pos)
	return nil
}

func (m *memPositions) GetByID(_ context.Context, id string) (domain.Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.saved) - 1; i >= 0; i-- {
		if m.saved[i].ID == id {
			return m.saved[i], nil
		}
	}
	return domain.Position{}, domain.ErrNotFound
}

func (m *memPositions) ListRecent(_ context.Context, _ string, _ domain.ListOpts) ([]domain.Position, error) {
	return m.all(), nil
}

func (m *memPositions) all() []domain.Position {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.Position(nil), m.saved...)
}
