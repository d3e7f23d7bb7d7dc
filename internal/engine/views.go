package engine

import (
	"time"

	"github.com/alanyoungcy/updownbot/internal/domain"
)

// MarketView is the display state of one coin in one engine.
type MarketView struct {
	Coin        string                 `json:"coin"`
	State       string                 `json:"state"`
	Markets     []string               `json:"markets"`
	SecondsLeft float64                `json:"seconds_left"`
	Freshness   domain.Freshness       `json:"freshness"`
	Spot        float64                `json:"spot"`
	Threshold   *float64               `json:"threshold,omitempty"`
	RefSource   domain.ReferenceSource `json:"ref_source,omitempty"`
	// Direction is the favored side (profile) or the chosen leg pairing
	// (arbitrage) at the last evaluation.
	Direction string    `json:"direction,omitempty"`
	Gap       *float64  `json:"gap,omitempty"`
	BestAsk   *float64  `json:"best_ask,omitempty"`
	LastSkip  string    `json:"last_skip,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`

	LossStreak int                  `json:"loss_streak"`
	Position   *domain.Position     `json:"position,omitempty"`
	Pending    *domain.PendingOrder `json:"pending,omitempty"`
}

// Summary is the per-engine run total.
type Summary struct {
	Engine  string `json:"engine"`
	Trades  int    `json:"trades"`
	Open    int    `json:"open"`
	Pending int    `json:"pending"`
	Wins    int    `json:"wins"`
	Losses  int    `json:"losses"`
	Unknown int    `json:"unknown"`
	Forced  int    `json:"forced"`

	Crosses       int `json:"crosses"`
	CrossFailures int `json:"cross_failures"`
	Mismatches    int `json:"mismatches"`
	Errors        int `json:"errors"`

	Spent    float64 `json:"spent"`
	Proceeds float64 `json:"proceeds"`
	Payout   float64 `json:"payout"`
	PnL      float64 `json:"pnl"`

	FillSources map[domain.FillSource]int `json:"fill_sources"`
	// Gap deltas are origin minus actual gap per confirmed fill; positive
	// values are slippage against the engine.
	AvgGapDelta float64 `json:"avg_gap_delta"`
	MaxGapDelta float64 `json:"max_gap_delta"`
}

type stats struct {
	Summary
	fills       int
	gapDeltaSum float64
}

func (s *stats) recordFill(src domain.FillSource, spent, gapDelta float64) {
	s.Trades++
	s.Spent += spent
	s.FillSources[src]++
	s.fills++
	s.gapDeltaSum += gapDelta
	if s.fills == 1 || gapDelta > s.MaxGapDelta {
		s.MaxGapDelta = gapDelta
	}
}

func (s *stats) recordClose(pos domain.Position, unknown bool) {
	s.Payout += pos.Payout
	s.PnL += pos.PnL
	switch {
	case unknown:
		s.Unknown++
	case pos.PnL > 0:
		s.Wins++
	case pos.PnL < 0:
		s.Losses++
	}
}

// baseView refreshes the market-derived part of a coin's view.
func baseView(st *coinState, now time.Time, snaps ...domain.InstrumentSnapshot) {
	v := &st.view
	v.UpdatedAt = now
	v.Markets = v.Markets[:0]
	v.Direction = ""
	v.Gap = nil
	v.BestAsk = nil
	v.Threshold = nil
	v.RefSource = ""
	v.SecondsLeft = 0
	v.Freshness = domain.FreshnessUnknown
	v.Spot = 0
	for i, s := range snaps {
		if !s.Market.IsZero() {
			v.Markets = append(v.Markets, string(s.Venue)+":"+s.Market.Slug)
		}
		left := s.TimeLeft(now).Seconds()
		if i == 0 || left < v.SecondsLeft {
			v.SecondsLeft = left
		}
		if i == 0 || s.Freshness != domain.FreshnessHealthy {
			v.Freshness = s.Freshness
		}
		if i == 0 {
			v.Spot = s.SpotPrice
		}
	}
}
