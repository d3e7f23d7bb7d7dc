package engine

import (
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/updownbot/internal/domain"
	"github.com/alanyoungcy/updownbot/internal/journal"
)

func f(v float64) *float64 { return &v }

func TestEvaluateGates(t *testing.T) {
	gates := domain.Gates{MaxSpread: f(0.04), MinDepth: f(100)}

	tests := []struct {
		name     string
		in       GateInput
		model    GateModel
		wantPass bool
		wantMult float64
		failed   []string
	}{
		{
			name:     "boolean pass",
			in:       GateInput{Spread: f(0.02), Depth: f(150)},
			wantPass: true,
			wantMult: 1,
		},
		{
			name:   "boolean fail",
			in:     GateInput{Spread: f(0.08), Depth: f(150)},
			failed: []string{"spread"},
		},
		{
			name:   "boolean missing input fails",
			in:     GateInput{Spread: f(0.02)},
			failed: []string{"depth"},
		},
		{
			name:     "model scales by distance to limit",
			in:       GateInput{Spread: f(0.08), Depth: f(50)},
			model:    GateModel{Enabled: true, Floor: 0.2},
			wantPass: true,
			wantMult: 0.25,
			failed:   []string{"spread", "depth"},
		},
		{
			name:     "model below floor",
			in:       GateInput{Spread: f(0.08), Depth: f(50)},
			model:    GateModel{Enabled: true, Floor: 0.3},
			wantMult: 0.25,
			failed:   []string{"spread", "depth"},
		},
		{
			name:     "model missing input uses missing factor",
			in:       GateInput{Spread: f(0.02)},
			model:    GateModel{Enabled: true, Floor: 0.1, MissingFactor: 0.5},
			wantPass: true,
			wantMult: 0.5,
			failed:   []string{"depth"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := EvaluateGates(gates, tt.in, tt.model)
			assert.Equal(t, tt.wantPass, got.Pass)
			assert.InDelta(t, tt.wantMult, got.Multiplier, 1e-9)
			assert.Equal(t, tt.failed, got.Failed)
		})
	}
}

func TestGateInputSignsMomentumTowardSide(t *testing.T) {
	snap := domain.InstrumentSnapshot{Signals: domain.SignalBundle{PriceMomentum: f(0.3)}}

	up := gateInput(snap, domain.SideUp, nil)
	down := gateInput(snap, domain.SideDown, nil)
	require.NotNil(t, up.Momentum)
	require.NotNil(t, down.Momentum)
	assert.InDelta(t, 0.3, *up.Momentum, 1e-9)
	assert.InDelta(t, -0.3, *down.Momentum, 1e-9)
	assert.InDelta(t, 0.3, *snap.Signals.PriceMomentum, 1e-9, "snapshot untouched")
}

func TestGovernor(t *testing.T) {
	g := newGovernor(GovernorOptions{StreakTrigger: 2, GapBump: 0.01, SizeFactor: 0.5})

	assert.False(t, g.record("btc", -5))
	bump, size := g.adjust("btc")
	assert.Zero(t, bump)
	assert.Equal(t, 1.0, size)

	assert.True(t, g.record("btc", -5), "second loss engages")
	bump, size = g.adjust("btc")
	assert.Equal(t, 0.01, bump)
	assert.Equal(t, 0.5, size)
	assert.False(t, g.record("btc", 0), "flat result keeps the streak")
	assert.Equal(t, 2, g.streak("btc"))

	bump, _ = g.adjust("eth")
	assert.Zero(t, bump, "coins are independent")

	assert.True(t, g.record("btc", 3), "a win releases")
	assert.Zero(t, g.streak("btc"))
}

func TestGovernorDisabled(t *testing.T) {
	g := newGovernor(GovernorOptions{})
	for i := 0; i < 5; i++ {
		assert.False(t, g.record("btc", -1))
	}
	_, size := g.adjust("btc")
	assert.Equal(t, 1.0, size)
}

func TestSkipLogAllow(t *testing.T) {
	s := newSkipLog(10 * time.Second)
	t0 := time.Date(2025, 10, 9, 12, 0, 0, 0, time.UTC)

	assert.True(t, s.allow("btc", skipGap, t0))
	assert.False(t, s.allow("btc", skipGap, t0.Add(time.Second)))
	assert.True(t, s.allow("eth", skipGap, t0.Add(time.Second)), "per coin")
	assert.True(t, s.allow("btc", skipBand, t0.Add(2*time.Second)), "reason changed")
	assert.True(t, s.allow("btc", skipGap, t0.Add(3*time.Second)), "changed back")
	assert.False(t, s.allow("btc", skipGap, t0.Add(4*time.Second)))
	assert.True(t, s.allow("btc", skipGap, t0.Add(14*time.Second)))

	s.reset("btc")
	assert.True(t, s.allow("btc", skipGap, t0.Add(15*time.Second)), "reset forgets the last reason")
}

func TestGuardIsolatesFailures(t *testing.T) {
	j := journal.New(journal.Options{RingSize: 50}, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	c := newCore("test", nil, Options{Coins: []string{"btc", "eth"}}, j, slog.New(slog.NewTextHandler(io.Discard, nil)))

	var ran []string
	c.guard("btc", func() error { panic("boom") })
	c.guard("eth", func() error { ran = append(ran, "eth"); return nil })
	c.guard("eth", func() error { return errors.New("bad book") })

	assert.Equal(t, []string{"eth"}, ran)
	assert.Equal(t, 2, c.Summary().Errors)

	var errs []domain.Record
	for _, r := range j.Last(0) {
		if r.Kind == domain.KindError {
			errs = append(errs, r)
		}
	}
	require.Len(t, errs, 2)
	assert.Equal(t, "btc", errs[0].Coin)
	assert.Equal(t, "boom", errs[0].Fields["panic"])
	assert.Equal(t, "bad book", errs[1].Fields["error"])
}

func TestLatencyWithinBounds(t *testing.T) {
	c := newCore("test", nil, Options{LatencyMin: 150 * time.Millisecond, LatencyMax: 600 * time.Millisecond}, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	for i := 0; i < 200; i++ {
		d := c.latency()
		assert.GreaterOrEqual(t, d, 150*time.Millisecond)
		assert.LessOrEqual(t, d, 600*time.Millisecond)
	}
}
