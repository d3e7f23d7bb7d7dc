package engine

import (
	"math"

	"github.com/alanyoungcy/updownbot/internal/domain"
)

// GateModel replaces the boolean secondary gates with a multiplicative
// score. Each enabled gate contributes a factor in [0,1]; the product scales
// the spend and blocks entry below Floor.
type GateModel struct {
	Enabled bool
	Floor   float64
	// MissingFactor is the factor of an enabled gate whose input is missing.
	MissingFactor float64
}

// GateInput holds the signal values the gates compare. Momentum must already
// be signed toward the side being bought.
type GateInput struct {
	Spread       *float64
	Depth        *float64
	Imbalance    *float64
	Velocity     *float64
	Momentum     *float64
	Volatility   *float64
	StalenessSec *float64
	Confidence   *float64
}

// GateResult is the outcome of EvaluateGates. Multiplier is 1 for a boolean
// pass and the score under the gate model.
type GateResult struct {
	Pass       bool
	Multiplier float64
	Failed     []string
}

type gateCheck struct {
	name  string
	limit *float64
	value *float64
	max   bool
}

// EvaluateGates applies the enabled gates of g to in.
func EvaluateGates(g domain.Gates, in GateInput, model GateModel) GateResult {
	checks := []gateCheck{
		{"spread", g.MaxSpread, in.Spread, true},
		{"depth", g.MinDepth, in.Depth, false},
		{"imbalance", g.MinImbalance, in.Imbalance, false},
		{"velocity", g.MinVelocity, in.Velocity, false},
		{"momentum", g.MinMomentum, in.Momentum, false},
		{"volatility", g.MaxVolatility, in.Volatility, true},
		{"staleness", g.MaxStalenessSec, in.StalenessSec, true},
		{"confidence", g.MinConfidence, in.Confidence, false},
	}

	res := GateResult{Pass: true, Multiplier: 1}
	for _, c := range checks {
		if c.limit == nil {
			continue
		}
		f := c.factor(model)
		if f >= 1 {
			continue
		}
		res.Failed = append(res.Failed, c.name)
		if model.Enabled {
			res.Multiplier *= f
		}
	}

	if !model.Enabled {
		if len(res.Failed) > 0 {
			res.Pass = false
			res.Multiplier = 0
		}
		return res
	}
	res.Pass = res.Multiplier >= model.Floor && res.Multiplier > 0
	return res
}

// factor is 1 when the gate passes. Under the gate model a failing gate
// scales with how close its value came to the limit.
func (c gateCheck) factor(model GateModel) float64 {
	if c.value == nil || math.IsNaN(*c.value) {
		if model.Enabled {
			return clamp01(model.MissingFactor)
		}
		return 0
	}
	v, lim := *c.value, *c.limit
	if (c.max && v <= lim) || (!c.max && v >= lim) {
		return 1
	}
	if !model.Enabled || lim <= 0 || v <= 0 {
		return 0
	}
	if c.max {
		return clamp01(lim / v)
	}
	return clamp01(v / lim)
}

func clamp01(v float64) float64 {
	switch {
	case math.IsNaN(v) || v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}

// gateInput collects the gate inputs for buying side s of snap.
func gateInput(snap domain.InstrumentSnapshot, s domain.Side, confidence *float64) GateInput {
	tok := snap.Signals.Token(s)
	sig := snap.Signals
	in := GateInput{
		Spread:       tok.Spread,
		Depth:        tok.DepthValue,
		Imbalance:    tok.BookImbalance,
		Velocity:     sig.TradeVelocity,
		Volatility:   sig.PriceVolatility,
		StalenessSec: sig.PriceStalenessSec,
		Confidence:   confidence,
	}
	if m := sig.PriceMomentum; m != nil {
		v := *m
		if s == domain.SideDown {
			v = -v
		}
		in.Momentum = &v
	}
	return in
}
