package domain

import "sort"

// Gates are optional secondary entry checks. A nil field disables the gate.
type Gates struct {
	MaxSpread       *float64 `toml:"max_spread"`
	MinDepth        *float64 `toml:"min_depth"`
	MinImbalance    *float64 `toml:"min_imbalance"`
	MinVelocity     *float64 `toml:"min_velocity"`
	MinMomentum     *float64 `toml:"min_momentum"`
	MaxVolatility   *float64 `toml:"max_volatility"`
	MaxStalenessSec *float64 `toml:"max_staleness_sec"`
	MinConfidence   *float64 `toml:"min_confidence"`
	MaxExposure     *float64 `toml:"max_exposure"`
}

// TradeRule is one tier of a rule set. It applies while the seconds left
// until close are at most TierSeconds.
type TradeRule struct {
	TierSeconds float64 `toml:"tier_seconds"`
	MinGap      float64 `toml:"min_gap"`
	MinPrice    float64 `toml:"min_price"`
	MaxPrice    float64 `toml:"max_price"`
	MinSpend    float64 `toml:"min_spend"`
	MaxSpend    float64 `toml:"max_spend"`
	Gates       Gates   `toml:"gates"`
}

// PriceInBand reports whether an ask price is inside the rule's band. A zero
// MaxPrice means no upper bound.
func (r TradeRule) PriceInBand(price float64) bool {
	if price <= 0 || price < r.MinPrice {
		return false
	}
	if r.MaxPrice > 0 && price > r.MaxPrice {
		return false
	}
	return true
}

// RuleSet is a tiered set of rules sorted by ascending TierSeconds.
type RuleSet []TradeRule

// NewRuleSet returns a sorted copy of rules.
func NewRuleSet(rules []TradeRule) RuleSet {
	out := append(RuleSet(nil), rules...)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].TierSeconds < out[j].TierSeconds
	})
	return out
}

// Match returns the first tier whose window contains secondsLeft.
func (rs RuleSet) Match(secondsLeft float64) (TradeRule, bool) {
	if secondsLeft <= 0 {
		return TradeRule{}, false
	}
	for _, r := range rs {
		if secondsLeft <= r.TierSeconds {
			return r, true
		}
	}
	return TradeRule{}, false
}

// Widest returns the largest tier window, 0 for an empty set.
func (rs RuleSet) Widest() float64 {
	if len(rs) == 0 {
		return 0
	}
	return rs[len(rs)-1].TierSeconds
}
