package domain

// TokenSignals are the per-token book metrics. Every field is nil when its
// inputs are unavailable.
type TokenSignals struct {
	BestBid       *float64 `json:"best_bid,omitempty"`
	BestAsk       *float64 `json:"best_ask,omitempty"`
	Spread        *float64 `json:"spread,omitempty"`
	Mid           *float64 `json:"mid,omitempty"`
	DepthValue    *float64 `json:"depth_value,omitempty"`
	Slippage      *float64 `json:"slippage,omitempty"`
	BookImbalance *float64 `json:"book_imbalance,omitempty"`
}

// SignalBundle is the derived metric set for one instrument.
type SignalBundle struct {
	Up   TokenSignals `json:"up"`
	Down TokenSignals `json:"down"`

	PriceMomentum      *float64 `json:"price_momentum,omitempty"`
	PriceVolatility    *float64 `json:"price_volatility,omitempty"`
	TradeVelocity      *float64 `json:"trade_velocity,omitempty"`
	TradeFlowImbalance *float64 `json:"trade_flow_imbalance,omitempty"`
	PriceStalenessSec  *float64 `json:"price_staleness_sec,omitempty"`
	ReferenceQuality   *float64 `json:"reference_quality,omitempty"`
}

// Token returns the per-token signals for side s.
func (b SignalBundle) Token(s Side) TokenSignals {
	if s == SideUp {
		return b.Up
	}
	return b.Down
}

// Clone copies every pointer so callers cannot alias the hub's bundle.
func (b SignalBundle) Clone() SignalBundle {
	return SignalBundle{
		Up:                 b.Up.clone(),
		Down:               b.Down.clone(),
		PriceMomentum:      clonePtr(b.PriceMomentum),
		PriceVolatility:    clonePtr(b.PriceVolatility),
		TradeVelocity:      clonePtr(b.TradeVelocity),
		TradeFlowImbalance: clonePtr(b.TradeFlowImbalance),
		PriceStalenessSec:  clonePtr(b.PriceStalenessSec),
		ReferenceQuality:   clonePtr(b.ReferenceQuality),
	}
}

func (t TokenSignals) clone() TokenSignals {
	return TokenSignals{
		BestBid:       clonePtr(t.BestBid),
		BestAsk:       clonePtr(t.BestAsk),
		Spread:        clonePtr(t.Spread),
		Mid:           clonePtr(t.Mid),
		DepthValue:    clonePtr(t.DepthValue),
		Slippage:      clonePtr(t.Slippage),
		BookImbalance: clonePtr(t.BookImbalance),
	}
}

func clonePtr(p *float64) *float64 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// Float returns a pointer to v.
func Float(v float64) *float64 {
	return &v
}
