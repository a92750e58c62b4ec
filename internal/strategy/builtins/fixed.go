package builtins

import (
	"polyagents/internal/domain"
	"polyagents/internal/engine"
	"polyagents/internal/series"
)

// Compile-time interface check.
var _ engine.Planner = (*Fixed)(nil)

// Fixed targets the plan's configured weights on every rebalance date.
type Fixed struct{}

// NewFixed creates a Fixed planner.
func NewFixed() *Fixed { return &Fixed{} }

// Name returns "fixed".
func (p *Fixed) Name() string { return "fixed" }

// TargetWeights returns Plan.Weighting.Weights restricted to the universe.
// Universe assets without a configured weight target zero.
func (p *Fixed) TargetWeights(plan *domain.Plan, _ map[string][]domain.Bar, _ map[string]series.Series) (domain.TargetWeights, engine.Diagnostics) {
	out := make(domain.TargetWeights, len(plan.Universe))
	var gross float64
	for _, sym := range plan.Universe {
		w := plan.Weighting.Weights[sym]
		out[sym] = w
		gross += w
	}
	if gross == 0 {
		return domain.TargetWeights{}, engine.Diagnostics{"reason": "no configured weights"}
	}
	return out, nil
}

// BuildTradePlan applies the no-trade band.
func (p *Fixed) BuildTradePlan(current map[string]float64, target domain.TargetWeights, value, bandPp float64) domain.TradeDelta {
	return BandTradePlan(current, target, value, bandPp)
}
