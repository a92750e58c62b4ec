package engine

import (
	"polyagents/internal/domain"
	"polyagents/internal/series"
)

// TrailingWindow is the most bars handed to a planner per asset.
const TrailingWindow = 250

// Diagnostics carries planner-specific details about a decision, such as
// which gates excluded which assets. The engine only logs them.
type Diagnostics map[string]any

// Planner turns trailing market state into target weights and target weights
// into dollar trades. Implementations must be pure: the same arguments must
// always produce the same result.
type Planner interface {
	// Name returns the planner identifier used in plans and the registry.
	Name() string

	// TargetWeights returns the desired allocation at the last date of the
	// trailing windows. prices holds at most TrailingWindow bars per asset
	// ending at that date; sentiment omits assets with no sentiment. An
	// empty result means no trade.
	TargetWeights(plan *domain.Plan, prices map[string][]domain.Bar, sentiment map[string]series.Series) (domain.TargetWeights, Diagnostics)

	// BuildTradePlan returns the signed dollar deltas that move current
	// toward target, leaving assets within bandPp percentage points alone.
	BuildTradePlan(current map[string]float64, target domain.TargetWeights, value, bandPp float64) domain.TradeDelta
}
