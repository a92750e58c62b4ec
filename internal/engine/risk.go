package engine

import (
	"math"
	"slices"

	"polyagents/internal/domain"
)

// Turnover returns the sum of absolute dollar deltas. Symbols are summed in
// sorted order so the result is reproducible bit for bit.
func Turnover(deltas domain.TradeDelta) float64 {
	var sum float64
	for _, sym := range sortedKeys(deltas) {
		sum += math.Abs(deltas[sym])
	}
	return sum
}

// CapTurnover scales every delta by min(1, turnoverMax*value/turnover) so
// that aggregate dollar turnover never exceeds turnoverMax of value. When the
// proposed turnover is zero nothing is scaled. The input is not modified.
func CapTurnover(deltas domain.TradeDelta, value, turnoverMax float64) (domain.TradeDelta, float64) {
	scale := 1.0
	if turnover := Turnover(deltas); turnover > 0 {
		scale = min(1, turnoverMax*value/turnover)
	}

	out := make(domain.TradeDelta, len(deltas))
	for sym, d := range deltas {
		out[sym] = d * scale
	}
	return out, scale
}

// TurnoverLimiter applies a fixed turnover cap.
type TurnoverLimiter struct {
	Max float64
}

// Limit is CapTurnover with the limiter's cap.
func (tl TurnoverLimiter) Limit(deltas domain.TradeDelta, value float64) (domain.TradeDelta, float64) {
	return CapTurnover(deltas, value, tl.Max)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
