// Package builtins provides the planners that ship with polyagents.
package builtins

import (
	"math"

	"polyagents/internal/domain"
)

// BandTradePlan returns delta = (target-current)*value per asset, zeroed
// where the deviation is within bandPp percentage points. Assets held but
// absent from target are treated as target 0.
func BandTradePlan(current map[string]float64, target domain.TargetWeights, value, bandPp float64) domain.TradeDelta {
	out := make(domain.TradeDelta, len(current)+len(target))
	for sym, cw := range current {
		out[sym] = bandDelta(target[sym]-cw, value, bandPp)
	}
	for sym, tw := range target {
		if _, ok := current[sym]; !ok {
			out[sym] = bandDelta(tw, value, bandPp)
		}
	}
	return out
}

func bandDelta(dev, value, bandPp float64) float64 {
	if math.Abs(dev)*100 <= bandPp {
		return 0
	}
	return dev * value
}
