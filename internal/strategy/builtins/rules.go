package builtins

import (
	"math"
	"slices"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"polyagents/internal/domain"
	"polyagents/internal/engine"
	"polyagents/internal/sentiment"
	"polyagents/internal/series"
)

// Compile-time interface check.
var _ engine.Planner = (*Rules)(nil)

// Rules gates assets on sentiment, weights the survivors by the plan's
// scheme and caps individual weights.
type Rules struct{}

// NewRules creates a Rules planner.
func NewRules() *Rules { return &Rules{} }

// Name returns "rules".
func (p *Rules) Name() string { return "rules" }

// TargetWeights applies, in order: the direction bias, the sentiment gates,
// the weighting scheme and the max-weight cap. Excluded assets are reported
// in the diagnostics under "gated".
func (p *Rules) TargetWeights(plan *domain.Plan, prices map[string][]domain.Bar, sent map[string]series.Series) (domain.TargetWeights, engine.Diagnostics) {
	diag := engine.Diagnostics{}
	if plan.DirectionBias == "flat" {
		diag["reason"] = "flat bias"
		return domain.TargetWeights{}, diag
	}

	gated := map[string]string{}
	var eligible []string
	for _, sym := range plan.Universe {
		if len(prices[sym]) == 0 {
			gated[sym] = "no prices"
			continue
		}
		if reason, ok := gate(plan.Gates, sent, sym); ok {
			gated[sym] = reason
			continue
		}
		eligible = append(eligible, sym)
	}
	if len(gated) > 0 {
		diag["gated"] = gated
	}
	if len(eligible) == 0 {
		diag["reason"] = "no eligible assets"
		return domain.TargetWeights{}, diag
	}

	var raw []float64
	switch plan.Weighting.Scheme {
	case "fixed":
		raw = make([]float64, len(eligible))
		for i, sym := range eligible {
			raw[i] = plan.Weighting.Weights[sym]
		}
	case "inverse_vol":
		raw = inverseVol(eligible, prices, plan.Weighting.Lookback)
	default:
		raw = make([]float64, len(eligible))
		for i := range raw {
			raw[i] = 1
		}
	}

	if plan.Weighting.Scheme != "fixed" {
		total := floats.Sum(raw)
		if total <= 0 {
			diag["reason"] = "zero total weight"
			return domain.TargetWeights{}, diag
		}
		floats.Scale(1/total, raw)
	}

	out := make(domain.TargetWeights, len(eligible))
	for i, sym := range eligible {
		w := raw[i]
		if plan.Risk.MaxWeight > 0 {
			w = min(w, plan.Risk.MaxWeight)
		}
		out[sym] = w
	}
	return out, diag
}

// BuildTradePlan applies the no-trade band.
func (p *Rules) BuildTradePlan(current map[string]float64, target domain.TargetWeights, value, bandPp float64) domain.TradeDelta {
	return BandTradePlan(current, target, value, bandPp)
}

// gate returns the reason sym is excluded, if any. An asset with no
// sentiment passes every sentiment gate.
func gate(g domain.Gates, sent map[string]series.Series, sym string) (string, bool) {
	s, ok := sent[sym]
	if !ok {
		return "", false
	}
	if g.MinSentiment != nil {
		if v, ok := sentiment.Latest(s); ok && v < *g.MinSentiment {
			return "below min sentiment", true
		}
	}
	if g.SentimentShock && sentiment.Shock(s, g.ShockHours, g.Threshold()) {
		return "sentiment shock", true
	}
	return "", false
}

// inverseVol weights each asset by the inverse sample standard deviation of
// its last lookback daily close-to-close returns. Assets with fewer than two
// returns or zero volatility get zero weight.
func inverseVol(symbols []string, prices map[string][]domain.Bar, lookback int) []float64 {
	out := make([]float64, len(symbols))
	for i, sym := range symbols {
		bars := prices[sym]
		bars = bars[max(0, len(bars)-lookback-1):]
		if len(bars) < 3 {
			continue
		}
		rets := make([]float64, 0, len(bars)-1)
		for j := 1; j < len(bars); j++ {
			if bars[j-1].Close <= 0 {
				continue
			}
			rets = append(rets, bars[j].Close/bars[j-1].Close-1)
		}
		if len(rets) < 2 {
			continue
		}
		sd := stat.StdDev(rets, nil)
		if sd > 0 && !math.IsNaN(sd) {
			out[i] = 1 / sd
		}
	}
	if slices.Max(out) == 0 {
		for i := range out {
			out[i] = 1
		}
	}
	return out
}
