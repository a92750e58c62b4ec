package engine

import (
	"math"

	"gonum.org/v1/gonum/stat"

	"polyagents/internal/domain"
)

const (
	periodsPerYear = 365
	sharpeEpsilon  = 1e-9
)

// Returns computes the simple period-over-period returns of a curve.
func Returns(curve []domain.EquityPoint) []float64 {
	if len(curve) < 2 {
		return nil
	}
	out := make([]float64, len(curve)-1)
	for i := 1; i < len(curve); i++ {
		out[i-1] = curve[i].Value/curve[i-1].Value - 1
	}
	return out
}

// MaxDrawdown returns the most negative value of equity/running_max - 1.
func MaxDrawdown(curve []domain.EquityPoint) float64 {
	var dd, peak float64
	for i, p := range curve {
		if i == 0 || p.Value > peak {
			peak = p.Value
		}
		if peak > 0 {
			dd = min(dd, p.Value/peak-1)
		}
	}
	return dd
}

// Analyze reduces an equity curve to summary statistics. Annualisation
// assumes one point per calendar day over a 365-day year, whatever the
// curve's real spacing.
func Analyze(curve []domain.EquityPoint) domain.Stats {
	var s domain.Stats
	n := len(curve)
	if n == 0 || curve[0].Value <= 0 {
		return s
	}

	s.TotalReturn = curve[n-1].Value/curve[0].Value - 1
	s.CAGREst = math.Pow(1+s.TotalReturn, float64(periodsPerYear)/float64(n)) - 1
	s.MaxDD = MaxDrawdown(curve)

	rets := Returns(curve)
	if len(rets) < 2 {
		return s
	}
	s.Vol = stat.StdDev(rets, nil) * math.Sqrt(periodsPerYear)
	s.Sharpe = stat.Mean(rets, nil) * periodsPerYear / (s.Vol + sharpeEpsilon)
	return s
}
