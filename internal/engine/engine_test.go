package engine

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"polyagents/internal/broker"
	"polyagents/internal/domain"
	"polyagents/internal/series"
)

// 2024-01-05 is a Friday.
var day0 = time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC)

func dailyBars(sym string, n int, price func(i int) float64) []domain.Bar {
	bars := make([]domain.Bar, n)
	for i := range bars {
		px := price(i)
		bars[i] = domain.Bar{
			Symbol:    sym,
			Timestamp: day0.AddDate(0, 0, i),
			Open:      px,
			High:      px,
			Low:       px,
			Close:     px,
		}
	}
	return bars
}

func flat(px float64) func(int) float64 {
	return func(int) float64 { return px }
}

func testPlan(t *testing.T, cadence domain.Cadence, band, turnover float64, universe ...string) *domain.Plan {
	t.Helper()
	p := &domain.Plan{
		Universe: universe,
		Rebalance: domain.RebalancePolicy{
			Cadence:     cadence,
			BandPP:      &band,
			TurnoverMax: &turnover,
		},
	}
	require.NoError(t, p.Normalize())
	return p
}

// staticPlanner returns the same targets on every date and applies the
// no-trade band when building deltas.
type staticPlanner struct {
	target domain.TargetWeights
}

func (staticPlanner) Name() string { return "static" }

func (p staticPlanner) TargetWeights(*domain.Plan, map[string][]domain.Bar, map[string]series.Series) (domain.TargetWeights, Diagnostics) {
	return p.target, nil
}

func (staticPlanner) BuildTradePlan(current map[string]float64, target domain.TargetWeights, value, bandPp float64) domain.TradeDelta {
	out := make(domain.TradeDelta)
	for sym, cw := range current {
		dev := target[sym] - cw
		if math.Abs(dev)*100 <= bandPp {
			out[sym] = 0
			continue
		}
		out[sym] = dev * value
	}
	return out
}

// flipPlanner alternates between two allocations to force sells and buys.
type flipPlanner struct {
	staticPlanner
	a, b  domain.TargetWeights
	calls int
}

func (p *flipPlanner) TargetWeights(*domain.Plan, map[string][]domain.Bar, map[string]series.Series) (domain.TargetWeights, Diagnostics) {
	p.calls++
	if p.calls%2 == 0 {
		return p.b, nil
	}
	return p.a, nil
}

func TestAlignIndexBoundary(t *testing.T) {
	for _, tt := range []struct {
		n       int
		wantErr bool
	}{
		{59, true},
		{60, false},
	} {
		bars := map[string][]domain.Bar{"A": dailyBars("A", tt.n, flat(100))}
		idx, err := AlignIndex([]string{"A"}, bars, nil, nil)
		if tt.wantErr {
			assert.ErrorIs(t, err, ErrNotEnoughData, "n=%d", tt.n)
			continue
		}
		require.NoError(t, err, "n=%d", tt.n)
		assert.Len(t, idx, tt.n)
	}
}

func TestAlignIndexIntersectsAndBounds(t *testing.T) {
	a := dailyBars("A", 100, flat(100))
	b := dailyBars("B", 100, flat(100))[10:] // starts 10 days later
	bars := map[string][]domain.Bar{"A": a, "B": b}

	idx, err := AlignIndex([]string{"A", "B"}, bars, nil, nil)
	require.NoError(t, err)
	assert.Len(t, idx, 90)
	assert.True(t, idx[0].Equal(day0.AddDate(0, 0, 10)))

	end := day0.AddDate(0, 0, 79)
	idx, err = AlignIndex([]string{"A", "B"}, bars, nil, &end)
	require.NoError(t, err)
	assert.Len(t, idx, 70)
	assert.True(t, idx[len(idx)-1].Equal(end), "end bound is inclusive")

	start := day0.AddDate(0, 0, 30)
	_, err = AlignIndex([]string{"A", "B"}, bars, &start, &end)
	assert.ErrorIs(t, err, ErrNotEnoughData)
}

func TestAlignIndexMissingAssetIsEmpty(t *testing.T) {
	bars := map[string][]domain.Bar{"A": dailyBars("A", 100, flat(100))}
	_, err := AlignIndex([]string{"A", "GHOST"}, bars, nil, nil)
	assert.ErrorIs(t, err, ErrNotEnoughData)
}

func TestAlignIndexSortsAndDedupes(t *testing.T) {
	bars := dailyBars("A", 70, flat(100))
	shuffled := append([]domain.Bar{bars[5]}, bars...)
	shuffled[1], shuffled[40] = shuffled[40], shuffled[1]

	idx, err := AlignIndex([]string{"A"}, map[string][]domain.Bar{"A": shuffled}, nil, nil)
	require.NoError(t, err)
	require.Len(t, idx, 70)
	for i := 1; i < len(idx); i++ {
		assert.True(t, idx[i].After(idx[i-1]))
	}
}

func TestRebalanceSchedule(t *testing.T) {
	var index []time.Time
	for i := range 120 {
		index = append(index, day0.AddDate(0, 0, i))
	}

	weekly := RebalanceSchedule(index, domain.CadenceWeekly)
	require.NotEmpty(t, weekly)
	for _, d := range weekly {
		assert.Equal(t, time.Friday, d.Weekday())
	}
	assert.Len(t, weekly, 18)

	assert.Len(t, RebalanceSchedule(index, domain.CadenceDaily), len(index))

	monthly := RebalanceSchedule(index, domain.CadenceMonthly)
	want := []time.Time{
		time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 4, 30, 0, 0, 0, 0, time.UTC),
	}
	assert.Equal(t, want, monthly)
}

func TestRebalanceScheduleWeeklySkipsMissingFriday(t *testing.T) {
	var index []time.Time
	for i := range 21 {
		if i == 7 { // the second Friday
			continue
		}
		index = append(index, day0.AddDate(0, 0, i))
	}
	weekly := RebalanceSchedule(index, domain.CadenceWeekly)
	assert.Equal(t, []time.Time{day0, day0.AddDate(0, 0, 14)}, weekly)
}

// Unknown cadences degrade to month-end.
func TestRebalanceScheduleUnknownCadenceIsMonthly(t *testing.T) {
	var index []time.Time
	for i := range 400 {
		index = append(index, day0.AddDate(0, 0, i).Add(16*time.Hour))
	}
	monthly := RebalanceSchedule(index, domain.CadenceMonthly)
	require.NotEmpty(t, monthly)
	assert.Equal(t, monthly, RebalanceSchedule(index, "fortnightly"))
	assert.Equal(t, monthly, RebalanceSchedule(index, ""))
}

func TestCapTurnover(t *testing.T) {
	deltas := domain.TradeDelta{"A": 600, "B": -400}

	capped, scale := CapTurnover(deltas, 1000, 0.5)
	assert.InDelta(t, 0.5, scale, 1e-12)
	assert.InDelta(t, 300, capped["A"], 1e-9)
	assert.InDelta(t, -200, capped["B"], 1e-9)
	assert.Equal(t, 600.0, deltas["A"], "input must not be modified")

	_, scale = CapTurnover(deltas, 1000, 1)
	assert.Equal(t, 1.0, scale, "scale never exceeds 1")

	capped, scale = CapTurnover(deltas, 1000, 0)
	assert.Equal(t, 0.0, scale)
	assert.Equal(t, 0.0, Turnover(capped))

	capped, scale = CapTurnover(domain.TradeDelta{"A": 0}, 1000, 0)
	assert.Equal(t, 1.0, scale, "zero turnover is not scaled")
	assert.Equal(t, domain.TradeDelta{"A": 0}, capped)

	tl := TurnoverLimiter{Max: 0.1}
	capped, _ = tl.Limit(deltas, 1000)
	assert.InDelta(t, 100, Turnover(capped), 1e-9)
}

func TestEquityRecorderStates(t *testing.T) {
	r := NewEquityRecorder(2)
	require.NoError(t, r.Append(day0, 1))
	assert.ErrorIs(t, r.Append(day0, 2), ErrOutOfOrder)
	require.NoError(t, r.Append(day0.AddDate(0, 0, 1), 2))
	assert.False(t, r.Finalized())

	curve := r.Finalize()
	assert.Len(t, curve, 2)
	assert.True(t, r.Finalized())
	assert.ErrorIs(t, r.Append(day0.AddDate(0, 0, 2), 3), ErrRecorderFinalized)
	assert.Equal(t, 2, r.Len())
}

func TestAnalyze(t *testing.T) {
	values := []float64{100, 110, 99, 120}
	curve := make([]domain.EquityPoint, len(values))
	for i, v := range values {
		curve[i] = domain.EquityPoint{Time: day0.AddDate(0, 0, i), Value: v}
	}

	s := Analyze(curve)
	assert.InDelta(t, 0.2, s.TotalReturn, 1e-12)
	assert.InEpsilon(t, math.Pow(1.2, 365.0/4)-1, s.CAGREst, 1e-9)
	assert.InDelta(t, 99.0/110-1, s.MaxDD, 1e-12)

	rets := []float64{0.1, 99.0/110 - 1, 120.0/99 - 1}
	mean := (rets[0] + rets[1] + rets[2]) / 3
	var ss float64
	for _, r := range rets {
		ss += (r - mean) * (r - mean)
	}
	vol := math.Sqrt(ss/2) * math.Sqrt(365)
	assert.InDelta(t, vol, s.Vol, 1e-12)
	assert.InDelta(t, mean*365/(vol+1e-9), s.Sharpe, 1e-9)

	assert.Equal(t, domain.Stats{}, Analyze(nil))
}

func TestRunNotEnoughData(t *testing.T) {
	plan := testPlan(t, domain.CadenceDaily, 5, 0.15, "A")
	e := NewEngine(staticPlanner{target: domain.TargetWeights{"A": 1}}, nil, Config{}, nil)

	res, err := e.Run(Input{Plan: plan, Bars: map[string][]domain.Bar{"A": dailyBars("A", 59, flat(100))}})
	assert.ErrorIs(t, err, ErrNotEnoughData)
	require.NotNil(t, res)
	assert.NotNil(t, res.Curve)
	assert.Empty(t, res.Curve)
	assert.Equal(t, "not enough data", res.Error)

	res, err = e.Run(Input{Plan: plan, Bars: map[string][]domain.Bar{"A": dailyBars("A", 60, flat(100))}})
	require.NoError(t, err)
	assert.Len(t, res.Curve, 60)
	assert.Empty(t, res.Error)
}

// Flat prices with a 50/50 target under the default band and cap.
func TestRunFlatPricesConverge(t *testing.T) {
	plan := testPlan(t, domain.CadenceWeekly, 5, 0.15, "A", "B")
	bars := map[string][]domain.Bar{
		"A": dailyBars("A", 100, flat(100)),
		"B": dailyBars("B", 100, flat(100)),
	}
	e := NewEngine(staticPlanner{target: domain.TargetWeights{"A": 0.5, "B": 0.5}}, nil, Config{}, nil)

	res, err := e.Run(Input{Plan: plan, Bars: bars})
	require.NoError(t, err)

	assert.InDelta(t, 0, res.Stats.TotalReturn, 1e-9)
	for _, p := range res.Curve {
		assert.InDelta(t, DefaultInitialCash, p.Value, 1e-3)
	}
	for _, sym := range []string{"A", "B"} {
		w := res.FinalHoldings[sym] * 100 / DefaultInitialCash
		assert.InDelta(t, 0.5, w, 0.05+1e-6, "%s weight", sym)
	}
	assert.Greater(t, res.Rebalances, 1)
}

// One asset compounding 1% a day, fully invested on day 0.
func TestRunCompoundingAsset(t *testing.T) {
	plan := testPlan(t, domain.CadenceWeekly, 5, 1, "A")
	bars := map[string][]domain.Bar{
		"A": dailyBars("A", 60, func(i int) float64 { return 100 * math.Pow(1.01, float64(i)) }),
	}
	e := NewEngine(staticPlanner{target: domain.TargetWeights{"A": 1}}, nil, Config{}, nil)

	res, err := e.Run(Input{Plan: plan, Bars: bars})
	require.NoError(t, err)

	// The first point is recorded before the day-0 fill, so the curve
	// compounds over 59 intervals.
	want := math.Pow(1.01, 59) - 1
	assert.InEpsilon(t, want, res.Stats.TotalReturn, 1e-6)
	assert.InDelta(t, 0, res.Stats.MaxDD, 1e-9)
	assert.InDelta(t, 0, res.FinalCash, 1e-6)
}

// A zero turnover cap never trades.
func TestRunZeroTurnoverCapNeverTrades(t *testing.T) {
	plan := testPlan(t, domain.CadenceDaily, 0, 0, "A", "B")
	bars := map[string][]domain.Bar{
		"A": dailyBars("A", 90, func(i int) float64 { return 100 + 10*math.Sin(float64(i)) }),
		"B": dailyBars("B", 90, func(i int) float64 { return 50 + float64(i) }),
	}
	e := NewEngine(staticPlanner{target: domain.TargetWeights{"A": 0.5, "B": 0.5}}, nil, Config{}, nil)
	e.SetHooks(Hooks{
		OnPoint: func(_ domain.EquityPoint, l *broker.Ledger) {
			for i := range l.Symbols() {
				require.Equal(t, 0.0, l.Units(i))
			}
		},
		OnRebalance: func(ev RebalanceEvent) {
			assert.Greater(t, Turnover(ev.Proposed), 0.0)
			assert.Equal(t, 0.0, ev.Scale)
		},
	})

	res, err := e.Run(Input{Plan: plan, Bars: bars})
	require.NoError(t, err)
	assert.Equal(t, 0.0, res.Stats.TotalReturn)
	assert.Equal(t, broker.Fills{}, res.Fills)
	assert.Equal(t, DefaultInitialCash, res.FinalCash)
}

func TestRunInvariants(t *testing.T) {
	const turnoverMax = 0.3
	plan := testPlan(t, domain.CadenceDaily, 1, turnoverMax, "A", "B", "C")
	bars := map[string][]domain.Bar{
		"A": dailyBars("A", 150, func(i int) float64 { return 100 + 30*math.Sin(float64(i)/5) }),
		"B": dailyBars("B", 150, func(i int) float64 { return 20 + 15*math.Cos(float64(i)/3) }),
		"C": dailyBars("C", 150, func(i int) float64 { return 5 * math.Pow(1.003, float64(i)) }),
	}
	planner := &flipPlanner{
		a: domain.TargetWeights{"A": 0.9, "B": 0.1},
		b: domain.TargetWeights{"B": 0.6, "C": 0.4},
	}

	e := NewEngine(planner, nil, Config{InitialCash: 50_000}, nil)
	var rebalances int
	e.SetHooks(Hooks{
		OnPoint: func(_ domain.EquityPoint, l *broker.Ledger) {
			require.GreaterOrEqual(t, l.Cash(), 0.0)
			for i := range l.Symbols() {
				require.GreaterOrEqual(t, l.Units(i), 0.0)
			}
		},
		OnRebalance: func(ev RebalanceEvent) {
			rebalances++
			assert.LessOrEqual(t, Turnover(ev.Capped), turnoverMax*ev.Value+1e-6)
		},
	})

	res, err := e.Run(Input{Plan: plan, Bars: bars})
	require.NoError(t, err)
	assert.Equal(t, res.Rebalances, rebalances)
	assert.Greater(t, res.Fills.Sells, 0)
	assert.Greater(t, res.Fills.Buys, 0)
}

func TestRunIsDeterministic(t *testing.T) {
	plan := testPlan(t, domain.CadenceWeekly, 2, 0.4, "A", "B", "C", "D")
	bars := map[string][]domain.Bar{}
	for k, sym := range plan.Universe {
		bars[sym] = dailyBars(sym, 200, func(i int) float64 {
			return 50 + float64(k)*10 + 8*math.Sin(float64(i*(k+1))/7)
		})
	}
	target := domain.TargetWeights{"A": 0.3, "B": 0.3, "C": 0.2, "D": 0.15}

	run := func() *Result {
		res, err := NewEngine(staticPlanner{target: target}, nil, Config{}, nil).Run(Input{Plan: plan, Bars: bars})
		require.NoError(t, err)
		return res
	}
	first, second := run(), run()
	assert.Equal(t, first.Curve, second.Curve)
	assert.Equal(t, first.Stats, second.Stats)
	assert.Equal(t, first.FinalHoldings, second.FinalHoldings)
}

func TestRunEmptyTargetsIsNoop(t *testing.T) {
	plan := testPlan(t, domain.CadenceDaily, 5, 0.15, "A")
	bars := map[string][]domain.Bar{"A": dailyBars("A", 80, func(i int) float64 { return 10 + float64(i) })}

	res, err := NewEngine(staticPlanner{target: domain.TargetWeights{}}, nil, Config{}, nil).Run(Input{Plan: plan, Bars: bars})
	require.NoError(t, err)
	assert.Equal(t, 0, res.Rebalances)
	assert.Equal(t, 0.0, res.Stats.TotalReturn)
}

// spyPlanner records what it is shown on each call.
type spyPlanner struct {
	staticPlanner
	check func(prices map[string][]domain.Bar, sentiment map[string]series.Series)
}

func (p spyPlanner) TargetWeights(plan *domain.Plan, prices map[string][]domain.Bar, sentiment map[string]series.Series) (domain.TargetWeights, Diagnostics) {
	p.check(prices, sentiment)
	return p.target, nil
}

func TestRunTrailingWindowsHaveNoLookAhead(t *testing.T) {
	plan := testPlan(t, domain.CadenceDaily, 5, 0.15, "A", "B")
	bars := map[string][]domain.Bar{
		"A": dailyBars("A", 300, flat(100)),
		"B": dailyBars("B", 300, flat(100)),
	}
	var st []time.Time
	var vals []float64
	for i := range 300 {
		st = append(st, day0.AddDate(0, 0, i).Add(12*time.Hour))
		vals = append(vals, 0.1)
	}
	sent, err := series.New(st, vals)
	require.NoError(t, err)

	var lastDate time.Time
	e := NewEngine(spyPlanner{
		staticPlanner: staticPlanner{target: domain.TargetWeights{"A": 0.5}},
		check: func(prices map[string][]domain.Bar, sentiment map[string]series.Series) {
			a := prices["A"]
			require.NotEmpty(t, a)
			require.LessOrEqual(t, len(a), TrailingWindow)
			lastDate = a[len(a)-1].Timestamp

			_, hasB := sentiment["B"]
			assert.False(t, hasB, "assets without sentiment are absent")
			if ts, _, ok := sentiment["A"].Last(); ok {
				assert.False(t, ts.After(lastDate), "sentiment must end at the rebalance date")
			}
		},
	}, nil, Config{}, nil)
	e.SetHooks(Hooks{OnPoint: func(p domain.EquityPoint, _ *broker.Ledger) {
		if !lastDate.IsZero() {
			assert.False(t, lastDate.After(p.Time))
		}
	}})

	_, err = e.Run(Input{Plan: plan, Bars: bars, Sentiment: map[string]series.Series{"A": sent}})
	require.NoError(t, err)
	assert.True(t, lastDate.Equal(day0.AddDate(0, 0, 299)))
}
