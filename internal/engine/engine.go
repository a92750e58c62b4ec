// Package engine replays a rebalancing plan over historical bars and reduces
// the resulting equity curve to summary statistics.
package engine

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"polyagents/internal/broker"
	"polyagents/internal/domain"
	"polyagents/internal/series"
)

// DefaultInitialCash is the starting balance when Config leaves it unset.
const DefaultInitialCash = 1_000_000.0

// Config holds engine settings that are not part of a Plan.
type Config struct {
	InitialCash float64
}

// Input is everything one run consumes. Bars and Sentiment are keyed by
// symbol and are not modified. Start and End bound the index inclusively.
type Input struct {
	Plan      *domain.Plan
	Bars      map[string][]domain.Bar
	Sentiment map[string]series.Series
	Start     *time.Time
	End       *time.Time
}

// Result is the outcome of a run. When the aligned index is too short,
// Curve is empty and Error is "not enough data".
type Result struct {
	Curve         []domain.EquityPoint `json:"curve"`
	Stats         domain.Stats         `json:"stats"`
	Error         string               `json:"error,omitempty"`
	Rebalances    int                  `json:"rebalances"`
	Fills         broker.Fills         `json:"fills"`
	FinalCash     float64              `json:"final_cash"`
	FinalHoldings map[string]float64   `json:"final_holdings,omitempty"`
}

// RebalanceEvent describes one evaluated rebalance that produced targets.
type RebalanceEvent struct {
	Time     time.Time
	Value    float64
	Target   domain.TargetWeights
	Proposed domain.TradeDelta
	Capped   domain.TradeDelta
	Scale    float64
	Fills    broker.Fills
}

// Hooks observe a run as it progresses. Either field may be nil.
type Hooks struct {
	OnPoint     func(p domain.EquityPoint, l *broker.Ledger)
	OnRebalance func(ev RebalanceEvent)
}

// Engine runs single-pass historical simulations. An Engine holds no state
// between runs and may be reused sequentially.
type Engine struct {
	planner  Planner
	executor broker.Executor
	cfg      Config
	hooks    Hooks
	log      *slog.Logger
}

// NewEngine creates an Engine. A nil executor defaults to the close-price
// simulator and a nil logger discards output.
func NewEngine(planner Planner, executor broker.Executor, cfg Config, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if executor == nil {
		executor = broker.NewSimulator(logger)
	}
	if cfg.InitialCash <= 0 {
		cfg.InitialCash = DefaultInitialCash
	}
	return &Engine{
		planner:  planner,
		executor: executor,
		cfg:      cfg,
		log:      logger.With("component", "engine"),
	}
}

// SetHooks installs observers for subsequent runs.
func (e *Engine) SetHooks(h Hooks) {
	e.hooks = h
}

// Run replays in.Plan over the aligned index. Insufficient history yields a
// Result carrying the error string together with ErrNotEnoughData.
func (e *Engine) Run(in Input) (*Result, error) {
	if in.Plan == nil {
		return nil, errors.New("engine: nil plan")
	}
	if e.planner == nil {
		return nil, errors.New("engine: nil planner")
	}
	plan := in.Plan

	bars := make(map[string][]domain.Bar, len(plan.Universe))
	for _, sym := range plan.Universe {
		bars[sym] = sortedBars(in.Bars[sym])
	}

	index, err := AlignIndex(plan.Universe, bars, in.Start, in.End)
	if err != nil {
		e.log.Info("run skipped", "reason", err, "universe", plan.Universe)
		return &Result{Curve: []domain.EquityPoint{}, Error: err.Error()}, err
	}

	schedule := newDateSet(RebalanceSchedule(index, plan.Rebalance.Cadence))
	positions := barPositions(plan.Universe, bars)

	ledger, err := broker.NewLedger(plan.Universe, e.cfg.InitialCash)
	if err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}
	recorder := NewEquityRecorder(len(index))
	limiter := TurnoverLimiter{Max: plan.Rebalance.TurnoverCap()}
	band := plan.Rebalance.Band()

	e.log.Info("run started",
		"planner", e.planner.Name(),
		"assets", len(plan.Universe),
		"dates", len(index),
		"rebalance_dates", len(schedule),
		"cadence", plan.Rebalance.Cadence,
	)

	res := &Result{}
	prices := make([]float64, len(plan.Universe))

	for _, t := range index {
		key := t.UnixNano()
		for i, sym := range plan.Universe {
			prices[i] = bars[sym][positions[i][key]].Close
		}

		value := ledger.Value(prices)
		if err := recorder.Append(t, value); err != nil {
			return nil, fmt.Errorf("engine: recording %s: %w", t.Format(time.DateOnly), err)
		}
		if e.hooks.OnPoint != nil {
			e.hooks.OnPoint(domain.EquityPoint{Time: t, Value: value}, ledger)
		}

		if !schedule.has(t) {
			continue
		}

		trailing := make(map[string][]domain.Bar, len(plan.Universe))
		for i, sym := range plan.Universe {
			end := positions[i][key] + 1
			trailing[sym] = bars[sym][max(0, end-TrailingWindow):end]
		}
		sentiment := make(map[string]series.Series, len(in.Sentiment))
		for _, sym := range plan.Universe {
			if s, ok := in.Sentiment[sym]; ok {
				sentiment[sym] = s.Until(t)
			}
		}

		target, diag := e.planner.TargetWeights(plan, trailing, sentiment)
		if len(target) == 0 {
			e.log.Debug("no targets", "date", t.Format(time.DateOnly), "diagnostics", diag)
			continue
		}

		current := ledger.WeightMap(prices)
		proposed := e.planner.BuildTradePlan(current, target, value, band)
		capped, scale := limiter.Limit(proposed, value)
		fills := e.executor.Execute(ledger, capped, prices)

		res.Rebalances++
		res.Fills.Add(fills)
		if fills.SkippedBuys > 0 {
			e.log.Debug("buys skipped for cash", "date", t.Format(time.DateOnly), "count", fills.SkippedBuys)
		}
		if e.hooks.OnRebalance != nil {
			e.hooks.OnRebalance(RebalanceEvent{
				Time:     t,
				Value:    value,
				Target:   target,
				Proposed: proposed,
				Capped:   capped,
				Scale:    scale,
				Fills:    fills,
			})
		}
	}

	res.Curve = recorder.Finalize()
	res.Stats = Analyze(res.Curve)
	res.FinalCash = ledger.Cash()
	res.FinalHoldings = ledger.Holdings()

	e.log.Info("run finished",
		"rebalances", res.Rebalances,
		"buys", res.Fills.Buys,
		"sells", res.Fills.Sells,
		"skipped_buys", res.Fills.SkippedBuys,
		"total_return", res.Stats.TotalReturn,
	)
	return res, nil
}

// sortedBars returns bars in ascending time order, copying only when the
// input is out of order.
func sortedBars(bars []domain.Bar) []domain.Bar {
	cmp := func(a, b domain.Bar) int { return a.Timestamp.Compare(b.Timestamp) }
	if slices.IsSortedFunc(bars, cmp) {
		return bars
	}
	out := slices.Clone(bars)
	slices.SortStableFunc(out, cmp)
	return out
}

// barPositions maps each asset slot's timestamps to bar offsets.
func barPositions(universe []string, bars map[string][]domain.Bar) []map[int64]int {
	out := make([]map[int64]int, len(universe))
	for i, sym := range universe {
		m := make(map[int64]int, len(bars[sym]))
		for j, b := range bars[sym] {
			m[b.Timestamp.UnixNano()] = j
		}
		out[i] = m
	}
	return out
}
