package strategy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"polyagents/internal/domain"
	"polyagents/internal/engine"
	"polyagents/internal/metrics"
	"polyagents/internal/sentiment"
	"polyagents/internal/series"
	"polyagents/internal/store"
)

// ErrUnknownPlanner is returned when a plan names an unregistered planner.
var ErrUnknownPlanner = errors.New("unknown planner")

// BacktestConfig holds service-level defaults.
type BacktestConfig struct {
	Market         string
	InitialCash    float64
	DefaultPlanner string
	// HistoryStart bounds data loading when a request has no start date.
	HistoryStart time.Time
	// LoadConcurrency caps parallel store reads. Zero means 8.
	LoadConcurrency int
}

// Request describes one backtest. Start and End bound the simulation
// inclusively; nil means unbounded.
type Request struct {
	Plan  domain.Plan `json:"plan"`
	Start *time.Time  `json:"start,omitempty"`
	End   *time.Time  `json:"end,omitempty"`
}

// Backtester replays stored history through a registered planner and
// persists each run.
type Backtester struct {
	bars      store.BarStore
	headlines store.HeadlineStore
	runs      store.RunStore
	curves    store.CurveExporter
	registry  *Registry
	cfg       BacktestConfig
	log       *slog.Logger
	now       func() time.Time
}

// NewBacktester creates a Backtester that reads bars from the given store and
// looks up planners in the provided registry.
func NewBacktester(barStore store.BarStore, registry *Registry, cfg BacktestConfig, logger *slog.Logger) *Backtester {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if cfg.Market == "" {
		cfg.Market = "crypto"
	}
	if cfg.DefaultPlanner == "" {
		cfg.DefaultPlanner = "rules"
	}
	if cfg.HistoryStart.IsZero() {
		cfg.HistoryStart = time.Date(2015, 1, 1, 0, 0, 0, 0, time.UTC)
	}
	if cfg.LoadConcurrency <= 0 {
		cfg.LoadConcurrency = 8
	}
	return &Backtester{
		bars:     barStore,
		registry: registry,
		cfg:      cfg,
		log:      logger.With("component", "backtester"),
		now:      time.Now,
	}
}

// SetHeadlineStore enables sentiment for plans that use it.
func (bt *Backtester) SetHeadlineStore(h store.HeadlineStore) { bt.headlines = h }

// SetRunStore enables run persistence.
func (bt *Backtester) SetRunStore(r store.RunStore) { bt.runs = r }

// SetCurveExporter enables Parquet export of each curve.
func (bt *Backtester) SetCurveExporter(c store.CurveExporter) { bt.curves = c }

// Planners lists the registered planner names.
func (bt *Backtester) Planners() []string { return bt.registry.List() }

// Run executes one backtest. Insufficient history is not an error: the
// returned run carries Error "not enough data" and an empty curve.
func (bt *Backtester) Run(ctx context.Context, req Request) (*domain.Run, error) {
	began := bt.now()

	plan := req.Plan
	if plan.Planner == "" {
		plan.Planner = bt.cfg.DefaultPlanner
	}
	plan.Universe = slices.Clone(plan.Universe)
	for i, sym := range plan.Universe {
		plan.Universe[i] = strings.ToUpper(strings.TrimSpace(sym))
	}
	if err := plan.Normalize(); err != nil {
		return nil, err
	}
	planner, ok := bt.registry.Get(plan.Planner)
	if !ok {
		return nil, fmt.Errorf("%w %q", ErrUnknownPlanner, plan.Planner)
	}

	loadStart, loadEnd := bt.cfg.HistoryStart, began.UTC()
	if req.Start != nil {
		// Trailing windows may reach back before the simulation start.
		loadStart = req.Start.AddDate(0, 0, -2*engine.TrailingWindow)
	}
	if req.End != nil {
		loadEnd = *req.End
	}

	bars, sent, err := bt.load(ctx, &plan, loadStart, loadEnd)
	if err != nil {
		metrics.ObserveRun(plan.Planner, "error", bt.now().Sub(began), 0, 0)
		return nil, err
	}

	eng := engine.NewEngine(planner, nil, engine.Config{InitialCash: bt.cfg.InitialCash}, bt.log)
	res, err := eng.Run(engine.Input{
		Plan:      &plan,
		Bars:      bars,
		Sentiment: sent,
		Start:     req.Start,
		End:       req.End,
	})
	outcome := "ok"
	switch {
	case errors.Is(err, engine.ErrNotEnoughData):
		outcome = "not_enough_data"
	case err != nil:
		metrics.ObserveRun(plan.Planner, "error", bt.now().Sub(began), 0, 0)
		return nil, fmt.Errorf("running backtest: %w", err)
	}

	run := &domain.Run{
		ID:         uuid.NewString(),
		CreatedAt:  began.UTC(),
		Planner:    plan.Planner,
		Plan:       plan,
		Start:      req.Start,
		End:        req.End,
		Stats:      res.Stats,
		Error:      res.Error,
		Rebalances: res.Rebalances,
		Curve:      res.Curve,
	}

	if bt.runs != nil {
		if err := bt.runs.SaveRun(ctx, run); err != nil {
			return nil, fmt.Errorf("saving run: %w", err)
		}
	}
	if bt.curves != nil && len(run.Curve) > 0 {
		if err := bt.curves.WriteEquityCurve(ctx, run.ID, run.Curve); err != nil {
			bt.log.Warn("curve export failed", "run", run.ID, "error", err)
		}
	}

	elapsed := bt.now().Sub(began)
	metrics.ObserveRun(plan.Planner, outcome, elapsed, res.Rebalances, res.Fills.SkippedBuys)
	bt.log.Info("backtest complete",
		"run", run.ID,
		"planner", plan.Planner,
		"outcome", outcome,
		"points", len(run.Curve),
		"elapsed", elapsed,
	)
	return run, nil
}

// GetRun returns a stored run.
func (bt *Backtester) GetRun(ctx context.Context, id string) (*domain.Run, error) {
	if bt.runs == nil {
		return nil, store.ErrRunNotFound
	}
	return bt.runs.GetRun(ctx, id)
}

// ListRuns returns recent stored runs.
func (bt *Backtester) ListRuns(ctx context.Context, limit int) ([]domain.RunSummary, error) {
	if bt.runs == nil {
		return nil, nil
	}
	return bt.runs.ListRuns(ctx, limit)
}

// usesSentiment reports whether any part of plan reads sentiment.
func usesSentiment(plan *domain.Plan) bool {
	return plan.Sentiment.Enabled || plan.Gates.MinSentiment != nil || plan.Gates.SentimentShock
}

// load reads bars, and headlines when the plan needs them, for every
// universe asset concurrently.
func (bt *Backtester) load(ctx context.Context, plan *domain.Plan, start, end time.Time) (map[string][]domain.Bar, map[string]series.Series, error) {
	var (
		mu        sync.Mutex
		bars      = make(map[string][]domain.Bar, len(plan.Universe))
		headlines []domain.Headline
	)
	wantSentiment := bt.headlines != nil && usesSentiment(plan)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(bt.cfg.LoadConcurrency)
	for _, sym := range plan.Universe {
		g.Go(func() error {
			b, err := bt.bars.ReadBars(gctx, sym, bt.cfg.Market, start, end)
			if err != nil {
				return fmt.Errorf("loading bars for %s: %w", sym, err)
			}
			mu.Lock()
			bars[sym] = b
			mu.Unlock()
			return nil
		})
		if wantSentiment {
			g.Go(func() error {
				h, err := bt.headlines.ReadHeadlines(gctx, sym, start, end)
				if err != nil {
					return fmt.Errorf("loading headlines for %s: %w", sym, err)
				}
				mu.Lock()
				headlines = append(headlines, h...)
				mu.Unlock()
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	if !wantSentiment {
		return bars, nil, nil
	}
	window := time.Duration(plan.Sentiment.WindowHours) * time.Hour
	return bars, sentiment.Rolling(headlines, window), nil
}
