// Package metrics exposes Prometheus collectors for backtest runs and the
// HTTP API.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	RunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "polyagents",
			Subsystem: "backtest",
			Name:      "runs_total",
			Help:      "Backtest runs by outcome",
		},
		[]string{"planner", "outcome"},
	)

	RunDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "polyagents",
			Subsystem: "backtest",
			Name:      "run_duration_seconds",
			Help:      "Wall time of a backtest run including data loading",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"planner"},
	)

	Rebalances = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "polyagents",
			Subsystem: "backtest",
			Name:      "rebalances_total",
			Help:      "Rebalance dates that produced targets",
		},
	)

	SkippedBuys = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "polyagents",
			Subsystem: "backtest",
			Name:      "skipped_buys_total",
			Help:      "Buys skipped for insufficient cash",
		},
	)

	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "polyagents",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by route and status",
		},
		[]string{"route", "method", "status"},
	)

	GatheredBars = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "polyagents",
			Subsystem: "gather",
			Name:      "bars_total",
			Help:      "Bars written by the gatherer",
		},
		[]string{"market"},
	)

	GatheredHeadlines = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "polyagents",
			Subsystem: "gather",
			Name:      "headlines_total",
			Help:      "Scored headlines written by the headline gatherer",
		},
		[]string{"source"},
	)
)

// Register adds every collector to the default registry. Safe to call more
// than once.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(RunsTotal, RunDuration, Rebalances, SkippedBuys, HTTPRequests, GatheredBars, GatheredHeadlines)
	})
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveRun records one completed run.
func ObserveRun(planner, outcome string, elapsed time.Duration, rebalances, skippedBuys int) {
	RunsTotal.WithLabelValues(planner, outcome).Inc()
	RunDuration.WithLabelValues(planner).Observe(elapsed.Seconds())
	Rebalances.Add(float64(rebalances))
	SkippedBuys.Add(float64(skippedBuys))
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Instrument counts requests to next under the given route label.
func Instrument(route string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		HTTPRequests.WithLabelValues(route, r.Method, strconv.Itoa(rec.status)).Inc()
	})
}
