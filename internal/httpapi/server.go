package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"

	"polyagents/internal/domain"
	"polyagents/internal/metrics"
	"polyagents/internal/store"
	"polyagents/internal/strategy"
)

// maxBodyBytes bounds a decoded backtest request.
const maxBodyBytes = 1 << 20

// Backtester is the subset of *strategy.Backtester the HTTP API needs.
type Backtester interface {
	Run(ctx context.Context, req strategy.Request) (*domain.Run, error)
	GetRun(ctx context.Context, id string) (*domain.Run, error)
	ListRuns(ctx context.Context, limit int) ([]domain.RunSummary, error)
	Planners() []string
}

var _ Backtester = (*strategy.Backtester)(nil)

// BacktestServer serves the backtest HTTP API.
type BacktestServer struct {
	bt  Backtester
	log *slog.Logger
}

// NewBacktestServer creates a new backtest HTTP server.
func NewBacktestServer(bt Backtester, log *slog.Logger) *BacktestServer {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &BacktestServer{bt: bt, log: log.With("component", "httpapi")}
}

// RegisterRoutes registers all API routes on the given mux.
func (s *BacktestServer) RegisterRoutes(mux *http.ServeMux) {
	route := func(pattern string, h http.HandlerFunc) {
		mux.Handle(pattern, metrics.Instrument(pattern, h))
	}
	route("POST /api/v1/backtests", s.handleRun)
	route("GET /api/v1/backtests", s.handleList)
	route("GET /api/v1/backtests/{id}", s.handleGet)
	route("GET /api/v1/planners", s.handlePlanners)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.Handle("GET /metrics", metrics.Handler())
}

// Handler returns an http.Handler with CORS middleware.
func (s *BacktestServer) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	return corsMiddleware(mux)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encoding JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// ---------------------------------------------------------------------------
// Handlers
// ---------------------------------------------------------------------------

func (s *BacktestServer) handleRun(w http.ResponseWriter, r *http.Request) {
	var body RunRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("decoding request: %v", err))
		return
	}
	req, err := body.ToRequest()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	run, err := s.bt.Run(r.Context(), req)
	if err != nil {
		if IsClientError(err) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.log.Error("backtest failed", "error", err)
		writeError(w, http.StatusInternalServerError, "backtest failed")
		return
	}
	writeJSON(w, run)
}

func (s *BacktestServer) handleGet(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	run, err := s.bt.GetRun(r.Context(), id)
	if errors.Is(err, store.ErrRunNotFound) {
		writeError(w, http.StatusNotFound, fmt.Sprintf("run %s not found", id))
		return
	}
	if err != nil {
		s.log.Error("loading run", "run", id, "error", err)
		writeError(w, http.StatusInternalServerError, "loading run failed")
		return
	}
	writeJSON(w, run)
}

func (s *BacktestServer) handleList(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	runs, err := s.bt.ListRuns(r.Context(), limit)
	if err != nil {
		s.log.Error("listing runs", "error", err)
		writeError(w, http.StatusInternalServerError, "listing runs failed")
		return
	}
	if runs == nil {
		runs = []domain.RunSummary{}
	}
	writeJSON(w, RunListResponse{Runs: runs})
}

func (s *BacktestServer) handlePlanners(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, PlannersResponse{Planners: s.bt.Planners()})
}

func (s *BacktestServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, map[string]string{"status": "ok"})
}

// IsClientError reports whether err stems from the request itself.
func IsClientError(err error) bool {
	var verrs validator.ValidationErrors
	return errors.As(err, &verrs) || errors.Is(err, strategy.ErrUnknownPlanner)
}

// ParseDate accepts YYYY-MM-DD or RFC 3339. Empty means unbounded.
func ParseDate(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return &t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil, fmt.Errorf("invalid date %q: want YYYY-MM-DD or RFC 3339", s)
	}
	t = t.UTC()
	return &t, nil
}
