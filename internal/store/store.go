// Package store defines storage interfaces for price bars, scored headlines
// and backtest runs, with Parquet and SQLite implementations.
package store

import (
	"context"
	"errors"
	"time"

	"polyagents/internal/domain"
)

// ErrRunNotFound is returned when a run ID is unknown.
var ErrRunNotFound = errors.New("run not found")

// BarStore persists and retrieves OHLCV bar data.
type BarStore interface {
	// WriteBars persists a batch of bars under the given market.
	WriteBars(ctx context.Context, market string, bars []domain.Bar) error

	// ReadBars returns bars for the given symbol and market within [start, end],
	// ordered by time.
	ReadBars(ctx context.Context, symbol string, market string, start, end time.Time) ([]domain.Bar, error)

	// ListSymbols returns all distinct symbols available in the given market.
	ListSymbols(ctx context.Context, market string) ([]string, error)
}

// HeadlineStore persists and retrieves scored news headlines.
type HeadlineStore interface {
	// WriteHeadlines persists a batch of headlines.
	WriteHeadlines(ctx context.Context, headlines []domain.Headline) error

	// ReadHeadlines returns headlines for symbol within [start, end]. A
	// symbol with no stored headlines yields an empty result, not an error.
	ReadHeadlines(ctx context.Context, symbol string, start, end time.Time) ([]domain.Headline, error)
}

// RunStore persists backtest runs.
type RunStore interface {
	// SaveRun inserts a run and its equity curve.
	SaveRun(ctx context.Context, run *domain.Run) error

	// GetRun retrieves a run by ID, or ErrRunNotFound.
	GetRun(ctx context.Context, id string) (*domain.Run, error)

	// ListRuns returns the most recent runs, newest first, up to limit.
	ListRuns(ctx context.Context, limit int) ([]domain.RunSummary, error)
}

// CurveExporter writes an equity curve for offline analysis.
type CurveExporter interface {
	WriteEquityCurve(ctx context.Context, runID string, curve []domain.EquityPoint) error
}
