// Package app wires stores, planners and the backtester from configuration.
package app

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"polyagents/internal/config"
	"polyagents/internal/store"
	"polyagents/internal/strategy"
	"polyagents/internal/strategy/builtins"
)

// App holds the long-lived components shared by the commands.
type App struct {
	Config     *config.Config
	Parquet    *store.ParquetStore
	Runs       *store.SQLiteStore
	Registry   *strategy.Registry
	Backtester *strategy.Backtester
}

// Open creates the stores and a Backtester with every built-in planner
// registered. Close releases the run database.
func Open(cfg *config.Config, logger *slog.Logger) (*App, error) {
	historyStart, err := cfg.Backtest.HistoryStartTime()
	if err != nil {
		return nil, fmt.Errorf("backtest.history_start: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Storage.SQLitePath), 0o755); err != nil {
		return nil, fmt.Errorf("creating sqlite dir: %w", err)
	}
	runs, err := store.NewSQLiteStore(cfg.Storage.SQLitePath)
	if err != nil {
		return nil, err
	}
	pstore := store.NewParquetStore(cfg.Storage.DataDir)

	reg := strategy.NewRegistry()
	builtins.RegisterAll(reg)

	bt := strategy.NewBacktester(pstore, reg, strategy.BacktestConfig{
		Market:          cfg.Backtest.Market,
		InitialCash:     cfg.Backtest.InitialCash,
		DefaultPlanner:  cfg.Backtest.DefaultPlanner,
		HistoryStart:    historyStart,
		LoadConcurrency: cfg.Backtest.LoadConcurrency,
	}, logger)
	bt.SetHeadlineStore(pstore)
	bt.SetRunStore(runs)
	if cfg.Backtest.ExportCurves {
		bt.SetCurveExporter(pstore)
	}

	return &App{
		Config:     cfg,
		Parquet:    pstore,
		Runs:       runs,
		Registry:   reg,
		Backtester: bt,
	}, nil
}

// Close releases the run database.
func (a *App) Close() error {
	return a.Runs.Close()
}
