package main

import (
	"context"
	"log/slog"

	"polyagents/internal/app"
	"polyagents/internal/config"
	"polyagents/internal/domain"
	"polyagents/internal/httpapi"
	"polyagents/internal/util"
	"polyagents/pkg/polyagents"
)

// backend runs commands either in-process or against a backtest-server.
type backend interface {
	Run(ctx context.Context, plan domain.Plan, start, end string) (*domain.Run, error)
	GetRun(ctx context.Context, id string) (*domain.Run, error)
	ListRuns(ctx context.Context, limit int) ([]domain.RunSummary, error)
	Planners(ctx context.Context) ([]string, error)
	Close() error
}

func openBackend(opts *rootOptions) (backend, error) {
	if opts.server != "" {
		return &remoteBackend{c: polyagents.NewClient(opts.server)}, nil
	}

	var cfg *config.Config
	var err error
	if opts.configPath != "" {
		cfg, err = config.Load(opts.configPath)
		if err != nil {
			return nil, err
		}
	} else {
		cfg = config.Default()
	}
	if opts.dataDir != "" {
		cfg.Storage.DataDir = opts.dataDir
	}
	if opts.sqlitePath != "" {
		cfg.Storage.SQLitePath = opts.sqlitePath
	}

	level := cfg.Logging.Level
	if opts.verbose {
		level = "debug"
	}
	logger := util.NewLoggerTo(opts.logOut, level, "text")

	a, err := app.Open(cfg, logger)
	if err != nil {
		return nil, err
	}
	return &localBackend{app: a, log: logger}, nil
}

type localBackend struct {
	app *app.App
	log *slog.Logger
}

func (b *localBackend) Run(ctx context.Context, plan domain.Plan, start, end string) (*domain.Run, error) {
	req, err := httpapi.RunRequest{Plan: plan, Start: start, End: end}.ToRequest()
	if err != nil {
		return nil, err
	}
	return b.app.Backtester.Run(ctx, req)
}

func (b *localBackend) GetRun(ctx context.Context, id string) (*domain.Run, error) {
	return b.app.Backtester.GetRun(ctx, id)
}

func (b *localBackend) ListRuns(ctx context.Context, limit int) ([]domain.RunSummary, error) {
	return b.app.Backtester.ListRuns(ctx, limit)
}

func (b *localBackend) Planners(context.Context) ([]string, error) {
	return b.app.Backtester.Planners(), nil
}

func (b *localBackend) Close() error { return b.app.Close() }

type remoteBackend struct {
	c *polyagents.Client
}

func (b *remoteBackend) Run(ctx context.Context, plan domain.Plan, start, end string) (*domain.Run, error) {
	return b.c.RunBacktest(ctx, polyagents.BacktestRequest{Plan: plan, Start: start, End: end})
}

func (b *remoteBackend) GetRun(ctx context.Context, id string) (*domain.Run, error) {
	return b.c.GetRun(ctx, id)
}

func (b *remoteBackend) ListRuns(ctx context.Context, limit int) ([]domain.RunSummary, error) {
	return b.c.ListRuns(ctx, limit)
}

func (b *remoteBackend) Planners(ctx context.Context) ([]string, error) {
	return b.c.Planners(ctx)
}

func (b *remoteBackend) Close() error { return nil }
