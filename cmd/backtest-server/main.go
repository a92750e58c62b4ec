package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"polyagents/internal/api"
	"polyagents/internal/app"
	"polyagents/internal/config"
	"polyagents/internal/metrics"
	"polyagents/internal/util"
)

func main() {
	cfgPath := config.Path()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := util.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
	util.SetDefault(logger)
	metrics.Register()

	a, err := app.Open(cfg, logger)
	if err != nil {
		log.Fatalf("failed to open stores: %v", err)
	}
	defer a.Close()

	srv := api.NewServer(cfg, a.Backtester, logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger.Info("starting backtest-server",
		"config", cfgPath,
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
		"grpcPort", cfg.Server.GRPCPort,
		"planners", a.Backtester.Planners(),
	)
	if err := srv.ListenAndServe(ctx); err != nil {
		logger.Error("server error", "error", err)
		a.Close()
		log.Fatalf("server error: %v", err)
	}
}
