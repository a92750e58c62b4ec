package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"polyagents/internal/config"
	"polyagents/internal/gather/daily"
	"polyagents/internal/store"
	"polyagents/internal/util"
)

func main() {
	market := flag.String("market", "", "override gather.daily.market (us or crypto)")
	symbols := flag.String("symbols", "", "comma-separated symbols overriding gather.daily.symbols")
	logDir := flag.String("log-dir", os.TempDir(), "directory for the daily log file")
	flag.Parse()

	cfg, err := config.Load(config.Path())
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	job := cfg.Gather.Daily
	if *market != "" {
		job.Market = *market
	}
	if *symbols != "" {
		job.Symbols = strings.Split(*symbols, ",")
	}

	// Dual logger: stdout + log file.
	logFileName := filepath.Join(*logDir, fmt.Sprintf("bar-gather-%s-%s.log", job.Market, time.Now().Format("2006-01-02")))
	logFile, err := os.Create(logFileName)
	if err != nil {
		log.Fatalf("failed to create log file: %v", err)
	}
	defer logFile.Close()

	logger := util.NewLoggerTo(io.MultiWriter(os.Stdout, logFile), cfg.Logging.Level, cfg.Logging.Format)
	util.SetDefault(logger)

	pstore := store.NewParquetStore(cfg.Storage.DataDir)

	gatherer := daily.NewDailyBarGatherer(
		cfg.Alpaca.APIKey,
		cfg.Alpaca.APISecret,
		cfg.Alpaca.DataURL,
		cfg.Alpaca.BaseURL,
		pstore,
		filepath.Join(cfg.Storage.DataDir, job.Market),
		daily.DailyBarOptions{
			Market:          job.Market,
			Symbols:         job.Symbols,
			StartDate:       job.StartDate,
			BatchSize:       job.BatchSize,
			MaxWorkers:      job.MaxWorkers,
			RateLimitPerMin: job.RateLimitPerMin,
			Feed:            job.Feed,
		},
		logger,
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	slog.Info("starting bar-gather", "gatherer", gatherer.Name(), "logFile", logFileName, "symbols", len(job.Symbols))
	if err := gatherer.Run(ctx); err != nil {
		log.Fatalf("gather error: %v", err)
	}
}
