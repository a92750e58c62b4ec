package main

import (
	"context"
	"flag"
	"log"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"polyagents/internal/config"
	"polyagents/internal/news"
	"polyagents/internal/store"
	"polyagents/internal/util"
)

func main() {
	symbols := flag.String("symbols", "", "comma-separated symbols overriding gather.headlines.symbols")
	sources := flag.String("sources", "", "comma-separated sources overriding gather.headlines.sources")
	flag.Parse()

	cfg, err := config.Load(config.Path())
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	job := cfg.Gather.Headlines
	if *symbols != "" {
		job.Symbols = strings.Split(*symbols, ",")
	}
	if *sources != "" {
		job.Sources = strings.Split(*sources, ",")
	}

	logger := util.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
	util.SetDefault(logger)

	crypto := job.Market == "crypto"
	var srcs []news.Source
	for _, name := range job.Sources {
		switch strings.TrimSpace(name) {
		case "alpaca":
			srcs = append(srcs, news.NewAlpacaSource(cfg.Alpaca.APIKey, cfg.Alpaca.APISecret, cfg.Alpaca.DataURL, crypto))
		case "google":
			if crypto {
				srcs = append(srcs, news.NewGoogleNewsSource("crypto", news.DefaultCryptoAliases))
			} else {
				srcs = append(srcs, news.NewGoogleNewsSource("stock", nil))
			}
		case "cryptopanic":
			if job.CryptoPanicToken == "" {
				logger.Warn("cryptopanic source skipped: no token")
				continue
			}
			srcs = append(srcs, news.NewCryptoPanicSource(job.CryptoPanicToken, nil))
		default:
			log.Fatalf("unknown news source %q", name)
		}
	}

	gatherer := news.NewHeadlineGatherer(srcs, news.NewLexicon(), store.NewParquetStore(cfg.Storage.DataDir), news.HeadlineOptions{
		Symbols:         job.Symbols,
		Lookback:        time.Duration(job.LookbackHours) * time.Hour,
		MaxWorkers:      job.MaxWorkers,
		RateLimitPerMin: job.RateLimitPerMin,
	}, logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger.Info("starting headline-gather", "symbols", len(job.Symbols), "sources", job.Sources)
	if err := gatherer.Run(ctx); err != nil {
		log.Fatalf("gather error: %v", err)
	}
}
