package daily

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"
	"golang.org/x/time/rate"

	"polyagents/internal/domain"
	"polyagents/internal/gather"
	"polyagents/internal/metrics"
	"polyagents/internal/store"
	"polyagents/internal/util"
)

// Compile-time interface check.
var _ gather.Gatherer = (*DailyBarGatherer)(nil)

// barsClient is the subset of the Alpaca market-data client the gatherer
// uses.
type barsClient interface {
	GetMultiBars(symbols []string, req marketdata.GetBarsRequest) (map[string][]marketdata.Bar, error)
	GetCryptoMultiBars(symbols []string, req marketdata.GetCryptoBarsRequest) (map[string][]marketdata.CryptoBar, error)
}

// DailyBarOptions configures a DailyBarGatherer.
type DailyBarOptions struct {
	Market          string // "us" for equities, "crypto" for crypto pairs
	Symbols         []string
	StartDate       string // YYYY-MM-DD
	BatchSize       int
	MaxWorkers      int
	RateLimitPerMin int
	Feed            string
}

// DailyBarGatherer fetches daily bars for a fixed symbol list from the Alpaca
// market-data API and merges them into the bar store. Runs are idempotent
// within a day.
type DailyBarGatherer struct {
	client  barsClient
	store   store.BarStore
	opts    DailyBarOptions
	endDate func(ctx context.Context) (time.Time, error)
	state   *progressState
	limiter *rate.Limiter
	backoff time.Duration
	log     *slog.Logger
}

// NewDailyBarGatherer creates a DailyBarGatherer configured with the given
// Alpaca credentials and target store. stateDir holds the progress file.
func NewDailyBarGatherer(apiKey, apiSecret, dataURL, baseURL string, s store.BarStore, stateDir string, opts DailyBarOptions, logger *slog.Logger) *DailyBarGatherer {
	mdOpts := marketdata.ClientOpts{
		APIKey:    apiKey,
		APISecret: apiSecret,
	}
	if dataURL != "" {
		mdOpts.BaseURL = dataURL
	}

	g := newDailyBarGatherer(marketdata.NewClient(mdOpts), s, stateDir, opts, logger)
	if opts.Market != "crypto" {
		cal := NewAlpacaCalendar(apiKey, apiSecret, baseURL)
		g.endDate = func(context.Context) (time.Time, error) {
			return LatestFinishedTradingDay(cal, time.Now())
		}
	}
	return g
}

func newDailyBarGatherer(client barsClient, s store.BarStore, stateDir string, opts DailyBarOptions, logger *slog.Logger) *DailyBarGatherer {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Market == "" {
		opts.Market = "us"
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 50
	}
	if opts.MaxWorkers <= 0 {
		opts.MaxWorkers = 1
	}
	if opts.Feed == "" {
		opts.Feed = "sip"
	}
	limit := rate.Inf
	if opts.RateLimitPerMin > 0 {
		limit = rate.Limit(float64(opts.RateLimitPerMin) / 60)
	}

	return &DailyBarGatherer{
		client: client,
		store:  s,
		opts:   opts,
		endDate: func(context.Context) (time.Time, error) {
			return LatestFinishedCryptoDay(time.Now()), nil
		},
		state:   newProgressState(stateDir, opts.Market),
		limiter: rate.NewLimiter(limit, 1),
		backoff: time.Second,
		log:     logger.With("gatherer", "daily-"+opts.Market),
	}
}

// Name returns the gatherer identifier.
func (g *DailyBarGatherer) Name() string { return "daily-" + g.opts.Market }

// Run fetches bars from the configured start date through the latest
// finished session for every configured symbol. A run that already
// completed for the current end date returns immediately.
func (g *DailyBarGatherer) Run(ctx context.Context) error {
	if len(g.opts.Symbols) == 0 {
		return errors.New("no symbols configured")
	}
	start, err := time.Parse(time.DateOnly, g.opts.StartDate)
	if err != nil {
		return fmt.Errorf("parsing start date %q: %w", g.opts.StartDate, err)
	}

	endDate, err := g.endDate(ctx)
	if err != nil {
		return fmt.Errorf("determining end date: %w", err)
	}
	endDateStr := endDate.Format(time.DateOnly)

	if err := g.state.Load(); err != nil {
		return fmt.Errorf("loading progress: %w", err)
	}
	if g.state.LastCompleted == endDateStr {
		g.log.Info("already completed", "endDate", endDateStr)
		return nil
	}

	var batches [][]string
	for i := 0; i < len(g.opts.Symbols); i += g.opts.BatchSize {
		end := min(i+g.opts.BatchSize, len(g.opts.Symbols))
		batches = append(batches, g.opts.Symbols[i:end])
	}

	g.log.Info("starting",
		"endDate", endDateStr,
		"symbols", len(g.opts.Symbols),
		"batches", len(batches),
	)

	batchCh := make(chan int, len(batches))
	for i := range batches {
		batchCh <- i
	}
	close(batchCh)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		empty    []string
		written  atomic.Int64
		failed   atomic.Int64
		runStart = time.Now()
	)

	workers := min(g.opts.MaxWorkers, len(batches))
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for batchIdx := range batchCh {
				if ctx.Err() != nil {
					return
				}

				batch := batches[batchIdx]
				var bars []domain.Bar
				err := util.Retry(ctx, 3, g.backoff, 10*time.Second, func(ctx context.Context) error {
					if err := g.limiter.Wait(ctx); err != nil {
						return util.Permanent(err)
					}
					var err error
					bars, err = g.fetch(batch, gather.DateRange{Start: start, End: endDate})
					return err
				})
				if err != nil {
					failed.Add(1)
					g.log.Error("batch fetch failed",
						"batch", fmt.Sprintf("%d/%d", batchIdx+1, len(batches)),
						"err", err,
					)
					continue
				}

				hit := make(map[string]struct{})
				for _, b := range bars {
					hit[b.Symbol] = struct{}{}
				}
				mu.Lock()
				for _, sym := range batch {
					if _, ok := hit[StoreSymbol(sym)]; !ok {
						empty = append(empty, sym)
					}
				}
				mu.Unlock()

				if len(bars) > 0 {
					if err := g.store.WriteBars(ctx, g.opts.Market, bars); err != nil {
						failed.Add(1)
						g.log.Error("writing bars failed", "err", err)
						continue
					}
					written.Add(int64(len(bars)))
					metrics.GatheredBars.WithLabelValues(g.opts.Market).Add(float64(len(bars)))
				}

				g.log.Info("batch done",
					"batch", fmt.Sprintf("%d/%d", batchIdx+1, len(batches)),
					"bars", len(bars),
					"elapsed", time.Since(runStart).Round(time.Second),
				)
			}
		}()
	}

	wg.Wait()

	if ctx.Err() != nil {
		return ctx.Err()
	}
	if n := failed.Load(); n > 0 {
		return fmt.Errorf("%d of %d batches failed", n, len(batches))
	}

	g.state.LastCompleted = endDateStr
	g.state.Empty = empty
	if err := g.state.Save(); err != nil {
		return fmt.Errorf("saving progress: %w", err)
	}

	g.log.Info("complete",
		"bars", written.Load(),
		"empty", len(empty),
		"elapsed", time.Since(runStart).Round(time.Second),
	)
	return nil
}

// fetch fetches daily bars for multiple symbols in a single API call.
func (g *DailyBarGatherer) fetch(symbols []string, r gather.DateRange) ([]domain.Bar, error) {
	var bars []domain.Bar

	if g.opts.Market == "crypto" {
		multi, err := g.client.GetCryptoMultiBars(symbols, marketdata.GetCryptoBarsRequest{
			TimeFrame: marketdata.OneDay,
			Start:     r.Start,
			End:       r.End,
		})
		if err != nil {
			return nil, fmt.Errorf("GetCryptoMultiBars: %w", err)
		}
		for symbol, cbs := range multi {
			for _, cb := range cbs {
				bars = append(bars, domain.Bar{
					Symbol:     StoreSymbol(symbol),
					Timestamp:  cb.Timestamp.UTC(),
					Open:       cb.Open,
					High:       cb.High,
					Low:        cb.Low,
					Close:      cb.Close,
					Volume:     int64(cb.Volume),
					TradeCount: int64(cb.TradeCount),
					VWAP:       cb.VWAP,
				})
			}
		}
		return bars, nil
	}

	multi, err := g.client.GetMultiBars(symbols, marketdata.GetBarsRequest{
		TimeFrame: marketdata.OneDay,
		Start:     r.Start,
		End:       r.End,
		Feed:      g.opts.Feed,
	})
	if err != nil {
		return nil, fmt.Errorf("GetMultiBars: %w", err)
	}
	for symbol, abs := range multi {
		for _, ab := range abs {
			bars = append(bars, domain.Bar{
				Symbol:     StoreSymbol(symbol),
				Timestamp:  ab.Timestamp.UTC(),
				Open:       ab.Open,
				High:       ab.High,
				Low:        ab.Low,
				Close:      ab.Close,
				Volume:     int64(ab.Volume),
				TradeCount: int64(ab.TradeCount),
				VWAP:       ab.VWAP,
			})
		}
	}
	return bars, nil
}

// StoreSymbol maps an API symbol to its on-disk name: upper case with the
// pair separator removed, so "btc/usd" becomes "BTCUSD".
func StoreSymbol(symbol string) string {
	return strings.ToUpper(strings.ReplaceAll(symbol, "/", ""))
}
