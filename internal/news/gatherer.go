package news

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"polyagents/internal/domain"
	"polyagents/internal/gather"
	"polyagents/internal/metrics"
	"polyagents/internal/store"
	"polyagents/internal/util"
)

var _ gather.Gatherer = (*HeadlineGatherer)(nil)

// HeadlineOptions configures a HeadlineGatherer.
type HeadlineOptions struct {
	Symbols         []string
	Lookback        time.Duration
	MaxWorkers      int
	RateLimitPerMin int
}

// HeadlineGatherer pulls recent articles for each symbol from every source,
// scores their headlines and merges them into the headline store.
type HeadlineGatherer struct {
	sources []Source
	scorer  Scorer
	store   store.HeadlineStore
	opts    HeadlineOptions
	limiter *rate.Limiter
	backoff time.Duration
	now     func() time.Time
	log     *slog.Logger
}

// NewHeadlineGatherer creates a HeadlineGatherer. A nil scorer uses
// NewLexicon.
func NewHeadlineGatherer(sources []Source, scorer Scorer, s store.HeadlineStore, opts HeadlineOptions, logger *slog.Logger) *HeadlineGatherer {
	if logger == nil {
		logger = slog.Default()
	}
	if scorer == nil {
		scorer = NewLexicon()
	}
	if opts.Lookback <= 0 {
		opts.Lookback = 72 * time.Hour
	}
	if opts.MaxWorkers <= 0 {
		opts.MaxWorkers = 1
	}
	limit := rate.Inf
	if opts.RateLimitPerMin > 0 {
		limit = rate.Limit(float64(opts.RateLimitPerMin) / 60)
	}
	return &HeadlineGatherer{
		sources: sources,
		scorer:  scorer,
		store:   s,
		opts:    opts,
		limiter: rate.NewLimiter(limit, 1),
		backoff: time.Second,
		now:     time.Now,
		log:     logger.With("gatherer", "headlines"),
	}
}

// Name returns "headlines".
func (g *HeadlineGatherer) Name() string { return "headlines" }

// Run fetches the lookback window for every symbol. A source failing for one
// symbol is logged and skipped; the pass fails only if nothing could be
// fetched at all.
func (g *HeadlineGatherer) Run(ctx context.Context) error {
	if len(g.opts.Symbols) == 0 {
		return errors.New("no symbols configured")
	}
	if len(g.sources) == 0 {
		return errors.New("no news sources configured")
	}

	end := g.now().UTC()
	window := gather.DateRange{Start: end.Add(-g.opts.Lookback), End: end}
	g.log.Info("starting", "symbols", len(g.opts.Symbols), "sources", len(g.sources), "since", window.Start)

	var written, failed, attempted atomic.Int64
	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(g.opts.MaxWorkers)

	for _, sym := range g.opts.Symbols {
		eg.Go(func() error {
			var headlines []domain.Headline
			for _, src := range g.sources {
				attempted.Add(1)
				var articles []Article
				err := util.Retry(ctx, 3, g.backoff, 10*time.Second, func(ctx context.Context) error {
					if err := g.limiter.Wait(ctx); err != nil {
						return util.Permanent(err)
					}
					var err error
					articles, err = src.Fetch(ctx, sym, window.Start, window.End)
					return err
				})
				if err != nil {
					if ctx.Err() != nil {
						return ctx.Err()
					}
					failed.Add(1)
					g.log.Warn("fetch failed", "symbol", sym, "source", src.Name(), "err", err)
					continue
				}
				hl := g.score(sym, articles, window)
				metrics.GatheredHeadlines.WithLabelValues(src.Name()).Add(float64(len(hl)))
				headlines = append(headlines, hl...)
			}
			if len(headlines) == 0 {
				return nil
			}
			sort.Slice(headlines, func(i, j int) bool { return headlines[i].Time.Before(headlines[j].Time) })
			if err := g.store.WriteHeadlines(ctx, headlines); err != nil {
				return fmt.Errorf("writing headlines for %s: %w", sym, err)
			}
			written.Add(int64(len(headlines)))
			g.log.Debug("symbol done", "symbol", sym, "headlines", len(headlines))
			return nil
		})
	}

	if err := eg.Wait(); err != nil {
		return err
	}
	if n := failed.Load(); n > 0 && n == attempted.Load() {
		return fmt.Errorf("all %d fetches failed", n)
	}

	g.log.Info("complete", "headlines", written.Load(), "failedFetches", failed.Load())
	return nil
}

func (g *HeadlineGatherer) score(symbol string, articles []Article, window gather.DateRange) []domain.Headline {
	out := make([]domain.Headline, 0, len(articles))
	for _, a := range articles {
		if a.Headline == "" || !window.Contains(a.Time) {
			continue
		}
		out = append(out, domain.Headline{
			Symbol: symbol,
			Time:   a.Time.UTC(),
			Title:  a.Headline,
			Score:  g.scorer.Score(a.Headline),
		})
	}
	return out
}
