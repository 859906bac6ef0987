package gather

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"covercall/internal/calendar"
	"covercall/internal/marketdata"
	"covercall/internal/store"
)

var _ Gatherer = (*BarPrefetcher)(nil)

// barMarket is the market partition the price book reads.
const barMarket = "us"

// Stats counts the outcome of a prefetch.
type Stats struct {
	Tickers int // requested
	Skipped int // already known to have no bars
	Hits    int // tickers with bars written
	Empty   int // tickers that returned no bars
	Failed  int
	Bars    int
}

// BarPrefetcher downloads daily bars for a set of tickers over a date range
// and writes them to the bar store, so later backtests read prices locally.
// Progress is kept in dir: a rerun over the same range is a no-op, and a
// crashed run resumes without retrying tickers that came back empty.
type BarPrefetcher struct {
	fetcher    marketdata.BarFetcher
	store      store.BarStore
	dir        string
	tickers    []string
	rng        DateRange
	maxWorkers int
	log        *slog.Logger

	stats Stats
}

// NewBarPrefetcher creates a BarPrefetcher. maxWorkers bounds the number of
// concurrent fetches (default 4).
func NewBarPrefetcher(fetcher marketdata.BarFetcher, s store.BarStore, dir string, tickers []string, rng DateRange, maxWorkers int) *BarPrefetcher {
	if maxWorkers <= 0 {
		maxWorkers = 4
	}
	seen := make(map[string]struct{}, len(tickers))
	var uniq []string
	for _, t := range tickers {
		t = strings.ToUpper(strings.TrimSpace(t))
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		uniq = append(uniq, t)
	}
	return &BarPrefetcher{
		fetcher:    fetcher,
		store:      s,
		dir:        dir,
		tickers:    uniq,
		rng:        DateRange{Start: calendar.Date(rng.Start), End: calendar.Date(rng.End)},
		maxWorkers: maxWorkers,
		log:        slog.Default().With("gatherer", "bar-prefetch"),
	}
}

// CachedTickers returns extra followed by every ticker that already has bars
// in s, so a prefetch over a new range refreshes the whole cache.
func CachedTickers(ctx context.Context, s store.BarStore, extra []string) ([]string, error) {
	cached, err := s.ListSymbols(ctx, barMarket)
	if err != nil {
		return nil, fmt.Errorf("listing cached tickers: %w", err)
	}
	return append(append([]string(nil), extra...), cached...), nil
}

// Name returns the gatherer identifier.
func (p *BarPrefetcher) Name() string { return "bar-prefetch" }

// Stats returns the counters of the last Run.
func (p *BarPrefetcher) Stats() Stats { return p.stats }

func (p *BarPrefetcher) key() string {
	return calendar.Format(p.rng.Start) + ".." + calendar.Format(p.rng.End) + " " + strings.Join(p.tickers, ",")
}

// Run fetches every ticker not already completed. It returns an error if any
// ticker failed; the range is only marked completed when all succeeded.
func (p *BarPrefetcher) Run(ctx context.Context) error {
	if p.rng.End.Before(p.rng.Start) {
		return fmt.Errorf("prefetch: end %s before start %s", calendar.Format(p.rng.End), calendar.Format(p.rng.Start))
	}
	p.stats = Stats{Tickers: len(p.tickers)}

	tracker, err := newProgressTracker(p.dir)
	if err != nil {
		return fmt.Errorf("creating progress tracker: %w", err)
	}
	defer tracker.Close()

	key := p.key()
	switch last := tracker.LastCompleted(); {
	case last == key:
		p.log.Info("already completed", "range", key)
		return nil
	case last != "":
		// A different range finished last; its empty set does not apply.
		if err := tracker.Reset(); err != nil {
			return fmt.Errorf("resetting tracker: %w", err)
		}
	}

	var remaining []string
	for _, t := range p.tickers {
		if tracker.IsTriedEmpty(t) {
			p.stats.Skipped++
			continue
		}
		remaining = append(remaining, t)
	}

	p.log.Info("starting prefetch",
		"start", calendar.Format(p.rng.Start),
		"end", calendar.Format(p.rng.End),
		"tickers", len(p.tickers),
		"remaining", len(remaining),
	)

	tickerCh := make(chan string, len(remaining))
	for _, t := range remaining {
		tickerCh <- t
	}
	close(tickerCh)

	var (
		wg       sync.WaitGroup
		hits     atomic.Int64
		empty    atomic.Int64
		failed   atomic.Int64
		bars     atomic.Int64
		runStart = time.Now()
	)

	workers := min(p.maxWorkers, len(remaining))
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for ticker := range tickerCh {
				if ctx.Err() != nil {
					return
				}

				got, err := p.fetcher.FetchDailyBars(ctx, ticker, p.rng.Start, p.rng.End)
				if err != nil {
					if ctx.Err() == nil {
						p.log.Error("fetch failed", "ticker", ticker, "err", err)
					}
					failed.Add(1)
					continue
				}
				if len(got) == 0 {
					empty.Add(1)
					if err := tracker.MarkEmpty(ticker); err != nil {
						p.log.Error("marking empty failed", "ticker", ticker, "err", err)
					}
					continue
				}
				if err := p.store.WriteBars(ctx, got); err != nil {
					p.log.Error("writing bars failed", "ticker", ticker, "err", err)
					failed.Add(1)
					continue
				}
				hits.Add(1)
				bars.Add(int64(len(got)))

				p.log.Info("ticker done",
					"ticker", ticker,
					"bars", len(got),
					"elapsed", time.Since(runStart).Round(time.Millisecond),
				)
			}
		}()
	}
	wg.Wait()

	p.stats.Hits = int(hits.Load())
	p.stats.Empty = int(empty.Load())
	p.stats.Failed = int(failed.Load())
	p.stats.Bars = int(bars.Load())

	if ctx.Err() != nil {
		return ctx.Err()
	}
	if p.stats.Failed > 0 {
		return fmt.Errorf("prefetch: %d of %d tickers failed", p.stats.Failed, len(remaining))
	}
	if err := tracker.MarkCompleted(key); err != nil {
		return fmt.Errorf("marking completed: %w", err)
	}

	p.log.Info("prefetch complete",
		"hits", p.stats.Hits,
		"empty", p.stats.Empty,
		"skipped", p.stats.Skipped,
		"bars", p.stats.Bars,
		"elapsed", time.Since(runStart).Round(time.Millisecond),
	)
	return nil
}
