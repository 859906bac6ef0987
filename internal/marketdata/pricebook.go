package marketdata

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"covercall/internal/calendar"
	"covercall/internal/domain"
	"covercall/internal/store"
)

const barMarket = "us"

// PriceBook answers single-session open/close lookups for equities. Bars
// are loaded lazily in windows of several months, first from the optional
// bar cache and then from the fetcher; fetched bars are written back to the
// cache.
type PriceBook struct {
	fetcher BarFetcher
	cache   store.BarStore
	months  int
	log     *slog.Logger

	mu      sync.Mutex
	bars    map[string]map[time.Time]domain.Bar
	fetched map[string][]span
}

type span struct{ start, end time.Time }

func (s span) contains(day time.Time) bool {
	return !day.Before(s.start) && !day.After(s.end)
}

// NewPriceBook creates a PriceBook. cache may be nil. windowMonths sets how
// far ahead of a missing session each fetch reaches (default 6).
func NewPriceBook(fetcher BarFetcher, cache store.BarStore, windowMonths int) *PriceBook {
	if windowMonths <= 0 {
		windowMonths = 6
	}
	return &PriceBook{
		fetcher: fetcher,
		cache:   cache,
		months:  windowMonths,
		log:     slog.Default().With("component", "pricebook"),
		bars:    make(map[string]map[time.Time]domain.Bar),
		fetched: make(map[string][]span),
	}
}

// OpenPrice returns the opening price of ticker on day.
func (b *PriceBook) OpenPrice(ctx context.Context, ticker string, day time.Time) (decimal.Decimal, error) {
	bar, err := b.Bar(ctx, ticker, day)
	if err != nil {
		return decimal.Zero, err
	}
	return decimal.NewFromFloat(bar.Open), nil
}

// ClosePrice returns the closing price of ticker on day.
func (b *PriceBook) ClosePrice(ctx context.Context, ticker string, day time.Time) (decimal.Decimal, error) {
	bar, err := b.Bar(ctx, ticker, day)
	if err != nil {
		return decimal.Zero, err
	}
	return decimal.NewFromFloat(bar.Close), nil
}

// Bar returns the daily bar of ticker for the session on day.
func (b *PriceBook) Bar(ctx context.Context, ticker string, day time.Time) (domain.Bar, error) {
	sym := strings.ToUpper(ticker)
	day = calendar.Date(day)

	b.mu.Lock()
	defer b.mu.Unlock()

	if bar, ok := b.bars[sym][day]; ok {
		return bar, nil
	}

	end := calendar.AddMonths(day, b.months)
	if b.cache != nil {
		cached, err := b.cache.ReadBars(ctx, sym, barMarket, day, end.AddDate(0, 0, 1))
		if err != nil {
			b.log.Warn("reading bar cache", "symbol", sym, "error", err)
		}
		b.add(sym, cached)
		if bar, ok := b.bars[sym][day]; ok {
			return bar, nil
		}
	}

	if !b.wasFetched(sym, day) {
		fetched, err := b.fetcher.FetchDailyBars(ctx, sym, day, end)
		if err != nil {
			return domain.Bar{}, fmt.Errorf("fetching bars for %s from %s: %w", sym, calendar.Format(day), err)
		}
		b.fetched[sym] = append(b.fetched[sym], span{start: day, end: end})
		b.add(sym, fetched)
		b.log.Debug("fetched bars", "symbol", sym, "start", calendar.Format(day), "end", calendar.Format(end), "bars", len(fetched))

		if b.cache != nil && len(fetched) > 0 {
			if err := b.cache.WriteBars(ctx, fetched); err != nil {
				b.log.Warn("writing bar cache", "symbol", sym, "error", err)
			}
		}
		if bar, ok := b.bars[sym][day]; ok {
			return bar, nil
		}
	}

	return domain.Bar{}, fmt.Errorf("%s on %s: %w", sym, calendar.Format(day), ErrDataUnavailable)
}

func (b *PriceBook) add(sym string, bars []domain.Bar) {
	if len(bars) == 0 {
		return
	}
	m := b.bars[sym]
	if m == nil {
		m = make(map[time.Time]domain.Bar)
		b.bars[sym] = m
	}
	for _, bar := range bars {
		m[SessionDate(bar.Timestamp)] = bar
	}
}

func (b *PriceBook) wasFetched(sym string, day time.Time) bool {
	for _, s := range b.fetched[sym] {
		if s.contains(day) {
			return true
		}
	}
	return false
}
