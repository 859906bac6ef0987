package marketdata

import (
	"context"
	"fmt"
	"strings"
	"time"

	alpacamd "github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"

	"covercall/internal/calendar"
	"covercall/internal/domain"
)

// BarFetcher downloads daily bars for one symbol over [start, end].
type BarFetcher interface {
	FetchDailyBars(ctx context.Context, symbol string, start, end time.Time) ([]domain.Bar, error)
}

// barsClient is the subset of the Alpaca market-data client used here.
type barsClient interface {
	GetBars(symbol string, req alpacamd.GetBarsRequest) ([]alpacamd.Bar, error)
}

// AlpacaBars fetches daily equity bars from the Alpaca market-data API.
type AlpacaBars struct {
	client     barsClient
	feed       string
	adjustment string
}

// NewAlpacaBars creates an AlpacaBars configured with the given Alpaca
// credentials. feed ("sip", "iex") and adjustment ("raw", "split",
// "dividend", "all") may be empty to use the API defaults.
func NewAlpacaBars(apiKey, apiSecret, dataURL, feed, adjustment string) *AlpacaBars {
	opts := alpacamd.ClientOpts{
		APIKey:    apiKey,
		APISecret: apiSecret,
	}
	if dataURL != "" {
		opts.BaseURL = dataURL
	}
	return &AlpacaBars{
		client:     alpacamd.NewClient(opts),
		feed:       feed,
		adjustment: adjustment,
	}
}

// FetchDailyBars returns the daily bars of symbol whose session date falls
// within [start, end].
func (a *AlpacaBars) FetchDailyBars(ctx context.Context, symbol string, start, end time.Time) ([]domain.Bar, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	symbol = strings.ToUpper(symbol)
	alpacaBars, err := a.client.GetBars(symbol, alpacamd.GetBarsRequest{
		TimeFrame:  alpacamd.OneDay,
		Start:      calendar.Date(start),
		End:        calendar.Date(end).AddDate(0, 0, 1),
		Adjustment: alpacamd.Adjustment(a.adjustment),
		Feed:       alpacamd.Feed(a.feed),
	})
	if err != nil {
		return nil, fmt.Errorf("GetBars %s: %w", symbol, err)
	}

	last := calendar.Date(end)
	bars := make([]domain.Bar, 0, len(alpacaBars))
	for _, ab := range alpacaBars {
		if SessionDate(ab.Timestamp).After(last) {
			continue
		}
		bars = append(bars, domain.Bar{
			Symbol:     symbol,
			Timestamp:  ab.Timestamp,
			Open:       ab.Open,
			High:       ab.High,
			Low:        ab.Low,
			Close:      ab.Close,
			Volume:     int64(ab.Volume),
			TradeCount: int64(ab.TradeCount),
			VWAP:       ab.VWAP,
		})
	}
	return bars, nil
}

// SessionDate maps a daily bar timestamp to its exchange session date.
func SessionDate(ts time.Time) time.Time {
	return calendar.Date(ts.In(eastern))
}
