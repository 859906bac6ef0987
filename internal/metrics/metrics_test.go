package metrics

import (
	"context"
	"errors"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"covercall/internal/backtest"
	"covercall/internal/domain"
	"covercall/internal/marketdata"
)

// value returns the value of the counter (or histogram sample count) named
// name whose labels include want.
func value(t *testing.T, r *Registry, name string, want map[string]string) float64 {
	t.Helper()
	families, err := r.Gatherer().Gather()
	require.NoError(t, err)
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
		for _, m := range f.GetMetric() {
			if !labelsMatch(m, want) {
				continue
			}
			if c := m.GetCounter(); c != nil {
				return c.GetValue()
			}
			if h := m.GetHistogram(); h != nil {
				return float64(h.GetSampleCount())
			}
		}
	}
	return 0
}

func labelsMatch(m *dto.Metric, want map[string]string) bool {
	got := map[string]string{}
	for _, lp := range m.GetLabel() {
		got[lp.GetName()] = lp.GetValue()
	}
	for k, v := range want {
		if got[k] != v {
			return false
		}
	}
	return true
}

func TestObserver(t *testing.T) {
	r := NewRegistry(false)
	obs := r.Observer()
	p := backtest.Params{Ticker: "AAPL"}

	obs.CycleCompleted(p, backtest.Cycle{Outcome: backtest.OutcomeOTM, Premium: decimal.RequireFromString("125.5")})
	obs.CycleCompleted(p, backtest.Cycle{Outcome: backtest.OutcomeITM, Premium: decimal.RequireFromString("100")})
	obs.CycleCompleted(p, backtest.Cycle{Outcome: backtest.OutcomeSkipped})
	obs.ListingDegraded(p, time.Now(), errors.New("429"))
	obs.RunFinished(p, nil, time.Second, nil)
	obs.RunFinished(p, nil, time.Second, marketdata.ErrDataUnavailable)

	assert.Equal(t, 1.0, value(t, r, "covercall_cycles_total", map[string]string{"outcome": "otm"}))
	assert.Equal(t, 1.0, value(t, r, "covercall_cycles_total", map[string]string{"outcome": "skipped"}))
	assert.Equal(t, 225.5, value(t, r, "covercall_premiums_dollars_total", map[string]string{"ticker": "AAPL"}))
	assert.Equal(t, 1.0, value(t, r, "covercall_listing_degraded_total", nil))
	assert.Equal(t, 1.0, value(t, r, "covercall_runs_total", map[string]string{"result": "ok"}))
	assert.Equal(t, 1.0, value(t, r, "covercall_runs_total", map[string]string{"result": "unavailable"}))
	assert.Equal(t, 2.0, value(t, r, "covercall_run_duration_seconds", nil))
}

type stubMarket struct {
	partial bool
}

func (stubMarket) OpenPrice(context.Context, string, time.Time) (decimal.Decimal, error) {
	return decimal.NewFromInt(50), nil
}

func (stubMarket) ClosePrice(context.Context, string, time.Time) (decimal.Decimal, error) {
	return decimal.Zero, marketdata.ErrDataUnavailable
}

func (s stubMarket) ListOptionContracts(context.Context, marketdata.ContractQuery) (marketdata.ContractListing, error) {
	if s.partial {
		return marketdata.ContractListing{Partial: errors.New("page 2 failed")}, nil
	}
	return marketdata.ContractListing{}, nil
}

func (stubMarket) OptionDailyBar(_ context.Context, ticker string, _ time.Time) (domain.OptionBar, error) {
	return domain.OptionBar{Ticker: ticker, VWAP: 1}, nil
}

func TestInstrumentedCollaborators(t *testing.T) {
	r := NewRegistry(false)
	ctx := context.Background()

	p := r.InstrumentPrices(stubMarket{})
	_, err := p.OpenPrice(ctx, "AAPL", time.Now())
	require.NoError(t, err)
	_, err = p.ClosePrice(ctx, "AAPL", time.Now())
	assert.ErrorIs(t, err, marketdata.ErrDataUnavailable)

	c := r.InstrumentChain(stubMarket{partial: true})
	listing, err := c.ListOptionContracts(ctx, marketdata.ContractQuery{})
	require.NoError(t, err)
	assert.True(t, listing.Degraded(), "decorator passes the listing through")
	bar, err := c.OptionDailyBar(ctx, "O:X", time.Now())
	require.NoError(t, err)
	assert.Equal(t, "O:X", bar.Ticker)

	assert.Equal(t, 1.0, value(t, r, "covercall_data_requests_total", map[string]string{"op": "open_price", "result": "ok"}))
	assert.Equal(t, 1.0, value(t, r, "covercall_data_requests_total", map[string]string{"op": "close_price", "result": "unavailable"}))
	assert.Equal(t, 1.0, value(t, r, "covercall_data_requests_total", map[string]string{"op": "list_contracts", "result": "error"}))
	assert.Equal(t, 1.0, value(t, r, "covercall_data_requests_total", map[string]string{"op": "option_bar", "result": "ok"}))
	assert.Equal(t, 1.0, value(t, r, "covercall_data_request_duration_seconds", map[string]string{"op": "option_bar"}))
}

func TestHandler(t *testing.T) {
	r := NewRegistry(true)
	r.Runs.WithLabelValues("AAPL", "ok").Inc()

	srv := httptest.NewServer(r.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Contains(t, string(body), `covercall_runs_total{result="ok",ticker="AAPL"} 1`)
	assert.Contains(t, string(body), "go_goroutines")
}
