// Package metrics instruments backtests with Prometheus collectors: run and
// cycle outcomes, premiums collected, degraded listings and market-data
// request latency.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"

	"covercall/internal/backtest"
	"covercall/internal/domain"
	"covercall/internal/marketdata"
)

const namespace = "covercall"

// Registry holds the covercall collectors on a dedicated Prometheus
// registry.
type Registry struct {
	reg *prometheus.Registry

	Runs            *prometheus.CounterVec
	RunDuration     prometheus.Histogram
	Cycles          *prometheus.CounterVec
	Premiums        *prometheus.CounterVec
	ListingDegraded *prometheus.CounterVec
	Requests        *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
}

// NewRegistry creates a Registry. Go runtime and process collectors are
// included when withRuntime is set.
func NewRegistry(withRuntime bool) *Registry {
	r := &Registry{
		reg: prometheus.NewRegistry(),

		Runs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_total",
				Help:      "Backtest runs by result",
			},
			[]string{"ticker", "result"},
		),

		RunDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "run_duration_seconds",
				Help:      "Wall-clock duration of backtest runs",
				Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
			},
		),

		Cycles: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cycles_total",
				Help:      "Completed covered-call cycles by outcome",
			},
			[]string{"ticker", "outcome"},
		),

		Premiums: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "premiums_dollars_total",
				Help:      "Option premium collected in simulated dollars",
			},
			[]string{"ticker"},
		),

		ListingDegraded: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "listing_degraded_total",
				Help:      "Contract listings that stopped before the last page",
			},
			[]string{"ticker"},
		),

		Requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "data_requests_total",
				Help:      "Market-data requests by operation and result",
			},
			[]string{"op", "result"},
		),

		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "data_request_duration_seconds",
				Help:      "Latency of market-data requests",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"op"},
		),
	}

	r.reg.MustRegister(
		r.Runs,
		r.RunDuration,
		r.Cycles,
		r.Premiums,
		r.ListingDegraded,
		r.Requests,
		r.RequestDuration,
	)
	if withRuntime {
		r.reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	return r
}

// Gatherer exposes the underlying registry.
func (r *Registry) Gatherer() prometheus.Gatherer { return r.reg }

// Handler returns the /metrics HTTP handler.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{Registry: r.reg})
}

// ---------------------------------------------------------------------------
// Run observer
// ---------------------------------------------------------------------------

// Observer returns a backtest.Observer that records into r.
func (r *Registry) Observer() backtest.Observer { return runObserver{r} }

type runObserver struct{ r *Registry }

func (o runObserver) CycleCompleted(p backtest.Params, c backtest.Cycle) {
	o.r.Cycles.WithLabelValues(p.Ticker, string(c.Outcome)).Inc()
	if premium, _ := c.Premium.Float64(); premium > 0 {
		o.r.Premiums.WithLabelValues(p.Ticker).Add(premium)
	}
}

func (o runObserver) ListingDegraded(p backtest.Params, _ time.Time, _ error) {
	o.r.ListingDegraded.WithLabelValues(p.Ticker).Inc()
}

func (o runObserver) RunFinished(p backtest.Params, _ *backtest.Result, elapsed time.Duration, err error) {
	o.r.Runs.WithLabelValues(p.Ticker, resultLabel(err)).Inc()
	o.r.RunDuration.Observe(elapsed.Seconds())
}

// ---------------------------------------------------------------------------
// Collaborator decorators
// ---------------------------------------------------------------------------

// InstrumentPrices wraps p so that every lookup is counted and timed.
func (r *Registry) InstrumentPrices(p backtest.Prices) backtest.Prices {
	return &prices{next: p, r: r}
}

// InstrumentChain wraps c so that every listing and aggregate request is
// counted and timed.
func (r *Registry) InstrumentChain(c backtest.OptionChain) backtest.OptionChain {
	return &chain{next: c, r: r}
}

func (r *Registry) observe(op string, start time.Time, err error) {
	r.RequestDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	r.Requests.WithLabelValues(op, resultLabel(err)).Inc()
}

type prices struct {
	next backtest.Prices
	r    *Registry
}

func (p *prices) OpenPrice(ctx context.Context, ticker string, day time.Time) (decimal.Decimal, error) {
	start := time.Now()
	v, err := p.next.OpenPrice(ctx, ticker, day)
	p.r.observe("open_price", start, err)
	return v, err
}

func (p *prices) ClosePrice(ctx context.Context, ticker string, day time.Time) (decimal.Decimal, error) {
	start := time.Now()
	v, err := p.next.ClosePrice(ctx, ticker, day)
	p.r.observe("close_price", start, err)
	return v, err
}

type chain struct {
	next backtest.OptionChain
	r    *Registry
}

func (c *chain) ListOptionContracts(ctx context.Context, q marketdata.ContractQuery) (marketdata.ContractListing, error) {
	start := time.Now()
	l, err := c.next.ListOptionContracts(ctx, q)
	result := err
	if err == nil && l.Degraded() {
		result = l.Partial
	}
	c.r.observe("list_contracts", start, result)
	return l, err
}

func (c *chain) OptionDailyBar(ctx context.Context, optionTicker string, day time.Time) (domain.OptionBar, error) {
	start := time.Now()
	b, err := c.next.OptionDailyBar(ctx, optionTicker, day)
	c.r.observe("option_bar", start, err)
	return b, err
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, marketdata.ErrDataUnavailable):
		return "unavailable"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	default:
		return "error"
	}
}
