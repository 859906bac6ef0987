// Package backtest runs the covered-call simulation: it walks a trading
// calendar buying shares, selling a near-the-money call against them,
// settling the call at expiration and rolling forward, recording every
// movement in a ledger.
package backtest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"covercall/internal/calendar"
	"covercall/internal/domain"
	"covercall/internal/ledger"
	"covercall/internal/marketdata"
	"covercall/internal/perf"
	"covercall/internal/store"
)

// ErrInvalidPrice is returned when a session reports a non-positive price.
var ErrInvalidPrice = errors.New("backtest: non-positive price")

// Prices answers single-session price lookups for the underlying. Both
// methods return marketdata.ErrDataUnavailable when the session has no bar.
type Prices interface {
	OpenPrice(ctx context.Context, ticker string, day time.Time) (decimal.Decimal, error)
	ClosePrice(ctx context.Context, ticker string, day time.Time) (decimal.Decimal, error)
}

// Sessions enumerates the trading sessions of a market calendar within
// [start, end].
type Sessions interface {
	TradingSessions(ctx context.Context, calendarID string, start, end time.Time) ([]time.Time, error)
}

// OptionChain lists option contracts and their daily aggregates.
//
// ListOptionContracts reports a listing that stopped early through
// ContractListing.Partial; a returned error is fatal to the run.
type OptionChain interface {
	ListOptionContracts(ctx context.Context, q marketdata.ContractQuery) (marketdata.ContractListing, error)
	OptionDailyBar(ctx context.Context, optionTicker string, day time.Time) (domain.OptionBar, error)
}

// Result is the outcome of a completed run.
type Result struct {
	RunID      string
	Params     Params
	StartDate  time.Time // first traded session
	EndDate    time.Time // strategy horizon
	Ledger     *ledger.Ledger
	Cycles     []Cycle
	Summary    perf.Summary
	StartedAt  time.Time
	FinishedAt time.Time
}

// Record converts the result into its persisted form.
func (r *Result) Record() (*store.Run, error) {
	params, err := json.Marshal(r.Params)
	if err != nil {
		return nil, fmt.Errorf("encoding params: %w", err)
	}
	return &store.Run{
		ID:        r.RunID,
		CreatedAt: r.FinishedAt,
		Ticker:    r.Params.Ticker,
		Params:    params,
		Summary:   r.Summary,
		Entries:   r.Ledger.Entries(),
	}, nil
}

// ParamsOf decodes the parameters of a persisted run.
func ParamsOf(run *store.Run) (Params, error) {
	var p Params
	if err := json.Unmarshal(run.Params, &p); err != nil {
		return Params{}, fmt.Errorf("decoding params of run %s: %w", run.ID, err)
	}
	return p, nil
}

// Runner executes backtests against a set of market-data collaborators.
// A Runner holds no per-run state and may be shared; each Run owns its own
// ledger.
type Runner struct {
	sessions Sessions
	prices   Prices
	chain    OptionChain
	observer Observer
	log      *slog.Logger

	now   func() time.Time
	newID func() string
}

// NewRunner creates a Runner. log may be nil.
func NewRunner(sessions Sessions, prices Prices, chain OptionChain, log *slog.Logger) *Runner {
	if log == nil {
		log = slog.Default()
	}
	return &Runner{
		sessions: sessions,
		prices:   prices,
		chain:    chain,
		observer: NopObserver{},
		log:      log.With("component", "backtest"),
		now:      time.Now,
		newID:    uuid.NewString,
	}
}

// SetObserver installs the lifecycle observer. A nil observer disables
// notifications.
func (r *Runner) SetObserver(o Observer) {
	if o == nil {
		o = NopObserver{}
	}
	r.observer = o
}

// Run executes one backtest. It returns the first fatal error; the only
// tolerated failure is a contract listing that stopped early.
func (r *Runner) Run(ctx context.Context, p Params) (*Result, error) {
	started := r.now()
	p = p.WithDefaults()

	res, err := r.run(ctx, p, started)
	r.observer.RunFinished(p, res, r.now().Sub(started), err)
	if err != nil {
		r.log.Error("backtest failed", "ticker", p.Ticker, "error", err)
		return nil, err
	}
	return res, nil
}

func (r *Runner) run(ctx context.Context, p Params, started time.Time) (*Result, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	start := p.StartDate
	end := p.EndDate()
	horizon := calendar.AddMonths(start, p.DurationMonths+p.CalendarPaddingMonths)

	days, err := r.sessions.TradingSessions(ctx, p.Calendar, start, horizon)
	if err != nil {
		return nil, fmt.Errorf("listing %s sessions: %w", p.Calendar, err)
	}
	walker := calendar.NewWalker(days)
	first, err := walker.OnOrAfter(start)
	if err != nil {
		return nil, fmt.Errorf("first session on or after %s: %w", calendar.Format(start), err)
	}

	runID := r.newID()
	r.log.Info("backtest started",
		"runID", runID,
		"ticker", p.Ticker,
		"start", calendar.Format(first),
		"end", calendar.Format(end),
		"sessions", walker.Len(),
	)

	sim := &simulation{
		runner:  r,
		params:  p,
		walker:  walker,
		ledger:  ledger.New(),
		end:     end,
		current: first,
		log:     r.log.With("runID", runID, "ticker", p.Ticker),
	}
	if err := sim.run(ctx); err != nil {
		return nil, err
	}

	res := &Result{
		RunID:      runID,
		Params:     p,
		StartDate:  first,
		EndDate:    end,
		Ledger:     sim.ledger,
		Cycles:     sim.cycles,
		Summary:    sim.summary,
		StartedAt:  started,
		FinishedAt: r.now(),
	}
	r.log.Info("backtest finished",
		"runID", runID,
		"cycles", len(res.Cycles),
		"entries", res.Ledger.Len(),
		"equity", res.Summary.Equity.StringFixed(2),
		"totalReturn", res.Summary.TotalReturn,
	)
	return res, nil
}
