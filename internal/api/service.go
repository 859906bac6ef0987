package api

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"covercall/internal/backtest"
	"covercall/internal/calendar"
	"covercall/internal/ledger"
	"covercall/internal/marketdata"
	"covercall/internal/selector"
	"covercall/internal/store"
	"covercall/pkg/covercall"
)

const defaultListLimit = 50

// Service implements BacktestServer: it runs backtests with a shared Runner,
// persists them and serves the run history.
type Service struct {
	runner   *backtest.Runner
	runs     store.RunStore
	defaults backtest.Params
	log      *slog.Logger
}

// NewService creates a Service. defaults fills the fields a request leaves
// unset.
func NewService(runner *backtest.Runner, runs store.RunStore, defaults backtest.Params, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		runner:   runner,
		runs:     runs,
		defaults: defaults,
		log:      log.With("component", "api"),
	}
}

// Run executes a backtest, stores it and returns it with its ledger and
// cycle log.
func (s *Service) Run(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req covercall.RunRequest
	if err := covercall.FromStruct(in, &req); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	p, err := MergeParams(s.defaults, req)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	res, err := s.runner.Run(ctx, p)
	if err != nil {
		return nil, toStatus(err)
	}
	rec, err := res.Record()
	if err != nil {
		return nil, toStatus(err)
	}
	if err := s.runs.SaveRun(ctx, rec); err != nil {
		s.log.Error("saving run", "runID", rec.ID, "error", err)
		return nil, toStatus(err)
	}

	out := WireRun(rec)
	out.Cycles = WireCycles(res.Cycles)
	return covercall.ToStruct(out)
}

// GetRun returns a persisted run with its ledger.
func (s *Service) GetRun(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req covercall.GetRunRequest
	if err := covercall.FromStruct(in, &req); err != nil || req.ID == "" {
		return nil, status.Error(codes.InvalidArgument, "id is required")
	}
	rec, err := s.runs.GetRun(ctx, req.ID)
	if err != nil {
		return nil, toStatus(err)
	}
	return covercall.ToStruct(WireRun(rec))
}

// ListRuns returns the most recent runs without ledgers.
func (s *Service) ListRuns(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req covercall.ListRunsRequest
	if err := covercall.FromStruct(in, &req); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	if req.Limit <= 0 {
		req.Limit = defaultListLimit
	}
	recs, err := s.runs.ListRuns(ctx, req.Limit)
	if err != nil {
		return nil, toStatus(err)
	}
	resp := covercall.ListRunsResponse{Runs: make([]covercall.Run, 0, len(recs))}
	for i := range recs {
		resp.Runs = append(resp.Runs, WireRun(&recs[i]))
	}
	return covercall.ToStruct(resp)
}

// MergeParams overlays the fields req sets on defaults.
func MergeParams(defaults backtest.Params, req covercall.RunRequest) (backtest.Params, error) {
	p := defaults
	if req.Ticker != "" {
		p.Ticker = req.Ticker
	}
	if req.Calendar != "" {
		p.Calendar = req.Calendar
	}
	if req.StartDate != "" {
		d, err := calendar.ParseDate(req.StartDate)
		if err != nil {
			return backtest.Params{}, err
		}
		p.StartDate = d
	}
	if req.DurationMonths != nil {
		p.DurationMonths = *req.DurationMonths
	}
	if req.RelativeStrike != nil {
		p.RelativeStrike = *req.RelativeStrike
	}
	if req.InitialShares != nil {
		p.InitialShares = *req.InitialShares
	}
	if req.ExpirationIndex != nil {
		p.ExpirationIndex = *req.ExpirationIndex
	}
	if req.StrikeBand != nil {
		p.StrikeBand = *req.StrikeBand
	}
	return p.WithDefaults(), nil
}

func toStatus(err error) error {
	switch {
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	case errors.Is(err, backtest.ErrInvalidParams):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, store.ErrRunNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, marketdata.ErrDataUnavailable),
		errors.Is(err, calendar.ErrOutOfRange),
		errors.Is(err, selector.ErrNoContracts),
		errors.Is(err, selector.ErrNotFound),
		errors.Is(err, selector.ErrAmbiguousContract),
		errors.Is(err, selector.ErrExpirationIndex),
		errors.Is(err, backtest.ErrInvalidPrice):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, ledger.ErrOverdraft), errors.Is(err, ledger.ErrValidation):
		return status.Error(codes.Internal, err.Error())
	default:
		return status.Error(codes.Unavailable, err.Error())
	}
}

// ---------------------------------------------------------------------------
// Wire conversion
// ---------------------------------------------------------------------------

// WireRun converts a persisted run to its wire form.
func WireRun(r *store.Run) covercall.Run {
	out := covercall.Run{
		ID:        r.ID,
		CreatedAt: r.CreatedAt.UTC().Format(time.RFC3339),
		Ticker:    r.Ticker,
		Summary: covercall.Summary{
			InitialCapital:      r.Summary.InitialCapital.String(),
			Premiums:            r.Summary.Premiums.String(),
			Cash:                r.Summary.Cash.String(),
			Shares:              r.Summary.Shares.String(),
			LastClose:           r.Summary.LastClose.String(),
			Equity:              r.Summary.Equity.String(),
			ElapsedDays:         r.Summary.ElapsedDays,
			TotalReturn:         r.Summary.TotalReturn,
			AnnualizedReturn:    r.Summary.AnnualizedReturn,
			CashYield:           r.Summary.CashYield,
			AnnualizedCashYield: r.Summary.AnnualizedCashYield,
		},
	}
	if p, err := backtest.ParamsOf(r); err == nil {
		out.Params = covercall.RunRequest{
			Ticker:          p.Ticker,
			Calendar:        p.Calendar,
			StartDate:       calendar.Format(p.StartDate),
			DurationMonths:  covercall.Ptr(p.DurationMonths),
			RelativeStrike:  covercall.Ptr(p.RelativeStrike),
			InitialShares:   covercall.Ptr(p.InitialShares),
			ExpirationIndex: covercall.Ptr(p.ExpirationIndex),
			StrikeBand:      covercall.Ptr(p.StrikeBand),
		}
	}
	for _, e := range r.Entries {
		we := covercall.Entry{
			Seq:       e.Seq,
			Asset:     e.Asset,
			Direction: string(e.Direction),
			Concept:   e.Concept.Label(),
			Date:      calendar.Format(e.Date),
			Phase:     string(e.Phase),
			Quantity:  e.Quantity.String(),
		}
		if e.Price != nil {
			we.Price = e.Price.String()
		}
		out.Entries = append(out.Entries, we)
	}
	return out
}

// WireCycles converts the cycle log to its wire form.
func WireCycles(cycles []backtest.Cycle) []covercall.Cycle {
	out := make([]covercall.Cycle, 0, len(cycles))
	for _, c := range cycles {
		wc := covercall.Cycle{
			Index:         c.Index,
			TradeDate:     calendar.Format(c.TradeDate),
			SpotOpen:      c.SpotOpen.String(),
			SharesBought:  c.SharesBought.String(),
			OptionTicker:  c.OptionTicker,
			Strike:        c.Strike.String(),
			OptionVWAP:    c.OptionVWAP.String(),
			CoveredShares: c.CoveredShares.String(),
			Premium:       c.Premium.String(),
			SettleClose:   c.SettleClose.String(),
			Outcome:       string(c.Outcome),
			Partial:       c.Partial,
		}
		if !c.Expiration.IsZero() {
			wc.Expiration = calendar.Format(c.Expiration)
		}
		out = append(out, wc)
	}
	return out
}
