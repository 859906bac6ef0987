package backtest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"covercall/internal/calendar"
	"covercall/internal/domain"
	"covercall/internal/ledger"
	"covercall/internal/marketdata"
	"covercall/internal/selector"
)

// ---------------------------------------------------------------------------
// In-memory market
// ---------------------------------------------------------------------------

func day(s string) time.Time {
	d, err := calendar.ParseDate(s)
	if err != nil {
		panic(err)
	}
	return d
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// fakeMarket serves weekday sessions, flat prices with per-day overrides, and
// a call chain with two weekly expirations and strikes 45/50/55.
type fakeMarket struct {
	mu sync.Mutex

	open, close map[time.Time]decimal.Decimal
	defaultOpen decimal.Decimal
	vwap        float64
	missing     map[time.Time]bool
	holidays    map[time.Time]bool // weekdays that are not sessions

	degradeOn map[time.Time]bool // listing fails with nothing read
	emptyOn   map[time.Time]bool // listing succeeds with no contracts
	listErr   error

	queries []marketdata.ContractQuery
	bars    []string
}

func newFakeMarket() *fakeMarket {
	return &fakeMarket{
		open:        map[time.Time]decimal.Decimal{},
		close:       map[time.Time]decimal.Decimal{},
		defaultOpen: dec("50"),
		vwap:        1.25,
		missing:     map[time.Time]bool{},
		holidays:    map[time.Time]bool{},
		degradeOn:   map[time.Time]bool{},
		emptyOn:     map[time.Time]bool{},
	}
}

func (m *fakeMarket) TradingSessions(_ context.Context, _ string, start, end time.Time) ([]time.Time, error) {
	var out []time.Time
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		if wd := d.Weekday(); wd != time.Saturday && wd != time.Sunday && !m.holidays[d] {
			out = append(out, d)
		}
	}
	return out, nil
}

func (m *fakeMarket) OpenPrice(_ context.Context, _ string, d time.Time) (decimal.Decimal, error) {
	if m.missing[d] {
		return decimal.Zero, marketdata.ErrDataUnavailable
	}
	if p, ok := m.open[d]; ok {
		return p, nil
	}
	return m.defaultOpen, nil
}

func (m *fakeMarket) ClosePrice(_ context.Context, _ string, d time.Time) (decimal.Decimal, error) {
	if m.missing[d] {
		return decimal.Zero, marketdata.ErrDataUnavailable
	}
	if p, ok := m.close[d]; ok {
		return p, nil
	}
	return m.defaultOpen, nil
}

func (m *fakeMarket) ListOptionContracts(_ context.Context, q marketdata.ContractQuery) (marketdata.ContractListing, error) {
	m.mu.Lock()
	m.queries = append(m.queries, q)
	m.mu.Unlock()

	if m.listErr != nil {
		return marketdata.ContractListing{}, m.listErr
	}
	if m.degradeOn[q.ExpirationGTE] {
		return marketdata.ContractListing{Partial: errors.New("HTTP 429")}, nil
	}
	if m.emptyOn[q.ExpirationGTE] {
		return marketdata.ContractListing{}, nil
	}

	var out []domain.OptionContract
	// Later expiration first: the selector must sort.
	for _, weeks := range []int{2, 1} {
		exp := q.ExpirationGTE.AddDate(0, 0, 7*weeks)
		for _, k := range []int64{45, 50, 55} {
			strike := decimal.NewFromInt(k)
			if strike.LessThan(q.StrikeGTE) || strike.GreaterThan(q.StrikeLTE) {
				continue
			}
			out = append(out, domain.OptionContract{
				Ticker:         fmt.Sprintf("O:TEST%sC%08d", exp.Format("060102"), k*1000),
				Underlying:     q.Underlying,
				ExpirationDate: exp,
				StrikePrice:    strike,
				ContractType:   domain.ContractCall,
			})
		}
	}
	return marketdata.ContractListing{Contracts: out}, nil
}

func (m *fakeMarket) OptionDailyBar(_ context.Context, ticker string, d time.Time) (domain.OptionBar, error) {
	m.mu.Lock()
	m.bars = append(m.bars, ticker)
	m.mu.Unlock()
	return domain.OptionBar{Ticker: ticker, Timestamp: d, VWAP: m.vwap}, nil
}

type recordingObserver struct {
	cycles   []Cycle
	degraded []time.Time
	finished int
	lastErr  error
}

func (o *recordingObserver) CycleCompleted(_ Params, c Cycle) { o.cycles = append(o.cycles, c) }
func (o *recordingObserver) ListingDegraded(_ Params, d time.Time, _ error) {
	o.degraded = append(o.degraded, d)
}
func (o *recordingObserver) RunFinished(_ Params, _ *Result, _ time.Duration, err error) {
	o.finished++
	o.lastErr = err
}

func testParams() Params {
	return Params{
		Ticker:          "test",
		Calendar:        "XNAS",
		StartDate:       day("2024-01-02"),
		DurationMonths:  1,
		RelativeStrike:  1.01,
		InitialShares:   100,
		ExpirationIndex: 0,
		StrikeBand:      10,
	}
}

func newTestRunner(m *fakeMarket) *Runner {
	r := NewRunner(m, m, m, nil)
	r.newID = func() string { return "run-test" }
	return r
}

func assertPositionsNeverNegative(t *testing.T, l *ledger.Ledger, ticker string) {
	t.Helper()
	replay := ledger.New()
	for _, e := range l.Entries() {
		require.NoError(t, replay.Append(e))
		assert.False(t, replay.CashPosition().IsNegative(), "cash negative after seq %d", e.Seq)
		assert.False(t, replay.StockPosition(ticker).IsNegative(), "stock negative after seq %d", e.Seq)
	}
}

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

func TestRunOpeningEntries(t *testing.T) {
	m := newFakeMarket()
	res, err := newTestRunner(m).Run(context.Background(), testParams())
	require.NoError(t, err)

	entries := res.Ledger.Entries()
	require.GreaterOrEqual(t, len(entries), 3)

	inflow, stockIn, cashOut := entries[0], entries[1], entries[2]
	assert.Equal(t, domain.CashAsset, inflow.Asset)
	assert.Equal(t, domain.ConceptInflow, inflow.Concept)
	assert.Equal(t, domain.PhaseOpen, inflow.Phase)
	assert.True(t, inflow.Quantity.Equal(dec("5000")))

	assert.Equal(t, "TEST", stockIn.Asset)
	assert.Equal(t, domain.DirectionIn, stockIn.Direction)
	assert.True(t, stockIn.Quantity.Equal(dec("100")))
	require.NotNil(t, stockIn.Price)
	assert.True(t, stockIn.Price.Equal(dec("50")))

	assert.Equal(t, domain.CashAsset, cashOut.Asset)
	assert.Equal(t, domain.DirectionOut, cashOut.Direction)
	assert.True(t, cashOut.Quantity.Equal(dec("5000")))

	cash, shares := res.Ledger.PositionsAt(day("2024-01-02"), "TEST")
	// Premium of the first call is received on the trade date too.
	assert.True(t, cash.Equal(dec("125")), "cash %s", cash)
	assert.True(t, shares.Equal(dec("100")))
}

func TestRunEndToEnd(t *testing.T) {
	m := newFakeMarket()
	obs := &recordingObserver{}
	r := newTestRunner(m)
	r.SetObserver(obs)

	res, err := r.Run(context.Background(), testParams())
	require.NoError(t, err)

	assert.Equal(t, "run-test", res.RunID)
	assert.Equal(t, day("2024-01-02"), res.StartDate)
	assert.Equal(t, day("2024-02-02"), res.EndDate)

	// Cycles trade on Jan 2, 10, 18 and 26; Feb 5 is past the horizon.
	require.Len(t, res.Cycles, 4)
	var trades []string
	for _, c := range res.Cycles {
		trades = append(trades, calendar.Format(c.TradeDate))
		assert.Equal(t, OutcomeOTM, c.Outcome)
		assert.True(t, c.Strike.Equal(dec("50")), "nearest strike to 50.5")
		assert.Equal(t, c.TradeDate.AddDate(0, 0, 7), c.Expiration, "earliest expiration")
		assert.True(t, c.CoveredShares.Equal(dec("100")))
		assert.True(t, c.Premium.Equal(dec("125")))
		assert.True(t, c.TargetStrike.Equal(dec("50.5")))
	}
	assert.Equal(t, []string{"2024-01-02", "2024-01-10", "2024-01-18", "2024-01-26"}, trades)
	assert.True(t, res.Cycles[1].SharesBought.Equal(dec("2")))
	assert.True(t, res.Cycles[2].SharesBought.Equal(dec("3")))

	s := res.Summary
	assert.True(t, s.InitialCapital.Equal(dec("5000")))
	assert.True(t, s.Premiums.Equal(dec("500")))
	assert.True(t, s.Cash.Equal(dec("150")), "cash %s", s.Cash)
	assert.True(t, s.Shares.Equal(dec("107")), "shares %s", s.Shares)
	assert.True(t, s.Equity.Equal(dec("5500")))
	assert.Equal(t, 24, s.ElapsedDays)
	assert.InDelta(t, 0.10, s.TotalReturn, 1e-12)
	assert.InDelta(t, 0.10*365/24, s.AnnualizedCashYield, 1e-12)

	assert.Len(t, obs.cycles, 4)
	assert.Equal(t, 1, obs.finished)
	assert.NoError(t, obs.lastErr)

	assertPositionsNeverNegative(t, res.Ledger, "TEST")
}

func TestRunContractQuery(t *testing.T) {
	m := newFakeMarket()
	_, err := newTestRunner(m).Run(context.Background(), testParams())
	require.NoError(t, err)

	q := m.queries[0]
	assert.Equal(t, "TEST", q.Underlying)
	assert.Equal(t, domain.ContractCall, q.Type)
	assert.Equal(t, day("2024-01-02"), q.ExpirationGTE)
	assert.Equal(t, day("2024-02-02"), q.ExpirationLTE)
	assert.True(t, q.StrikeGTE.Equal(dec("40.5")))
	assert.True(t, q.StrikeLTE.Equal(dec("60.5")))
}

func TestRunExpirationIndex(t *testing.T) {
	m := newFakeMarket()
	p := testParams()
	p.ExpirationIndex = 1
	res, err := newTestRunner(m).Run(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, day("2024-01-16"), res.Cycles[0].Expiration)

	p.ExpirationIndex = 2
	_, err = newTestRunner(m).Run(context.Background(), p)
	assert.ErrorIs(t, err, selector.ErrExpirationIndex)
}

func TestSettlementBoundary(t *testing.T) {
	tests := []struct {
		name      string
		close     string
		exercised bool
	}{
		{"close above strike is exercised", "51", true},
		{"close at strike expires", "50", false},
		{"close below strike expires", "49.99", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newFakeMarket()
			m.close[day("2024-01-09")] = dec(tt.close)

			res, err := newTestRunner(m).Run(context.Background(), testParams())
			require.NoError(t, err)

			exercised := res.Ledger.Query(ledger.ByConcept(domain.ConceptCallExercised))
			cash, shares := res.Ledger.PositionsAt(day("2024-01-09"), "TEST")
			if !tt.exercised {
				assert.Empty(t, exercised)
				assert.Equal(t, OutcomeOTM, res.Cycles[0].Outcome)
				assert.True(t, shares.Equal(dec("100")))
				assert.True(t, cash.Equal(dec("125")))
				return
			}

			require.Len(t, exercised, 2)
			stockOut, cashIn := exercised[0], exercised[1]
			assert.Equal(t, domain.DirectionOut, stockOut.Direction)
			assert.Equal(t, domain.PhaseClose, stockOut.Phase)
			assert.True(t, stockOut.Quantity.Equal(dec("100")))
			assert.True(t, stockOut.Price.Equal(dec("50")))
			assert.Equal(t, domain.CashAsset, cashIn.Asset)
			assert.True(t, cashIn.Quantity.Equal(dec("5000")))
			assert.Equal(t, OutcomeITM, res.Cycles[0].Outcome)

			assert.True(t, shares.IsZero())
			assert.True(t, cash.Equal(dec("5125")))
			// The next cycle reinvests the strike proceeds.
			assert.True(t, res.Cycles[1].SharesBought.Equal(dec("102")))
			assertPositionsNeverNegative(t, res.Ledger, "TEST")
		})
	}
}

// barFeed serves daily bars for every session of m, with per-day closes.
type barFeed struct {
	m     *fakeMarket
	close map[time.Time]float64
}

func (f barFeed) FetchDailyBars(ctx context.Context, symbol string, start, end time.Time) ([]domain.Bar, error) {
	sessions, err := f.m.TradingSessions(ctx, "XNAS", start, end)
	if err != nil {
		return nil, err
	}
	bars := make([]domain.Bar, 0, len(sessions))
	for _, d := range sessions {
		c, ok := f.close[d]
		if !ok {
			c = 50
		}
		bars = append(bars, domain.Bar{Symbol: symbol, Timestamp: d.Add(5 * time.Hour), Open: 50, Close: c})
	}
	return bars, nil
}

func TestRunSettlesHolidayExpirationOnPriorSession(t *testing.T) {
	m := newFakeMarket()
	// The first listed expiration, Tuesday Jan 9, is a market holiday.
	m.holidays[day("2024-01-09")] = true
	book := marketdata.NewPriceBook(barFeed{m: m, close: map[time.Time]float64{day("2024-01-08"): 51}}, nil, 3)

	r := NewRunner(m, book, m, nil)
	res, err := r.Run(context.Background(), testParams())
	require.NoError(t, err)

	first := res.Cycles[0]
	assert.Equal(t, day("2024-01-09"), first.Expiration)
	assert.Equal(t, OutcomeITM, first.Outcome)
	assert.True(t, first.SettleClose.Equal(dec("51")), "close of the session before the holiday")

	exercised := res.Ledger.Query(ledger.ByConcept(domain.ConceptCallExercised))
	require.Len(t, exercised, 2)
	for _, e := range exercised {
		assert.Equal(t, day("2024-01-08"), e.Date)
	}

	// The next cycle rolls to the first session after the expiration.
	assert.Equal(t, day("2024-01-10"), res.Cycles[1].TradeDate)
	assertPositionsNeverNegative(t, res.Ledger, "TEST")
}

func TestRunCoversWholeLotsOnly(t *testing.T) {
	m := newFakeMarket()
	p := testParams()
	p.InitialShares = 250

	res, err := newTestRunner(m).Run(context.Background(), p)
	require.NoError(t, err)

	first := res.Cycles[0]
	assert.True(t, first.CoveredShares.Equal(dec("200")))
	assert.True(t, first.Premium.Equal(dec("250")))

	for _, c := range res.Cycles {
		assert.True(t, c.CoveredShares.Mod(dec("100")).IsZero(), "cycle %d covered %s", c.Index, c.CoveredShares)
		assert.True(t, c.SharesBought.Equal(c.SharesBought.Floor()), "cycle %d bought %s", c.Index, c.SharesBought)
	}
	for _, e := range res.Ledger.Query(ledger.ByAsset("TEST")) {
		assert.True(t, e.Quantity.Equal(e.Quantity.Floor()))
	}
	assertPositionsNeverNegative(t, res.Ledger, "TEST")
}

func TestRunOddLotEarnsNoPremium(t *testing.T) {
	m := newFakeMarket()
	p := testParams()
	p.InitialShares = 99

	res, err := newTestRunner(m).Run(context.Background(), p)
	require.NoError(t, err)

	assert.Empty(t, res.Ledger.Query(ledger.ByConcept(domain.ConceptCallSold)))
	assert.Empty(t, m.bars, "no option bar is fetched without a covered lot")
	assert.True(t, res.Cycles[0].CoveredShares.IsZero())
}

func TestRunZeroInitialShares(t *testing.T) {
	m := newFakeMarket()
	p := testParams()
	p.InitialShares = 0

	res, err := newTestRunner(m).Run(context.Background(), p)
	require.NoError(t, err)
	assert.Zero(t, res.Ledger.Len())
	assert.Zero(t, res.Summary.TotalReturn)
	assert.Zero(t, res.Summary.CashYield)
}

func TestRunIsDeterministic(t *testing.T) {
	m := newFakeMarket()
	m.close[day("2024-01-17")] = dec("52")
	m.open[day("2024-01-18")] = dec("48.37")

	first, err := newTestRunner(m).Run(context.Background(), testParams())
	require.NoError(t, err)
	second, err := newTestRunner(m).Run(context.Background(), testParams())
	require.NoError(t, err)

	assert.Equal(t, first.Ledger.Entries(), second.Ledger.Entries())
	assert.Equal(t, first.Cycles, second.Cycles)
	assert.Equal(t, first.Summary, second.Summary)
}

func TestRunSkipsCycleOnDegradedListing(t *testing.T) {
	m := newFakeMarket()
	m.degradeOn[day("2024-01-02")] = true
	obs := &recordingObserver{}
	r := newTestRunner(m)
	r.SetObserver(obs)

	res, err := r.Run(context.Background(), testParams())
	require.NoError(t, err)

	first := res.Cycles[0]
	assert.Equal(t, OutcomeSkipped, first.Outcome)
	assert.True(t, first.Partial)
	assert.Empty(t, res.Ledger.Query(ledger.And(ledger.ByConcept(domain.ConceptCallSold), ledger.OnOrBefore(day("2024-01-02")))))
	assert.Equal(t, []time.Time{day("2024-01-02")}, obs.degraded)

	// The run resumes on the next session with no cash to invest.
	second := res.Cycles[1]
	assert.Equal(t, day("2024-01-03"), second.TradeDate)
	assert.True(t, second.SharesBought.IsZero())
	assert.Equal(t, OutcomeOTM, second.Outcome)
}

func TestRunEmptyListingIsFatal(t *testing.T) {
	m := newFakeMarket()
	m.emptyOn[day("2024-01-10")] = true
	obs := &recordingObserver{}
	r := newTestRunner(m)
	r.SetObserver(obs)

	_, err := r.Run(context.Background(), testParams())
	assert.ErrorIs(t, err, selector.ErrNoContracts)
	assert.Equal(t, 1, obs.finished)
	assert.ErrorIs(t, obs.lastErr, selector.ErrNoContracts)
}

func TestRunListingErrorIsFatal(t *testing.T) {
	m := newFakeMarket()
	m.listErr = context.DeadlineExceeded

	_, err := newTestRunner(m).Run(context.Background(), testParams())
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRunMissingPriceIsFatal(t *testing.T) {
	m := newFakeMarket()
	m.missing[day("2024-01-09")] = true

	_, err := newTestRunner(m).Run(context.Background(), testParams())
	assert.ErrorIs(t, err, marketdata.ErrDataUnavailable)
	assert.Contains(t, err.Error(), "SettleOption on 2024-01-09")
}

func TestRunRejectsNonPositivePrice(t *testing.T) {
	m := newFakeMarket()
	m.open[day("2024-01-02")] = decimal.Zero

	_, err := newTestRunner(m).Run(context.Background(), testParams())
	assert.ErrorIs(t, err, ErrInvalidPrice)
}

func TestRunStartsOnFirstSession(t *testing.T) {
	m := newFakeMarket()
	p := testParams()
	p.StartDate = day("2024-01-06") // Saturday

	res, err := newTestRunner(m).Run(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, day("2024-01-08"), res.StartDate)
	assert.Equal(t, day("2024-01-08"), res.Ledger.FirstDate())
}

func TestRunCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newTestRunner(newFakeMarket()).Run(ctx, testParams())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRunInvalidParams(t *testing.T) {
	p := testParams()
	p.DurationMonths = 0
	p.Ticker = ""

	_, err := newTestRunner(newFakeMarket()).Run(context.Background(), p)
	assert.ErrorIs(t, err, ErrInvalidParams)
	assert.Contains(t, err.Error(), "ticker is required")
	assert.Contains(t, err.Error(), "duration must be 1-60 months")
}

func TestResultRecord(t *testing.T) {
	res, err := newTestRunner(newFakeMarket()).Run(context.Background(), testParams())
	require.NoError(t, err)

	run, err := res.Record()
	require.NoError(t, err)
	assert.Equal(t, "run-test", run.ID)
	assert.Equal(t, "TEST", run.Ticker)
	assert.Equal(t, res.Ledger.Len(), len(run.Entries))

	p, err := ParamsOf(run)
	require.NoError(t, err)
	assert.Equal(t, res.Params, p)
}

func TestParamsDefaults(t *testing.T) {
	p := Params{Ticker: " aapl ", Calendar: "xnys"}.WithDefaults()
	assert.Equal(t, "AAPL", p.Ticker)
	assert.Equal(t, "XNYS", p.Calendar)
	assert.Equal(t, 3, p.CalendarPaddingMonths)
	assert.Equal(t, int64(100), p.LotSize)
	assert.Equal(t, 1, p.ExpirationWindowMonths)

	require.NoError(t, DefaultParams().Validate())
	assert.Equal(t, day("2024-04-02"), DefaultParams().EndDate())
}

func TestAffordableShares(t *testing.T) {
	tests := []struct {
		cash, price, want string
	}{
		{"125", "50", "2"},
		{"0", "50", "0"},
		{"-1", "50", "0"},
		{"100", "33.33", "3"},
		{"49.99", "50", "0"},
	}
	for _, tt := range tests {
		got := affordableShares(dec(tt.cash), dec(tt.price))
		assert.True(t, got.Equal(dec(tt.want)), "cash %s price %s: got %s", tt.cash, tt.price, got)
	}
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "SellCall", StateSellCall.String())
	assert.Equal(t, "Finalize", StateFinalize.String())
	assert.Equal(t, "State(42)", State(42).String())
}
