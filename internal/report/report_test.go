package report

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"covercall/internal/backtest"
	"covercall/internal/domain"
	"covercall/internal/ledger"
	"covercall/internal/perf"
	"covercall/internal/store"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func sampleLedger(t *testing.T) *ledger.Ledger {
	t.Helper()
	d0 := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	d1 := time.Date(2024, 1, 9, 0, 0, 0, 0, time.UTC)
	open, strike := dec("50"), dec("50")
	l := ledger.New()
	require.NoError(t, l.Append(
		ledger.Entry{Asset: domain.CashAsset, Direction: domain.DirectionIn, Concept: domain.ConceptInflow, Date: d0, Phase: domain.PhaseOpen, Quantity: dec("5000")},
		ledger.Entry{Asset: "AAPL", Direction: domain.DirectionIn, Concept: domain.ConceptPurchase, Date: d0, Phase: domain.PhaseOpen, Quantity: dec("100"), Price: &open},
		ledger.Entry{Asset: domain.CashAsset, Direction: domain.DirectionOut, Concept: domain.ConceptPurchase, Date: d0, Phase: domain.PhaseOpen, Quantity: dec("5000")},
		ledger.Entry{Asset: domain.CashAsset, Direction: domain.DirectionIn, Concept: domain.ConceptCallSold, Date: d0, Quantity: dec("125.5")},
		ledger.Entry{Asset: "AAPL", Direction: domain.DirectionOut, Concept: domain.ConceptCallExercised, Date: d1, Phase: domain.PhaseClose, Quantity: dec("100"), Price: &strike},
		ledger.Entry{Asset: domain.CashAsset, Direction: domain.DirectionIn, Concept: domain.ConceptCallExercised, Date: d1, Phase: domain.PhaseClose, Quantity: dec("5000")},
	))
	return l
}

func TestFormat(t *testing.T) {
	assert.Equal(t, "$0.00", FormatMoney(decimal.Zero))
	assert.Equal(t, "$999.50", FormatMoney(dec("999.5")))
	assert.Equal(t, "$1,234,567.89", FormatMoney(dec("1234567.891")))
	assert.Equal(t, "-$5,000.00", FormatMoney(dec("-5000")))

	assert.Equal(t, "10,000", FormatQuantity(dec("10000")))
	assert.Equal(t, "1,250.75", FormatQuantity(dec("1250.75")))
	assert.Equal(t, "-7", FormatQuantity(dec("-7")))

	assert.Equal(t, "+10.00%", FormatPct(0.1))
	assert.Equal(t, "-2.50%", FormatPct(-0.025))
	assert.Equal(t, "+0.00%", FormatPct(0))

	assert.Equal(t, "-", FormatPrice(nil))
	p := dec("187.1")
	assert.Equal(t, "187.10", FormatPrice(&p))
}

func TestLedgerCSVRoundTrip(t *testing.T) {
	l := sampleLedger(t)

	var buf bytes.Buffer
	require.NoError(t, WriteLedgerCSV(&buf, l.Entries()))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 7)
	assert.Equal(t, "seq,asset,direction,concept,date,phase,quantity,price", lines[0])
	assert.Equal(t, "1,Cash,In,Inflow,2024-01-02,Open,5000,", lines[1])
	assert.Equal(t, "4,Cash,In,Call sold,2024-01-02,,125.5,", lines[4])
	assert.Equal(t, "5,AAPL,Out,Call exercised,2024-01-09,Close,100,50", lines[5])

	got, err := ReadLedgerCSV(&buf)
	require.NoError(t, err)
	replayed, err := ledger.Replay(got)
	require.NoError(t, err)
	assert.True(t, replayed.CashPosition().Equal(l.CashPosition()))
	assert.True(t, replayed.StockPosition("AAPL").IsZero())
	assert.Equal(t, domain.ConceptCallSold, got[3].Concept)
	require.NotNil(t, got[1].Price)
	assert.True(t, got[1].Price.Equal(dec("50")))
	assert.Nil(t, got[0].Price)
}

func TestReadLedgerCSVErrors(t *testing.T) {
	_, err := ReadLedgerCSV(strings.NewReader("a,b,c,d,e,f,g,h\n"))
	assert.ErrorContains(t, err, "unexpected column")

	_, err = ReadLedgerCSV(strings.NewReader("seq,asset,direction,concept,date,phase,quantity,price\n1,Cash,In,Dividend,2024-01-02,,5,\n"))
	assert.ErrorContains(t, err, "line 2")

	_, err = ReadLedgerCSV(strings.NewReader("seq,asset,direction,concept,date,phase,quantity,price\n1,Cash,In,Inflow,2024-01-02,,abc,\n"))
	assert.ErrorContains(t, err, "quantity")
}

func TestWriteCyclesCSV(t *testing.T) {
	cycles := []backtest.Cycle{
		{
			Index: 1, TradeDate: time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC),
			SpotOpen: dec("50"), SharesBought: dec("100"), TargetStrike: dec("50.5"),
			OptionTicker: "O:AAPL240109C00050000", Expiration: time.Date(2024, 1, 9, 0, 0, 0, 0, time.UTC),
			Strike: dec("50"), OptionVWAP: dec("1.25"), CoveredShares: dec("100"), Premium: dec("125"),
			SettleClose: dec("49"), Outcome: backtest.OutcomeOTM,
		},
		{Index: 2, TradeDate: time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC), Outcome: backtest.OutcomeSkipped, Partial: true},
	}
	var buf bytes.Buffer
	require.NoError(t, WriteCyclesCSV(&buf, cycles))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "1,2024-01-02,50,100,50.5000,O:AAPL240109C00050000,2024-01-09,50,1.25,100,125.00,49,otm,false", lines[1])
	assert.True(t, strings.HasSuffix(lines[2], ",skipped,true"))
	assert.Contains(t, lines[2], "2024-01-10,")
}

func TestRender(t *testing.T) {
	l := sampleLedger(t)
	s := perf.Compute(l, "AAPL", dec("51"))
	p := backtest.DefaultParams()

	summary := RenderSummary(p, s)
	assert.Contains(t, summary, "AAPL covered calls")
	assert.Contains(t, summary, "$5,125.50")
	assert.Contains(t, summary, "Annualized cash yield")

	out := RenderLedger(l.Entries())
	assert.Contains(t, out, "Call exercised")
	assert.Contains(t, out, "5,000")
	assert.Contains(t, out, "125.5")

	cycles := RenderCycles([]backtest.Cycle{{Index: 1, TradeDate: p.StartDate, Outcome: backtest.OutcomeSkipped}})
	assert.Contains(t, cycles, "skipped")

	runs := RenderRuns([]store.Run{{ID: "abc", Ticker: "AAPL", CreatedAt: time.Now(), Summary: s}})
	assert.Contains(t, runs, "abc")
	assert.Contains(t, runs, "AAPL")
}
