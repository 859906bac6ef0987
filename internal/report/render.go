// Package report renders and exports backtest results: CSV ledgers and
// cycle logs, and terminal tables for runs and their summaries.
package report

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"covercall/internal/backtest"
	"covercall/internal/calendar"
	"covercall/internal/domain"
	"covercall/internal/ledger"
	"covercall/internal/perf"
	"covercall/internal/store"
)

// Styles.
var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("15")).Background(lipgloss.Color("4")).Padding(0, 1)
	labelStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	valueStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("15"))
	gainStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("10"))
	lossStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("9"))
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12")).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	dimCell     = cellStyle.Foreground(lipgloss.Color("245"))
	borderStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
)

func pctStyle(r float64) lipgloss.Style {
	switch {
	case r > 0:
		return gainStyle
	case r < 0:
		return lossStyle
	default:
		return valueStyle
	}
}

// RenderSummary renders the headline metrics of a run.
func RenderSummary(p backtest.Params, s perf.Summary) string {
	var b strings.Builder
	title := fmt.Sprintf("%s covered calls  %s + %dm  strike x%.2f", p.Ticker, calendar.Format(p.StartDate), p.DurationMonths, p.RelativeStrike)
	b.WriteString(titleStyle.Render(title))
	b.WriteString("\n\n")

	rows := []struct {
		label string
		value string
		style lipgloss.Style
	}{
		{"Initial capital", FormatMoney(s.InitialCapital), valueStyle},
		{"Premiums", FormatMoney(s.Premiums), valueStyle},
		{"Cash", FormatMoney(s.Cash), valueStyle},
		{"Shares", FormatQuantity(s.Shares) + " @ " + s.LastClose.StringFixed(2), valueStyle},
		{"Equity", FormatMoney(s.Equity), valueStyle},
		{"Total return", FormatPct(s.TotalReturn), pctStyle(s.TotalReturn)},
		{"Annualized return", FormatPct(s.AnnualizedReturn), pctStyle(s.AnnualizedReturn)},
		{"Annualized cash yield", FormatPct(s.AnnualizedCashYield), pctStyle(s.AnnualizedCashYield)},
		{"Elapsed days", strconv.Itoa(s.ElapsedDays), valueStyle},
	}
	for _, r := range rows {
		b.WriteString(labelStyle.Width(24).Render(r.label))
		b.WriteString(r.style.Render(r.value))
		b.WriteByte('\n')
	}
	return b.String()
}

func newTable(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(borderStyle).
		Headers(headers...).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		})
}

// RenderLedger renders ledger entries as a table.
func RenderLedger(entries []ledger.Entry) string {
	t := newTable("#", "Date", "Asset", "Dir", "Concept", "Phase", "Quantity", "Price")
	for _, e := range entries {
		phase := string(e.Phase)
		if e.Phase == domain.PhaseNone {
			phase = "-"
		}
		t.Row(
			strconv.Itoa(e.Seq),
			calendar.Format(e.Date),
			e.Asset,
			string(e.Direction),
			e.Concept.Label(),
			phase,
			FormatQuantity(e.Quantity),
			FormatPrice(e.Price),
		)
	}
	return t.Render()
}

// RenderCycles renders the per-cycle decision log.
func RenderCycles(cycles []backtest.Cycle) string {
	t := newTable("#", "Trade", "Open", "Bought", "Option", "Expiry", "Strike", "VWAP", "Covered", "Premium", "Close", "Outcome")
	skipped := map[int]bool{}
	for i, c := range cycles {
		exp := "-"
		if !c.Expiration.IsZero() {
			exp = calendar.Format(c.Expiration)
		}
		option := c.OptionTicker
		if option == "" {
			option = "-"
		}
		skipped[i+1] = c.Outcome == backtest.OutcomeSkipped
		t.Row(
			strconv.Itoa(c.Index),
			calendar.Format(c.TradeDate),
			c.SpotOpen.StringFixed(2),
			FormatQuantity(c.SharesBought),
			option,
			exp,
			c.Strike.StringFixed(2),
			c.OptionVWAP.StringFixed(2),
			FormatQuantity(c.CoveredShares),
			FormatMoney(c.Premium),
			c.SettleClose.StringFixed(2),
			string(c.Outcome),
		)
	}
	t.StyleFunc(func(row, _ int) lipgloss.Style {
		switch {
		case row == table.HeaderRow:
			return headerStyle
		case skipped[row+1]:
			return dimCell
		default:
			return cellStyle
		}
	})
	return t.Render()
}

// RenderRuns renders a list of persisted runs.
func RenderRuns(runs []store.Run) string {
	t := newTable("Run", "Created", "Ticker", "Equity", "Total", "Annualized", "Cash yield")
	for _, r := range runs {
		t.Row(
			r.ID,
			r.CreatedAt.Local().Format("2006-01-02 15:04"),
			r.Ticker,
			FormatMoney(r.Summary.Equity),
			FormatPct(r.Summary.TotalReturn),
			FormatPct(r.Summary.AnnualizedReturn),
			FormatPct(r.Summary.AnnualizedCashYield),
		)
	}
	return t.Render()
}
