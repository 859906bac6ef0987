// Package perf derives performance metrics from a finished ledger.
package perf

import (
	"math"

	"github.com/shopspring/decimal"

	"covercall/internal/calendar"
	"covercall/internal/domain"
	"covercall/internal/ledger"
)

// Summary holds the headline metrics of a backtest.
type Summary struct {
	InitialCapital      decimal.Decimal
	Premiums            decimal.Decimal
	Cash                decimal.Decimal
	Shares              decimal.Decimal
	LastClose           decimal.Decimal
	Equity              decimal.Decimal
	ElapsedDays         int
	TotalReturn         float64
	AnnualizedReturn    float64
	CashYield           float64
	AnnualizedCashYield float64
}

// Compute marks the ledger to market at lastClose.
//
//	equity                = cash + shares * lastClose
//	total_return          = equity / initial_capital - 1          (0 when capital is 0)
//	elapsed_days          = max(last_entry_date - first_entry_date, 1)
//	annualized_return     = (1 + total_return)^(365 / elapsed_days) - 1
//	cash_yield            = premiums / initial_capital            (0 when capital is 0)
//	annualized_cash_yield = cash_yield * 365 / elapsed_days        (linear)
func Compute(l *ledger.Ledger, ticker string, lastClose decimal.Decimal) Summary {
	cashIn := ledger.And(ledger.ByAsset(domain.CashAsset), ledger.ByDirection(domain.DirectionIn))

	s := Summary{
		InitialCapital: l.Sum(ledger.And(cashIn, ledger.ByConcept(domain.ConceptInflow))),
		Premiums:       l.Sum(ledger.And(cashIn, ledger.ByConcept(domain.ConceptCallSold))),
		Cash:           l.CashPosition(),
		Shares:         l.StockPosition(ticker),
		LastClose:      lastClose,
	}
	s.Equity = s.Cash.Add(s.Shares.Mul(lastClose))

	s.ElapsedDays = 1
	if l.Len() > 0 {
		s.ElapsedDays = max(calendar.DaysBetween(l.FirstDate(), l.LastDate()), 1)
	}
	years := 365 / float64(s.ElapsedDays)

	if s.InitialCapital.IsPositive() {
		ratio, _ := s.Equity.Div(s.InitialCapital).Float64()
		s.TotalReturn = ratio - 1
		s.CashYield, _ = s.Premiums.Div(s.InitialCapital).Float64()
	}
	s.AnnualizedReturn = math.Pow(1+s.TotalReturn, years) - 1
	s.AnnualizedCashYield = s.CashYield * years
	return s
}
