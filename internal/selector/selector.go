// Package selector picks the option contract to sell from a chain snapshot.
package selector

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/shopspring/decimal"

	"covercall/internal/calendar"
	"covercall/internal/domain"
)

var (
	ErrNoContracts       = errors.New("selector: no contracts")
	ErrExpirationIndex   = errors.New("selector: expiration index out of range")
	ErrNotFound          = errors.New("selector: contract not found")
	ErrAmbiguousContract = errors.New("selector: ambiguous contract")
)

// Selection is the contract chosen for a cycle.
type Selection struct {
	Ticker      string
	Expiration  time.Time
	Strike      decimal.Decimal
	Expirations []time.Time       // distinct expirations, ascending
	Strikes     []decimal.Decimal // strikes listed for Expiration, ascending
}

// Select picks the expiration at expirationIndex (expirations sorted
// ascending) and, within it, the strike nearest targetStrike. Equidistant
// strikes resolve to the lower one. The result is independent of the order
// of contracts.
func Select(contracts []domain.OptionContract, targetStrike decimal.Decimal, expirationIndex int) (Selection, error) {
	if len(contracts) == 0 {
		return Selection{}, ErrNoContracts
	}

	expirations := Expirations(contracts)
	if expirationIndex < 0 || expirationIndex >= len(expirations) {
		return Selection{}, fmt.Errorf("%w: index %d, %d expirations available", ErrExpirationIndex, expirationIndex, len(expirations))
	}
	exp := expirations[expirationIndex]

	strikes := Strikes(contracts, exp)
	best := strikes[0]
	bestDist := best.Sub(targetStrike).Abs()
	for _, s := range strikes[1:] {
		// strikes are ascending, so a strict improvement is required to move
		// off the lower of two equidistant strikes.
		if d := s.Sub(targetStrike).Abs(); d.LessThan(bestDist) {
			best, bestDist = s, d
		}
	}

	ticker, err := Resolve(contracts, best, exp)
	if err != nil {
		return Selection{}, err
	}

	return Selection{
		Ticker:      ticker,
		Expiration:  exp,
		Strike:      best,
		Expirations: expirations,
		Strikes:     strikes,
	}, nil
}

// Expirations returns the distinct expiration dates, ascending.
func Expirations(contracts []domain.OptionContract) []time.Time {
	out := make([]time.Time, 0, len(contracts))
	for _, c := range contracts {
		out = append(out, calendar.Date(c.ExpirationDate))
	}
	slices.SortFunc(out, time.Time.Compare)
	return slices.CompactFunc(out, time.Time.Equal)
}

// Strikes returns the distinct strikes listed at exp, ascending.
func Strikes(contracts []domain.OptionContract, exp time.Time) []decimal.Decimal {
	var out []decimal.Decimal
	for _, c := range contracts {
		if calendar.Date(c.ExpirationDate).Equal(exp) {
			out = append(out, c.StrikePrice)
		}
	}
	slices.SortFunc(out, decimal.Decimal.Cmp)
	return slices.CompactFunc(out, decimal.Decimal.Equal)
}

// Resolve returns the unique ticker listed for (strike, exp).
func Resolve(contracts []domain.OptionContract, strike decimal.Decimal, exp time.Time) (string, error) {
	var tickers []string
	for _, c := range contracts {
		if c.StrikePrice.Equal(strike) && calendar.Date(c.ExpirationDate).Equal(exp) && !slices.Contains(tickers, c.Ticker) {
			tickers = append(tickers, c.Ticker)
		}
	}
	switch len(tickers) {
	case 0:
		return "", fmt.Errorf("%w: strike %s expiring %s", ErrNotFound, strike, calendar.Format(exp))
	case 1:
		return tickers[0], nil
	default:
		return "", fmt.Errorf("%w: strike %s expiring %s matches %v", ErrAmbiguousContract, strike, calendar.Format(exp), tickers)
	}
}
