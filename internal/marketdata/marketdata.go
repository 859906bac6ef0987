// Package marketdata implements the market-data collaborators of the
// backtester: daily equity bars from Alpaca (behind a caching price book)
// and the option chain and option aggregates from Polygon.
package marketdata

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"covercall/internal/domain"
)

// ErrDataUnavailable is returned when no bar exists for a requested session.
var ErrDataUnavailable = errors.New("marketdata: data unavailable")

// ContractQuery filters an option chain listing. Bounds are inclusive.
type ContractQuery struct {
	Underlying    string
	Type          domain.ContractType
	ExpirationGTE time.Time
	ExpirationLTE time.Time
	StrikeGTE     decimal.Decimal
	StrikeLTE     decimal.Decimal
}

// ContractListing is the outcome of a chain listing that did not fail
// fatally. When Partial is non-nil the listing stopped early and Contracts
// holds only what was read before the failure.
type ContractListing struct {
	Contracts []domain.OptionContract
	Partial   error
}

// Degraded reports whether the listing stopped early.
func (l ContractListing) Degraded() bool { return l.Partial != nil }

var eastern = loadEastern()

// loadEastern returns the exchange time zone used to map bar timestamps to
// session dates.
func loadEastern() *time.Location {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		return time.FixedZone("EST", -5*60*60)
	}
	return loc
}
