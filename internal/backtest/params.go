package backtest

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"covercall/internal/calendar"
)

// ErrInvalidParams is returned by Params.Validate.
var ErrInvalidParams = errors.New("backtest: invalid parameters")

// Params configures one backtest run.
type Params struct {
	Ticker          string    `json:"ticker"`
	Calendar        string    `json:"calendar"`
	StartDate       time.Time `json:"start_date"`
	DurationMonths  int       `json:"duration_months"`
	RelativeStrike  float64   `json:"relative_strike"`
	InitialShares   int64     `json:"initial_shares"`
	ExpirationIndex int       `json:"expiration_index"`
	StrikeBand      float64   `json:"strike_band"`

	// Months of sessions requested past the strategy end so that the last
	// expiration and the session after it are always known.
	CalendarPaddingMonths int `json:"calendar_padding_months"`
	// Shares covered by one option contract.
	LotSize int64 `json:"lot_size"`
	// Contracts expiring later than this many months after the trade date
	// are not considered.
	ExpirationWindowMonths int `json:"expiration_window_months"`
}

// DefaultParams returns the parameters of the reference configuration.
func DefaultParams() Params {
	return Params{
		Ticker:                 "AAPL",
		Calendar:               "XNAS",
		StartDate:              time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC),
		DurationMonths:         3,
		RelativeStrike:         1.01,
		InitialShares:          10000,
		ExpirationIndex:        0,
		StrikeBand:             10,
		CalendarPaddingMonths:  3,
		LotSize:                100,
		ExpirationWindowMonths: 1,
	}
}

// WithDefaults fills the structural fields (padding, lot size, expiration
// window) when they are unset. Strategy fields are left untouched.
func (p Params) WithDefaults() Params {
	if p.CalendarPaddingMonths <= 0 {
		p.CalendarPaddingMonths = 3
	}
	if p.LotSize <= 0 {
		p.LotSize = 100
	}
	if p.ExpirationWindowMonths <= 0 {
		p.ExpirationWindowMonths = 1
	}
	p.Ticker = strings.ToUpper(strings.TrimSpace(p.Ticker))
	p.Calendar = strings.ToUpper(strings.TrimSpace(p.Calendar))
	if !p.StartDate.IsZero() {
		p.StartDate = calendar.Date(p.StartDate)
	}
	return p
}

// Validate checks the strategy parameters.
func (p Params) Validate() error {
	var problems []string
	if p.Ticker == "" {
		problems = append(problems, "ticker is required")
	}
	if p.Calendar == "" {
		problems = append(problems, "calendar is required")
	}
	if p.StartDate.IsZero() {
		problems = append(problems, "start date is required")
	}
	if p.DurationMonths < 1 || p.DurationMonths > 60 {
		problems = append(problems, fmt.Sprintf("duration must be 1-60 months, got %d", p.DurationMonths))
	}
	if p.RelativeStrike < 0.5 || p.RelativeStrike > 3.0 {
		problems = append(problems, fmt.Sprintf("relative strike must be 0.5-3.0, got %g", p.RelativeStrike))
	}
	if p.InitialShares < 0 {
		problems = append(problems, fmt.Sprintf("initial shares must be >= 0, got %d", p.InitialShares))
	}
	if p.ExpirationIndex < 0 {
		problems = append(problems, fmt.Sprintf("expiration index must be >= 0, got %d", p.ExpirationIndex))
	}
	if p.StrikeBand < 0.5 || p.StrikeBand > 100 {
		problems = append(problems, fmt.Sprintf("strike band must be 0.5-100, got %g", p.StrikeBand))
	}
	if p.CalendarPaddingMonths < 0 || p.LotSize < 0 || p.ExpirationWindowMonths < 0 {
		problems = append(problems, "padding, lot size and expiration window must not be negative")
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidParams, strings.Join(problems, "; "))
	}
	return nil
}

// EndDate returns the strategy horizon: no cycle starts after it.
func (p Params) EndDate() time.Time {
	return calendar.AddMonths(calendar.Date(p.StartDate), p.DurationMonths)
}
