package backtest

import (
	"time"

	"github.com/shopspring/decimal"
)

// Outcome is how a cycle's call ended.
type Outcome string

const (
	OutcomeITM     Outcome = "itm"     // exercised, shares called away at the strike
	OutcomeOTM     Outcome = "otm"     // expired worthless
	OutcomeSkipped Outcome = "skipped" // no contracts could be listed
)

// Cycle records the decisions of one buy/sell/settle cycle.
type Cycle struct {
	Index         int             `json:"index"`
	TradeDate     time.Time       `json:"trade_date"`
	SpotOpen      decimal.Decimal `json:"spot_open"`
	SharesBought  decimal.Decimal `json:"shares_bought"`
	TargetStrike  decimal.Decimal `json:"target_strike"`
	OptionTicker  string          `json:"option_ticker,omitempty"`
	Expiration    time.Time       `json:"expiration,omitzero"`
	Strike        decimal.Decimal `json:"strike"`
	OptionVWAP    decimal.Decimal `json:"option_vwap"`
	CoveredShares decimal.Decimal `json:"covered_shares"`
	Premium       decimal.Decimal `json:"premium"`
	SettleClose   decimal.Decimal `json:"settle_close"`
	Outcome       Outcome         `json:"outcome"`
	Partial       bool            `json:"partial,omitempty"`
}

// Observer receives lifecycle events from a Runner. Implementations must
// not block.
type Observer interface {
	// CycleCompleted is called after a cycle settles or is skipped.
	CycleCompleted(p Params, c Cycle)
	// ListingDegraded is called when a contract listing stopped early.
	ListingDegraded(p Params, day time.Time, err error)
	// RunFinished is called once per Run. res is nil when err is not.
	RunFinished(p Params, res *Result, elapsed time.Duration, err error)
}

// NopObserver ignores all events.
type NopObserver struct{}

func (NopObserver) CycleCompleted(Params, Cycle)                      {}
func (NopObserver) ListingDegraded(Params, time.Time, error)          {}
func (NopObserver) RunFinished(Params, *Result, time.Duration, error) {}
