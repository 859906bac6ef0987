// Package domain defines the value types shared across the covercall
// backtester: ledger enums, daily bars and option contract records.
package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ---------------------------------------------------------------------------
// Ledger enums
// ---------------------------------------------------------------------------

// CashAsset is the asset identifier used for cash rows in the ledger. Any
// other asset is an equity ticker.
const CashAsset = "Cash"

// Direction says whether an entry adds to (In) or removes from (Out) a
// position.
type Direction string

const (
	DirectionIn  Direction = "In"
	DirectionOut Direction = "Out"
)

// Valid reports whether d is a recognised direction.
func (d Direction) Valid() bool {
	return d == DirectionIn || d == DirectionOut
}

// Concept tags the business reason for a ledger entry.
type Concept string

const (
	ConceptInflow        Concept = "Inflow"
	ConceptPurchase      Concept = "Purchase"
	ConceptCallSold      Concept = "CallSold"
	ConceptCallExercised Concept = "CallExercised"
)

var conceptLabels = map[Concept]string{
	ConceptInflow:        "Inflow",
	ConceptPurchase:      "Purchase",
	ConceptCallSold:      "Call sold",
	ConceptCallExercised: "Call exercised",
}

// Valid reports whether c is a recognised concept.
func (c Concept) Valid() bool {
	_, ok := conceptLabels[c]
	return ok
}

// Label returns the human-readable label used in exported tables.
func (c Concept) Label() string {
	if l, ok := conceptLabels[c]; ok {
		return l
	}
	return string(c)
}

// ParseConcept accepts either the identifier ("CallSold") or the exported
// label ("Call sold").
func ParseConcept(s string) (Concept, error) {
	for c, l := range conceptLabels {
		if s == string(c) || strings.EqualFold(s, l) {
			return c, nil
		}
	}
	return "", fmt.Errorf("unknown concept %q", s)
}

// Phase marks which session price an entry used. The zero value means no
// phase applies.
type Phase string

const (
	PhaseNone  Phase = ""
	PhaseOpen  Phase = "Open"
	PhaseClose Phase = "Close"
)

// Valid reports whether p is a recognised phase (including none).
func (p Phase) Valid() bool {
	return p == PhaseNone || p == PhaseOpen || p == PhaseClose
}

// ---------------------------------------------------------------------------
// Market data
// ---------------------------------------------------------------------------

// Bar is a daily OHLCV bar for an equity.
type Bar struct {
	Symbol     string
	Timestamp  time.Time
	Open       float64
	High       float64
	Low        float64
	Close      float64
	Volume     int64
	TradeCount int64
	VWAP       float64
}

// ContractType is the option right.
type ContractType string

const (
	ContractCall ContractType = "call"
	ContractPut  ContractType = "put"
)

// OptionContract is one listed option contract as returned by a chain
// listing. Records are ephemeral per listing call.
type OptionContract struct {
	Ticker            string
	Underlying        string
	ExpirationDate    time.Time
	StrikePrice       decimal.Decimal
	ContractType      ContractType
	SharesPerContract int
}

// OptionBar is a single-day aggregate for an option contract.
type OptionBar struct {
	Ticker    string
	Timestamp time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
	VWAP      float64
}
