// Package ledger implements the append-only transaction log that backs a
// backtest. Every cash and share movement is an Entry; positions are derived
// by summing entries, never stored.
package ledger

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"covercall/internal/calendar"
	"covercall/internal/domain"
)

var (
	// ErrValidation is returned for a malformed entry.
	ErrValidation = errors.New("ledger: invalid entry")
	// ErrOverdraft is returned when an append would leave a position negative.
	ErrOverdraft = errors.New("ledger: position would go negative")
)

// Entry is one immutable ledger row.
type Entry struct {
	Seq       int
	Asset     string
	Direction domain.Direction
	Concept   domain.Concept
	Date      time.Time
	Phase     domain.Phase
	Quantity  decimal.Decimal
	Price     *decimal.Decimal // nil for pure cash rows
}

// IsCash reports whether the entry moves cash.
func (e Entry) IsCash() bool { return e.Asset == domain.CashAsset }

// Signed returns the quantity with the sign of its direction.
func (e Entry) Signed() decimal.Decimal {
	if e.Direction == domain.DirectionOut {
		return e.Quantity.Neg()
	}
	return e.Quantity
}

func (e Entry) validate() error {
	switch {
	case e.Asset == "":
		return fmt.Errorf("%w: empty asset", ErrValidation)
	case !e.Direction.Valid():
		return fmt.Errorf("%w: unknown direction %q", ErrValidation, e.Direction)
	case !e.Concept.Valid():
		return fmt.Errorf("%w: unknown concept %q", ErrValidation, e.Concept)
	case !e.Phase.Valid():
		return fmt.Errorf("%w: unknown phase %q", ErrValidation, e.Phase)
	case e.Date.IsZero():
		return fmt.Errorf("%w: missing date", ErrValidation)
	case e.Quantity.IsNegative():
		return fmt.Errorf("%w: negative quantity %s", ErrValidation, e.Quantity)
	case e.Price != nil && e.Price.IsNegative():
		return fmt.Errorf("%w: negative price %s", ErrValidation, e.Price)
	}
	return nil
}

// Ledger is an ordered, append-only sequence of entries. It is not safe for
// concurrent use; a backtest owns its ledger exclusively.
type Ledger struct {
	entries []Entry
}

// New returns an empty ledger.
func New() *Ledger {
	return &Ledger{}
}

// Append validates and appends a batch of entries. The batch is atomic: if
// any entry is malformed, or the batch would leave a cash or stock position
// negative, nothing is appended.
func (l *Ledger) Append(entries ...Entry) error {
	delta := make(map[string]decimal.Decimal)
	for i := range entries {
		if err := entries[i].validate(); err != nil {
			return err
		}
		delta[entries[i].Asset] = delta[entries[i].Asset].Add(entries[i].Signed())
	}

	for asset, d := range delta {
		if after := l.position(asset).Add(d); after.IsNegative() {
			return fmt.Errorf("%w: %s would be %s", ErrOverdraft, asset, after)
		}
	}

	for _, e := range entries {
		e.Seq = len(l.entries) + 1
		e.Date = calendar.Date(e.Date)
		l.entries = append(l.entries, e)
	}
	return nil
}

// CashPosition returns sum(In) - sum(Out) over cash entries.
func (l *Ledger) CashPosition() decimal.Decimal {
	return l.position(domain.CashAsset)
}

// StockPosition returns sum(In) - sum(Out) over entries for ticker.
func (l *Ledger) StockPosition(ticker string) decimal.Decimal {
	return l.position(ticker)
}

func (l *Ledger) position(asset string) decimal.Decimal {
	return l.Sum(ByAsset(asset))
}

// Sum returns the signed sum of quantities of entries matching pred.
func (l *Ledger) Sum(pred Predicate) decimal.Decimal {
	total := decimal.Zero
	for _, e := range l.entries {
		if pred == nil || pred(e) {
			total = total.Add(e.Signed())
		}
	}
	return total
}

// Query returns the entries matching pred in insertion order. A nil pred
// matches everything.
func (l *Ledger) Query(pred Predicate) []Entry {
	var out []Entry
	for _, e := range l.entries {
		if pred == nil || pred(e) {
			out = append(out, e)
		}
	}
	return out
}

// Entries returns a copy of all entries.
func (l *Ledger) Entries() []Entry {
	return l.Query(nil)
}

// Len returns the number of entries.
func (l *Ledger) Len() int { return len(l.entries) }

// FirstDate returns the date of the earliest entry, or the zero time for an
// empty ledger.
func (l *Ledger) FirstDate() time.Time {
	var first time.Time
	for _, e := range l.entries {
		if first.IsZero() || e.Date.Before(first) {
			first = e.Date
		}
	}
	return first
}

// LastDate returns the date of the latest entry, or the zero time for an
// empty ledger.
func (l *Ledger) LastDate() time.Time {
	var last time.Time
	for _, e := range l.entries {
		if e.Date.After(last) {
			last = e.Date
		}
	}
	return last
}

// PositionsAt replays the ledger up to and including day and returns the
// cash position and the position in ticker at that point.
func (l *Ledger) PositionsAt(day time.Time, ticker string) (cash, shares decimal.Decimal) {
	upTo := OnOrBefore(day)
	cash = l.Sum(And(ByAsset(domain.CashAsset), upTo))
	shares = l.Sum(And(ByAsset(ticker), upTo))
	return cash, shares
}

// Replay rebuilds a ledger from previously exported entries, re-validating
// each one in order.
func Replay(entries []Entry) (*Ledger, error) {
	l := New()
	for i, e := range entries {
		if err := l.Append(e); err != nil {
			return nil, fmt.Errorf("replaying entry %d: %w", i+1, err)
		}
	}
	return l, nil
}
