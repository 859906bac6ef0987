package ledger

import (
	"time"

	"covercall/internal/calendar"
	"covercall/internal/domain"
)

// Predicate selects ledger entries.
type Predicate func(Entry) bool

// ByAsset matches entries for asset.
func ByAsset(asset string) Predicate {
	return func(e Entry) bool { return e.Asset == asset }
}

// ByDirection matches entries moving in direction d.
func ByDirection(d domain.Direction) Predicate {
	return func(e Entry) bool { return e.Direction == d }
}

// ByConcept matches entries tagged c.
func ByConcept(c domain.Concept) Predicate {
	return func(e Entry) bool { return e.Concept == c }
}

// OnOrBefore matches entries dated on or before day.
func OnOrBefore(day time.Time) Predicate {
	d := calendar.Date(day)
	return func(e Entry) bool { return !e.Date.After(d) }
}

// And matches entries satisfying every predicate.
func And(preds ...Predicate) Predicate {
	return func(e Entry) bool {
		for _, p := range preds {
			if !p(e) {
				return false
			}
		}
		return true
	}
}
