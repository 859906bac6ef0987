package calendar

import (
	"errors"
	"fmt"
	"slices"
	"time"
)

// ErrOutOfRange is returned when the walker is asked for a session it does
// not hold, or for the session after its last one.
var ErrOutOfRange = errors.New("calendar: date out of range")

// Walker advances a simulation clock over an ordered, deduplicated list of
// trading sessions. It is immutable after construction.
type Walker struct {
	sessions []time.Time
}

// NewWalker normalises sessions to calendar dates, sorts them ascending and
// drops duplicates.
func NewWalker(sessions []time.Time) *Walker {
	days := make([]time.Time, 0, len(sessions))
	for _, s := range sessions {
		days = append(days, Date(s))
	}
	slices.SortFunc(days, time.Time.Compare)
	days = slices.CompactFunc(days, time.Time.Equal)
	return &Walker{sessions: days}
}

// Len returns the number of sessions.
func (w *Walker) Len() int { return len(w.sessions) }

// Sessions returns a copy of the session list.
func (w *Walker) Sessions() []time.Time {
	return slices.Clone(w.sessions)
}

// First returns the first session.
func (w *Walker) First() (time.Time, error) {
	if len(w.sessions) == 0 {
		return time.Time{}, fmt.Errorf("first session: %w", ErrOutOfRange)
	}
	return w.sessions[0], nil
}

// Last returns the last session.
func (w *Walker) Last() (time.Time, error) {
	if len(w.sessions) == 0 {
		return time.Time{}, fmt.Errorf("last session: %w", ErrOutOfRange)
	}
	return w.sessions[len(w.sessions)-1], nil
}

// Contains reports whether day is a session.
func (w *Walker) Contains(day time.Time) bool {
	_, ok := w.index(day)
	return ok
}

// Next returns the session strictly after day. day must itself be a session.
func (w *Walker) Next(day time.Time) (time.Time, error) {
	i, ok := w.index(day)
	if !ok {
		return time.Time{}, fmt.Errorf("next session after %s: not a session: %w", Format(day), ErrOutOfRange)
	}
	if i+1 >= len(w.sessions) {
		return time.Time{}, fmt.Errorf("next session after %s: calendar exhausted: %w", Format(day), ErrOutOfRange)
	}
	return w.sessions[i+1], nil
}

// OnOrAfter returns the first session on or after day.
func (w *Walker) OnOrAfter(day time.Time) (time.Time, error) {
	i, _ := w.index(day)
	if i >= len(w.sessions) {
		return time.Time{}, fmt.Errorf("session on or after %s: %w", Format(day), ErrOutOfRange)
	}
	return w.sessions[i], nil
}

// OnOrBefore returns the last session on or before day.
func (w *Walker) OnOrBefore(day time.Time) (time.Time, error) {
	i, ok := w.index(day)
	if ok {
		return w.sessions[i], nil
	}
	if i == 0 {
		return time.Time{}, fmt.Errorf("session on or before %s: %w", Format(day), ErrOutOfRange)
	}
	return w.sessions[i-1], nil
}

func (w *Walker) index(day time.Time) (int, bool) {
	return slices.BinarySearchFunc(w.sessions, Date(day), time.Time.Compare)
}
