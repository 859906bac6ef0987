package calendar

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func day(s string) time.Time {
	t, err := ParseDate(s)
	if err != nil {
		panic(err)
	}
	return t
}

func TestAddMonths(t *testing.T) {
	tests := []struct {
		start string
		n     int
		want  string
	}{
		{"2024-01-02", 1, "2024-02-02"},
		{"2024-01-31", 1, "2024-02-29"},
		{"2023-01-31", 1, "2023-02-28"},
		{"2024-03-31", 1, "2024-04-30"},
		{"2024-11-15", 3, "2025-02-15"},
		{"2024-01-02", 0, "2024-01-02"},
	}
	for _, tt := range tests {
		got := AddMonths(day(tt.start), tt.n)
		assert.Equal(t, tt.want, Format(got), "%s + %d months", tt.start, tt.n)
	}
}

func TestDate(t *testing.T) {
	et := time.FixedZone("ET", -5*3600)
	in := time.Date(2024, 1, 2, 23, 30, 0, 0, et)
	assert.Equal(t, "2024-01-02", Format(Date(in)))
	assert.Equal(t, time.UTC, Date(in).Location())
}

func TestDaysBetween(t *testing.T) {
	assert.Equal(t, 31, DaysBetween(day("2024-01-01"), day("2024-02-01")))
	assert.Equal(t, 0, DaysBetween(day("2024-01-01"), day("2024-01-01")))
}

func TestWalkerNormalises(t *testing.T) {
	w := NewWalker([]time.Time{day("2024-01-04"), day("2024-01-02"), day("2024-01-03"), day("2024-01-02")})
	require.Equal(t, 3, w.Len())

	first, err := w.First()
	require.NoError(t, err)
	assert.Equal(t, "2024-01-02", Format(first))

	last, err := w.Last()
	require.NoError(t, err)
	assert.Equal(t, "2024-01-04", Format(last))
}

func TestWalkerNext(t *testing.T) {
	w := NewWalker([]time.Time{day("2024-01-02"), day("2024-01-03"), day("2024-01-05")})

	next, err := w.Next(day("2024-01-03"))
	require.NoError(t, err)
	assert.Equal(t, "2024-01-05", Format(next))

	// Deterministic for the same input.
	again, err := w.Next(day("2024-01-03"))
	require.NoError(t, err)
	assert.Equal(t, next, again)

	_, err = w.Next(day("2024-01-05"))
	assert.True(t, errors.Is(err, ErrOutOfRange), "last session")

	_, err = w.Next(day("2024-01-04"))
	assert.True(t, errors.Is(err, ErrOutOfRange), "not a session")
}

func TestWalkerOnOrAfter(t *testing.T) {
	w := NewWalker([]time.Time{day("2024-01-02"), day("2024-01-05")})

	got, err := w.OnOrAfter(day("2024-01-01"))
	require.NoError(t, err)
	assert.Equal(t, "2024-01-02", Format(got))

	got, err = w.OnOrAfter(day("2024-01-05"))
	require.NoError(t, err)
	assert.Equal(t, "2024-01-05", Format(got))

	_, err = w.OnOrAfter(day("2024-01-06"))
	assert.ErrorIs(t, err, ErrOutOfRange)
}

func TestWalkerOnOrBefore(t *testing.T) {
	w := NewWalker([]time.Time{day("2024-01-02"), day("2024-01-05")})

	got, err := w.OnOrBefore(day("2024-01-04"))
	require.NoError(t, err)
	assert.Equal(t, "2024-01-02", Format(got))

	got, err = w.OnOrBefore(day("2024-01-05"))
	require.NoError(t, err)
	assert.Equal(t, "2024-01-05", Format(got))

	got, err = w.OnOrBefore(day("2024-02-01"))
	require.NoError(t, err)
	assert.Equal(t, "2024-01-05", Format(got))

	_, err = w.OnOrBefore(day("2024-01-01"))
	assert.ErrorIs(t, err, ErrOutOfRange)
}

func TestWalkerEmpty(t *testing.T) {
	w := NewWalker(nil)
	_, err := w.First()
	assert.ErrorIs(t, err, ErrOutOfRange)
	_, err = w.Last()
	assert.ErrorIs(t, err, ErrOutOfRange)
	assert.False(t, w.Contains(day("2024-01-02")))
}

type fakeCalendarClient struct {
	days []alpaca.CalendarDay
	req  alpaca.GetCalendarRequest
}

func (f *fakeCalendarClient) GetCalendar(req alpaca.GetCalendarRequest) ([]alpaca.CalendarDay, error) {
	f.req = req
	return f.days, nil
}

func TestAlpacaSessions(t *testing.T) {
	fake := &fakeCalendarClient{days: []alpaca.CalendarDay{
		{Date: "2024-01-03"},
		{Date: "2024-01-02"},
	}}
	s := &AlpacaSessions{client: fake}

	got, err := s.TradingSessions(context.Background(), "XNAS", day("2024-01-01"), day("2024-01-10"))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "2024-01-02", Format(got[0]))
	assert.Equal(t, "2024-01-03", Format(got[1]))
	assert.Equal(t, day("2024-01-10"), fake.req.End)

	_, err = s.TradingSessions(context.Background(), "XLON", day("2024-01-01"), day("2024-01-10"))
	assert.Error(t, err)
}

func TestSupported(t *testing.T) {
	assert.True(t, Supported("XNYS"))
	assert.True(t, Supported("xnas"))
	assert.False(t, Supported("XTKS"))
}
