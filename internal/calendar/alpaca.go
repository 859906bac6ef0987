package calendar

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
)

// supportedCalendars lists the exchange calendar identifiers accepted by
// AlpacaSessions. All of them follow the US equity session calendar.
var supportedCalendars = map[string]struct{}{
	"XNAS": {},
	"XNYS": {},
	"XASE": {},
	"XARC": {},
	"XBOS": {},
}

// Supported reports whether calendarID is a known exchange calendar.
func Supported(calendarID string) bool {
	_, ok := supportedCalendars[strings.ToUpper(calendarID)]
	return ok
}

// calendarClient is the subset of the Alpaca trading client used here.
type calendarClient interface {
	GetCalendar(req alpaca.GetCalendarRequest) ([]alpaca.CalendarDay, error)
}

// AlpacaSessions lists trading sessions through the Alpaca trading calendar
// API.
type AlpacaSessions struct {
	client calendarClient
}

// NewAlpacaSessions creates a session source configured with the given
// Alpaca credentials and trading API endpoint.
func NewAlpacaSessions(apiKey, apiSecret, baseURL string) *AlpacaSessions {
	return &AlpacaSessions{
		client: alpaca.NewClient(alpaca.ClientOpts{
			APIKey:    apiKey,
			APISecret: apiSecret,
			BaseURL:   baseURL,
		}),
	}
}

// TradingSessions returns the sessions of calendarID within [start, end],
// ascending and deduplicated.
func (s *AlpacaSessions) TradingSessions(ctx context.Context, calendarID string, start, end time.Time) ([]time.Time, error) {
	if !Supported(calendarID) {
		return nil, fmt.Errorf("unsupported market calendar %q", calendarID)
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	days, err := s.client.GetCalendar(alpaca.GetCalendarRequest{
		Start: Date(start),
		End:   Date(end),
	})
	if err != nil {
		return nil, fmt.Errorf("GetCalendar: %w", err)
	}

	sessions := make([]time.Time, 0, len(days))
	for _, day := range days {
		t, err := time.Parse(DateLayout, day.Date)
		if err != nil {
			return nil, fmt.Errorf("parsing calendar day %q: %w", day.Date, err)
		}
		sessions = append(sessions, t)
	}
	return NewWalker(sessions).Sessions(), nil
}
