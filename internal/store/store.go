// Package store defines storage interfaces for persisting and retrieving
// daily bars and backtest runs, with Parquet and SQLite implementations.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"covercall/internal/domain"
	"covercall/internal/ledger"
	"covercall/internal/perf"
)

// ErrRunNotFound is returned when a run id is unknown.
var ErrRunNotFound = errors.New("store: run not found")

// BarStore persists and retrieves OHLCV bar data.
type BarStore interface {
	// WriteBars persists a batch of bars to storage.
	WriteBars(ctx context.Context, bars []domain.Bar) error

	// ReadBars returns bars for the given symbol and market within [start, end].
	ReadBars(ctx context.Context, symbol string, market string, start, end time.Time) ([]domain.Bar, error)

	// ListSymbols returns all distinct symbols available in the given market.
	ListSymbols(ctx context.Context, market string) ([]string, error)
}

// Run is a persisted backtest: its parameters, headline metrics and ledger.
type Run struct {
	ID        string
	CreatedAt time.Time
	Ticker    string
	Params    json.RawMessage
	Summary   perf.Summary
	Entries   []ledger.Entry
}

// RunStore persists and retrieves backtest runs.
type RunStore interface {
	// SaveRun inserts a run and its ledger entries.
	SaveRun(ctx context.Context, run *Run) error

	// GetRun retrieves a run, including its ledger entries, by ID.
	GetRun(ctx context.Context, id string) (*Run, error)

	// ListRuns returns the most recent runs, newest first, without entries.
	ListRuns(ctx context.Context, limit int) ([]Run, error)
}
