// Package gather warms the local parquet bar cache ahead of backtests.
package gather

import (
	"context"
	"time"
)

// Gatherer is the interface for all data gathering processes.
type Gatherer interface {
	// Name returns the gatherer identifier.
	Name() string
	// Run gathers until done or until ctx is cancelled.
	Run(ctx context.Context) error
}

// DateRange is an inclusive range of session dates.
type DateRange struct {
	Start time.Time
	End   time.Time
}
