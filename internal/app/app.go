// Package app assembles a backtest Runner and its stores from a Config.
package app

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"covercall/internal/backtest"
	"covercall/internal/calendar"
	"covercall/internal/config"
	"covercall/internal/marketdata"
	"covercall/internal/metrics"
	"covercall/internal/store"
)

// App holds the collaborators shared by the CLI and the server.
type App struct {
	Config  *config.Config
	Runner  *backtest.Runner
	Runs    *store.SQLiteStore
	Bars    *store.ParquetStore
	Metrics *metrics.Registry
}

// New wires Alpaca sessions and bars, the Polygon option chain, the parquet
// bar cache and the SQLite run history. reg may be nil, in which case no
// metrics are recorded.
func New(cfg *config.Config, reg *metrics.Registry, log *slog.Logger) (*App, error) {
	if log == nil {
		log = slog.Default()
	}

	keys, err := marketdata.NewKeyRing(cfg.Polygon.APIKeys, cfg.Polygon.RateLimitPerMin)
	if err != nil {
		return nil, fmt.Errorf("polygon: %w", err)
	}

	sessions := calendar.NewAlpacaSessions(cfg.Alpaca.APIKey, cfg.Alpaca.APISecret, cfg.Alpaca.BaseURL)
	bars := store.NewParquetStore(cfg.Storage.DataDir)
	fetcher := marketdata.NewAlpacaBars(cfg.Alpaca.APIKey, cfg.Alpaca.APISecret,
		cfg.Alpaca.DataURL, cfg.Alpaca.Feed, cfg.Alpaca.Adjustment)

	var (
		prices backtest.Prices      = marketdata.NewPriceBook(fetcher, bars, cfg.Backtest.BarWindowMonths)
		chain  backtest.OptionChain = marketdata.NewPolygonChain(keys, marketdata.PolygonOptions{
			BaseURL:   cfg.Polygon.BaseURL,
			PageDelay: cfg.Polygon.PageDelay,
			PageLimit: cfg.Polygon.PageLimit,
		})
	)
	if reg != nil {
		prices = reg.InstrumentPrices(prices)
		chain = reg.InstrumentChain(chain)
	}

	runs, err := OpenRuns(cfg.Storage.SQLitePath)
	if err != nil {
		return nil, err
	}

	runner := backtest.NewRunner(sessions, prices, chain, log)
	if reg != nil {
		runner.SetObserver(reg.Observer())
	}
	log.Info("backtester ready",
		"polygon_keys", keys.Len(),
		"data_dir", cfg.Storage.DataDir,
		"sqlite", cfg.Storage.SQLitePath,
	)

	return &App{
		Config:  cfg,
		Runner:  runner,
		Runs:    runs,
		Bars:    bars,
		Metrics: reg,
	}, nil
}

// OpenRuns opens the run history database, creating its directory.
func OpenRuns(path string) (*store.SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating sqlite dir: %w", err)
	}
	runs, err := store.NewSQLiteStore(path)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite %s: %w", path, err)
	}
	return runs, nil
}

// Close releases the run history database.
func (a *App) Close() error {
	return a.Runs.Close()
}
