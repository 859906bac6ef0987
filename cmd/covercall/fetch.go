package main

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"covercall/internal/calendar"
	"covercall/internal/gather"
	"covercall/internal/marketdata"
	"covercall/internal/store"
)

var (
	fetchTickers string
	fetchStart   string
	fetchEnd     string
	fetchWorkers int
	fetchCached  bool
)

var fetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Download daily bars into the local parquet cache",
	Long: `Fetch downloads daily equity bars from Alpaca for the given tickers and
stores them under the data directory, where backtests read them before
asking the API. The range defaults to the configured backtest window plus
its calendar padding.

Example:
  covercall fetch --tickers AAPL,MSFT,NVDA --start 2023-01-03 --end 2024-12-31`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := cfg.Backtest.Params()
		if err != nil {
			return err
		}
		rng := gather.DateRange{
			Start: p.StartDate,
			End:   calendar.AddMonths(p.StartDate, p.DurationMonths+p.CalendarPaddingMonths),
		}
		if fetchStart != "" {
			if rng.Start, err = calendar.ParseDate(fetchStart); err != nil {
				return fmt.Errorf("--start: %w", err)
			}
		}
		if fetchEnd != "" {
			if rng.End, err = calendar.ParseDate(fetchEnd); err != nil {
				return fmt.Errorf("--end: %w", err)
			}
		}
		tickers := []string{p.Ticker}
		if fetchTickers != "" {
			tickers = strings.Split(fetchTickers, ",")
		}

		ctx, cancel := signalContext()
		defer cancel()

		cache := store.NewParquetStore(cfg.Storage.DataDir)
		if fetchCached {
			if tickers, err = gather.CachedTickers(ctx, cache, tickers); err != nil {
				return err
			}
		}

		bars := marketdata.NewAlpacaBars(cfg.Alpaca.APIKey, cfg.Alpaca.APISecret,
			cfg.Alpaca.DataURL, cfg.Alpaca.Feed, cfg.Alpaca.Adjustment)
		progressDir := filepath.Join(cfg.Storage.DataDir, "us", "prefetch")
		g := gather.NewBarPrefetcher(bars, cache, progressDir, tickers, rng, fetchWorkers)

		err = g.Run(ctx)
		st := g.Stats()
		fmt.Printf("%s: %d tickers, %d written (%d bars), %d empty, %d skipped, %d failed\n",
			g.Name(), st.Tickers, st.Hits, st.Bars, st.Empty, st.Skipped, st.Failed)
		return err
	},
}

func init() {
	rootCmd.AddCommand(fetchCmd)

	fetchCmd.Flags().StringVar(&fetchTickers, "tickers", "", "comma-separated tickers (default: the configured ticker)")
	fetchCmd.Flags().StringVar(&fetchStart, "start", "", "first session (YYYY-MM-DD)")
	fetchCmd.Flags().StringVar(&fetchEnd, "end", "", "last session (YYYY-MM-DD)")
	fetchCmd.Flags().BoolVar(&fetchCached, "cached", false, "also refresh every ticker already in the cache")
	fetchCmd.Flags().IntVarP(&fetchWorkers, "workers", "w", 4, "concurrent downloads")
}
