package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"covercall/internal/backtest"
	"covercall/internal/ledger"
	"covercall/internal/perf"
	"covercall/internal/report"
	"covercall/internal/store"
)

var (
	replayClose   float64
	replayEntries bool
)

var replayCmd = &cobra.Command{
	Use:   "replay <ledger-file>",
	Short: "Re-check an exported ledger and summarize it",
	Long: `Replay reads a ledger written by export (.parquet, anything else is read as
CSV), appends every entry again so positions are re-validated, and prints the
run summary. The closing price defaults to the last priced stock entry.

Example:
  covercall replay exports/aapl.parquet --close 231.40`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		entries, err := loadLedger(args[0])
		if err != nil {
			return err
		}
		var lastClose *decimal.Decimal
		if cmd.Flags().Changed("close") {
			c := decimal.NewFromFloat(replayClose)
			lastClose = &c
		}
		p, s, err := summarizeLedger(entries, lastClose)
		if err != nil {
			return err
		}
		fmt.Println(report.RenderSummary(p, s))
		if replayEntries {
			fmt.Println(report.RenderLedger(entries))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(replayCmd)

	replayCmd.Flags().Float64Var(&replayClose, "close", 0, "closing price used to value the shares")
	replayCmd.Flags().BoolVar(&replayEntries, "entries", false, "also print every ledger entry")
}

func loadLedger(path string) ([]ledger.Entry, error) {
	if strings.EqualFold(filepath.Ext(path), ".parquet") {
		return store.ReadLedger(path)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return report.ReadLedgerCSV(f)
}

// summarizeLedger replays entries and computes the summary for the single
// stock they hold. A nil lastClose takes the price of the last priced stock
// entry.
func summarizeLedger(entries []ledger.Entry, lastClose *decimal.Decimal) (backtest.Params, perf.Summary, error) {
	l, err := ledger.Replay(entries)
	if err != nil {
		return backtest.Params{}, perf.Summary{}, err
	}

	var ticker string
	var price decimal.Decimal
	for _, e := range entries {
		if e.IsCash() {
			continue
		}
		if ticker == "" {
			ticker = e.Asset
		}
		if e.Asset == ticker && e.Price != nil {
			price = *e.Price
		}
	}
	if ticker == "" {
		return backtest.Params{}, perf.Summary{}, fmt.Errorf("ledger holds no stock")
	}
	if lastClose != nil {
		price = *lastClose
	}

	first, last := l.FirstDate(), l.LastDate()
	p := backtest.Params{
		Ticker:         ticker,
		StartDate:      first,
		DurationMonths: (last.Year()-first.Year())*12 + int(last.Month()-first.Month()),
	}
	return p, perf.Compute(l, ticker, price), nil
}
