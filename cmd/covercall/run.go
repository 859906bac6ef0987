package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"covercall/internal/api"
	"covercall/internal/app"
	"covercall/internal/backtest"
	"covercall/internal/calendar"
	"covercall/internal/report"
	"covercall/internal/store"
	"covercall/pkg/covercall"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a covered-call backtest",
	Long: `Run simulates the strategy from the start date for the given number of
months. Flags override the backtest section of the config file.

Example:
  covercall run --ticker MSFT --start 2024-03-01 --months 6 --strike 1.05 --cycles`,
	Args: cobra.NoArgs,
	RunE: runBacktest,
}

var (
	runTicker   string
	runCalendar string
	runStart    string
	runMonths   int
	runStrike   float64
	runShares   int64
	runExpIndex int
	runBand     float64

	runNoSave     bool
	runShowLedger bool
	runShowCycles bool
	runJSON       bool
	runCSV        string
	runCyclesCSV  string
	runParquet    string
)

func init() {
	rootCmd.AddCommand(runCmd)

	f := runCmd.Flags()
	f.StringVarP(&runTicker, "ticker", "t", "", "underlying ticker")
	f.StringVar(&runCalendar, "calendar", "", "exchange calendar (XNAS, XNYS, XASE, XARC, XBOS)")
	f.StringVarP(&runStart, "start", "s", "", "start date (YYYY-MM-DD)")
	f.IntVarP(&runMonths, "months", "m", 0, "strategy duration in months (1-60)")
	f.Float64VarP(&runStrike, "strike", "k", 0, "target strike relative to the spot open (0.5-3.0)")
	f.Int64Var(&runShares, "shares", 0, "initial share count")
	f.IntVar(&runExpIndex, "expiration-index", 0, "index into the sorted expirations after the trade date")
	f.Float64Var(&runBand, "band", 0, "strike search band in dollars around the target (0.5-100)")

	f.BoolVar(&runNoSave, "no-save", false, "do not store the run in the run history")
	f.BoolVar(&runShowLedger, "ledger", false, "print the ledger")
	f.BoolVar(&runShowCycles, "cycles", false, "print the cycle log")
	f.BoolVar(&runJSON, "json", false, "print the run as JSON")
	f.StringVar(&runCSV, "csv", "", "write the ledger to this CSV file")
	f.StringVar(&runCyclesCSV, "cycles-csv", "", "write the cycle log to this CSV file")
	f.StringVar(&runParquet, "parquet", "", "write the ledger to this parquet file")
}

// applyRunFlags overlays the flags the user set on p.
func applyRunFlags(cmd *cobra.Command, p backtest.Params) (backtest.Params, error) {
	f := cmd.Flags()
	if f.Changed("ticker") {
		p.Ticker = runTicker
	}
	if f.Changed("calendar") {
		p.Calendar = runCalendar
	}
	if f.Changed("start") {
		d, err := calendar.ParseDate(runStart)
		if err != nil {
			return p, fmt.Errorf("--start: %w", err)
		}
		p.StartDate = d
	}
	if f.Changed("months") {
		p.DurationMonths = runMonths
	}
	if f.Changed("strike") {
		p.RelativeStrike = runStrike
	}
	if f.Changed("shares") {
		p.InitialShares = runShares
	}
	if f.Changed("expiration-index") {
		p.ExpirationIndex = runExpIndex
	}
	if f.Changed("band") {
		p.StrikeBand = runBand
	}
	return p.WithDefaults(), nil
}

func runBacktest(cmd *cobra.Command, args []string) error {
	p, err := cfg.Backtest.Params()
	if err != nil {
		return err
	}
	if p, err = applyRunFlags(cmd, p); err != nil {
		return err
	}
	if err := p.Validate(); err != nil {
		return err
	}
	if serverAddr != "" {
		return runRemote(p)
	}

	a, err := app.New(cfg, nil, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := signalContext()
	defer cancel()

	res, err := a.Runner.Run(ctx, p)
	if err != nil {
		return err
	}
	rec, err := res.Record()
	if err != nil {
		return err
	}
	if !runNoSave {
		if err := a.Runs.SaveRun(ctx, rec); err != nil {
			return fmt.Errorf("save run: %w", err)
		}
	}

	if err := exportRun(rec, res.Cycles); err != nil {
		return err
	}

	if runJSON {
		wire := api.WireRun(rec)
		wire.Cycles = api.WireCycles(res.Cycles)
		return printJSON(wire)
	}
	fmt.Println(report.RenderSummary(res.Params, res.Summary))
	if runShowCycles {
		fmt.Println(report.RenderCycles(res.Cycles))
	}
	if runShowLedger {
		fmt.Println(report.RenderLedger(rec.Entries))
	}
	if !runNoSave {
		fmt.Printf("run %s saved to %s\n", rec.ID, cfg.Storage.SQLitePath)
	}
	return nil
}

func exportRun(rec *store.Run, cycles []backtest.Cycle) error {
	if runCSV != "" {
		if err := writeFile(runCSV, func(f *os.File) error { return report.WriteLedgerCSV(f, rec.Entries) }); err != nil {
			return err
		}
	}
	if runCyclesCSV != "" {
		if err := writeFile(runCyclesCSV, func(f *os.File) error { return report.WriteCyclesCSV(f, cycles) }); err != nil {
			return err
		}
	}
	if runParquet != "" {
		if err := store.WriteLedger(runParquet, rec.Entries); err != nil {
			return fmt.Errorf("write %s: %w", runParquet, err)
		}
	}
	return nil
}

func writeFile(path string, write func(*os.File) error) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := write(f); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}

func runRemote(p backtest.Params) error {
	c, err := dialServer()
	if err != nil {
		return err
	}
	defer c.Close()

	ctx, cancel := signalContext()
	defer cancel()

	run, err := c.Run(ctx, covercall.RunRequest{
		Ticker:          p.Ticker,
		Calendar:        p.Calendar,
		StartDate:       calendar.Format(p.StartDate),
		DurationMonths:  covercall.Ptr(p.DurationMonths),
		RelativeStrike:  covercall.Ptr(p.RelativeStrike),
		InitialShares:   covercall.Ptr(p.InitialShares),
		ExpirationIndex: covercall.Ptr(p.ExpirationIndex),
		StrikeBand:      covercall.Ptr(p.StrikeBand),
	})
	if err != nil {
		return err
	}
	return printJSON(run)
}
