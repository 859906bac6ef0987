package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"covercall/internal/app"
	"covercall/internal/report"
	"covercall/internal/store"
)

var (
	exportFormat string
	exportOut    string
)

var exportCmd = &cobra.Command{
	Use:   "export <run-id>",
	Short: "Export the ledger of a stored run as CSV or parquet",
	Long: `Export writes the ledger of a stored run. CSV goes to stdout unless --out
is given; parquet always needs --out.

Example:
  covercall export 3f0c... --format parquet --out exports/aapl.parquet`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()

		runs, err := app.OpenRuns(cfg.Storage.SQLitePath)
		if err != nil {
			return err
		}
		defer runs.Close()

		run, err := runs.GetRun(ctx, args[0])
		if err != nil {
			return err
		}

		switch strings.ToLower(exportFormat) {
		case "csv":
			if exportOut == "" {
				return report.WriteLedgerCSV(os.Stdout, run.Entries)
			}
			if err := writeFile(exportOut, func(f *os.File) error { return report.WriteLedgerCSV(f, run.Entries) }); err != nil {
				return err
			}
		case "parquet":
			if exportOut == "" {
				return fmt.Errorf("--out is required for parquet")
			}
			if err := store.WriteLedger(exportOut, run.Entries); err != nil {
				return err
			}
		default:
			return fmt.Errorf("unknown format %q (supported: csv, parquet)", exportFormat)
		}
		fmt.Fprintf(os.Stderr, "wrote %d entries to %s\n", len(run.Entries), exportOut)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(exportCmd)

	exportCmd.Flags().StringVarP(&exportFormat, "format", "f", "csv", "output format (csv, parquet)")
	exportCmd.Flags().StringVarP(&exportOut, "out", "o", "", "output file")
}
