package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"covercall/internal/app"
	"covercall/internal/backtest"
	"covercall/internal/report"
)

var runsLimit int

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List stored backtest runs, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()

		if serverAddr != "" {
			c, err := dialServer()
			if err != nil {
				return err
			}
			defer c.Close()
			runs, err := c.ListRuns(ctx, runsLimit)
			if err != nil {
				return err
			}
			return printJSON(runs)
		}

		runs, err := app.OpenRuns(cfg.Storage.SQLitePath)
		if err != nil {
			return err
		}
		defer runs.Close()

		list, err := runs.ListRuns(ctx, runsLimit)
		if err != nil {
			return err
		}
		if len(list) == 0 {
			fmt.Println("no runs stored")
			return nil
		}
		fmt.Println(report.RenderRuns(list))
		return nil
	},
}

var showLedger bool

var showCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show the summary and ledger of a stored run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()

		if serverAddr != "" {
			c, err := dialServer()
			if err != nil {
				return err
			}
			defer c.Close()
			run, err := c.GetRun(ctx, args[0])
			if err != nil {
				return err
			}
			return printJSON(run)
		}

		runs, err := app.OpenRuns(cfg.Storage.SQLitePath)
		if err != nil {
			return err
		}
		defer runs.Close()

		run, err := runs.GetRun(ctx, args[0])
		if err != nil {
			return err
		}
		p, err := backtest.ParamsOf(run)
		if err != nil {
			return err
		}
		fmt.Printf("run %s  created %s\n", run.ID, run.CreatedAt.Format("2006-01-02 15:04:05"))
		fmt.Println(report.RenderSummary(p, run.Summary))
		if showLedger {
			fmt.Println(report.RenderLedger(run.Entries))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(runsCmd)
	rootCmd.AddCommand(showCmd)

	runsCmd.Flags().IntVarP(&runsLimit, "limit", "n", 20, "maximum number of runs")
	showCmd.Flags().BoolVar(&showLedger, "ledger", true, "print the ledger")
}
