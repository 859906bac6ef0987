package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"covercall/internal/config"
	"covercall/internal/util"
	"covercall/pkg/covercall"
)

var (
	cfgPath    string
	logLevel   string
	serverAddr string

	cfg    *config.Config
	logger *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "covercall",
	Short: "Backtest a rolling covered-call strategy on US equities",
	Long: `covercall simulates buying shares of a ticker and repeatedly writing
out-of-the-money calls against them, settling each call at expiration and
reinvesting the cash.

Session calendars and equity prices come from Alpaca, option listings and
option aggregates from Polygon. Runs are stored in SQLite and can be listed,
shown and exported afterwards.

Example:
  covercall run --ticker AAPL --start 2024-01-02 --months 3 --strike 1.01`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		path := cfgPath
		if path == "" {
			path = config.Path()
		}
		c, err := config.Load(path)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		if logLevel != "" {
			c.Logging.Level = logLevel
		}
		cfg = c
		logger = util.NewLoggerTo(os.Stderr, cfg.Logging.Level, cfg.Logging.Format)
		util.SetDefault(logger)
		return nil
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "", "config file (default $COVERCALL_CONFIG or "+config.DefaultPath+")")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&serverAddr, "server", "", "covercall-server gRPC address; when set, commands run remotely")
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func dialServer() (*covercall.Client, error) {
	c, err := covercall.NewClient(serverAddr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", serverAddr, err)
	}
	return c, nil
}

// printJSON writes v to stdout, indented.
func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
