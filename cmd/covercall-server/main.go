package main

import (
	"context"
	"log"
	"log/slog"
	"os/signal"
	"syscall"

	"covercall/internal/api"
	"covercall/internal/app"
	"covercall/internal/config"
	"covercall/internal/metrics"
	"covercall/internal/util"
)

func main() {
	cfg, err := config.Load(config.Path())
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := util.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
	util.SetDefault(logger)

	defaults, err := cfg.Backtest.Params()
	if err != nil {
		log.Fatalf("invalid backtest defaults: %v", err)
	}

	reg := metrics.NewRegistry(true)
	a, err := app.New(cfg, reg, logger)
	if err != nil {
		log.Fatalf("failed to initialise backtester: %v", err)
	}
	defer a.Close()

	svc := api.NewService(a.Runner, a.Runs, defaults, logger)
	srv := api.NewServer(cfg.Server, svc, reg.Handler(), logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	slog.Info("starting covercall-server",
		"grpc", cfg.Server.GRPCAddr(),
		"metrics", cfg.Server.MetricsAddr(),
		"default_ticker", defaults.Ticker,
	)
	if err := srv.ListenAndServe(ctx); err != nil {
		log.Fatalf("server error: %v", err)
	}
	slog.Info("covercall-server stopped")
}
