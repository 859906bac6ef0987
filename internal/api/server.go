// Package api provides the gRPC server of covercall, exposing the backtest
// service, and the HTTP listener that serves Prometheus metrics.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"google.golang.org/grpc"

	"covercall/internal/config"
)

// Server hosts the gRPC backtest service and the /metrics endpoint.
type Server struct {
	grpcAddr    string
	metricsAddr string
	grpc        *grpc.Server
	http        *http.Server
	log         *slog.Logger
}

// NewServer creates a Server listening on the addresses in cfg. metrics may
// be nil to disable the HTTP listener.
func NewServer(cfg config.Server, svc BacktestServer, metrics http.Handler, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	s := &Server{
		grpcAddr:    cfg.GRPCAddr(),
		metricsAddr: cfg.MetricsAddr(),
		grpc:        grpc.NewServer(),
		log:         log.With("component", "server"),
	}
	RegisterBacktestServer(s.grpc, svc)

	if metrics != nil {
		mux := http.NewServeMux()
		mux.Handle("GET /metrics", metrics)
		mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ok\n"))
		})
		s.http = &http.Server{Addr: s.metricsAddr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	}
	return s
}

// ListenAndServe starts the gRPC and HTTP listeners and blocks until the
// context is cancelled or a listener fails.
func (s *Server) ListenAndServe(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.grpcAddr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, lis)
}

// Serve runs the gRPC server on lis (and the HTTP listener, if any) until
// ctx is cancelled, then shuts both down gracefully.
func (s *Server) Serve(ctx context.Context, lis net.Listener) error {
	errc := make(chan error, 2)

	go func() {
		s.log.Info("grpc listening", "addr", lis.Addr().String())
		errc <- s.grpc.Serve(lis)
	}()
	if s.http != nil {
		go func() {
			s.log.Info("metrics listening", "addr", s.metricsAddr)
			if err := s.http.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				errc <- err
			}
		}()
	}

	select {
	case <-ctx.Done():
	case err := <-errc:
		if err != nil {
			s.log.Error("listener failed", "error", err)
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = s.Shutdown(shutdownCtx)
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.Shutdown(shutdownCtx)
}

// Shutdown stops accepting new connections and waits for in-flight calls
// until ctx expires, after which the gRPC server is stopped forcibly.
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	if s.http != nil {
		err = s.http.Shutdown(ctx)
	}

	done := make(chan struct{})
	go func() {
		s.grpc.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.grpc.Stop()
	}
	return err
}
