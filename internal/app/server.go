package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"

	"google.golang.org/grpc"

	"github.com/Ashennwitch/mbg-tracker/internal/auth"
	"github.com/Ashennwitch/mbg-tracker/internal/config"
	"github.com/Ashennwitch/mbg-tracker/internal/httpserver"
	"github.com/Ashennwitch/mbg-tracker/internal/ingest"
	"github.com/Ashennwitch/mbg-tracker/internal/metrics"
)

// buildServer wires the central store, ingestion service and transports.
// Params: ctx bounds schema setup; cfg validated config; logger process logger.
// Returns: runnable node or build error (partially opened resources are closed).
func buildServer(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*node, error) {
	srv := &node{name: string(RoleServer), logger: logger}
	fail := func(err error) (*node, error) {
		_ = srv.close()
		return nil, err
	}

	store, err := ingest.OpenSQLStore(ctx, cfg.Server.Store.Driver, cfg.Server.Store.DSN)
	if err != nil {
		return nil, fmt.Errorf("open central store: %w", err)
	}
	srv.closers = append(srv.closers, store.Close)

	registry := metrics.NewRegistry()
	ingestMetrics, err := metrics.NewIngest(registry)
	if err != nil {
		return fail(err)
	}
	if err := registry.Register(metrics.NewHostCollector()); err != nil {
		return fail(fmt.Errorf("register host metrics: %w", err))
	}

	service, err := ingest.NewService(store, ingest.Config{
		Dedupe:        cfg.Server.Dedupe,
		MaxBatch:      cfg.Server.MaxBatch,
		StatusAllow:   cfg.Scan.StatusAllow,
		RatePerSecond: cfg.Server.RateLimit.PerSecond,
		RateBurst:     cfg.Server.RateLimit.Burst,
	}, logger.With(slog.String("component", "ingest")), ingestMetrics)
	if err != nil {
		return fail(err)
	}

	var verifier *auth.Verifier
	if cfg.Server.Auth.Secret != "" {
		verifier, err = auth.NewVerifier(cfg.Server.Auth.Secret)
		if err != nil {
			return fail(err)
		}
	}

	var grpcListener net.Listener
	if cfg.Server.GRPCListen != "" {
		grpcListener, err = net.Listen("tcp", cfg.Server.GRPCListen)
		if err != nil {
			return fail(fmt.Errorf("listen %q: %w", cfg.Server.GRPCListen, err))
		}
	}

	handler := ingest.NewHandler(service, ingest.HandlerOptions{
		Verifier: verifier,
		Observer: ingestMetrics,
		Metrics:  metrics.Handler(registry),
	})
	httpServer, err := httpserver.New("ingest", cfg.Server.Listen, handler, logger)
	if err != nil {
		if grpcListener != nil {
			_ = grpcListener.Close()
		}
		return fail(err)
	}
	srv.runners = append(srv.runners, runnerFunc(httpServer.Run))

	if grpcListener != nil {
		grpcServer, _ := ingest.NewGRPCServer(service, verifier, ingestMetrics)
		srv.runners = append(srv.runners, runnerFunc(func(ctx context.Context) error {
			return serveGRPC(ctx, grpcServer, grpcListener, logger)
		}))
	}
	return srv, nil
}

// serveGRPC serves until ctx is canceled, then drains in-flight calls.
func serveGRPC(ctx context.Context, server *grpc.Server, listener net.Listener, logger *slog.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Serve(listener)
	}()
	logger.Info("grpc server started", slog.String("listen", listener.Addr().String()))

	select {
	case <-ctx.Done():
		server.GracefulStop()
		<-errCh
		return nil
	case err := <-errCh:
		if err == nil || errors.Is(err, grpc.ErrServerStopped) {
			return nil
		}
		return fmt.Errorf("grpc serve: %w", err)
	}
}
