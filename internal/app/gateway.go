package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Ashennwitch/mbg-tracker/internal/auth"
	"github.com/Ashennwitch/mbg-tracker/internal/config"
	"github.com/Ashennwitch/mbg-tracker/internal/eventlog"
	"github.com/Ashennwitch/mbg-tracker/internal/gateway"
	"github.com/Ashennwitch/mbg-tracker/internal/httpserver"
	"github.com/Ashennwitch/mbg-tracker/internal/metrics"
	"github.com/Ashennwitch/mbg-tracker/internal/replication"
	"github.com/Ashennwitch/mbg-tracker/internal/scan"
)

// OpenEventLog opens the gateway event log.
// Params: cfg local_log section; ephemeral selects the in-memory log.
// Returns: log or open error.
func OpenEventLog(cfg config.LocalLogConfig, ephemeral bool) (eventlog.Log, error) {
	if ephemeral {
		return eventlog.NewMemoryLog(nil), nil
	}
	log, err := eventlog.OpenSQLite(cfg.Path, cfg.Driver)
	if err != nil {
		return nil, err
	}
	return log, nil
}

// NewSubmitter builds the configured center transport.
// Params: cfg sync section; originID token subject.
// Returns: submitter, its close function, or configuration error.
func NewSubmitter(cfg config.SyncConfig, originID string) (replication.Submitter, func() error, error) {
	var tokens replication.TokenSource
	if cfg.TokenSecret != "" {
		issuer, err := auth.NewIssuer(cfg.TokenSecret, originID, cfg.TokenTTL.Duration)
		if err != nil {
			return nil, nil, err
		}
		tokens = issuer
	}

	switch cfg.Transport {
	case config.TransportGRPC:
		submitter, err := replication.NewGRPCSubmitter(cfg.Endpoint, tokens)
		if err != nil {
			return nil, nil, err
		}
		return submitter, submitter.Close, nil
	default:
		submitter, err := replication.NewHTTPSubmitter(cfg.Endpoint, cfg.Timeout.Duration, tokens)
		if err != nil {
			return nil, nil, err
		}
		return submitter, func() error { return nil }, nil
	}
}

// NewReplicator maps the sync section onto a replicator.
// Params: cfg full config; log shared event log; submitter transport; logger process logger; opts extras.
// Returns: replicator or configuration error.
func NewReplicator(
	cfg *config.Config,
	log eventlog.Log,
	submitter replication.Submitter,
	logger *slog.Logger,
	opts ...replication.Option,
) (*replication.Replicator, error) {
	return replication.New(replication.Config{
		OriginID:        cfg.Node.OriginID,
		Interval:        cfg.Sync.Interval.Duration,
		Timeout:         cfg.Sync.Timeout.Duration,
		BatchMax:        cfg.Sync.BatchMax,
		BackoffEnabled:  cfg.Sync.Backoff.Enabled,
		BackoffMax:      cfg.Sync.Backoff.Max.Duration,
		DeadLetterAfter: cfg.Sync.DeadLetterAfter,
		SyncOnStart:     cfg.Sync.SyncOnStart,
	}, log, submitter, logger.With(slog.String("component", "replicator")), opts...)
}

// buildGateway wires the event log, write path, replicator and HTTP surface.
// Params: _ build context; cfg validated config; logger process logger; ephemeral in-memory log flag.
// Returns: runnable node or build error (partially opened resources are closed).
func buildGateway(_ context.Context, cfg *config.Config, logger *slog.Logger, ephemeral bool) (*node, error) {
	gw := &node{name: string(RoleGateway), logger: logger}
	fail := func(err error) (*node, error) {
		_ = gw.close()
		return nil, err
	}

	log, err := OpenEventLog(cfg.LocalLog, ephemeral)
	if err != nil {
		return nil, fmt.Errorf("open event log: %w", err)
	}
	gw.closers = append(gw.closers, log.Close)

	submitter, closeSubmitter, err := NewSubmitter(cfg.Sync, cfg.Node.OriginID)
	if err != nil {
		return fail(fmt.Errorf("build submitter: %w", err))
	}
	gw.closers = append(gw.closers, closeSubmitter)

	registry := metrics.NewRegistry()
	replicationMetrics, err := metrics.NewReplication(registry)
	if err != nil {
		return fail(err)
	}
	if err := registry.Register(metrics.NewDiskUsageCollector(cfg.Node.DataDir)); err != nil {
		return fail(fmt.Errorf("register disk usage: %w", err))
	}
	if err := registry.Register(metrics.NewHostCollector()); err != nil {
		return fail(fmt.Errorf("register host metrics: %w", err))
	}

	replicator, err := NewReplicator(cfg, log, submitter, logger, replication.WithObserver(replicationMetrics))
	if err != nil {
		return fail(err)
	}

	policy, err := scan.NewStatusPolicy(cfg.Scan.StatusAllow)
	if err != nil {
		return fail(err)
	}
	recorder, err := gateway.NewRecorder(log, policy, nil)
	if err != nil {
		return fail(err)
	}

	handler := gateway.NewHandler(gateway.Deps{
		Recorder: recorder,
		Log:      log,
		Syncer:   replicator,
		OriginID: cfg.Node.OriginID,
		DataDir:  cfg.Node.DataDir,
		Metrics:  metrics.Handler(registry),
	})
	// A manual POST /api/sync may hold a request for up to one submission timeout.
	server, err := httpserver.New("gateway", cfg.Gateway.Listen, handler, logger,
		httpserver.WithShutdownTimeout(cfg.Sync.Timeout.Duration+time.Second),
	)
	if err != nil {
		return fail(err)
	}

	gw.runners = append(gw.runners,
		runnerFunc(func(ctx context.Context) error {
			replicator.Run(ctx)
			return nil
		}),
		runnerFunc(server.Run),
	)
	return gw, nil
}
