// Package ingest is the central ingestion service: it validates batches sent
// by edge gateways and persists each batch atomically.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/Ashennwitch/mbg-tracker/internal/scan"
	"github.com/Ashennwitch/mbg-tracker/internal/wire"
)

var (
	// ErrInvalidBatch rejects malformed batches; resending the same batch fails again.
	ErrInvalidBatch = errors.New("ingest: invalid batch")
	// ErrForbiddenOrigin rejects records whose origin differs from the authenticated gateway.
	ErrForbiddenOrigin = errors.New("ingest: origin not permitted")
	// ErrRateLimited is transient; the gateway retries on its next cycle.
	ErrRateLimited = errors.New("ingest: rate limited")
	// ErrStoreUnavailable is transient; nothing from the batch was stored.
	ErrStoreUnavailable = errors.New("ingest: store unavailable")
)

// Config holds service policy.
type Config struct {
	// Dedupe skips records whose event_key is already stored.
	Dedupe bool
	// MaxBatch rejects larger batches; 0 disables the check.
	MaxBatch int
	// StatusAllow restricts admissible labels; empty admits any.
	StatusAllow []string
	// RatePerSecond limits submissions per origin; 0 disables.
	RatePerSecond float64
	RateBurst     int
}

// Observer receives ingestion telemetry.
type Observer interface {
	ObserveInsert(inserted, duplicates int)
}

// Service validates and persists batches.
type Service struct {
	store    Store
	cfg      Config
	policy   scan.StatusPolicy
	limiter  *originLimiter
	logger   *slog.Logger
	observer Observer
}

// NewService builds a service over store.
// Params: store persistence; cfg policy; logger component logger; observer optional telemetry.
// Returns: service or configuration error.
func NewService(store Store, cfg Config, logger *slog.Logger, observer Observer) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("ingest service: store is nil")
	}
	if cfg.MaxBatch < 0 {
		return nil, fmt.Errorf("ingest service: max_batch must be >= 0")
	}
	policy, err := scan.NewStatusPolicy(cfg.StatusAllow)
	if err != nil {
		return nil, fmt.Errorf("ingest service: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:    store,
		cfg:      cfg,
		policy:   policy,
		limiter:  newOriginLimiter(cfg.RatePerSecond, cfg.RateBurst),
		logger:   logger,
		observer: observer,
	}, nil
}

// SubmitBatch validates every record and persists the batch as a whole.
// Params: ctx request context; principal authenticated origin ("" when auth is off); batch inbound records.
// Returns: accepted and duplicate counts, or one of the package sentinels wrapped with detail.
func (s *Service) SubmitBatch(ctx context.Context, principal string, batch wire.Batch) (wire.Result, error) {
	if s.cfg.MaxBatch > 0 && len(batch.Records) > s.cfg.MaxBatch {
		return wire.Result{}, fmt.Errorf("%w: %d records exceeds max_batch %d", ErrInvalidBatch, len(batch.Records), s.cfg.MaxBatch)
	}

	rows := make([]Row, 0, len(batch.Records))
	for idx, record := range batch.Records {
		event, err := record.Event()
		if err != nil {
			return wire.Result{}, fmt.Errorf("%w: records[%d]: %w", ErrInvalidBatch, idx, err)
		}
		if err := s.policy.Check(event.Status); err != nil {
			return wire.Result{}, fmt.Errorf("%w: records[%d]: %w", ErrInvalidBatch, idx, err)
		}
		if principal != "" && event.OriginID != principal {
			return wire.Result{}, fmt.Errorf("%w: records[%d] origin %q, authenticated as %q", ErrForbiddenOrigin, idx, event.OriginID, principal)
		}
		rows = append(rows, Row{
			TagID:      event.TagID,
			OccurredAt: event.OccurredAt,
			Status:     event.Status,
			OriginID:   event.OriginID,
			EventKey:   strings.TrimSpace(record.EventKey),
			BatchID:    batch.ID,
		})
	}
	if len(rows) == 0 {
		return wire.Result{}, nil
	}

	origin := principal
	if origin == "" {
		origin = rows[0].OriginID
	}
	if !s.limiter.Allow(origin) {
		return wire.Result{}, fmt.Errorf("%w: origin %q", ErrRateLimited, origin)
	}

	result, err := s.store.InsertBatch(ctx, rows, s.cfg.Dedupe)
	if err != nil {
		s.logger.Error("insert batch failed",
			slog.String("origin_id", origin),
			slog.String("batch_id", batch.ID),
			slog.String("error", err.Error()),
		)
		return wire.Result{}, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	if s.observer != nil {
		s.observer.ObserveInsert(result.Accepted, result.Duplicates)
	}
	s.logger.Info("batch ingested",
		slog.String("origin_id", origin),
		slog.String("batch_id", batch.ID),
		slog.Int("accepted", result.Accepted),
		slog.Int("duplicates", result.Duplicates),
	)
	return result, nil
}

// Summary returns the dashboard aggregate.
func (s *Service) Summary(ctx context.Context) (Summary, error) {
	summary, err := s.store.Summary(ctx)
	if err != nil {
		return Summary{}, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	return summary, nil
}
