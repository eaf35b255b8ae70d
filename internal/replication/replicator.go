// Package replication moves unsynced records from the edge event log to the
// ingestion service and marks exactly the accepted ones as synced.
package replication

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/Ashennwitch/mbg-tracker/internal/eventlog"
	"github.com/Ashennwitch/mbg-tracker/internal/scan"
	"github.com/Ashennwitch/mbg-tracker/internal/wire"
)

const (
	defaultInterval    = 60 * time.Second
	defaultTimeout     = 10 * time.Second
	defaultMarkTimeout = 5 * time.Second
)

// State is the replicator lifecycle state.
type State int32

const (
	StateIdle State = iota
	StateSyncing
	StateBackoff
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSyncing:
		return "syncing"
	case StateBackoff:
		return "backoff"
	default:
		return "unknown"
	}
}

// Outcome classifies a finished cycle.
type Outcome string

const (
	OutcomeEmpty       Outcome = "empty"
	OutcomeAccepted    Outcome = "accepted"
	OutcomeRejected    Outcome = "rejected"
	OutcomeUnreachable Outcome = "unreachable"
	OutcomeMarkFailed  Outcome = "mark_failed"
	OutcomeQueryFailed Outcome = "query_failed"
	// OutcomeBusy means another replicator on the same log holds the sync lease.
	OutcomeBusy Outcome = "busy"
)

// CycleReport describes one RunCycle call.
type CycleReport struct {
	StartedAt    time.Time     `json:"started_at"`
	Elapsed      time.Duration `json:"elapsed_ns"`
	Outcome      Outcome       `json:"outcome"`
	Batches      int           `json:"batches"`
	Submitted    int           `json:"submitted"`
	Synced       int           `json:"synced"`
	Duplicates   int           `json:"duplicates"`
	DeadLettered int           `json:"dead_lettered"`
	Error        string        `json:"error,omitempty"`
}

// Config holds replicator runtime settings.
type Config struct {
	OriginID string
	// Interval between cycles; 0 means 60s.
	Interval time.Duration
	// Timeout bounds one submission; 0 means 10s.
	Timeout time.Duration
	// BatchMax caps records per submission; 0 sends everything in one batch.
	BatchMax    int
	MarkTimeout time.Duration
	// BackoffEnabled doubles the wait after consecutive unreachable cycles up to BackoffMax.
	BackoffEnabled bool
	BackoffMax     time.Duration
	// DeadLetterAfter quarantines records rejected that many times; 0 disables.
	DeadLetterAfter int
	SyncOnStart     bool
}

// Observer receives replication telemetry.
type Observer interface {
	CycleFinished(report CycleReport)
	StateChanged(state State)
	Pending(unsynced int64)
}

// Option customizes a Replicator.
type Option func(*Replicator)

// WithObserver attaches a telemetry observer.
func WithObserver(observer Observer) Option {
	return func(r *Replicator) {
		r.observer = observer
	}
}

// WithClock overrides report timestamps.
func WithClock(now func() time.Time) Option {
	return func(r *Replicator) {
		if now != nil {
			r.now = now
		}
	}
}

// Replicator periodically replicates the event log.
// Cycles are serialized: the loop and manual triggers never overlap, and the
// log's sync lease keeps replicators in other processes out while one is draining.
type Replicator struct {
	holder    string
	cfg       Config
	log       eventlog.Log
	submitter Submitter
	logger    *slog.Logger
	observer  Observer
	now       func() time.Time

	cycleMu sync.Mutex
	state   atomic.Int32

	mu       sync.Mutex
	last     *CycleReport
	failures int
}

// New validates dependencies and applies defaults.
// Params: cfg runtime settings; log shared event log; submitter transport; logger component logger.
// Returns: replicator or configuration error.
func New(cfg Config, log eventlog.Log, submitter Submitter, logger *slog.Logger, opts ...Option) (*Replicator, error) {
	cfg.OriginID = strings.TrimSpace(cfg.OriginID)
	if cfg.OriginID == "" {
		return nil, fmt.Errorf("replicator: origin_id is required")
	}
	if log == nil {
		return nil, fmt.Errorf("replicator: event log is nil")
	}
	if submitter == nil {
		return nil, fmt.Errorf("replicator: submitter is nil")
	}
	if cfg.BatchMax < 0 {
		return nil, fmt.Errorf("replicator: batch_max must be >= 0")
	}
	if cfg.Interval <= 0 {
		cfg.Interval = defaultInterval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MarkTimeout <= 0 {
		cfg.MarkTimeout = defaultMarkTimeout
	}
	if cfg.BackoffMax < cfg.Interval {
		cfg.BackoffMax = 16 * cfg.Interval
	}
	if logger == nil {
		logger = slog.Default()
	}

	r := &Replicator{
		holder:    uuid.NewString(),
		cfg:       cfg,
		log:       log,
		submitter: submitter,
		logger:    logger,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// State returns the current lifecycle state.
func (r *Replicator) State() State {
	return State(r.state.Load())
}

// LastReport returns the most recent cycle report, if any.
func (r *Replicator) LastReport() (CycleReport, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.last == nil {
		return CycleReport{}, false
	}
	return *r.last, true
}

// Run executes cycles until ctx is canceled.
// The first cycle starts after one interval unless SyncOnStart is set.
// Params: ctx lifecycle context.
// Returns: none.
func (r *Replicator) Run(ctx context.Context) {
	wait := r.cfg.Interval
	if r.cfg.SyncOnStart {
		wait = 0
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()

	r.logger.Info("replicator started",
		slog.String("origin_id", r.cfg.OriginID),
		slog.String("interval", r.cfg.Interval.String()),
		slog.Int("batch_max", r.cfg.BatchMax),
	)
	for {
		select {
		case <-ctx.Done():
			r.logger.Info("replicator stopped")
			return
		case <-timer.C:
			report := r.RunCycle(ctx)
			timer.Reset(r.nextWait(report))
		}
	}
}

// RunCycle performs one replication cycle: drain unsynced records in batches
// of at most BatchMax until the log is empty or a batch fails.
// Params: ctx lifecycle context; cancellation stops draining between batches.
// Returns: cycle report.
func (r *Replicator) RunCycle(ctx context.Context) CycleReport {
	r.cycleMu.Lock()
	defer r.cycleMu.Unlock()

	started := time.Now()
	report := CycleReport{StartedAt: r.now().UTC(), Outcome: OutcomeEmpty}
	r.setState(StateSyncing)

	leased := false
	for ctx.Err() == nil {
		// Renewed before every batch; a cycle that drains many batches keeps it alive.
		held, err := r.log.AcquireSyncLease(ctx, r.holder, r.leaseTTL())
		if err != nil {
			report.Outcome = OutcomeQueryFailed
			report.Error = err.Error()
			r.logger.Error("acquire sync lease failed", slog.String("error", err.Error()))
			break
		}
		if !held {
			report.Outcome = OutcomeBusy
			report.Error = "sync lease held by another replicator"
			r.logger.Info("cycle skipped, another replicator holds the sync lease")
			break
		}
		leased = true

		events, err := r.log.QueryUnsynced(ctx, r.cfg.BatchMax)
		if err != nil {
			report.Outcome = OutcomeQueryFailed
			report.Error = err.Error()
			r.logger.Error("query unsynced failed", slog.String("error", err.Error()))
			break
		}
		if len(events) == 0 {
			break
		}

		done := r.deliver(ctx, events, &report)
		if done || r.cfg.BatchMax <= 0 || len(events) < r.cfg.BatchMax {
			break
		}
	}
	if leased {
		r.releaseLease(ctx)
	}

	report.Elapsed = time.Since(started)
	if report.Outcome == OutcomeUnreachable {
		r.setState(StateBackoff)
	} else {
		r.setState(StateIdle)
	}
	r.finish(report)
	return report
}

// deliver submits one batch and applies the outcome to the log.
// Params: ctx lifecycle context; events batch in id order; report accumulated cycle report.
// Returns: true when the cycle must stop.
func (r *Replicator) deliver(ctx context.Context, events []scan.Event, report *CycleReport) bool {
	batch := wire.NewBatch(events, r.cfg.OriginID)
	report.Batches++
	report.Submitted += batch.Len()

	logger := r.logger.With(slog.String("batch_id", batch.ID), slog.Int("records", batch.Len()))

	// The in-flight submission finishes or times out even during shutdown.
	submitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.cfg.Timeout)
	result, err := r.submitter.SubmitBatch(submitCtx, batch)
	cancel()

	if err != nil {
		var rejected *RejectedError
		if errors.As(err, &rejected) {
			report.Outcome = OutcomeRejected
			report.Error = err.Error()
			logger.Warn("batch rejected", slog.String("error", err.Error()))
			r.recordRejection(ctx, batch.EdgeIDs, rejected, report)
			return true
		}
		report.Outcome = OutcomeUnreachable
		report.Error = err.Error()
		logger.Warn("ingestion service unreachable", slog.String("error", err.Error()))
		return true
	}

	if err := r.markSynced(ctx, batch.EdgeIDs); err != nil {
		report.Outcome = OutcomeMarkFailed
		report.Error = err.Error()
		logger.Error("mark synced failed; batch will be resent", slog.String("error", err.Error()))
		return true
	}
	report.Outcome = OutcomeAccepted
	report.Synced += batch.Len()
	report.Duplicates += result.Duplicates
	logger.Info("batch synced",
		slog.Int("accepted", result.Accepted),
		slog.Int("duplicates", result.Duplicates),
	)
	return false
}

// markSynced runs on a context detached from shutdown so an accepted batch is
// not left unmarked just because the process is stopping.
func (r *Replicator) markSynced(ctx context.Context, ids []int64) error {
	markCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.cfg.MarkTimeout)
	defer cancel()
	return r.log.MarkSynced(markCtx, ids)
}

// leaseTTL covers one submission plus its marking with room to spare.
func (r *Replicator) leaseTTL() time.Duration {
	return 2 * (r.cfg.Timeout + r.cfg.MarkTimeout)
}

func (r *Replicator) releaseLease(ctx context.Context) {
	releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.cfg.MarkTimeout)
	defer cancel()
	if err := r.log.ReleaseSyncLease(releaseCtx, r.holder); err != nil {
		r.logger.Warn("release sync lease failed", slog.String("error", err.Error()))
	}
}

// recordRejection updates rejection bookkeeping and dead-letters when configured.
func (r *Replicator) recordRejection(ctx context.Context, ids []int64, rejected *RejectedError, report *CycleReport) {
	markCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.cfg.MarkTimeout)
	defer cancel()

	quarantined, err := r.log.MarkRejected(markCtx, ids, rejected.Error(), r.cfg.DeadLetterAfter)
	if err != nil {
		r.logger.Error("record rejection failed", slog.String("error", err.Error()))
		return
	}
	if quarantined > 0 {
		report.DeadLettered += quarantined
		r.logger.Warn("records dead-lettered",
			slog.Int("count", quarantined),
			slog.Int("dead_letter_after", r.cfg.DeadLetterAfter),
		)
	}
}

// nextWait returns the delay before the next cycle.
// Params: report last cycle report.
// Returns: interval, or an exponential delay after consecutive unreachable cycles.
func (r *Replicator) nextWait(report CycleReport) time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()

	if report.Outcome != OutcomeUnreachable {
		r.failures = 0
		return r.cfg.Interval
	}
	r.failures++
	if !r.cfg.BackoffEnabled {
		return r.cfg.Interval
	}
	return backoffDelay(r.cfg.Interval, r.cfg.BackoffMax, r.failures)
}

// backoffDelay computes interval * 2^(failures-1) capped at limit.
func backoffDelay(interval, limit time.Duration, failures int) time.Duration {
	delay := interval
	for i := 1; i < failures; i++ {
		if delay >= limit/2 {
			return limit
		}
		delay *= 2
	}
	if delay > limit {
		return limit
	}
	return delay
}

func (r *Replicator) setState(state State) {
	previous := State(r.state.Swap(int32(state)))
	if previous != state && r.observer != nil {
		r.observer.StateChanged(state)
	}
}

// finish stores the report and publishes telemetry.
func (r *Replicator) finish(report CycleReport) {
	r.mu.Lock()
	r.last = &report
	r.mu.Unlock()

	if report.Outcome == OutcomeEmpty {
		r.logger.Debug("no unsynced records")
	}
	if r.observer == nil {
		return
	}
	r.observer.CycleFinished(report)

	statsCtx, cancel := context.WithTimeout(context.Background(), r.cfg.MarkTimeout)
	defer cancel()
	if stats, err := r.log.Stats(statsCtx); err == nil {
		r.observer.Pending(stats.Unsynced)
	}
}
