// Package gateway is the edge node's local surface: the scan write path and
// the operator endpoints around the replicator.
package gateway

import (
	"context"
	"fmt"
	"time"

	"github.com/Ashennwitch/mbg-tracker/internal/eventlog"
	"github.com/Ashennwitch/mbg-tracker/internal/scan"
)

// Recorder is the write path: it validates a scan and appends it unsynced.
// It never waits on the network.
type Recorder struct {
	log    eventlog.Log
	policy scan.StatusPolicy
	now    func() time.Time
}

// NewRecorder builds the write path over log.
// Params: log shared event log; policy status allowlist; now optional clock.
// Returns: recorder or error when log is nil.
func NewRecorder(log eventlog.Log, policy scan.StatusPolicy, now func() time.Time) (*Recorder, error) {
	if log == nil {
		return nil, fmt.Errorf("recorder: event log is nil")
	}
	if now == nil {
		now = time.Now
	}
	return &Recorder{log: log, policy: policy, now: now}, nil
}

// Record stamps the scan with the current time and stores it.
// Params: ctx request context; tagID scanned tag; status semantic label.
// Returns: stored event, *scan.ValidationError, or a scan.ErrStore failure.
func (r *Recorder) Record(ctx context.Context, tagID, status string) (scan.Event, error) {
	event, err := scan.New(tagID, status, r.now())
	if err != nil {
		return scan.Event{}, err
	}
	if err := r.policy.Check(event.Status); err != nil {
		return scan.Event{}, err
	}
	return r.log.Append(ctx, event)
}
