// Package eventlog is the edge node's durable, append-only log of scan events.
//
// Every record carries a local synced flag. The write path appends, the replicator
// reads unsynced records in id order and flips the flag once the center accepted
// them. Records are never deleted here.
package eventlog

import (
	"context"
	"errors"
	"time"

	"github.com/Ashennwitch/mbg-tracker/internal/scan"
)

var errLogClosed = errors.New("event log closed")

// Log is the contract shared by the write path and the replicator.
type Log interface {
	// Append stores a new unsynced record and assigns its id.
	Append(ctx context.Context, event scan.Event) (scan.Event, error)
	// QueryUnsynced returns unsynced, non dead-lettered records by ascending id.
	// limit <= 0 returns all of them.
	QueryUnsynced(ctx context.Context, limit int) ([]scan.Event, error)
	// MarkSynced flips exactly ids to synced, all-or-nothing.
	MarkSynced(ctx context.Context, ids []int64) error
	// MarkRejected records one rejection for ids and quarantines records whose
	// rejection count reaches deadLetterAfter (0 disables quarantine).
	MarkRejected(ctx context.Context, ids []int64, reason string, deadLetterAfter int) (int, error)
	Stats(ctx context.Context) (Stats, error)
	DeadLetters(ctx context.Context, limit int) ([]DeadLetter, error)
	// Requeue returns dead-lettered records to the unsynced set; empty ids means all.
	Requeue(ctx context.Context, ids []int64) (int, error)
	// AcquireSyncLease claims or renews the replication lease for holder until now+ttl.
	// It reports false while another holder's lease is unexpired. The lease lives
	// in the log itself so replicators in different processes exclude each other.
	AcquireSyncLease(ctx context.Context, holder string, ttl time.Duration) (bool, error)
	// ReleaseSyncLease drops the lease when holder owns it.
	ReleaseSyncLease(ctx context.Context, holder string) error
	Close() error
}

// Stats summarizes log contents.
type Stats struct {
	Total          int64      `json:"total"`
	Unsynced       int64      `json:"unsynced"`
	Synced         int64      `json:"synced"`
	DeadLettered   int64      `json:"dead_lettered"`
	OldestUnsynced *time.Time `json:"oldest_unsynced,omitempty"`
	LastAppendedID int64      `json:"last_appended_id"`
}

// DeadLetter is a quarantined record with its rejection history.
type DeadLetter struct {
	Event       scan.Event `json:"event"`
	RejectCount int        `json:"reject_count"`
	LastError   string     `json:"last_error"`
}

// prepareAppend validates and stamps an event before it is stored.
func prepareAppend(event scan.Event, now func() time.Time) (scan.Event, error) {
	if err := event.Validate(); err != nil {
		return scan.Event{}, err
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = now()
	}
	event.OccurredAt = event.OccurredAt.UTC()
	event.ID = 0
	event.OriginID = ""
	event.Synced = false
	return event, nil
}
