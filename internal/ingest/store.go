package ingest

import (
	"context"
	"time"

	"github.com/Ashennwitch/mbg-tracker/internal/wire"
)

// Row is one validated record ready to persist.
type Row struct {
	TagID      string
	OccurredAt time.Time
	Status     string
	OriginID   string
	EventKey   string
	BatchID    string
}

// Summary is the dashboard aggregate over all received scans.
type Summary struct {
	TotalScansReceived int64            `json:"total_scans_received"`
	ActiveGateways     int64            `json:"active_gateways"`
	ByStatus           map[string]int64 `json:"by_status"`
}

// Store persists ingested rows.
type Store interface {
	// InsertBatch stores all rows in one transaction or none of them.
	// With dedupe, rows whose event_key is already stored are skipped and counted as duplicates.
	InsertBatch(ctx context.Context, rows []Row, dedupe bool) (wire.Result, error)
	Summary(ctx context.Context) (Summary, error)
	Close() error
}
