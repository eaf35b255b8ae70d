package wire

import (
	"github.com/google/uuid"

	"github.com/Ashennwitch/mbg-tracker/internal/scan"
)

// BatchIDHeader carries the batch id on HTTP submissions.
const BatchIDHeader = "X-Batch-ID"

// Batch is one submission: records ordered by edge id, at most batch_max of them.
type Batch struct {
	ID      string
	Records []Record
	// EdgeIDs are local ids parallel to Records; never transmitted.
	EdgeIDs []int64
}

// NewBatch tags events with originID and assigns a fresh batch id.
func NewBatch(events []scan.Event, originID string) Batch {
	batch := Batch{
		ID:      uuid.NewString(),
		Records: make([]Record, 0, len(events)),
		EdgeIDs: make([]int64, 0, len(events)),
	}
	for _, event := range events {
		batch.Records = append(batch.Records, FromEvent(event, originID))
		batch.EdgeIDs = append(batch.EdgeIDs, event.ID)
	}
	return batch
}

// Len returns the number of records.
func (b Batch) Len() int {
	return len(b.Records)
}

// Result is the ingestion service acknowledgement.
type Result struct {
	Accepted   int `json:"accepted"`
	Duplicates int `json:"duplicates"`
}
