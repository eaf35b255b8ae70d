package scan

import (
	"strings"
	"time"
)

// Event is one recorded NFC tag scan.
// Params: store-local id, scanned tag, observation time, status label and origin node.
// Returns: the unit of replication between the edge log and the center.
type Event struct {
	ID         int64
	TagID      string
	OccurredAt time.Time
	Status     string
	OriginID   string
	Synced     bool
}

// New builds an unsaved event stamped at now and validates required fields.
// Params: tagID scanned object id; status semantic label; now observation time.
// Returns: event with normalized fields or *ValidationError.
func New(tagID, status string, now time.Time) (Event, error) {
	event := Event{
		TagID:      strings.TrimSpace(tagID),
		Status:     strings.TrimSpace(status),
		OccurredAt: now.UTC(),
	}
	if err := event.Validate(); err != nil {
		return Event{}, err
	}
	return event, nil
}

// Validate checks fields every tier requires.
// Params: none.
// Returns: *ValidationError naming the first missing field.
func (e Event) Validate() error {
	if strings.TrimSpace(e.TagID) == "" {
		return &ValidationError{Field: "tag_id", Reason: "is required"}
	}
	if strings.TrimSpace(e.Status) == "" {
		return &ValidationError{Field: "status", Reason: "is required"}
	}
	return nil
}

// IDs returns store-local ids of events in input order.
// Params: events slice.
// Returns: id slice.
func IDs(events []Event) []int64 {
	ids := make([]int64, 0, len(events))
	for _, event := range events {
		ids = append(ids, event.ID)
	}
	return ids
}
