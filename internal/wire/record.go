// Package wire defines the records exchanged between an edge gateway and the
// ingestion service, with JSON and protobuf Struct encodings.
package wire

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/Ashennwitch/mbg-tracker/internal/scan"
)

// Record is one scan event in transit.
// occurred_at is RFC 3339 with nanoseconds in UTC; synced never crosses the wire.
type Record struct {
	TagID      string `json:"tag_id"`
	OccurredAt string `json:"occurred_at"`
	Status     string `json:"status"`
	OriginID   string `json:"origin_id"`
	EventKey   string `json:"event_key,omitempty"`
}

// UnmarshalJSON accepts both current and legacy field names.
func (r *Record) UnmarshalJSON(data []byte) error {
	// plain drops the method set so decoding does not recurse.
	type plain Record
	var raw struct {
		plain
		NFCTagID   string `json:"nfc_tag_id"`
		Timestamp  string `json:"timestamp"`
		StatusScan string `json:"status_scan"`
		GatewayID  string `json:"gateway_id"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*r = Record(raw.plain)
	r.TagID = firstNonEmpty(r.TagID, raw.NFCTagID)
	r.OccurredAt = firstNonEmpty(r.OccurredAt, raw.Timestamp)
	r.Status = firstNonEmpty(r.Status, raw.StatusScan)
	r.OriginID = firstNonEmpty(r.OriginID, raw.GatewayID)
	return nil
}

// FromEvent converts a local event into a transmitted record.
func FromEvent(event scan.Event, originID string) Record {
	return Record{
		TagID:      event.TagID,
		OccurredAt: FormatTimestamp(event.OccurredAt),
		Status:     event.Status,
		OriginID:   originID,
		EventKey:   scan.EventKey(originID, event.ID),
	}
}

// Event validates the record and converts it into a center-side event.
func (r Record) Event() (scan.Event, error) {
	event := scan.Event{
		TagID:    strings.TrimSpace(r.TagID),
		Status:   strings.TrimSpace(r.Status),
		OriginID: strings.TrimSpace(r.OriginID),
	}
	if err := event.Validate(); err != nil {
		return scan.Event{}, err
	}
	if event.OriginID == "" {
		return scan.Event{}, &scan.ValidationError{Field: "origin_id", Reason: "is required"}
	}
	at, err := ParseTimestamp(r.OccurredAt)
	if err != nil {
		return scan.Event{}, &scan.ValidationError{Field: "occurred_at", Reason: err.Error()}
	}
	event.OccurredAt = at
	return event, nil
}

// FormatTimestamp renders t in UTC with nanosecond precision.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// naiveLayouts are zone-less ISO forms, read as UTC.
var naiveLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// ParseTimestamp parses RFC 3339 or a zone-less ISO timestamp as UTC.
func ParseTimestamp(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, fmt.Errorf("is required")
	}
	if parsed, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return parsed.UTC(), nil
	}
	for _, layout := range naiveLayouts {
		if parsed, err := time.ParseInLocation(layout, value, time.UTC); err == nil {
			return parsed, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid timestamp %q", value)
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}
