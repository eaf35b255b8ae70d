package eventlog

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/Ashennwitch/mbg-tracker/internal/scan"
)

type memoryRecord struct {
	event        scan.Event
	rejectCount  int
	lastError    string
	deadLettered bool
}

// MemoryLog is an in-process Log used by tests and ephemeral gateways.
// Contents are lost on restart.
type MemoryLog struct {
	mu      sync.Mutex
	nextID  int64
	records []*memoryRecord
	now     func() time.Time
	closed  bool

	leaseHolder string
	leaseUntil  time.Time
}

// NewMemoryLog returns an empty log. now may be nil.
func NewMemoryLog(now func() time.Time) *MemoryLog {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &MemoryLog{now: now}
}

// Append stores a new unsynced record.
func (l *MemoryLog) Append(ctx context.Context, event scan.Event) (scan.Event, error) {
	if err := ctx.Err(); err != nil {
		return scan.Event{}, scan.StoreError("append", err)
	}
	prepared, err := prepareAppend(event, l.now)
	if err != nil {
		return scan.Event{}, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return scan.Event{}, scan.StoreError("append", errLogClosed)
	}
	l.nextID++
	prepared.ID = l.nextID
	l.records = append(l.records, &memoryRecord{event: prepared})
	return prepared, nil
}

// QueryUnsynced returns pending records by ascending id.
func (l *MemoryLog) QueryUnsynced(ctx context.Context, limit int) ([]scan.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, scan.StoreError("query unsynced", err)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil, scan.StoreError("query unsynced", errLogClosed)
	}

	var out []scan.Event
	for _, record := range l.records {
		if record.event.Synced || record.deadLettered {
			continue
		}
		out = append(out, record.event)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// MarkSynced flips ids to synced. Unknown ids are ignored.
func (l *MemoryLog) MarkSynced(ctx context.Context, ids []int64) error {
	if err := ctx.Err(); err != nil {
		return scan.StoreError("mark synced", err)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return scan.StoreError("mark synced", errLogClosed)
	}
	for _, id := range ids {
		if record := l.find(id); record != nil {
			record.event.Synced = true
		}
	}
	return nil
}

// MarkRejected counts a rejection for every unsynced id.
func (l *MemoryLog) MarkRejected(ctx context.Context, ids []int64, reason string, deadLetterAfter int) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, scan.StoreError("mark rejected", err)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return 0, scan.StoreError("mark rejected", errLogClosed)
	}

	quarantined := 0
	for _, id := range ids {
		record := l.find(id)
		if record == nil || record.event.Synced {
			continue
		}
		record.rejectCount++
		record.lastError = reason
		if deadLetterAfter > 0 && !record.deadLettered && record.rejectCount >= deadLetterAfter {
			record.deadLettered = true
			quarantined++
		}
	}
	return quarantined, nil
}

// Stats returns record counters.
func (l *MemoryLog) Stats(ctx context.Context) (Stats, error) {
	if err := ctx.Err(); err != nil {
		return Stats{}, scan.StoreError("stats", err)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return Stats{}, scan.StoreError("stats", errLogClosed)
	}

	stats := Stats{Total: int64(len(l.records)), LastAppendedID: l.nextID}
	for _, record := range l.records {
		switch {
		case record.event.Synced:
			stats.Synced++
		case record.deadLettered:
			stats.DeadLettered++
		default:
			stats.Unsynced++
			at := record.event.OccurredAt
			if stats.OldestUnsynced == nil || at.Before(*stats.OldestUnsynced) {
				stats.OldestUnsynced = &at
			}
		}
	}
	return stats, nil
}

// DeadLetters lists quarantined records by id.
func (l *MemoryLog) DeadLetters(ctx context.Context, limit int) ([]DeadLetter, error) {
	if err := ctx.Err(); err != nil {
		return nil, scan.StoreError("dead letters", err)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil, scan.StoreError("dead letters", errLogClosed)
	}

	var out []DeadLetter
	for _, record := range l.records {
		if record.event.Synced || !record.deadLettered {
			continue
		}
		out = append(out, DeadLetter{Event: record.event, RejectCount: record.rejectCount, LastError: record.lastError})
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// Requeue clears quarantine for ids, or for every record when ids is empty.
func (l *MemoryLog) Requeue(ctx context.Context, ids []int64) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, scan.StoreError("requeue", err)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return 0, scan.StoreError("requeue", errLogClosed)
	}

	requeue := func(record *memoryRecord) bool {
		if record == nil || record.event.Synced || !record.deadLettered {
			return false
		}
		record.deadLettered = false
		record.rejectCount = 0
		return true
	}

	count := 0
	if len(ids) == 0 {
		for _, record := range l.records {
			if requeue(record) {
				count++
			}
		}
		return count, nil
	}
	for _, id := range ids {
		if requeue(l.find(id)) {
			count++
		}
	}
	return count, nil
}

// AcquireSyncLease claims or renews the lease for holder.
func (l *MemoryLog) AcquireSyncLease(ctx context.Context, holder string, ttl time.Duration) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, scan.StoreError("acquire sync lease", err)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return false, scan.StoreError("acquire sync lease", errLogClosed)
	}

	now := l.now()
	if l.leaseHolder != "" && l.leaseHolder != holder && now.Before(l.leaseUntil) {
		return false, nil
	}
	l.leaseHolder = holder
	l.leaseUntil = now.Add(ttl)
	return true, nil
}

// ReleaseSyncLease drops the lease when holder owns it.
func (l *MemoryLog) ReleaseSyncLease(ctx context.Context, holder string) error {
	if err := ctx.Err(); err != nil {
		return scan.StoreError("release sync lease", err)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return scan.StoreError("release sync lease", errLogClosed)
	}
	if l.leaseHolder == holder {
		l.leaseHolder = ""
		l.leaseUntil = time.Time{}
	}
	return nil
}

// Close marks the log closed; later calls fail with ErrStore.
func (l *MemoryLog) Close() error {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()
	return nil
}

// find locates a record by id; records are kept in ascending id order.
func (l *MemoryLog) find(id int64) *memoryRecord {
	i := sort.Search(len(l.records), func(i int) bool { return l.records[i].event.ID >= id })
	if i < len(l.records) && l.records[i].event.ID == id {
		return l.records[i]
	}
	return nil
}
