package ingest

import (
	"context"
	"sync"

	"github.com/Ashennwitch/mbg-tracker/internal/wire"
)

// MemoryStore keeps rows in process memory.
type MemoryStore struct {
	mu   sync.Mutex
	rows []Row
	keys map[string]struct{}
	// FailInsert makes every InsertBatch fail; used to simulate an unavailable store.
	FailInsert error
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{keys: map[string]struct{}{}}
}

// InsertBatch appends rows atomically.
func (s *MemoryStore) InsertBatch(ctx context.Context, rows []Row, dedupe bool) (wire.Result, error) {
	if err := ctx.Err(); err != nil {
		return wire.Result{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailInsert != nil {
		return wire.Result{}, s.FailInsert
	}

	var (
		result  wire.Result
		pending = make([]Row, 0, len(rows))
		seen    = map[string]struct{}{}
	)
	for _, row := range rows {
		if dedupe && row.EventKey != "" {
			_, stored := s.keys[row.EventKey]
			_, inBatch := seen[row.EventKey]
			if stored || inBatch {
				result.Duplicates++
				continue
			}
			seen[row.EventKey] = struct{}{}
		}
		pending = append(pending, row)
	}
	for _, row := range pending {
		s.rows = append(s.rows, row)
		if row.EventKey != "" {
			s.keys[row.EventKey] = struct{}{}
		}
	}
	result.Accepted = len(pending)
	return result, nil
}

// Summary aggregates stored rows.
func (s *MemoryStore) Summary(ctx context.Context) (Summary, error) {
	if err := ctx.Err(); err != nil {
		return Summary{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	summary := Summary{TotalScansReceived: int64(len(s.rows)), ByStatus: map[string]int64{}}
	origins := map[string]struct{}{}
	for _, row := range s.rows {
		origins[row.OriginID] = struct{}{}
		summary.ByStatus[row.Status]++
	}
	summary.ActiveGateways = int64(len(origins))
	return summary, nil
}

// Rows returns a copy of stored rows.
func (s *MemoryStore) Rows() []Row {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Row(nil), s.rows...)
}

// Close is a no-op.
func (s *MemoryStore) Close() error {
	return nil
}
