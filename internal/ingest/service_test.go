package ingest

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ashennwitch/mbg-tracker/internal/scan"
	"github.com/Ashennwitch/mbg-tracker/internal/wire"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestService(t *testing.T, store Store, cfg Config) *Service {
	t.Helper()
	service, err := NewService(store, cfg, discardLogger(), nil)
	require.NoError(t, err)
	return service
}

func sampleBatch(origin string, tags ...string) wire.Batch {
	events := make([]scan.Event, 0, len(tags))
	for i, tag := range tags {
		events = append(events, scan.Event{
			ID:         int64(i + 1),
			TagID:      tag,
			Status:     scan.StatusDispatched,
			OccurredAt: time.Date(2026, time.March, 1, 6, 0, i, 0, time.UTC),
		})
	}
	return wire.NewBatch(events, origin)
}

func TestService_SubmitBatchStoresAll(t *testing.T) {
	store := NewMemoryStore()
	service := newTestService(t, store, Config{})

	result, err := service.SubmitBatch(context.Background(), "", sampleBatch("school-a", "T1", "T2", "T3"))
	require.NoError(t, err)
	assert.Equal(t, wire.Result{Accepted: 3}, result)

	rows := store.Rows()
	require.Len(t, rows, 3)
	assert.Equal(t, "school-a", rows[0].OriginID)
	assert.Equal(t, time.Date(2026, time.March, 1, 6, 0, 0, 0, time.UTC), rows[0].OccurredAt)
	assert.NotEmpty(t, rows[0].EventKey)
	assert.NotEmpty(t, rows[0].BatchID)
}

func TestService_InvalidRecordRejectsWholeBatch(t *testing.T) {
	store := NewMemoryStore()
	service := newTestService(t, store, Config{})

	batch := sampleBatch("school-a", "T1", "T2")
	batch.Records[1].TagID = ""
	_, err := service.SubmitBatch(context.Background(), "", batch)
	require.ErrorIs(t, err, ErrInvalidBatch)
	assert.ErrorIs(t, err, scan.ErrValidation)
	assert.Empty(t, store.Rows())
}

func TestService_StatusAllowlist(t *testing.T) {
	service := newTestService(t, NewMemoryStore(), Config{StatusAllow: []string{"received"}})

	_, err := service.SubmitBatch(context.Background(), "", sampleBatch("school-a", "T1"))
	assert.ErrorIs(t, err, ErrInvalidBatch)
}

func TestService_MaxBatch(t *testing.T) {
	service := newTestService(t, NewMemoryStore(), Config{MaxBatch: 2})

	_, err := service.SubmitBatch(context.Background(), "", sampleBatch("g", "A", "B", "C"))
	assert.ErrorIs(t, err, ErrInvalidBatch)
}

func TestService_PrincipalMustMatchOrigin(t *testing.T) {
	service := newTestService(t, NewMemoryStore(), Config{})

	_, err := service.SubmitBatch(context.Background(), "school-b", sampleBatch("school-a", "T1"))
	assert.ErrorIs(t, err, ErrForbiddenOrigin)

	_, err = service.SubmitBatch(context.Background(), "school-a", sampleBatch("school-a", "T1"))
	assert.NoError(t, err)
}

func TestService_RateLimitPerOrigin(t *testing.T) {
	service := newTestService(t, NewMemoryStore(), Config{RatePerSecond: 0.001, RateBurst: 1})

	_, err := service.SubmitBatch(context.Background(), "", sampleBatch("school-a", "T1"))
	require.NoError(t, err)
	_, err = service.SubmitBatch(context.Background(), "", sampleBatch("school-a", "T2"))
	assert.ErrorIs(t, err, ErrRateLimited)

	// Other origins have their own bucket.
	_, err = service.SubmitBatch(context.Background(), "", sampleBatch("school-b", "T3"))
	assert.NoError(t, err)
}

func TestService_StoreFailureIsUnavailable(t *testing.T) {
	store := NewMemoryStore()
	store.FailInsert = errors.New("connection reset")
	service := newTestService(t, store, Config{})

	_, err := service.SubmitBatch(context.Background(), "", sampleBatch("g", "T1"))
	assert.ErrorIs(t, err, ErrStoreUnavailable)
}

func TestService_DuplicatesKeptByDefault(t *testing.T) {
	store := NewMemoryStore()
	service := newTestService(t, store, Config{})
	batch := sampleBatch("school-a", "T1")

	_, err := service.SubmitBatch(context.Background(), "", batch)
	require.NoError(t, err)
	_, err = service.SubmitBatch(context.Background(), "", batch)
	require.NoError(t, err)

	assert.Len(t, store.Rows(), 2)
}

func TestService_DedupeByEventKey(t *testing.T) {
	store := NewMemoryStore()
	service := newTestService(t, store, Config{Dedupe: true})
	batch := sampleBatch("school-a", "T1", "T2")

	first, err := service.SubmitBatch(context.Background(), "", batch)
	require.NoError(t, err)
	assert.Equal(t, wire.Result{Accepted: 2}, first)

	second, err := service.SubmitBatch(context.Background(), "", batch)
	require.NoError(t, err)
	assert.Equal(t, wire.Result{Accepted: 0, Duplicates: 2}, second)
	assert.Len(t, store.Rows(), 2)
}

func TestService_EmptyBatchAccepted(t *testing.T) {
	service := newTestService(t, NewMemoryStore(), Config{})
	result, err := service.SubmitBatch(context.Background(), "", wire.Batch{ID: "b"})
	require.NoError(t, err)
	assert.Zero(t, result.Accepted)
}

func TestService_Summary(t *testing.T) {
	service := newTestService(t, NewMemoryStore(), Config{})
	ctx := context.Background()
	_, err := service.SubmitBatch(ctx, "", sampleBatch("school-a", "T1", "T2"))
	require.NoError(t, err)
	_, err = service.SubmitBatch(ctx, "", sampleBatch("school-b", "T3"))
	require.NoError(t, err)

	summary, err := service.Summary(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), summary.TotalScansReceived)
	assert.Equal(t, int64(2), summary.ActiveGateways)
	assert.Equal(t, int64(3), summary.ByStatus[scan.StatusDispatched])
}

func TestNewService_Validation(t *testing.T) {
	_, err := NewService(nil, Config{}, nil, nil)
	assert.Error(t, err)
	_, err = NewService(NewMemoryStore(), Config{MaxBatch: -1}, nil, nil)
	assert.Error(t, err)
	_, err = NewService(NewMemoryStore(), Config{StatusAllow: []string{" "}}, nil, nil)
	assert.Error(t, err)
}
