package ingest

import (
	"context"
	"errors"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ashennwitch/mbg-tracker/internal/wire"
)

func sampleRows(keys ...string) []Row {
	rows := make([]Row, 0, len(keys))
	for i, key := range keys {
		rows = append(rows, Row{
			TagID:      "T",
			OccurredAt: time.Date(2026, time.March, 1, 6, 0, i, 0, time.UTC),
			Status:     "received",
			OriginID:   "school-a",
			EventKey:   key,
			BatchID:    "batch-1",
		})
	}
	return rows
}

const (
	pgInsert         = "INSERT INTO scan_events (tag_id, occurred_at, status, origin_id, event_key, batch_id) VALUES ($1, $2, $3, $4, $5, $6)"
	pgInsertIfAbsent = "INSERT INTO scan_events (tag_id, occurred_at, status, origin_id, event_key, batch_id) SELECT $1::text, $2::timestamptz, $3::text, $4::text, $5::text, $6::text WHERE NOT EXISTS (SELECT 1 FROM scan_events WHERE event_key = $7)"
)

func TestSQLStore_PostgresInsertBatch(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store, err := NewSQLStore(db, DriverPostgres, "")
	require.NoError(t, err)

	mock.ExpectBegin()
	prepared := mock.ExpectPrepare(regexp.QuoteMeta(pgInsert))
	prepared.ExpectExec().
		WithArgs("T", sqlmock.AnyArg(), "received", "school-a", "k1", "batch-1").
		WillReturnResult(sqlmock.NewResult(1, 1))
	prepared.ExpectExec().
		WithArgs("T", sqlmock.AnyArg(), "received", "school-a", "k2", "batch-1").
		WillReturnResult(sqlmock.NewResult(2, 1))
	mock.ExpectCommit()

	result, err := store.InsertBatch(context.Background(), sampleRows("k1", "k2"), false)
	require.NoError(t, err)
	assert.Equal(t, wire.Result{Accepted: 2}, result)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStore_PostgresInsertRollsBackOnFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store, err := NewSQLStore(db, DriverPostgres, "")
	require.NoError(t, err)

	mock.ExpectBegin()
	prepared := mock.ExpectPrepare(regexp.QuoteMeta(pgInsert))
	prepared.ExpectExec().WillReturnResult(sqlmock.NewResult(1, 1))
	prepared.ExpectExec().WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()

	_, err = store.InsertBatch(context.Background(), sampleRows("k1", "k2"), false)
	require.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStore_PostgresDedupe(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store, err := NewSQLStore(db, DriverPostgres, "")
	require.NoError(t, err)

	mock.ExpectBegin()
	mock.ExpectPrepare(regexp.QuoteMeta(pgInsert))
	dedupe := mock.ExpectPrepare(regexp.QuoteMeta(pgInsertIfAbsent))
	dedupe.ExpectExec().
		WithArgs("T", sqlmock.AnyArg(), "received", "school-a", "k1", "batch-1", "k1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	dedupe.ExpectExec().
		WithArgs("T", sqlmock.AnyArg(), "received", "school-a", "k2", "batch-1", "k2").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	result, err := store.InsertBatch(context.Background(), sampleRows("k1", "k2"), true)
	require.NoError(t, err)
	assert.Equal(t, wire.Result{Accepted: 1, Duplicates: 1}, result)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStore_PostgresSummary(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store, err := NewSQLStore(db, DriverPostgres, "")
	require.NoError(t, err)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*), COUNT(DISTINCT origin_id) FROM scan_events")).
		WillReturnRows(sqlmock.NewRows([]string{"total", "gateways"}).AddRow(5, 2))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT status, COUNT(*) FROM scan_events GROUP BY status ORDER BY status")).
		WillReturnRows(sqlmock.NewRows([]string{"status", "count"}).
			AddRow("dispatched", 3).
			AddRow("received", 2))

	summary, err := store.Summary(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(5), summary.TotalScansReceived)
	assert.Equal(t, int64(2), summary.ActiveGateways)
	assert.Equal(t, map[string]int64{"dispatched": 3, "received": 2}, summary.ByStatus)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStore_SQLiteEndToEnd(t *testing.T) {
	ctx := context.Background()
	store, err := OpenSQLStore(ctx, DriverSQLite, filepath.Join(t.TempDir(), "center.db"))
	require.NoError(t, err)
	defer store.Close()

	result, err := store.InsertBatch(ctx, sampleRows("k1", "k2"), false)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Accepted)

	// Redelivery without dedupe stores the rows again.
	result, err = store.InsertBatch(ctx, sampleRows("k1"), false)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Accepted)

	// With dedupe both known keys are skipped and the new one is stored.
	result, err = store.InsertBatch(ctx, sampleRows("k1", "k2", "k3"), true)
	require.NoError(t, err)
	assert.Equal(t, wire.Result{Accepted: 1, Duplicates: 2}, result)

	// Rows without a key are never deduplicated.
	result, err = store.InsertBatch(ctx, sampleRows("", ""), true)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Accepted)

	summary, err := store.Summary(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(6), summary.TotalScansReceived)
	assert.Equal(t, int64(1), summary.ActiveGateways)
	assert.Equal(t, int64(6), summary.ByStatus["received"])
}

func TestSQLStore_SQLiteSchemaIdempotent(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "center.db")
	for i := 0; i < 2; i++ {
		store, err := OpenSQLStore(ctx, DriverSQLite, path)
		require.NoError(t, err, "open %d", i)
		require.NoError(t, store.Close())
	}
}

func TestOpenSQLStore_Validation(t *testing.T) {
	_, err := OpenSQLStore(context.Background(), "mysql", "dsn")
	assert.Error(t, err)
	_, err = OpenSQLStore(context.Background(), DriverSQLite, " ")
	assert.Error(t, err)
	_, err = NewSQLStore(nil, DriverPostgres, "")
	assert.Error(t, err)
}
