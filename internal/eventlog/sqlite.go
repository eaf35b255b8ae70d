package eventlog

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	_ "modernc.org/sqlite"

	"github.com/Ashennwitch/mbg-tracker/internal/scan"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 0 - scan_events with synced flag
// 1 - rejection bookkeeping and dead-letter columns
// 2 - sync_lease row shared by replicators on the same file
const currentSchemaVersion = 2

// SQLite driver names accepted by OpenSQLite.
const (
	// DriverPureGo is modernc.org/sqlite, no cgo required on the edge device.
	DriverPureGo = "sqlite"
	// DriverCGO is github.com/mattn/go-sqlite3.
	DriverCGO = "sqlite3"
)

// storedTimeLayout is fixed width so TEXT comparison follows time order.
const storedTimeLayout = "2006-01-02T15:04:05.000000000Z"

// idChunkSize keeps IN lists below the SQLite host parameter limit.
const idChunkSize = 500

// SQLiteLog stores scan events in a local SQLite file.
// Uses WAL mode and a single connection so appends and marks are serialized.
type SQLiteLog struct {
	db  *sql.DB
	now func() time.Time
}

// SQLiteOption configures SQLiteLog.
type SQLiteOption func(*SQLiteLog)

// WithClock overrides the time source used for default occurred_at and synced_at.
func WithClock(now func() time.Time) SQLiteOption {
	return func(l *SQLiteLog) {
		if now != nil {
			l.now = now
		}
	}
}

// OpenSQLite creates or opens the log database at path.
// Applies pragmas and migrations; safe to call on an existing file.
func OpenSQLite(path, driver string, opts ...SQLiteOption) (*SQLiteLog, error) {
	driver = strings.TrimSpace(driver)
	if driver == "" {
		driver = DriverPureGo
	}
	if driver != DriverPureGo && driver != DriverCGO {
		return nil, fmt.Errorf("open event log: unsupported driver %q", driver)
	}
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, scan.StoreError("create event log dir", err)
		}
	}

	db, err := sql.Open(driver, path)
	if err != nil {
		return nil, scan.StoreError("open event log", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, scan.StoreError("connect event log", err)
	}

	// SQLite has one writer; one connection also makes every statement atomic
	// with respect to the others.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		_ = db.Close()
		return nil, scan.StoreError("apply pragmas", err)
	}
	if err := applySchema(db); err != nil {
		_ = db.Close()
		return nil, scan.StoreError("apply schema", err)
	}

	log := &SQLiteLog{db: db, now: func() time.Time { return time.Now().UTC() }}
	for _, opt := range opts {
		opt(log)
	}
	return log, nil
}

// Close closes the database.
func (l *SQLiteLog) Close() error {
	if l == nil || l.db == nil {
		return nil
	}
	return l.db.Close()
}

// Append inserts a new unsynced record.
func (l *SQLiteLog) Append(ctx context.Context, event scan.Event) (scan.Event, error) {
	prepared, err := prepareAppend(event, l.now)
	if err != nil {
		return scan.Event{}, err
	}

	result, err := l.db.ExecContext(ctx, `
		INSERT INTO scan_events (tag_id, occurred_at, status, synced)
		VALUES (?, ?, ?, 0)
	`, prepared.TagID, formatTime(prepared.OccurredAt), prepared.Status)
	if err != nil {
		return scan.Event{}, scan.StoreError("append", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return scan.Event{}, scan.StoreError("append", err)
	}
	prepared.ID = id
	return prepared, nil
}

// QueryUnsynced returns pending records ordered by id.
func (l *SQLiteLog) QueryUnsynced(ctx context.Context, limit int) ([]scan.Event, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := l.db.QueryContext(ctx, `
		SELECT id, tag_id, occurred_at, status
		FROM scan_events
		WHERE synced = 0 AND dead_lettered = 0
		ORDER BY id ASC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, scan.StoreError("query unsynced", err)
	}
	defer rows.Close()

	var events []scan.Event
	for rows.Next() {
		var (
			event      scan.Event
			occurredAt string
		)
		if err := rows.Scan(&event.ID, &event.TagID, &occurredAt, &event.Status); err != nil {
			return nil, scan.StoreError("query unsynced", err)
		}
		event.OccurredAt, err = parseTime(occurredAt)
		if err != nil {
			return nil, scan.StoreError("query unsynced", fmt.Errorf("record %d: %w", event.ID, err))
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, scan.StoreError("query unsynced", err)
	}
	return events, nil
}

// MarkSynced flips the given ids in one transaction.
func (l *SQLiteLog) MarkSynced(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	syncedAt := formatTime(l.now())
	err := l.inTx(ctx, func(tx *sql.Tx) error {
		return forEachChunk(ids, func(chunk []int64) error {
			args := append([]any{syncedAt}, int64Args(chunk)...)
			_, err := tx.ExecContext(ctx,
				`UPDATE scan_events SET synced = 1, synced_at = ? WHERE id IN (`+placeholders(len(chunk))+`)`,
				args...,
			)
			return err
		})
	})
	return scan.StoreError("mark synced", err)
}

// MarkRejected counts one rejection for every still unsynced id.
func (l *SQLiteLog) MarkRejected(ctx context.Context, ids []int64, reason string, deadLetterAfter int) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	quarantined := 0
	now := formatTime(l.now())
	err := l.inTx(ctx, func(tx *sql.Tx) error {
		return forEachChunk(ids, func(chunk []int64) error {
			in := placeholders(len(chunk))
			args := append([]any{reason}, int64Args(chunk)...)
			if _, err := tx.ExecContext(ctx,
				`UPDATE scan_events SET reject_count = reject_count + 1, last_error = ?
				 WHERE synced = 0 AND id IN (`+in+`)`,
				args...,
			); err != nil {
				return err
			}
			if deadLetterAfter <= 0 {
				return nil
			}

			args = append([]any{now, deadLetterAfter}, int64Args(chunk)...)
			result, err := tx.ExecContext(ctx,
				`UPDATE scan_events SET dead_lettered = 1, dead_lettered_at = ?
				 WHERE synced = 0 AND dead_lettered = 0 AND reject_count >= ? AND id IN (`+in+`)`,
				args...,
			)
			if err != nil {
				return err
			}
			affected, err := result.RowsAffected()
			if err != nil {
				return err
			}
			quarantined += int(affected)
			return nil
		})
	})
	if err != nil {
		return 0, scan.StoreError("mark rejected", err)
	}
	return quarantined, nil
}

// Stats returns record counters.
func (l *SQLiteLog) Stats(ctx context.Context) (Stats, error) {
	var (
		stats  Stats
		oldest sql.NullString
	)
	err := l.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN synced = 0 AND dead_lettered = 0 THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN synced = 1 THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN synced = 0 AND dead_lettered = 1 THEN 1 ELSE 0 END), 0),
			MIN(CASE WHEN synced = 0 AND dead_lettered = 0 THEN occurred_at END),
			COALESCE(MAX(id), 0)
		FROM scan_events
	`).Scan(&stats.Total, &stats.Unsynced, &stats.Synced, &stats.DeadLettered, &oldest, &stats.LastAppendedID)
	if err != nil {
		return Stats{}, scan.StoreError("stats", err)
	}
	if oldest.Valid {
		at, err := parseTime(oldest.String)
		if err != nil {
			return Stats{}, scan.StoreError("stats", err)
		}
		stats.OldestUnsynced = &at
	}
	return stats, nil
}

// DeadLetters lists quarantined records by id.
func (l *SQLiteLog) DeadLetters(ctx context.Context, limit int) ([]DeadLetter, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := l.db.QueryContext(ctx, `
		SELECT id, tag_id, occurred_at, status, reject_count, COALESCE(last_error, '')
		FROM scan_events
		WHERE synced = 0 AND dead_lettered = 1
		ORDER BY id ASC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, scan.StoreError("dead letters", err)
	}
	defer rows.Close()

	var out []DeadLetter
	for rows.Next() {
		var (
			item       DeadLetter
			occurredAt string
		)
		if err := rows.Scan(&item.Event.ID, &item.Event.TagID, &occurredAt, &item.Event.Status, &item.RejectCount, &item.LastError); err != nil {
			return nil, scan.StoreError("dead letters", err)
		}
		item.Event.OccurredAt, err = parseTime(occurredAt)
		if err != nil {
			return nil, scan.StoreError("dead letters", err)
		}
		out = append(out, item)
	}
	if err := rows.Err(); err != nil {
		return nil, scan.StoreError("dead letters", err)
	}
	return out, nil
}

// Requeue clears quarantine and rejection counters.
func (l *SQLiteLog) Requeue(ctx context.Context, ids []int64) (int, error) {
	const base = `UPDATE scan_events SET dead_lettered = 0, dead_lettered_at = NULL, reject_count = 0
		WHERE synced = 0 AND dead_lettered = 1`

	requeued := 0
	err := l.inTx(ctx, func(tx *sql.Tx) error {
		if len(ids) == 0 {
			result, err := tx.ExecContext(ctx, base)
			if err != nil {
				return err
			}
			affected, err := result.RowsAffected()
			requeued = int(affected)
			return err
		}
		return forEachChunk(ids, func(chunk []int64) error {
			result, err := tx.ExecContext(ctx, base+` AND id IN (`+placeholders(len(chunk))+`)`, int64Args(chunk)...)
			if err != nil {
				return err
			}
			affected, err := result.RowsAffected()
			requeued += int(affected)
			return err
		})
	})
	if err != nil {
		return 0, scan.StoreError("requeue", err)
	}
	return requeued, nil
}

// AcquireSyncLease claims the single lease row with one upsert, so the check
// and the claim cannot interleave with another process.
func (l *SQLiteLog) AcquireSyncLease(ctx context.Context, holder string, ttl time.Duration) (bool, error) {
	now := l.now()
	result, err := l.db.ExecContext(ctx, `
		INSERT INTO sync_lease (id, holder, expires_at) VALUES (1, ?, ?)
		ON CONFLICT(id) DO UPDATE SET holder = excluded.holder, expires_at = excluded.expires_at
		WHERE sync_lease.holder = excluded.holder OR sync_lease.expires_at <= ?`,
		holder, formatTime(now.Add(ttl)), formatTime(now),
	)
	if err != nil {
		return false, scan.StoreError("acquire sync lease", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, scan.StoreError("acquire sync lease", err)
	}
	return affected > 0, nil
}

// ReleaseSyncLease deletes the lease row owned by holder.
func (l *SQLiteLog) ReleaseSyncLease(ctx context.Context, holder string) error {
	_, err := l.db.ExecContext(ctx, `DELETE FROM sync_lease WHERE id = 1 AND holder = ?`, holder)
	return scan.StoreError("release sync lease", err)
}

// inTx runs fn in a transaction and commits only when fn succeeds.
func (l *SQLiteLog) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() // no-op after commit

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// applyPragmas sets WAL journaling and lock wait.
func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("execute %q: %w", pragma, err)
		}
	}
	return nil
}

// applySchema creates tables and runs migrations; idempotent.
func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("execute schema: %w", err)
	}

	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}
	if version < 1 {
		if err := migrateToV1(db); err != nil {
			return err
		}
	}
	if version < 2 {
		if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS sync_lease (
			id         INTEGER PRIMARY KEY CHECK (id = 1),
			holder     TEXT    NOT NULL,
			expires_at TEXT    NOT NULL
		)`); err != nil {
			return fmt.Errorf("migrate to v2: %w", err)
		}
	}
	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}
	return nil
}

// migrateToV1 adds rejection bookkeeping used by the dead-letter path.
func migrateToV1(db *sql.DB) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("migrate to v1: %w", err)
	}
	defer tx.Rollback()

	statements := []string{
		`ALTER TABLE scan_events ADD COLUMN reject_count INTEGER NOT NULL DEFAULT 0`,
		`ALTER TABLE scan_events ADD COLUMN last_error TEXT`,
		`ALTER TABLE scan_events ADD COLUMN dead_lettered INTEGER NOT NULL DEFAULT 0`,
		`ALTER TABLE scan_events ADD COLUMN dead_lettered_at TEXT`,
		`CREATE INDEX IF NOT EXISTS idx_scan_events_pending ON scan_events(synced, dead_lettered, id)`,
	}
	for _, statement := range statements {
		if _, err := tx.Exec(statement); err != nil {
			return fmt.Errorf("migrate to v1: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("migrate to v1: %w", err)
	}
	return nil
}

func forEachChunk(ids []int64, fn func([]int64) error) error {
	for start := 0; start < len(ids); start += idChunkSize {
		end := start + idChunkSize
		if end > len(ids) {
			end = len(ids)
		}
		if err := fn(ids[start:end]); err != nil {
			return err
		}
	}
	return nil
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func int64Args(ids []int64) []any {
	args := make([]any, 0, len(ids))
	for _, id := range ids {
		args = append(args, id)
	}
	return args
}

func formatTime(t time.Time) string {
	return t.UTC().Format(storedTimeLayout)
}

func parseTime(value string) (time.Time, error) {
	parsed, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse occurred_at %q: %w", value, err)
	}
	return parsed.UTC(), nil
}
