package ingest

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"github.com/Ashennwitch/mbg-tracker/internal/wire"
)

// Supported store drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

const defaultTable = "scan_events"

// dialect captures the SQL differences between Postgres and SQLite.
type dialect struct {
	name        string
	placeholder func(n int) string
	timeArg     func(t time.Time) any
	schema      string
}

var postgresDialect = dialect{
	name:        DriverPostgres,
	placeholder: func(n int) string { return fmt.Sprintf("$%d", n) },
	timeArg:     func(t time.Time) any { return t.UTC() },
	schema: `
		CREATE TABLE IF NOT EXISTS %[1]s (
			id          BIGSERIAL PRIMARY KEY,
			tag_id      TEXT        NOT NULL,
			occurred_at TIMESTAMPTZ NOT NULL,
			status      TEXT        NOT NULL,
			origin_id   TEXT        NOT NULL,
			event_key   TEXT,
			batch_id    TEXT,
			received_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);
		CREATE INDEX IF NOT EXISTS idx_%[1]s_origin ON %[1]s(origin_id);
		CREATE INDEX IF NOT EXISTS idx_%[1]s_event_key ON %[1]s(event_key);
		CREATE INDEX IF NOT EXISTS idx_%[1]s_occurred_at ON %[1]s(occurred_at);`,
}

var sqliteDialect = dialect{
	name:        DriverSQLite,
	placeholder: func(int) string { return "?" },
	timeArg:     func(t time.Time) any { return t.UTC().Format("2006-01-02T15:04:05.000000000Z") },
	schema: `
		CREATE TABLE IF NOT EXISTS %[1]s (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			tag_id      TEXT NOT NULL,
			occurred_at TEXT NOT NULL,
			status      TEXT NOT NULL,
			origin_id   TEXT NOT NULL,
			event_key   TEXT,
			batch_id    TEXT,
			received_at TEXT NOT NULL DEFAULT (strftime('%%Y-%%m-%%dT%%H:%%M:%%fZ', 'now'))
		);
		CREATE INDEX IF NOT EXISTS idx_%[1]s_origin ON %[1]s(origin_id);
		CREATE INDEX IF NOT EXISTS idx_%[1]s_event_key ON %[1]s(event_key);`,
}

// SQLStore persists rows through database/sql.
// Params: db handle; dialect postgres or sqlite; table name.
// Returns: Store implementation.
type SQLStore struct {
	db      *sql.DB
	dialect dialect
	table   string
}

// OpenSQLStore opens dsn with the pgx or modernc driver and creates the schema.
// Params: ctx for schema setup; driver "postgres" or "sqlite"; dsn connection string or file path.
// Returns: store or connection/schema error.
func OpenSQLStore(ctx context.Context, driver, dsn string) (*SQLStore, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, fmt.Errorf("ingest store: dsn is empty")
	}

	var (
		db  *sql.DB
		err error
	)
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case DriverPostgres, "pgx":
		db, err = sql.Open("pgx", dsn)
		driver = DriverPostgres
	case DriverSQLite, "":
		db, err = sql.Open("sqlite", dsn)
		driver = DriverSQLite
	default:
		return nil, fmt.Errorf("ingest store: unsupported driver %q", driver)
	}
	if err != nil {
		return nil, fmt.Errorf("ingest store: open: %w", err)
	}
	if driver == DriverSQLite {
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ingest store: ping: %w", err)
	}

	store, err := NewSQLStore(db, driver, "")
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := store.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// NewSQLStore wraps an existing handle without touching the schema.
// Params: db handle; driver dialect name; table optional table name.
// Returns: store or error on unknown dialect.
func NewSQLStore(db *sql.DB, driver, table string) (*SQLStore, error) {
	if db == nil {
		return nil, fmt.Errorf("ingest store: db is nil")
	}
	var d dialect
	switch driver {
	case DriverPostgres:
		d = postgresDialect
	case DriverSQLite:
		d = sqliteDialect
	default:
		return nil, fmt.Errorf("ingest store: unsupported dialect %q", driver)
	}
	if table == "" {
		table = defaultTable
	}
	return &SQLStore{db: db, dialect: d, table: table}, nil
}

// EnsureSchema creates the table and indexes when missing.
func (s *SQLStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, fmt.Sprintf(s.dialect.schema, s.table)); err != nil {
		return fmt.Errorf("ingest store: create schema: %w", err)
	}
	return nil
}

// Close closes the database handle.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// InsertBatch inserts rows in one transaction.
func (s *SQLStore) InsertBatch(ctx context.Context, rows []Row, dedupe bool) (wire.Result, error) {
	if len(rows) == 0 {
		return wire.Result{}, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wire.Result{}, fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	insert, err := tx.PrepareContext(ctx, s.insertQuery())
	if err != nil {
		return wire.Result{}, fmt.Errorf("prepare insert: %w", err)
	}
	defer insert.Close()

	var insertIfAbsent *sql.Stmt
	if dedupe {
		insertIfAbsent, err = tx.PrepareContext(ctx, s.insertIfAbsentQuery())
		if err != nil {
			return wire.Result{}, fmt.Errorf("prepare dedupe insert: %w", err)
		}
		defer insertIfAbsent.Close()
	}

	var result wire.Result
	for idx, row := range rows {
		args := []any{row.TagID, s.dialect.timeArg(row.OccurredAt), row.Status, row.OriginID, nullable(row.EventKey), nullable(row.BatchID)}
		if !dedupe || row.EventKey == "" {
			if _, err := insert.ExecContext(ctx, args...); err != nil {
				return wire.Result{}, fmt.Errorf("insert row %d: %w", idx, err)
			}
			result.Accepted++
			continue
		}

		execResult, err := insertIfAbsent.ExecContext(ctx, append(args, row.EventKey)...)
		if err != nil {
			return wire.Result{}, fmt.Errorf("insert row %d: %w", idx, err)
		}
		affected, err := execResult.RowsAffected()
		if err != nil {
			return wire.Result{}, fmt.Errorf("insert row %d: %w", idx, err)
		}
		if affected == 0 {
			result.Duplicates++
			continue
		}
		result.Accepted++
	}

	if err := tx.Commit(); err != nil {
		return wire.Result{}, fmt.Errorf("commit: %w", err)
	}
	return result, nil
}

// Summary aggregates totals, distinct gateways and per-status counts.
func (s *SQLStore) Summary(ctx context.Context) (Summary, error) {
	summary := Summary{ByStatus: map[string]int64{}}
	err := s.db.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT COUNT(*), COUNT(DISTINCT origin_id) FROM %s`, s.table),
	).Scan(&summary.TotalScansReceived, &summary.ActiveGateways)
	if err != nil {
		return Summary{}, fmt.Errorf("summary totals: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		fmt.Sprintf(`SELECT status, COUNT(*) FROM %s GROUP BY status ORDER BY status`, s.table),
	)
	if err != nil {
		return Summary{}, fmt.Errorf("summary by status: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			status string
			count  int64
		)
		if err := rows.Scan(&status, &count); err != nil {
			return Summary{}, fmt.Errorf("summary by status: %w", err)
		}
		summary.ByStatus[status] = count
	}
	if err := rows.Err(); err != nil {
		return Summary{}, fmt.Errorf("summary by status: %w", err)
	}
	return summary, nil
}

const insertColumns = "tag_id, occurred_at, status, origin_id, event_key, batch_id"

func (s *SQLStore) insertQuery() string {
	return fmt.Sprintf(`INSERT INTO %s (%s) VALUES (%s)`, s.table, insertColumns, s.placeholders(1, 6))
}

// insertIfAbsentQuery inserts only when no row carries the same event_key.
// The key is bound twice: once as a column value and once for the lookup.
func (s *SQLStore) insertIfAbsentQuery() string {
	p := s.dialect.placeholder
	values := s.placeholders(1, 6)
	if s.dialect.name == DriverPostgres {
		values = fmt.Sprintf("%s::text, %s::timestamptz, %s::text, %s::text, %s::text, %s::text", p(1), p(2), p(3), p(4), p(5), p(6))
	}
	return fmt.Sprintf(
		`INSERT INTO %[1]s (%[2]s) SELECT %[3]s WHERE NOT EXISTS (SELECT 1 FROM %[1]s WHERE event_key = %[4]s)`,
		s.table, insertColumns, values, p(7),
	)
}

func (s *SQLStore) placeholders(from, to int) string {
	parts := make([]string, 0, to-from+1)
	for i := from; i <= to; i++ {
		parts = append(parts, s.dialect.placeholder(i))
	}
	return strings.Join(parts, ", ")
}

func nullable(value string) any {
	if value == "" {
		return nil
	}
	return value
}
