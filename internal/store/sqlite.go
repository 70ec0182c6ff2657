// ABOUTME: SQLite implementation of the Ledger interface using modernc.org/sqlite
// ABOUTME: Provides invocation and connection history with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// timeLayout is fixed-width so text ordering matches time ordering.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// SQLiteLedger implements the Ledger interface using SQLite
type SQLiteLedger struct {
	db     *sql.DB
	closed atomic.Bool
	logger *slog.Logger
}

// NewSQLiteLedger creates a new SQLite ledger at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed. ":memory:" opens a private
// in-memory database.
func NewSQLiteLedger(path string, logger *slog.Logger) (*SQLiteLedger, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "ledger")

	memory := path == ":memory:"
	if !memory {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if memory {
		// Each connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	} else {
		if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
			db.Close()
			return nil, fmt.Errorf("enabling WAL mode: %w", err)
		}
	}

	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	l := &SQLiteLedger{
		db:     db,
		logger: logger,
	}

	if err := l.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite ledger initialized", "path", path)
	return l, nil
}

// createSchema creates the database tables if they don't exist
func (l *SQLiteLedger) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS ledger_entries (
			id          TEXT PRIMARY KEY,
			kind        TEXT NOT NULL,
			operation   TEXT,
			request_id  TEXT,
			client_id   TEXT,
			duration_ns INTEGER NOT NULL DEFAULT 0,
			error_kind  TEXT,
			error       TEXT,
			reason      TEXT,
			created_at  TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_ledger_created ON ledger_entries(created_at);
		CREATE INDEX IF NOT EXISTS idx_ledger_operation ON ledger_entries(operation, created_at);
		CREATE INDEX IF NOT EXISTS idx_ledger_client ON ledger_entries(client_id, created_at);
	`

	_, err := l.db.Exec(schema)
	return err
}

// Close closes the database connection
func (l *SQLiteLedger) Close() error {
	if !l.closed.CompareAndSwap(false, true) {
		return nil
	}
	return l.db.Close()
}

// Record stores one entry. ID and CreatedAt are filled in when empty.
func (l *SQLiteLedger) Record(ctx context.Context, e *Entry) error {
	if l.closed.Load() {
		return ErrLedgerClosed
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}

	query := `
		INSERT INTO ledger_entries (
			id, kind, operation, request_id, client_id,
			duration_ns, error_kind, error, reason, created_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := l.db.ExecContext(ctx, query,
		e.ID,
		e.Kind,
		nullString(e.Operation),
		nullString(e.RequestID),
		nullString(e.ClientID),
		int64(e.Duration),
		nullString(e.ErrorKind),
		nullString(e.Error),
		nullString(e.Reason),
		e.CreatedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("inserting ledger entry: %w", err)
	}
	return nil
}

// Recent returns the newest entries matching f, newest first.
func (l *SQLiteLedger) Recent(ctx context.Context, f Filter) ([]*Entry, error) {
	query := `
		SELECT id, kind, operation, request_id, client_id,
		       duration_ns, error_kind, error, reason, created_at
		FROM ledger_entries
		WHERE 1=1
	`
	args := []any{}

	if f.Kind != "" {
		query += " AND kind = ?"
		args = append(args, f.Kind)
	}
	if f.Operation != "" {
		query += " AND operation = ?"
		args = append(args, f.Operation)
	}
	if f.ClientID != "" {
		query += " AND client_id = ?"
		args = append(args, f.ClientID)
	}
	if !f.Since.IsZero() {
		query += " AND created_at >= ?"
		args = append(args, f.Since.UTC().Format(timeLayout))
	}

	limit := f.Limit
	if limit <= 0 {
		limit = DefaultRecentLimit
	}
	query += " ORDER BY created_at DESC, rowid DESC LIMIT ?"
	args = append(args, limit)

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying ledger: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []*Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating ledger rows: %w", err)
	}

	return entries, nil
}

// Stats aggregates executed and failed calls per operation, sorted by name.
func (l *SQLiteLedger) Stats(ctx context.Context) ([]*OperationStats, error) {
	query := `
		SELECT
			operation,
			COUNT(*) AS calls,
			COALESCE(SUM(CASE WHEN kind = ? THEN 1 ELSE 0 END), 0) AS errors,
			COALESCE(AVG(duration_ns), 0) AS avg_ns,
			MAX(created_at) AS last_at
		FROM ledger_entries
		WHERE operation IS NOT NULL AND kind IN (?, ?)
		GROUP BY operation
		ORDER BY operation ASC
	`

	rows, err := l.db.QueryContext(ctx, query, KindError, KindExecuted, KindError)
	if err != nil {
		return nil, fmt.Errorf("querying ledger stats: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var stats []*OperationStats
	for rows.Next() {
		var (
			s      OperationStats
			avgNS  float64
			lastAt string
		)
		if err := rows.Scan(&s.Operation, &s.Calls, &s.Errors, &avgNS, &lastAt); err != nil {
			return nil, fmt.Errorf("scanning ledger stats: %w", err)
		}
		s.AverageDuration = time.Duration(avgNS)
		s.LastCalledAt, _ = time.Parse(timeLayout, lastAt)
		stats = append(stats, &s)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating ledger stats: %w", err)
	}

	return stats, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (*Entry, error) {
	var (
		e                              Entry
		operation, requestID, clientID sql.NullString
		errorKind, errText, reason     sql.NullString
		durationNS                     int64
		createdAt                      string
	)
	if err := row.Scan(
		&e.ID, &e.Kind, &operation, &requestID, &clientID,
		&durationNS, &errorKind, &errText, &reason, &createdAt,
	); err != nil {
		return nil, fmt.Errorf("scanning ledger entry: %w", err)
	}

	e.Operation = operation.String
	e.RequestID = requestID.String
	e.ClientID = clientID.String
	e.Duration = time.Duration(durationNS)
	e.ErrorKind = errorKind.String
	e.Error = errText.String
	e.Reason = reason.String

	t, err := time.Parse(timeLayout, createdAt)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at %q: %w", createdAt, err)
	}
	e.CreatedAt = t
	return &e, nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
