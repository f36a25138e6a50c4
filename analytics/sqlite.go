package analytics

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteSink persists events to a single-file database. Zero-setup storage
// for single-process deployments; use MySQLSink when events must be shared.
//
// WAL mode is enabled so reads do not block the drain goroutine's writes.
type SQLiteSink struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool
	path   string
}

// NewSQLiteSink opens (creating if needed) the database at path and migrates
// the schema. ":memory:" gives a throwaway in-memory database.
func NewSQLiteSink(path string) (*SQLiteSink, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("analytics: open sqlite: %w", err)
	}

	// SQLite supports one writer; a single pooled connection also keeps
	// ":memory:" databases alive across calls.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	ctx := context.Background()
	for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA busy_timeout=5000"} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("analytics: %s: %w", pragma, err)
		}
	}

	s := &SQLiteSink{db: db, path: path}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteSink) migrate(ctx context.Context) error {
	const table = `
		CREATE TABLE IF NOT EXISTS usage_events (
			id TEXT NOT NULL PRIMARY KEY,
			operation TEXT NOT NULL,
			session_id TEXT NOT NULL DEFAULT '',
			query_hash TEXT NOT NULL,
			quality TEXT NOT NULL DEFAULT '',
			cost REAL NOT NULL,
			seconds REAL NOT NULL,
			models TEXT NOT NULL DEFAULT '[]',
			confidence REAL NOT NULL DEFAULT 0,
			status TEXT NOT NULL,
			error_code TEXT NOT NULL DEFAULT '',
			cached INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMP NOT NULL
		)
	`
	if _, err := s.db.ExecContext(ctx, table); err != nil {
		return fmt.Errorf("analytics: create usage_events: %w", err)
	}
	if _, err := s.db.ExecContext(ctx,
		"CREATE INDEX IF NOT EXISTS idx_usage_op_time ON usage_events(operation, created_at)"); err != nil {
		return fmt.Errorf("analytics: create idx_usage_op_time: %w", err)
	}
	return nil
}

// Write upserts ev keyed on its ID, so redelivery is harmless.
func (s *SQLiteSink) Write(ctx context.Context, ev Event) error {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return errClosed
	}
	s.mu.RUnlock()

	models, err := json.Marshal(ev.Models)
	if err != nil {
		return fmt.Errorf("analytics: marshal models: %w", err)
	}

	const query = `
		INSERT INTO usage_events
		(id, operation, session_id, query_hash, quality, cost, seconds, models, confidence, status, error_code, cached, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			cost = excluded.cost,
			seconds = excluded.seconds
	`
	_, err = s.db.ExecContext(ctx, query,
		ev.ID, ev.Operation, ev.SessionID, ev.QueryHash, ev.Quality,
		ev.Cost, ev.Seconds, string(models), ev.Confidence,
		ev.Status, ev.ErrorCode, boolToInt(ev.Cached),
		ev.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("analytics: insert event: %w", err)
	}
	return nil
}

// Recent returns up to limit events, newest first.
func (s *SQLiteSink) Recent(ctx context.Context, limit int) ([]Event, error) {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return nil, errClosed
	}
	s.mu.RUnlock()

	const query = `
		SELECT id, operation, session_id, query_hash, quality, cost, seconds, models, confidence, status, error_code, cached, created_at
		FROM usage_events
		ORDER BY created_at DESC
		LIMIT ?
	`
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("analytics: query events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var events []Event
	for rows.Next() {
		var (
			ev        Event
			models    string
			cached    int
			createdAt string
		)
		if err := rows.Scan(&ev.ID, &ev.Operation, &ev.SessionID, &ev.QueryHash, &ev.Quality,
			&ev.Cost, &ev.Seconds, &models, &ev.Confidence,
			&ev.Status, &ev.ErrorCode, &cached, &createdAt); err != nil {
			return nil, fmt.Errorf("analytics: scan event: %w", err)
		}
		if err := json.Unmarshal([]byte(models), &ev.Models); err != nil {
			return nil, fmt.Errorf("analytics: unmarshal models: %w", err)
		}
		ev.Cached = cached != 0
		if ev.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
			return nil, fmt.Errorf("analytics: parse created_at: %w", err)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// Close releases the database. Double-close is a no-op.
func (s *SQLiteSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

// Ping verifies the database is reachable.
func (s *SQLiteSink) Ping(ctx context.Context) error {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return errClosed
	}
	s.mu.RUnlock()
	return s.db.PingContext(ctx)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
