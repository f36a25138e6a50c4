package analytics

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "github.com/go-sql-driver/mysql"
)

// MySQLSink persists events to MySQL/MariaDB for deployments where several
// instances share one event store. Same schema as SQLiteSink.
type MySQLSink struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool
}

// NewMySQLSink connects using a go-sql-driver DSN, for example
// "user:pass@tcp(localhost:3306)/anser?parseTime=true", verifies the
// connection, and migrates the schema.
func NewMySQLSink(dsn string) (*MySQLSink, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("analytics: open mysql: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(10 * time.Minute)

	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("analytics: ping mysql: %w", err)
	}

	s := &MySQLSink{db: db}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *MySQLSink) migrate(ctx context.Context) error {
	const table = `
		CREATE TABLE IF NOT EXISTS usage_events (
			id VARCHAR(64) NOT NULL PRIMARY KEY,
			operation VARCHAR(32) NOT NULL,
			session_id VARCHAR(255) NOT NULL DEFAULT '',
			query_hash VARCHAR(64) NOT NULL,
			quality VARCHAR(16) NOT NULL DEFAULT '',
			cost DOUBLE NOT NULL,
			seconds DOUBLE NOT NULL,
			models JSON NOT NULL,
			confidence DOUBLE NOT NULL DEFAULT 0,
			status VARCHAR(16) NOT NULL,
			error_code VARCHAR(32) NOT NULL DEFAULT '',
			cached TINYINT(1) NOT NULL DEFAULT 0,
			created_at TIMESTAMP(6) NOT NULL,
			INDEX idx_usage_op_time (operation, created_at)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci
	`
	if _, err := s.db.ExecContext(ctx, table); err != nil {
		return fmt.Errorf("analytics: create usage_events: %w", err)
	}
	return nil
}

// Write upserts ev keyed on its ID, so redelivery is harmless.
func (s *MySQLSink) Write(ctx context.Context, ev Event) error {
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
		ON DUPLICATE KEY UPDATE
			status = VALUES(status),
			cost = VALUES(cost),
			seconds = VALUES(seconds)
	`
	_, err = s.db.ExecContext(ctx, query,
		ev.ID, ev.Operation, ev.SessionID, ev.QueryHash, ev.Quality,
		ev.Cost, ev.Seconds, string(models), ev.Confidence,
		ev.Status, ev.ErrorCode, boolToInt(ev.Cached),
		ev.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("analytics: insert event: %w", err)
	}
	return nil
}

// Close releases the connection pool. Double-close is a no-op.
func (s *MySQLSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

// Ping verifies the database is reachable.
func (s *MySQLSink) Ping(ctx context.Context) error {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return errClosed
	}
	s.mu.RUnlock()
	return s.db.PingContext(ctx)
}
