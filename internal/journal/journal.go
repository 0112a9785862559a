// Package journal keeps a SQLite-backed record of fetch outcomes.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/oklog/ulid/v2"
	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// Outcome is how a fetch ended.
type Outcome string

const (
	OutcomeOK        Outcome = "ok"
	OutcomeExhausted Outcome = "exhausted"
	OutcomeFatal     Outcome = "fatal"
)

// Entry is one fetch call.
type Entry struct {
	ID         string        `json:"id"`
	URL        string        `json:"url"`
	Outcome    Outcome       `json:"outcome"`
	Attempts   int           `json:"attempts"`
	Status     int           `json:"status,omitempty"`
	Duration   time.Duration `json:"duration"`
	Error      string        `json:"error,omitempty"`
	RequestID  string        `json:"requestId,omitempty"`
	RecordedAt time.Time     `json:"recordedAt"`
}

// Summary aggregates entries by outcome.
type Summary struct {
	Total     int64 `json:"total"`
	OK        int64 `json:"ok"`
	Exhausted int64 `json:"exhausted"`
	Fatal     int64 `json:"fatal"`
	Attempts  int64 `json:"attempts"`
}

// Store persists entries.
type Store struct {
	db       *sql.DB
	logger   *slog.Logger
	isMemory bool
}

// Open opens or creates the journal at dbPath. ":memory:" keeps it in memory.
func Open(dbPath string, logger *slog.Logger) (*Store, error) {
	var connStr string
	isMemory := dbPath == ":memory:"

	if isMemory {
		connStr = ":memory:"
	} else {
		dir := filepath.Dir(dbPath)
		if dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, fmt.Errorf("failed to create directory: %w", err)
			}
		}
		connStr = "file:" + dbPath + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}

	db, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Single writer; also keeps an in-memory database alive on one connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	s := &Store{
		db:       db,
		logger:   logger,
		isMemory: isMemory,
	}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	logger.Info("fetch journal initialized", "path", dbPath, "in_memory", isMemory)
	return s, nil
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS fetches (
		id TEXT PRIMARY KEY,
		url TEXT NOT NULL,
		outcome TEXT NOT NULL,
		attempts INTEGER NOT NULL DEFAULT 0,
		status INTEGER NOT NULL DEFAULT 0,
		duration_ms INTEGER NOT NULL DEFAULT 0,
		error TEXT NOT NULL DEFAULT '',
		request_id TEXT NOT NULL DEFAULT '',
		recorded_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_fetches_recorded_at ON fetches(recorded_at);
	CREATE INDEX IF NOT EXISTS idx_fetches_outcome ON fetches(outcome);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Record stores e, assigning an ID and timestamp when missing.
func (s *Store) Record(ctx context.Context, e Entry) error {
	if e.ID == "" {
		e.ID = ulid.Make().String()
	}
	if e.RecordedAt.IsZero() {
		e.RecordedAt = time.Now()
	}

	_, err := s.db.ExecContext(ctx, `
	INSERT INTO fetches (id, url, outcome, attempts, status, duration_ms, error, request_id, recorded_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		e.ID,
		e.URL,
		string(e.Outcome),
		e.Attempts,
		e.Status,
		e.Duration.Milliseconds(),
		e.Error,
		e.RequestID,
		e.RecordedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to record fetch: %w", err)
	}
	return nil
}

// Recent returns up to limit entries, newest first. An empty outcome matches all.
func (s *Store) Recent(ctx context.Context, limit int, outcome Outcome) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
	SELECT id, url, outcome, attempts, status, duration_ms, error, request_id, recorded_at
	FROM fetches
	WHERE (? = '' OR outcome = ?)
	ORDER BY recorded_at DESC, id DESC
	LIMIT ?
	`

	rows, err := s.db.QueryContext(ctx, query, string(outcome), string(outcome), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list fetches: %w", err)
	}
	defer rows.Close()

	entries := make([]Entry, 0, limit)
	for rows.Next() {
		var (
			e          Entry
			outcomeStr string
			durationMs int64
			recordedAt int64
		)
		if err := rows.Scan(
			&e.ID,
			&e.URL,
			&outcomeStr,
			&e.Attempts,
			&e.Status,
			&durationMs,
			&e.Error,
			&e.RequestID,
			&recordedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan fetch: %w", err)
		}
		e.Outcome = Outcome(outcomeStr)
		e.Duration = time.Duration(durationMs) * time.Millisecond
		e.RecordedAt = time.UnixMilli(recordedAt)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Summarize aggregates entries recorded at or after since.
func (s *Store) Summarize(ctx context.Context, since time.Time) (Summary, error) {
	var sum Summary
	err := s.db.QueryRowContext(ctx, `
	SELECT
		COUNT(*),
		COALESCE(SUM(CASE WHEN outcome = 'ok' THEN 1 ELSE 0 END), 0),
		COALESCE(SUM(CASE WHEN outcome = 'exhausted' THEN 1 ELSE 0 END), 0),
		COALESCE(SUM(CASE WHEN outcome = 'fatal' THEN 1 ELSE 0 END), 0),
		COALESCE(SUM(attempts), 0)
	FROM fetches
	WHERE recorded_at >= ?
	`, since.UnixMilli()).Scan(&sum.Total, &sum.OK, &sum.Exhausted, &sum.Fatal, &sum.Attempts)
	if err != nil {
		return Summary{}, fmt.Errorf("failed to summarize fetches: %w", err)
	}
	return sum, nil
}

// CleanupOlderThan removes entries recorded before threshold and vacuums if
// anything was deleted.
func (s *Store) CleanupOlderThan(ctx context.Context, threshold time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		"DELETE FROM fetches WHERE recorded_at < ?",
		threshold.UnixMilli(),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup fetches: %w", err)
	}

	count, _ := result.RowsAffected()
	if count > 0 {
		s.logger.Info("cleaned up old fetch records", "count", count)
		if err := s.Vacuum(ctx); err != nil {
			s.logger.Warn("failed to vacuum after cleanup", "error", err)
		}
	}
	return count, nil
}

// StartCleanup removes entries older than retention every interval until ctx is done.
func (s *Store) StartCleanup(ctx context.Context, retention, interval time.Duration) {
	if retention <= 0 {
		return
	}
	if interval <= 0 {
		interval = time.Hour
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.CleanupOlderThan(ctx, time.Now().Add(-retention)); err != nil {
				s.logger.Warn("journal cleanup failed", "error", err)
			}
		}
	}
}

// Vacuum reclaims unused space.
func (s *Store) Vacuum(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "VACUUM"); err != nil {
		return fmt.Errorf("failed to vacuum database: %w", err)
	}
	s.logger.Debug("database vacuumed")
	return nil
}

// Close checkpoints the WAL and closes the database.
func (s *Store) Close() error {
	if !s.isMemory {
		if _, err := s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
			s.logger.Warn("failed to checkpoint WAL before close", "error", err)
		}
	}
	s.logger.Debug("fetch journal closing", "in_memory", s.isMemory)
	return s.db.Close()
}
