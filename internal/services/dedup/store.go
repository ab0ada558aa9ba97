// Package dedup contains the durable store that guarantees each event id is
// processed at most once, even across restarts, and at most by one worker
// at a time.
package dedup

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog/log"

	"frigate-reviewer-go/internal/models"
)

const schema = `
CREATE TABLE IF NOT EXISTS processed_events (
	event_id       TEXT PRIMARY KEY,
	camera         TEXT NOT NULL DEFAULT '',
	label          TEXT NOT NULL DEFAULT '',
	verdict        TEXT NOT NULL DEFAULT 'INCONCLUSIVE',
	status         TEXT NOT NULL DEFAULT 'pending',
	attempts       INTEGER NOT NULL DEFAULT 0,
	cached_verdict TEXT NOT NULL DEFAULT '',
	last_error     TEXT NOT NULL DEFAULT '',
	processed_at   TIMESTAMP,
	created_at     TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at     TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_processed_events_status ON processed_events(status);
CREATE INDEX IF NOT EXISTS idx_processed_events_updated ON processed_events(updated_at);
`

// Store is the SQLite-backed dedup store
type Store struct {
	db          *sql.DB
	maxAttempts int
}

// Open opens (creating if needed) the dedup database at path
func Open(path string, maxAttempts int) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create dedup store directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open dedup database: %w", err)
	}

	// WAL + busy timeout so claim contention between workers resolves
	// instead of erroring out.
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	log.Info().Str("path", path).Msg("Dedup store opened")
	return &Store{db: db, maxAttempts: maxAttempts}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// ClaimResult reports whether the caller now owns the event, plus the
// record as it stands after the claim attempt.
type ClaimResult struct {
	Claimed bool
	Record  *models.ProcessedRecord
}

// Claim takes the single-writer slot for an event id. Exactly one of two
// things happens atomically: a provisional in-progress row is inserted for
// a never-seen event, or an existing pending row is flipped to in-progress
// with attempts incremented. Terminal rows, rows already in progress and
// rows with exhausted attempts are never claimed.
func (s *Store) Claim(ctx context.Context, event models.Event) (ClaimResult, error) {
	res, err := s.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO processed_events (event_id, camera, label, status, attempts) VALUES (?, ?, ?, ?, 1)",
		event.ID, event.Camera, event.Label, models.StatusInProgress,
	)
	if err != nil {
		return ClaimResult{}, fmt.Errorf("failed to claim event %s: %w", event.ID, err)
	}

	inserted, _ := res.RowsAffected()
	if inserted == 0 {
		// Row exists: only a pending row with attempts to spare may be
		// reclaimed. Anything else means another worker owns it or it is
		// settled for good.
		res, err = s.db.ExecContext(ctx,
			"UPDATE processed_events SET status = ?, attempts = attempts + 1, updated_at = CURRENT_TIMESTAMP WHERE event_id = ? AND status = ? AND attempts < ?",
			models.StatusInProgress, event.ID, models.StatusPending, s.maxAttempts,
		)
		if err != nil {
			return ClaimResult{}, fmt.Errorf("failed to reclaim event %s: %w", event.ID, err)
		}
	}

	claimed, _ := res.RowsAffected()

	record, err := s.Get(ctx, event.ID)
	if err != nil {
		return ClaimResult{}, err
	}

	return ClaimResult{Claimed: claimed == 1, Record: record}, nil
}

// Outcome describes how one processing attempt ended
type Outcome struct {
	Verdict       models.Verdict
	Terminal      bool // done or failed, never reprocessed
	Failed        bool // terminal failure rather than a settled verdict
	CachedVerdict models.Verdict
	LastError     string
}

// RecordOutcome settles the claimed row. Idempotent: a row that already
// reached a terminal status is left untouched, so writing the same verdict
// twice is observably a no-op. A non-terminal outcome returns the row to
// pending, or freezes it as failed once attempts are exhausted.
func (s *Store) RecordOutcome(ctx context.Context, eventID string, out Outcome) error {
	status := models.StatusPending
	if out.Terminal {
		if out.Failed {
			status = models.StatusFailed
		} else {
			status = models.StatusDone
		}
	}

	if !out.Terminal {
		// Retry budget spent: freeze for operator inspection
		var attempts int
		err := s.db.QueryRowContext(ctx,
			"SELECT attempts FROM processed_events WHERE event_id = ?", eventID,
		).Scan(&attempts)
		if err == sql.ErrNoRows {
			return fmt.Errorf("record %s not found", eventID)
		}
		if err != nil {
			return fmt.Errorf("failed to read attempts for %s: %w", eventID, err)
		}
		if attempts >= s.maxAttempts {
			status = models.StatusFailed
			log.Warn().
				Str("event_id", eventID).
				Int("attempts", attempts).
				Msg("Retry budget exhausted, freezing event as failed")
		}
	}

	query := "UPDATE processed_events SET verdict = ?, status = ?, cached_verdict = ?, last_error = ?, updated_at = CURRENT_TIMESTAMP"
	args := []any{out.Verdict, status, string(out.CachedVerdict), out.LastError}

	if status.IsTerminal() {
		query += ", processed_at = CURRENT_TIMESTAMP"
	}

	query += " WHERE event_id = ? AND status NOT IN (?, ?)"
	args = append(args, eventID, models.StatusDone, models.StatusFailed)

	_, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to record outcome for %s: %w", eventID, err)
	}

	return nil
}

// Get retrieves the record for an event id, or nil when absent
func (s *Store) Get(ctx context.Context, eventID string) (*models.ProcessedRecord, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT event_id, camera, label, verdict, status, attempts, cached_verdict, last_error, processed_at, created_at, updated_at FROM processed_events WHERE event_id = ?",
		eventID,
	)

	record, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get record %s: %w", eventID, err)
	}

	return record, nil
}

// HasTerminal reports whether the event already reached a terminal record
func (s *Store) HasTerminal(ctx context.Context, eventID string) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM processed_events WHERE event_id = ? AND status IN (?, ?)",
		eventID, models.StatusDone, models.StatusFailed,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check terminal record: %w", err)
	}
	return count > 0, nil
}

// ReleaseStale returns rows left in-progress by a previous run to pending.
// Called once at startup: a crash mid-flight never recorded a terminal
// verdict, so the event is safe to retry.
func (s *Store) ReleaseStale(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		"UPDATE processed_events SET status = ?, updated_at = CURRENT_TIMESTAMP WHERE status = ?",
		models.StatusPending, models.StatusInProgress,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to release stale claims: %w", err)
	}

	released, _ := res.RowsAffected()
	if released > 0 {
		log.Info().Int64("released", released).Msg("Released stale in-progress claims from previous run")
	}
	return released, nil
}

// Prune removes terminal records older than the cutoff. Pending and
// in-progress rows are never pruned.
func (s *Store) Prune(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM processed_events WHERE status IN (?, ?) AND updated_at < ?",
		models.StatusDone, models.StatusFailed, olderThan.UTC().Format("2006-01-02 15:04:05"),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to prune records: %w", err)
	}

	removed, _ := res.RowsAffected()
	return removed, nil
}

// Requeue resets a frozen failed record so the pipeline picks it up again.
// Operator action; refuses anything not in the failed status.
func (s *Store) Requeue(ctx context.Context, eventID string) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE processed_events SET status = ?, attempts = 0, verdict = ?, cached_verdict = '', last_error = '', processed_at = NULL, updated_at = CURRENT_TIMESTAMP WHERE event_id = ? AND status = ?",
		models.StatusPending, models.VerdictInconclusive, eventID, models.StatusFailed,
	)
	if err != nil {
		return fmt.Errorf("failed to requeue %s: %w", eventID, err)
	}

	affected, _ := res.RowsAffected()
	if affected == 0 {
		return fmt.Errorf("record %s not found or not in failed status", eventID)
	}

	return nil
}

// RecordFilters narrows ListRecords output
type RecordFilters struct {
	Status  models.RecordStatus
	Verdict models.Verdict
	Camera  string
	Limit   int
}

// ListRecords retrieves records matching the given filters, newest first
func (s *Store) ListRecords(ctx context.Context, filters RecordFilters) ([]*models.ProcessedRecord, error) {
	query := "SELECT event_id, camera, label, verdict, status, attempts, cached_verdict, last_error, processed_at, created_at, updated_at FROM processed_events WHERE 1=1"
	args := []any{}

	if filters.Status != "" {
		query += " AND status = ?"
		args = append(args, filters.Status)
	}
	if filters.Verdict != "" {
		query += " AND verdict = ?"
		args = append(args, filters.Verdict)
	}
	if filters.Camera != "" {
		query += " AND camera = ?"
		args = append(args, filters.Camera)
	}

	query += " ORDER BY updated_at DESC"

	limit := filters.Limit
	if limit <= 0 {
		limit = 100
	}
	query += " LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list records: %w", err)
	}
	defer rows.Close()

	var records []*models.ProcessedRecord
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		records = append(records, record)
	}

	return records, rows.Err()
}

// Stats summarizes the store for the operator API
func (s *Store) Stats(ctx context.Context) (*models.PipelineStats, error) {
	stats := &models.PipelineStats{}

	rows, err := s.db.QueryContext(ctx,
		"SELECT status, verdict, COUNT(*) FROM processed_events GROUP BY status, verdict",
	)
	if err != nil {
		return nil, fmt.Errorf("failed to read stats: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var status, verdict string
		var count int64
		if err := rows.Scan(&status, &verdict, &count); err != nil {
			return nil, fmt.Errorf("failed to scan stats: %w", err)
		}

		stats.Total += count
		switch models.RecordStatus(status) {
		case models.StatusPending:
			stats.Pending += count
		case models.StatusInProgress:
			stats.InProgress += count
		case models.StatusDone:
			stats.Done += count
		case models.StatusFailed:
			stats.Failed += count
		}

		if models.RecordStatus(status) == models.StatusDone {
			switch models.Verdict(verdict) {
			case models.VerdictFalsePositive:
				stats.FalsePositives += count
			case models.VerdictConfirmed:
				stats.Confirmed += count
			}
		}
	}

	return stats, rows.Err()
}

type scannable interface {
	Scan(dest ...any) error
}

func scanRecord(row scannable) (*models.ProcessedRecord, error) {
	var (
		record      models.ProcessedRecord
		verdict     string
		status      string
		cached      string
		processedAt sql.NullTime
	)

	err := row.Scan(
		&record.EventID, &record.Camera, &record.Label, &verdict, &status,
		&record.Attempts, &cached, &record.LastError, &processedAt,
		&record.CreatedAt, &record.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	record.Verdict = models.Verdict(verdict)
	record.Status = models.RecordStatus(status)
	record.CachedVerdict = models.Verdict(cached)
	if processedAt.Valid {
		record.ProcessedAt = &processedAt.Time
	}

	return &record, nil
}
