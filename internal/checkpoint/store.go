package checkpoint

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/grovekit/grove/pkg/models"
)

// HistoryStore keeps run summaries and the per-attempt audit trail in
// SQLite, surviving across runs. It is an observability surface only:
// resume reads the JSON checkpoint, never this store.
type HistoryStore struct {
	db *sql.DB
}

// migrations are applied in order; user_version tracks progress.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS runs (
		run_id     TEXT PRIMARY KEY,
		phase      TEXT NOT NULL,
		base_ref   TEXT,
		total      INTEGER NOT NULL DEFAULT 0,
		succeeded  INTEGER NOT NULL DEFAULT 0,
		failed     INTEGER NOT NULL DEFAULT 0,
		cancelled  INTEGER NOT NULL DEFAULT 0,
		timed_out  INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS attempts (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id      TEXT NOT NULL,
		task_id     TEXT NOT NULL,
		attempt     INTEGER NOT NULL,
		status      TEXT NOT NULL,
		exit_code   INTEGER NOT NULL,
		started_at  TIMESTAMP NOT NULL,
		finished_at TIMESTAMP NOT NULL,
		stdout_ref  TEXT,
		stderr_ref  TEXT,
		error       TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_attempts_run ON attempts(run_id, task_id)`,
}

// OpenHistory opens (creating if needed) the history database at path.
func OpenHistory(path string) (*HistoryStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open history database: %w", err)
	}
	// Single writer; WAL keeps readers unblocked during checkpoints.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}

	s := &HistoryStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *HistoryStore) migrate() error {
	var version int
	if err := s.db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	for i := version; i < len(migrations); i++ {
		if _, err := s.db.Exec(migrations[i]); err != nil {
			return fmt.Errorf("apply migration %d: %w", i+1, err)
		}
		if _, err := s.db.Exec(fmt.Sprintf("PRAGMA user_version = %d", i+1)); err != nil {
			return fmt.Errorf("bump schema version: %w", err)
		}
	}
	return nil
}

// Close closes the underlying database.
func (s *HistoryStore) Close() error {
	return s.db.Close()
}

// RecordRun upserts the run's summary row from the given state.
func (s *HistoryStore) RecordRun(state *WorkflowState) error {
	counts := map[models.TaskStatus]int{}
	for _, task := range state.Tasks {
		counts[task.Status]++
	}
	_, err := s.db.Exec(`
		INSERT INTO runs (run_id, phase, base_ref, total, succeeded, failed, cancelled, timed_out, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id) DO UPDATE SET
			phase = excluded.phase,
			total = excluded.total,
			succeeded = excluded.succeeded,
			failed = excluded.failed,
			cancelled = excluded.cancelled,
			timed_out = excluded.timed_out,
			updated_at = excluded.updated_at`,
		state.RunID, string(state.Phase), state.BaseRef,
		len(state.Tasks),
		counts[models.TaskStatusSucceeded],
		counts[models.TaskStatusFailed],
		counts[models.TaskStatusCancelled],
		counts[models.TaskStatusTimedOut],
		state.CreatedAt, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("record run %s: %w", state.RunID, err)
	}
	return nil
}

// RecordAttempt appends one attempt outcome to the audit trail.
func (s *HistoryStore) RecordAttempt(runID string, res *models.ExecutionResult) error {
	_, err := s.db.Exec(`
		INSERT INTO attempts (run_id, task_id, attempt, status, exit_code, started_at, finished_at, stdout_ref, stderr_ref, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		runID, res.TaskID, res.Attempt, string(res.Status), res.ExitCode,
		res.StartTime, res.EndTime, res.StdoutRef, res.StderrRef, res.ErrorMessage,
	)
	if err != nil {
		return fmt.Errorf("record attempt %d of task %s: %w", res.Attempt, res.TaskID, err)
	}
	return nil
}

// RunSummary is one row of run history.
type RunSummary struct {
	RunID     string
	Phase     string
	Total     int
	Succeeded int
	Failed    int
	Cancelled int
	TimedOut  int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// RecentRuns returns up to limit runs, newest first.
func (s *HistoryStore) RecentRuns(limit int) ([]RunSummary, error) {
	rows, err := s.db.Query(`
		SELECT run_id, phase, total, succeeded, failed, cancelled, timed_out, created_at, updated_at
		FROM runs ORDER BY updated_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var out []RunSummary
	for rows.Next() {
		var r RunSummary
		if err := rows.Scan(&r.RunID, &r.Phase, &r.Total, &r.Succeeded, &r.Failed,
			&r.Cancelled, &r.TimedOut, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan run row: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// AttemptRow is one audit-trail entry.
type AttemptRow struct {
	TaskID     string
	Attempt    int
	Status     string
	ExitCode   int
	StartedAt  time.Time
	FinishedAt time.Time
	StdoutRef  string
	StderrRef  string
	Error      string
}

// AttemptsForRun returns every attempt recorded for a run, oldest first.
func (s *HistoryStore) AttemptsForRun(runID string) ([]AttemptRow, error) {
	rows, err := s.db.Query(`
		SELECT task_id, attempt, status, exit_code, started_at, finished_at,
			COALESCE(stdout_ref, ''), COALESCE(stderr_ref, ''), COALESCE(error, '')
		FROM attempts WHERE run_id = ? ORDER BY id`, runID)
	if err != nil {
		return nil, fmt.Errorf("query attempts: %w", err)
	}
	defer rows.Close()

	var out []AttemptRow
	for rows.Next() {
		var a AttemptRow
		if err := rows.Scan(&a.TaskID, &a.Attempt, &a.Status, &a.ExitCode,
			&a.StartedAt, &a.FinishedAt, &a.StdoutRef, &a.StderrRef, &a.Error); err != nil {
			return nil, fmt.Errorf("scan attempt row: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
