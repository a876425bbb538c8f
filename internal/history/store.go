package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"git.home.luguber.info/inful/wheelworks/internal/wwerrors"
)

// Store persists runs, job runs and step results in SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// Open creates or opens the history database.
// Use ":memory:" for an in-memory database, or a file path for persistence.
func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open history database: %w", err)
	}

	store := &Store{db: db}
	if err := store.initialize(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return store, nil
}

func (s *Store) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		workflow TEXT NOT NULL,
		repo TEXT,
		branch TEXT,
		sha TEXT,
		triggered_by TEXT NOT NULL,
		status TEXT NOT NULL,
		started_at INTEGER NOT NULL,
		finished_at INTEGER,
		duration_ms INTEGER NOT NULL DEFAULT 0,
		jobs_total INTEGER NOT NULL DEFAULT 0,
		jobs_failed INTEGER NOT NULL DEFAULT 0,
		wheels INTEGER NOT NULL DEFAULT 0,
		error TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at);

	CREATE TABLE IF NOT EXISTS job_runs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		job_key TEXT NOT NULL,
		job_id TEXT NOT NULL,
		target TEXT,
		platform TEXT,
		runner_label TEXT,
		status TEXT NOT NULL,
		started_at INTEGER NOT NULL,
		finished_at INTEGER,
		duration_ms INTEGER NOT NULL DEFAULT 0,
		error TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_job_runs_run ON job_runs(run_id);

	CREATE TABLE IF NOT EXISTS step_results (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		job_key TEXT NOT NULL,
		step_index INTEGER NOT NULL,
		name TEXT NOT NULL,
		status TEXT NOT NULL,
		exit_code INTEGER NOT NULL DEFAULT 0,
		duration_ms INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_step_results_job ON step_results(run_id, job_key);
	`
	_, err := s.db.Exec(schema)
	return err
}

// RecordRunStart inserts a new run in running state.
func (s *Store) RecordRunStart(ctx context.Context, run *Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, workflow, repo, branch, sha, triggered_by, status, started_at, jobs_total)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Workflow, run.Repo, run.Branch, run.SHA,
		run.TriggeredBy, run.Status, run.StartedAt.UnixMilli(), run.JobsTotal,
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// RecordRunFinish updates the run with its terminal status and counters.
// The run's FinishedAt must be set.
func (s *Store) RecordRunFinish(ctx context.Context, run *Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if run.FinishedAt == nil {
		return fmt.Errorf("run %s has no finish time", run.ID)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, finished_at = ?, duration_ms = ?,
		 jobs_total = ?, jobs_failed = ?, wheels = ?, error = ? WHERE id = ?`,
		run.Status, run.FinishedAt.UnixMilli(), run.DurationMS,
		run.JobsTotal, run.JobsFailed, run.Wheels, run.Error, run.ID,
	)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return notFound("run " + run.ID)
	}
	return nil
}

// RecordJob inserts a completed job run.
func (s *Store) RecordJob(ctx context.Context, job *JobRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var finished sql.NullInt64
	if job.FinishedAt != nil {
		finished = sql.NullInt64{Int64: job.FinishedAt.UnixMilli(), Valid: true}
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO job_runs (run_id, job_key, job_id, target, platform, runner_label,
		 status, started_at, finished_at, duration_ms, error)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.RunID, job.Key, job.JobID, job.Target, job.Platform, job.RunnerLabel,
		job.Status, job.StartedAt.UnixMilli(), finished, job.DurationMS, job.Error,
	)
	if err != nil {
		return fmt.Errorf("insert job run: %w", err)
	}
	return nil
}

// RecordSteps inserts a job's step results in one transaction.
func (s *Store) RecordSteps(ctx context.Context, runID, jobKey string, steps []StepResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	for _, step := range steps {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO step_results (run_id, job_key, step_index, name, status, exit_code, duration_ms)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			runID, jobKey, step.Index, step.Name, step.Status, step.ExitCode, step.DurationMS,
		)
		if err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("insert step result: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit step results: %w", err)
	}
	return nil
}

// RecordAll persists a finished run with its jobs and steps in one call.
// Every record is attempted; failures are joined so one broken insert does
// not hide the rest of the run.
func (s *Store) RecordAll(ctx context.Context, run *Run, jobs []*JobRun, steps []StepResult) error {
	var errs []error
	if err := s.RecordRunStart(ctx, run); err != nil {
		return err
	}
	for _, job := range jobs {
		if err := s.RecordJob(ctx, job); err != nil {
			errs = append(errs, fmt.Errorf("job %s: %w", job.Key, err))
		}
	}
	byJob := make(map[string][]StepResult)
	for _, step := range steps {
		byJob[step.JobKey] = append(byJob[step.JobKey], step)
	}
	for key, group := range byJob {
		if err := s.RecordSteps(ctx, run.ID, key, group); err != nil {
			errs = append(errs, fmt.Errorf("steps of %s: %w", key, err))
		}
	}
	if run.FinishedAt != nil {
		if err := s.RecordRunFinish(ctx, run); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// RunByID loads one run.
func (s *Store) RunByID(ctx context.Context, id string) (*Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx,
		`SELECT id, workflow, repo, branch, sha, triggered_by, status,
		 started_at, finished_at, duration_ms, jobs_total, jobs_failed, wheels, error
		 FROM runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, notFound("run " + id)
	}
	if err != nil {
		return nil, fmt.Errorf("query run: %w", err)
	}
	return run, nil
}

// RecentRuns returns the newest runs first, at most n.
func (s *Store) RecentRuns(ctx context.Context, n int) ([]*Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if n <= 0 {
		n = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, workflow, repo, branch, sha, triggered_by, status,
		 started_at, finished_at, duration_ms, jobs_total, jobs_failed, wheels, error
		 FROM runs ORDER BY started_at DESC, id DESC LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}

// JobsForRun returns a run's job runs in insertion order.
func (s *Store) JobsForRun(ctx context.Context, runID string) ([]*JobRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, job_key, job_id, target, platform, runner_label,
		 status, started_at, finished_at, duration_ms, error
		 FROM job_runs WHERE run_id = ? ORDER BY id`, runID)
	if err != nil {
		return nil, fmt.Errorf("query job runs: %w", err)
	}
	defer rows.Close()

	var jobs []*JobRun
	for rows.Next() {
		var j JobRun
		var started int64
		var finished sql.NullInt64
		var target, platform, label, errMsg sql.NullString
		err := rows.Scan(&j.RunID, &j.Key, &j.JobID, &target, &platform, &label,
			&j.Status, &started, &finished, &j.DurationMS, &errMsg)
		if err != nil {
			return nil, fmt.Errorf("scan job run: %w", err)
		}
		j.Target, j.Platform, j.RunnerLabel, j.Error = target.String, platform.String, label.String, errMsg.String
		j.StartedAt = time.UnixMilli(started)
		if finished.Valid {
			t := time.UnixMilli(finished.Int64)
			j.FinishedAt = &t
		}
		jobs = append(jobs, &j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate job runs: %w", err)
	}
	return jobs, nil
}

// StepsForJob returns a job run's step results in step order.
func (s *Store) StepsForJob(ctx context.Context, runID, jobKey string) ([]StepResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, job_key, step_index, name, status, exit_code, duration_ms
		 FROM step_results WHERE run_id = ? AND job_key = ? ORDER BY step_index`,
		runID, jobKey)
	if err != nil {
		return nil, fmt.Errorf("query step results: %w", err)
	}
	defer rows.Close()

	var steps []StepResult
	for rows.Next() {
		var st StepResult
		err := rows.Scan(&st.RunID, &st.JobKey, &st.Index, &st.Name, &st.Status,
			&st.ExitCode, &st.DurationMS)
		if err != nil {
			return nil, fmt.Errorf("scan step result: %w", err)
		}
		steps = append(steps, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate step results: %w", err)
	}
	return steps, nil
}

// Prune deletes all but the newest keep runs, including their job runs and
// step results, and returns how many runs were deleted.
func (s *Store) Prune(ctx context.Context, keep int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if keep < 0 {
		keep = 0
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin transaction: %w", err)
	}

	rows, err := tx.QueryContext(ctx,
		`SELECT id FROM runs ORDER BY started_at DESC, id DESC LIMIT -1 OFFSET ?`, keep)
	if err != nil {
		_ = tx.Rollback()
		return 0, fmt.Errorf("query prunable runs: %w", err)
	}
	var stale []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			_ = rows.Close()
			_ = tx.Rollback()
			return 0, fmt.Errorf("scan run id: %w", err)
		}
		stale = append(stale, id)
	}
	_ = rows.Close()
	if err := rows.Err(); err != nil {
		_ = tx.Rollback()
		return 0, fmt.Errorf("iterate run ids: %w", err)
	}

	for _, id := range stale {
		for _, stmt := range []string{
			`DELETE FROM step_results WHERE run_id = ?`,
			`DELETE FROM job_runs WHERE run_id = ?`,
			`DELETE FROM runs WHERE id = ?`,
		} {
			if _, err := tx.ExecContext(ctx, stmt, id); err != nil {
				_ = tx.Rollback()
				return 0, fmt.Errorf("delete run %s: %w", id, err)
			}
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit prune: %w", err)
	}
	return len(stale), nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*Run, error) {
	var r Run
	var started int64
	var finished sql.NullInt64
	var repo, branch, sha, errMsg sql.NullString
	err := row.Scan(&r.ID, &r.Workflow, &repo, &branch, &sha, &r.TriggeredBy, &r.Status,
		&started, &finished, &r.DurationMS, &r.JobsTotal, &r.JobsFailed, &r.Wheels, &errMsg)
	if err != nil {
		return nil, err
	}
	r.Repo, r.Branch, r.SHA, r.Error = repo.String, branch.String, sha.String, errMsg.String
	r.StartedAt = time.UnixMilli(started)
	if finished.Valid {
		t := time.UnixMilli(finished.Int64)
		r.FinishedAt = &t
	}
	return &r, nil
}

func notFound(what string) error {
	return wwerrors.New(wwerrors.CategoryNotFound, wwerrors.SeverityError, what+" not found")
}
