package store

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// SQLiteMirror is a SQLite implementation of Mirror.
//
// Designed for:
//   - Development and testing with zero setup (":memory:" works)
//   - Single-process deployments persisting across restarts
//
// The database uses WAL mode so status reads don't block the write-through
// path. SQLite has no native JSON column type; JSON payloads live in TEXT
// columns.
type SQLiteMirror struct {
	db *sql.DB
}

// NewSQLiteMirror opens (creating if needed) the database at path and
// migrates the schema.
//
// Example:
//
//	mirror, err := store.NewSQLiteMirror("./optimizations.db")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer mirror.Close()
func NewSQLiteMirror(path string) (*SQLiteMirror, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite connection: %w", err)
	}

	// SQLite supports one writer at a time.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	ctx := context.Background()
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	m := &SQLiteMirror{db: db}
	if err := m.createTables(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return m, nil
}

func (m *SQLiteMirror) createTables(ctx context.Context) error {
	jobsTable := `
		CREATE TABLE IF NOT EXISTS optimization_jobs (
			id TEXT PRIMARY KEY,
			owner_id TEXT NOT NULL,
			strategy_version_id TEXT NOT NULL,
			param_space TEXT NOT NULL,
			concurrency_limit INTEGER NOT NULL,
			early_stop_policy TEXT,
			status TEXT NOT NULL,
			total_tasks INTEGER,
			estimate INTEGER,
			summary TEXT,
			created_at TEXT,
			updated_at TEXT
		)
	`
	if _, err := m.db.ExecContext(ctx, jobsTable); err != nil {
		return fmt.Errorf("failed to create optimization_jobs table: %w", err)
	}

	tasksTable := `
		CREATE TABLE IF NOT EXISTS optimization_tasks (
			id TEXT PRIMARY KEY,
			job_id TEXT NOT NULL,
			owner_id TEXT NOT NULL,
			strategy_version_id TEXT NOT NULL,
			param_set TEXT NOT NULL,
			status TEXT NOT NULL,
			progress REAL,
			retries INTEGER NOT NULL DEFAULT 0,
			next_run_at TEXT,
			throttled INTEGER NOT NULL DEFAULT 0,
			error TEXT,
			last_error TEXT,
			result_summary_id TEXT,
			score REAL,
			created_at TEXT,
			updated_at TEXT
		)
	`
	if _, err := m.db.ExecContext(ctx, tasksTable); err != nil {
		return fmt.Errorf("failed to create optimization_tasks table: %w", err)
	}
	if _, err := m.db.ExecContext(ctx, "CREATE INDEX IF NOT EXISTS idx_tasks_job_id ON optimization_tasks(job_id)"); err != nil {
		return fmt.Errorf("failed to create idx_tasks_job_id: %w", err)
	}
	return nil
}

// PersistJob inserts the job row and its task rows in one transaction.
func (m *SQLiteMirror) PersistJob(ctx context.Context, job JobRecord, tasks []TaskRecord) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO optimization_jobs
			(id, owner_id, strategy_version_id, param_space, concurrency_limit,
			 early_stop_policy, status, total_tasks, estimate, summary, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.OwnerID, job.VersionID, job.ParamSpace, job.ConcurrencyLimit,
		job.EarlyStopPolicy, job.Status, job.TotalTasks, job.Estimate, job.Summary,
		job.CreatedAt, job.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert job %s: %w", job.ID, err)
	}

	for _, task := range tasks {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO optimization_tasks
				(id, job_id, owner_id, strategy_version_id, param_set, status, progress,
				 retries, next_run_at, throttled, error, last_error, result_summary_id,
				 score, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			task.ID, task.JobID, task.OwnerID, task.VersionID, task.ParamSet, task.Status,
			task.Progress, task.Retries, task.NextRunAt, task.Throttled, task.Error,
			task.LastError, task.ResultSummaryID, task.Score, task.CreatedAt, task.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert task %s: %w", task.ID, err)
		}
	}
	return tx.Commit()
}

// UpdateJob rewrites the mutable job columns.
func (m *SQLiteMirror) UpdateJob(ctx context.Context, job JobRecord) error {
	_, err := m.db.ExecContext(ctx, `
		UPDATE optimization_jobs
		SET status = ?, total_tasks = ?, estimate = ?, summary = ?, updated_at = ?
		WHERE id = ?`,
		job.Status, job.TotalTasks, job.Estimate, job.Summary, job.UpdatedAt, job.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update job %s: %w", job.ID, err)
	}
	return nil
}

// UpdateTask rewrites the mutable task columns.
func (m *SQLiteMirror) UpdateTask(ctx context.Context, task TaskRecord) error {
	_, err := m.db.ExecContext(ctx, `
		UPDATE optimization_tasks
		SET status = ?, progress = ?, retries = ?, next_run_at = ?, throttled = ?,
		    error = ?, last_error = ?, result_summary_id = ?, score = ?, updated_at = ?
		WHERE id = ?`,
		task.Status, task.Progress, task.Retries, task.NextRunAt, task.Throttled,
		task.Error, task.LastError, task.ResultSummaryID, task.Score, task.UpdatedAt, task.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update task %s: %w", task.ID, err)
	}
	return nil
}

// LoadAll reads every persisted job and task for rehydration.
func (m *SQLiteMirror) LoadAll(ctx context.Context) ([]JobRecord, map[string][]TaskRecord, error) {
	jobRows, err := m.db.QueryContext(ctx, `
		SELECT id, owner_id, strategy_version_id, param_space, concurrency_limit,
		       early_stop_policy, status, total_tasks, estimate, summary, created_at, updated_at
		FROM optimization_jobs
		ORDER BY created_at, id`)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load jobs: %w", err)
	}
	defer jobRows.Close()

	var jobs []JobRecord
	for jobRows.Next() {
		job, err := scanJob(jobRows)
		if err != nil {
			return nil, nil, err
		}
		jobs = append(jobs, job)
	}
	if err := jobRows.Err(); err != nil {
		return nil, nil, err
	}

	taskRows, err := m.db.QueryContext(ctx, `
		SELECT id, job_id, owner_id, strategy_version_id, param_set, status, progress,
		       retries, next_run_at, throttled, error, last_error, result_summary_id,
		       score, created_at, updated_at
		FROM optimization_tasks
		ORDER BY created_at, id`)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load tasks: %w", err)
	}
	defer taskRows.Close()

	tasks := make(map[string][]TaskRecord)
	for taskRows.Next() {
		task, err := scanTask(taskRows)
		if err != nil {
			return nil, nil, err
		}
		tasks[task.JobID] = append(tasks[task.JobID], task)
	}
	if err := taskRows.Err(); err != nil {
		return nil, nil, err
	}
	return jobs, tasks, nil
}

// Reset deletes all task rows then all job rows.
func (m *SQLiteMirror) Reset(ctx context.Context) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()
	if _, err := tx.ExecContext(ctx, "DELETE FROM optimization_tasks"); err != nil {
		return fmt.Errorf("failed to delete tasks: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM optimization_jobs"); err != nil {
		return fmt.Errorf("failed to delete jobs: %w", err)
	}
	return tx.Commit()
}

// Close closes the database.
func (m *SQLiteMirror) Close() error {
	return m.db.Close()
}
