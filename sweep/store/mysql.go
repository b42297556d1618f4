package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
)

// MySQLMirror is a MySQL implementation of Mirror for multi-restart
// production deployments. Nested objects use native JSON columns.
//
// The DSN follows the go-sql-driver format:
//
//	user:password@tcp(host:3306)/dbname
type MySQLMirror struct {
	db *sql.DB
}

// NewMySQLMirror opens a connection pool against the DSN and migrates the
// schema. The connection is verified with a ping so misconfiguration
// surfaces at startup rather than on the first swallowed write.
func NewMySQLMirror(dsn string) (*MySQLMirror, error) {
	if dsn == "" {
		return nil, fmt.Errorf("mysql DSN is required")
	}
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open MySQL connection: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping MySQL: %w", err)
	}

	m := &MySQLMirror{db: db}
	if err := m.createTables(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return m, nil
}

func (m *MySQLMirror) createTables(ctx context.Context) error {
	jobsTable := `
		CREATE TABLE IF NOT EXISTS optimization_jobs (
			id VARCHAR(64) PRIMARY KEY,
			owner_id VARCHAR(128) NOT NULL,
			strategy_version_id VARCHAR(128) NOT NULL,
			param_space JSON NOT NULL,
			concurrency_limit INT NOT NULL,
			early_stop_policy JSON,
			status VARCHAR(32) NOT NULL,
			total_tasks INT,
			estimate INT,
			summary JSON,
			created_at VARCHAR(32),
			updated_at VARCHAR(32)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4
	`
	if _, err := m.db.ExecContext(ctx, jobsTable); err != nil {
		return fmt.Errorf("failed to create optimization_jobs table: %w", err)
	}

	tasksTable := `
		CREATE TABLE IF NOT EXISTS optimization_tasks (
			id VARCHAR(64) PRIMARY KEY,
			job_id VARCHAR(64) NOT NULL,
			owner_id VARCHAR(128) NOT NULL,
			strategy_version_id VARCHAR(128) NOT NULL,
			param_set JSON NOT NULL,
			status VARCHAR(32) NOT NULL,
			progress DOUBLE,
			retries INT NOT NULL DEFAULT 0,
			next_run_at VARCHAR(32),
			throttled TINYINT(1) NOT NULL DEFAULT 0,
			error JSON,
			last_error JSON,
			result_summary_id VARCHAR(64),
			score DOUBLE,
			created_at VARCHAR(32),
			updated_at VARCHAR(32),
			INDEX idx_tasks_job_id (job_id)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4
	`
	if _, err := m.db.ExecContext(ctx, tasksTable); err != nil {
		return fmt.Errorf("failed to create optimization_tasks table: %w", err)
	}
	return nil
}

// PersistJob inserts the job row and its task rows in one transaction.
func (m *MySQLMirror) PersistJob(ctx context.Context, job JobRecord, tasks []TaskRecord) error {
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
func (m *MySQLMirror) UpdateJob(ctx context.Context, job JobRecord) error {
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
func (m *MySQLMirror) UpdateTask(ctx context.Context, task TaskRecord) error {
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
func (m *MySQLMirror) LoadAll(ctx context.Context) ([]JobRecord, map[string][]TaskRecord, error) {
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
func (m *MySQLMirror) Reset(ctx context.Context) error {
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

// Close closes the pool.
func (m *MySQLMirror) Close() error {
	return m.db.Close()
}
