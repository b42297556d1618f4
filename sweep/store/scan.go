package store

import (
	"database/sql"
	"fmt"
)

// scanJob and scanTask are shared by the SQLite and MySQL mirrors; both use
// identical column orders in their SELECTs.

func scanJob(rows *sql.Rows) (JobRecord, error) {
	var (
		job       JobRecord
		policy    []byte
		summary   []byte
		total     sql.NullInt64
		estimate  sql.NullInt64
		createdAt sql.NullString
		updatedAt sql.NullString
	)
	err := rows.Scan(
		&job.ID, &job.OwnerID, &job.VersionID, &job.ParamSpace, &job.ConcurrencyLimit,
		&policy, &job.Status, &total, &estimate, &summary, &createdAt, &updatedAt,
	)
	if err != nil {
		return JobRecord{}, fmt.Errorf("failed to scan job row: %w", err)
	}
	job.EarlyStopPolicy = policy
	job.Summary = summary
	job.TotalTasks = int(total.Int64)
	job.Estimate = int(estimate.Int64)
	job.CreatedAt = createdAt.String
	job.UpdatedAt = updatedAt.String
	return job, nil
}

func scanTask(rows *sql.Rows) (TaskRecord, error) {
	var (
		task      TaskRecord
		progress  sql.NullFloat64
		nextRunAt sql.NullString
		errCol    []byte
		lastErr   []byte
		resultID  sql.NullString
		score     sql.NullFloat64
		createdAt sql.NullString
		updatedAt sql.NullString
	)
	err := rows.Scan(
		&task.ID, &task.JobID, &task.OwnerID, &task.VersionID, &task.ParamSet, &task.Status,
		&progress, &task.Retries, &nextRunAt, &task.Throttled, &errCol, &lastErr,
		&resultID, &score, &createdAt, &updatedAt,
	)
	if err != nil {
		return TaskRecord{}, fmt.Errorf("failed to scan task row: %w", err)
	}
	if progress.Valid {
		task.Progress = &progress.Float64
	}
	task.NextRunAt = nextRunAt.String
	task.Error = errCol
	task.LastError = lastErr
	if resultID.Valid && resultID.String != "" {
		task.ResultSummaryID = &resultID.String
	}
	if score.Valid {
		task.Score = &score.Float64
	}
	task.CreatedAt = createdAt.String
	task.UpdatedAt = updatedAt.String
	return task, nil
}
