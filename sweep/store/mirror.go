// Package store provides the optional relational mirror for orchestrator
// state. The in-memory store stays authoritative at runtime; the mirror is a
// write-through copy used to rehydrate after a restart.
package store

import "context"

// JobRecord is one row of the optimization_jobs table. Nested objects
// (param space, policy, summary) are stored as JSON columns; timestamps are
// naive UTC ISO-8601 strings.
type JobRecord struct {
	ID               string
	OwnerID          string
	VersionID        string
	ParamSpace       []byte
	ConcurrencyLimit int
	EarlyStopPolicy  []byte // nil when the job has no policy
	Status           string
	TotalTasks       int
	Estimate         int
	Summary          []byte
	CreatedAt        string
	UpdatedAt        string
}

// TaskRecord is one row of the optimization_tasks table.
type TaskRecord struct {
	ID              string
	JobID           string
	OwnerID         string
	VersionID       string
	ParamSet        []byte
	Status          string
	Progress        *float64
	Retries         int
	NextRunAt       string
	Throttled       bool
	Error           []byte
	LastError       []byte
	ResultSummaryID *string
	Score           *float64
	CreatedAt       string
	UpdatedAt       string
}

// Mirror mirrors orchestrator state to a relational store.
//
// Callers treat every write as best effort: the orchestrator swallows mirror
// errors and keeps serving from memory. LoadAll is the rehydration path and
// must return jobs ordered by creation time and each job's tasks ordered by
// creation time then id.
type Mirror interface {
	// PersistJob inserts a new job row plus its task rows in one
	// transaction.
	PersistJob(ctx context.Context, job JobRecord, tasks []TaskRecord) error

	// UpdateJob rewrites the mutable columns of a job row.
	UpdateJob(ctx context.Context, job JobRecord) error

	// UpdateTask rewrites the mutable columns of a task row.
	UpdateTask(ctx context.Context, task TaskRecord) error

	// LoadAll reads every persisted job and task for rehydration.
	LoadAll(ctx context.Context) ([]JobRecord, map[string][]TaskRecord, error)

	// Reset deletes all task rows then all job rows.
	Reset(ctx context.Context) error

	// Close releases the underlying connection pool.
	Close() error
}
