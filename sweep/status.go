// Package sweep implements the optimization job orchestrator: it expands a
// declarative parameter space into a bounded set of evaluation tasks,
// dispatches them under a per-job concurrency cap with exponential-backoff
// retries, aggregates scored results into a Top-N leaderboard, and enforces
// early-stop and cancellation as terminal transitions.
package sweep

// Status is the lifecycle state shared by jobs and tasks.
//
// The set is closed. Jobs and tasks only move between states through the
// orchestrator entry points on Core.
type Status string

const (
	StatusQueued       Status = "queued"
	StatusRunning      Status = "running"
	StatusSucceeded    Status = "succeeded"
	StatusFailed       Status = "failed"
	StatusEarlyStopped Status = "early-stopped"
	StatusCanceled     Status = "canceled"
)

// Terminal reports whether the status counts as finished. Terminal tasks are
// never dispatched again and contribute to the summary's finished count.
func (s Status) Terminal() bool {
	switch s {
	case StatusSucceeded, StatusFailed, StatusEarlyStopped, StatusCanceled:
		return true
	}
	return false
}

// ErrorType classifies a task-level failure reported by a worker.
type ErrorType string

const (
	// ParamError marks a failure caused by the parameter set itself.
	// Never retried.
	ParamError ErrorType = "PARAM_ERROR"

	// UpstreamError marks a transient failure in an upstream dependency.
	UpstreamError ErrorType = "UPSTREAM_ERROR"

	// InternalError marks an unexpected failure inside the runner.
	InternalError ErrorType = "INTERNAL_ERROR"
)

// Retryable reports whether a failure of this type is eligible for retry,
// subject to the configured retry budget.
func (e ErrorType) Retryable() bool {
	return e == UpstreamError || e == InternalError
}

// StopKind identifies why a job was locked into a terminal state.
type StopKind string

const (
	StopKindCanceled           StopKind = "CANCELED"
	StopKindEarlyStopThreshold StopKind = "EARLY_STOP_THRESHOLD"
)

// StopMode is the ordering direction of an early-stop policy and of the
// Top-N leaderboard.
type StopMode string

const (
	ModeMin StopMode = "min"
	ModeMax StopMode = "max"
)
