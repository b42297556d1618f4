package sweep

import (
	"context"
	"fmt"

	"github.com/dshills/optisweep-go/sweep/emit"
)

// WorkerError classifies a runner failure. Kind selects the task error type:
// "param" fails the task permanently, "upstream" retries with backoff,
// anything else maps to an internal error (also retried).
type WorkerError struct {
	Kind    string
	Message string
}

func (e *WorkerError) Error() string { return e.Message }

// Runner evaluates one task and returns its result payload. Accepted shapes:
//
//	nil                      unscored success
//	float64 / int / Number   bare score
//	RunResult / *RunResult   score plus result summary id
//	map[string]any           keys "score" and "resultSummaryId"
//	[]any                    [score, resultSummaryId]
//
// A returned *WorkerError controls the failure classification; any other
// error (or panic) is recorded as an internal error.
type Runner func(ctx context.Context, task *TaskView) (any, error)

// RunResult is the typed runner result.
type RunResult struct {
	Score           *float64
	ResultSummaryID string
}

// WorkReport describes one completed ProcessNext cycle.
type WorkReport struct {
	Status          string    `json:"status"` // succeeded or failed
	TaskID          string    `json:"taskId"`
	JobID           string    `json:"jobId"`
	TaskStatus      Status    `json:"taskStatus"`
	Score           *float64  `json:"score,omitempty"`
	ResultSummaryID *string   `json:"resultSummaryId,omitempty"`
	ErrorCode       ErrorType `json:"error,omitempty"`
	Retries         int       `json:"retries"`
}

// ProcessNext runs one dispatch cycle for the owner: dequeue, execute, record
// the outcome. Returns (nil, nil) when no task is ready. Runner panics are
// recovered and recorded as internal errors, so a worker loop survives
// misbehaving strategy code.
func (c *Core) ProcessNext(ctx context.Context, ownerID string, runner Runner) (*WorkReport, error) {
	task, err := c.DequeueNext(ctx, ownerID, "")
	if err != nil {
		return nil, err
	}
	if task == nil {
		c.metrics.Emit(emit.Metric{
			Name: "active_jobs",
			Tags: map[string]string{"ownerId": ownerID},
		})
		return nil, nil
	}

	tags := map[string]string{"jobId": task.JobID, "taskId": task.ID, "ownerId": ownerID}
	if createdAt, ok := parseISO(task.CreatedAt); ok {
		wait := c.now().UTC().Sub(createdAt).Seconds()
		if wait < 0 {
			wait = 0
		}
		c.metrics.Emit(emit.Metric{Name: "queue_wait_seconds", Value: wait, Tags: tags})
	}

	timer := c.logger.Start(task.JobID, ownerID, task.Retries)
	score, summaryID, runErr := executeRunner(ctx, runner, task)

	var view *TaskView
	var code ErrorType
	if runErr == nil {
		view, err = c.MarkTaskSucceeded(ctx, task.JobID, task.ID, score, summaryID)
		if err != nil {
			return nil, err
		}
		c.logger.End(task.JobID, ownerID, timer)
	} else {
		var message string
		code, message = classifyRunnerError(runErr)
		view, err = c.MarkTaskFailed(ctx, task.JobID, task.ID, code, message)
		if err != nil {
			return nil, err
		}
		c.logger.Error(task.JobID, ownerID, string(code), message, view.Retries)
	}

	c.metrics.Emit(emit.Metric{Name: "job_exec_seconds", Value: timer.Ms() / 1000, Tags: tags})
	c.metrics.Emit(emit.Metric{Name: "job_retry_total", Value: float64(view.Retries), Tags: tags})
	if report, statusErr := c.JobStatus(ctx, task.JobID, ownerID); statusErr == nil {
		c.metrics.Emit(emit.Metric{
			Name:  "active_jobs",
			Value: float64(report.Summary.Running),
			Tags:  map[string]string{"jobId": task.JobID, "ownerId": ownerID},
		})
	}

	report := &WorkReport{
		TaskID:     task.ID,
		JobID:      task.JobID,
		TaskStatus: view.Status,
		Retries:    view.Retries,
	}
	if runErr == nil {
		report.Status = "succeeded"
		report.Score = view.Score
		report.ResultSummaryID = view.ResultSummaryID
	} else {
		report.Status = "failed"
		report.ErrorCode = code
	}
	return report, nil
}

func executeRunner(ctx context.Context, runner Runner, task *TaskView) (score *float64, summaryID string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("runner panic: %v", r)
		}
	}()
	result, err := runner(ctx, task)
	if err != nil {
		return nil, "", err
	}
	return normalizeRunnerResult(result)
}

// normalizeRunnerResult coerces the accepted result shapes into a score and
// result summary id.
func normalizeRunnerResult(result any) (*float64, string, error) {
	switch v := result.(type) {
	case nil:
		return nil, "", nil
	case RunResult:
		return v.Score, v.ResultSummaryID, nil
	case *RunResult:
		if v == nil {
			return nil, "", nil
		}
		return v.Score, v.ResultSummaryID, nil
	case map[string]any:
		var score *float64
		if raw, ok := v["score"]; ok && raw != nil {
			f, ok := toFloat(raw)
			if !ok {
				return nil, "", &WorkerError{Kind: "internal", Message: "runner returned a non-numeric score"}
			}
			score = &f
		}
		summaryID := ""
		if raw, ok := v["resultSummaryId"]; ok && raw != nil {
			if s, ok := raw.(string); ok {
				summaryID = s
			} else {
				summaryID = fmt.Sprintf("%v", raw)
			}
		}
		return score, summaryID, nil
	case []any:
		var score *float64
		summaryID := ""
		if len(v) > 0 && v[0] != nil {
			f, ok := toFloat(v[0])
			if !ok {
				return nil, "", &WorkerError{Kind: "internal", Message: "runner returned a non-numeric score"}
			}
			score = &f
		}
		if len(v) > 1 && v[1] != nil {
			if s, ok := v[1].(string); ok {
				summaryID = s
			} else {
				summaryID = fmt.Sprintf("%v", v[1])
			}
		}
		return score, summaryID, nil
	default:
		if f, ok := toFloat(result); ok {
			return &f, "", nil
		}
		return nil, "", &WorkerError{Kind: "internal", Message: "runner returned an unsupported result payload"}
	}
}

// maxRunnerMessage bounds unclassified runner error messages.
const maxRunnerMessage = 200

func classifyRunnerError(err error) (ErrorType, string) {
	if we, ok := err.(*WorkerError); ok {
		switch we.Kind {
		case "param":
			return ParamError, we.Message
		case "upstream":
			return UpstreamError, we.Message
		default:
			return InternalError, we.Message
		}
	}
	message := err.Error()
	if len(message) > maxRunnerMessage {
		message = message[:maxRunnerMessage]
	}
	return InternalError, message
}
