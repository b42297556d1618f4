package sweep

import (
	"time"
)

// isoLayout is the serialization layout for timestamps: naive UTC ISO-8601
// with microsecond precision.
const isoLayout = "2006-01-02T15:04:05.000000"

func isoUTC(t time.Time) string {
	return t.UTC().Format(isoLayout)
}

// parseISO accepts the layouts the orchestrator itself writes plus RFC3339
// variants a foreign writer may have stored. Offsets are coerced to naive
// UTC by dropping the zone.
func parseISO(value string) (time.Time, bool) {
	layouts := []string{
		isoLayout,
		"2006-01-02T15:04:05",
		time.RFC3339Nano,
		time.RFC3339,
	}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, value); err == nil {
			return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), time.UTC), true
		}
	}
	return time.Time{}, false
}

// EarlyStopPolicy locks a job as early-stopped once the best observed score
// crosses the threshold in the policy's direction. Immutable once set.
type EarlyStopPolicy struct {
	Metric    string   `json:"metric"`
	Threshold float64  `json:"threshold"`
	Mode      StopMode `json:"mode"`
}

// TaskError is the last failure recorded for a task.
type TaskError struct {
	Code    ErrorType `json:"code"`
	Message string    `json:"message"`
}

// StopReason records why a job was locked.
type StopReason struct {
	Kind      StopKind `json:"kind"`
	Reason    string   `json:"reason,omitempty"`
	Metric    string   `json:"metric,omitempty"`
	Threshold *float64 `json:"threshold,omitempty"`
	Score     *float64 `json:"score,omitempty"`
	Mode      StopMode `json:"mode,omitempty"`
}

// TopEntry is one leaderboard row.
type TopEntry struct {
	TaskID          string  `json:"taskId"`
	Score           float64 `json:"score"`
	ResultSummaryID string  `json:"resultSummaryId,omitempty"`
}

// Summary aggregates a job's task states plus the Top-N leaderboard.
type Summary struct {
	Total     int        `json:"total"`
	Finished  int        `json:"finished"`
	Running   int        `json:"running"`
	Throttled int        `json:"throttled"`
	TopN      []TopEntry `json:"topN"`
}

func (s Summary) equal(o Summary) bool {
	if s.Total != o.Total || s.Finished != o.Finished || s.Running != o.Running || s.Throttled != o.Throttled {
		return false
	}
	if len(s.TopN) != len(o.TopN) {
		return false
	}
	for i := range s.TopN {
		if s.TopN[i] != o.TopN[i] {
			return false
		}
	}
	return true
}

// Task is a single parameter-set evaluation. Owned by the in-memory store;
// mutated only under the core lock.
type Task struct {
	ID              string
	JobID           string
	OwnerID         string
	VersionID       string
	Params          map[string]any
	Status          Status
	Progress        *float64
	Retries         int
	Throttled       bool
	NextRunAt       time.Time
	Score           *float64
	ResultSummaryID string
	Err             *TaskError
	LastErr         *TaskError
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Job is one optimization run over a parameter grid.
type Job struct {
	ID               string
	OwnerID          string
	VersionID        string
	ParamSpace       ParamSpace
	ConcurrencyLimit int
	Policy           *EarlyStopPolicy
	Status           Status
	TotalTasks       int
	Estimate         int
	Summary          Summary
	LockedStatus     Status // empty while the job is live
	StopReason       *StopReason
	SourceJobID      string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Locked reports whether the job reached a terminal lock.
func (j *Job) Locked() bool { return j.LockedStatus != "" }

// Artifact references one exported file of a result summary.
type Artifact struct {
	Type string `json:"type"`
	URL  string `json:"url"`
}

// ResultSummary is the derived record describing the artifacts of a finished
// scored task. Created lazily the first time a task declaring a
// resultSummaryId succeeds.
type ResultSummary struct {
	ID             string             `json:"id"`
	OwnerID        string             `json:"ownerId"`
	Metrics        map[string]float64 `json:"metrics"`
	Artifacts      []Artifact         `json:"artifacts"`
	EquityCurveRef string             `json:"equityCurveRef"`
	TradesRef      string             `json:"tradesRef"`
	CreatedAt      string             `json:"createdAt"`
}

// TaskView is the task representation returned to workers and serialized by
// the HTTP adapter. It is a value copy; mutating it does not touch the store.
type TaskView struct {
	ID              string         `json:"id"`
	JobID           string         `json:"jobId"`
	OwnerID         string         `json:"ownerId"`
	VersionID       string         `json:"versionId"`
	Params          map[string]any `json:"params"`
	Status          Status         `json:"status"`
	Progress        *float64       `json:"progress"`
	Retries         int            `json:"retries"`
	Error           *TaskError     `json:"error"`
	ResultSummaryID *string        `json:"resultSummaryId"`
	Score           *float64       `json:"score"`
	Throttled       bool           `json:"throttled"`
	NextRunAt       string         `json:"nextRunAt"`
	LastError       *TaskError     `json:"lastError"`
	CreatedAt       string         `json:"createdAt"`
	UpdatedAt       string         `json:"updatedAt"`
}

// CreateReceipt is the response of CreateJob.
type CreateReceipt struct {
	ID          string  `json:"id"`
	Status      Status  `json:"status"`
	Throttled   bool    `json:"throttled"`
	TotalTasks  int     `json:"totalTasks"`
	SourceJobID *string `json:"sourceJobId"`
}

// Diagnostics is the operational detail block of a status report.
type Diagnostics struct {
	Throttled  bool        `json:"throttled"`
	QueueDepth int         `json:"queueDepth"`
	Running    int         `json:"running"`
	Final      bool        `json:"final,omitempty"`
	StopReason *StopReason `json:"stopReason,omitempty"`
}

// StatusReport is the response of JobStatus.
type StatusReport struct {
	ID               string           `json:"id"`
	Status           Status           `json:"status"`
	TotalTasks       int              `json:"totalTasks"`
	ConcurrencyLimit int              `json:"concurrencyLimit"`
	Summary          Summary          `json:"summary"`
	Diagnostics      Diagnostics      `json:"diagnostics"`
	EarlyStopPolicy  *EarlyStopPolicy `json:"earlyStopPolicy"`
	SourceJobID      *string          `json:"sourceJobId"`
}

// Snapshot extends the status report with the original paramSpace and
// timestamps. Used for resume and duplicate flows.
type Snapshot struct {
	ID               string           `json:"id"`
	OwnerID          string           `json:"ownerId"`
	VersionID        string           `json:"versionId"`
	ParamSpace       ParamSpace       `json:"paramSpace"`
	ConcurrencyLimit int              `json:"concurrencyLimit"`
	EarlyStopPolicy  *EarlyStopPolicy `json:"earlyStopPolicy"`
	Status           Status           `json:"status"`
	TotalTasks       int              `json:"totalTasks"`
	Summary          Summary          `json:"summary"`
	CreatedAt        string           `json:"createdAt"`
	UpdatedAt        string           `json:"updatedAt"`
	SourceJobID      *string          `json:"sourceJobId"`
}

// BundleItem joins one leaderboard entry with its parameters and result
// summary.
type BundleItem struct {
	TaskID          string             `json:"taskId"`
	Score           float64            `json:"score"`
	Params          map[string]any     `json:"params"`
	ResultSummaryID *string            `json:"resultSummaryId"`
	Metrics         map[string]float64 `json:"metrics"`
	Artifacts       []Artifact         `json:"artifacts"`
}

// Bundle is the Top-N export of a job.
type Bundle struct {
	JobID       string       `json:"jobId"`
	Status      Status       `json:"status"`
	GeneratedAt string       `json:"generatedAt"`
	Summary     Summary      `json:"summary"`
	Items       []BundleItem `json:"items"`
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func float64Ptr(v float64) *float64 { return &v }

func copyParams(params map[string]any) map[string]any {
	out := make(map[string]any, len(params))
	for k, v := range params {
		out[k] = v
	}
	return out
}

func taskView(task *Task) *TaskView {
	return &TaskView{
		ID:              task.ID,
		JobID:           task.JobID,
		OwnerID:         task.OwnerID,
		VersionID:       task.VersionID,
		Params:          copyParams(task.Params),
		Status:          task.Status,
		Progress:        task.Progress,
		Retries:         task.Retries,
		Error:           task.Err,
		ResultSummaryID: optionalString(task.ResultSummaryID),
		Score:           task.Score,
		Throttled:       task.Throttled,
		NextRunAt:       isoUTC(task.NextRunAt),
		LastError:       task.LastErr,
		CreatedAt:       isoUTC(task.CreatedAt),
		UpdatedAt:       isoUTC(task.UpdatedAt),
	}
}

func copySummary(s Summary) Summary {
	out := s
	out.TopN = make([]TopEntry, len(s.TopN))
	copy(out.TopN, s.TopN)
	return out
}
