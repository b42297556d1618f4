package sweep

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dshills/optisweep-go/sweep/emit"
	"github.com/dshills/optisweep-go/sweep/store"
)

// Core is the orchestrator state machine. All public operations serialize
// through one mutex; internal helpers carry the Locked suffix and assume the
// caller holds it. Work under the lock is O(tasks per job) with the
// MaxTaskCap ceiling, including the write-through to the persistence mirror.
//
// The in-memory store is authoritative at runtime. The mirror, when
// configured, receives best-effort copies and feeds rehydration after a
// restart; mirror failures are swallowed and surfaced only through the
// mirror_errors_total metric.
type Core struct {
	mu      sync.Mutex
	cfg     Config
	state   *memoryState
	mirror  store.Mirror
	metrics emit.MetricSink
	logger  *emit.Logger

	// now is the clock; tests may override it.
	now func() time.Time
}

// New creates a Core. mirror may be nil (no persistence), metrics may be nil
// (discarded), logger may be nil (silent). When a mirror is supplied the
// in-memory store is hydrated from it immediately.
func New(cfg Config, mirror store.Mirror, metrics emit.MetricSink, logger *emit.Logger) *Core {
	if metrics == nil {
		metrics = emit.NullSink{}
	}
	c := &Core{
		cfg:     cfg.sanitize(),
		state:   newMemoryState(),
		mirror:  mirror,
		metrics: metrics,
		logger:  logger,
		now:     time.Now,
	}
	if mirror != nil {
		c.mu.Lock()
		c.hydrateLocked(context.Background())
		c.mu.Unlock()
	}
	return c
}

// CreateRequest is the input of CreateJob.
type CreateRequest struct {
	OwnerID          string           `json:"ownerId"`
	VersionID        string           `json:"versionId"`
	ParamSpace       ParamSpace       `json:"paramSpace"`
	ConcurrencyLimit int              `json:"concurrencyLimit"`
	EarlyStopPolicy  *EarlyStopPolicy `json:"earlyStopPolicy"`
	Estimate         int              `json:"estimate"`
	SourceJobID      string           `json:"sourceJobId"`
}

// CreateJob validates and normalizes the parameter space, materializes the
// task set, and stores the new job. Tasks beyond the concurrency limit start
// throttled; when any do, a throttled_requests metric is emitted.
func (c *Core) CreateJob(ctx context.Context, req CreateRequest) (*CreateReceipt, error) {
	dims, computed, err := NormalizeParamSpace(req.ParamSpace, c.cfg.ParamSpaceMax)
	if err != nil {
		return nil, err
	}
	if computed > c.cfg.ParamSpaceMax {
		return nil, paramInvalid("param space too large", map[string]any{
			"limit":    c.cfg.ParamSpaceMax,
			"estimate": computed,
		})
	}
	if req.ConcurrencyLimit <= 0 {
		return nil, paramInvalid("concurrency limit must be positive", map[string]any{
			"concurrency": req.ConcurrencyLimit,
		})
	}
	if req.ConcurrencyLimit > c.cfg.ConcurrencyLimitMax {
		return nil, paramInvalid("concurrency limit exceeds maximum", map[string]any{
			"limit":     c.cfg.ConcurrencyLimitMax,
			"requested": req.ConcurrencyLimit,
		})
	}

	var policy *EarlyStopPolicy
	if req.EarlyStopPolicy != nil {
		p := *req.EarlyStopPolicy
		if p.Mode == "" {
			p.Mode = ModeMin
		}
		policy = &p
	}

	now := c.now()
	jobID := uuid.NewString()
	tasks := generateTasks(jobID, req.OwnerID, req.VersionID, dims, req.ConcurrencyLimit, now)

	estimate := req.Estimate
	if estimate <= 0 {
		estimate = computed
	}
	job := &Job{
		ID:               jobID,
		OwnerID:          req.OwnerID,
		VersionID:        req.VersionID,
		ParamSpace:       req.ParamSpace,
		ConcurrencyLimit: req.ConcurrencyLimit,
		Policy:           policy,
		Status:           StatusQueued,
		TotalTasks:       len(tasks),
		Estimate:         estimate,
		Summary:          initialSummary(tasks),
		SourceJobID:      req.SourceJobID,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	c.mu.Lock()
	c.state.addJob(job, tasks)
	c.persistCreateLocked(ctx, job, tasks)
	throttled := job.Summary.Throttled
	c.mu.Unlock()

	if throttled > 0 {
		c.metrics.Emit(emit.Metric{
			Name:  "throttled_requests",
			Value: float64(throttled),
			Tags:  map[string]string{"jobId": jobID, "ownerId": req.OwnerID},
		})
	}
	return &CreateReceipt{
		ID:          jobID,
		Status:      job.Status,
		Throttled:   throttled > 0,
		TotalTasks:  len(tasks),
		SourceJobID: optionalString(req.SourceJobID),
	}, nil
}

// DequeueNext atomically selects the next ready task and transitions it to
// running. With jobID empty, jobs are scanned in insertion order; otherwise
// only the given job is considered. Jobs owned by someone else, locked, or
// already running at their concurrency limit are skipped. Returns (nil, nil)
// when nothing is ready.
func (c *Core) DequeueNext(ctx context.Context, ownerID, jobID string) (*TaskView, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	candidates := []string{jobID}
	if jobID == "" {
		candidates = append([]string(nil), c.state.jobOrder...)
	}
	for _, jid := range candidates {
		job := c.state.jobs[jid]
		if job == nil || job.OwnerID != ownerID {
			continue
		}
		if job.Locked() {
			continue
		}
		c.activateSlotsLocked(ctx, job)
		if c.state.countStatus(jid, StatusRunning) >= job.ConcurrencyLimit {
			continue
		}
		for _, tid := range c.state.taskOrder[jid] {
			task := c.state.tasks[jid][tid]
			if task.Status != StatusQueued || task.Throttled || task.NextRunAt.After(now) {
				continue
			}
			task.Status = StatusRunning
			task.Progress = float64Ptr(0)
			task.LastErr = nil
			task.UpdatedAt = now
			job.Status = StatusRunning
			c.persistTaskLocked(ctx, task)
			c.refreshSummaryLocked(ctx, job, true)
			return taskView(task), nil
		}
	}
	return nil, nil
}

// MarkTaskSucceeded records a successful evaluation. On a locked job this is
// a no-op returning the current task view. score may be nil for unscored
// runs; a non-empty resultSummaryID triggers lazy creation of the result
// summary stub. Success is the only path that can trigger early stop.
func (c *Core) MarkTaskSucceeded(ctx context.Context, jobID, taskID string, score *float64, resultSummaryID string) (*TaskView, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	job, task, err := c.jobAndTaskLocked(jobID, taskID)
	if err != nil {
		return nil, err
	}
	if job.Locked() {
		return taskView(task), nil
	}

	now := c.now()
	task.Status = StatusSucceeded
	if score != nil {
		v := *score
		task.Score = &v
	}
	task.ResultSummaryID = resultSummaryID
	task.Throttled = false
	task.Progress = float64Ptr(1)
	task.UpdatedAt = now
	task.NextRunAt = now
	task.Err = nil
	task.LastErr = nil
	c.ensureResultSummaryLocked(task)
	c.persistTaskLocked(ctx, task)
	c.activateSlotsLocked(ctx, job)
	c.refreshSummaryLocked(ctx, job, true)
	c.maybeEarlyStopLocked(ctx, job)
	return taskView(task), nil
}

// MarkTaskFailed records a failed evaluation. On a locked job this is a
// no-op returning the current task view. UPSTREAM_ERROR and INTERNAL_ERROR
// are retried with exponential backoff until the retry budget is exhausted;
// PARAM_ERROR fails immediately.
func (c *Core) MarkTaskFailed(ctx context.Context, jobID, taskID string, errType ErrorType, message string) (*TaskView, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	job, task, err := c.jobAndTaskLocked(jobID, taskID)
	if err != nil {
		return nil, err
	}
	if job.Locked() {
		return taskView(task), nil
	}

	now := c.now()
	task.UpdatedAt = now
	failure := &TaskError{Code: errType, Message: message}
	task.LastErr = failure
	task.Err = failure
	if task.Status == StatusRunning {
		task.Status = StatusQueued
	}
	if errType.Retryable() && task.Retries < c.cfg.MaxRetries {
		task.Retries++
		delay := c.cfg.RetryBase * (1 << (task.Retries - 1))
		task.NextRunAt = now.Add(delay)
		task.Throttled = false
		task.Progress = nil
	} else {
		task.Status = StatusFailed
		task.Throttled = false
		task.NextRunAt = now
	}
	c.persistTaskLocked(ctx, task)
	c.activateSlotsLocked(ctx, job)
	c.refreshSummaryLocked(ctx, job, true)
	return taskView(task), nil
}

// JobStatus returns the status report of an owned job.
func (c *Core) JobStatus(ctx context.Context, jobID, ownerID string) (*StatusReport, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	job, err := c.ownedJobLocked(jobID, ownerID)
	if err != nil {
		return nil, err
	}
	c.refreshSummaryLocked(ctx, job, true)
	return c.statusReportLocked(job), nil
}

// JobSnapshot returns the snapshot of an owned job, including the original
// paramSpace by value.
func (c *Core) JobSnapshot(ctx context.Context, jobID, ownerID string) (*Snapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	job, err := c.ownedJobLocked(jobID, ownerID)
	if err != nil {
		return nil, err
	}
	c.refreshSummaryLocked(ctx, job, true)
	return c.snapshotLocked(job), nil
}

// ListJobs returns snapshots of the owner's jobs ordered by updatedAt
// descending, ties broken by insertion order. limit <= 0 means unlimited.
func (c *Core) ListJobs(ctx context.Context, ownerID string, limit int) ([]*Snapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var owned []*Job
	for _, jid := range c.state.jobOrder {
		job := c.state.jobs[jid]
		if job != nil && job.OwnerID == ownerID {
			c.refreshSummaryLocked(ctx, job, false)
			owned = append(owned, job)
		}
	}
	sort.SliceStable(owned, func(i, j int) bool {
		return owned[i].UpdatedAt.After(owned[j].UpdatedAt)
	})
	if limit > 0 && len(owned) > limit {
		owned = owned[:limit]
	}
	snapshots := make([]*Snapshot, 0, len(owned))
	for _, job := range owned {
		snapshots = append(snapshots, c.snapshotLocked(job))
	}
	return snapshots, nil
}

// CancelJob locks the job as canceled. Idempotent: a second cancel returns
// the same terminal state.
func (c *Core) CancelJob(ctx context.Context, jobID, ownerID, reason string) (*StatusReport, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	job, err := c.ownedJobLocked(jobID, ownerID)
	if err != nil {
		return nil, err
	}
	stop := &StopReason{Kind: StopKindCanceled}
	if reason != "" {
		stop.Reason = reason
	}
	c.lockJobLocked(ctx, job, StatusCanceled, stop)
	return c.statusReportLocked(job), nil
}

// ExportTopN joins the current leaderboard with task parameters and result
// summaries into an export bundle.
func (c *Core) ExportTopN(ctx context.Context, jobID, ownerID string) (*Bundle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	job, err := c.ownedJobLocked(jobID, ownerID)
	if err != nil {
		return nil, err
	}
	c.refreshSummaryLocked(ctx, job, true)

	items := make([]BundleItem, 0, len(job.Summary.TopN))
	for _, entry := range job.Summary.TopN {
		task := c.state.tasks[jobID][entry.TaskID]
		item := BundleItem{
			TaskID:          entry.TaskID,
			Score:           entry.Score,
			Params:          map[string]any{},
			ResultSummaryID: optionalString(entry.ResultSummaryID),
		}
		if task != nil {
			item.Params = copyParams(task.Params)
			if rs := c.ensureResultSummaryLocked(task); rs != nil {
				item.Metrics = copyMetrics(rs.Metrics)
				item.Artifacts = append([]Artifact(nil), rs.Artifacts...)
			}
		}
		items = append(items, item)
	}
	return &Bundle{
		JobID:       job.ID,
		Status:      job.Status,
		GeneratedAt: isoUTC(c.now()),
		Summary:     copySummary(job.Summary),
		Items:       items,
	}, nil
}

// ConfigurePersistence swaps the mirror. The in-memory store is cleared and,
// when a mirror is supplied, rehydrated from it.
func (c *Core) ConfigurePersistence(ctx context.Context, mirror store.Mirror) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mirror = mirror
	c.state.clear()
	if mirror != nil {
		c.hydrateLocked(ctx)
	}
}

// DebugReset clears the in-memory store. The mirror is untouched.
func (c *Core) DebugReset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state.clear()
}

// DebugResetPersistent clears both the in-memory store and the mirror.
func (c *Core) DebugResetPersistent(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state.clear()
	if c.mirror != nil {
		if err := c.mirror.Reset(ctx); err != nil {
			c.mirrorErrorLocked()
		}
	}
}

// DebugJobs returns the stored job IDs in insertion order.
func (c *Core) DebugJobs() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.state.jobOrder...)
}

// DebugTasks returns the views of a job's tasks in insertion order.
func (c *Core) DebugTasks(jobID string) []*TaskView {
	c.mu.Lock()
	defer c.mu.Unlock()
	views := make([]*TaskView, 0, len(c.state.taskOrder[jobID]))
	for _, task := range c.state.jobTasks(jobID) {
		views = append(views, taskView(task))
	}
	return views
}

func (c *Core) ownedJobLocked(jobID, ownerID string) (*Job, error) {
	job := c.state.jobs[jobID]
	if job == nil {
		return nil, jobNotFound(jobID)
	}
	if job.OwnerID != ownerID {
		return nil, ownerMismatch(jobID, ownerID)
	}
	return job, nil
}

func (c *Core) jobAndTaskLocked(jobID, taskID string) (*Job, *Task, error) {
	job := c.state.jobs[jobID]
	if job == nil {
		return nil, nil, jobNotFound(jobID)
	}
	task := c.state.tasks[jobID][taskID]
	if task == nil {
		return nil, nil, taskNotFound(jobID, taskID)
	}
	return job, task, nil
}

func (c *Core) statusReportLocked(job *Job) *StatusReport {
	summary := job.Summary
	diag := Diagnostics{
		Throttled:  summary.Throttled > 0,
		QueueDepth: summary.Throttled,
		Running:    summary.Running,
		Final:      job.Locked(),
		StopReason: job.StopReason,
	}
	return &StatusReport{
		ID:               job.ID,
		Status:           job.Status,
		TotalTasks:       job.TotalTasks,
		ConcurrencyLimit: job.ConcurrencyLimit,
		Summary:          copySummary(summary),
		Diagnostics:      diag,
		EarlyStopPolicy:  job.Policy,
		SourceJobID:      optionalString(job.SourceJobID),
	}
}

func (c *Core) snapshotLocked(job *Job) *Snapshot {
	return &Snapshot{
		ID:               job.ID,
		OwnerID:          job.OwnerID,
		VersionID:        job.VersionID,
		ParamSpace:       job.ParamSpace,
		ConcurrencyLimit: job.ConcurrencyLimit,
		EarlyStopPolicy:  job.Policy,
		Status:           job.Status,
		TotalTasks:       job.TotalTasks,
		Summary:          copySummary(job.Summary),
		CreatedAt:        isoUTC(job.CreatedAt),
		UpdatedAt:        isoUTC(job.UpdatedAt),
		SourceJobID:      optionalString(job.SourceJobID),
	}
}

func copyMetrics(m map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// ---- persistence mirror plumbing ----
//
// Mirror failures never surface; they only bump mirror_errors_total so a
// dead backend is visible to operators while the core keeps serving from
// memory.

func (c *Core) mirrorErrorLocked() {
	c.metrics.Emit(emit.Metric{Name: "mirror_errors_total", Value: 1})
}

func (c *Core) persistCreateLocked(ctx context.Context, job *Job, tasks []*Task) {
	if c.mirror == nil {
		return
	}
	records := make([]store.TaskRecord, 0, len(tasks))
	for _, task := range tasks {
		records = append(records, taskRecord(task))
	}
	if err := c.mirror.PersistJob(ctx, jobRecord(job), records); err != nil {
		c.mirrorErrorLocked()
	}
}

func (c *Core) persistJobLocked(ctx context.Context, job *Job) {
	if c.mirror == nil {
		return
	}
	if err := c.mirror.UpdateJob(ctx, jobRecord(job)); err != nil {
		c.mirrorErrorLocked()
	}
}

func (c *Core) persistTaskLocked(ctx context.Context, task *Task) {
	if c.mirror == nil {
		return
	}
	if err := c.mirror.UpdateTask(ctx, taskRecord(task)); err != nil {
		c.mirrorErrorLocked()
	}
}

func jobRecord(job *Job) store.JobRecord {
	paramSpace, _ := json.Marshal(job.ParamSpace)
	summary, _ := json.Marshal(job.Summary)
	var policy []byte
	if job.Policy != nil {
		policy, _ = json.Marshal(job.Policy)
	}
	return store.JobRecord{
		ID:               job.ID,
		OwnerID:          job.OwnerID,
		VersionID:        job.VersionID,
		ParamSpace:       paramSpace,
		ConcurrencyLimit: job.ConcurrencyLimit,
		EarlyStopPolicy:  policy,
		Status:           string(job.Status),
		TotalTasks:       job.TotalTasks,
		Estimate:         job.Estimate,
		Summary:          summary,
		CreatedAt:        isoUTC(job.CreatedAt),
		UpdatedAt:        isoUTC(job.UpdatedAt),
	}
}

func taskRecord(task *Task) store.TaskRecord {
	paramSet, _ := json.Marshal(task.Params)
	var errCol, lastErr []byte
	if task.Err != nil {
		errCol, _ = json.Marshal(task.Err)
	}
	if task.LastErr != nil {
		lastErr, _ = json.Marshal(task.LastErr)
	}
	return store.TaskRecord{
		ID:              task.ID,
		JobID:           task.JobID,
		OwnerID:         task.OwnerID,
		VersionID:       task.VersionID,
		ParamSet:        paramSet,
		Status:          string(task.Status),
		Progress:        task.Progress,
		Retries:         task.Retries,
		NextRunAt:       isoUTC(task.NextRunAt),
		Throttled:       task.Throttled,
		Error:           errCol,
		LastError:       lastErr,
		ResultSummaryID: optionalString(task.ResultSummaryID),
		Score:           task.Score,
		CreatedAt:       isoUTC(task.CreatedAt),
		UpdatedAt:       isoUTC(task.UpdatedAt),
	}
}

// hydrateLocked rebuilds the in-memory store from the mirror. Summaries are
// refreshed without writing back.
func (c *Core) hydrateLocked(ctx context.Context) {
	jobs, tasksByJob, err := c.mirror.LoadAll(ctx)
	if err != nil {
		c.mirrorErrorLocked()
		return
	}
	c.state.clear()
	for _, record := range jobs {
		job := c.jobFromRecord(record)
		tasks := make([]*Task, 0, len(tasksByJob[job.ID]))
		for _, tr := range tasksByJob[job.ID] {
			tasks = append(tasks, c.taskFromRecord(tr))
		}
		c.state.addJob(job, tasks)
		c.refreshSummaryLocked(ctx, job, false)
	}
}

func (c *Core) jobFromRecord(record store.JobRecord) *Job {
	job := &Job{
		ID:               record.ID,
		OwnerID:          record.OwnerID,
		VersionID:        record.VersionID,
		ConcurrencyLimit: record.ConcurrencyLimit,
		Status:           Status(record.Status),
		TotalTasks:       record.TotalTasks,
		Estimate:         record.Estimate,
	}
	if job.Status == "" {
		job.Status = StatusQueued
	}
	if job.Estimate == 0 {
		job.Estimate = record.TotalTasks
	}
	if len(record.ParamSpace) > 0 {
		_ = json.Unmarshal(record.ParamSpace, &job.ParamSpace)
	}
	if len(record.EarlyStopPolicy) > 0 {
		var policy EarlyStopPolicy
		if err := json.Unmarshal(record.EarlyStopPolicy, &policy); err == nil {
			if policy.Mode == "" {
				policy.Mode = ModeMin
			}
			job.Policy = &policy
		}
	}
	job.Summary = Summary{Total: job.TotalTasks, TopN: []TopEntry{}}
	if len(record.Summary) > 0 {
		var summary Summary
		if err := json.Unmarshal(record.Summary, &summary); err == nil {
			if summary.TopN == nil {
				summary.TopN = []TopEntry{}
			}
			job.Summary = summary
		}
	}
	job.CreatedAt = c.timeFromISO(record.CreatedAt)
	job.UpdatedAt = c.timeFromISO(record.UpdatedAt)
	return job
}

func (c *Core) taskFromRecord(record store.TaskRecord) *Task {
	task := &Task{
		ID:        record.ID,
		JobID:     record.JobID,
		OwnerID:   record.OwnerID,
		VersionID: record.VersionID,
		Params:    map[string]any{},
		Status:    Status(record.Status),
		Progress:  record.Progress,
		Retries:   record.Retries,
		Throttled: record.Throttled,
		Score:     record.Score,
	}
	if task.Status == "" {
		task.Status = StatusQueued
	}
	if len(record.ParamSet) > 0 {
		_ = json.Unmarshal(record.ParamSet, &task.Params)
	}
	if record.ResultSummaryID != nil {
		task.ResultSummaryID = *record.ResultSummaryID
	}
	if len(record.Error) > 0 {
		var failure TaskError
		if err := json.Unmarshal(record.Error, &failure); err == nil {
			task.Err = &failure
		}
	}
	if len(record.LastError) > 0 {
		var failure TaskError
		if err := json.Unmarshal(record.LastError, &failure); err == nil {
			task.LastErr = &failure
		}
	}
	task.NextRunAt = c.timeFromISO(record.NextRunAt)
	task.CreatedAt = c.timeFromISO(record.CreatedAt)
	task.UpdatedAt = c.timeFromISO(record.UpdatedAt)
	return task
}

func (c *Core) timeFromISO(value string) time.Time {
	if value == "" {
		return c.now().UTC()
	}
	if t, ok := parseISO(value); ok {
		return t
	}
	return c.now().UTC()
}
