package sweep

import (
	"context"
	"encoding/json"
	"sort"
	"strings"

	"github.com/dshills/optisweep-go/sweep/emit"
)

// ensureResultSummaryLocked returns the result summary declared by the task,
// creating the stub on first use. The score metric tracks the task's current
// score. Returns nil when the task declares no summary.
func (c *Core) ensureResultSummaryLocked(task *Task) *ResultSummary {
	if task == nil || task.ResultSummaryID == "" {
		return nil
	}
	rs := c.state.results[task.ResultSummaryID]
	if rs == nil {
		base := "/artifacts/" + task.ResultSummaryID
		rs = &ResultSummary{
			ID:      task.ResultSummaryID,
			OwnerID: task.OwnerID,
			Metrics: map[string]float64{},
			Artifacts: []Artifact{
				{Type: "metrics", URL: base + "/metrics.json"},
				{Type: "equity_curve", URL: base + "/equity.csv"},
				{Type: "trades", URL: base + "/trades.csv"},
			},
			EquityCurveRef: base + "/equity.csv",
			TradesRef:      base + "/trades.csv",
			CreatedAt:      isoUTC(c.now()),
		}
		c.state.results[task.ResultSummaryID] = rs
	}
	if task.Score != nil {
		rs.Metrics["score"] = *task.Score
	}
	return rs
}

// refreshSummaryLocked recomputes the job summary and derived status from the
// task set. updatedAt moves only when something actually changed; the mirror
// is written only then, and only when persist is set (hydration refreshes
// without writing back).
func (c *Core) refreshSummaryLocked(ctx context.Context, job *Job, persist bool) {
	tasks := c.state.jobTasks(job.ID)
	prevStatus := job.Status
	prevSummary := job.Summary

	var finished, running, throttled, failed int
	var scored []*Task
	for _, task := range tasks {
		switch {
		case task.Status.Terminal():
			finished++
			if task.Status == StatusFailed {
				failed++
			}
		case task.Status == StatusRunning:
			running++
		case task.Status == StatusQueued && task.Throttled:
			throttled++
		}
		if task.Score != nil {
			scored = append(scored, task)
		}
	}

	mode := ModeMax
	if job.Policy != nil && job.Policy.Mode != "" {
		mode = StopMode(strings.ToLower(string(job.Policy.Mode)))
	}
	sort.SliceStable(scored, func(i, j int) bool {
		if mode == ModeMin {
			return *scored[i].Score < *scored[j].Score
		}
		return *scored[i].Score > *scored[j].Score
	})
	if len(scored) > c.cfg.TopNLimit {
		scored = scored[:c.cfg.TopNLimit]
	}
	topN := make([]TopEntry, 0, len(scored))
	for _, task := range scored {
		score := *task.Score
		if rs := c.ensureResultSummaryLocked(task); rs != nil {
			if v, ok := rs.Metrics["score"]; ok {
				score = v
			}
		}
		topN = append(topN, TopEntry{
			TaskID:          task.ID,
			Score:           score,
			ResultSummaryID: task.ResultSummaryID,
		})
	}

	job.Summary = Summary{
		Total:     job.TotalTasks,
		Finished:  finished,
		Running:   running,
		Throttled: throttled,
		TopN:      topN,
	}

	switch {
	case job.Locked():
		job.Status = job.LockedStatus
	case finished >= job.TotalTasks:
		if failed > 0 {
			job.Status = StatusFailed
		} else {
			job.Status = StatusSucceeded
		}
	case running > 0:
		job.Status = StatusRunning
	default:
		job.Status = StatusQueued
	}

	if prevStatus != job.Status || !prevSummary.equal(job.Summary) {
		job.UpdatedAt = c.now()
		if persist {
			c.persistJobLocked(ctx, job)
		}
	}
}

// activateSlotsLocked promotes throttled tasks into ready queue slots freed
// by finished or backed-off work. Ready tasks already waiting count against
// capacity so promotion never overshoots the concurrency limit.
func (c *Core) activateSlotsLocked(ctx context.Context, job *Job) {
	order := c.state.taskOrder[job.ID]
	if len(order) == 0 {
		return
	}
	now := c.now()
	running := c.state.countStatus(job.ID, StatusRunning)
	ready := 0
	for _, tid := range order {
		task := c.state.tasks[job.ID][tid]
		if task.Status == StatusQueued && !task.Throttled && !task.NextRunAt.After(now) {
			ready++
		}
	}
	capacity := job.ConcurrencyLimit - running - ready
	if capacity <= 0 {
		return
	}
	for _, tid := range order {
		if capacity <= 0 {
			return
		}
		task := c.state.tasks[job.ID][tid]
		if task.Status != StatusQueued || !task.Throttled {
			continue
		}
		task.Throttled = false
		if task.NextRunAt.After(now) {
			task.NextRunAt = now
		}
		task.UpdatedAt = now
		c.persistTaskLocked(ctx, task)
		capacity--
	}
}

// lockJobLocked drives the job and every non-terminal task into the given
// terminal status. Idempotent for the same status; a locked job never leaves
// its terminal state.
func (c *Core) lockJobLocked(ctx context.Context, job *Job, status Status, reason *StopReason) {
	if job.LockedStatus == status {
		return
	}
	now := c.now()
	job.LockedStatus = status
	job.StopReason = reason
	job.Status = status
	job.UpdatedAt = now

	for _, tid := range c.state.taskOrder[job.ID] {
		task := c.state.tasks[job.ID][tid]
		if task.Status.Terminal() {
			continue
		}
		task.Status = status
		task.Progress = float64Ptr(1)
		task.Throttled = false
		task.NextRunAt = now
		task.UpdatedAt = now
		task.Err = nil
		task.LastErr = nil
		c.persistTaskLocked(ctx, task)
	}

	tags := map[string]string{
		"jobId":    job.ID,
		"ownerId":  job.OwnerID,
		"status":   string(status),
		"stopKind": string(reason.Kind),
	}
	c.metrics.Emit(emit.Metric{Name: "job_stop_total", Value: 1, Tags: tags})
	if reason.Threshold != nil {
		c.metrics.Emit(emit.Metric{Name: "job_stop_threshold", Value: *reason.Threshold, Tags: tags})
	}
	if reason.Score != nil {
		c.metrics.Emit(emit.Metric{Name: "job_stop_score", Value: *reason.Score, Tags: tags})
	}
	c.logger.Stop(job.ID, job.OwnerID, string(status), stopReasonFields(reason))

	c.refreshSummaryLocked(ctx, job, true)
	c.persistJobLocked(ctx, job)
}

// maybeEarlyStopLocked checks the refreshed leaderboard against the early
// stop policy and locks the job when the best score crosses the threshold.
func (c *Core) maybeEarlyStopLocked(ctx context.Context, job *Job) {
	if job.Locked() || job.Policy == nil {
		return
	}
	entries := job.Summary.TopN
	if len(entries) == 0 {
		return
	}
	mode := ModeMax
	if job.Policy.Mode != "" {
		mode = StopMode(strings.ToLower(string(job.Policy.Mode)))
	}
	best := entries[0].Score
	for _, entry := range entries[1:] {
		if mode == ModeMin {
			if entry.Score < best {
				best = entry.Score
			}
		} else if entry.Score > best {
			best = entry.Score
		}
	}
	shouldStop := best >= job.Policy.Threshold
	if mode == ModeMin {
		shouldStop = best <= job.Policy.Threshold
	}
	if !shouldStop {
		return
	}
	threshold := job.Policy.Threshold
	score := best
	c.lockJobLocked(ctx, job, StatusEarlyStopped, &StopReason{
		Kind:      StopKindEarlyStopThreshold,
		Metric:    job.Policy.Metric,
		Threshold: &threshold,
		Score:     &score,
		Mode:      mode,
	})
}

func stopReasonFields(reason *StopReason) map[string]any {
	if reason == nil {
		return nil
	}
	raw, err := json.Marshal(reason)
	if err != nil {
		return map[string]any{"kind": string(reason.Kind)}
	}
	fields := map[string]any{}
	_ = json.Unmarshal(raw, &fields)
	return fields
}
