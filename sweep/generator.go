package sweep

import (
	"time"

	"github.com/google/uuid"
)

// generateTasks materializes tasks from a normalized space. The Cartesian
// product is enumerated with a mixed-radix counter over the dimensions in
// key order, the last key varying fastest, so dispatch order is the document
// order of the grid. Generation stops at MaxTaskCap regardless of the
// estimate.
//
// Tasks whose index is at or beyond the concurrency limit start throttled;
// they are promoted in insertion order as slots free up.
func generateTasks(jobID, ownerID, versionID string, dims []Dimension, concurrencyLimit int, now time.Time) []*Task {
	total := 1
	for _, dim := range dims {
		total *= len(dim.Values)
	}
	if total <= 0 {
		return nil
	}
	count := total
	if count > MaxTaskCap {
		count = MaxTaskCap
	}

	tasks := make([]*Task, 0, count)
	for index := 0; index < count; index++ {
		params := make(map[string]any, len(dims))
		rem := index
		for i := len(dims) - 1; i >= 0; i-- {
			values := dims[i].Values
			params[dims[i].Key] = values[rem%len(values)]
			rem /= len(values)
		}
		tasks = append(tasks, &Task{
			ID:        uuid.NewString(),
			JobID:     jobID,
			OwnerID:   ownerID,
			VersionID: versionID,
			Params:    params,
			Status:    StatusQueued,
			Throttled: index >= concurrencyLimit,
			NextRunAt: now,
			CreatedAt: now,
			UpdatedAt: now,
		})
	}
	return tasks
}

func initialSummary(tasks []*Task) Summary {
	throttled := 0
	for _, task := range tasks {
		if task.Throttled {
			throttled++
		}
	}
	return Summary{
		Total:     len(tasks),
		Finished:  0,
		Running:   0,
		Throttled: throttled,
		TopN:      []TopEntry{},
	}
}
