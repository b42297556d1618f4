package sweep

import (
	"testing"
	"time"
)

func TestGenerateTasksOrder(t *testing.T) {
	dims := []Dimension{
		{Key: "a", Values: []any{1, 2}},
		{Key: "b", Values: []any{"x", "y"}},
	}
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	tasks := generateTasks("job-1", "owner-1", "v1", dims, 3, now)
	if len(tasks) != 4 {
		t.Fatalf("generated %d tasks, want 4", len(tasks))
	}

	// Last key varies fastest.
	want := []map[string]any{
		{"a": 1, "b": "x"},
		{"a": 1, "b": "y"},
		{"a": 2, "b": "x"},
		{"a": 2, "b": "y"},
	}
	for i, task := range tasks {
		for k, v := range want[i] {
			if task.Params[k] != v {
				t.Errorf("task[%d].Params[%s] = %v, want %v", i, k, task.Params[k], v)
			}
		}
		if task.Status != StatusQueued || task.Retries != 0 || !task.NextRunAt.Equal(now) {
			t.Errorf("task[%d] initial state wrong: %+v", i, task)
		}
	}

	// Index 3 is at the concurrency limit and starts throttled.
	for i, task := range tasks {
		wantThrottled := i >= 3
		if task.Throttled != wantThrottled {
			t.Errorf("task[%d].Throttled = %v, want %v", i, task.Throttled, wantThrottled)
		}
	}
}

func TestGenerateTasksCap(t *testing.T) {
	values := make([]any, 1500)
	for i := range values {
		values[i] = i
	}
	dims := []Dimension{{Key: "x", Values: values}}
	tasks := generateTasks("job-1", "owner-1", "v1", dims, 4, time.Now())
	if len(tasks) != MaxTaskCap {
		t.Fatalf("generated %d tasks, want %d", len(tasks), MaxTaskCap)
	}
}
