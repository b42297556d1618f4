package store

import (
	"context"
	"testing"
)

func sampleJob(id string) JobRecord {
	return JobRecord{
		ID:               id,
		OwnerID:          "owner-1",
		VersionID:        "v1",
		ParamSpace:       []byte(`{"x":[1,2]}`),
		ConcurrencyLimit: 2,
		EarlyStopPolicy:  []byte(`{"metric":"sharpe","threshold":1,"mode":"max"}`),
		Status:           "queued",
		TotalTasks:       2,
		Estimate:         2,
		Summary:          []byte(`{"total":2,"finished":0,"running":0,"throttled":0,"topN":[]}`),
		CreatedAt:        "2025-06-01T12:00:00.000000",
		UpdatedAt:        "2025-06-01T12:00:00.000000",
	}
}

func sampleTasks(jobID string) []TaskRecord {
	progress := 0.0
	return []TaskRecord{
		{
			ID:        jobID + "-t1",
			JobID:     jobID,
			OwnerID:   "owner-1",
			VersionID: "v1",
			ParamSet:  []byte(`{"x":1}`),
			Status:    "running",
			Progress:  &progress,
			NextRunAt: "2025-06-01T12:00:00.000000",
			CreatedAt: "2025-06-01T12:00:00.000000",
			UpdatedAt: "2025-06-01T12:00:00.000000",
		},
		{
			ID:        jobID + "-t2",
			JobID:     jobID,
			OwnerID:   "owner-1",
			VersionID: "v1",
			ParamSet:  []byte(`{"x":2}`),
			Status:    "queued",
			Throttled: true,
			NextRunAt: "2025-06-01T12:00:00.000000",
			CreatedAt: "2025-06-01T12:00:00.000000",
			UpdatedAt: "2025-06-01T12:00:00.000000",
		},
	}
}

func TestSQLiteMirrorRoundTrip(t *testing.T) {
	mirror, err := NewSQLiteMirror(":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteMirror: %v", err)
	}
	defer mirror.Close()
	ctx := context.Background()

	job := sampleJob("job-1")
	tasks := sampleTasks("job-1")
	if err := mirror.PersistJob(ctx, job, tasks); err != nil {
		t.Fatalf("PersistJob: %v", err)
	}

	jobs, tasksByJob, err := mirror.LoadAll(ctx)
	if err != nil {
		t.Fatalf("LoadAll: %v", err)
	}
	if len(jobs) != 1 {
		t.Fatalf("loaded %d jobs, want 1", len(jobs))
	}
	got := jobs[0]
	if got.ID != job.ID || got.OwnerID != job.OwnerID || got.Status != job.Status {
		t.Errorf("job = %+v", got)
	}
	if string(got.ParamSpace) != string(job.ParamSpace) {
		t.Errorf("paramSpace = %s, want %s", got.ParamSpace, job.ParamSpace)
	}
	if string(got.EarlyStopPolicy) != string(job.EarlyStopPolicy) {
		t.Errorf("policy = %s", got.EarlyStopPolicy)
	}
	if got.CreatedAt != job.CreatedAt {
		t.Errorf("createdAt = %s, want %s", got.CreatedAt, job.CreatedAt)
	}

	loaded := tasksByJob["job-1"]
	if len(loaded) != 2 {
		t.Fatalf("loaded %d tasks, want 2", len(loaded))
	}
	byID := map[string]TaskRecord{}
	for _, task := range loaded {
		byID[task.ID] = task
	}
	t1 := byID["job-1-t1"]
	if t1.Status != "running" || t1.Progress == nil || *t1.Progress != 0 {
		t.Errorf("t1 = %+v", t1)
	}
	t2 := byID["job-1-t2"]
	if !t2.Throttled || t2.Score != nil || t2.ResultSummaryID != nil {
		t.Errorf("t2 = %+v", t2)
	}
}

func TestSQLiteMirrorUpdates(t *testing.T) {
	mirror, err := NewSQLiteMirror(":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteMirror: %v", err)
	}
	defer mirror.Close()
	ctx := context.Background()

	job := sampleJob("job-1")
	tasks := sampleTasks("job-1")
	if err := mirror.PersistJob(ctx, job, tasks); err != nil {
		t.Fatalf("PersistJob: %v", err)
	}

	job.Status = "running"
	job.Summary = []byte(`{"total":2,"finished":0,"running":1,"throttled":1,"topN":[]}`)
	job.UpdatedAt = "2025-06-01T12:00:05.000000"
	if err := mirror.UpdateJob(ctx, job); err != nil {
		t.Fatalf("UpdateJob: %v", err)
	}

	score := 1.25
	resultID := "rs-1"
	progress := 1.0
	task := tasks[0]
	task.Status = "succeeded"
	task.Progress = &progress
	task.Score = &score
	task.ResultSummaryID = &resultID
	task.UpdatedAt = "2025-06-01T12:00:05.000000"
	if err := mirror.UpdateTask(ctx, task); err != nil {
		t.Fatalf("UpdateTask: %v", err)
	}

	jobs, tasksByJob, err := mirror.LoadAll(ctx)
	if err != nil {
		t.Fatalf("LoadAll: %v", err)
	}
	if jobs[0].Status != "running" || jobs[0].UpdatedAt != "2025-06-01T12:00:05.000000" {
		t.Errorf("job after update = %+v", jobs[0])
	}
	for _, loaded := range tasksByJob["job-1"] {
		if loaded.ID != task.ID {
			continue
		}
		if loaded.Status != "succeeded" || loaded.Score == nil || *loaded.Score != 1.25 {
			t.Errorf("task after update = %+v", loaded)
		}
		if loaded.ResultSummaryID == nil || *loaded.ResultSummaryID != "rs-1" {
			t.Errorf("resultSummaryId = %v", loaded.ResultSummaryID)
		}
	}
}

func TestSQLiteMirrorReset(t *testing.T) {
	mirror, err := NewSQLiteMirror(":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteMirror: %v", err)
	}
	defer mirror.Close()
	ctx := context.Background()

	if err := mirror.PersistJob(ctx, sampleJob("job-1"), sampleTasks("job-1")); err != nil {
		t.Fatalf("PersistJob: %v", err)
	}
	if err := mirror.Reset(ctx); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	jobs, tasks, err := mirror.LoadAll(ctx)
	if err != nil {
		t.Fatalf("LoadAll: %v", err)
	}
	if len(jobs) != 0 || len(tasks) != 0 {
		t.Errorf("after reset: %d jobs, %d task groups", len(jobs), len(tasks))
	}
}
