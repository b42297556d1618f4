package sweep

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestProcessNextSuccess(t *testing.T) {
	core, _, sink := newTestCore(Config{})
	ctx := context.Background()

	receipt := mustCreate(t, core, CreateRequest{
		OwnerID:          "owner-1",
		VersionID:        "v1",
		ParamSpace:       listSpace("x", 1),
		ConcurrencyLimit: 1,
	})

	report, err := core.ProcessNext(ctx, "owner-1", func(_ context.Context, task *TaskView) (any, error) {
		return map[string]any{"score": 1.5, "resultSummaryId": "rs-" + task.ID}, nil
	})
	if err != nil {
		t.Fatalf("ProcessNext: %v", err)
	}
	if report == nil || report.Status != "succeeded" {
		t.Fatalf("report = %+v, want succeeded", report)
	}
	if report.TaskStatus != StatusSucceeded {
		t.Errorf("task status = %s, want succeeded", report.TaskStatus)
	}
	if report.Score == nil || *report.Score != 1.5 {
		t.Errorf("score = %v, want 1.5", report.Score)
	}
	if report.JobID != receipt.ID {
		t.Errorf("jobID = %s, want %s", report.JobID, receipt.ID)
	}

	for _, name := range []string{"queue_wait_seconds", "job_exec_seconds", "job_retry_total", "active_jobs"} {
		if len(sink.ByName(name)) == 0 {
			t.Errorf("metric %s not emitted", name)
		}
	}
}

func TestProcessNextUpstreamFailure(t *testing.T) {
	core, _, _ := newTestCore(Config{})
	ctx := context.Background()

	mustCreate(t, core, CreateRequest{
		OwnerID:          "owner-1",
		VersionID:        "v1",
		ParamSpace:       listSpace("x", 1),
		ConcurrencyLimit: 1,
	})

	report, err := core.ProcessNext(ctx, "owner-1", func(context.Context, *TaskView) (any, error) {
		return nil, &WorkerError{Kind: "upstream", Message: "feed down"}
	})
	if err != nil {
		t.Fatalf("ProcessNext: %v", err)
	}
	if report.Status != "failed" || report.ErrorCode != UpstreamError {
		t.Fatalf("report = %+v, want failed/UPSTREAM_ERROR", report)
	}
	if report.TaskStatus != StatusQueued || report.Retries != 1 {
		t.Errorf("task = %s retries=%d, want requeued with one retry", report.TaskStatus, report.Retries)
	}
}

func TestProcessNextParamFailure(t *testing.T) {
	core, _, _ := newTestCore(Config{})
	ctx := context.Background()

	mustCreate(t, core, CreateRequest{
		OwnerID:          "owner-1",
		VersionID:        "v1",
		ParamSpace:       listSpace("x", 1),
		ConcurrencyLimit: 1,
	})

	report, err := core.ProcessNext(ctx, "owner-1", func(context.Context, *TaskView) (any, error) {
		return nil, &WorkerError{Kind: "param", Message: "bad window"}
	})
	if err != nil {
		t.Fatalf("ProcessNext: %v", err)
	}
	if report.ErrorCode != ParamError || report.TaskStatus != StatusFailed {
		t.Errorf("report = %+v, want PARAM_ERROR terminal", report)
	}
}

func TestProcessNextRecoversPanic(t *testing.T) {
	core, _, _ := newTestCore(Config{})
	ctx := context.Background()

	mustCreate(t, core, CreateRequest{
		OwnerID:          "owner-1",
		VersionID:        "v1",
		ParamSpace:       listSpace("x", 1),
		ConcurrencyLimit: 1,
	})

	report, err := core.ProcessNext(ctx, "owner-1", func(context.Context, *TaskView) (any, error) {
		panic("strategy blew up")
	})
	if err != nil {
		t.Fatalf("ProcessNext: %v", err)
	}
	if report.Status != "failed" || report.ErrorCode != InternalError {
		t.Fatalf("report = %+v, want failed/INTERNAL_ERROR", report)
	}
}

func TestProcessNextIdle(t *testing.T) {
	core, _, sink := newTestCore(Config{})

	report, err := core.ProcessNext(context.Background(), "owner-1", func(context.Context, *TaskView) (any, error) {
		t.Fatal("runner called with no work")
		return nil, nil
	})
	if err != nil {
		t.Fatalf("ProcessNext: %v", err)
	}
	if report != nil {
		t.Fatalf("report = %+v, want nil when idle", report)
	}
	idle := sink.ByName("active_jobs")
	if len(idle) != 1 || idle[0].Value != 0 {
		t.Errorf("active_jobs = %+v, want one zero emission", idle)
	}
}

func TestNormalizeRunnerResult(t *testing.T) {
	score := 2.5
	cases := []struct {
		name        string
		in          any
		wantScore   *float64
		wantSummary string
		wantErr     bool
	}{
		{name: "nil", in: nil},
		{name: "bare number", in: 2.5, wantScore: &score},
		{name: "run result", in: RunResult{Score: &score, ResultSummaryID: "rs-1"}, wantScore: &score, wantSummary: "rs-1"},
		{name: "map", in: map[string]any{"score": 2.5, "resultSummaryId": "rs-2"}, wantScore: &score, wantSummary: "rs-2"},
		{name: "slice", in: []any{2.5, "rs-3"}, wantScore: &score, wantSummary: "rs-3"},
		{name: "map without score", in: map[string]any{"resultSummaryId": "rs-4"}, wantSummary: "rs-4"},
		{name: "unsupported", in: "oops", wantErr: true},
		{name: "non-numeric slice score", in: []any{"high"}, wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			gotScore, gotSummary, err := normalizeRunnerResult(tc.in)
			if tc.wantErr {
				if err == nil {
					t.Fatal("expected an error")
				}
				var we *WorkerError
				if !errors.As(err, &we) || we.Kind != "internal" {
					t.Errorf("error = %v, want internal WorkerError", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if (gotScore == nil) != (tc.wantScore == nil) {
				t.Fatalf("score = %v, want %v", gotScore, tc.wantScore)
			}
			if gotScore != nil && *gotScore != *tc.wantScore {
				t.Errorf("score = %v, want %v", *gotScore, *tc.wantScore)
			}
			if gotSummary != tc.wantSummary {
				t.Errorf("summary = %q, want %q", gotSummary, tc.wantSummary)
			}
		})
	}
}

func TestClassifyRunnerErrorTruncates(t *testing.T) {
	long := strings.Repeat("x", 500)
	code, message := classifyRunnerError(errors.New(long))
	if code != InternalError {
		t.Errorf("code = %s, want INTERNAL_ERROR", code)
	}
	if len(message) != maxRunnerMessage {
		t.Errorf("message length = %d, want %d", len(message), maxRunnerMessage)
	}

	// Classified worker errors keep their full message.
	code, message = classifyRunnerError(&WorkerError{Kind: "upstream", Message: long})
	if code != UpstreamError || len(message) != 500 {
		t.Errorf("worker error classified as %s with %d chars", code, len(message))
	}
}
