package sweep

import (
	"context"
	"testing"
	"time"
)

func TestFromEnv(t *testing.T) {
	t.Setenv("OPT_PARAM_SPACE_MAX", "250")
	t.Setenv("OPT_CONCURRENCY_LIMIT_MAX", "8")
	t.Setenv("OPT_TOP_N_LIMIT", "3")
	t.Setenv("OPT_MAX_RETRIES", "0")
	t.Setenv("OPT_RETRY_BASE_SECONDS", "5")

	cfg := FromEnv()
	if cfg.ParamSpaceMax != 250 || cfg.ConcurrencyLimitMax != 8 || cfg.TopNLimit != 3 {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.MaxRetries != NoRetries {
		t.Errorf("MaxRetries = %d, want NoRetries (zero retries is legal)", cfg.MaxRetries)
	}
	if got := cfg.sanitize().MaxRetries; got != 0 {
		t.Errorf("sanitized MaxRetries = %d, want 0", got)
	}
	if cfg.RetryBase != 5*time.Second {
		t.Errorf("RetryBase = %v, want 5s", cfg.RetryBase)
	}
}

func TestFromEnvClampsAndFallsBack(t *testing.T) {
	t.Setenv("OPT_PARAM_SPACE_MAX", "-5")
	t.Setenv("OPT_TOP_N_LIMIT", "not-a-number")

	cfg := FromEnv()
	if cfg.ParamSpaceMax != 1 {
		t.Errorf("ParamSpaceMax = %d, want clamp to 1", cfg.ParamSpaceMax)
	}
	if cfg.TopNLimit != DefaultTopNLimit {
		t.Errorf("TopNLimit = %d, want default on malformed input", cfg.TopNLimit)
	}
}

func TestSanitizeRetryBudget(t *testing.T) {
	if got := (Config{}).sanitize().MaxRetries; got != DefaultMaxRetries {
		t.Errorf("zero-value MaxRetries = %d, want default %d", got, DefaultMaxRetries)
	}
	if got := (Config{MaxRetries: NoRetries}).sanitize().MaxRetries; got != 0 {
		t.Errorf("NoRetries sanitized to %d, want 0", got)
	}
	if got := (Config{MaxRetries: 2}).sanitize().MaxRetries; got != 2 {
		t.Errorf("explicit MaxRetries = %d, want 2", got)
	}
}

func TestNoRetriesFailsImmediately(t *testing.T) {
	core, _, _ := newTestCore(Config{MaxRetries: NoRetries})
	ctx := context.Background()

	receipt := mustCreate(t, core, CreateRequest{
		OwnerID:          "owner-1",
		VersionID:        "v1",
		ParamSpace:       listSpace("x", 1),
		ConcurrencyLimit: 1,
	})
	task, err := core.DequeueNext(ctx, "owner-1", "")
	if err != nil || task == nil {
		t.Fatalf("dequeue = (%v, %v), want a task", task, err)
	}
	view, err := core.MarkTaskFailed(ctx, receipt.ID, task.ID, UpstreamError, "boom")
	if err != nil {
		t.Fatalf("MarkTaskFailed: %v", err)
	}
	if view.Status != StatusFailed || view.Retries != 0 {
		t.Errorf("status=%s retries=%d, want failed/0 with no retry budget", view.Status, view.Retries)
	}
}

func TestStatusSets(t *testing.T) {
	terminal := []Status{StatusSucceeded, StatusFailed, StatusEarlyStopped, StatusCanceled}
	for _, s := range terminal {
		if !s.Terminal() {
			t.Errorf("%s.Terminal() = false", s)
		}
	}
	for _, s := range []Status{StatusQueued, StatusRunning} {
		if s.Terminal() {
			t.Errorf("%s.Terminal() = true", s)
		}
	}

	if ParamError.Retryable() {
		t.Error("PARAM_ERROR must not be retryable")
	}
	if !UpstreamError.Retryable() || !InternalError.Retryable() {
		t.Error("UPSTREAM_ERROR and INTERNAL_ERROR must be retryable")
	}
}
