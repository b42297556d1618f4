package sweep

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/dshills/optisweep-go/sweep/emit"
)

func TestPrometheusMetricsRouting(t *testing.T) {
	registry := prometheus.NewRegistry()
	pm := NewPrometheusMetrics(registry)

	pm.Emit(emit.Metric{Name: "throttled_requests", Value: 2, Tags: map[string]string{"jobId": "j1"}})
	pm.Emit(emit.Metric{Name: "active_jobs", Value: 3, Tags: map[string]string{"ownerId": "o1"}})
	pm.Emit(emit.Metric{Name: "job_retry_total", Value: 4, Tags: map[string]string{"jobId": "j1"}})
	pm.Emit(emit.Metric{Name: "job_stop_total", Value: 1, Tags: map[string]string{"status": "canceled", "stopKind": "CANCELED"}})
	pm.Emit(emit.Metric{Name: "mirror_errors_total", Value: 1})
	pm.Emit(emit.Metric{Name: "queue_wait_seconds", Value: 0.25, Tags: map[string]string{"jobId": "j1"}})
	pm.Emit(emit.Metric{Name: "unknown_metric", Value: 99})

	if got := testutil.ToFloat64(pm.throttled.WithLabelValues("j1")); got != 2 {
		t.Errorf("throttled_requests = %v, want 2", got)
	}
	if got := testutil.ToFloat64(pm.activeJobs.WithLabelValues("o1")); got != 3 {
		t.Errorf("active_jobs = %v, want 3", got)
	}
	if got := testutil.ToFloat64(pm.retryCount.WithLabelValues("j1")); got != 4 {
		t.Errorf("job_retry_count = %v, want 4", got)
	}
	if got := testutil.ToFloat64(pm.stopTotal.WithLabelValues("canceled", "CANCELED")); got != 1 {
		t.Errorf("job_stop_total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(pm.mirrorErrors); got != 1 {
		t.Errorf("mirror_errors_total = %v, want 1", got)
	}
	if got := testutil.CollectAndCount(pm.queueWait); got != 1 {
		t.Errorf("queue_wait_seconds series = %d, want 1", got)
	}
}

func TestPrometheusMetricsDisable(t *testing.T) {
	registry := prometheus.NewRegistry()
	pm := NewPrometheusMetrics(registry)

	pm.Disable()
	pm.Emit(emit.Metric{Name: "throttled_requests", Value: 5, Tags: map[string]string{"jobId": "j1"}})
	if got := testutil.ToFloat64(pm.throttled.WithLabelValues("j1")); got != 0 {
		t.Errorf("disabled sink recorded %v", got)
	}

	pm.Enable()
	pm.Emit(emit.Metric{Name: "throttled_requests", Value: 5, Tags: map[string]string{"jobId": "j1"}})
	if got := testutil.ToFloat64(pm.throttled.WithLabelValues("j1")); got != 5 {
		t.Errorf("re-enabled sink recorded %v, want 5", got)
	}
}
