package sweep

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/dshills/optisweep-go/sweep/emit"
)

// PrometheusMetrics adapts the orchestrator's metric stream to Prometheus.
// It implements emit.MetricSink and maps the emitted names onto registered
// collectors (all namespaced with "sweep_"):
//
//  1. throttled_requests_total (counter): Tasks created beyond the
//     concurrency limit. Labels: job_id.
//
//  2. queue_wait_seconds (histogram): Delay between task creation and
//     dispatch. Labels: job_id.
//     Buckets: [0.1, 0.5, 1, 5, 15, 60, 300, 900].
//
//  3. job_exec_seconds (histogram): Wall time of one runner execution.
//     Labels: job_id.
//
//  4. job_retry_count (gauge): Retry count of the most recently reported
//     task. Labels: job_id.
//
//  5. active_jobs (gauge): Running tasks after the last dispatch cycle.
//     Labels: owner_id.
//
//  6. job_stop_total (counter): Terminal job locks. Labels: status,
//     stop_kind.
//
//  7. job_stop_threshold / job_stop_score (gauges): Early stop policy
//     threshold and the score that crossed it. Labels: job_id.
//
//  8. mirror_errors_total (counter): Swallowed persistence mirror failures.
//
// Task IDs are deliberately not used as labels; their cardinality is
// unbounded.
//
// Usage:
//
//	registry := prometheus.NewRegistry()
//	core := sweep.New(cfg, mirror, sweep.NewPrometheusMetrics(registry), logger)
//	http.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
type PrometheusMetrics struct {
	throttled     *prometheus.CounterVec
	queueWait     *prometheus.HistogramVec
	execSeconds   *prometheus.HistogramVec
	retryCount    *prometheus.GaugeVec
	activeJobs    *prometheus.GaugeVec
	stopTotal     *prometheus.CounterVec
	stopThreshold *prometheus.GaugeVec
	stopScore     *prometheus.GaugeVec
	mirrorErrors  prometheus.Counter

	mu      sync.RWMutex
	enabled bool
}

// NewPrometheusMetrics creates and registers all orchestrator metrics with
// the provided registry (nil uses the global default registerer).
func NewPrometheusMetrics(registry prometheus.Registerer) *PrometheusMetrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registry)

	pm := &PrometheusMetrics{enabled: true}

	pm.throttled = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sweep",
		Name:      "throttled_requests_total",
		Help:      "Tasks created beyond the job concurrency limit",
	}, []string{"job_id"})

	pm.queueWait = factory.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "sweep",
		Name:      "queue_wait_seconds",
		Help:      "Delay between task creation and dispatch to a worker",
		Buckets:   []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900},
	}, []string{"job_id"})

	pm.execSeconds = factory.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "sweep",
		Name:      "job_exec_seconds",
		Help:      "Wall time of one runner execution",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 30, 120, 600},
	}, []string{"job_id"})

	pm.retryCount = factory.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "sweep",
		Name:      "job_retry_count",
		Help:      "Retry count of the most recently reported task",
	}, []string{"job_id"})

	pm.activeJobs = factory.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "sweep",
		Name:      "active_jobs",
		Help:      "Running tasks observed after the last dispatch cycle",
	}, []string{"owner_id"})

	pm.stopTotal = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sweep",
		Name:      "job_stop_total",
		Help:      "Terminal job locks by status and stop kind",
	}, []string{"status", "stop_kind"})

	pm.stopThreshold = factory.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "sweep",
		Name:      "job_stop_threshold",
		Help:      "Early stop policy threshold of the last stopped job",
	}, []string{"job_id"})

	pm.stopScore = factory.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "sweep",
		Name:      "job_stop_score",
		Help:      "Score that triggered the last early stop",
	}, []string{"job_id"})

	pm.mirrorErrors = factory.NewCounter(prometheus.CounterOpts{
		Namespace: "sweep",
		Name:      "mirror_errors_total",
		Help:      "Swallowed persistence mirror failures",
	})

	return pm
}

// Emit routes one metric sample to its collector. Unknown names are dropped.
func (pm *PrometheusMetrics) Emit(m emit.Metric) {
	pm.mu.RLock()
	enabled := pm.enabled
	pm.mu.RUnlock()
	if !enabled {
		return
	}

	jobID := m.Tags["jobId"]
	switch m.Name {
	case "throttled_requests":
		pm.throttled.WithLabelValues(jobID).Add(m.Value)
	case "queue_wait_seconds":
		pm.queueWait.WithLabelValues(jobID).Observe(m.Value)
	case "job_exec_seconds":
		pm.execSeconds.WithLabelValues(jobID).Observe(m.Value)
	case "job_retry_total":
		pm.retryCount.WithLabelValues(jobID).Set(m.Value)
	case "active_jobs":
		pm.activeJobs.WithLabelValues(m.Tags["ownerId"]).Set(m.Value)
	case "job_stop_total":
		pm.stopTotal.WithLabelValues(m.Tags["status"], m.Tags["stopKind"]).Add(m.Value)
	case "job_stop_threshold":
		pm.stopThreshold.WithLabelValues(jobID).Set(m.Value)
	case "job_stop_score":
		pm.stopScore.WithLabelValues(jobID).Set(m.Value)
	case "mirror_errors_total":
		pm.mirrorErrors.Add(m.Value)
	}
}

// Disable temporarily disables metric recording (useful for testing).
func (pm *PrometheusMetrics) Disable() {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	pm.enabled = false
}

// Enable re-enables metric recording after Disable().
func (pm *PrometheusMetrics) Enable() {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	pm.enabled = true
}
