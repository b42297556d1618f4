// Package emit provides the observability sinks the orchestrator writes to:
// a named-metric sink interface with null, buffered, fan-out, and
// OpenTelemetry implementations, plus a structured JSON-lines logger.
package emit

// Metric is one named observation with optional tags.
//
// The orchestrator emits a small closed set of metric names
// (throttled_requests, queue_wait_seconds, job_exec_seconds, job_retry_total,
// active_jobs, job_stop_total, job_stop_threshold, job_stop_score,
// mirror_errors_total); sinks may map them to whatever backend they serve.
type Metric struct {
	Name  string
	Value float64
	Tags  map[string]string
}

// MetricSink receives metric observations.
//
// Implementations should be:
//   - Non-blocking: never slow down the orchestrator's critical section
//   - Thread-safe: called concurrently from worker threads
//   - Resilient: a failing backend must not crash the orchestrator
type MetricSink interface {
	Emit(m Metric)
}

// NullSink discards everything. Used when metrics are disabled.
type NullSink struct{}

// Emit does nothing.
func (NullSink) Emit(Metric) {}

// MultiSink fans a metric out to several sinks.
type MultiSink []MetricSink

// Emit forwards the metric to every sink in order.
func (s MultiSink) Emit(m Metric) {
	for _, sink := range s {
		sink.Emit(m)
	}
}
