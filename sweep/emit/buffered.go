package emit

import "sync"

// BufferedSink records metrics in memory. Intended for tests that assert on
// emitted observations.
type BufferedSink struct {
	mu      sync.Mutex
	metrics []Metric
}

// NewBufferedSink creates an empty buffered sink.
func NewBufferedSink() *BufferedSink {
	return &BufferedSink{}
}

// Emit appends the metric to the buffer.
func (b *BufferedSink) Emit(m Metric) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.metrics = append(b.metrics, m)
}

// Metrics returns a copy of everything recorded so far.
func (b *BufferedSink) Metrics() []Metric {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Metric, len(b.metrics))
	copy(out, b.metrics)
	return out
}

// ByName returns the recorded metrics with the given name.
func (b *BufferedSink) ByName(name string) []Metric {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []Metric
	for _, m := range b.metrics {
		if m.Name == name {
			out = append(out, m)
		}
	}
	return out
}

// Reset clears the buffer.
func (b *BufferedSink) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.metrics = nil
}
