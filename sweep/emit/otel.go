package emit

import (
	"context"
	"sort"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// OTelSink implements MetricSink by recording each metric as an instant
// OpenTelemetry span.
//
// Each observation becomes a span with:
//   - Span name: the metric name (e.g. "job_exec_seconds")
//   - Attributes: the metric value plus every tag, prefixed "sweep."
//
// Spans are ended immediately; an observation is a point in time, not a
// duration. Use a batching span processor on the provider for efficient
// export.
//
// Usage:
//
//	tracer := otel.Tracer("optisweep")
//	sink := emit.NewOTelSink(tracer)
//	core := sweep.New(cfg, mirror, sink, logger)
type OTelSink struct {
	tracer trace.Tracer
}

// NewOTelSink creates a sink recording spans on the given tracer.
func NewOTelSink(tracer trace.Tracer) *OTelSink {
	return &OTelSink{tracer: tracer}
}

// Emit records the metric as a span.
func (o *OTelSink) Emit(m Metric) {
	_, span := o.tracer.Start(context.Background(), m.Name)
	defer span.End()

	attrs := make([]attribute.KeyValue, 0, len(m.Tags)+1)
	attrs = append(attrs, attribute.Float64("sweep.value", m.Value))

	// Sort tag keys so attribute order is stable across emissions.
	keys := make([]string, 0, len(m.Tags))
	for k := range m.Tags {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		attrs = append(attrs, attribute.String("sweep."+k, m.Tags[k]))
	}
	span.SetAttributes(attrs...)
}

// Flush forces export of pending spans when the registered tracer provider
// supports it. Call before shutdown.
func (o *OTelSink) Flush(ctx context.Context) error {
	type flusher interface {
		ForceFlush(context.Context) error
	}
	if f, ok := otel.GetTracerProvider().(flusher); ok {
		return f.ForceFlush(ctx)
	}
	return nil
}
