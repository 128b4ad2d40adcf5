package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"

	"github.com/haasonsaas/mas/internal/kernel"
)

// NewTracerProvider returns an SDK tracer provider with an always-on
// sampler and no span processor attached. Spans still carry real
// trace/span IDs and propagate through context, so an embedder can attach
// its own exporter (console, OTLP, …) via sdktrace.WithBatcher on a
// provider it constructs itself; this helper is the batteries-included
// default for callers that only want span creation, not export.
func NewTracerProvider() *sdktrace.TracerProvider {
	return sdktrace.NewTracerProvider(sdktrace.WithSampler(sdktrace.AlwaysSample()))
}

// OTelTracer implements kernel.Tracer over an OpenTelemetry tracer. Every
// span is named after the component and carries mas.trace_id/mas.node_id
// attributes so a span can be correlated back to its TraceStore/NodeStore
// records.
type OTelTracer struct {
	tracer trace.Tracer
}

var _ kernel.Tracer = (*OTelTracer)(nil)

// NewOTelTracer wraps the "mas/pipeline" tracer obtained from provider.
func NewOTelTracer(provider trace.TracerProvider) *OTelTracer {
	return &OTelTracer{tracer: provider.Tracer("mas/pipeline")}
}

// StartSpan implements kernel.Tracer.
func (t *OTelTracer) StartSpan(ctx context.Context, component string, kind kernel.Kind, traceID, nodeID string) (context.Context, func()) {
	spanCtx, span := t.tracer.Start(ctx, component,
		trace.WithAttributes(
			attribute.String("mas.component", component),
			attribute.String("mas.kind", string(kind)),
			attribute.String("mas.trace_id", traceID),
			attribute.String("mas.node_id", nodeID),
		),
	)
	return spanCtx, func() { span.End() }
}

// RecordError sets the span's status to Error and attaches err. Call
// sites that have access to a span's context (e.g. an Execute hook that
// wants to annotate a tool failure) can use this instead of duplicating
// the status/attribute dance.
func RecordError(ctx context.Context, err error) {
	if err == nil {
		return
	}
	span := trace.SpanFromContext(ctx)
	span.SetStatus(codes.Error, err.Error())
	span.RecordError(err)
}
