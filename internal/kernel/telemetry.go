package kernel

import (
	"context"
	"time"
)

// MetricsSink receives pipeline execution observations. Implementations
// must be safe for concurrent use; internal/telemetry ships a
// Prometheus-backed one. A nil sink (the Deps zero value) disables
// metrics entirely — every call site in the pipeline checks for nil
// before recording.
type MetricsSink interface {
	// ObserveExecution records one completed stage-10 execution,
	// including retries, for a component.
	ObserveExecution(component string, kind Kind, state State, duration time.Duration)
	// SetActiveExecutions reports the current number of in-flight
	// stage-10 executions for a component, i.e. the semaphore's
	// occupancy — the live value behind invariant I5.
	SetActiveExecutions(component string, n int)
	// IncRetry records one retry attempt (not counting the first try).
	IncRetry(component string)
}

// Tracer starts a span covering one component's full pipeline dispatch.
// internal/telemetry ships an OpenTelemetry-backed one. A nil Tracer
// disables tracing entirely.
type Tracer interface {
	// StartSpan returns a context carrying the new span and a function
	// that ends it; callers must call the function exactly once.
	StartSpan(ctx context.Context, component string, kind Kind, traceID, nodeID string) (context.Context, func())
}
