// Package telemetry supplies the Prometheus metrics and OpenTelemetry
// tracing implementations of kernel.MetricsSink and kernel.Tracer. Both
// are optional collaborators wired into kernel.Deps; a MAS that never
// constructs them runs with the pipeline's metrics/tracing hooks as
// no-ops.
package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/haasonsaas/mas/internal/kernel"
)

// PrometheusMetrics implements kernel.MetricsSink over a set of
// per-component vectors: execution duration (histogram), active
// executions (gauge, the live occupancy behind invariant I5), and retry
// attempts (counter).
type PrometheusMetrics struct {
	duration *prometheus.HistogramVec
	active   *prometheus.GaugeVec
	retries  *prometheus.CounterVec
}

var _ kernel.MetricsSink = (*PrometheusMetrics)(nil)

// NewPrometheusMetrics constructs and registers the pipeline's metric
// vectors against reg. Passing prometheus.NewRegistry() keeps them out of
// the global default registry, which matters for tests that construct
// more than one MAS in the same process.
func NewPrometheusMetrics(reg prometheus.Registerer) *PrometheusMetrics {
	m := &PrometheusMetrics{
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "mas",
			Subsystem: "pipeline",
			Name:      "execution_duration_seconds",
			Help:      "Stage-10 execution duration per component, including retries.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"component", "kind", "state"}),
		active: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "mas",
			Subsystem: "pipeline",
			Name:      "active_executions",
			Help:      "In-flight stage-10 executions per component (semaphore occupancy).",
		}, []string{"component"}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mas",
			Subsystem: "pipeline",
			Name:      "retries_total",
			Help:      "Retry attempts per component, not counting the first try.",
		}, []string{"component"}),
	}
	reg.MustRegister(m.duration, m.active, m.retries)
	return m
}

// ObserveExecution implements kernel.MetricsSink.
func (m *PrometheusMetrics) ObserveExecution(component string, kind kernel.Kind, state kernel.State, duration time.Duration) {
	m.duration.WithLabelValues(component, string(kind), string(state)).Observe(duration.Seconds())
}

// SetActiveExecutions implements kernel.MetricsSink.
func (m *PrometheusMetrics) SetActiveExecutions(component string, n int) {
	m.active.WithLabelValues(component).Set(float64(n))
}

// IncRetry implements kernel.MetricsSink.
func (m *PrometheusMetrics) IncRetry(component string) {
	m.retries.WithLabelValues(component).Inc()
}
