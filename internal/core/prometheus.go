package core

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusMetricsRecorder exports operation outcomes as Prometheus
// counters and latency histograms. It fulfills MetricsRecorder for
// deployments scraping /metrics.
type PrometheusMetricsRecorder struct {
	outcomes  *prometheus.CounterVec
	durations *prometheus.HistogramVec
}

// NewPrometheusMetricsRecorder constructs a recorder and registers its
// collectors with the provided registerer (prometheus.DefaultRegisterer
// when nil).
func NewPrometheusMetricsRecorder(reg prometheus.Registerer) (*PrometheusMetricsRecorder, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	rec := &PrometheusMetricsRecorder{
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "patterncore",
			Name:      "operation_outcomes_total",
			Help:      "Proposal and retrieval operation outcomes.",
		}, []string{"operation", "status"}),
		durations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "patterncore",
			Name:      "operation_duration_seconds",
			Help:      "Operation latency, including the vote collection window for proposals.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14),
		}, []string{"operation"}),
	}
	if err := reg.Register(rec.outcomes); err != nil {
		return nil, err
	}
	if err := reg.Register(rec.durations); err != nil {
		return nil, err
	}
	return rec, nil
}

// Observe records an operation outcome.
func (r *PrometheusMetricsRecorder) Observe(_ context.Context, operation string, success bool, duration time.Duration) {
	if operation == "" {
		return
	}
	status := "rejected"
	if success {
		status = "committed"
	}
	r.outcomes.WithLabelValues(operation, status).Inc()
	r.durations.WithLabelValues(operation).Observe(duration.Seconds())
}
