// Package metrics provides MetricsSink implementations for Prometheus,
// OpenTelemetry and Amazon CloudWatch, and a fan-out over several of them.
package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/Sentinel-Gate/aiwaf/internal/domain/pipeline"
	"github.com/Sentinel-Gate/aiwaf/internal/port/outbound"
)

// Prometheus records gateway metrics as a counter and a histogram labelled
// by metric name and environment.
type Prometheus struct {
	events      *prometheus.CounterVec
	latency     *prometheus.HistogramVec
	environment string
}

// NewPrometheus registers the gateway metrics with reg. Every known counter
// is initialised to zero so dashboards see the series before the first event.
func NewPrometheus(reg prometheus.Registerer, environment string) *Prometheus {
	p := &Prometheus{
		events: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "aiwaf",
				Name:      "security_events_total",
				Help:      "Security decisions and pipeline events by metric name",
			},
			[]string{"name", "environment"},
		),
		latency: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "aiwaf",
				Name:      "latency_seconds",
				Help:      "Pipeline latency by metric name",
				Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"name", "environment"},
		),
		environment: environment,
	}
	for _, name := range pipeline.CountMetrics {
		p.events.WithLabelValues(name, environment)
	}
	return p
}

// Count implements outbound.MetricsSink.
func (p *Prometheus) Count(_ context.Context, name string, value float64) {
	if value < 0 {
		return
	}
	p.events.WithLabelValues(name, p.environment).Add(value)
}

// Latency implements outbound.MetricsSink.
func (p *Prometheus) Latency(_ context.Context, name string, d time.Duration) {
	p.latency.WithLabelValues(name, p.environment).Observe(d.Seconds())
}

var _ outbound.MetricsSink = (*Prometheus)(nil)
