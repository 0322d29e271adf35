package http

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the HTTP-level Prometheus metrics.
type Metrics struct {
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	AuditDropsTotal prometheus.CounterFunc
}

// NewMetrics creates and registers the HTTP metrics with reg. dropped, when
// non-nil, backs the audit drop counter.
func NewMetrics(reg prometheus.Registerer, dropped func() int64) *Metrics {
	m := &Metrics{
		RequestsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "aiwaf",
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests by route and status class",
			},
			[]string{"route", "method", "status"}, // status=ok/client_error/error
		),
		RequestDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "aiwaf",
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"route"},
		),
	}
	if dropped != nil {
		m.AuditDropsTotal = promauto.With(reg).NewCounterFunc(
			prometheus.CounterOpts{
				Namespace: "aiwaf",
				Name:      "audit_drops_total",
				Help:      "Total security events dropped due to audit backpressure",
			},
			func() float64 { return float64(dropped()) },
		)
	}
	return m
}
