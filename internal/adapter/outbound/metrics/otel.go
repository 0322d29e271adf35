package metrics

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/Sentinel-Gate/aiwaf/internal/port/outbound"
)

// OTel records gateway metrics through an OpenTelemetry meter. Instruments
// are created lazily, one counter per metric name plus one millisecond
// histogram per latency name.
type OTel struct {
	meter  metric.Meter
	attrs  metric.MeasurementOption
	logger *slog.Logger

	mu         sync.Mutex
	counters   map[string]metric.Float64Counter
	histograms map[string]metric.Float64Histogram
}

// NewOTel creates a sink on meter tagging every measurement with environment.
func NewOTel(meter metric.Meter, environment string, logger *slog.Logger) *OTel {
	return &OTel{
		meter:      meter,
		attrs:      metric.WithAttributeSet(attribute.NewSet(attribute.String("environment", environment))),
		logger:     logger,
		counters:   make(map[string]metric.Float64Counter),
		histograms: make(map[string]metric.Float64Histogram),
	}
}

// Count implements outbound.MetricsSink.
func (o *OTel) Count(ctx context.Context, name string, value float64) {
	c, err := o.counter(name)
	if err != nil {
		o.logger.Error("create otel counter", "metric", name, "error", err)
		return
	}
	c.Add(ctx, value, o.attrs)
}

// Latency implements outbound.MetricsSink.
func (o *OTel) Latency(ctx context.Context, name string, d time.Duration) {
	h, err := o.histogram(name)
	if err != nil {
		o.logger.Error("create otel histogram", "metric", name, "error", err)
		return
	}
	h.Record(ctx, float64(d)/float64(time.Millisecond), o.attrs)
}

func (o *OTel) counter(name string) (metric.Float64Counter, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if c, ok := o.counters[name]; ok {
		return c, nil
	}
	c, err := o.meter.Float64Counter("aiwaf."+name, metric.WithUnit("1"))
	if err != nil {
		return nil, err
	}
	o.counters[name] = c
	return c, nil
}

func (o *OTel) histogram(name string) (metric.Float64Histogram, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if h, ok := o.histograms[name]; ok {
		return h, nil
	}
	h, err := o.meter.Float64Histogram("aiwaf."+name, metric.WithUnit("ms"))
	if err != nil {
		return nil, err
	}
	o.histograms[name] = h
	return h, nil
}

var _ outbound.MetricsSink = (*OTel)(nil)
