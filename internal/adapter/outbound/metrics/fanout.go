package metrics

import (
	"context"
	"time"

	"github.com/Sentinel-Gate/aiwaf/internal/port/outbound"
)

// Fanout forwards every measurement to each sink in order.
type Fanout []outbound.MetricsSink

// Count implements outbound.MetricsSink.
func (f Fanout) Count(ctx context.Context, name string, value float64) {
	for _, s := range f {
		s.Count(ctx, name, value)
	}
}

// Latency implements outbound.MetricsSink.
func (f Fanout) Latency(ctx context.Context, name string, d time.Duration) {
	for _, s := range f {
		s.Latency(ctx, name, d)
	}
}

// Nop discards all measurements.
type Nop struct{}

// Count implements outbound.MetricsSink.
func (Nop) Count(context.Context, string, float64) {}

// Latency implements outbound.MetricsSink.
func (Nop) Latency(context.Context, string, time.Duration) {}

var (
	_ outbound.MetricsSink = Fanout(nil)
	_ outbound.MetricsSink = Nop{}
)
