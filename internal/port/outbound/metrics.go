package outbound

import (
	"context"
	"time"
)

// MetricsSink receives the gateway's aggregate counters and latencies.
// Implementations are best-effort: delivery failures are logged and never
// returned to the pipeline.
type MetricsSink interface {
	// Count adds value to the named counter.
	Count(ctx context.Context, name string, value float64)
	// Latency records a duration for the named timer.
	Latency(ctx context.Context, name string, d time.Duration)
}
