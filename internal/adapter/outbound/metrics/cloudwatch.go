package metrics

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"github.com/Sentinel-Gate/aiwaf/internal/port/outbound"
)

const (
	// DefaultNamespace is the CloudWatch namespace for gateway metrics.
	DefaultNamespace = "AI-WAF"
	// maxDatumsPerCall is the PutMetricData per-request datum limit.
	maxDatumsPerCall = 1000
	maxBuffered      = 10000
)

// PutMetricDataAPI is the subset of the CloudWatch client the sink uses.
type PutMetricDataAPI interface {
	PutMetricData(ctx context.Context, in *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

// CloudWatch buffers datums and publishes them on an interval. Each datum
// carries an Environment dimension; counts use unit Count and latencies
// unit Milliseconds.
type CloudWatch struct {
	client      PutMetricDataAPI
	namespace   string
	environment string
	interval    time.Duration
	logger      *slog.Logger
	now         func() time.Time

	mu      sync.Mutex
	buf     []types.MetricDatum
	dropped int

	started  atomic.Bool
	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// NewCloudWatch creates a sink. Call Start to begin publishing and Stop to
// flush what is buffered.
func NewCloudWatch(client PutMetricDataAPI, namespace, environment string, interval time.Duration, logger *slog.Logger) *CloudWatch {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &CloudWatch{
		client:      client,
		namespace:   namespace,
		environment: environment,
		interval:    interval,
		logger:      logger,
		now:         time.Now,
		stop:        make(chan struct{}),
		done:        make(chan struct{}),
	}
}

// Count implements outbound.MetricsSink.
func (c *CloudWatch) Count(_ context.Context, name string, value float64) {
	c.add(name, value, types.StandardUnitCount)
}

// Latency implements outbound.MetricsSink.
func (c *CloudWatch) Latency(_ context.Context, name string, d time.Duration) {
	c.add(name, float64(d)/float64(time.Millisecond), types.StandardUnitMilliseconds)
}

func (c *CloudWatch) add(name string, value float64, unit types.StandardUnit) {
	datum := types.MetricDatum{
		MetricName: aws.String(name),
		Value:      aws.Float64(value),
		Unit:       unit,
		Timestamp:  aws.Time(c.now().UTC()),
		Dimensions: []types.Dimension{{Name: aws.String("Environment"), Value: aws.String(c.environment)}},
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.buf) >= maxBuffered {
		c.dropped++
		return
	}
	c.buf = append(c.buf, datum)
}

// Start runs the publishing loop until Stop is called.
func (c *CloudWatch) Start() {
	if !c.started.CompareAndSwap(false, true) {
		return
	}
	go func() {
		defer close(c.done)
		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				c.Flush(context.Background())
			case <-c.stop:
				return
			}
		}
	}()
}

// Stop ends the loop and publishes the remaining datums within ctx.
func (c *CloudWatch) Stop(ctx context.Context) {
	c.stopOnce.Do(func() {
		close(c.stop)
		if c.started.Load() {
			<-c.done
		}
		c.Flush(ctx)
	})
}

// Flush publishes everything buffered. Failures are logged and the datums
// are discarded.
func (c *CloudWatch) Flush(ctx context.Context) {
	c.mu.Lock()
	pending := c.buf
	dropped := c.dropped
	c.buf = nil
	c.dropped = 0
	c.mu.Unlock()

	if dropped > 0 {
		c.logger.Warn("cloudwatch metric buffer full, datums dropped", "dropped", dropped)
	}

	for start := 0; start < len(pending); start += maxDatumsPerCall {
		end := min(start+maxDatumsPerCall, len(pending))
		_, err := c.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
			Namespace:  aws.String(c.namespace),
			MetricData: pending[start:end],
		})
		if err != nil {
			c.logger.Error("publish cloudwatch metrics", "namespace", c.namespace, "count", end-start, "error", err)
		}
	}
}

var _ outbound.MetricsSink = (*CloudWatch)(nil)
