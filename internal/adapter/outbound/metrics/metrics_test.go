package metrics

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.uber.org/goleak"

	"github.com/Sentinel-Gate/aiwaf/internal/domain/pipeline"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestPrometheus_CountAndLatency(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	p := NewPrometheus(reg, "test")
	ctx := context.Background()

	p.Count(ctx, pipeline.MetricBlockedRequests, 1)
	p.Count(ctx, pipeline.MetricBlockedRequests, 2)
	p.Count(ctx, pipeline.MetricAllowedRequests, -1)
	p.Latency(ctx, pipeline.MetricRequestLatency, 150*time.Millisecond)

	if got := testutil.ToFloat64(p.events.WithLabelValues(pipeline.MetricBlockedRequests, "test")); got != 3 {
		t.Errorf("BlockedRequests = %v, want 3", got)
	}
	if got := testutil.ToFloat64(p.events.WithLabelValues(pipeline.MetricAllowedRequests, "test")); got != 0 {
		t.Errorf("AllowedRequests = %v, want 0 (negative adds ignored)", got)
	}
	if n := testutil.CollectAndCount(p.events); n != len(pipeline.CountMetrics) {
		t.Errorf("pre-initialised series = %d, want %d", n, len(pipeline.CountMetrics))
	}
	if n := testutil.CollectAndCount(p.latency); n != 1 {
		t.Errorf("latency series = %d, want 1", n)
	}
}

type recordingSink struct {
	mu     sync.Mutex
	counts map[string]float64
	lats   int
}

func (r *recordingSink) Count(_ context.Context, name string, v float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.counts == nil {
		r.counts = map[string]float64{}
	}
	r.counts[name] += v
}

func (r *recordingSink) Latency(context.Context, string, time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lats++
}

func TestFanout(t *testing.T) {
	t.Parallel()

	a, b := &recordingSink{}, &recordingSink{}
	f := Fanout{a, b, Nop{}}
	f.Count(context.Background(), "Errors", 1)
	f.Latency(context.Background(), "RequestLatency", time.Second)

	for i, s := range []*recordingSink{a, b} {
		if s.counts["Errors"] != 1 || s.lats != 1 {
			t.Errorf("sink %d: counts=%v lats=%d", i, s.counts, s.lats)
		}
	}
}

func TestOTel_RecordsThroughMeter(t *testing.T) {
	t.Parallel()

	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	o := NewOTel(provider.Meter("test"), "dev", discardLogger())
	ctx := context.Background()
	o.Count(ctx, pipeline.MetricGuardrailBlocked, 1)
	o.Count(ctx, pipeline.MetricGuardrailBlocked, 1)
	o.Latency(ctx, pipeline.MetricRequestLatency, 20*time.Millisecond)

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(ctx, &rm); err != nil {
		t.Fatalf("Collect() error = %v", err)
	}

	found := map[string]bool{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			found[m.Name] = true
			if sum, ok := m.Data.(metricdata.Sum[float64]); ok && m.Name == "aiwaf.GuardrailBlocked" {
				if len(sum.DataPoints) != 1 || sum.DataPoints[0].Value != 2 {
					t.Errorf("GuardrailBlocked points = %+v", sum.DataPoints)
				}
				if v, ok := sum.DataPoints[0].Attributes.Value("environment"); !ok || v.AsString() != "dev" {
					t.Errorf("environment attribute = %v", v)
				}
			}
		}
	}
	if !found["aiwaf.GuardrailBlocked"] || !found["aiwaf.RequestLatency"] {
		t.Errorf("instruments found = %v", found)
	}
}

type fakeCloudWatch struct {
	mu    sync.Mutex
	calls []*cloudwatch.PutMetricDataInput
	err   error
}

func (f *fakeCloudWatch) PutMetricData(_ context.Context, in *cloudwatch.PutMetricDataInput, _ ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, in)
	return &cloudwatch.PutMetricDataOutput{}, f.err
}

func (f *fakeCloudWatch) datums() []types.MetricDatum {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []types.MetricDatum
	for _, c := range f.calls {
		out = append(out, c.MetricData...)
	}
	return out
}

func TestCloudWatch_FlushPublishesDatums(t *testing.T) {
	t.Parallel()

	fake := &fakeCloudWatch{}
	cw := NewCloudWatch(fake, "", "prod", time.Hour, discardLogger())
	ctx := context.Background()
	cw.Count(ctx, pipeline.MetricBlockedRequests, 1)
	cw.Latency(ctx, pipeline.MetricRequestLatency, 250*time.Millisecond)
	cw.Flush(ctx)

	if len(fake.calls) != 1 || aws.ToString(fake.calls[0].Namespace) != DefaultNamespace {
		t.Fatalf("calls = %d", len(fake.calls))
	}
	ds := fake.datums()
	if len(ds) != 2 {
		t.Fatalf("datums = %d, want 2", len(ds))
	}
	if ds[0].Unit != types.StandardUnitCount || aws.ToFloat64(ds[0].Value) != 1 {
		t.Errorf("count datum = %+v", ds[0])
	}
	if ds[1].Unit != types.StandardUnitMilliseconds || aws.ToFloat64(ds[1].Value) != 250 {
		t.Errorf("latency datum = %+v", ds[1])
	}
	dim := ds[0].Dimensions[0]
	if aws.ToString(dim.Name) != "Environment" || aws.ToString(dim.Value) != "prod" {
		t.Errorf("dimension = %s=%s", aws.ToString(dim.Name), aws.ToString(dim.Value))
	}

	cw.Flush(ctx)
	if len(fake.calls) != 1 {
		t.Error("empty flush made a call")
	}
}

func TestCloudWatch_ChunksAndSwallowsErrors(t *testing.T) {
	t.Parallel()

	fake := &fakeCloudWatch{err: errors.New("throttled")}
	cw := NewCloudWatch(fake, "ns", "dev", time.Hour, discardLogger())
	for range maxDatumsPerCall + 1 {
		cw.Count(context.Background(), "Errors", 1)
	}
	cw.Flush(context.Background())
	if len(fake.calls) != 2 {
		t.Errorf("calls = %d, want 2", len(fake.calls))
	}
}

func TestCloudWatch_StopFlushes(t *testing.T) {
	t.Parallel()

	fake := &fakeCloudWatch{}
	cw := NewCloudWatch(fake, "ns", "dev", time.Hour, discardLogger())
	cw.Start()
	cw.Count(context.Background(), "AllowedRequests", 1)
	cw.Stop(context.Background())
	cw.Stop(context.Background())

	if len(fake.datums()) != 1 {
		t.Errorf("datums after Stop = %d, want 1", len(fake.datums()))
	}
}

func TestCloudWatch_StopWithoutStart(t *testing.T) {
	t.Parallel()

	cw := NewCloudWatch(&fakeCloudWatch{}, "ns", "dev", time.Hour, discardLogger())
	cw.Stop(context.Background())
}
