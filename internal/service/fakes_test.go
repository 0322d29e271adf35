package service

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/Sentinel-Gate/aiwaf/internal/domain/audit"
	"github.com/Sentinel-Gate/aiwaf/internal/domain/model"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeEvaluator answers every analysis prompt with a fixed text or error.
type fakeEvaluator struct {
	mu      sync.Mutex
	answer  string
	err     error
	calls   int
	prompts []string
}

func (f *fakeEvaluator) Evaluate(_ context.Context, analysisPrompt string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.prompts = append(f.prompts, analysisPrompt)
	return f.answer, f.err
}

func (f *fakeEvaluator) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// fakeModel returns a fixed response or error and remembers invocations.
type fakeModel struct {
	mu          sync.Mutex
	resp        model.Response
	err         error
	panicMsg    string
	invocations []model.Invocation
}

func (f *fakeModel) Invoke(_ context.Context, inv model.Invocation) (model.Response, error) {
	f.mu.Lock()
	f.invocations = append(f.invocations, inv)
	f.mu.Unlock()
	if f.panicMsg != "" {
		panic(f.panicMsg)
	}
	return f.resp, f.err
}

func (f *fakeModel) Invocations() []model.Invocation {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.Invocation(nil), f.invocations...)
}

// recordingMetrics collects every emitted metric.
type recordingMetrics struct {
	mu        sync.Mutex
	counts    map[string]float64
	latencies map[string][]time.Duration
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{
		counts:    make(map[string]float64),
		latencies: make(map[string][]time.Duration),
	}
}

func (m *recordingMetrics) Count(_ context.Context, name string, value float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counts[name] += value
}

func (m *recordingMetrics) Latency(_ context.Context, name string, d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.latencies[name] = append(m.latencies[name], d)
}

func (m *recordingMetrics) Counted(name string) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counts[name]
}

func (m *recordingMetrics) Total() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, v := range m.counts {
		n += int(v)
	}
	for _, v := range m.latencies {
		n += len(v)
	}
	return n
}

// recordingRecorder keeps events in memory.
type recordingRecorder struct {
	mu     sync.Mutex
	events []audit.SecurityEvent
}

func (r *recordingRecorder) Record(e audit.SecurityEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recordingRecorder) Events() []audit.SecurityEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]audit.SecurityEvent(nil), r.events...)
}

// memoryStore is an audit.AuditStore that keeps events in memory.
type memoryStore struct {
	mu      sync.Mutex
	events  []audit.SecurityEvent
	delay   time.Duration
	err     error
	flushes int
}

func (m *memoryStore) Append(_ context.Context, events ...audit.SecurityEvent) error {
	if m.delay > 0 {
		time.Sleep(m.delay)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.events = append(m.events, events...)
	return nil
}

func (m *memoryStore) Flush(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.flushes++
	return nil
}

func (m *memoryStore) Close() error { return nil }

func (m *memoryStore) Events() []audit.SecurityEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]audit.SecurityEvent(nil), m.events...)
}
