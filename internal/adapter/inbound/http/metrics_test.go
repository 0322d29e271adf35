package http

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg, nil)

	if m.RequestsTotal == nil || m.RequestDuration == nil {
		t.Fatal("HTTP metrics not initialized")
	}
	if m.AuditDropsTotal != nil {
		t.Error("AuditDropsTotal registered without a source")
	}

	m.RequestsTotal.WithLabelValues("chat", "POST", "ok").Inc()
	if got := testutil.ToFloat64(m.RequestsTotal.WithLabelValues("chat", "POST", "ok")); got != 1 {
		t.Errorf("RequestsTotal = %v, want 1", got)
	}
}

func TestNewMetrics_AuditDrops(t *testing.T) {
	reg := prometheus.NewRegistry()
	var drops int64 = 7
	m := NewMetrics(reg, func() int64 { return drops })

	if got := testutil.ToFloat64(m.AuditDropsTotal); got != 7 {
		t.Errorf("AuditDropsTotal = %v, want 7", got)
	}
}
