package cmd

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"

	"github.com/Sentinel-Gate/aiwaf/internal/adapter/outbound/memory"
	"github.com/Sentinel-Gate/aiwaf/internal/adapter/outbound/sqlite"
	"github.com/Sentinel-Gate/aiwaf/internal/config"
	"github.com/Sentinel-Gate/aiwaf/internal/domain/auth"
	"github.com/Sentinel-Gate/aiwaf/internal/observability"
)

func TestParseLogLevel(t *testing.T) {
	t.Parallel()

	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"DEBUG":   slog.LevelDebug,
		"warn":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"info":    slog.LevelInfo,
		"bogus":   slog.LevelInfo,
	}
	for in, want := range tests {
		if got := parseLogLevel(in); got != want {
			t.Errorf("parseLogLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestOpenAuditStore(t *testing.T) {
	t.Parallel()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	dir := t.TempDir()

	tests := []struct {
		output string
		check  func(t *testing.T, s any)
	}{
		{"stdout", func(t *testing.T, s any) {
			if _, ok := s.(*memory.AuditStore); !ok {
				t.Errorf("store = %T", s)
			}
		}},
		{"file://" + filepath.Join(dir, "audit.jsonl"), func(t *testing.T, s any) {
			if _, ok := s.(*memory.AuditStore); !ok {
				t.Errorf("store = %T", s)
			}
		}},
		{"sqlite://" + filepath.Join(dir, "audit.db"), func(t *testing.T, s any) {
			if _, ok := s.(*sqlite.AuditStore); !ok {
				t.Errorf("store = %T", s)
			}
		}},
	}
	for _, tt := range tests {
		store, err := openAuditStore(context.Background(), config.AuditConfig{Output: tt.output}, aws.Config{}, logger)
		if err != nil {
			t.Fatalf("openAuditStore(%q) error = %v", tt.output, err)
		}
		tt.check(t, store)
		if err := store.Close(); err != nil {
			t.Errorf("Close() error = %v", err)
		}
	}

	if _, err := openAuditStore(context.Background(), config.AuditConfig{Output: "kafka://x"}, aws.Config{}, logger); err == nil {
		t.Error("openAuditStore accepted an unknown scheme")
	}
}

func TestAuditLabel(t *testing.T) {
	t.Parallel()

	got := auditLabel(config.AuditConfig{Output: "firehose://arn:aws:firehose:us-east-1:123456789012:deliverystream/waf"})
	if got != "firehose://waf" {
		t.Errorf("auditLabel() = %q", got)
	}
	if got := auditLabel(config.AuditConfig{Output: "stdout"}); got != "stdout" {
		t.Errorf("auditLabel(stdout) = %q", got)
	}
}

func TestExporterSelection(t *testing.T) {
	t.Parallel()

	if got := tracingExporter(config.TracingConfig{Exporter: "stdout"}); got != observability.ExporterNone {
		t.Errorf("disabled tracing exporter = %q", got)
	}
	if got := tracingExporter(config.TracingConfig{Enabled: true, Exporter: "stdout"}); got != observability.ExporterStdout {
		t.Errorf("enabled tracing exporter = %q", got)
	}
	if got := otelMetricsExporter(config.MetricsConfig{Backends: []string{"prometheus"}}); got != observability.ExporterNone {
		t.Errorf("otel metrics exporter = %q", got)
	}
	if got := otelMetricsExporter(config.MetricsConfig{Backends: []string{"otel"}}); got != observability.ExporterStdout {
		t.Errorf("otel metrics exporter = %q", got)
	}
}

func TestBedrockOptions(t *testing.T) {
	t.Parallel()

	if n := len(bedrockOptions(config.ModelConfig{Timeout: time.Second})); n != 1 {
		t.Errorf("options without endpoint = %d, want 1", n)
	}
	if n := len(bedrockOptions(config.ModelConfig{Timeout: time.Second, Endpoint: "http://localhost:4566"})); n != 2 {
		t.Errorf("options with endpoint = %d, want 2", n)
	}
}

func TestHashKeyCommand(t *testing.T) {
	var out bytes.Buffer
	hashKeyCmd.SetOut(&out)
	t.Cleanup(func() { hashKeyCmd.SetOut(nil) })

	if err := hashKeyCmd.RunE(hashKeyCmd, []string{"secret-key"}); err != nil {
		t.Fatalf("hash-key error = %v", err)
	}
	hash := strings.TrimSpace(out.String())
	if !auth.IsArgon2idHash(hash) {
		t.Fatalf("hash = %q", hash)
	}
	ok, err := auth.VerifyKey("secret-key", hash)
	if err != nil || !ok {
		t.Errorf("VerifyKey() = %v, %v", ok, err)
	}
}
