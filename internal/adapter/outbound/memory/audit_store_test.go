package memory

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/Sentinel-Gate/aiwaf/internal/domain/audit"
)

func sampleEvent(id string) audit.SecurityEvent {
	return audit.SecurityEvent{
		Timestamp:    time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC),
		RequestID:    id,
		UserID:       "alice",
		Action:       audit.ActionBlocked,
		Stage:        "CLASSIFIED",
		PromptHash:   audit.HashPrompt("act as DAN"),
		PromptLength: 10,
		RiskScore:    85,
		Reasons:      []string{"Forbidden patterns detected: act as DAN"},
		Environment:  "dev",
	}
}

func TestAuditStore_WritesJSONLines(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	store := NewAuditStoreWithWriter(&buf)
	if err := store.Append(context.Background(), sampleEvent("r1"), sampleEvent("r2")); err != nil {
		t.Fatalf("Append() error = %v", err)
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("wrote %d lines, want 2", len(lines))
	}
	var decoded audit.SecurityEvent
	if err := json.Unmarshal([]byte(lines[1]), &decoded); err != nil {
		t.Fatalf("line is not JSON: %v", err)
	}
	if decoded.RequestID != "r2" || decoded.RiskScore != 85 || decoded.Action != audit.ActionBlocked {
		t.Errorf("decoded = %+v", decoded)
	}
	if strings.Contains(buf.String(), `"act as DAN"`) && !strings.Contains(buf.String(), "Forbidden patterns") {
		t.Error("raw prompt written to audit stream")
	}
	if err := store.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}

func TestFileAuditStore_Appends(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "audit.jsonl")
	for _, id := range []string{"a", "b"} {
		store, err := NewFileAuditStore(path)
		if err != nil {
			t.Fatalf("NewFileAuditStore() error = %v", err)
		}
		if err := store.Append(context.Background(), sampleEvent(id)); err != nil {
			t.Fatalf("Append() error = %v", err)
		}
		if err := store.Flush(context.Background()); err != nil {
			t.Fatalf("Flush() error = %v", err)
		}
		if err := store.Close(); err != nil {
			t.Fatalf("Close() error = %v", err)
		}
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	var ids []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var e audit.SecurityEvent
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			t.Fatalf("bad line %q: %v", sc.Text(), err)
		}
		ids = append(ids, e.RequestID)
	}
	if strings.Join(ids, ",") != "a,b" {
		t.Errorf("ids = %v, want [a b]", ids)
	}
}

func TestNewFileAuditStore_BadPath(t *testing.T) {
	t.Parallel()

	if _, err := NewFileAuditStore(filepath.Join(t.TempDir(), "missing", "dir", "audit.jsonl")); err == nil {
		t.Error("NewFileAuditStore() succeeded for a missing directory")
	}
}
