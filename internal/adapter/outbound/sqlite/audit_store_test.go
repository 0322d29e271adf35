package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/Sentinel-Gate/aiwaf/internal/domain/audit"
)

func openTestStore(t *testing.T) *AuditStore {
	t.Helper()
	store, err := Open(context.Background(), filepath.Join(t.TempDir(), "audit.db"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestAuditStore_AppendAndQuery(t *testing.T) {
	t.Parallel()

	store := openTestStore(t)
	ctx := context.Background()
	ts := time.Date(2026, 10, 2, 8, 30, 0, 0, time.UTC)

	events := []audit.SecurityEvent{
		{
			Timestamp:    ts,
			RequestID:    "req-1",
			UserID:       "alice",
			SessionID:    "s-1",
			Action:       audit.ActionToolBlocked,
			Stage:        "TOOLS_VERIFIED",
			PromptHash:   audit.HashPrompt("pay bob"),
			PromptLength: 7,
			RiskScore:    10,
			Reasons:      []string{"Transfer amount $5000 exceeds maximum $1000"},
			Details:      map[string]any{"requires_human_approval": true},
			Environment:  "prod",
			LatencyMs:    12.5,
		},
		{Timestamp: ts, RequestID: "req-2", UserID: "bob", Action: audit.ActionAllowed},
	}
	if err := store.Append(ctx, events...); err != nil {
		t.Fatalf("Append() error = %v", err)
	}

	got, err := store.Query(ctx, "req-1")
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("Query() returned %d events, want 1", len(got))
	}
	e := got[0]
	if !e.Timestamp.Equal(ts) {
		t.Errorf("Timestamp = %v, want %v", e.Timestamp, ts)
	}
	if e.Action != audit.ActionToolBlocked || e.SessionID != "s-1" || e.LatencyMs != 12.5 {
		t.Errorf("event = %+v", e)
	}
	if len(e.Reasons) != 1 || e.Reasons[0] != events[0].Reasons[0] {
		t.Errorf("Reasons = %v", e.Reasons)
	}
	if e.Details["requires_human_approval"] != true {
		t.Errorf("Details = %v", e.Details)
	}

	other, err := store.Query(ctx, "req-2")
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if len(other) != 1 || other[0].Reasons == nil || len(other[0].Reasons) != 0 {
		t.Errorf("req-2 = %+v, want one event with empty reasons", other)
	}
}

func TestAuditStore_AppendEmpty(t *testing.T) {
	t.Parallel()

	store := openTestStore(t)
	if err := store.Append(context.Background()); err != nil {
		t.Errorf("Append() with no events error = %v", err)
	}
	if err := store.Flush(context.Background()); err != nil {
		t.Errorf("Flush() error = %v", err)
	}
}

func TestAuditStore_ReopenKeepsRows(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "audit.db")
	ctx := context.Background()

	first, err := Open(ctx, path)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if err := first.Append(ctx, audit.SecurityEvent{Timestamp: time.Now(), RequestID: "r", UserID: "u", Action: audit.ActionBlocked}); err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	if err := first.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	second, err := Open(ctx, path)
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	defer second.Close()
	got, err := second.Query(ctx, "r")
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if len(got) != 1 {
		t.Errorf("got %d events after reopen, want 1", len(got))
	}
}
