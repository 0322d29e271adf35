package service

import (
	"context"
	"testing"

	"github.com/Sentinel-Gate/aiwaf/internal/domain/policy"
)

func TestPolicyRuntime_ReloadSwapsSnapshot(t *testing.T) {
	t.Parallel()

	rt, err := NewPolicyRuntime(policy.Default(), nil, discardLogger())
	if err != nil {
		t.Fatalf("NewPolicyRuntime() error = %v", err)
	}
	first := rt.Current()
	if first.Version != 1 || first.Enforcer == nil || first.Verifier == nil {
		t.Fatalf("initial snapshot = %+v", first)
	}

	p := policy.Default()
	p.ForbiddenPatterns = []string{"open the pod bay doors"}
	if err := rt.Reload(context.Background(), p); err != nil {
		t.Fatalf("Reload() error = %v", err)
	}

	second := rt.Current()
	if second.Version != 2 || second.Policy.ForbiddenPatterns[0] != "open the pod bay doors" {
		t.Errorf("reloaded snapshot = %+v", second.Policy.ForbiddenPatterns)
	}
	if first.Policy.ForbiddenPatterns[0] != "ignore all previous instructions" {
		t.Error("old snapshot was mutated by reload")
	}
}

func TestPolicyRuntime_BadPolicyKeepsCurrent(t *testing.T) {
	t.Parallel()

	rt, err := NewPolicyRuntime(policy.Default(), nil, discardLogger())
	if err != nil {
		t.Fatalf("NewPolicyRuntime() error = %v", err)
	}

	bad := policy.Default()
	bad.ToolPolicies.ParameterRules = []policy.ParameterRule{{Name: "r", Tool: "*", Condition: "true"}}
	if err := rt.Reload(context.Background(), bad); err == nil {
		t.Fatal("Reload() accepted rules without a compiler")
	}

	bad = policy.Default()
	bad.ToolPolicies.MaxTransferAmount = -1
	if err := rt.Reload(context.Background(), bad); err == nil {
		t.Fatal("Reload() accepted an invalid policy")
	}

	if rt.Current().Version != 1 {
		t.Errorf("Version = %d, want 1", rt.Current().Version)
	}
}

func TestNewPolicyRuntime_InvalidPolicy(t *testing.T) {
	t.Parallel()

	p := policy.Default()
	p.ForbiddenPatterns = append(p.ForbiddenPatterns, "")
	if _, err := NewPolicyRuntime(p, nil, discardLogger()); err == nil {
		t.Error("NewPolicyRuntime() accepted an invalid policy")
	}
}
