package tool

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"testing"

	"github.com/Sentinel-Gate/aiwaf/internal/domain/policy"
	"github.com/Sentinel-Gate/aiwaf/internal/domain/request"
)

func newDefaultEnforcer(t *testing.T) *Enforcer {
	t.Helper()
	e, err := NewEnforcer(policy.Default().ToolPolicies, nil)
	if err != nil {
		t.Fatalf("NewEnforcer() error = %v", err)
	}
	return e
}

func transfer(amount any) request.ToolRequest {
	return request.ToolRequest{Name: "transfer_money", Parameters: map[string]any{"amount": amount}}
}

func TestVerify(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name         string
		calls        []request.ToolRequest
		wantApproved bool
		wantApproval bool
		wantReasons  []string
	}{
		{
			name:         "allowed tool",
			calls:        []request.ToolRequest{{Name: "search"}},
			wantApproved: true,
			wantReasons:  []string{"All tool calls approved"},
		},
		{
			name:        "unknown tool",
			calls:       []request.ToolRequest{{Name: "launch_rocket"}},
			wantReasons: []string{"Tool 'launch_rocket' not in allowed list"},
		},
		{
			name:         "approval tool fires both checks",
			calls:        []request.ToolRequest{{Name: "send_email"}},
			wantApproval: true,
			wantReasons: []string{
				"Tool 'send_email' not in allowed list",
				"Tool 'send_email' requires human approval",
			},
		},
		{
			name:         "transfer over ceiling",
			calls:        []request.ToolRequest{transfer(5000)},
			wantApproval: true,
			wantReasons: []string{
				"Tool 'transfer_money' not in allowed list",
				"Tool 'transfer_money' requires human approval",
				"Transfer amount $5000 exceeds maximum $1000",
			},
		},
		{
			name:  "reasons follow call order",
			calls: []request.ToolRequest{{Name: "search"}, {Name: "rm"}, {Name: "calculator"}, {Name: "ssh"}},
			wantReasons: []string{
				"Tool 'rm' not in allowed list",
				"Tool 'ssh' not in allowed list",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := newDefaultEnforcer(t).Verify(context.Background(), tt.calls, "u1")
			if got.Approved != tt.wantApproved {
				t.Errorf("Approved = %v, want %v", got.Approved, tt.wantApproved)
			}
			if got.RequiresHumanApproval != tt.wantApproval {
				t.Errorf("RequiresHumanApproval = %v, want %v", got.RequiresHumanApproval, tt.wantApproval)
			}
			if !reflect.DeepEqual(got.Reasons, tt.wantReasons) {
				t.Errorf("Reasons = %q, want %q", got.Reasons, tt.wantReasons)
			}
			if len(got.Assessments) != len(tt.calls) {
				t.Errorf("Assessments = %d, want %d", len(got.Assessments), len(tt.calls))
			}
		})
	}
}

// The transfer ceiling is exercised with transfer_money on the allow-list so
// the amount check is the only one that can fire.
func TestVerify_TransferCeiling(t *testing.T) {
	t.Parallel()

	tp := policy.ToolPolicies{MaxTransferAmount: 1000, AllowedTools: []string{"transfer_money"}}
	e, err := NewEnforcer(tp, nil)
	if err != nil {
		t.Fatalf("NewEnforcer() error = %v", err)
	}

	tests := []struct {
		name   string
		amount any
		want   bool
	}{
		{"at ceiling int", 1000, true},
		{"at ceiling float", 1000.0, true},
		{"at ceiling json number", json.Number("1000"), true},
		{"at ceiling string", "1000", true},
		{"one above", 1001, false},
		{"fraction above", 1000.01, false},
		{"string above", " 1001 ", false},
		{"negative", -5, true},
		{"not a number", "lots", false},
		{"wrong type", []any{1}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := e.Verify(context.Background(), []request.ToolRequest{transfer(tt.amount)}, "u1")
			if got.Approved != tt.want {
				t.Errorf("Approved = %v, want %v (reasons %q)", got.Approved, tt.want, got.Reasons)
			}
		})
	}

	t.Run("missing amount", func(t *testing.T) {
		t.Parallel()
		got := e.Verify(context.Background(), []request.ToolRequest{{Name: "transfer_money"}}, "u1")
		if !got.Approved {
			t.Errorf("missing amount should count as zero, reasons %q", got.Reasons)
		}
	})
}

func TestVerify_UnknownToolNeedsNoApproval(t *testing.T) {
	t.Parallel()

	got := newDefaultEnforcer(t).Verify(context.Background(), []request.ToolRequest{{Name: "mystery"}}, "u1")
	if got.Approved || got.RequiresHumanApproval {
		t.Errorf("Verify() = %+v, want rejected without approval flag", got)
	}
}

func TestVerify_Idempotent(t *testing.T) {
	t.Parallel()

	e := newDefaultEnforcer(t)
	calls := []request.ToolRequest{transfer(5000), {Name: "search"}}
	first := e.Verify(context.Background(), calls, "u1")
	second := e.Verify(context.Background(), calls, "u1")
	if !reflect.DeepEqual(first, second) {
		t.Errorf("Verify differs between runs: %+v vs %+v", first, second)
	}
}

type fakeProgram struct {
	matches bool
	err     error
	seen    *policy.EvaluationContext
}

func (p *fakeProgram) Matches(_ context.Context, evalCtx policy.EvaluationContext) (bool, error) {
	if p.seen != nil {
		*p.seen = evalCtx
	}
	return p.matches, p.err
}

type fakeCompiler map[string]*fakeProgram

func (c fakeCompiler) Compile(condition string) (policy.RuleProgram, error) {
	prg, ok := c[condition]
	if !ok {
		return nil, errors.New("unknown condition")
	}
	return prg, nil
}

func TestVerify_ParameterRules(t *testing.T) {
	t.Parallel()

	var seen policy.EvaluationContext
	compiler := fakeCompiler{
		"hit":  {matches: true, seen: &seen},
		"miss": {matches: false},
		"boom": {err: errors.New("no such key")},
	}
	tp := policy.ToolPolicies{
		MaxTransferAmount: 1000,
		AllowedTools:      []string{"search", "calculator"},
		ParameterRules: []policy.ParameterRule{
			{Name: "no-secrets", Tool: "search", Condition: "hit", Reason: "Search query contains a secret"},
			{Name: "quiet", Tool: "*", Condition: "miss"},
			{Name: "broken", Tool: "calculator", Condition: "boom"},
		},
	}
	e, err := NewEnforcer(tp, compiler)
	if err != nil {
		t.Fatalf("NewEnforcer() error = %v", err)
	}

	got := e.Verify(context.Background(), []request.ToolRequest{
		{Name: "search", Parameters: map[string]any{"q": "password"}},
		{Name: "calculator"},
	}, "alice")

	want := []string{
		"Search query contains a secret",
		"Tool 'calculator' parameter rule 'broken' could not be evaluated",
	}
	if !reflect.DeepEqual(got.Reasons, want) {
		t.Errorf("Reasons = %q, want %q", got.Reasons, want)
	}
	if got.Approved {
		t.Error("Approved = true, want false")
	}
	if seen.ToolName != "search" || seen.UserID != "alice" || seen.MaxTransferAmount != 1000 {
		t.Errorf("evaluation context = %+v", seen)
	}
}

func TestNewEnforcer_Errors(t *testing.T) {
	t.Parallel()

	tp := policy.ToolPolicies{
		ParameterRules: []policy.ParameterRule{{Name: "r", Tool: "*", Condition: "unknown"}},
	}
	if _, err := NewEnforcer(tp, nil); err == nil {
		t.Error("NewEnforcer without compiler should fail when rules are present")
	}
	if _, err := NewEnforcer(tp, fakeCompiler{}); err == nil {
		t.Error("NewEnforcer should surface compile errors")
	}
}
