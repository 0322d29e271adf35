package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/Sentinel-Gate/aiwaf/internal/domain/policy"
	"github.com/Sentinel-Gate/aiwaf/internal/domain/request"
)

type compiledRule struct {
	rule    policy.ParameterRule
	program policy.RuleProgram
}

// Enforcer verifies tool calls against one policy snapshot.
// It is immutable after construction and safe for concurrent use.
type Enforcer struct {
	allowed         []string
	requireApproval []string
	maxTransfer     float64
	rules           []compiledRule
	now             func() time.Time
}

// NewEnforcer compiles the policy's parameter rules. compiler may be nil
// when the policy has no parameter rules.
func NewEnforcer(p policy.ToolPolicies, compiler policy.RuleCompiler) (*Enforcer, error) {
	e := &Enforcer{
		allowed:         slices.Clone(p.AllowedTools),
		requireApproval: slices.Clone(p.RequireApprovalTools),
		maxTransfer:     p.MaxTransferAmount,
		now:             time.Now,
	}
	if len(p.ParameterRules) > 0 && compiler == nil {
		return nil, fmt.Errorf("policy has %d parameter rules but no rule compiler", len(p.ParameterRules))
	}
	for _, r := range p.ParameterRules {
		prg, err := compiler.Compile(r.Condition)
		if err != nil {
			return nil, fmt.Errorf("parameter rule %q: %w", r.Name, err)
		}
		e.rules = append(e.rules, compiledRule{rule: r, program: prg})
	}
	return e, nil
}

// Verify checks each call in order. All checks run for every call and
// every violation contributes a reason.
func (e *Enforcer) Verify(ctx context.Context, calls []request.ToolRequest, userID string) Verdict {
	v := Verdict{
		Approved:    true,
		Assessments: make([]Assessment, 0, len(calls)),
	}

	for _, call := range calls {
		callOK := true
		reject := func(reason string) {
			v.Reasons = append(v.Reasons, reason)
			callOK = false
		}

		if !slices.Contains(e.allowed, call.Name) {
			reject(fmt.Sprintf("Tool '%s' not in allowed list", call.Name))
		}
		if slices.Contains(e.requireApproval, call.Name) {
			reject(fmt.Sprintf("Tool '%s' requires human approval", call.Name))
			v.RequiresHumanApproval = true
		}
		if call.Name == TransferTool {
			if reason, ok := e.checkTransfer(call.Parameters); !ok {
				reject(reason)
			}
		}
		for _, cr := range e.rules {
			if !cr.rule.AppliesTo(call.Name) {
				continue
			}
			if reason, ok := e.checkRule(ctx, cr, call, userID); !ok {
				reject(reason)
			}
		}

		if !callOK {
			v.Approved = false
		}
		v.Assessments = append(v.Assessments, Assessment{
			Name:      call.Name,
			RiskLevel: ClassifyName(call.Name),
			Approved:  callOK,
		})
	}

	if len(v.Reasons) == 0 {
		v.Reasons = []string{ReasonApproved}
	}
	return v
}

func (e *Enforcer) checkTransfer(params map[string]any) (string, bool) {
	raw, present := params["amount"]
	if !present {
		return "", true
	}
	amount, ok := ParseAmount(raw)
	if !ok {
		return fmt.Sprintf("Transfer amount %v is not a valid number", raw), false
	}
	if amount > e.maxTransfer {
		return fmt.Sprintf("Transfer amount $%s exceeds maximum $%s", FormatAmount(amount), FormatAmount(e.maxTransfer)), false
	}
	return "", true
}

// checkRule evaluates one parameter rule. Evaluation errors reject the call.
func (e *Enforcer) checkRule(ctx context.Context, cr compiledRule, call request.ToolRequest, userID string) (string, bool) {
	matched, err := cr.program.Matches(ctx, policy.EvaluationContext{
		ToolName:          call.Name,
		Parameters:        call.Parameters,
		UserID:            userID,
		MaxTransferAmount: e.maxTransfer,
		RequestTime:       e.now(),
	})
	if err != nil {
		return fmt.Sprintf("Tool '%s' parameter rule '%s' could not be evaluated", call.Name, cr.rule.Name), false
	}
	if !matched {
		return "", true
	}
	if cr.rule.Reason != "" {
		return cr.rule.Reason, false
	}
	return fmt.Sprintf("Tool '%s' violates parameter rule '%s'", call.Name, cr.rule.Name), false
}

// ParseAmount reads a transfer amount from any JSON number or numeric string.
func ParseAmount(v any) (float64, bool) {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int:
		f = float64(n)
	case int64:
		f = float64(n)
	case int32:
		f = float64(n)
	case json.Number:
		parsed, err := n.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// FormatAmount renders an amount without a trailing fraction for whole values.
func FormatAmount(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
