package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Sentinel-Gate/aiwaf/internal/domain/output"
	"github.com/Sentinel-Gate/aiwaf/internal/domain/policy"
	"github.com/Sentinel-Gate/aiwaf/internal/domain/tool"
)

// PolicySnapshot is an immutable, fully compiled security policy. Every
// request reads exactly one snapshot from start to finish.
type PolicySnapshot struct {
	Policy   policy.SecurityPolicy
	Enforcer *tool.Enforcer
	Verifier *output.Verifier
	Version  uint64
	LoadedAt time.Time
}

// PolicyRuntime publishes the active PolicySnapshot. Reads are lock-free;
// Reload compiles a new snapshot and swaps it in atomically, so a bad policy
// never replaces a good one.
type PolicyRuntime struct {
	compiler policy.RuleCompiler
	logger   *slog.Logger
	current  atomic.Pointer[PolicySnapshot]
	mu       sync.Mutex // serializes Reload
	version  uint64
}

// NewPolicyRuntime compiles p as the initial snapshot. compiler may be nil
// when no policy will ever carry parameter rules.
func NewPolicyRuntime(p policy.SecurityPolicy, compiler policy.RuleCompiler, logger *slog.Logger) (*PolicyRuntime, error) {
	r := &PolicyRuntime{compiler: compiler, logger: logger}
	if err := r.Reload(context.Background(), p); err != nil {
		return nil, err
	}
	return r, nil
}

// Current returns the active snapshot.
func (r *PolicyRuntime) Current() *PolicySnapshot {
	return r.current.Load()
}

// Reload validates and compiles p and publishes it. On error the active
// snapshot is left untouched.
func (r *PolicyRuntime) Reload(ctx context.Context, p policy.SecurityPolicy) error {
	p = p.Clone()
	if err := p.Validate(); err != nil {
		return fmt.Errorf("invalid security policy: %w", err)
	}
	enforcer, err := tool.NewEnforcer(p.ToolPolicies, r.compiler)
	if err != nil {
		return fmt.Errorf("failed to compile tool policy: %w", err)
	}

	r.mu.Lock()
	r.version++
	snap := &PolicySnapshot{
		Policy:   p,
		Enforcer: enforcer,
		Verifier: output.NewVerifier(p.SensitivityRules),
		Version:  r.version,
		LoadedAt: time.Now().UTC(),
	}
	r.current.Store(snap)
	r.mu.Unlock()

	loggerFromContext(ctx, r.logger).Info("security policy loaded",
		"version", snap.Version,
		"forbidden_patterns", len(p.ForbiddenPatterns),
		"allowed_tools", len(p.ToolPolicies.AllowedTools),
		"approval_tools", len(p.ToolPolicies.RequireApprovalTools),
		"parameter_rules", len(p.ToolPolicies.ParameterRules),
	)
	return nil
}
