// Package cel compiles and evaluates CEL conditions of tool parameter rules.
package cel

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/cel-go/cel"

	"github.com/Sentinel-Gate/aiwaf/internal/domain/policy"
)

const (
	// maxExpressionLength bounds the size of a rule condition.
	maxExpressionLength = 1024
	// maxCostBudget is the CEL runtime cost limit.
	maxCostBudget = 100_000
	// maxNestingDepth bounds parenthesis, bracket and brace nesting.
	maxNestingDepth = 50
	// evalTimeout bounds a single evaluation.
	evalTimeout = time.Second
	// interruptCheckFreq is how often comprehensions check for cancellation.
	interruptCheckFreq = 100
)

// Evaluator compiles rule conditions. It implements policy.RuleCompiler.
type Evaluator struct {
	env *cel.Env
}

// NewEvaluator creates an Evaluator with the rule environment.
func NewEvaluator() (*Evaluator, error) {
	env, err := NewRuleEnvironment()
	if err != nil {
		return nil, fmt.Errorf("failed to create rule environment: %w", err)
	}
	return &Evaluator{env: env}, nil
}

// Compile validates, type-checks and plans condition. The condition must
// evaluate to a bool.
func (e *Evaluator) Compile(condition string) (policy.RuleProgram, error) {
	if condition == "" {
		return nil, errors.New("expression is empty")
	}
	if len(condition) > maxExpressionLength {
		return nil, fmt.Errorf("expression too long: %d characters (max %d)", len(condition), maxExpressionLength)
	}
	if err := validateNesting(condition); err != nil {
		return nil, err
	}

	ast, issues := e.env.Compile(condition)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compilation failed: %w", issues.Err())
	}
	if out := ast.OutputType(); !out.IsExactType(cel.BoolType) && !out.IsExactType(cel.DynType) {
		return nil, fmt.Errorf("expression must return bool, got %s", out)
	}

	prg, err := e.env.Program(ast,
		cel.EvalOptions(cel.OptOptimize),
		cel.CostLimit(maxCostBudget),
		cel.InterruptCheckFrequency(interruptCheckFreq),
	)
	if err != nil {
		return nil, fmt.Errorf("program creation failed: %w", err)
	}
	return &program{prg: prg}, nil
}

func validateNesting(expr string) error {
	var depth, maxDepth int
	for _, ch := range expr {
		switch ch {
		case '(', '[', '{':
			depth++
			maxDepth = max(maxDepth, depth)
		case ')', ']', '}':
			depth--
		}
	}
	if maxDepth > maxNestingDepth {
		return fmt.Errorf("expression nesting too deep: %d levels (max %d)", maxDepth, maxNestingDepth)
	}
	return nil
}

// program is a compiled condition.
type program struct {
	prg cel.Program
}

// Matches evaluates the condition. Missing parameters and type mismatches
// surface as errors.
func (p *program) Matches(ctx context.Context, evalCtx policy.EvaluationContext) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, evalTimeout)
	defer cancel()

	result, _, err := p.prg.ContextEval(ctx, buildActivation(evalCtx))
	if err != nil {
		return false, fmt.Errorf("evaluation failed: %w", err)
	}
	matched, ok := result.Value().(bool)
	if !ok {
		return false, fmt.Errorf("expression did not return a boolean, got %T", result.Value())
	}
	return matched, nil
}
