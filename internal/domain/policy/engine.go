package policy

import "context"

// RuleProgram is a compiled parameter-rule condition.
type RuleProgram interface {
	// Matches reports whether the condition holds for evalCtx.
	Matches(ctx context.Context, evalCtx EvaluationContext) (bool, error)
}

// RuleCompiler turns a condition expression into a RuleProgram.
type RuleCompiler interface {
	Compile(condition string) (RuleProgram, error)
}
