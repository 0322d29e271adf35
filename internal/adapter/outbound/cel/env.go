package cel

import (
	"path/filepath"
	"time"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
	"github.com/google/cel-go/ext"

	"github.com/Sentinel-Gate/aiwaf/internal/domain/policy"
)

// NewRuleEnvironment creates the CEL environment for tool parameter rules:
//   - tool_name: the invoked tool
//   - params: the tool parameters
//   - user_id: the caller
//   - max_transfer_amount: the active transfer ceiling
//   - request_time: evaluation time
//
// Custom functions: glob(pattern, name).
func NewRuleEnvironment() (*cel.Env, error) {
	return cel.NewEnv(
		ext.Strings(),
		ext.Sets(),
		cel.CrossTypeNumericComparisons(true),

		cel.Variable("tool_name", cel.StringType),
		cel.Variable("params", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("user_id", cel.StringType),
		cel.Variable("max_transfer_amount", cel.DoubleType),
		cel.Variable("request_time", cel.TimestampType),

		cel.Function("glob",
			cel.Overload("glob_string_string",
				[]*cel.Type{cel.StringType, cel.StringType},
				cel.BoolType,
				cel.BinaryBinding(func(pattern, name ref.Val) ref.Val {
					p, ok1 := pattern.Value().(string)
					n, ok2 := name.Value().(string)
					if !ok1 || !ok2 {
						return types.Bool(false)
					}
					matched, _ := filepath.Match(p, n)
					return types.Bool(matched)
				}),
			),
		),
	)
}

// buildActivation maps an evaluation context onto the rule variables.
func buildActivation(evalCtx policy.EvaluationContext) map[string]any {
	params := evalCtx.Parameters
	if params == nil {
		params = map[string]any{}
	}
	requestTime := evalCtx.RequestTime
	if requestTime.IsZero() {
		requestTime = time.Now()
	}
	return map[string]any{
		"tool_name":           evalCtx.ToolName,
		"params":              params,
		"user_id":             evalCtx.UserID,
		"max_transfer_amount": evalCtx.MaxTransferAmount,
		"request_time":        requestTime,
	}
}
