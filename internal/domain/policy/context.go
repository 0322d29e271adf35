package policy

import "time"

// EvaluationContext is the input of a tool parameter rule.
type EvaluationContext struct {
	// ToolName is the name of the tool being invoked.
	ToolName string
	// Parameters are the arguments passed to the tool.
	Parameters map[string]any
	// UserID identifies the caller.
	UserID string
	// MaxTransferAmount is the active transfer ceiling.
	MaxTransferAmount float64
	// RequestTime is when the tool call was evaluated.
	RequestTime time.Time
}
