// Package model describes a guarded call to the language model and its result.
package model

import "github.com/Sentinel-Gate/aiwaf/internal/domain/request"

// Guardrail actions reported by the model backend that mean the call was intercepted.
const (
	GuardrailBlocked    = "BLOCKED"
	GuardrailIntervened = "INTERVENED"
	GuardrailNone       = "NONE"
)

// DefaultGuardrailVersion is used when a guardrail is configured without a version.
const DefaultGuardrailVersion = "DRAFT"

// Invocation is a single request to the model backend.
type Invocation struct {
	// ModelID overrides the client's configured model when set.
	ModelID string
	Prompt  string
	// GuardrailID attaches a content guardrail when non-empty.
	GuardrailID      string
	GuardrailVersion string
	MaxTokens        int
	Temperature      float64
}

// Response is what the backend returned for an Invocation.
type Response struct {
	// Text is the concatenated text content of the reply.
	Text string
	// GuardrailAction is the out-of-band guardrail signal, empty when absent.
	GuardrailAction string
	// ToolCalls are tool invocations requested by the model, if any.
	ToolCalls []request.ToolRequest
}

// IsGuardrailBlock reports whether action means the guardrail intercepted the call.
func IsGuardrailBlock(action string) bool {
	return action == GuardrailBlocked || action == GuardrailIntervened
}

// InvocationResult is the guarded invoker's view of a model call.
// Content is nil exactly when BlockedByGuardrail is true.
type InvocationResult struct {
	BlockedByGuardrail bool
	GuardrailAction    string
	Content            *string
	ToolCalls          []request.ToolRequest
}

// Blocked builds the result for a call intercepted by the guardrail.
func Blocked(action string) InvocationResult {
	return InvocationResult{BlockedByGuardrail: true, GuardrailAction: action}
}

// Delivered builds the result for a call that produced content.
func Delivered(text, action string, calls []request.ToolRequest) InvocationResult {
	return InvocationResult{
		GuardrailAction: action,
		Content:         &text,
		ToolCalls:       calls,
	}
}

// Text returns the content or "" when the call was blocked.
func (r InvocationResult) Text() string {
	if r.Content == nil {
		return ""
	}
	return *r.Content
}
