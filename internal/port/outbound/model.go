// Package outbound defines the outbound port interfaces for the services
// the gateway depends on: the risk evaluator, the language model and the
// metrics sinks.
package outbound

import (
	"context"

	"github.com/Sentinel-Gate/aiwaf/internal/domain/model"
)

// RiskEvaluator is the external semantic-risk capability used by the input
// classifier. It answers a free-form analysis prompt with free-form text that
// is expected to embed a JSON verdict.
type RiskEvaluator interface {
	Evaluate(ctx context.Context, analysisPrompt string) (string, error)
}

// ModelClient invokes the language model, optionally with a content guardrail.
type ModelClient interface {
	// Invoke returns the model reply. A guardrail interception is reported
	// through Response.GuardrailAction, not as an error.
	Invoke(ctx context.Context, inv model.Invocation) (model.Response, error)
}
