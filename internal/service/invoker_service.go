package service

import (
	"context"
	"log/slog"

	"github.com/Sentinel-Gate/aiwaf/internal/domain/model"
	"github.com/Sentinel-Gate/aiwaf/internal/domain/pipeline"
	"github.com/Sentinel-Gate/aiwaf/internal/port/outbound"
)

// InvokerConfig holds the generation and guardrail settings of a model call.
type InvokerConfig struct {
	ModelID          string
	GuardrailID      string
	GuardrailVersion string
	MaxTokens        int
	Temperature      float64
}

// InvokerService calls the model with the content guardrail attached when
// one is configured and reports whether the guardrail intercepted the call.
type InvokerService struct {
	client outbound.ModelClient
	cfg    InvokerConfig
	logger *slog.Logger
}

// NewInvokerService creates an InvokerService.
func NewInvokerService(client outbound.ModelClient, cfg InvokerConfig, logger *slog.Logger) *InvokerService {
	if cfg.GuardrailID != "" && cfg.GuardrailVersion == "" {
		cfg.GuardrailVersion = model.DefaultGuardrailVersion
	}
	return &InvokerService{client: client, cfg: cfg, logger: logger}
}

// Invoke sends prompt to the model. A guardrail interception is a result,
// not an error; a failed call returns *pipeline.UpstreamError.
// reqContext is not forwarded to the model.
func (s *InvokerService) Invoke(ctx context.Context, prompt string, reqContext map[string]any) (model.InvocationResult, error) {
	return s.invoke(ctx, prompt, true)
}

// InvokeUnguarded sends prompt without a guardrail. Only the authorized
// direct path uses it.
func (s *InvokerService) InvokeUnguarded(ctx context.Context, prompt string) (model.InvocationResult, error) {
	return s.invoke(ctx, prompt, false)
}

func (s *InvokerService) invoke(ctx context.Context, prompt string, guarded bool) (model.InvocationResult, error) {
	inv := model.Invocation{
		ModelID:     s.cfg.ModelID,
		Prompt:      prompt,
		MaxTokens:   s.cfg.MaxTokens,
		Temperature: s.cfg.Temperature,
	}
	if guarded && s.cfg.GuardrailID != "" {
		inv.GuardrailID = s.cfg.GuardrailID
		inv.GuardrailVersion = s.cfg.GuardrailVersion
	}

	resp, err := s.client.Invoke(ctx, inv)
	if err != nil {
		return model.InvocationResult{}, &pipeline.UpstreamError{Dependency: "model", Err: err}
	}

	if model.IsGuardrailBlock(resp.GuardrailAction) {
		loggerFromContext(ctx, s.logger).Warn("guardrail intercepted model call",
			"guardrail_action", resp.GuardrailAction,
			"guardrail_id", inv.GuardrailID,
		)
		return model.Blocked(resp.GuardrailAction), nil
	}
	return model.Delivered(resp.Text, resp.GuardrailAction, resp.ToolCalls), nil
}
