// Package bedrock talks to Anthropic models hosted on Amazon Bedrock. The
// same Client serves as the gateway's risk evaluator and as its guarded
// model backend.
package bedrock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsmiddleware "github.com/aws/aws-sdk-go-v2/aws/middleware"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	smithyhttp "github.com/aws/smithy-go/transport/http"

	"github.com/Sentinel-Gate/aiwaf/internal/domain/model"
	"github.com/Sentinel-Gate/aiwaf/internal/domain/request"
	"github.com/Sentinel-Gate/aiwaf/internal/port/outbound"
)

const (
	// AnthropicVersion is the messages API version Bedrock expects in the body.
	AnthropicVersion = "bedrock-2023-05-31"

	// GuardrailActionHeader carries the guardrail decision out of band.
	GuardrailActionHeader = "X-Amzn-Bedrock-Guardrail-Action"
)

// ErrEmptyResponse is returned when the model reply has no text block.
var ErrEmptyResponse = errors.New("model returned no content")

// InvokeModelAPI is the subset of the Bedrock runtime client the adapter uses.
type InvokeModelAPI interface {
	InvokeModel(ctx context.Context, in *bedrockruntime.InvokeModelInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error)
}

// Config selects the models and the classifier's generation settings.
type Config struct {
	// ModelID is used for invocations that do not name a model.
	ModelID string
	// ClassifierModelID defaults to ModelID.
	ClassifierModelID     string
	ClassifierMaxTokens   int
	ClassifierTemperature float64
}

// Client implements outbound.RiskEvaluator and outbound.ModelClient.
type Client struct {
	api    InvokeModelAPI
	cfg    Config
	logger *slog.Logger
}

// New creates a Client from an AWS config.
func New(awsCfg aws.Config, cfg Config, logger *slog.Logger, optFns ...func(*bedrockruntime.Options)) *Client {
	return NewWithAPI(bedrockruntime.NewFromConfig(awsCfg, optFns...), cfg, logger)
}

// NewWithAPI creates a Client around an existing runtime client.
func NewWithAPI(api InvokeModelAPI, cfg Config, logger *slog.Logger) *Client {
	if cfg.ClassifierModelID == "" {
		cfg.ClassifierModelID = cfg.ModelID
	}
	return &Client{api: api, cfg: cfg, logger: logger}
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type messagesRequest struct {
	AnthropicVersion string    `json:"anthropic_version"`
	MaxTokens        int       `json:"max_tokens"`
	Temperature      float64   `json:"temperature"`
	Messages         []message `json:"messages"`
}

type contentBlock struct {
	Type  string         `json:"type"`
	Text  string         `json:"text,omitempty"`
	Name  string         `json:"name,omitempty"`
	Input map[string]any `json:"input,omitempty"`
}

type messagesResponse struct {
	Content         []contentBlock `json:"content"`
	StopReason      string         `json:"stop_reason"`
	GuardrailAction string         `json:"amazon-bedrock-guardrailAction"`
}

// Evaluate sends the analysis prompt to the classifier model and returns the
// reply text. An empty text block is returned as "", so the caller applies
// its fallback verdict; only a reply without any text block is an error.
func (c *Client) Evaluate(ctx context.Context, analysisPrompt string) (string, error) {
	resp, hasText, err := c.invoke(ctx, model.Invocation{
		ModelID:     c.cfg.ClassifierModelID,
		Prompt:      analysisPrompt,
		MaxTokens:   c.cfg.ClassifierMaxTokens,
		Temperature: c.cfg.ClassifierTemperature,
	})
	if err != nil {
		return "", err
	}
	if !hasText {
		return "", ErrEmptyResponse
	}
	return resp.Text, nil
}

// Invoke sends a single-turn messages request. When inv.GuardrailID is set
// the guardrail is attached and its decision is read from the response
// header, falling back to the body field.
func (c *Client) Invoke(ctx context.Context, inv model.Invocation) (model.Response, error) {
	resp, _, err := c.invoke(ctx, inv)
	return resp, err
}

// invoke also reports whether the reply carried at least one text block.
func (c *Client) invoke(ctx context.Context, inv model.Invocation) (model.Response, bool, error) {
	modelID := inv.ModelID
	if modelID == "" {
		modelID = c.cfg.ModelID
	}

	body, err := json.Marshal(messagesRequest{
		AnthropicVersion: AnthropicVersion,
		MaxTokens:        inv.MaxTokens,
		Temperature:      inv.Temperature,
		Messages:         []message{{Role: "user", Content: inv.Prompt}},
	})
	if err != nil {
		return model.Response{}, false, fmt.Errorf("marshal messages request: %w", err)
	}

	in := &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(modelID),
		Body:        body,
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
	}
	if inv.GuardrailID != "" {
		version := inv.GuardrailVersion
		if version == "" {
			version = model.DefaultGuardrailVersion
		}
		in.GuardrailIdentifier = aws.String(inv.GuardrailID)
		in.GuardrailVersion = aws.String(version)
	}

	out, err := c.api.InvokeModel(ctx, in)
	if err != nil {
		return model.Response{}, false, fmt.Errorf("invoke model %s: %w", modelID, err)
	}

	var parsed messagesResponse
	if err := json.Unmarshal(out.Body, &parsed); err != nil {
		return model.Response{}, false, fmt.Errorf("decode model response: %w", err)
	}

	action := headerGuardrailAction(out)
	if action == "" {
		action = parsed.GuardrailAction
	}

	var (
		text    strings.Builder
		hasText bool
		calls   []request.ToolRequest
	)
	for _, block := range parsed.Content {
		switch block.Type {
		case "text":
			hasText = true
			text.WriteString(block.Text)
		case "tool_use":
			calls = append(calls, request.ToolRequest{Name: block.Name, Parameters: block.Input})
		}
	}

	c.logger.Debug("model invoked",
		"model_id", modelID,
		"guardrail_action", action,
		"stop_reason", parsed.StopReason,
		"response_length", text.Len(),
	)

	return model.Response{Text: text.String(), GuardrailAction: action, ToolCalls: calls}, hasText, nil
}

// headerGuardrailAction reads the guardrail header from the raw HTTP
// response kept in the operation metadata.
func headerGuardrailAction(out *bedrockruntime.InvokeModelOutput) string {
	raw, ok := awsmiddleware.GetRawResponse(out.ResultMetadata).(*smithyhttp.Response)
	if !ok || raw == nil {
		return ""
	}
	return raw.Header.Get(GuardrailActionHeader)
}

var (
	_ outbound.RiskEvaluator = (*Client)(nil)
	_ outbound.ModelClient   = (*Client)(nil)
)
