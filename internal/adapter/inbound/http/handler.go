package http

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/Sentinel-Gate/aiwaf/internal/domain/auth"
	"github.com/Sentinel-Gate/aiwaf/internal/domain/pipeline"
	"github.com/Sentinel-Gate/aiwaf/internal/domain/request"
)

// MaxBodyBytes bounds the request body.
const MaxBodyBytes = 1 << 20

// Pipeline runs a normalized request. *service.PipelineService implements it.
type Pipeline interface {
	Process(ctx context.Context, requestID string, req request.Request) (pipeline.Outcome, error)
	ProcessDirect(ctx context.Context, requestID string, req request.Request) (pipeline.Outcome, error)
}

// Handler serves the protected and direct chat endpoints.
type Handler struct {
	pipeline   Pipeline
	directKeys *auth.KeySet
	logger     *slog.Logger
}

// NewHandler creates a Handler. directKeys nil disables /chat-direct.
func NewHandler(p Pipeline, directKeys *auth.KeySet, logger *slog.Logger) *Handler {
	return &Handler{pipeline: p, directKeys: directKeys, logger: logger}
}

type chatMetadata struct {
	GuardrailsPassed       bool     `json:"guardrails_passed"`
	OutputVerified         bool     `json:"output_verified"`
	SecurityLayersBypassed []string `json:"security_layers_bypassed,omitempty"`
}

type chatResponse struct {
	Response         string       `json:"response"`
	RequestID        string       `json:"request_id"`
	RiskScore        *int         `json:"risk_score,omitempty"`
	ProcessingTimeMs float64      `json:"processing_time_ms"`
	Warning          string       `json:"warning,omitempty"`
	Metadata         chatMetadata `json:"metadata"`
}

type errorResponse struct {
	Error     string        `json:"error"`
	Code      pipeline.Code `json:"code"`
	Reason    any           `json:"reason,omitempty"`
	RequestID string        `json:"request_id"`
}

type securityViolationResponse struct {
	Error            string        `json:"error"`
	Code             pipeline.Code `json:"code"`
	Reason           []string      `json:"reason"`
	RiskScore        int           `json:"risk_score"`
	DetectedPatterns []string      `json:"detected_patterns"`
	RequestID        string        `json:"request_id"`
}

const (
	msgMissingPrompt = "Missing required field: prompt"
	msgInternal      = "Internal server error"
	msgDirectFailed  = "Failed to process unprotected request"
)

var bypassedLayers = []string{
	"Pre-LLM Classifier",
	"Bedrock Guardrails",
	"Output Verification",
	"Tool Safety Check",
}

// readRequest decodes and normalizes the body. A body that cannot be read
// or parsed yields an empty request, which the pipeline rejects as invalid.
func (h *Handler) readRequest(r *http.Request) request.Request {
	logger := LoggerFromContext(r.Context(), h.logger)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		logger.Warn("failed to read request body", "error", err)
		return request.Normalize(request.Envelope{})
	}
	env, err := request.Decode(body)
	if err != nil {
		logger.Warn("unparsable request body", "error", err, "body_length", len(body))
		return request.Normalize(request.Envelope{})
	}
	return request.Normalize(env)
}

// Chat handles the protected path.
func (h *Handler) Chat() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, MaxBodyBytes)
		requestID := RequestIDFromContext(r.Context())
		req := h.readRequest(r)

		out, err := h.pipeline.Process(r.Context(), requestID, req)
		if err != nil {
			h.writeFailure(w, requestID, out, err)
			return
		}

		score := out.RiskScore
		writeJSON(w, http.StatusOK, chatResponse{
			Response:         out.Content,
			RequestID:        requestID,
			RiskScore:        &score,
			ProcessingTimeMs: milliseconds(out),
			Metadata:         chatMetadata{GuardrailsPassed: true, OutputVerified: true},
		})
	})
}

// Direct handles the unprotected path: 404 unless keys are configured, 401
// without a valid Bearer key.
func (h *Handler) Direct() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := RequestIDFromContext(r.Context())
		logger := LoggerFromContext(r.Context(), h.logger)

		if h.directKeys == nil || h.directKeys.Len() == 0 {
			writeJSON(w, http.StatusNotFound, errorResponse{Error: "Not found", Code: "NOT_FOUND", RequestID: requestID})
			return
		}
		if !h.directKeys.Verify(bearerToken(r)) {
			logger.Warn("unauthorized direct request")
			writeJSON(w, http.StatusUnauthorized, errorResponse{
				Error:     "Unauthorized",
				Code:      pipeline.CodeUnauthorized,
				RequestID: requestID,
			})
			return
		}

		r.Body = http.MaxBytesReader(w, r.Body, MaxBodyBytes)
		req := h.readRequest(r)
		out, err := h.pipeline.ProcessDirect(r.Context(), requestID, req)
		if err != nil {
			status, code := outcomeStatus(out, err)
			msg := msgDirectFailed
			if code == pipeline.CodeInvalidRequest {
				msg = msgMissingPrompt
			}
			writeJSON(w, status, errorResponse{Error: msg, Code: code, RequestID: requestID})
			return
		}

		writeJSON(w, http.StatusOK, chatResponse{
			Response:         out.Content,
			RequestID:        requestID,
			ProcessingTimeMs: milliseconds(out),
			Warning:          "This response was generated WITHOUT security checks",
			Metadata:         chatMetadata{SecurityLayersBypassed: bypassedLayers},
		})
	})
}

func (h *Handler) writeFailure(w http.ResponseWriter, requestID string, out pipeline.Outcome, err error) {
	status, code := outcomeStatus(out, err)

	switch code {
	case pipeline.CodeInvalidRequest:
		writeJSON(w, status, errorResponse{Error: msgMissingPrompt, Code: code, RequestID: requestID})
	case pipeline.CodeSecurityViolation:
		writeJSON(w, status, securityViolationResponse{
			Error:            "Request blocked by AI WAF",
			Code:             code,
			Reason:           nonNil(out.Reasons),
			RiskScore:        out.RiskScore,
			DetectedPatterns: nonNil(out.DetectedPatterns),
			RequestID:        requestID,
		})
	case pipeline.CodeGuardrailViolation:
		writeJSON(w, status, errorResponse{
			Error:     "Content blocked by Bedrock Guardrail",
			Code:      code,
			Reason:    out.GuardrailAction,
			RequestID: requestID,
		})
	case pipeline.CodeOutputViolation:
		writeJSON(w, status, errorResponse{
			Error:     "Response blocked by output verifier",
			Code:      code,
			Reason:    nonNil(out.Reasons),
			RequestID: requestID,
		})
	case pipeline.CodeToolViolation:
		writeJSON(w, status, errorResponse{
			Error:     "Tool call blocked by policy",
			Code:      code,
			Reason:    nonNil(out.Reasons),
			RequestID: requestID,
		})
	default:
		writeJSON(w, http.StatusInternalServerError, errorResponse{
			Error:     msgInternal,
			Code:      pipeline.CodeInternalError,
			RequestID: requestID,
		})
	}
}

// outcomeStatus prefers the status the pipeline put on the outcome and falls
// back to classifying err.
func outcomeStatus(out pipeline.Outcome, err error) (int, pipeline.Code) {
	if out.Status != 0 && out.Code != pipeline.CodeOK {
		return out.Status, out.Code
	}
	return pipeline.StatusFor(err)
}

func bearerToken(r *http.Request) string {
	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok {
		return ""
	}
	return strings.TrimSpace(token)
}

func milliseconds(out pipeline.Outcome) float64 {
	return float64(out.Latency.Microseconds()) / 1000
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
