package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"
	"slices"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Sentinel-Gate/aiwaf/internal/domain/audit"
	"github.com/Sentinel-Gate/aiwaf/internal/domain/classify"
	"github.com/Sentinel-Gate/aiwaf/internal/domain/model"
	"github.com/Sentinel-Gate/aiwaf/internal/domain/output"
	"github.com/Sentinel-Gate/aiwaf/internal/domain/pipeline"
	"github.com/Sentinel-Gate/aiwaf/internal/domain/request"
	"github.com/Sentinel-Gate/aiwaf/internal/domain/tool"
	"github.com/Sentinel-Gate/aiwaf/internal/port/outbound"
)

const tracerName = "github.com/Sentinel-Gate/aiwaf/internal/service"

// DefaultRiskThreshold is the score at or above which a prompt is blocked.
const DefaultRiskThreshold = 70

// EventRecorder accepts security events without blocking the caller.
type EventRecorder interface {
	Record(event audit.SecurityEvent)
}

// PipelineConfig holds the per-process settings of the pipeline.
type PipelineConfig struct {
	RiskThreshold int
	Environment   string
}

// PipelineService sequences the security stages of one request and records
// exactly one security event for every terminal decision.
type PipelineService struct {
	classifier *ClassifierService
	invoker    *InvokerService
	policies   *PolicyRuntime
	recorder   EventRecorder
	metrics    outbound.MetricsSink
	tracer     trace.Tracer
	cfg        PipelineConfig
	logger     *slog.Logger
	now        func() time.Time
}

// PipelineOption configures PipelineService.
type PipelineOption func(*PipelineService)

// WithTracer sets the tracer used for per-stage spans.
func WithTracer(tracer trace.Tracer) PipelineOption {
	return func(s *PipelineService) {
		s.tracer = tracer
	}
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) PipelineOption {
	return func(s *PipelineService) {
		s.now = now
	}
}

// NewPipelineService wires the pipeline stages together.
func NewPipelineService(
	classifier *ClassifierService,
	invoker *InvokerService,
	policies *PolicyRuntime,
	recorder EventRecorder,
	metrics outbound.MetricsSink,
	cfg PipelineConfig,
	logger *slog.Logger,
	opts ...PipelineOption,
) *PipelineService {
	if cfg.RiskThreshold <= 0 {
		cfg.RiskThreshold = DefaultRiskThreshold
	}
	s := &PipelineService{
		classifier: classifier,
		invoker:    invoker,
		policies:   policies,
		recorder:   recorder,
		metrics:    metrics,
		tracer:     otel.Tracer(tracerName),
		cfg:        cfg,
		logger:     logger,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// requestRun carries the state of one request through the stages.
type requestRun struct {
	requestID string
	req       request.Request
	start     time.Time
	state     pipeline.State
	logger    *slog.Logger
	span      trace.Span
}

// Process runs req through classification, guarded invocation, output
// verification and tool verification, stopping at the first rejection.
// The returned Outcome is always complete. err is nil only when the request
// was answered; otherwise it is a *pipeline.ValidationError,
// *pipeline.SecurityBlock or *pipeline.InternalError.
func (s *PipelineService) Process(ctx context.Context, requestID string, req request.Request) (out pipeline.Outcome, err error) {
	ctx, span := s.tracer.Start(ctx, "pipeline.Process", trace.WithAttributes(
		attribute.String("aiwaf.request_id", requestID),
		attribute.Int("aiwaf.prompt_length", audit.PromptLength(req.Prompt)),
		attribute.Int("aiwaf.tools", len(req.Tools)),
	))
	defer span.End()

	run := &requestRun{
		requestID: requestID,
		req:       req,
		start:     s.now(),
		state:     pipeline.StateReceived,
		logger:    loggerFromContext(ctx, s.logger).With("user_id", req.UserID),
		span:      span,
	}

	defer func() {
		if r := recover(); r != nil {
			perr := &pipeline.InternalError{Stage: run.state, Err: fmt.Errorf("panic: %v", r)}
			run.logger.Error("pipeline stage panicked",
				"stage", run.state,
				"error", perr,
				"stack", string(debug.Stack()),
			)
			out, err = s.finishError(ctx, run, perr)
		}
	}()

	if req.Prompt == "" {
		return s.finishInvalid(ctx, run)
	}

	snap := s.policies.Current()

	// Input classification.
	verdict := s.classify(ctx, snap, run)
	run.state = pipeline.StateClassified
	if verdict.Blocks(s.cfg.RiskThreshold) {
		return s.finishClassifierBlock(ctx, run, verdict)
	}

	// Guarded model invocation.
	result, err := s.invoke(ctx, run)
	if err != nil {
		return s.finishError(ctx, run, err)
	}
	run.state = pipeline.StateInvoked
	if result.BlockedByGuardrail {
		return s.finishGuardrailBlock(ctx, run, verdict, result)
	}

	// Output verification.
	outVerdict := s.verifyOutput(ctx, snap, run, result.Text())
	run.state = pipeline.StateOutputVerified
	if !outVerdict.IsSafe {
		return s.finishOutputBlock(ctx, run, verdict, outVerdict)
	}

	// Tool verification, only when tools were requested or returned.
	var toolVerdict *tool.Verdict
	if calls := slices.Concat(req.Tools, result.ToolCalls); len(calls) > 0 {
		tv := s.verifyTools(ctx, snap, run, calls)
		toolVerdict = &tv
		run.state = pipeline.StateToolsVerified
		if !tv.Approved {
			return s.finishToolBlock(ctx, run, verdict, tv)
		}
	}

	return s.finishResponded(ctx, run, verdict, result, outVerdict, toolVerdict)
}

// ProcessDirect answers req without any security stage. Callers must have
// authorized the request; every use is recorded as BYPASSED.
func (s *PipelineService) ProcessDirect(ctx context.Context, requestID string, req request.Request) (pipeline.Outcome, error) {
	ctx, span := s.tracer.Start(ctx, "pipeline.ProcessDirect", trace.WithAttributes(
		attribute.String("aiwaf.request_id", requestID),
	))
	defer span.End()

	run := &requestRun{
		requestID: requestID,
		req:       req,
		start:     s.now(),
		state:     pipeline.StateReceived,
		logger:    loggerFromContext(ctx, s.logger).With("user_id", req.UserID),
		span:      span,
	}
	if req.Prompt == "" {
		return s.finishInvalid(ctx, run)
	}

	run.logger.Warn("unprotected request, bypassing all security layers")
	result, err := s.invoker.InvokeUnguarded(ctx, req.Prompt)
	if err != nil {
		return s.finishError(ctx, run, err)
	}

	latency := s.now().Sub(run.start)
	s.count(ctx, pipeline.MetricDirectRequests)
	s.latency(ctx, latency)
	s.record(run, audit.ActionBypassed, pipeline.StateResponded, 0, []string{"Security layers bypassed"}, nil, latency)

	return pipeline.Outcome{
		State:   pipeline.StateResponded,
		Code:    pipeline.CodeOK,
		Status:  http.StatusOK,
		Content: result.Text(),
		Latency: latency,
	}, nil
}

func (s *PipelineService) classify(ctx context.Context, snap *PolicySnapshot, run *requestRun) classify.Verdict {
	ctx, span := s.tracer.Start(ctx, "pipeline.classify")
	defer span.End()

	v := s.classifier.classifyWith(ctx, snap, run.req.Prompt, run.req.Context, run.req.Tools)
	span.SetAttributes(
		attribute.Int("aiwaf.risk_score", v.RiskScore),
		attribute.Bool("aiwaf.malicious", v.IsMalicious),
		attribute.StringSlice("aiwaf.detected_patterns", v.DetectedPatterns),
	)
	return v
}

func (s *PipelineService) invoke(ctx context.Context, run *requestRun) (model.InvocationResult, error) {
	ctx, span := s.tracer.Start(ctx, "pipeline.invoke")
	defer span.End()

	result, err := s.invoker.Invoke(ctx, run.req.Prompt, run.req.Context)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "model invocation failed")
		return result, err
	}
	span.SetAttributes(
		attribute.Bool("aiwaf.guardrail_blocked", result.BlockedByGuardrail),
		attribute.String("aiwaf.guardrail_action", result.GuardrailAction),
	)
	return result, nil
}

func (s *PipelineService) verifyOutput(ctx context.Context, snap *PolicySnapshot, run *requestRun, text string) output.Verdict {
	_, span := s.tracer.Start(ctx, "pipeline.verify_output")
	defer span.End()

	v := snap.Verifier.Verify(text, run.req.Tools)
	span.SetAttributes(
		attribute.Bool("aiwaf.output_safe", v.IsSafe),
		attribute.Int("aiwaf.findings", len(v.Findings)),
	)
	return v
}

func (s *PipelineService) verifyTools(ctx context.Context, snap *PolicySnapshot, run *requestRun, calls []request.ToolRequest) tool.Verdict {
	ctx, span := s.tracer.Start(ctx, "pipeline.verify_tools")
	defer span.End()

	v := snap.Enforcer.Verify(ctx, calls, run.req.UserID)
	span.SetAttributes(
		attribute.Bool("aiwaf.tools_approved", v.Approved),
		attribute.Bool("aiwaf.requires_human_approval", v.RequiresHumanApproval),
		attribute.Int("aiwaf.tool_calls", len(calls)),
	)
	return v
}

func (s *PipelineService) finishInvalid(ctx context.Context, run *requestRun) (pipeline.Outcome, error) {
	err := &pipeline.ValidationError{Field: "prompt", Err: pipeline.ErrMissingPrompt}
	reasons := []string{"Missing required field: prompt"}
	latency := s.now().Sub(run.start)

	run.logger.Info("invalid request", "error", err)
	s.count(ctx, pipeline.MetricInvalidRequests)
	s.record(run, audit.ActionInvalidRequest, pipeline.StateReceived, 0, reasons, nil, latency)
	s.endSpan(run, pipeline.StateBlocked, pipeline.CodeInvalidRequest)

	return pipeline.Outcome{
		State:   pipeline.StateBlocked,
		Code:    pipeline.CodeInvalidRequest,
		Status:  http.StatusBadRequest,
		Reasons: reasons,
		Latency: latency,
	}, err
}

func (s *PipelineService) finishClassifierBlock(ctx context.Context, run *requestRun, v classify.Verdict) (pipeline.Outcome, error) {
	latency := s.now().Sub(run.start)
	run.logger.Warn("request blocked by classifier",
		"risk_score", v.RiskScore,
		"reasons", v.Reasons,
		"detected_patterns", v.DetectedPatterns,
	)
	s.count(ctx, pipeline.MetricPromptInjectionDetected)
	s.count(ctx, pipeline.MetricBlockedRequests)
	s.record(run, audit.ActionBlocked, pipeline.StateClassified, v.RiskScore, v.Reasons,
		map[string]any{"classification": v}, latency)
	return s.blocked(run, pipeline.CodeSecurityViolation, pipeline.StateClassified, v.Reasons, v, latency)
}

func (s *PipelineService) finishGuardrailBlock(ctx context.Context, run *requestRun, v classify.Verdict, result model.InvocationResult) (pipeline.Outcome, error) {
	latency := s.now().Sub(run.start)
	reasons := []string{result.GuardrailAction}
	run.logger.Warn("request blocked by guardrail", "guardrail_action", result.GuardrailAction)
	s.count(ctx, pipeline.MetricGuardrailBlocked)
	s.count(ctx, pipeline.MetricBlockedRequests)
	s.record(run, audit.ActionGuardrailBlocked, pipeline.StateInvoked, v.RiskScore, reasons,
		map[string]any{"guardrail_action": result.GuardrailAction}, latency)

	out, err := s.blocked(run, pipeline.CodeGuardrailViolation, pipeline.StateInvoked, reasons, v, latency)
	out.GuardrailAction = result.GuardrailAction
	return out, err
}

func (s *PipelineService) finishOutputBlock(ctx context.Context, run *requestRun, v classify.Verdict, ov output.Verdict) (pipeline.Outcome, error) {
	latency := s.now().Sub(run.start)
	run.logger.Warn("response blocked by output verifier", "reasons", ov.Reasons, "findings", len(ov.Findings))
	s.count(ctx, pipeline.MetricOutputBlocked)
	s.count(ctx, pipeline.MetricBlockedRequests)
	s.record(run, audit.ActionOutputBlocked, pipeline.StateOutputVerified, v.RiskScore, ov.Reasons,
		map[string]any{"output_verification": outputDetails(ov)}, latency)
	return s.blocked(run, pipeline.CodeOutputViolation, pipeline.StateOutputVerified, ov.Reasons, v, latency)
}

func (s *PipelineService) finishToolBlock(ctx context.Context, run *requestRun, v classify.Verdict, tv tool.Verdict) (pipeline.Outcome, error) {
	latency := s.now().Sub(run.start)
	run.logger.Warn("tool call blocked by policy",
		"reasons", tv.Reasons,
		"requires_human_approval", tv.RequiresHumanApproval,
	)
	s.count(ctx, pipeline.MetricHighRiskToolCalls)
	s.count(ctx, pipeline.MetricBlockedRequests)
	s.record(run, audit.ActionToolBlocked, pipeline.StateToolsVerified, v.RiskScore, tv.Reasons,
		map[string]any{"tool_verification": toolDetails(tv)}, latency)
	return s.blocked(run, pipeline.CodeToolViolation, pipeline.StateToolsVerified, tv.Reasons, v, latency)
}

func (s *PipelineService) finishResponded(
	ctx context.Context,
	run *requestRun,
	v classify.Verdict,
	result model.InvocationResult,
	ov output.Verdict,
	tv *tool.Verdict,
) (pipeline.Outcome, error) {
	latency := s.now().Sub(run.start)
	run.logger.Info("request allowed", "risk_score", v.RiskScore, "duration", latency)
	s.latency(ctx, latency)
	s.count(ctx, pipeline.MetricAllowedRequests)

	details := map[string]any{
		"classification":      v,
		"output_verification": outputDetails(ov),
	}
	if tv != nil {
		details["tool_verification"] = toolDetails(*tv)
	}
	s.record(run, audit.ActionAllowed, pipeline.StateResponded, v.RiskScore, ov.Reasons, details, latency)
	s.endSpan(run, pipeline.StateResponded, pipeline.CodeOK)

	// Safe output has no redacted spans, so Sanitized is the verified text.
	return pipeline.Outcome{
		State:            pipeline.StateResponded,
		Code:             pipeline.CodeOK,
		Status:           http.StatusOK,
		Reasons:          slices.Clone(ov.Reasons),
		RiskScore:        v.RiskScore,
		DetectedPatterns: slices.Clone(v.DetectedPatterns),
		Content:          ov.Sanitized,
		GuardrailAction:  result.GuardrailAction,
		Latency:          latency,
	}, nil
}

// finishError handles every unexpected failure. The cause is logged and
// audited; callers only ever see a generic message.
func (s *PipelineService) finishError(ctx context.Context, run *requestRun, cause error) (pipeline.Outcome, error) {
	latency := s.now().Sub(run.start)

	err := cause
	var internal *pipeline.InternalError
	if !errors.As(cause, &internal) {
		err = &pipeline.InternalError{Stage: run.state, Err: cause}
	}

	details := map[string]any{"stage": string(run.state)}
	var upstream *pipeline.UpstreamError
	if errors.As(cause, &upstream) {
		details["dependency"] = upstream.Dependency
	}

	run.logger.Error("error processing request", "stage", run.state, "error", err)
	run.span.RecordError(err)
	s.count(ctx, pipeline.MetricErrors)
	s.record(run, audit.ActionError, run.state, 0, []string{"Internal server error"}, details, latency)
	s.endSpan(run, pipeline.StateError, pipeline.CodeInternalError)

	return pipeline.Outcome{
		State:   pipeline.StateError,
		Code:    pipeline.CodeInternalError,
		Status:  http.StatusInternalServerError,
		Reasons: []string{"Internal server error"},
		Latency: latency,
	}, err
}

func (s *PipelineService) blocked(run *requestRun, code pipeline.Code, stage pipeline.State, reasons []string, v classify.Verdict, latency time.Duration) (pipeline.Outcome, error) {
	s.endSpan(run, pipeline.StateBlocked, code)
	return pipeline.Outcome{
		State:            pipeline.StateBlocked,
		Code:             code,
		Status:           http.StatusForbidden,
		Reasons:          slices.Clone(reasons),
		RiskScore:        v.RiskScore,
		DetectedPatterns: slices.Clone(v.DetectedPatterns),
		Latency:          latency,
	}, pipeline.NewSecurityBlock(code, stage, reasons)
}

func (s *PipelineService) endSpan(run *requestRun, state pipeline.State, code pipeline.Code) {
	run.span.SetAttributes(
		attribute.String("aiwaf.state", string(state)),
		attribute.String("aiwaf.code", string(code)),
	)
	if state == pipeline.StateError {
		run.span.SetStatus(codes.Error, string(code))
	}
}

func (s *PipelineService) record(run *requestRun, action audit.Action, stage pipeline.State, score int, reasons []string, details map[string]any, latency time.Duration) {
	if s.recorder == nil {
		return
	}
	s.recorder.Record(audit.SecurityEvent{
		Timestamp:    s.now().UTC(),
		RequestID:    run.requestID,
		UserID:       run.req.UserID,
		SessionID:    run.req.SessionID,
		Action:       action,
		Stage:        string(stage),
		PromptHash:   audit.HashPrompt(run.req.Prompt),
		PromptLength: audit.PromptLength(run.req.Prompt),
		RiskScore:    score,
		Reasons:      slices.Clone(reasons),
		Details:      details,
		Environment:  s.cfg.Environment,
		LatencyMs:    float64(latency.Microseconds()) / 1000,
	})
}

func (s *PipelineService) count(ctx context.Context, name string) {
	if s.metrics != nil {
		s.metrics.Count(ctx, name, 1)
	}
}

func (s *PipelineService) latency(ctx context.Context, d time.Duration) {
	if s.metrics != nil {
		s.metrics.Latency(ctx, pipeline.MetricRequestLatency, d)
	}
}

func outputDetails(v output.Verdict) map[string]any {
	checks := make([]string, 0, len(v.Findings))
	for _, f := range v.Findings {
		if !slices.Contains(checks, f.Check) {
			checks = append(checks, f.Check)
		}
	}
	return map[string]any{
		"is_safe": v.IsSafe,
		"reasons": slices.Clone(v.Reasons),
		"checks":  checks,
	}
}

func toolDetails(v tool.Verdict) map[string]any {
	return map[string]any{
		"approved":                v.Approved,
		"reasons":                 slices.Clone(v.Reasons),
		"requires_human_approval": v.RequiresHumanApproval,
		"calls":                   slices.Clone(v.Assessments),
	}
}
