package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/Sentinel-Gate/aiwaf/internal/domain/classify"
	"github.com/Sentinel-Gate/aiwaf/internal/domain/pipeline"
	"github.com/Sentinel-Gate/aiwaf/internal/domain/request"
	"github.com/Sentinel-Gate/aiwaf/internal/port/outbound"
)

// FailureMode decides the verdict used when the risk evaluator cannot answer.
type FailureMode string

const (
	// FailOpen allows the request at zero risk. Local checks still run.
	FailOpen FailureMode = "open"
	// FailClosed blocks the request at maximum risk.
	FailClosed FailureMode = "closed"
)

// ClassifierService produces the unified input verdict: the remote risk
// evaluator's opinion merged with the local forbidden-pattern scan.
type ClassifierService struct {
	evaluator   outbound.RiskEvaluator
	policies    *PolicyRuntime
	metrics     outbound.MetricsSink
	cache       *VerdictCache
	failureMode FailureMode
	logger      *slog.Logger
}

// ClassifierOption configures ClassifierService.
type ClassifierOption func(*ClassifierService)

// WithFailureMode sets the behaviour on evaluator errors. Unknown values
// keep the default, FailOpen.
func WithFailureMode(mode FailureMode) ClassifierOption {
	return func(s *ClassifierService) {
		if mode == FailOpen || mode == FailClosed {
			s.failureMode = mode
		}
	}
}

// WithVerdictCache caches evaluator verdicts. size <= 0 disables caching.
func WithVerdictCache(size int) ClassifierOption {
	return func(s *ClassifierService) {
		if size > 0 {
			s.cache = NewVerdictCache(size)
		} else {
			s.cache = nil
		}
	}
}

// WithClassifierMetrics sets the sink for the fail-open counter.
func WithClassifierMetrics(sink outbound.MetricsSink) ClassifierOption {
	return func(s *ClassifierService) {
		s.metrics = sink
	}
}

// NewClassifierService creates a ClassifierService.
func NewClassifierService(evaluator outbound.RiskEvaluator, policies *PolicyRuntime, logger *slog.Logger, opts ...ClassifierOption) *ClassifierService {
	s := &ClassifierService{
		evaluator:   evaluator,
		policies:    policies,
		failureMode: FailOpen,
		logger:      logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Classify returns the verdict for a prompt. It never fails: evaluator
// errors are resolved by the configured failure mode.
func (s *ClassifierService) Classify(ctx context.Context, prompt string, reqContext map[string]any, tools []request.ToolRequest) classify.Verdict {
	return s.classifyWith(ctx, s.policies.Current(), prompt, reqContext, tools)
}

func (s *ClassifierService) classifyWith(ctx context.Context, snap *PolicySnapshot, prompt string, reqContext map[string]any, tools []request.ToolRequest) classify.Verdict {
	logger := loggerFromContext(ctx, s.logger)

	verdict, err := s.evaluate(ctx, prompt, reqContext, tools)
	if err != nil {
		upstream := &pipeline.UpstreamError{Dependency: "risk_evaluator", Err: err}
		if s.failureMode == FailClosed {
			logger.Error("risk evaluator failed, failing closed", "error", upstream)
			return classify.FailClosedVerdict()
		}
		logger.Error("risk evaluator failed, failing open", "error", upstream)
		if s.metrics != nil {
			s.metrics.Count(ctx, pipeline.MetricClassifierFailOpen, 1)
		}
		verdict = classify.FailOpenVerdict()
	}

	matched := classify.MatchForbidden(prompt, snap.Policy.ForbiddenPatterns)
	if len(matched) > 0 {
		logger.Warn("forbidden patterns matched", "patterns", matched)
	}
	return classify.ApplyForbidden(verdict, matched)
}

// evaluate asks the remote evaluator, consulting the cache first. Only
// verdicts from successful calls are cached.
func (s *ClassifierService) evaluate(ctx context.Context, prompt string, reqContext map[string]any, tools []request.ToolRequest) (classify.Verdict, error) {
	var key uint64
	if s.cache != nil {
		key = verdictKey(prompt, reqContext, tools)
		if v, ok := s.cache.Get(key); ok {
			return v, nil
		}
	}
	if s.evaluator == nil {
		return classify.Verdict{}, errors.New("no risk evaluator configured")
	}

	start := time.Now()
	text, err := s.evaluator.Evaluate(ctx, classify.BuildAnalysisPrompt(prompt, reqContext, toolsForPrompt(tools)))
	if err != nil {
		return classify.Verdict{}, err
	}
	verdict, ok := classify.ExtractVerdict(text)
	loggerFromContext(ctx, s.logger).Debug("risk evaluator answered",
		"duration", time.Since(start),
		"json_found", ok,
		"risk_score", verdict.RiskScore,
	)

	if s.cache != nil {
		s.cache.Put(key, verdict)
	}
	return verdict, nil
}

// toolsForPrompt keeps an empty tool list rendered as [] rather than null.
func toolsForPrompt(tools []request.ToolRequest) []request.ToolRequest {
	if tools == nil {
		return []request.ToolRequest{}
	}
	return tools
}
