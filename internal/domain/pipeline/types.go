// Package pipeline defines the request state machine, response codes,
// metric names and the error taxonomy shared by the gateway stages.
package pipeline

import "time"

// State is a position in the per-request state machine.
type State string

const (
	StateReceived       State = "RECEIVED"
	StateClassified     State = "CLASSIFIED"
	StateInvoked        State = "INVOKED"
	StateOutputVerified State = "OUTPUT_VERIFIED"
	StateToolsVerified  State = "TOOLS_VERIFIED"
	StateResponded      State = "RESPONDED"
	StateBlocked        State = "BLOCKED"
	StateError          State = "ERROR"
)

// Terminal reports whether s ends the request.
func (s State) Terminal() bool {
	return s == StateResponded || s == StateBlocked || s == StateError
}

// Code is the machine-readable code returned to callers.
type Code string

const (
	CodeOK                 Code = ""
	CodeInvalidRequest     Code = "INVALID_REQUEST"
	CodeSecurityViolation  Code = "SECURITY_VIOLATION"
	CodeGuardrailViolation Code = "GUARDRAIL_VIOLATION"
	CodeOutputViolation    Code = "OUTPUT_VIOLATION"
	CodeToolViolation      Code = "TOOL_VIOLATION"
	CodeInternalError      Code = "INTERNAL_ERROR"
	CodeUnauthorized       Code = "UNAUTHORIZED"
)

// Metric names emitted by the gateway.
const (
	MetricPromptInjectionDetected = "PromptInjectionDetected"
	MetricBlockedRequests         = "BlockedRequests"
	MetricGuardrailBlocked        = "GuardrailBlocked"
	MetricOutputBlocked           = "OutputBlocked"
	MetricHighRiskToolCalls       = "HighRiskToolCalls"
	MetricRequestLatency          = "RequestLatency"
	MetricAllowedRequests         = "AllowedRequests"
	MetricErrors                  = "Errors"
	MetricInvalidRequests         = "InvalidRequests"
	MetricClassifierFailOpen      = "ClassifierFailOpen"
	MetricDirectRequests          = "DirectRequests"
)

// CountMetrics lists every counter metric, in a stable order.
var CountMetrics = []string{
	MetricPromptInjectionDetected,
	MetricBlockedRequests,
	MetricGuardrailBlocked,
	MetricOutputBlocked,
	MetricHighRiskToolCalls,
	MetricAllowedRequests,
	MetricErrors,
	MetricInvalidRequests,
	MetricClassifierFailOpen,
	MetricDirectRequests,
}

// Outcome is the result of running one request through the pipeline.
type Outcome struct {
	State            State
	Code             Code
	Status           int
	Reasons          []string
	RiskScore        int
	DetectedPatterns []string
	Content          string
	GuardrailAction  string
	Latency          time.Duration
}

// Allowed reports whether the request produced a response for the caller.
func (o Outcome) Allowed() bool {
	return o.State == StateResponded
}
