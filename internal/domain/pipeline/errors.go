package pipeline

import (
	"errors"
	"fmt"
	"net/http"
	"slices"
)

// ErrMissingPrompt is the cause of a ValidationError for an empty prompt.
var ErrMissingPrompt = errors.New("missing required field: prompt")

// ValidationError is a malformed request. Recoverable by the caller.
type ValidationError struct {
	Field string
	Err   error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid request field %q: %v", e.Field, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// SecurityBlock is a rejection by one of the security stages. It is an
// expected outcome, not a system fault.
type SecurityBlock struct {
	Code    Code
	Stage   State
	Reasons []string
}

func (e *SecurityBlock) Error() string {
	return fmt.Sprintf("request blocked at %s: %s", e.Stage, e.Code)
}

// Status returns the HTTP status for a security block.
func (e *SecurityBlock) Status() int { return http.StatusForbidden }

// NewSecurityBlock builds a SecurityBlock with a private copy of reasons.
func NewSecurityBlock(code Code, stage State, reasons []string) *SecurityBlock {
	return &SecurityBlock{Code: code, Stage: stage, Reasons: slices.Clone(reasons)}
}

// UpstreamError wraps a failure of the risk evaluator or the model.
type UpstreamError struct {
	// Dependency names the failing service, e.g. "model" or "risk_evaluator".
	Dependency string
	Err        error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("%s call failed: %v", e.Dependency, e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// InternalError is an unexpected failure. Its cause is logged, never returned
// to callers.
type InternalError struct {
	Stage State
	Err   error
}

func (e *InternalError) Error() string {
	return fmt.Sprintf("internal error at %s: %v", e.Stage, e.Err)
}

func (e *InternalError) Unwrap() error { return e.Err }

// StatusFor maps an error to its HTTP status and response code.
func StatusFor(err error) (int, Code) {
	var (
		validation *ValidationError
		block      *SecurityBlock
	)
	switch {
	case err == nil:
		return http.StatusOK, CodeOK
	case errors.As(err, &validation):
		return http.StatusBadRequest, CodeInvalidRequest
	case errors.As(err, &block):
		return block.Status(), block.Code
	default:
		return http.StatusInternalServerError, CodeInternalError
	}
}
