// Package audit contains the security event record and its store contract.
package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"maps"
	"slices"
	"time"
	"unicode/utf8"
)

// Action is the decision recorded by a SecurityEvent.
type Action string

const (
	ActionAllowed          Action = "ALLOWED"
	ActionBlocked          Action = "BLOCKED"
	ActionGuardrailBlocked Action = "GUARDRAIL_BLOCKED"
	ActionOutputBlocked    Action = "OUTPUT_BLOCKED"
	ActionToolBlocked      Action = "TOOL_BLOCKED"
	ActionInvalidRequest   Action = "INVALID_REQUEST"
	ActionError            Action = "ERROR"
	// ActionBypassed marks an authorized request on the unprotected path.
	ActionBypassed Action = "BYPASSED"
)

// SecurityEvent records one terminal decision. It never carries the raw
// prompt, only a digest and length. Events are written once and not mutated.
type SecurityEvent struct {
	Timestamp    time.Time      `json:"timestamp"`
	RequestID    string         `json:"request_id"`
	UserID       string         `json:"user_id"`
	SessionID    string         `json:"session_id,omitempty"`
	Action       Action         `json:"action"`
	Stage        string         `json:"stage"`
	PromptHash   string         `json:"prompt_hash"`
	PromptLength int            `json:"prompt_length"`
	RiskScore    int            `json:"risk_score"`
	Reasons      []string       `json:"reasons"`
	Details      map[string]any `json:"details,omitempty"`
	Environment  string         `json:"environment"`
	LatencyMs    float64        `json:"latency_ms"`
}

// Clone returns a copy that shares no slices or maps with e.
func (e SecurityEvent) Clone() SecurityEvent {
	c := e
	c.Reasons = slices.Clone(e.Reasons)
	c.Details = maps.Clone(e.Details)
	return c
}

// HashPrompt returns a non-reversible digest of prompt in the form
// "sha256:<hex>".
func HashPrompt(prompt string) string {
	sum := sha256.Sum256([]byte(prompt))
	return "sha256:" + hex.EncodeToString(sum[:])
}

// PromptLength returns the prompt length in characters.
func PromptLength(prompt string) int {
	return utf8.RuneCountInString(prompt)
}
