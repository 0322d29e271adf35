// Package request contains the typed inbound request handled by the gateway.
package request

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
)

// DefaultUserID is used when the caller does not identify itself.
const DefaultUserID = "anonymous"

// ErrMalformedBody is returned when the request body is not a JSON object.
var ErrMalformedBody = errors.New("malformed request body")

// ToolRequest is a single tool invocation requested by the caller or the model.
type ToolRequest struct {
	// Name is the tool identifier (e.g., "search", "transfer_money").
	Name string `json:"name"`
	// Parameters are the tool arguments as decoded from JSON.
	Parameters map[string]any `json:"parameters,omitempty"`
}

// Request is the normalized inbound request. It is built once per call by
// Normalize and must not be modified afterwards.
type Request struct {
	Prompt    string
	UserID    string
	SessionID string
	Tools     []ToolRequest
	Context   map[string]any
}

// Envelope is the wire form of the protected endpoint's body.
type Envelope struct {
	Prompt    string         `json:"prompt"`
	UserID    string         `json:"user_id"`
	SessionID string         `json:"session_id"`
	Tools     []ToolRequest  `json:"tools"`
	Context   map[string]any `json:"context"`
}

// Decode parses a request body. An empty body decodes to an empty envelope,
// which later fails prompt validation rather than JSON parsing.
func Decode(body []byte) (Envelope, error) {
	var env Envelope
	if len(bytes.TrimSpace(body)) == 0 {
		return env, nil
	}
	if err := json.Unmarshal(body, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformedBody, err)
	}
	return env, nil
}

// Normalize converts a decoded envelope into a Request, applying defaults
// and copying every collection so later mutation of the envelope cannot
// leak into the request.
func Normalize(env Envelope) Request {
	userID := env.UserID
	if userID == "" {
		userID = DefaultUserID
	}

	var tools []ToolRequest
	if len(env.Tools) > 0 {
		tools = make([]ToolRequest, len(env.Tools))
		for i, t := range env.Tools {
			tools[i] = ToolRequest{Name: t.Name, Parameters: maps.Clone(t.Parameters)}
		}
	}

	reqCtx := maps.Clone(env.Context)
	if reqCtx == nil {
		reqCtx = map[string]any{}
	}

	return Request{
		Prompt:    env.Prompt,
		UserID:    userID,
		SessionID: env.SessionID,
		Tools:     tools,
		Context:   reqCtx,
	}
}
