// Package http is the gateway's inbound HTTP adapter.
//
// # Endpoints
//
//	POST /chat         - protected path; every request runs the full pipeline
//	POST /             - alias of /chat
//	POST /chat-direct  - unprotected path, 404 unless enabled, Bearer key required
//	GET  /health       - component checks, 503 when the audit channel is >90% full
//	GET  /metrics      - Prometheus exposition
//
// # Request body
//
//	{
//	  "prompt": "What is the refund policy?",
//	  "user_id": "alice",
//	  "session_id": "s-42",
//	  "tools": [{"name": "search", "parameters": {"q": "refunds"}}],
//	  "context": {"channel": "web"}
//	}
//
// # Responses
//
// A request that passes every stage returns 200 with the model response,
// the classifier risk score and the processing time. A request rejected by
// a security stage returns 403 with a code naming the stage
// (SECURITY_VIOLATION, GUARDRAIL_VIOLATION, OUTPUT_VIOLATION or
// TOOL_VIOLATION) and human-readable reasons. A missing prompt or an
// unparsable body returns 400 INVALID_REQUEST; anything else returns a
// generic 500 INTERNAL_ERROR. Every response carries the request ID and the
// CORS and security headers set by SecurityHeadersMiddleware.
//
// # Middleware
//
// Outermost first: MetricsMiddleware, SecurityHeadersMiddleware,
// RequestIDMiddleware, RealIPMiddleware, then the route handler.
package http
