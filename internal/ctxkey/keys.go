// Package ctxkey defines shared context key types used across multiple packages.
// This package must not import other internal packages.
package ctxkey

// LoggerKey is the context key type for the enriched logger.
// HTTP middleware stores a logger carrying request_id under this key.
type LoggerKey struct{}
