package audit

import "context"

// AuditStore persists security events.
// Implementations handle batching and may write asynchronously.
type AuditStore interface {
	// Append stores events.
	Append(ctx context.Context, events ...SecurityEvent) error

	// Flush forces pending events to storage. Called during shutdown.
	Flush(ctx context.Context) error

	// Close releases resources.
	Close() error
}
