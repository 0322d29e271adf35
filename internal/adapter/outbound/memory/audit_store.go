// Package memory provides audit stores that write JSON Lines to a stream.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/Sentinel-Gate/aiwaf/internal/domain/audit"
)

// AuditStore writes one JSON object per security event to an io.Writer,
// stdout by default.
type AuditStore struct {
	mu      sync.Mutex
	encoder *json.Encoder
	writer  io.Writer
	closer  io.Closer
}

// NewAuditStore creates a store writing to stdout.
func NewAuditStore() *AuditStore {
	return NewAuditStoreWithWriter(os.Stdout)
}

// NewAuditStoreWithWriter creates a store writing to w. The store does not
// close w.
func NewAuditStoreWithWriter(w io.Writer) *AuditStore {
	return &AuditStore{encoder: json.NewEncoder(w), writer: w}
}

// NewFileAuditStore opens path for appending, creating it with mode 0600.
func NewFileAuditStore(path string) (*AuditStore, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open audit file: %w", err)
	}
	s := NewAuditStoreWithWriter(f)
	s.closer = f
	return s, nil
}

// Append encodes each event on its own line.
func (s *AuditStore) Append(_ context.Context, events ...audit.SecurityEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range events {
		if err := s.encoder.Encode(e); err != nil {
			return fmt.Errorf("encode security event %s: %w", e.RequestID, err)
		}
	}
	return nil
}

// Flush syncs file-backed stores to disk.
func (s *AuditStore) Flush(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if f, ok := s.writer.(*os.File); ok && s.closer != nil {
		return f.Sync()
	}
	return nil
}

// Close closes the underlying file, if the store opened one.
func (s *AuditStore) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer.Close()
}

var _ audit.AuditStore = (*AuditStore)(nil)
