package service

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Sentinel-Gate/aiwaf/internal/domain/audit"
)

// finalFlushTimeout bounds the flush performed while the worker shuts down.
const finalFlushTimeout = 5 * time.Second

// AuditService writes security events asynchronously through a buffered
// channel and a single background worker, so the request path never waits
// on the audit destination.
type AuditService struct {
	store         audit.AuditStore
	events        chan audit.SecurityEvent
	logger        *slog.Logger
	batchSize     int
	flushInterval time.Duration
	channelSize   int
	// sendTimeout is how long Record may block on a full channel. 0 drops at once.
	sendTimeout time.Duration

	warningThreshold int
	lastWarning      atomic.Int64
	dropCount        atomic.Int64
	written          atomic.Int64

	mu      sync.RWMutex
	stopped bool
	wg      sync.WaitGroup
}

// AuditOption configures AuditService.
type AuditOption func(*AuditService)

// WithBatchSize sets the number of events written per store call.
func WithBatchSize(size int) AuditOption {
	return func(s *AuditService) {
		if size > 0 {
			s.batchSize = size
		}
	}
}

// WithFlushInterval sets how often a partial batch is written.
func WithFlushInterval(interval time.Duration) AuditOption {
	return func(s *AuditService) {
		if interval > 0 {
			s.flushInterval = interval
		}
	}
}

// WithChannelSize sets the capacity of the event buffer.
func WithChannelSize(size int) AuditOption {
	return func(s *AuditService) {
		if size > 0 {
			s.channelSize = size
		}
	}
}

// WithSendTimeout sets the backpressure timeout.
func WithSendTimeout(timeout time.Duration) AuditOption {
	return func(s *AuditService) {
		s.sendTimeout = timeout
	}
}

// WithWarningThreshold sets the buffer fill percentage (0-100) above which a
// rate-limited warning is logged. 0 disables the warning.
func WithWarningThreshold(percent int) AuditOption {
	return func(s *AuditService) {
		s.warningThreshold = min(max(percent, 0), 100)
	}
}

// NewAuditService creates an AuditService. Call Start before Record.
func NewAuditService(store audit.AuditStore, logger *slog.Logger, opts ...AuditOption) *AuditService {
	s := &AuditService{
		store:            store,
		logger:           logger,
		batchSize:        100,
		flushInterval:    time.Second,
		channelSize:      1000,
		sendTimeout:      100 * time.Millisecond,
		warningThreshold: 80,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.events = make(chan audit.SecurityEvent, s.channelSize)
	return s
}

// Start launches the background worker.
func (s *AuditService) Start(ctx context.Context) {
	s.wg.Add(1)
	go s.worker(ctx)
}

// Record queues an event. It blocks at most sendTimeout when the buffer is
// full and drops the event afterwards. It never returns an error.
func (s *AuditService) Record(event audit.SecurityEvent) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.stopped {
		s.recordDrop(event, "stopped")
		return
	}

	if s.warningThreshold > 0 {
		if depth := len(s.events); depth >= s.channelSize*s.warningThreshold/100 {
			s.warnChannelDepth(depth)
		}
	}

	select {
	case s.events <- event:
		return
	default:
	}

	if s.sendTimeout <= 0 {
		s.recordDrop(event, "buffer full")
		return
	}

	timer := time.NewTimer(s.sendTimeout)
	defer timer.Stop()
	select {
	case s.events <- event:
	case <-timer.C:
		s.recordDrop(event, "buffer full")
	}
}

func (s *AuditService) recordDrop(event audit.SecurityEvent, cause string) {
	drops := s.dropCount.Add(1)
	s.logger.Warn("security event dropped",
		"request_id", event.RequestID,
		"action", event.Action,
		"cause", cause,
		"total_drops", drops,
	)
}

// warnChannelDepth logs at most once per second.
func (s *AuditService) warnChannelDepth(depth int) {
	now := time.Now().UnixNano()
	last := s.lastWarning.Load()
	if now-last < int64(time.Second) {
		return
	}
	if s.lastWarning.CompareAndSwap(last, now) {
		s.logger.Warn("audit buffer approaching capacity",
			"depth", depth,
			"capacity", s.channelSize,
			"percent", depth*100/s.channelSize,
		)
	}
}

// DroppedEvents returns the number of events dropped so far.
func (s *AuditService) DroppedEvents() int64 {
	return s.dropCount.Load()
}

// WrittenEvents returns the number of events handed to the store without error.
func (s *AuditService) WrittenEvents() int64 {
	return s.written.Load()
}

// ChannelDepth returns the number of buffered events.
func (s *AuditService) ChannelDepth() int {
	return len(s.events)
}

// ChannelCapacity returns the buffer size.
func (s *AuditService) ChannelCapacity() int {
	return s.channelSize
}

// Stop closes the buffer, waits for the worker to flush pending events and
// flushes the store. Record calls after Stop are dropped.
func (s *AuditService) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	close(s.events)
	s.mu.Unlock()

	s.wg.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), finalFlushTimeout)
	defer cancel()
	if err := s.store.Flush(ctx); err != nil {
		s.logger.Error("failed to flush audit store", "error", err)
	}
}

// worker runs until Stop closes the buffer. Cancelling ctx does not stop it:
// requests still in flight during shutdown record their events after the
// start context is done, and those must reach the store.
func (s *AuditService) worker(ctx context.Context) {
	defer s.wg.Done()

	writeCtx := context.WithoutCancel(ctx)
	batch := make([]audit.SecurityEvent, 0, s.batchSize)
	ticker := time.NewTicker(s.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case event, ok := <-s.events:
			if !ok {
				if len(batch) > 0 {
					flushCtx, cancel := context.WithTimeout(writeCtx, finalFlushTimeout)
					s.flush(flushCtx, batch)
					cancel()
				}
				return
			}
			batch = append(batch, event)
			if len(batch) >= s.batchSize {
				s.flush(writeCtx, batch)
				batch = batch[:0]
			}

		case <-ticker.C:
			if len(batch) > 0 {
				s.flush(writeCtx, batch)
				batch = batch[:0]
			}
		}
	}
}

// flush writes a batch. Errors are logged and never reach the request path.
func (s *AuditService) flush(ctx context.Context, batch []audit.SecurityEvent) {
	if err := s.store.Append(ctx, batch...); err != nil {
		s.logger.Error("failed to write security events",
			"error", err,
			"count", len(batch),
		)
		return
	}
	s.written.Add(int64(len(batch)))
}
