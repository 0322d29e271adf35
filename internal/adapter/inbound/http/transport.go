package http

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HTTPTransport serves the gateway's HTTP API.
type HTTPTransport struct {
	handler       *Handler
	server        *http.Server
	addr          string
	logger        *slog.Logger
	registry      *prometheus.Registry
	metrics       *Metrics
	healthChecker *HealthChecker
	auditDrops    func() int64
	readTimeout   time.Duration
	writeTimeout  time.Duration
}

// Option is a functional option for configuring HTTPTransport.
type Option func(*HTTPTransport)

// WithAddr sets the listen address. Default is "127.0.0.1:8080".
func WithAddr(addr string) Option {
	return func(t *HTTPTransport) {
		t.addr = addr
	}
}

// WithLogger sets the logger for the HTTP transport.
func WithLogger(logger *slog.Logger) Option {
	return func(t *HTTPTransport) {
		t.logger = logger
	}
}

// WithRegistry serves /metrics from reg, so other components can register
// their collectors on the same registry.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(t *HTTPTransport) {
		t.registry = reg
	}
}

// WithHealthChecker sets the health checker for the /health endpoint.
func WithHealthChecker(hc *HealthChecker) Option {
	return func(t *HTTPTransport) {
		t.healthChecker = hc
	}
}

// WithAuditDrops exposes the audit drop count as a Prometheus counter.
func WithAuditDrops(dropped func() int64) Option {
	return func(t *HTTPTransport) {
		t.auditDrops = dropped
	}
}

// WithTimeouts sets the server read and write timeouts. The write timeout
// must exceed the model call timeout.
func WithTimeouts(read, write time.Duration) Option {
	return func(t *HTTPTransport) {
		t.readTimeout = read
		t.writeTimeout = write
	}
}

// NewHTTPTransport creates the transport. The Prometheus registry is created
// here (unless supplied) so callers can register sinks before Start.
func NewHTTPTransport(handler *Handler, opts ...Option) *HTTPTransport {
	t := &HTTPTransport{
		handler:      handler,
		addr:         "127.0.0.1:8080",
		logger:       slog.Default(),
		readTimeout:  30 * time.Second,
		writeTimeout: 2 * time.Minute,
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.registry == nil {
		t.registry = prometheus.NewRegistry()
		t.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	t.metrics = NewMetrics(t.registry, t.auditDrops)
	return t
}

// Registry returns the registry served on /metrics.
func (t *HTTPTransport) Registry() *prometheus.Registry {
	return t.registry
}

// Routes builds the full handler: mux plus middleware chain.
func (t *HTTPTransport) Routes() http.Handler {
	mux := http.NewServeMux()

	if t.healthChecker != nil {
		mux.Handle("GET /health", t.healthChecker.Handler())
	} else {
		mux.Handle("GET /health", NewHealthChecker(nil, nil, "").Handler())
	}
	mux.Handle("GET /metrics", promhttp.HandlerFor(t.registry, promhttp.HandlerOpts{
		Registry: t.registry,
	}))
	mux.Handle("GET /favicon.ico", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	chat := t.handler.Chat()
	mux.Handle("POST /chat", chat)
	mux.Handle("POST /chat-direct", t.handler.Direct())
	mux.Handle("POST /{$}", chat)

	// Middleware order (outermost first): metrics must see the full duration,
	// headers must be set on every response including preflight and 404s.
	var h http.Handler = mux
	h = RealIPMiddleware(h)
	h = RequestIDMiddleware(t.logger)(h)
	h = SecurityHeadersMiddleware(h)
	h = MetricsMiddleware(t.metrics)(h)
	return h
}

// Start listens on the configured address and serves until ctx is cancelled.
func (t *HTTPTransport) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", t.addr)
	if err != nil {
		return err
	}
	return t.Serve(ctx, ln)
}

// Serve serves on ln until ctx is cancelled, then shuts down gracefully.
func (t *HTTPTransport) Serve(ctx context.Context, ln net.Listener) error {
	t.server = &http.Server{
		Handler:           t.Routes(),
		ReadTimeout:       t.readTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      t.writeTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		t.logger.Info("starting HTTP server", "addr", ln.Addr().String())
		if err := t.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		t.logger.Info("context cancelled, shutting down HTTP server")
		return t.shutdown()
	case err := <-errCh:
		return err
	}
}

// shutdown performs graceful shutdown of the HTTP server.
func (t *HTTPTransport) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := t.server.Shutdown(ctx); err != nil {
		t.logger.Error("error during server shutdown", "error", err)
		return err
	}

	t.logger.Info("HTTP server shutdown complete")
	return nil
}
