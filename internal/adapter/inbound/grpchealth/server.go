// Package grpchealth serves the standard gRPC health protocol, mirroring the
// HTTP /health result for orchestrators that probe over gRPC.
package grpchealth

import (
	"context"
	"log/slog"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
)

// ServiceName is the named service reported alongside the overall status.
const ServiceName = "aiwaf.Gateway"

// Server publishes the gateway's health over gRPC.
type Server struct {
	check    func() bool
	interval time.Duration
	logger   *slog.Logger
	health   *health.Server
	server   *grpc.Server
}

// New creates a Server that re-evaluates check every interval.
func New(check func() bool, interval time.Duration, logger *slog.Logger) *Server {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	s := &Server{
		check:    check,
		interval: interval,
		logger:   logger,
		health:   health.NewServer(),
		server: grpc.NewServer(
			grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
				MinTime:             5 * time.Second,
				PermitWithoutStream: true,
			}),
		),
	}
	grpc_health_v1.RegisterHealthServer(s.server, s.health)
	s.update()
	return s
}

func (s *Server) update() {
	status := grpc_health_v1.HealthCheckResponse_SERVING
	if !s.check() {
		status = grpc_health_v1.HealthCheckResponse_NOT_SERVING
	}
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(ServiceName, status)
}

// Serve serves on ln until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting gRPC health server", "addr", ln.Addr().String())
		errCh <- s.server.Serve(ln)
	}()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.update()
		case <-ctx.Done():
			s.health.Shutdown()
			s.server.GracefulStop()
			<-errCh
			s.logger.Info("gRPC health server stopped")
			return nil
		case err := <-errCh:
			return err
		}
	}
}

// ListenAndServe listens on addr and calls Serve.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}
