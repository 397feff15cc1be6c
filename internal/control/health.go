// Package control exposes the relay's upstream health over gRPC.
package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
)

// UpstreamService is the health service name tracking the upstream feed.
const UpstreamService = "tickrelay.UpstreamFeed"

const shutdownTimeout = 10 * time.Second

// Server serves grpc.health.v1. Both the overall status and UpstreamService
// follow SetUpstream.
type Server struct {
	server   *grpc.Server
	health   *health.Server
	listener net.Listener
	logger   *slog.Logger
}

// Listen binds addr and registers the health service. The upstream starts
// as NOT_SERVING.
func Listen(addr string, logger *slog.Logger) (*Server, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	server := grpc.NewServer(
		grpc.MaxRecvMsgSize(1024*1024),
		grpc.MaxSendMsgSize(1024*1024),
	)
	hs := health.NewServer()
	grpc_health_v1.RegisterHealthServer(server, hs)

	s := &Server{server: server, health: hs, listener: listener, logger: logger}
	s.SetUpstream(false)
	return s, nil
}

func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

// SetUpstream records whether the upstream feed is connected.
func (s *Server) SetUpstream(connected bool) {
	status := grpc_health_v1.HealthCheckResponse_NOT_SERVING
	if connected {
		status = grpc_health_v1.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(UpstreamService, status)
}

// SetDependency publishes a dependency check as service "tickrelay.<name>".
func (s *Server) SetDependency(name string, healthy bool) {
	status := grpc_health_v1.HealthCheckResponse_NOT_SERVING
	if healthy {
		status = grpc_health_v1.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus(DependencyService(name), status)
}

func DependencyService(name string) string {
	return "tickrelay." + name
}

// Serve blocks until ctx is done, then stops gracefully. A stop that
// outlasts shutdownTimeout is forced.
func (s *Server) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("gRPC health service started", "addr", s.Addr())
		errCh <- s.server.Serve(s.listener)
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return fmt.Errorf("grpc serve: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	s.logger.Info("Stopping gRPC health service")
	s.health.Shutdown()

	done := make(chan struct{})
	go func() {
		s.server.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(shutdownTimeout):
		s.logger.Warn("gRPC graceful stop timed out, forcing")
		s.server.Stop()
	}
	return nil
}
