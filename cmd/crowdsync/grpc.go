package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// healthService is the gRPC health service name reported for the forecast
// window. The empty service reports the same status.
const healthService = "crowdsync.Forecast"

// grpcHealth serves the standard gRPC health protocol, reporting SERVING
// while check passes.
type grpcHealth struct {
	server *grpc.Server
	health *health.Server
	check  func() error
	logger *slog.Logger
}

func newGRPCHealth(check func() error, logger *slog.Logger) *grpcHealth {
	g := &grpcHealth{
		server: grpc.NewServer(),
		health: health.NewServer(),
		check:  check,
		logger: logger,
	}
	grpc_health_v1.RegisterHealthServer(g.server, g.health)
	reflection.Register(g.server)
	g.update()
	return g
}

// update sets the serving status of both service names from check.
func (g *grpcHealth) update() grpc_health_v1.HealthCheckResponse_ServingStatus {
	status := grpc_health_v1.HealthCheckResponse_SERVING
	if err := g.check(); err != nil {
		status = grpc_health_v1.HealthCheckResponse_NOT_SERVING
		g.logger.Debug("grpc health not serving", "error", err)
	}
	g.health.SetServingStatus("", status)
	g.health.SetServingStatus(healthService, status)
	return status
}

// watch refreshes the status every interval until ctx is done.
func (g *grpcHealth) watch(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			g.update()
		}
	}
}

// serve blocks serving on addr.
func (g *grpcHealth) serve(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	g.logger.Info("grpc health server listening", "address", addr)
	return g.server.Serve(lis)
}

func (g *grpcHealth) stop() {
	g.health.Shutdown()
	g.server.GracefulStop()
}
