package grpcx

import (
	"context"
	"log/slog"
	"net"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

type Check func(context.Context) error

// ServeHealth runs a gRPC server exposing grpc.health.v1 on addr until ctx is done.
// The serving status for service is refreshed from checks every interval.
func ServeHealth(ctx context.Context, logger *slog.Logger, addr, service string, interval time.Duration, checks ...Check) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}

	srv := grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(
			UnaryServerRequestIDInterceptor(),
			UnaryServerAccessLogInterceptor(logger),
		),
	)
	hs := health.NewServer()
	healthpb.RegisterHealthServer(srv, hs)
	reflection.Register(srv)

	if interval <= 0 {
		interval = 5 * time.Second
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			hs.SetServingStatus(service, evaluate(ctx, checks))
			select {
			case <-ctx.Done():
				hs.Shutdown()
				return
			case <-ticker.C:
			}
		}
	}()

	go func() {
		<-ctx.Done()
		srv.GracefulStop()
	}()

	logger.Info("grpc listening", "addr", addr)
	if err := srv.Serve(lis); err != nil && err != grpc.ErrServerStopped {
		return err
	}
	return nil
}

func evaluate(ctx context.Context, checks []Check) healthpb.HealthCheckResponse_ServingStatus {
	for _, check := range checks {
		cctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		err := check(cctx)
		cancel()
		if err != nil {
			return healthpb.HealthCheckResponse_NOT_SERVING
		}
	}
	return healthpb.HealthCheckResponse_SERVING
}
