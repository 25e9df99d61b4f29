package grpcx

import (
	"context"
	"errors"
	"testing"

	"google.golang.org/grpc"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
)

func TestRequestIDInterceptorUsesIncomingMetadata(t *testing.T) {
	ctx := metadata.NewIncomingContext(context.Background(), metadata.Pairs(RequestIDMetadataKey, "req-42"))
	var seen string
	_, err := UnaryServerRequestIDInterceptor()(ctx, nil, &grpc.UnaryServerInfo{FullMethod: "/x.Y/Z"},
		func(ctx context.Context, req any) (any, error) {
			seen = RequestIDFromContext(ctx)
			return nil, nil
		})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if seen != "req-42" {
		t.Fatalf("request id = %q, want req-42", seen)
	}
}

func TestEvaluate(t *testing.T) {
	ok := func(context.Context) error { return nil }
	bad := func(context.Context) error { return errors.New("down") }

	if got := evaluate(context.Background(), []Check{ok}); got != healthpb.HealthCheckResponse_SERVING {
		t.Fatalf("expected SERVING, got %v", got)
	}
	if got := evaluate(context.Background(), []Check{ok, bad}); got != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Fatalf("expected NOT_SERVING, got %v", got)
	}
}

func TestRequestIDInterceptorGeneratesID(t *testing.T) {
	var seen string
	_, _ = UnaryServerRequestIDInterceptor()(context.Background(), nil, &grpc.UnaryServerInfo{FullMethod: "/x.Y/Z"},
		func(ctx context.Context, req any) (any, error) {
			seen = RequestIDFromContext(ctx)
			return nil, nil
		})
	if len(seen) != 36 {
		t.Fatalf("expected generated uuid, got %q", seen)
	}
}
