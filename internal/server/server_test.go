package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/spoton/recommendation-service/internal/database"
	"github.com/spoton/recommendation-service/internal/domain"
	"github.com/spoton/recommendation-service/internal/observability"
)

// mockHealth reports a switchable health status.
type mockHealth struct {
	healthy atomic.Bool
}

func (m *mockHealth) Health(context.Context) database.HealthStatus {
	if m.healthy.Load() {
		return database.HealthStatus{Status: "healthy"}
	}
	return database.HealthStatus{Status: "unhealthy", Error: "connection refused"}
}

func startServer(t *testing.T, checker HealthChecker) (*GRPCServer, healthpb.HealthClient) {
	t.Helper()

	lis := bufconn.Listen(1 << 20)
	srv := NewGRPCServer(Config{CheckInterval: 10 * time.Millisecond}, checker, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan error, 1)
	go func() { served <- srv.Serve(ctx, lis) }()

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = conn.Close()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), time.Second)
		defer shutdownCancel()
		srv.Shutdown(shutdownCtx)
		cancel()
		assert.NoError(t, <-served)
	})
	return srv, healthpb.NewHealthClient(conn)
}

func checkStatus(t *testing.T, client healthpb.HealthClient, service string) healthpb.HealthCheckResponse_ServingStatus {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	resp, err := client.Check(ctx, &healthpb.HealthCheckRequest{Service: service})
	require.NoError(t, err)
	return resp.GetStatus()
}

func TestGRPCServer_ServingWithoutChecker(t *testing.T) {
	_, client := startServer(t, nil)

	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, checkStatus(t, client, ""))
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, checkStatus(t, client, ServiceName))
}

func TestGRPCServer_HealthFollowsChecker(t *testing.T) {
	checker := &mockHealth{}
	_, client := startServer(t, checker)

	assert.Eventually(t, func() bool {
		return checkStatus(t, client, ServiceName) == healthpb.HealthCheckResponse_NOT_SERVING
	}, time.Second, 5*time.Millisecond)

	checker.healthy.Store(true)
	assert.Eventually(t, func() bool {
		return checkStatus(t, client, ServiceName) == healthpb.HealthCheckResponse_SERVING
	}, time.Second, 5*time.Millisecond)
}

func TestGRPCServer_UnknownServiceIsNotFound(t *testing.T) {
	_, client := startServer(t, nil)

	_, err := client.Check(context.Background(), &healthpb.HealthCheckRequest{Service: "unknown.Service"})
	require.Error(t, err)
	assert.Equal(t, codes.NotFound, status.Code(err))
}

func TestGRPCServer_ShutdownIsIdempotent(t *testing.T) {
	srv := NewGRPCServer(Config{}, nil, zerolog.Nop())
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	srv.Shutdown(ctx)
	srv.Shutdown(ctx)
}

func TestDomainErrToGRPC(t *testing.T) {
	tests := []struct {
		name         string
		err          error
		wantCode     codes.Code
		wantNil      bool
		wantContains string
	}{
		{name: "nil error returns nil", err: nil, wantNil: true},
		{
			name:         "NotFoundError maps to NotFound",
			err:          domain.NewNotFoundError("run", "123"),
			wantCode:     codes.NotFound,
			wantContains: "resource not found",
		},
		{
			name:         "validation error keeps its message",
			err:          domain.NewValidationError("prompt", "is required"),
			wantCode:     codes.InvalidArgument,
			wantContains: "prompt: is required",
		},
		{
			name:         "conflict exposes only the reason",
			err:          domain.NewConflictError("run", "abc", "run is already done"),
			wantCode:     codes.FailedPrecondition,
			wantContains: "run is already done",
		},
		{
			name:         "ErrAlreadyExists maps to AlreadyExists",
			err:          fmt.Errorf("create: %w", domain.ErrAlreadyExists),
			wantCode:     codes.AlreadyExists,
			wantContains: "already exists",
		},
		{
			name:         "ErrRateLimited maps to ResourceExhausted",
			err:          domain.ErrRateLimited,
			wantCode:     codes.ResourceExhausted,
			wantContains: "rate limited",
		},
		{
			name:         "ErrShuttingDown maps to Unavailable",
			err:          domain.ErrShuttingDown,
			wantCode:     codes.Unavailable,
			wantContains: "service unavailable",
		},
		{
			name:         "context deadline maps to DeadlineExceeded",
			err:          fmt.Errorf("query: %w", context.DeadlineExceeded),
			wantCode:     codes.DeadlineExceeded,
			wantContains: "deadline exceeded",
		},
		{
			name:         "ErrCancelled maps to Canceled",
			err:          domain.ErrCancelled,
			wantCode:     codes.Canceled,
			wantContains: "cancelled",
		},
		{
			name:         "status errors pass through",
			err:          status.Error(codes.PermissionDenied, "nope"),
			wantCode:     codes.PermissionDenied,
			wantContains: "nope",
		},
		{
			name:         "unknown error maps to Internal",
			err:          fmt.Errorf("db failure: %w", errors.New("connection reset")),
			wantCode:     codes.Internal,
			wantContains: "internal server error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := domainErrToGRPC(tt.err)

			if tt.wantNil {
				assert.NoError(t, got)
				return
			}

			require.Error(t, got)
			st, ok := status.FromError(got)
			require.True(t, ok, "expected a gRPC status error")
			assert.Equal(t, tt.wantCode, st.Code())
			assert.Contains(t, st.Message(), tt.wantContains)
			assert.NotContains(t, st.Message(), "connection reset")
		})
	}
}

var testInfo = &grpc.UnaryServerInfo{FullMethod: "/spoton.Test/Call"}

func TestRecoveryUnaryInterceptor(t *testing.T) {
	interceptor := recoveryUnaryInterceptor(zerolog.Nop())

	_, err := interceptor(context.Background(), nil, testInfo, func(context.Context, any) (any, error) {
		panic("boom")
	})
	require.Error(t, err)
	assert.Equal(t, codes.Internal, status.Code(err))
}

func TestRequestIDUnaryInterceptor(t *testing.T) {
	interceptor := requestIDUnaryInterceptor()

	var got string
	handler := func(ctx context.Context, _ any) (any, error) {
		got = observability.RequestIDFromContext(ctx)
		return nil, nil
	}

	ctx := metadata.NewIncomingContext(context.Background(), metadata.Pairs("x-request-id", "req-42"))
	_, err := interceptor(ctx, nil, testInfo, handler)
	require.NoError(t, err)
	assert.Equal(t, "req-42", got)

	_, err = interceptor(context.Background(), nil, testInfo, handler)
	require.NoError(t, err)
	assert.NotEmpty(t, got)
	assert.NotEqual(t, "req-42", got)
}

func TestErrorUnaryInterceptor(t *testing.T) {
	interceptor := errorUnaryInterceptor()

	resp, err := interceptor(context.Background(), nil, testInfo, func(context.Context, any) (any, error) {
		return "partial", domain.NewNotFoundError("run", "x")
	})
	assert.Equal(t, "partial", resp)
	assert.Equal(t, codes.NotFound, status.Code(err))

	_, err = interceptor(context.Background(), nil, testInfo, func(context.Context, any) (any, error) {
		return "ok", nil
	})
	assert.NoError(t, err)
}
