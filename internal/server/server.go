// Package server provides the gRPC server of the recommendation service.
//
// The gRPC surface carries the standard health and reflection services so
// orchestrators can probe the process; the run API itself is served over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/reflection"
	"google.golang.org/grpc/status"

	"github.com/spoton/recommendation-service/internal/database"
	"github.com/spoton/recommendation-service/internal/domain"
)

// ServiceName is the health service name reported for the recommendation API.
const ServiceName = "spoton.recommendation.v1.RecommendationService"

const (
	defaultMaxMsgSize           = 16 * 1024 * 1024 // 16MB
	defaultMaxConcurrentStreams = 100
	defaultCheckInterval        = 15 * time.Second
	healthCheckTimeout          = 5 * time.Second
)

// HealthChecker reports the health of a backing dependency.
type HealthChecker interface {
	Health(ctx context.Context) database.HealthStatus
}

// Config holds gRPC server settings.
type Config struct {
	Address              string
	MaxMsgSize           int
	MaxConcurrentStreams uint32
	// CheckInterval is how often the health checker is polled.
	CheckInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxMsgSize <= 0 {
		c.MaxMsgSize = defaultMaxMsgSize
	}
	if c.MaxConcurrentStreams == 0 {
		c.MaxConcurrentStreams = defaultMaxConcurrentStreams
	}
	if c.CheckInterval <= 0 {
		c.CheckInterval = defaultCheckInterval
	}
	return c
}

// GRPCServer serves gRPC health and reflection.
type GRPCServer struct {
	cfg     Config
	grpc    *grpc.Server
	health  *health.Server
	checker HealthChecker
	logger  zerolog.Logger

	stopOnce sync.Once
	stop     chan struct{}
}

// NewGRPCServer creates a gRPC server. A nil checker reports SERVING until
// shutdown.
func NewGRPCServer(cfg Config, checker HealthChecker, logger zerolog.Logger) *GRPCServer {
	cfg = cfg.withDefaults()
	logger = logger.With().Str("component", "grpc_server").Logger()

	srv := grpc.NewServer(
		grpc.MaxRecvMsgSize(cfg.MaxMsgSize),
		grpc.MaxSendMsgSize(cfg.MaxMsgSize),
		grpc.MaxConcurrentStreams(cfg.MaxConcurrentStreams),
		grpc.ChainUnaryInterceptor(
			recoveryUnaryInterceptor(logger),
			requestIDUnaryInterceptor(),
			loggingUnaryInterceptor(logger),
			errorUnaryInterceptor(),
		),
		grpc.ChainStreamInterceptor(
			recoveryStreamInterceptor(logger),
		),
		grpc.KeepaliveParams(keepalive.ServerParameters{
			MaxConnectionIdle:     15 * time.Minute,
			MaxConnectionAge:      30 * time.Minute,
			MaxConnectionAgeGrace: 5 * time.Minute,
			Time:                  5 * time.Minute,
			Timeout:               1 * time.Minute,
		}),
		grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
			MinTime:             5 * time.Minute,
			PermitWithoutStream: true,
		}),
	)

	hs := health.NewServer()
	healthpb.RegisterHealthServer(srv, hs)
	reflection.Register(srv)

	s := &GRPCServer{
		cfg:     cfg,
		grpc:    srv,
		health:  hs,
		checker: checker,
		logger:  logger,
		stop:    make(chan struct{}),
	}
	s.setServing(healthpb.HealthCheckResponse_SERVING)
	return s
}

// Server returns the underlying grpc.Server.
func (s *GRPCServer) Server() *grpc.Server {
	return s.grpc
}

// Serve accepts connections on lis until Shutdown is called. Health status
// follows the checker while serving.
func (s *GRPCServer) Serve(ctx context.Context, lis net.Listener) error {
	if s.checker != nil {
		s.refreshHealth(ctx)
		go s.watchHealth(ctx)
	}
	s.logger.Info().Str("address", lis.Addr().String()).Msg("gRPC server starting")
	if err := s.grpc.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return fmt.Errorf("gRPC server error: %w", err)
	}
	return nil
}

// Shutdown marks every service NOT_SERVING and stops gracefully, forcing a
// stop once ctx expires.
func (s *GRPCServer) Shutdown(ctx context.Context) {
	s.stopOnce.Do(func() { close(s.stop) })
	s.health.Shutdown()

	stopped := make(chan struct{})
	go func() {
		s.grpc.GracefulStop()
		close(stopped)
	}()

	select {
	case <-stopped:
		s.logger.Info().Msg("gRPC server stopped gracefully")
	case <-ctx.Done():
		s.logger.Warn().Msg("gRPC server forced shutdown due to timeout")
		s.grpc.Stop()
	}
}

func (s *GRPCServer) watchHealth(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.CheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stop:
			return
		case <-ticker.C:
			s.refreshHealth(ctx)
		}
	}
}

func (s *GRPCServer) refreshHealth(ctx context.Context) {
	checkCtx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()

	hs := s.checker.Health(checkCtx)
	if hs.Status == "healthy" {
		s.setServing(healthpb.HealthCheckResponse_SERVING)
		return
	}
	s.logger.Warn().Str("error", hs.Error).Msg("dependency unhealthy, reporting NOT_SERVING")
	s.setServing(healthpb.HealthCheckResponse_NOT_SERVING)
}

func (s *GRPCServer) setServing(st healthpb.HealthCheckResponse_ServingStatus) {
	s.health.SetServingStatus("", st)
	s.health.SetServingStatus(ServiceName, st)
}

// domainErrToGRPC maps domain errors to gRPC status errors. Internal details
// are not sent to clients.
func domainErrToGRPC(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}

	switch {
	case errors.Is(err, domain.ErrNotFound):
		return status.Error(codes.NotFound, "resource not found")
	case errors.Is(err, domain.ErrInvalidInput):
		var ve *domain.ValidationError
		if errors.As(err, &ve) {
			return status.Error(codes.InvalidArgument, ve.Error())
		}
		return status.Error(codes.InvalidArgument, "invalid input")
	case errors.Is(err, domain.ErrAlreadyExists):
		return status.Error(codes.AlreadyExists, "already exists")
	case errors.Is(err, domain.ErrConflict):
		var ce *domain.ConflictError
		if errors.As(err, &ce) {
			return status.Error(codes.FailedPrecondition, ce.Reason)
		}
		return status.Error(codes.FailedPrecondition, "conflict")
	case errors.Is(err, domain.ErrRateLimited):
		return status.Error(codes.ResourceExhausted, "rate limited")
	case errors.Is(err, domain.ErrServiceUnavailable), errors.Is(err, domain.ErrShuttingDown):
		return status.Error(codes.Unavailable, "service unavailable")
	case errors.Is(err, domain.ErrCancelled), errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, "cancelled")
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, "deadline exceeded")
	default:
		return status.Error(codes.Internal, "internal server error")
	}
}
