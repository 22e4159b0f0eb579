package server

import (
	"context"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/spoton/recommendation-service/internal/observability"
)

// recoveryUnaryInterceptor turns handler panics into Internal errors.
func recoveryUnaryInterceptor(logger zerolog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp any, err error) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error().
					Str("method", info.FullMethod).
					Interface("panic", r).
					Bytes("stack", debug.Stack()).
					Msg("gRPC handler panicked")
				err = status.Error(codes.Internal, "internal server error")
			}
		}()
		return handler(ctx, req)
	}
}

func recoveryStreamInterceptor(logger zerolog.Logger) grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) (err error) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error().
					Str("method", info.FullMethod).
					Interface("panic", r).
					Bytes("stack", debug.Stack()).
					Msg("gRPC stream handler panicked")
				err = status.Error(codes.Internal, "internal server error")
			}
		}()
		return handler(srv, ss)
	}
}

// requestIDUnaryInterceptor propagates the x-request-id metadata value,
// generating one when absent.
func requestIDUnaryInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, _ *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		requestID := ""
		if md, ok := metadata.FromIncomingContext(ctx); ok {
			if vals := md.Get(requestIDMetadataKey); len(vals) > 0 {
				requestID = vals[0]
			}
		}
		if requestID == "" {
			requestID = uuid.NewString()
		}
		return handler(observability.WithRequestID(ctx, requestID), req)
	}
}

// loggingUnaryInterceptor logs each call with its outcome. Health probes are
// logged at debug level.
func loggingUnaryInterceptor(logger zerolog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)

		code := status.Code(err)
		level := zerolog.InfoLevel
		switch {
		case code == codes.Internal || code == codes.Unknown:
			level = zerolog.ErrorLevel
		case info.FullMethod == healthCheckMethod:
			level = zerolog.DebugLevel
		}

		logger.WithLevel(level).
			Str("method", info.FullMethod).
			Str("code", code.String()).
			Str("request_id", observability.RequestIDFromContext(ctx)).
			Dur("duration", time.Since(start)).
			Msg("gRPC call")
		return resp, err
	}
}

// errorUnaryInterceptor converts domain errors returned by handlers into
// gRPC status errors.
func errorUnaryInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, _ *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		resp, err := handler(ctx, req)
		return resp, domainErrToGRPC(err)
	}
}

const (
	healthCheckMethod    = "/grpc.health.v1.Health/Check"
	requestIDMetadataKey = "x-request-id"
)
