package interceptors

import (
	"context"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// LoggingInterceptor logs unary calls and turns handler panics into Internal.
func LoggingInterceptor(logger *zap.Logger) grpc.UnaryServerInterceptor {
	if logger == nil {
		logger = zap.NewNop()
	}

	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp any, err error) {
		start := time.Now()
		defer func() {
			if r := recover(); r != nil {
				logger.Error("gRPC handler panicked", zap.String("method", info.FullMethod), zap.Any("panic", r))
				resp, err = nil, status.Error(codes.Internal, "internal error")
			}

			code := status.Code(err)
			fields := []zap.Field{
				zap.String("method", info.FullMethod),
				zap.String("code", code.String()),
				zap.Duration("latency", time.Since(start)),
			}
			switch code {
			case codes.OK, codes.NotFound, codes.Canceled:
				logger.Debug("gRPC call completed", fields...)
			default:
				logger.Warn("gRPC call failed", append(fields, zap.Error(err))...)
			}
		}()

		return handler(ctx, req)
	}
}
