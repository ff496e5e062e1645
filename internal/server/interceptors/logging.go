package interceptors

import (
	"context"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"

	"sessionguard/internal/metrics"
)

// LoggingUnary returns a unary server interceptor that logs each RPC and records its latency.
// skipMethods is the set of full method names to not log (e.g. health checks); they are still measured.
// log and m may be nil.
func LoggingUnary(log *zap.Logger, m *metrics.Metrics, skipMethods map[string]bool) grpc.UnaryServerInterceptor {
	if log == nil {
		log = zap.NewNop()
	}
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		elapsed := time.Since(start)
		code := status.Code(err)
		m.ObserveRPC(info.FullMethod, code.String(), elapsed)
		if skipMethods[info.FullMethod] {
			return resp, err
		}
		log.Info("rpc",
			zap.String("method", info.FullMethod),
			zap.String("code", code.String()),
			zap.Duration("duration", elapsed),
			zap.String("client_ip", ClientIP(ctx)),
		)
		return resp, err
	}
}
