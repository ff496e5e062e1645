package interceptors

import (
	"context"
	"errors"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"sessionguard/internal/platform/apperr"
)

// ToStatus maps a service error to the gRPC status returned to callers. Errors that already carry a
// status pass through. Reasons wrapped around ErrUnauthorized, ErrConflict and ErrLockTimeout are
// never exposed; only InvalidArgument keeps its message.
func ToStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	switch {
	case errors.Is(err, apperr.ErrUnauthorized):
		return status.Error(codes.Unauthenticated, UnauthorizedMessage)
	case errors.Is(err, apperr.ErrInvalidArgument):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, apperr.ErrConflict):
		return status.Error(codes.FailedPrecondition, "session is not in the required state")
	case apperr.IsRetryable(err):
		return status.Error(codes.Unavailable, "busy, retry the request")
	case errors.Is(err, apperr.ErrNotFound):
		return status.Error(codes.NotFound, "not found")
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, "canceled")
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, "deadline exceeded")
	}
	return status.Error(codes.Internal, "internal error")
}

// ErrorUnary returns a unary server interceptor that converts handler errors with ToStatus and logs
// the real reason. log may be nil.
func ErrorUnary(log *zap.Logger) grpc.UnaryServerInterceptor {
	if log == nil {
		log = zap.NewNop()
	}
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		resp, err := handler(ctx, req)
		if err == nil {
			return resp, nil
		}
		st := ToStatus(err)
		fields := []zap.Field{zap.String("method", info.FullMethod), zap.Error(err)}
		switch status.Code(st) {
		case codes.Internal:
			if apperr.IsConfiguration(err) {
				fields = append(fields, zap.Bool("configuration", true))
			}
			log.Error("rpc failed", fields...)
		case codes.Unavailable:
			log.Warn("rpc lock timeout", fields...)
		default:
			log.Debug("rpc rejected", fields...)
		}
		return nil, st
	}
}
