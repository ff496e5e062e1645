package interceptors

import (
	"context"

	"google.golang.org/grpc"
)

// RequestInfo describes the RPC a Step runs for.
type RequestInfo struct {
	FullMethod string
	// Public is true for methods callable without an access token.
	Public bool
}

// Step is one stage of request preparation. It returns the context for the next step, or an error
// (already a gRPC status) that ends the request.
type Step func(ctx context.Context, info *RequestInfo) (context.Context, error)

// Pipeline returns a unary interceptor running steps in order before the handler.
// publicMethods is the set of full method names that do not require a Bearer token.
func Pipeline(publicMethods map[string]bool, steps ...Step) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		ri := &RequestInfo{FullMethod: info.FullMethod, Public: publicMethods[info.FullMethod]}
		for _, step := range steps {
			var err error
			if ctx, err = step(ctx, ri); err != nil {
				return nil, err
			}
		}
		return handler(ctx, req)
	}
}
