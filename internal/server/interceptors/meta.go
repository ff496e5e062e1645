package interceptors

import (
	"context"
	"net"
	"strings"

	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
)

// RequestMetaStep records the client IP, user agent and device id for handlers.
func RequestMetaStep() Step {
	return func(ctx context.Context, _ *RequestInfo) (context.Context, error) {
		return WithRequestMeta(ctx, RequestMeta{
			IP:        ClientIP(ctx),
			UserAgent: firstValue(ctx, "user-agent"),
			DeviceID:  firstValue(ctx, "x-device-id"),
		}), nil
	}
}

// ClientIP returns the client IP from gRPC metadata (x-forwarded-for, x-real-ip) or peer, or "".
func ClientIP(ctx context.Context) string {
	if s := firstValue(ctx, "x-forwarded-for"); s != "" {
		if i := strings.Index(s, ","); i > 0 {
			s = strings.TrimSpace(s[:i])
		}
		return s
	}
	if s := firstValue(ctx, "x-real-ip"); s != "" {
		return s
	}
	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		if host, _, err := net.SplitHostPort(p.Addr.String()); err == nil {
			return host
		}
		return p.Addr.String()
	}
	return ""
}

func firstValue(ctx context.Context, key string) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	if vals := md.Get(key); len(vals) > 0 {
		return strings.TrimSpace(vals[0])
	}
	return ""
}
