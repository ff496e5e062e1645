package interceptors

import (
	"context"
	"strings"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"sessionguard/internal/security"
)

const bearerPrefix = "bearer "

// UnauthorizedMessage is the only detail an unauthenticated caller ever sees.
const UnauthorizedMessage = "unauthorized"

// AccessValidator checks an access token against the signing key and the session store.
type AccessValidator interface {
	ValidateAccess(ctx context.Context, token string) (*security.AccessClaims, error)
}

// AuthStep validates the Bearer (access) token from gRPC metadata and sets the caller Identity
// for protected RPCs. Public methods pass through untouched; an invalid token on a public method
// is ignored rather than rejected. With a nil validator every protected RPC is rejected.
// Validator errors go through ToStatus, so a rejected token is Unauthenticated and a lock
// timeout in the store is Unavailable.
func AuthStep(v AccessValidator) Step {
	return func(ctx context.Context, info *RequestInfo) (context.Context, error) {
		if info.Public {
			return ctx, nil
		}
		token := extractBearer(ctx)
		if token == "" || v == nil {
			return nil, status.Error(codes.Unauthenticated, UnauthorizedMessage)
		}
		claims, err := v.ValidateAccess(ctx, token)
		if err != nil {
			return nil, ToStatus(err)
		}
		return WithIdentity(ctx, Identity{
			UserID:     claims.Subject,
			SessionID:  claims.SessionID,
			Email:      claims.Email,
			Roles:      claims.Roles,
			ActiveRole: claims.ActiveRole,
		}), nil
	}
}

// extractBearer returns the Bearer token from ctx metadata, or "" if missing or malformed.
func extractBearer(ctx context.Context) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	vals := md.Get("authorization")
	if len(vals) == 0 {
		return ""
	}
	v := strings.TrimSpace(vals[0])
	if len(v) < len(bearerPrefix) {
		return ""
	}
	if !strings.EqualFold(v[:len(bearerPrefix)], bearerPrefix) {
		return ""
	}
	return strings.TrimSpace(v[len(bearerPrefix):])
}
