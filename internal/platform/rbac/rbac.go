// Package rbac holds the role checks handlers run against the caller identity the auth
// interceptor placed in the context.
package rbac

import (
	"context"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"sessionguard/internal/server/interceptors"
)

// Roles recognised by the admin RPCs.
const (
	RoleAdmin   = "admin"
	RoleAuditor = "auditor"
)

// HasAnyRole reports whether roles contains at least one of required. An empty required set allows any role.
func HasAnyRole(roles []string, required ...string) bool {
	if len(required) == 0 {
		return true
	}
	for _, want := range required {
		for _, have := range roles {
			if have == want {
				return true
			}
		}
	}
	return false
}

// RequireRoles ensures the caller is authenticated and holds one of required.
// Returns the caller identity on success; returns a gRPC error (Unauthenticated or PermissionDenied) on failure.
func RequireRoles(ctx context.Context, required ...string) (interceptors.Identity, error) {
	id, ok := interceptors.IdentityFrom(ctx)
	if !ok || id.UserID == "" {
		return interceptors.Identity{}, status.Error(codes.Unauthenticated, interceptors.UnauthorizedMessage)
	}
	if !HasAnyRole(id.Roles, required...) {
		return interceptors.Identity{}, status.Error(codes.PermissionDenied, "insufficient role")
	}
	return id, nil
}
