package handler

import (
	"context"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	sessionv1 "sessionguard/api/session/v1"
	"sessionguard/internal/platform/rbac"
	"sessionguard/internal/platform/validation"
	"sessionguard/internal/session/domain"
)

// Manager is the slice of the auth service the SessionService RPCs call.
type Manager interface {
	BanUser(ctx context.Context, userID, actorID string) (int, error)
	ListSessions(ctx context.Context, userID string) ([]*domain.Session, error)
}

// Server implements SessionService for session administration.
type Server struct {
	sessionv1.UnimplementedSessionServiceServer
	manager Manager
}

// NewServer returns a new Session gRPC server. If manager is nil, all RPCs return Unimplemented.
func NewServer(manager Manager) *Server {
	return &Server{manager: manager}
}

// BanUser disables a user and revokes every live session they hold. Caller must have role admin.
func (s *Server) BanUser(ctx context.Context, req *sessionv1.BanUserRequest) (*sessionv1.BanUserResponse, error) {
	if s.manager == nil {
		return nil, status.Error(codes.Unimplemented, "method BanUser not implemented")
	}
	caller, err := rbac.RequireRoles(ctx, rbac.RoleAdmin)
	if err != nil {
		return nil, err
	}
	if err := validation.Struct(req); err != nil {
		return nil, err
	}
	if req.UserID == caller.UserID {
		return nil, status.Error(codes.InvalidArgument, "cannot ban yourself")
	}
	n, err := s.manager.BanUser(ctx, req.UserID, caller.UserID)
	if err != nil {
		return nil, err
	}
	return &sessionv1.BanUserResponse{RevokedSessions: n}, nil
}

// ListSessions returns the caller's own live sessions, newest first.
func (s *Server) ListSessions(ctx context.Context, _ *sessionv1.ListSessionsRequest) (*sessionv1.ListSessionsResponse, error) {
	if s.manager == nil {
		return nil, status.Error(codes.Unimplemented, "method ListSessions not implemented")
	}
	caller, err := rbac.RequireRoles(ctx)
	if err != nil {
		return nil, err
	}
	list, err := s.manager.ListSessions(ctx, caller.UserID)
	if err != nil {
		return nil, err
	}
	out := make([]sessionv1.Session, len(list))
	for i, sess := range list {
		out[i] = toWire(sess)
		out[i].Current = sess.ID == caller.SessionID
	}
	return &sessionv1.ListSessionsResponse{Sessions: out}, nil
}

func toWire(s *domain.Session) sessionv1.Session {
	return sessionv1.Session{
		ID:             s.ID,
		DeviceID:       s.DeviceID,
		Status:         string(s.Status),
		IPAddress:      s.IPAddress,
		City:           s.City,
		Country:        s.Country,
		UserAgent:      s.UserAgent,
		CreatedAt:      s.CreatedAt,
		LastActivityAt: s.LastActivityAt,
		ExpiresAt:      s.ExpiresAt,
	}
}
