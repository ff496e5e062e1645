package handler

import (
	"context"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	auditv1 "sessionguard/api/audit/v1"
	"sessionguard/internal/audit"
	"sessionguard/internal/audit/domain"
	"sessionguard/internal/platform/apperr"
	"sessionguard/internal/platform/rbac"
	"sessionguard/internal/platform/validation"
)

// Server implements AuditService over the security event log.
type Server struct {
	auditv1.UnimplementedAuditServiceServer
	events audit.Reader
}

// NewServer returns a new Audit gRPC server. If events is nil, ListSecurityEvents returns Unimplemented.
func NewServer(events audit.Reader) *Server {
	return &Server{events: events}
}

// ListSecurityEvents returns security events matching the filter, newest first. A zero limit
// returns the default page.
// Caller must have role admin or auditor.
func (s *Server) ListSecurityEvents(ctx context.Context, req *auditv1.ListSecurityEventsRequest) (*auditv1.ListSecurityEventsResponse, error) {
	if s.events == nil {
		return nil, status.Error(codes.Unimplemented, "method ListSecurityEvents not implemented")
	}
	if _, err := rbac.RequireRoles(ctx, rbac.RoleAdmin, rbac.RoleAuditor); err != nil {
		return nil, err
	}
	if err := validation.Struct(req); err != nil {
		return nil, err
	}
	f := domain.Filter{UserID: req.UserID}
	for _, c := range req.Codes {
		f.Codes = append(f.Codes, domain.EventCode(c))
	}
	if req.From != nil {
		f.From = *req.From
	}
	if req.To != nil {
		f.To = *req.To
	}
	list, err := s.events.FindAll(ctx, f, req.Limit)
	if apperr.IsConfiguration(err) {
		return nil, apperr.InvalidArgument("unknown event code")
	}
	if err != nil {
		return nil, err
	}
	out := make([]auditv1.SecurityEvent, len(list))
	for i, e := range list {
		out[i] = auditv1.SecurityEvent{
			ID:         e.ID,
			UserID:     e.UserID,
			Code:       string(e.Code),
			Metadata:   e.Metadata,
			OccurredAt: e.OccurredAt,
		}
	}
	return &auditv1.ListSecurityEventsResponse{Events: out}, nil
}
