// Package auditv1 is the sessionguard.audit.v1.AuditService wire contract.
package auditv1

import (
	"context"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"sessionguard/api/codec"
)

const AuditService_ServiceName = "sessionguard.audit.v1.AuditService"

const AuditService_ListSecurityEvents_FullMethodName = "/sessionguard.audit.v1.AuditService/ListSecurityEvents"

// ListSecurityEventsRequest filters the security event log. Zero fields are ignored.
type ListSecurityEventsRequest struct {
	UserID string     `json:"user_id,omitempty"`
	Codes  []string   `json:"codes,omitempty" validate:"dive,required"`
	From   *time.Time `json:"from,omitempty"`
	To     *time.Time `json:"to,omitempty"`
	Limit  int        `json:"limit,omitempty" validate:"omitempty,min=1,max=1000"`
}

type SecurityEvent struct {
	ID         string         `json:"id"`
	UserID     string         `json:"user_id"`
	Code       string         `json:"code"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
}

type ListSecurityEventsResponse struct {
	Events []SecurityEvent `json:"events"`
}

// AuditServiceServer is the server API for AuditService.
type AuditServiceServer interface {
	ListSecurityEvents(context.Context, *ListSecurityEventsRequest) (*ListSecurityEventsResponse, error)
}

// UnimplementedAuditServiceServer can be embedded to have forward compatible implementations.
type UnimplementedAuditServiceServer struct{}

func (UnimplementedAuditServiceServer) ListSecurityEvents(context.Context, *ListSecurityEventsRequest) (*ListSecurityEventsResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method ListSecurityEvents not implemented")
}

func RegisterAuditServiceServer(s grpc.ServiceRegistrar, srv AuditServiceServer) {
	s.RegisterService(&AuditService_ServiceDesc, srv)
}

func _AuditService_ListSecurityEvents_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(ListSecurityEventsRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(AuditServiceServer).ListSecurityEvents(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: AuditService_ListSecurityEvents_FullMethodName}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(AuditServiceServer).ListSecurityEvents(ctx, req.(*ListSecurityEventsRequest))
	}
	return interceptor(ctx, in, info, handler)
}

// AuditService_ServiceDesc is the grpc.ServiceDesc for AuditService.
var AuditService_ServiceDesc = grpc.ServiceDesc{
	ServiceName: AuditService_ServiceName,
	HandlerType: (*AuditServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "ListSecurityEvents", Handler: _AuditService_ListSecurityEvents_Handler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "sessionguard/audit/v1",
}

// AuditServiceClient is the client API for AuditService. Calls use the JSON codec.
type AuditServiceClient interface {
	ListSecurityEvents(ctx context.Context, in *ListSecurityEventsRequest, opts ...grpc.CallOption) (*ListSecurityEventsResponse, error)
}

type auditServiceClient struct {
	cc grpc.ClientConnInterface
}

func NewAuditServiceClient(cc grpc.ClientConnInterface) AuditServiceClient {
	return &auditServiceClient{cc}
}

func (c *auditServiceClient) ListSecurityEvents(ctx context.Context, in *ListSecurityEventsRequest, opts ...grpc.CallOption) (*ListSecurityEventsResponse, error) {
	out := new(ListSecurityEventsResponse)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(codec.Name)}, opts...)
	if err := c.cc.Invoke(ctx, AuditService_ListSecurityEvents_FullMethodName, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
