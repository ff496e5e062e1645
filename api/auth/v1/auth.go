// Package authv1 is the sessionguard.auth.v1.AuthService wire contract: request and response
// messages (JSON codec), the server interface and descriptor, and a client.
package authv1

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"sessionguard/api/codec"
)

const AuthService_ServiceName = "sessionguard.auth.v1.AuthService"

const (
	AuthService_Login_FullMethodName                    = "/sessionguard.auth.v1.AuthService/Login"
	AuthService_Refresh_FullMethodName                  = "/sessionguard.auth.v1.AuthService/Refresh"
	AuthService_ResolveConcurrentSession_FullMethodName = "/sessionguard.auth.v1.AuthService/ResolveConcurrentSession"
	AuthService_ReauthAfterLockdown_FullMethodName      = "/sessionguard.auth.v1.AuthService/ReauthAfterLockdown"
	AuthService_Logout_FullMethodName                   = "/sessionguard.auth.v1.AuthService/Logout"
)

// PublicMethods are the AuthService methods callable without an access token.
var PublicMethods = []string{
	AuthService_Login_FullMethodName,
	AuthService_Refresh_FullMethodName,
	AuthService_ResolveConcurrentSession_FullMethodName,
	AuthService_ReauthAfterLockdown_FullMethodName,
	AuthService_Logout_FullMethodName,
}

// LoginRequest carries the identity proof and the device the session is bound to.
// DeviceID falls back to the x-device-id metadata header when empty.
type LoginRequest struct {
	Proof    string `json:"proof" validate:"required"`
	DeviceID string `json:"device_id" validate:"required,max=256"`
}

type User struct {
	ID         string   `json:"id"`
	Email      string   `json:"email"`
	Name       string   `json:"name,omitempty"`
	Roles      []string `json:"roles"`
	ActiveRole string   `json:"active_role,omitempty"`
}

// LoginResponse is returned by Login and ReauthAfterLockdown.
type LoginResponse struct {
	AccessToken   string `json:"access_token"`
	RefreshToken  string `json:"refresh_token"`
	ExpiresIn     int64  `json:"expires_in"`
	SessionID     string `json:"session_id"`
	SessionStatus string `json:"session_status"`
	// ConcurrentSessionID is null unless SessionStatus is PENDING_CONCURRENT_RESOLUTION.
	ConcurrentSessionID *string `json:"concurrent_session_id"`
	User                User    `json:"user"`
}

type RefreshRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
	DeviceID     string `json:"device_id" validate:"required,max=256"`
}

type RefreshResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
}

// ResolveConcurrentSessionRequest applies Decision (KEEP_NEW or KEEP_EXISTING) to the pending
// session that RefreshToken belongs to.
type ResolveConcurrentSessionRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
	DeviceID     string `json:"device_id" validate:"required,max=256"`
	Decision     string `json:"decision" validate:"required"`
}

// ResolveConcurrentSessionResponse names the session left ACTIVE; empty when the existing one was kept.
type ResolveConcurrentSessionResponse struct {
	KeptSessionID string `json:"kept_session_id"`
}

type ReauthAfterLockdownRequest struct {
	Proof        string `json:"proof" validate:"required"`
	RefreshToken string `json:"refresh_token" validate:"required"`
	DeviceID     string `json:"device_id" validate:"required,max=256"`
}

type LogoutRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
	DeviceID     string `json:"device_id" validate:"required,max=256"`
}

type LogoutResponse struct{}

// AuthServiceServer is the server API for AuthService.
type AuthServiceServer interface {
	Login(context.Context, *LoginRequest) (*LoginResponse, error)
	Refresh(context.Context, *RefreshRequest) (*RefreshResponse, error)
	ResolveConcurrentSession(context.Context, *ResolveConcurrentSessionRequest) (*ResolveConcurrentSessionResponse, error)
	ReauthAfterLockdown(context.Context, *ReauthAfterLockdownRequest) (*LoginResponse, error)
	Logout(context.Context, *LogoutRequest) (*LogoutResponse, error)
}

// UnimplementedAuthServiceServer can be embedded to have forward compatible implementations.
type UnimplementedAuthServiceServer struct{}

func (UnimplementedAuthServiceServer) Login(context.Context, *LoginRequest) (*LoginResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method Login not implemented")
}
func (UnimplementedAuthServiceServer) Refresh(context.Context, *RefreshRequest) (*RefreshResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method Refresh not implemented")
}
func (UnimplementedAuthServiceServer) ResolveConcurrentSession(context.Context, *ResolveConcurrentSessionRequest) (*ResolveConcurrentSessionResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method ResolveConcurrentSession not implemented")
}
func (UnimplementedAuthServiceServer) ReauthAfterLockdown(context.Context, *ReauthAfterLockdownRequest) (*LoginResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method ReauthAfterLockdown not implemented")
}
func (UnimplementedAuthServiceServer) Logout(context.Context, *LogoutRequest) (*LogoutResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method Logout not implemented")
}

func RegisterAuthServiceServer(s grpc.ServiceRegistrar, srv AuthServiceServer) {
	s.RegisterService(&AuthService_ServiceDesc, srv)
}

func _AuthService_Login_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(LoginRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(AuthServiceServer).Login(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: AuthService_Login_FullMethodName}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(AuthServiceServer).Login(ctx, req.(*LoginRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _AuthService_Refresh_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(RefreshRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(AuthServiceServer).Refresh(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: AuthService_Refresh_FullMethodName}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(AuthServiceServer).Refresh(ctx, req.(*RefreshRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _AuthService_ResolveConcurrentSession_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(ResolveConcurrentSessionRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(AuthServiceServer).ResolveConcurrentSession(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: AuthService_ResolveConcurrentSession_FullMethodName}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(AuthServiceServer).ResolveConcurrentSession(ctx, req.(*ResolveConcurrentSessionRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _AuthService_ReauthAfterLockdown_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(ReauthAfterLockdownRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(AuthServiceServer).ReauthAfterLockdown(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: AuthService_ReauthAfterLockdown_FullMethodName}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(AuthServiceServer).ReauthAfterLockdown(ctx, req.(*ReauthAfterLockdownRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _AuthService_Logout_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(LogoutRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(AuthServiceServer).Logout(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: AuthService_Logout_FullMethodName}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(AuthServiceServer).Logout(ctx, req.(*LogoutRequest))
	}
	return interceptor(ctx, in, info, handler)
}

// AuthService_ServiceDesc is the grpc.ServiceDesc for AuthService.
var AuthService_ServiceDesc = grpc.ServiceDesc{
	ServiceName: AuthService_ServiceName,
	HandlerType: (*AuthServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Login", Handler: _AuthService_Login_Handler},
		{MethodName: "Refresh", Handler: _AuthService_Refresh_Handler},
		{MethodName: "ResolveConcurrentSession", Handler: _AuthService_ResolveConcurrentSession_Handler},
		{MethodName: "ReauthAfterLockdown", Handler: _AuthService_ReauthAfterLockdown_Handler},
		{MethodName: "Logout", Handler: _AuthService_Logout_Handler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "sessionguard/auth/v1",
}

// AuthServiceClient is the client API for AuthService. Calls use the JSON codec.
type AuthServiceClient interface {
	Login(ctx context.Context, in *LoginRequest, opts ...grpc.CallOption) (*LoginResponse, error)
	Refresh(ctx context.Context, in *RefreshRequest, opts ...grpc.CallOption) (*RefreshResponse, error)
	ResolveConcurrentSession(ctx context.Context, in *ResolveConcurrentSessionRequest, opts ...grpc.CallOption) (*ResolveConcurrentSessionResponse, error)
	ReauthAfterLockdown(ctx context.Context, in *ReauthAfterLockdownRequest, opts ...grpc.CallOption) (*LoginResponse, error)
	Logout(ctx context.Context, in *LogoutRequest, opts ...grpc.CallOption) (*LogoutResponse, error)
}

type authServiceClient struct {
	cc grpc.ClientConnInterface
}

func NewAuthServiceClient(cc grpc.ClientConnInterface) AuthServiceClient {
	return &authServiceClient{cc}
}

func (c *authServiceClient) invoke(ctx context.Context, method string, in, out interface{}, opts []grpc.CallOption) error {
	return c.cc.Invoke(ctx, method, in, out, append([]grpc.CallOption{grpc.CallContentSubtype(codec.Name)}, opts...)...)
}

func (c *authServiceClient) Login(ctx context.Context, in *LoginRequest, opts ...grpc.CallOption) (*LoginResponse, error) {
	out := new(LoginResponse)
	if err := c.invoke(ctx, AuthService_Login_FullMethodName, in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *authServiceClient) Refresh(ctx context.Context, in *RefreshRequest, opts ...grpc.CallOption) (*RefreshResponse, error) {
	out := new(RefreshResponse)
	if err := c.invoke(ctx, AuthService_Refresh_FullMethodName, in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *authServiceClient) ResolveConcurrentSession(ctx context.Context, in *ResolveConcurrentSessionRequest, opts ...grpc.CallOption) (*ResolveConcurrentSessionResponse, error) {
	out := new(ResolveConcurrentSessionResponse)
	if err := c.invoke(ctx, AuthService_ResolveConcurrentSession_FullMethodName, in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *authServiceClient) ReauthAfterLockdown(ctx context.Context, in *ReauthAfterLockdownRequest, opts ...grpc.CallOption) (*LoginResponse, error) {
	out := new(LoginResponse)
	if err := c.invoke(ctx, AuthService_ReauthAfterLockdown_FullMethodName, in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *authServiceClient) Logout(ctx context.Context, in *LogoutRequest, opts ...grpc.CallOption) (*LogoutResponse, error) {
	out := new(LogoutResponse)
	if err := c.invoke(ctx, AuthService_Logout_FullMethodName, in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}
