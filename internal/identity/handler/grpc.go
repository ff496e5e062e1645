package handler

import (
	"context"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	authv1 "sessionguard/api/auth/v1"
	identityservice "sessionguard/internal/identity/service"
	"sessionguard/internal/platform/validation"
	"sessionguard/internal/server/interceptors"
)

// Authenticator is the slice of the auth service the AuthService RPCs call.
type Authenticator interface {
	Login(ctx context.Context, in identityservice.LoginInput) (*identityservice.LoginResult, error)
	Refresh(ctx context.Context, refreshToken, deviceID string) (*identityservice.RefreshResult, error)
	ResolveConcurrentSession(ctx context.Context, refreshToken, deviceID, decision string, meta identityservice.RequestMeta) (string, error)
	ReauthAfterLockdown(ctx context.Context, proof, refreshToken, deviceID string, meta identityservice.RequestMeta) (*identityservice.LoginResult, error)
	Logout(ctx context.Context, refreshToken, deviceID string) error
}

// AuthServer implements AuthService for login, refresh, concurrent-session resolution,
// re-authentication after lockdown and logout. Service errors are returned as is; the error
// interceptor maps them to gRPC codes.
type AuthServer struct {
	authv1.UnimplementedAuthServiceServer
	auth Authenticator
}

// NewAuthServer returns a new Auth gRPC server. If auth is nil, all RPCs return Unimplemented.
func NewAuthServer(auth Authenticator) *AuthServer {
	return &AuthServer{auth: auth}
}

// Login verifies the identity proof and opens a session for the device.
func (s *AuthServer) Login(ctx context.Context, req *authv1.LoginRequest) (*authv1.LoginResponse, error) {
	if s.auth == nil {
		return nil, status.Error(codes.Unimplemented, "method Login not implemented")
	}
	meta := interceptors.RequestMetaFrom(ctx)
	req.DeviceID = deviceOr(req.DeviceID, meta)
	if err := validation.Struct(req); err != nil {
		return nil, err
	}
	res, err := s.auth.Login(ctx, identityservice.LoginInput{
		Proof:    req.Proof,
		DeviceID: req.DeviceID,
		Meta:     requestMeta(meta),
	})
	if err != nil {
		return nil, err
	}
	return loginResponse(res), nil
}

// Refresh rotates the refresh token of an ACTIVE session.
func (s *AuthServer) Refresh(ctx context.Context, req *authv1.RefreshRequest) (*authv1.RefreshResponse, error) {
	if s.auth == nil {
		return nil, status.Error(codes.Unimplemented, "method Refresh not implemented")
	}
	req.DeviceID = deviceOr(req.DeviceID, interceptors.RequestMetaFrom(ctx))
	if err := validation.Struct(req); err != nil {
		return nil, err
	}
	res, err := s.auth.Refresh(ctx, req.RefreshToken, req.DeviceID)
	if err != nil {
		return nil, err
	}
	return &authv1.RefreshResponse{
		AccessToken:  res.AccessToken,
		RefreshToken: res.RefreshToken,
		ExpiresIn:    res.ExpiresIn,
	}, nil
}

// ResolveConcurrentSession applies the caller's decision to its pending session.
func (s *AuthServer) ResolveConcurrentSession(ctx context.Context, req *authv1.ResolveConcurrentSessionRequest) (*authv1.ResolveConcurrentSessionResponse, error) {
	if s.auth == nil {
		return nil, status.Error(codes.Unimplemented, "method ResolveConcurrentSession not implemented")
	}
	meta := interceptors.RequestMetaFrom(ctx)
	req.DeviceID = deviceOr(req.DeviceID, meta)
	if err := validation.Struct(req); err != nil {
		return nil, err
	}
	kept, err := s.auth.ResolveConcurrentSession(ctx, req.RefreshToken, req.DeviceID, req.Decision, requestMeta(meta))
	if err != nil {
		return nil, err
	}
	return &authv1.ResolveConcurrentSessionResponse{KeptSessionID: kept}, nil
}

// ReauthAfterLockdown re-verifies identity and reactivates a blocked session.
func (s *AuthServer) ReauthAfterLockdown(ctx context.Context, req *authv1.ReauthAfterLockdownRequest) (*authv1.LoginResponse, error) {
	if s.auth == nil {
		return nil, status.Error(codes.Unimplemented, "method ReauthAfterLockdown not implemented")
	}
	meta := interceptors.RequestMetaFrom(ctx)
	req.DeviceID = deviceOr(req.DeviceID, meta)
	if err := validation.Struct(req); err != nil {
		return nil, err
	}
	res, err := s.auth.ReauthAfterLockdown(ctx, req.Proof, req.RefreshToken, req.DeviceID, requestMeta(meta))
	if err != nil {
		return nil, err
	}
	return loginResponse(res), nil
}

// Logout revokes the session the refresh token belongs to.
func (s *AuthServer) Logout(ctx context.Context, req *authv1.LogoutRequest) (*authv1.LogoutResponse, error) {
	if s.auth == nil {
		return nil, status.Error(codes.Unimplemented, "method Logout not implemented")
	}
	req.DeviceID = deviceOr(req.DeviceID, interceptors.RequestMetaFrom(ctx))
	if err := validation.Struct(req); err != nil {
		return nil, err
	}
	if err := s.auth.Logout(ctx, req.RefreshToken, req.DeviceID); err != nil {
		return nil, err
	}
	return &authv1.LogoutResponse{}, nil
}

func deviceOr(deviceID string, meta interceptors.RequestMeta) string {
	if deviceID != "" {
		return deviceID
	}
	return meta.DeviceID
}

func requestMeta(m interceptors.RequestMeta) identityservice.RequestMeta {
	return identityservice.RequestMeta{IP: m.IP, UserAgent: m.UserAgent}
}

func loginResponse(res *identityservice.LoginResult) *authv1.LoginResponse {
	var concurrent *string
	if res.ConcurrentSessionID != "" {
		id := res.ConcurrentSessionID
		concurrent = &id
	}
	return &authv1.LoginResponse{
		AccessToken:         res.AccessToken,
		RefreshToken:        res.RefreshToken,
		ExpiresIn:           res.ExpiresIn,
		SessionID:           res.SessionID,
		SessionStatus:       string(res.SessionStatus),
		ConcurrentSessionID: concurrent,
		User: authv1.User{
			ID:         res.User.ID,
			Email:      res.User.Email,
			Name:       res.User.Name,
			Roles:      res.User.Roles,
			ActiveRole: res.User.ActiveRole,
		},
	}
}
