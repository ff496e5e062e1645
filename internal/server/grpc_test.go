package server

import (
	"context"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	auditv1 "sessionguard/api/audit/v1"
	authv1 "sessionguard/api/auth/v1"
	sessionv1 "sessionguard/api/session/v1"
	"sessionguard/internal/audit"
	healthhandler "sessionguard/internal/health/handler"
	identitydomain "sessionguard/internal/identity/domain"
	"sessionguard/internal/identity/provider"
	identityservice "sessionguard/internal/identity/service"
	"sessionguard/internal/metrics"
	"sessionguard/internal/security"
	"sessionguard/internal/storage/memory"
	userdomain "sessionguard/internal/user/domain"
)

// mockServiceRegistrar implements grpc.ServiceRegistrar for testing.
type mockServiceRegistrar struct {
	services []string
}

func (m *mockServiceRegistrar) RegisterService(desc *grpc.ServiceDesc, _ interface{}) {
	m.services = append(m.services, desc.ServiceName)
}

func TestRegisterServices_NilDependencies(t *testing.T) {
	reg := &mockServiceRegistrar{}
	RegisterServices(reg, Deps{})
	assert.Equal(t, ServiceNames, reg.services)
}

func TestRegisterServices_WithHealth(t *testing.T) {
	reg := &mockServiceRegistrar{}
	RegisterServices(reg, Deps{Health: healthhandler.NewServer(nil, nil, nil)})
	assert.Contains(t, reg.services, "grpc.health.v1.Health")
	assert.Len(t, reg.services, len(ServiceNames)+1)
}

func TestPublicMethods(t *testing.T) {
	public := PublicMethods()
	for _, m := range authv1.PublicMethods {
		assert.True(t, public[m], m)
	}
	assert.True(t, public[healthpb.Health_Check_FullMethodName])
	assert.False(t, public[sessionv1.SessionService_ListSessions_FullMethodName])
	assert.False(t, public[auditv1.AuditService_ListSecurityEvents_FullMethodName])
}

type e2e struct {
	auth    authv1.AuthServiceClient
	session sessionv1.SessionServiceClient
	audit   auditv1.AuditServiceClient
	health  healthpb.HealthClient
}

func startServer(t *testing.T) *e2e {
	t.Helper()
	ctx := context.Background()
	store := memory.NewStore()
	require.NoError(t, store.Users().Create(ctx, &userdomain.User{ID: "u1", Email: "alice@example.com", Name: "Alice", Roles: []string{"student"}}))
	hasher := security.NewHasher(4)
	hash, err := hasher.Hash([]byte("correct horse"))
	require.NoError(t, err)
	require.NoError(t, store.Identities().Create(ctx, &identitydomain.Identity{
		ID: "i1", UserID: "u1", Provider: identitydomain.IdentityProviderLocal, ProviderID: "alice@example.com", PasswordHash: hash,
	}))
	tokens, err := security.NewTestTokenProvider()
	require.NoError(t, err)
	events := audit.NewEventLog(store.Events(), nil)
	m := metrics.New()
	svc := identityservice.NewAuthService(identityservice.Deps{
		TxManager: store,
		Sessions:  store.Sessions(),
		Users:     store.Users(),
		Events:    events,
		Tokens:    tokens,
		Identity:  provider.NewLocal(store.Users(), store.Identities(), hasher),
		Metrics:   m,
	})
	health := healthhandler.NewServer(nil, nil, nil, ServiceNames...)
	health.Refresh(ctx)

	srv := NewServer(Deps{Auth: svc, Events: events, Health: health, Metrics: m})
	lis := bufconn.Listen(1 << 20)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return &e2e{
		auth:    authv1.NewAuthServiceClient(conn),
		session: sessionv1.NewSessionServiceClient(conn),
		audit:   auditv1.NewAuditServiceClient(conn),
		health:  healthpb.NewHealthClient(conn),
	}
}

func bearer(token string) context.Context {
	return metadata.AppendToOutgoingContext(context.Background(), "authorization", "Bearer "+token)
}

func TestServer_EndToEnd(t *testing.T) {
	c := startServer(t)
	ctx := context.Background()

	login, err := c.auth.Login(ctx, &authv1.LoginRequest{
		Proof:    provider.EncodePasswordProof("alice@example.com", "correct horse"),
		DeviceID: "laptop",
	})
	require.NoError(t, err)
	assert.Equal(t, "ACTIVE", login.SessionStatus)
	assert.Equal(t, "u1", login.User.ID)
	require.NotEmpty(t, login.AccessToken)

	list, err := c.session.ListSessions(bearer(login.AccessToken), &sessionv1.ListSessionsRequest{})
	require.NoError(t, err)
	require.Len(t, list.Sessions, 1)
	assert.Equal(t, login.SessionID, list.Sessions[0].ID)
	assert.True(t, list.Sessions[0].Current)

	refreshed, err := c.auth.Refresh(ctx, &authv1.RefreshRequest{RefreshToken: login.RefreshToken, DeviceID: "laptop"})
	require.NoError(t, err)
	assert.NotEqual(t, login.RefreshToken, refreshed.RefreshToken)

	_, err = c.auth.Refresh(ctx, &authv1.RefreshRequest{RefreshToken: login.RefreshToken, DeviceID: "laptop"})
	assert.Equal(t, codes.Unauthenticated, status.Code(err), "rotated refresh token must not be reusable")

	_, err = c.auth.Logout(ctx, &authv1.LogoutRequest{RefreshToken: refreshed.RefreshToken, DeviceID: "laptop"})
	require.NoError(t, err)

	_, err = c.session.ListSessions(bearer(refreshed.AccessToken), &sessionv1.ListSessionsRequest{})
	assert.Equal(t, codes.Unauthenticated, status.Code(err), "access token of a revoked session")
}

func TestServer_Rejections(t *testing.T) {
	c := startServer(t)
	ctx := context.Background()

	_, err := c.auth.Login(ctx, &authv1.LoginRequest{
		Proof:    provider.EncodePasswordProof("alice@example.com", "wrong"),
		DeviceID: "laptop",
	})
	st, _ := status.FromError(err)
	assert.Equal(t, codes.Unauthenticated, st.Code())
	assert.Equal(t, "unauthorized", st.Message())

	_, err = c.auth.Login(ctx, &authv1.LoginRequest{Proof: "x"})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	_, err = c.session.ListSessions(ctx, &sessionv1.ListSessionsRequest{})
	assert.Equal(t, codes.Unauthenticated, status.Code(err))

	login, err := c.auth.Login(ctx, &authv1.LoginRequest{
		Proof:    provider.EncodePasswordProof("alice@example.com", "correct horse"),
		DeviceID: "laptop",
	})
	require.NoError(t, err)
	_, err = c.session.BanUser(bearer(login.AccessToken), &sessionv1.BanUserRequest{UserID: "u2"})
	assert.Equal(t, codes.PermissionDenied, status.Code(err))
	_, err = c.audit.ListSecurityEvents(bearer(login.AccessToken), &auditv1.ListSecurityEventsRequest{})
	assert.Equal(t, codes.PermissionDenied, status.Code(err))
}

func TestServer_DeviceIDFromMetadata(t *testing.T) {
	c := startServer(t)
	ctx := metadata.AppendToOutgoingContext(context.Background(), "x-device-id", "phone")
	login, err := c.auth.Login(ctx, &authv1.LoginRequest{Proof: provider.EncodePasswordProof("alice@example.com", "correct horse")})
	require.NoError(t, err)

	list, err := c.session.ListSessions(bearer(login.AccessToken), &sessionv1.ListSessionsRequest{})
	require.NoError(t, err)
	require.Len(t, list.Sessions, 1)
	assert.Equal(t, "phone", list.Sessions[0].DeviceID)
}

func TestServer_Health(t *testing.T) {
	c := startServer(t)
	resp, err := c.health.Check(context.Background(), &healthpb.HealthCheckRequest{Service: authv1.AuthService_ServiceName})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.GetStatus())
}
