package server

import (
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	auditv1 "sessionguard/api/audit/v1"
	authv1 "sessionguard/api/auth/v1"
	_ "sessionguard/api/codec"
	sessionv1 "sessionguard/api/session/v1"
	"sessionguard/internal/audit"
	audithandler "sessionguard/internal/audit/handler"
	healthhandler "sessionguard/internal/health/handler"
	identityhandler "sessionguard/internal/identity/handler"
	"sessionguard/internal/metrics"
	"sessionguard/internal/server/interceptors"
	sessionhandler "sessionguard/internal/session/handler"
)

// AuthService is what the gRPC layer needs from the orchestrator: the public auth flows,
// session administration and access-token validation for the auth interceptor.
type AuthService interface {
	identityhandler.Authenticator
	sessionhandler.Manager
	interceptors.AccessValidator
}

// Deps holds the dependencies for NewServer.
type Deps struct {
	// Auth backs AuthService, SessionService and the auth interceptor. If nil, those RPCs return Unimplemented
	// and every non-public RPC is rejected.
	Auth AuthService
	// Events backs AuditService. If nil, ListSecurityEvents returns Unimplemented.
	Events audit.Reader
	// Health is registered as grpc.health.v1.Health. If nil, no health service is registered.
	Health *healthhandler.Server
	// Metrics records RPC latency by method and code. May be nil.
	Metrics *metrics.Metrics
	Log     *zap.Logger
	// ServerOptions are appended after the interceptor and stats handler options.
	ServerOptions []grpc.ServerOption
}

// ServiceNames lists the application services for health reporting.
var ServiceNames = []string{
	authv1.AuthService_ServiceName,
	sessionv1.SessionService_ServiceName,
	auditv1.AuditService_ServiceName,
}

// PublicMethods returns the full method names that skip access-token authentication.
func PublicMethods() map[string]bool {
	m := map[string]bool{
		healthpb.Health_Check_FullMethodName: true,
		healthpb.Health_Watch_FullMethodName: true,
	}
	for _, name := range authv1.PublicMethods {
		m[name] = true
	}
	return m
}

// NewServer builds the gRPC server with the interceptor chain and registers every service.
//
// Unary chain (outermost first):
//   - LoggingUnary: latency metric and access log
//   - ErrorUnary: maps service errors to gRPC status codes
//   - Pipeline: request metadata, then bearer-token authentication for non-public methods
func NewServer(deps Deps) *grpc.Server {
	log := deps.Log
	if log == nil {
		log = zap.NewNop()
	}
	var validator interceptors.AccessValidator
	if deps.Auth != nil {
		validator = deps.Auth
	}
	skipLog := map[string]bool{
		healthpb.Health_Check_FullMethodName: true,
		healthpb.Health_Watch_FullMethodName: true,
	}
	opts := []grpc.ServerOption{
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(
			interceptors.LoggingUnary(log, deps.Metrics, skipLog),
			interceptors.ErrorUnary(log),
			interceptors.Pipeline(PublicMethods(),
				interceptors.RequestMetaStep(),
				interceptors.AuthStep(validator),
			),
		),
	}
	opts = append(opts, deps.ServerOptions...)
	s := grpc.NewServer(opts...)
	RegisterServices(s, deps)
	return s
}

// RegisterServices registers the application services with the given registrar.
//
// Service → handler mapping:
//   - AuthService    → internal/identity/handler
//   - SessionService → internal/session/handler
//   - AuditService   → internal/audit/handler
//   - Health         → internal/health/handler
func RegisterServices(s grpc.ServiceRegistrar, deps Deps) {
	var (
		auth    identityhandler.Authenticator
		manager sessionhandler.Manager
	)
	if deps.Auth != nil {
		auth, manager = deps.Auth, deps.Auth
	}
	authv1.RegisterAuthServiceServer(s, identityhandler.NewAuthServer(auth))
	sessionv1.RegisterSessionServiceServer(s, sessionhandler.NewServer(manager))
	auditv1.RegisterAuditServiceServer(s, audithandler.NewServer(deps.Events))
	if deps.Health != nil {
		healthpb.RegisterHealthServer(s, deps.Health)
	}
}
