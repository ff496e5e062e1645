package handler

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// Pinger checks database connectivity (e.g. *pgxpool.Pool).
type Pinger interface {
	Ping(ctx context.Context) error
}

// PolicyChecker checks that the escalation policy is compiled and evaluable.
type PolicyChecker interface {
	HealthCheck(ctx context.Context) error
}

// Server is the standard gRPC health service with its serving status driven by readiness checks.
// services lists the fully qualified service names whose status is kept in step with the overall one.
type Server struct {
	*health.Server
	pinger   Pinger
	policy   PolicyChecker
	services []string
	log      *zap.Logger
}

// NewServer returns a Health server. A nil pinger or policy skips that check. log may be nil.
func NewServer(pinger Pinger, policy PolicyChecker, log *zap.Logger, services ...string) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{
		Server:   health.NewServer(),
		pinger:   pinger,
		policy:   policy,
		services: services,
		log:      log.With(zap.String("component", "health")),
	}
}

// Ready runs the readiness checks and returns the first failure.
func (s *Server) Ready(ctx context.Context) error {
	if s.pinger != nil {
		if err := s.pinger.Ping(ctx); err != nil {
			return fmt.Errorf("database: %w", err)
		}
	}
	if s.policy != nil {
		if err := s.policy.HealthCheck(ctx); err != nil {
			return fmt.Errorf("policy: %w", err)
		}
	}
	return nil
}

// Refresh runs Ready and publishes the result as the serving status. It never returns an error;
// a failing check reports NOT_SERVING.
func (s *Server) Refresh(ctx context.Context) healthpb.HealthCheckResponse_ServingStatus {
	st := healthpb.HealthCheckResponse_SERVING
	if err := s.Ready(ctx); err != nil {
		s.log.Warn("readiness check failed", zap.Error(err))
		st = healthpb.HealthCheckResponse_NOT_SERVING
	}
	s.SetServingStatus("", st)
	for _, svc := range s.services {
		s.SetServingStatus(svc, st)
	}
	return st
}

// Run refreshes the serving status every interval until ctx is done, then marks everything NOT_SERVING.
func (s *Server) Run(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		checkCtx, cancel := context.WithTimeout(ctx, interval)
		s.Refresh(checkCtx)
		cancel()
		select {
		case <-ctx.Done():
			s.Shutdown()
			return
		case <-t.C:
		}
	}
}
