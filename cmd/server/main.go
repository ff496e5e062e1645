// server runs the sessionguard gRPC API and the admin HTTP listener (/healthz, /readyz, /metrics).
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"sessionguard/internal/anomaly"
	"sessionguard/internal/audit"
	"sessionguard/internal/blacklist"
	"sessionguard/internal/config"
	healthhandler "sessionguard/internal/health/handler"
	identityservice "sessionguard/internal/identity/service"
	"sessionguard/internal/logger"
	"sessionguard/internal/metrics"
	"sessionguard/internal/policy/engine"
	"sessionguard/internal/server"
	"sessionguard/internal/server/admin"
	telemetry "sessionguard/internal/telemetry/otel"
)

const (
	healthInterval  = 10 * time.Second
	shutdownTimeout = 15 * time.Second
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "server:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	log, err := logger.New(cfg.LogLevel, cfg.LogPath)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	providers, err := telemetry.NewProviders(ctx, telemetry.Config{
		Endpoint:    cfg.OTLPEndpoint,
		Insecure:    cfg.OTLPInsecure,
		ServiceName: "sessionguard",
		Environment: cfg.Env,
	}, log)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	providers.SetGlobal()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = providers.Shutdown(shutdownCtx)
	}()

	st, err := openStorage(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	defer st.close()
	if err := seedDevUsers(ctx, cfg, st, log); err != nil {
		return fmt.Errorf("seed: %w", err)
	}

	tokens, err := newTokenProvider(cfg, log)
	if err != nil {
		return fmt.Errorf("tokens: %w", err)
	}
	identity, err := newIdentityProvider(cfg, st)
	if err != nil {
		return fmt.Errorf("identity provider: %w", err)
	}
	bl, blCloser, err := openBlacklist(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("blacklist: %w", err)
	}
	defer func() { _ = blCloser.Close() }()
	asyncBL := blacklist.NewAsync(bl, log)
	defer asyncBL.Wait()

	resolver, geoCloser, err := openGeo(cfg, log)
	if err != nil {
		return err
	}
	defer func() { _ = geoCloser.Close() }()

	policy, err := engine.LoadOPAEvaluator(ctx, cfg.EscalationPolicyPath, log)
	if err != nil {
		return fmt.Errorf("escalation policy: %w", err)
	}

	m := metrics.New()
	events := audit.NewEventLog(st.events, log)
	escalator := anomaly.NewStrikeEscalator(events, policy,
		telemetry.NewStrikeNotifier(providers.LoggerProvider, log),
		anomaly.EscalatorConfig{Threshold: cfg.StrikeThreshold, AutoLockdown: cfg.StrikeAutoLockdown},
		log,
	)
	authSvc := identityservice.NewAuthService(identityservice.Deps{
		TxManager: st.txm,
		Sessions:  st.sessions,
		Users:     st.users,
		Events:    events,
		Tokens:    tokens,
		Identity:  identity,
		Geo:       resolver,
		Blacklist: asyncBL,
		Escalator: escalator,
		Thresholds: anomaly.Thresholds{
			MaxSpeedKmh:        cfg.AnomalyMaxSpeedKmh,
			QuickChangeMinutes: cfg.AnomalyQuickChangeMinutes,
		},
		PendingCap: cfg.PendingSessionCap,
		Metrics:    m,
		Log:        log,
	})

	health := healthhandler.NewServer(st.pinger, policy, log, server.ServiceNames...)
	go health.Run(ctx, healthInterval)

	grpcServer := server.NewServer(server.Deps{
		Auth:    authSvc,
		Events:  events,
		Health:  health,
		Metrics: m,
		Log:     log,
	})
	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	errCh := make(chan error, 2)
	go func() {
		log.Info("gRPC server listening", zap.String("addr", cfg.GRPCAddr))
		if err := grpcServer.Serve(lis); err != nil {
			errCh <- fmt.Errorf("serve gRPC: %w", err)
		}
	}()

	var adminServer *http.Server
	if cfg.AdminHTTPAddr != "" {
		adminServer = admin.NewServer(cfg.AdminHTTPAddr, admin.NewRouter(health, m.Registry, log))
		go func() {
			log.Info("admin HTTP listening", zap.String("addr", cfg.AdminHTTPAddr))
			if err := adminServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("serve admin HTTP: %w", err)
			}
		}()
	}

	var serveErr error
	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case serveErr = <-errCh:
		log.Error("server failed", zap.Error(serveErr))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if adminServer != nil {
		if err := adminServer.Shutdown(shutdownCtx); err != nil {
			log.Warn("admin HTTP shutdown", zap.Error(err))
		}
	}
	stopped := make(chan struct{})
	go func() {
		grpcServer.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-shutdownCtx.Done():
		grpcServer.Stop()
	}
	log.Info("server stopped")
	return serveErr
}
