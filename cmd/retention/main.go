// retention revokes idle sessions and purges security events older than RETENTION_DAYS.
//
//	retention once             single pass, then exit
//	retention run --interval   pass on a schedule until SIGINT/SIGTERM
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"sessionguard/internal/audit"
	auditrepo "sessionguard/internal/audit/repository"
	"sessionguard/internal/config"
	"sessionguard/internal/db"
	"sessionguard/internal/logger"
	"sessionguard/internal/retention"
	sessionrepo "sessionguard/internal/session/repository"
)

var rootCmd = &cobra.Command{
	Use:           "retention",
	Short:         "Apply the session and security-event retention policy",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var onceCmd = &cobra.Command{
	Use:   "once",
	Short: "Run a single retention pass",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withRunner(cmd.Context(), func(ctx context.Context, r *retention.Runner, log *zap.Logger) error {
			res, err := r.RunOnce(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "cutoff %s: %d sessions revoked, %d events deleted\n",
				res.Cutoff.Format(time.RFC3339), res.SessionsRevoked, res.EventsDeleted)
			return nil
		})
	},
}

var interval time.Duration

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run retention passes on a schedule",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		if interval <= 0 {
			return fmt.Errorf("--interval must be positive")
		}
		return withRunner(cmd.Context(), func(ctx context.Context, r *retention.Runner, log *zap.Logger) error {
			log.Info("retention scheduler started", zap.Duration("interval", interval))
			r.Run(ctx, interval)
			log.Info("retention scheduler stopped")
			return nil
		})
	},
}

func withRunner(parent context.Context, fn func(context.Context, *retention.Runner, *zap.Logger) error) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if cfg.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is not set")
	}
	log, err := logger.New(cfg.LogLevel, cfg.LogPath)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := db.Open(ctx, cfg.DatabaseURL, cfg.DBMaxConns)
	if err != nil {
		return err
	}
	defer pool.Close()

	now := time.Now().UTC()
	r := retention.NewRunner(
		sessionrepo.NewPostgresRepository(pool),
		audit.NewEventLog(auditrepo.NewPostgresRepository(pool), log),
		retention.Config{MaxAge: now.Sub(cfg.RetentionCutoff(now)), BatchSize: cfg.RetentionBatchSize},
		nil,
		log,
	)
	return fn(ctx, r, log)
}

func main() {
	runCmd.Flags().DurationVar(&interval, "interval", time.Hour, "time between retention passes")
	rootCmd.AddCommand(onceCmd, runCmd)
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "retention:", err)
		os.Exit(1)
	}
}
