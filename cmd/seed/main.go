// seed inserts the development users (admin, auditor, member; password "password123") into DATABASE_URL.
// Idempotent: users whose email already exists are skipped.
package main

import (
	"context"
	"fmt"
	"os"

	"go.uber.org/zap"

	"sessionguard/internal/config"
	"sessionguard/internal/db"
	identityrepo "sessionguard/internal/identity/repository"
	"sessionguard/internal/logger"
	"sessionguard/internal/security"
	"sessionguard/internal/storage/seed"
	userrepo "sessionguard/internal/user/repository"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "seed:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if cfg.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is not set; create a .env from .env.example or set DATABASE_URL")
	}
	if cfg.IsProduction() {
		return fmt.Errorf("refusing to seed development users when APP_ENV=production")
	}
	log, err := logger.New(cfg.LogLevel, cfg.LogPath)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer func() { _ = log.Sync() }()

	ctx := context.Background()
	pool, err := db.Open(ctx, cfg.DatabaseURL, cfg.DBMaxConns)
	if err != nil {
		return err
	}
	defer pool.Close()

	n, err := seed.New(
		db.NewPgxTxManager(pool, cfg.LockTimeout()),
		userrepo.NewPostgresRepository(pool),
		identityrepo.NewPostgresRepository(pool),
		security.NewHasher(cfg.BcryptCost),
		log,
	).Seed(ctx, seed.DevUsers, seed.DevPassword)
	if err != nil {
		return err
	}
	if n == 0 {
		log.Info("seed already applied; nothing to do")
		return nil
	}
	log.Info("seed complete", zap.Int("users", n))
	return nil
}
