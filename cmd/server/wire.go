package main

import (
	"context"
	"crypto"
	"errors"
	"fmt"
	"io"

	"go.uber.org/zap"

	auditrepo "sessionguard/internal/audit/repository"
	"sessionguard/internal/blacklist"
	"sessionguard/internal/config"
	"sessionguard/internal/db"
	"sessionguard/internal/geo"
	healthhandler "sessionguard/internal/health/handler"
	"sessionguard/internal/identity/provider"
	identityrepo "sessionguard/internal/identity/repository"
	"sessionguard/internal/security"
	sessionrepo "sessionguard/internal/session/repository"
	"sessionguard/internal/storage/memory"
	"sessionguard/internal/storage/seed"
	userrepo "sessionguard/internal/user/repository"
)

type noopCloser struct{}

func (noopCloser) Close() error { return nil }

// storage is the persistence layer the server runs on: Postgres, or the in-memory store for development.
type storage struct {
	txm        db.TxManager
	sessions   sessionrepo.Repository
	users      userrepo.Repository
	identities identityrepo.Repository
	events     auditrepo.Repository
	// pinger is nil for the in-memory store.
	pinger healthhandler.Pinger
	close  func()
}

func openStorage(ctx context.Context, cfg *config.Config, log *zap.Logger) (*storage, error) {
	if cfg.DatabaseURL == "" {
		log.Warn("DATABASE_URL not set; using in-memory store (data is lost on restart)")
		store := memory.NewStore(memory.WithLockTimeout(cfg.LockTimeout()))
		return &storage{
			txm:        store,
			sessions:   store.Sessions(),
			users:      store.Users(),
			identities: store.Identities(),
			events:     store.Events(),
			close:      func() {},
		}, nil
	}
	pool, err := db.Open(ctx, cfg.DatabaseURL, cfg.DBMaxConns)
	if err != nil {
		return nil, err
	}
	return &storage{
		txm:        db.NewPgxTxManager(pool, cfg.LockTimeout()),
		sessions:   sessionrepo.NewPostgresRepository(pool),
		users:      userrepo.NewPostgresRepository(pool),
		identities: identityrepo.NewPostgresRepository(pool),
		events:     auditrepo.NewPostgresRepository(pool),
		pinger:     pool,
		close:      pool.Close,
	}, nil
}

// seedDevUsers gives the in-memory store the development accounts so the local provider can log in.
func seedDevUsers(ctx context.Context, cfg *config.Config, st *storage, log *zap.Logger) error {
	if cfg.DatabaseURL != "" || cfg.IdentityProvider != config.IdentityProviderLocal || cfg.IsProduction() {
		return nil
	}
	n, err := seed.New(st.txm, st.users, st.identities, security.NewHasher(cfg.BcryptCost), log).
		Seed(ctx, seed.DevUsers, seed.DevPassword)
	if err != nil {
		return err
	}
	log.Info("seeded in-memory development users", zap.Int("count", n))
	return nil
}

func newTokenProvider(cfg *config.Config, log *zap.Logger) (*security.TokenProvider, error) {
	var (
		priv crypto.Signer
		pub  crypto.PublicKey
	)
	if cfg.JWTPrivateKey != "" && cfg.JWTPublicKey != "" {
		var err error
		if priv, err = security.ParsePrivateKey(cfg.JWTPrivateKey); err != nil {
			return nil, fmt.Errorf("JWT_PRIVATE_KEY: %w", err)
		}
		if pub, err = security.ParsePublicKey(cfg.JWTPublicKey); err != nil {
			return nil, fmt.Errorf("JWT_PUBLIC_KEY: %w", err)
		}
	} else {
		log.Warn("JWT keys not configured; generated an ephemeral ES256 key pair (tokens do not survive restart)")
		key, err := security.GenerateDevKeyPair()
		if err != nil {
			return nil, err
		}
		priv, pub = key, &key.PublicKey
	}
	return security.NewTokenProvider(priv, pub, cfg.JWTIssuer, cfg.JWTAudience, cfg.AccessTTL(), cfg.RefreshTTL())
}

func newIdentityProvider(cfg *config.Config, st *storage) (provider.IdentityProvider, error) {
	switch cfg.IdentityProvider {
	case config.IdentityProviderLocal:
		return provider.NewLocal(st.users, st.identities, security.NewHasher(cfg.BcryptCost)), nil
	case config.IdentityProviderIDToken:
		switch {
		case cfg.IDPHMACSecret != "":
			return provider.NewHMACVerifier([]byte(cfg.IDPHMACSecret), cfg.IDPIssuer, cfg.IDPAudience)
		case cfg.IDPPublicKey != "":
			pub, err := security.ParsePublicKey(cfg.IDPPublicKey)
			if err != nil {
				return nil, fmt.Errorf("IDP_PUBLIC_KEY: %w", err)
			}
			return provider.NewPublicKeyVerifier(pub, cfg.IDPIssuer, cfg.IDPAudience)
		default:
			return nil, errors.New("IDENTITY_PROVIDER=idtoken requires IDP_HMAC_SECRET or IDP_PUBLIC_KEY")
		}
	default:
		return nil, fmt.Errorf("unknown identity provider %q", cfg.IdentityProvider)
	}
}

// openBlacklist returns the refresh-token blacklist and a closer for its backing client.
func openBlacklist(ctx context.Context, cfg *config.Config, log *zap.Logger) (blacklist.Blacklist, io.Closer, error) {
	if cfg.RedisURL == "" {
		log.Info("REDIS_URL not set; using in-process refresh-token blacklist")
		return blacklist.NewMemory(), noopCloser{}, nil
	}
	client, err := blacklist.OpenRedis(ctx, cfg.RedisURL)
	if err != nil {
		return nil, nil, err
	}
	return blacklist.NewRedis(client), client, nil
}

// openGeo returns the IP geolocation resolver and a closer for its database.
func openGeo(cfg *config.Config, log *zap.Logger) (geo.Resolver, io.Closer, error) {
	if cfg.GeoIPDBPath == "" {
		log.Info("GEOIP_DB_PATH not set; impossible-travel detection is disabled")
		return geo.NoopResolver{}, noopCloser{}, nil
	}
	r, err := geo.OpenMaxMind(cfg.GeoIPDBPath)
	if err != nil {
		return nil, nil, fmt.Errorf("open geoip database: %w", err)
	}
	return r, r, nil
}
