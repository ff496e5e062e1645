// Package config loads and validates app config from env and an optional .env file using Viper.
package config

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Identity provider kinds accepted by IDENTITY_PROVIDER.
const (
	IdentityProviderIDToken = "idtoken"
	IdentityProviderLocal   = "local"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	// GRPCAddr is the address the gRPC server listens on (e.g. :8080).
	GRPCAddr string `mapstructure:"GRPC_ADDR"`
	// AdminHTTPAddr serves /healthz, /readyz and /metrics. Empty disables the admin listener.
	AdminHTTPAddr string `mapstructure:"ADMIN_HTTP_ADDR"`
	// Env is the application environment (e.g. "development", "production").
	Env string `mapstructure:"APP_ENV"`

	// DatabaseURL is the Postgres DSN. When empty the server runs on the in-memory store (development only).
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	// DBMaxConns caps the pgx pool size.
	DBMaxConns int32 `mapstructure:"DB_MAX_CONNS"`
	// DBLockTimeout bounds how long a transaction waits for a row or user lock (e.g. "3s").
	DBLockTimeout string `mapstructure:"DB_LOCK_TIMEOUT"`
	// RedisURL is the Redis URL for the refresh-token blacklist (e.g. redis://localhost:6379/0).
	// When empty an in-process blacklist is used.
	RedisURL string `mapstructure:"REDIS_URL"`

	// JWTPrivateKey is the PEM-encoded private key (RSA or ECDSA) or path to file; used with JWT_PUBLIC_KEY for RS256/ES256.
	JWTPrivateKey string `mapstructure:"JWT_PRIVATE_KEY"`
	// JWTPublicKey is the PEM-encoded public key or path to file; used with JWT_PRIVATE_KEY.
	JWTPublicKey string `mapstructure:"JWT_PUBLIC_KEY"`
	// JWTIssuer is the iss claim (e.g. "sessionguard").
	JWTIssuer string `mapstructure:"JWT_ISSUER"`
	// JWTAudience is the aud claim (e.g. "sessionguard-api").
	JWTAudience string `mapstructure:"JWT_AUDIENCE"`
	// JWTAccessTTL is the access token lifetime (e.g. "15m").
	JWTAccessTTL string `mapstructure:"JWT_ACCESS_TTL"`
	// JWTRefreshTTL is the refresh token lifetime (e.g. "168h").
	JWTRefreshTTL string `mapstructure:"JWT_REFRESH_TTL"`

	// IdentityProvider selects how credential proofs are verified: "idtoken" or "local".
	IdentityProvider string `mapstructure:"IDENTITY_PROVIDER"`
	// IDPIssuer is the expected iss of identity-provider ID tokens.
	IDPIssuer string `mapstructure:"IDP_ISSUER"`
	// IDPAudience is the expected aud of identity-provider ID tokens; empty skips the check.
	IDPAudience string `mapstructure:"IDP_AUDIENCE"`
	// IDPHMACSecret verifies HS256 ID tokens. Mutually exclusive with IDPPublicKey.
	IDPHMACSecret string `mapstructure:"IDP_HMAC_SECRET"`
	// IDPPublicKey is the PEM public key (inline or path) verifying RS256/ES256 ID tokens.
	IDPPublicKey string `mapstructure:"IDP_PUBLIC_KEY"`
	// BcryptCost is the bcrypt cost factor (4–31); default 12. Used by the local identity provider.
	BcryptCost int `mapstructure:"BCRYPT_COST"`

	// GeoIPDBPath is the path to a MaxMind GeoLite2/GeoIP2 City database. Empty disables geo resolution.
	GeoIPDBPath string `mapstructure:"GEOIP_DB_PATH"`
	// AnomalyMaxSpeedKmh is the travel speed above which a login is IMPOSSIBLE_TRAVEL.
	AnomalyMaxSpeedKmh float64 `mapstructure:"ANOMALY_MAX_SPEED_KMH"`
	// AnomalyQuickChangeMinutes is the window in which a device change is NEW_DEVICE_QUICK_CHANGE.
	AnomalyQuickChangeMinutes float64 `mapstructure:"ANOMALY_QUICK_CHANGE_MINUTES"`
	// StrikeThreshold is the number of anomalous logins that triggers escalation.
	StrikeThreshold int `mapstructure:"STRIKE_THRESHOLD"`
	// StrikeAutoLockdown blocks the offending session pending re-authentication once the threshold is reached.
	StrikeAutoLockdown bool `mapstructure:"STRIKE_AUTO_LOCKDOWN"`
	// EscalationPolicyPath optionally points at a Rego module replacing the default escalation policy.
	EscalationPolicyPath string `mapstructure:"ESCALATION_POLICY_PATH"`
	// PendingSessionCap bounds simultaneously pending sessions per user; older ones are revoked.
	PendingSessionCap int `mapstructure:"PENDING_SESSION_CAP"`

	// RetentionDays is how long security events and idle sessions are kept.
	RetentionDays int `mapstructure:"RETENTION_DAYS"`
	// RetentionBatchSize bounds rows deleted per statement by the retention job.
	RetentionBatchSize int `mapstructure:"RETENTION_BATCH_SIZE"`

	// LogLevel is the zap level (debug, info, warn, error).
	LogLevel string `mapstructure:"LOG_LEVEL"`
	// LogPath is a directory for the rotating log file; empty logs to stdout only.
	LogPath string `mapstructure:"LOG_PATH"`

	// OTLPEndpoint is the OpenTelemetry collector endpoint; empty disables export.
	OTLPEndpoint string `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	// OTLPInsecure forces a plaintext OTLP connection.
	OTLPInsecure bool `mapstructure:"OTEL_EXPORTER_OTLP_INSECURE"`
}

// Load reads .env (if present), then builds and validates Config from the environment via Viper.
// Missing .env is ignored (e.g. in CI). Env vars override .env. Returns an error if required fields are invalid.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // ignore ErrConfigFileNotFound

	v.AutomaticEnv()

	v.SetDefault("GRPC_ADDR", ":8080")
	v.SetDefault("ADMIN_HTTP_ADDR", ":9090")
	v.SetDefault("APP_ENV", "")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("DB_MAX_CONNS", 10)
	v.SetDefault("DB_LOCK_TIMEOUT", "3s")
	v.SetDefault("REDIS_URL", "")
	v.SetDefault("JWT_PRIVATE_KEY", "")
	v.SetDefault("JWT_PUBLIC_KEY", "")
	v.SetDefault("JWT_ISSUER", "sessionguard")
	v.SetDefault("JWT_AUDIENCE", "sessionguard-api")
	v.SetDefault("JWT_ACCESS_TTL", "15m")
	v.SetDefault("JWT_REFRESH_TTL", "168h") // 7d
	v.SetDefault("IDENTITY_PROVIDER", IdentityProviderIDToken)
	v.SetDefault("IDP_ISSUER", "")
	v.SetDefault("IDP_AUDIENCE", "")
	v.SetDefault("IDP_HMAC_SECRET", "")
	v.SetDefault("IDP_PUBLIC_KEY", "")
	v.SetDefault("BCRYPT_COST", 12)
	v.SetDefault("GEOIP_DB_PATH", "")
	v.SetDefault("ANOMALY_MAX_SPEED_KMH", 900.0)
	v.SetDefault("ANOMALY_QUICK_CHANGE_MINUTES", 5.0)
	v.SetDefault("STRIKE_THRESHOLD", 3)
	v.SetDefault("STRIKE_AUTO_LOCKDOWN", false)
	v.SetDefault("ESCALATION_POLICY_PATH", "")
	v.SetDefault("PENDING_SESSION_CAP", 3)
	v.SetDefault("RETENTION_DAYS", 90)
	v.SetDefault("RETENTION_BATCH_SIZE", 1000)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_PATH", "")
	v.SetDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	v.SetDefault("OTEL_EXPORTER_OTLP_INSECURE", false)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if cfg.GRPCAddr == "" {
		return nil, errors.New("config: GRPC_ADDR must be set")
	}
	if cfg.BcryptCost == 0 {
		cfg.BcryptCost = 12
	}
	if cfg.BcryptCost < 4 || cfg.BcryptCost > 31 {
		return nil, errors.New("config: BCRYPT_COST must be between 4 and 31")
	}
	cfg.IdentityProvider = strings.ToLower(strings.TrimSpace(cfg.IdentityProvider))
	switch cfg.IdentityProvider {
	case IdentityProviderIDToken, IdentityProviderLocal:
	default:
		return nil, errors.New("config: IDENTITY_PROVIDER must be idtoken or local")
	}
	if cfg.IdentityProvider == IdentityProviderIDToken && cfg.IDPHMACSecret != "" && cfg.IDPPublicKey != "" {
		return nil, errors.New("config: set only one of IDP_HMAC_SECRET and IDP_PUBLIC_KEY")
	}
	if cfg.StrikeThreshold < 1 {
		return nil, errors.New("config: STRIKE_THRESHOLD must be at least 1")
	}
	if cfg.PendingSessionCap < 1 {
		return nil, errors.New("config: PENDING_SESSION_CAP must be at least 1")
	}
	if cfg.AnomalyMaxSpeedKmh <= 0 {
		return nil, errors.New("config: ANOMALY_MAX_SPEED_KMH must be positive")
	}
	if cfg.AnomalyQuickChangeMinutes < 0 {
		return nil, errors.New("config: ANOMALY_QUICK_CHANGE_MINUTES must not be negative")
	}
	if cfg.RetentionBatchSize <= 0 {
		cfg.RetentionBatchSize = 1000
	}
	if cfg.IsProduction() {
		if cfg.DatabaseURL == "" {
			return nil, errors.New("config: DATABASE_URL is required when APP_ENV=production")
		}
		if cfg.JWTPrivateKey == "" || cfg.JWTPublicKey == "" {
			return nil, errors.New("config: JWT_PRIVATE_KEY and JWT_PUBLIC_KEY are required when APP_ENV=production")
		}
	}

	return &cfg, nil
}

// IsProduction reports whether APP_ENV is production.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(strings.TrimSpace(c.Env), "production")
}

// AccessTTL parses JWTAccessTTL as a time.Duration. Returns 15m if unset or invalid.
func (c *Config) AccessTTL() time.Duration {
	return parseDuration(c.JWTAccessTTL, 15*time.Minute)
}

// RefreshTTL parses JWTRefreshTTL as a time.Duration. Returns 168h if unset or invalid.
func (c *Config) RefreshTTL() time.Duration {
	return parseDuration(c.JWTRefreshTTL, 168*time.Hour)
}

// LockTimeout parses DBLockTimeout. Returns 3s if unset or invalid.
func (c *Config) LockTimeout() time.Duration {
	return parseDuration(c.DBLockTimeout, 3*time.Second)
}

// RetentionCutoff returns the instant before which retained rows are eligible for cleanup.
func (c *Config) RetentionCutoff(now time.Time) time.Time {
	days := c.RetentionDays
	if days <= 0 {
		days = 90
	}
	return now.Add(-time.Duration(days) * 24 * time.Hour)
}

func parseDuration(s string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return def
	}
	return d
}
