// Package service holds the session rules that span several store calls: refresh-token
// validation and concurrent-session conflict resolution.
package service

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"sessionguard/internal/blacklist"
	"sessionguard/internal/db"
	"sessionguard/internal/platform/apperr"
	"sessionguard/internal/security"
	"sessionguard/internal/session/domain"
	sessionrepo "sessionguard/internal/session/repository"
)

// RefreshVerifier checks a refresh token's signature and claims. A correctly signed token that is
// only past its exp yields its claims together with security.ErrTokenExpired.
type RefreshVerifier interface {
	ValidateRefresh(token string) (*security.RefreshClaims, error)
}

// Validated is a refresh token that passed every check, with the session it belongs to.
type Validated struct {
	Session *domain.Session
	Claims  *security.RefreshClaims
	Hash    string
}

// Validator checks a refresh token against its signature, the blacklist and the session store.
type Validator struct {
	txm       db.TxManager
	sessions  sessionrepo.Repository
	tokens    RefreshVerifier
	blacklist *blacklist.Async
	now       func() time.Time
	log       *zap.Logger
}

// NewValidator returns a Validator. bl may be nil.
func NewValidator(txm db.TxManager, sessions sessionrepo.Repository, tokens RefreshVerifier, bl *blacklist.Async, log *zap.Logger) *Validator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Validator{
		txm:       txm,
		sessions:  sessions,
		tokens:    tokens,
		blacklist: bl,
		now:       func() time.Time { return time.Now().UTC() },
		log:       log.With(zap.String("component", "session_validator")),
	}
}

// WithClock overrides the clock used for session expiry. Intended for tests.
func (v *Validator) WithClock(now func() time.Time) *Validator {
	v.now = now
	return v
}

// ValidateRefresh runs the checks in order: signature, blacklist, session lookup by hash,
// subject, device, status in allowed, expiry. Every failure wraps apperr.ErrUnauthorized.
// A session whose refresh token or expiresAt has passed is revoked in its own transaction
// before the error is returned; no other failure changes state.
func (v *Validator) ValidateRefresh(ctx context.Context, token, deviceID string, allowed ...domain.Status) (*Validated, error) {
	if token == "" || deviceID == "" {
		return nil, apperr.Unauthorized("missing refresh token or device id")
	}
	claims, err := v.tokens.ValidateRefresh(token)
	tokenExpired := errors.Is(err, security.ErrTokenExpired) && claims != nil
	if err != nil && !tokenExpired {
		return nil, apperr.Unauthorized("refresh token: " + err.Error())
	}
	hash := security.HashRefreshToken(token)
	if v.blacklist.Contains(ctx, hash) {
		return nil, apperr.Unauthorized("refresh token blacklisted")
	}
	sess, err := v.sessions.FindByRefreshTokenHash(ctx, hash)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, apperr.Unauthorized("no session for refresh token")
	}
	if sess.UserID != claims.Subject {
		return nil, apperr.Unauthorized("session user does not match token subject")
	}
	if claims.DeviceID != deviceID || sess.DeviceID != deviceID {
		return nil, apperr.Unauthorized("device mismatch")
	}
	if !statusIn(sess.Status, allowed) {
		return nil, apperr.Unauthorized("session status " + string(sess.Status))
	}
	if tokenExpired || sess.Expired(v.now()) {
		v.expire(ctx, sess)
		return nil, apperr.Unauthorized("session expired")
	}
	return &Validated{Session: sess, Claims: claims, Hash: hash}, nil
}

func (v *Validator) expire(ctx context.Context, sess *domain.Session) {
	err := v.txm.WithinTx(ctx, func(ctx context.Context) error {
		return v.sessions.UpdateStatus(ctx, sess.ID, domain.StatusRevoked, domain.ReasonExpired)
	})
	switch {
	case err == nil:
		v.log.Info("session expired", zap.String("session_id", sess.ID), zap.String("user_id", sess.UserID))
	case errors.Is(err, apperr.ErrConflict):
		// Revoked concurrently.
	default:
		v.log.Warn("revoke expired session failed", zap.String("session_id", sess.ID), zap.Error(err))
	}
}

func statusIn(s domain.Status, allowed []domain.Status) bool {
	for _, a := range allowed {
		if s == a {
			return true
		}
	}
	return false
}
