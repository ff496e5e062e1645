package service

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	auditdomain "sessionguard/internal/audit/domain"
	"sessionguard/internal/platform/apperr"
	"sessionguard/internal/security"
	sessiondomain "sessionguard/internal/session/domain"
	sessionservice "sessionguard/internal/session/service"
	userdomain "sessionguard/internal/user/domain"
)

// Refresh rotates the refresh token of an ACTIVE session and issues an access token bound to the
// same session id. The presented token is single-use: after success its hash no longer matches the
// session and it is blacklisted.
func (s *AuthService) Refresh(ctx context.Context, refreshToken, deviceID string) (res *RefreshResult, err error) {
	ctx, span := s.tracer.Start(ctx, "AuthService.Refresh")
	defer func() { endSpan(span, err) }()
	defer func() {
		if err != nil {
			s.metrics.Refresh("rejected")
		} else {
			s.metrics.Refresh("ok")
		}
	}()

	v, err := s.validator.ValidateRefresh(ctx, refreshToken, deviceID, sessiondomain.StatusActive)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("session.id", v.Session.ID))
	user, err := s.activeUser(ctx, v.Session.UserID)
	if err != nil {
		return nil, err
	}
	next, err := s.tokens.IssueRefresh(user.ID, deviceID)
	if err != nil {
		return nil, fmt.Errorf("issue refresh token: %w", err)
	}
	var access security.IssuedToken
	err = s.txm.WithinTx(ctx, func(ctx context.Context) error {
		if _, err := s.lockCurrent(ctx, v, sessiondomain.StatusActive); err != nil {
			return err
		}
		if err := s.sessions.RotateRefreshToken(ctx, v.Session.ID, security.HashRefreshToken(next.Token), next.ExpiresAt); err != nil {
			return err
		}
		if err := s.sessions.Touch(ctx, v.Session.ID, s.now()); err != nil {
			return err
		}
		access, err = s.issueAccess(user, v.Session.ID)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.blacklist.Add(v.Hash, v.Session.ExpiresAt)
	return &RefreshResult{AccessToken: access.Token, RefreshToken: next.Token, ExpiresIn: s.expiresIn()}, nil
}

// ResolveConcurrentSession applies decision ("KEEP_NEW" or "KEEP_EXISTING") to the pending session
// identified by refreshToken. It returns the id of the session left ACTIVE, or "" when the existing
// session was kept.
func (s *AuthService) ResolveConcurrentSession(ctx context.Context, refreshToken, deviceID, decision string, meta RequestMeta) (kept string, err error) {
	ctx, span := s.tracer.Start(ctx, "AuthService.ResolveConcurrentSession")
	defer func() { endSpan(span, err) }()

	d, err := sessionservice.ParseDecision(decision)
	if err != nil {
		return "", err
	}
	v, err := s.validator.ValidateRefresh(ctx, refreshToken, deviceID, sessiondomain.LiveStatuses...)
	if err != nil {
		return "", err
	}
	loc := sessionservice.LocationContext{IP: meta.IP}
	if l := s.locate(ctx, meta.IP); l != nil {
		loc.City, loc.Country = l.City, l.Country
	}
	kept, err = s.resolver.Resolve(ctx, v.Session.UserID, deviceID, v.Hash, d, loc)
	if err != nil {
		return "", err
	}
	s.metrics.Resolution(string(d))
	return kept, nil
}

// ReauthAfterLockdown re-verifies the user's identity and reactivates the BLOCKED_PENDING_REAUTH session
// that refreshToken belongs to, rotating its refresh token. Any other ACTIVE session of the user is
// displaced so the one-ACTIVE rule holds.
func (s *AuthService) ReauthAfterLockdown(ctx context.Context, proof, refreshToken, deviceID string, meta RequestMeta) (res *LoginResult, err error) {
	ctx, span := s.tracer.Start(ctx, "AuthService.ReauthAfterLockdown")
	defer func() { endSpan(span, err) }()

	user, err := s.authenticate(ctx, proof)
	if err != nil {
		return nil, err
	}
	v, err := s.validator.ValidateRefresh(ctx, refreshToken, deviceID, sessiondomain.StatusBlockedPendingReauth)
	if err != nil {
		return nil, err
	}
	if v.Session.UserID != user.ID {
		return nil, apperr.Unauthorized("identity does not own the blocked session")
	}
	next, err := s.tokens.IssueRefresh(user.ID, deviceID)
	if err != nil {
		return nil, fmt.Errorf("issue refresh token: %w", err)
	}
	var (
		access  security.IssuedToken
		revoked []*sessiondomain.Session
	)
	err = s.txm.WithinTx(ctx, func(ctx context.Context) error {
		revoked = nil
		if _, err := s.lockCurrent(ctx, v, sessiondomain.StatusBlockedPendingReauth); err != nil {
			return err
		}
		other, err := s.sessions.FindOtherActiveSession(ctx, user.ID, deviceID)
		if err != nil {
			return err
		}
		if other != nil {
			if err := s.sessions.UpdateStatus(ctx, other.ID, sessiondomain.StatusRevoked, sessiondomain.ReasonDisplaced); err != nil {
				return err
			}
			revoked = append(revoked, other)
		}
		if err := s.sessions.UpdateStatus(ctx, v.Session.ID, sessiondomain.StatusActive, ""); err != nil {
			return err
		}
		if err := s.sessions.RotateRefreshToken(ctx, v.Session.ID, security.HashRefreshToken(next.Token), next.ExpiresAt); err != nil {
			return err
		}
		if err := s.sessions.Touch(ctx, v.Session.ID, s.now()); err != nil {
			return err
		}
		fields := map[string]any{
			"session_id": v.Session.ID,
			"device_id":  deviceID,
			"ip_address": meta.IP,
		}
		if other != nil {
			fields["displaced_session_id"] = other.ID
		}
		if err := s.events.Record(ctx, user.ID, auditdomain.ReauthSuccess, fields); err != nil {
			return err
		}
		access, err = s.issueAccess(user, v.Session.ID)
		return err
	})
	if err != nil {
		return nil, err
	}
	revoked = append(revoked, &sessiondomain.Session{RefreshTokenHash: v.Hash, ExpiresAt: v.Session.ExpiresAt})
	s.blacklistAll(revoked)
	s.metrics.Revoked(sessiondomain.ReasonDisplaced, len(revoked)-1)
	s.log.Info("reauthenticated after lockdown", zap.String("user_id", user.ID), zap.String("session_id", v.Session.ID))
	return &LoginResult{
		AccessToken:   access.Token,
		RefreshToken:  next.Token,
		ExpiresIn:     s.expiresIn(),
		SessionID:     v.Session.ID,
		SessionStatus: sessiondomain.StatusActive,
		User:          userInfo(user),
	}, nil
}

// Logout revokes the live session refreshToken belongs to and blacklists the token.
func (s *AuthService) Logout(ctx context.Context, refreshToken, deviceID string) (err error) {
	ctx, span := s.tracer.Start(ctx, "AuthService.Logout")
	defer func() { endSpan(span, err) }()

	v, err := s.validator.ValidateRefresh(ctx, refreshToken, deviceID, sessiondomain.LiveStatuses...)
	if err != nil {
		return err
	}
	err = s.txm.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.sessions.LockUser(ctx, v.Session.UserID); err != nil {
			return err
		}
		if err := s.sessions.UpdateStatus(ctx, v.Session.ID, sessiondomain.StatusRevoked, sessiondomain.ReasonLogout); err != nil {
			if errors.Is(err, apperr.ErrConflict) {
				return apperr.Unauthorized("session already revoked")
			}
			return err
		}
		return s.events.Record(ctx, v.Session.UserID, auditdomain.SessionRevoked, map[string]any{
			"session_id": v.Session.ID,
			"device_id":  deviceID,
			"reason":     sessiondomain.ReasonLogout,
		})
	})
	if err != nil {
		return err
	}
	s.blacklist.Add(v.Hash, v.Session.ExpiresAt)
	s.metrics.Revoked(sessiondomain.ReasonLogout, 1)
	return nil
}

// BanUser disables the user, revokes every live session and blacklists their refresh tokens.
// It returns the number of sessions revoked. Banning an unknown user is apperr.ErrNotFound.
func (s *AuthService) BanUser(ctx context.Context, userID, actorID string) (n int, err error) {
	ctx, span := s.tracer.Start(ctx, "AuthService.BanUser")
	defer func() { endSpan(span, err) }()

	var revoked []*sessiondomain.Session
	err = s.txm.WithinTx(ctx, func(ctx context.Context) error {
		revoked = nil
		user, err := s.users.GetByID(ctx, userID)
		if err != nil {
			return err
		}
		if user == nil {
			return fmt.Errorf("user %s: %w", userID, apperr.ErrNotFound)
		}
		if err := s.sessions.LockUser(ctx, userID); err != nil {
			return err
		}
		if err := s.users.SetStatus(ctx, userID, userdomain.UserStatusDisabled); err != nil {
			return err
		}
		live, err := s.sessions.ListLiveByUser(ctx, userID)
		if err != nil {
			return err
		}
		for _, sess := range live {
			if err := s.sessions.UpdateStatus(ctx, sess.ID, sessiondomain.StatusRevoked, sessiondomain.ReasonBanned); err != nil {
				return err
			}
			revoked = append(revoked, sess)
		}
		return s.events.Record(ctx, userID, auditdomain.UserBanned, map[string]any{
			"revoked_sessions": len(revoked),
			"actor_id":         actorID,
		})
	})
	if err != nil {
		return 0, err
	}
	s.blacklistAll(revoked)
	s.metrics.Revoked(sessiondomain.ReasonBanned, len(revoked))
	s.log.Warn("user banned", zap.String("user_id", userID), zap.String("actor_id", actorID), zap.Int("revoked", len(revoked)))
	return len(revoked), nil
}

// ValidateAccess verifies an access token and checks the authoritative store: the session must
// still be ACTIVE, unexpired and owned by the token subject.
func (s *AuthService) ValidateAccess(ctx context.Context, accessToken string) (*security.AccessClaims, error) {
	claims, err := s.tokens.ValidateAccess(accessToken)
	if err != nil {
		return nil, apperr.Unauthorized("access token: " + err.Error())
	}
	sess, err := s.sessions.FindByID(ctx, claims.SessionID)
	if err != nil {
		return nil, err
	}
	if sess == nil || sess.UserID != claims.Subject {
		return nil, apperr.Unauthorized("no session for access token")
	}
	if sess.Status != sessiondomain.StatusActive {
		return nil, apperr.Unauthorized("session status " + string(sess.Status))
	}
	if sess.Expired(s.now()) {
		return nil, apperr.Unauthorized("session expired")
	}
	return claims, nil
}

// ListSessions returns the user's live sessions, newest first.
func (s *AuthService) ListSessions(ctx context.Context, userID string) ([]*sessiondomain.Session, error) {
	return s.sessions.ListLiveByUser(ctx, userID)
}

// lockCurrent takes the user lock, re-reads the validated session under a row lock and checks it has
// not changed status or rotated since validation.
func (s *AuthService) lockCurrent(ctx context.Context, v *sessionservice.Validated, want sessiondomain.Status) (*sessiondomain.Session, error) {
	if err := s.sessions.LockUser(ctx, v.Session.UserID); err != nil {
		return nil, err
	}
	cur, err := s.sessions.FindByIDForUpdate(ctx, v.Session.ID)
	if err != nil {
		return nil, err
	}
	if cur == nil || cur.Status != want {
		return nil, apperr.Unauthorized("session changed during request")
	}
	if !security.HashEqual(cur.RefreshTokenHash, v.Hash) {
		return nil, apperr.Unauthorized("refresh token already rotated")
	}
	return cur, nil
}

func (s *AuthService) activeUser(ctx context.Context, userID string) (*userdomain.User, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !user.IsActive() {
		return nil, apperr.Unauthorized("user missing or disabled")
	}
	return user, nil
}
