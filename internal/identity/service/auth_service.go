// Package service is the session-security orchestrator: login, refresh, concurrent-session
// resolution, re-authentication after lockdown, logout and ban.
package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"sessionguard/internal/anomaly"
	"sessionguard/internal/audit"
	auditdomain "sessionguard/internal/audit/domain"
	"sessionguard/internal/blacklist"
	"sessionguard/internal/db"
	"sessionguard/internal/geo"
	"sessionguard/internal/identity/provider"
	"sessionguard/internal/metrics"
	"sessionguard/internal/platform/apperr"
	"sessionguard/internal/security"
	sessiondomain "sessionguard/internal/session/domain"
	sessionrepo "sessionguard/internal/session/repository"
	sessionservice "sessionguard/internal/session/service"
	userdomain "sessionguard/internal/user/domain"
	userrepo "sessionguard/internal/user/repository"
)

const tracerName = "sessionguard/identity"

// RequestMeta is what the transport knows about the caller.
type RequestMeta struct {
	IP        string
	UserAgent string
}

// LoginInput is a login request.
type LoginInput struct {
	Proof    string
	DeviceID string
	Meta     RequestMeta
}

// UserInfo is the user summary returned with tokens.
type UserInfo struct {
	ID         string
	Email      string
	Name       string
	Roles      []string
	ActiveRole string
}

// LoginResult is returned by Login and ReauthAfterLockdown.
type LoginResult struct {
	AccessToken  string
	RefreshToken string
	// ExpiresIn is the access token lifetime in seconds.
	ExpiresIn           int64
	SessionID           string
	SessionStatus       sessiondomain.Status
	ConcurrentSessionID string
	Anomaly             anomaly.Result
	User                UserInfo
}

// RefreshResult is returned by Refresh.
type RefreshResult struct {
	AccessToken  string
	RefreshToken string
	ExpiresIn    int64
}

// Deps are the AuthService collaborators. TxManager, Sessions, Users, Events, Tokens and Identity are required.
type Deps struct {
	TxManager  db.TxManager
	Sessions   sessionrepo.Repository
	Users      userrepo.Repository
	Events     audit.Recorder
	Tokens     *security.TokenProvider
	Identity   provider.IdentityProvider
	Geo        geo.Resolver
	Blacklist  *blacklist.Async
	Escalator  *anomaly.StrikeEscalator
	Thresholds anomaly.Thresholds
	PendingCap int
	Metrics    *metrics.Metrics
	Log        *zap.Logger
}

// AuthService composes the session store, anomaly detection, conflict resolution, tokens and
// the security event log into the authentication flows.
type AuthService struct {
	txm        db.TxManager
	sessions   sessionrepo.Repository
	users      userrepo.Repository
	events     audit.Recorder
	tokens     *security.TokenProvider
	identity   provider.IdentityProvider
	geo        geo.Resolver
	blacklist  *blacklist.Async
	escalator  *anomaly.StrikeEscalator
	thresholds anomaly.Thresholds
	validator  *sessionservice.Validator
	resolver   *sessionservice.ConflictResolver
	metrics    *metrics.Metrics
	tracer     trace.Tracer
	log        *zap.Logger
	now        func() time.Time
}

// NewAuthService returns an AuthService. Optional collaborators get safe defaults:
// no geo resolution, default anomaly thresholds, no strike escalation.
func NewAuthService(d Deps) *AuthService {
	if d.Log == nil {
		d.Log = zap.NewNop()
	}
	if d.Geo == nil {
		d.Geo = geo.NoopResolver{}
	}
	if d.Thresholds.MaxSpeedKmh <= 0 {
		d.Thresholds = anomaly.DefaultThresholds()
	}
	log := d.Log.With(zap.String("component", "auth"))
	return &AuthService{
		txm:        d.TxManager,
		sessions:   d.Sessions,
		users:      d.Users,
		events:     d.Events,
		tokens:     d.Tokens,
		identity:   d.Identity,
		geo:        d.Geo,
		blacklist:  d.Blacklist,
		escalator:  d.Escalator,
		thresholds: d.Thresholds,
		validator:  sessionservice.NewValidator(d.TxManager, d.Sessions, d.Tokens, d.Blacklist, d.Log),
		resolver:   sessionservice.NewConflictResolver(d.TxManager, d.Sessions, d.Events, d.Blacklist, d.PendingCap, d.Log),
		metrics:    d.Metrics,
		tracer:     otel.Tracer(tracerName),
		log:        log,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the clock for session timestamps and expiry. Intended for tests.
func (s *AuthService) WithClock(now func() time.Time) *AuthService {
	s.now = now
	s.validator.WithClock(now)
	return s
}

// Login verifies the credential proof, creates a session for the device and issues tokens.
// The session is ACTIVE unless another device holds the user's ACTIVE session, in which case it is
// PENDING_CONCURRENT_RESOLUTION and ConcurrentSessionID names the existing one. Session creation,
// the pending cap and the login events commit together; anomaly escalation runs after commit and
// its failures are only logged.
func (s *AuthService) Login(ctx context.Context, in LoginInput) (res *LoginResult, err error) {
	ctx, span := s.tracer.Start(ctx, "AuthService.Login")
	defer func() { endSpan(span, err) }()
	defer func() {
		if err != nil {
			s.metrics.Login("failed")
		}
	}()

	if in.DeviceID == "" {
		return nil, apperr.InvalidArgument("device_id is required")
	}
	user, err := s.authenticate(ctx, in.Proof)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("user.id", user.ID), attribute.String("device.id", in.DeviceID))
	loc := s.locate(ctx, in.Meta.IP)
	refresh, err := s.tokens.IssueRefresh(user.ID, in.DeviceID)
	if err != nil {
		return nil, fmt.Errorf("issue refresh token: %w", err)
	}
	now := s.now()

	var (
		sess       *sessiondomain.Session
		existing   *sessiondomain.Session
		detected   anomaly.Result
		newDevice  bool
		access     security.IssuedToken
		revoked    []*sessiondomain.Session
		superseded int
	)
	err = s.txm.WithinTx(ctx, func(ctx context.Context) error {
		revoked, superseded = nil, 0
		if err := s.sessions.LockUser(ctx, user.ID); err != nil {
			return err
		}
		prev, err := s.sessions.FindLatestByUser(ctx, user.ID)
		if err != nil {
			return err
		}
		hist, err := s.sessions.DeviceHistory(ctx, user.ID, in.DeviceID)
		if err != nil {
			return err
		}
		newDevice = hist.Total > 0 && hist.OnDevice == 0

		onDevice, err := s.sessions.FindActiveOnDevice(ctx, user.ID, in.DeviceID)
		if err != nil {
			return err
		}
		if onDevice != nil {
			if err := s.sessions.UpdateStatus(ctx, onDevice.ID, sessiondomain.StatusRevoked, sessiondomain.ReasonSuperseded); err != nil {
				return err
			}
			revoked = append(revoked, onDevice)
			superseded++
		}
		existing, err = s.sessions.FindOtherActiveSession(ctx, user.ID, in.DeviceID)
		if err != nil {
			return err
		}

		sess = newSession(user.ID, in.DeviceID, security.HashRefreshToken(refresh.Token), refresh.ExpiresAt, in.Meta, loc, now)
		if existing != nil {
			sess.Status = sessiondomain.StatusPendingConcurrent
		}
		if err := s.sessions.Create(ctx, sess); err != nil {
			return err
		}
		if existing != nil {
			capped, err := s.resolver.EnforcePendingCap(ctx, user.ID)
			if err != nil {
				return err
			}
			revoked = append(revoked, capped...)
		}

		detected = anomaly.Detect(pointOf(prev), *pointOf(sess), s.thresholds)
		if err := s.recordLogin(ctx, sess, existing, detected, newDevice); err != nil {
			return err
		}
		access, err = s.issueAccess(user, sess.ID)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.blacklistAll(revoked)
	s.metrics.Revoked(sessiondomain.ReasonSuperseded, superseded)
	s.metrics.Revoked(sessiondomain.ReasonPendingCap, len(revoked)-superseded)

	res = &LoginResult{
		AccessToken:   access.Token,
		RefreshToken:  refresh.Token,
		ExpiresIn:     s.expiresIn(),
		SessionID:     sess.ID,
		SessionStatus: sess.Status,
		Anomaly:       detected,
		User:          userInfo(user),
	}
	if existing != nil {
		res.ConcurrentSessionID = existing.ID
	}
	if detected.IsAnomalous {
		s.metrics.Anomaly(string(detected.Type))
		if existing == nil && s.lockdown(ctx, user.ID, sess.ID, detected) {
			res.SessionStatus = sessiondomain.StatusBlockedPendingReauth
		}
	}
	s.metrics.Login(string(res.SessionStatus))
	s.log.Info("login",
		zap.String("user_id", user.ID),
		zap.String("session_id", sess.ID),
		zap.String("status", string(res.SessionStatus)),
		zap.String("anomaly", string(detected.Type)),
		zap.Bool("new_device", newDevice),
	)
	return res, nil
}

// recordLogin writes the login narrative: a concurrent login logs only CONCURRENT_SESSION_DETECTED;
// otherwise an anomalous login logs ANOMALOUS_LOGIN_DETECTED (plus NEW_DEVICE_DETECTED) and no success;
// otherwise NEW_DEVICE_DETECTED when applicable and LOGIN_SUCCESS.
func (s *AuthService) recordLogin(ctx context.Context, sess, existing *sessiondomain.Session, detected anomaly.Result, newDevice bool) error {
	base := sessionMeta(sess)
	if existing != nil {
		meta := base
		meta["existing_session_id"] = existing.ID
		meta["existing_device_id"] = existing.DeviceID
		return s.events.Record(ctx, sess.UserID, auditdomain.ConcurrentSessionDetected, meta)
	}
	if detected.IsAnomalous {
		meta := detected.Metadata()
		for k, v := range base {
			meta[k] = v
		}
		if err := s.events.Record(ctx, sess.UserID, auditdomain.AnomalousLoginDetected, meta); err != nil {
			return err
		}
		if newDevice {
			return s.events.Record(ctx, sess.UserID, auditdomain.NewDeviceDetected, sessionMeta(sess))
		}
		return nil
	}
	if newDevice {
		if err := s.events.Record(ctx, sess.UserID, auditdomain.NewDeviceDetected, sessionMeta(sess)); err != nil {
			return err
		}
	}
	return s.events.Record(ctx, sess.UserID, auditdomain.LoginSuccess, base)
}

// lockdown runs strike escalation for an anomalous login and, when the policy asks for it, blocks the
// session pending re-authentication. It reports whether the session was blocked. Failures are logged.
func (s *AuthService) lockdown(ctx context.Context, userID, sessionID string, detected anomaly.Result) bool {
	if s.escalator == nil {
		return false
	}
	decision, err := s.escalator.Escalate(ctx, userID, sessionID, detected)
	if err != nil {
		s.log.Warn("strike escalation failed", zap.String("user_id", userID), zap.Error(err))
		return false
	}
	if !decision.Lockdown {
		return false
	}
	err = s.txm.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.sessions.LockUser(ctx, userID); err != nil {
			return err
		}
		if err := s.sessions.UpdateStatus(ctx, sessionID, sessiondomain.StatusBlockedPendingReauth, ""); err != nil {
			return err
		}
		return s.events.Record(ctx, userID, auditdomain.SessionLockedDown, map[string]any{
			"session_id":   sessionID,
			"anomaly_type": string(detected.Type),
		})
	})
	if err != nil {
		s.log.Warn("session lockdown failed", zap.String("user_id", userID), zap.String("session_id", sessionID), zap.Error(err))
		return false
	}
	s.metrics.Lockdown()
	s.log.Warn("session locked down", zap.String("user_id", userID), zap.String("session_id", sessionID))
	return true
}

// authenticate verifies proof and returns the active user it belongs to.
func (s *AuthService) authenticate(ctx context.Context, proof string) (*userdomain.User, error) {
	email, err := s.identity.VerifyProofAndGetEmail(ctx, proof)
	if err != nil {
		return nil, err
	}
	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, apperr.Unauthorized("no user for verified email")
	}
	if !user.IsActive() {
		return nil, apperr.Unauthorized("user is " + string(user.Status))
	}
	return user, nil
}

// locate resolves ip; resolver errors are logged and treated as an unknown location.
func (s *AuthService) locate(ctx context.Context, ip string) *geo.Location {
	if ip == "" {
		return nil
	}
	loc, err := s.geo.Resolve(ctx, ip)
	if err != nil {
		s.log.Warn("geo resolution failed", zap.String("ip", ip), zap.Error(err))
		return nil
	}
	return loc
}

func (s *AuthService) issueAccess(user *userdomain.User, sessionID string) (security.IssuedToken, error) {
	tok, err := s.tokens.IssueAccess(security.AccessSubject{
		UserID:     user.ID,
		Email:      user.Email,
		Roles:      user.Roles,
		ActiveRole: user.ActiveRole,
		SessionID:  sessionID,
	})
	if err != nil {
		return security.IssuedToken{}, fmt.Errorf("issue access token: %w", err)
	}
	return tok, nil
}

func (s *AuthService) blacklistAll(revoked []*sessiondomain.Session) {
	for _, r := range revoked {
		s.blacklist.Add(r.RefreshTokenHash, r.ExpiresAt)
	}
}

func newSession(userID, deviceID, hash string, expiresAt time.Time, meta RequestMeta, loc *geo.Location, now time.Time) *sessiondomain.Session {
	sess := &sessiondomain.Session{
		ID:               uuid.NewString(),
		UserID:           userID,
		DeviceID:         deviceID,
		RefreshTokenHash: hash,
		Status:           sessiondomain.StatusActive,
		IPAddress:        meta.IP,
		UserAgent:        meta.UserAgent,
		CreatedAt:        now,
		LastActivityAt:   now,
		ExpiresAt:        expiresAt,
	}
	if loc != nil {
		lat, lon := loc.Latitude, loc.Longitude
		sess.Latitude, sess.Longitude = &lat, &lon
		sess.City, sess.Country = loc.City, loc.Country
	}
	return sess
}

// pointOf is the anomaly view of a session: where and when it was created.
func pointOf(sess *sessiondomain.Session) *anomaly.Point {
	if sess == nil {
		return nil
	}
	p := &anomaly.Point{SessionID: sess.ID, DeviceID: sess.DeviceID, At: sess.CreatedAt}
	if sess.HasLocation() {
		p.Location = &anomaly.Coordinates{Lat: *sess.Latitude, Lon: *sess.Longitude}
	}
	return p
}

func sessionMeta(sess *sessiondomain.Session) map[string]any {
	return map[string]any{
		"session_id": sess.ID,
		"device_id":  sess.DeviceID,
		"ip_address": sess.IPAddress,
		"city":       sess.City,
		"country":    sess.Country,
		"user_agent": sess.UserAgent,
	}
}

func userInfo(u *userdomain.User) UserInfo {
	return UserInfo{ID: u.ID, Email: u.Email, Name: u.Name, Roles: u.Roles, ActiveRole: u.ActiveRole}
}

func (s *AuthService) expiresIn() int64 {
	return int64(s.tokens.AccessTTL() / time.Second)
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
	}
	span.End()
}
