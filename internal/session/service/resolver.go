package service

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"sessionguard/internal/audit"
	auditdomain "sessionguard/internal/audit/domain"
	"sessionguard/internal/blacklist"
	"sessionguard/internal/db"
	"sessionguard/internal/platform/apperr"
	"sessionguard/internal/session/domain"
	sessionrepo "sessionguard/internal/session/repository"
)

// Decision is the caller's choice when a new login conflicts with an ACTIVE session.
type Decision string

const (
	KeepNew      Decision = "KEEP_NEW"
	KeepExisting Decision = "KEEP_EXISTING"
)

// ParseDecision accepts KEEP_NEW or KEEP_EXISTING, case-insensitively.
func ParseDecision(s string) (Decision, error) {
	switch d := Decision(strings.ToUpper(strings.TrimSpace(s))); d {
	case KeepNew, KeepExisting:
		return d, nil
	}
	return "", apperr.InvalidArgument("decision must be KEEP_NEW or KEEP_EXISTING")
}

// LocationContext describes where a resolution request came from. It is recorded with the event.
type LocationContext struct {
	IP      string
	City    string
	Country string
}

// DefaultPendingCap is used when a non-positive cap is configured.
const DefaultPendingCap = 3

// ConflictResolver settles concurrent-session conflicts and bounds pending sessions per user.
type ConflictResolver struct {
	txm        db.TxManager
	sessions   sessionrepo.Repository
	events     audit.Recorder
	blacklist  *blacklist.Async
	pendingCap int
	log        *zap.Logger
}

// NewConflictResolver returns a ConflictResolver. bl may be nil.
func NewConflictResolver(txm db.TxManager, sessions sessionrepo.Repository, events audit.Recorder, bl *blacklist.Async, pendingCap int, log *zap.Logger) *ConflictResolver {
	if log == nil {
		log = zap.NewNop()
	}
	if pendingCap < 1 {
		pendingCap = DefaultPendingCap
	}
	return &ConflictResolver{
		txm:        txm,
		sessions:   sessions,
		events:     events,
		blacklist:  bl,
		pendingCap: pendingCap,
		log:        log.With(zap.String("component", "conflict_resolver")),
	}
}

// Resolve applies decision to the pending session identified by refreshTokenHash and returns the id of the
// session that stays ACTIVE, or "" when the existing session is kept. The user lock and row locks are held
// for the whole transaction so two resolutions can never both activate a session.
func (r *ConflictResolver) Resolve(ctx context.Context, userID, deviceID, refreshTokenHash string, decision Decision, loc LocationContext) (string, error) {
	if decision != KeepNew && decision != KeepExisting {
		return "", apperr.InvalidArgument("decision must be KEEP_NEW or KEEP_EXISTING")
	}
	var (
		kept    string
		revoked []*domain.Session
	)
	err := r.txm.WithinTx(ctx, func(ctx context.Context) error {
		kept, revoked = "", nil
		if err := r.sessions.LockUser(ctx, userID); err != nil {
			return err
		}
		found, err := r.sessions.FindByRefreshTokenHash(ctx, refreshTokenHash)
		if err != nil {
			return err
		}
		if found == nil {
			return apperr.Unauthorized("no session for refresh token")
		}
		pending, err := r.sessions.FindByIDForUpdate(ctx, found.ID)
		if err != nil {
			return err
		}
		if pending == nil || pending.UserID != userID || pending.DeviceID != deviceID {
			return apperr.Unauthorized("session not owned by caller")
		}
		if pending.RefreshTokenHash != refreshTokenHash {
			return apperr.Unauthorized("refresh token rotated")
		}
		switch pending.Status {
		case domain.StatusPendingConcurrent:
		case domain.StatusRevoked:
			return apperr.Unauthorized("session revoked")
		default:
			return apperr.Conflict("session is " + string(pending.Status))
		}

		meta := map[string]any{
			"decision":       string(decision),
			"new_session_id": pending.ID,
			"device_id":      deviceID,
			"ip_address":     loc.IP,
			"city":           loc.City,
			"country":        loc.Country,
		}

		if decision == KeepExisting {
			if err := r.sessions.UpdateStatus(ctx, pending.ID, domain.StatusRevoked, domain.ReasonKeptExisting); err != nil {
				return err
			}
			revoked = append(revoked, pending)
			return r.events.Record(ctx, userID, auditdomain.ConcurrentSessionResolved, meta)
		}

		existing, err := r.sessions.FindOtherActiveSession(ctx, userID, deviceID)
		if err != nil {
			return err
		}
		if existing != nil {
			if err := r.sessions.UpdateStatus(ctx, existing.ID, domain.StatusRevoked, domain.ReasonDisplaced); err != nil {
				return err
			}
			revoked = append(revoked, existing)
			meta["displaced_session_id"] = existing.ID
		}
		sameDevice, err := r.sessions.FindActiveOnDevice(ctx, userID, deviceID)
		if err != nil {
			return err
		}
		if sameDevice != nil && sameDevice.ID != pending.ID {
			if err := r.sessions.UpdateStatus(ctx, sameDevice.ID, domain.StatusRevoked, domain.ReasonSuperseded); err != nil {
				return err
			}
			revoked = append(revoked, sameDevice)
		}
		if err := r.sessions.UpdateStatus(ctx, pending.ID, domain.StatusActive, ""); err != nil {
			return err
		}
		kept = pending.ID
		return r.events.Record(ctx, userID, auditdomain.ConcurrentSessionResolved, meta)
	})
	if err != nil {
		return "", err
	}
	r.Blacklist(revoked)
	r.log.Info("concurrent session resolved",
		zap.String("user_id", userID),
		zap.String("decision", string(decision)),
		zap.String("kept_session_id", kept),
	)
	return kept, nil
}

// EnforcePendingCap revokes the oldest pending sessions of userID beyond the cap.
// It must run inside the caller's transaction after the user lock is taken; the returned sessions
// should be blacklisted once that transaction commits.
func (r *ConflictResolver) EnforcePendingCap(ctx context.Context, userID string) ([]*domain.Session, error) {
	pending, err := r.sessions.ListPendingByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	excess := len(pending) - r.pendingCap
	if excess <= 0 {
		return nil, nil
	}
	revoked := make([]*domain.Session, 0, excess)
	for _, s := range pending[:excess] {
		if err := r.sessions.UpdateStatus(ctx, s.ID, domain.StatusRevoked, domain.ReasonPendingCap); err != nil {
			return nil, fmt.Errorf("revoke pending session %s: %w", s.ID, err)
		}
		revoked = append(revoked, s)
	}
	r.log.Info("pending sessions over cap revoked", zap.String("user_id", userID), zap.Int("revoked", len(revoked)))
	return revoked, nil
}

// Blacklist adds the refresh-token hashes of revoked sessions to the blacklist.
func (r *ConflictResolver) Blacklist(revoked []*domain.Session) {
	for _, s := range revoked {
		r.blacklist.Add(s.RefreshTokenHash, s.ExpiresAt)
	}
}

// PendingCap returns the configured cap.
func (r *ConflictResolver) PendingCap() int { return r.pendingCap }
