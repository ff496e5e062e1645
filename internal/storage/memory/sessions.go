package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"sessionguard/internal/platform/apperr"
	"sessionguard/internal/session/domain"
	sessionrepo "sessionguard/internal/session/repository"
)

// SessionRepository implements the session repository on a Store.
// Row and user locks are implied by the store-wide transaction.
type SessionRepository struct {
	s *Store
}

var _ sessionrepo.Repository = (*SessionRepository)(nil)

// Create implements sessionrepo.Repository.
func (r *SessionRepository) Create(ctx context.Context, sess *domain.Session) error {
	return r.s.do(ctx, func() error {
		if _, ok := r.s.sessions[sess.ID]; ok {
			return fmt.Errorf("session %s already exists", sess.ID)
		}
		for _, row := range r.s.sessions {
			if row.s.RefreshTokenHash == sess.RefreshTokenHash {
				return fmt.Errorf("refresh token hash already in use")
			}
		}
		if sess.Status == domain.StatusActive {
			if err := r.checkOneActive(sess.UserID, sess.ID); err != nil {
				return err
			}
		}
		r.s.seq++
		r.s.sessions[sess.ID] = &sessionRow{s: *cloneSession(sess), seq: r.s.seq}
		return nil
	})
}

// checkOneActive mirrors the partial unique index on ACTIVE sessions.
func (r *SessionRepository) checkOneActive(userID, exceptID string) error {
	for id, row := range r.s.sessions {
		if id != exceptID && row.s.UserID == userID && row.s.Status == domain.StatusActive {
			return fmt.Errorf("%w: concurrent activation", apperr.ErrLockTimeout)
		}
	}
	return nil
}

// FindByID implements sessionrepo.Repository.
func (r *SessionRepository) FindByID(ctx context.Context, id string) (*domain.Session, error) {
	return r.findOne(ctx, func(s *domain.Session) bool { return s.ID == id })
}

// FindByRefreshTokenHash implements sessionrepo.Repository.
func (r *SessionRepository) FindByRefreshTokenHash(ctx context.Context, hash string) (*domain.Session, error) {
	return r.findOne(ctx, func(s *domain.Session) bool { return s.RefreshTokenHash == hash })
}

// FindByIDForUpdate implements sessionrepo.Repository.
func (r *SessionRepository) FindByIDForUpdate(ctx context.Context, id string) (*domain.Session, error) {
	return r.FindByID(ctx, id)
}

// FindOtherActiveSession implements sessionrepo.Repository.
func (r *SessionRepository) FindOtherActiveSession(ctx context.Context, userID, deviceID string) (*domain.Session, error) {
	return r.findOne(ctx, func(s *domain.Session) bool {
		return s.UserID == userID && s.DeviceID != deviceID && s.Status == domain.StatusActive
	})
}

// FindActiveOnDevice implements sessionrepo.Repository.
func (r *SessionRepository) FindActiveOnDevice(ctx context.Context, userID, deviceID string) (*domain.Session, error) {
	return r.findOne(ctx, func(s *domain.Session) bool {
		return s.UserID == userID && s.DeviceID == deviceID && s.Status == domain.StatusActive
	})
}

// FindLatestByUser implements sessionrepo.Repository.
func (r *SessionRepository) FindLatestByUser(ctx context.Context, userID string) (*domain.Session, error) {
	return r.findOne(ctx, func(s *domain.Session) bool { return s.UserID == userID })
}

// DeviceHistory implements sessionrepo.Repository.
func (r *SessionRepository) DeviceHistory(ctx context.Context, userID, deviceID string) (sessionrepo.DeviceHistory, error) {
	var h sessionrepo.DeviceHistory
	err := r.s.do(ctx, func() error {
		for _, row := range r.s.sessions {
			if row.s.UserID != userID {
				continue
			}
			h.Total++
			if row.s.DeviceID == deviceID {
				h.OnDevice++
			}
		}
		return nil
	})
	return h, err
}

// ListPendingByUser implements sessionrepo.Repository.
func (r *SessionRepository) ListPendingByUser(ctx context.Context, userID string) ([]*domain.Session, error) {
	out, err := r.list(ctx, func(s *domain.Session) bool {
		return s.UserID == userID && s.Status == domain.StatusPendingConcurrent
	})
	// list is newest first; pending is oldest first.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, err
}

// ListLiveByUser implements sessionrepo.Repository.
func (r *SessionRepository) ListLiveByUser(ctx context.Context, userID string) ([]*domain.Session, error) {
	return r.list(ctx, func(s *domain.Session) bool { return s.UserID == userID && s.Status.IsLive() })
}

// UpdateStatus implements sessionrepo.Repository.
func (r *SessionRepository) UpdateStatus(ctx context.Context, id string, status domain.Status, reason string) error {
	return r.s.do(ctx, func() error {
		row, ok := r.s.sessions[id]
		if !ok {
			return fmt.Errorf("session %s: %w", id, apperr.ErrNotFound)
		}
		if !domain.CanTransition(row.s.Status, status) {
			return apperr.Conflict(fmt.Sprintf("session %s cannot move from %s to %s", id, row.s.Status, status))
		}
		if status == domain.StatusActive {
			if err := r.checkOneActive(row.s.UserID, id); err != nil {
				return err
			}
		}
		row.s.Status = status
		if status == domain.StatusRevoked && reason != "" {
			row.s.RevokedReason = reason
		}
		return nil
	})
}

// Touch implements sessionrepo.Repository.
func (r *SessionRepository) Touch(ctx context.Context, id string, at time.Time) error {
	return r.s.do(ctx, func() error {
		if row, ok := r.s.sessions[id]; ok {
			row.s.LastActivityAt = at
		}
		return nil
	})
}

// RotateRefreshToken implements sessionrepo.Repository.
func (r *SessionRepository) RotateRefreshToken(ctx context.Context, id, newHash string, newExpiry time.Time) error {
	return r.s.do(ctx, func() error {
		row, ok := r.s.sessions[id]
		if !ok || row.s.Status == domain.StatusRevoked {
			return apperr.Conflict("rotate refresh token on revoked or missing session " + id)
		}
		row.s.RefreshTokenHash = newHash
		row.s.ExpiresAt = newExpiry
		return nil
	})
}

// LockUser implements sessionrepo.Repository. The store-wide transaction already excludes other writers.
func (r *SessionRepository) LockUser(ctx context.Context, _ string) error {
	if !r.s.inTx(ctx) {
		return fmt.Errorf("session repository: LockUser requires a transaction")
	}
	return nil
}

// DeactivateOlderThan implements sessionrepo.Repository.
func (r *SessionRepository) DeactivateOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	var n int64
	err := r.s.do(ctx, func() error {
		for _, row := range r.s.sessions {
			if row.s.Status != domain.StatusRevoked && row.s.LastActivityAt.Before(cutoff) {
				row.s.Status = domain.StatusRevoked
				row.s.RevokedReason = domain.ReasonInactive
				n++
			}
		}
		return nil
	})
	return n, err
}

func (r *SessionRepository) findOne(ctx context.Context, match func(*domain.Session) bool) (*domain.Session, error) {
	list, err := r.list(ctx, match)
	if err != nil || len(list) == 0 {
		return nil, err
	}
	return list[0], nil
}

// list returns clones of matching sessions, newest first.
func (r *SessionRepository) list(ctx context.Context, match func(*domain.Session) bool) ([]*domain.Session, error) {
	var out []*domain.Session
	err := r.s.do(ctx, func() error {
		var rows []*sessionRow
		for _, row := range r.s.sessions {
			if match(&row.s) {
				rows = append(rows, row)
			}
		}
		sort.Slice(rows, func(i, j int) bool {
			if !rows[i].s.CreatedAt.Equal(rows[j].s.CreatedAt) {
				return rows[i].s.CreatedAt.After(rows[j].s.CreatedAt)
			}
			return rows[i].seq > rows[j].seq
		})
		out = make([]*domain.Session, len(rows))
		for i, row := range rows {
			out[i] = cloneSession(&row.s)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
