package repository

import (
	"context"
	"time"

	"sessionguard/internal/session/domain"
)

// DeviceHistory summarizes a user's prior sessions relative to one device.
type DeviceHistory struct {
	Total    int // all sessions of the user, any status
	OnDevice int // sessions of the user on the device
}

// Repository defines persistence for sessions. Every method joins the transaction carried by ctx
// (see db.TxManager); "ForUpdate" reads and LockUser only hold their locks inside one.
// Finders return (nil, nil) when no row matches.
type Repository interface {
	Create(ctx context.Context, s *domain.Session) error
	FindByID(ctx context.Context, id string) (*domain.Session, error)
	FindByRefreshTokenHash(ctx context.Context, hash string) (*domain.Session, error)
	// FindByIDForUpdate returns the session and row-locks it until the transaction ends.
	FindByIDForUpdate(ctx context.Context, id string) (*domain.Session, error)
	// FindOtherActiveSession row-locks and returns the ACTIVE session of userID on a device other than deviceID.
	FindOtherActiveSession(ctx context.Context, userID, deviceID string) (*domain.Session, error)
	// FindActiveOnDevice returns the ACTIVE session of userID on deviceID, row-locked.
	FindActiveOnDevice(ctx context.Context, userID, deviceID string) (*domain.Session, error)
	// FindLatestByUser returns the most recently created session of the user regardless of status.
	FindLatestByUser(ctx context.Context, userID string) (*domain.Session, error)
	DeviceHistory(ctx context.Context, userID, deviceID string) (DeviceHistory, error)
	// ListPendingByUser returns PENDING_CONCURRENT_RESOLUTION sessions, oldest first.
	ListPendingByUser(ctx context.Context, userID string) ([]*domain.Session, error)
	// ListLiveByUser returns all non-revoked sessions, newest first.
	ListLiveByUser(ctx context.Context, userID string) ([]*domain.Session, error)
	// UpdateStatus moves the session to status when the state machine allows it from the current status.
	// reason is stored only for REVOKED. Returns apperr.ErrNotFound or apperr.ErrConflict otherwise.
	UpdateStatus(ctx context.Context, id string, status domain.Status, reason string) error
	Touch(ctx context.Context, id string, at time.Time) error
	RotateRefreshToken(ctx context.Context, id, newHash string, newExpiry time.Time) error
	// LockUser serializes session mutations of one user for the rest of the transaction.
	LockUser(ctx context.Context, userID string) error
	// DeactivateOlderThan revokes non-revoked sessions idle since before cutoff; returns the count.
	DeactivateOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}
