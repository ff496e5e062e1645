package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"sessionguard/internal/db"
	"sessionguard/internal/platform/apperr"
	"sessionguard/internal/session/domain"
)

const sessionColumns = `id, user_id, device_id, refresh_token_hash, status,
	ip_address, city, country, latitude, longitude, user_agent, revoked_reason,
	created_at, last_activity_at, expires_at`

// PostgresRepository persists sessions with pgx.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

var _ Repository = (*PostgresRepository)(nil)

// NewPostgresRepository returns a session repository that uses the given pool for persistence.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

// Create persists the session. The session must have ID set.
func (r *PostgresRepository) Create(ctx context.Context, s *domain.Session) error {
	_, err := db.Conn(ctx, r.pool).Exec(ctx, `
		INSERT INTO sessions (
			id, user_id, device_id, refresh_token_hash, status,
			ip_address, city, country, latitude, longitude, user_agent,
			created_at, last_activity_at, expires_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		s.ID, s.UserID, s.DeviceID, s.RefreshTokenHash, string(s.Status),
		nullIfEmpty(s.IPAddress), nullIfEmpty(s.City), nullIfEmpty(s.Country), s.Latitude, s.Longitude,
		nullIfEmpty(s.UserAgent), s.CreatedAt, s.LastActivityAt, s.ExpiresAt,
	)
	return db.MapError(err)
}

// FindByID returns the session for id, or nil if not found.
func (r *PostgresRepository) FindByID(ctx context.Context, id string) (*domain.Session, error) {
	return r.queryOne(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = $1`, id)
}

// FindByRefreshTokenHash returns the session currently holding hash, or nil.
func (r *PostgresRepository) FindByRefreshTokenHash(ctx context.Context, hash string) (*domain.Session, error) {
	return r.queryOne(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE refresh_token_hash = $1`, hash)
}

// FindByIDForUpdate implements Repository.
func (r *PostgresRepository) FindByIDForUpdate(ctx context.Context, id string) (*domain.Session, error) {
	return r.queryOne(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = $1 FOR UPDATE`, id)
}

// FindOtherActiveSession implements Repository.
func (r *PostgresRepository) FindOtherActiveSession(ctx context.Context, userID, deviceID string) (*domain.Session, error) {
	return r.queryOne(ctx, `SELECT `+sessionColumns+` FROM sessions
		WHERE user_id = $1 AND device_id <> $2 AND status = 'ACTIVE'
		ORDER BY created_at DESC LIMIT 1 FOR UPDATE`, userID, deviceID)
}

// FindActiveOnDevice implements Repository.
func (r *PostgresRepository) FindActiveOnDevice(ctx context.Context, userID, deviceID string) (*domain.Session, error) {
	return r.queryOne(ctx, `SELECT `+sessionColumns+` FROM sessions
		WHERE user_id = $1 AND device_id = $2 AND status = 'ACTIVE'
		ORDER BY created_at DESC LIMIT 1 FOR UPDATE`, userID, deviceID)
}

// FindLatestByUser implements Repository.
func (r *PostgresRepository) FindLatestByUser(ctx context.Context, userID string) (*domain.Session, error) {
	return r.queryOne(ctx, `SELECT `+sessionColumns+` FROM sessions
		WHERE user_id = $1 ORDER BY created_at DESC, id DESC LIMIT 1`, userID)
}

// DeviceHistory implements Repository.
func (r *PostgresRepository) DeviceHistory(ctx context.Context, userID, deviceID string) (DeviceHistory, error) {
	var h DeviceHistory
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		SELECT count(*), count(*) FILTER (WHERE device_id = $2)
		FROM sessions WHERE user_id = $1`, userID, deviceID).Scan(&h.Total, &h.OnDevice)
	if err != nil {
		return DeviceHistory{}, db.MapError(err)
	}
	return h, nil
}

// ListPendingByUser implements Repository.
func (r *PostgresRepository) ListPendingByUser(ctx context.Context, userID string) ([]*domain.Session, error) {
	return r.queryMany(ctx, `SELECT `+sessionColumns+` FROM sessions
		WHERE user_id = $1 AND status = 'PENDING_CONCURRENT_RESOLUTION'
		ORDER BY created_at ASC, id ASC`, userID)
}

// ListLiveByUser implements Repository.
func (r *PostgresRepository) ListLiveByUser(ctx context.Context, userID string) ([]*domain.Session, error) {
	return r.queryMany(ctx, `SELECT `+sessionColumns+` FROM sessions
		WHERE user_id = $1 AND status <> 'REVOKED'
		ORDER BY created_at DESC, id DESC`, userID)
}

// UpdateStatus implements Repository. The predecessor check runs in the UPDATE itself.
func (r *PostgresRepository) UpdateStatus(ctx context.Context, id string, status domain.Status, reason string) error {
	from := predecessors(status)
	var revokedReason *string
	if status == domain.StatusRevoked && reason != "" {
		revokedReason = &reason
	}
	tag, err := db.Conn(ctx, r.pool).Exec(ctx, `
		UPDATE sessions SET status = $2, revoked_reason = COALESCE($3, revoked_reason)
		WHERE id = $1 AND status = ANY($4)`, id, string(status), revokedReason, from)
	if err != nil {
		return db.MapError(err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	existing, err := r.FindByID(ctx, id)
	if err != nil {
		return err
	}
	if existing == nil {
		return fmt.Errorf("session %s: %w", id, apperr.ErrNotFound)
	}
	return apperr.Conflict(fmt.Sprintf("session %s cannot move from %s to %s", id, existing.Status, status))
}

// Touch updates last_activity_at.
func (r *PostgresRepository) Touch(ctx context.Context, id string, at time.Time) error {
	_, err := db.Conn(ctx, r.pool).Exec(ctx, `UPDATE sessions SET last_activity_at = $2 WHERE id = $1`, id, at)
	return db.MapError(err)
}

// RotateRefreshToken replaces the refresh hash and expiry, keeping the session id.
func (r *PostgresRepository) RotateRefreshToken(ctx context.Context, id, newHash string, newExpiry time.Time) error {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx, `
		UPDATE sessions SET refresh_token_hash = $2, expires_at = $3
		WHERE id = $1 AND status <> 'REVOKED'`, id, newHash, newExpiry)
	if err != nil {
		return db.MapError(err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.Conflict("rotate refresh token on revoked or missing session " + id)
	}
	return nil
}

// LockUser implements Repository with a transaction-scoped advisory lock.
func (r *PostgresRepository) LockUser(ctx context.Context, userID string) error {
	if !db.InTx(ctx) {
		return errors.New("session repository: LockUser requires a transaction")
	}
	return db.LockUser(ctx, db.Conn(ctx, r.pool), userID)
}

// DeactivateOlderThan implements Repository.
func (r *PostgresRepository) DeactivateOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx, `
		UPDATE sessions SET status = 'REVOKED', revoked_reason = $2
		WHERE status <> 'REVOKED' AND last_activity_at < $1`, cutoff, domain.ReasonInactive)
	if err != nil {
		return 0, db.MapError(err)
	}
	return tag.RowsAffected(), nil
}

func (r *PostgresRepository) queryOne(ctx context.Context, sql string, args ...any) (*domain.Session, error) {
	s, err := scanSession(db.Conn(ctx, r.pool).QueryRow(ctx, sql, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, db.MapError(err)
	}
	return s, nil
}

func (r *PostgresRepository) queryMany(ctx context.Context, sql string, args ...any) ([]*domain.Session, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, sql, args...)
	if err != nil {
		return nil, db.MapError(err)
	}
	defer rows.Close()
	var out []*domain.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, db.MapError(rows.Err())
}

func scanSession(row pgx.Row) (*domain.Session, error) {
	var (
		s                                           domain.Session
		status                                      string
		ip, city, country, userAgent, revokedReason *string
	)
	err := row.Scan(
		&s.ID, &s.UserID, &s.DeviceID, &s.RefreshTokenHash, &status,
		&ip, &city, &country, &s.Latitude, &s.Longitude, &userAgent, &revokedReason,
		&s.CreatedAt, &s.LastActivityAt, &s.ExpiresAt,
	)
	if err != nil {
		return nil, err
	}
	if s.Status, err = domain.ParseStatus(status); err != nil {
		return nil, err
	}
	s.IPAddress = deref(ip)
	s.City = deref(city)
	s.Country = deref(country)
	s.UserAgent = deref(userAgent)
	s.RevokedReason = deref(revokedReason)
	return &s, nil
}

// predecessors lists the statuses from which to is reachable.
func predecessors(to domain.Status) []string {
	var out []string
	for _, from := range []domain.Status{domain.StatusActive, domain.StatusPendingConcurrent, domain.StatusBlockedPendingReauth, domain.StatusRevoked} {
		if domain.CanTransition(from, to) {
			out = append(out, string(from))
		}
	}
	return out
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
