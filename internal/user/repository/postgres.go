package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"sessionguard/internal/db"
	"sessionguard/internal/platform/apperr"
	"sessionguard/internal/user/domain"
)

const userColumns = `id, email, name, roles, active_role, status, created_at, updated_at`

type PostgresRepository struct {
	pool *pgxpool.Pool
}

var _ Repository = (*PostgresRepository)(nil)

// NewPostgresRepository returns a user repository that uses the given pool for persistence.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

// GetByID returns the user for id, or nil if not found.
// It returns an error only for database failures, not for missing rows.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*domain.User, error) {
	return r.queryOne(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
}

// GetByEmail returns the user with the given email, or nil if not found.
func (r *PostgresRepository) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	return r.queryOne(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, domain.NormalizeEmail(email))
}

// Create persists the user. The user must have ID set.
func (r *PostgresRepository) Create(ctx context.Context, u *domain.User) error {
	if err := u.Validate(); err != nil {
		return apperr.InvalidArgument(err.Error())
	}
	roles := u.Roles
	if roles == nil {
		roles = []string{}
	}
	_, err := db.Conn(ctx, r.pool).Exec(ctx, `
		INSERT INTO users (id, email, name, roles, active_role, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		u.ID, domain.NormalizeEmail(u.Email), u.Name, roles, u.ActiveRole, string(u.Status), u.CreatedAt, u.UpdatedAt)
	return db.MapError(err)
}

// SetStatus updates the user's status.
func (r *PostgresRepository) SetStatus(ctx context.Context, id string, status domain.UserStatus) error {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx,
		`UPDATE users SET status = $2, updated_at = now() WHERE id = $1`, id, string(status))
	if err != nil {
		return db.MapError(err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("user %s: %w", id, apperr.ErrNotFound)
	}
	return nil
}

func (r *PostgresRepository) queryOne(ctx context.Context, sql string, args ...any) (*domain.User, error) {
	var (
		u      domain.User
		status string
	)
	err := db.Conn(ctx, r.pool).QueryRow(ctx, sql, args...).Scan(
		&u.ID, &u.Email, &u.Name, &u.Roles, &u.ActiveRole, &status, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, db.MapError(err)
	}
	u.Status = domain.UserStatus(status)
	return &u, nil
}
