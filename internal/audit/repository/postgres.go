package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"sessionguard/internal/audit/domain"
	"sessionguard/internal/db"
)

// PostgresRepository persists security events with pgx.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

var _ Repository = (*PostgresRepository)(nil)

// NewPostgresRepository returns an audit repository that uses the given pool for persistence.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

// LoadCodes implements Repository.
func (r *PostgresRepository) LoadCodes(ctx context.Context) (map[domain.EventCode]int16, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `SELECT id, code FROM security_event_codes`)
	if err != nil {
		return nil, db.MapError(err)
	}
	defer rows.Close()
	out := make(map[domain.EventCode]int16)
	for rows.Next() {
		var (
			id   int16
			code string
		)
		if err := rows.Scan(&id, &code); err != nil {
			return nil, err
		}
		out[domain.EventCode(code)] = id
	}
	return out, db.MapError(rows.Err())
}

// Create implements Repository.
func (r *PostgresRepository) Create(ctx context.Context, e *domain.SecurityEvent, codeID int16) error {
	meta := e.Metadata
	if meta == nil {
		meta = map[string]any{}
	}
	raw, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("marshal event metadata: %w", err)
	}
	_, err = db.Conn(ctx, r.pool).Exec(ctx, `
		INSERT INTO security_events (id, user_id, code_id, metadata, occurred_at)
		VALUES ($1, $2, $3, $4, $5)`, e.ID, e.UserID, codeID, raw, e.OccurredAt)
	return db.MapError(err)
}

// CountByCode implements Repository.
func (r *PostgresRepository) CountByCode(ctx context.Context, userID string, codeID int16) (int64, error) {
	var n int64
	err := db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT count(*) FROM security_events WHERE user_id = $1 AND code_id = $2`, userID, codeID).Scan(&n)
	return n, db.MapError(err)
}

// List implements Repository.
func (r *PostgresRepository) List(ctx context.Context, f domain.Filter, limit int) ([]*domain.SecurityEvent, error) {
	var (
		where []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if f.UserID != "" {
		add("e.user_id = $%d", f.UserID)
	}
	if len(f.Codes) > 0 {
		codes := make([]string, len(f.Codes))
		for i, c := range f.Codes {
			codes[i] = string(c)
		}
		add("c.code = ANY($%d)", codes)
	}
	if !f.From.IsZero() {
		add("e.occurred_at >= $%d", f.From)
	}
	if !f.To.IsZero() {
		add("e.occurred_at < $%d", f.To)
	}
	q := `SELECT e.id, e.user_id, c.code, e.metadata, e.occurred_at
		FROM security_events e JOIN security_event_codes c ON c.id = e.code_id`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	args = append(args, limit)
	q += fmt.Sprintf(" ORDER BY e.occurred_at DESC, e.id DESC LIMIT $%d", len(args))

	rows, err := db.Conn(ctx, r.pool).Query(ctx, q, args...)
	if err != nil {
		return nil, db.MapError(err)
	}
	defer rows.Close()
	var out []*domain.SecurityEvent
	for rows.Next() {
		var (
			e    domain.SecurityEvent
			code string
			raw  []byte
		)
		if err := rows.Scan(&e.ID, &e.UserID, &code, &raw, &e.OccurredAt); err != nil {
			return nil, err
		}
		e.Code = domain.EventCode(code)
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &e.Metadata); err != nil {
				return nil, fmt.Errorf("decode event metadata: %w", err)
			}
		}
		out = append(out, &e)
	}
	return out, db.MapError(rows.Err())
}

// DeleteBatchOlderThan implements Repository.
func (r *PostgresRepository) DeleteBatchOlderThan(ctx context.Context, cutoff time.Time, batchSize int) (int64, error) {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx, `
		DELETE FROM security_events WHERE id IN (
			SELECT id FROM security_events WHERE occurred_at < $1 ORDER BY occurred_at LIMIT $2
		)`, cutoff, batchSize)
	if err != nil {
		return 0, db.MapError(err)
	}
	return tag.RowsAffected(), nil
}
