package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"sessionguard/internal/platform/apperr"
)

// Postgres SQLSTATEs mapped by MapError.
const (
	codeLockNotAvailable = "55P03"
	codeDeadlock         = "40P01"
	codeSerialization    = "40001"
	codeUniqueViolation  = "23505"
)

// OneActivePerUserIndex is the partial unique index backing the one-ACTIVE-session-per-user rule.
const OneActivePerUserIndex = "sessions_one_active_per_user"

// DBTX is the query surface shared by *pgxpool.Pool and pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// TxManager runs fn inside a transaction carried on the context.
// Nested calls join the outer transaction; fn's error rolls everything back.
type TxManager interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type txKey struct{}

// Conn returns the transaction carried by ctx, or pool when there is none.
func Conn(ctx context.Context, pool *pgxpool.Pool) DBTX {
	if tx, ok := ctx.Value(txKey{}).(pgx.Tx); ok {
		return tx
	}
	return pool
}

// InTx reports whether ctx carries a Postgres transaction.
func InTx(ctx context.Context) bool {
	_, ok := ctx.Value(txKey{}).(pgx.Tx)
	return ok
}

// PgxTxManager is a TxManager over a pgx pool. Every new transaction sets lock_timeout
// so contended row and advisory locks fail with apperr.ErrLockTimeout instead of blocking.
type PgxTxManager struct {
	pool        *pgxpool.Pool
	lockTimeout time.Duration
}

// NewPgxTxManager returns a PgxTxManager. lockTimeout <= 0 leaves the server default.
func NewPgxTxManager(pool *pgxpool.Pool, lockTimeout time.Duration) *PgxTxManager {
	return &PgxTxManager{pool: pool, lockTimeout: lockTimeout}
}

// WithinTx implements TxManager.
func (m *PgxTxManager) WithinTx(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	if InTx(ctx) {
		return fn(ctx)
	}
	tx, err := m.pool.Begin(ctx)
	if err != nil {
		return MapError(err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(context.WithoutCancel(ctx))
		}
	}()
	if m.lockTimeout > 0 {
		if _, err = tx.Exec(ctx, fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", m.lockTimeout.Milliseconds())); err != nil {
			return MapError(err)
		}
	}
	if err = fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		return MapError(err)
	}
	if err = tx.Commit(ctx); err != nil {
		return MapError(err)
	}
	return nil
}

// MapError converts Postgres lock and serialization failures into apperr.ErrLockTimeout,
// including a concurrent insert that hits the one-active-session index. Other errors pass through.
func MapError(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case codeLockNotAvailable, codeDeadlock, codeSerialization:
		return fmt.Errorf("%w: %s", apperr.ErrLockTimeout, pgErr.Message)
	case codeUniqueViolation:
		if pgErr.ConstraintName == OneActivePerUserIndex {
			return fmt.Errorf("%w: concurrent activation", apperr.ErrLockTimeout)
		}
	}
	return err
}

// LockUser takes a transaction-scoped advisory lock keyed on userID.
// All session mutations for one user serialize on it, including inserts where no row exists yet.
func LockUser(ctx context.Context, q DBTX, userID string) error {
	_, err := q.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, userID)
	return MapError(err)
}
