package repository

import (
	"context"
	"time"

	"sessionguard/internal/audit/domain"
)

// Repository defines persistence for security events and the event-code lookup table.
// Writes join the transaction carried by ctx.
type Repository interface {
	// LoadCodes returns every defined code with its lookup id.
	LoadCodes(ctx context.Context) (map[domain.EventCode]int16, error)
	Create(ctx context.Context, e *domain.SecurityEvent, codeID int16) error
	CountByCode(ctx context.Context, userID string, codeID int16) (int64, error)
	// List returns events matching f, newest first, at most limit rows.
	List(ctx context.Context, f domain.Filter, limit int) ([]*domain.SecurityEvent, error)
	// DeleteBatchOlderThan deletes at most batchSize events older than cutoff and returns the count.
	DeleteBatchOlderThan(ctx context.Context, cutoff time.Time, batchSize int) (int64, error)
}
