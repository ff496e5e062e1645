// Package audit is the append-only security event trail: recording, strike counting, retrieval and retention.
package audit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"sessionguard/internal/audit/domain"
	auditrepo "sessionguard/internal/audit/repository"
	"sessionguard/internal/platform/apperr"
)

// Recorder appends security events. Record joins the transaction carried by ctx.
type Recorder interface {
	Record(ctx context.Context, userID string, code domain.EventCode, metadata map[string]any) error
}

// Reader is the read side consumed by strike counting and audit reporting.
type Reader interface {
	CountByCode(ctx context.Context, userID string, code domain.EventCode) (int64, error)
	FindAll(ctx context.Context, f domain.Filter, limit int) ([]*domain.SecurityEvent, error)
}

// DefaultListLimit caps FindAll when the caller passes a non-positive limit.
const DefaultListLimit = 100

// MaxListLimit is the largest page FindAll returns.
const MaxListLimit = 1000

// EventLog implements Recorder and Reader over the audit repository.
type EventLog struct {
	repo  auditrepo.Repository
	codes *codeCache
	log   *zap.Logger
	now   func() time.Time
}

var (
	_ Recorder = (*EventLog)(nil)
	_ Reader   = (*EventLog)(nil)
)

// NewEventLog returns an EventLog persisting to repo. log may be nil.
func NewEventLog(repo auditrepo.Repository, log *zap.Logger) *EventLog {
	if log == nil {
		log = zap.NewNop()
	}
	return &EventLog{
		repo:  repo,
		codes: newCodeCache(repo.LoadCodes),
		log:   log.With(zap.String("component", "audit")),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the event timestamp source. Intended for tests.
func (l *EventLog) WithClock(now func() time.Time) *EventLog {
	l.now = now
	return l
}

// Record appends one event. An undefined code is a *apperr.ConfigurationError.
func (l *EventLog) Record(ctx context.Context, userID string, code domain.EventCode, metadata map[string]any) error {
	codeID, err := l.codes.lookup(ctx, code)
	if err != nil {
		return err
	}
	e := &domain.SecurityEvent{
		ID:         uuid.NewString(),
		UserID:     userID,
		Code:       code,
		Metadata:   metadata,
		OccurredAt: l.now(),
	}
	if err := l.repo.Create(ctx, e, codeID); err != nil {
		return fmt.Errorf("record %s: %w", code, err)
	}
	l.log.Debug("security event", zap.String("user_id", userID), zap.String("code", string(code)))
	return nil
}

// CountByCode implements Reader.
func (l *EventLog) CountByCode(ctx context.Context, userID string, code domain.EventCode) (int64, error) {
	codeID, err := l.codes.lookup(ctx, code)
	if err != nil {
		return 0, err
	}
	return l.repo.CountByCode(ctx, userID, codeID)
}

// FindAll implements Reader. Every filter code must be defined.
func (l *EventLog) FindAll(ctx context.Context, f domain.Filter, limit int) ([]*domain.SecurityEvent, error) {
	for _, c := range f.Codes {
		if _, err := l.codes.lookup(ctx, c); err != nil {
			return nil, err
		}
	}
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}
	return l.repo.List(ctx, f, limit)
}

// DeleteOlderThan removes events older than cutoff in batches of batchSize and returns the total deleted.
// Each batch is its own statement so no single delete holds locks on the whole range.
func (l *EventLog) DeleteOlderThan(ctx context.Context, cutoff time.Time, batchSize int) (int64, error) {
	if batchSize <= 0 {
		return 0, apperr.InvalidArgument("batch size must be positive")
	}
	var total int64
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		n, err := l.repo.DeleteBatchOlderThan(ctx, cutoff, batchSize)
		if err != nil {
			return total, fmt.Errorf("delete events older than %s: %w", cutoff.Format(time.RFC3339), err)
		}
		total += n
		if n < int64(batchSize) {
			break
		}
	}
	if total > 0 {
		l.log.Info("security events purged", zap.Int64("deleted", total), zap.Time("cutoff", cutoff))
	}
	return total, nil
}

// InvalidateCodes drops the cached code table; the next lookup reloads it.
func (l *EventLog) InvalidateCodes() {
	l.codes.invalidate()
}

// codeCache maps event codes to lookup ids. Reads may be stale until a miss or InvalidateCodes
// forces a reload; a code still missing after one reload is undefined.
type codeCache struct {
	load func(context.Context) (map[domain.EventCode]int16, error)

	mu  sync.RWMutex
	ids map[domain.EventCode]int16
}

func newCodeCache(load func(context.Context) (map[domain.EventCode]int16, error)) *codeCache {
	return &codeCache{load: load}
}

func (c *codeCache) lookup(ctx context.Context, code domain.EventCode) (int16, error) {
	c.mu.RLock()
	id, ok := c.ids[code]
	c.mu.RUnlock()
	if ok {
		return id, nil
	}
	if err := c.refresh(ctx); err != nil {
		return 0, err
	}
	c.mu.RLock()
	id, ok = c.ids[code]
	c.mu.RUnlock()
	if !ok {
		return 0, &apperr.ConfigurationError{Kind: "security event code", Value: string(code)}
	}
	return id, nil
}

func (c *codeCache) refresh(ctx context.Context) error {
	ids, err := c.load(ctx)
	if err != nil {
		return fmt.Errorf("load security event codes: %w", err)
	}
	c.mu.Lock()
	c.ids = ids
	c.mu.Unlock()
	return nil
}

func (c *codeCache) invalidate() {
	c.mu.Lock()
	c.ids = nil
	c.mu.Unlock()
}
