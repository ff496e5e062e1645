// Package retention deactivates idle sessions and purges old security events.
package retention

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"sessionguard/internal/metrics"
	"sessionguard/internal/session/domain"
)

// SessionDeactivator revokes sessions idle since before a cutoff.
type SessionDeactivator interface {
	DeactivateOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// EventPurger deletes security events older than a cutoff.
type EventPurger interface {
	DeleteOlderThan(ctx context.Context, cutoff time.Time, batchSize int) (int64, error)
}

// Config controls one retention pass.
type Config struct {
	// MaxAge is how long idle sessions and events are kept.
	MaxAge    time.Duration
	BatchSize int
}

// Result reports what one pass changed.
type Result struct {
	Cutoff          time.Time
	SessionsRevoked int64
	EventsDeleted   int64
}

// Runner applies the retention policy. Passes are idempotent: a second pass with the same cutoff changes nothing.
type Runner struct {
	sessions SessionDeactivator
	events   EventPurger
	cfg      Config
	metrics  *metrics.Metrics
	log      *zap.Logger
	now      func() time.Time
}

// NewRunner returns a Runner. m and log may be nil.
func NewRunner(sessions SessionDeactivator, events EventPurger, cfg Config, m *metrics.Metrics, log *zap.Logger) *Runner {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 1000
	}
	return &Runner{
		sessions: sessions,
		events:   events,
		cfg:      cfg,
		metrics:  m,
		log:      log.With(zap.String("component", "retention")),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the clock. Intended for tests.
func (r *Runner) WithClock(now func() time.Time) *Runner {
	r.now = now
	return r
}

// RunOnce runs a single pass. Session deactivation and event purging are attempted independently;
// errors from both are joined.
func (r *Runner) RunOnce(ctx context.Context) (Result, error) {
	if r.cfg.MaxAge <= 0 {
		return Result{}, errors.New("retention: max age must be positive")
	}
	res := Result{Cutoff: r.now().Add(-r.cfg.MaxAge)}
	var errs []error
	if r.sessions != nil {
		n, err := r.sessions.DeactivateOlderThan(ctx, res.Cutoff)
		if err != nil {
			errs = append(errs, fmt.Errorf("deactivate sessions: %w", err))
		}
		res.SessionsRevoked = n
		r.metrics.Revoked(domain.ReasonInactive, int(n))
	}
	if r.events != nil {
		n, err := r.events.DeleteOlderThan(ctx, res.Cutoff, r.cfg.BatchSize)
		if err != nil {
			errs = append(errs, fmt.Errorf("purge events: %w", err))
		}
		res.EventsDeleted = n
	}
	r.log.Info("retention pass",
		zap.Time("cutoff", res.Cutoff),
		zap.Int64("sessions_revoked", res.SessionsRevoked),
		zap.Int64("events_deleted", res.EventsDeleted),
	)
	return res, errors.Join(errs...)
}

// Run calls RunOnce immediately and then every interval until ctx is done. Pass failures are logged.
func (r *Runner) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if _, err := r.RunOnce(ctx); err != nil && ctx.Err() == nil {
			r.log.Warn("retention pass failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
