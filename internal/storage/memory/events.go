package memory

import (
	"context"
	"sort"
	"time"

	"sessionguard/internal/audit/domain"
	auditrepo "sessionguard/internal/audit/repository"
)

// EventRepository implements the audit repository on a Store.
type EventRepository struct {
	s *Store
}

var _ auditrepo.Repository = (*EventRepository)(nil)

// DefineCode adds or replaces an event code in the lookup table and returns its id.
func (r *EventRepository) DefineCode(ctx context.Context, code domain.EventCode) (int16, error) {
	var id int16
	err := r.s.do(ctx, func() error {
		if existing, ok := r.s.codes[code]; ok {
			id = existing
			return nil
		}
		id = int16(len(r.s.codes) + 1)
		r.s.codes[code] = id
		return nil
	})
	return id, err
}

// LoadCodes implements auditrepo.Repository.
func (r *EventRepository) LoadCodes(ctx context.Context) (map[domain.EventCode]int16, error) {
	out := make(map[domain.EventCode]int16)
	err := r.s.do(ctx, func() error {
		for k, v := range r.s.codes {
			out[k] = v
		}
		return nil
	})
	return out, err
}

// Create implements auditrepo.Repository.
func (r *EventRepository) Create(ctx context.Context, e *domain.SecurityEvent, _ int16) error {
	return r.s.do(ctx, func() error {
		r.s.events = append(r.s.events, cloneEvent(e))
		return nil
	})
}

// CountByCode implements auditrepo.Repository.
func (r *EventRepository) CountByCode(ctx context.Context, userID string, codeID int16) (int64, error) {
	var n int64
	err := r.s.do(ctx, func() error {
		for _, e := range r.s.events {
			if e.UserID == userID && r.s.codes[e.Code] == codeID {
				n++
			}
		}
		return nil
	})
	return n, err
}

// List implements auditrepo.Repository.
func (r *EventRepository) List(ctx context.Context, f domain.Filter, limit int) ([]*domain.SecurityEvent, error) {
	var out []*domain.SecurityEvent
	err := r.s.do(ctx, func() error {
		for i := len(r.s.events) - 1; i >= 0; i-- {
			e := r.s.events[i]
			if !matches(e, f) {
				continue
			}
			out = append(out, cloneEvent(e))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].OccurredAt.After(out[j].OccurredAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func matches(e *domain.SecurityEvent, f domain.Filter) bool {
	if f.UserID != "" && e.UserID != f.UserID {
		return false
	}
	if len(f.Codes) > 0 {
		found := false
		for _, c := range f.Codes {
			if c == e.Code {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if !f.From.IsZero() && e.OccurredAt.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && !e.OccurredAt.Before(f.To) {
		return false
	}
	return true
}

// DeleteBatchOlderThan implements auditrepo.Repository.
func (r *EventRepository) DeleteBatchOlderThan(ctx context.Context, cutoff time.Time, batchSize int) (int64, error) {
	var n int64
	err := r.s.do(ctx, func() error {
		kept := r.s.events[:0:0]
		for _, e := range r.s.events {
			if n < int64(batchSize) && e.OccurredAt.Before(cutoff) {
				n++
				continue
			}
			kept = append(kept, e)
		}
		r.s.events = kept
		return nil
	})
	return n, err
}
