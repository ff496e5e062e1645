// Package blacklist rejects rotated or revoked refresh tokens by hash until they would have expired.
// It is an accelerant only: the session store stays authoritative.
package blacklist

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Blacklist stores refresh-token hashes with a TTL.
type Blacklist interface {
	Add(ctx context.Context, hash string, ttl time.Duration) error
	Contains(ctx context.Context, hash string) (bool, error)
}

// writeTimeout bounds a single asynchronous write.
const writeTimeout = 2 * time.Second

// Async writes to a Blacklist in the background so callers never wait on the cache.
type Async struct {
	bl  Blacklist
	log *zap.Logger
	now func() time.Time
	wg  sync.WaitGroup
}

// NewAsync wraps bl. log may be nil.
func NewAsync(bl Blacklist, log *zap.Logger) *Async {
	if log == nil {
		log = zap.NewNop()
	}
	return &Async{bl: bl, log: log.With(zap.String("component", "blacklist")), now: time.Now}
}

// Add blacklists hash until expiresAt. Already-expired entries are skipped. Errors are logged.
func (a *Async) Add(hash string, expiresAt time.Time) {
	if a == nil || a.bl == nil || hash == "" {
		return
	}
	ttl := expiresAt.Sub(a.now())
	if ttl <= 0 {
		return
	}
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		defer cancel()
		if err := a.bl.Add(ctx, hash, ttl); err != nil {
			a.log.Warn("blacklist write failed", zap.Error(err))
		}
	}()
}

// Contains reports whether hash is blacklisted. A cache error is logged and reported as a miss.
func (a *Async) Contains(ctx context.Context, hash string) bool {
	if a == nil || a.bl == nil {
		return false
	}
	ok, err := a.bl.Contains(ctx, hash)
	if err != nil {
		a.log.Warn("blacklist read failed; falling back to store", zap.Error(err))
		return false
	}
	return ok
}

// Wait blocks until every pending write has finished.
func (a *Async) Wait() {
	if a != nil {
		a.wg.Wait()
	}
}

// Memory is an in-process Blacklist.
type Memory struct {
	mu      sync.Mutex
	entries map[string]time.Time
	now     func() time.Time
}

var _ Blacklist = (*Memory)(nil)

// NewMemory returns an empty in-process Blacklist.
func NewMemory() *Memory {
	return &Memory{entries: make(map[string]time.Time), now: time.Now}
}

// Add implements Blacklist.
func (m *Memory) Add(_ context.Context, hash string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	for k, exp := range m.entries {
		if !now.Before(exp) {
			delete(m.entries, k)
		}
	}
	m.entries[hash] = now.Add(ttl)
	return nil
}

// Contains implements Blacklist.
func (m *Memory) Contains(_ context.Context, hash string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	exp, ok := m.entries[hash]
	return ok && m.now().Before(exp), nil
}
