// Package memory provides a thread-safe in-memory backend for the session, audit, user and identity
// repositories, with all-or-nothing transactions. Suitable for tests, demos and single-process runs.
package memory

import (
	"context"
	"fmt"
	"time"

	auditdomain "sessionguard/internal/audit/domain"
	"sessionguard/internal/db"
	identitydomain "sessionguard/internal/identity/domain"
	"sessionguard/internal/platform/apperr"
	sessiondomain "sessionguard/internal/session/domain"
	userdomain "sessionguard/internal/user/domain"
)

// Store holds every table. Transactions are serialized: one holds the store until it commits or
// rolls back, and operations outside a transaction wait for it.
type Store struct {
	sem         chan struct{}
	lockTimeout time.Duration

	sessions   map[string]*sessionRow
	seq        int64
	users      map[string]*userdomain.User
	identities []*identitydomain.Identity
	events     []*auditdomain.SecurityEvent
	codes      map[auditdomain.EventCode]int16
}

type sessionRow struct {
	s   sessiondomain.Session
	seq int64
}

var _ db.TxManager = (*Store)(nil)

type txKey struct{}

// Option configures a Store.
type Option func(*Store)

// WithLockTimeout bounds how long WithinTx waits for a running transaction. Zero waits until ctx is done.
func WithLockTimeout(d time.Duration) Option {
	return func(s *Store) { s.lockTimeout = d }
}

// NewStore returns an empty Store with the standard security event codes defined.
func NewStore(opts ...Option) *Store {
	s := &Store{
		sem:      make(chan struct{}, 1),
		sessions: make(map[string]*sessionRow),
		users:    make(map[string]*userdomain.User),
		codes:    make(map[auditdomain.EventCode]int16),
	}
	for i, c := range auditdomain.KnownCodes {
		s.codes[c] = int16(i + 1)
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Sessions returns the session repository view of the store.
func (s *Store) Sessions() *SessionRepository { return &SessionRepository{s: s} }

// Events returns the audit repository view of the store.
func (s *Store) Events() *EventRepository { return &EventRepository{s: s} }

// Users returns the user directory view of the store.
func (s *Store) Users() *UserRepository { return &UserRepository{s: s} }

// Identities returns the identity repository view of the store.
func (s *Store) Identities() *IdentityRepository { return &IdentityRepository{s: s} }

// WithinTx implements db.TxManager. On error every write made by fn is rolled back.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if s.inTx(ctx) {
		return fn(ctx)
	}
	if err := s.acquire(ctx, s.lockTimeout); err != nil {
		return err
	}
	defer s.release()

	snap := s.snapshot()
	if err := fn(context.WithValue(ctx, txKey{}, s)); err != nil {
		s.restore(snap)
		return err
	}
	return nil
}

func (s *Store) inTx(ctx context.Context) bool {
	owner, _ := ctx.Value(txKey{}).(*Store)
	return owner == s
}

func (s *Store) acquire(ctx context.Context, timeout time.Duration) error {
	var timer <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		timer = t.C
	}
	select {
	case s.sem <- struct{}{}:
		return nil
	case <-timer:
		return fmt.Errorf("%w: memory store busy", apperr.ErrLockTimeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Store) release() { <-s.sem }

// do runs fn with exclusive access, joining the transaction carried by ctx if any.
func (s *Store) do(ctx context.Context, fn func() error) error {
	if s.inTx(ctx) {
		return fn()
	}
	if err := s.acquire(ctx, 0); err != nil {
		return err
	}
	defer s.release()
	return fn()
}

type snapshot struct {
	sessions   map[string]*sessionRow
	seq        int64
	users      map[string]*userdomain.User
	identities []*identitydomain.Identity
	events     []*auditdomain.SecurityEvent
	codes      map[auditdomain.EventCode]int16
}

func (s *Store) snapshot() snapshot {
	snap := snapshot{
		sessions:   make(map[string]*sessionRow, len(s.sessions)),
		seq:        s.seq,
		users:      make(map[string]*userdomain.User, len(s.users)),
		identities: append([]*identitydomain.Identity(nil), s.identities...),
		events:     append([]*auditdomain.SecurityEvent(nil), s.events...),
		codes:      make(map[auditdomain.EventCode]int16, len(s.codes)),
	}
	for k, v := range s.sessions {
		snap.sessions[k] = &sessionRow{s: *cloneSession(&v.s), seq: v.seq}
	}
	for k, v := range s.users {
		snap.users[k] = cloneUser(v)
	}
	for k, v := range s.codes {
		snap.codes[k] = v
	}
	return snap
}

func (s *Store) restore(snap snapshot) {
	s.sessions = snap.sessions
	s.seq = snap.seq
	s.users = snap.users
	s.identities = snap.identities
	s.events = snap.events
	s.codes = snap.codes
}

func cloneSession(in *sessiondomain.Session) *sessiondomain.Session {
	out := *in
	if in.Latitude != nil {
		v := *in.Latitude
		out.Latitude = &v
	}
	if in.Longitude != nil {
		v := *in.Longitude
		out.Longitude = &v
	}
	return &out
}

func cloneUser(in *userdomain.User) *userdomain.User {
	out := *in
	out.Roles = append([]string(nil), in.Roles...)
	return &out
}

func cloneEvent(in *auditdomain.SecurityEvent) *auditdomain.SecurityEvent {
	out := *in
	if in.Metadata != nil {
		out.Metadata = make(map[string]any, len(in.Metadata))
		for k, v := range in.Metadata {
			out.Metadata[k] = v
		}
	}
	return &out
}
