package service

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"sessionguard/internal/audit"
	"sessionguard/internal/blacklist"
	"sessionguard/internal/security"
	"sessionguard/internal/session/domain"
	"sessionguard/internal/storage/memory"
)

type fixture struct {
	store  *memory.Store
	tokens *security.TokenProvider
	bl     *blacklist.Memory
	async  *blacklist.Async
	events *audit.EventLog
	base   time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	tp, err := security.NewTestTokenProvider()
	require.NoError(t, err)
	store := memory.NewStore()
	bl := blacklist.NewMemory()
	return &fixture{
		store:  store,
		tokens: tp,
		bl:     bl,
		async:  blacklist.NewAsync(bl, nil),
		events: audit.NewEventLog(store.Events(), nil),
		base:   time.Now().UTC().Add(-time.Hour),
	}
}

// session creates a session with a real refresh token and returns both.
func (f *fixture) session(t *testing.T, userID, deviceID string, status domain.Status, age time.Duration) (string, *domain.Session) {
	t.Helper()
	rt, err := f.tokens.IssueRefresh(userID, deviceID)
	require.NoError(t, err)
	created := f.base.Add(-age)
	s := &domain.Session{
		ID:               uuid.NewString(),
		UserID:           userID,
		DeviceID:         deviceID,
		RefreshTokenHash: security.HashRefreshToken(rt.Token),
		Status:           status,
		CreatedAt:        created,
		LastActivityAt:   created,
		ExpiresAt:        rt.ExpiresAt,
	}
	require.NoError(t, f.store.Sessions().Create(context.Background(), s))
	return rt.Token, s
}

func (f *fixture) status(t *testing.T, id string) domain.Status {
	t.Helper()
	s, err := f.store.Sessions().FindByID(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, s)
	return s.Status
}

func (f *fixture) validator() *Validator {
	return NewValidator(f.store, f.store.Sessions(), f.tokens, f.async, nil)
}

func (f *fixture) resolver(pendingCap int) *ConflictResolver {
	return NewConflictResolver(f.store, f.store.Sessions(), f.events, f.async, pendingCap, nil)
}
