package audit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sessionguard/internal/audit/domain"
	"sessionguard/internal/platform/apperr"
	"sessionguard/internal/storage/memory"
)

// countingRepo wraps a repository and counts code-table loads.
type countingRepo struct {
	*memory.EventRepository
	loads int
}

func (r *countingRepo) LoadCodes(ctx context.Context) (map[domain.EventCode]int16, error) {
	r.loads++
	return r.EventRepository.LoadCodes(ctx)
}

func TestEventLog_RecordAndCount(t *testing.T) {
	ctx := context.Background()
	log := NewEventLog(memory.NewStore().Events(), nil)

	require.NoError(t, log.Record(ctx, "u1", domain.AnomalousLoginDetected, map[string]any{"type": "IMPOSSIBLE_TRAVEL"}))
	require.NoError(t, log.Record(ctx, "u1", domain.AnomalousLoginDetected, nil))
	require.NoError(t, log.Record(ctx, "u1", domain.LoginSuccess, nil))
	require.NoError(t, log.Record(ctx, "u2", domain.AnomalousLoginDetected, nil))

	n, err := log.CountByCode(ctx, "u1", domain.AnomalousLoginDetected)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	events, err := log.FindAll(ctx, domain.Filter{UserID: "u1", Codes: []domain.EventCode{domain.AnomalousLoginDetected}}, 0)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "u1", events[0].UserID)
}

func TestEventLog_UnknownCodeIsConfigurationError(t *testing.T) {
	ctx := context.Background()
	log := NewEventLog(memory.NewStore().Events(), nil)

	err := log.Record(ctx, "u1", domain.EventCode("PASSWORD_SPRAY"), nil)
	require.Error(t, err)
	var cfgErr *apperr.ConfigurationError
	require.True(t, errors.As(err, &cfgErr))
	assert.Equal(t, "PASSWORD_SPRAY", cfgErr.Value)

	_, err = log.FindAll(ctx, domain.Filter{Codes: []domain.EventCode{"NOPE"}}, 10)
	assert.True(t, apperr.IsConfiguration(err))
}

func TestEventLog_CodeCacheRefreshesOnMissAndInvalidate(t *testing.T) {
	ctx := context.Background()
	repo := &countingRepo{EventRepository: memory.NewStore().Events()}
	log := NewEventLog(repo, nil)

	require.NoError(t, log.Record(ctx, "u1", domain.LoginSuccess, nil))
	require.NoError(t, log.Record(ctx, "u1", domain.LoginSuccess, nil))
	assert.Equal(t, 1, repo.loads, "second lookup should hit the cache")

	// A code defined after the first load is picked up by the miss-triggered refresh.
	_, err := repo.DefineCode(ctx, "MFA_CHALLENGED")
	require.NoError(t, err)
	require.NoError(t, log.Record(ctx, "u1", "MFA_CHALLENGED", nil))
	assert.Equal(t, 2, repo.loads)

	log.InvalidateCodes()
	require.NoError(t, log.Record(ctx, "u1", domain.LoginSuccess, nil))
	assert.Equal(t, 3, repo.loads)
}

func TestEventLog_DeleteOlderThanBatchesAndIsIdempotent(t *testing.T) {
	ctx := context.Background()
	st := memory.NewStore()
	log := NewEventLog(st.Events(), nil)

	past := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	log.WithClock(func() time.Time { return past })
	for i := 0; i < 7; i++ {
		require.NoError(t, log.Record(ctx, "u1", domain.LoginSuccess, nil))
	}
	log.WithClock(func() time.Time { return past.AddDate(0, 2, 0) })
	require.NoError(t, log.Record(ctx, "u1", domain.LoginSuccess, nil))

	cutoff := past.AddDate(0, 1, 0)
	n, err := log.DeleteOlderThan(ctx, cutoff, 3)
	require.NoError(t, err)
	assert.EqualValues(t, 7, n)

	n, err = log.DeleteOlderThan(ctx, cutoff, 3)
	require.NoError(t, err)
	assert.EqualValues(t, 0, n)

	_, err = log.DeleteOlderThan(ctx, cutoff, 0)
	assert.ErrorIs(t, err, apperr.ErrInvalidArgument)
}

func TestEventLog_RecordJoinsTransaction(t *testing.T) {
	ctx := context.Background()
	st := memory.NewStore()
	log := NewEventLog(st.Events(), nil)

	_ = st.WithinTx(ctx, func(ctx context.Context) error {
		require.NoError(t, log.Record(ctx, "u1", domain.LoginSuccess, nil))
		return errors.New("abort")
	})
	n, err := log.CountByCode(ctx, "u1", domain.LoginSuccess)
	require.NoError(t, err)
	assert.EqualValues(t, 0, n)
}
