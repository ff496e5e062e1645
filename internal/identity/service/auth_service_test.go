package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sessionguard/internal/anomaly"
	"sessionguard/internal/audit"
	auditdomain "sessionguard/internal/audit/domain"
	"sessionguard/internal/blacklist"
	"sessionguard/internal/geo"
	"sessionguard/internal/platform/apperr"
	"sessionguard/internal/policy/engine"
	"sessionguard/internal/security"
	sessiondomain "sessionguard/internal/session/domain"
	"sessionguard/internal/storage/memory"
	userdomain "sessionguard/internal/user/domain"
)

const (
	ipOrigin = "198.51.100.10"
	ipLondon = "203.0.113.20"
)

// proofs maps a proof string straight to an email.
type proofs map[string]string

func (p proofs) VerifyProofAndGetEmail(_ context.Context, proof string) (string, error) {
	if email, ok := p[proof]; ok {
		return email, nil
	}
	return "", apperr.Unauthorized("unknown proof")
}

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type harness struct {
	store  *memory.Store
	svc    *AuthService
	events *audit.EventLog
	bl     *blacklist.Memory
	async  *blacklist.Async
	clock  *clock
}

type options struct {
	escalator    bool
	autoLockdown bool
	noBlacklist  bool
	pendingCap   int
}

func newHarness(t *testing.T, opt options) *harness {
	t.Helper()
	ctx := context.Background()
	store := memory.NewStore()
	clk := &clock{t: time.Now().UTC()}
	tokens, err := security.NewTestTokenProvider()
	require.NoError(t, err)
	tokens.WithClock(clk.Now)
	for _, u := range []*userdomain.User{
		{ID: "u1", Email: "alice@example.com", Name: "Alice", Roles: []string{"student"}},
		{ID: "u2", Email: "bob@example.com", Name: "Bob", Roles: []string{"admin"}},
	} {
		require.NoError(t, store.Users().Create(ctx, u))
	}
	events := audit.NewEventLog(store.Events(), nil)
	h := &harness{
		store:  store,
		events: events,
		bl:     blacklist.NewMemory(),
		clock:  clk,
	}
	if !opt.noBlacklist {
		h.async = blacklist.NewAsync(h.bl, nil)
	}
	d := Deps{
		TxManager: store,
		Sessions:  store.Sessions(),
		Users:     store.Users(),
		Events:    events,
		Tokens:    tokens,
		Identity:  proofs{"alice": "alice@example.com", "bob": "bob@example.com"},
		Geo: geo.NewStaticResolver(map[string]geo.Location{
			ipOrigin: {Latitude: 0, Longitude: 0, City: "Null Island", Country: "XX"},
			ipLondon: {Latitude: 51.5, Longitude: -0.1, City: "London", Country: "GB"},
		}),
		Blacklist:  h.async,
		PendingCap: opt.pendingCap,
	}
	if opt.escalator {
		policy, err := engine.NewOPAEvaluator(ctx, "", nil)
		require.NoError(t, err)
		d.Escalator = anomaly.NewStrikeEscalator(events, policy, nil, anomaly.EscalatorConfig{Threshold: 1, AutoLockdown: opt.autoLockdown}, nil)
	}
	h.svc = NewAuthService(d).WithClock(h.clock.Now)
	return h
}

func (h *harness) login(t *testing.T, proof, device, ip string) *LoginResult {
	t.Helper()
	res, err := h.svc.Login(context.Background(), LoginInput{Proof: proof, DeviceID: device, Meta: RequestMeta{IP: ip, UserAgent: "test"}})
	require.NoError(t, err)
	return res
}

func (h *harness) count(t *testing.T, userID string, code auditdomain.EventCode) int64 {
	t.Helper()
	n, err := h.events.CountByCode(context.Background(), userID, code)
	require.NoError(t, err)
	return n
}

func (h *harness) session(t *testing.T, id string) *sessiondomain.Session {
	t.Helper()
	s, err := h.store.Sessions().FindByID(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, s)
	return s
}

func (h *harness) activeCount(t *testing.T, userID string) int {
	t.Helper()
	live, err := h.store.Sessions().ListLiveByUser(context.Background(), userID)
	require.NoError(t, err)
	n := 0
	for _, s := range live {
		if s.Status == sessiondomain.StatusActive {
			n++
		}
	}
	return n
}

func TestLogin_FirstLoginIsActive(t *testing.T) {
	h := newHarness(t, options{})
	res := h.login(t, "alice", "d1", ipLondon)

	assert.Equal(t, sessiondomain.StatusActive, res.SessionStatus)
	assert.Empty(t, res.ConcurrentSessionID)
	assert.NotEmpty(t, res.AccessToken)
	assert.NotEmpty(t, res.RefreshToken)
	assert.EqualValues(t, 15*60, res.ExpiresIn)
	assert.Equal(t, "alice@example.com", res.User.Email)
	assert.Equal(t, "student", res.User.ActiveRole)
	assert.False(t, res.Anomaly.IsAnomalous)

	sess := h.session(t, res.SessionID)
	assert.Equal(t, "London", sess.City)
	assert.Equal(t, security.HashRefreshToken(res.RefreshToken), sess.RefreshTokenHash)

	assert.EqualValues(t, 1, h.count(t, "u1", auditdomain.LoginSuccess))
	assert.EqualValues(t, 0, h.count(t, "u1", auditdomain.NewDeviceDetected))

	claims, err := h.svc.ValidateAccess(context.Background(), res.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, res.SessionID, claims.SessionID)
	assert.Equal(t, []string{"student"}, claims.Roles)
}

func TestLogin_Rejections(t *testing.T) {
	h := newHarness(t, options{})
	ctx := context.Background()

	_, err := h.svc.Login(ctx, LoginInput{Proof: "alice"})
	require.ErrorIs(t, err, apperr.ErrInvalidArgument)

	_, err = h.svc.Login(ctx, LoginInput{Proof: "mallory", DeviceID: "d1"})
	require.ErrorIs(t, err, apperr.ErrUnauthorized)

	require.NoError(t, h.store.Users().SetStatus(ctx, "u1", userdomain.UserStatusDisabled))
	_, err = h.svc.Login(ctx, LoginInput{Proof: "alice", DeviceID: "d1"})
	require.ErrorIs(t, err, apperr.ErrUnauthorized)
}

func TestLogin_SecondDeviceIsPending(t *testing.T) {
	h := newHarness(t, options{})
	first := h.login(t, "alice", "d1", ipLondon)
	h.clock.Advance(time.Hour)
	second := h.login(t, "alice", "d2", ipLondon)

	assert.Equal(t, sessiondomain.StatusPendingConcurrent, second.SessionStatus)
	assert.Equal(t, first.SessionID, second.ConcurrentSessionID)
	assert.Equal(t, sessiondomain.StatusActive, h.session(t, first.SessionID).Status)

	// Concurrent narrative only.
	assert.EqualValues(t, 1, h.count(t, "u1", auditdomain.ConcurrentSessionDetected))
	assert.EqualValues(t, 1, h.count(t, "u1", auditdomain.LoginSuccess))
	assert.EqualValues(t, 0, h.count(t, "u1", auditdomain.NewDeviceDetected))

	// A pending session cannot call the API yet.
	_, err := h.svc.ValidateAccess(context.Background(), second.AccessToken)
	require.ErrorIs(t, err, apperr.ErrUnauthorized)
}

func TestLogin_SameDeviceSupersedes(t *testing.T) {
	h := newHarness(t, options{})
	first := h.login(t, "alice", "d1", ipLondon)
	h.clock.Advance(time.Hour)
	second := h.login(t, "alice", "d1", ipLondon)

	assert.Equal(t, sessiondomain.StatusActive, second.SessionStatus)
	old := h.session(t, first.SessionID)
	assert.Equal(t, sessiondomain.StatusRevoked, old.Status)
	assert.Equal(t, sessiondomain.ReasonSuperseded, old.RevokedReason)

	_, err := h.svc.Refresh(context.Background(), first.RefreshToken, "d1")
	require.ErrorIs(t, err, apperr.ErrUnauthorized)
}

func TestLogin_ImpossibleTravel(t *testing.T) {
	h := newHarness(t, options{})
	h.login(t, "alice", "d1", ipOrigin)
	h.clock.Advance(10 * time.Minute)
	res := h.login(t, "alice", "d1", ipLondon)

	assert.True(t, res.Anomaly.IsAnomalous)
	assert.Equal(t, anomaly.TypeImpossibleTravel, res.Anomaly.Type)
	assert.InDelta(t, 5726.5, res.Anomaly.DistanceKm, 1)
	assert.Greater(t, res.Anomaly.RequiredSpeedKmh, 30000.0)
	assert.Equal(t, sessiondomain.StatusActive, res.SessionStatus, "no escalator configured")

	assert.EqualValues(t, 1, h.count(t, "u1", auditdomain.AnomalousLoginDetected))
	assert.EqualValues(t, 1, h.count(t, "u1", auditdomain.LoginSuccess), "only the first login succeeded plainly")
	assert.EqualValues(t, 0, h.count(t, "u1", auditdomain.NewDeviceDetected))

	events, err := h.events.FindAll(context.Background(), auditdomain.Filter{UserID: "u1", Codes: []auditdomain.EventCode{auditdomain.AnomalousLoginDetected}}, 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "IMPOSSIBLE_TRAVEL", events[0].Metadata["type"])
	assert.Equal(t, res.SessionID, events[0].Metadata["session_id"])
}

func TestLogin_AnomalousNewDevice(t *testing.T) {
	h := newHarness(t, options{})
	first := h.login(t, "alice", "d1", ipLondon)
	require.NoError(t, h.svc.Logout(context.Background(), first.RefreshToken, "d1"))
	h.clock.Advance(2 * time.Minute)
	res := h.login(t, "alice", "d2", ipLondon)

	assert.Equal(t, anomaly.TypeNewDeviceQuickChange, res.Anomaly.Type)
	assert.Equal(t, sessiondomain.StatusActive, res.SessionStatus)
	assert.EqualValues(t, 1, h.count(t, "u1", auditdomain.AnomalousLoginDetected))
	assert.EqualValues(t, 1, h.count(t, "u1", auditdomain.NewDeviceDetected))
	assert.EqualValues(t, 1, h.count(t, "u1", auditdomain.LoginSuccess))
}

func TestLogin_NewDeviceWithoutAnomaly(t *testing.T) {
	h := newHarness(t, options{})
	first := h.login(t, "alice", "d1", ipLondon)
	require.NoError(t, h.svc.Logout(context.Background(), first.RefreshToken, "d1"))
	h.clock.Advance(time.Hour)
	res := h.login(t, "alice", "d2", ipLondon)

	assert.False(t, res.Anomaly.IsAnomalous)
	assert.EqualValues(t, 0, h.count(t, "u1", auditdomain.AnomalousLoginDetected))
	assert.EqualValues(t, 1, h.count(t, "u1", auditdomain.NewDeviceDetected))
	assert.EqualValues(t, 2, h.count(t, "u1", auditdomain.LoginSuccess))
}

func TestLogin_ParallelLeavesOneActive(t *testing.T) {
	for _, sameDevice := range []bool{false, true} {
		t.Run(fmt.Sprintf("sameDevice=%v", sameDevice), func(t *testing.T) {
			h := newHarness(t, options{pendingCap: 3})
			const n = 12
			var wg sync.WaitGroup
			errs := make(chan error, n)
			for i := 0; i < n; i++ {
				device := fmt.Sprintf("d%d", i)
				if sameDevice {
					device = "d0"
				}
				wg.Add(1)
				go func(device string) {
					defer wg.Done()
					_, err := h.svc.Login(context.Background(), LoginInput{Proof: "alice", DeviceID: device})
					errs <- err
				}(device)
			}
			wg.Wait()
			close(errs)
			for err := range errs {
				require.NoError(t, err)
			}
			assert.Equal(t, 1, h.activeCount(t, "u1"))

			pending, err := h.store.Sessions().ListPendingByUser(context.Background(), "u1")
			require.NoError(t, err)
			assert.LessOrEqual(t, len(pending), 3)
		})
	}
}

func TestRefresh_RotatesOnce(t *testing.T) {
	for _, noBlacklist := range []bool{false, true} {
		t.Run(fmt.Sprintf("noBlacklist=%v", noBlacklist), func(t *testing.T) {
			h := newHarness(t, options{noBlacklist: noBlacklist})
			ctx := context.Background()
			login := h.login(t, "alice", "d1", ipLondon)

			h.clock.Advance(time.Minute)
			next, err := h.svc.Refresh(ctx, login.RefreshToken, "d1")
			require.NoError(t, err)
			assert.NotEqual(t, login.RefreshToken, next.RefreshToken)

			claims, err := h.svc.ValidateAccess(ctx, next.AccessToken)
			require.NoError(t, err)
			assert.Equal(t, login.SessionID, claims.SessionID, "session id is stable across rotations")

			sess := h.session(t, login.SessionID)
			assert.Equal(t, security.HashRefreshToken(next.RefreshToken), sess.RefreshTokenHash)
			assert.Equal(t, h.clock.Now(), sess.LastActivityAt)

			_, err = h.svc.Refresh(ctx, login.RefreshToken, "d1")
			require.ErrorIs(t, err, apperr.ErrUnauthorized, "old token is single-use")

			_, err = h.svc.Refresh(ctx, next.RefreshToken, "d1")
			require.NoError(t, err)

			if !noBlacklist {
				h.async.Wait()
				listed, err := h.bl.Contains(ctx, security.HashRefreshToken(login.RefreshToken))
				require.NoError(t, err)
				assert.True(t, listed)
			}
		})
	}
}

func TestRefresh_DeviceMismatchLeavesStateUnchanged(t *testing.T) {
	h := newHarness(t, options{})
	ctx := context.Background()
	login := h.login(t, "alice", "d1", ipLondon)
	before := h.session(t, login.SessionID)

	_, err := h.svc.Refresh(ctx, login.RefreshToken, "d2")
	require.ErrorIs(t, err, apperr.ErrUnauthorized)

	after := h.session(t, login.SessionID)
	assert.Equal(t, before.Status, after.Status)
	assert.Equal(t, before.RefreshTokenHash, after.RefreshTokenHash)

	_, err = h.svc.Refresh(ctx, login.RefreshToken, "d1")
	require.NoError(t, err, "token is still usable from the right device")
}

func TestRefresh_ExpiredSession(t *testing.T) {
	h := newHarness(t, options{})
	login := h.login(t, "alice", "d1", ipLondon)
	h.clock.Advance(25 * time.Hour)

	_, err := h.svc.Refresh(context.Background(), login.RefreshToken, "d1")
	require.ErrorIs(t, err, apperr.ErrUnauthorized)
	sess := h.session(t, login.SessionID)
	assert.Equal(t, sessiondomain.StatusRevoked, sess.Status)
	assert.Equal(t, sessiondomain.ReasonExpired, sess.RevokedReason)
}

func TestResolve_KeepExisting(t *testing.T) {
	h := newHarness(t, options{})
	ctx := context.Background()
	first := h.login(t, "alice", "d1", ipLondon)
	h.clock.Advance(time.Hour)
	second := h.login(t, "alice", "d2", ipLondon)

	kept, err := h.svc.ResolveConcurrentSession(ctx, second.RefreshToken, "d2", "KEEP_EXISTING", RequestMeta{IP: ipLondon})
	require.NoError(t, err)
	assert.Equal(t, "", kept)

	assert.Equal(t, sessiondomain.StatusActive, h.session(t, first.SessionID).Status)
	assert.Equal(t, sessiondomain.StatusRevoked, h.session(t, second.SessionID).Status)
	_, err = h.svc.Refresh(ctx, first.RefreshToken, "d1")
	require.NoError(t, err)
	_, err = h.svc.Refresh(ctx, second.RefreshToken, "d2")
	require.ErrorIs(t, err, apperr.ErrUnauthorized)
	assert.EqualValues(t, 1, h.count(t, "u1", auditdomain.ConcurrentSessionResolved))
}

func TestResolve_KeepNew(t *testing.T) {
	h := newHarness(t, options{})
	ctx := context.Background()
	first := h.login(t, "alice", "d1", ipLondon)
	h.clock.Advance(time.Hour)
	second := h.login(t, "alice", "d2", ipLondon)

	kept, err := h.svc.ResolveConcurrentSession(ctx, second.RefreshToken, "d2", "KEEP_NEW", RequestMeta{})
	require.NoError(t, err)
	assert.Equal(t, second.SessionID, kept)
	assert.Equal(t, 1, h.activeCount(t, "u1"))

	old := h.session(t, first.SessionID)
	assert.Equal(t, sessiondomain.StatusRevoked, old.Status)
	assert.Equal(t, sessiondomain.ReasonDisplaced, old.RevokedReason)
	_, err = h.svc.ValidateAccess(ctx, first.AccessToken)
	require.ErrorIs(t, err, apperr.ErrUnauthorized)
	_, err = h.svc.ValidateAccess(ctx, second.AccessToken)
	require.NoError(t, err)
}

func TestResolve_Errors(t *testing.T) {
	h := newHarness(t, options{})
	ctx := context.Background()
	first := h.login(t, "alice", "d1", ipLondon)

	_, err := h.svc.ResolveConcurrentSession(ctx, first.RefreshToken, "d1", "KEEP_NEW", RequestMeta{})
	require.ErrorIs(t, err, apperr.ErrConflict)

	_, err = h.svc.ResolveConcurrentSession(ctx, first.RefreshToken, "d1", "MAYBE", RequestMeta{})
	require.ErrorIs(t, err, apperr.ErrInvalidArgument)

	_, err = h.svc.ResolveConcurrentSession(ctx, first.RefreshToken, "d9", "KEEP_NEW", RequestMeta{})
	require.ErrorIs(t, err, apperr.ErrUnauthorized)
}

func TestLockdown_BlockedRejectsRefreshAcceptsReauth(t *testing.T) {
	h := newHarness(t, options{escalator: true, autoLockdown: true})
	ctx := context.Background()
	h.login(t, "alice", "d1", ipOrigin)
	h.clock.Advance(10 * time.Minute)
	res := h.login(t, "alice", "d1", ipLondon)

	require.Equal(t, sessiondomain.StatusBlockedPendingReauth, res.SessionStatus)
	assert.Equal(t, sessiondomain.StatusBlockedPendingReauth, h.session(t, res.SessionID).Status)
	assert.EqualValues(t, 1, h.count(t, "u1", auditdomain.StrikeThresholdReached))
	assert.EqualValues(t, 1, h.count(t, "u1", auditdomain.SessionLockedDown))

	_, err := h.svc.Refresh(ctx, res.RefreshToken, "d1")
	require.ErrorIs(t, err, apperr.ErrUnauthorized)
	_, err = h.svc.ValidateAccess(ctx, res.AccessToken)
	require.ErrorIs(t, err, apperr.ErrUnauthorized)

	_, err = h.svc.ReauthAfterLockdown(ctx, "bob", res.RefreshToken, "d1", RequestMeta{})
	require.ErrorIs(t, err, apperr.ErrUnauthorized, "another user's identity")
	assert.Equal(t, sessiondomain.StatusBlockedPendingReauth, h.session(t, res.SessionID).Status)

	re, err := h.svc.ReauthAfterLockdown(ctx, "alice", res.RefreshToken, "d1", RequestMeta{IP: ipLondon})
	require.NoError(t, err)
	assert.Equal(t, sessiondomain.StatusActive, re.SessionStatus)
	assert.Equal(t, res.SessionID, re.SessionID)
	assert.Equal(t, sessiondomain.StatusActive, h.session(t, res.SessionID).Status)
	assert.EqualValues(t, 1, h.count(t, "u1", auditdomain.ReauthSuccess))

	_, err = h.svc.Refresh(ctx, res.RefreshToken, "d1")
	require.ErrorIs(t, err, apperr.ErrUnauthorized, "blocked-era token was rotated")
	_, err = h.svc.Refresh(ctx, re.RefreshToken, "d1")
	require.NoError(t, err)
}

func TestLockdown_NotifyOnlyByDefault(t *testing.T) {
	h := newHarness(t, options{escalator: true})
	h.login(t, "alice", "d1", ipOrigin)
	h.clock.Advance(10 * time.Minute)
	res := h.login(t, "alice", "d1", ipLondon)

	assert.Equal(t, sessiondomain.StatusActive, res.SessionStatus)
	assert.EqualValues(t, 1, h.count(t, "u1", auditdomain.StrikeThresholdReached))
	assert.EqualValues(t, 0, h.count(t, "u1", auditdomain.SessionLockedDown))
}

func TestReauth_RequiresBlockedSession(t *testing.T) {
	h := newHarness(t, options{})
	login := h.login(t, "alice", "d1", ipLondon)
	_, err := h.svc.ReauthAfterLockdown(context.Background(), "alice", login.RefreshToken, "d1", RequestMeta{})
	require.ErrorIs(t, err, apperr.ErrUnauthorized)
	assert.Equal(t, sessiondomain.StatusActive, h.session(t, login.SessionID).Status)
}

func TestLogout(t *testing.T) {
	h := newHarness(t, options{})
	ctx := context.Background()
	login := h.login(t, "alice", "d1", ipLondon)

	require.NoError(t, h.svc.Logout(ctx, login.RefreshToken, "d1"))
	sess := h.session(t, login.SessionID)
	assert.Equal(t, sessiondomain.StatusRevoked, sess.Status)
	assert.Equal(t, sessiondomain.ReasonLogout, sess.RevokedReason)
	assert.EqualValues(t, 1, h.count(t, "u1", auditdomain.SessionRevoked))

	require.ErrorIs(t, h.svc.Logout(ctx, login.RefreshToken, "d1"), apperr.ErrUnauthorized)
	_, err := h.svc.ValidateAccess(ctx, login.AccessToken)
	require.ErrorIs(t, err, apperr.ErrUnauthorized)
}

func TestBanUser(t *testing.T) {
	h := newHarness(t, options{})
	ctx := context.Background()
	first := h.login(t, "alice", "d1", ipLondon)
	second := h.login(t, "alice", "d2", ipLondon)

	n, err := h.svc.BanUser(ctx, "u1", "u2")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, sessiondomain.StatusRevoked, h.session(t, first.SessionID).Status)
	assert.Equal(t, sessiondomain.StatusRevoked, h.session(t, second.SessionID).Status)
	assert.EqualValues(t, 1, h.count(t, "u1", auditdomain.UserBanned))

	_, err = h.svc.Login(ctx, LoginInput{Proof: "alice", DeviceID: "d1"})
	require.ErrorIs(t, err, apperr.ErrUnauthorized)

	h.async.Wait()
	for _, tok := range []string{first.RefreshToken, second.RefreshToken} {
		listed, err := h.bl.Contains(ctx, security.HashRefreshToken(tok))
		require.NoError(t, err)
		assert.True(t, listed)
	}

	_, err = h.svc.BanUser(ctx, "nobody", "u2")
	require.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestListSessions(t *testing.T) {
	h := newHarness(t, options{})
	h.login(t, "alice", "d1", ipLondon)
	h.clock.Advance(time.Minute)
	second := h.login(t, "alice", "d2", ipLondon)

	list, err := h.svc.ListSessions(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, second.SessionID, list[0].ID, "newest first")
}
