package manager_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jrsteele09/go-auth-client/backend/backendfake"
	"github.com/jrsteele09/go-auth-client/manager"
	"github.com/jrsteele09/go-auth-client/session"
	"github.com/stretchr/testify/require"
)

func TestRefreshNowRotatesSession(t *testing.T) {
	clock := newFakeClock()
	fake := backendfake.New()
	seedSession(clock, fake, "user-1", time.Hour)
	mgr := newManager(t, fake, clock)

	_, err := mgr.Initialize(context.Background())
	require.NoError(t, err)

	sess, err := mgr.RefreshNow(context.Background(), manager.RefreshOptions{})
	require.NoError(t, err)
	require.Equal(t, "access-1", sess.AccessToken)

	snapshot := mgr.Snapshot()
	require.Equal(t, session.StatusActive, snapshot.State.Status)
	require.Equal(t, sess, snapshot.State.Session)
	require.NoError(t, snapshot.LastError)
	require.Equal(t, 1, fake.RefreshCalls())
}

func TestConcurrentRefreshSharesOneBackendCall(t *testing.T) {
	clock := newFakeClock()
	fake := backendfake.New()
	fake.GetSessionDelay = 50 * time.Millisecond
	seedSession(clock, fake, "user-1", time.Hour)
	mgr := newManager(t, fake, clock)

	const callers = 8
	sessions := make([]*session.Session, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sess, err := mgr.RefreshNow(context.Background(), manager.RefreshOptions{Silent: true})
			require.NoError(t, err)
			sessions[i] = sess
		}(i)
	}
	wg.Wait()

	require.Equal(t, 1, fake.RefreshCalls())
	for _, sess := range sessions {
		require.Equal(t, sessions[0], sess)
	}
}

func TestRefreshRetriesTransientFailures(t *testing.T) {
	clock := newFakeClock()
	fake := backendfake.New()
	seedSession(clock, fake, "user-1", time.Hour)
	fake.RefreshErrs = []error{session.ErrNetwork, session.ErrNetwork, nil}

	var recorder sleepRecorder
	mgr := newManager(t, fake, clock, manager.WithSleep(recorder.Sleep))

	sess, err := mgr.RefreshNow(context.Background(), manager.RefreshOptions{Silent: true})
	require.NoError(t, err)
	require.NotNil(t, sess)
	require.Equal(t, 3, fake.RefreshCalls())
	require.Equal(t, []time.Duration{time.Second, 2 * time.Second}, recorder.recorded())
}

func TestRefreshExhaustionInvalidatesSession(t *testing.T) {
	clock := newFakeClock()
	fake := backendfake.New()
	seedSession(clock, fake, "user-1", time.Hour)
	fake.RefreshErr = session.ErrNetwork

	var recorder sleepRecorder
	mgr := newManager(t, fake, clock, manager.WithSleep(recorder.Sleep))

	_, err := mgr.RefreshNow(context.Background(), manager.RefreshOptions{Silent: true})
	require.ErrorIs(t, err, session.ErrSessionExpired)
	require.Equal(t, 3, fake.RefreshCalls())
	require.Equal(t, []time.Duration{time.Second, 2 * time.Second}, recorder.recorded())

	snapshot := mgr.Snapshot()
	require.Equal(t, session.StatusInvalid, snapshot.State.Status)
	require.ErrorIs(t, snapshot.State.Reason, session.ErrSessionExpired)
	require.ErrorIs(t, snapshot.LastError, session.ErrSessionExpired)
}

func TestRefreshTerminalFailureIsNotRetried(t *testing.T) {
	clock := newFakeClock()
	fake := backendfake.New()
	seedSession(clock, fake, "user-1", time.Hour)
	fake.RefreshErr = session.ErrInvalidToken

	var recorder sleepRecorder
	mgr := newManager(t, fake, clock, manager.WithSleep(recorder.Sleep))

	_, err := mgr.RefreshNow(context.Background(), manager.RefreshOptions{Silent: true})
	require.ErrorIs(t, err, session.ErrInvalidToken)
	require.Equal(t, 1, fake.RefreshCalls())
	require.Empty(t, recorder.recorded())

	snapshot := mgr.Snapshot()
	require.Equal(t, session.StatusInvalid, snapshot.State.Status)
	require.ErrorIs(t, snapshot.State.Reason, session.ErrInvalidToken)
}

func TestRefreshRateLimitedKeepsSession(t *testing.T) {
	clock := newFakeClock()
	fake := backendfake.New()
	seedSession(clock, fake, "user-1", time.Hour)
	fake.RefreshErr = session.ErrRateLimited
	mgr := newManager(t, fake, clock)

	st, err := mgr.Initialize(context.Background())
	require.NoError(t, err)
	require.Equal(t, session.StatusActive, st.Status)

	_, err = mgr.RefreshNow(context.Background(), manager.RefreshOptions{Silent: true})
	require.ErrorIs(t, err, session.ErrRateLimited)

	snapshot := mgr.Snapshot()
	require.Equal(t, session.StatusActive, snapshot.State.Status, "rate limiting must not clear a live session")
	require.ErrorIs(t, snapshot.LastError, session.ErrRateLimited)
}

func TestRefreshWithoutStoredSession(t *testing.T) {
	clock := newFakeClock()
	fake := backendfake.New()
	mgr := newManager(t, fake, clock)

	_, err := mgr.RefreshNow(context.Background(), manager.RefreshOptions{Silent: true})
	require.ErrorIs(t, err, session.ErrNoSession)
	require.Equal(t, 0, fake.RefreshCalls())
	require.Equal(t, session.StatusInvalid, mgr.Snapshot().State.Status)
}

func TestRefreshPartialProfileFailure(t *testing.T) {
	clock := newFakeClock()
	fake := backendfake.New()
	seedSession(clock, fake, "user-1", time.Hour)
	mgr := newManager(t, fake, clock)

	_, err := mgr.Initialize(context.Background())
	require.NoError(t, err)
	priorUser := mgr.Snapshot().User
	require.NotNil(t, priorUser)

	fake.GetUserErr = session.ErrNetwork
	sess, err := mgr.RefreshNow(context.Background(), manager.RefreshOptions{Silent: true})
	require.NoError(t, err, "a failed profile read must not fail a successful refresh")

	snapshot := mgr.Snapshot()
	require.Equal(t, session.StatusActive, snapshot.State.Status)
	require.Equal(t, sess, snapshot.State.Session)
	require.Equal(t, priorUser, snapshot.User, "previous profile is kept on partial failure")
	require.ErrorIs(t, snapshot.LastError, session.ErrProfileFetch)
}

func TestRefreshCustomRetryBudget(t *testing.T) {
	clock := newFakeClock()
	fake := backendfake.New()
	seedSession(clock, fake, "user-1", time.Hour)
	fake.RefreshErr = session.ErrNetwork

	var recorder sleepRecorder
	mgr := newManager(t, fake, clock, manager.WithSleep(recorder.Sleep))

	_, err := mgr.RefreshNow(context.Background(), manager.RefreshOptions{Silent: true, MaxRetries: 5})
	require.ErrorIs(t, err, session.ErrSessionExpired)
	require.Equal(t, 5, fake.RefreshCalls())
	require.Equal(t, []time.Duration{
		time.Second, 2 * time.Second, 4 * time.Second, 5 * time.Second,
	}, recorder.recorded())
}

func TestScheduledSilentRefresh(t *testing.T) {
	clock := newFakeClock()
	fake := backendfake.New()
	mgr := newManager(t, fake, clock)

	st, err := mgr.SignIn(context.Background(), "user-1", "hunter2")
	require.NoError(t, err)
	require.Equal(t, session.StatusActive, st.Status)
	firstToken := st.Session.AccessToken

	// 55 minutes into a one-hour session the remaining lifetime crosses the
	// ten-minute refresh threshold.
	clock.Advance(55 * time.Minute)

	require.Eventually(t, func() bool {
		snapshot := mgr.Snapshot()
		return snapshot.State.Status == session.StatusActive &&
			snapshot.State.Session.AccessToken != firstToken
	}, time.Second, 5*time.Millisecond, "scheduled refresh must rotate the session")

	snapshot := mgr.Snapshot()
	require.NoError(t, snapshot.LastError)
	require.True(t, snapshot.State.Session.ExpiresAt.After(clock.Now().Add(50*time.Minute)))
}

func TestStopAutoRefreshIsDeterministic(t *testing.T) {
	clock := newFakeClock()
	fake := backendfake.New()
	mgr := newManager(t, fake, clock)

	_, err := mgr.SignIn(context.Background(), "user-1", "hunter2")
	require.NoError(t, err)

	mgr.StopAutoRefresh()
	refreshesAtStop := fake.RefreshCalls()

	clock.Advance(55 * time.Minute)
	time.Sleep(50 * time.Millisecond)
	require.Equal(t, refreshesAtStop, fake.RefreshCalls(), "no tick may fire after stop")

	mgr.StopAutoRefresh()
}

func TestSchedulerRestartsOnIdentityChange(t *testing.T) {
	clock := newFakeClock()
	fake := backendfake.New()
	mgr := newManager(t, fake, clock)

	_, err := mgr.SignIn(context.Background(), "user-1", "hunter2")
	require.NoError(t, err)

	// Signing in as a different principal must tear the old timer down and
	// schedule against the new session, never the stale one.
	st, err := mgr.SignIn(context.Background(), "user-2", "hunter2")
	require.NoError(t, err)
	firstToken := st.Session.AccessToken

	clock.Advance(55 * time.Minute)

	require.Eventually(t, func() bool {
		snapshot := mgr.Snapshot()
		return snapshot.State.Status == session.StatusActive &&
			snapshot.State.Session.AccessToken != firstToken
	}, time.Second, 5*time.Millisecond, "scheduled refresh must rotate the new identity's session")

	snapshot := mgr.Snapshot()
	require.Equal(t, "user-2", snapshot.State.Session.SubjectID)
	require.NoError(t, snapshot.LastError)
}
