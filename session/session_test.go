package session_test

import (
	"context"
	"testing"
	"time"

	"github.com/jrsteele09/go-auth-client/session"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func testSession(expiresAt time.Time) *session.Session {
	return &session.Session{
		AccessToken:  "access-token",
		RefreshToken: "refresh-token",
		ExpiresAt:    expiresAt,
		SubjectID:    "user-1",
	}
}

func TestValidateExpiry(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name         string
		expiresAt    time.Time
		valid        bool
		needsRefresh bool
	}{
		{"expired an hour ago", now.Add(-time.Hour), false, false},
		{"expires exactly now", now, false, false},
		{"expires in one second", now.Add(time.Second), true, true},
		{"expires in 9 minutes", now.Add(9 * time.Minute), true, true},
		{"expires exactly at threshold", now.Add(10 * time.Minute), true, true},
		{"expires in 11 minutes", now.Add(11 * time.Minute), true, false},
		{"expires in an hour", now.Add(time.Hour), true, false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			v := session.Validate(testSession(tc.expiresAt), now, session.DefaultRefreshThreshold)
			require.Equal(t, tc.valid, v.Valid)
			require.Equal(t, tc.needsRefresh, v.NeedsRefresh)
			if !tc.valid {
				require.ErrorIs(t, v.Reason, session.ErrSessionExpired)
			}
		})
	}
}

func TestValidateMissingSession(t *testing.T) {
	now := time.Now()

	v := session.Validate(nil, now, 0)
	require.False(t, v.Valid)
	require.ErrorIs(t, v.Reason, session.ErrNoSession)

	v = session.Validate(&session.Session{RefreshToken: "rt"}, now, 0)
	require.False(t, v.Valid)
	require.ErrorIs(t, v.Reason, session.ErrNoSession)
}

func TestSameIdentity(t *testing.T) {
	a := testSession(time.Now().Add(time.Hour))
	b := testSession(time.Now().Add(2 * time.Hour))
	require.True(t, session.SameIdentity(a, b))

	b.SubjectID = "user-2"
	require.False(t, session.SameIdentity(a, b))
	require.False(t, session.SameIdentity(a, nil))
	require.True(t, session.SameIdentity(nil, nil))
}

func TestKindOf(t *testing.T) {
	require.NoError(t, session.KindOf(nil))

	wrapped := errors.Wrap(session.ErrRateLimited, "[RefreshSession] provider said slow down")
	require.ErrorIs(t, session.KindOf(wrapped), session.ErrRateLimited)

	require.ErrorIs(t, session.KindOf(context.DeadlineExceeded), session.ErrNetwork)
	require.ErrorIs(t, session.KindOf(errors.New("something else")), session.ErrUnknown)
}

func TestRetryable(t *testing.T) {
	require.True(t, session.Retryable(session.ErrNetwork))
	require.True(t, session.Retryable(context.DeadlineExceeded))
	require.False(t, session.Retryable(session.ErrInvalidToken))
	require.False(t, session.Retryable(session.ErrUserDisabled))
	require.False(t, session.Retryable(session.ErrRateLimited))
}
