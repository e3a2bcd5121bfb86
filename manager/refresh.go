package manager

import (
	"context"

	"github.com/jrsteele09/go-auth-client/backend"
	"github.com/jrsteele09/go-auth-client/broadcast"
	"github.com/jrsteele09/go-auth-client/internal/backoff"
	"github.com/jrsteele09/go-auth-client/session"
	"github.com/pkg/errors"
)

// RefreshOptions tune one refresh operation. Silence is presentational only:
// retry and commit semantics are identical either way.
type RefreshOptions struct {
	// Silent suppresses the Loading state transition.
	Silent bool

	// MaxRetries overrides the configured attempt budget when positive.
	MaxRetries int
}

// RefreshNow exchanges the stored refresh token for a new session. Concurrent
// callers share one in-flight operation and one backend call; transient
// failures are retried with capped exponential backoff. On exhaustion the
// state becomes Invalid(SessionExpired) and siblings are told, but no
// navigation happens here.
func (m *Manager) RefreshNow(ctx context.Context, opts RefreshOptions) (*session.Session, error) {
	m.mu.Lock()
	if f := m.refreshFlight; f != nil {
		m.mu.Unlock()
		select {
		case <-f.done:
			return f.sess, f.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f := &flight{done: make(chan struct{})}
	m.refreshFlight = f
	prevUser := m.user
	m.mu.Unlock()

	if !opts.Silent {
		m.commit(session.Loading(), prevUser, nil)
	}

	sess, err := m.refresh(ctx, opts)

	m.mu.Lock()
	m.refreshFlight = nil
	f.sess = sess
	f.err = err
	close(f.done)
	m.mu.Unlock()
	return sess, err
}

// refresh runs the get-session, refresh-session, fetch-profile pipeline and
// commits the outcome.
func (m *Manager) refresh(ctx context.Context, opts RefreshOptions) (*session.Session, error) {
	policy := backoff.Policy{
		BaseDelay:   m.cfg.GetBaseRetryDelay(),
		Cap:         m.cfg.GetRetryDelayCap(),
		MaxAttempts: m.cfg.GetMaxRetryAttempts(),
	}
	if opts.MaxRetries > 0 {
		policy.MaxAttempts = opts.MaxRetries
	}

	var fresh *session.Session
	err := backoff.Retry(ctx, policy, m.sleep, session.Retryable, func(ctx context.Context) error {
		callCtx, cancel := context.WithTimeout(ctx, m.cfg.GetRequestTimeout())
		defer cancel()

		current, err := m.backend.GetSession(callCtx)
		if err != nil {
			return errors.Wrap(err, "get session")
		}
		if current == nil {
			return errors.Wrap(session.ErrNoSession, "get session")
		}

		fresh, err = m.backend.RefreshSession(callCtx)
		if err != nil {
			return errors.Wrap(err, "refresh session")
		}
		return nil
	})
	if err != nil {
		return nil, m.failRefresh(ctx, err)
	}

	check := session.Validate(fresh, m.nowTime(), m.cfg.GetRefreshThreshold())

	m.mu.Lock()
	prevUser := m.user
	m.mu.Unlock()

	user, profileErr := m.fetchUser(ctx)
	if profileErr != nil {
		// Partial success: the token pair is good, only the profile read
		// failed. Keep the session and the previous profile.
		m.log.Warn().Err(profileErr).Msg("manager: profile fetch after refresh failed")
		m.commit(session.Active(fresh, check.NeedsRefresh), prevUser, session.ErrProfileFetch)
	} else {
		m.commit(session.Active(fresh, check.NeedsRefresh), user, nil)
	}

	m.emit(backend.EventTokenRefreshed)
	m.broadcast(ctx, broadcast.TypeSessionRefreshed)
	return fresh, nil
}

// failRefresh maps a refresh failure onto the committed state per the error
// taxonomy.
func (m *Manager) failRefresh(ctx context.Context, err error) error {
	kind := session.KindOf(err)

	switch {
	case errors.Is(kind, session.ErrRateLimited):
		// The existing session may still be valid; keep it and surface a
		// try-again-later signal.
		m.mu.Lock()
		st, user := m.state, m.user
		m.mu.Unlock()
		if st.Status == session.StatusLoading {
			st = m.recheckCurrent(ctx)
		}
		m.commit(st, user, session.ErrRateLimited)
		return errors.Wrap(session.ErrRateLimited, "[RefreshNow]")

	case errors.Is(kind, session.ErrNetwork):
		// Retries exhausted on transient failures: the session can no
		// longer be proven fresh.
		m.log.Warn().Err(err).Msg("manager: refresh retries exhausted")
		m.commit(session.Invalid(session.ErrSessionExpired), nil, session.ErrSessionExpired)
		m.broadcast(ctx, broadcast.TypeSessionInvalid)
		m.emit(backend.EventSessionInvalid)
		return errors.Wrap(session.ErrSessionExpired, "[RefreshNow] retries exhausted")

	case errors.Is(kind, session.ErrNoSession):
		m.commit(session.Invalid(session.ErrNoSession), nil, nil)
		return errors.Wrap(session.ErrNoSession, "[RefreshNow]")

	default:
		// Terminal: invalid token, disabled user, unauthorized, unknown.
		m.commit(session.Invalid(kind), nil, kind)
		m.broadcast(ctx, broadcast.TypeSessionInvalid)
		m.emit(backend.EventSessionInvalid)
		return errors.Wrap(kind, "[RefreshNow]")
	}
}

// recheckCurrent re-derives the state from storage after an aborted refresh
// left it in Loading.
func (m *Manager) recheckCurrent(ctx context.Context) session.State {
	callCtx, cancel := context.WithTimeout(ctx, m.cfg.GetRequestTimeout())
	defer cancel()

	sess, err := m.backend.GetSession(callCtx)
	if err != nil || sess == nil {
		return session.Invalid(session.ErrNoSession)
	}
	check := session.Validate(sess, m.nowTime(), m.cfg.GetRefreshThreshold())
	if !check.Valid {
		return session.Invalid(check.Reason)
	}
	return session.Active(sess, check.NeedsRefresh)
}
