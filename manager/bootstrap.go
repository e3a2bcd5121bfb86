package manager

import (
	"context"

	"github.com/jrsteele09/go-auth-client/backend"
	"github.com/jrsteele09/go-auth-client/broadcast"
	"github.com/jrsteele09/go-auth-client/intent"
	"github.com/jrsteele09/go-auth-client/session"
	"github.com/pkg/errors"
)

// recoveryGrant holds the single-purpose credentials a recovery link carried.
// They are consumed exactly once, by CompleteRecovery.
type recoveryGrant struct {
	accessToken  string
	refreshToken string
	tokenHash    string
}

const verificationPendingQuery = "?auth_action=login&verification_pending=true"

// LoadResult is the outcome of classifying and acting on one page load.
type LoadResult struct {
	Intent intent.Intent
	State  session.State

	// Redirect is the route the shell should navigate to, empty for none.
	Redirect string

	// LoginRequired reports that the flow needs an authenticated user the
	// process does not have; Redirect then points at the login route.
	LoginRequired bool
}

// Bootstrap classifies the navigation and runs the matching load flow. The
// classifier runs before any session restore: a recovery link closes the
// recovery gate and suppresses initialization, scheduling, and redirects to
// authenticated routes, so the single-purpose recovery token cannot be
// silently consumed as a login.
func (m *Manager) Bootstrap(ctx context.Context, rawURL string) (LoadResult, error) {
	classified, err := intent.Classify(rawURL, m.cfg)
	if err != nil {
		return LoadResult{}, errors.Wrap(err, "[Bootstrap]")
	}

	switch classified.Kind {
	case intent.KindRecovery:
		return m.bootstrapRecovery(classified)
	case intent.KindMagicLink:
		return m.bootstrapMagicLink(ctx, classified)
	case intent.KindEmailVerification:
		return m.bootstrapVerification(ctx, classified)
	default:
		return m.bootstrapNormal(ctx, classified)
	}
}

func (m *Manager) bootstrapRecovery(classified intent.Intent) (LoadResult, error) {
	m.mu.Lock()
	m.recovery = true
	m.recoveryGrant = recoveryGrant{
		accessToken:  classified.AccessToken,
		refreshToken: classified.RefreshToken,
		tokenHash:    classified.VerificationToken,
	}
	st := m.state
	m.mu.Unlock()

	m.log.Info().Msg("manager: recovery load, auth side effects suspended")
	m.emit(backend.EventPasswordRecovery)

	return LoadResult{
		Intent:   classified,
		State:    st,
		Redirect: m.cfg.GetResetPasswordRoute(),
	}, nil
}

func (m *Manager) bootstrapMagicLink(ctx context.Context, classified intent.Intent) (LoadResult, error) {
	callCtx, cancel := context.WithTimeout(ctx, m.cfg.GetRequestTimeout())
	defer cancel()

	var sess *session.Session
	var err error
	if classified.VerificationToken != "" {
		sess, err = m.backend.VerifyOTP(callCtx, classified.VerificationToken, backend.OTPMagicLink)
	} else {
		sess, err = m.backend.SetSession(callCtx, classified.AccessToken, classified.RefreshToken)
	}
	if err != nil {
		kind := session.KindOf(err)
		st := m.commit(session.Invalid(kind), nil, kind)
		return LoadResult{Intent: classified, State: st}, errors.Wrap(kind, "[Bootstrap] magic link")
	}

	check := session.Validate(sess, m.nowTime(), m.cfg.GetRefreshThreshold())
	user, _ := m.fetchUser(ctx)
	st := m.commit(session.Active(sess, check.NeedsRefresh), user, nil)
	m.markInitialized()
	m.emit(backend.EventSignedIn)
	m.StartAutoRefresh()

	return LoadResult{
		Intent:   classified,
		State:    st,
		Redirect: m.cfg.GetLandingRoute(),
	}, nil
}

func (m *Manager) bootstrapVerification(ctx context.Context, classified intent.Intent) (LoadResult, error) {
	// Signup tokens mint the account's first session, so they are redeemed
	// up front. An email-change token belongs to an existing account and is
	// single purpose: without an authenticated session it must survive
	// unredeemed until the user has logged in.
	if classified.VerificationToken != "" && classified.VerificationKind == intent.VerificationSignup {
		m.redeemVerification(ctx, classified)
	}

	st, err := m.Initialize(ctx)
	if err != nil {
		return LoadResult{Intent: classified, State: st}, errors.Wrap(err, "[Bootstrap] verification")
	}

	if st.Status != session.StatusActive {
		return LoadResult{
			Intent:        classified,
			State:         st,
			Redirect:      m.cfg.GetLoginRoute() + verificationPendingQuery,
			LoginRequired: true,
		}, nil
	}

	if classified.VerificationToken != "" && classified.VerificationKind == intent.VerificationEmailChange {
		if m.redeemVerification(ctx, classified) {
			st = m.Snapshot().State
		}
	}
	m.StartAutoRefresh()
	return LoadResult{
		Intent:   classified,
		State:    st,
		Redirect: m.cfg.GetVerificationSuccessRoute(),
	}, nil
}

// redeemVerification exchanges a verification token and commits the session
// it yields. Failures are recorded, not fatal: the load continues and the
// shell surfaces LastError.
func (m *Manager) redeemVerification(ctx context.Context, classified intent.Intent) bool {
	callCtx, cancel := context.WithTimeout(ctx, m.cfg.GetRequestTimeout())
	defer cancel()

	sess, err := m.backend.VerifyOTP(callCtx, classified.VerificationToken, backend.OTPType(classified.VerificationKind))
	if err != nil {
		m.log.Warn().Err(err).Str("kind", string(classified.VerificationKind)).Msg("manager: verification token redemption failed")
		m.setLastError(session.KindOf(err))
		return false
	}

	check := session.Validate(sess, m.nowTime(), m.cfg.GetRefreshThreshold())
	user, _ := m.fetchUser(ctx)
	m.commit(session.Active(sess, check.NeedsRefresh), user, nil)
	return true
}

func (m *Manager) bootstrapNormal(ctx context.Context, classified intent.Intent) (LoadResult, error) {
	st, err := m.Initialize(ctx)
	if err != nil {
		return LoadResult{Intent: classified, State: st}, errors.Wrap(err, "[Bootstrap]")
	}
	if st.Status == session.StatusActive {
		m.StartAutoRefresh()
	}
	return LoadResult{Intent: classified, State: st}, nil
}

// CompleteRecovery consumes the held recovery credentials to establish the
// single-purpose session, updates the password, and ends the flow with a
// local sign-out so the user re-authenticates with the new password
// everywhere.
func (m *Manager) CompleteRecovery(ctx context.Context, newPassword string) error {
	m.mu.Lock()
	if !m.recovery {
		m.mu.Unlock()
		return errors.Wrap(ErrNoRecovery, "[CompleteRecovery]")
	}
	grant := m.recoveryGrant
	m.mu.Unlock()

	callCtx, cancel := context.WithTimeout(ctx, m.cfg.GetRequestTimeout())
	defer cancel()

	var err error
	switch {
	case grant.tokenHash != "":
		_, err = m.backend.VerifyOTP(callCtx, grant.tokenHash, backend.OTPRecovery)
	case grant.accessToken != "" && grant.refreshToken != "":
		_, err = m.backend.SetSession(callCtx, grant.accessToken, grant.refreshToken)
	}
	if err != nil {
		kind := session.KindOf(err)
		m.setLastError(kind)
		return errors.Wrap(kind, "[CompleteRecovery] adopt recovery session")
	}

	if err := m.backend.UpdateUserPassword(callCtx, newPassword); err != nil {
		kind := session.KindOf(err)
		m.setLastError(kind)
		return errors.Wrap(kind, "[CompleteRecovery] update password")
	}

	m.mu.Lock()
	m.recovery = false
	m.recoveryGrant = recoveryGrant{}
	m.mu.Unlock()

	if err := m.backend.SignOut(callCtx, backend.ScopeLocal); err != nil {
		m.log.Warn().Err(err).Msg("manager: sign-out after password recovery failed")
	}
	m.commit(session.Invalid(session.ErrNoSession), nil, nil)
	m.emit(backend.EventSignedOut)
	m.broadcast(ctx, broadcast.TypeSignedOut)
	return nil
}

// AbandonRecovery discards the held recovery credentials and reopens normal
// session restoration.
func (m *Manager) AbandonRecovery() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recovery = false
	m.recoveryGrant = recoveryGrant{}
}
