// Package manager is the session core: it owns the one mutable session
// record, serializes every mutation through a single commit point, and drives
// the backend, the refresh scheduler, and the cross-tab coordinator.
package manager

import (
	"context"
	"sync"
	"time"

	"github.com/jrsteele09/go-auth-client/backend"
	"github.com/jrsteele09/go-auth-client/broadcast"
	"github.com/jrsteele09/go-auth-client/config"
	"github.com/jrsteele09/go-auth-client/internal/backoff"
	"github.com/jrsteele09/go-auth-client/session"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

var (
	// ErrRecoveryInProgress is returned while the recovery gate is closed:
	// between classifying a recovery load and CompleteRecovery or
	// AbandonRecovery, ordinary session restoration is suspended.
	ErrRecoveryInProgress = errors.New("password recovery in progress")

	// ErrNoRecovery is returned by CompleteRecovery when no recovery flow is
	// active.
	ErrNoRecovery = errors.New("no recovery flow in progress")
)

// Deps are the Manager's injected collaborators. Backend is required;
// Coordinator is optional and nil degrades to single-process mode.
type Deps struct {
	Backend     backend.AuthBackend
	Coordinator *broadcast.Coordinator
}

// Status is the renderable snapshot the application shell consumes. The core
// renders nothing itself.
type Status struct {
	State     session.State
	User      *backend.User
	LastError error
}

// EventHandler observes lifecycle events. Called outside the Manager's lock;
// handlers may call back into the Manager.
type EventHandler func(event backend.Event)

// flight is a shared in-flight operation: concurrent callers wait on done and
// read the same result instead of racing to issue their own backend call.
type flight struct {
	done  chan struct{}
	state session.State
	sess  *session.Session
	err   error
}

// Manager owns SessionState. All writes go through commit; everything else
// reads snapshots.
type Manager struct {
	backend     backend.AuthBackend
	coordinator *broadcast.Coordinator
	cfg         config.Config
	log         zerolog.Logger
	nowTime     func() time.Time
	sleep       backoff.SleepFunc
	onEvent     EventHandler

	mu            sync.Mutex
	state         session.State
	user          *backend.User
	lastErr       error
	initDone      bool
	initFlight    *flight
	refreshFlight *flight

	recovery      bool
	recoveryGrant recoveryGrant

	sched scheduler
}

// Option configures a Manager.
type Option func(*Manager)

// WithNowTime replaces the wall clock, for tests.
func WithNowTime(now func() time.Time) Option {
	return func(m *Manager) {
		m.nowTime = now
	}
}

// WithLogger sets the logger (default is a no-op logger).
func WithLogger(log zerolog.Logger) Option {
	return func(m *Manager) {
		m.log = log
	}
}

// WithSleep replaces the backoff sleeper, for tests.
func WithSleep(sleep backoff.SleepFunc) Option {
	return func(m *Manager) {
		m.sleep = sleep
	}
}

// WithEventHandler registers a lifecycle event observer.
func WithEventHandler(handler EventHandler) Option {
	return func(m *Manager) {
		m.onEvent = handler
	}
}

// New wires a Manager and, when a coordinator is present, starts replaying
// inbound cross-tab messages into it.
func New(deps Deps, cfg config.Config, options ...Option) (*Manager, error) {
	if deps.Backend == nil {
		return nil, errors.New("[New] Deps.Backend is required")
	}
	if cfg == nil {
		cfg = config.New()
	}

	m := &Manager{
		backend:     deps.Backend,
		coordinator: deps.Coordinator,
		cfg:         cfg,
		log:         zerolog.Nop(),
		nowTime:     time.Now,
		sleep:       backoff.Sleep,
		state:       session.Uninitialized(),
	}
	for _, opt := range options {
		if opt != nil {
			opt(m)
		}
	}

	if m.coordinator != nil {
		m.coordinator.OnMessage(m.handleMessage)
		m.coordinator.Start()
	}
	return m, nil
}

// Snapshot returns the current renderable state.
func (m *Manager) Snapshot() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Status{State: m.state, User: m.user, LastError: m.lastErr}
}

// Initialize restores the session from the backend's persisted storage.
// Exactly one backend read happens per process lifetime; concurrent and
// repeat callers share or reuse that result. While a recovery flow is active
// the restore is suspended and ErrRecoveryInProgress is returned.
func (m *Manager) Initialize(ctx context.Context) (session.State, error) {
	m.mu.Lock()
	if m.recovery {
		st := m.state
		m.mu.Unlock()
		return st, ErrRecoveryInProgress
	}
	if m.initDone {
		st := m.state
		m.mu.Unlock()
		return st, nil
	}
	if f := m.initFlight; f != nil {
		m.mu.Unlock()
		return awaitFlight(ctx, f)
	}
	f := &flight{done: make(chan struct{})}
	m.initFlight = f
	m.mu.Unlock()

	m.commit(session.Loading(), nil, nil)
	st := m.restore(ctx)

	m.mu.Lock()
	m.initDone = true
	m.initFlight = nil
	f.state = st
	close(f.done)
	m.mu.Unlock()
	return st, nil
}

// restore reads the persisted session and derives the resulting state. Backend
// failures become Invalid states, never panics or raw errors.
func (m *Manager) restore(ctx context.Context) session.State {
	callCtx, cancel := context.WithTimeout(ctx, m.cfg.GetRequestTimeout())
	defer cancel()

	sess, err := m.backend.GetSession(callCtx)
	if err != nil {
		kind := session.KindOf(err)
		m.log.Warn().Err(err).Msg("manager: session restore failed")
		return m.commit(session.Invalid(kind), nil, kind)
	}

	check := session.Validate(sess, m.nowTime(), m.cfg.GetRefreshThreshold())
	if !check.Valid {
		return m.commit(session.Invalid(check.Reason), nil, nil)
	}

	user, profileErr := m.fetchUser(ctx)
	if profileErr != nil {
		m.log.Warn().Err(profileErr).Msg("manager: profile fetch during restore failed")
		return m.commit(session.Active(sess, check.NeedsRefresh), nil, session.ErrProfileFetch)
	}
	return m.commit(session.Active(sess, check.NeedsRefresh), user, nil)
}

// SignIn authenticates with credentials, commits the new session, and starts
// the auto-refresh scheduler.
func (m *Manager) SignIn(ctx context.Context, email, password string) (session.State, error) {
	callCtx, cancel := context.WithTimeout(ctx, m.cfg.GetRequestTimeout())
	defer cancel()

	sess, err := m.backend.SignInWithPassword(callCtx, email, password)
	if err != nil {
		kind := session.KindOf(err)
		m.setLastError(kind)
		return m.Snapshot().State, errors.Wrap(kind, "[SignIn]")
	}

	check := session.Validate(sess, m.nowTime(), m.cfg.GetRefreshThreshold())
	user, profileErr := m.fetchUser(ctx)
	var lastErr error
	if profileErr != nil {
		m.log.Warn().Err(profileErr).Msg("manager: profile fetch after sign-in failed")
		lastErr = session.ErrProfileFetch
	}

	st := m.commit(session.Active(sess, check.NeedsRefresh), user, lastErr)
	m.markInitialized()
	m.emit(backend.EventSignedIn)
	m.StartAutoRefresh()
	return st, nil
}

// SignOut revokes the session, clears local state, stops the scheduler, and
// tells sibling processes. Local state is cleared even when revocation fails.
func (m *Manager) SignOut(ctx context.Context, scope backend.SignOutScope) error {
	m.StopAutoRefresh()

	callCtx, cancel := context.WithTimeout(ctx, m.cfg.GetRequestTimeout())
	defer cancel()
	err := m.backend.SignOut(callCtx, scope)

	m.commit(session.Invalid(session.ErrNoSession), nil, nil)
	m.emit(backend.EventSignedOut)
	m.broadcast(ctx, broadcast.TypeSignedOut)

	if err != nil {
		return errors.Wrap(session.KindOf(err), "[SignOut]")
	}
	return nil
}

// VerifyOTP redeems an emailed one-time token and adopts the resulting
// session.
func (m *Manager) VerifyOTP(ctx context.Context, tokenHash string, otpType backend.OTPType) (session.State, error) {
	callCtx, cancel := context.WithTimeout(ctx, m.cfg.GetRequestTimeout())
	defer cancel()

	sess, err := m.backend.VerifyOTP(callCtx, tokenHash, otpType)
	if err != nil {
		kind := session.KindOf(err)
		m.setLastError(kind)
		return m.Snapshot().State, errors.Wrap(kind, "[VerifyOTP]")
	}

	check := session.Validate(sess, m.nowTime(), m.cfg.GetRefreshThreshold())
	user, _ := m.fetchUser(ctx)
	st := m.commit(session.Active(sess, check.NeedsRefresh), user, nil)
	m.markInitialized()
	m.emit(backend.EventSignedIn)
	return st, nil
}

// Close stops the scheduler and shuts the coordinator down. The Manager is
// unusable afterwards.
func (m *Manager) Close() error {
	m.StopAutoRefresh()
	if m.coordinator != nil {
		return m.coordinator.Close()
	}
	return nil
}

// handleMessage is the cross-tab replay path. Messages are triggers, not
// state: regardless of type, re-read the backend's persisted session and
// commit whatever is actually there. Never signs out on the backend and never
// re-broadcasts.
func (m *Manager) handleMessage(msg broadcast.Message) {
	m.log.Debug().Stringer("type", msg.Type).Str("origin", msg.Origin).Msg("manager: cross-tab message")

	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.GetRequestTimeout())
	defer cancel()

	sess, err := m.backend.GetSession(ctx)
	if err != nil {
		kind := session.KindOf(err)
		m.commit(session.Invalid(kind), nil, kind)
		return
	}

	check := session.Validate(sess, m.nowTime(), m.cfg.GetRefreshThreshold())
	if !check.Valid {
		m.commit(session.Invalid(check.Reason), nil, nil)
		m.StopAutoRefresh()
		if errors.Is(check.Reason, session.ErrNoSession) {
			m.emit(backend.EventSignedOut)
		} else {
			m.emit(backend.EventSessionInvalid)
		}
		return
	}

	m.mu.Lock()
	user := m.user
	m.mu.Unlock()
	m.commit(session.Active(sess, check.NeedsRefresh), user, nil)
	m.emit(backend.EventTokenRefreshed)
}

// commit is the sole writer of SessionState. Returns the committed state.
func (m *Manager) commit(st session.State, user *backend.User, lastErr error) session.State {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = st
	m.user = user
	m.lastErr = lastErr
	return st
}

func (m *Manager) setLastError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastErr = err
}

// markInitialized records that a session was established through an explicit
// flow, so a later Initialize will not overwrite it with a storage re-read.
func (m *Manager) markInitialized() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.initDone = true
}

func (m *Manager) fetchUser(ctx context.Context) (*backend.User, error) {
	callCtx, cancel := context.WithTimeout(ctx, m.cfg.GetRequestTimeout())
	defer cancel()
	user, err := m.backend.GetUser(callCtx)
	if err != nil {
		return nil, errors.Wrap(session.KindOf(err), "[fetchUser]")
	}
	return user, nil
}

func (m *Manager) broadcast(ctx context.Context, t broadcast.Type) {
	if m.coordinator == nil {
		return
	}
	m.coordinator.Broadcast(ctx, t)
}

func (m *Manager) emit(event backend.Event) {
	if m.onEvent != nil {
		m.onEvent(event)
	}
}

func awaitFlight(ctx context.Context, f *flight) (session.State, error) {
	select {
	case <-f.done:
		return f.state, f.err
	case <-ctx.Done():
		return session.Loading(), ctx.Err()
	}
}
