package backendfake

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jrsteele09/go-auth-client/backend"
	"github.com/jrsteele09/go-auth-client/session"
)

// SharedState emulates the provider's persisted token storage plus its user
// record. Several FakeBackends sharing one SharedState model several tabs on
// one origin.
type SharedState struct {
	mu   sync.Mutex
	sess *session.Session
	user *backend.User
}

func NewSharedState() *SharedState {
	return &SharedState{}
}

func (s *SharedState) SetSession(sess *session.Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sess = copySession(sess)
}

func (s *SharedState) Session() *session.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return copySession(s.sess)
}

func (s *SharedState) SetUser(user *backend.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.user = user
}

func (s *SharedState) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sess = nil
}

func copySession(sess *session.Session) *session.Session {
	if sess == nil {
		return nil
	}
	out := *sess
	return &out
}

// FakeBackend is a scripted in-memory AuthBackend. Zero value behaviour:
// sign-in succeeds with a one-hour session for any credentials, refresh
// rotates tokens and extends expiry by an hour, and every call is counted.
type FakeBackend struct {
	shared *SharedState

	lock sync.Mutex

	// NowTime is the injectable clock used to mint expiries.
	NowTime func() time.Time

	// TokenTTL is the lifetime of minted sessions (default one hour).
	TokenTTL time.Duration

	// Scripted failures. RefreshErrs is consumed one error per call before
	// RefreshErr applies; a nil entry means that call succeeds.
	GetSessionErr     error
	RefreshErr        error
	RefreshErrs       []error
	GetUserErr        error
	SignInErr         error
	SignOutErr        error
	UpdatePasswordErr error
	SetSessionErr     error
	VerifyErr         error

	// GetSessionDelay widens the race window in concurrency tests.
	GetSessionDelay time.Duration

	getSessionCalls int
	refreshCalls    int
	getUserCalls    int
	signInCalls     int
	signOutCalls    int
	setSessionCalls int
	verifyCalls     int
	rotation        int
}

var _ backend.AuthBackend = (*FakeBackend)(nil)

func New() *FakeBackend {
	return NewShared(NewSharedState())
}

func NewShared(shared *SharedState) *FakeBackend {
	return &FakeBackend{
		shared:  shared,
		NowTime: time.Now,
	}
}

// Shared exposes the underlying state for seeding and assertions.
func (f *FakeBackend) Shared() *SharedState {
	return f.shared
}

func (f *FakeBackend) now() time.Time {
	if f.NowTime == nil {
		return time.Now()
	}
	return f.NowTime()
}

func (f *FakeBackend) ttl() time.Duration {
	if f.TokenTTL <= 0 {
		return time.Hour
	}
	return f.TokenTTL
}

func (f *FakeBackend) mintSession(subjectID string) *session.Session {
	f.rotation++
	return &session.Session{
		AccessToken:  fmt.Sprintf("access-%d", f.rotation),
		RefreshToken: fmt.Sprintf("refresh-%d", f.rotation),
		ExpiresAt:    f.now().Add(f.ttl()),
		SubjectID:    subjectID,
	}
}

func (f *FakeBackend) GetSession(ctx context.Context) (*session.Session, error) {
	f.lock.Lock()
	f.getSessionCalls++
	err := f.GetSessionErr
	delay := f.GetSessionDelay
	f.lock.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	return f.shared.Session(), nil
}

func (f *FakeBackend) RefreshSession(ctx context.Context) (*session.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.lock.Lock()
	f.refreshCalls++
	var err error
	if len(f.RefreshErrs) > 0 {
		err, f.RefreshErrs = f.RefreshErrs[0], f.RefreshErrs[1:]
	} else {
		err = f.RefreshErr
	}
	f.lock.Unlock()

	if err != nil {
		return nil, err
	}
	current := f.shared.Session()
	if current == nil {
		return nil, session.ErrNoSession
	}

	f.lock.Lock()
	next := f.mintSession(current.SubjectID)
	f.lock.Unlock()
	f.shared.SetSession(next)
	return copySession(next), nil
}

func (f *FakeBackend) GetUser(ctx context.Context) (*backend.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.lock.Lock()
	f.getUserCalls++
	err := f.GetUserErr
	f.lock.Unlock()

	if err != nil {
		return nil, err
	}
	f.shared.mu.Lock()
	defer f.shared.mu.Unlock()
	if f.shared.user != nil {
		user := *f.shared.user
		return &user, nil
	}
	if f.shared.sess == nil {
		return nil, session.ErrUnauthorized
	}
	return &backend.User{ID: f.shared.sess.SubjectID, Email: f.shared.sess.SubjectID + "@example.com"}, nil
}

func (f *FakeBackend) SignInWithPassword(ctx context.Context, email, _ string) (*session.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.lock.Lock()
	f.signInCalls++
	err := f.SignInErr
	f.lock.Unlock()

	if err != nil {
		return nil, err
	}
	f.lock.Lock()
	sess := f.mintSession(email)
	f.lock.Unlock()
	f.shared.SetSession(sess)
	return copySession(sess), nil
}

func (f *FakeBackend) SignOut(ctx context.Context, _ backend.SignOutScope) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.lock.Lock()
	f.signOutCalls++
	err := f.SignOutErr
	f.lock.Unlock()

	f.shared.Clear()
	return err
}

func (f *FakeBackend) UpdateUserPassword(ctx context.Context, _ string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.lock.Lock()
	defer f.lock.Unlock()
	return f.UpdatePasswordErr
}

func (f *FakeBackend) SetSession(ctx context.Context, accessToken, refreshToken string) (*session.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.lock.Lock()
	f.setSessionCalls++
	err := f.SetSessionErr
	f.lock.Unlock()

	if err != nil {
		return nil, err
	}
	sess := &session.Session{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresAt:    f.now().Add(f.ttl()),
		SubjectID:    "adopted-user",
	}
	f.shared.SetSession(sess)
	return copySession(sess), nil
}

func (f *FakeBackend) VerifyOTP(ctx context.Context, _ string, _ backend.OTPType) (*session.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.lock.Lock()
	f.verifyCalls++
	err := f.VerifyErr
	f.lock.Unlock()

	if err != nil {
		return nil, err
	}
	f.lock.Lock()
	sess := f.mintSession("verified-user")
	f.lock.Unlock()
	f.shared.SetSession(sess)
	return copySession(sess), nil
}

func (f *FakeBackend) GetSessionCalls() int { return f.count(&f.getSessionCalls) }
func (f *FakeBackend) RefreshCalls() int    { return f.count(&f.refreshCalls) }
func (f *FakeBackend) GetUserCalls() int    { return f.count(&f.getUserCalls) }
func (f *FakeBackend) SignInCalls() int     { return f.count(&f.signInCalls) }
func (f *FakeBackend) SignOutCalls() int    { return f.count(&f.signOutCalls) }
func (f *FakeBackend) SetSessionCalls() int { return f.count(&f.setSessionCalls) }
func (f *FakeBackend) VerifyCalls() int     { return f.count(&f.verifyCalls) }

func (f *FakeBackend) count(field *int) int {
	f.lock.Lock()
	defer f.lock.Unlock()
	return *field
}
