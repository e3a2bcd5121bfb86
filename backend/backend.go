// Package backend defines the identity-provider client the session manager
// drives. The provider itself is an external collaborator; implementations
// here only wrap its API and the locally persisted token pair.
package backend

import (
	"context"
	"errors"

	"github.com/jrsteele09/go-auth-client/session"
)

// ErrUnsupported is returned for operations a particular provider cannot
// perform, such as password updates against a pure OIDC issuer.
var ErrUnsupported = errors.New("operation not supported by this backend")

// User is the authenticated principal's profile as reported by the provider.
type User struct {
	ID    string
	Email string
}

// OTPType enumerates the provider's one-time-token verification flows.
type OTPType string

const (
	OTPMagicLink   OTPType = "magiclink"
	OTPRecovery    OTPType = "recovery"
	OTPSignup      OTPType = "signup"
	OTPEmailChange OTPType = "email_change"
)

// SignOutScope controls how far a sign-out reaches.
type SignOutScope string

const (
	// ScopeLocal revokes only this process's session.
	ScopeLocal SignOutScope = "local"
	// ScopeGlobal revokes every session for the user.
	ScopeGlobal SignOutScope = "global"
	// ScopeOthers revokes every session except this one.
	ScopeOthers SignOutScope = "others"
)

// AuthBackend is the abstract identity-provider client. Errors returned by
// implementations must map onto the session error taxonomy so callers can
// branch with errors.Is.
type AuthBackend interface {
	// GetSession returns the locally persisted session, or (nil, nil) when
	// none is stored. It never performs a network round trip.
	GetSession(ctx context.Context) (*session.Session, error)

	// RefreshSession exchanges the stored refresh token for a new session and
	// persists it.
	RefreshSession(ctx context.Context) (*session.Session, error)

	// GetUser fetches the profile for the currently stored session.
	GetUser(ctx context.Context) (*User, error)

	// SignInWithPassword authenticates with credentials and persists the
	// resulting session.
	SignInWithPassword(ctx context.Context, email, password string) (*session.Session, error)

	// SignOut clears the persisted session and best-effort revokes it with
	// the provider.
	SignOut(ctx context.Context, scope SignOutScope) error

	// UpdateUserPassword sets a new password for the authenticated user.
	UpdateUserPassword(ctx context.Context, newPassword string) error

	// SetSession adopts an externally supplied token pair (magic link or
	// recovery link) and persists it.
	SetSession(ctx context.Context, accessToken, refreshToken string) (*session.Session, error)

	// VerifyOTP redeems an emailed one-time token and persists the resulting
	// session when the flow yields one.
	VerifyOTP(ctx context.Context, tokenHash string, otpType OTPType) (*session.Session, error)
}
