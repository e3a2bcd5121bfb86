package session

import (
	"context"
	"errors"
	"net"
)

// Error taxonomy surfaced by the session manager. Backends map provider
// responses onto these sentinels so that callers can branch on failure kind
// without knowing the transport.
var (
	ErrNetwork        = errors.New("network error")
	ErrSessionExpired = errors.New("session expired")
	ErrInvalidToken   = errors.New("invalid token")
	ErrUserDisabled   = errors.New("user disabled")
	ErrRateLimited    = errors.New("rate limited")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrProfileFetch   = errors.New("profile fetch failed")
	ErrNoSession      = errors.New("no session")
	ErrUnknown        = errors.New("unknown error")
)

// KindOf maps an arbitrary error onto its taxonomy sentinel. Unclassified
// errors come back as ErrUnknown; nil stays nil.
func KindOf(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrNetwork):
		return ErrNetwork
	case errors.Is(err, ErrSessionExpired):
		return ErrSessionExpired
	case errors.Is(err, ErrInvalidToken):
		return ErrInvalidToken
	case errors.Is(err, ErrUserDisabled):
		return ErrUserDisabled
	case errors.Is(err, ErrRateLimited):
		return ErrRateLimited
	case errors.Is(err, ErrUnauthorized):
		return ErrUnauthorized
	case errors.Is(err, ErrProfileFetch):
		return ErrProfileFetch
	case errors.Is(err, ErrNoSession):
		return ErrNoSession
	case errors.Is(err, context.DeadlineExceeded):
		return ErrNetwork
	case isTimeout(err):
		return ErrNetwork
	}
	return ErrUnknown
}

// Retryable reports whether an error is transient. Only transient failures are
// retried; terminal errors (invalid token, disabled user, unauthorized) must
// surface immediately.
func Retryable(err error) bool {
	return errors.Is(KindOf(err), ErrNetwork)
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
