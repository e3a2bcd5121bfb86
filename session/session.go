package session

import "time"

// DefaultRefreshThreshold is how close to expiry a session may drift before a
// refresh becomes due.
const DefaultRefreshThreshold = 10 * time.Minute

// Session represents one authenticated identity period: the provider's token
// pair plus the derived expiry. Sessions are replaced wholesale on refresh and
// never mutated in place.
type Session struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
	SubjectID    string
}

// Validation is the result of checking a session against a point in time.
type Validation struct {
	Valid        bool
	NeedsRefresh bool
	Reason       error
}

// Validate reports whether a session is usable at the given time and whether a
// refresh is due. A session with ExpiresAt <= now is expired and must not be
// used to authorise anything. Pure function of its inputs.
func Validate(s *Session, now time.Time, threshold time.Duration) Validation {
	if threshold <= 0 {
		threshold = DefaultRefreshThreshold
	}
	if s == nil || s.AccessToken == "" || s.ExpiresAt.IsZero() {
		return Validation{Reason: ErrNoSession}
	}
	remaining := s.ExpiresAt.Sub(now)
	if remaining <= 0 {
		return Validation{Reason: ErrSessionExpired}
	}
	return Validation{Valid: true, NeedsRefresh: remaining <= threshold}
}

// SameIdentity reports whether two sessions belong to the same authenticated
// principal. The refresh scheduler uses this to detect sign-out/sign-in swaps
// that require its timer to be restarted.
func SameIdentity(a, b *Session) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.SubjectID == b.SubjectID
}
