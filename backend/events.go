package backend

// Event is the closed set of auth lifecycle notifications the session manager
// emits. Keeping this an enum (rather than provider event-name strings) makes
// a new event kind a compile-visible change; switch over it exhaustively.
type Event int

const (
	EventSignedIn Event = iota + 1
	EventSignedOut
	EventTokenRefreshed
	EventSessionInvalid
	EventPasswordRecovery
)

func (e Event) String() string {
	switch e {
	case EventSignedIn:
		return "signed_in"
	case EventSignedOut:
		return "signed_out"
	case EventTokenRefreshed:
		return "token_refreshed"
	case EventSessionInvalid:
		return "session_invalid"
	case EventPasswordRecovery:
		return "password_recovery"
	}
	return "unknown"
}
