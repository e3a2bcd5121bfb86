package session

// Status enumerates the lifecycle phases of a managed session.
type Status int

const (
	// StatusUninitialized means no session check has run yet.
	StatusUninitialized Status = iota
	// StatusLoading means a validation or refresh is in flight.
	StatusLoading
	// StatusActive means a usable session is held.
	StatusActive
	// StatusInvalid means no usable session exists; the user must
	// re-authenticate.
	StatusInvalid
)

func (s Status) String() string {
	switch s {
	case StatusUninitialized:
		return "uninitialized"
	case StatusLoading:
		return "loading"
	case StatusActive:
		return "active"
	case StatusInvalid:
		return "invalid"
	}
	return "unknown"
}

// State is the tagged session state owned exclusively by the manager's token
// store. Session is set only for StatusActive, Reason only for StatusInvalid.
type State struct {
	Status           Status
	Session          *Session
	NeedsRefreshSoon bool
	Reason           error
}

// Uninitialized returns the pre-first-check state.
func Uninitialized() State {
	return State{Status: StatusUninitialized}
}

// Loading returns the in-flight state.
func Loading() State {
	return State{Status: StatusLoading}
}

// Active returns the authenticated state for the given session.
func Active(s *Session, needsRefreshSoon bool) State {
	return State{Status: StatusActive, Session: s, NeedsRefreshSoon: needsRefreshSoon}
}

// Invalid returns the unauthenticated state with the reason the session was
// rejected or lost.
func Invalid(reason error) State {
	if reason == nil {
		reason = ErrNoSession
	}
	return State{Status: StatusInvalid, Reason: reason}
}
