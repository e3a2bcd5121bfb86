package config

import "time"

type SessionConfig interface {
	GetRefreshThreshold() time.Duration
	GetAutoRefreshInterval() time.Duration
	GetRequestTimeout() time.Duration
}

type Session struct{}

var _ SessionConfig = Session{}

// GetRefreshThreshold is how close to expiry a session may get before the
// scheduler refreshes it.
func (Session) GetRefreshThreshold() time.Duration {
	return 10 * time.Minute
}

// GetAutoRefreshInterval is the periodic refresh check cadence. Each tick is a
// cheap validation; a network refresh only happens once the threshold is
// crossed.
func (Session) GetAutoRefreshInterval() time.Duration {
	return 30 * time.Second
}

// GetRequestTimeout bounds every network call to the auth backend so a hung
// request cannot block the next scheduled attempt.
func (Session) GetRequestTimeout() time.Duration {
	return 15 * time.Second
}
