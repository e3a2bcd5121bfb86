package config

import "time"

type RetryConfig interface {
	GetMaxRetryAttempts() int
	GetBaseRetryDelay() time.Duration
	GetRetryDelayCap() time.Duration
}

type Retry struct{}

var _ RetryConfig = Retry{}

func (Retry) GetMaxRetryAttempts() int {
	return 3
}

func (Retry) GetBaseRetryDelay() time.Duration {
	return 1 * time.Second
}

func (Retry) GetRetryDelayCap() time.Duration {
	return 5 * time.Second
}
