// Package backoff is the single retry implementation shared by every call
// site that retries: the refresh scheduler, on-demand refreshes, and backend
// fallback paths all get identical semantics from here.
package backoff

import (
	"context"
	"time"
)

// SleepFunc pauses for d or until ctx is done. Injectable so tests can record
// delays instead of waiting them out.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Sleep is the default context-aware SleepFunc.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Policy describes a capped exponential backoff:
// delay before attempt n (n >= 2) = min(BaseDelay * 2^(n-2), Cap).
type Policy struct {
	BaseDelay   time.Duration
	Cap         time.Duration
	MaxAttempts int
}

func (p Policy) withDefaults() Policy {
	if p.BaseDelay <= 0 {
		p.BaseDelay = time.Second
	}
	if p.Cap <= 0 {
		p.Cap = 5 * time.Second
	}
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 3
	}
	return p
}

// DelayFor returns the pause taken before the given 1-based attempt. The first
// attempt has no delay.
func (p Policy) DelayFor(attempt int) time.Duration {
	p = p.withDefaults()
	if attempt <= 1 {
		return 0
	}
	d := p.BaseDelay
	for i := 2; i < attempt; i++ {
		d *= 2
		if d >= p.Cap {
			return p.Cap
		}
	}
	if d > p.Cap {
		return p.Cap
	}
	return d
}

// Retry runs fn up to MaxAttempts times, sleeping per the policy between
// attempts. It stops early when fn succeeds, when retryable reports the error
// as terminal, or when the context is cancelled during a pause. The last error
// from fn is returned on exhaustion.
func Retry(ctx context.Context, p Policy, sleep SleepFunc, retryable func(error) bool, fn func(ctx context.Context) error) error {
	p = p.withDefaults()
	if sleep == nil {
		sleep = Sleep
	}

	var err error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		if attempt > 1 {
			if sleepErr := sleep(ctx, p.DelayFor(attempt)); sleepErr != nil {
				return sleepErr
			}
		}
		if err = fn(ctx); err == nil {
			return nil
		}
		if retryable != nil && !retryable(err) {
			return err
		}
	}
	return err
}
