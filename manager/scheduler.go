package manager

import (
	"context"
	"sync"
	"time"

	"github.com/jrsteele09/go-auth-client/session"
)

// scheduler owns the periodic refresh goroutine. Start and stop are scoped
// lifecycle operations: acquired on sign-in, released on sign-out and Close.
type scheduler struct {
	mu   sync.Mutex
	stop chan struct{}
	done chan struct{}
	sess *session.Session
}

// StartAutoRefresh begins periodic background refreshing for the current
// session. A second start for the same identity is a no-op; a start for a
// different identity tears the old timer down first so no tick ever fires
// against a stale session. During a recovery flow this is a no-op.
func (m *Manager) StartAutoRefresh() {
	snapshot := m.Snapshot()
	if snapshot.State.Status != session.StatusActive || snapshot.State.Session == nil {
		return
	}
	m.mu.Lock()
	recovering := m.recovery
	m.mu.Unlock()
	if recovering {
		return
	}
	current := snapshot.State.Session

	m.sched.mu.Lock()
	if m.sched.stop != nil {
		if session.SameIdentity(m.sched.sess, current) {
			m.sched.mu.Unlock()
			return
		}
		stop, done := m.sched.stop, m.sched.done
		m.sched.stop, m.sched.done = nil, nil
		m.sched.mu.Unlock()
		close(stop)
		<-done
		m.sched.mu.Lock()
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	m.sched.stop = stop
	m.sched.done = done
	m.sched.sess = current
	m.sched.mu.Unlock()

	go m.runScheduler(stop, done)
}

// StopAutoRefresh cancels the periodic refresh and waits for the timer
// goroutine to exit. Safe to call when nothing is running.
func (m *Manager) StopAutoRefresh() {
	m.sched.mu.Lock()
	stop, done := m.sched.stop, m.sched.done
	m.sched.stop, m.sched.done = nil, nil
	m.sched.sess = nil
	m.sched.mu.Unlock()

	if stop == nil {
		return
	}
	close(stop)
	<-done
}

func (m *Manager) runScheduler(stop, done chan struct{}) {
	defer close(done)

	interval := m.cfg.GetAutoRefreshInterval()
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			m.tick()
		}
	}
}

// tick refreshes silently when the active session is close to expiry. A
// non-active state is left alone; sign-out and invalidation paths own their
// own scheduler shutdown.
func (m *Manager) tick() {
	snapshot := m.Snapshot()
	if snapshot.State.Status != session.StatusActive {
		return
	}

	check := session.Validate(snapshot.State.Session, m.nowTime(), m.cfg.GetRefreshThreshold())
	if check.Valid && !check.NeedsRefresh {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.GetRequestTimeout())
	defer cancel()
	if _, err := m.RefreshNow(ctx, RefreshOptions{Silent: true}); err != nil {
		m.log.Warn().Err(err).Msg("manager: scheduled refresh failed")
	}
}
