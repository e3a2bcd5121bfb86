package broadcast

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Coordinator fans lifecycle messages out to sibling processes and replays
// inbound ones into a handler. Sending is best effort: a failing primary
// transport falls back to the secondary; both failing is logged, never
// surfaced. Having no transports at all is a capability absence; the
// coordinator degrades to single-process mode silently.
//
// Handlers must be idempotent and must re-derive truth from the backend:
// delivery is at-least-once and unordered across processes.
type Coordinator struct {
	origin   string
	primary  Transport
	fallback Transport
	log      zerolog.Logger

	mu      sync.Mutex
	handler func(Message)
	started bool
	wg      sync.WaitGroup
}

// CoordinatorOption customizes a Coordinator.
type CoordinatorOption func(*Coordinator)

// WithLogger sets the logger (default is a no-op logger).
func WithLogger(log zerolog.Logger) CoordinatorOption {
	return func(c *Coordinator) {
		c.log = log
	}
}

// NewCoordinator wires the given transports. Either or both may be nil.
func NewCoordinator(primary, fallback Transport, options ...CoordinatorOption) *Coordinator {
	c := &Coordinator{
		origin:   uuid.New().String(),
		primary:  primary,
		fallback: fallback,
		log:      zerolog.Nop(),
	}
	for _, opt := range options {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// Origin identifies this coordinator in outbound messages.
func (c *Coordinator) Origin() string {
	return c.origin
}

// OnMessage registers the inbound handler. Must be called before Start.
func (c *Coordinator) OnMessage(handler func(Message)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handler = handler
}

// Start spawns the receive loops. Safe to call once; subsequent calls are
// no-ops.
func (c *Coordinator) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.started {
		return
	}
	c.started = true

	if c.primary == nil && c.fallback == nil {
		c.log.Warn().Msg("coordinator: no transports available, running in single-process mode")
		return
	}
	if c.primary != nil {
		c.wg.Add(1)
		go c.receiveLoop(c.primary)
	}
	if c.fallback != nil {
		c.wg.Add(1)
		go c.receiveLoop(c.fallback)
	}
}

// Broadcast sends a message of the given type to sibling processes. Failures
// are logged, not returned: broadcast is an optimization over the receivers'
// own rechecks, never a correctness dependency.
func (c *Coordinator) Broadcast(ctx context.Context, t Type) {
	msg := NewMessage(t, c.origin)

	if c.primary != nil {
		err := c.primary.Send(ctx, msg)
		if err == nil {
			return
		}
		if c.fallback == nil {
			c.log.Warn().Err(err).Stringer("type", t).Msg("coordinator: broadcast dropped, primary transport failed")
			return
		}
		c.log.Debug().Err(err).Stringer("type", t).Msg("coordinator: primary transport send failed, trying fallback")
	}
	if c.fallback != nil {
		if err := c.fallback.Send(ctx, msg); err != nil {
			c.log.Warn().Err(err).Stringer("type", t).Msg("coordinator: broadcast dropped, all transports failed")
		}
		return
	}
	if c.primary == nil {
		c.log.Debug().Stringer("type", t).Msg("coordinator: broadcast skipped, single-process mode")
	}
}

// Close shuts both transports and waits for the receive loops to drain.
func (c *Coordinator) Close() error {
	if c.primary != nil {
		_ = c.primary.Close()
	}
	if c.fallback != nil {
		_ = c.fallback.Close()
	}
	c.wg.Wait()
	return nil
}

func (c *Coordinator) receiveLoop(t Transport) {
	defer c.wg.Done()
	for msg := range t.Receive() {
		if msg.Origin == c.origin {
			continue
		}
		c.mu.Lock()
		handler := c.handler
		c.mu.Unlock()
		if handler != nil {
			handler(msg)
		}
	}
}
