package broadcast

import (
	"context"
	"sync"

	"github.com/pkg/errors"
)

const transportBufferSize = 32

// ErrTransportClosed is returned by Send after a transport has been closed.
var ErrTransportClosed = errors.New("broadcast: transport closed")

// Hub is an in-process broadcast channel: every attached transport sees every
// published message, including its own. It is the primary transport when
// several managers live in one process, and the test vehicle for multi-tab
// scenarios.
type Hub struct {
	mu      sync.Mutex
	members []*ChannelTransport
	closed  bool
}

func NewHub() *Hub {
	return &Hub{}
}

// Attach creates a transport connected to this hub.
func (h *Hub) Attach() *ChannelTransport {
	h.mu.Lock()
	defer h.mu.Unlock()

	t := &ChannelTransport{hub: h, ch: make(chan Message, transportBufferSize)}
	if h.closed {
		t.closed = true
		close(t.ch)
		return t
	}
	h.members = append(h.members, t)
	return t
}

// Close shuts the hub and every attached transport.
func (h *Hub) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil
	}
	h.closed = true
	for _, t := range h.members {
		t.closeLocked()
	}
	h.members = nil
	return nil
}

func (h *Hub) publish(msg Message) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return ErrTransportClosed
	}
	for _, t := range h.members {
		t.deliver(msg)
	}
	return nil
}

func (h *Hub) detach(t *ChannelTransport) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for i, member := range h.members {
		if member == t {
			h.members = append(h.members[:i], h.members[i+1:]...)
			break
		}
	}
	t.closeLocked()
}

// ChannelTransport is one hub membership.
type ChannelTransport struct {
	hub *Hub

	mu     sync.Mutex
	ch     chan Message
	closed bool
}

var _ Transport = (*ChannelTransport)(nil)

func (t *ChannelTransport) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return t.hub.publish(msg)
}

func (t *ChannelTransport) Receive() <-chan Message {
	return t.ch
}

func (t *ChannelTransport) Close() error {
	t.hub.detach(t)
	return nil
}

// deliver is non-blocking: a receiver that stops draining loses messages,
// which the level-triggered recheck protocol tolerates.
func (t *ChannelTransport) deliver(msg Message) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	select {
	case t.ch <- msg:
	default:
	}
}

func (t *ChannelTransport) closeLocked() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	t.closed = true
	close(t.ch)
}
