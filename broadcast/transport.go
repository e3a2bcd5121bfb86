package broadcast

import "context"

// Transport moves messages between processes. Implementations may deliver a
// sender its own messages; the Coordinator filters those by origin. Receive's
// channel closes when the transport is closed.
type Transport interface {
	Send(ctx context.Context, msg Message) error
	Receive() <-chan Message
	Close() error
}
