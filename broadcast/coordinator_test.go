package broadcast_test

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jrsteele09/go-auth-client/broadcast"
	"github.com/jrsteele09/go-auth-client/store"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

type messageRecorder struct {
	mu   sync.Mutex
	msgs []broadcast.Message
}

func (r *messageRecorder) record(msg broadcast.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, msg)
}

func (r *messageRecorder) messages() []broadcast.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]broadcast.Message(nil), r.msgs...)
}

func (r *messageRecorder) waitFor(t *testing.T, n int) []broadcast.Message {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if msgs := r.messages(); len(msgs) >= n {
			return msgs
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d messages, got %d", n, len(r.messages()))
	return nil
}

// failingTransport rejects every send but still yields a receive channel.
type failingTransport struct {
	ch chan broadcast.Message
}

func newFailingTransport() *failingTransport {
	return &failingTransport{ch: make(chan broadcast.Message)}
}

func (f *failingTransport) Send(context.Context, broadcast.Message) error {
	return broadcast.ErrTransportClosed
}

func (f *failingTransport) Receive() <-chan broadcast.Message { return f.ch }

func (f *failingTransport) Close() error {
	close(f.ch)
	return nil
}

func TestCoordinatorDeliversBetweenPeers(t *testing.T) {
	ctx := context.Background()
	hub := broadcast.NewHub()
	defer hub.Close()

	a := broadcast.NewCoordinator(hub.Attach(), nil)
	b := broadcast.NewCoordinator(hub.Attach(), nil)

	var got messageRecorder
	b.OnMessage(got.record)
	a.Start()
	b.Start()
	defer a.Close()
	defer b.Close()

	a.Broadcast(ctx, broadcast.TypeSessionRefreshed)

	msgs := got.waitFor(t, 1)
	require.Equal(t, broadcast.TypeSessionRefreshed, msgs[0].Type)
	require.Equal(t, a.Origin(), msgs[0].Origin)
}

func TestCoordinatorIgnoresOwnMessages(t *testing.T) {
	ctx := context.Background()
	hub := broadcast.NewHub()
	defer hub.Close()

	a := broadcast.NewCoordinator(hub.Attach(), nil)

	var got messageRecorder
	a.OnMessage(got.record)
	a.Start()
	defer a.Close()

	a.Broadcast(ctx, broadcast.TypeSignedOut)

	time.Sleep(50 * time.Millisecond)
	require.Empty(t, got.messages())
}

func TestCoordinatorFallsBackWhenPrimaryFails(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemStore()

	senderFallback, err := broadcast.NewStorageTransport(ctx, st, "auth-signal")
	require.NoError(t, err)
	receiverFallback, err := broadcast.NewStorageTransport(ctx, st, "auth-signal")
	require.NoError(t, err)

	sender := broadcast.NewCoordinator(newFailingTransport(), senderFallback)
	receiver := broadcast.NewCoordinator(newFailingTransport(), receiverFallback)

	var got messageRecorder
	receiver.OnMessage(got.record)
	sender.Start()
	receiver.Start()
	defer sender.Close()
	defer receiver.Close()

	sender.Broadcast(ctx, broadcast.TypeSignedOut)

	msgs := got.waitFor(t, 1)
	require.Equal(t, broadcast.TypeSignedOut, msgs[0].Type)
}

func TestCoordinatorSingleProcessMode(t *testing.T) {
	c := broadcast.NewCoordinator(nil, nil)
	c.Start()
	c.Broadcast(context.Background(), broadcast.TypeSignedOut)
	require.NoError(t, c.Close())
}

func TestCoordinatorWarnsWhenBroadcastDropped(t *testing.T) {
	ctx := context.Background()
	primary := newFailingTransport()

	var logs bytes.Buffer
	c := broadcast.NewCoordinator(primary, nil, broadcast.WithLogger(zerolog.New(&logs)))
	c.Start()
	defer c.Close()

	c.Broadcast(ctx, broadcast.TypeSignedOut)

	require.Contains(t, logs.String(), "broadcast dropped")
	require.Contains(t, logs.String(), `"level":"warn"`)
	require.NotContains(t, logs.String(), "trying fallback", "no fallback exists to try")
}
