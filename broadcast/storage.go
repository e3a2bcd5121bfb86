package broadcast

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/jrsteele09/go-auth-client/config"
	"github.com/jrsteele09/go-auth-client/store"
)

// StorageTransport is the fallback transport: a timestamped sentinel key in
// the shared persisted store. It exists for environments without a broadcast
// primitive: any process that can see the token file can see the sentinel.
type StorageTransport struct {
	store store.Store
	key   string
	log   zerolog.Logger

	out  chan Message
	stop func()
	once sync.Once
}

// StorageTransportOption customizes a StorageTransport.
type StorageTransportOption func(*StorageTransport)

// WithStorageLogger sets the logger (default is a no-op logger).
func WithStorageLogger(log zerolog.Logger) StorageTransportOption {
	return func(t *StorageTransport) {
		t.log = log
	}
}

var _ Transport = (*StorageTransport)(nil)

// NewStorageTransport starts watching the sentinel key. An empty key falls
// back to config.StorageConfig's signal key. ctx bounds the watch
// subscription lifetime.
func NewStorageTransport(ctx context.Context, st store.Store, key string, options ...StorageTransportOption) (*StorageTransport, error) {
	if st == nil {
		return nil, errors.New("[NewStorageTransport] store is required")
	}
	if key == "" {
		key = config.Storage{}.GetSignalStorageKey()
	}

	t := &StorageTransport{
		store: st,
		key:   key,
		log:   zerolog.Nop(),
		out:   make(chan Message, transportBufferSize),
	}
	for _, opt := range options {
		if opt != nil {
			opt(t)
		}
	}

	changes, stopWatch, err := st.Watch(ctx, key)
	if err != nil {
		return nil, errors.Wrap(err, "[NewStorageTransport] Watch")
	}
	t.stop = stopWatch

	go func() {
		defer close(t.out)
		for change := range changes {
			if change.Op != store.OpSet || len(change.Value) == 0 {
				continue
			}
			msg, err := Decode(change.Value)
			if err != nil {
				t.log.Warn().Err(err).Msg("storage transport: dropping undecodable sentinel")
				continue
			}
			select {
			case t.out <- msg:
			default:
			}
		}
	}()

	return t, nil
}

// Send writes the sentinel with a clear-then-set: storage change notification
// only fires on real value changes, so the delete guarantees the following
// set is observable even when two consecutive messages encode identically.
func (t *StorageTransport) Send(ctx context.Context, msg Message) error {
	payload, err := Encode(msg)
	if err != nil {
		return err
	}
	if err := t.store.Delete(ctx, t.key); err != nil && !errors.Is(err, store.ErrNotFound) {
		return errors.Wrap(err, "[StorageTransport.Send] Delete")
	}
	if err := t.store.Set(ctx, t.key, payload); err != nil {
		return errors.Wrap(err, "[StorageTransport.Send] Set")
	}
	return nil
}

func (t *StorageTransport) Receive() <-chan Message {
	return t.out
}

func (t *StorageTransport) Close() error {
	t.once.Do(t.stop)
	return nil
}
