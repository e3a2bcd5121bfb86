package broadcast

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// RedisTransport broadcasts messages over a redis pub/sub channel. It is the
// primary transport when sibling processes share a redis instance rather than
// an in-process hub.
type RedisTransport struct {
	client  redis.UniversalClient
	channel string
	pubsub  *redis.PubSub
	log     zerolog.Logger

	out  chan Message
	once sync.Once
}

// RedisTransportOption customizes a RedisTransport.
type RedisTransportOption func(*RedisTransport)

// WithRedisLogger sets the logger (default is a no-op logger).
func WithRedisLogger(log zerolog.Logger) RedisTransportOption {
	return func(t *RedisTransport) {
		t.log = log
	}
}

var _ Transport = (*RedisTransport)(nil)

// NewRedisTransport subscribes to the channel and starts the receive loop.
// It fails fast when the subscription cannot be established so the caller can
// fall back to the storage transport.
func NewRedisTransport(ctx context.Context, client redis.UniversalClient, channel string, options ...RedisTransportOption) (*RedisTransport, error) {
	if client == nil {
		return nil, errors.New("[NewRedisTransport] client is required")
	}
	if channel == "" {
		return nil, errors.New("[NewRedisTransport] channel is required")
	}

	pubsub := client.Subscribe(ctx, channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, errors.Wrap(err, "[NewRedisTransport] Subscribe")
	}

	t := &RedisTransport{
		client:  client,
		channel: channel,
		pubsub:  pubsub,
		log:     zerolog.Nop(),
		out:     make(chan Message, transportBufferSize),
	}
	for _, opt := range options {
		if opt != nil {
			opt(t)
		}
	}

	go func() {
		defer close(t.out)
		for redisMsg := range pubsub.Channel() {
			msg, err := Decode([]byte(redisMsg.Payload))
			if err != nil {
				t.log.Warn().Err(err).Msg("redis transport: dropping undecodable message")
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

func (t *RedisTransport) Send(ctx context.Context, msg Message) error {
	payload, err := Encode(msg)
	if err != nil {
		return err
	}
	if err := t.client.Publish(ctx, t.channel, payload).Err(); err != nil {
		return errors.Wrap(err, "[RedisTransport.Send] Publish")
	}
	return nil
}

func (t *RedisTransport) Receive() <-chan Message {
	return t.out
}

func (t *RedisTransport) Close() error {
	var err error
	t.once.Do(func() {
		err = t.pubsub.Close()
	})
	return err
}
