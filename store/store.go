// Package store abstracts the persisted key/value storage shared by every
// process on one origin: browser localStorage, a token file on disk, or an
// in-memory map in tests. The session core owns exactly two keys in it: the
// serialized token pair and an ephemeral signaling sentinel.
package store

import (
	"context"
	"errors"
)

var ErrNotFound = errors.New("store: key not found")

// Op enumerates the mutation types delivered by Watch.
type Op int

const (
	OpSet Op = iota
	OpDelete
)

// Change describes one observed mutation of a watched key.
type Change struct {
	Key   string
	Op    Op
	Value []byte
}

// Store is a last-writer-wins key/value store with change notification.
//
// Watch delivers a Change only when a key's stored value actually changes or
// the key is created or deleted; rewriting an identical value is not
// observable. This mirrors browser storage events and is why the broadcast
// fallback clears its sentinel before each write.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error

	// Watch subscribes to changes of key. The returned stop function releases
	// the subscription and closes the channel.
	Watch(ctx context.Context, key string) (<-chan Change, func(), error)
}
