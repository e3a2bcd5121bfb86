package store

import (
	"bytes"
	"context"
	"sync"
)

const watcherBufferSize = 16

// MemStore is an in-memory Store. It is the storage used in tests and the
// localStorage stand-in when several managers share one process.
type MemStore struct {
	mu       sync.RWMutex
	data     map[string][]byte
	watchers map[string][]*memWatcher
}

type memWatcher struct {
	ch     chan Change
	mu     sync.Mutex
	closed bool
}

func NewMemStore() *MemStore {
	return &MemStore{
		data:     make(map[string][]byte),
		watchers: make(map[string][]*memWatcher),
	}
}

var _ Store = (*MemStore)(nil)

func (s *MemStore) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	value, ok := s.data[key]
	if !ok {
		return nil, ErrNotFound
	}
	out := make([]byte, len(value))
	copy(out, value)
	return out, nil
}

func (s *MemStore) Set(ctx context.Context, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	prev, existed := s.data[key]
	stored := make([]byte, len(value))
	copy(stored, value)
	s.data[key] = stored
	watchers := s.watchersForLocked(key)
	s.mu.Unlock()

	// Identical rewrites are invisible, matching browser storage semantics.
	if existed && bytes.Equal(prev, value) {
		return nil
	}
	notify(watchers, Change{Key: key, Op: OpSet, Value: stored})
	return nil
}

func (s *MemStore) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	_, existed := s.data[key]
	delete(s.data, key)
	watchers := s.watchersForLocked(key)
	s.mu.Unlock()

	if !existed {
		return nil
	}
	notify(watchers, Change{Key: key, Op: OpDelete})
	return nil
}

func (s *MemStore) Watch(ctx context.Context, key string) (<-chan Change, func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	w := &memWatcher{ch: make(chan Change, watcherBufferSize)}

	s.mu.Lock()
	s.watchers[key] = append(s.watchers[key], w)
	s.mu.Unlock()

	stop := func() {
		s.mu.Lock()
		list := s.watchers[key]
		for i, candidate := range list {
			if candidate == w {
				s.watchers[key] = append(list[:i], list[i+1:]...)
				break
			}
		}
		s.mu.Unlock()
		w.close()
	}
	return w.ch, stop, nil
}

func (s *MemStore) watchersForLocked(key string) []*memWatcher {
	list := s.watchers[key]
	out := make([]*memWatcher, len(list))
	copy(out, list)
	return out
}

func notify(watchers []*memWatcher, change Change) {
	for _, w := range watchers {
		w.send(change)
	}
}

// send is non-blocking: a watcher that stops draining loses changes rather
// than stalling writers.
func (w *memWatcher) send(change Change) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	select {
	case w.ch <- change:
	default:
	}
}

func (w *memWatcher) close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	w.closed = true
	close(w.ch)
}
