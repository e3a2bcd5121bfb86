package store

import (
	"bytes"
	"context"
	"encoding/base64"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/jrsteele09/go-auth-client/config"
)

const defaultPollInterval = 250 * time.Millisecond

// FileStoreOptions configures a FileStore.
type FileStoreOptions struct {
	// Folder is the data folder holding one file per key. Empty falls back
	// to config.EnvConfig's data folder.
	Folder string
	// PollInterval is the watch polling cadence (default 250ms). There is no
	// portable cross-process file notification, so watchers poll.
	PollInterval time.Duration
}

// FileStore persists each key as a file under a data folder. Writes go through
// a temp file and rename so concurrent processes always observe a complete
// value (last writer wins). Watch polls for content changes.
type FileStore struct {
	folder string
	poll   time.Duration

	// Serializes writes within this process; cross-process exclusion is
	// deliberately absent, per the broadcast-then-recheck design.
	mu sync.Mutex
}

func NewFileStore(opts FileStoreOptions) (*FileStore, error) {
	if opts.Folder == "" {
		opts.Folder = config.EnvVars{}.GetDataFolder()
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}
	if err := os.MkdirAll(opts.Folder, 0o700); err != nil {
		return nil, errors.Wrap(err, "[NewFileStore] MkdirAll")
	}
	return &FileStore{folder: opts.Folder, poll: opts.PollInterval}, nil
}

var _ Store = (*FileStore)(nil)

func (s *FileStore) path(key string) string {
	// Keys are caller-chosen; encode so they can never escape the folder.
	name := base64.RawURLEncoding.EncodeToString([]byte(key))
	return filepath.Join(s.folder, name)
}

func (s *FileStore) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	value, err := os.ReadFile(s.path(key))
	if os.IsNotExist(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "[FileStore.Get] ReadFile")
	}
	return value, nil
}

func (s *FileStore) Set(ctx context.Context, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	target := s.path(key)
	tmp, err := os.CreateTemp(s.folder, ".tmp-*")
	if err != nil {
		return errors.Wrap(err, "[FileStore.Set] CreateTemp")
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(value); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return errors.Wrap(err, "[FileStore.Set] Write")
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return errors.Wrap(err, "[FileStore.Set] Close")
	}
	if err := os.Rename(tmpName, target); err != nil {
		os.Remove(tmpName)
		return errors.Wrap(err, "[FileStore.Set] Rename")
	}
	return nil
}

func (s *FileStore) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path(key)); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "[FileStore.Delete] Remove")
	}
	return nil
}

// Watch polls the key's file and reports content changes. Rapid
// delete-then-write sequences may collapse into a single change when both land
// within one poll window; callers that need every event must make consecutive
// payloads distinct.
func (s *FileStore) Watch(ctx context.Context, key string) (<-chan Change, func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	ch := make(chan Change, watcherBufferSize)
	stopCh := make(chan struct{})
	var stopOnce sync.Once

	// The baseline must be captured before Watch returns: a write landing
	// between the subscription and the poller's first read is a change to
	// report, not a baseline to adopt.
	last, exists := s.snapshot(key)

	go func() {
		defer close(ch)

		ticker := time.NewTicker(s.poll)
		defer ticker.Stop()

		for {
			select {
			case <-stopCh:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
			}

			current, ok := s.snapshot(key)
			switch {
			case ok && (!exists || !bytes.Equal(current, last)):
				select {
				case ch <- Change{Key: key, Op: OpSet, Value: current}:
				default:
				}
			case !ok && exists:
				select {
				case ch <- Change{Key: key, Op: OpDelete}:
				default:
				}
			}
			last, exists = current, ok
		}
	}()

	stop := func() {
		stopOnce.Do(func() { close(stopCh) })
	}
	return ch, stop, nil
}

func (s *FileStore) snapshot(key string) ([]byte, bool) {
	value, err := os.ReadFile(s.path(key))
	if err != nil {
		return nil, false
	}
	return value, true
}
