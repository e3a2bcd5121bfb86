package store_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/jrsteele09/go-auth-client/store"
	"github.com/stretchr/testify/require"
)

func newFileStore(t *testing.T) *store.FileStore {
	t.Helper()
	s, err := store.NewFileStore(store.FileStoreOptions{
		Folder:       t.TempDir(),
		PollInterval: 10 * time.Millisecond,
	})
	require.NoError(t, err)
	return s
}

func TestFileStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newFileStore(t)

	_, err := s.Get(ctx, "missing")
	require.ErrorIs(t, err, store.ErrNotFound)

	require.NoError(t, s.Set(ctx, "auth-token", []byte(`{"access_token":"a"}`)))
	got, err := s.Get(ctx, "auth-token")
	require.NoError(t, err)
	require.Equal(t, []byte(`{"access_token":"a"}`), got)

	require.NoError(t, s.Set(ctx, "auth-token", []byte(`{"access_token":"b"}`)))
	got, err = s.Get(ctx, "auth-token")
	require.NoError(t, err)
	require.Equal(t, []byte(`{"access_token":"b"}`), got)

	require.NoError(t, s.Delete(ctx, "auth-token"))
	_, err = s.Get(ctx, "auth-token")
	require.ErrorIs(t, err, store.ErrNotFound)
	require.NoError(t, s.Delete(ctx, "auth-token"))
}

func TestFileStoreKeysAreIsolated(t *testing.T) {
	ctx := context.Background()
	s := newFileStore(t)

	// Path-hostile key names must stay inside the folder.
	require.NoError(t, s.Set(ctx, "../escape", []byte("v1")))
	require.NoError(t, s.Set(ctx, "plain", []byte("v2")))

	got, err := s.Get(ctx, "../escape")
	require.NoError(t, err)
	require.Equal(t, []byte("v1"), got)
}

func TestFileStoreWatch(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s := newFileStore(t)

	ch, stop, err := s.Watch(ctx, "k")
	require.NoError(t, err)
	defer stop()

	require.NoError(t, s.Set(ctx, "k", []byte("v1")))
	c := collectChange(t, ch)
	require.Equal(t, store.OpSet, c.Op)
	require.Equal(t, []byte("v1"), c.Value)

	require.NoError(t, s.Delete(ctx, "k"))
	c = collectChange(t, ch)
	require.Equal(t, store.OpDelete, c.Op)
}

func TestFileStoreWatchSeesWriteBeforeFirstPoll(t *testing.T) {
	ctx := context.Background()
	s, err := store.NewFileStore(store.FileStoreOptions{
		Folder: t.TempDir(),
		// Slow cadence so the writes below land well before the first tick.
		PollInterval: 100 * time.Millisecond,
	})
	require.NoError(t, err)

	require.NoError(t, s.Set(ctx, "k", []byte("v0")))

	ch, stop, err := s.Watch(ctx, "k")
	require.NoError(t, err)
	defer stop()

	require.NoError(t, s.Set(ctx, "k", []byte("v1")))
	c := collectChange(t, ch)
	require.Equal(t, store.OpSet, c.Op)
	require.Equal(t, []byte("v1"), c.Value, "a write racing the first poll is a change, not the baseline")
}

func TestFileStoreDefaultsFolderFromEnvironment(t *testing.T) {
	folder := t.TempDir()
	t.Setenv("FOLDER", folder)

	ctx := context.Background()
	s, err := store.NewFileStore(store.FileStoreOptions{})
	require.NoError(t, err)

	require.NoError(t, s.Set(ctx, "k", []byte("v")))
	got, err := s.Get(ctx, "k")
	require.NoError(t, err)
	require.Equal(t, []byte("v"), got)

	entries, err := os.ReadDir(folder)
	require.NoError(t, err)
	require.Len(t, entries, 1, "values must land under the configured data folder")
}
