package watcher

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestWatcher(t *testing.T) (*Watcher, string) {
	t.Helper()
	root := t.TempDir()
	w, err := New(root)
	require.NoError(t, err)
	t.Cleanup(func() { w.Close() })
	return w, root
}

func waitForEvent(t *testing.T, w *Watcher, timeout time.Duration) *Event {
	t.Helper()
	select {
	case ev := <-w.Events():
		return &ev
	case <-time.After(timeout):
		return nil
	}
}

func assertNoEvent(t *testing.T, w *Watcher, wait time.Duration) {
	t.Helper()
	select {
	case ev := <-w.Events():
		t.Fatalf("expected no event, got %+v", ev)
	case <-time.After(wait):
	}
}

func TestWatcherReportsAddAndChange(t *testing.T) {
	w, root := newTestWatcher(t)
	path := filepath.Join(root, "a.txt")

	require.NoError(t, os.WriteFile(path, []byte("v1"), 0o644))
	ev := waitForEvent(t, w, 2*time.Second)
	require.NotNil(t, ev)
	assert.Equal(t, "a.txt", ev.FileName)

	require.NoError(t, os.WriteFile(path, []byte("v2"), 0o644))
	ev = waitForEvent(t, w, 2*time.Second)
	require.NotNil(t, ev)
	assert.Equal(t, "a.txt", ev.FileName)
}

func TestWatcherDebouncesRapidWrites(t *testing.T) {
	w, root := newTestWatcher(t)
	path := filepath.Join(root, "b.txt")

	for i := 0; i < 5; i++ {
		require.NoError(t, os.WriteFile(path, []byte{byte(i)}, 0o644))
		time.Sleep(20 * time.Millisecond)
	}

	ev := waitForEvent(t, w, 2*time.Second)
	require.NotNil(t, ev)
	assertNoEvent(t, w, 700*time.Millisecond)
}

func TestWatcherIgnoreFileSuppressesEvents(t *testing.T) {
	w, root := newTestWatcher(t)
	path := filepath.Join(root, "c.txt")

	w.IgnoreFile("c.txt")
	require.NoError(t, os.WriteFile(path, []byte("data"), 0o644))
	assertNoEvent(t, w, 700*time.Millisecond)

	w.UnignoreFile("c.txt")
	require.NoError(t, os.WriteFile(path, []byte("more"), 0o644))
	ev := waitForEvent(t, w, 2*time.Second)
	require.NotNil(t, ev)
	assert.Equal(t, "c.txt", ev.FileName)
}

func TestWatcherPauseSuppressesAllEvents(t *testing.T) {
	w, root := newTestWatcher(t)
	w.Pause()

	require.NoError(t, os.WriteFile(filepath.Join(root, "d.txt"), []byte("data"), 0o644))
	assertNoEvent(t, w, 700*time.Millisecond)

	w.Resume()
	require.NoError(t, os.WriteFile(filepath.Join(root, "e.txt"), []byte("data"), 0o644))
	ev := waitForEvent(t, w, 2*time.Second)
	require.NotNil(t, ev)
	assert.Equal(t, "e.txt", ev.FileName)
}

func TestWatcherReportsDelete(t *testing.T) {
	w, root := newTestWatcher(t)
	path := filepath.Join(root, "f.txt")
	require.NoError(t, os.WriteFile(path, []byte("data"), 0o644))
	require.NotNil(t, waitForEvent(t, w, 2*time.Second))

	require.NoError(t, os.Remove(path))
	ev := waitForEvent(t, w, 2*time.Second)
	require.NotNil(t, ev)
	assert.Equal(t, EventDelete, ev.Type)
	assert.Equal(t, "f.txt", ev.FileName)
}
