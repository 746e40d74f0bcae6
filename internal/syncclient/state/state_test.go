package state

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestUploadPendingLifecycle(t *testing.T) {
	s := newTestStore(t)

	pending, err := s.IsUploadPending("a.txt")
	require.NoError(t, err)
	assert.False(t, pending)

	require.NoError(t, s.BeginUpload("a.txt", "/sync/a.txt"))
	pending, err = s.IsUploadPending("a.txt")
	require.NoError(t, err)
	assert.True(t, pending)

	require.NoError(t, s.EndUpload("a.txt"))
	pending, err = s.IsUploadPending("a.txt")
	require.NoError(t, err)
	assert.False(t, pending)
}

func TestRecentlyDeletedExpiresAfterTTL(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.MarkRecentlyDeleted("a.txt"))

	got, err := s.IsRecentlyDeleted("a.txt", time.Hour)
	require.NoError(t, err)
	assert.True(t, got)

	got, err = s.IsRecentlyDeleted("a.txt", 0)
	require.NoError(t, err)
	assert.False(t, got)
}

func TestPendingDeletionsQueueAndClear(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.QueueDeletion("a.txt"))
	require.NoError(t, s.QueueDeletion("b.txt"))

	names, err := s.ListPendingDeletions()
	require.NoError(t, err)
	assert.Equal(t, []string{"a.txt", "b.txt"}, names)

	require.NoError(t, s.ClearPendingDeletion("a.txt"))
	names, err = s.ListPendingDeletions()
	require.NoError(t, err)
	assert.Equal(t, []string{"b.txt"}, names)
}

func TestSyncStatusSetAndListNewestFirst(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.SetSyncStatus("a.txt", StatusSynced, 1))
	time.Sleep(10 * time.Millisecond)
	require.NoError(t, s.SetSyncStatus("b.txt", StatusConflict, 2))

	got, err := s.GetSyncStatus("a.txt")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, StatusSynced, got.Status)
	assert.Equal(t, 1, got.Version)

	all, err := s.ListSyncStatus()
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "b.txt", all[0].FileName)
}

func TestOfflineQueueEnqueueAndDequeue(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Enqueue("add", "/sync/a.txt", "a.txt"))
	require.NoError(t, s.Enqueue("delete", "/sync/b.txt", "b.txt"))

	events, err := s.ListQueued()
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "add", events[0].EventType)

	require.NoError(t, s.DequeueByID(events[0].ID))
	remaining, err := s.ListQueued()
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.Equal(t, "b.txt", remaining[0].FileName)
}
