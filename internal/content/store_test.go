package content

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeArchive is an in-memory Archive backend for exercising Sweep and
// GetVersionWithArchive without a real Azure Blob Storage account.
type fakeArchive struct {
	mu   sync.Mutex
	blobs map[string][]byte
}

func newFakeArchive() *fakeArchive {
	return &fakeArchive{blobs: make(map[string][]byte)}
}

func (f *fakeArchive) key(name string, version int) string {
	return fmt.Sprintf("%s.v%d", name, version)
}

func (f *fakeArchive) Upload(_ context.Context, name string, version int, blob []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.blobs[f.key(name, version)] = append([]byte(nil), blob...)
	return nil
}

func (f *fakeArchive) Download(_ context.Context, name string, version int) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	blob, ok := f.blobs[f.key(name, version)]
	if !ok {
		return nil, fmt.Errorf("archived blob %s v%d not found", name, version)
	}
	return blob, nil
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	root := t.TempDir()
	s, err := New(filepath.Join(root, "files"), filepath.Join(root, "versions"))
	require.NoError(t, err)
	return s
}

func TestStoreSaveAndGet(t *testing.T) {
	s := newTestStore(t)

	res, err := s.Save("report.txt", []byte("hello"), 1)
	require.NoError(t, err)
	assert.Equal(t, int64(5), res.Size)
	assert.Equal(t, Checksum([]byte("hello")), res.Checksum)

	got, err := s.Get("report.txt")
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), got)

	v1, err := s.GetVersion("report.txt", 1)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), v1)
}

func TestStoreGetMissingReturnsNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Get("nope.txt")
	assert.Error(t, err)
}

func TestStoreListVersions(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Save("a.txt", []byte("v1"), 1)
	require.NoError(t, err)
	_, err = s.Save("a.txt", []byte("v2"), 2)
	require.NoError(t, err)
	_, err = s.Save("a.txt", []byte("v3"), 3)
	require.NoError(t, err)

	versions, err := s.ListVersions("a.txt")
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3}, versions)

	cur, err := s.Get("a.txt")
	require.NoError(t, err)
	assert.Equal(t, []byte("v3"), cur)
}

func TestStoreRenameMovesCurrentAndVersions(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Save("old.txt", []byte("v1"), 1)
	require.NoError(t, err)
	_, err = s.Save("old.txt", []byte("v2"), 2)
	require.NoError(t, err)

	require.NoError(t, s.Rename("old.txt", "new.txt"))

	_, err = s.Get("old.txt")
	assert.Error(t, err)

	cur, err := s.Get("new.txt")
	require.NoError(t, err)
	assert.Equal(t, []byte("v2"), cur)

	versions, err := s.ListVersions("new.txt")
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, versions)
}

func TestStoreDeleteCascade(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Save("d.txt", []byte("v1"), 1)
	require.NoError(t, err)
	_, err = s.Save("d.txt", []byte("v2"), 2)
	require.NoError(t, err)

	require.NoError(t, s.Delete("d.txt", true))

	_, err = s.Get("d.txt")
	assert.Error(t, err)
	versions, err := s.ListVersions("d.txt")
	require.NoError(t, err)
	assert.Empty(t, versions)
}

func TestStoreDeleteNonCascadeKeepsVersions(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Save("d.txt", []byte("v1"), 1)
	require.NoError(t, err)

	require.NoError(t, s.Delete("d.txt", false))

	_, err = s.Get("d.txt")
	assert.Error(t, err)
	versions, err := s.ListVersions("d.txt")
	require.NoError(t, err)
	assert.Equal(t, []int{1}, versions)
}

func TestSweepArchivesAndPrunesBeyondCap(t *testing.T) {
	s := newTestStore(t)
	archive := newFakeArchive()
	s.AttachArchiver(archive, 0, 2)

	for v := 1; v <= 4; v++ {
		_, err := s.Save("a.txt", []byte(fmt.Sprintf("v%d", v)), v)
		require.NoError(t, err)
	}

	require.NoError(t, s.Sweep(context.Background(), "a.txt", 4))

	versions, err := s.ListVersions("a.txt")
	require.NoError(t, err)
	assert.Equal(t, []int{3, 4}, versions)

	blob, err := archive.Download(context.Background(), "a.txt", 1)
	require.NoError(t, err)
	assert.Equal(t, []byte("v1"), blob)
}

func TestSweepNeverPrunesTheLatestVersion(t *testing.T) {
	s := newTestStore(t)
	archive := newFakeArchive()
	s.AttachArchiver(archive, 0, 1)

	_, err := s.Save("a.txt", []byte("v1"), 1)
	require.NoError(t, err)
	_, err = s.Save("a.txt", []byte("v2"), 2)
	require.NoError(t, err)

	require.NoError(t, s.Sweep(context.Background(), "a.txt", 1))

	versions, err := s.ListVersions("a.txt")
	require.NoError(t, err)
	assert.Contains(t, versions, 1, "the latest version must survive Sweep even when it falls outside the retained window")
}

func TestSweepWithoutArchiverIsNoop(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Save("a.txt", []byte("v1"), 1)
	require.NoError(t, err)
	require.NoError(t, s.Sweep(context.Background(), "a.txt", 1))

	versions, err := s.ListVersions("a.txt")
	require.NoError(t, err)
	assert.Equal(t, []int{1}, versions)
}

func TestGetVersionWithArchiveFallsBackAfterPrune(t *testing.T) {
	s := newTestStore(t)
	archive := newFakeArchive()
	s.AttachArchiver(archive, 0, 1)

	_, err := s.Save("a.txt", []byte("v1"), 1)
	require.NoError(t, err)
	_, err = s.Save("a.txt", []byte("v2"), 2)
	require.NoError(t, err)
	require.NoError(t, s.Sweep(context.Background(), "a.txt", 2))

	_, err = s.GetVersion("a.txt", 1)
	require.Error(t, err, "v1 should have been pruned locally by Sweep")

	blob, err := s.GetVersionWithArchive(context.Background(), "a.txt", 1)
	require.NoError(t, err)
	assert.Equal(t, []byte("v1"), blob)
}

func TestSweepAllSkipsNamesWithoutALatestVersion(t *testing.T) {
	s := newTestStore(t)
	archive := newFakeArchive()
	s.AttachArchiver(archive, 0, 1)

	for v := 1; v <= 3; v++ {
		_, err := s.Save("a.txt", []byte(fmt.Sprintf("v%d", v)), v)
		require.NoError(t, err)
	}
	_, err := s.Save("b.txt", []byte("only"), 1)
	require.NoError(t, err)

	err = s.SweepAll(context.Background(), func(name string) (int, bool) {
		if name == "b.txt" {
			return 0, false
		}
		return 3, true
	})
	require.NoError(t, err)

	aVersions, err := s.ListVersions("a.txt")
	require.NoError(t, err)
	assert.Equal(t, []int{3}, aVersions)

	bVersions, err := s.ListVersions("b.txt")
	require.NoError(t, err)
	assert.Equal(t, []int{1}, bVersions, "b.txt has no resolvable latest version so SweepAll must leave it untouched")
}
