package metadata

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(t.TempDir())
	require.NoError(t, err)
	return s
}

func TestNextVersionStartsAtOne(t *testing.T) {
	s := newTestStore(t)
	v, err := s.NextVersion("a.txt")
	require.NoError(t, err)
	assert.Equal(t, 1, v)
}

func TestWithNextVersionAllocatesSequentially(t *testing.T) {
	s := newTestStore(t)

	for i := 1; i <= 3; i++ {
		err := s.WithNextVersion("a.txt", func(version int) error {
			assert.Equal(t, i, version)
			return s.Save(VersionRecord{
				FileID:       fmt.Sprintf("a.txt-v%d", version),
				FileName:     "a.txt",
				Version:      version,
				ClientID:     "c1",
				LastModified: time.Now().UTC(),
				CreatedAt:    time.Now().UTC(),
				UpdatedAt:    time.Now().UTC(),
			})
		})
		require.NoError(t, err)
	}

	latest, err := s.GetLatest("a.txt")
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, 3, latest.Version)
}

func TestSaveAndResolveConflict(t *testing.T) {
	s := newTestStore(t)
	winner := VersionRecord{FileID: "f1", FileName: "a.txt", Version: 1, ClientID: "alice"}
	loser := VersionRecord{FileID: "f2", FileName: "a.txt_conflicted_by_bob.txt", Version: 1, ClientID: "bob"}

	c := ConflictRecord{
		ID:           "conf-1",
		FileName:     "a.txt",
		Reason:       "concurrent_modification",
		ConflictType: ConflictTypeConcurrentModification,
		Winner:       winner,
		Losers:       []VersionRecord{loser},
		AllClients:   []string{"alice", "bob"},
		Timestamp:    time.Now().UTC(),
		Status:       StatusUnresolved,
	}
	require.NoError(t, s.SaveConflict(c))

	got, err := s.GetConflict("conf-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, StatusUnresolved, got.Status)

	resolved, err := s.ResolveConflict("conf-1", "manual")
	require.NoError(t, err)
	assert.Equal(t, StatusResolved, resolved.Status)
	assert.Equal(t, "manual", resolved.Resolution)

	// Resolving twice is idempotent: the second call doesn't overwrite
	// the resolution already recorded.
	again, err := s.ResolveConflict("conf-1", "different")
	require.NoError(t, err)
	assert.Equal(t, "manual", again.Resolution)
}

func TestDetectConflict(t *testing.T) {
	now := time.Now().UTC()
	latest := VersionRecord{ClientID: "alice", Checksum: "aaa", LastModified: now}

	incoming := VersionRecord{ClientID: "bob", Checksum: "bbb", LastModified: now.Add(1 * time.Second)}
	assert.True(t, DetectConflict(incoming, &latest, 5*time.Second))

	farApart := VersionRecord{ClientID: "bob", Checksum: "bbb", LastModified: now.Add(1 * time.Hour)}
	assert.False(t, DetectConflict(farApart, &latest, 5*time.Second))

	sameClient := VersionRecord{ClientID: "alice", Checksum: "bbb", LastModified: now.Add(1 * time.Second)}
	assert.False(t, DetectConflict(sameClient, &latest, 5*time.Second))

	assert.False(t, DetectConflict(incoming, nil, 5*time.Second))
}
