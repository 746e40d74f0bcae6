package chunkassembler

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vaultsync/vaultsync/internal/content"
	"github.com/vaultsync/vaultsync/internal/metadata"
)

func newTestAssembler(t *testing.T) *Assembler {
	t.Helper()
	root := t.TempDir()
	cs, err := content.New(filepath.Join(root, "files"), filepath.Join(root, "versions"))
	require.NoError(t, err)
	ms, err := metadata.New(filepath.Join(root, "metadata"))
	require.NoError(t, err)
	a, err := New(filepath.Join(root, "chunks"), cs, ms)
	require.NoError(t, err)
	return a
}

func TestAcceptPartAssemblesOnLastChunk(t *testing.T) {
	a := newTestAssembler(t)
	now := time.Now().UTC()

	r1, err := a.AcceptPart(Part{FileID: "f1", ChunkNumber: 1, TotalChunks: 2, FileName: "big.bin", ClientID: "c1", LastModified: now, Bytes: []byte("hello ")})
	require.NoError(t, err)
	assert.False(t, r1.Complete)

	r2, err := a.AcceptPart(Part{FileID: "f1", ChunkNumber: 2, TotalChunks: 2, FileName: "big.bin", ClientID: "c1", LastModified: now, Bytes: []byte("world")})
	require.NoError(t, err)
	assert.True(t, r2.Complete)
	assert.False(t, r2.Duplicate)
	assert.Equal(t, 1, r2.Version)

	blob, err := a.content.Get("big.bin")
	require.NoError(t, err)
	assert.Equal(t, []byte("hello world"), blob)
}

func TestAcceptPartDuplicateWholeFileSkipsNewVersion(t *testing.T) {
	a := newTestAssembler(t)
	now := time.Now().UTC()

	_, err := a.AcceptPart(Part{FileID: "f1", ChunkNumber: 1, TotalChunks: 1, FileName: "x.bin", ClientID: "c1", LastModified: now, Bytes: []byte("same")})
	require.NoError(t, err)

	r, err := a.AcceptPart(Part{FileID: "f2", ChunkNumber: 1, TotalChunks: 1, FileName: "x.bin", ClientID: "c2", LastModified: now, Bytes: []byte("same")})
	require.NoError(t, err)
	assert.True(t, r.Duplicate)
	assert.Equal(t, 1, r.Version)
}

func TestAcceptPartRejectsEmptyChunk(t *testing.T) {
	a := newTestAssembler(t)
	_, err := a.AcceptPart(Part{FileID: "f1", ChunkNumber: 1, TotalChunks: 1, FileName: "x.bin", Bytes: nil})
	assert.Error(t, err)
}

func TestSortedKeysOrdersAscending(t *testing.T) {
	got := sortedKeys(map[int]bool{3: true, 1: true, 2: true})
	assert.Equal(t, []int{1, 2, 3}, got)
}
