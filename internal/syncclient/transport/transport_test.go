package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHealthOK(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/health", r.URL.Path)
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	c := New(ts.URL, "alice")
	assert.NoError(t, c.Health(context.Background()))
}

func TestHealthNonOKIsError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer ts.Close()

	c := New(ts.URL, "alice")
	assert.Error(t, c.Health(context.Background()))
}

func TestListFilesDecodesEntries(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode([]FileListEntry{
			{Name: "a.txt", Version: 2, Size: 10, LastModified: time.Now().UTC()},
		})
	}))
	defer ts.Close()

	c := New(ts.URL, "alice")
	entries, err := c.ListFiles(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "a.txt", entries[0].Name)
	assert.Equal(t, 2, entries[0].Version)
}

func TestUploadSafeSuccess(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "alice", r.FormValue("client_id"))
		assert.Equal(t, "a.txt", r.FormValue("file_name"))
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"success": true,
			"data":    map[string]interface{}{"version": 3},
		})
	}))
	defer ts.Close()

	c := New(ts.URL, "alice")
	result, err := c.UploadSafe(context.Background(), "a.txt", []byte("hello"), time.Now())
	require.NoError(t, err)
	assert.Equal(t, 3, result.Version)
}

func TestUploadSafeConflictDecodesConflictError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_ = json.NewEncoder(w).Encode(ConflictError{
			Winner:           PartyInfo{ClientID: "bob"},
			ConflictFileName: "a_conflicted_by_alice.txt",
			ConflictID:       "conf-1",
		})
	}))
	defer ts.Close()

	c := New(ts.URL, "alice")
	_, err := c.UploadSafe(context.Background(), "a.txt", []byte("hello"), time.Now())
	require.Error(t, err)
	ce, ok := err.(*ConflictError)
	require.True(t, ok)
	assert.Equal(t, "bob", ce.Winner.ClientID)
	assert.Equal(t, "conf-1", ce.ConflictID)
}

func TestUploadChunkedCompletesSingleChunk(t *testing.T) {
	var chunkCount int
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(1<<20))
		chunkCount++
		total := r.FormValue("total_chunks")
		chunkNum := r.FormValue("chunk_number")
		complete := chunkNum == total
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"success": true,
			"data": map[string]interface{}{
				"complete":  complete,
				"duplicate": false,
				"version":   1,
			},
		})
	}))
	defer ts.Close()

	c := New(ts.URL, "alice")
	blob := make([]byte, 25)
	// Force multiple chunks regardless of config.ChunkSize by uploading
	// through the same chunk endpoint directly isn't exposed, so this
	// exercises the common single-chunk completion path.
	result, err := c.UploadChunked(context.Background(), "big.bin", blob, time.Now())
	require.NoError(t, err)
	assert.GreaterOrEqual(t, chunkCount, 1)
	assert.Equal(t, 1, result.Version)
}

func TestDownloadNotFound(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer ts.Close()

	c := New(ts.URL, "alice")
	_, err := c.Download(context.Background(), "missing.txt")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDownloadReturnsBody(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/files/a.txt/download", r.URL.Path)
		_, _ = w.Write([]byte("payload"))
	}))
	defer ts.Close()

	c := New(ts.URL, "alice")
	blob, err := c.Download(context.Background(), "a.txt")
	require.NoError(t, err)
	assert.Equal(t, "payload", string(blob))
}

func TestDeleteAcceptsOKAndNotFound(t *testing.T) {
	status := http.StatusOK
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		w.WriteHeader(status)
	}))
	defer ts.Close()

	c := New(ts.URL, "alice")
	assert.NoError(t, c.Delete(context.Background(), "a.txt"))

	status = http.StatusNotFound
	assert.NoError(t, c.Delete(context.Background(), "a.txt"))
}

func TestRenamePostsNewName(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "new.txt", r.FormValue("new_name"))
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	c := New(ts.URL, "alice")
	assert.NoError(t, c.Rename(context.Background(), "old.txt", "new.txt"))
}

func TestRestoreReturnsNewVersion(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"success": true,
			"data":    map[string]interface{}{"version": 4},
		})
	}))
	defer ts.Close()

	c := New(ts.URL, "alice")
	v, err := c.Restore(context.Background(), "a.txt", 2)
	require.NoError(t, err)
	assert.Equal(t, 4, v)
}

func TestListConflictsDecodesSummaries(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode([]ConflictSummary{
			{ID: "conf-1", FileName: "a.txt", Status: "unresolved"},
		})
	}))
	defer ts.Close()

	c := New(ts.URL, "alice")
	out, err := c.ListConflicts(context.Background())
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "conf-1", out[0].ID)
}

func TestDiffDecodesUnifiedResult(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/conflicts/conf-1/diff", r.URL.Path)
		assert.Equal(t, "bob", r.URL.Query().Get("client_id"))
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"unified_diff": "--- a\n+++ b\n",
			"has_changes":  true,
			"stats":        map[string]interface{}{"lines_added": 1, "lines_removed": 2},
		})
	}))
	defer ts.Close()

	c := New(ts.URL, "alice")
	diff, err := c.Diff(context.Background(), "conf-1", "bob")
	require.NoError(t, err)
	assert.True(t, diff.HasChanges)
	assert.Equal(t, 1, diff.Stats.LinesAdded)
	assert.Equal(t, 2, diff.Stats.LinesRemoved)
}

func TestDiffNonOKIsError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer ts.Close()

	c := New(ts.URL, "alice")
	_, err := c.Diff(context.Background(), "conf-missing", "")
	assert.Error(t, err)
}

func TestResolveConflictPostsFields(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "manual", r.FormValue("method"))
		assert.Equal(t, "2", r.FormValue("keep_version"))
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	c := New(ts.URL, "alice")
	assert.NoError(t, c.ResolveConflict(context.Background(), "conf-1", "manual", "2"))
}
