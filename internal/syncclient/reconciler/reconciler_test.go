package reconciler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vaultsync/vaultsync/internal/syncclient/state"
	"github.com/vaultsync/vaultsync/internal/syncclient/transport"
)

type fakeServer struct {
	files     map[string]fakeFile
	deleted   []string
	downloads []string
}

type fakeFile struct {
	blob         []byte
	lastModified time.Time
}

func newFakeServer(t *testing.T) (*fakeServer, *httptest.Server) {
	t.Helper()
	fs := &fakeServer{files: map[string]fakeFile{}}
	mux := http.NewServeMux()

	mux.HandleFunc("/files", func(w http.ResponseWriter, r *http.Request) {
		var out []transport.FileListEntry
		for name, f := range fs.files {
			out = append(out, transport.FileListEntry{
				Name: name, Size: int64(len(f.blob)), LastModified: f.lastModified, Version: 1,
			})
		}
		_ = json.NewEncoder(w).Encode(out)
	})

	mux.HandleFunc("/files/upload-safe", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(1 << 20))
		name := r.FormValue("file_name")
		file, _, err := r.FormFile("file")
		require.NoError(t, err)
		blob := make([]byte, 0)
		buf := make([]byte, 4096)
		for {
			n, err := file.Read(buf)
			blob = append(blob, buf[:n]...)
			if err != nil {
				break
			}
		}
		fs.files[name] = fakeFile{blob: blob, lastModified: time.Now()}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"success": true,
			"data":    map[string]interface{}{"version": 1},
		})
	})

	mux.HandleFunc("/files/", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodDelete {
			name := filepath.Base(r.URL.Path)
			delete(fs.files, name)
			fs.deleted = append(fs.deleted, name)
			w.WriteHeader(http.StatusOK)
			return
		}
		// GET .../files/<name>/download
		name := filepath.Base(filepath.Dir(r.URL.Path))
		f, ok := fs.files[name]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		fs.downloads = append(fs.downloads, name)
		_, _ = w.Write(f.blob)
	})

	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return fs, ts
}

func newTestReconciler(t *testing.T) (*Reconciler, *fakeServer, *state.Store, string) {
	t.Helper()
	syncFolder := t.TempDir()
	st, err := state.Open(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	fs, ts := newFakeServer(t)
	tc := transport.New(ts.URL, "client-a")
	r := New(syncFolder, "client-a", tc, st, zerolog.Nop())
	return r, fs, st, syncFolder
}

func TestTickDownloadsNewServerFile(t *testing.T) {
	r, fs, _, syncFolder := newTestReconciler(t)
	fs.files["a.txt"] = fakeFile{blob: []byte("server content"), lastModified: time.Now()}

	require.NoError(t, r.Tick(context.Background()))

	blob, err := os.ReadFile(filepath.Join(syncFolder, "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, "server content", string(blob))
}

func TestTickUploadsNewLocalFileOnFirstSync(t *testing.T) {
	r, fs, _, syncFolder := newTestReconciler(t)
	require.NoError(t, os.WriteFile(filepath.Join(syncFolder, "local.txt"), []byte("local content"), 0o644))

	require.NoError(t, r.Tick(context.Background()))

	f, ok := fs.files["local.txt"]
	require.True(t, ok)
	assert.Equal(t, "local content", string(f.blob))
}

func TestTickFlushesPendingDeletions(t *testing.T) {
	r, fs, st, _ := newTestReconciler(t)
	fs.files["gone.txt"] = fakeFile{blob: []byte("x"), lastModified: time.Now()}
	require.NoError(t, st.QueueDeletion("gone.txt"))

	require.NoError(t, r.Tick(context.Background()))

	assert.Contains(t, fs.deleted, "gone.txt")
	names, err := st.ListPendingDeletions()
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestTickSkipsDownloadForRecentlyDeletedName(t *testing.T) {
	r, fs, st, syncFolder := newTestReconciler(t)
	require.NoError(t, st.MarkRecentlyDeleted("skip.txt"))
	fs.files["skip.txt"] = fakeFile{blob: []byte("server wins"), lastModified: time.Now()}

	require.NoError(t, r.Tick(context.Background()))

	_, err := os.Stat(filepath.Join(syncFolder, "skip.txt"))
	assert.True(t, os.IsNotExist(err))
}

func TestTickCleansUpConflictTempFiles(t *testing.T) {
	r, _, _, syncFolder := newTestReconciler(t)
	tempPath := filepath.Join(syncFolder, ".conflict_server_abc")
	require.NoError(t, os.WriteFile(tempPath, []byte("tmp"), 0o644))

	require.NoError(t, r.Tick(context.Background()))

	_, err := os.Stat(tempPath)
	assert.True(t, os.IsNotExist(err))
}
