// Package content implements the on-disk blob store: one "current" blob
// per file name plus an append-only per-version copy, written atomically
// via write-to-temp-then-rename so concurrent readers never observe a
// partial write.
package content

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/vaultsync/vaultsync/internal/apierr"
)

// Store is the content store rooted at a pair of directories. Any number
// of processes sharing the same FilesDir/VersionsDir observe identical
// state.
type Store struct {
	filesDir    string
	versionsDir string

	// Optional cold-storage retention tier; nil means every version stays
	// on local disk forever.
	archiver         Archive
	maxAge           time.Duration
	maxLocalVersions int
}

// New constructs a Store and ensures its directories exist.
func New(filesDir, versionsDir string) (*Store, error) {
	if err := os.MkdirAll(filesDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating files dir: %w", err)
	}
	if err := os.MkdirAll(versionsDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating versions dir: %w", err)
	}
	return &Store{filesDir: filesDir, versionsDir: versionsDir}, nil
}

// SaveResult describes the outcome of a Save.
type SaveResult struct {
	Path         string
	VersionedPath string
	Checksum     string
	Size         int64
}

// Checksum computes the fixed-width hex content fingerprint used to detect
// identical uploads and idempotent re-sends.
func Checksum(blob []byte) string {
	sum := sha256.Sum256(blob)
	return hex.EncodeToString(sum[:])
}

func (s *Store) currentPath(name string) string {
	return filepath.Join(s.filesDir, filepath.FromSlash(name))
}

func (s *Store) versionedPath(name string, version int) string {
	return filepath.Join(s.versionsDir, filepath.FromSlash(name)+".v"+strconv.Itoa(version))
}

// Save writes the full blob as the new current file (atomically) and as an
// append-only versioned copy.
func (s *Store) Save(name string, blob []byte, version int) (SaveResult, error) {
	cur := s.currentPath(name)
	ver := s.versionedPath(name, version)

	if err := os.MkdirAll(filepath.Dir(cur), 0o755); err != nil {
		return SaveResult{}, fmt.Errorf("creating parent dir: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(ver), 0o755); err != nil {
		return SaveResult{}, fmt.Errorf("creating parent dir: %w", err)
	}

	if err := writeAtomic(cur, blob); err != nil {
		return SaveResult{}, fmt.Errorf("writing current blob: %w", err)
	}
	if err := os.WriteFile(ver, blob, 0o644); err != nil {
		return SaveResult{}, fmt.Errorf("writing versioned blob: %w", err)
	}

	return SaveResult{
		Path:          cur,
		VersionedPath: ver,
		Checksum:      Checksum(blob),
		Size:          int64(len(blob)),
	}, nil
}

// writeAtomic writes data to a temp file in the same directory then
// renames it over path, so readers of path never see a partial write.
func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op once renamed

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpPath, path)
}

// Get returns the current blob for name.
func (s *Store) Get(name string) ([]byte, error) {
	data, err := os.ReadFile(s.currentPath(name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, apierr.NotFound(fmt.Sprintf("file %q not found", name))
		}
		return nil, err
	}
	return data, nil
}

// GetVersion returns a specific version's blob.
func (s *Store) GetVersion(name string, version int) ([]byte, error) {
	data, err := os.ReadFile(s.versionedPath(name, version))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, apierr.NotFound(fmt.Sprintf("version %d of %q not found", version, name))
		}
		return nil, err
	}
	return data, nil
}

// Delete removes the current blob. With cascade it also removes every
// versioned blob for name.
func (s *Store) Delete(name string, cascade bool) error {
	if err := os.Remove(s.currentPath(name)); err != nil && !os.IsNotExist(err) {
		return err
	}
	if cascade {
		versions, err := s.ListVersions(name)
		if err != nil {
			return err
		}
		for _, v := range versions {
			if err := os.Remove(s.versionedPath(name, v)); err != nil && !os.IsNotExist(err) {
				return err
			}
		}
	}
	return nil
}

// DeleteVersion removes a single versioned blob.
func (s *Store) DeleteVersion(name string, version int) error {
	err := os.Remove(s.versionedPath(name, version))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// List returns the names of every file with a current blob.
func (s *Store) List() ([]string, error) {
	var names []string
	err := filepath.Walk(s.filesDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(s.filesDir, path)
		if err != nil {
			return err
		}
		names = append(names, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	sort.Strings(names)
	return names, nil
}

// ListVersions returns the sorted version numbers stored for name.
func (s *Store) ListVersions(name string) ([]int, error) {
	dir := filepath.Join(s.versionsDir, filepath.Dir(filepath.FromSlash(name)))
	base := filepath.Base(filepath.FromSlash(name))
	prefix := base + ".v"

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var versions []int
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		n := e.Name()
		if !strings.HasPrefix(n, prefix) {
			continue
		}
		vStr := strings.TrimPrefix(n, prefix)
		v, err := strconv.Atoi(vStr)
		if err != nil {
			continue
		}
		versions = append(versions, v)
	}
	sort.Ints(versions)
	return versions, nil
}

// Rename atomically retargets the current blob and every version blob
// from old to new.
func (s *Store) Rename(oldName, newName string) error {
	oldCur, newCur := s.currentPath(oldName), s.currentPath(newName)
	if _, err := os.Stat(oldCur); err == nil {
		if err := os.MkdirAll(filepath.Dir(newCur), 0o755); err != nil {
			return err
		}
		if err := os.Rename(oldCur, newCur); err != nil {
			return err
		}
	} else if !os.IsNotExist(err) {
		return err
	}

	versions, err := s.ListVersions(oldName)
	if err != nil {
		return err
	}
	for _, v := range versions {
		oldVer := s.versionedPath(oldName, v)
		newVer := s.versionedPath(newName, v)
		if err := os.MkdirAll(filepath.Dir(newVer), 0o755); err != nil {
			return err
		}
		if err := os.Rename(oldVer, newVer); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	return nil
}
