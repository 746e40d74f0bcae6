package metadata

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/vaultsync/vaultsync/internal/apierr"
)

// Store is the JSON-per-record metadata store. recordsDir holds
// "<file_id>.json" version documents; conflictsDir holds "<id>.json"
// conflict documents.
type Store struct {
	recordsDir   string
	conflictsDir string
	locksDir     string

	// nameLocks serializes next_version allocation within this process;
	// the filesystem lock file in locksDir backstops other processes
	// sharing the same directories.
	mu        sync.Mutex
	nameLocks map[string]*sync.Mutex
}

// New constructs a Store and ensures its directories exist.
func New(metadataDir string) (*Store, error) {
	recordsDir := filepath.Join(metadataDir, "files")
	conflictsDir := filepath.Join(metadataDir, "conflicts")
	locksDir := filepath.Join(metadataDir, "locks")
	for _, d := range []string{recordsDir, conflictsDir, locksDir} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return nil, fmt.Errorf("creating metadata dir %s: %w", d, err)
		}
	}
	return &Store{
		recordsDir:   recordsDir,
		conflictsDir: conflictsDir,
		locksDir:     locksDir,
		nameLocks:    make(map[string]*sync.Mutex),
	}, nil
}

// NewAt constructs a Store from explicit records/conflicts directories,
// used when FILES_DIR-style overrides point metadata subdirectories
// elsewhere than the default metadataDir/files, metadataDir/conflicts.
func NewAt(recordsDir, conflictsDir string) (*Store, error) {
	locksDir := filepath.Join(filepath.Dir(recordsDir), "locks")
	for _, d := range []string{recordsDir, conflictsDir, locksDir} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return nil, fmt.Errorf("creating metadata dir %s: %w", d, err)
		}
	}
	return &Store{
		recordsDir:   recordsDir,
		conflictsDir: conflictsDir,
		locksDir:     locksDir,
		nameLocks:    make(map[string]*sync.Mutex),
	}, nil
}

func (s *Store) recordPath(fileID string) string {
	return filepath.Join(s.recordsDir, fileID+".json")
}

func (s *Store) conflictPath(id string) string {
	return filepath.Join(s.conflictsDir, id+".json")
}

// GetAll returns every version record, by directory scan.
func (s *Store) GetAll() ([]VersionRecord, error) {
	entries, err := os.ReadDir(s.recordsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var records []VersionRecord
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		rec, err := readRecord(filepath.Join(s.recordsDir, e.Name()))
		if err != nil {
			continue // tolerate a record mid-write/removed between scan and read
		}
		records = append(records, rec)
	}
	return records, nil
}

func readRecord(path string) (VersionRecord, error) {
	var rec VersionRecord
	data, err := os.ReadFile(path)
	if err != nil {
		return rec, err
	}
	err = json.Unmarshal(data, &rec)
	return rec, err
}

// Get returns the version record for file_id, or nil if absent.
func (s *Store) Get(fileID string) (*VersionRecord, error) {
	rec, err := readRecord(s.recordPath(fileID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return &rec, nil
}

// GetAllVersions returns every version record for name, ascending by
// version.
func (s *Store) GetAllVersions(name string) ([]VersionRecord, error) {
	all, err := s.GetAll()
	if err != nil {
		return nil, err
	}
	var out []VersionRecord
	for _, r := range all {
		if r.FileName == name {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}

// GetLatest returns the highest-version record for name, or nil if name
// has no versions.
func (s *Store) GetLatest(name string) (*VersionRecord, error) {
	versions, err := s.GetAllVersions(name)
	if err != nil || len(versions) == 0 {
		return nil, err
	}
	latest := versions[len(versions)-1]
	return &latest, nil
}

// NextVersion returns latest(name).version + 1, or 1 if name has no
// versions.
func (s *Store) NextVersion(name string) (int, error) {
	latest, err := s.GetLatest(name)
	if err != nil {
		return 0, err
	}
	if latest == nil {
		return 1, nil
	}
	return latest.Version + 1, nil
}

// lockName returns the process-local mutex guarding next_version
// allocation for name.
func (s *Store) lockName(name string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.nameLocks[name]
	if !ok {
		l = &sync.Mutex{}
		s.nameLocks[name] = l
	}
	return l
}

// WithNextVersion runs fn with name's next_version, serialized both
// in-process (a Go mutex) and cross-process (an O_EXCL lock file), so two
// concurrent writers cannot allocate the same version number.
func (s *Store) WithNextVersion(name string, fn func(version int) error) error {
	l := s.lockName(name)
	l.Lock()
	defer l.Unlock()

	lockPath := filepath.Join(s.locksDir, sanitizeLockName(name)+".lock")
	lockFile, err := acquireFileLock(lockPath)
	if err != nil {
		return err
	}
	defer releaseFileLock(lockFile, lockPath)

	version, err := s.NextVersion(name)
	if err != nil {
		return err
	}
	return fn(version)
}

func sanitizeLockName(name string) string {
	return strings.ReplaceAll(strings.ReplaceAll(name, "/", "_"), string(filepath.Separator), "_")
}

// acquireFileLock spins briefly on an O_EXCL create, a filesystem
// primitive that stands in for a language-level mutex across processes.
func acquireFileLock(path string) (*os.File, error) {
	deadline := time.Now().Add(5 * time.Second)
	for {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			return f, nil
		}
		if !os.IsExist(err) {
			return nil, err
		}
		if time.Now().After(deadline) {
			// Stale lock from a crashed process: steal it rather than
			// wedge every future uploader for this name.
			_ = os.Remove(path)
			continue
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func releaseFileLock(f *os.File, path string) {
	f.Close()
	os.Remove(path)
}

// Save writes (or idempotently overwrites) a version record by file_id.
func (s *Store) Save(rec VersionRecord) error {
	if rec.FileID == "" {
		return apierr.BadRequest("file_id is required")
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	rec.UpdatedAt = time.Now().UTC()

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return err
	}
	return writeAtomic(s.recordPath(rec.FileID), data)
}

func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpPath, path)
}

// Delete removes a single version record by file_id.
func (s *Store) Delete(fileID string) error {
	err := os.Remove(s.recordPath(fileID))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// DeleteByName removes every version record for name.
func (s *Store) DeleteByName(name string) error {
	versions, err := s.GetAllVersions(name)
	if err != nil {
		return err
	}
	for _, v := range versions {
		if err := s.Delete(v.FileID); err != nil {
			return err
		}
	}
	return nil
}

// Rename rewrites every record whose file_name == oldName to newName.
func (s *Store) Rename(oldName, newName string) error {
	versions, err := s.GetAllVersions(oldName)
	if err != nil {
		return err
	}
	for _, v := range versions {
		v.FileName = newName
		if err := s.Save(v); err != nil {
			return err
		}
	}
	return nil
}

// SaveConflict writes (or idempotently overwrites) a conflict record by
// id.
func (s *Store) SaveConflict(c ConflictRecord) error {
	if c.ID == "" {
		return apierr.BadRequest("conflict id is required")
	}
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return writeAtomic(s.conflictPath(c.ID), data)
}

// GetConflict returns a conflict record by id, or nil if absent.
func (s *Store) GetConflict(id string) (*ConflictRecord, error) {
	data, err := os.ReadFile(s.conflictPath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var c ConflictRecord
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

// GetConflicts lists all conflict records, by directory scan.
func (s *Store) GetConflicts() ([]ConflictRecord, error) {
	entries, err := os.ReadDir(s.conflictsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var out []ConflictRecord
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.conflictsDir, e.Name()))
		if err != nil {
			continue
		}
		var c ConflictRecord
		if err := json.Unmarshal(data, &c); err != nil {
			continue
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

// ResolveConflict transitions a conflict from unresolved to resolved
// exactly once.
func (s *Store) ResolveConflict(id, resolution string) (*ConflictRecord, error) {
	c, err := s.GetConflict(id)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, apierr.NotFound(fmt.Sprintf("conflict %q not found", id))
	}
	if c.Status == StatusResolved {
		return c, nil
	}
	now := time.Now().UTC()
	c.Status = StatusResolved
	c.Resolution = resolution
	c.ResolvedAt = &now
	if err := s.SaveConflict(*c); err != nil {
		return nil, err
	}
	return c, nil
}

// DetectConflict is the metadata-fallback detector: it declares a
// conflict when the incoming upload and the current latest version
// differ in client_id and checksum but arrived within ConflictThreshold
// of each other's last_modified.
func DetectConflict(incoming VersionRecord, latest *VersionRecord, threshold time.Duration) bool {
	if latest == nil {
		return false
	}
	delta := incoming.LastModified.Sub(latest.LastModified)
	if delta < 0 {
		delta = -delta
	}
	return delta < threshold &&
		incoming.ClientID != latest.ClientID &&
		incoming.Checksum != latest.Checksum
}
