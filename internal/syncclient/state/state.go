// Package state persists the client sync engine's local bookkeeping to a
// SQLite database: pending uploads, pending downloads,
// recently-deleted/recently-uploaded suppression windows, pending
// deletions, and per-file sync status.
package state

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// SyncStatus classifies a tracked file's last known reconciliation state.
type SyncStatus string

const (
	StatusSynced   SyncStatus = "synced"
	StatusPending  SyncStatus = "pending"
	StatusConflict SyncStatus = "conflict"
)

// FileSyncStatus is one row of file_sync_status.
type FileSyncStatus struct {
	FileName  string
	Status    SyncStatus
	Version   int
	UpdatedAt time.Time
}

// Store is the client's local SQLite-backed state.
type Store struct {
	db *sql.DB
}

// Open opens (creating if absent) the state database at dbPath.
func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("opening state db: %w", err)
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating state db: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS pending_uploads (
		file_name TEXT PRIMARY KEY,
		path TEXT NOT NULL,
		started_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS pending_downloads (
		file_name TEXT PRIMARY KEY,
		started_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS recently_deleted (
		file_name TEXT PRIMARY KEY,
		deleted_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS pending_deletions (
		file_name TEXT PRIMARY KEY,
		queued_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS recently_uploaded (
		file_name TEXT PRIMARY KEY,
		uploaded_at DATETIME NOT NULL,
		version INTEGER,
		file_id TEXT
	);

	CREATE TABLE IF NOT EXISTS file_sync_status (
		file_name TEXT PRIMARY KEY,
		status TEXT NOT NULL,
		version INTEGER,
		updated_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS offline_queue (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		event_type TEXT NOT NULL,
		path TEXT NOT NULL,
		file_name TEXT NOT NULL,
		queued_at DATETIME NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// --- pending_uploads: serializes uploads per file_name ---

func (s *Store) BeginUpload(fileName, path string) error {
	_, err := s.db.Exec(`INSERT OR REPLACE INTO pending_uploads (file_name, path, started_at) VALUES (?, ?, ?)`,
		fileName, path, time.Now().UTC())
	return err
}

func (s *Store) IsUploadPending(fileName string) (bool, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM pending_uploads WHERE file_name = ?`, fileName).Scan(&n)
	return n > 0, err
}

func (s *Store) EndUpload(fileName string) error {
	_, err := s.db.Exec(`DELETE FROM pending_uploads WHERE file_name = ?`, fileName)
	return err
}

// --- pending_downloads: suppresses watcher events during a download ---

func (s *Store) BeginDownload(fileName string) error {
	_, err := s.db.Exec(`INSERT OR REPLACE INTO pending_downloads (file_name, started_at) VALUES (?, ?)`,
		fileName, time.Now().UTC())
	return err
}

func (s *Store) IsDownloadPending(fileName string) (bool, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM pending_downloads WHERE file_name = ?`, fileName).Scan(&n)
	return n > 0, err
}

func (s *Store) EndDownload(fileName string) error {
	_, err := s.db.Exec(`DELETE FROM pending_downloads WHERE file_name = ?`, fileName)
	return err
}

// --- recently_deleted: 30s TTL suppression after a local delete ---

func (s *Store) MarkRecentlyDeleted(fileName string) error {
	_, err := s.db.Exec(`INSERT OR REPLACE INTO recently_deleted (file_name, deleted_at) VALUES (?, ?)`,
		fileName, time.Now().UTC())
	return err
}

func (s *Store) IsRecentlyDeleted(fileName string, ttl time.Duration) (bool, error) {
	var deletedAt time.Time
	err := s.db.QueryRow(`SELECT deleted_at FROM recently_deleted WHERE file_name = ?`, fileName).Scan(&deletedAt)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if time.Since(deletedAt) > ttl {
		_, _ = s.db.Exec(`DELETE FROM recently_deleted WHERE file_name = ?`, fileName)
		return false, nil
	}
	return true, nil
}

// --- pending_deletions: flushed to the server by the reconciler ---

func (s *Store) QueueDeletion(fileName string) error {
	_, err := s.db.Exec(`INSERT OR REPLACE INTO pending_deletions (file_name, queued_at) VALUES (?, ?)`,
		fileName, time.Now().UTC())
	return err
}

func (s *Store) ListPendingDeletions() ([]string, error) {
	rows, err := s.db.Query(`SELECT file_name FROM pending_deletions ORDER BY queued_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		out = append(out, name)
	}
	return out, rows.Err()
}

func (s *Store) ClearPendingDeletion(fileName string) error {
	_, err := s.db.Exec(`DELETE FROM pending_deletions WHERE file_name = ?`, fileName)
	return err
}

// --- recently_uploaded: 60s TTL echo suppression ---

func (s *Store) MarkRecentlyUploaded(fileName string, version int, fileID string) error {
	_, err := s.db.Exec(`INSERT OR REPLACE INTO recently_uploaded (file_name, uploaded_at, version, file_id) VALUES (?, ?, ?, ?)`,
		fileName, time.Now().UTC(), version, fileID)
	return err
}

func (s *Store) IsRecentlyUploaded(fileName string, ttl time.Duration) (bool, error) {
	var uploadedAt time.Time
	err := s.db.QueryRow(`SELECT uploaded_at FROM recently_uploaded WHERE file_name = ?`, fileName).Scan(&uploadedAt)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if time.Since(uploadedAt) > ttl {
		_, _ = s.db.Exec(`DELETE FROM recently_uploaded WHERE file_name = ?`, fileName)
		return false, nil
	}
	return true, nil
}

// --- file_sync_status ---

func (s *Store) SetSyncStatus(fileName string, status SyncStatus, version int) error {
	_, err := s.db.Exec(`INSERT OR REPLACE INTO file_sync_status (file_name, status, version, updated_at) VALUES (?, ?, ?, ?)`,
		fileName, string(status), version, time.Now().UTC())
	return err
}

func (s *Store) GetSyncStatus(fileName string) (*FileSyncStatus, error) {
	var st FileSyncStatus
	var status string
	err := s.db.QueryRow(`SELECT file_name, status, version, updated_at FROM file_sync_status WHERE file_name = ?`, fileName).
		Scan(&st.FileName, &status, &st.Version, &st.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	st.Status = SyncStatus(status)
	return &st, nil
}

// ListSyncStatus returns every tracked file's sync status, newest first.
func (s *Store) ListSyncStatus() ([]FileSyncStatus, error) {
	rows, err := s.db.Query(`SELECT file_name, status, version, updated_at FROM file_sync_status ORDER BY updated_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []FileSyncStatus
	for rows.Next() {
		var st FileSyncStatus
		var status string
		if err := rows.Scan(&st.FileName, &status, &st.Version, &st.UpdatedAt); err != nil {
			return nil, err
		}
		st.Status = SyncStatus(status)
		out = append(out, st)
	}
	return out, rows.Err()
}

// --- offline_queue: FIFO, renames/adds-changes/deletions flushed in order ---

// QueuedEvent is one buffered watcher event awaiting a reconnect.
type QueuedEvent struct {
	ID        int64
	EventType string
	Path      string
	FileName  string
	QueuedAt  time.Time
}

func (s *Store) Enqueue(eventType, path, fileName string) error {
	_, err := s.db.Exec(`INSERT INTO offline_queue (event_type, path, file_name, queued_at) VALUES (?, ?, ?, ?)`,
		eventType, path, fileName, time.Now().UTC())
	return err
}

func (s *Store) ListQueued() ([]QueuedEvent, error) {
	rows, err := s.db.Query(`SELECT id, event_type, path, file_name, queued_at FROM offline_queue ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []QueuedEvent
	for rows.Next() {
		var e QueuedEvent
		if err := rows.Scan(&e.ID, &e.EventType, &e.Path, &e.FileName, &e.QueuedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) DequeueByID(id int64) error {
	_, err := s.db.Exec(`DELETE FROM offline_queue WHERE id = ?`, id)
	return err
}
