package content

import (
	"context"
	"time"
)

// Archive is the cold-storage backend Sweep and GetVersionWithArchive push
// pruned/fetched version blobs through. *Archiver satisfies it against real
// Azure Blob Storage; tests substitute an in-memory fake.
type Archive interface {
	Upload(ctx context.Context, name string, version int, blob []byte) error
	Download(ctx context.Context, name string, version int) ([]byte, error)
}

// AttachArchiver enables the cold-storage tier on an existing Store.
func (s *Store) AttachArchiver(a Archive, maxAge time.Duration, maxLocalVersions int) {
	s.archiver = a
	s.maxAge = maxAge
	s.maxLocalVersions = maxLocalVersions
}

// GetVersionWithArchive is GetVersion with a transparent fallback to the
// archive tier when the local versioned blob has been pruned.
func (s *Store) GetVersionWithArchive(ctx context.Context, name string, version int) ([]byte, error) {
	data, err := s.GetVersion(name, version)
	if err == nil {
		return data, nil
	}
	if s.archiver == nil {
		return nil, err
	}
	return s.archiver.Download(ctx, name, version)
}

// Sweep archives and prunes version blobs beyond the configured per-file
// cap, keeping the invariant that every version record still has
// retrievable bytes (locally or in the archive tier). A no-op when no
// archiver is attached.
func (s *Store) Sweep(ctx context.Context, name string, latest int) error {
	if s.archiver == nil || s.maxLocalVersions <= 0 {
		return nil
	}
	versions, err := s.ListVersions(name)
	if err != nil {
		return err
	}
	if len(versions) <= s.maxLocalVersions {
		return nil
	}

	// Keep the newest maxLocalVersions; archive-and-prune the rest.
	toArchive := versions[:len(versions)-s.maxLocalVersions]
	for _, v := range toArchive {
		if v == latest {
			continue
		}
		blob, err := s.GetVersion(name, v)
		if err != nil {
			continue
		}
		if err := s.archiver.Upload(ctx, name, v, blob); err != nil {
			return err
		}
		if err := s.DeleteVersion(name, v); err != nil {
			return err
		}
	}
	return nil
}

// SweepAll runs Sweep over every name the store currently tracks, looking
// up each one's latest version through latestVersion so the live version
// is never archived out from under a reader. It keeps going past
// individual Sweep errors so one bad file can't block the rest of the
// round and returns the last error seen, if any.
func (s *Store) SweepAll(ctx context.Context, latestVersion func(name string) (int, bool)) error {
	if s.archiver == nil {
		return nil
	}
	names, err := s.List()
	if err != nil {
		return err
	}
	var lastErr error
	for _, name := range names {
		latest, ok := latestVersion(name)
		if !ok {
			continue
		}
		if err := s.Sweep(ctx, name, latest); err != nil {
			lastErr = err
		}
	}
	return lastErr
}
