package metadata

import (
	"encoding/json"
	"os"
)

// MigrateLegacyIndex performs a one-time migration: a legacy monolithic
// JSON array of version records is split into the per-file_id documents
// this store expects. It is a no-op if
// legacyPath does not exist, and idempotent — records already present
// under their file_id are left untouched (Save overwrites by file_id, so
// re-running the migration against the same legacy file is harmless).
func (s *Store) MigrateLegacyIndex(legacyPath string) (int, error) {
	data, err := os.ReadFile(legacyPath)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}

	var records []VersionRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return 0, err
	}

	migrated := 0
	for _, rec := range records {
		if rec.FileID == "" {
			continue
		}
		existing, err := s.Get(rec.FileID)
		if err != nil {
			return migrated, err
		}
		if existing != nil {
			continue
		}
		if err := s.Save(rec); err != nil {
			return migrated, err
		}
		migrated++
	}
	return migrated, nil
}
