// Package metadata implements the version and conflict metadata store:
// one JSON document per version record and one per conflict record, so
// readers can union state by directory scan without cross-process
// coordination on a monolithic index.
package metadata

import "time"

// VersionRecord is the immutable-once-written version metadata.
type VersionRecord struct {
	FileID          string    `json:"file_id"`
	FileName        string    `json:"file_name"`
	Version         int       `json:"version"`
	Size            int64     `json:"size"`
	Checksum        string    `json:"checksum"`
	ClientID        string    `json:"client_id"`
	LastModified    time.Time `json:"last_modified"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
	RestoredFrom    int       `json:"restored_from,omitempty"`
	Conflict        bool      `json:"conflict,omitempty"`
	ConflictedWith  string    `json:"conflicted_with,omitempty"`
}

// ConflictStatus is the lifecycle state of a ConflictRecord.
type ConflictStatus string

const (
	StatusUnresolved ConflictStatus = "unresolved"
	StatusResolved   ConflictStatus = "resolved"
)

// ConflictRecord is the conflict document, mutable only to append a
// resolution.
type ConflictRecord struct {
	ID             string          `json:"id"`
	FileName       string          `json:"file_name"`
	Reason         string          `json:"reason"`
	ConflictType   string          `json:"conflict_type"`
	Winner         VersionRecord   `json:"winner"`
	Losers         []VersionRecord `json:"losers"`
	AllClients     []string        `json:"all_clients"`
	Timestamp      time.Time       `json:"timestamp"`
	Status         ConflictStatus  `json:"status"`
	Resolution     string          `json:"resolution,omitempty"`
	ResolvedAt     *time.Time      `json:"resolved_at,omitempty"`
}

const (
	ConflictTypeConcurrentModification             = "concurrent_modification"
	ConflictTypeMultiClientConcurrentModification   = "multi_client_concurrent_modification"
)
