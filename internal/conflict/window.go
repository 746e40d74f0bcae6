package conflict

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/vaultsync/vaultsync/internal/content"
	"github.com/vaultsync/vaultsync/internal/ids"
	"github.com/vaultsync/vaultsync/internal/metadata"
)

// Engine holds the sliding window and dispatches winner/loser
// materialization.
type Engine struct {
	content *content.Store
	meta    *metadata.Store

	windowDuration time.Duration

	mu      sync.Mutex
	windows map[string][]entry

	// processedKeys guards against re-materializing a conflict already
	// recorded, even after its window entries have been garbage collected.
	processedKeys map[string]string // conflictKey -> conflictID
}

// New constructs a conflict Engine.
func New(contentStore *content.Store, metaStore *metadata.Store, windowDuration time.Duration) *Engine {
	return &Engine{
		content:        contentStore,
		meta:           metaStore,
		windowDuration: windowDuration,
		windows:        make(map[string][]entry),
		processedKeys:  make(map[string]string),
	}
}

// ProcessUpload runs the full sliding-window algorithm for one safe-upload
// arrival: idempotency shortcut, window append, dedup, and either a
// materialized winner/loser split or a pass-through to the prior outcome for
// an exact repeat.
func (e *Engine) ProcessUpload(up UploadRecord) (Outcome, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := time.Now()
	e.gc(up.FileName, now)

	latest, err := e.meta.GetLatest(up.FileName)
	if err != nil {
		return Outcome{}, err
	}

	// Step 2: idempotent upload short-circuit.
	if latest != nil && latest.Checksum == up.Checksum {
		return Outcome{Status: StatusUpToDate, Version: latest.Version}, nil
	}

	// Step 3: append to window.
	e.windows[up.FileName] = append(e.windows[up.FileName], entry{UploadRecord: up, arrivedAt: now})

	// Step 4: dedup by (client_id, checksum), keeping earliest arrival.
	candidates := dedup(e.windows[up.FileName])

	if len(candidates) < 2 {
		// Non-conflicting: check whether this (client_id, checksum) was
		// already resolved into a prior conflict for this name.
		if _, ok := e.lookupProcessed(up.FileName, up.ClientID, up.Checksum); ok {
			return Outcome{Status: StatusAlreadyExists, ConflictID: "already-exists"}, nil
		}
		return e.saveNonConflicting(up)
	}

	return e.materialize(up, candidates)
}

// gc drops window entries older than windowDuration for name.
func (e *Engine) gc(name string, now time.Time) {
	entries := e.windows[name]
	if len(entries) == 0 {
		return
	}
	var kept []entry
	for _, en := range entries {
		if now.Sub(en.arrivedAt) <= e.windowDuration {
			kept = append(kept, en)
		}
	}
	if len(kept) == 0 {
		delete(e.windows, name)
	} else {
		e.windows[name] = kept
	}
}

func dedup(entries []entry) []UploadRecord {
	seen := make(map[string]bool)
	var out []UploadRecord
	for _, en := range entries {
		key := en.ClientID + "\x00" + en.Checksum
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, en.UploadRecord)
	}
	return out
}

func (e *Engine) saveNonConflicting(up UploadRecord) (Outcome, error) {
	var version int
	err := e.meta.WithNextVersion(up.FileName, func(v int) error {
		version = v
		saveRes, err := e.content.Save(up.FileName, up.Blob, v)
		if err != nil {
			return err
		}
		return e.meta.Save(metadata.VersionRecord{
			FileID:       up.FileID,
			FileName:     up.FileName,
			Version:      v,
			Size:         saveRes.Size,
			Checksum:     saveRes.Checksum,
			ClientID:     up.ClientID,
			LastModified: up.LastModified,
		})
	})
	if err != nil {
		return Outcome{}, err
	}
	return Outcome{Status: StatusNonConflicting, Version: version}, nil
}

// conflictKeyFor derives a stable key from the sorted set of
// (client_id, checksum) pairs, independent of arrival order.
func conflictKeyFor(records []UploadRecord) string {
	pairs := make([]string, 0, len(records))
	for _, r := range records {
		pairs = append(pairs, r.ClientID+"\x00"+r.Checksum)
	}
	sort.Strings(pairs)
	return strings.Join(pairs, "\x01")
}

func (e *Engine) lookupProcessed(fileName, clientID, checksum string) (string, bool) {
	prefix := fileName + "\x02"
	pairFragment := clientID + "\x00" + checksum
	for key, convID := range e.processedKeys {
		if strings.HasPrefix(key, prefix) && strings.Contains(key, pairFragment) {
			return convID, true
		}
	}
	return "", false
}

func (e *Engine) materialize(triggering UploadRecord, candidates []UploadRecord) (Outcome, error) {
	scopedKey := triggeringFileScopedKey(triggering.FileName, candidates)
	if existingID, ok := e.processedKeys[scopedKey]; ok {
		return e.alreadyExistsOutcome(triggering, existingID)
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].LastModified.Before(candidates[j].LastModified)
	})
	winner := candidates[0]
	losers := candidates[1:]

	latest, err := e.meta.GetLatest(triggering.FileName)
	if err != nil {
		return Outcome{}, err
	}

	var winnerVersion int
	if latest != nil && latest.Checksum == winner.Checksum {
		winnerVersion = latest.Version
	} else {
		err := e.meta.WithNextVersion(triggering.FileName, func(v int) error {
			saveRes, err := e.content.Save(triggering.FileName, winner.Blob, v)
			if err != nil {
				return err
			}
			winnerVersion = v
			return e.meta.Save(metadata.VersionRecord{
				FileID:       winner.FileID,
				FileName:     triggering.FileName,
				Version:      v,
				Size:         saveRes.Size,
				Checksum:     saveRes.Checksum,
				ClientID:     winner.ClientID,
				LastModified: winner.LastModified,
			})
		})
		if err != nil {
			return Outcome{}, err
		}
	}

	loserRecords := make([]metadata.VersionRecord, 0, len(losers))
	var triggeringConflictFileName string
	allClients := map[string]bool{winner.ClientID: true}

	for _, loser := range losers {
		allClients[loser.ClientID] = true
		conflictFileName := conflictCopyName(triggering.FileName, loser.ClientID)
		if loser.ClientID == triggering.ClientID {
			triggeringConflictFileName = conflictFileName
		}

		loserVersion, err := e.meta.NextVersion(conflictFileName)
		if err != nil {
			return Outcome{}, err
		}
		saveRes, err := e.content.Save(conflictFileName, loser.Blob, loserVersion)
		if err != nil {
			return Outcome{}, err
		}
		rec := metadata.VersionRecord{
			FileID:         loser.FileID,
			FileName:       conflictFileName,
			Version:        loserVersion,
			Size:           saveRes.Size,
			Checksum:       saveRes.Checksum,
			ClientID:       loser.ClientID,
			LastModified:   loser.LastModified,
			Conflict:       true,
			ConflictedWith: triggering.FileName,
		}
		if err := e.meta.Save(rec); err != nil {
			return Outcome{}, err
		}
		loserRecords = append(loserRecords, rec)
	}

	clients := make([]string, 0, len(allClients))
	for c := range allClients {
		clients = append(clients, c)
	}
	sort.Strings(clients)

	conflictID := ids.New16Hex()
	conflictType := metadata.ConflictTypeConcurrentModification
	if len(clients) > 2 {
		conflictType = metadata.ConflictTypeMultiClientConcurrentModification
	}

	cr := metadata.ConflictRecord{
		ID:           conflictID,
		FileName:     triggering.FileName,
		Reason:       "simultaneous modification detected within the sliding window",
		ConflictType: conflictType,
		Winner: metadata.VersionRecord{
			FileID:       winner.FileID,
			FileName:     triggering.FileName,
			Version:      winnerVersion,
			ClientID:     winner.ClientID,
			Checksum:     winner.Checksum,
			LastModified: winner.LastModified,
		},
		Losers:     loserRecords,
		AllClients: clients,
		Timestamp:  time.Now().UTC(),
		Status:     metadata.StatusUnresolved,
	}
	if err := e.meta.SaveConflict(cr); err != nil {
		return Outcome{}, err
	}

	e.processedKeys[scopedKey] = conflictID

	if triggering.ClientID == winner.ClientID {
		return Outcome{Status: StatusWinner, Version: winnerVersion, ConflictID: conflictID}, nil
	}

	return Outcome{
		Status:           StatusLoser,
		ConflictID:       conflictID,
		ConflictFileName: triggeringConflictFileName,
		Winner:           PartyInfo{ClientID: winner.ClientID, LastModified: winner.LastModified},
		Losers:           partyInfos(losers),
	}, nil
}

func (e *Engine) alreadyExistsOutcome(triggering UploadRecord, conflictID string) (Outcome, error) {
	cr, err := e.meta.GetConflict(conflictID)
	if err != nil || cr == nil {
		return Outcome{Status: StatusAlreadyExists, ConflictID: "already-exists"}, nil
	}
	if triggering.ClientID == cr.Winner.ClientID {
		return Outcome{Status: StatusWinner, Version: cr.Winner.Version, ConflictID: "already-exists"}, nil
	}
	var conflictFileName string
	for _, l := range cr.Losers {
		if l.ClientID == triggering.ClientID {
			conflictFileName = l.FileName
		}
	}
	return Outcome{
		Status:           StatusAlreadyExists,
		ConflictID:       "already-exists",
		ConflictFileName: conflictFileName,
		Winner:           PartyInfo{ClientID: cr.Winner.ClientID, LastModified: cr.Winner.LastModified},
	}, nil
}

func partyInfos(records []UploadRecord) []PartyInfo {
	out := make([]PartyInfo, len(records))
	for i, r := range records {
		out[i] = PartyInfo{ClientID: r.ClientID, LastModified: r.LastModified}
	}
	return out
}

// triggeringFileScopedKey scopes a conflict key to its file name, so keys
// for different files never collide.
func triggeringFileScopedKey(fileName string, candidates []UploadRecord) string {
	return fileName + "\x02" + conflictKeyFor(candidates)
}

// conflictCopyName derives "<base>_conflicted_by_<client_id><ext>".
func conflictCopyName(fileName, clientID string) string {
	ext := filepath.Ext(fileName)
	base := strings.TrimSuffix(fileName, ext)
	return fmt.Sprintf("%s_conflicted_by_%s%s", base, clientID, ext)
}
