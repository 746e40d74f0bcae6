// Package chunkassembler implements the chunked-upload path: numbered
// parts are persisted to a scratch directory and assembled into a whole
// blob once every part has arrived.
package chunkassembler

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/vaultsync/vaultsync/internal/apierr"
	"github.com/vaultsync/vaultsync/internal/content"
	"github.com/vaultsync/vaultsync/internal/metadata"
)

// Part is a single numbered chunk of an in-progress chunked upload.
type Part struct {
	FileID       string
	ChunkNumber  int
	TotalChunks  int
	FileName     string
	ClientID     string
	LastModified time.Time
	Bytes        []byte
}

// Result describes the effect of accepting a part.
type Result struct {
	// Complete is true once every chunk for FileID has arrived and been
	// processed (whether or not it turned out to be a duplicate).
	Complete  bool
	Duplicate bool
	Version   int
	Record    *metadata.VersionRecord
}

// Assembler persists chunk parts to a scratch directory and, once all
// parts for a file_id are present, assembles and commits the whole blob.
type Assembler struct {
	scratchDir string
	content    *content.Store
	meta       *metadata.Store
}

// New constructs an Assembler rooted at scratchDir.
func New(scratchDir string, contentStore *content.Store, metaStore *metadata.Store) (*Assembler, error) {
	if err := os.MkdirAll(scratchDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating chunks dir: %w", err)
	}
	return &Assembler{scratchDir: scratchDir, content: contentStore, meta: metaStore}, nil
}

func (a *Assembler) partPath(fileID string, chunkNumber int) string {
	return filepath.Join(a.scratchDir, fmt.Sprintf("%s_%d", fileID, chunkNumber))
}

// AcceptPart persists one part and, once all parts for its file_id have
// arrived, assembles and commits the whole blob. Retried parts
// (same file_id, same chunk_number) overwrite their predecessor, so
// retries are safe as long as the same bytes are resent.
func (a *Assembler) AcceptPart(part Part) (Result, error) {
	if len(part.Bytes) == 0 {
		return Result{}, apierr.Corrupt("empty chunk")
	}
	if err := os.WriteFile(a.partPath(part.FileID, part.ChunkNumber), part.Bytes, 0o644); err != nil {
		return Result{}, fmt.Errorf("writing chunk: %w", err)
	}

	present, err := a.presentChunks(part.FileID)
	if err != nil {
		return Result{}, err
	}
	if len(present) < part.TotalChunks {
		return Result{Complete: false}, nil
	}

	return a.assemble(part)
}

// presentChunks enumerates scratch for parts prefixed "<file_id>_".
func (a *Assembler) presentChunks(fileID string) (map[int]bool, error) {
	entries, err := os.ReadDir(a.scratchDir)
	if err != nil {
		return nil, err
	}
	prefix := fileID + "_"
	present := make(map[int]bool)
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), prefix) {
			continue
		}
		numStr := strings.TrimPrefix(e.Name(), prefix)
		n, err := strconv.Atoi(numStr)
		if err != nil {
			continue
		}
		present[n] = true
	}
	return present, nil
}

func (a *Assembler) assemble(part Part) (Result, error) {
	var whole []byte
	for i := 1; i <= part.TotalChunks; i++ {
		data, err := os.ReadFile(a.partPath(part.FileID, i))
		if err != nil {
			return Result{}, apierr.Corrupt(fmt.Sprintf("missing chunk %d", i))
		}
		if len(data) == 0 {
			return Result{}, apierr.Corrupt(fmt.Sprintf("empty chunk %d", i))
		}
		whole = append(whole, data...)
	}

	checksum := content.Checksum(whole)

	latest, err := a.meta.GetLatest(part.FileName)
	if err != nil {
		return Result{}, err
	}
	if latest != nil && latest.Checksum == checksum {
		a.scrub(part.FileID, part.TotalChunks)
		return Result{Complete: true, Duplicate: true, Version: latest.Version, Record: latest}, nil
	}

	var result Result
	var saveErr error
	err = a.meta.WithNextVersion(part.FileName, func(version int) error {
		saveRes, err := a.content.Save(part.FileName, whole, version)
		if err != nil {
			return err
		}
		rec := metadata.VersionRecord{
			FileID:       part.FileID,
			FileName:     part.FileName,
			Version:      version,
			Size:         saveRes.Size,
			Checksum:     saveRes.Checksum,
			ClientID:     part.ClientID,
			LastModified: part.LastModified,
		}
		if err := a.meta.Save(rec); err != nil {
			saveErr = err
			return err
		}
		result = Result{Complete: true, Duplicate: false, Version: version, Record: &rec}
		return nil
	})
	if err != nil {
		if saveErr != nil {
			return Result{}, saveErr
		}
		return Result{}, err
	}

	a.scrub(part.FileID, part.TotalChunks)
	return result, nil
}

// scrub removes every persisted part for fileID.
func (a *Assembler) scrub(fileID string, totalChunks int) {
	for i := 1; i <= totalChunks; i++ {
		_ = os.Remove(a.partPath(fileID, i))
	}
}

// sortedKeys is used by tests to assert deterministic part ordering.
func sortedKeys(m map[int]bool) []int {
	keys := make([]int, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	return keys
}
