package apiserver

import (
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/vaultsync/vaultsync/internal/apierr"
	"github.com/vaultsync/vaultsync/internal/chunkassembler"
	"github.com/vaultsync/vaultsync/internal/conflict"
	"github.com/vaultsync/vaultsync/internal/content"
	"github.com/vaultsync/vaultsync/internal/diffutil"
	"github.com/vaultsync/vaultsync/internal/ids"
	"github.com/vaultsync/vaultsync/internal/metadata"
)

const maxUploadBytes = 64 << 20 // generous multipart memory ceiling; chunking exists for anything larger

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeOK(w, map[string]interface{}{
		"status":    "healthy",
		"uptime_s":  time.Since(s.startedAt).Seconds(),
		"timestamp": time.Now().UTC(),
	})
}

// fileListEntry is the per-current-blob summary returned by GET /files.
type fileListEntry struct {
	Name          string    `json:"name"`
	Version       int       `json:"version"`
	Size          int64     `json:"size"`
	LastModified  time.Time `json:"last_modified"`
	ClientID      string    `json:"client_id"`
	TotalVersions int       `json:"total_versions"`
}

func (s *Server) handleListFiles(w http.ResponseWriter, r *http.Request) {
	names, err := s.content.List()
	if err != nil {
		writeAPIErr(w, apierr.Wrap(apierr.KindUnexpected, "listing files", err))
		return
	}

	entries := make([]fileListEntry, 0, len(names))
	for _, name := range names {
		latest, err := s.meta.GetLatest(name)
		if err != nil || latest == nil {
			continue
		}
		versions, err := s.meta.GetAllVersions(name)
		if err != nil {
			continue
		}
		entries = append(entries, fileListEntry{
			Name:          latest.FileName,
			Version:       latest.Version,
			Size:          latest.Size,
			LastModified:  latest.LastModified,
			ClientID:      latest.ClientID,
			TotalVersions: len(versions),
		})
	}
	writeOK(w, entries)
}

func (s *Server) handleUploadSafe(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "upload exceeds size limit")
		return
	}

	fileName := r.FormValue("file_name")
	clientID := r.FormValue("client_id")
	if fileName == "" || clientID == "" {
		writeError(w, http.StatusBadRequest, "file_name and client_id are required")
		return
	}
	lastModified, err := parseUnixTime(r.FormValue("last_modified"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid last_modified")
		return
	}

	file, _, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file is required")
		return
	}
	defer file.Close()
	blob, err := io.ReadAll(file)
	if err != nil {
		writeAPIErr(w, apierr.Wrap(apierr.KindUnexpected, "reading upload", err))
		return
	}

	up := conflict.UploadRecord{
		FileID:       r.FormValue("file_id"),
		FileName:     fileName,
		ClientID:     clientID,
		Checksum:     content.Checksum(blob),
		LastModified: lastModified,
		Blob:         blob,
	}
	if up.FileID == "" {
		up.FileID = newFileID()
	}

	outcome, err := s.conflict.ProcessUpload(up)
	if err != nil {
		writeAPIErr(w, err)
		return
	}

	switch outcome.Status {
	case conflict.StatusUpToDate, conflict.StatusNonConflicting, conflict.StatusWinner:
		writeSuccess(w, http.StatusOK, "uploaded", map[string]interface{}{
			"version":     outcome.Version,
			"conflict_id": nonEmpty(outcome.ConflictID),
		})
	case conflict.StatusLoser, conflict.StatusAlreadyExists:
		writeJSON(w, http.StatusConflict, map[string]interface{}{
			"winner":             outcome.Winner,
			"losers":             outcome.Losers,
			"conflict_file_name": outcome.ConflictFileName,
			"conflict_id":        outcome.ConflictID,
		})
	default:
		writeAPIErr(w, apierr.Wrap(apierr.KindUnexpected, "unhandled outcome", nil))
	}
}

func (s *Server) handleUploadChunk(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "chunk exceeds size limit")
		return
	}

	fileID := r.FormValue("file_id")
	fileName := r.FormValue("file_name")
	clientID := r.FormValue("client_id")
	if fileID == "" || fileName == "" || clientID == "" {
		writeError(w, http.StatusBadRequest, "file_id, file_name and client_id are required")
		return
	}
	chunkNumber, err := strconv.Atoi(r.FormValue("chunk_number"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid chunk_number")
		return
	}
	totalChunks, err := strconv.Atoi(r.FormValue("total_chunks"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid total_chunks")
		return
	}
	lastModified, err := parseUnixTime(r.FormValue("last_modified"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid last_modified")
		return
	}

	chunk, _, err := r.FormFile("chunk")
	if err != nil {
		writeError(w, http.StatusBadRequest, "chunk is required")
		return
	}
	defer chunk.Close()
	bytes, err := io.ReadAll(chunk)
	if err != nil {
		writeAPIErr(w, apierr.Wrap(apierr.KindUnexpected, "reading chunk", err))
		return
	}

	result, err := s.chunks.AcceptPart(chunkassembler.Part{
		FileID:       fileID,
		ChunkNumber:  chunkNumber,
		TotalChunks:  totalChunks,
		FileName:     fileName,
		ClientID:     clientID,
		LastModified: lastModified,
		Bytes:        bytes,
	})
	if err != nil {
		writeAPIErr(w, err)
		return
	}

	if !result.Complete {
		writeSuccess(w, http.StatusOK, "chunk accepted", map[string]interface{}{"complete": false})
		return
	}
	writeSuccess(w, http.StatusOK, "upload complete", map[string]interface{}{
		"complete":  true,
		"duplicate": result.Duplicate,
		"version":   result.Version,
	})
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	blob, err := s.content.Get(name)
	if err != nil {
		writeAPIErr(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	_, _ = w.Write(blob)
}

func (s *Server) handleListVersions(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	versions, err := s.meta.GetAllVersions(name)
	if err != nil {
		writeAPIErr(w, apierr.Wrap(apierr.KindUnexpected, "listing versions", err))
		return
	}
	// latest first
	reversed := make([]metadata.VersionRecord, len(versions))
	for i, v := range versions {
		reversed[len(versions)-1-i] = v
	}
	writeOK(w, reversed)
}

func (s *Server) handleDownloadVersion(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	version, err := strconv.Atoi(chi.URLParam(r, "version"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid version")
		return
	}
	blob, err := s.content.GetVersionWithArchive(r.Context(), name, version)
	if err != nil {
		writeAPIErr(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	_, _ = w.Write(blob)
}

func (s *Server) handleRestore(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	version, err := strconv.Atoi(chi.URLParam(r, "version"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid version")
		return
	}
	clientID := r.FormValue("client_id")
	if clientID == "" {
		clientID = "restore"
	}

	blob, err := s.content.GetVersionWithArchive(r.Context(), name, version)
	if err != nil {
		writeAPIErr(w, err)
		return
	}

	var newVersion int
	err = s.meta.WithNextVersion(name, func(v int) error {
		saveRes, err := s.content.Save(name, blob, v)
		if err != nil {
			return err
		}
		newVersion = v
		return s.meta.Save(metadata.VersionRecord{
			FileID:       newFileID(),
			FileName:     name,
			Version:      v,
			Size:         saveRes.Size,
			Checksum:     saveRes.Checksum,
			ClientID:     clientID,
			LastModified: time.Now().UTC(),
			RestoredFrom: version,
		})
	})
	if err != nil {
		writeAPIErr(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, "restored", map[string]interface{}{"version": newVersion, "restored_from": version})
}

func (s *Server) handleRename(w http.ResponseWriter, r *http.Request) {
	oldName := chi.URLParam(r, "oldName")
	newName := r.FormValue("new_name")
	if newName == "" {
		writeError(w, http.StatusBadRequest, "new_name is required")
		return
	}
	if err := s.content.Rename(oldName, newName); err != nil {
		writeAPIErr(w, err)
		return
	}
	if err := s.meta.Rename(oldName, newName); err != nil {
		writeAPIErr(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, "renamed", map[string]interface{}{"old_name": oldName, "new_name": newName})
}

func (s *Server) handleDeleteFile(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	// Non-cascading by default: version history is kept, only the
	// current pointer is removed, so a subsequent current download 404s.
	if err := s.content.Delete(name, false); err != nil {
		writeAPIErr(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, "deleted", map[string]interface{}{"name": name})
}

func (s *Server) handleListConflicts(w http.ResponseWriter, r *http.Request) {
	conflicts, err := s.meta.GetConflicts()
	if err != nil {
		writeAPIErr(w, apierr.Wrap(apierr.KindUnexpected, "listing conflicts", err))
		return
	}
	writeOK(w, conflicts)
}

func (s *Server) handleResolveConflict(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	method := r.FormValue("method")
	if method == "" {
		method = r.URL.Query().Get("method")
	}
	resolved, err := s.meta.ResolveConflict(id, method)
	if err != nil {
		writeAPIErr(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, "resolved", resolved)
}

// handleConflictDiff returns a unified diff between a conflict's winner
// and a named loser.
func (s *Server) handleConflictDiff(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	c, err := s.meta.GetConflict(id)
	if err != nil {
		writeAPIErr(w, apierr.Wrap(apierr.KindUnexpected, "loading conflict", err))
		return
	}
	if c == nil {
		writeError(w, http.StatusNotFound, "conflict not found")
		return
	}

	losingClient := r.URL.Query().Get("client_id")
	var loser *metadata.VersionRecord
	for i := range c.Losers {
		if losingClient == "" || c.Losers[i].ClientID == losingClient {
			loser = &c.Losers[i]
			break
		}
	}
	if loser == nil {
		writeError(w, http.StatusNotFound, "no matching loser for conflict")
		return
	}

	winnerBlob, err := s.content.GetVersion(c.FileName, c.Winner.Version)
	if err != nil {
		writeAPIErr(w, err)
		return
	}
	loserBlob, err := s.content.GetVersion(loser.FileName, loser.Version)
	if err != nil {
		writeAPIErr(w, err)
		return
	}

	result := diffutil.CompareLabeled(winnerBlob, loserBlob, c.FileName, loser.FileName)
	writeOK(w, result)
}

func parseUnixTime(raw string) (time.Time, error) {
	if raw == "" {
		return time.Now().UTC(), nil
	}
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		sec := int64(f)
		nsec := int64((f - float64(sec)) * 1e9)
		return time.Unix(sec, nsec).UTC(), nil
	}
	return time.Parse(time.RFC3339, raw)
}

func nonEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func newFileID() string {
	return ids.New16Hex()
}
