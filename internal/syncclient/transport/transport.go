// Package transport wraps the server's REST API for the client sync
// engine.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/vaultsync/vaultsync/internal/config"
	"github.com/vaultsync/vaultsync/internal/ids"
)

// ConflictError is returned when the server responds 409 to an upload.
type ConflictError struct {
	Winner           PartyInfo   `json:"winner"`
	Losers           []PartyInfo `json:"losers"`
	ConflictFileName string      `json:"conflict_file_name"`
	ConflictID       string      `json:"conflict_id"`
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("conflict: winner=%s conflict_file=%s", e.Winner.ClientID, e.ConflictFileName)
}

// PartyInfo mirrors apiserver's wire shape for a conflict party.
type PartyInfo struct {
	ClientID     string    `json:"client_id"`
	LastModified time.Time `json:"last_modified"`
}

// FileListEntry mirrors apiserver.fileListEntry.
type FileListEntry struct {
	Name          string    `json:"name"`
	Version       int       `json:"version"`
	Size          int64     `json:"size"`
	LastModified  time.Time `json:"last_modified"`
	ClientID      string    `json:"client_id"`
	TotalVersions int       `json:"total_versions"`
}

// VersionRecord mirrors metadata.VersionRecord's wire shape.
type VersionRecord struct {
	FileID       string    `json:"file_id"`
	FileName     string    `json:"file_name"`
	Version      int       `json:"version"`
	Size         int64     `json:"size"`
	Checksum     string    `json:"checksum"`
	ClientID     string    `json:"client_id"`
	LastModified time.Time `json:"last_modified"`
}

// ConflictSummary mirrors metadata.ConflictRecord's wire shape.
type ConflictSummary struct {
	ID         string          `json:"id"`
	FileName   string          `json:"file_name"`
	Reason     string          `json:"reason"`
	Winner     VersionRecord   `json:"winner"`
	Losers     []VersionRecord `json:"losers"`
	AllClients []string        `json:"all_clients"`
	Timestamp  time.Time       `json:"timestamp"`
	Status     string          `json:"status"`
	Resolution string          `json:"resolution,omitempty"`
}

// UploadResult is the success outcome of an upload.
type UploadResult struct {
	Version    int
	ConflictID string
	Duplicate  bool
}

// Client talks to one vaultsync server (directly, or via the supervisor's
// public port).
type Client struct {
	baseURL  string
	clientID string
	http     *http.Client
}

// New constructs a Client. baseURL is the server/supervisor root, e.g.
// "http://localhost:8080".
func New(baseURL, clientID string) *Client {
	return &Client{baseURL: baseURL, clientID: clientID, http: &http.Client{Timeout: 30 * time.Second}}
}

func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return err
	}
	hc := &http.Client{Timeout: 3 * time.Second}
	resp, err := hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check: status %d", resp.StatusCode)
	}
	return nil
}

func (c *Client) ListFiles(ctx context.Context) ([]FileListEntry, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/files", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	var out []FileListEntry
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	return out, nil
}

// UploadSafe performs a safe (non-chunked) upload.
func (c *Client) UploadSafe(ctx context.Context, fileName string, blob []byte, lastModified time.Time) (UploadResult, error) {
	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)
	part, err := mw.CreateFormFile("file", fileName)
	if err != nil {
		return UploadResult{}, err
	}
	if _, err := part.Write(blob); err != nil {
		return UploadResult{}, err
	}
	_ = mw.WriteField("file_name", fileName)
	_ = mw.WriteField("client_id", c.clientID)
	_ = mw.WriteField("last_modified", strconv.FormatInt(lastModified.Unix(), 10))
	_ = mw.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/files/upload-safe", body)
	if err != nil {
		return UploadResult{}, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.http.Do(req)
	if err != nil {
		return UploadResult{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusConflict {
		var ce ConflictError
		if err := json.NewDecoder(resp.Body).Decode(&ce); err != nil {
			return UploadResult{}, err
		}
		return UploadResult{}, &ce
	}
	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		return UploadResult{}, fmt.Errorf("upload-safe: status %d: %s", resp.StatusCode, string(data))
	}

	var envelope struct {
		Data struct {
			Version    int    `json:"version"`
			ConflictID string `json:"conflict_id"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return UploadResult{}, err
	}
	return UploadResult{Version: envelope.Data.Version, ConflictID: envelope.Data.ConflictID}, nil
}

// UploadChunked splits blob into config.ChunkSize parts and posts each,
// stopping early if the server reports a duplicate.
func (c *Client) UploadChunked(ctx context.Context, fileName string, blob []byte, lastModified time.Time) (UploadResult, error) {
	fileID := ids.New16Hex()
	total := (len(blob) + config.ChunkSize - 1) / config.ChunkSize
	if total == 0 {
		total = 1
	}

	var last UploadResult
	for i := 0; i < total; i++ {
		start := i * config.ChunkSize
		end := start + config.ChunkSize
		if end > len(blob) {
			end = len(blob)
		}

		result, complete, duplicate, err := c.uploadChunk(ctx, fileID, fileName, blob[start:end], i+1, total, lastModified)
		if err != nil {
			return UploadResult{}, err
		}
		if duplicate {
			return UploadResult{Duplicate: true, Version: result}, nil
		}
		if complete {
			last = UploadResult{Version: result}
		}
	}
	return last, nil
}

func (c *Client) uploadChunk(ctx context.Context, fileID, fileName string, chunk []byte, chunkNumber, totalChunks int, lastModified time.Time) (version int, complete, duplicate bool, err error) {
	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)
	part, err := mw.CreateFormFile("chunk", fileName)
	if err != nil {
		return 0, false, false, err
	}
	if _, err := part.Write(chunk); err != nil {
		return 0, false, false, err
	}
	_ = mw.WriteField("file_id", fileID)
	_ = mw.WriteField("chunk_number", strconv.Itoa(chunkNumber))
	_ = mw.WriteField("total_chunks", strconv.Itoa(totalChunks))
	_ = mw.WriteField("file_name", fileName)
	_ = mw.WriteField("client_id", c.clientID)
	_ = mw.WriteField("last_modified", strconv.FormatInt(lastModified.Unix(), 10))
	_ = mw.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/files/chunk", body)
	if err != nil {
		return 0, false, false, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	chunkClient := &http.Client{Timeout: 30 * time.Second}
	resp, err := chunkClient.Do(req)
	if err != nil {
		return 0, false, false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusConflict {
		var ce ConflictError
		_ = json.NewDecoder(resp.Body).Decode(&ce)
		return 0, false, false, &ce
	}
	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		return 0, false, false, fmt.Errorf("chunk upload: status %d: %s", resp.StatusCode, string(data))
	}

	var envelope struct {
		Data struct {
			Complete  bool `json:"complete"`
			Duplicate bool `json:"duplicate"`
			Version   int  `json:"version"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return 0, false, false, err
	}
	return envelope.Data.Version, envelope.Data.Complete, envelope.Data.Duplicate, nil
}

func (c *Client) Download(ctx context.Context, fileName string) ([]byte, error) {
	return c.getBytes(ctx, "/files/"+fileName+"/download")
}

func (c *Client) DownloadVersion(ctx context.Context, fileName string, version int) ([]byte, error) {
	return c.getBytes(ctx, fmt.Sprintf("/files/%s/versions/%d/download", fileName, version))
}

func (c *Client) getBytes(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("GET %s: status %d", path, resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

// ErrNotFound mirrors the server's 404 for absent names/versions.
var ErrNotFound = fmt.Errorf("not found")

func (c *Client) ListVersions(ctx context.Context, fileName string) ([]VersionRecord, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/files/"+fileName+"/versions", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	var out []VersionRecord
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Delete(ctx context.Context, fileName string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.baseURL+"/files/"+fileName, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNotFound {
		return fmt.Errorf("delete %s: status %d", fileName, resp.StatusCode)
	}
	return nil
}

func (c *Client) Rename(ctx context.Context, oldName, newName string) error {
	form := make(formBody)
	form["new_name"] = newName
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/files/"+oldName+"/rename", form.reader())
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("rename %s->%s: status %d", oldName, newName, resp.StatusCode)
	}
	return nil
}

func (c *Client) Restore(ctx context.Context, fileName string, version int) (int, error) {
	form := make(formBody)
	form["client_id"] = c.clientID
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		fmt.Sprintf("%s/files/%s/restore/%d", c.baseURL, fileName, version), form.reader())
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("restore %s@%d: status %d", fileName, version, resp.StatusCode)
	}
	var envelope struct {
		Data struct {
			Version int `json:"version"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return 0, err
	}
	return envelope.Data.Version, nil
}

func (c *Client) ListConflicts(ctx context.Context) ([]ConflictSummary, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/conflicts", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	var out []ConflictSummary
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	return out, nil
}

// DiffLine mirrors diffutil.Line's wire shape.
type DiffLine struct {
	Type       string `json:"type"`
	OldLineNum int    `json:"old_line_num,omitempty"`
	NewLineNum int    `json:"new_line_num,omitempty"`
	Content    string `json:"content"`
}

// DiffResult mirrors diffutil.Result's wire shape.
type DiffResult struct {
	UnifiedDiff string     `json:"unified_diff"`
	Lines       []DiffLine `json:"lines"`
	Stats       struct {
		LinesAdded   int `json:"lines_added"`
		LinesRemoved int `json:"lines_removed"`
	} `json:"stats"`
	HasChanges bool `json:"has_changes"`
}

// Diff fetches the unified diff between a conflict's winner and the loser
// from the given client (or the first recorded loser, if empty).
func (c *Client) Diff(ctx context.Context, conflictID, loserClientID string) (DiffResult, error) {
	u := c.baseURL + "/conflicts/" + conflictID + "/diff"
	if loserClientID != "" {
		u += "?client_id=" + url.QueryEscape(loserClientID)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return DiffResult{}, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return DiffResult{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		return DiffResult{}, fmt.Errorf("diff %s: status %d: %s", conflictID, resp.StatusCode, string(data))
	}
	var out DiffResult
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return DiffResult{}, err
	}
	return out, nil
}

func (c *Client) ResolveConflict(ctx context.Context, id, method, keepVersion string) error {
	form := make(formBody)
	form["method"] = method
	form["keep_version"] = keepVersion
	form["client_id"] = c.clientID
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/conflicts/"+id+"/resolve", form.reader())
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("resolve conflict %s: status %d", id, resp.StatusCode)
	}
	return nil
}

type formBody map[string]string

func (f formBody) reader() io.Reader {
	vals := url.Values{}
	for k, v := range f {
		vals.Set(k, v)
	}
	return bytes.NewReader([]byte(vals.Encode()))
}
