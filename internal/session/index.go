package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// IndexVersion is the current session index schema version.
const IndexVersion = "1.0"

// IndexFilename is the session catalog file name at the base dir root.
const IndexFilename = "index.json"

// Index is the session catalog read by `sessions list`.
type Index struct {
	Version  string       `json:"version"`
	Sessions []IndexEntry `json:"sessions"`
}

// IndexEntry summarizes one session for listing without opening its directory.
type IndexEntry struct {
	ID               string    `json:"id"`
	StartTime        time.Time `json:"start_time"`
	EndTime          time.Time `json:"end_time,omitzero"`
	Status           Status    `json:"status"`
	SessionDir       string    `json:"session_dir"`
	WorkDir          string    `json:"work_dir"`
	EnvironmentID    string    `json:"environment_id,omitempty"`
	ClaudeSessionRef string    `json:"claude_session_ref,omitempty"`
	Model            string    `json:"model,omitempty"`
	TotalCostUSD     float64   `json:"total_cost_usd,omitempty"`
}

// IndexPath returns the catalog path under the given session base dir.
func IndexPath(baseDir string) string {
	return filepath.Join(baseDir, IndexFilename)
}

// LoadIndex reads the session index at path. A missing file yields an empty
// index at the current version rather than an error.
func LoadIndex(path string) (*Index, error) {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is constructed from trusted base dir
	if err != nil {
		if os.IsNotExist(err) {
			return &Index{Version: IndexVersion}, nil
		}
		return nil, fmt.Errorf("reading session index: %w", err)
	}

	var idx Index
	if err := json.Unmarshal(data, &idx); err != nil {
		return nil, fmt.Errorf("parsing session index: %w", err)
	}

	return &idx, nil
}

// SaveIndex writes the index to path via write-to-temp plus rename, so
// concurrent readers never observe a partially written file.
func SaveIndex(path string, idx *Index) error {
	data, err := json.MarshalIndent(idx, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling session index: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return fmt.Errorf("creating index directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp index file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("writing temp index file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("closing temp index file: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("renaming index file: %w", err)
	}

	return nil
}

// Upsert updates the entry with the same ID in place, or appends it.
// Resumed sessions update their existing row rather than duplicating it.
func (idx *Index) Upsert(entry IndexEntry) {
	for i, existing := range idx.Sessions {
		if existing.ID == entry.ID {
			idx.Sessions[i] = entry
			return
		}
	}
	idx.Sessions = append(idx.Sessions, entry)
}
