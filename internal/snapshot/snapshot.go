// Package snapshot persists the station database and the archive to two
// JSON files and loads them back. A snapshot is neither crash-consistent
// nor transactional with in-flight requests; take it from a quiescent
// point.
package snapshot

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/dreamware/stratus/internal/archive"
)

// Default file locations, relative to the working directory.
const (
	DefaultDatabasePath = "data/database.json"
	DefaultArchivePath  = "data/archive.json"
)

// Files names the two snapshot files.
type Files struct {
	DatabasePath string
	ArchivePath  string
}

// State is the in-memory content of a snapshot.
type State struct {
	Database map[string]string
	Archive  map[string]map[string]archive.Entry
}

// Save writes both files. Each file is written to a temporary sibling and
// renamed into place.
func (f Files) Save(state State) error {
	if err := writeJSON(f.DatabasePath, state.Database); err != nil {
		return fmt.Errorf("save database: %w", err)
	}
	if err := writeJSON(f.ArchivePath, state.Archive); err != nil {
		return fmt.Errorf("save archive: %w", err)
	}
	return nil
}

// Load reads both files. A missing file yields an empty map; it is not an
// error. found reports whether at least one file existed.
func (f Files) Load() (state State, found bool, err error) {
	state.Database = make(map[string]string)
	state.Archive = make(map[string]map[string]archive.Entry)

	dbFound, err := readJSON(f.DatabasePath, &state.Database)
	if err != nil {
		return State{}, false, fmt.Errorf("load database: %w", err)
	}
	archiveFound, err := readJSON(f.ArchivePath, &state.Archive)
	if err != nil {
		return State{}, false, fmt.Errorf("load archive: %w", err)
	}
	if state.Database == nil {
		state.Database = make(map[string]string)
	}
	if state.Archive == nil {
		state.Archive = make(map[string]map[string]archive.Entry)
	}
	return state, dbFound || archiveFound, nil
}

func writeJSON(path string, v any) error {
	if path == "" {
		return errors.New("empty path")
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func readJSON(path string, v any) (bool, error) {
	if path == "" {
		return false, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("%s: %w", path, err)
	}
	return true, nil
}
