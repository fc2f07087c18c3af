// Package persist stores the mission snapshot across process restarts.
//
// Writes are atomic: the snapshot is marshalled to a .tmp file in the same
// directory, then os.Rename replaces the target in a single kernel call, so
// a crash mid-save never corrupts the previous snapshot.
package persist

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"missionctl/internal/mission"
)

// ErrNotFound is returned by Load when no snapshot has been saved.
var ErrNotFound = errors.New("no saved mission")

// ParseError is returned when a snapshot file exists but cannot be decoded.
type ParseError struct {
	Path string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse error in %s: %v", e.Path, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// Adapter is the save/load/clear contract the loop's host drives: Save after
// every snapshot mutation while the mission is live, Load once at startup,
// Clear on explicit reset.
type Adapter interface {
	Save(m mission.Mission) error
	Load() (mission.Mission, error)
	Clear() error
}

// FileStore keeps the snapshot in a single JSON file.
type FileStore struct {
	path string
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (f *FileStore) Save(m mission.Mission) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal mission: %w", err)
	}
	return atomicWrite(f.path, data)
}

func (f *FileStore) Load() (mission.Mission, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return mission.Mission{}, ErrNotFound
		}
		return mission.Mission{}, err
	}
	var m mission.Mission
	if err := json.Unmarshal(data, &m); err != nil {
		return mission.Mission{}, &ParseError{Path: f.path, Err: err}
	}
	return m, nil
}

func (f *FileStore) Clear() error {
	if err := os.Remove(f.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

func atomicWrite(path string, data []byte) error {
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
