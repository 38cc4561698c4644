// Package snapshot persists a paused session so it can be resumed after the
// process restarts.
package snapshot

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/google/renameio/v2"
	"gopkg.in/yaml.v3"

	"github.com/JWTseng/boxing-timer-pro/internal/timer"
)

// ErrNoSnapshot is returned by Load when nothing has been saved.
var ErrNoSnapshot = errors.New("no snapshot")

// ErrSnapshotStale is returned by Load when the saved snapshot is too old.
var ErrSnapshotStale = errors.New("snapshot stale")

type document struct {
	SavedAt  time.Time      `yaml:"saved_at"`
	Snapshot timer.Snapshot `yaml:"snapshot"`
}

// Store reads and writes one snapshot file.
type Store struct {
	path string
	now  func() time.Time
}

// NewStore returns a Store for path. now supplies the save time and the age
// reference for Load.
//
// Precondition: path non-empty; now non-nil.
func NewStore(path string, now func() time.Time) *Store {
	return &Store{path: path, now: now}
}

// Path returns the snapshot file location.
func (s *Store) Path() string { return s.path }

// Save writes snap atomically, replacing any previous snapshot.
func (s *Store) Save(snap timer.Snapshot) error {
	data, err := yaml.Marshal(document{SavedAt: s.now().UTC(), Snapshot: snap})
	if err != nil {
		return fmt.Errorf("encoding snapshot: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("creating snapshot dir: %w", err)
	}

	pending, err := renameio.NewPendingFile(s.path, renameio.WithPermissions(0o600))
	if err != nil {
		return fmt.Errorf("create pending snapshot file: %w", err)
	}
	defer pending.Cleanup() //nolint:errcheck

	if _, err := pending.Write(data); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := pending.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("atomically replace snapshot: %w", err)
	}
	return nil
}

// Load returns the saved snapshot if it is no older than maxAge.
// maxAge <= 0 accepts any age.
//
// Postcondition: Returns ErrNoSnapshot, ErrSnapshotStale, a decode error, or
// the snapshot.
func (s *Store) Load(maxAge time.Duration) (timer.Snapshot, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return timer.Snapshot{}, ErrNoSnapshot
	}
	if err != nil {
		return timer.Snapshot{}, fmt.Errorf("reading snapshot: %w", err)
	}

	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return timer.Snapshot{}, fmt.Errorf("decoding snapshot %s: %w", s.path, err)
	}
	if age := s.now().Sub(doc.SavedAt); maxAge > 0 && age > maxAge {
		return timer.Snapshot{}, fmt.Errorf("%w: saved %s ago", ErrSnapshotStale, age.Truncate(time.Second))
	}
	return doc.Snapshot, nil
}

// Clear removes the snapshot. A missing file is not an error.
func (s *Store) Clear() error {
	if err := os.Remove(s.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("removing snapshot: %w", err)
	}
	return nil
}
