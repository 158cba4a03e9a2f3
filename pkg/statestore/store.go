// Package statestore provides crash-safe persistence for the supervisor's
// small JSON state documents (settings, runtime state, queue snapshot).
//
// Writes go to a temporary file which is fsynced and atomically renamed
// over the target, so a crash mid-write never leaves a corrupt document.
// A cooperative flock scoped to the data directory keeps the supervisor's
// snapshot writes from interleaving with reads from the transport layer.
package statestore

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"syscall"

	"ouroboros/pkg/protocol"
)

// Store reads and writes named JSON documents under a single data directory.
type Store struct {
	dir      string
	lockPath string
}

// Open creates the data directory if needed and returns a Store over it.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create state dir %s: %w", dir, err)
	}
	return &Store{
		dir:      dir,
		lockPath: filepath.Join(dir, ".lock"),
	}, nil
}

// Dir returns the store's data directory.
func (s *Store) Dir() string { return s.dir }

// path maps a document key to its file path.
func (s *Store) path(key string) string {
	return filepath.Join(s.dir, key+".json")
}

// Save marshals doc and atomically replaces the document named key.
// The write sequence is: exclusive lock, write temp, fsync, rename.
func (s *Store) Save(key string, doc any) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal document %q: %w", key, err)
	}

	unlock, err := s.lock(syscall.LOCK_EX)
	if err != nil {
		return err
	}
	defer unlock()

	target := s.path(key)
	tmp, err := os.CreateTemp(s.dir, key+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp for %q: %w", key, err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write temp for %q: %w", key, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("sync temp for %q: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close temp for %q: %w", key, err)
	}
	if err := os.Rename(tmpName, target); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("rename %q into place: %w", key, err)
	}
	return nil
}

// Load unmarshals the document named key into out. It returns false with
// out untouched when the document does not exist, so callers pre-populate
// out with their default and need no first-run special case. A document
// that exists but fails to parse returns a *protocol.CorruptStateError.
func (s *Store) Load(key string, out any) (bool, error) {
	unlock, err := s.lock(syscall.LOCK_SH)
	if err != nil {
		return false, err
	}
	defer unlock()

	target := s.path(key)
	data, err := os.ReadFile(target) //nolint:gosec // path is derived from a fixed data dir
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("read document %q: %w", key, err)
	}

	if err := json.Unmarshal(data, out); err != nil {
		return false, &protocol.CorruptStateError{Key: key, Path: target, Err: err}
	}
	return true, nil
}

// lock acquires the directory-scoped advisory lock and returns the release
// function. how is syscall.LOCK_EX or syscall.LOCK_SH.
func (s *Store) lock(how int) (func(), error) {
	f, err := os.OpenFile(s.lockPath, os.O_CREATE|os.O_RDWR, 0o600) //nolint:gosec // fixed lockfile path
	if err != nil {
		return nil, fmt.Errorf("open lockfile: %w", err)
	}
	if err := syscall.Flock(int(f.Fd()), how); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("flock state dir: %w", err)
	}
	return func() {
		_ = syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
		_ = f.Close()
	}, nil
}
