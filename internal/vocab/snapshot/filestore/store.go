// Package filestore implements a [snapshot.Backend] on the local filesystem.
package filestore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/MrWong99/shabda/internal/vocab/snapshot"
)

// Store keeps the snapshot in a single file.
type Store struct {
	path string
}

var _ snapshot.Backend = (*Store)(nil)

// New returns a Store writing to path. The parent directory is created on the
// first Save.
func New(path string) *Store {
	return &Store{path: path}
}

// Path returns the snapshot file path.
func (s *Store) Path() string { return s.path }

// Name implements [snapshot.Backend].
func (s *Store) Name() string { return "file:" + s.path }

// Load opens the snapshot file.
func (s *Store) Load(_ context.Context) (io.ReadCloser, error) {
	f, err := os.Open(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, snapshot.ErrNotFound
		}
		return nil, fmt.Errorf("%w: open %s: %w", snapshot.ErrUnavailable, s.path, err)
	}
	return f, nil
}

// Save writes the snapshot atomically. Data goes to a temporary file in the
// same directory, is fsynced, and is renamed over the destination.
func (s *Store) Save(ctx context.Context, write func(io.Writer) error) (err error) {
	if err := ctx.Err(); err != nil {
		return err
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("%w: create directory %s: %w", snapshot.ErrPersist, dir, err)
	}

	// Same directory as the destination so the rename stays on one filesystem.
	tmp, err := os.CreateTemp(dir, ".tmp-"+filepath.Base(s.path)+"-*")
	if err != nil {
		return fmt.Errorf("%w: create temp file: %w", snapshot.ErrPersist, err)
	}
	tmpPath := tmp.Name()
	defer func() {
		_ = tmp.Close()
		if err != nil {
			_ = os.Remove(tmpPath)
		}
	}()

	if err := write(tmp); err != nil {
		return err
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("%w: fsync temp file: %w", snapshot.ErrPersist, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("%w: close temp file: %w", snapshot.ErrPersist, err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		return fmt.Errorf("%w: rename into place: %w", snapshot.ErrPersist, err)
	}
	return nil
}
