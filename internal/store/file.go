package store

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// FileStore keeps each tile as a file under Dir.
type FileStore struct {
	Dir string
}

// NewFileStore creates dir if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating store directory %s: %w", dir, err)
	}
	return &FileStore{Dir: dir}, nil
}

func (s *FileStore) path(name string) string {
	return filepath.Join(s.Dir, filepath.Base(name))
}

// Open opens a tile for reading.
func (s *FileStore) Open(name string) (io.ReadCloser, error) {
	f, err := os.Open(s.path(name))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrTileNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", name, err)
	}
	return f, nil
}

// Create returns a writer that replaces the tile atomically on Close.
func (s *FileStore) Create(name string) (io.WriteCloser, error) {
	tmp, err := os.CreateTemp(s.Dir, filepath.Base(name)+".*.tmp")
	if err != nil {
		return nil, fmt.Errorf("creating %s: %w", name, err)
	}
	return &fileWriter{File: tmp, dst: s.path(name)}, nil
}

type fileWriter struct {
	*os.File
	dst string
}

func (w *fileWriter) Close() error {
	if err := w.File.Close(); err != nil {
		os.Remove(w.Name())
		return err
	}
	if err := os.Rename(w.Name(), w.dst); err != nil {
		os.Remove(w.Name())
		return fmt.Errorf("renaming %s: %w", w.dst, err)
	}
	return nil
}

func (w *fileWriter) discard() {
	w.File.Close()
	os.Remove(w.Name())
}

// Exists reports whether the tile has been written.
func (s *FileStore) Exists(name string) bool {
	_, err := os.Stat(s.path(name))
	return err == nil
}

// Remove deletes a tile. Removing a missing tile returns ErrTileNotFound.
func (s *FileStore) Remove(name string) error {
	err := os.Remove(s.path(name))
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %s", ErrTileNotFound, name)
	}
	return err
}

// Close is a no-op.
func (s *FileStore) Close() error { return nil }
