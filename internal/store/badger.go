package store

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/dgraph-io/badger/v3"
)

// tilePrefix namespaces tile keys inside the database.
const tilePrefix = "tile:"

// BadgerStore keeps tiles as values in a BadgerDB.
type BadgerStore struct {
	db     *badger.DB
	mu     sync.RWMutex
	closed bool
}

// OpenBadgerStore opens (or creates) a database at path.
// An empty path keeps everything in memory.
func OpenBadgerStore(path string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(path)
	if path == "" {
		opts = opts.WithInMemory(true)
	}
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("opening badger store: %w", err)
	}
	return &BadgerStore{db: db}, nil
}

func key(name string) []byte {
	return []byte(tilePrefix + name)
}

// Open returns a reader over a copy of the stored value.
func (s *BadgerStore) Open(name string) (io.ReadCloser, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}

	var data []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key(name))
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrTileNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", name, err)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

// Create buffers the tile and commits it in one transaction on Close.
func (s *BadgerStore) Create(name string) (io.WriteCloser, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	return &badgerWriter{store: s, name: name}, nil
}

type badgerWriter struct {
	bytes.Buffer
	store *BadgerStore
	name  string
	done  bool
}

func (w *badgerWriter) Close() error {
	if w.done {
		return nil
	}
	w.done = true

	w.store.mu.RLock()
	defer w.store.mu.RUnlock()
	if w.store.closed {
		return ErrClosed
	}
	err := w.store.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key(w.name), w.Bytes())
	})
	if err != nil {
		return fmt.Errorf("writing %s: %w", w.name, err)
	}
	return nil
}

func (w *badgerWriter) discard() {
	w.done = true
	w.Reset()
}

// Exists reports whether the tile has been committed.
func (s *BadgerStore) Exists(name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return false
	}
	err := s.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(key(name))
		return err
	})
	return err == nil
}

// Remove deletes a tile. Removing a missing tile returns ErrTileNotFound.
func (s *BadgerStore) Remove(name string) error {
	if !s.Exists(name) {
		return fmt.Errorf("%w: %s", ErrTileNotFound, name)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(key(name))
	})
}

// Names lists the stored tiles.
func (s *BadgerStore) Names() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var names []string
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(tilePrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			names = append(names, string(it.Item().Key()[len(tilePrefix):]))
		}
		return nil
	})
	return names, err
}

// Close closes the database.
func (s *BadgerStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}
