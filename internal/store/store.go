// Package store persists terrain tiles and group definitions by name.
package store

import (
	"errors"
	"io"
)

// Store errors.
var (
	ErrTileNotFound = errors.New("tile not found")
	ErrClosed       = errors.New("store closed")
)

// Store is where a terrain group reads and writes its tiles.
//
// Writers only become visible once Close returns without error.
type Store interface {
	Open(name string) (io.ReadCloser, error)
	Create(name string) (io.WriteCloser, error)
	Exists(name string) bool
	Remove(name string) error
	Close() error
}

// Discard drops a writer returned by Create without committing it.
func Discard(w io.WriteCloser) {
	if d, ok := w.(interface{ discard() }); ok {
		d.discard()
	}
}
