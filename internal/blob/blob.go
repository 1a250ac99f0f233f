// Package blob reads and writes the raw bytes of uploaded documents.
package blob

import (
	"context"
	"errors"
)

// ErrNotFound is returned when no object exists for a reference.
var ErrNotFound = errors.New("blob not found")

// MaxObjectSize bounds the size of a single object read into memory.
const MaxObjectSize = 200 << 20

// Store is an object store keyed by storage reference.
type Store interface {
	Get(ctx context.Context, ref string) ([]byte, error)
	Put(ctx context.Context, ref string, data []byte) error
	Delete(ctx context.Context, ref string) error
}
