package vars

import "github.com/crystal-mush/sparsearray/pkg/sparse"

// Backend supplies the value storage for arrays. The registry tracks which
// arrays exist; a backend stores their slots.
type Backend interface {
	// Open returns the backing for key and the indices it already holds.
	Open(key Key, kind sparse.Kind) (sparse.Backing, []uint32, error)
	// Drop deletes every slot stored for key.
	Drop(key Key) error
	// Keys lists the arrays the backend holds slots for, with their kinds.
	Keys() (map[Key]sparse.Kind, error)
	// Close releases the backend.
	Close() error
}

// MemBackend keeps every array in process memory.
type MemBackend struct{}

// NewMemBackend returns the in-memory backend.
func NewMemBackend() *MemBackend {
	return &MemBackend{}
}

func (MemBackend) Open(Key, sparse.Kind) (sparse.Backing, []uint32, error) {
	return sparse.NewMemBacking(), nil, nil
}

func (MemBackend) Drop(Key) error { return nil }

func (MemBackend) Keys() (map[Key]sparse.Kind, error) { return nil, nil }

func (MemBackend) Close() error { return nil }
