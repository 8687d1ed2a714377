// Package boltstore persists script arrays in a bbolt database. Each array
// gets a nested bucket of index -> value slots; every write goes straight
// through to disk.
package boltstore

import (
	"errors"
	"fmt"
	"log"
	"os"

	"github.com/crystal-mush/sparsearray/pkg/sparse"
	"github.com/crystal-mush/sparsearray/pkg/vars"
	bbolt "go.etcd.io/bbolt"
)

// ErrKindConflict is returned when an array is reopened with a different kind.
var ErrKindConflict = errors.New("boltstore: kind conflict")

// Store is a vars.Backend over a bbolt database.
type Store struct {
	bolt *bbolt.DB
}

// Open opens or creates a bbolt database file and ensures all buckets exist.
func Open(path string) (*Store, error) {
	db, err := bbolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("boltstore: open %s: %w", path, err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{bucketMeta, bucketKinds, bucketArrays} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		meta := tx.Bucket(bucketMeta)
		if v := meta.Get(keyVersion); v != nil {
			if got := keyToInt(v); got != formatVersion {
				return fmt.Errorf("unsupported format version %d", got)
			}
			return nil
		}
		return meta.Put(keyVersion, intToKey(formatVersion))
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("boltstore: init %s: %w", path, err)
	}

	return &Store{bolt: db}, nil
}

// Close closes the underlying bbolt database.
func (s *Store) Close() error {
	if s.bolt != nil {
		return s.bolt.Close()
	}
	return nil
}

// Path returns the filesystem path of the underlying bbolt database.
func (s *Store) Path() string {
	if s.bolt != nil {
		return s.bolt.Path()
	}
	return ""
}

// Open returns the slot backing for key, creating its bucket on first use,
// along with the indices already stored.
func (s *Store) Open(key vars.Key, kind sparse.Kind) (sparse.Backing, []uint32, error) {
	ak := arrayKey(key)
	var indices []uint32
	err := s.bolt.Update(func(tx *bbolt.Tx) error {
		kinds := tx.Bucket(bucketKinds)
		if prev := kinds.Get(ak); prev != nil {
			if sparse.Kind(prev[0]) != kind {
				return fmt.Errorf("%w: %s stored as %s", ErrKindConflict, key, sparse.Kind(prev[0]))
			}
		} else if err := kinds.Put(ak, []byte{byte(kind)}); err != nil {
			return err
		}
		b, err := tx.Bucket(bucketArrays).CreateBucketIfNotExists(ak)
		if err != nil {
			return err
		}
		return b.ForEach(func(k, _ []byte) error {
			indices = append(indices, keyToIndex(k))
			return nil
		})
	})
	if err != nil {
		return nil, nil, fmt.Errorf("boltstore: open %s: %w", key, err)
	}
	return &backing{bolt: s.bolt, key: ak}, indices, nil
}

// Drop deletes the bucket and kind record of key.
func (s *Store) Drop(key vars.Key) error {
	ak := arrayKey(key)
	return s.bolt.Update(func(tx *bbolt.Tx) error {
		if err := tx.Bucket(bucketKinds).Delete(ak); err != nil {
			return err
		}
		err := tx.Bucket(bucketArrays).DeleteBucket(ak)
		if errors.Is(err, bbolt.ErrBucketNotFound) {
			return nil
		}
		return err
	})
}

// Keys lists every stored array with its kind.
func (s *Store) Keys() (map[vars.Key]sparse.Kind, error) {
	out := make(map[vars.Key]sparse.Kind)
	err := s.bolt.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketKinds).ForEach(func(k, v []byte) error {
			key, err := parseArrayKey(k)
			if err != nil {
				return err
			}
			out[key] = sparse.Kind(v[0])
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("boltstore: keys: %w", err)
	}
	return out, nil
}

// HasData returns true if the database holds any array.
func (s *Store) HasData() bool {
	hasData := false
	s.bolt.View(func(tx *bbolt.Tx) error {
		if tx.Bucket(bucketKinds).Stats().KeyN > 0 {
			hasData = true
		}
		return nil
	})
	return hasData
}

// Backup creates a hot snapshot of the bbolt database using tx.WriteTo().
func (s *Store) Backup(path string) error {
	return s.bolt.View(func(tx *bbolt.Tx) error {
		f, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("boltstore: create backup %s: %w", path, err)
		}
		defer f.Close()
		_, err = tx.WriteTo(f)
		if err != nil {
			return fmt.Errorf("boltstore: write backup: %w", err)
		}
		log.Printf("boltstore: backup written to %s", path)
		return nil
	})
}

// backing reads and writes one array's slot bucket.
type backing struct {
	bolt *bbolt.DB
	key  []byte
}

func (b *backing) Load(index uint32) (sparse.Value, bool, error) {
	var (
		v  sparse.Value
		ok bool
	)
	err := b.bolt.View(func(tx *bbolt.Tx) error {
		bk := tx.Bucket(bucketArrays).Bucket(b.key)
		if bk == nil {
			return nil
		}
		data := bk.Get(indexToKey(index))
		if data == nil {
			return nil
		}
		var err error
		v, err = decodeValue(data)
		ok = err == nil
		return err
	})
	return v, ok, err
}

func (b *backing) Store(index uint32, v sparse.Value) error {
	data, err := encodeValue(v)
	if err != nil {
		return fmt.Errorf("boltstore: encode slot %d: %w", index, err)
	}
	return b.bolt.Update(func(tx *bbolt.Tx) error {
		bk, err := tx.Bucket(bucketArrays).CreateBucketIfNotExists(b.key)
		if err != nil {
			return err
		}
		return bk.Put(indexToKey(index), data)
	})
}

func (b *backing) Delete(index uint32) error {
	return b.bolt.Update(func(tx *bbolt.Tx) error {
		bk := tx.Bucket(bucketArrays).Bucket(b.key)
		if bk == nil {
			return nil
		}
		return bk.Delete(indexToKey(index))
	})
}
