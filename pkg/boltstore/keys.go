package boltstore

import (
	"encoding/binary"
	"fmt"

	"github.com/crystal-mush/sparsearray/pkg/vars"
)

// Bucket name constants for bbolt storage.
var (
	bucketMeta   = []byte("meta")
	bucketKinds  = []byte("kinds")
	bucketArrays = []byte("arrays")
)

// Meta key constants.
var (
	keyVersion = []byte("version")
)

const formatVersion = 1

// ownerOffset shifts owner ids so negative ids sort before positive ones.
const ownerOffset = 1 << 63

// arrayKey encodes a vars.Key as scope(1) | owner(8, big-endian, offset) | name.
func arrayKey(k vars.Key) []byte {
	buf := make([]byte, 9+len(k.Name))
	buf[0] = byte(k.Scope)
	binary.BigEndian.PutUint64(buf[1:9], uint64(k.Owner)+ownerOffset)
	copy(buf[9:], k.Name)
	return buf
}

// parseArrayKey is the inverse of arrayKey.
func parseArrayKey(b []byte) (vars.Key, error) {
	if len(b) < 10 {
		return vars.Key{}, fmt.Errorf("boltstore: short array key %x", b)
	}
	return vars.Key{
		Scope: vars.Scope(b[0]),
		Owner: int64(binary.BigEndian.Uint64(b[1:9]) - ownerOffset),
		Name:  string(b[9:]),
	}, nil
}

// indexToKey converts a slot index to a 4-byte big-endian key so cursors
// walk slots in ascending index order.
func indexToKey(idx uint32) []byte {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, idx)
	return buf
}

// keyToIndex converts a 4-byte big-endian key back to a slot index.
func keyToIndex(b []byte) uint32 {
	return binary.BigEndian.Uint32(b)
}

// intToKey converts an int to an 8-byte big-endian key.
func intToKey(n int) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(n))
	return buf
}

// keyToInt converts an 8-byte big-endian key back to an int.
func keyToInt(b []byte) int {
	return int(binary.BigEndian.Uint64(b))
}
