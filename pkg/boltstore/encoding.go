package boltstore

import (
	"bytes"
	"encoding/gob"

	"github.com/crystal-mush/sparsearray/pkg/sparse"
)

func init() {
	gob.Register(sparse.Value{})
}

// encodeValue serializes a slot Value to bytes using gob.
func encodeValue(v sparse.Value) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// decodeValue deserializes bytes back into a slot Value.
func decodeValue(data []byte) (sparse.Value, error) {
	var v sparse.Value
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&v); err != nil {
		return sparse.Value{}, err
	}
	return v, nil
}
