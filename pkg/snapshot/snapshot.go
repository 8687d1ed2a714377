// Package snapshot exports and imports the contents of a registry as a
// zstd-compressed JSON document.
package snapshot

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/crystal-mush/sparsearray/pkg/sparse"
	"github.com/crystal-mush/sparsearray/pkg/vars"
)

// Version is the document format written by Write.
const Version = 1

// ErrVersion is returned by Read for documents of another format version.
var ErrVersion = errors.New("snapshot: unsupported version")

type Header struct {
	Version int   `json:"version"`
	Arrays  int   `json:"arrays"`
	Created int64 `json:"created"`
}

type Document struct {
	Header Header    `json:"header"`
	Arrays []ArrayV1 `json:"arrays"`
}

type ArrayV1 struct {
	Scope string   `json:"scope"`
	Owner int64    `json:"owner"`
	Name  string   `json:"name"`
	Kind  string   `json:"kind"`
	Slots []SlotV1 `json:"slots"`
}

type SlotV1 struct {
	Index uint32 `json:"index"`
	Int   int64  `json:"int,omitempty"`
	Text  string `json:"text,omitempty"`
}

const schemaJSON = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["header", "arrays"],
  "properties": {
    "header": {
      "type": "object",
      "required": ["version", "arrays"],
      "properties": {
        "version": {"type": "integer", "minimum": 1},
        "arrays": {"type": "integer", "minimum": 0},
        "created": {"type": "integer"}
      }
    },
    "arrays": {
      "type": ["array", "null"],
      "items": {
        "type": "object",
        "required": ["scope", "owner", "name", "kind", "slots"],
        "properties": {
          "scope": {"enum": ["character", "character_temp", "account", "account_global",
                             "npc", "script", "instance", "global", "global_temp"]},
          "owner": {"type": "integer"},
          "name": {"type": "string", "minLength": 1},
          "kind": {"enum": ["int", "text"]},
          "slots": {
            "type": "array",
            "minItems": 1,
            "items": {
              "type": "object",
              "required": ["index"],
              "properties": {
                "index": {"type": "integer", "minimum": 0, "maximum": 4294967294},
                "int": {"type": "integer"},
                "text": {"type": "string"}
              }
            }
          }
        }
      }
    }
  }
}`

var schema = jsonschema.MustCompileString("snapshot.schema.json", schemaJSON)

// Capture copies every array held by reg into a document.
func Capture(reg *vars.Registry) (Document, error) {
	doc := Document{Header: Header{Version: Version, Created: time.Now().Unix()}}
	var err error
	reg.Each(func(key vars.Key, a *sparse.Array) bool {
		arr := ArrayV1{
			Scope: key.Scope.String(),
			Owner: key.Owner,
			Name:  key.Name,
			Kind:  a.Kind().String(),
		}
		for _, idx := range a.SortedIndices(false) {
			var v sparse.Value
			v, _, err = a.Get(idx)
			if err != nil {
				err = fmt.Errorf("snapshot: capture %s[%d]: %w", key, idx, err)
				return false
			}
			arr.Slots = append(arr.Slots, SlotV1{Index: idx, Int: v.Int, Text: v.Str})
		}
		doc.Arrays = append(doc.Arrays, arr)
		return true
	})
	if err != nil {
		return Document{}, err
	}
	doc.Header.Arrays = len(doc.Arrays)
	return doc, nil
}

// Apply writes every slot of doc into reg. Existing slots at other
// indices are left alone.
func Apply(doc Document, reg *vars.Registry) error {
	for _, arr := range doc.Arrays {
		scope, err := vars.ParseScope(arr.Scope)
		if err != nil {
			return fmt.Errorf("snapshot: apply %s: %w", arr.Name, err)
		}
		nameScope, kind, err := vars.ParseName(arr.Name)
		if err != nil {
			return fmt.Errorf("snapshot: apply: %w", err)
		}
		if nameScope != scope || kind.String() != arr.Kind {
			return fmt.Errorf("snapshot: apply %s: stored as %s %s", arr.Name, arr.Scope, arr.Kind)
		}
		ctx := vars.Ref{Scope: scope, Owner: arr.Owner}.Context()
		for _, slot := range arr.Slots {
			v := sparse.Int(slot.Int)
			if kind == sparse.KindText {
				v = sparse.Text(slot.Text)
			}
			if err := reg.Set(ctx, arr.Name, slot.Index, v); err != nil {
				return fmt.Errorf("snapshot: apply %s[%d]: %w", arr.Name, slot.Index, err)
			}
		}
	}
	return nil
}

// Write stores doc at path as zstd-compressed JSON.
func Write(path string, doc Document) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}

	bw := bufio.NewWriterSize(enc, 256*1024)
	if err := json.NewEncoder(bw).Encode(&doc); err != nil {
		enc.Close()
		return fmt.Errorf("snapshot: json encode: %w", err)
	}
	if err := bw.Flush(); err != nil {
		enc.Close()
		return err
	}
	if err := enc.Close(); err != nil {
		return err
	}
	log.Printf("snapshot: wrote %d arrays to %s", doc.Header.Arrays, path)
	return f.Close()
}

// Read loads and validates a document written by Write.
func Read(path string) (Document, error) {
	var doc Document
	f, err := os.Open(path)
	if err != nil {
		return doc, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return doc, err
	}
	defer dec.Close()

	data, err := io.ReadAll(dec)
	if err != nil {
		return doc, fmt.Errorf("snapshot: decompress %s: %w", path, err)
	}
	return Decode(data)
}

// Decode validates raw JSON against the document schema and decodes it.
func Decode(data []byte) (Document, error) {
	var doc Document

	var hdr struct {
		Header Header `json:"header"`
	}
	if err := json.Unmarshal(data, &hdr); err != nil {
		return doc, fmt.Errorf("snapshot: json decode: %w", err)
	}
	if hdr.Header.Version != Version {
		return doc, fmt.Errorf("%w: %d", ErrVersion, hdr.Header.Version)
	}

	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return doc, fmt.Errorf("snapshot: json decode: %w", err)
	}
	if err := schema.Validate(raw); err != nil {
		return doc, fmt.Errorf("snapshot: invalid document: %w", err)
	}

	d := json.NewDecoder(bytes.NewReader(data))
	d.DisallowUnknownFields()
	if err := d.Decode(&doc); err != nil {
		return doc, fmt.Errorf("snapshot: json decode: %w", err)
	}
	if doc.Header.Arrays != len(doc.Arrays) {
		return doc, fmt.Errorf("snapshot: header counts %d arrays, document holds %d", doc.Header.Arrays, len(doc.Arrays))
	}
	return doc, nil
}
