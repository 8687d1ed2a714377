package snapshot

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/require"

	"github.com/crystal-mush/sparsearray/pkg/sparse"
	"github.com/crystal-mush/sparsearray/pkg/vars"
)

func populated(t *testing.T) *vars.Registry {
	t.Helper()
	reg := vars.NewRegistry(nil)
	ctx := vars.Context{Char: 150000, Account: 2000000, NPC: 12}
	require.NoError(t, reg.Set(ctx, "bag$", 0, sparse.Text("rope")))
	require.NoError(t, reg.Set(ctx, "bag$", 9, sparse.Text("")))
	require.NoError(t, reg.Set(ctx, "#coins", 4, sparse.Int(-3)))
	require.NoError(t, reg.Set(ctx, ".seen", 1, sparse.Int(1)))
	require.NoError(t, reg.Set(ctx, "$top", 0, sparse.Int(77)))
	return reg
}

func TestWriteReadApply(t *testing.T) {
	src := populated(t)
	doc, err := Capture(src)
	require.NoError(t, err)
	require.Equal(t, 4, doc.Header.Arrays)

	path := filepath.Join(t.TempDir(), "sub", "arrays.json.zst")
	require.NoError(t, Write(path, doc))

	got, err := Read(path)
	require.NoError(t, err)
	require.Equal(t, doc.Arrays, got.Arrays)

	dst := vars.NewRegistry(nil)
	require.NoError(t, Apply(got, dst))

	ctx := vars.Context{Char: 150000, Account: 2000000, NPC: 12}
	v, ok, err := dst.Get(ctx, "bag$", 9)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "", v.Str)

	v, _, err = dst.Get(ctx, "#coins", 4)
	require.NoError(t, err)
	require.Equal(t, int64(-3), v.Int)

	a1, s1 := src.Stats()
	a2, s2 := dst.Stats()
	require.Equal(t, a1, a2)
	require.Equal(t, s1, s2)
}

func writeRaw(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "raw.json.zst")
	f, err := os.Create(path)
	require.NoError(t, err)
	enc, err := zstd.NewWriter(f)
	require.NoError(t, err)
	_, err = enc.Write([]byte(body))
	require.NoError(t, err)
	require.NoError(t, enc.Close())
	require.NoError(t, f.Close())
	return path
}

func TestReadRejectsVersion(t *testing.T) {
	path := writeRaw(t, `{"header":{"version":2,"arrays":0},"arrays":[]}`)
	_, err := Read(path)
	require.ErrorIs(t, err, ErrVersion)
}

func TestDecodeRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"bad kind", `{"header":{"version":1,"arrays":1},"arrays":[{"scope":"global","owner":0,"name":"$x","kind":"float","slots":[{"index":0}]}]}`},
		{"negative index", `{"header":{"version":1,"arrays":1},"arrays":[{"scope":"global","owner":0,"name":"$x","kind":"int","slots":[{"index":-1}]}]}`},
		{"empty slots", `{"header":{"version":1,"arrays":1},"arrays":[{"scope":"global","owner":0,"name":"$x","kind":"int","slots":[]}]}`},
		{"count mismatch", `{"header":{"version":1,"arrays":3},"arrays":[]}`},
		{"not json", `{"header":`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode([]byte(tt.body))
			require.Error(t, err)
		})
	}
}

func TestApplyRejectsScopeMismatch(t *testing.T) {
	doc := Document{
		Header: Header{Version: Version, Arrays: 1},
		Arrays: []ArrayV1{{Scope: "account", Name: "$x", Kind: "int", Slots: []SlotV1{{Index: 0, Int: 1}}}},
	}
	require.Error(t, Apply(doc, vars.NewRegistry(nil)))
}
