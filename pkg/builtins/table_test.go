package builtins

import (
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/crystal-mush/sparsearray/pkg/sparse"
	"github.com/crystal-mush/sparsearray/pkg/vars"
)

var testCtx = vars.Context{Char: 150000, Account: 2000000, NPC: 7, Script: 1}

func newTable(t *testing.T) *Table {
	t.Helper()
	return NewTable(vars.NewRegistry(nil))
}

// run calls a built-in and fails the test on error.
func run(t *testing.T, tbl *Table, name string, args ...string) string {
	t.Helper()
	out, err := tbl.Call(testCtx, name, args)
	if err != nil {
		t.Fatalf("%s(%v): %v", name, args, err)
	}
	return out
}

// seed stores index/value pairs given as alternating arguments.
func seed(t *testing.T, tbl *Table, name string, pairs ...string) {
	t.Helper()
	for i := 0; i+1 < len(pairs); i += 2 {
		run(t, tbl, "setarray", name+"["+pairs[i]+"]", pairs[i+1])
	}
}

func TestParseRef(t *testing.T) {
	tests := []struct {
		in    string
		name  string
		index uint32
		kind  sparse.Kind
		err   bool
	}{
		{"list", "list", 0, sparse.KindInt, false},
		{"list[5]", "list", 5, sparse.KindInt, false},
		{".@names$[12]", ".@names$", 12, sparse.KindText, false},
		{"$@q[4294967295]", "", 0, 0, true},
		{"list[", "", 0, 0, true},
		{"list[x]", "", 0, 0, true},
		{"list[-1]", "", 0, 0, true},
		{"42", "", 0, 0, true},
		{"", "", 0, 0, true},
	}
	for _, tt := range tests {
		ref, err := ParseRef(tt.in)
		if tt.err {
			if !errors.Is(err, ErrNotArray) {
				t.Errorf("ParseRef(%q) error = %v, want ErrNotArray", tt.in, err)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseRef(%q): %v", tt.in, err)
			continue
		}
		if ref.Name != tt.name || ref.Index != tt.index || ref.Kind != tt.kind {
			t.Errorf("ParseRef(%q) = %+v", tt.in, ref)
		}
	}
}

func TestToInt(t *testing.T) {
	tests := []struct {
		in   string
		want int64
	}{
		{"42", 42},
		{" -7 ", -7},
		{"+3", 3},
		{"12abc", 12},
		{"abc", 0},
		{"", 0},
		{"-", 0},
		{"99999999999999999999", math.MaxInt64},
		{"-99999999999999999999x", math.MinInt64},
		{"9223372036854775807", math.MaxInt64},
	}
	for _, tt := range tests {
		if got := toInt(tt.in); got != tt.want {
			t.Errorf("toInt(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestFindAndCount(t *testing.T) {
	tbl := newTable(t)
	seed(t, tbl, "arr", "0", "10", "2", "20", "5", "20")

	tests := []struct {
		fn   string
		args []string
		want string
	}{
		{"array_find", []string{"arr", "20"}, "2"},
		{"array_rfind", []string{"arr", "20"}, "5"},
		{"array_find", []string{"arr[3]", "20"}, "5"},
		{"array_find", []string{"arr", "20", "1"}, "0"},
		{"array_find", []string{"arr", "30"}, "-1"},
		{"array_count", []string{"arr", "20"}, "2"},
		{"array_count", []string{"arr", "20", "1"}, "1"},
		{"array_count", []string{"arr[1]", "20", "0"}, "2"},
		{"array_entries", []string{"arr[2]"}, "2"},
		{"getarraysize", []string{"arr"}, "6"},
	}
	for _, tt := range tests {
		if got := run(t, tbl, tt.fn, tt.args...); got != tt.want {
			t.Errorf("%s(%v) = %q, want %q", tt.fn, tt.args, got, tt.want)
		}
	}
}

func TestReplace(t *testing.T) {
	tbl := newTable(t)
	seed(t, tbl, "arr", "0", "10", "2", "20", "5", "20")
	if got := run(t, tbl, "array_replace", "arr", "20", "99"); got != "2" {
		t.Fatalf("array_replace = %q, want 2", got)
	}
	for idx, want := range map[string]string{"0": "10", "2": "99", "5": "99"} {
		if got := run(t, tbl, "getelement", "arr["+idx+"]"); got != want {
			t.Errorf("arr[%s] = %q, want %q", idx, got, want)
		}
	}
}

func TestPopVariants(t *testing.T) {
	tbl := newTable(t)
	seed(t, tbl, "q", "0", "1", "3", "2", "7", "3")

	if got := run(t, tbl, "array_lifo_pop", "q[9]"); got != "3" {
		t.Errorf("array_lifo_pop = %q, want 3", got)
	}
	// Plain pop only takes the tail when it is at or above the reference index.
	if got := run(t, tbl, "array_pop", "q[5]"); got != "0" {
		t.Errorf("array_pop below start = %q, want 0", got)
	}
	if got := run(t, tbl, "array_entries", "q"); got != "2" {
		t.Errorf("entries after refused pop = %q, want 2", got)
	}
	if got := run(t, tbl, "array_pop", "q[3]"); got != "2" {
		t.Errorf("array_pop = %q, want 2", got)
	}
	if got := run(t, tbl, "array_find", "q", "2"); got != "-1" {
		t.Errorf("popped value still found at %s", got)
	}
}

func TestShiftVariants(t *testing.T) {
	tbl := newTable(t)
	seed(t, tbl, "q", "0", "1", "3", "2", "7", "3")

	if got := run(t, tbl, "array_fifo_shift", "q[5]"); got != "1" {
		t.Fatalf("array_fifo_shift = %q, want 1", got)
	}
	for idx, want := range map[string]string{"0": "2", "1": "3"} {
		if got := run(t, tbl, "getelement", "q["+idx+"]"); got != want {
			t.Errorf("q[%s] = %q, want %q", idx, got, want)
		}
	}
	// Exact match only.
	if got := run(t, tbl, "array_shift", "q[4]"); got != "0" {
		t.Errorf("array_shift with no exact index = %q, want 0", got)
	}
	if got := run(t, tbl, "array_shift", "q[1]"); got != "3" {
		t.Errorf("array_shift = %q, want 3", got)
	}
}

func TestRemove(t *testing.T) {
	tbl := newTable(t)
	seed(t, tbl, "r", "0", "5", "1", "5", "2", "9")
	if got := run(t, tbl, "array_remove", "r", "5"); got != "2" {
		t.Fatalf("array_remove = %q, want 2", got)
	}
	if got := run(t, tbl, "getelement", "r[0]"); got != "9" {
		t.Errorf("r[0] = %q, want 9", got)
	}
	if got := run(t, tbl, "array_entries", "r"); got != "1" {
		t.Errorf("entries = %q, want 1", got)
	}
}

func TestTextArrays(t *testing.T) {
	tbl := newTable(t)
	run(t, tbl, "setarray", ".@names$", "ann", "bob", "", "bob")

	if got := run(t, tbl, "array_count", ".@names$", "bob"); got != "2" {
		t.Errorf("count bob = %q, want 2", got)
	}
	if got := run(t, tbl, "array_find", ".@names$", ""); got != "2" {
		t.Errorf("find empty string = %q, want 2", got)
	}
	if got := run(t, tbl, "array_shift", ".@names$"); got != "ann" {
		t.Errorf("shift = %q, want ann", got)
	}
	if got := run(t, tbl, "array_pop", ".@names$"); got != "bob" {
		t.Errorf("pop = %q, want bob", got)
	}
	// Empty text array returns the empty string.
	run(t, tbl, "deletearray", ".@names$")
	if got := run(t, tbl, "array_pop", ".@names$"); got != "" {
		t.Errorf("pop on empty = %q, want empty", got)
	}
}

func TestMissingArrayIsEmpty(t *testing.T) {
	tbl := newTable(t)
	tests := []struct {
		fn   string
		args []string
		want string
	}{
		{"array_find", []string{"ghost", "1"}, "-1"},
		{"array_rfind", []string{"ghost$", "x"}, "-1"},
		{"array_count", []string{"ghost", "0", "1"}, "0"},
		{"array_replace", []string{"ghost", "1", "2"}, "0"},
		{"array_remove", []string{"ghost", "1"}, "0"},
		{"array_pop", []string{"ghost"}, "0"},
		{"array_shift", []string{"ghost$"}, ""},
		{"array_entries", []string{"ghost"}, "0"},
		{"getarraysize", []string{"ghost"}, "0"},
		{"getelement", []string{"ghost$[3]"}, ""},
	}
	for _, tt := range tests {
		if got := run(t, tbl, tt.fn, tt.args...); got != tt.want {
			t.Errorf("%s(%v) = %q, want %q", tt.fn, tt.args, got, tt.want)
		}
	}
	if arrays, _ := tbl.reg.Stats(); arrays != 0 {
		t.Errorf("no-op calls created %d arrays", arrays)
	}
}

func TestDeleteArrayFromIndex(t *testing.T) {
	tbl := newTable(t)
	run(t, tbl, "setarray", "d", "1", "2", "3", "4")
	run(t, tbl, "deletearray", "d[2]")
	if got := run(t, tbl, "getarraysize", "d"); got != "2" {
		t.Errorf("size = %q, want 2", got)
	}
	run(t, tbl, "deletearray", "d")
	if got := run(t, tbl, "array_entries", "d"); got != "0" {
		t.Errorf("entries = %q, want 0", got)
	}
}

func TestScopesAreSeparate(t *testing.T) {
	tbl := newTable(t)
	run(t, tbl, "setarray", "$g", "1")
	run(t, tbl, "setarray", "#g", "2")
	run(t, tbl, "setarray", ".g", "3")
	for name, want := range map[string]string{"$g": "1", "#g": "2", ".g": "3", "g": "0"} {
		if got := run(t, tbl, "getelement", name); got != want {
			t.Errorf("%s = %q, want %q", name, got, want)
		}
	}
}

func TestCallErrors(t *testing.T) {
	tbl := newTable(t)
	tests := []struct {
		fn   string
		args []string
		want error
	}{
		{"array_frob", []string{"a"}, ErrUnknownFunction},
		{"array_find", []string{"a"}, ErrArgCount},
		{"array_entries", []string{"a", "b"}, ErrArgCount},
		{"array_find", []string{"1+1", "2"}, ErrNotArray},
		{"setarray", []string{"x[4294967294]", "1", "2"}, sparse.ErrIndexRange},
	}
	for _, tt := range tests {
		_, err := tbl.Call(testCtx, tt.fn, tt.args)
		if !errors.Is(err, tt.want) {
			t.Errorf("%s(%v) error = %v, want %v", tt.fn, tt.args, err, tt.want)
		}
	}
}

func TestRegisterAndAlias(t *testing.T) {
	tbl := newTable(t)
	tbl.Alias("getarraycount", "array_entries")
	tbl.Alias("bogus", "no_such_function")
	tbl.Register("array_kind", func(c *Call, args []string, buff *strings.Builder) error {
		buff.WriteString(c.Ref.Kind.String())
		return nil
	}, 1, 1)

	run(t, tbl, "setarray", "c", "1", "2")
	if got := run(t, tbl, "getarraycount", "c"); got != "2" {
		t.Errorf("alias = %q, want 2", got)
	}
	if got := run(t, tbl, "array_kind", "c$"); got != "text" {
		t.Errorf("array_kind = %q, want text", got)
	}
	if _, err := tbl.Call(testCtx, "bogus", []string{"c"}); !errors.Is(err, ErrUnknownFunction) {
		t.Errorf("alias to missing target registered: %v", err)
	}
	for alias, target := range map[string]string{
		"array_rfind":      "array_find",
		"array_lifo_pop":   "array_pop",
		"array_fifo_shift": "array_shift",
	} {
		if tbl.functions[alias] != tbl.functions[target] {
			t.Errorf("%s is not an alias of %s", alias, target)
		}
	}
	names := tbl.Names()
	if len(names) == 0 || names[0] > names[len(names)-1] {
		t.Errorf("Names() not sorted: %v", names)
	}
}
