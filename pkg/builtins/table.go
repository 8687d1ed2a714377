// Package builtins exposes the array operations as script built-in
// functions. Every built-in takes an array reference as its first
// argument, written `name` or `name[index]`, and returns its result as
// the text a script would see.
package builtins

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/crystal-mush/sparsearray/pkg/sparse"
	"github.com/crystal-mush/sparsearray/pkg/vars"
)

var (
	// ErrNotArray is returned when the first argument is not an array reference.
	ErrNotArray = errors.New("not an array!")
	// ErrUnknownFunction is returned for names with no registered built-in.
	ErrUnknownFunction = errors.New("unknown function")
	// ErrArgCount is returned when a built-in gets the wrong number of arguments.
	ErrArgCount = errors.New("wrong number of arguments")
)

// Ref is a parsed array reference.
type Ref struct {
	Name  string
	Index uint32
	Kind  sparse.Kind
}

// ParseRef parses `name` or `name[index]`.
func ParseRef(s string) (Ref, error) {
	name, index := s, uint32(0)
	if open := strings.IndexByte(s, '['); open >= 0 {
		if !strings.HasSuffix(s, "]") {
			return Ref{}, fmt.Errorf("%w: %q", ErrNotArray, s)
		}
		n, err := strconv.ParseUint(s[open+1:len(s)-1], 10, 32)
		if err != nil || n > uint64(sparse.MaxIndex) {
			return Ref{}, fmt.Errorf("%w: %q: bad index", ErrNotArray, s)
		}
		name, index = s[:open], uint32(n)
	}
	_, kind, err := vars.ParseName(name)
	if err != nil {
		return Ref{}, fmt.Errorf("%w: %q", ErrNotArray, s)
	}
	return Ref{Name: name, Index: index, Kind: kind}, nil
}

// Value converts a script argument to a value of the reference's kind.
// Integer arguments that do not parse read as 0.
func (r Ref) Value(arg string) sparse.Value {
	if r.Kind == sparse.KindText {
		return sparse.Text(arg)
	}
	return sparse.Int(toInt(arg))
}

// Call is the state passed to a built-in handler.
type Call struct {
	Reg  *vars.Registry
	Ctx  vars.Context
	Name string // name the built-in was invoked as
	Ref  Ref
}

// FnHandler is the signature for built-in handlers. args excludes the reference.
type FnHandler func(call *Call, args []string, buff *strings.Builder) error

// Function is a registered built-in.
type Function struct {
	Name    string
	Handler FnHandler
	MinArgs int // including the reference
	MaxArgs int // -1 for no limit
}

// Table maps built-in names to handlers.
type Table struct {
	reg       *vars.Registry
	functions map[string]*Function
}

// NewTable creates a table over reg with every array built-in registered.
func NewTable(reg *vars.Registry) *Table {
	t := &Table{reg: reg, functions: make(map[string]*Function)}
	registerArrayFunctions(t)
	return t
}

// Register adds a built-in function to the table.
func (t *Table) Register(name string, handler FnHandler, minArgs, maxArgs int) {
	t.functions[name] = &Function{
		Name:    name,
		Handler: handler,
		MinArgs: minArgs,
		MaxArgs: maxArgs,
	}
}

// Alias creates an alias for an existing function.
func (t *Table) Alias(alias, target string) {
	if fn, ok := t.functions[target]; ok {
		t.functions[alias] = fn
	}
}

// Names returns every registered name, sorted.
func (t *Table) Names() []string {
	names := make([]string, 0, len(t.functions))
	for name := range t.functions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Call runs the named built-in with args under ctx and returns its output.
func (t *Table) Call(ctx vars.Context, name string, args []string) (string, error) {
	fn, ok := t.functions[name]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownFunction, name)
	}
	if len(args) < fn.MinArgs || (fn.MaxArgs >= 0 && len(args) > fn.MaxArgs) {
		return "", fmt.Errorf("%w: %s expects %s, got %d", ErrArgCount, name, arity(fn), len(args))
	}
	if len(args) == 0 {
		return "", fmt.Errorf("%s: %w", name, ErrNotArray)
	}
	ref, err := ParseRef(args[0])
	if err != nil {
		return "", fmt.Errorf("%s: %w", name, err)
	}
	call := &Call{Reg: t.reg, Ctx: ctx, Name: name, Ref: ref}
	var buff strings.Builder
	if err := fn.Handler(call, args[1:], &buff); err != nil {
		return "", fmt.Errorf("%s: %w", name, err)
	}
	return buff.String(), nil
}

func arity(fn *Function) string {
	switch {
	case fn.MaxArgs < 0:
		return fmt.Sprintf("at least %d", fn.MinArgs)
	case fn.MinArgs == fn.MaxArgs:
		return strconv.Itoa(fn.MinArgs)
	default:
		return fmt.Sprintf("%d to %d", fn.MinArgs, fn.MaxArgs)
	}
}

// toInt converts like strtol: leading sign and digits, 0 when there are none,
// and the int64 bound when the digits overflow.
func toInt(s string) int64 {
	s = strings.TrimSpace(s)
	end := 0
	if end < len(s) && (s[end] == '-' || s[end] == '+') {
		end++
	}
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	n, err := strconv.ParseInt(s[:end], 10, 64)
	if err != nil {
		if errors.Is(err, strconv.ErrRange) {
			if s[0] == '-' {
				return math.MinInt64
			}
			return math.MaxInt64
		}
		return 0
	}
	return n
}

// optFlag reads an optional trailing boolean argument.
func optFlag(args []string, i int) bool {
	return len(args) > i && toInt(args[i]) != 0
}
