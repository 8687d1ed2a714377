package sparse

import (
	"cmp"
	"errors"
	"fmt"
	"slices"
)

// NotFound is returned by Find when no index satisfies the predicate.
const NotFound int64 = -1

// MaxIndex is the highest index a script array may address.
const MaxIndex uint32 = 1<<32 - 2

var (
	// ErrKindMismatch is returned when a value or needle does not match the array kind.
	ErrKindMismatch = errors.New("sparse: kind mismatch")
	// ErrIndexRange is returned when an index exceeds the array's configured maximum.
	ErrIndexRange = errors.New("sparse: index out of range")
	// ErrNilArray is returned when writing through a nil *Array.
	ErrNilArray = errors.New("sparse: nil array")
)

// Compaction selects how Shift and Remove re-home the slots above a removed index.
type Compaction int

const (
	// CompactDense moves the values above the removed index onto consecutive
	// indices starting at the removed one, closing any holes in the tail.
	CompactDense Compaction = iota
	// CompactSlots moves each value into the previous occupied slot and frees
	// the highest one, keeping the original index layout.
	CompactSlots
)

func (c Compaction) String() string {
	switch c {
	case CompactDense:
		return "dense"
	case CompactSlots:
		return "slots"
	default:
		return "unknown"
	}
}

// ParseCompaction is the inverse of Compaction.String.
func ParseCompaction(s string) (Compaction, error) {
	switch s {
	case "dense", "":
		return CompactDense, nil
	case "slots":
		return CompactSlots, nil
	}
	return 0, fmt.Errorf("sparse: unknown compaction %q", s)
}

// Option configures an Array.
type Option func(*Array)

// WithCompaction sets the compaction policy (default CompactDense).
func WithCompaction(c Compaction) Option {
	return func(a *Array) { a.compaction = c }
}

// WithMaxIndex caps the indices Set accepts (default MaxIndex).
func WithMaxIndex(max uint32) Option {
	return func(a *Array) { a.maxIndex = max }
}

// Array is a sparse index -> value mapping of a single Kind.
//
// The array tracks which indices are occupied; values are read and written
// through its Backing. A nil *Array behaves as an empty array for every
// read and for the search-and-mutate operations.
type Array struct {
	kind       Kind
	back       Backing
	compaction Compaction
	maxIndex   uint32

	members map[uint32]struct{}
	sorted  []uint32 // ascending cache of members, nil when stale
}

// New creates an empty array of the given kind over back.
// A nil back gets a fresh MemBacking.
func New(kind Kind, back Backing, opts ...Option) *Array {
	if back == nil {
		back = NewMemBacking()
	}
	a := &Array{
		kind:     kind,
		back:     back,
		maxIndex: MaxIndex,
		members:  make(map[uint32]struct{}),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Restore creates an array whose occupied indices are already held by back.
// Duplicate indices are collapsed.
func Restore(kind Kind, back Backing, indices []uint32, opts ...Option) *Array {
	a := New(kind, back, opts...)
	for _, idx := range indices {
		a.members[idx] = struct{}{}
	}
	return a
}

// Kind returns the array's value kind.
func (a *Array) Kind() Kind {
	if a == nil {
		return KindInt
	}
	return a.kind
}

// Compaction returns the array's compaction policy.
func (a *Array) Compaction() Compaction {
	if a == nil {
		return CompactDense
	}
	return a.compaction
}

// Backing returns the value store the array reads and writes through.
func (a *Array) Backing() Backing {
	if a == nil {
		return nil
	}
	return a.back
}

// MaxIndex returns the highest index Set accepts.
func (a *Array) MaxIndex() uint32 {
	if a == nil {
		return MaxIndex
	}
	return a.maxIndex
}

// Len returns the number of occupied indices.
func (a *Array) Len() int {
	if a == nil {
		return 0
	}
	return len(a.members)
}

// Has reports whether index is occupied.
func (a *Array) Has(index uint32) bool {
	if a == nil {
		return false
	}
	_, ok := a.members[index]
	return ok
}

// Members returns the occupied indices in unspecified order.
func (a *Array) Members() []uint32 {
	if a == nil {
		return nil
	}
	out := make([]uint32, 0, len(a.members))
	for idx := range a.members {
		out = append(out, idx)
	}
	return out
}

// SortedIndices returns a copy of the occupied indices, ascending or, with
// reverse, descending. The member set itself is never reordered.
func (a *Array) SortedIndices(reverse bool) []uint32 {
	if a == nil {
		return nil
	}
	if a.sorted == nil {
		a.sorted = make([]uint32, 0, len(a.members))
		for idx := range a.members {
			a.sorted = append(a.sorted, idx)
		}
		slices.Sort(a.sorted)
	}
	out := slices.Clone(a.sorted)
	if reverse {
		slices.SortFunc(out, func(x, y uint32) int { return cmp.Compare(y, x) })
	}
	return out
}

// Max returns the highest occupied index.
func (a *Array) Max() (uint32, bool) {
	if a.Len() == 0 {
		return 0, false
	}
	list := a.SortedIndices(false)
	return list[len(list)-1], true
}

// Size returns the highest occupied index plus one, or 0 for an empty array.
func (a *Array) Size() uint64 {
	max, ok := a.Max()
	if !ok {
		return 0
	}
	return uint64(max) + 1
}

// Get returns the value at index. A member whose backing slot is missing
// reads as the kind's zero value.
func (a *Array) Get(index uint32) (Value, bool, error) {
	if a == nil {
		return Zero(KindInt), false, nil
	}
	if _, ok := a.members[index]; !ok {
		return Zero(a.kind), false, nil
	}
	return a.load(index)
}

// Set stores v at index, adding the index to the member set if new.
func (a *Array) Set(index uint32, v Value) error {
	if a == nil {
		return ErrNilArray
	}
	if err := a.checkKind(v); err != nil {
		return err
	}
	if index > a.maxIndex {
		return fmt.Errorf("%w: %d > %d", ErrIndexRange, index, a.maxIndex)
	}
	if err := a.back.Store(index, v); err != nil {
		return fmt.Errorf("sparse: store %d: %w", index, err)
	}
	a.track(index)
	return nil
}

// Unset removes index and its value. Unsetting a missing index is a no-op.
func (a *Array) Unset(index uint32) error {
	if a == nil {
		return nil
	}
	if _, ok := a.members[index]; !ok {
		return nil
	}
	if err := a.back.Delete(index); err != nil {
		return fmt.Errorf("sparse: delete %d: %w", index, err)
	}
	delete(a.members, index)
	a.sorted = nil
	return nil
}

// Clear removes every index.
func (a *Array) Clear() error {
	for _, idx := range a.Members() {
		if err := a.Unset(idx); err != nil {
			return err
		}
	}
	return nil
}

// Each calls fn for every occupied index in ascending order until fn returns false.
func (a *Array) Each(fn func(index uint32, v Value) bool) error {
	for _, idx := range a.SortedIndices(false) {
		v, _, err := a.load(idx)
		if err != nil {
			return err
		}
		if !fn(idx, v) {
			return nil
		}
	}
	return nil
}

func (a *Array) track(index uint32) {
	if _, ok := a.members[index]; ok {
		return
	}
	a.members[index] = struct{}{}
	a.sorted = nil
}

func (a *Array) load(index uint32) (Value, bool, error) {
	v, ok, err := a.back.Load(index)
	if err != nil {
		return Zero(a.kind), false, fmt.Errorf("sparse: load %d: %w", index, err)
	}
	if !ok {
		return Zero(a.kind), true, nil
	}
	return v, true, nil
}

func (a *Array) checkKind(v Value) error {
	if v.Kind != a.kind {
		return fmt.Errorf("%w: %s array, %s value", ErrKindMismatch, a.kind, v.Kind)
	}
	return nil
}
