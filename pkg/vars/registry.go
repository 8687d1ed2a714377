package vars

import (
	"fmt"
	"log"
	"sort"
	"sync"

	"github.com/crystal-mush/sparsearray/pkg/events"
	"github.com/crystal-mush/sparsearray/pkg/sparse"
)

// Option configures a Registry.
type Option func(*Registry)

// WithBus attaches an event bus that receives every mutation.
func WithBus(bus *events.Bus) Option {
	return func(r *Registry) { r.bus = bus }
}

// WithCompaction sets the compaction policy for new arrays.
func WithCompaction(c sparse.Compaction) Option {
	return func(r *Registry) { r.compaction = c }
}

// WithMaxIndex caps the indices any array accepts.
func WithMaxIndex(max uint32) Option {
	return func(r *Registry) { r.maxIndex = max }
}

// Registry maps variable names to arrays for every scope. Permanent scopes
// are stored through the configured backend, temporary ones in memory.
// All methods are safe for concurrent use; each call holds the registry
// lock for its whole duration.
type Registry struct {
	mu      sync.Mutex
	backend Backend
	temp    Backend
	arrays  map[Key]*sparse.Array

	bus        *events.Bus
	compaction sparse.Compaction
	maxIndex   uint32
}

// NewRegistry creates a registry over backend. A nil backend keeps everything in memory.
func NewRegistry(backend Backend, opts ...Option) *Registry {
	if backend == nil {
		backend = NewMemBackend()
	}
	r := &Registry{
		backend:  backend,
		temp:     NewMemBackend(),
		arrays:   make(map[Key]*sparse.Array),
		maxIndex: sparse.MaxIndex,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Configure applies opts to arrays opened from now on. Arrays already
// loaded keep their settings until they are emptied and recreated.
func (r *Registry) Configure(opts ...Option) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, opt := range opts {
		opt(r)
	}
}

// Restore loads every array the backend holds. Call once before use.
func (r *Registry) Restore() error {
	keys, err := r.backend.Keys()
	if err != nil {
		return fmt.Errorf("vars: restore: %w", err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for key, kind := range keys {
		back, indices, err := r.backend.Open(key, kind)
		if err != nil {
			return fmt.Errorf("vars: restore %s: %w", key, err)
		}
		if len(indices) == 0 {
			continue
		}
		r.arrays[key] = sparse.Restore(kind, back, indices, r.arrayOpts()...)
		n++
	}
	if n > 0 {
		log.Printf("vars: restored %d arrays", n)
	}
	return nil
}

// Close closes the backend.
func (r *Registry) Close() error {
	return r.backend.Close()
}

// Bus returns the attached event bus, or nil.
func (r *Registry) Bus() *events.Bus {
	return r.bus
}

// Resolve returns the key and kind a name refers to under ctx.
func (r *Registry) Resolve(ctx Context, name string) (Key, sparse.Kind, error) {
	scope, kind, err := ParseName(name)
	if err != nil {
		return Key{}, 0, err
	}
	ref := ctx.Ref(scope)
	return Key{Scope: ref.Scope, Owner: ref.Owner, Name: name}, kind, nil
}

// Lookup returns the array name refers to, or nil if it has no elements.
// The returned array must not be used after another registry call.
func (r *Registry) Lookup(ctx Context, name string) (*sparse.Array, error) {
	key, _, err := r.Resolve(ctx, name)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.arrays[key], nil
}

// Set assigns v to name[index], creating the array on first write.
func (r *Registry) Set(ctx Context, name string, index uint32, v sparse.Value) error {
	return r.with(ctx, name, true, func(k Key, a *sparse.Array) ([]events.Event, error) {
		if err := a.Set(index, v); err != nil {
			return nil, err
		}
		return []events.Event{r.event(events.EvSet, k, index, 0, v.String())}, nil
	}, v)
}

// Get returns name[index].
func (r *Registry) Get(ctx Context, name string, index uint32) (sparse.Value, bool, error) {
	_, kind, err := r.Resolve(ctx, name)
	if err != nil {
		return sparse.Value{}, false, err
	}
	v, ok := sparse.Zero(kind), false
	err = r.with(ctx, name, false, func(_ Key, a *sparse.Array) ([]events.Event, error) {
		if a == nil {
			return nil, nil
		}
		var err error
		v, ok, err = a.Get(index)
		return nil, err
	})
	return v, ok, err
}

// Unset removes name[index] without moving any other slot.
func (r *Registry) Unset(ctx Context, name string, index uint32) error {
	return r.with(ctx, name, false, func(k Key, a *sparse.Array) ([]events.Event, error) {
		if !a.Has(index) {
			return nil, nil
		}
		if err := a.Unset(index); err != nil {
			return nil, err
		}
		return []events.Event{r.event(events.EvUnset, k, index, 1, "")}, nil
	})
}

// SortedIndices returns the occupied indices of name.
func (r *Registry) SortedIndices(ctx Context, name string, reverse bool) ([]uint32, error) {
	var out []uint32
	err := r.with(ctx, name, false, func(_ Key, a *sparse.Array) ([]events.Event, error) {
		out = a.SortedIndices(reverse)
		return nil, nil
	})
	return out, err
}

// Find returns the first index >= start of name matching needle, or sparse.NotFound.
func (r *Registry) Find(ctx Context, name string, start uint32, needle sparse.Value, reverse, notEqual bool) (int64, error) {
	idx := sparse.NotFound
	err := r.with(ctx, name, false, func(_ Key, a *sparse.Array) ([]events.Event, error) {
		var err error
		idx, err = a.Find(start, needle, reverse, notEqual)
		return nil, err
	}, needle)
	return idx, err
}

// Count returns how many indices >= start of name match needle.
func (r *Registry) Count(ctx Context, name string, start uint32, needle sparse.Value, notEqual bool) (uint32, error) {
	var n uint32
	err := r.with(ctx, name, false, func(_ Key, a *sparse.Array) ([]events.Event, error) {
		var err error
		n, err = a.Count(start, needle, notEqual)
		return nil, err
	}, needle)
	return n, err
}

// Replace overwrites matching slots of name and returns how many were written.
func (r *Registry) Replace(ctx Context, name string, start uint32, needle, replacement sparse.Value, notEqual bool) (uint32, error) {
	var n uint32
	err := r.with(ctx, name, false, func(k Key, a *sparse.Array) ([]events.Event, error) {
		var err error
		n, err = a.Replace(start, needle, replacement, notEqual)
		if n == 0 {
			return nil, err
		}
		return []events.Event{r.event(events.EvReplace, k, start, n, replacement.String())}, err
	}, needle, replacement)
	return n, err
}

// Pop removes the tail of name. See sparse.Array.Pop.
func (r *Registry) Pop(ctx Context, name string, start uint32, lifo bool) (sparse.Value, bool, error) {
	v, ok, err := r.take(ctx, name, events.EvPop, func(a *sparse.Array) (uint32, sparse.Value, bool, error) {
		tail, _ := a.Max()
		v, ok, err := a.Pop(start, lifo)
		return tail, v, ok, err
	})
	return v, ok, err
}

// Shift removes one element of name and compacts the rest. See sparse.Array.Shift.
func (r *Registry) Shift(ctx Context, name string, start uint32, fifo bool) (sparse.Value, bool, error) {
	return r.take(ctx, name, events.EvShift, func(a *sparse.Array) (uint32, sparse.Value, bool, error) {
		at := start
		if fifo {
			if list := a.SortedIndices(false); len(list) > 0 {
				at = list[0]
			}
		}
		v, ok, err := a.Shift(start, fifo)
		return at, v, ok, err
	})
}

// Remove deletes matching slots of name with compaction and returns how many were removed.
func (r *Registry) Remove(ctx Context, name string, start uint32, needle sparse.Value, notEqual bool) (uint32, error) {
	var n uint32
	err := r.with(ctx, name, false, func(k Key, a *sparse.Array) ([]events.Event, error) {
		var err error
		n, err = a.Remove(start, needle, notEqual)
		if n == 0 {
			return nil, err
		}
		return []events.Event{r.event(events.EvRemove, k, start, n, needle.String())}, err
	}, needle)
	return n, err
}

// Entries returns the number of occupied indices of name >= from.
func (r *Registry) Entries(ctx Context, name string, from uint32) (uint32, error) {
	var n uint32
	err := r.with(ctx, name, false, func(_ Key, a *sparse.Array) ([]events.Event, error) {
		n = a.Entries(from)
		return nil, nil
	})
	return n, err
}

// Size returns the highest occupied index of name plus one.
func (r *Registry) Size(ctx Context, name string) (uint64, error) {
	var n uint64
	err := r.with(ctx, name, false, func(_ Key, a *sparse.Array) ([]events.Event, error) {
		n = a.Size()
		return nil, nil
	})
	return n, err
}

// Clear destroys the array name refers to.
func (r *Registry) Clear(ctx Context, name string) error {
	return r.with(ctx, name, false, func(k Key, a *sparse.Array) ([]events.Event, error) {
		n := a.Len()
		if n == 0 {
			return nil, nil
		}
		if err := a.Clear(); err != nil {
			return nil, err
		}
		return []events.Event{r.event(events.EvClear, k, 0, uint32(n), "")}, nil
	})
}

// ClearScope destroys every array owned by ref, as when a session or
// script invocation ends.
func (r *Registry) ClearScope(ref Ref) error {
	r.mu.Lock()
	var evs []events.Event
	var firstErr error
	for _, key := range r.sortedKeys() {
		if key.Ref() != ref {
			continue
		}
		a := r.arrays[key]
		n := a.Len()
		if err := a.Clear(); err != nil && firstErr == nil {
			firstErr = err
		}
		if err := r.drop(key); err != nil && firstErr == nil {
			firstErr = err
		}
		evs = append(evs, r.event(events.EvClear, key, 0, uint32(n), ""))
	}
	r.mu.Unlock()
	r.emit(evs)
	return firstErr
}

// Each calls fn for every array in key order until fn returns false.
// fn runs under the registry lock and must not call back into the registry.
func (r *Registry) Each(fn func(Key, *sparse.Array) bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, key := range r.sortedKeys() {
		if !fn(key, r.arrays[key]) {
			return
		}
	}
}

// Mutate runs fn on the array stored under key while holding the registry
// lock. Missing keys are a no-op. The array is dropped if fn leaves it empty.
func (r *Registry) Mutate(key Key, fn func(*sparse.Array) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a := r.arrays[key]
	if a == nil {
		return nil
	}
	err := fn(a)
	if a.Len() == 0 {
		if derr := r.drop(key); derr != nil && err == nil {
			err = derr
		}
	}
	return err
}

// Stats returns the number of live arrays and occupied slots.
func (r *Registry) Stats() (arrays, slots int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.arrays {
		slots += a.Len()
	}
	return len(r.arrays), slots
}

// with resolves name, checks the kinds of vals against it, and runs fn on the
// array under the lock. Missing arrays are created when create is set and
// otherwise passed to fn as nil, which sparse treats as empty. Arrays left
// empty are dropped. Events returned by fn are emitted after unlocking.
func (r *Registry) with(ctx Context, name string, create bool, fn func(Key, *sparse.Array) ([]events.Event, error), vals ...sparse.Value) error {
	key, kind, err := r.Resolve(ctx, name)
	if err != nil {
		return err
	}
	for _, v := range vals {
		if v.Kind != kind {
			return fmt.Errorf("%w: %s is a %s array, got %s", sparse.ErrKindMismatch, name, kind, v.Kind)
		}
	}

	r.mu.Lock()
	a := r.arrays[key]
	if a == nil && create {
		a, err = r.open(key, kind)
		if err != nil {
			r.mu.Unlock()
			return err
		}
	}
	evs, err := fn(key, a)
	if a != nil && a.Len() == 0 {
		if derr := r.drop(key); derr != nil && err == nil {
			err = derr
		}
	}
	r.mu.Unlock()

	r.emit(evs)
	return err
}

// take runs a single-element removal and emits its event when something was removed.
func (r *Registry) take(ctx Context, name string, typ events.EventType, fn func(*sparse.Array) (uint32, sparse.Value, bool, error)) (sparse.Value, bool, error) {
	_, kind, err := r.Resolve(ctx, name)
	if err != nil {
		return sparse.Value{}, false, err
	}
	v, ok := sparse.Zero(kind), false
	err = r.with(ctx, name, false, func(k Key, a *sparse.Array) ([]events.Event, error) {
		if a == nil {
			return nil, nil
		}
		at, got, removed, err := fn(a)
		if err != nil || !removed {
			return nil, err
		}
		v, ok = got, true
		return []events.Event{r.event(typ, k, at, 1, got.String())}, nil
	})
	return v, ok, err
}

func (r *Registry) open(key Key, kind sparse.Kind) (*sparse.Array, error) {
	back, indices, err := r.backendFor(key).Open(key, kind)
	if err != nil {
		return nil, fmt.Errorf("vars: open %s: %w", key, err)
	}
	a := sparse.Restore(kind, back, indices, r.arrayOpts()...)
	r.arrays[key] = a
	return a, nil
}

func (r *Registry) drop(key Key) error {
	delete(r.arrays, key)
	if err := r.backendFor(key).Drop(key); err != nil {
		return fmt.Errorf("vars: drop %s: %w", key, err)
	}
	return nil
}

func (r *Registry) backendFor(key Key) Backend {
	if key.Scope.Permanent() {
		return r.backend
	}
	return r.temp
}

func (r *Registry) arrayOpts() []sparse.Option {
	return []sparse.Option{sparse.WithCompaction(r.compaction), sparse.WithMaxIndex(r.maxIndex)}
}

func (r *Registry) sortedKeys() []Key {
	keys := make([]Key, 0, len(r.arrays))
	for k := range r.arrays {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Less(keys[j]) })
	return keys
}

func (r *Registry) event(typ events.EventType, k Key, index, count uint32, value string) events.Event {
	return events.Event{
		Type:  typ,
		Scope: k.Scope.String(),
		Owner: k.Owner,
		Name:  k.Name,
		Index: index,
		Count: count,
		Value: value,
	}
}

func (r *Registry) emit(evs []events.Event) {
	for _, ev := range evs {
		r.bus.Emit(ev)
	}
}
