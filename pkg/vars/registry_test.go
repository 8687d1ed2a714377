package vars

import (
	"errors"
	"sync"
	"testing"

	"github.com/crystal-mush/sparsearray/pkg/events"
	"github.com/crystal-mush/sparsearray/pkg/sparse"
)

func TestParseName(t *testing.T) {
	tests := []struct {
		name  string
		scope Scope
		kind  sparse.Kind
	}{
		{"list", ScopeCharacter, sparse.KindInt},
		{"list$", ScopeCharacter, sparse.KindText},
		{"@tmp", ScopeCharTemp, sparse.KindInt},
		{"#acc$", ScopeAccount, sparse.KindText},
		{"##shared", ScopeAccountGlobal, sparse.KindInt},
		{".npcvar", ScopeNPC, sparse.KindInt},
		{".@menu$", ScopeScript, sparse.KindText},
		{"'inst", ScopeInstance, sparse.KindInt},
		{"$global", ScopeGlobal, sparse.KindInt},
		{"$@temp$", ScopeGlobalTemp, sparse.KindText},
		{"_x9", ScopeCharacter, sparse.KindInt},
	}
	for _, tt := range tests {
		scope, kind, err := ParseName(tt.name)
		if err != nil {
			t.Fatalf("ParseName(%q): %v", tt.name, err)
		}
		if scope != tt.scope || kind != tt.kind {
			t.Errorf("ParseName(%q) = %s, %s; want %s, %s", tt.name, scope, kind, tt.scope, tt.kind)
		}
	}

	for _, bad := range []string{"", "$", ".@", "9lives", "a-b", "$$x", "x$$"} {
		if _, _, err := ParseName(bad); !errors.Is(err, ErrBadName) {
			t.Errorf("ParseName(%q): got %v, want ErrBadName", bad, err)
		}
	}
}

func TestContextRef(t *testing.T) {
	ctx := Context{Char: 150000, Account: 2000000, NPC: 42, Script: 7, Instance: 3}
	tests := []struct {
		scope Scope
		owner int64
	}{
		{ScopeCharacter, 150000},
		{ScopeCharTemp, 150000},
		{ScopeAccount, 2000000},
		{ScopeAccountGlobal, 2000000},
		{ScopeNPC, 42},
		{ScopeScript, 7},
		{ScopeInstance, 3},
		{ScopeGlobal, 0},
		{ScopeGlobalTemp, 0},
	}
	for _, tt := range tests {
		if got := ctx.Ref(tt.scope); got.Owner != tt.owner || got.Scope != tt.scope {
			t.Errorf("Ref(%s) = %+v, want owner %d", tt.scope, got, tt.owner)
		}
		ref := Ref{Scope: tt.scope, Owner: tt.owner}
		if back := ref.Context().Ref(tt.scope); back != ref {
			t.Errorf("Ref(%s).Context() resolves to %+v", tt.scope, back)
		}
	}
}

func TestScopeRoundTrip(t *testing.T) {
	for s := ScopeCharacter; s <= ScopeGlobalTemp; s++ {
		got, err := ParseScope(s.String())
		if err != nil || got != s {
			t.Errorf("ParseScope(%q) = %v, %v", s.String(), got, err)
		}
	}
	if Scope(99).String() != "unknown" {
		t.Error("out of range scope should be unknown")
	}
}

func TestRegistryFind(t *testing.T) {
	r := NewRegistry(nil)
	ctx := Context{Script: 1}
	for idx, v := range map[uint32]int64{0: 10, 2: 20, 5: 20} {
		if err := r.Set(ctx, ".@list", idx, sparse.Int(v)); err != nil {
			t.Fatal(err)
		}
	}
	got, err := r.Find(ctx, ".@list", 0, sparse.Int(20), false, false)
	if err != nil || got != 2 {
		t.Errorf("Find = %d, %v; want 2", got, err)
	}
	got, _ = r.Find(ctx, ".@list", 0, sparse.Int(20), true, false)
	if got != 5 {
		t.Errorf("reverse Find = %d, want 5", got)
	}

	// A different script invocation sees its own namespace.
	got, _ = r.Find(Context{Script: 2}, ".@list", 0, sparse.Int(20), false, false)
	if got != sparse.NotFound {
		t.Errorf("Find in other script = %d, want NotFound", got)
	}
}

func TestRegistryMissingArrayIsEmpty(t *testing.T) {
	r := NewRegistry(nil)
	ctx := Context{Char: 1}
	if err := r.Set(ctx, "other", 0, sparse.Int(1)); err != nil {
		t.Fatal(err)
	}
	arrays, slots := r.Stats()

	if idx, err := r.Find(ctx, "nothing", 0, sparse.Int(1), false, false); idx != sparse.NotFound || err != nil {
		t.Errorf("Find = %d, %v", idx, err)
	}
	if n, err := r.Count(ctx, "nothing", 0, sparse.Int(1), true); n != 0 || err != nil {
		t.Errorf("Count = %d, %v", n, err)
	}
	if n, err := r.Remove(ctx, "nothing", 0, sparse.Int(1), true); n != 0 || err != nil {
		t.Errorf("Remove = %d, %v", n, err)
	}
	if n, err := r.Replace(ctx, "nothing", 0, sparse.Int(1), sparse.Int(2), true); n != 0 || err != nil {
		t.Errorf("Replace = %d, %v", n, err)
	}
	v, ok, err := r.Pop(ctx, "nothing$", 0, true)
	if ok || err != nil || v.Kind != sparse.KindText || v.Str != "" {
		t.Errorf("Pop = %+v, %v, %v", v, ok, err)
	}
	v, ok, _ = r.Shift(ctx, "nothing", 0, true)
	if ok || v.Kind != sparse.KindInt || v.Int != 0 {
		t.Errorf("Shift = %+v, %v", v, ok)
	}
	if n, _ := r.Entries(ctx, "nothing", 0); n != 0 {
		t.Errorf("Entries = %d", n)
	}

	a2, s2 := r.Stats()
	if a2 != arrays || s2 != slots {
		t.Errorf("stats changed: %d/%d -> %d/%d", arrays, slots, a2, s2)
	}
	if a, _ := r.Lookup(ctx, "nothing"); a != nil {
		t.Error("lookup created an array")
	}
}

func TestRegistryKindMismatch(t *testing.T) {
	r := NewRegistry(nil)
	ctx := Context{}
	if err := r.Set(ctx, "$names$", 0, sparse.Int(1)); !errors.Is(err, sparse.ErrKindMismatch) {
		t.Errorf("Set int into text array: %v", err)
	}
	if _, err := r.Find(ctx, "$names$", 0, sparse.Int(1), false, false); !errors.Is(err, sparse.ErrKindMismatch) {
		t.Errorf("Find int needle in missing text array: %v", err)
	}
	if _, err := r.Count(ctx, "$count", 0, sparse.Text("x"), false); !errors.Is(err, sparse.ErrKindMismatch) {
		t.Errorf("Count text needle in int array: %v", err)
	}
	if _, err := r.Find(ctx, "bad-name", 0, sparse.Int(1), false, false); !errors.Is(err, ErrBadName) {
		t.Errorf("bad name: %v", err)
	}
}

func TestRegistryDropsEmptyArrays(t *testing.T) {
	r := NewRegistry(nil)
	ctx := Context{Char: 5}
	r.Set(ctx, "q", 3, sparse.Int(1))
	if _, ok, _ := r.Pop(ctx, "q", 0, true); !ok {
		t.Fatal("expected pop")
	}
	if a, _ := r.Lookup(ctx, "q"); a != nil {
		t.Error("empty array kept alive")
	}
	if n, _ := r.Stats(); n != 0 {
		t.Errorf("Stats arrays = %d, want 0", n)
	}
}

func TestRegistryClearScope(t *testing.T) {
	r := NewRegistry(nil)
	a := Context{Char: 1, Script: 10}
	b := Context{Char: 2, Script: 11}
	r.Set(a, ".@x", 0, sparse.Int(1))
	r.Set(a, ".@y$", 4, sparse.Text("y"))
	r.Set(a, "keep", 0, sparse.Int(1))
	r.Set(b, ".@x", 0, sparse.Int(1))

	if err := r.ClearScope(a.Ref(ScopeScript)); err != nil {
		t.Fatal(err)
	}
	if arr, _ := r.Lookup(a, ".@x"); arr != nil {
		t.Error("script scope not cleared")
	}
	if arr, _ := r.Lookup(a, "keep"); arr == nil {
		t.Error("character scope cleared")
	}
	if arr, _ := r.Lookup(b, ".@x"); arr == nil {
		t.Error("other script cleared")
	}
}

type recorder struct {
	mu  sync.Mutex
	evs []events.Event
}

func (r *recorder) Receive(ev events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.evs = append(r.evs, ev)
}

func (r *recorder) Closed() bool { return false }

func TestRegistryEmitsEvents(t *testing.T) {
	bus := events.NewBus()
	rec := &recorder{}
	ctx := Context{Char: 9, Account: 9, NPC: 9}
	bus.Subscribe(ctx.Ref(ScopeCharacter).Topic(), rec)
	r := NewRegistry(nil, WithBus(bus))

	// Same id, other scopes: not on this topic.
	r.Set(ctx, "#acct", 0, sparse.Int(1))
	r.Set(ctx, ".npc", 0, sparse.Int(1))
	r.Set(ctx, "@c", 0, sparse.Int(1))

	r.Set(ctx, "l", 0, sparse.Int(5))
	r.Set(ctx, "l", 1, sparse.Int(5))
	r.Set(ctx, "l", 2, sparse.Int(9))
	r.Remove(ctx, "l", 0, sparse.Int(5), false)
	r.Count(ctx, "l", 0, sparse.Int(9), false)
	r.Shift(ctx, "l", 0, true)

	want := []events.EventType{events.EvSet, events.EvSet, events.EvSet, events.EvRemove, events.EvShift}
	if len(rec.evs) != len(want) {
		t.Fatalf("got %d events, want %d: %+v", len(rec.evs), len(want), rec.evs)
	}
	for i, typ := range want {
		if rec.evs[i].Type != typ {
			t.Errorf("event %d = %s, want %s", i, rec.evs[i].Type, typ)
		}
	}
	if rec.evs[3].Count != 2 {
		t.Errorf("remove count = %d, want 2", rec.evs[3].Count)
	}
	if rec.evs[4].Value != "9" || rec.evs[4].Scope != "character" {
		t.Errorf("shift event = %+v", rec.evs[4])
	}
}

// countingBackend records which keys reach the persistent backend.
type countingBackend struct {
	MemBackend
	opened []Key
}

func (c *countingBackend) Open(k Key, kind sparse.Kind) (sparse.Backing, []uint32, error) {
	c.opened = append(c.opened, k)
	return c.MemBackend.Open(k, kind)
}

func TestRegistryTempScopesStayInMemory(t *testing.T) {
	be := &countingBackend{}
	r := NewRegistry(be)
	ctx := Context{Char: 1, Script: 1}
	r.Set(ctx, ".@tmp", 0, sparse.Int(1))
	r.Set(ctx, "@tmp", 0, sparse.Int(1))
	r.Set(ctx, "$@tmp", 0, sparse.Int(1))
	r.Set(ctx, "perm", 0, sparse.Int(1))
	r.Set(ctx, "$perm$", 0, sparse.Text("x"))

	if len(be.opened) != 2 {
		t.Fatalf("persistent backend opened %v, want 2 permanent keys", be.opened)
	}
	for _, k := range be.opened {
		if !k.Scope.Permanent() {
			t.Errorf("temporary key %s reached the backend", k)
		}
	}
}

func TestRegistryCompactionOption(t *testing.T) {
	r := NewRegistry(nil, WithCompaction(sparse.CompactSlots))
	ctx := Context{}
	for idx, v := range map[uint32]int64{0: 1, 3: 2, 7: 3} {
		r.Set(ctx, "$q", idx, sparse.Int(v))
	}
	r.Shift(ctx, "$q", 0, true)
	got, _ := r.SortedIndices(ctx, "$q", false)
	if len(got) != 2 || got[0] != 0 || got[1] != 3 {
		t.Errorf("indices after slot shift = %v, want [0 3]", got)
	}
}

func TestRegistryConfigureAffectsNewArrays(t *testing.T) {
	r := NewRegistry(nil)
	ctx := Context{}
	r.Set(ctx, "$old", 0, sparse.Int(1))
	r.Configure(WithMaxIndex(10))

	if err := r.Set(ctx, "$new", 11, sparse.Int(1)); !errors.Is(err, sparse.ErrIndexRange) {
		t.Errorf("Set above new limit: %v, want ErrIndexRange", err)
	}
	if err := r.Set(ctx, "$old", 11, sparse.Int(1)); err != nil {
		t.Errorf("existing array picked up new limit: %v", err)
	}
}
