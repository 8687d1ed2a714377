package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/crystal-mush/sparsearray/pkg/events"
	"github.com/crystal-mush/sparsearray/pkg/sparse"
	"github.com/crystal-mush/sparsearray/pkg/vars"
)

type fixedStats struct{ arrays, slots int }

func (f fixedStats) Stats() (int, int) { return f.arrays, f.slots }

func TestReceiveCountsOps(t *testing.T) {
	m := New(nil, time.Now())
	m.Receive(events.Event{Type: events.EvSet})
	m.Receive(events.Event{Type: events.EvSet})
	m.Receive(events.Event{Type: events.EvPop})
	m.Receive(events.Event{Type: events.EvRemove, Count: 3})

	if got := testutil.ToFloat64(m.opsTotal.WithLabelValues("set")); got != 2 {
		t.Errorf("set ops = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.slotsRemovedTotal); got != 4 {
		t.Errorf("slots removed = %v, want 4", got)
	}
}

func TestUpdateReadsStats(t *testing.T) {
	m := New(fixedStats{arrays: 3, slots: 11}, time.Now().Add(-time.Minute))
	m.Update()
	if got := testutil.ToFloat64(m.arrays); got != 3 {
		t.Errorf("arrays = %v, want 3", got)
	}
	if got := testutil.ToFloat64(m.slots); got != 11 {
		t.Errorf("slots = %v, want 11", got)
	}
	if got := testutil.ToFloat64(m.uptimeSeconds); got < 60 {
		t.Errorf("uptime = %v, want >= 60", got)
	}
}

func TestHandlerWithRegistry(t *testing.T) {
	bus := events.NewBus()
	reg := vars.NewRegistry(nil, vars.WithBus(bus))
	m := New(reg, time.Now())
	bus.SubscribeGlobal(m)

	ctx := vars.Context{Char: 1}
	for i := uint32(0); i < 4; i++ {
		if err := reg.Set(ctx, "list", i, sparse.Int(int64(i))); err != nil {
			t.Fatal(err)
		}
	}
	if _, _, err := reg.Shift(ctx, "list", 0, true); err != nil {
		t.Fatal(err)
	}

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	out := string(body)

	for _, want := range []string{
		`sparsearray_ops_total{op="set"} 4`,
		`sparsearray_ops_total{op="shift"} 1`,
		"sparsearray_arrays 1",
		"sparsearray_slots 3",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}
