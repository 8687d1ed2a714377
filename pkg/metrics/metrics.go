// Package metrics exports array activity as Prometheus metrics.
package metrics

import (
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/crystal-mush/sparsearray/pkg/events"
)

// StatsSource reports live array and slot counts.
type StatsSource interface {
	Stats() (arrays, slots int)
}

// Metrics holds Prometheus metric descriptors for the array registry.
// It subscribes to the event bus to count mutations.
type Metrics struct {
	source    StatsSource
	startTime time.Time
	registry  *prometheus.Registry

	opsTotal          *prometheus.CounterVec
	slotsRemovedTotal prometheus.Counter
	arrays            prometheus.Gauge
	slots             prometheus.Gauge
	uptimeSeconds     prometheus.Gauge
	memoryHeapBytes   prometheus.Gauge
	goroutines        prometheus.Gauge
}

// New creates metrics for source and registers them on a private registry.
func New(source StatsSource, startTime time.Time) *Metrics {
	m := &Metrics{
		source:    source,
		startTime: startTime,
		registry:  prometheus.NewRegistry(),
		opsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sparsearray_ops_total",
			Help: "Array mutations by operation.",
		}, []string{"op"}),
		slotsRemovedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sparsearray_slots_removed_total",
			Help: "Slots removed by unset, pop, shift, remove and clear.",
		}),
		arrays: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sparsearray_arrays",
			Help: "Number of live arrays.",
		}),
		slots: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sparsearray_slots",
			Help: "Number of occupied slots across all arrays.",
		}),
		uptimeSeconds: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sparsearray_uptime_seconds",
			Help: "Process uptime in seconds.",
		}),
		memoryHeapBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sparsearray_memory_heap_bytes",
			Help: "Go heap memory allocated in bytes.",
		}),
		goroutines: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sparsearray_goroutines",
			Help: "Number of active goroutines.",
		}),
	}

	m.registry.MustRegister(
		m.opsTotal,
		m.slotsRemovedTotal,
		m.arrays,
		m.slots,
		m.uptimeSeconds,
		m.memoryHeapBytes,
		m.goroutines,
	)

	return m
}

// Registry returns the registry the metrics are registered on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Receive counts one mutation. Implements events.Subscriber.
func (m *Metrics) Receive(ev events.Event) {
	m.opsTotal.WithLabelValues(ev.Type.String()).Inc()
	switch ev.Type {
	case events.EvUnset, events.EvPop, events.EvShift:
		m.slotsRemovedTotal.Inc()
	case events.EvRemove, events.EvClear:
		m.slotsRemovedTotal.Add(float64(ev.Count))
	}
}

// Closed implements events.Subscriber; metrics never unsubscribe.
func (m *Metrics) Closed() bool { return false }

// Update refreshes all gauge metrics from current registry state.
func (m *Metrics) Update() {
	if m.source != nil {
		arrays, slots := m.source.Stats()
		m.arrays.Set(float64(arrays))
		m.slots.Set(float64(slots))
	}

	m.uptimeSeconds.Set(time.Since(m.startTime).Seconds())

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	m.memoryHeapBytes.Set(float64(mem.HeapAlloc))
	m.goroutines.Set(float64(runtime.NumGoroutine()))
}

// Handler returns an http.Handler that updates metrics before serving them.
func (m *Metrics) Handler() http.Handler {
	h := promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.Update()
		h.ServeHTTP(w, r)
	})
}
