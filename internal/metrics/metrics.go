// Package metrics is the daemon's instrumentation: unlabeled counters,
// gauges, and duration histograms collected in a named registry and
// exposed in Prometheus text format over the optional HTTP endpoint.
package metrics

import (
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

// Counter is a monotonically increasing count.
type Counter struct {
	name  string
	help  string
	value atomic.Int64
}

// Inc adds one.
func (c *Counter) Inc() { c.value.Add(1) }

// Value returns the current count.
func (c *Counter) Value() int64 { return c.value.Load() }

// Gauge is a value that moves both ways.
type Gauge struct {
	name  string
	help  string
	value atomic.Int64
}

// Set replaces the value.
func (g *Gauge) Set(v int64) { g.value.Store(v) }

// Inc adds one.
func (g *Gauge) Inc() { g.value.Add(1) }

// Dec subtracts one.
func (g *Gauge) Dec() { g.value.Add(-1) }

// Value returns the current value.
func (g *Gauge) Value() int64 { return g.value.Load() }

// Histogram tracks a distribution over fixed buckets. Observations
// land in the first bucket whose bound is >= the value; anything past
// the last bound lands in the overflow slot.
type Histogram struct {
	name    string
	help    string
	bounds  []float64
	mu      sync.Mutex
	counts  []int64 // len(bounds)+1, last is overflow
	sum     float64
	samples int64
}

// DurationBuckets suit second-scale daemon operations.
var DurationBuckets = []float64{
	0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60,
}

// Observe records one value.
func (h *Histogram) Observe(v float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sum += v
	h.samples++
	i := sort.SearchFloat64s(h.bounds, v)
	h.counts[i]++
}

// ObserveDuration records a duration in seconds.
func (h *Histogram) ObserveDuration(d time.Duration) {
	h.Observe(d.Seconds())
}

// Sum returns the sum of observed values.
func (h *Histogram) Sum() float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.sum
}

// Count returns the number of observations.
func (h *Histogram) Count() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.samples
}

// Mean returns the mean of observed values, 0 when empty.
func (h *Histogram) Mean() float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.samples == 0 {
		return 0
	}
	return h.sum / float64(h.samples)
}

// Registry holds the daemon's metrics under a common name prefix.
// Registration is idempotent: re-registering a name returns the
// existing metric.
type Registry struct {
	prefix string

	mu         sync.RWMutex
	counters   map[string]*Counter
	gauges     map[string]*Gauge
	histograms map[string]*Histogram
}

// NewRegistry creates an empty registry. Every metric name gets the
// prefix prepended with an underscore.
func NewRegistry(prefix string) *Registry {
	return &Registry{
		prefix:     prefix,
		counters:   make(map[string]*Counter),
		gauges:     make(map[string]*Gauge),
		histograms: make(map[string]*Histogram),
	}
}

func (r *Registry) fullName(name string) string {
	if r.prefix == "" {
		return name
	}
	return r.prefix + "_" + name
}

// RegisterCounter registers a counter, or returns the existing one.
func (r *Registry) RegisterCounter(name, help string) *Counter {
	r.mu.Lock()
	defer r.mu.Unlock()
	full := r.fullName(name)
	if c, ok := r.counters[full]; ok {
		return c
	}
	c := &Counter{name: full, help: help}
	r.counters[full] = c
	return c
}

// RegisterGauge registers a gauge, or returns the existing one.
func (r *Registry) RegisterGauge(name, help string) *Gauge {
	r.mu.Lock()
	defer r.mu.Unlock()
	full := r.fullName(name)
	if g, ok := r.gauges[full]; ok {
		return g
	}
	g := &Gauge{name: full, help: help}
	r.gauges[full] = g
	return g
}

// RegisterHistogram registers a histogram over the given bucket
// bounds, or returns the existing one. Nil bounds get DurationBuckets.
func (r *Registry) RegisterHistogram(name, help string, bounds []float64) *Histogram {
	r.mu.Lock()
	defer r.mu.Unlock()
	full := r.fullName(name)
	if h, ok := r.histograms[full]; ok {
		return h
	}
	if bounds == nil {
		bounds = DurationBuckets
	}
	sorted := make([]float64, len(bounds))
	copy(sorted, bounds)
	sort.Float64s(sorted)
	h := &Histogram{
		name:   full,
		help:   help,
		bounds: sorted,
		counts: make([]int64, len(sorted)+1),
	}
	r.histograms[full] = h
	return h
}

// WritePrometheus writes every metric in Prometheus text exposition
// format, sorted by name so scrapes are stable.
func (r *Registry) WritePrometheus(w io.Writer) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.counters))
	for name := range r.counters {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		c := r.counters[name]
		fmt.Fprintf(w, "# HELP %s %s\n", c.name, c.help)
		fmt.Fprintf(w, "# TYPE %s counter\n", c.name)
		fmt.Fprintf(w, "%s %d\n", c.name, c.Value())
	}

	names = names[:0]
	for name := range r.gauges {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		g := r.gauges[name]
		fmt.Fprintf(w, "# HELP %s %s\n", g.name, g.help)
		fmt.Fprintf(w, "# TYPE %s gauge\n", g.name)
		fmt.Fprintf(w, "%s %d\n", g.name, g.Value())
	}

	names = names[:0]
	for name := range r.histograms {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		h := r.histograms[name]
		h.mu.Lock()
		fmt.Fprintf(w, "# HELP %s %s\n", h.name, h.help)
		fmt.Fprintf(w, "# TYPE %s histogram\n", h.name)
		cumulative := int64(0)
		for i, bound := range h.bounds {
			cumulative += h.counts[i]
			fmt.Fprintf(w, "%s_bucket{le=%q} %d\n",
				h.name, strconv.FormatFloat(bound, 'g', -1, 64), cumulative)
		}
		cumulative += h.counts[len(h.bounds)]
		fmt.Fprintf(w, "%s_bucket{le=\"+Inf\"} %d\n", h.name, cumulative)
		fmt.Fprintf(w, "%s_sum %g\n", h.name, h.sum)
		fmt.Fprintf(w, "%s_count %d\n", h.name, h.samples)
		h.mu.Unlock()
	}

	return nil
}

// HTTPHandler serves the registry for scraping.
func (r *Registry) HTTPHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		r.WritePrometheus(w)
	})
}

var defaultRegistry = NewRegistry("keymapd")

// Default returns the process-wide registry.
func Default() *Registry {
	return defaultRegistry
}
