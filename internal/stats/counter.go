package stats

import (
	"sort"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/atomic"
)

// Well known counters maintained by the write benchmark.
const (
	RowsWritten       = "rows_written"
	BytesWritten      = "bytes_written"
	BatchesWritten    = "batches_written"
	WriteErrors       = "write_errors"
	RateLimiterTokens = "rate_limiter_tokens"
)

// Namespace prefixes every metric exported to Prometheus.
const Namespace = "dkvbench"

// Counter is a named, monotonically increasing 64-bit value. It is
// safe for concurrent increments and can be sampled at any time.
type Counter struct {
	name string
	val  atomic.Uint64
}

// Name returns the name under which the counter is registered.
func (c *Counter) Name() string {
	return c.name
}

// Inc increments the counter by one and returns the new value.
func (c *Counter) Inc() uint64 {
	return c.val.Inc()
}

// Add increments the counter by n and returns the new value.
func (c *Counter) Add(n uint64) uint64 {
	return c.val.Add(n)
}

// Get returns the current value.
func (c *Counter) Get() uint64 {
	return c.val.Load()
}

// Registry holds named counters. Counters are created on first
// use and live for as long as the registry does. A Registry is
// also a prometheus.Collector exporting every counter it holds.
type Registry struct {
	mu       sync.RWMutex
	counters map[string]*Counter
}

// Default is the process wide registry.
var Default = NewRegistry()

// NewRegistry creates an empty counter registry.
func NewRegistry() *Registry {
	return &Registry{counters: make(map[string]*Counter)}
}

// Counter returns the counter registered under the given
// name, creating it if needed.
func (r *Registry) Counter(name string) *Counter {
	r.mu.RLock()
	ctr, ok := r.counters[name]
	r.mu.RUnlock()
	if ok {
		return ctr
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if ctr, ok = r.counters[name]; !ok {
		ctr = &Counter{name: name}
		r.counters[name] = ctr
	}
	return ctr
}

// Names returns the sorted names of all registered counters.
func (r *Registry) Names() []string {
	r.mu.RLock()
	names := make([]string, 0, len(r.counters))
	for name := range r.counters {
		names = append(names, name)
	}
	r.mu.RUnlock()
	sort.Strings(names)
	return names
}

// Snapshot samples every counter. Values are read individually
// so the snapshot is not a consistent cut across counters.
func (r *Registry) Snapshot() map[string]uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	snap := make(map[string]uint64, len(r.counters))
	for name, ctr := range r.counters {
		snap[name] = ctr.Get()
	}
	return snap
}

// Describe sends no descriptors since counters are created lazily,
// which makes the registry an unchecked collector.
func (r *Registry) Describe(_ chan<- *prometheus.Desc) {}

// Collect exports every counter as <namespace>_<name>_total.
func (r *Registry) Collect(ch chan<- prometheus.Metric) {
	for name, val := range r.Snapshot() {
		desc := prometheus.NewDesc(
			prometheus.BuildFQName(Namespace, "", name+"_total"),
			"Number of "+name+" recorded by the benchmark.",
			nil, nil,
		)
		ch <- prometheus.MustNewConstMetric(desc, prometheus.CounterValue, float64(val))
	}
}
