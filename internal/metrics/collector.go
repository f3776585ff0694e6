// Package metrics collects counters for the diagnostic logging core.
// Everything is atomics; tracking a decision never blocks the hot path.
package metrics

import (
	"sync"
	"sync/atomic"
)

// Drop reasons, used as keys in the per-reason drop counts.
const (
	DropLevel     = "level"
	DropRateLimit = "rate_limit"
	DropThrottle  = "throttle"
	DropSampler   = "sampler"
)

// Collector accumulates emission and suppression counters.
type Collector struct {
	emittedByLevel sync.Map // int -> *atomic.Uint64
	droppedByCause sync.Map // string -> *atomic.Uint64

	emitted       atomic.Uint64
	dropped       atomic.Uint64
	bytesWritten  atomic.Uint64
	writeFailures atomic.Uint64
	rotations     atomic.Uint64
	configApplies atomic.Uint64
	configErrors  atomic.Uint64
}

// NewCollector creates an empty collector.
func NewCollector() *Collector {
	return &Collector{}
}

// Metrics is a point-in-time snapshot of the collector. RetentionDeletes
// is not tracked here; the owner of the retention sweep fills it in.
type Metrics struct {
	Emitted          uint64            `json:"emitted"`
	EmittedByLevel   map[int]uint64    `json:"emitted_by_level"`
	Dropped          uint64            `json:"dropped"`
	DroppedByCause   map[string]uint64 `json:"dropped_by_cause"`
	BytesWritten     uint64            `json:"bytes_written"`
	WriteFailures    uint64            `json:"write_failures"`
	Rotations        uint64            `json:"rotations"`
	RetentionDeletes uint64            `json:"retention_deletes"`
	ConfigApplies    uint64            `json:"config_applies"`
	ConfigErrors     uint64            `json:"config_errors"`
}

// TrackEmit records one admitted record of the given level and size.
func (c *Collector) TrackEmit(level int, bytes int) {
	c.emitted.Add(1)
	c.bytesWritten.Add(uint64(bytes))
	counter(&c.emittedByLevel, level).Add(1)
}

// TrackDrop records one suppressed record by cause. Dropping is a normal
// outcome of level gating, rate limiting, throttling and sampling, not an
// error.
func (c *Collector) TrackDrop(cause string) {
	c.dropped.Add(1)
	counter(&c.droppedByCause, cause).Add(1)
}

// TrackWriteFailure records a failed sink write.
func (c *Collector) TrackWriteFailure() {
	c.writeFailures.Add(1)
}

// TrackRotation records a completed sink rotation.
func (c *Collector) TrackRotation() {
	c.rotations.Add(1)
}

// TrackConfigApply records a successful reconfiguration.
func (c *Collector) TrackConfigApply() {
	c.configApplies.Add(1)
}

// TrackConfigError records a rejected reconfiguration attempt.
func (c *Collector) TrackConfigError() {
	c.configErrors.Add(1)
}

// Snapshot returns the current counter values.
func (c *Collector) Snapshot() Metrics {
	m := Metrics{
		Emitted:        c.emitted.Load(),
		EmittedByLevel: make(map[int]uint64),
		Dropped:        c.dropped.Load(),
		DroppedByCause: make(map[string]uint64),
		BytesWritten:   c.bytesWritten.Load(),
		WriteFailures:  c.writeFailures.Load(),
		Rotations:      c.rotations.Load(),
		ConfigApplies:  c.configApplies.Load(),
		ConfigErrors:   c.configErrors.Load(),
	}
	c.emittedByLevel.Range(func(k, v any) bool {
		m.EmittedByLevel[k.(int)] = v.(*atomic.Uint64).Load()
		return true
	})
	c.droppedByCause.Range(func(k, v any) bool {
		m.DroppedByCause[k.(string)] = v.(*atomic.Uint64).Load()
		return true
	})
	return m
}

func counter(m *sync.Map, key any) *atomic.Uint64 {
	if v, ok := m.Load(key); ok {
		return v.(*atomic.Uint64)
	}
	v, _ := m.LoadOrStore(key, &atomic.Uint64{})
	return v.(*atomic.Uint64)
}
