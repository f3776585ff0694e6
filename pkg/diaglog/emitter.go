package diaglog

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"sync/atomic"
	"time"

	"github.com/tracekit/diaglog/internal/buffer"
	"github.com/tracekit/diaglog/internal/metrics"
	"github.com/tracekit/diaglog/pkg/features"
)

// recordBuffers pools serialization buffers across all emitters.
var recordBuffers = buffer.NewPool()

// Sink receives admitted records. Implementations other than the default
// rotating file sink (pkg/backends) plug in behind this interface.
type Sink interface {
	Write(record []byte) error
	Close() error
}

// CallSiteID identifies a unique log statement. It is re-exported so
// instrumentation call sites only import this package.
type CallSiteID = features.CallSiteID

// recordTimeFormat is the line timestamp layout.
const recordTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// Emitter is the single entry point instrumentation call sites use. It
// composes level resolution, per-call-site rate limiting, global
// throttling and probe sampling, and hands admitted records to the sink.
// Log and LogProbeEvent never return errors and never block on anything
// but the sink's own bounded I/O.
type Emitter struct {
	state     ConfigState
	limiter   *features.RateLimiter
	throttle  *features.GlobalThrottle
	sampler   *features.AdaptiveProbeSampler
	sink      Sink
	rotating  *features.RotatingSink
	retention *features.RetentionManager
	announcer StartupAnnouncer
	collector *metrics.Collector

	errorHandler ErrorHandler
	startupDump  bool
	procName     string
	shared       *features.SharedCounter
	watcher      *configWatcher
	closed       atomic.Bool
}

// New creates an Emitter writing to a rotating file sink configured by
// cfg, with retention sweeping enabled when a retention age is set.
func New(cfg *Config) (*Emitter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	sink, err := features.NewRotatingSink(features.SinkConfig{
		Dir:            cfg.Dir,
		Prefix:         cfg.Prefix,
		ProcessName:    cfg.ProcessName,
		MaxSize:        cfg.MaxSize,
		RotateInterval: time.Duration(cfg.RotateInterval),
	})
	if err != nil {
		return nil, &SinkError{Op: "open", Target: cfg.Dir, Err: err}
	}

	e, err := NewWithSink(cfg, sink)
	if err != nil {
		sink.Close()
		return nil, err
	}
	e.rotating = sink

	sink.SetErrorHandler(func(op, path, msg string, err error) {
		e.errorHandler(&SinkError{Op: op, Target: path, Err: fmt.Errorf("%s: %w", msg, err)})
	})
	sink.SetRotateCallback(func(string) {
		e.collector.TrackRotation()
	})

	if cfg.RetentionAge > 0 {
		e.retention = features.NewRetentionManager(
			cfg.Dir, cfg.Prefix,
			time.Duration(cfg.RetentionAge), time.Duration(cfg.SweepInterval),
		)
		e.retention.SetErrorHandler(func(op, path, msg string, err error) {
			e.errorHandler(&SinkError{Op: op, Target: path, Err: fmt.Errorf("%s: %w", msg, err)})
		})
		e.retention.Start()
	}

	return e, nil
}

// NewWithSink creates an Emitter over a caller-supplied sink. Rotation
// and retention stay with the sink implementation in this case.
func NewWithSink(cfg *Config, sink Sink) (*Emitter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	snap, err := buildSnapshot(cfg)
	if err != nil {
		return nil, err
	}

	procName := cfg.ProcessName
	if procName == "" {
		procName = filepath.Base(os.Args[0])
	}

	e := &Emitter{
		limiter:      features.NewRateLimiter(),
		sampler:      features.NewAdaptiveProbeSampler(cfg.CaptureTargetRate, cfg.LogOnlyTargetRate),
		sink:         sink,
		collector:    metrics.NewCollector(),
		errorHandler: cfg.ErrorHandler,
		startupDump:  cfg.StartupDump,
		procName:     procName,
	}

	var counter features.SecondCounter
	if cfg.SharedCounterPath != "" {
		shared, err := features.NewSharedCounter(cfg.SharedCounterPath)
		if err != nil {
			return nil, newConfigError("shared counter", err)
		}
		e.shared = shared
		counter = shared
	}
	e.throttle = features.NewGlobalThrottle(counter)

	e.state.Apply(snap)
	e.collector.TrackConfigApply()
	return e, nil
}

// Log submits one record from an instrumentation call site. Records below
// the component's effective level return immediately without allocating;
// admitted records pass the rate limiter and the global throttle, which
// are independently configurable layers composed here. Suppression is a
// normal outcome, never an error.
func (e *Emitter) Log(path string, level Level, site CallSiteID, msg string, fields map[string]interface{}) {
	if e.closed.Load() {
		return
	}
	snap := e.state.Current()
	if level < snap.Resolve(path) {
		e.collector.TrackDrop(metrics.DropLevel)
		return
	}

	now := time.Now()
	allowed, skipped := e.limiter.Allow(site, now, snap.RateWindow)
	if !allowed {
		e.collector.TrackDrop(metrics.DropRateLimit)
		return
	}
	if !e.throttle.AdmitOne(now, snap.GlobalLimitPerSecond) {
		e.collector.TrackDrop(metrics.DropThrottle)
		return
	}

	e.emit(snap, now, path, level, msg, fields, skipped)
}

// LogProbeEvent submits one dynamic-instrumentation probe event. Events
// are gated at DEBUG under the probe's component path, then sampled
// against the probe's class budget.
func (e *Emitter) LogProbeEvent(probeID string, hasCapture bool, msg string) {
	if e.closed.Load() {
		return
	}
	snap := e.state.Current()
	path := "probe." + probeID
	if LevelDebug < snap.Resolve(path) {
		e.collector.TrackDrop(metrics.DropLevel)
		return
	}
	if !e.sampler.ShouldSample(probeID, hasCapture) {
		e.collector.TrackDrop(metrics.DropSampler)
		return
	}

	fields := map[string]interface{}{"probe": probeID, "capture": hasCapture}
	e.emit(snap, time.Now(), path, LevelDebug, msg, fields, 0)
}

// RemoveProbe tears down the sampling budget for a removed probe.
func (e *Emitter) RemoveProbe(probeID string) {
	e.sampler.RemoveProbe(probeID)
}

// Reconfigure builds and atomically applies a new snapshot. On failure
// the previous configuration stays active and the error is returned to
// the caller.
func (e *Emitter) Reconfigure(cfg *Config) error {
	if err := cfg.Validate(); err != nil {
		e.collector.TrackConfigError()
		return err
	}
	snap, err := buildSnapshot(cfg)
	if err != nil {
		e.collector.TrackConfigError()
		return err
	}
	e.sampler.SetTargets(cfg.CaptureTargetRate, cfg.LogOnlyTargetRate)
	e.state.Apply(snap)
	e.collector.TrackConfigApply()
	return nil
}

// Current returns the active configuration snapshot.
func (e *Emitter) Current() *Snapshot {
	return e.state.Current()
}

// Metrics returns a snapshot of the emitter's counters, merged with the
// retention sweep's delete count when one is running. Write failures are
// counted by the collector alone; the file sink keeps its own counter for
// standalone use, but every emit-path failure already reaches the
// collector, so summing both would report each failure twice.
func (e *Emitter) Metrics() metrics.Metrics {
	m := e.collector.Snapshot()
	if e.retention != nil {
		m.RetentionDeletes = e.retention.Deleted()
	}
	return m
}

// Close stops background work and closes the sink. Records submitted
// after Close are dropped.
func (e *Emitter) Close() error {
	if !e.closed.CompareAndSwap(false, true) {
		return nil
	}
	if e.watcher != nil {
		e.watcher.stop()
	}
	if e.retention != nil {
		e.retention.Stop()
	}
	err := e.sink.Close()
	if e.shared != nil {
		if cerr := e.shared.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

// emit serializes the record and writes it, triggering the one-time
// startup announcement before the first admitted record.
func (e *Emitter) emit(snap *Snapshot, now time.Time, path string, level Level, msg string, fields map[string]interface{}, skipped int64) {
	if e.startupDump && !e.announcer.Announced() {
		rec := e.startupRecord(snap)
		if e.announcer.AnnounceOnce(rec, snap.Resolve("startup"), snap.StartupLevel, e.sink) {
			e.collector.TrackEmit(int(snap.StartupLevel), len(rec.line()))
		}
	}

	record := formatRecord(now, path, level, msg, fields, skipped)
	if err := e.sink.Write(record); err != nil {
		e.collector.TrackWriteFailure()
		e.errorHandler(&SinkError{Op: "write", Target: path, Err: err})
		return
	}
	e.collector.TrackEmit(int(level), len(record))
}

// startupRecord describes the effective configuration as a flat one-line
// structure.
func (e *Emitter) startupRecord(snap *Snapshot) StartupRecord {
	rec := StartupRecord{
		"os":            runtime.GOOS,
		"go":            runtime.Version(),
		"process":       e.procName,
		"pid":           fmt.Sprintf("%d", os.Getpid()),
		"default_level": snap.DefaultLevel.String(),
		"rate_window":   snap.RateWindow.String(),
		"global_limit":  fmt.Sprintf("%d", snap.GlobalLimitPerSecond),
		"capture_rate":  fmt.Sprintf("%g", snap.CaptureTargetRate),
		"log_only_rate": fmt.Sprintf("%g", snap.LogOnlyTargetRate),
	}
	if e.rotating != nil {
		rec["sink"] = e.rotating.Path()
	}
	return rec
}

// formatRecord assembles one plain text line: timestamp, level, component
// path, message, then sorted key=value fields. A non-zero skipped count
// is appended so suppressed volume is visible on the next admission.
func formatRecord(now time.Time, path string, level Level, msg string, fields map[string]interface{}, skipped int64) []byte {
	b := recordBuffers.Get()
	defer recordBuffers.Put(b)

	b.WriteString(now.Format(recordTimeFormat))
	b.WriteByte(' ')
	b.WriteString(level.String())
	b.WriteByte(' ')
	b.WriteString(path)
	b.WriteByte(' ')
	b.WriteString(msg)

	if len(fields) > 0 {
		keys := make([]string, 0, len(fields))
		for k := range fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(b, " %s=%v", k, fields[k])
		}
	}
	if skipped > 0 {
		fmt.Fprintf(b, " skipped=%d", skipped)
	}
	b.WriteByte('\n')

	record := make([]byte, b.Len())
	copy(record, b.Bytes())
	return record
}
