// Package diaglog is the control core for a tracing library's own
// diagnostic logging. It decides, per record, whether an instrumentation
// call site may emit, and where the bytes go, without flooding disks,
// serializing hot paths, or requiring a process restart to change
// verbosity.
//
// Key features:
//   - Hierarchical component-scoped levels resolved through an immutable
//     trie (deepest rule wins, fallback at the root)
//   - Per-call-site sliding-window rate limiting with exact skip counts
//   - Per-second global throttling, optionally shared across forked
//     worker processes through a memory-mapped counter
//   - Adaptive per-probe sampling with deterministic keep decisions
//   - Rotating file output with atomic descriptor swap, reference-counted
//     drain and age-based retention sweeps
//   - One-shot startup configuration dump, safe under concurrent first
//     calls
//   - Copy-on-write reconfiguration: snapshots are built off to the side
//     and published with a single atomic pointer store
//
// The hot path (level gate, limiter, throttle, sampler) uses only atomic
// operations and lock-free reads of immutable structures; the only
// blocking operation is the sink's own file I/O. Log and LogProbeEvent
// never return errors to call sites: suppression is a normal outcome and
// sink failures are counted and reported through the error handler.
//
// Basic usage:
//
//	cfg := diaglog.DefaultConfig()
//	cfg.Dir = "/var/log/tracer"
//	cfg.LevelRules = map[string]diaglog.Level{"debugging": diaglog.LevelDebug}
//
//	emitter, err := diaglog.New(cfg)
//	if err != nil {
//		// handle err
//	}
//	defer emitter.Close()
//
//	emitter.Log("debugging.probe.registry", diaglog.LevelDebug, 1, "probe attached", nil)
//	emitter.LogProbeEvent("orders/submit", true, "hit")
package diaglog
