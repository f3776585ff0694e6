package diaglog

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// readSinkFile returns the contents of the single active log file in dir
// whose name carries the given prefix.
func readSinkFile(dir, prefix string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", err
	}
	for _, e := range entries {
		name := e.Name()
		if strings.HasPrefix(name, prefix) && strings.HasSuffix(name, ".log") {
			data, err := os.ReadFile(filepath.Join(dir, name))
			return string(data), err
		}
	}
	return "", fmt.Errorf("no log file with prefix %q in %s", prefix, dir)
}

func newTestEmitter(t *testing.T, mutate func(*Config)) (*Emitter, *memSink) {
	t.Helper()
	cfg := DefaultConfig()
	cfg.StartupDump = false
	cfg.RateWindow = 0
	cfg.ErrorHandler = SilentErrorHandler
	if mutate != nil {
		mutate(cfg)
	}
	sink := &memSink{}
	e, err := NewWithSink(cfg, sink)
	if err != nil {
		t.Fatalf("NewWithSink failed: %v", err)
	}
	t.Cleanup(func() { e.Close() })
	return e, sink
}

func TestEmitterLevelGate(t *testing.T) {
	e, sink := newTestEmitter(t, func(cfg *Config) {
		cfg.DefaultLevel = LevelWarn
		cfg.LevelRules = map[string]Level{"debugging": LevelDebug}
	})

	e.Log("storage.wal", LevelInfo, 1, "below threshold", nil)
	e.Log("storage.wal", LevelWarn, 2, "at threshold", nil)
	e.Log("debugging.probe", LevelDebug, 3, "rule opens debug", nil)

	got := sink.lines()
	if len(got) != 2 {
		t.Fatalf("emitted %d records, want 2: %v", len(got), got)
	}
	if !strings.Contains(got[0], "WARN storage.wal at threshold") {
		t.Errorf("unexpected record: %q", got[0])
	}
	if !strings.Contains(got[1], "DEBUG debugging.probe rule opens debug") {
		t.Errorf("unexpected record: %q", got[1])
	}

	m := e.Metrics()
	if m.Emitted != 2 {
		t.Errorf("Emitted = %d, want 2", m.Emitted)
	}
	if m.DroppedByCause["level"] != 1 {
		t.Errorf("level drops = %d, want 1", m.DroppedByCause["level"])
	}
}

func TestEmitterRateLimitPerCallSite(t *testing.T) {
	e, sink := newTestEmitter(t, func(cfg *Config) {
		cfg.DefaultLevel = LevelInfo
		cfg.RateWindow = Duration(time.Minute)
	})

	for i := 0; i < 10; i++ {
		e.Log("storage.wal", LevelWarn, 7, "repeated failure", nil)
	}
	// A different call site has its own window.
	e.Log("storage.wal", LevelWarn, 8, "different site", nil)

	got := sink.lines()
	if len(got) != 2 {
		t.Fatalf("emitted %d records, want 2: %v", len(got), got)
	}
	if m := e.Metrics(); m.DroppedByCause["rate_limit"] != 9 {
		t.Errorf("rate limit drops = %d, want 9", m.DroppedByCause["rate_limit"])
	}
}

func TestEmitterGlobalThrottle(t *testing.T) {
	e, sink := newTestEmitter(t, func(cfg *Config) {
		cfg.DefaultLevel = LevelInfo
		cfg.GlobalLimitPerSecond = 3
	})

	for i := 0; i < 10; i++ {
		// Distinct sites so only the global throttle applies.
		e.Log("storage.wal", LevelWarn, CallSiteID(100+i), "burst", nil)
	}

	m := e.Metrics()
	emitted := len(sink.lines())
	if uint64(10-emitted) != m.DroppedByCause["throttle"] {
		t.Errorf("emitted %d + throttled %d does not account for 10 submissions",
			emitted, m.DroppedByCause["throttle"])
	}
	// The burst can at most straddle one second boundary.
	if emitted > 6 {
		t.Errorf("emitted %d records, want at most 6", emitted)
	}
	if emitted < 3 {
		t.Errorf("emitted %d records, want at least the per-second limit of 3", emitted)
	}
}

func TestEmitterFieldsSortedAndFormatted(t *testing.T) {
	e, sink := newTestEmitter(t, func(cfg *Config) {
		cfg.DefaultLevel = LevelInfo
	})

	e.Log("tracing.span", LevelError, 1, "span failed", map[string]interface{}{
		"span_id": 99,
		"agent":   "worker-3",
	})

	got := sink.lines()
	if len(got) != 1 {
		t.Fatalf("emitted %d records, want 1", len(got))
	}
	if !strings.Contains(got[0], "ERROR tracing.span span failed agent=worker-3 span_id=99") {
		t.Errorf("record fields not sorted key=value: %q", got[0])
	}
}

func TestEmitterProbeEvents(t *testing.T) {
	e, sink := newTestEmitter(t, func(cfg *Config) {
		cfg.DefaultLevel = LevelWarn
		cfg.LevelRules = map[string]Level{"probe.hot": LevelDebug}
	})

	// Probe path defaults to WARN, which gates the DEBUG-level event.
	e.LogProbeEvent("cold", false, "gated event")
	// An explicit rule opens this probe.
	e.LogProbeEvent("hot", true, "sampled event")

	got := sink.lines()
	if len(got) != 1 {
		t.Fatalf("emitted %d records, want 1: %v", len(got), got)
	}
	if !strings.Contains(got[0], "DEBUG probe.hot sampled event capture=true probe=hot") {
		t.Errorf("unexpected probe record: %q", got[0])
	}
	if m := e.Metrics(); m.DroppedByCause["level"] != 1 {
		t.Errorf("level drops = %d, want 1", m.DroppedByCause["level"])
	}
}

func TestEmitterReconfigureSwapsLevels(t *testing.T) {
	e, sink := newTestEmitter(t, func(cfg *Config) {
		cfg.DefaultLevel = LevelError
	})

	e.Log("storage.wal", LevelInfo, 1, "before reconfigure", nil)

	cfg := DefaultConfig()
	cfg.StartupDump = false
	cfg.RateWindow = 0
	cfg.DefaultLevel = LevelInfo
	cfg.ErrorHandler = SilentErrorHandler
	if err := e.Reconfigure(cfg); err != nil {
		t.Fatalf("Reconfigure failed: %v", err)
	}

	e.Log("storage.wal", LevelInfo, 2, "after reconfigure", nil)

	got := sink.lines()
	if len(got) != 1 || !strings.Contains(got[0], "after reconfigure") {
		t.Fatalf("reconfiguration did not take effect: %v", got)
	}
	if m := e.Metrics(); m.ConfigApplies != 2 {
		t.Errorf("ConfigApplies = %d, want 2", m.ConfigApplies)
	}
}

func TestEmitterReconfigureFailureKeepsOldSnapshot(t *testing.T) {
	e, _ := newTestEmitter(t, func(cfg *Config) {
		cfg.DefaultLevel = LevelWarn
	})
	before := e.Current()

	bad := DefaultConfig()
	bad.LevelRules = map[string]Level{".broken": LevelDebug}
	if err := e.Reconfigure(bad); err == nil {
		t.Fatal("malformed rules should fail reconfiguration")
	}

	if e.Current() != before {
		t.Error("failed reconfiguration replaced the active snapshot")
	}
	if m := e.Metrics(); m.ConfigErrors != 1 {
		t.Errorf("ConfigErrors = %d, want 1", m.ConfigErrors)
	}
}

func TestEmitterStartupDumpPrecedesFirstRecord(t *testing.T) {
	e, sink := newTestEmitter(t, func(cfg *Config) {
		cfg.StartupDump = true
		cfg.DefaultLevel = LevelInfo
		cfg.StartupLevel = LevelInfo
		cfg.ProcessName = "worker"
	})

	e.Log("storage.wal", LevelWarn, 1, "first", nil)
	e.Log("storage.wal", LevelWarn, 2, "second", nil)

	got := sink.lines()
	if len(got) != 3 {
		t.Fatalf("emitted %d records, want startup + 2: %v", len(got), got)
	}
	if !strings.HasPrefix(got[0], "startup ") {
		t.Errorf("first record is not the startup dump: %q", got[0])
	}
	for _, kv := range []string{"process=worker", "default_level=INFO", "os=", "go=", "pid="} {
		if !strings.Contains(got[0], kv) {
			t.Errorf("startup dump missing %q: %q", kv, got[0])
		}
	}
}

func TestEmitterStartupDumpSuppressedByLevel(t *testing.T) {
	e, sink := newTestEmitter(t, func(cfg *Config) {
		cfg.StartupDump = true
		cfg.DefaultLevel = LevelWarn
		cfg.StartupLevel = LevelInfo
	})

	// The startup component resolves to WARN, above the INFO threshold:
	// the dump is suppressed but consumed.
	e.Log("storage.wal", LevelWarn, 1, "first", nil)

	got := sink.lines()
	if len(got) != 1 || strings.HasPrefix(got[0], "startup ") {
		t.Fatalf("suppressed startup dump still appeared: %v", got)
	}

	// Re-opening the level later must not produce a late dump.
	cfg := DefaultConfig()
	cfg.StartupDump = true
	cfg.RateWindow = 0
	cfg.DefaultLevel = LevelInfo
	cfg.ErrorHandler = SilentErrorHandler
	if err := e.Reconfigure(cfg); err != nil {
		t.Fatalf("Reconfigure failed: %v", err)
	}
	e.Log("storage.wal", LevelWarn, 2, "second", nil)
	for _, line := range sink.lines() {
		if strings.HasPrefix(line, "startup ") {
			t.Fatalf("late startup dump emitted: %q", line)
		}
	}
}

func TestEmitterWriteFailureReported(t *testing.T) {
	var reported error
	e, sink := newTestEmitter(t, func(cfg *Config) {
		cfg.DefaultLevel = LevelInfo
		cfg.ErrorHandler = func(err error) { reported = err }
	})
	sink.failing = true

	e.Log("storage.wal", LevelError, 1, "doomed", nil)

	if reported == nil {
		t.Fatal("write failure not reported to the error handler")
	}
	if !IsSinkError(reported) {
		t.Errorf("expected a sink error, got %T", reported)
	}
	if m := e.Metrics(); m.WriteFailures != 1 {
		t.Errorf("WriteFailures = %d, want 1", m.WriteFailures)
	}
}

func TestEmitterFileSinkWriteFailureCountedOnce(t *testing.T) {
	if _, err := os.Stat("/dev/full"); err != nil {
		t.Skip("/dev/full not available")
	}

	// Point the active log file at /dev/full so the append itself fails
	// with ENOSPC. The sink counts the failure and so does the collector;
	// the reported total must still be one per failed write.
	dir := t.TempDir()
	active := filepath.Join(dir, fmt.Sprintf("diag-fullsink-%d.log", os.Getpid()))
	if err := os.Symlink("/dev/full", active); err != nil {
		t.Fatalf("creating symlink: %v", err)
	}

	cfg := DefaultConfig()
	cfg.Dir = dir
	cfg.ProcessName = "fullsink"
	cfg.DefaultLevel = LevelInfo
	cfg.RateWindow = 0
	cfg.RetentionAge = 0
	cfg.RotateInterval = 0
	cfg.StartupDump = false
	cfg.ErrorHandler = SilentErrorHandler

	e, err := New(cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer e.Close()

	e.Log("storage.wal", LevelError, 1, "doomed", nil)
	e.Log("storage.wal", LevelError, 2, "doomed again", nil)

	if got := e.Metrics().WriteFailures; got != 2 {
		t.Errorf("WriteFailures = %d after 2 failed writes, want 2", got)
	}
}

func TestEmitterCloseDropsSubsequentRecords(t *testing.T) {
	e, sink := newTestEmitter(t, func(cfg *Config) {
		cfg.DefaultLevel = LevelInfo
	})

	if err := e.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if !sink.closed {
		t.Error("Close did not close the sink")
	}

	e.Log("storage.wal", LevelError, 1, "too late", nil)
	if got := len(sink.lines()); got != 0 {
		t.Errorf("record emitted after Close: %d", got)
	}
	if err := e.Close(); err != nil {
		t.Errorf("second Close failed: %v", err)
	}
}

func TestEmitterFileSinkEndToEnd(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig()
	cfg.Dir = dir
	cfg.Prefix = "trace"
	cfg.ProcessName = "e2e"
	cfg.DefaultLevel = LevelInfo
	cfg.RateWindow = 0
	cfg.RetentionAge = 0
	cfg.RotateInterval = 0
	cfg.ErrorHandler = SilentErrorHandler

	e, err := New(cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	e.Log("storage.wal", LevelWarn, 1, "to disk", nil)
	if err := e.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	data, err := readSinkFile(dir, "trace-e2e-")
	if err != nil {
		t.Fatalf("reading sink file: %v", err)
	}
	if !strings.Contains(data, "startup ") {
		t.Error("file missing startup dump")
	}
	if !strings.Contains(data, "WARN storage.wal to disk") {
		t.Errorf("file missing record: %q", data)
	}
}
