package features

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"sync/atomic"
	"time"
)

// RotationTimeFormat is the timestamp format used for rotated log files.
// The format is sortable and includes millisecond precision to avoid
// collisions.
const RotationTimeFormat = "20060102-150405.000"

// RetentionManager periodically deletes rotated log files older than a
// configured age. It operates purely on filesystem entries matching the
// sink's naming pattern and is independent of any sink state, so it also
// reaps files left behind by crashed processes.
type RetentionManager struct {
	mu            sync.Mutex
	dir           string
	prefix        string
	maxAge        time.Duration
	sweepInterval time.Duration
	pattern       *regexp.Regexp

	sweepTicker *time.Ticker
	sweepDone   chan struct{}
	sweepWg     sync.WaitGroup

	deleted      atomic.Uint64
	errorHandler func(op, path, msg string, err error)
}

// NewRetentionManager creates a manager sweeping dir for rotated files
// named {prefix}-*. Files older than maxAge are deleted; maxAge 0
// disables the sweep. Sweep cadence below one minute is raised to one
// minute.
func NewRetentionManager(dir, prefix string, maxAge, sweepInterval time.Duration) *RetentionManager {
	if sweepInterval < time.Minute {
		sweepInterval = time.Minute
	}
	return &RetentionManager{
		dir:           dir,
		prefix:        prefix,
		maxAge:        maxAge,
		sweepInterval: sweepInterval,
		// Rotated names are {prefix}-...-{pid}.log.{timestamp}; the
		// suffix requirement keeps active files out of the sweep.
		pattern: regexp.MustCompile(fmt.Sprintf(`^%s-.*\.log\.(\d{8}-\d{6}\.\d{3})$`, regexp.QuoteMeta(prefix))),
	}
}

// SetErrorHandler installs a handler for sweep failures. Failures are
// reported and skipped, never fatal.
func (r *RetentionManager) SetErrorHandler(handler func(op, path, msg string, err error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errorHandler = handler
}

// Start launches the background sweep goroutine. It is a no-op when
// age-based retention is disabled or the sweep is already running.
func (r *RetentionManager) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sweepTicker != nil || r.maxAge == 0 {
		return
	}

	r.sweepTicker = time.NewTicker(r.sweepInterval)
	r.sweepDone = make(chan struct{})
	r.sweepWg.Add(1)
	go func() {
		defer r.sweepWg.Done()
		for {
			select {
			case <-r.sweepTicker.C:
				if err := r.Sweep(); err != nil {
					r.report("sweep", r.dir, "retention sweep failed", err)
				}
			case <-r.sweepDone:
				return
			}
		}
	}()
}

// Stop halts the background sweep and waits for it to finish.
func (r *RetentionManager) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sweepTicker == nil {
		return
	}
	r.sweepTicker.Stop()
	close(r.sweepDone)
	r.sweepWg.Wait()
	r.sweepTicker = nil
	r.sweepDone = nil
}

// Sweep deletes rotated files older than the retention age. Individual
// deletion failures (permissions, races with external rotation tools) are
// reported through the error handler and do not stop the sweep.
func (r *RetentionManager) Sweep() error {
	if r.maxAge == 0 {
		return nil
	}

	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return fmt.Errorf("reading log directory: %w", err)
	}

	cutoff := time.Now().Add(-r.maxAge)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		matches := r.pattern.FindStringSubmatch(entry.Name())
		if len(matches) != 2 {
			continue
		}

		rotatedAt, err := parseRotationTime(matches[1])
		if err != nil {
			r.report("sweep", entry.Name(), "parsing rotation timestamp", err)
			continue
		}
		if !rotatedAt.Before(cutoff) {
			continue
		}

		path := filepath.Join(r.dir, entry.Name())
		if err := os.Remove(path); err != nil {
			r.report("sweep", path, "removing expired log file", err)
			continue
		}
		r.deleted.Add(1)
	}
	return nil
}

// parseRotationTime reads a rotated file's timestamp suffix. Rotation
// formats the suffix with the local wall clock, so it is parsed in the
// same location; plain time.Parse would assume UTC and skew file ages by
// the zone offset.
func parseRotationTime(stamp string) (time.Time, error) {
	return time.ParseInLocation(RotationTimeFormat, stamp, time.Local)
}

// Deleted returns how many files the manager has removed.
func (r *RetentionManager) Deleted() uint64 {
	return r.deleted.Load()
}

func (r *RetentionManager) report(op, path, msg string, err error) {
	if r.errorHandler != nil {
		r.errorHandler(op, path, msg, err)
	}
}
