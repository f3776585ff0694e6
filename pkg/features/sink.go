package features

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"
)

// SinkConfig configures a RotatingSink.
type SinkConfig struct {
	// Dir is the directory log files are written to.
	Dir string
	// Prefix is the leading component of every file name.
	Prefix string
	// ProcessName defaults to the base name of the running binary.
	ProcessName string
	// MaxSize rotates the active file once it exceeds this many bytes.
	// 0 disables size-based rotation.
	MaxSize int64
	// RotateInterval runs a time-based rotation check at this cadence,
	// independent of write volume. 0 disables the check.
	RotateInterval time.Duration
}

// sinkFile is one active descriptor plus its in-flight writer count.
// Writers enter and leave through the count; rotation drains it to zero
// before closing the descriptor.
type sinkFile struct {
	file    *os.File
	size    atomic.Int64
	writers atomic.Int64
}

// RotatingSink is a file-backed sink whose active descriptor is swapped
// atomically on rotation. Writes are plain appends on the current
// descriptor; a writer never observes a torn or half-rotated file.
type RotatingSink struct {
	cfg  SinkConfig
	path string

	current atomic.Pointer[sinkFile]
	lock    *flock.Flock
	closed  atomic.Bool

	rotateMu     sync.Mutex
	rotations    atomic.Uint64
	writeCount   atomic.Uint64
	failures     atomic.Uint64
	lastRotation atomic.Int64

	ticker *time.Ticker
	done   chan struct{}
	wg     sync.WaitGroup

	errorHandler func(op, path, msg string, err error)
	onRotate     func(rotatedPath string)
}

// NewRotatingSink opens the active log file named
// {prefix}-{processName}-{pid}.log under cfg.Dir and starts the
// time-based rotation check when configured.
func NewRotatingSink(cfg SinkConfig) (*RotatingSink, error) {
	if cfg.Dir == "" {
		cfg.Dir = "."
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "diag"
	}
	if cfg.ProcessName == "" {
		cfg.ProcessName = filepath.Base(os.Args[0])
	}

	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating log directory: %w", err)
	}

	path := filepath.Join(cfg.Dir, fmt.Sprintf("%s-%s-%d.log", cfg.Prefix, cfg.ProcessName, os.Getpid()))
	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening log file: %w", err)
	}

	sf := &sinkFile{file: file}
	if info, err := file.Stat(); err == nil {
		sf.size.Store(info.Size())
	}

	s := &RotatingSink{
		cfg:  cfg,
		path: path,
		lock: flock.New(path + ".lock"),
	}
	s.current.Store(sf)
	s.lastRotation.Store(time.Now().UnixNano())

	if cfg.RotateInterval > 0 {
		s.ticker = time.NewTicker(cfg.RotateInterval)
		s.done = make(chan struct{})
		s.wg.Add(1)
		go s.rotateLoop()
	}

	return s, nil
}

// Path returns the active log file path.
func (s *RotatingSink) Path() string {
	return s.path
}

// SetErrorHandler installs a handler for background failures (rotation
// checks, drains). Write errors are returned to the caller as well as
// counted.
func (s *RotatingSink) SetErrorHandler(handler func(op, path, msg string, err error)) {
	s.errorHandler = handler
}

// SetRotateCallback installs a callback invoked with the rotated file
// path after each successful rotation.
func (s *RotatingSink) SetRotateCallback(cb func(rotatedPath string)) {
	s.onRotate = cb
}

// Write appends one record to the active file. The writer holds an
// in-flight reference for the duration of the write, so a concurrent
// rotation waits for it instead of truncating the write mid-flight.
func (s *RotatingSink) Write(record []byte) error {
	if s.closed.Load() {
		return fmt.Errorf("sink is closed")
	}

	var size int64
	for {
		cur := s.current.Load()
		cur.writers.Add(1)
		if s.current.Load() != cur {
			// Lost a race with rotation; retry against the new file.
			cur.writers.Add(-1)
			continue
		}
		n, err := cur.file.Write(record)
		size = cur.size.Add(int64(n))
		cur.writers.Add(-1)
		if err != nil {
			s.failures.Add(1)
			return fmt.Errorf("writing record: %w", err)
		}
		s.writeCount.Add(1)
		break
	}

	if s.cfg.MaxSize > 0 && size >= s.cfg.MaxSize {
		if err := s.Rotate(); err != nil {
			s.reportError("rotate", s.path, "size-based rotation failed", err)
		}
	}
	return nil
}

// Rotate renames the active file to a timestamped name, publishes a fresh
// descriptor, then drains and closes the previous one. Writers that
// grabbed the old descriptor finish into the renamed file, so no byte is
// lost or duplicated across the swap. The step is serialized in-process
// by a mutex and across processes by a flock on the lock file.
func (s *RotatingSink) Rotate() error {
	s.rotateMu.Lock()
	defer s.rotateMu.Unlock()

	if s.closed.Load() {
		return fmt.Errorf("sink is closed")
	}

	cur := s.current.Load()
	if cur.size.Load() == 0 {
		// Nothing written since the last rotation.
		return nil
	}

	if err := s.lock.Lock(); err != nil {
		return fmt.Errorf("acquiring rotation lock: %w", err)
	}
	defer s.lock.Unlock()

	timestamp := time.Now().Format(RotationTimeFormat)
	rotatedPath := fmt.Sprintf("%s.%s", s.path, timestamp)
	if err := os.Rename(s.path, rotatedPath); err != nil {
		return fmt.Errorf("renaming log file: %w", err)
	}

	newFile, err := os.OpenFile(s.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("opening new log file: %w", err)
	}
	s.current.Store(&sinkFile{file: newFile})

	s.drain(cur)
	if err := cur.file.Close(); err != nil {
		s.reportError("rotate", rotatedPath, "closing rotated file", err)
	}

	s.rotations.Add(1)
	s.lastRotation.Store(time.Now().UnixNano())
	if s.onRotate != nil {
		s.onRotate(rotatedPath)
	}
	return nil
}

// drain spins until the file's in-flight writer count reaches zero. The
// wait is bounded by writers completing their single append, not by any
// external event.
func (s *RotatingSink) drain(sf *sinkFile) {
	for sf.writers.Load() > 0 {
		runtime.Gosched()
	}
}

// rotateLoop runs the time-based rotation check until Close.
func (s *RotatingSink) rotateLoop() {
	defer s.wg.Done()
	for {
		select {
		case <-s.ticker.C:
			if err := s.Rotate(); err != nil {
				s.reportError("rotate", s.path, "time-based rotation failed", err)
			}
		case <-s.done:
			return
		}
	}
}

// Rotations returns how many rotations have completed.
func (s *RotatingSink) Rotations() uint64 {
	return s.rotations.Load()
}

// WriteFailures returns how many writes have failed.
func (s *RotatingSink) WriteFailures() uint64 {
	return s.failures.Load()
}

// Close stops the rotation check, drains in-flight writers and closes the
// active descriptor.
func (s *RotatingSink) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	if s.ticker != nil {
		s.ticker.Stop()
		close(s.done)
		s.wg.Wait()
	}

	s.rotateMu.Lock()
	defer s.rotateMu.Unlock()

	cur := s.current.Load()
	s.drain(cur)
	if err := cur.file.Sync(); err != nil {
		s.reportError("close", s.path, "syncing log file", err)
	}
	return cur.file.Close()
}

func (s *RotatingSink) reportError(op, path, msg string, err error) {
	if s.errorHandler != nil {
		s.errorHandler(op, path, msg, err)
	}
}
