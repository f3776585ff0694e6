package features

import (
	"fmt"

	"github.com/tracekit/diaglog/internal/shm"
)

// SharedCounter is a SecondCounter backed by a memory-mapped file, letting
// forked worker processes draw from one throttle budget. The throttle
// algorithm is identical to the in-process counter.
type SharedCounter struct {
	c *shm.Counter
}

// NewSharedCounter maps the counter file at path, creating it if needed.
func NewSharedCounter(path string) (*SharedCounter, error) {
	c, err := shm.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening shared counter: %w", err)
	}
	return &SharedCounter{c: c}, nil
}

// Load atomically reads the shared word.
func (s *SharedCounter) Load() uint64 {
	return s.c.Load()
}

// CompareAndSwap executes the compare-and-swap operation on the shared word.
func (s *SharedCounter) CompareAndSwap(old, new uint64) bool {
	return s.c.CompareAndSwap(old, new)
}

// Close unmaps the counter file.
func (s *SharedCounter) Close() error {
	return s.c.Close()
}
