//go:build !unix

package shm

import "sync/atomic"

// Counter falls back to an in-process atomic on platforms without a
// usable mmap. Cross-process sharing is not available here.
type Counter struct {
	word atomic.Uint64
}

// Open returns a process-local counter; the path is ignored.
func Open(path string) (*Counter, error) {
	return &Counter{}, nil
}

// Load atomically reads the word.
func (c *Counter) Load() uint64 {
	return c.word.Load()
}

// CompareAndSwap executes the compare-and-swap operation on the word.
func (c *Counter) CompareAndSwap(old, new uint64) bool {
	return c.word.CompareAndSwap(old, new)
}

// Close releases nothing for the in-process fallback.
func (c *Counter) Close() error {
	return nil
}
