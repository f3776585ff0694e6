//go:build unix

// Package shm provides a single 64-bit counter word backed by a
// memory-mapped file, so forked worker processes can share one throttle
// budget. On platforms without mmap the package degrades to a plain
// in-process atomic.
package shm

import (
	"fmt"
	"os"
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/unix"
)

const wordSize = 8

// Counter is one shared 64-bit word mutated only through atomic
// operations, safe across processes that map the same file.
type Counter struct {
	data []byte
	word *uint64
}

// Open maps the counter file at path, creating it if necessary. Every
// process that opens the same path shares the same word.
func Open(path string) (*Counter, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening counter file: %w", err)
	}
	defer f.Close()

	if err := f.Truncate(wordSize); err != nil {
		return nil, fmt.Errorf("sizing counter file: %w", err)
	}

	data, err := unix.Mmap(int(f.Fd()), 0, wordSize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("mapping counter file: %w", err)
	}

	return &Counter{
		data: data,
		word: (*uint64)(unsafe.Pointer(&data[0])),
	}, nil
}

// Load atomically reads the shared word.
func (c *Counter) Load() uint64 {
	return atomic.LoadUint64(c.word)
}

// CompareAndSwap executes the compare-and-swap operation on the shared word.
func (c *Counter) CompareAndSwap(old, new uint64) bool {
	return atomic.CompareAndSwapUint64(c.word, old, new)
}

// Close unmaps the counter. The backing file is left in place for other
// processes still using it.
func (c *Counter) Close() error {
	if c.data == nil {
		return nil
	}
	data := c.data
	c.data = nil
	c.word = nil
	return unix.Munmap(data)
}
