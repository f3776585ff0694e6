package features

import (
	"sync/atomic"
	"time"
)

// throttle state is packed into a single 64-bit word so the second
// boundary and the admission count reset together in one CAS:
//
//	bits 20..63  unix second boundary (masked to 44 bits)
//	bits  0..19  admissions this second (saturates at the mask)
//
// Packing both fields keeps the reset race-free even when the word lives
// in memory shared across forked worker processes.
const (
	throttleCountBits = 20
	throttleCountMask = (1 << throttleCountBits) - 1
	throttleSecMask   = (1 << 44) - 1
)

// SecondCounter is the storage behind a GlobalThrottle: one 64-bit word
// mutated only through Load and CompareAndSwap. Implementations may back
// it with process-shared memory so forked workers share one budget.
type SecondCounter interface {
	Load() uint64
	CompareAndSwap(old, new uint64) bool
}

// processCounter backs a throttle with an ordinary in-process atomic.
type processCounter struct {
	word atomic.Uint64
}

// NewProcessCounter returns a SecondCounter local to the current process.
func NewProcessCounter() SecondCounter {
	return &processCounter{}
}

func (c *processCounter) Load() uint64 {
	return c.word.Load()
}

func (c *processCounter) CompareAndSwap(old, new uint64) bool {
	return c.word.CompareAndSwap(old, new)
}

// GlobalThrottle is a per-second admission counter shared by every call
// site in the process (or across worker processes when backed by shared
// memory). There is no coordinator: the counter resets by CAS when a call
// first observes a new second boundary.
type GlobalThrottle struct {
	counter SecondCounter
}

// NewGlobalThrottle creates a throttle over the given counter. A nil
// counter gets an in-process one.
func NewGlobalThrottle(counter SecondCounter) *GlobalThrottle {
	if counter == nil {
		counter = NewProcessCounter()
	}
	return &GlobalThrottle{counter: counter}
}

// AdmitOne reports whether one more emission is admitted in the current
// second. A limit <= 0 means unlimited. Because the boundary and the
// count move in a single CAS, admissions in any one-second boundary never
// exceed the limit even under contention; the count saturates rather than
// wrapping when a second sees more than ~1M attempts.
func (g *GlobalThrottle) AdmitOne(now time.Time, limitPerSecond int64) bool {
	if limitPerSecond <= 0 {
		return true
	}

	sec := uint64(now.Unix()) & throttleSecMask
	for {
		old := g.counter.Load()
		if old>>throttleCountBits != sec {
			// First observation of this second: move the boundary
			// forward and reset the count to 1 in one shot.
			if g.counter.CompareAndSwap(old, sec<<throttleCountBits|1) {
				return true
			}
			continue
		}
		count := old & throttleCountMask
		if count >= uint64(limitPerSecond) || count == throttleCountMask {
			return false
		}
		if g.counter.CompareAndSwap(old, old+1) {
			return true
		}
	}
}
