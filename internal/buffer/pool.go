// Package buffer provides a pooled byte buffer for record serialization,
// keeping per-record allocations off the emission hot path.
package buffer

import (
	"bytes"
	"sync"
)

// defaultCapacity suits typical single-line diagnostic records.
const defaultCapacity = 512

// maxPooledCapacity keeps oversized buffers out of the pool so one huge
// record does not pin memory for the process lifetime.
const maxPooledCapacity = 64 * 1024

// Pool hands out reset byte buffers for record formatting.
type Pool struct {
	pool sync.Pool
}

// NewPool creates a buffer pool.
func NewPool() *Pool {
	return &Pool{
		pool: sync.Pool{
			New: func() interface{} {
				return bytes.NewBuffer(make([]byte, 0, defaultCapacity))
			},
		},
	}
}

// Get returns a reset buffer. Return it with Put when done.
func (p *Pool) Get() *bytes.Buffer {
	buf := p.pool.Get().(*bytes.Buffer)
	buf.Reset()
	return buf
}

// Put returns a buffer to the pool. Buffers that grew past the pooling
// cap are dropped instead.
func (p *Pool) Put(buf *bytes.Buffer) {
	if buf == nil || buf.Cap() > maxPooledCapacity {
		return
	}
	p.pool.Put(buf)
}
