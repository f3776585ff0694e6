package buffer

import (
	"bytes"
	"strings"
	"sync"
	"testing"
)

func TestPoolReturnsResetBuffers(t *testing.T) {
	p := NewPool()

	buf := p.Get()
	buf.WriteString("leftover content")
	p.Put(buf)

	again := p.Get()
	if again.Len() != 0 {
		t.Errorf("pooled buffer not reset: %q", again.String())
	}
}

func TestPoolDropsOversizedBuffers(t *testing.T) {
	p := NewPool()

	buf := bytes.NewBuffer(make([]byte, 0, maxPooledCapacity*2))
	buf.WriteString(strings.Repeat("x", maxPooledCapacity+1))
	p.Put(buf)
	p.Put(nil)

	got := p.Get()
	if got.Cap() > maxPooledCapacity {
		t.Errorf("oversized buffer re-entered the pool: cap %d", got.Cap())
	}
}

func TestPoolConcurrentUse(t *testing.T) {
	p := NewPool()

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 1000; i++ {
				buf := p.Get()
				buf.WriteString("record line\n")
				if buf.Len() != len("record line\n") {
					t.Error("buffer reused without reset")
					p.Put(buf)
					return
				}
				p.Put(buf)
			}
		}()
	}
	wg.Wait()
}
