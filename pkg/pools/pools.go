// Package pools recycles frame buffers on the write path.
package pools

import "sync"

// Size classes. A buffer is served from the smallest class that fits.
var classes = [...]int{32, 128, 512, 4096, 64 * 1024}

// MaxPooled is the largest capacity kept for reuse.
const MaxPooled = 64 * 1024

// BytePool hands out zero-length byte slices grouped by size class.
type BytePool struct {
	pools [len(classes)]sync.Pool
}

// NewBytePool creates an empty pool.
func NewBytePool() *BytePool {
	p := &BytePool{}
	for i, size := range classes {
		p.pools[i].New = func() any {
			b := make([]byte, 0, size)
			return &b
		}
	}
	return p
}

func classFor(size int) int {
	for i, c := range classes {
		if size <= c {
			return i
		}
	}
	return -1
}

// Get returns a slice of length 0 and capacity at least size.
func (p *BytePool) Get(size int) []byte {
	i := classFor(size)
	if i < 0 {
		return make([]byte, 0, size)
	}
	bp, ok := p.pools[i].Get().(*[]byte)
	if !ok || cap(*bp) < size {
		return make([]byte, 0, classes[i])
	}
	return (*bp)[:0]
}

// Put returns b for reuse. The caller must not touch b afterwards.
// Buffers above MaxPooled, or smaller than their class, are dropped.
func (p *BytePool) Put(b []byte) {
	c := cap(b)
	if c > MaxPooled {
		return
	}
	// File under the largest class the buffer can fully serve.
	i := classFor(c)
	if c < classes[i] {
		i--
	}
	if i < 0 {
		return
	}
	b = b[:0]
	p.pools[i].Put(&b)
}

var defaultPool = NewBytePool()

// GetBytes takes a buffer from the shared pool.
func GetBytes(size int) []byte {
	return defaultPool.Get(size)
}

// PutBytes returns a buffer to the shared pool.
func PutBytes(b []byte) {
	defaultPool.Put(b)
}
