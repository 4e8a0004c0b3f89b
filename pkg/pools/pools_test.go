package pools

import (
	"sync"
	"testing"
)

func TestBytePool_Get(t *testing.T) {
	pool := NewBytePool()

	tests := []struct {
		name string
		size int
	}{
		{"empty", 0},
		{"remove frame", 20},
		{"small set", 100},
		{"class boundary", 512},
		{"page", 3000},
		{"largest class", MaxPooled},
		{"oversized", MaxPooled + 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := pool.Get(tt.size)
			if len(b) != 0 {
				t.Errorf("Get(%d) length = %d, want 0", tt.size, len(b))
			}
			if cap(b) < tt.size {
				t.Errorf("Get(%d) capacity = %d, want >= %d", tt.size, cap(b), tt.size)
			}
		})
	}
}

func TestBytePool_PutAndReuse(t *testing.T) {
	pool := NewBytePool()

	for i := 0; i < 10; i++ {
		b := pool.Get(100)
		b = append(b, "frame"...)
		pool.Put(b)
	}

	b := pool.Get(128)
	if len(b) != 0 {
		t.Errorf("reused buffer length = %d, want 0", len(b))
	}
	if cap(b) < 128 {
		t.Errorf("reused buffer capacity = %d, want >= 128", cap(b))
	}
}

func TestBytePool_PutOddCapacity(t *testing.T) {
	pool := NewBytePool()

	// A 100-byte buffer must never be served for a 128-byte request.
	pool.Put(make([]byte, 0, 100))
	for i := 0; i < 5; i++ {
		if b := pool.Get(128); cap(b) < 128 {
			t.Fatalf("Get(128) capacity = %d", cap(b))
		}
	}

	// Too small for any class, and too big to keep.
	pool.Put(make([]byte, 0, 8))
	pool.Put(make([]byte, 0, MaxPooled+1))
}

func TestBytePool_Concurrent(t *testing.T) {
	pool := NewBytePool()

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 1000; i++ {
				size := (i*31 + g) % 5000
				b := pool.Get(size)
				if cap(b) < size {
					t.Errorf("Get(%d) capacity = %d", size, cap(b))
					return
				}
				pool.Put(append(b, byte(i)))
			}
		}(g)
	}
	wg.Wait()
}

func TestDefaultPool(t *testing.T) {
	b := GetBytes(64)
	if cap(b) < 64 {
		t.Fatalf("GetBytes(64) capacity = %d", cap(b))
	}
	PutBytes(b)
}
