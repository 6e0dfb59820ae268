package optimize

import (
	"testing"
)

func TestBytePool(t *testing.T) {
	pool := NewBytePool(MTU)

	buf := pool.Get()
	if len(buf) != MTU {
		t.Errorf("expected buffer size %d, got %d", MTU, len(buf))
	}

	pool.Put(buf[:10])

	buf2 := pool.Get()
	if len(buf2) != MTU {
		t.Errorf("expected buffer size %d, got %d", MTU, len(buf2))
	}
}

func TestBytePool_DropsSmallSlices(t *testing.T) {
	pool := NewBytePool(64)
	pool.Put(make([]byte, 8))

	for i := 0; i < 4; i++ {
		if got := len(pool.Get()); got != 64 {
			t.Fatalf("expected buffer size 64, got %d", got)
		}
	}
}
