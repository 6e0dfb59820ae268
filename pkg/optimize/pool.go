package optimize

import (
	"sync"
)

// MTU is the buffer size used for RTP packets.
const MTU = 1500

// BytePool is a pool of fixed-size byte slices.
type BytePool struct {
	pool sync.Pool
	size int
}

func NewBytePool(size int) *BytePool {
	return &BytePool{
		size: size,
		pool: sync.Pool{
			New: func() any {
				b := make([]byte, size)
				return &b
			},
		},
	}
}

// Get returns a slice of the pool's size.
func (p *BytePool) Get() []byte {
	return *p.pool.Get().(*[]byte)
}

// Put returns b to the pool. Slices smaller than the pool size are dropped.
func (p *BytePool) Put(b []byte) {
	if cap(b) < p.size {
		return
	}
	b = b[:p.size]
	p.pool.Put(&b)
}
