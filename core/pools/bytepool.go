// Package pools provides the shared byte-slice pool that backs
// connection buffers, and a small goroutine pool for offloading blocking
// work away from the poll loop.
package pools

import "sync"

// BytePool is a multi-tiered byte slice pool for different size classes.
type BytePool struct {
	pools []*sync.Pool
	sizes []int
}

// Buffer size tiers. The 16K tier matches the default recv ceiling; the
// 64K tier absorbs one growth step past it before falling through to
// direct allocation.
var defaultSizes = []int{
	512,
	2048,
	8192,
	16384,
	65536,
}

// NewBytePool creates a byte pool with the standard size tiers.
func NewBytePool() *BytePool {
	return NewBytePoolWithSizes(defaultSizes)
}

// NewBytePoolWithSizes creates a byte pool with custom size tiers.
func NewBytePoolWithSizes(sizes []int) *BytePool {
	bp := &BytePool{
		pools: make([]*sync.Pool, len(sizes)),
		sizes: sizes,
	}

	for i, size := range sizes {
		sz := size // capture for closure
		bp.pools[i] = &sync.Pool{
			New: func() any {
				buf := make([]byte, sz)
				return &buf
			},
		}
	}

	return bp
}

// Get returns a byte slice of at least the requested size.
func (bp *BytePool) Get(size int) []byte {
	for i, poolSize := range bp.sizes {
		if size <= poolSize {
			bufPtr := bp.pools[i].Get().(*[]byte)
			return (*bufPtr)[:poolSize]
		}
	}

	// Size too large for any tier, allocate directly.
	return make([]byte, size)
}

// Put returns a byte slice to its tier. Slices that did not come from a
// tier are left to the GC.
func (bp *BytePool) Put(buf []byte) {
	capacity := cap(buf)

	for i, poolSize := range bp.sizes {
		if capacity == poolSize {
			buf = buf[:capacity]
			bp.pools[i].Put(&buf)
			return
		}
	}
}

// Global byte pool instance shared by all managers.
var globalBytePool = NewBytePool()

// GetBytes is a convenience function using the global pool.
func GetBytes(size int) []byte {
	return globalBytePool.Get(size)
}

// PutBytes returns bytes to the global pool.
func PutBytes(buf []byte) {
	if buf == nil {
		return
	}
	globalBytePool.Put(buf)
}
