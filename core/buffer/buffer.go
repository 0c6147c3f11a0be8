// Package buffer implements the grow-on-write, shrink-on-consume byte
// buffer used as the receive and send staging area of every connection.
package buffer

import (
	"errors"

	"github.com/evnet-io/evnet/core/pools"
)

var (
	// ErrTooLarge is returned when a requested growth would exceed the
	// buffer's hard ceiling.
	ErrTooLarge = errors.New("buffer: growth beyond ceiling")
)

// DefaultCeiling is the soft growth ceiling applied when none is set.
const DefaultCeiling = 16 * 1024

// IOBuffer holds a contiguous run of pending bytes. Data occupies the
// prefix [0, Len); the remainder up to Size is writable space. Consuming
// compacts the remaining bytes back to offset 0.
type IOBuffer struct {
	buf     []byte
	length  int
	ceiling int // high-water mark; 0 means DefaultCeiling
	full    bool
}

// New returns a buffer with the given initial capacity, drawn from the
// shared byte pool.
func New(capacity int) *IOBuffer {
	if capacity <= 0 {
		capacity = 512
	}
	return &IOBuffer{buf: pools.GetBytes(capacity)}
}

// Len reports the number of valid bytes stored.
func (b *IOBuffer) Len() int { return b.length }

// Size reports the current capacity.
func (b *IOBuffer) Size() int { return len(b.buf) }

// Ceiling reports the high-water mark used for backpressure decisions.
func (b *IOBuffer) Ceiling() int {
	if b.ceiling > 0 {
		return b.ceiling
	}
	return DefaultCeiling
}

// SetCeiling overrides the high-water mark. Values below the current
// length are accepted; the flag logic copes.
func (b *IOBuffer) SetCeiling(n int) { b.ceiling = n }

// Full reports whether the buffer has crossed its high-water mark and
// has not yet drained below the low-water mark (half the ceiling).
func (b *IOBuffer) Full() bool { return b.full }

// Append copies p onto the end of the buffer, growing storage if needed.
// Growth past the ceiling is still permitted (the ceiling is advisory,
// backpressure is the caller's job) but an allocation beyond the hard
// limit of 16x the ceiling fails with ErrTooLarge.
func (b *IOBuffer) Append(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	need := b.length + len(p)
	if need > len(b.buf) {
		if err := b.GrowTo(need); err != nil {
			return 0, err
		}
	}
	copy(b.buf[b.length:], p)
	b.length = need
	b.updateWater()
	return len(p), nil
}

// AppendByte appends a single byte.
func (b *IOBuffer) AppendByte(c byte) error {
	_, err := b.Append([]byte{c})
	return err
}

// GrowTo ensures capacity of at least n bytes, preserving the stored
// prefix. Capacity is rounded up to the next power-of-two-ish pool tier.
func (b *IOBuffer) GrowTo(n int) error {
	if n > 16*b.Ceiling() {
		return ErrTooLarge
	}
	if n <= len(b.buf) {
		return nil
	}
	want := len(b.buf)
	if want == 0 {
		want = 512
	}
	for want < n {
		want *= 2
	}
	nb := pools.GetBytes(want)
	copy(nb, b.buf[:b.length])
	pools.PutBytes(b.buf)
	b.buf = nb
	return nil
}

// Consume drops an n-byte prefix and compacts the remainder to offset 0.
// Consuming more than Len is a programming error and panics.
func (b *IOBuffer) Consume(n int) {
	if n < 0 || n > b.length {
		panic("buffer: consume beyond length")
	}
	if n == 0 {
		return
	}
	copy(b.buf, b.buf[n:b.length])
	b.length -= n
	b.updateWater()
}

// Peek borrows a view of the first n stored bytes. The view aliases the
// buffer's storage and is invalidated by the next Append, Consume or
// GrowTo.
func (b *IOBuffer) Peek(n int) []byte {
	if n > b.length {
		n = b.length
	}
	return b.buf[:n]
}

// Bytes borrows a view of all stored bytes. Same aliasing rules as Peek.
func (b *IOBuffer) Bytes() []byte { return b.buf[:b.length] }

// Writable returns the spare suffix for direct kernel reads. After
// filling it the caller must Commit the byte count.
func (b *IOBuffer) Writable() []byte { return b.buf[b.length:] }

// Commit marks n bytes of the writable suffix as valid data.
func (b *IOBuffer) Commit(n int) {
	if n < 0 || b.length+n > len(b.buf) {
		panic("buffer: commit beyond capacity")
	}
	b.length += n
	b.updateWater()
}

// Reset drops all stored bytes but keeps capacity.
func (b *IOBuffer) Reset() {
	b.length = 0
	b.full = false
}

// Release returns the backing storage to the pool. The buffer must not
// be used afterwards.
func (b *IOBuffer) Release() {
	pools.PutBytes(b.buf)
	b.buf = nil
	b.length = 0
}

// Delete removes the byte range [off, off+n) from the stored data,
// shifting the tail down. Used by the chunked-transfer decoder to strip
// framing in place.
func (b *IOBuffer) Delete(off, n int) {
	if off < 0 || n < 0 || off+n > b.length {
		panic("buffer: delete out of range")
	}
	copy(b.buf[off:], b.buf[off+n:b.length])
	b.length -= n
	b.updateWater()
}

func (b *IOBuffer) updateWater() {
	hi := b.Ceiling()
	if b.length >= hi {
		b.full = true
	} else if b.full && b.length < hi/2 {
		b.full = false
	}
}
