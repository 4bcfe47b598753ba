package audio

import (
	"sync/atomic"
)

// SampleBuffer is a fixed-capacity byte FIFO with separate read and write
// cursors. It is safe for one producer and one consumer without external
// locking: the cursors are monotonically increasing counters updated with
// release semantics and observed with acquire semantics, so a reader never
// sees bytes before the write that produced them is visible.
type SampleBuffer struct {
	readPos  atomic.Int64
	writePos atomic.Int64
	buf      []byte
}

// NewSampleBuffer allocates a buffer with the given capacity in bytes.
func NewSampleBuffer(capacity int) *SampleBuffer {
	return &SampleBuffer{buf: make([]byte, capacity)}
}

// Capacity returns the total capacity in bytes.
func (sb *SampleBuffer) Capacity() int {
	return len(sb.buf)
}

// UsedBytes returns the number of readable bytes.
func (sb *SampleBuffer) UsedBytes() int {
	return int(sb.writePos.Load() - sb.readPos.Load())
}

// FreeBytes returns the number of writable bytes.
func (sb *SampleBuffer) FreeBytes() int {
	return len(sb.buf) - sb.UsedBytes()
}

// Write copies as much of p as fits and returns the number of bytes stored.
// It never blocks. A short write means the buffer is full; the lost tail is
// the caller's problem to count, not to retry.
func (sb *SampleBuffer) Write(p []byte) int {
	r := sb.readPos.Load()
	w := sb.writePos.Load()

	n := len(p)
	if free := len(sb.buf) - int(w-r); n > free {
		n = free
	}
	if n <= 0 {
		return 0
	}

	off := int(w % int64(len(sb.buf)))
	run := len(sb.buf) - off
	if run > n {
		run = n
	}
	copy(sb.buf[off:off+run], p[:run])
	if run < n {
		copy(sb.buf[:n-run], p[run:n])
	}
	sb.writePos.Store(w + int64(n))
	return n
}

// ReadPointer returns a zero-copy view of the next contiguous readable run.
// The run may be shorter than UsedBytes when the data wraps around; a second
// call after AdvanceRead exposes the remainder. The returned slice is valid
// until AdvanceRead passes it.
func (sb *SampleBuffer) ReadPointer() []byte {
	r := sb.readPos.Load()
	w := sb.writePos.Load()

	avail := int(w - r)
	if avail == 0 {
		return nil
	}
	off := int(r % int64(len(sb.buf)))
	run := len(sb.buf) - off
	if run > avail {
		run = avail
	}
	return sb.buf[off : off+run]
}

// AdvanceRead consumes n bytes. n must not exceed UsedBytes.
func (sb *SampleBuffer) AdvanceRead(n int) {
	if n <= 0 {
		return
	}
	r := sb.readPos.Load()
	if avail := int(sb.writePos.Load() - r); n > avail {
		n = avail
	}
	sb.readPos.Store(r + int64(n))
}

// Reset discards all buffered content. Only the side that currently owns the
// buffer may call it (a claimed slot is invisible to the consumer). Calling
// it twice in a row is harmless.
func (sb *SampleBuffer) Reset() {
	sb.readPos.Store(sb.writePos.Load())
}
