package audio

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSampleBufferWriteRead(t *testing.T) {
	sb := NewSampleBuffer(64)
	assert.Equal(t, 64, sb.Capacity())
	assert.Equal(t, 0, sb.UsedBytes())
	assert.Equal(t, 64, sb.FreeBytes())

	data := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	n := sb.Write(data)
	require.Equal(t, len(data), n)
	assert.Equal(t, 8, sb.UsedBytes())
	assert.Equal(t, 56, sb.FreeBytes())

	run := sb.ReadPointer()
	require.Len(t, run, 8)
	assert.True(t, bytes.Equal(data, run))

	sb.AdvanceRead(8)
	assert.Equal(t, 0, sb.UsedBytes())
	assert.Empty(t, sb.ReadPointer())
}

func TestSampleBufferPartialWrite(t *testing.T) {
	sb := NewSampleBuffer(16)

	n := sb.Write(make([]byte, 10))
	require.Equal(t, 10, n)

	// only 6 bytes of space left; excess is rejected, not blocked on
	n = sb.Write(make([]byte, 10))
	assert.Equal(t, 6, n)
	assert.Equal(t, 16, sb.UsedBytes())
	assert.Equal(t, 0, sb.FreeBytes())

	n = sb.Write([]byte{1})
	assert.Equal(t, 0, n)
}

func TestSampleBufferWraparound(t *testing.T) {
	sb := NewSampleBuffer(16)

	sb.Write(make([]byte, 12))
	sb.AdvanceRead(12)

	payload := []byte{9, 8, 7, 6, 5, 4, 3, 2}
	n := sb.Write(payload)
	require.Equal(t, 8, n)

	// first run ends at the physical buffer end
	run := sb.ReadPointer()
	require.Len(t, run, 4)
	assert.True(t, bytes.Equal(payload[:4], run))
	sb.AdvanceRead(4)

	// second run is the wrapped remainder
	run = sb.ReadPointer()
	require.Len(t, run, 4)
	assert.True(t, bytes.Equal(payload[4:], run))
	sb.AdvanceRead(4)

	assert.Equal(t, 0, sb.UsedBytes())
}

func TestSampleBufferReset(t *testing.T) {
	sb := NewSampleBuffer(32)
	sb.Write(make([]byte, 20))
	require.Equal(t, 20, sb.UsedBytes())

	sb.Reset()
	assert.Equal(t, 0, sb.UsedBytes())
	assert.Equal(t, 32, sb.FreeBytes())

	// reset is idempotent
	sb.Reset()
	assert.Equal(t, 0, sb.UsedBytes())

	// still usable afterwards
	n := sb.Write([]byte{1, 2, 3})
	assert.Equal(t, 3, n)
	assert.Equal(t, 3, sb.UsedBytes())
}

func TestSampleBufferManyCycles(t *testing.T) {
	// cursors are monotonic; capacity must hold over many wrap cycles
	sb := NewSampleBuffer(8)
	chunk := []byte{1, 2, 3, 4, 5}

	for i := 0; i < 1000; i++ {
		n := sb.Write(chunk)
		require.Equal(t, len(chunk), n, "cycle %d", i)
		got := 0
		for got < len(chunk) {
			run := sb.ReadPointer()
			require.NotEmpty(t, run, "cycle %d", i)
			got += len(run)
			sb.AdvanceRead(len(run))
		}
		require.Equal(t, 0, sb.UsedBytes(), "cycle %d", i)
	}
}
