package audio

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProbeSupportMatrix(t *testing.T) {
	mock := newMockBackend()
	mock.supportedChannels = map[int]bool{2: true, 6: true}
	m := probeSupportMatrix(mock)

	for u := range sampleRatesTable {
		assert.True(t, m.supported[u][2])
		assert.True(t, m.supported[u][6])
		assert.False(t, m.supported[u][1])
		assert.False(t, m.supported[u][8])
	}
}

func TestSupportMatrixFallbacks(t *testing.T) {
	tests := []struct {
		name       string
		supported  map[int]bool
		channels   int
		expectedHW int
		wantErr    error
	}{
		{"Exact Match", map[int]bool{2: true, 6: true}, 2, 2, nil},
		{"Mono Uses Stereo", map[int]bool{2: true}, 1, 2, nil},
		{"5ch Uses 5.1", map[int]bool{2: true, 6: true}, 5, 6, nil},
		{"4ch Uses 5.1", map[int]bool{2: true, 6: true}, 4, 6, nil},
		{"3ch Uses 5.1", map[int]bool{2: true, 6: true}, 3, 6, nil},
		{"7ch Uses 7.1", map[int]bool{2: true, 8: true}, 7, 8, nil},
		{"5.1 Falls To Stereo", map[int]bool{1: true, 2: true}, 6, 2, nil},
		{"5.1 Falls To Mono", map[int]bool{1: true}, 6, 1, nil},
		{"7.1 Falls To Stereo", map[int]bool{1: true, 2: true}, 8, 2, nil},
		{"7.1 Falls To Mono", map[int]bool{1: true}, 8, 1, nil},
		{"Quad Falls To Stereo", map[int]bool{2: true}, 4, 2, nil},
		{"No Path", map[int]bool{8: true}, 1, 0, ErrUnsupportedChannels},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := newMockBackend()
			mock.supportedChannels = tt.supported
			m := probeSupportMatrix(mock)

			_, hw, err := m.lookup(48000, tt.channels)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expectedHW, hw)
		})
	}
}

func TestSupportMatrixRejectsUnknownRate(t *testing.T) {
	mock := newMockBackend()
	m := probeSupportMatrix(mock)

	_, _, err := m.lookup(22050, 2)
	assert.ErrorIs(t, err, ErrUnsupportedRate)

	_, _, err = m.lookup(96000, 2)
	assert.ErrorIs(t, err, ErrUnsupportedRate)
}

func TestRequestFormatClaimsSlot(t *testing.T) {
	mock := newMockBackend()
	p := NewPipeline(mock)
	p.matrix = probeSupportMatrix(mock)

	before := p.ring.write.Load()
	err := p.RequestFormat(48000, 6, false)
	require.NoError(t, err)

	assert.Equal(t, (before+1)%ringSlots, p.ring.write.Load())
	assert.Equal(t, int32(1), p.ring.filled.Load())

	slot := p.ring.writeSlot()
	assert.Equal(t, 48000, slot.inSampleRate)
	assert.Equal(t, 6, slot.inChannels)
	assert.Equal(t, 6, slot.hwChannels)
	assert.False(t, slot.passthrough)
	assert.Equal(t, NoPTS, slot.pts.Load())
	assert.Equal(t, 0, slot.buffer.UsedBytes())
}

func TestRequestFormatRejectsUnsupported(t *testing.T) {
	mock := newMockBackend()
	mock.supportedChannels = map[int]bool{2: true}
	p := NewPipeline(mock)
	p.matrix = probeSupportMatrix(mock)

	err := p.RequestFormat(12345, 2, false)
	assert.ErrorIs(t, err, ErrUnsupportedRate)
	assert.Equal(t, int32(0), p.ring.filled.Load())

	err = p.RequestFormat(48000, 6, false)
	assert.ErrorIs(t, err, ErrUnsupportedChannels)
	assert.Equal(t, int32(0), p.ring.filled.Load())
}

func TestRequestFormatRingFull(t *testing.T) {
	mock := newMockBackend()
	p := NewPipeline(mock)
	p.matrix = probeSupportMatrix(mock)

	for i := 0; i < ringSlots; i++ {
		require.NoError(t, p.RequestFormat(48000, 2, false))
	}
	err := p.RequestFormat(44100, 2, false)
	assert.ErrorIs(t, err, ErrOutOfSlots)
	assert.Equal(t, int32(ringSlots), p.ring.filled.Load())
}

func TestFlushClaimsSlotWithOldFormat(t *testing.T) {
	mock := newMockBackend()
	p := NewPipeline(mock)
	p.matrix = probeSupportMatrix(mock)
	p.started.Store(true)

	require.NoError(t, p.RequestFormat(44100, 2, true))
	old := p.ring.writeSlot()
	old.buffer.Write(make([]byte, 1024))

	require.NoError(t, p.FlushBuffers())

	slot := p.ring.writeSlot()
	assert.True(t, slot.flushPending)
	assert.Equal(t, 0, slot.buffer.UsedBytes())
	assert.Equal(t, old.inSampleRate, slot.inSampleRate)
	assert.Equal(t, old.hwChannels, slot.hwChannels)
	assert.Equal(t, old.passthrough, slot.passthrough)
	assert.Equal(t, NoPTS, slot.pts.Load())
}

func TestFlushClearsSyncState(t *testing.T) {
	mock := newMockBackend()
	p := NewPipeline(mock)
	p.matrix = probeSupportMatrix(mock)
	p.started.Store(true)
	require.NoError(t, p.RequestFormat(48000, 2, false))

	p.mu.Lock()
	p.videoReady = true
	p.skipBytes = 4096
	p.mu.Unlock()

	require.NoError(t, p.FlushBuffers())

	p.mu.Lock()
	defer p.mu.Unlock()
	assert.False(t, p.videoReady)
	assert.Equal(t, 0, p.skipBytes)
}

func TestDoubleFlushWithOneFreeSlot(t *testing.T) {
	mock := newMockBackend()
	p := NewPipeline(mock)
	p.matrix = probeSupportMatrix(mock)
	p.started.Store(true)

	// leave exactly one free slot, no consumer to drain
	for i := 0; i < ringSlots-1; i++ {
		require.NoError(t, p.RequestFormat(48000, 2, false))
	}

	require.NoError(t, p.FlushBuffers())
	assert.Equal(t, int32(ringSlots), p.ring.filled.Load())

	// second flush finds no slot and gives up after the bounded wait
	err := p.FlushBuffers()
	assert.ErrorIs(t, err, ErrOutOfSlots)
	assert.Equal(t, int32(ringSlots), p.ring.filled.Load())
}

func TestSlotFormatHelpers(t *testing.T) {
	s := &ringSlot{hwSampleRate: 48000, hwChannels: 2}
	assert.True(t, s.valid())
	assert.Equal(t, 48000*2*bytesPerSample, s.hwBytesPerSecond())

	o := &ringSlot{hwSampleRate: 48000, hwChannels: 2}
	assert.True(t, s.sameFormat(o))
	o.hwChannels = 6
	assert.False(t, s.sameFormat(o))

	s.invalidate()
	assert.False(t, s.valid())
}
