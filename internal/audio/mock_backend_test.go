package audio

import (
	"sync"
	"time"
)

// mockBackend is an in-memory Backend for pipeline tests. Supported formats
// and failure behavior are configurable; all writes are recorded.
type mockBackend struct {
	mu sync.Mutex

	supportedRates    map[int]bool
	supportedChannels map[int]bool

	periodFrames int
	bufferFrames int

	channels   int
	sampleRate int

	written       []byte
	writeCalls    int
	negotiations  int
	discards      int
	underrunsLeft int // inject ErrUnderrun on the next N writes
	failWrites    bool
	failNegotiate bool
	maxWriteBytes int // cap per-call writes to force short writes

	opened bool
	closed bool

	mixerVolume int
	delayFrames int
}

func newMockBackend() *mockBackend {
	return &mockBackend{
		supportedRates:    map[int]bool{44100: true, 48000: true, 192000: true},
		supportedChannels: map[int]bool{1: true, 2: true, 6: true, 8: true},
		periodFrames:      1024,
		bufferFrames:      8192,
		mixerVolume:       -1,
	}
}

func (m *mockBackend) Open(passthrough bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.opened = true
	return nil
}

func (m *mockBackend) Negotiate(sampleRate, channels int) (DeviceParams, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.negotiations++
	if m.failNegotiate || !m.supportedRates[sampleRate] || !m.supportedChannels[channels] {
		return DeviceParams{}, ErrUnsupportedChannels
	}
	m.sampleRate = sampleRate
	m.channels = channels
	return DeviceParams{
		PeriodFrames: m.periodFrames,
		BufferFrames: m.bufferFrames,
	}, nil
}

func (m *mockBackend) Wait(timeout time.Duration) (bool, error) {
	return true, nil
}

func (m *mockBackend) AvailableBytes() (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.bufferFrames * m.channels * bytesPerSample, nil
}

func (m *mockBackend) Write(p []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writeCalls++
	if m.underrunsLeft > 0 {
		m.underrunsLeft--
		return 0, ErrUnderrun
	}
	if m.failWrites {
		return 0, ErrUnsupportedRate
	}
	if m.maxWriteBytes > 0 && len(p) > m.maxWriteBytes {
		p = p[:m.maxWriteBytes]
	}
	m.written = append(m.written, p...)
	return len(p), nil
}

func (m *mockBackend) Discard() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.discards++
	return nil
}

func (m *mockBackend) DelayFrames() (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.delayFrames, nil
}

func (m *mockBackend) SetMixerVolume(volume int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mixerVolume = volume
	return nil
}

func (m *mockBackend) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *mockBackend) writtenBytes() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]byte, len(m.written))
	copy(out, m.written)
	return out
}

func (m *mockBackend) writtenLen() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.written)
}
