// Package audio implements the output stage of a media player: a ring of
// format-tagged sample buffers decoupling bursty decoder output from the
// fixed cadence of an audio device, a software DSP chain (volume, dynamic
// compression, loudness normalization, channel remapping), and the policy
// that keeps the audio clock aligned with an independently driven video
// clock.
package audio

import (
	"errors"
	"math"
	"unsafe"
)

const (
	// bytesPerSample is the size of one interleaved sample. The whole
	// pipeline is 16-bit signed PCM.
	bytesPerSample = 2

	// ringSlots is the number of buffered audio segments. Each format
	// transition or flush claims one slot.
	ringSlots = 8

	// ringBufferSize is the per-slot buffer capacity: ~2 s of 8-channel
	// 16-bit PCM. 3*5*7*8 makes it divisible by every frame size up to
	// 8 channels.
	ringBufferSize = 3 * 5 * 7 * 8 * 2 * 1000

	// defaultBufferTimeMs is the buffered duration targeted before
	// playback starts when the caller configures nothing.
	defaultBufferTimeMs = 336

	// ptsTicksPerSecond is the timestamp resolution: 90 kHz, the MPEG
	// presentation clock.
	ptsTicksPerSecond = 90000

	// maxSyncSkip bounds a computed A/V skip. Anything outside this
	// window is a stale or nonsense timestamp, not a real gap.
	maxSyncSkip = 2 * ptsTicksPerSecond

	// videoBufferLead is the assumed video-side buffering (~15 frames at
	// 20 ms) subtracted when computing how far audio must skip ahead.
	videoBufferLead = 15 * 20 * 90
)

// NoPTS marks an unknown presentation timestamp.
const NoPTS = int64(math.MinInt64)

// Format tags a block of decoded samples.
type Format struct {
	SampleRate  int
	Channels    int
	Passthrough bool
	PTS         int64
}

// Errors reported by the ring manager. All are configuration or data-loss
// conditions: they never stop playback of already queued audio.
var (
	ErrUnsupportedRate     = errors.New("audio: sample rate unsupported")
	ErrUnsupportedChannels = errors.New("audio: channel count unsupported")
	ErrOutOfSlots          = errors.New("audio: out of ring buffers")
	ErrNotRunning          = errors.New("audio: pipeline not running")
)

// samplesOf reinterprets interleaved little-endian PCM bytes as int16
// samples, in place. len(p) must be sample aligned.
func samplesOf(p []byte) []int16 {
	if len(p) < bytesPerSample {
		return nil
	}
	return unsafe.Slice((*int16)(unsafe.Pointer(&p[0])), len(p)/bytesPerSample)
}

// clampSample saturates an int32 intermediate to the 16-bit signed range.
// Hard clipping is accepted behavior in this chain.
func clampSample(t int32) int16 {
	if t < math.MinInt16 {
		return math.MinInt16
	}
	if t > math.MaxInt16 {
		return math.MaxInt16
	}
	return int16(t)
}
