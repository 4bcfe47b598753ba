package audio

import (
	"errors"
	"time"
)

// ErrUnderrun signals a recoverable device underrun: the backend has already
// run its own recovery and the failed operation may be re-issued. Any other
// error from a backend is fatal for the active slot.
var ErrUnderrun = errors.New("audio: device underrun")

// DeviceParams describes what a format negotiation actually achieved.
type DeviceParams struct {
	PeriodFrames int // one hardware period
	BufferFrames int // total device buffer
}

// Backend is the hardware sink collaborator. Implementations own device
// state, parameter negotiation and underrun recovery; the pipeline only
// sees achieved sizes and a byte-oriented write.
//
// The pipeline addresses the backend from the consumer goroutine, except
// for Negotiate, which the producer may also call on the rare format-change
// path.
type Backend interface {
	// Open prepares the device, selecting the passthrough device when
	// requested.
	Open(passthrough bool) error

	// Negotiate configures the device for the exact rate/channel pair.
	// An error means the combination is unsupported or the device failed;
	// the device is unusable until the next successful Negotiate.
	Negotiate(sampleRate, channels int) (DeviceParams, error)

	// Wait blocks until the device can accept more data, or the timeout
	// elapses. The bool reports readiness.
	Wait(timeout time.Duration) (bool, error)

	// AvailableBytes returns how many bytes the device can accept right
	// now without blocking.
	AvailableBytes() (int, error)

	// Write delivers interleaved 16-bit PCM and returns the bytes
	// consumed. ErrUnderrun is recoverable: re-issue the write. Other
	// errors are fatal for the current slot.
	Write(p []byte) (int, error)

	// Discard drops everything queued in the device without playing it.
	Discard() error

	// DelayFrames returns the frames buffered in the device and driver,
	// the hardware contribution to output latency.
	DelayFrames() (int, error)

	// SetMixerVolume sets the hardware mixer volume, 0..1000. Backends
	// without a mixer accept and ignore it; soft volume covers them.
	SetMixerVolume(volume int) error

	// Close releases the device.
	Close() error
}
