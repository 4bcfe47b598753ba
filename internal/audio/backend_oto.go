package audio

import (
	"errors"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"
	"github.com/rs/zerolog"

	"github.com/dni1337/softhdaudio/internal/logging"
)

// otoBackend plays through the portable oto mixer. Useful where no direct
// PCM access exists; latency reporting is an estimate, not a kernel value.
//
// The oto context is process-global and its format cannot change after
// creation, so only the first negotiated rate/channel pair is usable.
// Format changes afterwards fail negotiation and invalidate the slot.
type otoBackend struct {
	logger zerolog.Logger

	ctx    *oto.Context
	player *oto.Player

	mu         sync.Mutex
	staging    []byte
	sampleRate int
	channels   int
}

const otoBufferDuration = 100 * time.Millisecond

// NewOtoBackend returns a Backend backed by the portable oto mixer.
func NewOtoBackend() Backend {
	return &otoBackend{
		logger: logging.GetDefaultLogger().With().Str("component", "audio-oto").Logger(),
	}
}

func (o *otoBackend) Open(passthrough bool) error {
	if passthrough {
		return errors.New("passthrough not supported by the portable mixer")
	}
	return nil
}

func (o *otoBackend) Negotiate(sampleRate, channels int) (DeviceParams, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.ctx != nil {
		// context format is fixed for the process lifetime
		if sampleRate != o.sampleRate || channels != o.channels {
			return DeviceParams{}, errors.New("mixer format is fixed after first negotiation")
		}
	} else {
		if channels > 2 {
			return DeviceParams{}, errors.New("portable mixer supports mono and stereo only")
		}
		ctx, ready, err := oto.NewContext(&oto.NewContextOptions{
			SampleRate:   sampleRate,
			ChannelCount: channels,
			Format:       oto.FormatSignedInt16LE,
			BufferSize:   otoBufferDuration,
		})
		if err != nil {
			return DeviceParams{}, err
		}
		<-ready

		o.ctx = ctx
		o.sampleRate = sampleRate
		o.channels = channels
		o.player = ctx.NewPlayer(o)
		o.player.Play()
		o.logger.Info().
			Int("sample_rate", sampleRate).
			Int("channels", channels).
			Msg("mixer context created")
	}

	bufferFrames := sampleRate * int(otoBufferDuration/time.Millisecond) / 1000
	return DeviceParams{
		PeriodFrames: bufferFrames / 4,
		BufferFrames: bufferFrames,
	}, nil
}

// Read is the pull side consumed by the mixer. Silence when the staging
// buffer is empty; the device never starves.
func (o *otoBackend) Read(p []byte) (int, error) {
	o.mu.Lock()
	n := copy(p, o.staging)
	o.staging = o.staging[:copy(o.staging, o.staging[n:])]
	o.mu.Unlock()

	for i := n; i < len(p); i++ {
		p[i] = 0
	}
	return len(p), nil
}

func (o *otoBackend) bufferBytes() int {
	return o.sampleRate * int(otoBufferDuration/time.Millisecond) / 1000 *
		o.channels * bytesPerSample
}

func (o *otoBackend) Wait(timeout time.Duration) (bool, error) {
	o.mu.Lock()
	free := o.bufferBytes() - len(o.staging)
	o.mu.Unlock()
	if free > 0 {
		return true, nil
	}
	time.Sleep(timeout)
	return false, nil
}

func (o *otoBackend) AvailableBytes() (int, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	free := o.bufferBytes() - len(o.staging)
	if free < 0 {
		free = 0
	}
	return free, nil
}

func (o *otoBackend) Write(p []byte) (int, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	free := o.bufferBytes() - len(o.staging)
	if free <= 0 {
		return 0, nil
	}
	if len(p) > free {
		p = p[:free]
	}
	o.staging = append(o.staging, p...)
	return len(p), nil
}

func (o *otoBackend) Discard() error {
	o.mu.Lock()
	o.staging = o.staging[:0]
	o.mu.Unlock()
	return nil
}

func (o *otoBackend) DelayFrames() (int, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.channels == 0 {
		return 0, nil
	}
	return len(o.staging) / (o.channels * bytesPerSample), nil
}

// SetMixerVolume is accepted but not applied; soft volume covers this
// backend.
func (o *otoBackend) SetMixerVolume(volume int) error {
	o.logger.Debug().Int("volume", volume).Msg("hardware mixer not available, use soft volume")
	return nil
}

func (o *otoBackend) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.player != nil {
		if err := o.player.Close(); err != nil {
			return err
		}
		o.player = nil
	}
	// the oto context itself has no close
	return nil
}
