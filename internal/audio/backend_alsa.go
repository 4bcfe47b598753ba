//go:build linux

package audio

import (
	"errors"
	"fmt"
	"syscall"
	"time"

	"github.com/gen2brain/alsa"

	"github.com/dni1337/softhdaudio/internal/logging"
	"github.com/rs/zerolog"
)

// alsaBackend drives a playback PCM through the kernel ioctl interface. One
// device handle lives for the pipeline's lifetime; Negotiate reconfigures it
// in place.
type alsaBackend struct {
	logger zerolog.Logger
	pcm    *alsa.PCM
	device string

	channels   int
	sampleRate int
}

// NewALSABackend returns a Backend writing to the configured ALSA PCM
// device.
func NewALSABackend() Backend {
	return &alsaBackend{
		logger: logging.GetDefaultLogger().With().Str("component", "audio-alsa").Logger(),
	}
}

func (a *alsaBackend) Open(passthrough bool) error {
	cfg := GetConfig()
	a.device = cfg.PCMDevice
	if passthrough && cfg.PassthroughDevice != "" {
		a.device = cfg.PassthroughDevice
	}

	// placeholder config; Negotiate sets the real one
	pcm, err := alsa.PcmOpenByName(a.device, alsa.PCM_OUT, &alsa.Config{
		Channels:    2,
		Rate:        48000,
		PeriodSize:  1024,
		PeriodCount: 4,
		Format:      alsa.SNDRV_PCM_FORMAT_S16_LE,
	})
	if err != nil {
		return fmt.Errorf("open pcm %q: %w", a.device, err)
	}
	a.pcm = pcm
	a.channels = 2
	a.sampleRate = 48000

	a.logger.Info().Str("device", a.device).Msg("pcm device opened")
	return nil
}

func (a *alsaBackend) Negotiate(sampleRate, channels int) (DeviceParams, error) {
	if a.pcm == nil {
		return DeviceParams{}, errors.New("pcm not open")
	}

	if err := a.pcm.Stop(); err != nil {
		a.logger.Debug().Err(err).Msg("stop before reconfigure failed")
	}
	err := a.pcm.SetConfig(&alsa.Config{
		Channels:    uint32(channels),
		Rate:        uint32(sampleRate),
		PeriodSize:  1024,
		PeriodCount: 4,
		Format:      alsa.SNDRV_PCM_FORMAT_S16_LE,
	})
	if err != nil {
		return DeviceParams{}, fmt.Errorf("set config %dHz %dch: %w", sampleRate, channels, err)
	}
	if got := int(a.pcm.Rate()); got != sampleRate {
		// driver rounded to the nearest rate it supports
		return DeviceParams{}, fmt.Errorf("rate %d not supported, device offers %d", sampleRate, got)
	}
	if got := int(a.pcm.Channels()); got != channels {
		return DeviceParams{}, fmt.Errorf("%d channels not supported, device offers %d", channels, got)
	}
	if err := a.pcm.Prepare(); err != nil {
		return DeviceParams{}, fmt.Errorf("prepare: %w", err)
	}

	a.channels = channels
	a.sampleRate = sampleRate
	return DeviceParams{
		PeriodFrames: int(a.pcm.PeriodSize()),
		BufferFrames: int(a.pcm.BufferSize()),
	}, nil
}

func (a *alsaBackend) Wait(timeout time.Duration) (bool, error) {
	ready, err := a.pcm.Wait(int(timeout.Milliseconds()))
	if err != nil {
		if errors.Is(err, syscall.EPIPE) {
			if perr := a.pcm.Prepare(); perr != nil {
				return false, fmt.Errorf("xrun recovery: %w", perr)
			}
			return false, ErrUnderrun
		}
		return false, err
	}
	return ready, nil
}

func (a *alsaBackend) AvailableBytes() (int, error) {
	// no avail ioctl wrapper; derive writable space from the queued delay
	delay, err := a.pcm.Delay()
	if err != nil {
		if errors.Is(err, syscall.EPIPE) {
			if perr := a.pcm.Prepare(); perr != nil {
				return 0, fmt.Errorf("xrun recovery: %w", perr)
			}
			delay = 0
		} else {
			return 0, err
		}
	}
	avail := int(a.pcm.BufferSize()) - delay
	if avail < 0 {
		avail = 0
	}
	return avail * a.channels * bytesPerSample, nil
}

func (a *alsaBackend) Write(p []byte) (int, error) {
	frameBytes := a.channels * bytesPerSample
	frames := len(p) / frameBytes
	if frames == 0 {
		return 0, nil
	}
	p = p[:frames*frameBytes]

	written, err := a.pcm.Write(p)
	if err != nil {
		if errors.Is(err, syscall.EPIPE) {
			if perr := a.pcm.Prepare(); perr != nil {
				return 0, fmt.Errorf("xrun recovery: %w", perr)
			}
			return 0, ErrUnderrun
		}
		return 0, err
	}
	return written * frameBytes, nil
}

func (a *alsaBackend) Discard() error {
	if err := a.pcm.Stop(); err != nil {
		return err
	}
	return a.pcm.Prepare()
}

func (a *alsaBackend) DelayFrames() (int, error) {
	delay, err := a.pcm.Delay()
	if err != nil {
		return 0, err
	}
	return delay, nil
}

// SetMixerVolume is accepted but not applied: the kernel PCM interface used
// here has no mixer element access. Callers fall back to soft volume.
func (a *alsaBackend) SetMixerVolume(volume int) error {
	a.logger.Debug().Int("volume", volume).Msg("hardware mixer not available, use soft volume")
	return nil
}

func (a *alsaBackend) Close() error {
	if a.pcm == nil {
		return nil
	}
	err := a.pcm.Close()
	a.pcm = nil
	return err
}
