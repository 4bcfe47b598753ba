//go:build !linux

package audio

import (
	"errors"
	"time"
)

var errALSAUnavailable = errors.New("alsa backend requires linux")

type alsaBackend struct{}

// NewALSABackend returns a stub on platforms without the kernel PCM
// interface; every operation fails. Use the oto backend instead.
func NewALSABackend() Backend {
	return &alsaBackend{}
}

func (a *alsaBackend) Open(passthrough bool) error { return errALSAUnavailable }

func (a *alsaBackend) Negotiate(sampleRate, channels int) (DeviceParams, error) {
	return DeviceParams{}, errALSAUnavailable
}

func (a *alsaBackend) Wait(timeout time.Duration) (bool, error) {
	return false, errALSAUnavailable
}

func (a *alsaBackend) AvailableBytes() (int, error) { return 0, errALSAUnavailable }

func (a *alsaBackend) Write(p []byte) (int, error) { return 0, errALSAUnavailable }

func (a *alsaBackend) Discard() error { return errALSAUnavailable }

func (a *alsaBackend) DelayFrames() (int, error) { return 0, errALSAUnavailable }

func (a *alsaBackend) SetMixerVolume(volume int) error { return errALSAUnavailable }

func (a *alsaBackend) Close() error { return nil }
