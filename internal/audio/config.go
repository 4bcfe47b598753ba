package audio

import "time"

// Config centralizes the tunable values used across the audio delivery
// components. Structural constants that carry invariants (ring slot count,
// normalizer geometry, mix weights) are compile-time constants instead.
type Config struct {
	// PCMDevice is the playback device name for the ALSA backend, in
	// "hw:card,device" form. Empty selects "hw:0,0".
	PCMDevice string

	// PassthroughDevice is the device used when a slot is in passthrough
	// mode (compressed multichannel bitstreams). Empty falls back to
	// PCMDevice.
	PassthroughDevice string

	// BufferTimeMs is the target buffered duration before playback starts.
	// Zero selects the default of 336 ms: PES audio packets can be 300 ms
	// apart and a little headroom avoids immediate underrun.
	BufferTimeMs int

	// DrainWaitTimeout bounds the consumer's wait for hardware buffer
	// space on each drain iteration.
	DrainWaitTimeout time.Duration

	// MinWriteBytes is the smallest hardware capacity worth the write
	// overhead; below it the drain loop yields instead.
	MinWriteBytes int

	// FlushPollInterval and FlushPollRetries bound the busy-waits used for
	// flush completion and out-of-slots backoff.
	FlushPollInterval time.Duration
	FlushPollRetries  int

	// UnderrunRetries bounds how often a recoverable device underrun is
	// re-issued in place before the write is abandoned.
	UnderrunRetries int

	// MetricsUpdateInterval is the period of websocket metrics broadcasts.
	MetricsUpdateInterval time.Duration
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		PCMDevice:             "hw:0,0",
		BufferTimeMs:          defaultBufferTimeMs,
		DrainWaitTimeout:      24 * time.Millisecond,
		MinWriteBytes:         256,
		FlushPollInterval:     time.Millisecond,
		FlushPollRetries:      48,
		UnderrunRetries:       3,
		MetricsUpdateInterval: time.Second,
	}
}

var configInstance = DefaultConfig()

// GetConfig returns the current configuration.
func GetConfig() *Config {
	return configInstance
}

// UpdateConfig replaces the current configuration. Intended for process
// startup; running pipelines pick up timing values on their next iteration.
func UpdateConfig(cfg *Config) {
	configInstance = cfg
}
