package audio

import "math"

// The DSP chain operates on interleaved 16-bit PCM in place. Every transform
// is saturating and total: silence, adversarial amplitudes and unsupported
// inputs degrade the signal, they never return an error.

const (
	// normWindowSamples is the analysis window of the normalizer: one
	// energy average is accumulated per this many samples.
	normWindowSamples = 4096

	// normHistorySize is the number of window averages kept. The factor
	// is only derived once the history is fully populated, so
	// normalization lags by one history's worth of signal.
	normHistorySize = 128

	// minNormalizeFactor is the lower clamp of the normalize factor
	// (per mille).
	minNormalizeFactor = 100

	// resetCompressionFactor is the neutral starting factor after a
	// compressor reset (per mille).
	resetCompressionFactor = 2000
)

// amplify scales samples by gain/1000 with saturation. A muted or zero-gain
// block becomes hard silence.
func amplify(samples []int16, gain int, mute bool) {
	if mute || gain == 0 {
		for i := range samples {
			samples[i] = 0
		}
		return
	}
	for i, s := range samples {
		samples[i] = clampSample(int32(s) * int32(gain) / 1000)
	}
}

// compressor tracks the block peak and applies a smoothed gain factor that
// never exceeds what the instantaneous peak allows, so smoothing cannot
// re-introduce clipping.
type compressor struct {
	factor    int // applied factor, per mille
	maxFactor int
}

func (c *compressor) reset() {
	c.factor = resetCompressionFactor
	if c.factor > c.maxFactor {
		c.factor = c.maxFactor
	}
}

func (c *compressor) apply(samples []int16) {
	maxSample := int32(0)
	for _, s := range samples {
		t := int32(s)
		if t < 0 {
			t = -t
		}
		if t > maxSample {
			maxSample = t
		}
	}
	if maxSample == 0 {
		return // silence, nothing to do
	}

	candidate := int(math.MaxInt16 * 1000 / maxSample)
	c.factor = (c.factor*950 + candidate*50) / 1000
	if c.factor > candidate {
		c.factor = candidate // no clipping
	}
	if c.factor > c.maxFactor {
		c.factor = c.maxFactor
	}

	for i, s := range samples {
		samples[i] = clampSample(int32(s) * int32(c.factor) / 1000)
	}
}

// normalizer maintains a circular history of per-window energy averages and
// derives a long-run gain factor from them. The factor applied to a block is
// the one computed before that block's windows completed.
type normalizer struct {
	average   [normHistorySize]uint32
	index     int
	ready     int
	counter   int
	factor    int // per mille
	maxFactor int
}

func (n *normalizer) reset() {
	n.counter = 0
	n.ready = 0
	n.index = 0
	for i := range n.average {
		n.average[i] = 0
	}
	n.factor = 1000
}

func (n *normalizer) apply(samples []int16) {
	// accumulate window energy averages
	data := samples
	for len(data) > 0 {
		chunk := len(data)
		if n.counter+chunk > normWindowSamples {
			chunk = normWindowSamples - n.counter
		}
		avg := n.average[n.index]
		for _, s := range data[:chunk] {
			t := int32(s)
			avg += uint32(t * t / normWindowSamples)
		}
		n.average[n.index] = avg
		n.counter += chunk

		if n.counter >= normWindowSamples {
			if n.ready < normHistorySize {
				n.ready++
			} else {
				var sum uint32
				for _, a := range n.average {
					sum += a / normHistorySize
				}
				if sum > 0 {
					factor := int((math.MaxInt16 / 8 * 1000) / uint32(math.Sqrt(float64(sum))))
					n.factor = (n.factor*500 + factor*500) / 1000
					if n.factor < minNormalizeFactor {
						n.factor = minNormalizeFactor
					}
					if n.factor > n.maxFactor {
						n.factor = n.maxFactor
					}
				}
			}
			n.index = (n.index + 1) % normHistorySize
			n.counter = 0
			n.average[n.index] = 0
		}
		data = data[chunk:]
	}

	// apply the pre-update factor
	for i, s := range samples {
		samples[i] = clampSample(int32(s) * int32(n.factor) / 1000)
	}
}
