package audio

import (
	"sync/atomic"
	"time"
)

// sampleRatesTable lists the candidate hardware sample rates, ascending.
var sampleRatesTable = [...]int{44100, 48000, 192000}

// ringSlot is one buffered audio segment with a fixed format. Slots are
// preallocated for the process lifetime; ownership cycles over the fixed
// array, driven only by the ring's two cursors.
type ringSlot struct {
	flushPending bool
	passthrough  bool
	packetSize   int // first observed frame size in bytes
	hwSampleRate int
	hwChannels   int
	inSampleRate int
	inChannels   int

	// pts is the PTS of the most recently written frame. Atomic: the
	// producer stamps it per frame while clock queries read it from
	// other goroutines.
	pts atomic.Int64

	buffer *SampleBuffer
}

// valid reports whether the slot carries a negotiated format. Fatal device
// errors invalidate a slot by zeroing the hardware fields.
func (s *ringSlot) valid() bool {
	return s.hwSampleRate != 0 && s.hwChannels != 0
}

func (s *ringSlot) invalidate() {
	s.hwSampleRate = 0
	s.inSampleRate = 0
}

// hwBytesPerSecond returns the hardware-format data rate, or 0 for an
// invalid slot.
func (s *ringSlot) hwBytesPerSecond() int {
	return s.hwSampleRate * s.hwChannels * bytesPerSample
}

func (s *ringSlot) sameFormat(o *ringSlot) bool {
	return s.passthrough == o.passthrough &&
		s.hwSampleRate == o.hwSampleRate &&
		s.hwChannels == o.hwChannels
}

// slotRing is the fixed circular array of slots. The write cursor advances
// only on format/flush requests, the read cursor only when the consumer
// exhausts a slot; filled counts the slots logically queued between them.
// The cursors are atomic so status queries from other goroutines observe a
// consistent index, but each cursor still has exactly one writer.
type slotRing struct {
	slots  [ringSlots]*ringSlot
	write  atomic.Int32
	read   atomic.Int32
	filled atomic.Int32
}

func newSlotRing() *slotRing {
	r := &slotRing{}
	for i := range r.slots {
		s := &ringSlot{buffer: NewSampleBuffer(ringBufferSize)}
		s.pts.Store(NoPTS)
		r.slots[i] = s
	}
	return r
}

func (r *slotRing) writeSlot() *ringSlot { return r.slots[r.write.Load()] }
func (r *slotRing) readSlot() *ringSlot  { return r.slots[r.read.Load()] }

// advanceWrite claims the next slot for the producer and returns it.
func (r *slotRing) advanceWrite() *ringSlot {
	w := (r.write.Load() + 1) % ringSlots
	r.write.Store(w)
	return r.slots[w]
}

// advanceRead moves the consumer to the next slot and returns it.
func (r *slotRing) advanceRead() *ringSlot {
	i := (r.read.Load() + 1) % ringSlots
	r.read.Store(i)
	return r.slots[i]
}

// supportMatrix records which rate/channel pairs the device accepts and the
// fallback hardware channel count for every input channel count. Built once
// at pipeline start, immutable afterwards.
type supportMatrix struct {
	supported     [len(sampleRatesTable)][9]bool
	channelMatrix [len(sampleRatesTable)][9]int
}

// channelFallbacks is the preference order when the exact channel count is
// not supported: the closest larger layout first, then down through 5.1 to
// stereo and mono as last resort. Every chain ends in the stereo/mono tail
// so any format stays playable on a plain stereo or mono device.
var channelFallbacks = [9][]int{
	1: {2},
	2: {4, 5, 6, 7, 8, 1},
	3: {4, 5, 6, 7, 8, 2, 1},
	4: {5, 6, 7, 8, 2, 1},
	5: {6, 7, 8, 2, 1},
	6: {7, 8, 2, 1},
	7: {8, 6, 2, 1},
	8: {6, 2, 1},
}

// probeSupportMatrix asks the backend about every candidate rate/channel
// combination. Channel counts rejected at the lowest rate are not retried at
// higher ones.
func probeSupportMatrix(b Backend) *supportMatrix {
	m := &supportMatrix{}

	var channelsInHw [9]bool
	for u, rate := range sampleRatesTable {
		for ch := 1; ch <= 8; ch++ {
			if u > 0 && !channelsInHw[ch] {
				continue
			}
			if _, err := b.Negotiate(rate, ch); err != nil {
				continue
			}
			channelsInHw[ch] = true
			m.supported[u][ch] = true
		}
	}

	for u := range sampleRatesTable {
		rateSupported := false
		for ch := 1; ch <= 8; ch++ {
			if m.supported[u][ch] {
				rateSupported = true
				break
			}
		}
		if !rateSupported {
			continue
		}
		for ch := 1; ch <= 8; ch++ {
			if m.supported[u][ch] {
				m.channelMatrix[u][ch] = ch
				continue
			}
			for _, alt := range channelFallbacks[ch] {
				if m.supported[u][alt] {
					m.channelMatrix[u][ch] = alt
					break
				}
			}
		}
	}
	return m
}

// lookup maps a requested format to the rate index and hardware channel
// count, or reports why it cannot be played.
func (m *supportMatrix) lookup(sampleRate, channels int) (int, int, error) {
	for u, rate := range sampleRatesTable {
		if rate == sampleRate {
			if channels < 1 || channels > 8 || m.channelMatrix[u][channels] == 0 {
				return 0, 0, ErrUnsupportedChannels
			}
			return u, m.channelMatrix[u][channels], nil
		}
		if rate > sampleRate {
			break
		}
	}
	return 0, 0, ErrUnsupportedRate
}

// RequestFormat queues a sample-rate/channel change. It claims the next ring
// slot, stamps it with the negotiated-to-be hardware format and wakes the
// playback loop. The device itself is reconfigured by the consumer when it
// reaches the slot.
func (p *Pipeline) RequestFormat(sampleRate, channels int, passthrough bool) error {
	_, hwChannels, err := p.matrix.lookup(sampleRate, channels)
	if err != nil {
		p.logger.Error().Err(err).
			Int("sample_rate", sampleRate).
			Int("channels", channels).
			Msg("format rejected")
		return err
	}

	if int(p.ring.filled.Load()) == ringSlots { // no free slot
		ringFullTotal.Inc()
		p.logger.Error().Msg("out of ring buffers")
		return ErrOutOfSlots
	}

	slot := p.ring.advanceWrite()
	slot.flushPending = false
	slot.passthrough = passthrough
	slot.packetSize = 0
	slot.inSampleRate = sampleRate
	slot.inChannels = channels
	slot.hwSampleRate = sampleRate
	slot.hwChannels = hwChannels
	slot.pts.Store(NoPTS)
	slot.buffer.Reset()

	p.ring.filled.Add(1)
	formatChangesTotal.Inc()
	p.logger.Debug().
		Int("filled", int(p.ring.filled.Load())).
		Int("hw_channels", hwChannels).
		Bool("passthrough", passthrough).
		Msg("ring buffer prepared")

	notifyFormatChanged(sampleRate, channels, hwChannels, passthrough)

	// tell the loop there is something to do
	p.wakeLoop()
	return nil
}

// FlushBuffers discards all buffered audio. A flush claims a slot of its own
// carrying the previous format forward, so the consumer can tell flushed
// content from a format change. Returns ErrOutOfSlots when the ring never
// freed up within the bounded wait.
func (p *Pipeline) FlushBuffers() error {
	if !p.started.Load() {
		return ErrNotRunning
	}
	cfg := GetConfig()

	if int(p.ring.filled.Load()) >= ringSlots {
		// wait for space, should not happen in practice
		for i := 0; i < cfg.FlushPollRetries; i++ {
			if int(p.ring.filled.Load()) < ringSlots {
				break
			}
			time.Sleep(cfg.FlushPollInterval)
		}
		if int(p.ring.filled.Load()) >= ringSlots {
			ringFullTotal.Inc()
			p.logger.Error().Msg("flush out of ring buffers")
			return ErrOutOfSlots
		}
	}

	old := p.ring.writeSlot()
	slot := p.ring.advanceWrite()
	slot.flushPending = true
	slot.passthrough = old.passthrough
	slot.hwSampleRate = old.hwSampleRate
	slot.hwChannels = old.hwChannels
	slot.inSampleRate = old.inSampleRate
	slot.inChannels = old.inChannels
	slot.pts.Store(NoPTS)
	slot.buffer.Reset()

	p.mu.Lock()
	p.videoReady = false
	p.skipBytes = 0
	p.mu.Unlock()

	p.ring.filled.Add(1)
	flushesTotal.Inc()

	// wake the loop and wait for it to swallow the queue; an empty ring is
	// the completion evidence
	for i := 0; i < cfg.FlushPollRetries; i++ {
		p.wakeLoop()
		if p.ring.filled.Load() == 0 {
			break
		}
		time.Sleep(cfg.FlushPollInterval)
	}
	p.logger.Debug().Msg("buffers flushed")
	return nil
}
