package audio

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/dni1337/softhdaudio/internal/logging"
)

// Pipeline is the audio delivery engine: it owns the slot ring, the DSP
// state, the start/sync policy and the single background playback goroutine
// draining into the hardware backend.
//
// Two execution contexts touch a Pipeline: the producer (whoever delivers
// decoded frames via Enqueue/RequestFormat/FlushBuffers) and the consumer
// loop. Shared flags are guarded by mu and its condition variable; the slot
// counter is atomic; slot buffers rely on their own SPSC ordering.
type Pipeline struct {
	logger  zerolog.Logger
	backend Backend

	ring   *slotRing
	matrix *supportMatrix

	mu         sync.Mutex
	cond       *sync.Cond
	running    bool // consumer may drain
	paused     bool
	videoReady bool
	skipBytes  int // pending bytes to discard for A/V alignment

	stopFlag atomic.Bool
	started  atomic.Bool
	wg       sync.WaitGroup

	// startThreshold is the buffered byte count required before playback
	// begins; recomputed on every negotiation. Consumer-written,
	// producer-read.
	startThreshold atomic.Int64

	// volume & mode state, mutated under mu
	volume        int
	mute          bool
	softVolume    bool
	amplifier     int // effective gain after stereo descent
	stereoDescent int
	normalize     bool
	compress      bool
	norm          normalizer
	comp          compressor
	bufferTime    int   // ms, 0 means default
	avDelay       int64 // extra audio delay in 90kHz ticks

	// scratch holds the soft-volume copy of the current write run,
	// consumer goroutine only
	scratch []byte
}

// NewPipeline creates a pipeline over the given backend. Start must be
// called before frames are enqueued.
func NewPipeline(backend Backend) *Pipeline {
	p := &Pipeline{
		logger:     logging.GetDefaultLogger().With().Str("component", "audio-pipeline").Logger(),
		backend:    backend,
		ring:       newSlotRing(),
		volume:     1000,
		bufferTime: GetConfig().BufferTimeMs,
	}
	p.cond = sync.NewCond(&p.mu)
	p.comp.maxFactor = 2000
	p.norm.maxFactor = 1000
	p.comp.reset()
	p.norm.reset()
	return p
}

// Start opens the device, probes the rate/channel support matrix and
// launches the playback goroutine.
func (p *Pipeline) Start() error {
	if !p.started.CompareAndSwap(false, true) {
		return nil // already running
	}

	p.logger.Info().Msg("starting audio pipeline")

	if err := p.backend.Open(false); err != nil {
		p.started.Store(false)
		p.logger.Error().Err(err).Msg("failed to open audio device")
		return err
	}

	p.matrix = probeSupportMatrix(p.backend)
	for u, rate := range sampleRatesTable {
		p.logger.Info().
			Int("sample_rate", rate).
			Ints("hw_channels", p.matrix.channelMatrix[u][1:]).
			Msg("device support probed")
	}

	p.stopFlag.Store(false)
	p.wg.Add(1)
	go p.playLoop()

	p.logger.Info().Msg("audio pipeline started")
	return nil
}

// Stop terminates the playback goroutine and closes the device. Buffered
// audio is abandoned.
func (p *Pipeline) Stop() {
	if !p.started.CompareAndSwap(true, false) {
		return
	}

	p.logger.Info().Msg("stopping audio pipeline")

	p.stopFlag.Store(true)
	p.wakeLoop() // unpark the idle wait
	p.wg.Wait()

	if err := p.backend.Close(); err != nil {
		p.logger.Error().Err(err).Msg("failed to close audio device")
	}

	p.mu.Lock()
	p.running = false
	p.paused = false
	p.videoReady = false
	p.skipBytes = 0
	p.mu.Unlock()

	p.logger.Info().Msg("audio pipeline stopped")
}

// wakeLoop signals the consumer. The wake is level-triggered: the parked
// wait re-evaluates its predicate (stop flag, queued slots, start
// condition), so a signal issued while the loop is draining or before it
// first parks is never lost.
func (p *Pipeline) wakeLoop() {
	p.mu.Lock()
	p.cond.Signal()
	p.mu.Unlock()
}

// startConditionLocked is the level-triggered start predicate, evaluated
// with mu held: enough buffered in the read slot to begin playback. Pending
// sync skip is subtracted, those bytes are about to be discarded.
func (p *Pipeline) startConditionLocked() bool {
	slot := p.ring.readSlot()
	if !slot.valid() {
		return false
	}
	used := slot.buffer.UsedBytes() - p.skipBytes
	threshold := int(p.startThreshold.Load())
	return threshold*4 < used || (p.videoReady && threshold < used)
}

// Enqueue places one decoded frame in the output queue. The format tag is
// compared against the current write slot; a change claims a new slot and
// renegotiation happens when the consumer reaches it. Data that does not
// fit is dropped and counted, never blocked on.
func (p *Pipeline) Enqueue(samples []byte, f Format) {
	if !p.started.Load() {
		return
	}

	slot := p.ring.writeSlot()
	if f.SampleRate != slot.inSampleRate || f.Channels != slot.inChannels ||
		f.Passthrough != slot.passthrough || !slot.valid() {
		if err := p.RequestFormat(f.SampleRate, f.Channels, f.Passthrough); err != nil {
			framesDroppedTotal.Inc()
			return
		}
		slot = p.ring.writeSlot()
	}
	if len(samples) == 0 {
		// zero-length enqueue is a bare wakeup (resume path)
		p.checkStart(slot)
		return
	}
	if !slot.valid() {
		framesDroppedTotal.Inc()
		p.logger.Debug().Msg("enqueue before setup, frame dropped")
		return
	}

	if slot.packetSize == 0 {
		slot.packetSize = len(samples)
		p.logger.Debug().Int("bytes", len(samples)).Msg("packet size observed")
	}

	buffer := samples
	p.mu.Lock()
	needsDSP := !slot.passthrough &&
		(p.compress || p.normalize || slot.inChannels != slot.hwChannels)
	if needsDSP {
		frames := len(samples) / (slot.inChannels * bytesPerSample)
		out := make([]byte, frames*slot.hwChannels*bytesPerSample)
		if !remapChannels(samplesOf(samples), slot.inChannels, frames,
			samplesOf(out), slot.hwChannels) {
			p.logger.Error().
				Int("in_channels", slot.inChannels).
				Int("hw_channels", slot.hwChannels).
				Msg("unsupported channel remap, playing silence")
		}
		if p.compress {
			p.comp.apply(samplesOf(out))
		}
		if p.normalize {
			p.norm.apply(samplesOf(out))
		}
		buffer = out
	}
	p.mu.Unlock()

	n := slot.buffer.Write(buffer)
	framesEnqueuedTotal.Inc()
	bytesEnqueuedTotal.Add(float64(n))
	if n != len(buffer) {
		lost := len(buffer) - n
		bytesLostTotal.Add(float64(lost))
		p.logger.Error().Int("bytes", lost).Msg("slot buffer full, samples lost")
	}
	bufferedBytes.Set(float64(slot.buffer.UsedBytes()))

	slot.pts.Store(f.PTS)

	p.checkStart(slot)
}

// checkStart applies any pending A/V skip and starts the consumer when
// enough is buffered. The 4x rule starts playback even without video
// feedback; once video reported in, the plain threshold is enough.
func (p *Pipeline) checkStart(slot *ringSlot) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return
	}

	used := slot.buffer.UsedBytes()
	if p.skipBytes > 0 {
		skip := p.skipBytes
		if skip > used {
			skip = used
		}
		p.skipBytes -= skip
		slot.buffer.AdvanceRead(skip)
		used = slot.buffer.UsedBytes()
	}

	threshold := int(p.startThreshold.Load())
	if threshold*4 < used || (p.videoReady && threshold < used) {
		p.running = true
		p.cond.Signal()
	}
}

// VideoReady tells the audio side the video stream has a presentation
// timestamp. When audio has not started yet, the buffered queue is advanced
// so that the audio at the queue front lines up with the video clock.
func (p *Pipeline) VideoReady(pts int64) {
	if pts == NoPTS {
		p.logger.Debug().Msg("a/v start, no valid video timestamp")
		return
	}

	slot := p.ring.writeSlot()
	if !slot.valid() || slot.pts.Load() == NoPTS {
		p.logger.Debug().Msg("a/v start, no valid audio yet")
		p.mu.Lock()
		p.videoReady = true
		p.mu.Unlock()
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	used := slot.buffer.UsedBytes()
	audioPTS := slot.pts.Load() -
		int64(used)*ptsTicksPerSecond/int64(slot.hwBytesPerSecond())

	p.logger.Debug().
		Int64("video_pts", pts).
		Int64("audio_pts", audioPTS).
		Int64("gap_ms", (pts-audioPTS)/90).
		Bool("running", p.running).
		Msg("a/v sync check")

	if !p.running {
		bufferTime := int64(p.bufferTime)
		if bufferTime == 0 {
			bufferTime = defaultBufferTimeMs
		}
		skip := pts - videoBufferLead - bufferTime*90 - audioPTS + p.avDelay

		// guard against stale timestamps
		if skip > 0 && skip < maxSyncSkip {
			skipBytes := int(skip*int64(slot.hwSampleRate)/(1000*90)) *
				slot.hwChannels * bytesPerSample
			if skipBytes > used {
				p.skipBytes = skipBytes - used
				skipBytes = used
			}
			slot.buffer.AdvanceRead(skipBytes)
			used = slot.buffer.UsedBytes()
			syncSkipsTotal.Inc()
			p.logger.Debug().
				Int("skip_bytes", skipBytes).
				Int("deferred_bytes", p.skipBytes).
				Msg("a/v sync advance")
		}

		if int(p.startThreshold.Load()) < used {
			p.running = true
			p.cond.Signal()
		}
	}

	p.videoReady = true
}

// Pause idles the consumer loop without discarding buffered audio.
func (p *Pipeline) Pause() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.paused {
		p.logger.Debug().Msg("already paused")
		return
	}
	p.paused = true
	p.logger.Info().Msg("audio paused")
}

// Resume restarts playback after Pause.
func (p *Pipeline) Resume() {
	p.mu.Lock()
	if !p.paused {
		p.mu.Unlock()
		p.logger.Debug().Msg("resume while not paused")
		return
	}
	p.paused = false
	p.cond.Signal()
	p.mu.Unlock()
	p.logger.Info().Msg("audio resumed")
	// re-run the start decision with current buffer levels
	p.Enqueue(nil, Format{
		SampleRate:  p.ring.writeSlot().inSampleRate,
		Channels:    p.ring.writeSlot().inChannels,
		Passthrough: p.ring.writeSlot().passthrough,
		PTS:         NoPTS,
	})
}

//----------------------------------------------------------------------------
//	volume & mode state
//----------------------------------------------------------------------------

// SetVolume sets the playback volume, 0..1000. Zero mutes. With soft volume
// the gain is applied in software at drain time, otherwise it is forwarded
// to the hardware mixer.
func (p *Pipeline) SetVolume(volume int) {
	if volume < 0 {
		volume = 0
	} else if volume > 1000 {
		volume = 1000
	}

	p.mu.Lock()
	p.volume = volume
	p.mute = volume == 0
	effective := volume
	// reduce loudness for stereo output
	slot := p.ring.readSlot()
	if p.stereoDescent != 0 && slot.inChannels == 2 && !slot.passthrough {
		effective -= p.stereoDescent
		if effective < 0 {
			effective = 0
		} else if effective > 1000 {
			effective = 1000
		}
	}
	p.amplifier = effective
	soft := p.softVolume
	muted := p.mute
	p.mu.Unlock()

	if !soft {
		if err := p.backend.SetMixerVolume(volume); err != nil {
			p.logger.Warn().Err(err).Msg("mixer volume not applied")
		}
	}
	notifyVolumeChanged(volume, muted)
}

// SetSoftVolume selects software amplification over the hardware mixer.
func (p *Pipeline) SetSoftVolume(on bool) {
	p.mu.Lock()
	p.softVolume = on
	p.mu.Unlock()
}

// SetStereoDescent lowers stereo (non-passthrough) volume by delta/1000 so
// that downmixed multichannel and native stereo content match in loudness.
func (p *Pipeline) SetStereoDescent(delta int) {
	p.mu.Lock()
	p.stereoDescent = delta
	volume := p.volume
	p.mu.Unlock()
	p.SetVolume(volume) // recompute effective gain
}

// SetNormalize enables loudness normalization with the given maximum factor
// (per mille).
func (p *Pipeline) SetNormalize(on bool, maxFactor int) {
	p.mu.Lock()
	p.normalize = on
	p.norm.maxFactor = maxFactor
	p.mu.Unlock()
}

// SetCompression enables dynamic compression with the given maximum factor
// (per mille).
func (p *Pipeline) SetCompression(on bool, maxFactor int) {
	p.mu.Lock()
	p.compress = on
	p.comp.maxFactor = maxFactor
	if p.comp.factor == 0 {
		p.comp.factor = 1000
	}
	if p.comp.factor > maxFactor {
		p.comp.factor = maxFactor
	}
	p.mu.Unlock()
}

// SetBufferTime sets the buffered-duration target in milliseconds before
// playback starts. Zero restores the default.
func (p *Pipeline) SetBufferTime(ms int) {
	if ms == 0 {
		ms = defaultBufferTimeMs
	}
	p.mu.Lock()
	p.bufferTime = ms
	p.mu.Unlock()
}

// SetAVDelay adds a fixed audio delay in 90kHz ticks, positive values delay
// audio relative to video.
func (p *Pipeline) SetAVDelay(ticks int64) {
	p.mu.Lock()
	p.avDelay = ticks
	p.mu.Unlock()
}

// Muted reports the current mute state.
func (p *Pipeline) Muted() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.mute
}

// Volume returns the current volume setting.
func (p *Pipeline) Volume() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.volume
}

//----------------------------------------------------------------------------
//	clocks & introspection
//----------------------------------------------------------------------------

// UsedBytes returns the bytes buffered in the write-side slot.
func (p *Pipeline) UsedBytes() int {
	return p.ring.writeSlot().buffer.UsedBytes()
}

// FreeBytes returns the writable bytes in the write-side slot.
func (p *Pipeline) FreeBytes() int {
	return p.ring.writeSlot().buffer.FreeBytes()
}

// Delay returns the total output delay (device queue plus buffered ring
// content) in 90kHz ticks. Zero when no single-slot steady state exists:
// multiple queued slots make the sum meaningless.
func (p *Pipeline) Delay() int64 {
	p.mu.Lock()
	running := p.running
	p.mu.Unlock()
	if !running {
		return 0
	}
	slot := p.ring.readSlot()
	if !slot.valid() {
		return 0
	}
	if p.ring.filled.Load() != 0 {
		return 0 // multiple buffers queued, delay is ambiguous
	}

	delayFrames, err := p.backend.DelayFrames()
	if err != nil || delayFrames < 0 {
		delayFrames = 0
	}
	pts := int64(delayFrames) * ptsTicksPerSecond / int64(slot.hwSampleRate)
	pts += int64(slot.buffer.UsedBytes()) * ptsTicksPerSecond /
		int64(slot.hwBytesPerSecond())
	return pts
}

// Clock returns the audio clock in 90kHz ticks, or NoPTS when no valid
// reference exists.
func (p *Pipeline) Clock() int64 {
	slot := p.ring.readSlot()
	pts := slot.pts.Load()
	if pts == NoPTS {
		return NoPTS
	}
	if delay := p.Delay(); delay != 0 {
		return pts - delay
	}
	return NoPTS
}

//----------------------------------------------------------------------------
//	consumer loop
//----------------------------------------------------------------------------

// negotiateSlot reconfigures the device for the slot's format and
// recomputes the start threshold from the achieved period size.
func (p *Pipeline) negotiateSlot(slot *ringSlot) error {
	params, err := p.backend.Negotiate(slot.hwSampleRate, slot.hwChannels)
	if err != nil {
		negotiationFailuresTotal.Inc()
		return err
	}

	threshold := params.PeriodFrames * slot.hwChannels * bytesPerSample

	p.mu.Lock()
	bufferTime := p.bufferTime
	if bufferTime == 0 {
		bufferTime = defaultBufferTimeMs
	}
	if p.avDelay > 0 {
		bufferTime += int(p.avDelay / 90)
	}
	p.mu.Unlock()

	if want := slot.hwBytesPerSecond() * bufferTime / 1000; threshold < want {
		threshold = want
	}
	// no bigger than 1/3 of the slot buffer
	if threshold > ringBufferSize/3 {
		threshold = ringBufferSize / 3
	}
	p.startThreshold.Store(int64(threshold))

	p.logger.Debug().
		Int("sample_rate", slot.hwSampleRate).
		Int("channels", slot.hwChannels).
		Int("period_frames", params.PeriodFrames).
		Int("start_threshold_ms", threshold*1000/slot.hwBytesPerSecond()).
		Msg("device negotiated")
	return nil
}

// nextSlotReady prepares the current read slot after a slot transition:
// renegotiates the device, refreshes the effective gain and resets the DSP
// smoothing state. It reports whether the slot holds enough data to keep
// playing; when false the loop goes back to idle.
func (p *Pipeline) nextSlotReady() bool {
	slot := p.ring.readSlot()
	if err := p.negotiateSlot(slot); err != nil {
		p.logger.Error().Err(err).
			Int("sample_rate", slot.hwSampleRate).
			Int("channels", slot.hwChannels).
			Msg("cannot set device format")
		slot.invalidate()
		return false
	}

	p.mu.Lock()
	volume := p.volume
	p.comp.reset()
	p.norm.reset()
	videoReady := p.videoReady
	p.mu.Unlock()
	p.SetVolume(volume) // update stereo descent for the new format

	used := slot.buffer.UsedBytes()
	threshold := int(p.startThreshold.Load())
	return threshold*4 < used || (videoReady && threshold < used)
}

// drainResult is the per-iteration outcome of draining the active slot.
type drainResult int

const (
	drainError    drainResult = iota // device failure, slot abandoned
	drainUnderrun                    // nothing consumed, slot empty
	drainRunning                     // data flowing or paused
)

// drainSlot waits for device space and plays as much of the active slot as
// the device accepts right now.
func (p *Pipeline) drainSlot() drainResult {
	cfg := GetConfig()

	for {
		if p.isPaused() {
			return drainRunning
		}
		ready, err := p.backend.Wait(cfg.DrainWaitTimeout)
		if err != nil {
			if errors.Is(err, ErrUnderrun) {
				underrunsTotal.Inc()
				notifyUnderrun()
				continue // backend recovered, re-issue
			}
			p.logger.Error().Err(err).Msg("device wait failed")
			time.Sleep(cfg.DrainWaitTimeout)
			return drainError
		}
		if !ready || p.isPaused() { // timeout or command
			return drainRunning
		}
		break
	}

	switch p.playReadSlot() {
	case -1:
		return drainError
	case 1:
		return drainUnderrun
	}
	return drainRunning
}

// playReadSlot fills the device from the active slot. Returns 0 on
// progress, 1 when the slot is empty, -1 on an unrecoverable device error.
func (p *Pipeline) playReadSlot() int {
	cfg := GetConfig()
	slot := p.ring.readSlot()

	first := true
	for { // loop for buffer wraparound
		avail, err := p.backend.AvailableBytes()
		if err != nil {
			p.logger.Warn().Err(err).Msg("device avail query failed")
			return -1
		}
		if avail < cfg.MinWriteBytes { // not worth the overhead
			return 0
		}

		run := slot.buffer.ReadPointer()
		if len(run) == 0 {
			if first {
				return 1 // slot empty
			}
			return 0
		}
		if len(run) < avail {
			avail = len(run)
		}
		run = run[:avail]

		// late-path mute / soft volume; passthrough bitstreams must not
		// be touched. Amplified into a scratch copy: a short device
		// write leaves the tail in the slot and the next pass would
		// attenuate it a second time.
		p.mu.Lock()
		if p.mute || (p.softVolume && !slot.passthrough) {
			if cap(p.scratch) < len(run) {
				p.scratch = make([]byte, len(run))
			}
			out := p.scratch[:len(run)]
			copy(out, run)
			amplify(samplesOf(out), p.amplifier, p.mute)
			run = out
		}
		p.mu.Unlock()

		written := 0
		for retry := 0; retry <= cfg.UnderrunRetries; retry++ {
			written, err = p.backend.Write(run)
			if err == nil {
				break
			}
			if errors.Is(err, ErrUnderrun) {
				underrunsTotal.Inc()
				notifyUnderrun()
				p.logger.Warn().Msg("write underrun, retrying")
				continue
			}
			p.logger.Error().Err(err).Msg("device write failed")
			return -1
		}
		if err != nil { // retries exhausted
			p.logger.Error().Err(err).Msg("device write kept underrunning")
			return -1
		}

		slot.buffer.AdvanceRead(written)
		first = false
	}
}

// playLoop is the consumer: one goroutine, parked on the condition variable
// until there is something to play.
func (p *Pipeline) playLoop() {
	defer p.wg.Done()
	p.logger.Debug().Msg("play loop started")

	for {
		if p.stopFlag.Load() {
			p.logger.Debug().Msg("play loop stopped")
			return
		}

		// idle: wait until startable. The predicate is re-checked after
		// every wake and before the first wait, so a start request made
		// while the loop was still draining is observed here.
		p.mu.Lock()
		p.running = false
		for !p.stopFlag.Load() &&
			(p.paused || (!p.running && p.ring.filled.Load() == 0 &&
				!p.startConditionLocked())) {
			p.cond.Wait()
		}
		p.running = true
		p.mu.Unlock()

		for {
			if p.stopFlag.Load() {
				p.logger.Debug().Msg("play loop stopped")
				return
			}

			// handle all flushes in the queue: jump to the newest one
			flushed := 0
			filled := int(p.ring.filled.Load())
			read := p.ring.read.Load()
			for i := filled; i > 0; i-- {
				read = (read + 1) % ringSlots
				if p.ring.slots[read].flushPending {
					p.ring.slots[read].flushPending = false
					p.ring.read.Store(read)
					flushed = filled - (i - 1)
				}
			}
			if flushed > 0 {
				p.logger.Debug().Int("slots", flushed).Msg("flushing ring buffers")
				if err := p.backend.Discard(); err != nil {
					p.logger.Warn().Err(err).Msg("device discard failed")
				}
				p.ring.filled.Add(int32(-flushed))
				if !p.nextSlotReady() {
					break // not enough buffered after flush
				}
			}

			result := drainRunning
			if p.ring.readSlot().buffer.UsedBytes() > 0 {
				result = p.drainSlot()
			} else {
				result = drainUnderrun
			}

			if result == drainUnderrun || result == drainError {
				if result == drainError {
					// device rejected this format for good; stop
					// playing the slot, frames for it get dropped
					p.ring.readSlot().invalidate()
				}

				// slot exhausted: move on if a successor is queued,
				// otherwise sleep
				if p.ring.filled.Load() == 0 {
					break
				}

				old := p.ring.readSlot()
				p.ring.filled.Add(-1)
				slot := p.ring.advanceRead()
				p.logger.Debug().
					Int("sample_rate", slot.hwSampleRate).
					Int("channels", slot.hwChannels).
					Bool("passthrough", slot.passthrough).
					Msg("next ring buffer")

				if !slot.sameFormat(old) {
					if !p.nextSlotReady() {
						break
					}
				} else {
					// same format: only re-arm the DSP smoothing
					p.mu.Lock()
					p.comp.reset()
					p.norm.reset()
					p.mu.Unlock()
				}
			}

			if p.isPaused() {
				break
			}
			if !p.ring.readSlot().valid() {
				break
			}
		}
	}
}

func (p *Pipeline) isPaused() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.paused
}
