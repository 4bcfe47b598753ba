package audio

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog"

	"github.com/dni1337/softhdaudio/internal/logging"
)

// AudioEventType represents different types of audio events
type AudioEventType string

const (
	AudioEventFormatChanged AudioEventType = "audio-format-changed"
	AudioEventVolumeChanged AudioEventType = "audio-volume-changed"
	AudioEventUnderrun      AudioEventType = "audio-underrun"
	AudioEventMetricsUpdate AudioEventType = "audio-metrics-update"
)

// AudioEvent represents a WebSocket audio event
type AudioEvent struct {
	Type AudioEventType `json:"type"`
	Data interface{}    `json:"data"`
}

// AudioFormatData represents a negotiated output format
type AudioFormatData struct {
	SampleRate  int  `json:"sample_rate"`
	Channels    int  `json:"channels"`
	HWChannels  int  `json:"hw_channels"`
	Passthrough bool `json:"passthrough"`
}

// AudioVolumeData represents a volume state change
type AudioVolumeData struct {
	Volume int  `json:"volume"`
	Muted  bool `json:"muted"`
}

// AudioMetricsData represents buffer occupancy metrics
type AudioMetricsData struct {
	BufferedBytes int   `json:"buffered_bytes"`
	QueuedSlots   int   `json:"queued_slots"`
	DelayTicks    int64 `json:"delay_ticks"`
}

// AudioEventSubscriber represents a WebSocket connection subscribed to audio events
type AudioEventSubscriber struct {
	conn   *websocket.Conn
	ctx    context.Context
	logger *zerolog.Logger
}

// AudioEventBroadcaster manages audio event subscriptions and broadcasting
type AudioEventBroadcaster struct {
	subscribers map[string]*AudioEventSubscriber
	mutex       sync.RWMutex
	logger      *zerolog.Logger

	// last known state, replayed to new subscribers
	lastFormat AudioFormatData
	lastVolume AudioVolumeData

	// metrics source, set once the pipeline exists
	pipeline *Pipeline
}

var (
	audioEventBroadcaster *AudioEventBroadcaster
	audioEventOnce        sync.Once
)

func initializeBroadcaster() {
	l := logging.GetDefaultLogger().With().Str("component", "audio-events").Logger()
	audioEventBroadcaster = &AudioEventBroadcaster{
		subscribers: make(map[string]*AudioEventSubscriber),
		logger:      &l,
		lastVolume:  AudioVolumeData{Volume: 1000},
	}

	go audioEventBroadcaster.startMetricsBroadcasting()
}

// InitializeAudioEventBroadcaster initializes the global audio event broadcaster
func InitializeAudioEventBroadcaster() {
	audioEventOnce.Do(initializeBroadcaster)
}

// GetAudioEventBroadcaster returns the singleton audio event broadcaster
func GetAudioEventBroadcaster() *AudioEventBroadcaster {
	audioEventOnce.Do(initializeBroadcaster)
	return audioEventBroadcaster
}

// SetPipeline attaches the pipeline whose metrics the periodic broadcast
// reports.
func (aeb *AudioEventBroadcaster) SetPipeline(p *Pipeline) {
	aeb.mutex.Lock()
	aeb.pipeline = p
	aeb.mutex.Unlock()
}

// Subscribe adds a WebSocket connection to receive audio events
func (aeb *AudioEventBroadcaster) Subscribe(connectionID string, conn *websocket.Conn, ctx context.Context, logger *zerolog.Logger) {
	aeb.mutex.Lock()
	defer aeb.mutex.Unlock()

	if _, exists := aeb.subscribers[connectionID]; exists {
		aeb.logger.Debug().Str("connectionID", connectionID).Msg("duplicate audio events subscription detected; replacing existing entry")
		delete(aeb.subscribers, connectionID)
	}

	aeb.subscribers[connectionID] = &AudioEventSubscriber{
		conn:   conn,
		ctx:    ctx,
		logger: logger,
	}

	aeb.logger.Debug().Str("connectionID", connectionID).Msg("audio events subscription added")

	// Send initial state to new subscriber
	go aeb.sendInitialState(connectionID)
}

// Unsubscribe removes a WebSocket connection from audio events
func (aeb *AudioEventBroadcaster) Unsubscribe(connectionID string) {
	aeb.mutex.Lock()
	defer aeb.mutex.Unlock()

	delete(aeb.subscribers, connectionID)
	aeb.logger.Debug().Str("connectionID", connectionID).Msg("audio events subscription removed")
}

// BroadcastFormatChanged broadcasts a negotiated output format change
func (aeb *AudioEventBroadcaster) BroadcastFormatChanged(data AudioFormatData) {
	aeb.mutex.Lock()
	aeb.lastFormat = data
	aeb.mutex.Unlock()
	aeb.broadcast(createAudioEvent(AudioEventFormatChanged, data))
}

// BroadcastVolumeChanged broadcasts a volume or mute state change
func (aeb *AudioEventBroadcaster) BroadcastVolumeChanged(data AudioVolumeData) {
	aeb.mutex.Lock()
	aeb.lastVolume = data
	aeb.mutex.Unlock()
	aeb.broadcast(createAudioEvent(AudioEventVolumeChanged, data))
}

// sendInitialState sends current audio state to a new subscriber
func (aeb *AudioEventBroadcaster) sendInitialState(connectionID string) {
	aeb.mutex.RLock()
	subscriber, exists := aeb.subscribers[connectionID]
	lastFormat := aeb.lastFormat
	lastVolume := aeb.lastVolume
	aeb.mutex.RUnlock()

	if !exists {
		return
	}

	if lastFormat.SampleRate != 0 {
		aeb.sendToSubscriber(subscriber, createAudioEvent(AudioEventFormatChanged, lastFormat))
	}
	aeb.sendToSubscriber(subscriber, createAudioEvent(AudioEventVolumeChanged, lastVolume))
}

func createAudioEvent(eventType AudioEventType, data interface{}) AudioEvent {
	return AudioEvent{
		Type: eventType,
		Data: data,
	}
}

// startMetricsBroadcasting starts a goroutine that periodically broadcasts metrics
func (aeb *AudioEventBroadcaster) startMetricsBroadcasting() {
	ticker := time.NewTicker(GetConfig().MetricsUpdateInterval)
	defer ticker.Stop()

	for range ticker.C {
		aeb.mutex.RLock()
		subscriberCount := len(aeb.subscribers)
		pipeline := aeb.pipeline
		aeb.mutex.RUnlock()

		// Early exit if no subscribers to save CPU
		if subscriberCount == 0 || pipeline == nil {
			continue
		}

		data := AudioMetricsData{
			BufferedBytes: pipeline.UsedBytes(),
			QueuedSlots:   int(pipeline.ring.filled.Load()),
			DelayTicks:    pipeline.Delay(),
		}
		aeb.broadcast(createAudioEvent(AudioEventMetricsUpdate, data))
	}
}

// broadcast sends an event to all subscribers
func (aeb *AudioEventBroadcaster) broadcast(event AudioEvent) {
	aeb.mutex.RLock()
	// Copy the map to avoid holding the lock during sending
	subscribersCopy := make(map[string]*AudioEventSubscriber)
	for id, sub := range aeb.subscribers {
		subscribersCopy[id] = sub
	}
	aeb.mutex.RUnlock()

	var failedSubscribers []string

	for connectionID, subscriber := range subscribersCopy {
		if !aeb.sendToSubscriber(subscriber, event) {
			failedSubscribers = append(failedSubscribers, connectionID)
		}
	}

	if len(failedSubscribers) > 0 {
		aeb.mutex.Lock()
		for _, connectionID := range failedSubscribers {
			delete(aeb.subscribers, connectionID)
			aeb.logger.Warn().Str("connectionID", connectionID).Msg("removed failed audio events subscriber")
		}
		aeb.mutex.Unlock()
	}
}

// sendToSubscriber sends an event to a specific subscriber
func (aeb *AudioEventBroadcaster) sendToSubscriber(subscriber *AudioEventSubscriber, event AudioEvent) bool {
	if subscriber.ctx.Err() != nil {
		return false
	}

	ctx, cancel := context.WithTimeout(subscriber.ctx, 2*time.Second)
	defer cancel()

	err := wsjson.Write(ctx, subscriber.conn, event)
	if err != nil {
		// Network errors for closed connections are expected, not warnings
		if strings.Contains(err.Error(), "use of closed network connection") ||
			strings.Contains(err.Error(), "connection reset by peer") ||
			strings.Contains(err.Error(), "context canceled") {
			subscriber.logger.Debug().Err(err).Msg("websocket connection closed during audio event send")
		} else {
			subscriber.logger.Warn().Err(err).Msg("failed to send audio event to subscriber")
		}
		return false
	}

	return true
}

// notifyFormatChanged publishes a format change from the pipeline without
// requiring the caller to hold a broadcaster reference.
func notifyFormatChanged(sampleRate, channels, hwChannels int, passthrough bool) {
	GetAudioEventBroadcaster().BroadcastFormatChanged(AudioFormatData{
		SampleRate:  sampleRate,
		Channels:    channels,
		HWChannels:  hwChannels,
		Passthrough: passthrough,
	})
}

func notifyUnderrun() {
	GetAudioEventBroadcaster().broadcast(createAudioEvent(AudioEventUnderrun, nil))
}

func notifyVolumeChanged(volume int, muted bool) {
	GetAudioEventBroadcaster().BroadcastVolumeChanged(AudioVolumeData{
		Volume: volume,
		Muted:  muted,
	})
}
