package audio

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	framesEnqueuedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "softhd_audio_frames_enqueued_total",
			Help: "Total number of decoded audio frames accepted by the producer path",
		},
	)

	framesDroppedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "softhd_audio_frames_dropped_total",
			Help: "Total number of frames dropped because no valid slot or buffer space existed",
		},
	)

	bytesEnqueuedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "softhd_audio_bytes_enqueued_total",
			Help: "Total number of sample bytes written into ring slots",
		},
	)

	bytesLostTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "softhd_audio_bytes_lost_total",
			Help: "Total number of sample bytes rejected by full slot buffers",
		},
	)

	underrunsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "softhd_audio_device_underruns_total",
			Help: "Total number of recoverable device underruns during drain",
		},
	)

	ringFullTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "softhd_audio_ring_full_total",
			Help: "Total number of format or flush requests rejected by a full ring",
		},
	)

	flushesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "softhd_audio_flushes_total",
			Help: "Total number of flush requests",
		},
	)

	formatChangesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "softhd_audio_format_changes_total",
			Help: "Total number of accepted format change requests",
		},
	)

	negotiationFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "softhd_audio_negotiation_failures_total",
			Help: "Total number of failed hardware format negotiations",
		},
	)

	syncSkipsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "softhd_audio_sync_skips_total",
			Help: "Total number of A/V alignment skips applied",
		},
	)

	bufferedBytes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "softhd_audio_buffered_bytes",
			Help: "Bytes currently buffered in the write-side ring slot",
		},
	)
)
