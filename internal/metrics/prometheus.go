// Package metrics exposes Prometheus metrics for the voice agent.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the voice agent.
type Metrics struct {
	// Call lifecycle
	ActiveCalls    prometheus.Gauge
	CallsStarted   prometheus.Counter
	CallsCompleted prometheus.Counter
	CallDuration   prometheus.Histogram

	// Turn pipeline
	TurnsTotal          prometheus.Counter
	TurnDuration        prometheus.Histogram
	TranscriptsDropped  prometheus.Counter
	SegmentsTranscribed prometheus.Counter

	// Provider failures, labelled by stage (stt, llm, tts)
	ProviderFailures *prometheus.CounterVec

	// Outbound audio
	AudioFramesSent prometheus.Counter
	AudioBytesSent  prometheus.Counter
}

// New creates and registers all Prometheus metrics on the default registry.
func New() *Metrics {
	return &Metrics{
		ActiveCalls: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "ordelio_active_calls",
			Help: "Number of phone calls currently in progress",
		}),
		CallsStarted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "ordelio_calls_started_total",
			Help: "Total number of calls accepted",
		}),
		CallsCompleted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "ordelio_calls_completed_total",
			Help: "Total number of calls torn down",
		}),
		CallDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "ordelio_call_duration_seconds",
			Help:    "Call duration from stream start to teardown",
			Buckets: []float64{10, 30, 60, 120, 300, 600, 1200},
		}),
		TurnsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "ordelio_turns_total",
			Help: "Total number of completed conversation turns",
		}),
		TurnDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "ordelio_turn_duration_seconds",
			Help:    "Time from segment hand-off to final audio frame",
			Buckets: prometheus.DefBuckets,
		}),
		TranscriptsDropped: promauto.NewCounter(prometheus.CounterOpts{
			Name: "ordelio_transcripts_dropped_total",
			Help: "Transcripts discarded as too short or as STT artifacts",
		}),
		SegmentsTranscribed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "ordelio_segments_transcribed_total",
			Help: "Audio segments handed to the transcription provider",
		}),
		ProviderFailures: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "ordelio_provider_failures_total",
			Help: "Provider errors recovered within a turn",
		}, []string{"stage"}),
		AudioFramesSent: promauto.NewCounter(prometheus.CounterOpts{
			Name: "ordelio_audio_frames_sent_total",
			Help: "Outbound media messages sent to the telephony stream",
		}),
		AudioBytesSent: promauto.NewCounter(prometheus.CounterOpts{
			Name: "ordelio_audio_bytes_sent_total",
			Help: "Outbound audio bytes sent to the telephony stream",
		}),
	}
}
