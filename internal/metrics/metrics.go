// Package metrics holds the Prometheus instruments for the live pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for a live translation client.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	// Session metrics
	SessionsStarted prometheus.Counter
	SessionsEnded   *prometheus.CounterVec
	SessionDuration prometheus.Histogram

	// Capture metrics
	FramesSent    prometheus.Counter
	FramesDropped prometheus.Counter
	SendErrors    prometheus.Counter

	// Playback metrics
	ChunksDecoded prometheus.Counter
	DecodeErrors  prometheus.Counter
	ActiveUnits   prometheus.Gauge

	// Transcript metrics
	RecordsEmitted  *prometheus.CounterVec
	RecordsFiltered *prometheus.CounterVec
}

// New creates the metrics and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		SessionsStarted: f.NewCounter(prometheus.CounterOpts{
			Name: "parley_sessions_started_total",
			Help: "Total number of live sessions started",
		}),
		SessionsEnded: f.NewCounterVec(prometheus.CounterOpts{
			Name: "parley_sessions_ended_total",
			Help: "Total number of live sessions ended, by reason",
		}, []string{"reason"}),
		SessionDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "parley_session_duration_seconds",
			Help:    "Duration of live sessions in seconds",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12), // 1s to ~68 minutes
		}),

		FramesSent: f.NewCounter(prometheus.CounterOpts{
			Name: "parley_frames_sent_total",
			Help: "Total number of microphone frames transmitted",
		}),
		FramesDropped: f.NewCounter(prometheus.CounterOpts{
			Name: "parley_frames_dropped_total",
			Help: "Total number of microphone frames dropped under backpressure or after teardown",
		}),
		SendErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "parley_send_errors_total",
			Help: "Total number of transport send failures",
		}),

		ChunksDecoded: f.NewCounter(prometheus.CounterOpts{
			Name: "parley_audio_chunks_decoded_total",
			Help: "Total number of inbound audio chunks decoded and scheduled",
		}),
		DecodeErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "parley_audio_decode_errors_total",
			Help: "Total number of inbound audio chunks dropped by decode failures",
		}),
		ActiveUnits: f.NewGauge(prometheus.GaugeOpts{
			Name: "parley_playback_units_active",
			Help: "Current number of queued or playing playback units",
		}),

		RecordsEmitted: f.NewCounterVec(prometheus.CounterOpts{
			Name: "parley_records_emitted_total",
			Help: "Total number of conversation records appended, by sender",
		}, []string{"sender"}),
		RecordsFiltered: f.NewCounterVec(prometheus.CounterOpts{
			Name: "parley_records_filtered_total",
			Help: "Total number of conversation records dropped, by reason",
		}, []string{"reason"}),
	}
}

func (m *Metrics) SessionStarted() {
	if m == nil {
		return
	}
	m.SessionsStarted.Inc()
}

func (m *Metrics) SessionEnded(reason string, seconds float64) {
	if m == nil {
		return
	}
	m.SessionsEnded.WithLabelValues(reason).Inc()
	m.SessionDuration.Observe(seconds)
}

func (m *Metrics) FrameSent() {
	if m == nil {
		return
	}
	m.FramesSent.Inc()
}

func (m *Metrics) FrameDropped() {
	if m == nil {
		return
	}
	m.FramesDropped.Inc()
}

func (m *Metrics) SendFailed() {
	if m == nil {
		return
	}
	m.SendErrors.Inc()
}

func (m *Metrics) ChunkDecoded() {
	if m == nil {
		return
	}
	m.ChunksDecoded.Inc()
}

func (m *Metrics) DecodeFailed() {
	if m == nil {
		return
	}
	m.DecodeErrors.Inc()
}

func (m *Metrics) SetActiveUnits(n int) {
	if m == nil {
		return
	}
	m.ActiveUnits.Set(float64(n))
}

func (m *Metrics) RecordEmitted(sender string) {
	if m == nil {
		return
	}
	m.RecordsEmitted.WithLabelValues(sender).Inc()
}

func (m *Metrics) RecordFiltered(reason string) {
	if m == nil {
		return
	}
	m.RecordsFiltered.WithLabelValues(reason).Inc()
}
