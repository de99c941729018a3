// Package metrics defines the Prometheus collectors exported by a
// MirageKit host or client process: stream health, drop counters, and
// queued-bytes backpressure state. Grounded on
// _examples/Generativebots-ocx-backend-go-svc/internal/escrow/metrics.go's
// promauto-registered collector struct with per-concern record methods.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every Prometheus collector a MirageKit process exports.
type Metrics struct {
	StreamHealth       *prometheus.GaugeVec
	FrameDrops         *prometheus.CounterVec
	FrameDeliveries    *prometheus.CounterVec
	QueuedBytes        *prometheus.GaugeVec
	KeyframeRequests   *prometheus.CounterVec
	CaptureRestarts    *prometheus.CounterVec
	HandshakeDuration  prometheus.Histogram
	ActiveSessions     prometheus.Gauge
	ProbeStableBitrate *prometheus.GaugeVec
}

// NewMetrics constructs and registers the collector set against the
// default Prometheus registry via promauto, the same registration style
// used throughout the escrow metrics package this is grounded on.
func NewMetrics() *Metrics {
	return &Metrics{
		StreamHealth: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "miragekit_stream_health",
				Help: "1 if the stream is healthy (receiving frames within its keyframe timeout), 0 otherwise",
			},
			[]string{"stream_id"},
		),
		FrameDrops: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "miragekit_frame_drops_total",
				Help: "Total frames dropped, labeled by reason",
			},
			[]string{"stream_id", "reason"},
		),
		FrameDeliveries: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "miragekit_frame_deliveries_total",
				Help: "Total frames successfully reassembled and delivered",
			},
			[]string{"stream_id"},
		),
		QueuedBytes: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "miragekit_sender_queued_bytes",
				Help: "Current queued bytes awaiting send, per stream",
			},
			[]string{"stream_id"},
		),
		KeyframeRequests: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "miragekit_keyframe_requests_total",
				Help: "Total keyframe recovery requests, labeled by mode (soft/hard)",
			},
			[]string{"stream_id", "mode"},
		),
		CaptureRestarts: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "miragekit_capture_restarts_total",
				Help: "Total capture-source restarts attempted",
			},
			[]string{"stream_id"},
		),
		HandshakeDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "miragekit_handshake_duration_seconds",
				Help:    "Duration of the control-channel handshake",
				Buckets: prometheus.DefBuckets,
			},
		),
		ActiveSessions: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "miragekit_active_sessions",
				Help: "Number of currently active sessions",
			},
		),
		ProbeStableBitrate: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "miragekit_probe_stable_bitrate_bps",
				Help: "Max stable bitrate measured by the last quality probe, per session",
			},
			[]string{"session_id"},
		),
	}
}

// RecordFrameDrop increments the drop counter for streamID/reason.
func (m *Metrics) RecordFrameDrop(streamID, reason string) {
	m.FrameDrops.WithLabelValues(streamID, reason).Inc()
}

// RecordFrameDelivered increments the delivery counter and marks the
// stream healthy.
func (m *Metrics) RecordFrameDelivered(streamID string) {
	m.FrameDeliveries.WithLabelValues(streamID).Inc()
	m.StreamHealth.WithLabelValues(streamID).Set(1)
}

// MarkStreamUnhealthy flags a stream as unhealthy, e.g. after its
// keyframe recovery timeout elapses with no delivery.
func (m *Metrics) MarkStreamUnhealthy(streamID string) {
	m.StreamHealth.WithLabelValues(streamID).Set(0)
}

// SetQueuedBytes publishes the current sender queue depth for streamID.
func (m *Metrics) SetQueuedBytes(streamID string, bytes int) {
	m.QueuedBytes.WithLabelValues(streamID).Set(float64(bytes))
}

// RecordKeyframeRequest increments the keyframe-request counter for the
// given recovery mode ("soft" or "hard").
func (m *Metrics) RecordKeyframeRequest(streamID, mode string) {
	m.KeyframeRequests.WithLabelValues(streamID, mode).Inc()
}

// RecordCaptureRestart increments the capture-restart counter.
func (m *Metrics) RecordCaptureRestart(streamID string) {
	m.CaptureRestarts.WithLabelValues(streamID).Inc()
}

// RecordProbeResult publishes the max stable bitrate from a completed
// quality probe.
func (m *Metrics) RecordProbeResult(sessionID string, stableBps int64) {
	m.ProbeStableBitrate.WithLabelValues(sessionID).Set(float64(stableBps))
}
