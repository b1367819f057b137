package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"lanlink/internal/core/domain"
)

// Collector exposes the node's operational metrics.
type Collector struct {
	peersActive      prometheus.Gauge
	messagesSent     *prometheus.CounterVec
	messagesReceived *prometheus.CounterVec
	messageBytes     prometheus.Counter

	callsTotal *prometheus.CounterVec
	callState  prometheus.Gauge

	videoFramesSent        prometheus.Counter
	videoFramesReassembled prometheus.Counter
	videoFramesDropped     prometheus.Counter
	mediaBytesSent         prometheus.Counter
	mediaBytesReceived     prometheus.Counter
}

func NewCollector() *Collector {
	return &Collector{
		peersActive: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "lanlink_peers_active",
			Help: "Number of peers currently known to the registry",
		}),

		messagesSent: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "lanlink_messages_sent_total",
			Help: "Messages sent to peers, by kind",
		}, []string{"kind"}),

		messagesReceived: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "lanlink_messages_received_total",
			Help: "Messages received from peers, by kind",
		}, []string{"kind"}),

		messageBytes: promauto.NewCounter(prometheus.CounterOpts{
			Name: "lanlink_message_bytes_total",
			Help: "Total framed message payload bytes received",
		}),

		callsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "lanlink_calls_total",
			Help: "Call attempts, by outcome",
		}, []string{"outcome"}),

		callState: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "lanlink_call_state",
			Help: "Current call state (0=idle 1=calling 2=ringing 3=in_call)",
		}),

		videoFramesSent: promauto.NewCounter(prometheus.CounterOpts{
			Name: "lanlink_video_frames_sent_total",
			Help: "Video frames encoded and sent",
		}),

		videoFramesReassembled: promauto.NewCounter(prometheus.CounterOpts{
			Name: "lanlink_video_frames_reassembled_total",
			Help: "Video frames reassembled from chunks and rendered",
		}),

		videoFramesDropped: promauto.NewCounter(prometheus.CounterOpts{
			Name: "lanlink_video_frames_dropped_total",
			Help: "Video frames dropped (stale, undecodable or truncated)",
		}),

		mediaBytesSent: promauto.NewCounter(prometheus.CounterOpts{
			Name: "lanlink_media_bytes_sent_total",
			Help: "Audio and video bytes sent",
		}),

		mediaBytesReceived: promauto.NewCounter(prometheus.CounterOpts{
			Name: "lanlink_media_bytes_received_total",
			Help: "Audio and video bytes received",
		}),
	}
}

func (c *Collector) SetPeersActive(n int) {
	c.peersActive.Set(float64(n))
}

func (c *Collector) RecordMessageSent(kind string) {
	c.messagesSent.WithLabelValues(kind).Inc()
}

func (c *Collector) RecordMessageReceived(kind string, bytes int) {
	c.messagesReceived.WithLabelValues(kind).Inc()
	c.messageBytes.Add(float64(bytes))
}

func (c *Collector) RecordCallOutcome(outcome string) {
	c.callsTotal.WithLabelValues(outcome).Inc()
}

func (c *Collector) SetCallState(state domain.CallState) {
	c.callState.Set(float64(state))
}

func (c *Collector) RecordVideoFrameSent(bytes int) {
	c.videoFramesSent.Inc()
	c.mediaBytesSent.Add(float64(bytes))
}

func (c *Collector) RecordVideoFrameReassembled(bytes int) {
	c.videoFramesReassembled.Inc()
	c.mediaBytesReceived.Add(float64(bytes))
}

func (c *Collector) RecordVideoFrameDropped() {
	c.videoFramesDropped.Inc()
}

func (c *Collector) RecordAudioSent(bytes int) {
	c.mediaBytesSent.Add(float64(bytes))
}

func (c *Collector) RecordAudioReceived(bytes int) {
	c.mediaBytesReceived.Add(float64(bytes))
}
