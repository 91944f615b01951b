package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the client side counters of a chat session.
type Metrics struct {
	Reconnects    prometheus.Counter
	Frames        *prometheus.CounterVec
	DedupDrops    prometheus.Counter
	FallbackSends *prometheus.CounterVec
	Pending       prometheus.Gauge
	Uploads       *prometheus.CounterVec
}

// New creates the collectors and registers them with reg.
// A nil reg creates unregistered collectors.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Reconnects: f.NewCounter(prometheus.CounterOpts{
			Name: "merechat_reconnects_total",
			Help: "Number of scheduled reconnect attempts.",
		}),
		Frames: f.NewCounterVec(prometheus.CounterOpts{
			Name: "merechat_frames_total",
			Help: "Inbound frames by type.",
		}, []string{"type"}),
		DedupDrops: f.NewCounter(prometheus.CounterOpts{
			Name: "merechat_dedup_drops_total",
			Help: "Inbound messages dropped because they were already rendered.",
		}),
		FallbackSends: f.NewCounterVec(prometheus.CounterOpts{
			Name: "merechat_fallback_sends_total",
			Help: "Messages sent through the REST fallback by result.",
		}, []string{"result"}),
		Pending: f.NewGauge(prometheus.GaugeOpts{
			Name: "merechat_pending_messages",
			Help: "Messages waiting for server confirmation.",
		}),
		Uploads: f.NewCounterVec(prometheus.CounterOpts{
			Name: "merechat_uploads_total",
			Help: "Attachment uploads by result.",
		}, []string{"result"}),
	}
}
