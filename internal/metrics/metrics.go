// Package metrics exposes Prometheus instrumentation for the caption relay.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the relay's Prometheus collectors.
type Metrics struct {
	registry *prometheus.Registry

	WebhooksReceived  prometheus.Counter
	WebhooksRejected  prometheus.Counter
	CaptionsBroadcast prometheus.Counter
	CaptionsStored    prometheus.Counter
	TTSRequests       prometheus.Counter
	TTSFailures       prometheus.Counter
}

// New creates the collector set on a dedicated registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,
		WebhooksReceived: factory.NewCounter(prometheus.CounterOpts{
			Name: "caption_relay_webhooks_received_total",
			Help: "Transcription webhooks received from the telephony provider.",
		}),
		WebhooksRejected: factory.NewCounter(prometheus.CounterOpts{
			Name: "caption_relay_webhooks_rejected_total",
			Help: "Webhooks rejected for a missing or invalid signature.",
		}),
		CaptionsBroadcast: factory.NewCounter(prometheus.CounterOpts{
			Name: "caption_relay_captions_broadcast_total",
			Help: "Caption frames fanned out to WebSocket subscribers.",
		}),
		CaptionsStored: factory.NewCounter(prometheus.CounterOpts{
			Name: "caption_relay_captions_stored_total",
			Help: "Final captions persisted to storage.",
		}),
		TTSRequests: factory.NewCounter(prometheus.CounterOpts{
			Name: "caption_relay_tts_requests_total",
			Help: "TTS injection requests received from clients.",
		}),
		TTSFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "caption_relay_tts_failures_total",
			Help: "TTS injections that failed leg resolution or redirect.",
		}),
	}
}

// RegisterSubscriberGauge exposes the live WebSocket subscriber count.
func (m *Metrics) RegisterSubscriberGauge(count func() int) {
	m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "caption_relay_websocket_subscribers",
		Help: "Currently connected WebSocket subscribers.",
	}, func() float64 {
		return float64(count())
	}))
}

// Handler returns the scrape endpoint for the registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
