// Package metrics holds the relay's Prometheus collectors.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// SessionsActive is the number of connected participants.
	SessionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "parley_sessions_active",
			Help: "Number of currently connected participant sessions",
		},
	)

	// SessionsTotal counts every session ever registered.
	SessionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "parley_sessions_total",
			Help: "Total number of participant sessions registered",
		},
	)

	// CallEvents counts call lifecycle events by kind.
	CallEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "parley_call_events_total",
			Help: "Total number of call lifecycle events",
		},
		[]string{"kind"},
	)

	// SignalingErrors counts frames rejected back to their sender.
	SignalingErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "parley_signaling_errors_total",
			Help: "Total number of signaling frames rejected, by error code",
		},
		[]string{"code"},
	)

	// Translations counts translated fragments by which step produced the text.
	Translations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "parley_translations_total",
			Help: "Total number of translation results, by outcome",
		},
		[]string{"outcome"},
	)

	// TranslationDuration is the engine chain latency.
	TranslationDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "parley_translation_duration_seconds",
			Help:    "Duration of translation engine chain calls",
			Buckets: prometheus.DefBuckets,
		},
	)

	// SlowConsumers counts connections closed because their send queue filled.
	SlowConsumers = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "parley_slow_consumer_disconnects_total",
			Help: "Total number of connections closed for not keeping up",
		},
	)
)

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
