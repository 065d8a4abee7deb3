// Package metrics exposes Prometheus instrumentation for the funnel.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "funnelpipe"

// Metrics holds the funnel collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	deliveryAttempts *prometheus.CounterVec
	deliveryLatency  *prometheus.HistogramVec
	stageTransitions *prometheus.CounterVec
	remindersFired   *prometheus.CounterVec
	inboundMessages  *prometheus.CounterVec
}

// New creates the collectors and registers them with a private registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		deliveryAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "delivery",
				Name:      "attempts_total",
				Help:      "Counts delivery attempts by send method and result",
			},
			[]string{"method", "result"}, // result: ok, error
		),
		deliveryLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "delivery",
				Name:      "latency_seconds",
				Help:      "Time from request start to the winning delivery attempt",
				Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 15, 20, 30, 60},
			},
			[]string{"media_type"},
		),
		stageTransitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "session",
				Name:      "transitions_total",
				Help:      "Counts session stage transitions by target stage",
			},
			[]string{"stage"},
		),
		remindersFired: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "scheduler",
				Name:      "timers_fired_total",
				Help:      "Counts timer firings by kind and whether they acted",
			},
			[]string{"kind", "outcome"}, // outcome: sent, stale, failed
		),
		inboundMessages: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "inbound",
				Name:      "messages_total",
				Help:      "Counts inbound messages by processing outcome",
			},
			[]string{"outcome"}, // outcome: handled, ignored, failed, filtered, duplicate
		),
	}
	m.registry.MustRegister(
		m.deliveryAttempts,
		m.deliveryLatency,
		m.stageTransitions,
		m.remindersFired,
		m.inboundMessages,
		prometheus.NewGoCollector(),
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// RecordDeliveryAttempt counts one send attempt.
func (m *Metrics) RecordDeliveryAttempt(method string, ok bool) {
	if m == nil {
		return
	}
	m.deliveryAttempts.WithLabelValues(method, resultLabel(ok)).Inc()
}

// ObserveDeliveryLatency records the latency of a successful delivery.
func (m *Metrics) ObserveDeliveryLatency(mediaType string, d time.Duration) {
	if m == nil {
		return
	}
	m.deliveryLatency.WithLabelValues(mediaType).Observe(d.Seconds())
}

// RecordTransition counts a session entering stage.
func (m *Metrics) RecordTransition(stage string) {
	if m == nil {
		return
	}
	m.stageTransitions.WithLabelValues(stage).Inc()
}

// RecordTimerFired counts a timer callback.
func (m *Metrics) RecordTimerFired(kind, outcome string) {
	if m == nil {
		return
	}
	m.remindersFired.WithLabelValues(kind, outcome).Inc()
}

// RecordInbound counts an inbound message outcome.
func (m *Metrics) RecordInbound(outcome string) {
	if m == nil {
		return
	}
	m.inboundMessages.WithLabelValues(outcome).Inc()
}

func resultLabel(ok bool) string {
	if ok {
		return "ok"
	}
	return "error"
}
