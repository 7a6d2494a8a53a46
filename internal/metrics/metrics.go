// Package metrics exposes the Prometheus instrumentation for the decision
// pipeline and its transports.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the edge service.
type Metrics struct {
	// Pipeline metrics
	DetectionsTotal *prometheus.CounterVec
	DecisionsTotal  *prometheus.CounterVec
	AlarmsTotal     *prometheus.CounterVec
	InboundDropped  *prometheus.CounterVec
	DecideDuration  prometheus.Histogram

	// Fan-out metrics
	EventsBroadcast *prometheus.CounterVec
	WSClients       prometheus.Gauge

	// Transport metrics
	MQTTConnected prometheus.Gauge
}

// New creates and registers all metrics on reg. Tests pass a fresh
// prometheus.NewRegistry() to avoid duplicate registration.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		DetectionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "edge_detections_total",
				Help: "Total tag detections received from the reader stream",
			},
			[]string{"gate_id"},
		),

		DecisionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "edge_decisions_total",
				Help: "Total decisions emitted, by decision and reason",
			},
			[]string{"decision", "reason"},
		),

		AlarmsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "edge_alarms_total",
				Help: "Total alarms raised (audit row appended, pulse sent)",
			},
			[]string{"gate_id"},
		),

		InboundDropped: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "edge_inbound_dropped_total",
				Help: "Inbound reader messages dropped before a decision",
			},
			[]string{"cause"}, // cause: overflow, parse, decide
		),

		DecideDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "edge_decide_duration_seconds",
				Help:    "Latency of a single decision including store lookup",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
			},
		),

		EventsBroadcast: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "edge_events_broadcast_total",
				Help: "Events handed to the WebSocket fan-out, by type",
			},
			[]string{"type"},
		),

		WSClients: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "edge_ws_clients",
				Help: "Currently connected WebSocket subscribers",
			},
		),

		MQTTConnected: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "edge_mqtt_connected",
				Help: "Whether the broker connection is up (1) or down (0)",
			},
		),
	}
}

// RecordDetection counts one inbound detection.
func (m *Metrics) RecordDetection(gateID string) {
	m.DetectionsTotal.WithLabelValues(gateID).Inc()
}

// RecordDecision counts a decision outcome and its latency.
func (m *Metrics) RecordDecision(decision, reason string, seconds float64) {
	m.DecisionsTotal.WithLabelValues(decision, reason).Inc()
	m.DecideDuration.Observe(seconds)
}

// RecordAlarm counts a raised alarm.
func (m *Metrics) RecordAlarm(gateID string) {
	m.AlarmsTotal.WithLabelValues(gateID).Inc()
}

// RecordDropped counts an inbound message dropped before deciding.
func (m *Metrics) RecordDropped(cause string) {
	m.InboundDropped.WithLabelValues(cause).Inc()
}

// RecordBroadcast counts an event offered to the fan-out.
func (m *Metrics) RecordBroadcast(eventType string) {
	m.EventsBroadcast.WithLabelValues(eventType).Inc()
}

// SetWSClients tracks the live subscriber count.
func (m *Metrics) SetWSClients(n int) {
	m.WSClients.Set(float64(n))
}

// SetMQTTConnected flips the broker connectivity gauge.
func (m *Metrics) SetMQTTConnected(up bool) {
	v := 0.0
	if up {
		v = 1.0
	}
	m.MQTTConnected.Set(v)
}
