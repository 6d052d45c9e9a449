// Package metrics — Prometheus-метрики live-трекинга. Отдаются на /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Результаты обработки входящего события сессией.
const (
	EventApplied = "applied"
	EventStale   = "stale"
	EventForeign = "foreign"
	EventLate    = "late"
)

var (
	SessionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tracking_sessions_active",
			Help: "Number of open tracking sessions",
		},
	)

	TelemetryEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tracking_telemetry_events_total",
			Help: "Telemetry events received by sessions, by result",
		},
		[]string{"result"},
	)

	SubscriptionFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tracking_subscription_failures_total",
			Help: "Failed attempts to establish a live telemetry subscription",
		},
	)

	HubDroppedEvents = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "telemetry_hub_dropped_events_total",
			Help: "Events dropped because a subscriber buffer was full",
		},
	)

	ViewAssemblies = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tracking_view_assemblies_total",
			Help: "Tracking view assemblies, by outcome",
		},
		[]string{"outcome"},
	)

	LiveConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tracking_live_connections",
			Help: "Open WebSocket tracking connections",
		},
	)

	TelemetryFeedUp = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "telemetry_feed_up",
			Help: "1 if the telemetry feed consumer is running",
		},
	)

	BreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "store_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	SimulatedEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "simulator_events_total",
			Help: "Telemetry events emitted by the simulator, by result",
		},
		[]string{"result"},
	)
)
