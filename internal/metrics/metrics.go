// Package metrics declares the relay's Prometheus instrumentation.
//
// Naming convention: namespace_subsystem_name.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ActiveConnections tracks current WebSocket connections by role.
	ActiveConnections = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "musicsync",
		Subsystem: "websocket",
		Name:      "connections_active",
		Help:      "Current number of active WebSocket connections by role",
	}, []string{"role"})

	// ActiveSessions tracks the current number of rooms with at least one member.
	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "musicsync",
		Subsystem: "session",
		Name:      "active",
		Help:      "Current number of active sessions (rooms)",
	})

	// FrameFanout tracks frames delivered during local fan-out.
	FrameFanout = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "musicsync",
		Subsystem: "relay",
		Name:      "frames_fanned_out_total",
		Help:      "Total frames delivered to local recipients",
	}, []string{"sender_role"})

	// FramesDropped tracks frames dropped for validation or back-pressure reasons.
	FramesDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "musicsync",
		Subsystem: "relay",
		Name:      "frames_dropped_total",
		Help:      "Total inbound frames dropped",
	}, []string{"reason"})

	// GraceTimerEvents tracks disconnect-grace FSM transitions.
	GraceTimerEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "musicsync",
		Subsystem: "relay",
		Name:      "grace_timer_events_total",
		Help:      "Disconnect-grace FSM transitions",
	}, []string{"transition"})

	// IdentifyQueueDepth tracks the current identify pool queue depth.
	IdentifyQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "musicsync",
		Subsystem: "identify",
		Name:      "queue_depth",
		Help:      "Current number of pending identify jobs",
	})

	// IdentifyJobs tracks completed identify jobs by outcome.
	IdentifyJobs = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "musicsync",
		Subsystem: "identify",
		Name:      "jobs_total",
		Help:      "Total identify jobs processed",
	}, []string{"outcome"})

	// RateLimitExceeded tracks requests rejected by the rate limiter.
	RateLimitExceeded = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "musicsync",
		Subsystem: "rate_limit",
		Name:      "exceeded_total",
		Help:      "Total requests that exceeded the rate limit",
	}, []string{"prefix"})

	// SubstrateCircuitState tracks the KV adapter's circuit breaker state.
	// 0: Closed, 1: Open, 2: Half-Open.
	SubstrateCircuitState = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "musicsync",
		Subsystem: "substrate",
		Name:      "circuit_state",
		Help:      "Current state of the shared-substrate circuit breaker",
	})

	// SubstrateDegradedOps tracks operations that fell back to local mode.
	SubstrateDegradedOps = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "musicsync",
		Subsystem: "substrate",
		Name:      "degraded_ops_total",
		Help:      "Total operations that degraded to the in-process fallback",
	}, []string{"op"})
)
