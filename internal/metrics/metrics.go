// Elife - Daelim e-Life Smart Home Cloud Bridge
// Copyright 2026 Hyun K. (hyun-k)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/hyun-k/elife

// Package metrics provides Prometheus instrumentation for the bridge:
// session lifecycle, cloud API calls, push-channel frames and recovery
// cycles, and device state-store activity. All collectors register on the
// default registry and are served by the API layer's /metrics endpoint.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Session Metrics
	LoginsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "elife_logins_total",
			Help: "Total number of login attempts against the cloud service",
		},
		[]string{"outcome"}, // "success", "failure"
	)

	SessionTokenExpiry = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "elife_session_token_expiry_timestamp_seconds",
			Help: "Unix timestamp at which the current session token expires",
		},
	)

	// Cloud API Metrics
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "elife_api_requests_total",
			Help: "Total number of cloud API requests",
		},
		[]string{"path", "outcome"}, // outcome: "success", "failure", "rejected"
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "elife_api_request_duration_seconds",
			Help:    "Cloud API request duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"path"},
	)

	APIRetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "elife_api_retries_total",
			Help: "Total number of retried cloud API requests by status code",
		},
		[]string{"status"},
	)

	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "elife_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "elife_circuit_breaker_transitions_total",
			Help: "Total number of circuit breaker state transitions",
		},
		[]string{"name", "from", "to"},
	)

	// Push Channel Metrics
	PushConnected = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "elife_push_connected",
			Help: "Whether the push channel is currently connected (1) or not (0)",
		},
	)

	PushFramesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "elife_push_frames_total",
			Help: "Total number of inbound push frames by classification",
		},
		[]string{"class"}, // "response", "event", "keepalive", "expiry", "malformed"
	)

	PushReconnectsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "elife_push_reconnects_total",
			Help: "Total number of push channel reconnect cycles by cause",
		},
		[]string{"cause"}, // "transient", "expiry"
	)

	// Device State Store Metrics
	DeltasAppliedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "elife_state_deltas_applied_total",
			Help: "Total number of device deltas merged into the state store",
		},
	)

	DeltasUnknownDevice = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "elife_state_deltas_unknown_device_total",
			Help: "Total number of deltas dropped because the uid is not in the catalog",
		},
	)

	BackfillTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "elife_backfill_total",
			Help: "Total number of setup-time status backfill queries by outcome",
		},
		[]string{"outcome"}, // "success", "failure"
	)
)
