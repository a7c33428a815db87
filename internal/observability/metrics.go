// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keystride Contributors

package observability

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Auth event names recorded by AuthEvent.
const (
	EventRegister      = "register"
	EventLogin         = "login"
	EventProfileUpdate = "profile_update"
	EventTokenRejected = "token_rejected"
)

// Metrics holds the Keystride application metrics.
// All methods are safe to call on a nil *Metrics.
type Metrics struct {
	HTTPRequests   *prometheus.CounterVec
	HTTPDuration   *prometheus.HistogramVec
	AuthEvents     *prometheus.CounterVec
	ProgressWrites *prometheus.CounterVec
}

// NewRegistry returns a registry carrying the Go runtime and process collectors.
// A dedicated registry keeps the global one untouched.
func NewRegistry() *prometheus.Registry {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return registry
}

// NewMetrics creates and registers the application metrics on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		HTTPRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "keystride_http_requests_total",
				Help: "Total number of API requests by route and status code",
			},
			[]string{"route", "status"},
		),
		HTTPDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "keystride_http_request_duration_seconds",
				Help:    "API request latency by route",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"route"},
		),
		AuthEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "keystride_auth_events_total",
				Help: "Total number of authentication events by event and outcome",
			},
			[]string{"event", "outcome"},
		),
		ProgressWrites: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "keystride_progress_writes_total",
				Help: "Total number of progress submissions by outcome",
			},
			[]string{"outcome"},
		),
	}

	reg.MustRegister(m.HTTPRequests, m.HTTPDuration, m.AuthEvents, m.ProgressWrites)
	return m
}

// ObserveRequest records one finished API request.
func (m *Metrics) ObserveRequest(route string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(route, strconv.Itoa(status)).Inc()
	m.HTTPDuration.WithLabelValues(route).Observe(elapsed.Seconds())
}

// AuthEvent counts an authentication event. outcome is "success" or an error code.
func (m *Metrics) AuthEvent(event, outcome string) {
	if m == nil {
		return
	}
	m.AuthEvents.WithLabelValues(event, outcome).Inc()
}

// ProgressWrite counts a progress submission. outcome is created, updated or an error code.
func (m *Metrics) ProgressWrite(outcome string) {
	if m == nil {
		return
	}
	m.ProgressWrites.WithLabelValues(outcome).Inc()
}
