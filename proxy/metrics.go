// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package proxy

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Prometheus metrics
var (
	promRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "axonflow_gateway_requests_total",
			Help: "Total number of chat requests processed by the gateway",
		},
		[]string{"status"},
	)
	promRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "axonflow_gateway_request_duration_milliseconds",
			Help:    "End-to-end chat request duration in milliseconds",
			Buckets: []float64{10, 50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000},
		},
		[]string{"provider"},
	)
	promBlockedRequests = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "axonflow_gateway_blocked_requests_total",
			Help: "Total number of requests blocked by security rules",
		},
	)
	promPIIMatches = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "axonflow_gateway_pii_matches_total",
			Help: "Total number of PII entities detected across all messages",
		},
	)
	promRateLimited = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "axonflow_gateway_rate_limited_total",
			Help: "Total number of requests rejected by the rate limiter",
		},
	)
)

func init() {
	prometheus.MustRegister(promRequestsTotal)
	prometheus.MustRegister(promRequestDuration)
	prometheus.MustRegister(promBlockedRequests)
	prometheus.MustRegister(promPIIMatches)
	prometheus.MustRegister(promRateLimited)
}
