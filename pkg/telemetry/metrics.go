// SPDX-FileCopyrightText: Copyright 2025 Ascending LLC
// SPDX-License-Identifier: Apache-2.0

// Package telemetry exposes the gateway's Prometheus metrics: enforcement
// decisions, token issuance, and discovery query latency.
package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Decision outcomes recorded by the enforcement point.
const (
	DecisionAllowed     = "allowed"
	DecisionDeniedAuthn = "denied_authentication"
	DecisionDeniedScope = "denied_authorization"
	DecisionDeniedInput = "denied_bad_request"
)

var (
	validateDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mcpgw",
		Subsystem: "validate",
		Name:      "decisions_total",
		Help:      "Enforcement point decisions by outcome and auth method.",
	}, []string{"decision", "auth_method"})

	tokensIssued = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mcpgw",
		Subsystem: "auth",
		Name:      "tokens_issued_total",
		Help:      "Access tokens issued by grant type.",
	}, []string{"grant_type"})

	searchRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mcpgw",
		Subsystem: "discovery",
		Name:      "search_requests_total",
		Help:      "Discovery searches by kind and outcome.",
	}, []string{"kind", "outcome"})

	searchLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "mcpgw",
		Subsystem: "discovery",
		Name:      "search_duration_seconds",
		Help:      "Discovery search latency by kind.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"kind"})
)

// RecordDecision counts one enforcement decision.
func RecordDecision(decision, authMethod string) {
	validateDecisions.WithLabelValues(decision, authMethod).Inc()
}

// RecordTokenIssued counts one minted access token.
func RecordTokenIssued(grantType string) {
	tokensIssued.WithLabelValues(grantType).Inc()
}

// RecordSearch counts one discovery search and observes its latency.
func RecordSearch(kind, outcome string, elapsed time.Duration) {
	searchRequests.WithLabelValues(kind, outcome).Inc()
	searchLatency.WithLabelValues(kind).Observe(elapsed.Seconds())
}

// Handler serves the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
