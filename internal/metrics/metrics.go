// Package metrics provides Prometheus metrics for the console.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TokenRefreshTotal counts token refresh attempts by trigger and result.
	TokenRefreshTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "console",
			Name:      "token_refresh_total",
			Help:      "Total number of token refresh attempts",
		},
		[]string{"trigger", "result"},
	)

	// SessionTransitionsTotal counts identity session state transitions.
	SessionTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "console",
			Name:      "session_transitions_total",
			Help:      "Total number of identity session state transitions",
		},
		[]string{"to"},
	)

	// GatewayRequestsTotal counts outbound requests by service and final status.
	GatewayRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "console",
			Name:      "gateway_requests_total",
			Help:      "Total number of outbound gateway requests",
		},
		[]string{"service", "method", "status"},
	)

	// GatewayRequestDuration measures outbound request duration including retries.
	GatewayRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "console",
			Name:      "gateway_request_duration_seconds",
			Help:      "Duration of outbound gateway requests in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service"},
	)

	// GatewayRetriesTotal counts retried attempts.
	GatewayRetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "console",
			Name:      "gateway_retries_total",
			Help:      "Total number of retried gateway attempts",
		},
		[]string{"service"},
	)

	// StepCompletionsTotal counts onboarding step completion calls.
	StepCompletionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "console",
			Name:      "onboarding_step_completions_total",
			Help:      "Total number of onboarding step completion calls",
		},
		[]string{"flag", "result"},
	)

	// AccessDecisionsTotal counts access guard decisions by kind.
	AccessDecisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "console",
			Name:      "access_decisions_total",
			Help:      "Total number of route access decisions",
		},
		[]string{"decision"},
	)
)

// RecordTokenRefresh records a refresh attempt.
func RecordTokenRefresh(trigger string, err error) {
	TokenRefreshTotal.WithLabelValues(trigger, result(err)).Inc()
}

// RecordSessionTransition records a session state change.
func RecordSessionTransition(to string) {
	SessionTransitionsTotal.WithLabelValues(to).Inc()
}

// RecordGatewayRequest records a finished gateway request. status is 0 for
// transport failures.
func RecordGatewayRequest(service, method string, status int, elapsed time.Duration) {
	label := "transport_error"
	if status > 0 {
		label = strconv.Itoa(status)
	}
	GatewayRequestsTotal.WithLabelValues(service, method, label).Inc()
	GatewayRequestDuration.WithLabelValues(service).Observe(elapsed.Seconds())
}

// RecordGatewayRetry records one retried attempt.
func RecordGatewayRetry(service string) {
	GatewayRetriesTotal.WithLabelValues(service).Inc()
}

// RecordStepCompletion records a markStepComplete call.
func RecordStepCompletion(flag string, err error) {
	StepCompletionsTotal.WithLabelValues(flag, result(err)).Inc()
}

// RecordAccessDecision records an access guard decision.
func RecordAccessDecision(kind string) {
	AccessDecisionsTotal.WithLabelValues(kind).Inc()
}

func result(err error) string {
	if err != nil {
		return "failure"
	}
	return "success"
}
