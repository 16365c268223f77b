// Package metrics exposes Prometheus collectors for the workflow engine.
package metrics

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/opensource-finance/heron/internal/domain"
)

// Transition outcomes.
const (
	OutcomeAccepted = "accepted"
	OutcomeRejected = "rejected"
	OutcomeConflict = "conflict"
)

// Metrics holds the collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	assessments         *prometheus.CounterVec
	transitions         *prometheus.CounterVec
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
}

// New creates collectors registered on a private registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		assessments: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "heron",
				Name:      "assessments_total",
				Help:      "Risk assessments recorded, by level",
			},
			[]string{"level"},
		),
		transitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "heron",
				Name:      "workflow_transitions_total",
				Help:      "Workflow actions, by entity, action and outcome",
			},
			[]string{"entity", "action", "outcome"},
		),
		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "heron",
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"route", "method", "code"},
		),
		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "heron",
				Name:      "http_request_duration_seconds",
				Help:      "Histogram of response latency (seconds) for HTTP requests",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"route", "method"},
		),
	}

	m.registry.MustRegister(
		m.assessments,
		m.transitions,
		m.httpRequestsTotal,
		m.httpRequestDuration,
	)
	return m
}

// AssessmentRecorded counts a stored assessment.
func (m *Metrics) AssessmentRecorded(level string) {
	if m == nil {
		return
	}
	m.assessments.WithLabelValues(level).Inc()
}

// Transition counts a workflow action.
func (m *Metrics) Transition(entity, action, outcome string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(entity, action, outcome).Inc()
}

// TransitionResult counts a workflow action by the error it returned.
func (m *Metrics) TransitionResult(entity, action string, err error) {
	m.Transition(entity, action, Outcome(err))
}

// Outcome classifies a workflow error.
func Outcome(err error) string {
	switch {
	case err == nil:
		return OutcomeAccepted
	case errors.Is(err, domain.ErrConflictingState):
		return OutcomeConflict
	default:
		return OutcomeRejected
	}
}

// ObserveRequest records one HTTP request.
func (m *Metrics) ObserveRequest(route, method string, code int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.httpRequestsTotal.WithLabelValues(route, method, strconv.Itoa(code)).Inc()
	m.httpRequestDuration.WithLabelValues(route, method).Observe(elapsed.Seconds())
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
	return m.registry
}
