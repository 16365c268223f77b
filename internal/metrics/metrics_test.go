package metrics

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/opensource-finance/heron/internal/domain"
)

func TestOutcome(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"Nil", nil, OutcomeAccepted},
		{"Conflict", fmt.Errorf("update: %w", domain.ErrConflictingState), OutcomeConflict},
		{"Illegal", domain.NewTransitionError("sar", "s1", "draft", "approve", ""), OutcomeRejected},
		{"Other", errors.New("boom"), OutcomeRejected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Outcome(tt.err); got != tt.want {
				t.Errorf("Outcome() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestCounters(t *testing.T) {
	m := New()

	m.AssessmentRecorded("high")
	m.AssessmentRecorded("high")
	m.TransitionResult("sar", "submit", nil)
	m.TransitionResult("sar", "submit", domain.ErrConflictingState)
	m.ObserveRequest("/sars/{sarId}", http.MethodGet, 200, 5*time.Millisecond)

	if got := testutil.ToFloat64(m.assessments.WithLabelValues("high")); got != 2 {
		t.Errorf("expected 2 high assessments, got %v", got)
	}
	if got := testutil.ToFloat64(m.transitions.WithLabelValues("sar", "submit", OutcomeAccepted)); got != 1 {
		t.Errorf("expected 1 accepted transition, got %v", got)
	}
	if got := testutil.ToFloat64(m.transitions.WithLabelValues("sar", "submit", OutcomeConflict)); got != 1 {
		t.Errorf("expected 1 conflicting transition, got %v", got)
	}
	if got := testutil.ToFloat64(m.httpRequestsTotal.WithLabelValues("/sars/{sarId}", "GET", "200")); got != 1 {
		t.Errorf("expected 1 request, got %v", got)
	}
}

func TestHandler(t *testing.T) {
	m := New()
	m.AssessmentRecorded("low")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `heron_assessments_total{level="low"} 1`) {
		t.Errorf("expected assessment counter in exposition, got:\n%s", rec.Body.String())
	}
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	m.AssessmentRecorded("low")
	m.TransitionResult("case", "transition", nil)
	m.ObserveRequest("/", "GET", 200, time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 from nil metrics handler, got %d", rec.Code)
	}
}
