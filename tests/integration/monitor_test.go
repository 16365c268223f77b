//go:build integration
// +build integration

// Package integration provides end-to-end tests against a running Heron.
//
// These tests drive the whole pipeline over HTTP:
//
//	Transaction -> Monitor -> Alert -> Case -> SAR
//
// Run with: HERON_TEST_URL=http://localhost:8080 go test -tags=integration -v ./tests/integration/...
//
// The server must be started with the shipped rule seed (configs/rules.yaml),
// the transaction monitor enabled and no JWT secret, so actors are read from
// the X-Actor-ID and X-Actor-Role headers.
package integration

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
)

// TestConfig holds test environment configuration
type TestConfig struct {
	BaseURL string
}

func getTestConfig() TestConfig {
	baseURL := os.Getenv("HERON_TEST_URL")
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}
	return TestConfig{BaseURL: baseURL}
}

type session struct {
	t      *testing.T
	config TestConfig
	actor  string
	role   string
	client *http.Client
}

func newSession(t *testing.T, role string) *session {
	return &session{
		t:      t,
		config: getTestConfig(),
		actor:  "it-" + role,
		role:   role,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// call sends a request and decodes the response into out. It returns the status code.
func (s *session) call(method, path string, body, out any) int {
	s.t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			s.t.Fatalf("failed to marshal request: %v", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, s.config.BaseURL+path, reader)
	if err != nil {
		s.t.Fatalf("failed to create request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Actor-ID", s.actor)
	req.Header.Set("X-Actor-Role", s.role)

	resp, err := s.client.Do(req)
	if err != nil {
		s.t.Fatalf("request failed (is Heron running at %s?): %v", s.config.BaseURL, err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	if out != nil && len(raw) > 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			s.t.Fatalf("failed to decode %s %s response: %v\nbody: %s", method, path, err, raw)
		}
	}
	return resp.StatusCode
}

func (s *session) must(method, path string, body any, want int, out any) {
	s.t.Helper()
	if got := s.call(method, path, body, out); got != want {
		s.t.Fatalf("%s %s: expected status %d, got %d", method, path, want, got)
	}
}

type transaction struct {
	ID        string  `json:"id"`
	Status    string  `json:"status"`
	RiskScore float64 `json:"riskScore"`
	IsSuspect bool    `json:"isSuspect"`
}

func (s *session) newSubject() string {
	id := "it-" + uuid.New().String()
	s.must(http.MethodPost, "/subjects", map[string]any{
		"id": id, "name": "Integration Subject", "kycStatus": "approved", "country": "GB",
	}, http.StatusCreated, nil)
	return id
}

func (s *session) record(subjectID, amount, country string) transaction {
	var tx transaction
	s.must(http.MethodPost, "/transactions", map[string]any{
		"senderUserId": subjectID, "senderAmount": amount, "senderCurrency": "USD",
		"method": "wire", "senderCountryCode": "GB", "receiverCountryCode": country,
	}, http.StatusCreated, &tx)
	return tx
}

// waitScored polls until the monitor has scored the transaction.
func (s *session) waitScored(id string) transaction {
	s.t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		var tx transaction
		s.must(http.MethodGet, "/transactions/"+id, nil, http.StatusOK, &tx)
		if tx.RiskScore > 0 || tx.IsSuspect {
			return tx
		}
		if time.Now().After(deadline) {
			s.t.Fatalf("monitor did not score transaction %s", id)
		}
		time.Sleep(50 * time.Millisecond)
	}
}

func TestSmallTransfer_NotFlagged(t *testing.T) {
	s := newSession(t, "analyst")
	subject := s.newSubject()

	tx := s.waitScored(s.record(subject, "100.00", "FR").ID)
	if tx.IsSuspect || tx.Status != "completed" {
		t.Errorf("expected a scored but unflagged transaction, got %+v", tx)
	}
}

func TestHighRiskTransfer_FullCaseFlow(t *testing.T) {
	analyst := newSession(t, "analyst")
	officer := newSession(t, "officer")
	subject := analyst.newSubject()

	tx := analyst.waitScored(analyst.record(subject, "50000.00", "IR").ID)
	if !tx.IsSuspect || tx.Status != "flagged" {
		t.Fatalf("expected the monitor to flag the transaction, got %+v", tx)
	}

	var view struct {
		Alerts []struct {
			ID     string `json:"id"`
			Status string `json:"status"`
		} `json:"alerts"`
	}
	analyst.must(http.MethodGet, "/subjects/"+subject+"/view", nil, http.StatusOK, &view)
	if len(view.Alerts) != 1 {
		t.Fatalf("expected one alert, got %d", len(view.Alerts))
	}

	var escalated struct {
		Case struct {
			ID string `json:"id"`
		} `json:"case"`
	}
	analyst.must(http.MethodPost, "/alerts/"+view.Alerts[0].ID+"/escalate", nil, http.StatusCreated, &escalated)

	var report struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	analyst.must(http.MethodPost, "/sars/from-case", map[string]string{"caseId": escalated.Case.ID}, http.StatusCreated, &report)
	analyst.must(http.MethodPost, "/sars/"+report.ID+"/transactions", map[string]any{"transactionIds": []string{tx.ID}}, http.StatusOK, nil)
	analyst.must(http.MethodPost, "/sars/"+report.ID+"/actions", map[string]string{"action": "submit", "notes": "wire to IR"}, http.StatusOK, nil)
	analyst.must(http.MethodPost, "/sars/"+report.ID+"/actions", map[string]string{"action": "approve", "notes": "filed"}, http.StatusOK, &report)
	if report.Status != "filed" {
		t.Fatalf("expected filed SAR, got %s", report.Status)
	}

	if got := analyst.call(http.MethodPost, "/sars/"+report.ID+"/actions", map[string]string{"action": "reopen", "notes": "x"}, nil); got != http.StatusConflict {
		t.Errorf("expected analyst reopen to be rejected with 409, got %d", got)
	}
	officer.must(http.MethodPost, "/sars/"+report.ID+"/actions", map[string]string{"action": "reopen", "notes": "new facts"}, http.StatusOK, nil)

	var consistency struct {
		Consistent bool `json:"consistent"`
	}
	analyst.must(http.MethodGet, "/subjects/"+subject+"/consistency", nil, http.StatusOK, &consistency)
	if !consistency.Consistent {
		t.Error("expected a consistent subject after the workflow")
	}
}

func TestAssessment_SeededKYCRules(t *testing.T) {
	s := newSession(t, "analyst")
	id := "it-" + uuid.New().String()
	s.must(http.MethodPost, "/subjects", map[string]any{
		"id": id, "name": "Exposed", "kycStatus": "approved", "isPep": true,
	}, http.StatusCreated, nil)

	var result struct {
		Score        float64 `json:"score"`
		Level        string  `json:"level"`
		MatchedRules []struct {
			RuleID string `json:"ruleId"`
		} `json:"matchedRules"`
	}
	s.must(http.MethodPost, fmt.Sprintf("/subjects/%s/assessments", id), nil, http.StatusCreated, &result)

	found := false
	for _, m := range result.MatchedRules {
		if m.RuleID == "KYC-PEP" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected KYC-PEP to match, got %+v", result.MatchedRules)
	}
	if result.Level == "" || result.Score < 0 || result.Score > 100 {
		t.Errorf("unexpected result: %+v", result)
	}
}

func TestMissingActor_Unauthorized(t *testing.T) {
	config := getTestConfig()
	resp, err := http.Get(config.BaseURL + "/rules")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected status 401, got %d", resp.StatusCode)
	}
}
