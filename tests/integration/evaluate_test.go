//go:build integration
// +build integration

// Package integration provides end-to-end tests against a running ClaimScan
// server.
//
// The tests replace the active reference snapshot and create a custom rule,
// so point them at a disposable instance:
//
//	claimscan serve &
//	CLAIMSCAN_TEST_URL=http://localhost:8080 go test -tags=integration -v ./tests/integration/...
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
)

// TestConfig holds test environment configuration
type TestConfig struct {
	BaseURL  string
	TenantID string
}

func getTestConfig() TestConfig {
	baseURL := os.Getenv("CLAIMSCAN_TEST_URL")
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}
	return TestConfig{
		BaseURL:  baseURL,
		TenantID: "integration-tenant",
	}
}

// Claim mirrors the API claim payload.
type Claim struct {
	ID           string     `json:"id"`
	BilledAmount float64    `json:"billedAmount"`
	Diagnoses    []string   `json:"diagnoses,omitempty"`
	Lines        []LineItem `json:"lines"`
	Provider     Provider   `json:"provider"`
}

type LineItem struct {
	ProcedureCode string   `json:"procedureCode"`
	Quantity      float64  `json:"quantity"`
	Charge        float64  `json:"charge"`
	Modifiers     []string `json:"modifiers,omitempty"`
}

type Provider struct {
	NPI       string `json:"npi"`
	Specialty string `json:"specialty,omitempty"`
}

// EvaluateResponse is what POST /evaluate returns
type EvaluateResponse struct {
	EvaluationID      string    `json:"evaluationId"`
	ClaimID           string    `json:"claimId"`
	Decision          string    `json:"decision"`
	Score             float64   `json:"score"`
	Findings          []Finding `json:"findings"`
	NCCIFlags         []string  `json:"ncciFlags"`
	ProviderFlags     []string  `json:"providerFlags"`
	EstimatedRecovery *float64  `json:"estimatedRecovery"`
	Reasons           []string  `json:"reasons"`
}

type Finding struct {
	RuleID   string `json:"ruleId"`
	Category string `json:"category"`
	Severity string `json:"severity"`
}

// ============================================================================
// Test Helper Functions
// ============================================================================

func call(t *testing.T, config TestConfig, method, path string, body any, wantStatus int) []byte {
	t.Helper()

	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("Failed to marshal request: %v", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequest(method, config.BaseURL+path, reader)
	if err != nil {
		t.Fatalf("Failed to create request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Tenant-ID", config.TenantID)

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("Failed to read response: %v", err)
	}
	if resp.StatusCode != wantStatus {
		t.Fatalf("%s %s: expected status %d, got %d: %s", method, path, wantStatus, resp.StatusCode, string(respBody))
	}
	return respBody
}

func evaluate(t *testing.T, config TestConfig, claim Claim) EvaluateResponse {
	t.Helper()

	var result EvaluateResponse
	body := call(t, config, http.MethodPost, "/evaluate", claim, http.StatusOK)
	if err := json.Unmarshal(body, &result); err != nil {
		t.Fatalf("Failed to unmarshal response: %v (body: %s)", err, string(body))
	}
	return result
}

func uniqueID(prefix string) string {
	return fmt.Sprintf("%s-%d", prefix, time.Now().UnixNano())
}

func hasRule(findings []Finding, ruleID string) bool {
	for _, f := range findings {
		if f.RuleID == ruleID {
			return true
		}
	}
	return false
}

// seedReference installs the reference snapshot every scenario relies on.
func seedReference(t *testing.T, config TestConfig) {
	t.Helper()

	reference := map[string]any{
		"version": "integration-v1",
		"conflictPairs": []map[string]string{
			{"column1": "99213", "column2": "36415", "modifierIndicator": "1"},
		},
		"unitLimits": map[string]int{"97110": 4},
		"exclusions": []string{"1111111111"},
		"feeBenchmarks": map[string]map[string]float64{
			"99213": {"national": 100},
		},
	}
	call(t, config, http.MethodPut, "/reference", reference, http.StatusOK)
}

// ============================================================================
// SCENARIOS
// ============================================================================

func TestCleanClaim_Informational(t *testing.T) {
	config := getTestConfig()
	seedReference(t, config)

	result := evaluate(t, config, Claim{
		ID:           uniqueID("clean"),
		BilledAmount: 90,
		Lines:        []LineItem{{ProcedureCode: "99213", Quantity: 1, Charge: 90}},
		Provider:     Provider{NPI: "2222222222"},
	})

	if result.Decision != "informational" {
		t.Errorf("Expected informational, got %s (score %.2f, findings %v)", result.Decision, result.Score, result.Findings)
	}
	if result.EstimatedRecovery != nil {
		t.Errorf("Expected no recovery estimate, got %v", *result.EstimatedRecovery)
	}
}

func TestConflictPairAndUnitLimit(t *testing.T) {
	config := getTestConfig()
	seedReference(t, config)

	result := evaluate(t, config, Claim{
		ID:           uniqueID("ncci"),
		BilledAmount: 400,
		Lines: []LineItem{
			{ProcedureCode: "99213", Quantity: 1, Charge: 100},
			{ProcedureCode: "36415", Quantity: 1, Charge: 20},
			{ProcedureCode: "97110", Quantity: 6, Charge: 280},
		},
		Provider: Provider{NPI: "2222222222"},
	})

	if !hasRule(result.Findings, "ncci-ptp") {
		t.Errorf("Expected ncci-ptp finding, got %v", result.Findings)
	}
	if !hasRule(result.Findings, "ncci-mue") {
		t.Errorf("Expected ncci-mue finding, got %v", result.Findings)
	}
	if len(result.NCCIFlags) < 2 {
		t.Errorf("Expected at least two NCCI flags, got %v", result.NCCIFlags)
	}
	if result.EstimatedRecovery == nil || *result.EstimatedRecovery <= 0 {
		t.Error("Expected a positive recovery estimate")
	}
}

func TestExcludedProvider_SoftHold(t *testing.T) {
	config := getTestConfig()
	seedReference(t, config)

	result := evaluate(t, config, Claim{
		ID:           uniqueID("excluded"),
		BilledAmount: 90,
		Lines:        []LineItem{{ProcedureCode: "99213", Quantity: 1, Charge: 90}},
		Provider:     Provider{NPI: "1111111111"},
	})

	if result.Decision != "soft_hold" {
		t.Errorf("Expected soft_hold for an excluded provider, got %s (score %.2f)", result.Decision, result.Score)
	}
	if len(result.Reasons) == 0 {
		t.Error("Expected reasons")
	}
}

func TestEvaluationRetrieval(t *testing.T) {
	config := getTestConfig()
	seedReference(t, config)

	claimID := uniqueID("history")
	first := evaluate(t, config, Claim{
		ID:       claimID,
		Lines:    []LineItem{{ProcedureCode: "99213", Quantity: 1, Charge: 90}},
		Provider: Provider{NPI: "2222222222"},
	})

	var stored EvaluateResponse
	body := call(t, config, http.MethodGet, "/evaluations/"+first.EvaluationID, nil, http.StatusOK)
	if err := json.Unmarshal(body, &stored); err != nil {
		t.Fatalf("Failed to unmarshal evaluation: %v", err)
	}
	if stored.ClaimID != claimID || stored.Decision != first.Decision {
		t.Errorf("Stored evaluation does not match: %+v", stored)
	}

	var history struct {
		Evaluations []EvaluateResponse `json:"evaluations"`
	}
	body = call(t, config, http.MethodGet, "/claims/"+claimID, nil, http.StatusOK)
	if err := json.Unmarshal(body, &history); err != nil {
		t.Fatalf("Failed to unmarshal claim history: %v", err)
	}
	if len(history.Evaluations) != 1 {
		t.Errorf("Expected 1 evaluation in history, got %d", len(history.Evaluations))
	}

	other := config
	other.TenantID = "another-tenant"
	call(t, other, http.MethodGet, "/evaluations/"+first.EvaluationID, nil, http.StatusNotFound)
}

func TestCustomRuleLifecycle(t *testing.T) {
	config := getTestConfig()
	seedReference(t, config)

	ruleID := uniqueID("large-claim")
	call(t, config, http.MethodPost, "/rules", map[string]any{
		"id":         ruleID,
		"name":       "Large claim",
		"expression": "billed_amount > 50000.0",
		"category":   "financial",
		"severity":   "medium",
		"enabled":    true,
	}, http.StatusCreated)
	call(t, config, http.MethodPost, "/rules/reload", nil, http.StatusOK)

	result := evaluate(t, config, Claim{
		ID:           uniqueID("large"),
		BilledAmount: 75000,
		Lines:        []LineItem{{ProcedureCode: "27447", Quantity: 1, Charge: 75000}},
		Provider:     Provider{NPI: "2222222222"},
	})
	if !hasRule(result.Findings, ruleID) {
		t.Errorf("Expected custom rule %s to fire, got %v", ruleID, result.Findings)
	}

	call(t, config, http.MethodPost, "/rules", map[string]any{
		"id":         uniqueID("broken"),
		"name":       "Broken",
		"expression": "billed_amount +",
		"category":   "financial",
		"severity":   "low",
		"enabled":    true,
	}, http.StatusBadRequest)
}

func TestAsyncEvaluation(t *testing.T) {
	config := getTestConfig()
	seedReference(t, config)

	claimID := uniqueID("async")
	call(t, config, http.MethodPost, "/evaluate?async=true", Claim{
		ID:       claimID,
		Lines:    []LineItem{{ProcedureCode: "99213", Quantity: 1, Charge: 90}},
		Provider: Provider{NPI: "1111111111"},
	}, http.StatusAccepted)

	// The worker persists the claim and its evaluation
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		req, _ := http.NewRequest(http.MethodGet, config.BaseURL+"/claims/"+claimID, nil)
		req.Header.Set("X-Tenant-ID", config.TenantID)
		resp, err := http.DefaultClient.Do(req)
		if err == nil {
			var history struct {
				Evaluations []EvaluateResponse `json:"evaluations"`
			}
			json.NewDecoder(resp.Body).Decode(&history)
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK && len(history.Evaluations) > 0 {
				if history.Evaluations[0].Decision != "soft_hold" {
					t.Errorf("Expected soft_hold, got %s", history.Evaluations[0].Decision)
				}
				return
			}
		}
		time.Sleep(100 * time.Millisecond)
	}
	t.Fatal("async evaluation was not persisted in time (is the worker enabled?)")
}

func TestReferenceStats(t *testing.T) {
	config := getTestConfig()
	seedReference(t, config)

	var stats struct {
		Version       string `json:"version"`
		ConflictPairs int    `json:"conflictPairs"`
		Exclusions    int    `json:"exclusions"`
	}
	body := call(t, config, http.MethodGet, "/reference", nil, http.StatusOK)
	if err := json.Unmarshal(body, &stats); err != nil {
		t.Fatalf("Failed to unmarshal stats: %v", err)
	}
	if stats.Version != "integration-v1" || stats.ConflictPairs != 1 || stats.Exclusions != 1 {
		t.Errorf("Unexpected reference stats: %+v", stats)
	}
}
