package domain

import (
	"time"
)

// Outcome is the verdict for one claim. It is a pure function of the claim,
// the reference snapshot, and the scoring configuration: it carries no
// timestamps or generated identifiers.
type Outcome struct {
	ClaimID  string    `json:"claimId"`
	Score    float64   `json:"score"`
	Findings []RuleHit `json:"findings"`

	// Deduplicated flag tags per rule family
	NCCIFlags     []string `json:"ncciFlags"`
	CoverageFlags []string `json:"coverageFlags"`
	ProviderFlags []string `json:"providerFlags"`

	Decision Tier `json:"decision"`

	// Nil when there are no findings
	EstimatedRecovery *float64 `json:"estimatedRecovery"`

	ReferenceVersion string `json:"referenceVersion,omitempty"`
}

// Evaluation is the persisted envelope around an Outcome.
type Evaluation struct {
	ID        string    `json:"id"`
	TenantID  string    `json:"tenantId"`
	ClaimID   string    `json:"claimId"`
	Outcome   Outcome   `json:"outcome"`
	Timestamp time.Time `json:"timestamp"`

	// Processing metadata
	Metadata EvaluationMetadata `json:"metadata"`
}

// EvaluationMetadata contains processing information.
type EvaluationMetadata struct {
	TraceID          string `json:"traceId"`
	IngestMs         int64  `json:"ingestMs"`
	RulesMs          int64  `json:"rulesMs"`
	TotalMs          int64  `json:"totalMs"`
	FindingsCount    int    `json:"findingsCount"`
	CustomRulesRun   int    `json:"customRulesRun"`
	CustomRuleErrors int    `json:"customRuleErrors"`
	EngineVersion    string `json:"engineVersion"`
	Cached           bool   `json:"cached,omitempty"`
}

// EvaluationResponse is the API response for a claim evaluation.
type EvaluationResponse struct {
	EvaluationID      string             `json:"evaluationId"`
	ClaimID           string             `json:"claimId"`
	TenantID          string             `json:"tenantId"`
	Decision          Tier               `json:"decision"`
	Score             float64            `json:"score"`
	Findings          []RuleHit          `json:"findings"`
	NCCIFlags         []string           `json:"ncciFlags"`
	CoverageFlags     []string           `json:"coverageFlags"`
	ProviderFlags     []string           `json:"providerFlags"`
	EstimatedRecovery *float64           `json:"estimatedRecovery"`
	Metadata          EvaluationMetadata `json:"metadata"`
}

// ToResponse converts an Evaluation to an API response.
func (e *Evaluation) ToResponse() *EvaluationResponse {
	return &EvaluationResponse{
		EvaluationID:      e.ID,
		ClaimID:           e.ClaimID,
		TenantID:          e.TenantID,
		Decision:          e.Outcome.Decision,
		Score:             e.Outcome.Score,
		Findings:          e.Outcome.Findings,
		NCCIFlags:         e.Outcome.NCCIFlags,
		CoverageFlags:     e.Outcome.CoverageFlags,
		ProviderFlags:     e.Outcome.ProviderFlags,
		EstimatedRecovery: e.Outcome.EstimatedRecovery,
		Metadata:          e.Metadata,
	}
}
