package domain

// Severity grades how serious a finding is.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Valid reports whether s is one of the known severities.
func (s Severity) Valid() bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	}
	return false
}

// Category tags the rule family a finding came from. The string values are
// part of the wire format.
type Category string

const (
	CategoryNCCI        Category = "ncci"
	CategoryCoverage    Category = "coverage"
	CategoryProvider    Category = "provider"
	CategoryFinancial   Category = "financial"
	CategoryModifier    Category = "modifier"
	CategoryFormat      Category = "format"
	CategoryEligibility Category = "eligibility"
)

// Valid reports whether c is one of the known categories.
func (c Category) Valid() bool {
	switch c {
	case CategoryNCCI, CategoryCoverage, CategoryProvider, CategoryFinancial,
		CategoryModifier, CategoryFormat, CategoryEligibility:
		return true
	}
	return false
}

// RuleHit is a single finding produced by one rule category.
// Hits are never modified after creation.
type RuleHit struct {
	RuleID      string   `json:"ruleId"`
	Category    Category `json:"category"`
	Description string   `json:"description"`
	Weight      float64  `json:"weight"`
	Severity    Severity `json:"severity"`
	Citation    string   `json:"citation,omitempty"`

	// Lines lists the zero-based line indexes the finding implicates.
	// Empty means the finding applies to the whole claim.
	Lines []int `json:"lines,omitempty"`
}

// ClaimLevel reports whether the hit applies to the claim as a whole.
func (h *RuleHit) ClaimLevel() bool {
	return len(h.Lines) == 0
}

// SeverityWeights maps each severity to its score contribution.
type SeverityWeights struct {
	Low      float64 `json:"low" mapstructure:"low"`
	Medium   float64 `json:"medium" mapstructure:"medium"`
	High     float64 `json:"high" mapstructure:"high"`
	Critical float64 `json:"critical" mapstructure:"critical"`
}

// DefaultSeverityWeights returns the default weight per severity.
func DefaultSeverityWeights() SeverityWeights {
	return SeverityWeights{
		Low:      0.05,
		Medium:   0.10,
		High:     0.20,
		Critical: 0.35,
	}
}

// For returns the non-negative weight for a severity.
func (w SeverityWeights) For(s Severity) float64 {
	var v float64
	switch s {
	case SeverityLow:
		v = w.Low
	case SeverityMedium:
		v = w.Medium
	case SeverityHigh:
		v = w.High
	case SeverityCritical:
		v = w.Critical
	}
	if v < 0 {
		return 0
	}
	return v
}

// RuleConfig defines a tenant-configured CEL rule evaluated after the
// built-in categories.
type RuleConfig struct {
	ID          string `json:"id"`
	TenantID    string `json:"tenantId"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Version     string `json:"version"`

	// CEL expression returning bool; true emits a finding
	Expression string `json:"expression"`

	Category Category `json:"category"`
	Severity Severity `json:"severity"`
	Citation string   `json:"citation,omitempty"`

	// Whether rule is active
	Enabled bool `json:"enabled"`
}
