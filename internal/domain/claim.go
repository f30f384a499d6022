package domain

import (
	"time"
)

// Claim is a normalized healthcare claim as produced by the upstream mapper.
// Every optional field may be absent; absence means the rules that depend on
// it do not apply.
type Claim struct {
	// Core identifiers
	ID       string `json:"id"`
	TenantID string `json:"tenantId,omitempty"`

	// Financial details
	BilledAmount float64 `json:"billedAmount"`

	// Diagnosis codes in the order they appear on the claim
	Diagnoses []string `json:"diagnoses,omitempty"`

	// Service lines
	Lines []LineItem `json:"lines"`

	// Parties involved
	Provider Provider `json:"provider"`
	Member   Member   `json:"member"`

	// Patient-to-provider distance computed by the normalizer, if known
	PatientDistanceMiles *float64 `json:"patientDistanceMiles,omitempty"`

	// When the payer received the claim
	ReceivedAt *time.Time `json:"receivedAt,omitempty"`
}

// LineItem is a single billed service on a claim.
type LineItem struct {
	ProcedureCode string     `json:"procedureCode"`
	DiagnosisCode string     `json:"diagnosisCode,omitempty"`
	Quantity      float64    `json:"quantity"`
	Charge        float64    `json:"charge"`
	Modifiers     []string   `json:"modifiers,omitempty"`
	ServiceDate   *time.Time `json:"serviceDate,omitempty"`
}

// Provider identifies the billing provider.
type Provider struct {
	NPI       string `json:"npi"`
	Specialty string `json:"specialty,omitempty"`
	Region    string `json:"region,omitempty"`
}

// Member identifies the patient the services were rendered to.
type Member struct {
	ID     string `json:"id,omitempty"`
	Age    *int   `json:"age,omitempty"`
	Gender string `json:"gender,omitempty"`
}

// LineTotal returns the sum of all line charges.
func (c *Claim) LineTotal() float64 {
	var total float64
	for _, l := range c.Lines {
		total += l.Charge
	}
	return total
}

// TotalBilled returns the billed amount, falling back to the line total
// when the header amount was not supplied.
func (c *Claim) TotalBilled() float64 {
	if c.BilledAmount > 0 {
		return c.BilledAmount
	}
	return c.LineTotal()
}

// HasModifier reports whether the line carries any of the given modifiers.
func (l *LineItem) HasModifier(mods ...string) bool {
	for _, have := range l.Modifiers {
		for _, want := range mods {
			if NormalizeCode(have) == want {
				return true
			}
		}
	}
	return false
}
