package rules

import (
	"fmt"
	"strings"

	"github.com/opensource-finance/claimscan/internal/domain"
)

// Structural rule IDs.
const (
	RuleClaimID       = "format-claim-id"
	RuleLineItems     = "format-line-items"
	RuleProcedureCode = "format-procedure-code"
	RuleLineValues    = "format-line-values"
	RuleProviderNPI   = "format-provider-npi"
)

// StructuralCategory reports missing or malformed claim fields as findings
// instead of rejecting the claim.
type StructuralCategory struct {
	opts Options
}

// NewStructuralCategory creates the structural category.
func NewStructuralCategory(opts Options) *StructuralCategory {
	return &StructuralCategory{opts: opts.normalized()}
}

// Name returns the category name.
func (c *StructuralCategory) Name() string { return "structural" }

// Evaluate checks required claim fields.
func (c *StructuralCategory) Evaluate(in *Input) []domain.RuleHit {
	claim := in.Claim
	var hits []domain.RuleHit

	if strings.TrimSpace(claim.ID) == "" {
		hits = append(hits, c.opts.hit(RuleClaimID, domain.CategoryFormat, domain.SeverityMedium, "",
			"Claim has no identifier", nil))
	}

	if len(claim.Lines) == 0 {
		hits = append(hits, c.opts.hit(RuleLineItems, domain.CategoryFormat, domain.SeverityMedium, "",
			"Claim has no line items", nil))
	}

	if strings.TrimSpace(claim.Provider.NPI) == "" {
		hits = append(hits, c.opts.hit(RuleProviderNPI, domain.CategoryFormat, domain.SeverityLow, "",
			"Claim has no billing provider NPI", nil))
	}

	for i := range claim.Lines {
		line := &claim.Lines[i]
		if strings.TrimSpace(line.ProcedureCode) == "" {
			hits = append(hits, c.opts.hit(RuleProcedureCode, domain.CategoryFormat, domain.SeverityLow, "",
				fmt.Sprintf("Line %d has no procedure code", i+1), []int{i}))
		}
		if line.Quantity < 0 || line.Charge < 0 {
			hits = append(hits, c.opts.hit(RuleLineValues, domain.CategoryFormat, domain.SeverityLow, "",
				fmt.Sprintf("Line %d has a negative quantity or charge", i+1), []int{i}))
		}
	}

	return hits
}
