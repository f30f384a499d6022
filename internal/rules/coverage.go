package rules

import (
	"fmt"

	"github.com/opensource-finance/claimscan/internal/domain"
)

// Coverage rule IDs.
const (
	RuleExperimental     = "coverage-experimental"
	RuleDiagnosisSupport = "coverage-diagnosis"
	RuleAgeRestriction   = "coverage-age"
)

const citationCoverage = "Local Coverage Determination"

// CoverageCategory checks each billed procedure against its coverage entry.
type CoverageCategory struct {
	opts Options
}

// NewCoverageCategory creates the coverage category.
func NewCoverageCategory(opts Options) *CoverageCategory {
	return &CoverageCategory{opts: opts.normalized()}
}

// Name returns the category name.
func (c *CoverageCategory) Name() string { return "coverage" }

// Evaluate runs the experimental, diagnosis and age sub-checks. Each sub-check
// emits independently.
func (c *CoverageCategory) Evaluate(in *Input) []domain.RuleHit {
	claim := in.Claim
	codes, lines := distinctCodes(claim)
	diagnoses := claimDiagnoses(claim)

	var hits []domain.RuleHit
	for _, code := range codes {
		rule, ok := in.Index.Coverage(code)
		if !ok {
			continue
		}

		if rule.Experimental {
			hits = append(hits, c.opts.hit(RuleExperimental, domain.CategoryCoverage, domain.SeverityHigh, citationCoverage,
				fmt.Sprintf("Procedure %s is experimental or investigational", code), lines[code]))
		}

		if len(rule.AllowedDiagnoses) > 0 && !in.Index.DiagnosisAllowed(code, diagnoses) {
			hits = append(hits, c.opts.hit(RuleDiagnosisSupport, domain.CategoryCoverage, domain.SeverityMedium, citationCoverage,
				fmt.Sprintf("No diagnosis on the claim supports procedure %s", code), lines[code]))
		}

		if len(rule.AgeRanges) > 0 && claim.Member.Age != nil && !ageCovered(rule.AgeRanges, *claim.Member.Age) {
			hits = append(hits, c.opts.hit(RuleAgeRestriction, domain.CategoryCoverage, domain.SeverityMedium, citationCoverage,
				fmt.Sprintf("Member age %d is outside the covered ages for procedure %s", *claim.Member.Age, code), lines[code]))
		}
	}
	return hits
}

// claimDiagnoses combines claim-level and line-level diagnosis codes.
func claimDiagnoses(claim *domain.Claim) []string {
	out := make([]string, 0, len(claim.Diagnoses)+len(claim.Lines))
	out = append(out, claim.Diagnoses...)
	for i := range claim.Lines {
		if d := claim.Lines[i].DiagnosisCode; d != "" {
			out = append(out, d)
		}
	}
	return out
}

func ageCovered(ranges []domain.AgeRange, age int) bool {
	for _, r := range ranges {
		if r.Contains(age) {
			return true
		}
	}
	return false
}
