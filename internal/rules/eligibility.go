package rules

import (
	"fmt"
	"slices"
	"time"

	"github.com/opensource-finance/claimscan/internal/domain"
)

// RulePriorAuth fires when an authorization-required code has no active
// authorization.
const RulePriorAuth = "eligibility-prior-auth"

// EligibilityCategory checks prior authorization.
type EligibilityCategory struct {
	opts Options
}

// NewEligibilityCategory creates the eligibility category.
func NewEligibilityCategory(opts Options) *EligibilityCategory {
	return &EligibilityCategory{opts: opts.normalized()}
}

// Name returns the category name.
func (c *EligibilityCategory) Name() string { return "eligibility" }

// Evaluate emits one finding per authorization-required code with no active
// authorization for the member on the line's service date.
func (c *EligibilityCategory) Evaluate(in *Input) []domain.RuleHit {
	claim := in.Claim
	codes, lines := distinctCodes(claim)

	var auths []domain.Authorization
	if claim.Member.ID != "" {
		auths = in.Index.AuthorizationsFor(claim.Member.ID)
	}

	var hits []domain.RuleHit
	for _, code := range codes {
		if !in.Index.RequiresAuth(code) {
			continue
		}

		var missing []int
		for _, i := range lines[code] {
			asOf := claim.Lines[i].ServiceDate
			if asOf == nil {
				asOf = claim.ReceivedAt
			}
			if !authorized(auths, code, asOf) {
				missing = append(missing, i)
			}
		}
		if len(missing) == 0 {
			continue
		}

		hits = append(hits, c.opts.hit(RulePriorAuth, domain.CategoryEligibility, domain.SeverityMedium, "",
			fmt.Sprintf("Procedure %s requires prior authorization and none is active", code), missing))
	}
	return hits
}

func authorized(auths []domain.Authorization, code string, asOf *time.Time) bool {
	for i := range auths {
		if slices.Contains(auths[i].Codes, code) && auths[i].ActiveOn(asOf) {
			return true
		}
	}
	return false
}
