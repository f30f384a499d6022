package rules

import (
	"fmt"
	"strings"

	"github.com/opensource-finance/claimscan/internal/domain"
)

// Provider rule IDs.
const (
	RuleExcludedProvider = "provider-excluded"
	RuleWatchlist        = "provider-watchlist"
	RuleSpecialtyRisk    = "provider-specialty"
	RuleDistance         = "provider-distance"
)

// CitationExclusion is the statutory basis for exclusion findings.
const CitationExclusion = "42 U.S.C. 1320a-7"

// ProviderCategory screens the billing provider.
type ProviderCategory struct {
	opts Options
}

// NewProviderCategory creates the provider category.
func NewProviderCategory(opts Options) *ProviderCategory {
	return &ProviderCategory{opts: opts.normalized()}
}

// Name returns the category name.
func (c *ProviderCategory) Name() string { return "provider" }

// Evaluate runs the exclusion, watchlist, specialty and distance checks.
func (c *ProviderCategory) Evaluate(in *Input) []domain.RuleHit {
	claim := in.Claim
	npi := strings.TrimSpace(claim.Provider.NPI)
	risk := in.Index.Risk()

	var hits []domain.RuleHit

	if npi != "" && in.Index.IsExcluded(npi) {
		hits = append(hits, c.opts.hit(RuleExcludedProvider, domain.CategoryProvider, domain.SeverityCritical, CitationExclusion,
			fmt.Sprintf("Provider %s is on the federal exclusion list", npi), nil))
	}

	if npi != "" && in.Index.IsWatchlisted(npi) {
		hits = append(hits, c.opts.hit(RuleWatchlist, domain.CategoryProvider, domain.SeverityHigh, "",
			fmt.Sprintf("Provider %s is on the internal watchlist", npi), nil))
	}

	if in.Index.IsHighRiskSpecialty(claim.Provider.Specialty) {
		sev := domain.SeverityLow
		desc := fmt.Sprintf("Provider specialty %q is high risk", claim.Provider.Specialty)
		if risk.VolumeThreshold > 0 && len(claim.Lines) >= risk.VolumeThreshold {
			sev = domain.SeverityMedium
			desc = fmt.Sprintf("Provider specialty %q is high risk and billed %d lines (threshold %d)",
				claim.Provider.Specialty, len(claim.Lines), risk.VolumeThreshold)
		}
		hits = append(hits, c.opts.hit(RuleSpecialtyRisk, domain.CategoryProvider, sev, "", desc, nil))
	}

	if d := claim.PatientDistanceMiles; d != nil && risk.DistanceThresholdMiles > 0 && *d > risk.DistanceThresholdMiles {
		hits = append(hits, c.opts.hit(RuleDistance, domain.CategoryProvider, domain.SeverityMedium, "",
			fmt.Sprintf("Patient travelled %.1f miles, threshold is %.1f", *d, risk.DistanceThresholdMiles), nil))
	}

	return hits
}
