package rules

import (
	"strings"

	"github.com/opensource-finance/claimscan/internal/domain"
)

// Canonical flag tags.
const (
	FlagPairConflict     = "ptp_conflict"
	FlagUnitLimit        = "mue_exceeded"
	FlagModifierBypass   = "modifier_bypass"
	FlagExperimental     = "experimental_procedure"
	FlagDiagnosisSupport = "diagnosis_not_covered"
	FlagAgeRestriction   = "age_not_covered"
	FlagPriorAuth        = "missing_prior_auth"
	FlagExcludedProvider = "excluded_provider"
	FlagWatchlist        = "watchlisted_provider"
	FlagSpecialtyRisk    = "high_risk_specialty"
	FlagDistance         = "distance_anomaly"
)

type flagSet int

const (
	flagNone flagSet = iota
	flagNCCI
	flagCoverage
	flagProvider
)

var builtinFlags = map[string]struct {
	set flagSet
	tag string
}{
	RulePairConflict:     {flagNCCI, FlagPairConflict},
	RuleUnitLimit:        {flagNCCI, FlagUnitLimit},
	RuleModifierBypass:   {flagNCCI, FlagModifierBypass},
	RuleExperimental:     {flagCoverage, FlagExperimental},
	RuleDiagnosisSupport: {flagCoverage, FlagDiagnosisSupport},
	RuleAgeRestriction:   {flagCoverage, FlagAgeRestriction},
	RulePriorAuth:        {flagCoverage, FlagPriorAuth},
	RuleExcludedProvider: {flagProvider, FlagExcludedProvider},
	RuleWatchlist:        {flagProvider, FlagWatchlist},
	RuleSpecialtyRisk:    {flagProvider, FlagSpecialtyRisk},
	RuleDistance:         {flagProvider, FlagDistance},
}

// Flags holds the three deduplicated flag sets derived from findings.
type Flags struct {
	NCCI     []string
	Coverage []string
	Provider []string
}

// DeriveFlags maps each finding to its canonical tag. Tags appear once, in
// first-seen order. Findings from custom rules are tagged by rule ID in the
// set matching their category. Pricing and structural findings carry no flag.
func DeriveFlags(findings []domain.RuleHit) Flags {
	flags := Flags{
		NCCI:     []string{},
		Coverage: []string{},
		Provider: []string{},
	}
	type key struct {
		set flagSet
		tag string
	}
	seen := make(map[key]struct{})

	for i := range findings {
		set, tag := flagFor(&findings[i])
		if set == flagNone {
			continue
		}
		k := key{set, tag}
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}

		switch set {
		case flagNCCI:
			flags.NCCI = append(flags.NCCI, tag)
		case flagCoverage:
			flags.Coverage = append(flags.Coverage, tag)
		case flagProvider:
			flags.Provider = append(flags.Provider, tag)
		}
	}
	return flags
}

func flagFor(h *domain.RuleHit) (flagSet, string) {
	if f, ok := builtinFlags[h.RuleID]; ok {
		return f.set, f.tag
	}
	switch h.Category {
	case domain.CategoryNCCI, domain.CategoryModifier:
		return flagNCCI, h.RuleID
	case domain.CategoryCoverage, domain.CategoryEligibility:
		return flagCoverage, h.RuleID
	case domain.CategoryProvider:
		return flagProvider, h.RuleID
	}
	return flagNone, ""
}

// builtinRuleIDs holds every rule ID emitted by the built-in categories.
var builtinRuleIDs = map[string]struct{}{
	RulePairConflict:     {},
	RuleUnitLimit:        {},
	RuleModifierBypass:   {},
	RuleExperimental:     {},
	RuleDiagnosisSupport: {},
	RuleAgeRestriction:   {},
	RulePriorAuth:        {},
	RulePricingOutlier:   {},
	RuleGlobalPeriod:     {},
	RuleExcludedProvider: {},
	RuleWatchlist:        {},
	RuleSpecialtyRisk:    {},
	RuleDistance:         {},
	RuleClaimID:          {},
	RuleLineItems:        {},
	RuleProcedureCode:    {},
	RuleLineValues:       {},
	RuleProviderNPI:      {},
}

// IsBuiltinRule reports whether id is reserved by a built-in category.
func IsBuiltinRule(id string) bool {
	_, ok := builtinRuleIDs[strings.ToLower(strings.TrimSpace(id))]
	return ok
}
