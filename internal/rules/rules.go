// Package rules implements the claim rule categories and the pipeline that
// runs them in a fixed order.
package rules

import (
	"fmt"
	"strings"

	"github.com/opensource-finance/claimscan/internal/domain"
	"github.com/opensource-finance/claimscan/internal/refindex"
)

// Signal names recognized by the built-in categories and custom rules.
const (
	SignalProviderClaimCount = "provider_claim_count"
)

// Input is everything a category may read while evaluating one claim.
// Categories never modify it.
type Input struct {
	Claim *domain.Claim
	Index *refindex.Index

	// Precomputed external signals, e.g. provider submission velocity
	Signals map[string]float64
}

// Category evaluates one family of rules against a claim.
// Implementations must be pure: same input, same hits, same order.
type Category interface {
	Name() string
	Evaluate(in *Input) []domain.RuleHit
}

// ModifierPolicy controls how a bypass modifier on a conflicting pair is
// treated.
type ModifierPolicy string

const (
	// ModifierIgnore always emits the pair finding at indicator severity.
	ModifierIgnore ModifierPolicy = "ignore"

	// ModifierSuppress drops the pair finding when the pair allows a bypass
	// and one is present.
	ModifierSuppress ModifierPolicy = "suppress"

	// ModifierAudit replaces the pair finding with a low-severity modifier
	// finding when the pair allows a bypass and one is present.
	ModifierAudit ModifierPolicy = "audit"
)

// ParseModifierPolicy validates a policy name. Empty means ignore.
func ParseModifierPolicy(s string) (ModifierPolicy, error) {
	switch p := ModifierPolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return ModifierIgnore, nil
	case ModifierIgnore, ModifierSuppress, ModifierAudit:
		return p, nil
	default:
		return "", fmt.Errorf("%w: unknown modifier policy %q", domain.ErrInvalidConfig, s)
	}
}

// DefaultOutlierMultiplier is the billed-to-expected ratio above which a
// pricing finding fires.
const DefaultOutlierMultiplier = 3.0

// Options tune the built-in categories.
type Options struct {
	Weights              domain.SeverityWeights
	OutlierMultiplier    float64
	ModifierPolicy       ModifierPolicy
	GlobalPeriodBundling bool
}

// DefaultOptions returns the default category options.
func DefaultOptions() Options {
	return Options{
		Weights:           domain.DefaultSeverityWeights(),
		OutlierMultiplier: DefaultOutlierMultiplier,
		ModifierPolicy:    ModifierIgnore,
	}
}

func (o Options) normalized() Options {
	if o.OutlierMultiplier <= 0 {
		o.OutlierMultiplier = DefaultOutlierMultiplier
	}
	if o.ModifierPolicy == "" {
		o.ModifierPolicy = ModifierIgnore
	}
	return o
}

// hit builds a finding with the configured weight for its severity.
func (o Options) hit(ruleID string, cat domain.Category, sev domain.Severity, citation, desc string, lines []int) domain.RuleHit {
	return domain.RuleHit{
		RuleID:      ruleID,
		Category:    cat,
		Description: desc,
		Weight:      o.Weights.For(sev),
		Severity:    sev,
		Citation:    citation,
		Lines:       lines,
	}
}

// distinctCodes returns normalized line codes in first-appearance order,
// along with the lines carrying each code.
func distinctCodes(claim *domain.Claim) ([]string, map[string][]int) {
	order := make([]string, 0, len(claim.Lines))
	lines := make(map[string][]int, len(claim.Lines))
	for i := range claim.Lines {
		code := domain.NormalizeCode(claim.Lines[i].ProcedureCode)
		if code == "" {
			continue
		}
		if _, seen := lines[code]; !seen {
			order = append(order, code)
		}
		lines[code] = append(lines[code], i)
	}
	return order, lines
}
