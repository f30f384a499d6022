package rules

import (
	"fmt"
	"strings"

	"github.com/opensource-finance/claimscan/internal/domain"
)

// Coding-conflict rule IDs.
const (
	RulePairConflict   = "ncci-ptp"
	RuleUnitLimit      = "ncci-mue"
	RuleModifierBypass = "ncci-modifier-bypass"
)

const (
	citationPTP = "CMS NCCI Procedure-to-Procedure Edits"
	citationMUE = "CMS NCCI Medically Unlikely Edits"

	undatedKey = "undated"
)

// BypassModifiers separate a conflicting pair when the pair's indicator
// permits it.
var BypassModifiers = []string{"59", "XE", "XS", "XP", "XU", "25", "91"}

// CodingCategory runs procedure-to-procedure and unit-limit edits.
type CodingCategory struct {
	opts Options
}

// NewCodingCategory creates the coding-conflict category.
func NewCodingCategory(opts Options) *CodingCategory {
	return &CodingCategory{opts: opts.normalized()}
}

// Name returns the category name.
func (c *CodingCategory) Name() string { return "coding" }

// Evaluate runs the pairwise check followed by the unit-limit check.
func (c *CodingCategory) Evaluate(in *Input) []domain.RuleHit {
	hits := c.pairConflicts(in)
	return append(hits, c.unitLimits(in)...)
}

// pairConflicts emits one finding per distinct unordered conflicting pair.
func (c *CodingCategory) pairConflicts(in *Input) []domain.RuleHit {
	codes, lines := distinctCodes(in.Claim)
	var hits []domain.RuleHit

	for i := 0; i < len(codes); i++ {
		for j := i + 1; j < len(codes); j++ {
			pair, ok := in.Index.ConflictFor(codes[i], codes[j])
			if !ok {
				continue
			}

			implicated := mergeLines(lines[codes[i]], lines[codes[j]])
			bypassed := pair.ModifierIndicator == domain.ModifierAllowed &&
				c.hasBypass(in.Claim, implicated)

			citation := pair.Citation
			if citation == "" {
				citation = citationPTP
			}

			if bypassed {
				switch c.opts.ModifierPolicy {
				case ModifierSuppress:
					continue
				case ModifierAudit:
					hits = append(hits, c.opts.hit(RuleModifierBypass, domain.CategoryModifier, domain.SeverityLow, citation,
						fmt.Sprintf("Procedures %s and %s conflict but were separated with a bypass modifier", codes[i], codes[j]),
						implicated))
					continue
				}
			}

			hits = append(hits, c.opts.hit(RulePairConflict, domain.CategoryNCCI, pairSeverity(pair.ModifierIndicator), citation,
				fmt.Sprintf("Procedures %s and %s should not be billed together (modifier indicator %s)",
					codes[i], codes[j], indicatorLabel(pair.ModifierIndicator)),
				implicated))
		}
	}

	return hits
}

func (c *CodingCategory) hasBypass(claim *domain.Claim, lines []int) bool {
	for _, i := range lines {
		if claim.Lines[i].HasModifier(BypassModifiers...) {
			return true
		}
	}
	return false
}

type unitGroup struct {
	code     string
	date     string
	quantity float64
	lines    []int
}

// unitLimits sums quantity per code and service date and fires only when the
// sum strictly exceeds the limit.
func (c *CodingCategory) unitLimits(in *Input) []domain.RuleHit {
	claim := in.Claim
	var groups []*unitGroup
	byKey := make(map[string]*unitGroup)

	for i := range claim.Lines {
		line := &claim.Lines[i]
		code := domain.NormalizeCode(line.ProcedureCode)
		if code == "" {
			continue
		}
		date := undatedKey
		if line.ServiceDate != nil {
			date = line.ServiceDate.Format("2006-01-02")
		}
		key := code + "|" + date
		g, ok := byKey[key]
		if !ok {
			g = &unitGroup{code: code, date: date}
			byKey[key] = g
			groups = append(groups, g)
		}
		if line.Quantity > 0 {
			g.quantity += line.Quantity
		}
		g.lines = append(g.lines, i)
	}

	var hits []domain.RuleHit
	for _, g := range groups {
		limit, ok := in.Index.UnitLimit(g.code)
		if !ok || g.quantity <= float64(limit) {
			continue
		}

		sev := domain.SeverityMedium
		if limit <= 0 || g.quantity/float64(limit) >= 2 {
			sev = domain.SeverityHigh
		}

		hits = append(hits, c.opts.hit(RuleUnitLimit, domain.CategoryNCCI, sev, citationMUE,
			fmt.Sprintf("Procedure %s billed %s units on %s, limit is %d",
				g.code, formatQuantity(g.quantity), g.date, limit),
			g.lines))
	}
	return hits
}

func pairSeverity(indicator string) domain.Severity {
	switch strings.TrimSpace(indicator) {
	case domain.ModifierNotAllowed:
		return domain.SeverityHigh
	case domain.ModifierAllowed:
		return domain.SeverityMedium
	default:
		return domain.SeverityLow
	}
}

func indicatorLabel(indicator string) string {
	if strings.TrimSpace(indicator) == "" {
		return "unspecified"
	}
	return indicator
}

// mergeLines returns the sorted union of two ascending index lists.
func mergeLines(a, b []int) []int {
	out := make([]int, 0, len(a)+len(b))
	i, j := 0, 0
	for i < len(a) || j < len(b) {
		switch {
		case j >= len(b) || (i < len(a) && a[i] < b[j]):
			out = append(out, a[i])
			i++
		case i >= len(a) || b[j] < a[i]:
			out = append(out, b[j])
			j++
		default:
			out = append(out, a[i])
			i++
			j++
		}
	}
	return out
}

func formatQuantity(q float64) string {
	if q == float64(int64(q)) {
		return fmt.Sprintf("%d", int64(q))
	}
	return fmt.Sprintf("%.2f", q)
}
