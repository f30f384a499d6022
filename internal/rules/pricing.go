package rules

import (
	"fmt"
	"strconv"
	"time"

	"github.com/opensource-finance/claimscan/internal/domain"
)

// Pricing rule IDs.
const (
	RulePricingOutlier = "pricing-outlier"
	RuleGlobalPeriod   = "pricing-global-period"
)

const citationFeeSchedule = "Physician Fee Schedule"

// globalPeriodDays maps a global-period indicator to the days after the
// procedure during which E&M services are bundled.
var globalPeriodDays = map[string]int{
	"000": 0,
	"010": 10,
	"090": 90,
}

// Modifiers that unbundle an E&M service from a global period.
var globalPeriodModifiers = []string{"24", "25", "57"}

// PricingCategory compares billed charges to fee benchmarks.
type PricingCategory struct {
	opts Options
}

// NewPricingCategory creates the pricing category.
func NewPricingCategory(opts Options) *PricingCategory {
	return &PricingCategory{opts: opts.normalized()}
}

// Name returns the category name.
func (c *PricingCategory) Name() string { return "pricing" }

// Evaluate runs the outlier check and, when enabled, global-period bundling.
func (c *PricingCategory) Evaluate(in *Input) []domain.RuleHit {
	hits := c.outliers(in)
	if c.opts.GlobalPeriodBundling {
		hits = append(hits, c.globalPeriod(in)...)
	}
	return hits
}

func (c *PricingCategory) outliers(in *Input) []domain.RuleHit {
	claim := in.Claim
	mult := c.opts.OutlierMultiplier

	var hits []domain.RuleHit
	for i := range claim.Lines {
		line := &claim.Lines[i]
		if line.Charge <= 0 {
			continue
		}
		expected := in.Index.ExpectedRate(line.ProcedureCode, claim.Provider.Region)
		if expected <= 0 {
			continue
		}

		unit := line.Charge
		if line.Quantity > 1 {
			unit = line.Charge / line.Quantity
		}

		ratio := unit / expected
		if ratio <= mult {
			continue
		}

		sev := domain.SeverityMedium
		switch {
		case ratio >= 4*mult:
			sev = domain.SeverityCritical
		case ratio >= 2*mult:
			sev = domain.SeverityHigh
		}

		hits = append(hits, c.opts.hit(RulePricingOutlier, domain.CategoryFinancial, sev, citationFeeSchedule,
			fmt.Sprintf("Procedure %s billed at $%.2f per unit, %.1fx the expected $%.2f",
				domain.NormalizeCode(line.ProcedureCode), unit, ratio, expected),
			[]int{i}))
	}
	return hits
}

// globalPeriod flags E&M lines dated inside another line's global surgical
// period without an unbundling modifier. Each E&M line is flagged at most once.
func (c *PricingCategory) globalPeriod(in *Input) []domain.RuleHit {
	claim := in.Claim

	var hits []domain.RuleHit
	for j := range claim.Lines {
		em := &claim.Lines[j]
		if em.ServiceDate == nil || !isEvaluationAndManagement(em.ProcedureCode) {
			continue
		}
		if em.HasModifier(globalPeriodModifiers...) {
			continue
		}

		for i := range claim.Lines {
			if i == j {
				continue
			}
			proc := &claim.Lines[i]
			if proc.ServiceDate == nil {
				continue
			}
			bench, ok := in.Index.Benchmark(proc.ProcedureCode)
			if !ok {
				continue
			}
			days, ok := globalPeriodDays[bench.GlobalPeriod]
			if !ok {
				continue
			}

			start := truncateDay(*proc.ServiceDate)
			end := start.AddDate(0, 0, days)
			at := truncateDay(*em.ServiceDate)
			if at.Before(start) || at.After(end) {
				continue
			}

			hits = append(hits, c.opts.hit(RuleGlobalPeriod, domain.CategoryFinancial, domain.SeverityMedium, citationFeeSchedule,
				fmt.Sprintf("E&M service %s falls within the %s-day global period of procedure %s",
					domain.NormalizeCode(em.ProcedureCode), bench.GlobalPeriod, domain.NormalizeCode(proc.ProcedureCode)),
				[]int{j}))
			break
		}
	}
	return hits
}

func isEvaluationAndManagement(code string) bool {
	code = domain.NormalizeCode(code)
	if len(code) != 5 {
		return false
	}
	n, err := strconv.Atoi(code)
	if err != nil {
		return false
	}
	return n >= 99202 && n <= 99499
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
