// Package decision turns findings into a bounded risk score, a decision tier
// and a recovery estimate.
package decision

import (
	"fmt"
	"math"
	"sort"

	"github.com/opensource-finance/claimscan/internal/domain"
	"github.com/opensource-finance/claimscan/internal/refindex"
)

// Processor scores findings and classifies the result.
// It is immutable after construction and safe for concurrent use.
type Processor struct {
	baseScore          float64
	thresholds         domain.Thresholds
	recoveryMultiplier float64
}

// NewProcessor validates the scoring configuration. It is the only place
// scoring configuration errors surface.
func NewProcessor(cfg domain.ScoringConfig) (*Processor, error) {
	if math.IsNaN(cfg.BaseScore) || cfg.BaseScore < 0 || cfg.BaseScore > 1 {
		return nil, fmt.Errorf("%w: base score %.4f must be within [0, 1]", domain.ErrInvalidConfig, cfg.BaseScore)
	}
	if cfg.RecoveryMultiplier < 0 {
		return nil, fmt.Errorf("%w: recovery multiplier must not be negative", domain.ErrInvalidConfig)
	}

	boundaries := cfg.Thresholds
	if len(boundaries) == 0 {
		boundaries = domain.DefaultBoundaries()
	}
	thresholds, err := domain.NewThresholds(boundaries)
	if err != nil {
		return nil, err
	}

	return &Processor{
		baseScore:          cfg.BaseScore,
		thresholds:         thresholds,
		recoveryMultiplier: cfg.RecoveryMultiplier,
	}, nil
}

// Result is the scored decision for one claim.
type Result struct {
	Score             float64
	Decision          domain.Tier
	EstimatedRecovery *float64
}

// Decide scores the findings and classifies the claim.
func (p *Processor) Decide(claim *domain.Claim, findings []domain.RuleHit, idx *refindex.Index) Result {
	score := p.Score(findings)
	return Result{
		Score:             score,
		Decision:          p.thresholds.Classify(score),
		EstimatedRecovery: p.Recovery(claim, findings, idx),
	}
}

// Score returns clamp(base + sum of weights, 0, 1). Order of findings does
// not matter.
func (p *Processor) Score(findings []domain.RuleHit) float64 {
	weights := make([]float64, 0, len(findings))
	for _, f := range findings {
		if f.Weight > 0 {
			weights = append(weights, f.Weight)
		}
	}
	// Summing in sorted order keeps the float result independent of finding order
	sort.Float64s(weights)

	score := p.baseScore
	for _, w := range weights {
		score += w
	}
	return clamp(score)
}

// Classify maps a score to its tier.
func (p *Processor) Classify(score float64) domain.Tier {
	return p.thresholds.Classify(score)
}

// Thresholds returns the validated tier boundaries.
func (p *Processor) Thresholds() domain.Thresholds {
	return p.thresholds
}

// Recovery estimates the recoverable amount. It is nil when there are no
// findings. When any finding applies to the whole claim the full billed
// amount is at risk; otherwise only the charges on implicated lines.
func (p *Processor) Recovery(claim *domain.Claim, findings []domain.RuleHit, idx *refindex.Index) *float64 {
	if len(findings) == 0 {
		return nil
	}

	multiplier := p.recoveryMultiplier
	if idx != nil {
		if roi := idx.Risk().ROIMultiplier; roi > 0 {
			multiplier = roi
		}
	}

	flagged := flaggedAmount(claim, findings)
	estimate := round2(flagged * multiplier)
	return &estimate
}

func flaggedAmount(claim *domain.Claim, findings []domain.RuleHit) float64 {
	for i := range findings {
		if findings[i].ClaimLevel() {
			return claim.TotalBilled()
		}
	}

	implicated := make([]bool, len(claim.Lines))
	for _, f := range findings {
		for _, l := range f.Lines {
			if l >= 0 && l < len(claim.Lines) {
				implicated[l] = true
			}
		}
	}

	var total float64
	for l, hit := range implicated {
		if hit && claim.Lines[l].Charge > 0 {
			total += claim.Lines[l].Charge
		}
	}
	return total
}

func clamp(score float64) float64 {
	switch {
	case math.IsNaN(score), score < 0:
		return 0
	case score > 1:
		return 1
	}
	return score
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// ShouldAlert reports whether an outcome's decision is at or above the alert
// tier.
func ShouldAlert(outcome *domain.Outcome, alertTier domain.Tier) bool {
	if alertTier == "" || alertTier.Rank() < 0 {
		return false
	}
	return outcome.Decision.AtLeast(alertTier)
}

// Reasons extracts finding descriptions, most severe first within the
// original order.
func Reasons(outcome *domain.Outcome) []string {
	order := []domain.Severity{domain.SeverityCritical, domain.SeverityHigh, domain.SeverityMedium, domain.SeverityLow}

	reasons := make([]string, 0, len(outcome.Findings))
	for _, sev := range order {
		for _, f := range outcome.Findings {
			if f.Severity == sev && f.Description != "" {
				reasons = append(reasons, f.Description)
			}
		}
	}
	return reasons
}
