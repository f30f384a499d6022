package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidThresholds is returned when tier boundaries are not strictly increasing.
	ErrInvalidThresholds = errors.New("invalid decision thresholds")

	// ErrInvalidConfig is returned for any other scoring configuration error.
	ErrInvalidConfig = errors.New("invalid scoring configuration")
)

// Tier is an ordered decision bucket. Labels carry no meaning beyond their
// order.
type Tier string

const (
	TierInformational   Tier = "informational"
	TierRecommendation  Tier = "recommendation"
	TierSoftHold        Tier = "soft_hold"
	TierAutoApprove     Tier = "auto_approve"
	TierAutoApproveFast Tier = "auto_approve_fast"
)

var tierRank = map[Tier]int{
	TierInformational:   0,
	TierRecommendation:  1,
	TierSoftHold:        2,
	TierAutoApprove:     3,
	TierAutoApproveFast: 4,
}

// Rank returns the tier's position in the ordering, or -1 if unknown.
func (t Tier) Rank() int {
	if r, ok := tierRank[t]; ok {
		return r
	}
	return -1
}

// AtLeast reports whether t is ordered at or above other.
func (t Tier) AtLeast(other Tier) bool {
	return t.Rank() >= other.Rank()
}

// TierBoundary is the minimum score that places a claim in Tier.
type TierBoundary struct {
	Tier     Tier    `json:"tier" mapstructure:"tier"`
	MinScore float64 `json:"minScore" mapstructure:"min_score"`
}

// Thresholds partition [0,1] into ordered tiers. Scores below the first
// boundary map to TierInformational.
type Thresholds struct {
	boundaries []TierBoundary
}

// DefaultBoundaries returns the default tier boundaries.
func DefaultBoundaries() []TierBoundary {
	return []TierBoundary{
		{Tier: TierRecommendation, MinScore: 0.6},
		{Tier: TierSoftHold, MinScore: 0.8},
		{Tier: TierAutoApprove, MinScore: 0.9},
		{Tier: TierAutoApproveFast, MinScore: 0.95},
	}
}

// NewThresholds validates boundaries and returns a Thresholds.
// Boundaries must be strictly increasing in both score and tier rank, with
// scores in (0, 1].
func NewThresholds(boundaries []TierBoundary) (Thresholds, error) {
	prevScore := 0.0
	prevRank := TierInformational.Rank()

	for i, b := range boundaries {
		rank := b.Tier.Rank()
		if rank < 0 {
			return Thresholds{}, fmt.Errorf("%w: unknown tier %q", ErrInvalidThresholds, b.Tier)
		}
		if rank <= prevRank {
			return Thresholds{}, fmt.Errorf("%w: tier %q at position %d is not above the previous tier", ErrInvalidThresholds, b.Tier, i)
		}
		if b.MinScore <= prevScore || b.MinScore > 1 {
			return Thresholds{}, fmt.Errorf("%w: boundary %.4f for tier %q must be greater than %.4f and at most 1", ErrInvalidThresholds, b.MinScore, b.Tier, prevScore)
		}
		prevScore = b.MinScore
		prevRank = rank
	}

	out := make([]TierBoundary, len(boundaries))
	copy(out, boundaries)
	return Thresholds{boundaries: out}, nil
}

// Classify returns the highest tier whose boundary is at or below score.
func (t Thresholds) Classify(score float64) Tier {
	tier := TierInformational
	for _, b := range t.boundaries {
		if score < b.MinScore {
			break
		}
		tier = b.Tier
	}
	return tier
}

// Boundaries returns a copy of the configured boundaries.
func (t Thresholds) Boundaries() []TierBoundary {
	out := make([]TierBoundary, len(t.boundaries))
	copy(out, t.boundaries)
	return out
}
