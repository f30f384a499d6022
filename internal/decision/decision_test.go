package decision

import (
	"errors"
	"testing"

	"github.com/opensource-finance/claimscan/internal/domain"
	"github.com/opensource-finance/claimscan/internal/refindex"
)

func newTestProcessor(t *testing.T) *Processor {
	t.Helper()
	proc, err := NewProcessor(domain.DefaultScoringConfig())
	if err != nil {
		t.Fatalf("failed to create processor: %v", err)
	}
	return proc
}

func hit(sev domain.Severity, weight float64, lines ...int) domain.RuleHit {
	return domain.RuleHit{RuleID: "r", Category: domain.CategoryNCCI, Severity: sev, Weight: weight, Lines: lines}
}

func TestNewProcessor(t *testing.T) {
	t.Run("Defaults", func(t *testing.T) {
		proc := newTestProcessor(t)
		if got := len(proc.Thresholds().Boundaries()); got != 4 {
			t.Errorf("expected 4 boundaries, got %d", got)
		}
	})

	t.Run("EmptyThresholdsUseDefaults", func(t *testing.T) {
		cfg := domain.DefaultScoringConfig()
		cfg.Thresholds = nil
		proc, err := NewProcessor(cfg)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if proc.Classify(0.85) != domain.TierSoftHold {
			t.Errorf("expected soft_hold at 0.85, got %s", proc.Classify(0.85))
		}
	})

	tests := []struct {
		name string
		cfg  func() domain.ScoringConfig
		want error
	}{
		{
			name: "NonMonotonicScores",
			cfg: func() domain.ScoringConfig {
				c := domain.DefaultScoringConfig()
				c.Thresholds = []domain.TierBoundary{
					{Tier: domain.TierRecommendation, MinScore: 0.8},
					{Tier: domain.TierSoftHold, MinScore: 0.6},
				}
				return c
			},
			want: domain.ErrInvalidThresholds,
		},
		{
			name: "DuplicateTier",
			cfg: func() domain.ScoringConfig {
				c := domain.DefaultScoringConfig()
				c.Thresholds = []domain.TierBoundary{
					{Tier: domain.TierSoftHold, MinScore: 0.6},
					{Tier: domain.TierSoftHold, MinScore: 0.8},
				}
				return c
			},
			want: domain.ErrInvalidThresholds,
		},
		{
			name: "ScoreAboveOne",
			cfg: func() domain.ScoringConfig {
				c := domain.DefaultScoringConfig()
				c.Thresholds = []domain.TierBoundary{{Tier: domain.TierRecommendation, MinScore: 1.2}}
				return c
			},
			want: domain.ErrInvalidThresholds,
		},
		{
			name: "UnknownTier",
			cfg: func() domain.ScoringConfig {
				c := domain.DefaultScoringConfig()
				c.Thresholds = []domain.TierBoundary{{Tier: "deny", MinScore: 0.5}}
				return c
			},
			want: domain.ErrInvalidThresholds,
		},
		{
			name: "BaseScoreOutOfRange",
			cfg: func() domain.ScoringConfig {
				c := domain.DefaultScoringConfig()
				c.BaseScore = 1.5
				return c
			},
			want: domain.ErrInvalidConfig,
		},
		{
			name: "NegativeRecovery",
			cfg: func() domain.ScoringConfig {
				c := domain.DefaultScoringConfig()
				c.RecoveryMultiplier = -1
				return c
			},
			want: domain.ErrInvalidConfig,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewProcessor(tt.cfg())
			if !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestScore(t *testing.T) {
	proc := newTestProcessor(t)

	t.Run("NoFindings", func(t *testing.T) {
		if got := proc.Score(nil); got != 0.5 {
			t.Errorf("expected base score 0.5, got %.4f", got)
		}
	})

	t.Run("Additive", func(t *testing.T) {
		got := proc.Score([]domain.RuleHit{hit(domain.SeverityHigh, 0.2), hit(domain.SeverityMedium, 0.1)})
		if got < 0.7999 || got > 0.8001 {
			t.Errorf("expected 0.8, got %.4f", got)
		}
	})

	t.Run("Clamped", func(t *testing.T) {
		findings := make([]domain.RuleHit, 20)
		for i := range findings {
			findings[i] = hit(domain.SeverityCritical, 0.35)
		}
		if got := proc.Score(findings); got != 1.0 {
			t.Errorf("expected score clamped to 1.0, got %.4f", got)
		}
	})

	t.Run("OrderIndependent", func(t *testing.T) {
		a := []domain.RuleHit{hit(domain.SeverityLow, 0.05), hit(domain.SeverityMedium, 0.1), hit(domain.SeverityHigh, 0.2)}
		b := []domain.RuleHit{a[2], a[0], a[1]}
		if proc.Score(a) != proc.Score(b) {
			t.Errorf("score depends on order: %.17f vs %.17f", proc.Score(a), proc.Score(b))
		}
	})

	t.Run("NegativeWeightsIgnored", func(t *testing.T) {
		if got := proc.Score([]domain.RuleHit{hit(domain.SeverityLow, -3)}); got != 0.5 {
			t.Errorf("expected 0.5, got %.4f", got)
		}
	})
}

func TestClassifyMonotonic(t *testing.T) {
	proc := newTestProcessor(t)

	cases := []struct {
		score float64
		want  domain.Tier
	}{
		{0.0, domain.TierInformational},
		{0.5999, domain.TierInformational},
		{0.6, domain.TierRecommendation},
		{0.8, domain.TierSoftHold},
		{0.9, domain.TierAutoApprove},
		{0.95, domain.TierAutoApproveFast},
		{1.0, domain.TierAutoApproveFast},
	}
	for _, c := range cases {
		if got := proc.Classify(c.score); got != c.want {
			t.Errorf("Classify(%.4f) = %s, want %s", c.score, got, c.want)
		}
	}

	prev := proc.Classify(0)
	for i := 1; i <= 1000; i++ {
		tier := proc.Classify(float64(i) / 1000)
		if tier.Rank() < prev.Rank() {
			t.Fatalf("tier decreased at score %.3f: %s after %s", float64(i)/1000, tier, prev)
		}
		prev = tier
	}
}

func TestRecovery(t *testing.T) {
	proc := newTestProcessor(t)
	claim := &domain.Claim{
		BilledAmount: 1000,
		Lines: []domain.LineItem{
			{ProcedureCode: "A", Charge: 600},
			{ProcedureCode: "B", Charge: 300},
			{ProcedureCode: "C", Charge: 100},
		},
	}

	t.Run("NoFindings", func(t *testing.T) {
		if got := proc.Recovery(claim, nil, refindex.Empty()); got != nil {
			t.Errorf("expected nil recovery, got %.2f", *got)
		}
	})

	t.Run("LineLevel", func(t *testing.T) {
		got := proc.Recovery(claim, []domain.RuleHit{hit(domain.SeverityHigh, 0.2, 0, 1), hit(domain.SeverityLow, 0.05, 1)}, refindex.Empty())
		if got == nil || *got != 270 {
			t.Errorf("expected 900*0.3=270, got %v", got)
		}
	})

	t.Run("ClaimLevel", func(t *testing.T) {
		got := proc.Recovery(claim, []domain.RuleHit{hit(domain.SeverityHigh, 0.2, 0), hit(domain.SeverityCritical, 0.35)}, refindex.Empty())
		if got == nil || *got != 300 {
			t.Errorf("expected 1000*0.3=300, got %v", got)
		}
	})

	t.Run("ReferenceMultiplier", func(t *testing.T) {
		idx := refindex.Build(&domain.ReferenceData{Risk: domain.RiskConfig{ROIMultiplier: 0.5}})
		got := proc.Recovery(claim, []domain.RuleHit{hit(domain.SeverityHigh, 0.2, 2)}, idx)
		if got == nil || *got != 50 {
			t.Errorf("expected 100*0.5=50, got %v", got)
		}
	})

	t.Run("LineTotalFallback", func(t *testing.T) {
		noHeader := &domain.Claim{Lines: claim.Lines}
		got := proc.Recovery(noHeader, []domain.RuleHit{hit(domain.SeverityMedium, 0.1)}, nil)
		if got == nil || *got != 300 {
			t.Errorf("expected 1000*0.3=300, got %v", got)
		}
	})
}

func TestDecide(t *testing.T) {
	proc := newTestProcessor(t)
	claim := &domain.Claim{BilledAmount: 500, Lines: []domain.LineItem{{ProcedureCode: "A", Charge: 500}}}

	res := proc.Decide(claim, []domain.RuleHit{hit(domain.SeverityCritical, 0.35)}, refindex.Empty())
	if res.Decision != domain.TierSoftHold {
		t.Errorf("expected soft_hold at %.2f, got %s", res.Score, res.Decision)
	}
	if res.EstimatedRecovery == nil || *res.EstimatedRecovery != 150 {
		t.Errorf("expected recovery 150, got %v", res.EstimatedRecovery)
	}
}

func TestShouldAlert(t *testing.T) {
	out := &domain.Outcome{Decision: domain.TierSoftHold}

	if !ShouldAlert(out, domain.TierSoftHold) {
		t.Error("expected alert at threshold tier")
	}
	if !ShouldAlert(out, domain.TierRecommendation) {
		t.Error("expected alert above threshold tier")
	}
	if ShouldAlert(out, domain.TierAutoApprove) {
		t.Error("expected no alert below threshold tier")
	}
	if ShouldAlert(out, "") {
		t.Error("empty alert tier disables alerts")
	}
}

func TestReasons(t *testing.T) {
	out := &domain.Outcome{Findings: []domain.RuleHit{
		{Severity: domain.SeverityLow, Description: "low"},
		{Severity: domain.SeverityCritical, Description: "critical"},
		{Severity: domain.SeverityMedium, Description: "medium-1"},
		{Severity: domain.SeverityMedium, Description: "medium-2"},
	}}

	got := Reasons(out)
	want := []string{"critical", "medium-1", "medium-2", "low"}
	if len(got) != len(want) {
		t.Fatalf("expected %d reasons, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("reason %d: expected %s, got %s", i, want[i], got[i])
		}
	}
}
