// Package evaluator assembles rule findings and the scoring decision into a
// claim Outcome.
package evaluator

import (
	"context"
	"sync"

	"github.com/opensource-finance/claimscan/internal/decision"
	"github.com/opensource-finance/claimscan/internal/domain"
	"github.com/opensource-finance/claimscan/internal/refindex"
	"github.com/opensource-finance/claimscan/internal/rules"
)

// EngineVersion is recorded in evaluation metadata.
const EngineVersion = "claimscan-1.0"

const defaultMaxWorkers = 8

// Evaluator runs the rule pipeline and the decision processor.
// It holds no per-claim state and is safe for concurrent use.
type Evaluator struct {
	pipeline   *rules.Pipeline
	processor  *decision.Processor
	maxWorkers int
}

// New validates the scoring configuration and builds an evaluator.
// custom may be nil.
func New(cfg domain.ScoringConfig, custom *rules.CustomEngine) (*Evaluator, error) {
	policy, err := rules.ParseModifierPolicy(cfg.ModifierPolicy)
	if err != nil {
		return nil, err
	}

	proc, err := decision.NewProcessor(cfg)
	if err != nil {
		return nil, err
	}

	opts := rules.Options{
		Weights:              cfg.Weights,
		OutlierMultiplier:    cfg.OutlierMultiplier,
		ModifierPolicy:       policy,
		GlobalPeriodBundling: cfg.GlobalPeriodBundling,
	}

	return &Evaluator{
		pipeline:   rules.NewPipeline(opts, custom),
		processor:  proc,
		maxWorkers: defaultMaxWorkers,
	}, nil
}

// WithMaxWorkers sets the batch concurrency limit.
func (e *Evaluator) WithMaxWorkers(n int) *Evaluator {
	if n > 0 {
		e.maxWorkers = n
	}
	return e
}

// Pipeline returns the rule pipeline.
func (e *Evaluator) Pipeline() *rules.Pipeline {
	return e.pipeline
}

// Processor returns the decision processor.
func (e *Evaluator) Processor() *decision.Processor {
	return e.processor
}

// Report is an Outcome plus execution counters that do not belong in the
// deterministic outcome.
type Report struct {
	Outcome *domain.Outcome
	Custom  rules.CustomStats
}

// Evaluate scores one claim against a reference snapshot. It never fails: a
// sparse claim or an empty index simply yields fewer findings.
func (e *Evaluator) Evaluate(claim *domain.Claim, idx *refindex.Index, signals map[string]float64) *domain.Outcome {
	return e.Run(claim, idx, signals).Outcome
}

// Run is Evaluate with execution counters.
func (e *Evaluator) Run(claim *domain.Claim, idx *refindex.Index, signals map[string]float64) *Report {
	if claim == nil {
		claim = &domain.Claim{}
	}
	if idx == nil {
		idx = refindex.Empty()
	}

	res := e.pipeline.Run(&rules.Input{Claim: claim, Index: idx, Signals: signals})
	flags := rules.DeriveFlags(res.Findings)
	dec := e.processor.Decide(claim, res.Findings, idx)

	return &Report{
		Outcome: &domain.Outcome{
			ClaimID:           claim.ID,
			Score:             dec.Score,
			Findings:          res.Findings,
			NCCIFlags:         flags.NCCI,
			CoverageFlags:     flags.Coverage,
			ProviderFlags:     flags.Provider,
			Decision:          dec.Decision,
			EstimatedRecovery: dec.EstimatedRecovery,
			ReferenceVersion:  idx.Version(),
		},
		Custom: res.Custom,
	}
}

// EvaluateBatch evaluates claims concurrently against one snapshot and
// returns outcomes in input order. Cancelling ctx stops scheduling further
// claims; unscheduled entries are nil and ctx.Err() is returned.
func (e *Evaluator) EvaluateBatch(ctx context.Context, claims []*domain.Claim, idx *refindex.Index) ([]*domain.Outcome, error) {
	if idx == nil {
		idx = refindex.Empty()
	}

	outcomes := make([]*domain.Outcome, len(claims))
	var wg sync.WaitGroup

	// Limit concurrency with semaphore
	sem := make(chan struct{}, e.maxWorkers)

	var err error
	for i, claim := range claims {
		select {
		case <-ctx.Done():
		case sem <- struct{}{}: // Acquire
		}
		if err = ctx.Err(); err != nil {
			break
		}

		wg.Add(1)
		go func(pos int, c *domain.Claim) {
			defer wg.Done()
			defer func() { <-sem }() // Release

			outcomes[pos] = e.Evaluate(c, idx, nil)
		}(i, claim)
	}

	wg.Wait()
	return outcomes, err
}
