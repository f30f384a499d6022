package rules

import (
	"github.com/opensource-finance/claimscan/internal/domain"
	"github.com/opensource-finance/claimscan/internal/refindex"
)

// Pipeline runs a fixed sequence of categories and then any custom rules.
type Pipeline struct {
	categories []Category
	custom     *CustomEngine
}

// Result is the merged output of one pipeline run.
type Result struct {
	// Findings in category order; never nil
	Findings []domain.RuleHit

	Custom CustomStats
}

// NewPipeline creates a pipeline over the built-in categories. custom may be
// nil.
func NewPipeline(opts Options, custom *CustomEngine) *Pipeline {
	return &Pipeline{
		categories: BuiltinCategories(opts),
		custom:     custom,
	}
}

// NewPipelineWith creates a pipeline over an explicit category list.
func NewPipelineWith(categories []Category, custom *CustomEngine) *Pipeline {
	return &Pipeline{
		categories: categories,
		custom:     custom,
	}
}

// Categories returns the category names in run order.
func (p *Pipeline) Categories() []string {
	names := make([]string, 0, len(p.categories)+1)
	for _, c := range p.categories {
		names = append(names, c.Name())
	}
	if p.custom != nil {
		names = append(names, "custom")
	}
	return names
}

// Custom returns the custom rule engine, or nil.
func (p *Pipeline) Custom() *CustomEngine {
	return p.custom
}

// Run evaluates every category against the input. A nil index is treated as
// empty and nil signals as none.
func (p *Pipeline) Run(in *Input) *Result {
	if in.Index == nil {
		in = &Input{Claim: in.Claim, Index: refindex.Empty(), Signals: in.Signals}
	}

	findings := make([]domain.RuleHit, 0)
	for _, c := range p.categories {
		findings = append(findings, c.Evaluate(in)...)
	}

	res := &Result{}
	if p.custom != nil {
		hits, stats := p.custom.Evaluate(in)
		findings = append(findings, hits...)
		res.Custom = stats
	}

	res.Findings = findings
	return res
}
