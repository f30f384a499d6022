package rules

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"

	"github.com/opensource-finance/claimscan/internal/domain"
)

// CustomEngine evaluates tenant-defined CEL rules after the built-in
// categories. Rules run in ID order so findings stay reproducible.
type CustomEngine struct {
	mu       sync.RWMutex
	env      *cel.Env
	weights  domain.SeverityWeights
	compiled []*CompiledRule
}

// CompiledRule holds a pre-compiled CEL program.
type CompiledRule struct {
	Config  *domain.RuleConfig
	Program cel.Program
}

// CustomStats counts custom rule executions for one claim.
type CustomStats struct {
	Run    int
	Errors int
}

// NewCustomEngine creates a CEL engine with the claim variables declared.
func NewCustomEngine(weights domain.SeverityWeights) (*CustomEngine, error) {
	env, err := cel.NewEnv(
		cel.Variable("claim_id", cel.StringType),
		cel.Variable("billed_amount", cel.DoubleType),
		cel.Variable("line_count", cel.IntType),
		cel.Variable("procedure_codes", cel.ListType(cel.StringType)),
		cel.Variable("diagnosis_codes", cel.ListType(cel.StringType)),
		cel.Variable("provider_npi", cel.StringType),
		cel.Variable("provider_specialty", cel.StringType),
		cel.Variable("provider_region", cel.StringType),
		// -1 when the member age is unknown
		cel.Variable("member_age", cel.IntType),
		cel.Variable("member_gender", cel.StringType),
		cel.Variable("provider_claim_count", cel.IntType),
		cel.Variable("signals", cel.MapType(cel.StringType, cel.DoubleType)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &CustomEngine{
		env:     env,
		weights: weights,
	}, nil
}

// ValidateRule compiles and validates a rule without loading it.
func (e *CustomEngine) ValidateRule(cfg *domain.RuleConfig) error {
	if cfg == nil {
		return fmt.Errorf("%w: rule config is required", domain.ErrInvalidConfig)
	}
	_, err := e.compileRule(cfg)
	return err
}

// LoadRule compiles a rule and adds it, replacing any rule with the same ID.
func (e *CustomEngine) LoadRule(cfg *domain.RuleConfig) error {
	compiled, err := e.compileRule(cfg)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	next := make([]*CompiledRule, 0, len(e.compiled)+1)
	for _, r := range e.compiled {
		if r.Config.ID != cfg.ID {
			next = append(next, r)
		}
	}
	next = append(next, compiled)
	sortRules(next)
	e.compiled = next
	return nil
}

// LoadRules compiles and adds every enabled rule.
func (e *CustomEngine) LoadRules(configs []*domain.RuleConfig) error {
	for _, cfg := range configs {
		if !cfg.Enabled {
			continue
		}
		if err := e.LoadRule(cfg); err != nil {
			return err
		}
	}
	return nil
}

// ReloadRules replaces the loaded rule set. On a compile error the previous
// set stays active.
func (e *CustomEngine) ReloadRules(configs []*domain.RuleConfig) error {
	next := make([]*CompiledRule, 0, len(configs))
	for _, cfg := range configs {
		if !cfg.Enabled {
			continue
		}
		compiled, err := e.compileRule(cfg)
		if err != nil {
			return err
		}
		next = append(next, compiled)
	}
	sortRules(next)

	e.mu.Lock()
	e.compiled = next
	e.mu.Unlock()
	return nil
}

// RulesCount returns the number of loaded rules.
func (e *CustomEngine) RulesCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.compiled)
}

// GetLoadedRules returns the loaded rule configurations in evaluation order.
func (e *CustomEngine) GetLoadedRules() []*domain.RuleConfig {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]*domain.RuleConfig, 0, len(e.compiled))
	for _, r := range e.compiled {
		out = append(out, r.Config)
	}
	return out
}

// Evaluate runs every loaded rule against the claim. A rule whose expression
// fails at runtime is skipped and counted as an error.
func (e *CustomEngine) Evaluate(in *Input) ([]domain.RuleHit, CustomStats) {
	e.mu.RLock()
	rules := e.compiled
	e.mu.RUnlock()

	var stats CustomStats
	if len(rules) == 0 {
		return nil, stats
	}

	activation := buildActivation(in)

	var hits []domain.RuleHit
	for _, rule := range rules {
		stats.Run++
		out, _, err := rule.Program.Eval(activation)
		if err != nil {
			stats.Errors++
			continue
		}
		if fired, ok := out.(types.Bool); !ok || !bool(fired) {
			continue
		}

		cfg := rule.Config
		desc := cfg.Description
		if desc == "" {
			desc = cfg.Name
		}
		hits = append(hits, domain.RuleHit{
			RuleID:      cfg.ID,
			Category:    cfg.Category,
			Description: desc,
			Weight:      e.weights.For(cfg.Severity),
			Severity:    cfg.Severity,
			Citation:    cfg.Citation,
		})
	}
	return hits, stats
}

// Close unloads all rules.
func (e *CustomEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.compiled = nil
	return nil
}

func (e *CustomEngine) compileRule(cfg *domain.RuleConfig) (*CompiledRule, error) {
	if strings.TrimSpace(cfg.ID) == "" {
		return nil, fmt.Errorf("%w: rule id is required", domain.ErrInvalidConfig)
	}
	if IsBuiltinRule(cfg.ID) {
		return nil, fmt.Errorf("%w: rule id %s is reserved by a built-in rule", domain.ErrInvalidConfig, cfg.ID)
	}
	if !cfg.Category.Valid() {
		return nil, fmt.Errorf("%w: rule %s: unknown category %q", domain.ErrInvalidConfig, cfg.ID, cfg.Category)
	}
	if !cfg.Severity.Valid() {
		return nil, fmt.Errorf("%w: rule %s: unknown severity %q", domain.ErrInvalidConfig, cfg.ID, cfg.Severity)
	}

	ast, issues := e.env.Compile(cfg.Expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("%w: failed to compile rule %s: %w", domain.ErrInvalidConfig, cfg.ID, issues.Err())
	}

	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("%w: rule %s: expression must return bool, got %s", domain.ErrInvalidConfig, cfg.ID, ast.OutputType())
	}

	program, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create program for rule %s: %w", cfg.ID, err)
	}

	return &CompiledRule{
		Config:  cfg,
		Program: program,
	}, nil
}

func buildActivation(in *Input) map[string]any {
	claim := in.Claim

	codes, _ := distinctCodes(claim)
	diagnoses := claimDiagnoses(claim)
	for i, d := range diagnoses {
		diagnoses[i] = domain.NormalizeDiagnosis(d)
	}

	age := int64(-1)
	if claim.Member.Age != nil {
		age = int64(*claim.Member.Age)
	}

	signals := make(map[string]float64, len(in.Signals))
	for k, v := range in.Signals {
		signals[k] = v
	}

	return map[string]any{
		"claim_id":             claim.ID,
		"billed_amount":        claim.TotalBilled(),
		"line_count":           int64(len(claim.Lines)),
		"procedure_codes":      codes,
		"diagnosis_codes":      diagnoses,
		"provider_npi":         claim.Provider.NPI,
		"provider_specialty":   strings.ToLower(claim.Provider.Specialty),
		"provider_region":      claim.Provider.Region,
		"member_age":           age,
		"member_gender":        claim.Member.Gender,
		"provider_claim_count": int64(in.Signals[SignalProviderClaimCount]),
		"signals":              signals,
	}
}

func sortRules(rules []*CompiledRule) {
	sort.Slice(rules, func(i, j int) bool {
		return rules[i].Config.ID < rules[j].Config.ID
	})
}
