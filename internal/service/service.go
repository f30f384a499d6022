// Package service runs the claim evaluation flow shared by the HTTP API and
// the async worker: persist the claim, gather signals, evaluate against the
// current reference snapshot, and record the evaluation.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/opensource-finance/claimscan/internal/cache"
	"github.com/opensource-finance/claimscan/internal/domain"
	"github.com/opensource-finance/claimscan/internal/evaluator"
	"github.com/opensource-finance/claimscan/internal/refindex"
	"github.com/opensource-finance/claimscan/internal/rules"
	"github.com/opensource-finance/claimscan/internal/velocity"
)

// GlobalTenantID owns custom rules and reference snapshots that apply to
// every tenant.
const GlobalTenantID = "*"

var (
	// ErrTenantRequired is returned when an evaluation has no tenant.
	ErrTenantRequired = errors.New("tenantID is required")

	// ErrNoReferenceSource is returned when a reload has nowhere to read from.
	ErrNoReferenceSource = errors.New("no reference source configured")

	// ErrRepositoryUnavailable is returned when persistence is required but absent.
	ErrRepositoryUnavailable = errors.New("repository not available")
)

var tracer = otel.Tracer("claimscan-service")

// Deps are the collaborators of a Service. Only Evaluator and Store are
// required; the rest degrade gracefully when nil.
type Deps struct {
	Evaluator *evaluator.Evaluator
	Custom    *rules.CustomEngine
	Store     *refindex.Store
	Repo      domain.Repository
	Cache     domain.Cache
	Velocity  *velocity.Service

	Scoring       domain.ScoringConfig
	OutcomeTTL    time.Duration
	ReferencePath string
}

// Service evaluates claims for a tenant.
type Service struct {
	eval          *evaluator.Evaluator
	custom        *rules.CustomEngine
	store         *refindex.Store
	repo          domain.Repository
	cache         domain.Cache
	velocity      *velocity.Service
	scoring       domain.ScoringConfig
	outcomeTTL    time.Duration
	referencePath string
}

// New creates a Service.
func New(deps Deps) *Service {
	store := deps.Store
	if store == nil {
		store = refindex.NewStore(nil)
	}
	return &Service{
		eval:          deps.Evaluator,
		custom:        deps.Custom,
		store:         store,
		repo:          deps.Repo,
		cache:         deps.Cache,
		velocity:      deps.Velocity,
		scoring:       deps.Scoring,
		outcomeTTL:    deps.OutcomeTTL,
		referencePath: deps.ReferencePath,
	}
}

// Store returns the reference snapshot store.
func (s *Service) Store() *refindex.Store {
	return s.store
}

// Custom returns the custom rule engine, which may be nil.
func (s *Service) Custom() *rules.CustomEngine {
	return s.custom
}

// Repository returns the repository, which may be nil.
func (s *Service) Repository() domain.Repository {
	return s.repo
}

// Evaluate runs one claim through the full flow. Persistence and cache
// failures are logged and do not fail the evaluation.
func (s *Service) Evaluate(ctx context.Context, tenantID, traceID string, claim *domain.Claim) (*domain.Evaluation, error) {
	start := time.Now()
	if tenantID == "" {
		return nil, ErrTenantRequired
	}
	if claim == nil {
		claim = &domain.Claim{}
	}
	claim.TenantID = tenantID

	ctx, span := tracer.Start(ctx, "claim.evaluate",
		trace.WithAttributes(
			attribute.String("tenant.id", tenantID),
			attribute.String("claim.id", claim.ID),
			attribute.Int("claim.lines", len(claim.Lines)),
		),
	)
	defer span.End()

	if s.repo != nil && claim.ID != "" {
		if err := s.repo.SaveClaim(ctx, tenantID, claim); err != nil {
			slog.Error("failed to save claim",
				"claim_id", claim.ID,
				"tenant_id", tenantID,
				"error", err,
			)
		}
	}

	signals := s.signals(ctx, tenantID, claim)
	ingestMs := time.Since(start).Milliseconds()

	idx := s.store.Current()
	rulesStart := time.Now()

	outcome, stats, cached := s.outcome(ctx, tenantID, claim, idx, signals)
	rulesMs := time.Since(rulesStart).Milliseconds()

	if traceID == "" {
		traceID = span.SpanContext().TraceID().String()
	}

	evaluation := &domain.Evaluation{
		ID:        uuid.New().String(),
		TenantID:  tenantID,
		ClaimID:   claim.ID,
		Outcome:   *outcome,
		Timestamp: time.Now().UTC(),
		Metadata: domain.EvaluationMetadata{
			TraceID:          traceID,
			IngestMs:         ingestMs,
			RulesMs:          rulesMs,
			FindingsCount:    len(outcome.Findings),
			CustomRulesRun:   stats.Run,
			CustomRuleErrors: stats.Errors,
			EngineVersion:    evaluator.EngineVersion,
			Cached:           cached,
		},
	}
	evaluation.Metadata.TotalMs = time.Since(start).Milliseconds()

	if s.repo != nil {
		if err := s.repo.SaveEvaluation(ctx, tenantID, evaluation); err != nil {
			slog.Error("failed to save evaluation",
				"evaluation_id", evaluation.ID,
				"claim_id", claim.ID,
				"error", err,
			)
			span.RecordError(err)
		}
	}

	span.SetAttributes(
		attribute.String("decision", string(outcome.Decision)),
		attribute.Float64("score", outcome.Score),
		attribute.Int("findings", len(outcome.Findings)),
		attribute.Bool("cached", cached),
	)
	if stats.Errors > 0 {
		span.SetStatus(codes.Error, fmt.Sprintf("%d custom rules failed", stats.Errors))
	}

	return evaluation, nil
}

// EvaluateBatch evaluates claims in input order. It stops at the first
// context cancellation and returns the evaluations completed so far.
func (s *Service) EvaluateBatch(ctx context.Context, tenantID, traceID string, claims []*domain.Claim) ([]*domain.Evaluation, error) {
	evals := make([]*domain.Evaluation, 0, len(claims))
	for _, claim := range claims {
		if err := ctx.Err(); err != nil {
			return evals, err
		}
		eval, err := s.Evaluate(ctx, tenantID, traceID, claim)
		if err != nil {
			return evals, err
		}
		evals = append(evals, eval)
	}
	return evals, nil
}

func (s *Service) signals(ctx context.Context, tenantID string, claim *domain.Claim) map[string]float64 {
	if s.velocity == nil {
		return nil
	}
	signals, err := s.velocity.Signals(ctx, tenantID, claim)
	if err != nil {
		slog.Warn("velocity unavailable",
			"claim_id", claim.ID,
			"tenant_id", tenantID,
			"error", err,
		)
		return nil
	}
	return signals
}

func (s *Service) outcome(ctx context.Context, tenantID string, claim *domain.Claim, idx *refindex.Index, signals map[string]float64) (*domain.Outcome, rules.CustomStats, bool) {
	var fingerprint string
	if s.cache != nil && s.outcomeTTL > 0 {
		var loaded []*domain.RuleConfig
		if s.custom != nil {
			loaded = s.custom.GetLoadedRules()
		}

		fp, err := cache.Fingerprint(claim, idx.Fingerprint(), s.scoring, signals, loaded)
		if err != nil {
			slog.Warn("failed to fingerprint claim", "claim_id", claim.ID, "error", err)
		} else {
			fingerprint = fp
			cached, err := s.cache.GetOutcome(ctx, tenantID, fingerprint)
			if err != nil {
				slog.Warn("outcome cache read failed", "claim_id", claim.ID, "error", err)
			}
			if cached != nil {
				return cached, rules.CustomStats{}, true
			}
		}
	}

	report := s.eval.Run(claim, idx, signals)

	if fingerprint != "" {
		if err := s.cache.SetOutcome(ctx, tenantID, fingerprint, report.Outcome, s.outcomeTTL); err != nil {
			slog.Warn("outcome cache write failed", "claim_id", claim.ID, "error", err)
		}
	}

	return report.Outcome, report.Custom, false
}
