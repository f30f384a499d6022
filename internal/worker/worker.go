// Package worker evaluates claims published on the event bus.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/opensource-finance/claimscan/internal/decision"
	"github.com/opensource-finance/claimscan/internal/domain"
	"github.com/opensource-finance/claimscan/internal/service"
)

// GlobalTenantID subscribes a single worker for every tenant.
const GlobalTenantID = domain.AllTenants

// ErrStopped is returned for messages delivered after Stop.
var ErrStopped = errors.New("worker stopped")

var tracer = otel.Tracer("claimscan-worker")

// Worker processes claims asynchronously from the EventBus.
type Worker struct {
	bus       domain.EventBus
	svc       *service.Service
	alertTier domain.Tier

	sem chan struct{}

	mu            sync.Mutex
	stopped       bool
	subscriptions []domain.Subscription
	wg            sync.WaitGroup
	ctx           context.Context
	cancel        context.CancelFunc

	processed atomic.Int64
	failed    atomic.Int64
	alerts    atomic.Int64
}

// Config holds worker configuration.
type Config struct {
	// TenantIDs is the list of tenants to process (empty = one global subscription)
	TenantIDs []string

	// Concurrency bounds in-flight evaluations across all tenants
	Concurrency int

	// Decisions at or above this tier are also published as alerts; empty disables alerts
	AlertTier domain.Tier
}

// NewWorker creates a new async worker.
func NewWorker(bus domain.EventBus, svc *service.Service, cfg Config) *Worker {
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:       bus,
		svc:       svc,
		alertTier: cfg.AlertTier,
		sem:       make(chan struct{}, concurrency),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start begins processing messages for the given tenants.
func (w *Worker) Start(tenantIDs []string) error {
	if len(tenantIDs) == 0 {
		tenantIDs = []string{GlobalTenantID}
	}

	for _, tenantID := range tenantIDs {
		sub, err := w.bus.Subscribe(w.ctx, tenantID, domain.TopicClaimIngested, w.dispatch(tenantID))
		if err != nil {
			slog.Error("failed to start worker for tenant",
				"tenant_id", tenantID,
				"error", err,
			)
			continue
		}

		w.mu.Lock()
		w.subscriptions = append(w.subscriptions, sub)
		w.mu.Unlock()
	}

	slog.Info("workers started",
		"tenant_count", len(tenantIDs),
		"concurrency", cap(w.sem),
		"topic", domain.TopicClaimIngested,
	)
	return nil
}

// dispatch hands messages to a bounded set of goroutines. The bus delivery
// blocks while all slots are busy.
func (w *Worker) dispatch(tenantID string) domain.MessageHandler {
	return func(ctx context.Context, msg *domain.Message) error {
		w.mu.Lock()
		if w.stopped {
			w.mu.Unlock()
			return ErrStopped
		}
		w.wg.Add(1)
		w.mu.Unlock()

		select {
		case w.sem <- struct{}{}:
		case <-w.ctx.Done():
			w.wg.Done()
			return ErrStopped
		}

		go func() {
			defer w.wg.Done()
			defer func() { <-w.sem }()

			if err := w.processClaim(context.WithoutCancel(ctx), tenantID, msg); err != nil {
				w.failed.Add(1)
				return
			}
			w.processed.Add(1)
		}()
		return nil
	}
}

// processClaim evaluates a claim message and publishes the decision.
func (w *Worker) processClaim(ctx context.Context, tenantID string, msg *domain.Message) error {
	start := time.Now()

	var claimMsg domain.ClaimMessage
	if err := json.Unmarshal(msg.Payload, &claimMsg); err != nil {
		slog.Error("failed to parse claim message",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}

	// Use message tenant if provided
	if claimMsg.TenantID != "" {
		tenantID = claimMsg.TenantID
	} else if tenantID == GlobalTenantID {
		tenantID = msg.TenantID
	}

	traceID := claimMsg.TraceID
	if traceID == "" {
		traceID = msg.ID
	}

	ctx, span := tracer.Start(ctx, "worker.process_claim",
		trace.WithAttributes(
			attribute.String("tenant.id", tenantID),
			attribute.String("claim.id", claimMsg.Claim.ID),
			attribute.String("message.id", msg.ID),
		),
	)
	defer span.End()

	slog.Debug("processing claim",
		"claim_id", claimMsg.Claim.ID,
		"tenant_id", tenantID,
		"trace_id", traceID,
	)

	evaluation, err := w.svc.Evaluate(ctx, tenantID, traceID, &claimMsg.Claim)
	if err != nil {
		slog.Error("claim evaluation failed",
			"claim_id", claimMsg.Claim.ID,
			"tenant_id", tenantID,
			"error", err,
		)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	if err := w.publishDecision(ctx, tenantID, evaluation); err != nil {
		span.RecordError(err)
	}

	slog.Info("claim processed",
		"claim_id", evaluation.ClaimID,
		"tenant_id", tenantID,
		"decision", evaluation.Outcome.Decision,
		"score", evaluation.Outcome.Score,
		"findings", len(evaluation.Outcome.Findings),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

func (w *Worker) publishDecision(ctx context.Context, tenantID string, evaluation *domain.Evaluation) error {
	payload, err := json.Marshal(evaluation)
	if err != nil {
		return fmt.Errorf("encode decision: %w", err)
	}
	if err := w.bus.Publish(ctx, tenantID, domain.TopicDecision, payload); err != nil {
		slog.Error("failed to publish decision",
			"claim_id", evaluation.ClaimID,
			"error", err,
		)
		return err
	}

	if !decision.ShouldAlert(&evaluation.Outcome, w.alertTier) {
		return nil
	}

	alert, err := json.Marshal(domain.AlertMessage{
		EvaluationID:      evaluation.ID,
		ClaimID:           evaluation.ClaimID,
		TenantID:          tenantID,
		Decision:          evaluation.Outcome.Decision,
		Score:             evaluation.Outcome.Score,
		EstimatedRecovery: evaluation.Outcome.EstimatedRecovery,
		Reasons:           decision.Reasons(&evaluation.Outcome),
	})
	if err != nil {
		return fmt.Errorf("encode alert: %w", err)
	}
	if err := w.bus.Publish(ctx, tenantID, domain.TopicAlert, alert); err != nil {
		slog.Error("failed to publish alert",
			"claim_id", evaluation.ClaimID,
			"error", err,
		)
		return err
	}
	w.alerts.Add(1)
	return nil
}

// Submit publishes a claim for asynchronous evaluation.
func Submit(ctx context.Context, bus domain.EventBus, tenantID, traceID string, claim *domain.Claim) error {
	payload, err := json.Marshal(domain.ClaimMessage{
		TenantID: tenantID,
		TraceID:  traceID,
		Claim:    *claim,
	})
	if err != nil {
		return fmt.Errorf("encode claim message: %w", err)
	}
	return bus.Publish(ctx, tenantID, domain.TopicClaimIngested, payload)
}

// Stop gracefully stops all workers and waits for in-flight claims.
func (w *Worker) Stop() error {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return nil
	}
	w.stopped = true
	subs := w.subscriptions
	w.subscriptions = nil
	w.mu.Unlock()

	for _, sub := range subs {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}

	w.wg.Wait()
	w.cancel()

	slog.Info("workers stopped",
		"processed", w.processed.Load(),
		"failed", w.failed.Load(),
	)
	return nil
}

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
	Processed         int64    `json:"processed"`
	Failed            int64    `json:"failed"`
	Alerts            int64    `json:"alerts"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()

	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
		Processed:         w.processed.Load(),
		Failed:            w.failed.Load(),
		Alerts:            w.alerts.Load(),
	}
}
