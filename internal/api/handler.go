package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/opensource-finance/claimscan/internal/cache"
	"github.com/opensource-finance/claimscan/internal/decision"
	"github.com/opensource-finance/claimscan/internal/domain"
	"github.com/opensource-finance/claimscan/internal/repository"
	"github.com/opensource-finance/claimscan/internal/service"
	"github.com/opensource-finance/claimscan/internal/worker"
)

// MaxBatchSize bounds the number of claims accepted by POST /evaluate/batch.
const MaxBatchSize = 500

// Handler holds dependencies for API handlers.
type Handler struct {
	svc     *service.Service
	cache   domain.Cache
	bus     domain.EventBus
	version string
}

// NewHandler creates a new API handler. The bus may be nil, in which case
// async submissions are rejected.
func NewHandler(svc *service.Service, cacheImpl domain.Cache, bus domain.EventBus, version string) *Handler {
	return &Handler{
		svc:     svc,
		cache:   cacheImpl,
		bus:     bus,
		version: version,
	}
}

// EvaluateResponse is the response for POST /evaluate.
type EvaluateResponse struct {
	*domain.EvaluationResponse
	Reasons []string `json:"reasons,omitempty"`
	Version string   `json:"version"`
}

// BatchRequest is the request body for POST /evaluate/batch.
type BatchRequest struct {
	Claims []*domain.Claim `json:"claims"`
}

// BatchResponse is the response for POST /evaluate/batch.
type BatchResponse struct {
	Results []*EvaluateResponse `json:"results"`
	Count   int                 `json:"count"`
	Tiers   map[domain.Tier]int `json:"tiers"`
}

func (h *Handler) response(eval *domain.Evaluation) *EvaluateResponse {
	return &EvaluateResponse{
		EvaluationResponse: eval.ToResponse(),
		Reasons:            decision.Reasons(&eval.Outcome),
		Version:            h.version,
	}
}

// Evaluate handles POST /evaluate requests. With ?async=true the claim is
// published for the worker and the request returns 202.
func (h *Handler) Evaluate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	traceID := GetTraceID(ctx)

	var claim domain.Claim
	if err := json.NewDecoder(r.Body).Decode(&claim); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON request body")
		return
	}

	if async, _ := strconv.ParseBool(r.URL.Query().Get("async")); async {
		h.submit(w, r, &claim)
		return
	}

	eval, err := h.svc.Evaluate(ctx, tenantID, traceID, &claim)
	if err != nil {
		slog.Error("claim evaluation failed",
			"claim_id", claim.ID,
			"tenant_id", tenantID,
			"error", err,
		)
		writeError(w, http.StatusInternalServerError, "claim evaluation failed")
		return
	}

	writeJSON(w, http.StatusOK, h.response(eval))
}

func (h *Handler) submit(w http.ResponseWriter, r *http.Request, claim *domain.Claim) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	traceID := GetTraceID(ctx)

	if h.bus == nil {
		writeError(w, http.StatusServiceUnavailable, "event bus not available")
		return
	}
	if claim.ID == "" {
		writeError(w, http.StatusBadRequest, "id is required for async evaluation")
		return
	}

	if err := worker.Submit(ctx, h.bus, tenantID, traceID, claim); err != nil {
		slog.Error("failed to submit claim",
			"claim_id", claim.ID,
			"tenant_id", tenantID,
			"error", err,
		)
		writeError(w, http.StatusServiceUnavailable, "failed to queue claim")
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{
		"claimId": claim.ID,
		"status":  "queued",
		"traceId": traceID,
	})
}

// EvaluateBatch handles POST /evaluate/batch requests.
func (h *Handler) EvaluateBatch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	traceID := GetTraceID(ctx)

	var req BatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON request body")
		return
	}
	if len(req.Claims) == 0 {
		writeError(w, http.StatusBadRequest, "claims are required")
		return
	}
	if len(req.Claims) > MaxBatchSize {
		writeError(w, http.StatusRequestEntityTooLarge, "batch exceeds "+strconv.Itoa(MaxBatchSize)+" claims")
		return
	}

	evals, err := h.svc.EvaluateBatch(ctx, tenantID, traceID, req.Claims)
	if err != nil {
		slog.Error("batch evaluation failed",
			"tenant_id", tenantID,
			"completed", len(evals),
			"error", err,
		)
		writeError(w, http.StatusInternalServerError, "batch evaluation failed")
		return
	}

	resp := BatchResponse{
		Results: make([]*EvaluateResponse, 0, len(evals)),
		Count:   len(evals),
		Tiers:   make(map[domain.Tier]int),
	}
	for _, eval := range evals {
		resp.Results = append(resp.Results, h.response(eval))
		resp.Tiers[eval.Outcome.Decision]++
	}

	writeJSON(w, http.StatusOK, resp)
}

// HealthResponse reports dependency status and the active snapshot.
type HealthResponse struct {
	Status           string       `json:"status"`
	Version          string       `json:"version"`
	ReferenceVersion string       `json:"referenceVersion"`
	Cache            *cache.Stats `json:"cache,omitempty"`
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	status := "healthy"

	if repo := h.svc.Repository(); repo != nil {
		if err := repo.Ping(ctx); err != nil {
			status = "degraded"
		}
	}
	if h.cache != nil {
		if err := h.cache.Ping(ctx); err != nil {
			status = "degraded"
		}
	}
	if h.bus != nil {
		if err := h.bus.Ping(ctx); err != nil {
			status = "degraded"
		}
	}

	resp := HealthResponse{
		Status:           status,
		Version:          h.version,
		ReferenceVersion: h.svc.Store().Current().Version(),
	}
	if local, ok := h.cache.(interface{ Stats() cache.Stats }); ok {
		stats := local.Stats()
		resp.Cache = &stats
	}
	writeJSON(w, http.StatusOK, resp)
}

// Ready returns whether the server is ready to accept traffic.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

// GetEvaluation retrieves an evaluation by ID.
func (h *Handler) GetEvaluation(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	evalID := chi.URLParam(r, "id")

	repo := h.svc.Repository()
	if repo == nil {
		writeError(w, http.StatusServiceUnavailable, "repository not available")
		return
	}

	eval, err := repo.GetEvaluation(ctx, tenantID, evalID)
	if err != nil {
		h.lookupFailed(w, "evaluation", evalID, err)
		return
	}

	writeJSON(w, http.StatusOK, h.response(eval))
}

// GetClaim retrieves a stored claim with its evaluation history, newest first.
func (h *Handler) GetClaim(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	claimID := chi.URLParam(r, "id")

	repo := h.svc.Repository()
	if repo == nil {
		writeError(w, http.StatusServiceUnavailable, "repository not available")
		return
	}

	claim, err := repo.GetClaim(ctx, tenantID, claimID)
	if err != nil {
		h.lookupFailed(w, "claim", claimID, err)
		return
	}

	evals, err := repo.ListEvaluationsByClaim(ctx, tenantID, claimID)
	if err != nil {
		slog.Error("failed to list evaluations", "claim_id", claimID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load evaluations")
		return
	}

	history := make([]*domain.EvaluationResponse, 0, len(evals))
	for _, eval := range evals {
		history = append(history, eval.ToResponse())
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"claim":       claim,
		"evaluations": history,
	})
}

func (h *Handler) lookupFailed(w http.ResponseWriter, kind, id string, err error) {
	if errors.Is(err, repository.ErrNotFound) {
		writeError(w, http.StatusNotFound, kind+" not found")
		return
	}
	slog.Error("failed to get "+kind, "id", id, "error", err)
	writeError(w, http.StatusInternalServerError, "failed to load "+kind)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
