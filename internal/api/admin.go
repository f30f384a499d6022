package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/opensource-finance/claimscan/internal/domain"
	"github.com/opensource-finance/claimscan/internal/refindex"
	"github.com/opensource-finance/claimscan/internal/service"
)

// maxReferenceBody bounds PUT /reference uploads.
const maxReferenceBody = 64 << 20

// ListRules returns the custom rules currently loaded in the engine.
// Rules are loaded from the database at startup and can be reloaded via POST /rules/reload.
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	custom := h.svc.Custom()
	if custom == nil {
		writeError(w, http.StatusServiceUnavailable, "custom rules are disabled")
		return
	}

	loaded := custom.GetLoadedRules()
	writeJSON(w, http.StatusOK, map[string]any{
		"rules":  loaded,
		"count":  len(loaded),
		"source": "database",
	})
}

// GetRule returns a loaded rule, falling back to the persisted config so
// saved but not yet reloaded rules are visible.
func (h *Handler) GetRule(w http.ResponseWriter, r *http.Request) {
	ruleID := chi.URLParam(r, "id")

	if custom := h.svc.Custom(); custom != nil {
		for _, rule := range custom.GetLoadedRules() {
			if rule.ID == ruleID {
				writeJSON(w, http.StatusOK, rule)
				return
			}
		}
	}

	repo := h.svc.Repository()
	if repo == nil {
		writeError(w, http.StatusNotFound, "rule not found")
		return
	}

	rule, err := repo.GetRuleConfig(r.Context(), service.GlobalTenantID, ruleID)
	if err != nil {
		h.lookupFailed(w, "rule", ruleID, err)
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

// CreateRule validates and saves a custom rule globally.
// After saving, call POST /rules/reload to hot-reload into the engine.
func (h *Handler) CreateRule(w http.ResponseWriter, r *http.Request) {
	var rule domain.RuleConfig
	if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON request body")
		return
	}

	if rule.ID == "" || rule.Name == "" || rule.Expression == "" {
		writeError(w, http.StatusBadRequest, "id, name, and expression are required")
		return
	}

	err := h.svc.SaveRule(r.Context(), &rule)
	switch {
	case errors.Is(err, domain.ErrInvalidConfig):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, service.ErrRepositoryUnavailable):
		writeError(w, http.StatusServiceUnavailable, "repository not available")
		return
	case err != nil:
		slog.Error("failed to save rule config", "id", rule.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to save rule")
		return
	}

	slog.Info("rule created", "id", rule.ID, "name", rule.Name)
	writeJSON(w, http.StatusCreated, map[string]any{
		"rule":    rule,
		"message": "Rule created. Call POST /rules/reload to apply changes.",
	})
}

// ReloadRules reloads all custom rules from the database into the engine.
func (h *Handler) ReloadRules(w http.ResponseWriter, r *http.Request) {
	count, err := h.svc.ReloadRules(r.Context())
	switch {
	case errors.Is(err, service.ErrRepositoryUnavailable):
		writeError(w, http.StatusServiceUnavailable, "repository not available")
		return
	case err != nil:
		slog.Error("failed to reload rules", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to reload rules: "+err.Error())
		return
	}

	slog.Info("rules reloaded from database", "count", count)
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "rules reloaded successfully",
		"count":   count,
	})
}

// GetReference returns the sizes of the active reference snapshot.
func (h *Handler) GetReference(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.Store().Current().Stats())
}

// PutReference replaces the active reference snapshot. The body is JSON
// unless the content type names YAML.
func (h *Handler) PutReference(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxReferenceBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	format := "json"
	if strings.Contains(r.Header.Get("Content-Type"), "yaml") {
		format = "yaml"
	}

	data, err := refindex.Parse(body, format)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	stats, err := h.svc.ReplaceReference(r.Context(), data)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// ReloadReference re-reads the configured reference source.
func (h *Handler) ReloadReference(w http.ResponseWriter, r *http.Request) {
	stats, err := h.svc.ReloadReference(r.Context())
	switch {
	case errors.Is(err, service.ErrNoReferenceSource):
		writeError(w, http.StatusConflict, "no reference source configured")
		return
	case err != nil:
		slog.Error("failed to reload reference data", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to reload reference data")
		return
	}

	slog.Info("reference data reloaded", "version", stats.Version)
	writeJSON(w, http.StatusOK, stats)
}
