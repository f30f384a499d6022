package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/opensource-finance/claimscan/internal/domain"
	"github.com/opensource-finance/claimscan/internal/refindex"
	"github.com/opensource-finance/claimscan/internal/repository"
)

// SaveRule validates a custom rule and persists it globally. The rule takes
// effect after ReloadRules.
func (s *Service) SaveRule(ctx context.Context, cfg *domain.RuleConfig) error {
	if s.custom == nil {
		return fmt.Errorf("%w: custom rules are disabled", domain.ErrInvalidConfig)
	}
	if err := s.custom.ValidateRule(cfg); err != nil {
		return err
	}
	if s.repo == nil {
		return ErrRepositoryUnavailable
	}

	cfg.TenantID = GlobalTenantID
	if err := s.repo.SaveRuleConfig(ctx, GlobalTenantID, cfg); err != nil {
		return fmt.Errorf("save rule %s: %w", cfg.ID, err)
	}
	return nil
}

// ReloadRules replaces the loaded custom rules with the persisted set and
// returns how many are active. On error the previous set stays loaded.
func (s *Service) ReloadRules(ctx context.Context) (int, error) {
	if s.custom == nil {
		return 0, nil
	}
	if s.repo == nil {
		return 0, ErrRepositoryUnavailable
	}

	configs, err := s.repo.ListRuleConfigs(ctx, GlobalTenantID)
	if err != nil {
		return 0, fmt.Errorf("list rules: %w", err)
	}
	if err := s.custom.ReloadRules(configs); err != nil {
		return 0, err
	}
	return s.custom.RulesCount(), nil
}

// ReplaceReference swaps in a new reference snapshot and persists it.
func (s *Service) ReplaceReference(ctx context.Context, data *domain.ReferenceData) (refindex.Stats, error) {
	if data == nil {
		return refindex.Stats{}, fmt.Errorf("%w: reference data is required", domain.ErrInvalidConfig)
	}

	idx := s.store.Swap(data)

	if s.repo != nil {
		if err := s.repo.SaveReferenceData(ctx, GlobalTenantID, data); err != nil {
			slog.Error("failed to persist reference snapshot",
				"version", data.Version,
				"error", err,
			)
		}
	}

	stats := idx.Stats()
	slog.Info("reference snapshot replaced",
		"version", stats.Version,
		"conflict_pairs", stats.ConflictPairs,
		"exclusions", stats.Exclusions,
	)
	return stats, nil
}

// ReloadReference re-reads the configured reference file, falling back to the
// latest persisted snapshot when no file is configured.
func (s *Service) ReloadReference(ctx context.Context) (refindex.Stats, error) {
	data, err := s.readReference(ctx)
	if err != nil {
		return refindex.Stats{}, err
	}
	return s.store.Swap(data).Stats(), nil
}

func (s *Service) readReference(ctx context.Context) (*domain.ReferenceData, error) {
	if s.referencePath != "" {
		data, err := refindex.LoadFile(s.referencePath)
		if err != nil {
			return nil, err
		}
		return data, nil
	}

	if s.repo == nil {
		return nil, ErrNoReferenceSource
	}
	data, err := s.repo.GetLatestReferenceData(ctx, GlobalTenantID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrNoReferenceSource
	}
	if err != nil {
		return nil, fmt.Errorf("load reference snapshot: %w", err)
	}
	return data, nil
}

// Bootstrap loads the persisted custom rules and the initial reference
// snapshot. A missing reference source leaves the empty index in place.
func (s *Service) Bootstrap(ctx context.Context) error {
	if s.custom != nil && s.repo != nil {
		count, err := s.ReloadRules(ctx)
		if err != nil {
			return fmt.Errorf("load custom rules: %w", err)
		}
		slog.Info("custom rules loaded", "count", count)
	}

	stats, err := s.ReloadReference(ctx)
	if errors.Is(err, ErrNoReferenceSource) {
		slog.Warn("no reference data configured, starting with an empty index")
		return nil
	}
	if err != nil {
		return fmt.Errorf("load reference data: %w", err)
	}

	slog.Info("reference data loaded",
		"version", stats.Version,
		"conflict_pairs", stats.ConflictPairs,
		"unit_limits", stats.UnitLimits,
		"exclusions", stats.Exclusions,
	)
	return nil
}
