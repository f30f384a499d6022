// Package velocity provides provider submission velocity for claim rules.
package velocity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/opensource-finance/claimscan/internal/cache"
	"github.com/opensource-finance/claimscan/internal/domain"
	"github.com/opensource-finance/claimscan/internal/rules"
)

// DefaultWindow is used when no window is configured.
const DefaultWindow = 24 * time.Hour

// ErrNoSource is returned when neither a repository nor a cache is available.
var ErrNoSource = errors.New("no velocity data source available")

// Service counts how many claims a provider submitted within a window.
// The repository count is authoritative when a repository is configured;
// otherwise cache counters are used.
type Service struct {
	repo   domain.Repository
	cache  domain.Cache
	window time.Duration
	now    func() time.Time
}

// NewService creates a new velocity service. Either source may be nil.
func NewService(repo domain.Repository, c domain.Cache, window time.Duration) *Service {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Service{
		repo:   repo,
		cache:  c,
		window: window,
		now:    time.Now,
	}
}

// Window returns the counting window.
func (s *Service) Window() time.Duration {
	return s.window
}

// ProviderClaimCount returns the number of claims a provider submitted within
// the window, from the repository.
func (s *Service) ProviderClaimCount(ctx context.Context, tenantID, npi string) (int64, error) {
	if tenantID == "" || npi == "" {
		return 0, fmt.Errorf("tenantID and npi are required")
	}
	if s.repo == nil {
		return 0, ErrNoSource
	}

	since := s.now().Add(-s.window)
	count, err := s.repo.CountClaimsByProvider(ctx, tenantID, npi, since)
	if err != nil {
		return 0, fmt.Errorf("failed to count provider claims: %w", err)
	}
	return count, nil
}

// Observe records one submission in the cache counter and returns the count
// for the current window.
func (s *Service) Observe(ctx context.Context, tenantID, npi string) (int64, error) {
	if tenantID == "" || npi == "" {
		return 0, fmt.Errorf("tenantID and npi are required")
	}
	if s.cache == nil {
		return 0, ErrNoSource
	}

	count, err := s.cache.IncrementCounter(ctx, tenantID, cache.ProviderCounterKey(npi), s.window)
	if err != nil {
		return 0, fmt.Errorf("failed to increment provider counter: %w", err)
	}
	return count, nil
}

// Signals returns the rule signals for a claim that has just been ingested.
// With a repository the claim must already be saved so it counts itself.
// A claim without a provider NPI gets no signals.
func (s *Service) Signals(ctx context.Context, tenantID string, claim *domain.Claim) (map[string]float64, error) {
	if claim == nil || claim.Provider.NPI == "" {
		return nil, nil
	}

	var count int64
	var err error
	switch {
	case s.repo != nil:
		count, err = s.ProviderClaimCount(ctx, tenantID, claim.Provider.NPI)
	case s.cache != nil:
		count, err = s.Observe(ctx, tenantID, claim.Provider.NPI)
	default:
		return nil, ErrNoSource
	}
	if err != nil {
		return nil, err
	}

	return map[string]float64{
		rules.SignalProviderClaimCount: float64(count),
	}, nil
}
