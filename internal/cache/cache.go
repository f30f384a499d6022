package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/opensource-finance/claimscan/internal/domain"
)

// ErrTenantRequired is returned when a cache call has no tenant.
var ErrTenantRequired = errors.New("tenantID is required")

// New creates a new cache based on configuration.
// For Community: returns LRU cache.
// For Pro with two-phase: returns TwoPhaseCache wrapping LRU + Redis.
// For Pro without two-phase: returns Redis cache.
func New(cfg domain.CacheConfig) (domain.Cache, error) {
	switch cfg.Type {
	case "memory", "":
		return NewLRUCache(cfg.LocalMaxSize), nil

	case "redis":
		if cfg.EnableTwoPhase {
			return NewTwoPhaseCache(cfg)
		}
		return NewRedisCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)

	default:
		return nil, fmt.Errorf("unsupported cache type: %s", cfg.Type)
	}
}

// Fingerprint identifies an outcome: the canonical claim JSON plus the
// reference snapshot fingerprint and scoring configuration it was evaluated
// against.
// Extras (signals, loaded custom rules) are folded in the same way.
func Fingerprint(claim *domain.Claim, reference string, scoring domain.ScoringConfig, extras ...any) (string, error) {
	claimJSON, err := json.Marshal(claim)
	if err != nil {
		return "", fmt.Errorf("marshal claim: %w", err)
	}
	scoringJSON, err := json.Marshal(scoring)
	if err != nil {
		return "", fmt.Errorf("marshal scoring config: %w", err)
	}

	h := sha256.New()
	h.Write(claimJSON)
	h.Write([]byte{0})
	h.Write([]byte(reference))
	h.Write([]byte{0})
	h.Write(scoringJSON)
	for i, extra := range extras {
		extraJSON, err := json.Marshal(extra)
		if err != nil {
			return "", fmt.Errorf("marshal fingerprint part %d: %w", i, err)
		}
		h.Write([]byte{0})
		h.Write(extraJSON)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// ProviderCounterKey is the counter key for a provider's claim submissions.
func ProviderCounterKey(npi string) string {
	return "provider:" + npi
}

type byteStore interface {
	Get(ctx context.Context, tenantID string, key string) ([]byte, error)
	Set(ctx context.Context, tenantID string, key string, value []byte, ttl time.Duration) error
}

func outcomeKey(fingerprint string) string {
	return "outcome:" + fingerprint
}

func getOutcome(ctx context.Context, store byteStore, tenantID, fingerprint string) (*domain.Outcome, error) {
	data, err := store.Get(ctx, tenantID, outcomeKey(fingerprint))
	if err != nil || data == nil {
		return nil, err
	}

	var out domain.Outcome
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decode cached outcome: %w", err)
	}
	return &out, nil
}

func setOutcome(ctx context.Context, store byteStore, tenantID, fingerprint string, outcome *domain.Outcome, ttl time.Duration) error {
	data, err := json.Marshal(outcome)
	if err != nil {
		return fmt.Errorf("encode outcome: %w", err)
	}
	return store.Set(ctx, tenantID, outcomeKey(fingerprint), data, ttl)
}

// TwoPhaseCache implements the two-phase caching strategy.
// L1: Local LRU cache for fast reads
// L2: Redis for distributed caching and persistence
type TwoPhaseCache struct {
	local  *LRUCache
	remote *RedisCache
	l1TTL  time.Duration
}

// NewTwoPhaseCache creates a two-phase cache with LRU + Redis.
func NewTwoPhaseCache(cfg domain.CacheConfig) (*TwoPhaseCache, error) {
	remote, err := NewRedisCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		return nil, fmt.Errorf("failed to create redis cache: %w", err)
	}
	return newTwoPhase(NewLRUCache(cfg.LocalMaxSize), remote, cfg.LocalTTL), nil
}

func newTwoPhase(local *LRUCache, remote *RedisCache, l1TTL time.Duration) *TwoPhaseCache {
	if l1TTL <= 0 {
		l1TTL = 5 * time.Minute
	}
	return &TwoPhaseCache{
		local:  local,
		remote: remote,
		l1TTL:  l1TTL,
	}
}

// Get retrieves from L1 first, then L2. Populates L1 on L2 hit.
func (c *TwoPhaseCache) Get(ctx context.Context, tenantID string, key string) ([]byte, error) {
	val, err := c.local.Get(ctx, tenantID, key)
	if err != nil {
		return nil, err
	}
	if val != nil {
		return val, nil
	}

	val, err = c.remote.Get(ctx, tenantID, key)
	if err != nil {
		return nil, err
	}
	if val != nil {
		_ = c.local.Set(ctx, tenantID, key, val, c.l1TTL)
	}

	return val, nil
}

// Set writes to both L1 and L2. L1 never holds an entry longer than l1TTL.
func (c *TwoPhaseCache) Set(ctx context.Context, tenantID string, key string, value []byte, ttl time.Duration) error {
	l1TTL := c.l1TTL
	if ttl < l1TTL {
		l1TTL = ttl
	}
	if err := c.local.Set(ctx, tenantID, key, value, l1TTL); err != nil {
		return err
	}
	return c.remote.Set(ctx, tenantID, key, value, ttl)
}

// Delete removes from both L1 and L2.
func (c *TwoPhaseCache) Delete(ctx context.Context, tenantID string, key string) error {
	if err := c.local.Delete(ctx, tenantID, key); err != nil {
		return err
	}
	return c.remote.Delete(ctx, tenantID, key)
}

// GetOutcome retrieves a cached outcome through both levels.
func (c *TwoPhaseCache) GetOutcome(ctx context.Context, tenantID string, fingerprint string) (*domain.Outcome, error) {
	return getOutcome(ctx, c, tenantID, fingerprint)
}

// SetOutcome caches an outcome in both levels.
func (c *TwoPhaseCache) SetOutcome(ctx context.Context, tenantID string, fingerprint string, outcome *domain.Outcome, ttl time.Duration) error {
	return setOutcome(ctx, c, tenantID, fingerprint, outcome, ttl)
}

// IncrementCounter uses Redis for distributed atomic counters.
// L1 is not used for counters to ensure accuracy across nodes.
func (c *TwoPhaseCache) IncrementCounter(ctx context.Context, tenantID string, key string, window time.Duration) (int64, error) {
	return c.remote.IncrementCounter(ctx, tenantID, key, window)
}

// Ping checks both L1 and L2 health.
func (c *TwoPhaseCache) Ping(ctx context.Context) error {
	if err := c.local.Ping(ctx); err != nil {
		return fmt.Errorf("L1 ping failed: %w", err)
	}
	if err := c.remote.Ping(ctx); err != nil {
		return fmt.Errorf("L2 ping failed: %w", err)
	}
	return nil
}

// Close closes both L1 and L2.
func (c *TwoPhaseCache) Close() error {
	_ = c.local.Close()
	return c.remote.Close()
}

// Stats returns L1 cache statistics.
func (c *TwoPhaseCache) Stats() Stats {
	return c.local.Stats()
}
