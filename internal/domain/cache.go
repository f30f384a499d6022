package domain

import (
	"context"
	"time"
)

// Cache defines the interface for caching operations.
// Supports two-phase caching: local LRU (Community) + Redis (Pro).
// All methods require tenantID for strict multi-tenancy isolation.
type Cache interface {
	// Get retrieves a value from cache.
	// Returns nil, nil if key not found.
	Get(ctx context.Context, tenantID string, key string) ([]byte, error)

	// Set stores a value in cache with expiration.
	Set(ctx context.Context, tenantID string, key string, value []byte, ttl time.Duration) error

	// Delete removes a value from cache.
	Delete(ctx context.Context, tenantID string, key string) error

	// GetOutcome retrieves a cached outcome by fingerprint.
	// Returns nil, nil if not cached.
	GetOutcome(ctx context.Context, tenantID string, fingerprint string) (*Outcome, error)

	// SetOutcome caches an outcome under its claim fingerprint.
	SetOutcome(ctx context.Context, tenantID string, fingerprint string, outcome *Outcome, ttl time.Duration) error

	// IncrementCounter atomically increments a counter and returns new value.
	// Used for provider submission velocity.
	IncrementCounter(ctx context.Context, tenantID string, key string, window time.Duration) (int64, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// CacheConfig holds configuration for cache initialization.
type CacheConfig struct {
	// Type is the cache type: "memory" or "redis"
	Type string `mapstructure:"type"`

	// Local LRU cache settings (Community)
	LocalMaxSize int           `mapstructure:"local_max_size"`
	LocalTTL     time.Duration `mapstructure:"local_ttl"`

	// Redis settings (Pro)
	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db"`

	// If true, check local first, then Redis
	EnableTwoPhase bool `mapstructure:"enable_two_phase"`

	// How long evaluated outcomes are reused; zero disables outcome caching
	OutcomeTTL time.Duration `mapstructure:"outcome_ttl"`
}
