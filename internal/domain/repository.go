// Package domain defines the core interfaces and types for ClaimScan.
package domain

import (
	"context"
	"time"
)

// Repository defines the interface for data persistence.
// All methods require tenantID for strict multi-tenancy isolation.
type Repository interface {
	// Claim operations
	SaveClaim(ctx context.Context, tenantID string, claim *Claim) error
	GetClaim(ctx context.Context, tenantID string, claimID string) (*Claim, error)
	CountClaimsByProvider(ctx context.Context, tenantID string, npi string, since time.Time) (int64, error)

	// Evaluation results
	SaveEvaluation(ctx context.Context, tenantID string, eval *Evaluation) error
	GetEvaluation(ctx context.Context, tenantID string, evalID string) (*Evaluation, error)
	ListEvaluationsByClaim(ctx context.Context, tenantID string, claimID string) ([]*Evaluation, error)

	// Custom rule configuration operations
	SaveRuleConfig(ctx context.Context, tenantID string, rule *RuleConfig) error
	GetRuleConfig(ctx context.Context, tenantID string, ruleID string) (*RuleConfig, error)
	ListRuleConfigs(ctx context.Context, tenantID string) ([]*RuleConfig, error)

	// Reference snapshots
	SaveReferenceData(ctx context.Context, tenantID string, data *ReferenceData) error
	GetLatestReferenceData(ctx context.Context, tenantID string) (*ReferenceData, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string `mapstructure:"driver"`

	// SQLite specific
	SQLitePath string `mapstructure:"sqlite_path"`

	// PostgreSQL specific
	PostgresHost     string `mapstructure:"postgres_host"`
	PostgresPort     int    `mapstructure:"postgres_port"`
	PostgresUser     string `mapstructure:"postgres_user"`
	PostgresPassword string `mapstructure:"postgres_password"`
	PostgresDB       string `mapstructure:"postgres_db"`
	PostgresSSLMode  string `mapstructure:"postgres_sslmode"`

	// Connection pool settings
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}
