package domain

import "time"

// Config holds the complete ClaimScan configuration.
type Config struct {
	// Server settings
	Server ServerConfig `json:"server" mapstructure:"server"`

	// Edition determines which infrastructure backs the service
	Edition Edition `json:"edition" mapstructure:"edition"`

	// Component configurations
	Repository RepositoryConfig `json:"repository" mapstructure:"repository"`
	Cache      CacheConfig      `json:"cache" mapstructure:"cache"`
	EventBus   EventBusConfig   `json:"eventBus" mapstructure:"event_bus"`

	// Engine configuration
	Scoring   ScoringConfig   `json:"scoring" mapstructure:"scoring"`
	Reference ReferenceConfig `json:"reference" mapstructure:"reference"`
	Worker    WorkerConfig    `json:"worker" mapstructure:"worker"`

	// Observability
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`
	Tracing TracingConfig `json:"tracing" mapstructure:"tracing"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `json:"host" mapstructure:"host"`
	Port         int    `json:"port" mapstructure:"port"`
	ReadTimeout  int    `json:"readTimeout" mapstructure:"read_timeout"`   // seconds
	WriteTimeout int    `json:"writeTimeout" mapstructure:"write_timeout"` // seconds
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `json:"level" mapstructure:"level"`   // debug, info, warn, error
	Format string `json:"format" mapstructure:"format"` // json, text
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled     bool   `json:"enabled" mapstructure:"enabled"`
	ServiceName string `json:"serviceName" mapstructure:"service_name"`
}

// ScoringConfig controls how findings become a score and a decision.
type ScoringConfig struct {
	// Starting point before any finding is counted
	BaseScore float64 `json:"baseScore" mapstructure:"base_score"`

	Weights    SeverityWeights `json:"weights" mapstructure:"weights"`
	Thresholds []TierBoundary  `json:"thresholds" mapstructure:"thresholds"`

	// Used when the reference risk config has no ROI multiplier
	RecoveryMultiplier float64 `json:"recoveryMultiplier" mapstructure:"recovery_multiplier"`

	// Billed-to-expected ratio above which pricing fires
	OutlierMultiplier float64 `json:"outlierMultiplier" mapstructure:"outlier_multiplier"`

	// ignore, suppress or audit
	ModifierPolicy string `json:"modifierPolicy" mapstructure:"modifier_policy"`

	GlobalPeriodBundling bool `json:"globalPeriodBundling" mapstructure:"global_period_bundling"`
}

// DefaultScoringConfig returns the default scoring parameters.
func DefaultScoringConfig() ScoringConfig {
	return ScoringConfig{
		BaseScore:          0.5,
		Weights:            DefaultSeverityWeights(),
		Thresholds:         DefaultBoundaries(),
		RecoveryMultiplier: 0.3,
		OutlierMultiplier:  3.0,
		ModifierPolicy:     "ignore",
	}
}

// ReferenceConfig points at the reference dataset loaded at startup.
type ReferenceConfig struct {
	// Path to a YAML or JSON reference file; empty starts with an empty index
	Path string `json:"path" mapstructure:"path"`
}

// WorkerConfig holds async evaluation settings.
type WorkerConfig struct {
	Enabled     bool `json:"enabled" mapstructure:"enabled"`
	Concurrency int  `json:"concurrency" mapstructure:"concurrency"`

	// Tenants to subscribe; empty subscribes a single global worker
	Tenants []string `json:"tenants" mapstructure:"tenants"`

	// Decisions at or above this tier are also published as alerts
	AlertTier Tier `json:"alertTier" mapstructure:"alert_tier"`

	// Window for provider submission velocity
	VelocityWindow time.Duration `json:"velocityWindow" mapstructure:"velocity_window"`
}

// Edition represents the deployment edition.
type Edition string

const (
	// EditionCommunity runs on SQLite + channels + in-memory LRU
	EditionCommunity Edition = "community"

	// EditionPro runs on PostgreSQL + NATS + Redis
	EditionPro Edition = "pro"
)

// DefaultConfig returns a default configuration for the Community edition.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30,
			WriteTimeout: 30,
		},
		Edition: EditionCommunity,
		Repository: RepositoryConfig{
			Driver:     "sqlite",
			SQLitePath: "./claimscan.db",
		},
		Cache: CacheConfig{
			Type:         "memory",
			LocalMaxSize: 10000,
			LocalTTL:     5 * time.Minute,
			OutcomeTTL:   10 * time.Minute,
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
		},
		Scoring: DefaultScoringConfig(),
		Worker: WorkerConfig{
			Enabled:        true,
			Concurrency:    4,
			AlertTier:      TierSoftHold,
			VelocityWindow: 24 * time.Hour,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "claimscan",
		},
	}
}

// ProConfig returns a configuration for the Pro edition.
func ProConfig() *Config {
	cfg := DefaultConfig()
	cfg.Edition = EditionPro
	cfg.Repository = RepositoryConfig{
		Driver:          "postgres",
		PostgresHost:    "localhost",
		PostgresPort:    5432,
		PostgresDB:      "claimscan",
		PostgresSSLMode: "disable",
	}
	cfg.Cache = CacheConfig{
		Type:           "redis",
		RedisAddr:      "localhost:6379",
		EnableTwoPhase: true,
		LocalMaxSize:   1000,
		LocalTTL:       time.Minute,
		OutcomeTTL:     10 * time.Minute,
	}
	cfg.EventBus = EventBusConfig{
		Type:              "nats",
		NATSUrl:           "nats://localhost:4222",
		NATSMaxReconnects: 10,
		NATSReconnectWait: 5,
	}
	cfg.Tracing.Enabled = true
	return cfg
}
