// Package config loads the ClaimScan configuration from an optional YAML file
// and CLAIMSCAN_* environment variables on top of the edition presets.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/opensource-finance/claimscan/internal/domain"
)

// EnvPrefix is prepended to every environment override, e.g.
// CLAIMSCAN_SERVER_PORT or CLAIMSCAN_CACHE_OUTCOME_TTL.
const EnvPrefix = "CLAIMSCAN"

// ErrInvalid is returned when a loaded configuration fails validation.
var ErrInvalid = errors.New("invalid configuration")

// Load reads configuration. The edition (from the file or CLAIMSCAN_EDITION)
// selects the preset; file values override the preset and environment
// variables override both. An empty path skips the file.
func Load(path string) (*domain.Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	v.BindEnv("edition")
	cfg := domain.DefaultConfig()
	switch domain.Edition(strings.ToLower(v.GetString("edition"))) {
	case domain.EditionPro:
		cfg = domain.ProConfig()
	case domain.EditionCommunity, "":
	default:
		return nil, fmt.Errorf("%w: unknown edition %q", ErrInvalid, v.GetString("edition"))
	}

	setDefaults(v, cfg)

	// Slices are decoded element-wise into existing values, so start them
	// empty and restore the preset when nothing overrides them.
	thresholds := cfg.Scoring.Thresholds
	cfg.Scoring.Thresholds = nil

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if len(cfg.Scoring.Thresholds) == 0 {
		cfg.Scoring.Thresholds = thresholds
	}
	cfg.Worker.Tenants = splitList(cfg.Worker.Tenants)

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setDefaults registers every scalar key so environment variables reach
// Unmarshal.
func setDefaults(v *viper.Viper, cfg *domain.Config) {
	defaults := map[string]any{
		"edition": cfg.Edition,

		"server.host":          cfg.Server.Host,
		"server.port":          cfg.Server.Port,
		"server.read_timeout":  cfg.Server.ReadTimeout,
		"server.write_timeout": cfg.Server.WriteTimeout,

		"repository.driver":            cfg.Repository.Driver,
		"repository.sqlite_path":       cfg.Repository.SQLitePath,
		"repository.postgres_host":     cfg.Repository.PostgresHost,
		"repository.postgres_port":     cfg.Repository.PostgresPort,
		"repository.postgres_user":     cfg.Repository.PostgresUser,
		"repository.postgres_password": cfg.Repository.PostgresPassword,
		"repository.postgres_db":       cfg.Repository.PostgresDB,
		"repository.postgres_sslmode":  cfg.Repository.PostgresSSLMode,
		"repository.max_open_conns":    cfg.Repository.MaxOpenConns,
		"repository.max_idle_conns":    cfg.Repository.MaxIdleConns,
		"repository.conn_max_lifetime": cfg.Repository.ConnMaxLifetime,

		"cache.type":             cfg.Cache.Type,
		"cache.local_max_size":   cfg.Cache.LocalMaxSize,
		"cache.local_ttl":        cfg.Cache.LocalTTL,
		"cache.redis_addr":       cfg.Cache.RedisAddr,
		"cache.redis_password":   cfg.Cache.RedisPassword,
		"cache.redis_db":         cfg.Cache.RedisDB,
		"cache.enable_two_phase": cfg.Cache.EnableTwoPhase,
		"cache.outcome_ttl":      cfg.Cache.OutcomeTTL,

		"event_bus.type":                cfg.EventBus.Type,
		"event_bus.channel_buffer_size": cfg.EventBus.ChannelBufferSize,
		"event_bus.nats_url":            cfg.EventBus.NATSUrl,
		"event_bus.nats_token":          cfg.EventBus.NATSToken,
		"event_bus.nats_max_reconnects": cfg.EventBus.NATSMaxReconnects,
		"event_bus.nats_reconnect_wait": cfg.EventBus.NATSReconnectWait,

		"scoring.base_score":             cfg.Scoring.BaseScore,
		"scoring.weights.low":            cfg.Scoring.Weights.Low,
		"scoring.weights.medium":         cfg.Scoring.Weights.Medium,
		"scoring.weights.high":           cfg.Scoring.Weights.High,
		"scoring.weights.critical":       cfg.Scoring.Weights.Critical,
		"scoring.recovery_multiplier":    cfg.Scoring.RecoveryMultiplier,
		"scoring.outlier_multiplier":     cfg.Scoring.OutlierMultiplier,
		"scoring.modifier_policy":        cfg.Scoring.ModifierPolicy,
		"scoring.global_period_bundling": cfg.Scoring.GlobalPeriodBundling,

		"reference.path": cfg.Reference.Path,

		"worker.enabled":         cfg.Worker.Enabled,
		"worker.concurrency":     cfg.Worker.Concurrency,
		"worker.tenants":         cfg.Worker.Tenants,
		"worker.alert_tier":      string(cfg.Worker.AlertTier),
		"worker.velocity_window": cfg.Worker.VelocityWindow,

		"logging.level":  cfg.Logging.Level,
		"logging.format": cfg.Logging.Format,

		"tracing.enabled":      cfg.Tracing.Enabled,
		"tracing.service_name": cfg.Tracing.ServiceName,
	}
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
}

// splitList flattens comma-separated entries, which is how a list arrives
// from a single environment variable.
func splitList(values []string) []string {
	var out []string
	for _, value := range values {
		for _, part := range strings.Split(value, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// Validate checks settings that would otherwise fail later at startup.
func Validate(cfg *domain.Config) error {
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("%w: server port %d out of range", ErrInvalid, cfg.Server.Port)
	}

	switch cfg.Repository.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("%w: unsupported repository driver %q", ErrInvalid, cfg.Repository.Driver)
	}

	switch cfg.Cache.Type {
	case "memory", "redis":
	default:
		return fmt.Errorf("%w: unsupported cache type %q", ErrInvalid, cfg.Cache.Type)
	}

	switch cfg.EventBus.Type {
	case "channel", "nats":
	default:
		return fmt.Errorf("%w: unsupported event bus type %q", ErrInvalid, cfg.EventBus.Type)
	}

	switch strings.ToLower(cfg.Logging.Format) {
	case "json", "text":
	default:
		return fmt.Errorf("%w: unsupported log format %q", ErrInvalid, cfg.Logging.Format)
	}

	if _, err := domain.NewThresholds(cfg.Scoring.Thresholds); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	if tier := cfg.Worker.AlertTier; tier != "" && tier.Rank() < 0 {
		return fmt.Errorf("%w: unknown alert tier %q", ErrInvalid, tier)
	}
	if cfg.Worker.VelocityWindow < 0 {
		return fmt.Errorf("%w: velocity window must not be negative", ErrInvalid)
	}

	return nil
}
