// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/opensource-finance/claimscan/internal/domain"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrInvalidInput = errors.New("invalid input")
)

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
	now    func() time.Time
}

var _ domain.Repository = (*SQLRepository)(nil)

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (*SQLRepository, error) {
	db, err := open(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if cfg.Driver == "" {
		cfg.Driver = "sqlite"
	}

	// Configure connection pool
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{
		db:     db,
		driver: cfg.Driver,
		now:    time.Now,
	}

	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

func (r *SQLRepository) nowMs() int64 {
	return r.now().UTC().UnixMilli()
}

func requireTenant(tenantID string) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}
	return nil
}

// SaveClaim stores a claim with tenant isolation. Saving an existing claim
// replaces its payload but keeps the original ingestion time.
func (r *SQLRepository) SaveClaim(ctx context.Context, tenantID string, claim *domain.Claim) error {
	if err := requireTenant(tenantID); err != nil {
		return err
	}
	if claim == nil || claim.ID == "" {
		return fmt.Errorf("%w: claim id is required", ErrInvalidInput)
	}

	payload, err := json.Marshal(claim)
	if err != nil {
		return fmt.Errorf("encode claim: %w", err)
	}

	now := r.nowMs()
	query := `
		INSERT INTO claims (
			id, tenant_id, provider_npi, billed_amount, line_count, payload, ingested_ms, updated_ms
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(tenant_id, id) DO UPDATE SET
			provider_npi = excluded.provider_npi,
			billed_amount = excluded.billed_amount,
			line_count = excluded.line_count,
			payload = excluded.payload,
			updated_ms = excluded.updated_ms
	`

	_, err = r.db.ExecContext(ctx, r.rebind(query),
		claim.ID, tenantID, claim.Provider.NPI, claim.TotalBilled(), len(claim.Lines),
		string(payload), now, now,
	)
	return err
}

// GetClaim retrieves a claim by ID with tenant isolation.
func (r *SQLRepository) GetClaim(ctx context.Context, tenantID string, claimID string) (*domain.Claim, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}

	query := `SELECT payload FROM claims WHERE tenant_id = ? AND id = ?`

	var payload string
	err := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, claimID).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var claim domain.Claim
	if err := json.Unmarshal([]byte(payload), &claim); err != nil {
		return nil, fmt.Errorf("decode claim %s: %w", claimID, err)
	}
	claim.TenantID = tenantID
	return &claim, nil
}

// CountClaimsByProvider counts claims from a provider ingested at or after since.
func (r *SQLRepository) CountClaimsByProvider(ctx context.Context, tenantID string, npi string, since time.Time) (int64, error) {
	if err := requireTenant(tenantID); err != nil {
		return 0, err
	}

	query := `
		SELECT COUNT(*)
		FROM claims
		WHERE tenant_id = ? AND provider_npi = ? AND ingested_ms >= ?
	`

	var count int64
	err := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, npi, since.UTC().UnixMilli()).Scan(&count)
	return count, err
}

type storedFlags struct {
	NCCI     []string `json:"ncci"`
	Coverage []string `json:"coverage"`
	Provider []string `json:"provider"`
}

// SaveEvaluation stores an evaluation result with tenant isolation.
func (r *SQLRepository) SaveEvaluation(ctx context.Context, tenantID string, eval *domain.Evaluation) error {
	if err := requireTenant(tenantID); err != nil {
		return err
	}
	if eval == nil || eval.ID == "" {
		return fmt.Errorf("%w: evaluation id is required", ErrInvalidInput)
	}

	findings, err := json.Marshal(eval.Outcome.Findings)
	if err != nil {
		return fmt.Errorf("encode findings: %w", err)
	}
	flags, err := json.Marshal(storedFlags{
		NCCI:     eval.Outcome.NCCIFlags,
		Coverage: eval.Outcome.CoverageFlags,
		Provider: eval.Outcome.ProviderFlags,
	})
	if err != nil {
		return fmt.Errorf("encode flags: %w", err)
	}
	metadata, err := json.Marshal(eval.Metadata)
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}

	var recovery sql.NullFloat64
	if eval.Outcome.EstimatedRecovery != nil {
		recovery = sql.NullFloat64{Float64: *eval.Outcome.EstimatedRecovery, Valid: true}
	}

	query := `
		INSERT INTO evaluations (
			id, tenant_id, claim_id, decision, score, estimated_recovery,
			reference_version, findings, flags, metadata, evaluated_at, created_ms
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = r.db.ExecContext(ctx, r.rebind(query),
		eval.ID, tenantID, eval.ClaimID, string(eval.Outcome.Decision), eval.Outcome.Score, recovery,
		eval.Outcome.ReferenceVersion, string(findings), string(flags), string(metadata),
		eval.Timestamp.UTC(), r.nowMs(),
	)
	return err
}

const evaluationColumns = `
	id, tenant_id, claim_id, decision, score, estimated_recovery,
	reference_version, findings, flags, metadata, evaluated_at
`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvaluation(row rowScanner) (*domain.Evaluation, error) {
	var eval domain.Evaluation
	var decision, findings, flags, metadata string
	var recovery sql.NullFloat64

	if err := row.Scan(
		&eval.ID, &eval.TenantID, &eval.ClaimID, &decision, &eval.Outcome.Score, &recovery,
		&eval.Outcome.ReferenceVersion, &findings, &flags, &metadata, &eval.Timestamp,
	); err != nil {
		return nil, err
	}

	eval.Outcome.ClaimID = eval.ClaimID
	eval.Outcome.Decision = domain.Tier(decision)
	if recovery.Valid {
		v := recovery.Float64
		eval.Outcome.EstimatedRecovery = &v
	}

	if err := json.Unmarshal([]byte(findings), &eval.Outcome.Findings); err != nil {
		return nil, fmt.Errorf("decode findings for %s: %w", eval.ID, err)
	}
	var f storedFlags
	if err := json.Unmarshal([]byte(flags), &f); err != nil {
		return nil, fmt.Errorf("decode flags for %s: %w", eval.ID, err)
	}
	eval.Outcome.NCCIFlags = f.NCCI
	eval.Outcome.CoverageFlags = f.Coverage
	eval.Outcome.ProviderFlags = f.Provider
	if err := json.Unmarshal([]byte(metadata), &eval.Metadata); err != nil {
		return nil, fmt.Errorf("decode metadata for %s: %w", eval.ID, err)
	}

	return &eval, nil
}

// GetEvaluation retrieves an evaluation by ID with tenant isolation.
func (r *SQLRepository) GetEvaluation(ctx context.Context, tenantID string, evalID string) (*domain.Evaluation, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}

	query := `SELECT ` + evaluationColumns + ` FROM evaluations WHERE tenant_id = ? AND id = ?`

	eval, err := scanEvaluation(r.db.QueryRowContext(ctx, r.rebind(query), tenantID, evalID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return eval, err
}

// ListEvaluationsByClaim returns a claim's evaluations, newest first.
func (r *SQLRepository) ListEvaluationsByClaim(ctx context.Context, tenantID string, claimID string) ([]*domain.Evaluation, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}

	query := `SELECT ` + evaluationColumns + `
		FROM evaluations
		WHERE tenant_id = ? AND claim_id = ?
		ORDER BY created_ms DESC, id
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID, claimID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var evals []*domain.Evaluation
	for rows.Next() {
		eval, err := scanEvaluation(rows)
		if err != nil {
			return nil, err
		}
		evals = append(evals, eval)
	}

	return evals, rows.Err()
}

// SaveRuleConfig stores a rule configuration with tenant isolation.
// An empty version is stored as "1".
func (r *SQLRepository) SaveRuleConfig(ctx context.Context, tenantID string, rule *domain.RuleConfig) error {
	if err := requireTenant(tenantID); err != nil {
		return err
	}
	if rule == nil || rule.ID == "" {
		return fmt.Errorf("%w: rule id is required", ErrInvalidInput)
	}

	version := rule.Version
	if version == "" {
		version = "1"
	}

	enabled := 0
	if rule.Enabled {
		enabled = 1
	}

	now := r.nowMs()

	query := `
		INSERT INTO rule_configs (
			id, tenant_id, name, description, version, expression,
			category, severity, citation, enabled, created_ms, updated_ms
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id, tenant_id, version) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			expression = excluded.expression,
			category = excluded.category,
			severity = excluded.severity,
			citation = excluded.citation,
			enabled = excluded.enabled,
			updated_ms = excluded.updated_ms
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		rule.ID, tenantID, rule.Name, rule.Description, version, rule.Expression,
		string(rule.Category), string(rule.Severity), rule.Citation, enabled,
		now, now,
	)
	return err
}

const ruleColumns = `
	id, tenant_id, name, description, version, expression,
	category, severity, citation, enabled
`

func scanRule(row rowScanner) (*domain.RuleConfig, error) {
	var cfg domain.RuleConfig
	var description, citation sql.NullString
	var category, severity string
	var enabled int

	if err := row.Scan(
		&cfg.ID, &cfg.TenantID, &cfg.Name, &description, &cfg.Version, &cfg.Expression,
		&category, &severity, &citation, &enabled,
	); err != nil {
		return nil, err
	}

	cfg.Description = description.String
	cfg.Citation = citation.String
	cfg.Category = domain.Category(category)
	cfg.Severity = domain.Severity(severity)
	cfg.Enabled = enabled == 1
	return &cfg, nil
}

// GetRuleConfig retrieves the most recently saved version of a rule.
func (r *SQLRepository) GetRuleConfig(ctx context.Context, tenantID string, ruleID string) (*domain.RuleConfig, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}

	query := `SELECT ` + ruleColumns + `
		FROM rule_configs
		WHERE tenant_id = ? AND id = ?
		ORDER BY updated_ms DESC, version DESC
		LIMIT 1
	`

	cfg, err := scanRule(r.db.QueryRowContext(ctx, r.rebind(query), tenantID, ruleID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return cfg, err
}

// ListRuleConfigs returns the most recently saved version of every rule for
// a tenant, ordered by ID. Disabled rules are included.
func (r *SQLRepository) ListRuleConfigs(ctx context.Context, tenantID string) ([]*domain.RuleConfig, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}

	query := `SELECT ` + ruleColumns + `
		FROM rule_configs
		WHERE tenant_id = ?
		ORDER BY id, updated_ms DESC, version DESC
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var configs []*domain.RuleConfig
	for rows.Next() {
		cfg, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		if n := len(configs); n > 0 && configs[n-1].ID == cfg.ID {
			continue
		}
		configs = append(configs, cfg)
	}

	return configs, rows.Err()
}

// SaveReferenceData stores a reference snapshot. Saving the same version
// again replaces it and makes it the latest.
func (r *SQLRepository) SaveReferenceData(ctx context.Context, tenantID string, data *domain.ReferenceData) error {
	if err := requireTenant(tenantID); err != nil {
		return err
	}
	if data == nil {
		return fmt.Errorf("%w: reference data is required", ErrInvalidInput)
	}

	encoded, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encode reference data: %w", err)
	}

	query := `
		INSERT INTO reference_snapshots (tenant_id, version, data, created_ms)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(tenant_id, version) DO UPDATE SET
			data = excluded.data,
			created_ms = excluded.created_ms
	`

	_, err = r.db.ExecContext(ctx, r.rebind(query), tenantID, data.Version, string(encoded), r.nowMs())
	return err
}

// GetLatestReferenceData returns the most recently saved reference snapshot.
func (r *SQLRepository) GetLatestReferenceData(ctx context.Context, tenantID string) (*domain.ReferenceData, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}

	query := `
		SELECT data FROM reference_snapshots
		WHERE tenant_id = ?
		ORDER BY created_ms DESC, version DESC
		LIMIT 1
	`

	var encoded string
	err := r.db.QueryRowContext(ctx, r.rebind(query), tenantID).Scan(&encoded)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var data domain.ReferenceData
	if err := json.Unmarshal([]byte(encoded), &data); err != nil {
		return nil, fmt.Errorf("decode reference data: %w", err)
	}
	return &data, nil
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	result := make([]byte, 0, len(query)+8)
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			result = append(result, '$')
			result = strconv.AppendInt(result, int64(n), 10)
			n++
		} else {
			result = append(result, query[i])
		}
	}
	return string(result)
}
