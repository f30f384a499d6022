package repository

// Schema definitions for the ClaimScan database.
// Compatible with both SQLite and PostgreSQL. Ordering columns hold unix
// milliseconds so comparisons behave the same on both drivers.

const schemaClaims = `
CREATE TABLE IF NOT EXISTS claims (
    id TEXT NOT NULL,
    tenant_id TEXT NOT NULL,
    provider_npi TEXT NOT NULL,
    billed_amount DOUBLE PRECISION NOT NULL,
    line_count INTEGER NOT NULL,
    payload TEXT NOT NULL,
    ingested_ms BIGINT NOT NULL,
    updated_ms BIGINT NOT NULL,
    PRIMARY KEY (tenant_id, id)
);

CREATE INDEX IF NOT EXISTS idx_claims_provider ON claims(tenant_id, provider_npi, ingested_ms);
`

const schemaEvaluations = `
CREATE TABLE IF NOT EXISTS evaluations (
    id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    claim_id TEXT NOT NULL,
    decision TEXT NOT NULL,
    score DOUBLE PRECISION NOT NULL,
    estimated_recovery DOUBLE PRECISION,
    reference_version TEXT NOT NULL,
    findings TEXT NOT NULL,
    flags TEXT NOT NULL,
    metadata TEXT NOT NULL,
    evaluated_at TIMESTAMP NOT NULL,
    created_ms BIGINT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_evaluations_tenant ON evaluations(tenant_id);
CREATE INDEX IF NOT EXISTS idx_evaluations_claim ON evaluations(tenant_id, claim_id, created_ms);
CREATE INDEX IF NOT EXISTS idx_evaluations_decision ON evaluations(tenant_id, decision);
`

const schemaRuleConfigs = `
CREATE TABLE IF NOT EXISTS rule_configs (
    id TEXT NOT NULL,
    tenant_id TEXT NOT NULL,
    name TEXT NOT NULL,
    description TEXT,
    version TEXT NOT NULL,
    expression TEXT NOT NULL,
    category TEXT NOT NULL,
    severity TEXT NOT NULL,
    citation TEXT,
    enabled INTEGER NOT NULL DEFAULT 1,
    created_ms BIGINT NOT NULL,
    updated_ms BIGINT NOT NULL,
    PRIMARY KEY (id, tenant_id, version)
);

CREATE INDEX IF NOT EXISTS idx_rule_configs_tenant ON rule_configs(tenant_id);
CREATE INDEX IF NOT EXISTS idx_rule_configs_enabled ON rule_configs(tenant_id, enabled);
`

const schemaReferenceSnapshots = `
CREATE TABLE IF NOT EXISTS reference_snapshots (
    tenant_id TEXT NOT NULL,
    version TEXT NOT NULL,
    data TEXT NOT NULL,
    created_ms BIGINT NOT NULL,
    PRIMARY KEY (tenant_id, version)
);

CREATE INDEX IF NOT EXISTS idx_reference_snapshots_latest ON reference_snapshots(tenant_id, created_ms);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaClaims,
		schemaEvaluations,
		schemaRuleConfigs,
		schemaReferenceSnapshots,
	}
}
