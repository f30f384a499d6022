package repository

import (
	"context"
	"errors"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/opensource-finance/claimscan/internal/domain"
)

func newTestRepo(t *testing.T) *SQLRepository {
	t.Helper()

	cfg := domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "claimscan-test.db"),
	}

	repo, err := New(cfg)
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

func testClaim(id, npi string) *domain.Claim {
	return &domain.Claim{
		ID:           id,
		BilledAmount: 1250.50,
		Diagnoses:    []string{"M54.5"},
		Provider:     domain.Provider{NPI: npi, Specialty: "Pain Management", Region: "TX"},
		Lines: []domain.LineItem{
			{ProcedureCode: "64483", Quantity: 1, Charge: 950.50, Modifiers: []string{"LT"}},
			{ProcedureCode: "77003", Quantity: 1, Charge: 300},
		},
	}
}

func TestSQLiteRepository(t *testing.T) {
	repo := newTestRepo(t)

	ctx := context.Background()
	tenantID := "tenant-001"

	t.Run("Ping", func(t *testing.T) {
		if err := repo.Ping(ctx); err != nil {
			t.Errorf("Ping failed: %v", err)
		}
	})

	t.Run("SaveAndGetClaim", func(t *testing.T) {
		claim := testClaim("CLM-001", "1234567890")

		if err := repo.SaveClaim(ctx, tenantID, claim); err != nil {
			t.Fatalf("SaveClaim failed: %v", err)
		}

		retrieved, err := repo.GetClaim(ctx, tenantID, claim.ID)
		if err != nil {
			t.Fatalf("GetClaim failed: %v", err)
		}

		if retrieved.ID != claim.ID {
			t.Errorf("expected ID %s, got %s", claim.ID, retrieved.ID)
		}
		if retrieved.BilledAmount != claim.BilledAmount {
			t.Errorf("expected BilledAmount %.2f, got %.2f", claim.BilledAmount, retrieved.BilledAmount)
		}
		if len(retrieved.Lines) != 2 || retrieved.Lines[0].Modifiers[0] != "LT" {
			t.Errorf("lines not preserved: %+v", retrieved.Lines)
		}
		if retrieved.TenantID != tenantID {
			t.Errorf("expected TenantID %s, got %s", tenantID, retrieved.TenantID)
		}
	})

	t.Run("TenantIsolation", func(t *testing.T) {
		_, err := repo.GetClaim(ctx, "tenant-002", "CLM-001")
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound for different tenant, got: %v", err)
		}
	})

	t.Run("RequiresTenantID", func(t *testing.T) {
		if err := repo.SaveClaim(ctx, "", testClaim("CLM-X", "1")); !errors.Is(err, ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got: %v", err)
		}
		if _, err := repo.GetClaim(ctx, "", "CLM-001"); !errors.Is(err, ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got: %v", err)
		}
		if _, err := repo.ListRuleConfigs(ctx, ""); !errors.Is(err, ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got: %v", err)
		}
	})

	t.Run("RequiresClaimID", func(t *testing.T) {
		if err := repo.SaveClaim(ctx, tenantID, &domain.Claim{}); !errors.Is(err, ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got: %v", err)
		}
	})

	t.Run("SaveAndGetEvaluation", func(t *testing.T) {
		recovery := 375.25
		eval := &domain.Evaluation{
			ID:      "eval-001",
			ClaimID: "CLM-001",
			Outcome: domain.Outcome{
				ClaimID: "CLM-001",
				Score:   0.85,
				Findings: []domain.RuleHit{
					{RuleID: "ncci-ptp", Category: domain.CategoryNCCI, Severity: domain.SeverityHigh, Weight: 0.2, Lines: []int{0, 1}},
				},
				NCCIFlags:         []string{"ptp_conflict"},
				CoverageFlags:     []string{},
				ProviderFlags:     []string{},
				Decision:          domain.TierSoftHold,
				EstimatedRecovery: &recovery,
				ReferenceVersion:  "2026-Q3",
			},
			Timestamp: time.Now().UTC(),
			Metadata:  domain.EvaluationMetadata{TraceID: "trace-001", FindingsCount: 1},
		}

		if err := repo.SaveEvaluation(ctx, tenantID, eval); err != nil {
			t.Fatalf("SaveEvaluation failed: %v", err)
		}

		retrieved, err := repo.GetEvaluation(ctx, tenantID, eval.ID)
		if err != nil {
			t.Fatalf("GetEvaluation failed: %v", err)
		}

		if retrieved.Outcome.Score != 0.85 {
			t.Errorf("expected Score 0.85, got %.2f", retrieved.Outcome.Score)
		}
		if retrieved.Outcome.Decision != domain.TierSoftHold {
			t.Errorf("expected decision soft_hold, got %s", retrieved.Outcome.Decision)
		}
		if retrieved.Outcome.EstimatedRecovery == nil || *retrieved.Outcome.EstimatedRecovery != recovery {
			t.Errorf("expected recovery %.2f, got %v", recovery, retrieved.Outcome.EstimatedRecovery)
		}
		if len(retrieved.Outcome.Findings) != 1 || retrieved.Outcome.Findings[0].RuleID != "ncci-ptp" {
			t.Errorf("findings not preserved: %+v", retrieved.Outcome.Findings)
		}
		if len(retrieved.Outcome.NCCIFlags) != 1 || retrieved.Outcome.NCCIFlags[0] != "ptp_conflict" {
			t.Errorf("flags not preserved: %v", retrieved.Outcome.NCCIFlags)
		}
		if retrieved.Outcome.ReferenceVersion != "2026-Q3" {
			t.Errorf("expected reference version 2026-Q3, got %s", retrieved.Outcome.ReferenceVersion)
		}
		if retrieved.Metadata.TraceID != "trace-001" {
			t.Errorf("expected trace id trace-001, got %s", retrieved.Metadata.TraceID)
		}
		if retrieved.Timestamp.IsZero() {
			t.Error("expected timestamp to be preserved")
		}
	})

	t.Run("NullRecovery", func(t *testing.T) {
		eval := &domain.Evaluation{
			ID:        "eval-clean",
			ClaimID:   "CLM-CLEAN",
			Outcome:   domain.Outcome{ClaimID: "CLM-CLEAN", Score: 0.5, Findings: []domain.RuleHit{}, Decision: domain.TierInformational},
			Timestamp: time.Now().UTC(),
		}
		if err := repo.SaveEvaluation(ctx, tenantID, eval); err != nil {
			t.Fatalf("SaveEvaluation failed: %v", err)
		}

		retrieved, err := repo.GetEvaluation(ctx, tenantID, eval.ID)
		if err != nil {
			t.Fatalf("GetEvaluation failed: %v", err)
		}
		if retrieved.Outcome.EstimatedRecovery != nil {
			t.Errorf("expected nil recovery, got %.2f", *retrieved.Outcome.EstimatedRecovery)
		}
	})

	t.Run("NotFound", func(t *testing.T) {
		if _, err := repo.GetClaim(ctx, tenantID, "nonexistent"); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got: %v", err)
		}
		if _, err := repo.GetEvaluation(ctx, tenantID, "nonexistent"); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got: %v", err)
		}
		if _, err := repo.GetRuleConfig(ctx, tenantID, "nonexistent"); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got: %v", err)
		}
		if _, err := repo.GetLatestReferenceData(ctx, "tenant-empty"); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got: %v", err)
		}
	})
}

func TestCountClaimsByProvider(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	tenantID := "tenant-001"

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := base
	repo.now = func() time.Time { return clock }

	for i, id := range []string{"CLM-1", "CLM-2", "CLM-3"} {
		clock = base.Add(time.Duration(i) * time.Hour)
		if err := repo.SaveClaim(ctx, tenantID, testClaim(id, "1234567890")); err != nil {
			t.Fatalf("SaveClaim failed: %v", err)
		}
	}
	if err := repo.SaveClaim(ctx, tenantID, testClaim("CLM-OTHER", "9999999999")); err != nil {
		t.Fatalf("SaveClaim failed: %v", err)
	}

	// Resubmission keeps the original ingestion time
	clock = base.Add(10 * time.Hour)
	if err := repo.SaveClaim(ctx, tenantID, testClaim("CLM-1", "1234567890")); err != nil {
		t.Fatalf("SaveClaim failed: %v", err)
	}

	tests := []struct {
		name   string
		tenant string
		npi    string
		since  time.Time
		want   int64
	}{
		{"AllTime", tenantID, "1234567890", base.Add(-time.Hour), 3},
		{"Window", tenantID, "1234567890", base.Add(30 * time.Minute), 2},
		{"InclusiveBoundary", tenantID, "1234567890", base.Add(2 * time.Hour), 1},
		{"Future", tenantID, "1234567890", base.Add(24 * time.Hour), 0},
		{"OtherProvider", tenantID, "9999999999", base.Add(-time.Hour), 1},
		{"OtherTenant", "tenant-002", "1234567890", base.Add(-time.Hour), 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := repo.CountClaimsByProvider(ctx, tt.tenant, tt.npi, tt.since)
			if err != nil {
				t.Fatalf("CountClaimsByProvider failed: %v", err)
			}
			if got != tt.want {
				t.Errorf("expected %d claims, got %d", tt.want, got)
			}
		})
	}
}

func TestListEvaluationsByClaim(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	tenantID := "tenant-001"

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i, id := range []string{"eval-a", "eval-b", "eval-c"} {
		ts := base.Add(time.Duration(i) * time.Minute)
		repo.now = func() time.Time { return ts }

		eval := &domain.Evaluation{
			ID:        id,
			ClaimID:   "CLM-001",
			Outcome:   domain.Outcome{ClaimID: "CLM-001", Score: 0.5, Findings: []domain.RuleHit{}, Decision: domain.TierInformational},
			Timestamp: ts,
		}
		if err := repo.SaveEvaluation(ctx, tenantID, eval); err != nil {
			t.Fatalf("SaveEvaluation failed: %v", err)
		}
	}

	evals, err := repo.ListEvaluationsByClaim(ctx, tenantID, "CLM-001")
	if err != nil {
		t.Fatalf("ListEvaluationsByClaim failed: %v", err)
	}
	if len(evals) != 3 {
		t.Fatalf("expected 3 evaluations, got %d", len(evals))
	}
	if evals[0].ID != "eval-c" || evals[2].ID != "eval-a" {
		t.Errorf("expected newest first, got %s, %s, %s", evals[0].ID, evals[1].ID, evals[2].ID)
	}

	evals, err = repo.ListEvaluationsByClaim(ctx, tenantID, "CLM-NONE")
	if err != nil {
		t.Fatalf("ListEvaluationsByClaim failed: %v", err)
	}
	if len(evals) != 0 {
		t.Errorf("expected no evaluations, got %d", len(evals))
	}
}

func TestRuleConfigs(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	tenantID := "tenant-001"

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := base
	repo.now = func() time.Time { return clock }

	rule := &domain.RuleConfig{
		ID:          "high-billed",
		Name:        "High billed amount",
		Description: "Claims above 10k",
		Expression:  "billed_amount > 10000.0",
		Category:    domain.CategoryFinancial,
		Severity:    domain.SeverityMedium,
		Enabled:     true,
	}
	if err := repo.SaveRuleConfig(ctx, tenantID, rule); err != nil {
		t.Fatalf("SaveRuleConfig failed: %v", err)
	}

	clock = base.Add(time.Minute)
	v2 := *rule
	v2.Version = "2"
	v2.Expression = "billed_amount > 20000.0"
	if err := repo.SaveRuleConfig(ctx, tenantID, &v2); err != nil {
		t.Fatalf("SaveRuleConfig failed: %v", err)
	}

	clock = base.Add(2 * time.Minute)
	disabled := &domain.RuleConfig{
		ID:         "age-check",
		Name:       "Age check",
		Expression: "member_age > 90",
		Category:   domain.CategoryEligibility,
		Severity:   domain.SeverityLow,
		Citation:   "internal-policy-7",
		Enabled:    false,
	}
	if err := repo.SaveRuleConfig(ctx, tenantID, disabled); err != nil {
		t.Fatalf("SaveRuleConfig failed: %v", err)
	}

	t.Run("GetLatestVersion", func(t *testing.T) {
		got, err := repo.GetRuleConfig(ctx, tenantID, "high-billed")
		if err != nil {
			t.Fatalf("GetRuleConfig failed: %v", err)
		}
		if got.Version != "2" || got.Expression != v2.Expression {
			t.Errorf("expected version 2, got %s (%s)", got.Version, got.Expression)
		}
		if got.Category != domain.CategoryFinancial || got.Severity != domain.SeverityMedium {
			t.Errorf("category/severity not preserved: %s/%s", got.Category, got.Severity)
		}
	})

	t.Run("DefaultVersion", func(t *testing.T) {
		got, err := repo.GetRuleConfig(ctx, tenantID, "age-check")
		if err != nil {
			t.Fatalf("GetRuleConfig failed: %v", err)
		}
		if got.Version != "1" {
			t.Errorf("expected default version 1, got %s", got.Version)
		}
		if got.Enabled {
			t.Error("expected rule to stay disabled")
		}
		if got.Citation != "internal-policy-7" {
			t.Errorf("expected citation preserved, got %q", got.Citation)
		}
	})

	t.Run("ListOnePerRule", func(t *testing.T) {
		configs, err := repo.ListRuleConfigs(ctx, tenantID)
		if err != nil {
			t.Fatalf("ListRuleConfigs failed: %v", err)
		}
		if len(configs) != 2 {
			t.Fatalf("expected 2 rules, got %d", len(configs))
		}
		if configs[0].ID != "age-check" || configs[1].ID != "high-billed" {
			t.Errorf("expected rules ordered by id, got %s, %s", configs[0].ID, configs[1].ID)
		}
		if configs[1].Version != "2" {
			t.Errorf("expected latest version in list, got %s", configs[1].Version)
		}
	})

	t.Run("TenantIsolation", func(t *testing.T) {
		configs, err := repo.ListRuleConfigs(ctx, "tenant-002")
		if err != nil {
			t.Fatalf("ListRuleConfigs failed: %v", err)
		}
		if len(configs) != 0 {
			t.Errorf("expected no rules for other tenant, got %d", len(configs))
		}
	})
}

func TestReferenceSnapshots(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	tenantID := "tenant-001"

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := base
	repo.now = func() time.Time { return clock }

	older := &domain.ReferenceData{
		Version:    "2026-Q1",
		UnitLimits: map[string]int{"97110": 4},
	}
	newer := &domain.ReferenceData{
		Version:       "2026-Q2",
		ConflictPairs: []domain.ConflictPair{{Column1: "11042", Column2: "97597", ModifierIndicator: "0"}},
		Exclusions:    []string{"1111111111"},
		Risk:          domain.RiskConfig{ROIMultiplier: 0.25},
	}

	if err := repo.SaveReferenceData(ctx, tenantID, older); err != nil {
		t.Fatalf("SaveReferenceData failed: %v", err)
	}
	clock = base.Add(time.Hour)
	if err := repo.SaveReferenceData(ctx, tenantID, newer); err != nil {
		t.Fatalf("SaveReferenceData failed: %v", err)
	}

	got, err := repo.GetLatestReferenceData(ctx, tenantID)
	if err != nil {
		t.Fatalf("GetLatestReferenceData failed: %v", err)
	}
	if got.Version != "2026-Q2" {
		t.Errorf("expected latest version 2026-Q2, got %s", got.Version)
	}
	if len(got.ConflictPairs) != 1 || got.Risk.ROIMultiplier != 0.25 {
		t.Errorf("reference data not preserved: %+v", got)
	}

	// Re-saving an older version makes it the latest again
	clock = base.Add(2 * time.Hour)
	if err := repo.SaveReferenceData(ctx, tenantID, older); err != nil {
		t.Fatalf("SaveReferenceData failed: %v", err)
	}
	got, err = repo.GetLatestReferenceData(ctx, tenantID)
	if err != nil {
		t.Fatalf("GetLatestReferenceData failed: %v", err)
	}
	if got.Version != "2026-Q1" || got.UnitLimits["97110"] != 4 {
		t.Errorf("expected 2026-Q1 after re-save, got %s", got.Version)
	}
}

func TestUnsupportedDriver(t *testing.T) {
	_, err := New(domain.RepositoryConfig{Driver: "mysql"})
	if err == nil {
		t.Error("expected error for unsupported driver")
	}
}

func TestDataSource(t *testing.T) {
	t.Run("SQLiteDefaults", func(t *testing.T) {
		driver, dsn, err := dataSource(domain.RepositoryConfig{})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if driver != "sqlite" {
			t.Errorf("expected sqlite driver, got %s", driver)
		}
		if !strings.HasPrefix(dsn, "file:./claimscan.db?") {
			t.Errorf("unexpected dsn %s", dsn)
		}

		query, err := url.ParseQuery(dsn[strings.Index(dsn, "?")+1:])
		if err != nil {
			t.Fatalf("invalid query: %v", err)
		}
		pragmas := strings.Join(query["_pragma"], ",")
		for _, want := range []string{"journal_mode(WAL)", "busy_timeout(5000)", "foreign_keys(ON)"} {
			if !strings.Contains(pragmas, want) {
				t.Errorf("expected pragma %s in %s", want, pragmas)
			}
		}
	})

	t.Run("PostgresEscapesCredentials", func(t *testing.T) {
		driver, dsn, err := dataSource(domain.RepositoryConfig{
			Driver:           "postgres",
			PostgresHost:     "db.internal",
			PostgresUser:     "claimscan",
			PostgresPassword: "p@ss word",
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if driver != "postgres" {
			t.Errorf("expected postgres driver, got %s", driver)
		}

		u, err := url.Parse(dsn)
		if err != nil {
			t.Fatalf("dsn is not a valid URL: %v", err)
		}
		if password, _ := u.User.Password(); password != "p@ss word" {
			t.Errorf("expected password to round-trip, got %q", password)
		}
		if u.Host != "db.internal:5432" || u.Path != "/claimscan" {
			t.Errorf("unexpected host or database: %s %s", u.Host, u.Path)
		}
		if u.Query().Get("sslmode") != "disable" {
			t.Errorf("expected default sslmode disable, got %s", u.Query().Get("sslmode"))
		}
	})

	t.Run("Unsupported", func(t *testing.T) {
		if _, _, err := dataSource(domain.RepositoryConfig{Driver: "mysql"}); err == nil {
			t.Error("expected error for unsupported driver")
		}
	})
}

func TestRebind(t *testing.T) {
	repo := &SQLRepository{driver: "postgres"}

	tests := []struct {
		input    string
		expected string
	}{
		{"SELECT * FROM t WHERE id = ?", "SELECT * FROM t WHERE id = $1"},
		{"INSERT INTO t (a, b) VALUES (?, ?)", "INSERT INTO t (a, b) VALUES ($1, $2)"},
		{"SELECT * FROM t", "SELECT * FROM t"},
	}

	for _, tt := range tests {
		if result := repo.rebind(tt.input); result != tt.expected {
			t.Errorf("rebind(%q) = %q, want %q", tt.input, result, tt.expected)
		}
	}

	sqlite := &SQLRepository{driver: "sqlite"}
	if got := sqlite.rebind("SELECT ?"); got != "SELECT ?" {
		t.Errorf("sqlite rebind should be a no-op, got %q", got)
	}
}
