package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/opensource-finance/claimscan/internal/domain"
)

func TestLRUCache(t *testing.T) {
	cache := NewLRUCache(100)
	ctx := context.Background()
	tenantID := "tenant-001"

	t.Run("SetAndGet", func(t *testing.T) {
		err := cache.Set(ctx, tenantID, "key1", []byte("value1"), time.Minute)
		if err != nil {
			t.Fatalf("Set failed: %v", err)
		}

		val, err := cache.Get(ctx, tenantID, "key1")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}

		if string(val) != "value1" {
			t.Errorf("expected 'value1', got '%s'", string(val))
		}
	})

	t.Run("GetMiss", func(t *testing.T) {
		val, err := cache.Get(ctx, tenantID, "nonexistent")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if val != nil {
			t.Errorf("expected nil for cache miss, got: %v", val)
		}
	})

	t.Run("Delete", func(t *testing.T) {
		_ = cache.Set(ctx, tenantID, "key2", []byte("value2"), time.Minute)

		err := cache.Delete(ctx, tenantID, "key2")
		if err != nil {
			t.Fatalf("Delete failed: %v", err)
		}

		val, _ := cache.Get(ctx, tenantID, "key2")
		if val != nil {
			t.Error("expected nil after delete")
		}
	})

	t.Run("TTLExpiration", func(t *testing.T) {
		_ = cache.Set(ctx, tenantID, "expiring", []byte("temp"), 10*time.Millisecond)

		// Should be available immediately
		val, _ := cache.Get(ctx, tenantID, "expiring")
		if val == nil {
			t.Error("expected value before expiration")
		}

		// Wait for expiration
		time.Sleep(20 * time.Millisecond)

		val, _ = cache.Get(ctx, tenantID, "expiring")
		if val != nil {
			t.Error("expected nil after expiration")
		}
	})

	t.Run("LRUEviction", func(t *testing.T) {
		smallCache := NewLRUCache(3)

		_ = smallCache.Set(ctx, tenantID, "a", []byte("1"), time.Minute)
		_ = smallCache.Set(ctx, tenantID, "b", []byte("2"), time.Minute)
		_ = smallCache.Set(ctx, tenantID, "c", []byte("3"), time.Minute)

		// Access 'a' to make it recently used
		_, _ = smallCache.Get(ctx, tenantID, "a")

		// Add 'd' - should evict 'b' (oldest accessed)
		_ = smallCache.Set(ctx, tenantID, "d", []byte("4"), time.Minute)

		// 'b' should be evicted
		val, _ := smallCache.Get(ctx, tenantID, "b")
		if val != nil {
			t.Error("expected 'b' to be evicted")
		}

		// 'a' should still be there
		val, _ = smallCache.Get(ctx, tenantID, "a")
		if val == nil {
			t.Error("expected 'a' to still exist")
		}
	})

	t.Run("TenantIsolation", func(t *testing.T) {
		tenant1 := "tenant-001"
		tenant2 := "tenant-002"

		_ = cache.Set(ctx, tenant1, "shared-key", []byte("tenant1-value"), time.Minute)
		_ = cache.Set(ctx, tenant2, "shared-key", []byte("tenant2-value"), time.Minute)

		val1, _ := cache.Get(ctx, tenant1, "shared-key")
		val2, _ := cache.Get(ctx, tenant2, "shared-key")

		if string(val1) != "tenant1-value" {
			t.Errorf("expected 'tenant1-value', got '%s'", string(val1))
		}
		if string(val2) != "tenant2-value" {
			t.Errorf("expected 'tenant2-value', got '%s'", string(val2))
		}
	})

	t.Run("RequiresTenantID", func(t *testing.T) {
		err := cache.Set(ctx, "", "key", []byte("value"), time.Minute)
		if !errors.Is(err, ErrTenantRequired) {
			t.Errorf("expected ErrTenantRequired, got %v", err)
		}

		_, err = cache.Get(ctx, "", "key")
		if err == nil {
			t.Error("expected error for empty tenantID")
		}
	})

	t.Run("IncrementCounter", func(t *testing.T) {
		window := 100 * time.Millisecond

		count1, err := cache.IncrementCounter(ctx, tenantID, ProviderCounterKey("1234567890"), window)
		if err != nil {
			t.Fatalf("IncrementCounter failed: %v", err)
		}
		if count1 != 1 {
			t.Errorf("expected count 1, got %d", count1)
		}

		count2, _ := cache.IncrementCounter(ctx, tenantID, ProviderCounterKey("1234567890"), window)
		if count2 != 2 {
			t.Errorf("expected count 2, got %d", count2)
		}

		// Wait for window to expire
		time.Sleep(150 * time.Millisecond)

		count3, _ := cache.IncrementCounter(ctx, tenantID, ProviderCounterKey("1234567890"), window)
		if count3 != 1 {
			t.Errorf("expected count 1 after window reset, got %d", count3)
		}
	})

	t.Run("OutcomeCache", func(t *testing.T) {
		recovery := 120.5
		outcome := &domain.Outcome{
			ClaimID:           "CLM-001",
			Score:             0.85,
			Findings:          []domain.RuleHit{{RuleID: "provider-excluded", Category: domain.CategoryProvider, Severity: domain.SeverityCritical, Weight: 0.35}},
			NCCIFlags:         []string{},
			CoverageFlags:     []string{},
			ProviderFlags:     []string{"excluded_provider"},
			Decision:          domain.TierSoftHold,
			EstimatedRecovery: &recovery,
		}

		err := cache.SetOutcome(ctx, tenantID, "fp-001", outcome, time.Minute)
		if err != nil {
			t.Fatalf("SetOutcome failed: %v", err)
		}

		retrieved, err := cache.GetOutcome(ctx, tenantID, "fp-001")
		if err != nil {
			t.Fatalf("GetOutcome failed: %v", err)
		}
		if retrieved == nil {
			t.Fatal("expected cached outcome")
		}
		if retrieved.Decision != domain.TierSoftHold {
			t.Errorf("expected decision soft_hold, got %s", retrieved.Decision)
		}
		if retrieved.EstimatedRecovery == nil || *retrieved.EstimatedRecovery != recovery {
			t.Errorf("expected recovery %.2f, got %v", recovery, retrieved.EstimatedRecovery)
		}
		if len(retrieved.Findings) != 1 || retrieved.Findings[0].RuleID != "provider-excluded" {
			t.Errorf("unexpected findings: %+v", retrieved.Findings)
		}

		miss, err := cache.GetOutcome(ctx, "tenant-002", "fp-001")
		if err != nil {
			t.Fatalf("GetOutcome failed: %v", err)
		}
		if miss != nil {
			t.Error("outcome leaked across tenants")
		}
	})

	t.Run("Stats", func(t *testing.T) {
		statsCache := NewLRUCache(50)
		_ = statsCache.Set(ctx, tenantID, "k1", []byte("v1"), time.Minute)
		_ = statsCache.Set(ctx, tenantID, "k2", []byte("v2"), time.Minute)

		_, _ = statsCache.Get(ctx, tenantID, "k1")
		_, _ = statsCache.Get(ctx, tenantID, "missing")

		stats := statsCache.Stats()
		if stats.Size != 2 {
			t.Errorf("expected size 2, got %d", stats.Size)
		}
		if stats.Capacity != 50 {
			t.Errorf("expected capacity 50, got %d", stats.Capacity)
		}
		if stats.Hits != 1 || stats.Misses != 1 {
			t.Errorf("expected 1 hit and 1 miss, got %d and %d", stats.Hits, stats.Misses)
		}
	})

	t.Run("CounterPruning", func(t *testing.T) {
		clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
		pruneCache := NewLRUCache(2)
		pruneCache.now = func() time.Time { return clock }

		_, _ = pruneCache.IncrementCounter(ctx, tenantID, "provider:1", time.Minute)
		_, _ = pruneCache.IncrementCounter(ctx, tenantID, "provider:2", time.Minute)

		clock = clock.Add(2 * time.Minute)
		count, _ := pruneCache.IncrementCounter(ctx, tenantID, "provider:3", time.Minute)
		if count != 1 {
			t.Errorf("expected new counter to start at 1, got %d", count)
		}
		if got := pruneCache.Stats().Counters; got != 1 {
			t.Errorf("expected expired counters to be pruned, got %d", got)
		}
	})

	t.Run("Ping", func(t *testing.T) {
		if err := cache.Ping(ctx); err != nil {
			t.Errorf("Ping failed: %v", err)
		}
	})

	t.Run("Close", func(t *testing.T) {
		testCache := NewLRUCache(10)
		_ = testCache.Set(ctx, tenantID, "k", []byte("v"), time.Minute)

		err := testCache.Close()
		if err != nil {
			t.Errorf("Close failed: %v", err)
		}

		// Cache should be empty after close
		val, _ := testCache.Get(ctx, tenantID, "k")
		if val != nil {
			t.Error("expected cache to be cleared after close")
		}
	})
}

func TestNewCache(t *testing.T) {
	t.Run("MemoryType", func(t *testing.T) {
		cfg := domain.CacheConfig{
			Type:         "memory",
			LocalMaxSize: 100,
		}

		cache, err := New(cfg)
		if err != nil {
			t.Fatalf("New failed: %v", err)
		}
		defer cache.Close()

		_, ok := cache.(*LRUCache)
		if !ok {
			t.Error("expected LRUCache for memory type")
		}
	})

	t.Run("UnsupportedType", func(t *testing.T) {
		cfg := domain.CacheConfig{
			Type: "memcached",
		}

		_, err := New(cfg)
		if err == nil {
			t.Error("expected error for unsupported type")
		}
	})
}

func TestFingerprint(t *testing.T) {
	claim := &domain.Claim{
		ID:           "CLM-001",
		BilledAmount: 250,
		Provider:     domain.Provider{NPI: "1234567890"},
		Lines:        []domain.LineItem{{ProcedureCode: "99213", Quantity: 1, Charge: 250}},
	}
	scoring := domain.DefaultScoringConfig()

	fp1, err := Fingerprint(claim, "v1", scoring)
	if err != nil {
		t.Fatalf("Fingerprint failed: %v", err)
	}
	fp2, _ := Fingerprint(claim, "v1", scoring)
	if fp1 != fp2 {
		t.Error("fingerprint must be stable")
	}

	if fp3, _ := Fingerprint(claim, "v2", scoring); fp3 == fp1 {
		t.Error("reference version must change the fingerprint")
	}

	scoring.BaseScore = 0.4
	if fp4, _ := Fingerprint(claim, "v1", scoring); fp4 == fp1 {
		t.Error("scoring config must change the fingerprint")
	}

	signals := map[string]float64{"provider_claim_count": 3}
	withSignals, _ := Fingerprint(claim, "v1", domain.DefaultScoringConfig(), signals)
	if withSignals == fp1 {
		t.Error("extras must change the fingerprint")
	}
	signals["provider_claim_count"] = 4
	if again, _ := Fingerprint(claim, "v1", domain.DefaultScoringConfig(), signals); again == withSignals {
		t.Error("extra content must change the fingerprint")
	}

	changed := *claim
	changed.BilledAmount = 260
	if fp5, _ := Fingerprint(&changed, "v1", domain.DefaultScoringConfig()); fp5 == fp1 {
		t.Error("claim content must change the fingerprint")
	}
}
