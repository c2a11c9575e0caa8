package cache

import (
	"context"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func testScore() *domain.ScoredProfile {
	return &domain.ScoredProfile{
		RawPrediction:      1,
		DefaultProbability: 0.8125,
		Flags: []domain.RiskFlag{
			{RuleID: "loan-burden", Message: "Loan burden (56.00) exceeds 40% of monthly income (60.00)"},
			{RuleID: "income-floor", Message: "Monthly income is below sustainable threshold ($80)"},
		},
		CriticalViolations: 2,
		RulesEvaluated:     5,
	}
}

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

		if err := cache.Delete(ctx, tenantID, "key2"); err != nil {
			t.Fatalf("Delete failed: %v", err)
		}

		val, _ := cache.Get(ctx, tenantID, "key2")
		if val != nil {
			t.Error("expected nil after delete")
		}
	})

	t.Run("TTLExpiration", func(t *testing.T) {
		_ = cache.Set(ctx, tenantID, "expiring", []byte("temp"), 10*time.Millisecond)

		val, _ := cache.Get(ctx, tenantID, "expiring")
		if val == nil {
			t.Error("expected value before expiration")
		}

		time.Sleep(20 * time.Millisecond)

		val, _ = cache.Get(ctx, tenantID, "expiring")
		if val != nil {
			t.Error("expected nil after expiration")
		}
	})

	t.Run("RejectsNonPositiveTTL", func(t *testing.T) {
		if err := cache.Set(ctx, tenantID, "k", []byte("v"), 0); err == nil {
			t.Error("expected error for zero ttl")
		}
	})

	t.Run("LRUEviction", func(t *testing.T) {
		smallCache := NewLRUCache(3)

		_ = smallCache.Set(ctx, tenantID, "a", []byte("1"), time.Minute)
		_ = smallCache.Set(ctx, tenantID, "b", []byte("2"), time.Minute)
		_ = smallCache.Set(ctx, tenantID, "c", []byte("3"), time.Minute)

		// Touch 'a' so 'b' is the least recently used.
		_, _ = smallCache.Get(ctx, tenantID, "a")

		_ = smallCache.Set(ctx, tenantID, "d", []byte("4"), time.Minute)

		val, _ := smallCache.Get(ctx, tenantID, "b")
		if val != nil {
			t.Error("expected 'b' to be evicted")
		}

		val, _ = smallCache.Get(ctx, tenantID, "a")
		if val == nil {
			t.Error("expected 'a' to still exist")
		}
	})

	t.Run("TenantIsolation", func(t *testing.T) {
		_ = cache.Set(ctx, "tenant-001", "shared-key", []byte("tenant1-value"), time.Minute)
		_ = cache.Set(ctx, "tenant-002", "shared-key", []byte("tenant2-value"), time.Minute)

		val1, _ := cache.Get(ctx, "tenant-001", "shared-key")
		val2, _ := cache.Get(ctx, "tenant-002", "shared-key")

		if string(val1) != "tenant1-value" {
			t.Errorf("expected 'tenant1-value', got '%s'", string(val1))
		}
		if string(val2) != "tenant2-value" {
			t.Errorf("expected 'tenant2-value', got '%s'", string(val2))
		}
	})

	t.Run("RequiresTenantID", func(t *testing.T) {
		if err := cache.Set(ctx, "", "key", []byte("value"), time.Minute); err == nil {
			t.Error("expected error for empty tenantID")
		}
		if _, err := cache.Get(ctx, "", "key"); err == nil {
			t.Error("expected error for empty tenantID")
		}
		if _, err := cache.GetScore(ctx, "", "fp"); err == nil {
			t.Error("expected error for empty tenantID")
		}
	})

	t.Run("ScoreCache", func(t *testing.T) {
		want := testScore()

		if err := cache.SetScore(ctx, tenantID, "fp-001", want, time.Minute); err != nil {
			t.Fatalf("SetScore failed: %v", err)
		}

		got, err := cache.GetScore(ctx, tenantID, "fp-001")
		if err != nil {
			t.Fatalf("GetScore failed: %v", err)
		}
		if got == nil {
			t.Fatal("expected cached score")
		}
		if got.RawPrediction != 1 || got.DefaultProbability != 0.8125 || got.CriticalViolations != 2 || got.RulesEvaluated != 5 {
			t.Errorf("score not round-tripped: %+v", got)
		}
		if len(got.Flags) != 2 || got.Flags[1].RuleID != "income-floor" || got.Flags[0].Message != want.Flags[0].Message {
			t.Errorf("flags not round-tripped: %+v", got.Flags)
		}

		other, _ := cache.GetScore(ctx, "tenant-002", "fp-001")
		if other != nil {
			t.Error("score leaked across tenants")
		}
	})

	t.Run("ScoreWithoutFlags", func(t *testing.T) {
		_ = cache.SetScore(ctx, tenantID, "fp-clean", &domain.ScoredProfile{RulesEvaluated: 5}, time.Minute)

		got, _ := cache.GetScore(ctx, tenantID, "fp-clean")
		if got == nil || got.Flags == nil {
			t.Errorf("expected empty non-nil flags, got %+v", got)
		}
	})

	t.Run("NilScoreRejected", func(t *testing.T) {
		if err := cache.SetScore(ctx, tenantID, "fp-nil", nil, time.Minute); err == nil {
			t.Error("expected error for nil score")
		}
	})

	t.Run("CorruptScore", func(t *testing.T) {
		_ = cache.Set(ctx, tenantID, scoreKey("fp-bad"), []byte{0xc1}, time.Minute)
		if _, err := cache.GetScore(ctx, tenantID, "fp-bad"); err == nil {
			t.Error("expected decode error")
		}
	})

	t.Run("Stats", func(t *testing.T) {
		statsCache := NewLRUCache(50)
		_ = statsCache.Set(ctx, tenantID, "k1", []byte("v1"), time.Minute)
		_ = statsCache.Set(ctx, tenantID, "k2", []byte("v2"), time.Minute)

		size, capacity := statsCache.Stats()
		if size != 2 {
			t.Errorf("expected size 2, got %d", size)
		}
		if capacity != 50 {
			t.Errorf("expected capacity 50, got %d", capacity)
		}
	})

	t.Run("Close", func(t *testing.T) {
		testCache := NewLRUCache(10)
		_ = testCache.Set(ctx, tenantID, "k", []byte("v"), time.Minute)

		if err := testCache.Close(); err != nil {
			t.Errorf("Close failed: %v", err)
		}

		val, _ := testCache.Get(ctx, tenantID, "k")
		if val != nil {
			t.Error("expected cache to be cleared after close")
		}
	})
}

func TestTwoPhaseCache(t *testing.T) {
	ctx := context.Background()
	tenantID := "tenant-001"

	local := NewLRUCache(10)
	remote := NewLRUCache(10)
	cache := newTwoPhase(local, remote, time.Minute)

	t.Run("WritesBothLevels", func(t *testing.T) {
		if err := cache.SetScore(ctx, tenantID, "fp-1", testScore(), time.Hour); err != nil {
			t.Fatalf("SetScore failed: %v", err)
		}
		if s, _ := local.GetScore(ctx, tenantID, "fp-1"); s == nil {
			t.Error("expected L1 entry")
		}
		if s, _ := remote.GetScore(ctx, tenantID, "fp-1"); s == nil {
			t.Error("expected L2 entry")
		}
	})

	t.Run("PopulatesL1OnL2Hit", func(t *testing.T) {
		_ = remote.SetScore(ctx, tenantID, "fp-2", testScore(), time.Hour)

		got, err := cache.GetScore(ctx, tenantID, "fp-2")
		if err != nil || got == nil {
			t.Fatalf("expected L2 hit, got %v (%v)", got, err)
		}
		if s, _ := local.GetScore(ctx, tenantID, "fp-2"); s == nil {
			t.Error("expected L1 to be populated after L2 hit")
		}
	})

	t.Run("RawBytes", func(t *testing.T) {
		_ = remote.Set(ctx, tenantID, "raw", []byte("v"), time.Hour)
		val, _ := cache.Get(ctx, tenantID, "raw")
		if string(val) != "v" {
			t.Errorf("expected 'v', got %q", val)
		}

		_ = cache.Delete(ctx, tenantID, "raw")
		if val, _ := remote.Get(ctx, tenantID, "raw"); val != nil {
			t.Error("expected delete to reach L2")
		}
	})

	t.Run("LocalTTL", func(t *testing.T) {
		if got := cache.localTTL(time.Hour); got != time.Minute {
			t.Errorf("expected L1 ttl capped at 1m, got %s", got)
		}
		if got := cache.localTTL(time.Second); got != time.Second {
			t.Errorf("expected shorter ttl to win, got %s", got)
		}
		if got := cache.localTTL(0); got != time.Minute {
			t.Errorf("expected default L1 ttl, got %s", got)
		}
	})

	t.Run("Ping", func(t *testing.T) {
		if err := cache.Ping(ctx); err != nil {
			t.Errorf("Ping failed: %v", err)
		}
	})
}

func TestNewCache(t *testing.T) {
	t.Run("MemoryType", func(t *testing.T) {
		cache, err := New(domain.CacheConfig{Type: "memory", LocalMaxSize: 100})
		if err != nil {
			t.Fatalf("New failed: %v", err)
		}
		defer cache.Close()

		if _, ok := cache.(*LRUCache); !ok {
			t.Error("expected LRUCache for memory type")
		}
	})

	t.Run("NoneType", func(t *testing.T) {
		cache, err := New(domain.CacheConfig{Type: "none"})
		if err != nil {
			t.Fatalf("New failed: %v", err)
		}

		ctx := context.Background()
		_ = cache.SetScore(ctx, "tenant-001", "fp", testScore(), time.Minute)
		if s, _ := cache.GetScore(ctx, "tenant-001", "fp"); s != nil {
			t.Error("noop cache must always miss")
		}
	})

	t.Run("UnsupportedType", func(t *testing.T) {
		if _, err := New(domain.CacheConfig{Type: "memcached"}); err == nil {
			t.Error("expected error for unsupported type")
		}
	})
}
