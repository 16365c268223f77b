package cache

import (
	"context"
	"testing"
	"time"

	"github.com/opensource-finance/heron/internal/domain"
)

func TestLRUCache(t *testing.T) {
	cache := NewLRUCache(100)
	ctx := context.Background()

	t.Run("SetAndGet", func(t *testing.T) {
		if err := cache.Set(ctx, "view:sub-1", []byte("v1"), time.Minute); err != nil {
			t.Fatalf("Set failed: %v", err)
		}

		val, err := cache.Get(ctx, "view:sub-1")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if string(val) != "v1" {
			t.Errorf("expected 'v1', got '%s'", string(val))
		}
	})

	t.Run("GetMiss", func(t *testing.T) {
		val, err := cache.Get(ctx, "nonexistent")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if val != nil {
			t.Errorf("expected nil for cache miss, got: %v", val)
		}
	})

	t.Run("Delete", func(t *testing.T) {
		_ = cache.Set(ctx, "view:sub-2", []byte("v2"), time.Minute)

		if err := cache.Delete(ctx, "view:sub-2"); err != nil {
			t.Fatalf("Delete failed: %v", err)
		}

		val, _ := cache.Get(ctx, "view:sub-2")
		if val != nil {
			t.Error("expected nil after delete")
		}
	})

	t.Run("TTLExpiration", func(t *testing.T) {
		c := NewLRUCache(10)
		now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
		c.now = func() time.Time { return now }

		_ = c.Set(ctx, "expiring", []byte("temp"), time.Minute)

		if val, _ := c.Get(ctx, "expiring"); val == nil {
			t.Error("expected value before expiration")
		}

		now = now.Add(2 * time.Minute)
		if val, _ := c.Get(ctx, "expiring"); val != nil {
			t.Error("expected nil after expiration")
		}
		if size, _ := c.Stats(); size != 0 {
			t.Errorf("expected expired entry to be removed, size %d", size)
		}
	})

	t.Run("LRUEviction", func(t *testing.T) {
		small := NewLRUCache(3)

		_ = small.Set(ctx, "a", []byte("1"), time.Minute)
		_ = small.Set(ctx, "b", []byte("2"), time.Minute)
		_ = small.Set(ctx, "c", []byte("3"), time.Minute)

		// Touch 'a' so 'b' becomes the oldest.
		_, _ = small.Get(ctx, "a")

		_ = small.Set(ctx, "d", []byte("4"), time.Minute)

		if val, _ := small.Get(ctx, "b"); val != nil {
			t.Error("expected 'b' to be evicted")
		}
		if val, _ := small.Get(ctx, "a"); val == nil {
			t.Error("expected 'a' to still exist")
		}
	})

	t.Run("OverwriteRefreshes", func(t *testing.T) {
		_ = cache.Set(ctx, "k", []byte("old"), time.Minute)
		_ = cache.Set(ctx, "k", []byte("new"), time.Minute)

		val, _ := cache.Get(ctx, "k")
		if string(val) != "new" {
			t.Errorf("expected 'new', got '%s'", string(val))
		}
	})

	t.Run("Stats", func(t *testing.T) {
		statsCache := NewLRUCache(50)
		_ = statsCache.Set(ctx, "k1", []byte("v1"), time.Minute)
		_ = statsCache.Set(ctx, "k2", []byte("v2"), time.Minute)

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
		_ = testCache.Set(ctx, "k", []byte("v"), time.Minute)

		if err := testCache.Close(); err != nil {
			t.Errorf("Close failed: %v", err)
		}
		if val, _ := testCache.Get(ctx, "k"); val != nil {
			t.Error("expected cache to be cleared after close")
		}
	})
}

func TestTwoPhaseCache(t *testing.T) {
	ctx := context.Background()
	remote := NewLRUCache(100)
	c := newTwoPhase(NewLRUCache(10), remote, time.Minute)

	t.Run("WritesBothLayers", func(t *testing.T) {
		if err := c.Set(ctx, "view:sub-1", []byte("v"), time.Hour); err != nil {
			t.Fatalf("Set failed: %v", err)
		}
		if val, _ := remote.Get(ctx, "view:sub-1"); string(val) != "v" {
			t.Errorf("expected remote to hold value, got %q", val)
		}
		if size, _ := c.Stats(); size != 1 {
			t.Errorf("expected L1 size 1, got %d", size)
		}
	})

	t.Run("FillsLocalOnRemoteHit", func(t *testing.T) {
		_ = remote.Set(ctx, "view:sub-2", []byte("r"), time.Hour)

		val, err := c.Get(ctx, "view:sub-2")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if string(val) != "r" {
			t.Errorf("expected 'r', got %q", val)
		}
		if val, _ := c.local.Get(ctx, "view:sub-2"); val == nil {
			t.Error("expected L1 to be populated")
		}
	})

	t.Run("DeleteBothLayers", func(t *testing.T) {
		if err := c.Delete(ctx, "view:sub-1"); err != nil {
			t.Fatalf("Delete failed: %v", err)
		}
		if val, _ := c.Get(ctx, "view:sub-1"); val != nil {
			t.Error("expected miss after delete")
		}
	})

	t.Run("Ping", func(t *testing.T) {
		if err := c.Ping(ctx); err != nil {
			t.Errorf("Ping failed: %v", err)
		}
	})
}

func TestJSONHelpers(t *testing.T) {
	ctx := context.Background()
	c := NewLRUCache(10)

	type view struct {
		SubjectID string   `json:"subjectId"`
		Alerts    []string `json:"alerts"`
	}

	ok, err := GetJSON(ctx, c, "view:sub-1", &view{})
	if err != nil || ok {
		t.Fatalf("expected clean miss, got ok=%v err=%v", ok, err)
	}

	in := view{SubjectID: "sub-1", Alerts: []string{"al-1"}}
	if err := SetJSON(ctx, c, "view:sub-1", in, time.Minute); err != nil {
		t.Fatalf("SetJSON failed: %v", err)
	}

	var out view
	ok, err = GetJSON(ctx, c, "view:sub-1", &out)
	if err != nil || !ok {
		t.Fatalf("expected hit, got ok=%v err=%v", ok, err)
	}
	if out.SubjectID != "sub-1" || len(out.Alerts) != 1 {
		t.Errorf("unexpected decoded view: %+v", out)
	}

	_ = c.Set(ctx, "view:bad", []byte("{"), time.Minute)
	if _, err := GetJSON(ctx, c, "view:bad", &out); err == nil {
		t.Error("expected decode error for corrupt entry")
	}
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

	t.Run("UnsupportedType", func(t *testing.T) {
		if _, err := New(domain.CacheConfig{Type: "memcached"}); err == nil {
			t.Error("expected error for unsupported type")
		}
	})
}
