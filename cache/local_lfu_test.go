package cache

import (
	"context"
	"testing"

	"github.com/pawsitivecheck/querycache/types"
)

func TestLFUCacheSetGet(t *testing.T) {
	cache, err := NewLFUCache(DefaultLocalCacheConfig())
	if err != nil {
		t.Fatalf("Failed to create cache: %v", err)
	}
	defer cache.Close()

	if ok := cache.Set(productsHash, "value1", 1); !ok {
		t.Fatal("Set should succeed")
	}

	value, found := cache.Get(productsHash)
	if !found {
		t.Fatal("Value should be readable right after Set")
	}
	if value != "value1" {
		t.Fatalf("Expected 'value1', got %v", value)
	}
}

func TestLFUCacheDeleteAndClear(t *testing.T) {
	cache, err := NewLFUCache(DefaultLocalCacheConfig())
	if err != nil {
		t.Fatalf("Failed to create cache: %v", err)
	}
	defer cache.Close()

	cache.Set(productsHash, "value1", 1)
	cache.Set(recallsHash, "value2", 1)
	cache.Delete(productsHash)

	if _, found := cache.Get(productsHash); found {
		t.Fatal("Value should not be found after deletion")
	}

	cache.Clear()
	if _, found := cache.Get(recallsHash); found {
		t.Fatal("Cache should be empty after clear")
	}
}

func TestLFUCacheMetrics(t *testing.T) {
	cache, err := NewLFUCache(DefaultLocalCacheConfig())
	if err != nil {
		t.Fatalf("Failed to create cache: %v", err)
	}
	defer cache.Close()

	cache.Set(productsHash, "value1", 1)
	cache.Get(productsHash) // Hit
	cache.Get(recallsHash)  // Miss

	metrics := cache.Metrics()
	if metrics.Hits != 1 {
		t.Fatalf("Expected 1 hit, got %d", metrics.Hits)
	}
	if metrics.Misses != 1 {
		t.Fatalf("Expected 1 miss, got %d", metrics.Misses)
	}
	if metrics.Size != DefaultLocalCacheConfig().MaxCost {
		t.Fatalf("Expected size %d, got %d", DefaultLocalCacheConfig().MaxCost, metrics.Size)
	}
}

func TestLFUCacheInvalidConfig(t *testing.T) {
	config := DefaultLocalCacheConfig()
	config.NumCounters = 0
	if _, err := NewLFUCache(config); err == nil {
		t.Fatal("Expected error for zero NumCounters")
	}
}

func TestQueryCacheWithLFUFactory(t *testing.T) {
	opts := localOptions()
	opts.LocalCacheFactory = NewLFUCacheFactory(DefaultLocalCacheConfig())
	c, err := New(opts)
	if err != nil {
		t.Fatalf("Failed to create cache: %v", err)
	}
	defer c.Close()

	f := newCountingFetcher()
	key := types.KeyOf("/api/products", "7")
	mustFetch(t, c, key, f.fetch)
	mustFetch(t, c, key, f.fetch)
	if n := f.count(key); n != 1 {
		t.Fatalf("Expected 1 fetch, got %d", n)
	}

	c.InvalidateExact(context.Background(), key)
	assertStale(t, c, key, true)
}
