package cache

import (
	"sync/atomic"

	"github.com/dgraph-io/ristretto"
)

// LFUCacheFactory creates Ristretto-backed local caches.
type LFUCacheFactory struct {
	config LocalCacheConfig
}

// NewLFUCacheFactory creates a new Ristretto cache factory.
func NewLFUCacheFactory(config LocalCacheConfig) LocalCacheFactory {
	return &LFUCacheFactory{config: config}
}

// Create creates a new Ristretto cache instance.
func (f *LFUCacheFactory) Create() (LocalCache, error) {
	return NewLFUCache(f.config)
}

// lfuItem keeps the key hash next to the value; Ristretto only hands the
// hashed uint64 key to its callbacks.
type lfuItem struct {
	hash  string
	value any
}

// LFUCache keeps frequently read query results using Ristretto's TinyLFU
// admission policy. Rarely read results may be rejected or evicted early.
type LFUCache struct {
	cache     *ristretto.Cache
	onRemoved atomic.Pointer[func(string)]
	hits      int64
	misses    int64
	evictions int64
}

// NewLFUCache creates a new Ristretto-based local cache.
func NewLFUCache(config LocalCacheConfig) (*LFUCache, error) {
	lc := &LFUCache{}

	dropped := func(item *ristretto.Item) {
		it, ok := item.Value.(lfuItem)
		if !ok {
			return
		}
		if fn := lc.onRemoved.Load(); fn != nil {
			(*fn)(it.hash)
		}
	}

	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters:        config.NumCounters,
		MaxCost:            config.MaxCost,
		BufferItems:        config.BufferItems,
		IgnoreInternalCost: config.IgnoreInternalCost,
		OnEvict: func(item *ristretto.Item) {
			atomic.AddInt64(&lc.evictions, 1)
			dropped(item)
		},
		OnReject: dropped,
	})
	if err != nil {
		return nil, err
	}
	lc.cache = cache

	return lc, nil
}

// OnEvict registers fn to be called with the hash of every result the
// admission policy evicts or rejects.
func (lc *LFUCache) OnEvict(fn func(hash string)) {
	lc.onRemoved.Store(&fn)
}

// Get returns the result stored under hash.
func (lc *LFUCache) Get(hash string) (any, bool) {
	value, found := lc.cache.Get(hash)
	if !found {
		atomic.AddInt64(&lc.misses, 1)
		return nil, false
	}
	atomic.AddInt64(&lc.hits, 1)
	return value.(lfuItem).value, true
}

// Set stores a result and waits for Ristretto's write buffer, so the value
// is readable on return unless the policy rejected it.
func (lc *LFUCache) Set(hash string, value any, cost int64) bool {
	ok := lc.cache.Set(hash, lfuItem{hash: hash, value: value}, cost)
	lc.cache.Wait()
	return ok
}

// Delete drops the result stored under hash.
func (lc *LFUCache) Delete(hash string) {
	lc.cache.Del(hash)
}

// Clear drops every result.
func (lc *LFUCache) Clear() {
	lc.cache.Clear()
}

// Close stops Ristretto's background goroutines.
func (lc *LFUCache) Close() {
	lc.cache.Close()
}

// Metrics returns hit, miss and eviction counts.
func (lc *LFUCache) Metrics() LocalCacheMetrics {
	return LocalCacheMetrics{
		Hits:      atomic.LoadInt64(&lc.hits),
		Misses:    atomic.LoadInt64(&lc.misses),
		Evictions: atomic.LoadInt64(&lc.evictions),
		Size:      int64(lc.cache.MaxCost()),
	}
}
