package cache

import (
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
)

// LRUCacheFactory creates LRU local caches holding at most maxSize query
// results.
type LRUCacheFactory struct {
	maxSize int
}

// NewLRUCacheFactory creates a new LRU cache factory.
func NewLRUCacheFactory(maxSize int) LocalCacheFactory {
	return &LRUCacheFactory{maxSize: maxSize}
}

// Create creates a new LRU cache instance.
func (f *LRUCacheFactory) Create() (LocalCache, error) {
	return NewLRUCache(f.maxSize)
}

// LRUCache keeps the most recently read query results, keyed by key hash.
// It is the default local layer.
type LRUCache struct {
	cache     *lru.Cache[string, any]
	onRemoved atomic.Pointer[func(string)]
	hits      int64
	misses    int64
	evictions int64
	maxSize   int64
}

// NewLRUCache creates a new LRU-based local cache.
func NewLRUCache(maxSize int) (*LRUCache, error) {
	lc := &LRUCache{maxSize: int64(maxSize)}

	// golang-lru calls back for capacity evictions, Remove and Purge alike.
	cache, err := lru.NewWithEvict(maxSize, func(hash string, _ any) {
		if fn := lc.onRemoved.Load(); fn != nil {
			(*fn)(hash)
		}
	})
	if err != nil {
		return nil, err
	}
	lc.cache = cache

	return lc, nil
}

// OnEvict registers fn to be called with the hash of every dropped result.
func (lc *LRUCache) OnEvict(fn func(hash string)) {
	lc.onRemoved.Store(&fn)
}

// Get returns the result stored under hash.
func (lc *LRUCache) Get(hash string) (any, bool) {
	value, found := lc.cache.Get(hash)
	if found {
		atomic.AddInt64(&lc.hits, 1)
	} else {
		atomic.AddInt64(&lc.misses, 1)
	}
	return value, found
}

// Set stores a result. The cost is ignored; every result counts as one.
func (lc *LRUCache) Set(hash string, value any, cost int64) bool {
	if evicted := lc.cache.Add(hash, value); evicted {
		atomic.AddInt64(&lc.evictions, 1)
	}
	return true
}

// Delete drops the result stored under hash.
func (lc *LRUCache) Delete(hash string) {
	lc.cache.Remove(hash)
}

// Clear drops every result.
func (lc *LRUCache) Clear() {
	lc.cache.Purge()
}

// Close releases the stored results.
func (lc *LRUCache) Close() {
	lc.cache.Purge()
}

// Len returns the number of stored results.
func (lc *LRUCache) Len() int {
	return lc.cache.Len()
}

// Metrics returns hit, miss and capacity-eviction counts.
func (lc *LRUCache) Metrics() LocalCacheMetrics {
	return LocalCacheMetrics{
		Hits:      atomic.LoadInt64(&lc.hits),
		Misses:    atomic.LoadInt64(&lc.misses),
		Evictions: atomic.LoadInt64(&lc.evictions),
		Size:      lc.maxSize,
	}
}
