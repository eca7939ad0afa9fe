package querycache

import (
	"go.uber.org/zap"

	"github.com/pawsitivecheck/querycache/cache"
	"github.com/pawsitivecheck/querycache/invalidation"
	"github.com/pawsitivecheck/querycache/types"
)

// Logger is an alias for cache.Logger.
type Logger = cache.Logger

// Marshaller is an alias for cache.Marshaller.
type Marshaller = cache.Marshaller

// LocalCache is an alias for cache.LocalCache.
type LocalCache = cache.LocalCache

// LocalCacheMetrics is an alias for cache.LocalCacheMetrics.
type LocalCacheMetrics = cache.LocalCacheMetrics

// LocalCacheFactory is an alias for cache.LocalCacheFactory.
type LocalCacheFactory = cache.LocalCacheFactory

// LocalCacheConfig is an alias for cache.LocalCacheConfig.
type LocalCacheConfig = cache.LocalCacheConfig

// InvalidationEvent is an alias for cache.InvalidationEvent.
type InvalidationEvent = cache.InvalidationEvent

// Fetcher is an alias for cache.Fetcher.
type Fetcher = cache.Fetcher

// Entry is an alias for cache.Entry.
type Entry = cache.Entry

// QueryKey is an alias for types.QueryKey.
type QueryKey = types.QueryKey

// Coordinator is an alias for invalidation.Coordinator.
type Coordinator = invalidation.Coordinator

// DependencyMap is an alias for invalidation.DependencyMap.
type DependencyMap = invalidation.DependencyMap

// MutationEvent is an alias for invalidation.MutationEvent.
type MutationEvent = invalidation.MutationEvent

// Key builds a query key from strings and numbers.
func Key(parts ...any) QueryKey {
	return types.Key(parts...)
}

// DefaultLocalCacheConfig returns default local cache configuration.
func DefaultLocalCacheConfig() LocalCacheConfig {
	return cache.DefaultLocalCacheConfig()
}

// NewZapLogger adapts a zap logger to Logger.
func NewZapLogger(l *zap.Logger) Logger {
	return cache.NewZapLogger(l)
}
