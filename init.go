package querycache

import (
	"time"

	"github.com/pawsitivecheck/querycache/cache"
	"github.com/pawsitivecheck/querycache/invalidation"
)

// Config configures a query cache instance.
type Config struct {
	// PodID is the unique identifier for this pod/instance.
	// Used to skip our own events in pub/sub.
	PodID string

	// LocalCacheConfig configures the local cache.
	LocalCacheConfig LocalCacheConfig

	// LocalCacheFactory is the factory for creating local cache instances.
	// If nil, defaults to the LRU factory.
	LocalCacheFactory LocalCacheFactory

	// RedisAddr is the Redis server address (e.g., "localhost:6379").
	// Empty keeps the cache local to this process.
	RedisAddr string

	// RedisPassword is the optional Redis password.
	RedisPassword string

	// RedisDB is the Redis database number.
	RedisDB int

	// KeyPrefix namespaces query records in Redis.
	KeyPrefix string

	// InvalidationChannel is the Redis pub/sub channel for invalidation events.
	InvalidationChannel string

	// SerializationFormat specifies how values are serialized ("json").
	SerializationFormat string

	// Marshaller is the marshaller for serialization.
	// If nil, defaults to JSON marshaller.
	Marshaller Marshaller

	// Logger is the logger for debug logging.
	// If nil, defaults to no-op logger.
	Logger Logger

	// DebugMode enables debug logging.
	DebugMode bool

	// ContextTimeout bounds a single fetch attempt.
	ContextTimeout time.Duration

	// StaleTime marks entries stale once they are older than this.
	// Zero keeps entries fresh until they are invalidated.
	StaleTime time.Duration

	// RetryCount, RetryDelay and MaxRetryDelay shape fetch retries.
	RetryCount    int
	RetryDelay    time.Duration
	MaxRetryDelay time.Duration

	// ShouldRetry reports whether a fetch error is worth retrying.
	ShouldRetry func(error) bool

	// OnError is called when an error occurs in background operations.
	OnError func(error)
}

// New creates a new query cache instance.
// This is the root-level initialization function that allows users to import from the root package.
func New(cfg Config) (Cache, error) {
	qc, err := cache.New(cfg.options())
	if err != nil {
		return nil, err
	}
	return qc, nil
}

func (cfg Config) options() cache.Options {
	return cache.Options{
		PodID:               cfg.PodID,
		LocalCacheConfig:    cfg.LocalCacheConfig,
		LocalCacheFactory:   cfg.LocalCacheFactory,
		RedisAddr:           cfg.RedisAddr,
		RedisPassword:       cfg.RedisPassword,
		RedisDB:             cfg.RedisDB,
		KeyPrefix:           cfg.KeyPrefix,
		InvalidationChannel: cfg.InvalidationChannel,
		SerializationFormat: cfg.SerializationFormat,
		Marshaller:          cfg.Marshaller,
		Logger:              cfg.Logger,
		DebugMode:           cfg.DebugMode,
		ContextTimeout:      cfg.ContextTimeout,
		StaleTime:           cfg.StaleTime,
		RetryCount:          cfg.RetryCount,
		RetryDelay:          cfg.RetryDelay,
		MaxRetryDelay:       cfg.MaxRetryDelay,
		ShouldRetry:         cfg.ShouldRetry,
		OnError:             cfg.OnError,
	}
}

// DefaultConfig returns default cache configuration.
func DefaultConfig() Config {
	opts := cache.DefaultOptions()
	return Config{
		PodID:               opts.PodID,
		RedisDB:             opts.RedisDB,
		KeyPrefix:           opts.KeyPrefix,
		InvalidationChannel: opts.InvalidationChannel,
		SerializationFormat: opts.SerializationFormat,
		ContextTimeout:      opts.ContextTimeout,
		RetryCount:          opts.RetryCount,
		RetryDelay:          opts.RetryDelay,
		MaxRetryDelay:       opts.MaxRetryDelay,
		LocalCacheConfig:    DefaultLocalCacheConfig(),
	}
}

// NewCoordinator returns an invalidation coordinator over c. A nil deps
// uses the built-in dependency map.
func NewCoordinator(c Cache, deps *DependencyMap, logger Logger) *Coordinator {
	return invalidation.NewCoordinator(c, deps, invalidation.Options{Logger: logger})
}

// Cache is an alias for cache.Cache interface.
type Cache = cache.Cache

// Stats is an alias for cache.Stats.
type Stats = cache.Stats
