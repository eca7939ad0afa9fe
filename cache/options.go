package cache

import (
	"fmt"
	"time"

	"github.com/pawsitivecheck/querycache/storage"
)

// LocalCacheConfig sizes the in-process layer that holds query payloads.
// The first four fields apply to the ristretto-backed LFU layer and MaxSize
// to the default LRU layer.
type LocalCacheConfig struct {
	NumCounters        int64
	MaxCost            int64
	BufferItems        int64
	IgnoreInternalCost bool

	// MaxSize is the number of query results kept before the least recently
	// used one is dropped and refetched on next read.
	MaxSize int
}

// Options configures a QueryCache instance.
type Options struct {
	// PodID is the unique identifier for this instance.
	// Used to skip our own events on the invalidation channel.
	PodID string

	// LocalCacheConfig configures the local cache.
	LocalCacheConfig LocalCacheConfig

	// LocalCacheFactory is the factory for creating local cache instances.
	// If nil, defaults to the LRU factory.
	LocalCacheFactory LocalCacheFactory

	// RedisAddr is the Redis server address (e.g., "localhost:6379").
	// Empty means local only: no remote store and no cross-instance sync.
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

	// ContextTimeout bounds a single fetch attempt. Zero means no bound.
	ContextTimeout time.Duration

	// StaleTime marks entries stale once they are older than this.
	// Zero keeps entries fresh until they are invalidated.
	StaleTime time.Duration

	// RetryCount is the number of retries after a failed fetch.
	RetryCount int

	// RetryDelay is the delay before the first retry; it doubles per attempt.
	RetryDelay time.Duration

	// MaxRetryDelay caps the retry delay. Zero means uncapped.
	MaxRetryDelay time.Duration

	// ShouldRetry reports whether a fetch error is worth retrying.
	// If nil, every error is retried.
	ShouldRetry func(error) bool

	// OnError is called when an error occurs in background operations.
	OnError func(error)
}

// DefaultOptions returns default cache options.
func DefaultOptions() Options {
	return Options{
		PodID:               "default-pod",
		RedisDB:             0,
		KeyPrefix:           "querycache:",
		InvalidationChannel: "querycache:invalidate",
		SerializationFormat: "json",
		ContextTimeout:      10 * time.Second,
		RetryCount:          3,
		RetryDelay:          time.Second,
		MaxRetryDelay:       30 * time.Second,
		LocalCacheConfig:    DefaultLocalCacheConfig(),
	}
}

// DefaultLocalCacheConfig returns default local cache configuration.
func DefaultLocalCacheConfig() LocalCacheConfig {
	return LocalCacheConfig{
		NumCounters:        1e5,
		MaxCost:            1e4,
		BufferItems:        64,
		IgnoreInternalCost: true,
		MaxSize:            10000,
	}
}

// Validate reports the first unusable setting. The error wraps
// ErrInvalidConfig.
func (o *Options) Validate() error {
	switch {
	case o.PodID == "":
		return invalid("pod id is required")
	case o.RedisAddr != "" && o.InvalidationChannel == "":
		return invalid("invalidation channel is required with redis")
	case o.LocalCacheFactory == nil && o.LocalCacheConfig.MaxSize <= 0:
		return invalid("local cache size must be positive, got %d", o.LocalCacheConfig.MaxSize)
	case o.RetryCount < 0:
		return invalid("negative retry count %d", o.RetryCount)
	case o.RetryDelay < 0 || o.MaxRetryDelay < 0:
		return invalid("negative retry delay")
	case o.StaleTime < 0:
		return invalid("negative stale time %v", o.StaleTime)
	case o.ContextTimeout < 0:
		return invalid("negative context timeout %v", o.ContextTimeout)
	}
	if _, err := storage.CodecFor(o.SerializationFormat); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return nil
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrInvalidConfig}, args...)...)
}

// ErrInvalidConfig is returned when options are invalid.
var ErrInvalidConfig = NewError("invalid cache configuration")

// NewError creates a new error with the given message.
func NewError(msg string) error {
	return &cacheError{msg: msg}
}

type cacheError struct {
	msg string
}

func (e *cacheError) Error() string {
	return e.msg
}
