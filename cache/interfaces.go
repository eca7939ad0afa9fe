package cache

import (
	"context"
	"time"

	"github.com/pawsitivecheck/querycache/storage"
	"github.com/pawsitivecheck/querycache/types"
)

// Logger defines the interface for logging in the query cache.
type Logger interface {
	// Debug logs a debug message.
	Debug(msg string, args ...any)

	// Info logs an info message.
	Info(msg string, args ...any)

	// Warn logs a warning message.
	Warn(msg string, args ...any)

	// Error logs an error message.
	Error(msg string, args ...any)
}

// Marshaller defines the interface for JSON marshalling/unmarshalling.
type Marshaller interface {
	// Marshal serializes a value to bytes.
	Marshal(v any) ([]byte, error)

	// Unmarshal deserializes a value from bytes.
	Unmarshal(data []byte, v any) error
}

// LocalCache defines the interface for local in-process caching of query data.
type LocalCache interface {
	// Get retrieves a value from the local cache.
	Get(key string) (any, bool)

	// Set stores a value in the local cache.
	Set(key string, value any, cost int64) bool

	// Delete removes a value from the local cache.
	Delete(key string)

	// Clear removes all values from the local cache.
	Clear()

	// Close closes the local cache.
	Close()

	// Metrics returns cache metrics.
	Metrics() LocalCacheMetrics
}

// EvictionNotifier is implemented by local caches that drop results on
// their own. The QueryCache uses it to keep its index in step.
type EvictionNotifier interface {
	OnEvict(fn func(hash string))
}

// LocalCacheMetrics represents local cache metrics.
type LocalCacheMetrics struct {
	Hits      int64
	Misses    int64
	Evictions int64
	Size      int64
}

// LocalCacheFactory defines the interface for creating local cache implementations.
type LocalCacheFactory interface {
	// Create creates a new local cache instance.
	Create() (LocalCache, error)
}

// Fetcher loads the data for a key from the source of truth.
type Fetcher func(ctx context.Context, key types.QueryKey) (any, error)

// Entry is a snapshot of one cached query.
type Entry struct {
	Key       types.QueryKey
	Data      any
	FetchedAt time.Time
	Stale     bool
}

// Invalidator is the capability the invalidation coordinator needs.
type Invalidator interface {
	// InvalidateExact marks the entry for key stale. Unknown keys are ignored.
	InvalidateExact(ctx context.Context, key types.QueryKey)

	// InvalidateByPredicate marks every entry whose key matches stale.
	InvalidateByPredicate(ctx context.Context, pred types.Predicate)
}

// Cache defines the interface for a staleness-tracking query cache.
type Cache interface {
	Invalidator

	// Get returns the cached entry for key, stale or not.
	Get(ctx context.Context, key types.QueryKey) (Entry, bool)

	// Fetch returns fresh data for key, calling fetch when the entry is
	// missing or stale. Concurrent fetches of one key share a single call.
	Fetch(ctx context.Context, key types.QueryKey, fetch Fetcher) (any, error)

	// Set stores fresh data for key.
	Set(ctx context.Context, key types.QueryKey, data any) error

	// Remove evicts key from local and remote storage.
	Remove(ctx context.Context, key types.QueryKey) error

	// Clear evicts every key.
	Clear(ctx context.Context) error

	// Subscribe registers an active subscriber for key.
	Subscribe(key types.QueryKey) *Subscription

	// Keys returns a snapshot of the indexed keys.
	Keys() []types.QueryKey

	// Close closes the cache and releases all resources.
	Close() error

	// Stats returns cache statistics.
	Stats() Stats
}

// Store defines the interface for remote storage backends (e.g., Redis).
type Store interface {
	// Get retrieves a record from the store.
	Get(ctx context.Context, key types.QueryKey) (*storage.Record, error)

	// Set stores a record.
	Set(ctx context.Context, rec *storage.Record) error

	// Delete removes a key from the store.
	Delete(ctx context.Context, key types.QueryKey) error

	// DeleteMatching removes every key matching pred.
	DeleteMatching(ctx context.Context, pred types.Predicate) (int, error)

	// Clear removes all keys owned by the store.
	Clear(ctx context.Context) error

	// Close closes the store connection.
	Close() error
}

// Synchronizer defines the interface for invalidation fan-out across instances.
type Synchronizer interface {
	// Subscribe starts listening for invalidation events.
	Subscribe(ctx context.Context) error

	// Publish publishes an invalidation event.
	Publish(ctx context.Context, event types.InvalidationEvent) error

	// OnInvalidate registers a callback for invalidation events.
	OnInvalidate(callback func(event types.InvalidationEvent))

	// Close closes the synchronizer.
	Close() error
}

// InvalidationEvent is an alias for types.InvalidationEvent.
type InvalidationEvent = types.InvalidationEvent

// Action is an alias for types.Action.
type Action = types.Action

// Action constants for synchronization events.
const (
	ActionInvalidate      = types.Invalidate
	ActionInvalidateMatch = types.InvalidateMatch
	ActionRemove          = types.Remove
	ActionClear           = types.Clear
)

// Stats represents cache statistics.
type Stats struct {
	LocalHits     int64 `json:"local_hits"`
	LocalMisses   int64 `json:"local_misses"`
	RemoteHits    int64 `json:"remote_hits"`
	RemoteMisses  int64 `json:"remote_misses"`
	Fetches       int64 `json:"fetches"`
	FetchErrors   int64 `json:"fetch_errors"`
	SharedFetches int64 `json:"shared_fetches"`
	Invalidations int64 `json:"invalidations"`
	Entries       int64 `json:"entries"`
}
