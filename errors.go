package querycache

import (
	"github.com/pawsitivecheck/querycache/cache"
	"github.com/pawsitivecheck/querycache/fetch"
	"github.com/pawsitivecheck/querycache/invalidation"
	"github.com/pawsitivecheck/querycache/storage"
)

// ErrNotFound is returned when a key is not found in the remote store.
var ErrNotFound = storage.ErrNotFound

// ErrCacheClosed is returned when operations are performed on a closed cache.
var ErrCacheClosed = cache.ErrCacheClosed

// ErrInvalidConfig is returned when the cache configuration is invalid.
var ErrInvalidConfig = cache.ErrInvalidConfig

// ErrInvalidDependencyMap is returned when a dependency map fails validation.
var ErrInvalidDependencyMap = invalidation.ErrInvalidDependencyMap

// ErrUnauthorized is returned when the upstream API answers 401.
var ErrUnauthorized = fetch.ErrUnauthorized
