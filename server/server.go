// Package server is a caching gateway in front of the REST API: reads go
// through the query cache, writes are forwarded and then invalidated.
package server

import (
	"context"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/pawsitivecheck/querycache/cache"
	"github.com/pawsitivecheck/querycache/fetch"
	"github.com/pawsitivecheck/querycache/invalidation"
	"github.com/pawsitivecheck/querycache/types"
)

// Upstream is the REST API the gateway fronts.
type Upstream interface {
	Fetch(ctx context.Context, key types.QueryKey) (any, error)
	Forward(ctx context.Context, method, path string, header http.Header, body io.Reader) (*fetch.Response, error)
}

// Options configures a Server.
type Options struct {
	// AdminToken, when set, is required in the X-Admin-Token header of
	// /_cache requests.
	AdminToken string

	// Logger is the request logger. If nil, defaults to no-op logger.
	Logger cache.Logger

	// DebugMode logs every request.
	DebugMode bool
}

// Server wires the cache, the coordinator and the upstream into gin routes.
type Server struct {
	cache    cache.Cache
	coord    *invalidation.Coordinator
	upstream Upstream
	logger   cache.Logger
	options  Options
}

// New returns a Server.
func New(qc cache.Cache, coord *invalidation.Coordinator, upstream Upstream, opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = cache.NewNoOpLogger()
	}
	return &Server{cache: qc, coord: coord, upstream: upstream, logger: logger, options: opts}
}

// Router builds the gin engine.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLogger())

	r.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE, PATCH")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	})

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := r.Group("/api")
	{
		api.GET("/*path", s.getQuery)
		api.POST("/*path", s.mutate)
		api.PUT("/*path", s.mutate)
		api.PATCH("/*path", s.mutate)
		api.DELETE("/*path", s.mutate)
	}

	admin := r.Group("/_cache")
	admin.Use(s.requireAdmin())
	{
		admin.POST("/invalidate", s.invalidate)
		admin.GET("/stats", s.stats)
		admin.GET("/keys", s.keys)
	}

	return r
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		if s.options.DebugMode {
			s.logger.Debug("request",
				"method", c.Request.Method,
				"path", c.Request.URL.Path,
				"status", c.Writer.Status())
		}
	}
}

func (s *Server) requireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.options.AdminToken != "" && c.GetHeader("X-Admin-Token") != s.options.AdminToken {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "admin token required"})
			return
		}
		c.Next()
	}
}

// KeyFromPath maps a request path to its query key: the first two path
// components form the collection segment, every further component is its
// own segment, and a non-empty raw query is appended to the last segment.
//
//	/api/products?limit=10     -> ["/api/products?limit=10"]
//	/api/products/7/reviews    -> ["/api/products", "7", "reviews"]
//
// It reports false when the path has no family component.
func KeyFromPath(path, rawQuery string) (types.QueryKey, bool) {
	parts := splitPath(path)
	if len(parts) < 2 {
		return nil, false
	}
	segs := append([]string{"/" + parts[0] + "/" + parts[1]}, parts[2:]...)
	if rawQuery != "" {
		segs[len(segs)-1] += "?" + rawQuery
	}
	return types.KeyOf(segs...), true
}

// entityFromPath returns the family and id components of an API path and
// the components below the item.
func entityFromPath(path string) (entity, id string, nested []string) {
	parts := splitPath(path)
	if len(parts) > 1 {
		entity = parts[1]
	}
	if len(parts) > 2 {
		id = parts[2]
	}
	if len(parts) > 3 {
		nested = parts[3:]
	}
	return entity, id, nested
}

func splitPath(path string) []string {
	var parts []string
	for _, p := range strings.Split(path, "/") {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return parts
}
