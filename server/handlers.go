package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/pawsitivecheck/querycache/fetch"
	"github.com/pawsitivecheck/querycache/invalidation"
)

func (s *Server) getQuery(c *gin.Context) {
	key, ok := KeyFromPath(c.Request.URL.Path, c.Request.URL.RawQuery)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown resource"})
		return
	}

	data, err := s.cache.Fetch(c.Request.Context(), key, s.upstream.Fetch)
	if err != nil {
		if errors.Is(err, fetch.ErrUnauthorized) {
			c.JSON(http.StatusUnauthorized, gin.H{"message": "Unauthorized"})
			return
		}
		s.logger.Warn("Fetch failed", "key", key.String(), "error", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, data)
}

func (s *Server) mutate(c *gin.Context) {
	resp, err := s.upstream.Forward(c.Request.Context(), c.Request.Method,
		c.Request.URL.RequestURI(), c.Request.Header, c.Request.Body)
	if err != nil {
		s.logger.Warn("Forward failed", "method", c.Request.Method, "path", c.Request.URL.Path, "error", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}

	entity, id, nested := entityFromPath(c.Request.URL.Path)
	ev := invalidation.MutationEvent{
		Entity: entity,
		ID:     id,
		Kind:   invalidation.KindFromMethod(c.Request.Method),
		Nested: nested,
	}
	// The write already happened upstream, so invalidation runs to
	// completion even if the client has gone away. It finishes before the
	// response is written.
	s.coord.HandleMutation(context.WithoutCancel(c.Request.Context()), ev, resp.StatusCode)

	for name, values := range resp.Header {
		if name == "Content-Length" || name == "Transfer-Encoding" || name == "Connection" {
			continue
		}
		for _, v := range values {
			c.Writer.Header().Add(name, v)
		}
	}
	c.Data(resp.StatusCode, resp.Header.Get("Content-Type"), resp.Body)
}

func (s *Server) invalidate(c *gin.Context) {
	var req invalidation.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	plan := invalidation.PlanRequest(s.coord.DependencyMap(), req)
	if len(plan) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "nothing to invalidate"})
		return
	}
	s.coord.Execute(c.Request.Context(), plan)
	s.logger.Info("Manual invalidation", "entity", req.Entity, "id", req.ID, "instructions", len(plan))

	applied := make([]string, len(plan))
	for i, in := range plan {
		applied[i] = in.String()
	}
	c.JSON(http.StatusOK, gin.H{"instructions": applied})
}

func (s *Server) stats(c *gin.Context) {
	c.JSON(http.StatusOK, s.cache.Stats())
}

func (s *Server) keys(c *gin.Context) {
	keys := s.cache.Keys()
	c.JSON(http.StatusOK, gin.H{"count": len(keys), "keys": keys})
}
