package server

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/pawsitivecheck/querycache/types"
)

// Warm fetches keys into the cache with at most limit requests in flight.
// Every key is attempted; the first failure is returned.
func (s *Server) Warm(ctx context.Context, keys []types.QueryKey, limit int) error {
	var g errgroup.Group
	if limit > 0 {
		g.SetLimit(limit)
	}
	for _, key := range keys {
		key := key
		g.Go(func() error {
			if _, err := s.cache.Fetch(ctx, key, s.upstream.Fetch); err != nil {
				s.logger.Warn("Warm failed", "key", key.String(), "error", err)
				return fmt.Errorf("warm %s: %w", key, err)
			}
			return nil
		})
	}
	err := g.Wait()
	s.logger.Info("Warmed cache", "keys", len(keys), "entries", s.cache.Stats().Entries)
	return err
}

// ParseKeys maps request paths (with optional query) to query keys.
func ParseKeys(paths []string) ([]types.QueryKey, error) {
	keys := make([]types.QueryKey, 0, len(paths))
	for _, p := range paths {
		path, query, _ := strings.Cut(p, "?")
		key, ok := KeyFromPath(path, query)
		if !ok {
			return nil, fmt.Errorf("invalid warm path %q", p)
		}
		keys = append(keys, key)
	}
	return keys, nil
}
