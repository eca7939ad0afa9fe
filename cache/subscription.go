package cache

import (
	"sync"

	"github.com/pawsitivecheck/querycache/types"
)

// Subscription is an active reader of one key. C receives a value whenever
// the key is marked stale; signals coalesce, so a reader that refetches once
// per receive never falls behind.
type Subscription struct {
	C <-chan struct{}

	key   types.QueryKey
	hash  string
	c     chan struct{}
	cache *QueryCache
	once  sync.Once
}

// Key returns the subscribed key.
func (s *Subscription) Key() types.QueryKey {
	return s.key
}

// Unsubscribe detaches the subscription. It is safe to call more than once.
func (s *Subscription) Unsubscribe() {
	s.once.Do(func() {
		s.cache.unsubscribe(s)
	})
}

func (s *Subscription) notify() {
	select {
	case s.c <- struct{}{}:
	default:
	}
}
