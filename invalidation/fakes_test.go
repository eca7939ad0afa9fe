package invalidation

import (
	"context"
	"sync"

	"github.com/pawsitivecheck/querycache/types"
)

// recorder is a cache.Invalidator that records calls in order.
type recorder struct {
	mu    sync.Mutex
	calls []Instruction
}

func (r *recorder) InvalidateExact(ctx context.Context, key types.QueryKey) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, Exact(key))
}

func (r *recorder) InvalidateByPredicate(ctx context.Context, pred types.Predicate) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rule, ok := pred.(types.MatchRule); ok {
		r.calls = append(r.calls, Match(rule))
	}
}

func (r *recorder) recorded() []Instruction {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Instruction(nil), r.calls...)
}
