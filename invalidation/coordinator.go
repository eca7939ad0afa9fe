package invalidation

import (
	"context"
	"net/http"
	"sync/atomic"

	"github.com/pawsitivecheck/querycache/cache"
)

// MutationKind describes what a write did to an entity.
type MutationKind string

const (
	// Created is a POST that added an entity.
	Created MutationKind = "created"

	// Updated is a PUT or PATCH that changed an entity.
	Updated MutationKind = "updated"

	// Deleted is a DELETE that removed an entity.
	Deleted MutationKind = "deleted"
)

// KindFromMethod maps an HTTP method to a mutation kind. Reads map to "".
func KindFromMethod(method string) MutationKind {
	switch method {
	case http.MethodPost:
		return Created
	case http.MethodPut, http.MethodPatch:
		return Updated
	case http.MethodDelete:
		return Deleted
	default:
		return ""
	}
}

// MutationEvent is a completed write against entity family Entity.
type MutationEvent struct {
	Entity string       `json:"entity"`
	ID     string       `json:"id,omitempty"`
	Kind   MutationKind `json:"kind,omitempty"`

	// Nested holds the path components below the item, e.g.
	// ["saved-products"] for a write to /api/pets/3/saved-products.
	// Cross-cutting families named here are invalidated too.
	Nested []string `json:"nested,omitempty"`
}

// Options configures a Coordinator.
type Options struct {
	// Logger receives one debug line per applied instruction when DebugMode
	// is set. If nil, defaults to no-op logger.
	Logger cache.Logger

	// DebugMode enables debug logging.
	DebugMode bool
}

// Coordinator applies invalidation plans to a cache.
type Coordinator struct {
	cache   cache.Invalidator
	deps    atomic.Pointer[DependencyMap]
	logger  cache.Logger
	options Options
}

// NewCoordinator returns a Coordinator over inv. A nil deps uses
// DefaultDependencyMap.
func NewCoordinator(inv cache.Invalidator, deps *DependencyMap, opts Options) *Coordinator {
	if deps == nil {
		deps = DefaultDependencyMap()
	}
	logger := opts.Logger
	if logger == nil {
		logger = cache.NewNoOpLogger()
	}
	c := &Coordinator{cache: inv, logger: logger, options: opts}
	c.deps.Store(deps)
	return c
}

// DependencyMap returns the map plans are built from.
func (c *Coordinator) DependencyMap() *DependencyMap {
	return c.deps.Load()
}

// SetDependencyMap swaps the map used by subsequent plans.
func (c *Coordinator) SetDependencyMap(deps *DependencyMap) {
	if deps != nil {
		c.deps.Store(deps)
	}
}

// InvalidateEntity marks the entity's collection, item and sub-resource keys
// stale, plus every paginated or filtered variant of the collection.
func (c *Coordinator) InvalidateEntity(ctx context.Context, entity, id string) {
	c.Execute(ctx, PlanEntity(c.DependencyMap(), entity, id))
}

// InvalidateRelated invalidates entity and every family whose views embed it.
func (c *Coordinator) InvalidateRelated(ctx context.Context, entity string) {
	c.Execute(ctx, PlanRelated(c.DependencyMap(), entity))
}

// InvalidateByContains marks every key with a segment containing substr stale.
func (c *Coordinator) InvalidateByContains(ctx context.Context, substr string) {
	c.Execute(ctx, PlanContains(substr))
}

// InvalidateAll invalidates every known family, the admin namespace and
// every other key under the API prefix.
func (c *Coordinator) InvalidateAll(ctx context.Context) {
	c.Execute(ctx, PlanAll(c.DependencyMap()))
}

// HandleMutation runs after a write was answered with status. It reports
// whether anything was invalidated.
func (c *Coordinator) HandleMutation(ctx context.Context, ev MutationEvent, status int) bool {
	plan := PlanMutation(c.DependencyMap(), ev, status)
	if len(plan) == 0 {
		if c.options.DebugMode {
			c.logger.Debug("HandleMutation: nothing to invalidate", "entity", ev.Entity, "status", status)
		}
		return false
	}
	c.Execute(ctx, plan)
	c.logger.Info("Invalidated after mutation",
		"entity", ev.Entity, "id", ev.ID, "kind", string(ev.Kind), "instructions", len(plan))
	return true
}

// Execute applies plan in order.
func (c *Coordinator) Execute(ctx context.Context, plan []Instruction) {
	for _, in := range plan {
		if c.options.DebugMode {
			c.logger.Debug("Applying invalidation", "instruction", in.String())
		}
		in.Apply(ctx, c.cache)
	}
}
