// Package invalidation turns domain mutations into invalidation calls
// against a query cache.
//
// A Coordinator holds no cache state. Each operation builds a plan, an
// ordered list of Instructions derived from the event and a DependencyMap,
// and applies it to a cache.Invalidator. The Plan* functions expose the
// same mapping without side effects:
//
//	plan := invalidation.PlanEntity(deps, "products", "7")
//	// exact ["/api/products"]
//	// exact ["/api/products","7"]
//	// exact ["/api/products","7","reviews"]
//	// exact ["/api/products","7","tags"]
//	// match collection "/api/products"
//
// Every instruction only marks entries stale, so plans are idempotent and
// their order does not change the final state.
package invalidation
