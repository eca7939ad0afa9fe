package invalidation

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pawsitivecheck/querycache/cache"
	"github.com/pawsitivecheck/querycache/types"
)

var ctx = context.Background()

func TestPlanEntity(t *testing.T) {
	m := DefaultDependencyMap()

	want := []Instruction{
		Exact(types.KeyOf("/api/products")),
		Exact(types.KeyOf("/api/products", "7")),
		Exact(types.KeyOf("/api/products", "7", "reviews")),
		Exact(types.KeyOf("/api/products", "7", "tags")),
		Match(types.CollectionRule("/api/products")),
	}
	if diff := cmp.Diff(want, PlanEntity(m, "products", "7")); diff != "" {
		t.Fatalf("PlanEntity mismatch (-want +got):\n%s", diff)
	}

	withoutID := PlanEntity(m, "products", "")
	if diff := cmp.Diff(want[:1], withoutID[:1]); diff != "" {
		t.Fatalf("collection key mismatch:\n%s", diff)
	}
	assert.Len(t, withoutID, 2)
	assert.Empty(t, PlanEntity(m, "", "7"))
}

func TestPlanRelatedCascades(t *testing.T) {
	plan := PlanRelated(DefaultDependencyMap(), "products")

	var collections []string
	for _, in := range plan {
		if in.Rule == nil {
			collections = append(collections, in.Key.String())
		}
	}
	want := []string{
		types.KeyOf("/api/products").String(),
		types.KeyOf("/api/reviews").String(),
		types.KeyOf("/api/recalls").String(),
	}
	assert.Equal(t, want, collections)
	assert.Empty(t, PlanRelated(DefaultDependencyMap(), ""))
}

func TestPlanContains(t *testing.T) {
	assert.Equal(t, []Instruction{Match(types.ContainsRule("saved-products"))}, PlanContains("saved-products"))
	assert.Empty(t, PlanContains(""))
}

func TestPlanAllCoversFamiliesAndAdmin(t *testing.T) {
	m := DefaultDependencyMap()
	plan := PlanAll(m)

	require.Len(t, plan, 2*len(m.AllFamilies())+2)
	assert.Equal(t, Match(types.CollectionRule("/api/admin")), plan[len(plan)-2])
	assert.Equal(t, Match(types.CollectionRule("/api")), plan[len(plan)-1])
}

func TestPlanMutation(t *testing.T) {
	m := DefaultDependencyMap()

	for _, status := range []int{0, 199, 301, 400, 401, 404, 500} {
		assert.Empty(t, PlanMutation(m, MutationEvent{Entity: "products", ID: "7"}, status), "status %d", status)
	}
	assert.Empty(t, PlanMutation(m, MutationEvent{}, http.StatusOK))

	plan := PlanMutation(m, MutationEvent{Entity: "products", ID: "7", Kind: Updated}, http.StatusOK)
	seen := map[string]bool{}
	for _, in := range plan {
		require.False(t, seen[in.String()], "duplicate %s", in)
		seen[in.String()] = true
	}
	assert.True(t, seen[Exact(types.KeyOf("/api/products", "7")).String()])
	assert.True(t, seen[Exact(types.KeyOf("/api/recalls")).String()])
	assert.False(t, seen[Match(types.ContainsRule("products")).String()])

	saved := PlanMutation(m, MutationEvent{Entity: "saved-products", ID: "3"}, http.StatusCreated)
	assert.Equal(t, Match(types.ContainsRule("saved-products")), saved[len(saved)-1])
}

func TestPlanMutationNestedCrossCuttingFamily(t *testing.T) {
	m := DefaultDependencyMap()

	plan := PlanMutation(m, MutationEvent{
		Entity: "pets",
		ID:     "3",
		Kind:   Created,
		Nested: []string{"saved-products"},
	}, http.StatusCreated)

	assert.Contains(t, plan, Exact(types.KeyOf("/api/pets", "3")))
	assert.Contains(t, plan, Match(types.CollectionRule("/api/saved-products")))
	assert.Contains(t, plan, Match(types.ContainsRule("saved-products")))
	assert.Equal(t, Dedupe(plan), plan)

	// Sub-resources that are not cross-cutting add nothing.
	reviews := PlanMutation(m, MutationEvent{Entity: "products", ID: "7", Nested: []string{"reviews"}}, http.StatusOK)
	assert.Equal(t, PlanMutation(m, MutationEvent{Entity: "products", ID: "7"}, http.StatusOK), reviews)
}

func TestPlanRequest(t *testing.T) {
	m := DefaultDependencyMap()

	assert.Equal(t, PlanAll(m), PlanRequest(m, Request{Entity: "products", ID: "7", Related: true, Contains: "x", All: true}))
	assert.Empty(t, PlanRequest(m, Request{}))

	plan := PlanRequest(m, Request{Entity: "products", ID: "7", Related: true})
	assert.Equal(t, Dedupe(plan), plan)
	assert.Equal(t, types.KeyOf("/api/products"), plan[0].Key)

	contains := PlanRequest(m, Request{Contains: "saved-products"})
	assert.Equal(t, PlanContains("saved-products"), contains)
}

func TestKindFromMethod(t *testing.T) {
	assert.Equal(t, Created, KindFromMethod(http.MethodPost))
	assert.Equal(t, Updated, KindFromMethod(http.MethodPut))
	assert.Equal(t, Updated, KindFromMethod(http.MethodPatch))
	assert.Equal(t, Deleted, KindFromMethod(http.MethodDelete))
	assert.Equal(t, MutationKind(""), KindFromMethod(http.MethodGet))
}

func TestCoordinatorExecutesPlansInOrder(t *testing.T) {
	rec := &recorder{}
	c := NewCoordinator(rec, nil, Options{})

	c.InvalidateEntity(ctx, "products", "5")
	if diff := cmp.Diff(PlanEntity(DefaultDependencyMap(), "products", "5"), rec.recorded()); diff != "" {
		t.Fatalf("recorded calls mismatch (-want +got):\n%s", diff)
	}

	rec.calls = nil
	c.InvalidateByContains(ctx, "")
	c.InvalidateEntity(ctx, "", "")
	c.InvalidateRelated(ctx, "")
	assert.Empty(t, rec.recorded())
}

func TestCoordinatorHandleMutation(t *testing.T) {
	rec := &recorder{}
	c := NewCoordinator(rec, nil, Options{Logger: cache.NewNoOpLogger(), DebugMode: true})

	assert.False(t, c.HandleMutation(ctx, MutationEvent{Entity: "products", ID: "7"}, http.StatusBadRequest))
	assert.Empty(t, rec.recorded())

	assert.True(t, c.HandleMutation(ctx, MutationEvent{Entity: "products", ID: "7"}, http.StatusNoContent))
	assert.NotEmpty(t, rec.recorded())
}

func TestCoordinatorSetDependencyMap(t *testing.T) {
	rec := &recorder{}
	c := NewCoordinator(rec, nil, Options{})

	custom := DefaultDependencyMap()
	custom.APIPrefix = "/v2"
	c.SetDependencyMap(custom)
	c.SetDependencyMap(nil)

	c.InvalidateEntity(ctx, "pets", "")
	require.NotEmpty(t, rec.recorded())
	assert.Equal(t, types.KeyOf("/v2/pets"), rec.recorded()[0].Key)
}

// Scenarios below run against a real local QueryCache.

func newQueryCache(t *testing.T) *cache.QueryCache {
	t.Helper()
	opts := cache.DefaultOptions()
	opts.PodID = "coordinator-test"
	opts.RetryCount = 0
	c, err := cache.New(opts)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func seed(t *testing.T, c *cache.QueryCache, keys ...types.QueryKey) {
	t.Helper()
	for _, k := range keys {
		require.NoError(t, c.Set(ctx, k, k.Path()))
	}
}

func staleness(t *testing.T, c *cache.QueryCache, keys ...types.QueryKey) map[string]bool {
	t.Helper()
	out := make(map[string]bool, len(keys))
	for _, k := range keys {
		entry, ok := c.Get(ctx, k)
		require.True(t, ok, "expected %s to be cached", k)
		out[k.Path()] = entry.Stale
	}
	return out
}

func TestScenarioInvalidateEntity(t *testing.T) {
	qc := newQueryCache(t)
	products := types.KeyOf("/api/products")
	product := types.KeyOf("/api/products", "7")
	reviews := types.KeyOf("/api/products", "7", "reviews")
	recalls := types.KeyOf("/api/recalls")
	paged := types.KeyOf("/api/products?limit=10")
	seed(t, qc, products, product, reviews, recalls, paged)

	coord := NewCoordinator(qc, nil, Options{})
	coord.InvalidateEntity(ctx, "products", "7")

	want := map[string]bool{
		"/api/products":           true,
		"/api/products/7":         true,
		"/api/products/7/reviews": true,
		"/api/products?limit=10":  true,
		"/api/recalls":            false,
	}
	got := staleness(t, qc, products, product, reviews, paged, recalls)
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("staleness mismatch (-want +got):\n%s", diff)
	}

	coord.InvalidateRelated(ctx, "products")
	assert.True(t, staleness(t, qc, recalls)["/api/recalls"])
}

func TestScenarioInvalidateEntityIsIdempotent(t *testing.T) {
	keys := []types.QueryKey{
		types.KeyOf("/api/products"),
		types.KeyOf("/api/products", "5"),
		types.KeyOf("/api/reviews"),
	}

	once := newQueryCache(t)
	seed(t, once, keys...)
	NewCoordinator(once, nil, Options{}).InvalidateEntity(ctx, "products", "5")

	twice := newQueryCache(t)
	seed(t, twice, keys...)
	coord := NewCoordinator(twice, nil, Options{})
	coord.InvalidateEntity(ctx, "products", "5")
	coord.InvalidateEntity(ctx, "products", "5")

	assert.Equal(t, staleness(t, once, keys...), staleness(t, twice, keys...))
}

func TestScenarioInvalidateByContains(t *testing.T) {
	qc := newQueryCache(t)
	saved := types.KeyOf("/api/pets", "2", "saved-products")
	savedList := types.KeyOf("/api/saved-products?pet=4")
	pet := types.KeyOf("/api/pets", "2")
	seed(t, qc, saved, savedList, pet)

	NewCoordinator(qc, nil, Options{}).InvalidateByContains(ctx, "saved-products")

	assert.Equal(t, map[string]bool{
		saved.Path():     true,
		savedList.Path(): true,
		pet.Path():       false,
	}, staleness(t, qc, saved, savedList, pet))
}

func TestScenarioInvalidateAll(t *testing.T) {
	qc := newQueryCache(t)
	keys := []types.QueryKey{
		types.KeyOf("/api/products", "1"),
		types.KeyOf("/api/users", "me"),
		types.KeyOf("/api/livestock-operations?page=2"),
		types.KeyOf("/api/admin/stats"),
		types.KeyOf("/api/pets", "2", "saved-products"),
		// Families the map does not declare.
		types.KeyOf("/api/orders"),
		types.KeyOf("/api/livestock", "4"),
	}
	seed(t, qc, keys...)

	NewCoordinator(qc, nil, Options{}).InvalidateAll(ctx)

	for path, stale := range staleness(t, qc, keys...) {
		assert.True(t, stale, "%s should be stale", path)
	}
}

func TestScenarioMutationTriggersRefetch(t *testing.T) {
	qc := newQueryCache(t)
	key := types.KeyOf("/api/products", "7")
	calls := 0
	fetch := func(ctx context.Context, k types.QueryKey) (any, error) {
		calls++
		return time.Now().UnixNano(), nil
	}

	_, err := qc.Fetch(ctx, key, fetch)
	require.NoError(t, err)

	coord := NewCoordinator(qc, nil, Options{})
	coord.HandleMutation(ctx, MutationEvent{Entity: "products", ID: "7", Kind: Updated}, http.StatusInternalServerError)
	_, err = qc.Fetch(ctx, key, fetch)
	require.NoError(t, err)
	assert.Equal(t, 1, calls, "failed writes must not invalidate")

	coord.HandleMutation(ctx, MutationEvent{Entity: "products", ID: "7", Kind: Updated}, http.StatusOK)
	assert.Equal(t, 1, calls, "invalidation must not fetch")
	_, err = qc.Fetch(ctx, key, fetch)
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}
