package invalidation

import (
	"context"
	"fmt"

	"github.com/pawsitivecheck/querycache/cache"
	"github.com/pawsitivecheck/querycache/types"
)

// Instruction is one invalidation call against the cache: an exact key
// when Rule is nil, a predicate otherwise.
type Instruction struct {
	Key  types.QueryKey   `json:"key,omitempty"`
	Rule *types.MatchRule `json:"rule,omitempty"`
}

// Exact returns an exact-key instruction.
func Exact(key types.QueryKey) Instruction {
	return Instruction{Key: key}
}

// Match returns a predicate instruction.
func Match(rule types.MatchRule) Instruction {
	return Instruction{Rule: &rule}
}

// Apply issues the instruction against inv.
func (in Instruction) Apply(ctx context.Context, inv cache.Invalidator) {
	if in.Rule != nil {
		inv.InvalidateByPredicate(ctx, *in.Rule)
		return
	}
	inv.InvalidateExact(ctx, in.Key)
}

func (in Instruction) String() string {
	if in.Rule != nil {
		if in.Rule.Kind == types.MatchPrefix {
			return fmt.Sprintf("match %s %s", in.Rule.Kind, in.Rule.Prefix.Hash())
		}
		return fmt.Sprintf("match %s %q", in.Rule.Kind, in.Rule.Value)
	}
	return "exact " + in.Key.Hash()
}

// PlanEntity invalidates the collection key, the item key and its
// sub-resources when id is set, then every filtered or nested variant of
// the collection. An empty entity plans nothing.
func PlanEntity(m *DependencyMap, entity, id string) []Instruction {
	if entity == "" {
		return nil
	}
	collection := m.CollectionPath(entity)
	plan := []Instruction{Exact(types.KeyOf(collection))}
	if id != "" {
		plan = append(plan, Exact(types.KeyOf(collection, id)))
		for _, sub := range m.SubResources {
			plan = append(plan, Exact(types.KeyOf(collection, id, sub)))
		}
	}
	return append(plan, Match(types.CollectionRule(collection)))
}

// PlanRelated plans entity and every family that depends on it.
func PlanRelated(m *DependencyMap, entity string) []Instruction {
	if entity == "" {
		return nil
	}
	plan := PlanEntity(m, entity, "")
	for _, dep := range m.Dependents(entity) {
		plan = append(plan, PlanEntity(m, dep, "")...)
	}
	return plan
}

// PlanContains plans a substring match over every key segment.
func PlanContains(substr string) []Instruction {
	if substr == "" {
		return nil
	}
	return []Instruction{Match(types.ContainsRule(substr))}
}

// PlanAll plans every known family, the admin namespace, and finally every
// key under the API prefix so families missing from the map are covered.
func PlanAll(m *DependencyMap) []Instruction {
	var plan []Instruction
	for _, family := range m.AllFamilies() {
		plan = append(plan, PlanEntity(m, family, "")...)
	}
	return append(plan,
		Match(types.CollectionRule(m.CollectionPath(m.AdminNamespace))),
		Match(types.CollectionRule(m.APIPrefix)),
	)
}

// PlanMutation plans the invalidations that follow a mutation answered with
// status. Only 2xx responses invalidate. Cross-cutting families among
// ev.Nested are planned as if they had been written directly.
func PlanMutation(m *DependencyMap, ev MutationEvent, status int) []Instruction {
	if status < 200 || status > 299 || ev.Entity == "" {
		return nil
	}
	plan := planWrite(m, ev.Entity, ev.ID)
	for _, name := range ev.Nested {
		if name != ev.Entity && m.IsCrossCutting(name) {
			plan = append(plan, planWrite(m, name, "")...)
		}
	}
	return Dedupe(plan)
}

func planWrite(m *DependencyMap, entity, id string) []Instruction {
	plan := PlanEntity(m, entity, id)
	plan = append(plan, PlanRelated(m, entity)...)
	if m.IsCrossCutting(entity) {
		plan = append(plan, PlanContains(entity)...)
	}
	return plan
}

// Dedupe drops repeated instructions, keeping the first occurrence.
func Dedupe(plan []Instruction) []Instruction {
	seen := make(map[string]bool, len(plan))
	out := plan[:0:0]
	for _, in := range plan {
		id := in.String()
		if seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, in)
	}
	return out
}

// Request selects plans for a manual invalidation.
type Request struct {
	Entity   string `json:"entity"`
	ID       string `json:"id"`
	Related  bool   `json:"related"`
	Contains string `json:"contains"`
	All      bool   `json:"all"`
}

// PlanRequest combines the plans req selects. All overrides everything else.
func PlanRequest(m *DependencyMap, req Request) []Instruction {
	if req.All {
		return PlanAll(m)
	}
	plan := PlanEntity(m, req.Entity, req.ID)
	if req.Related {
		plan = append(plan, PlanRelated(m, req.Entity)...)
	}
	plan = append(plan, PlanContains(req.Contains)...)
	return Dedupe(plan)
}
