package types

import "strings"

// Predicate selects cache entries by key.
type Predicate interface {
	Match(key QueryKey) bool
}

// PredicateFunc adapts a function to Predicate. Function predicates cannot
// be sent to other instances; use a MatchRule when that matters.
type PredicateFunc func(key QueryKey) bool

// Match calls f(key).
func (f PredicateFunc) Match(key QueryKey) bool {
	return f(key)
}

// MatchKind names the kind of a MatchRule.
type MatchKind string

const (
	// MatchCollection matches keys whose first segment is the collection
	// path itself or a filtered/nested variant of it.
	MatchCollection MatchKind = "collection"

	// MatchContains matches keys with any segment containing the value.
	MatchContains MatchKind = "contains"

	// MatchPrefix matches keys starting with Prefix.
	MatchPrefix MatchKind = "prefix"
)

// MatchRule is a serializable Predicate.
type MatchRule struct {
	Kind   MatchKind `json:"kind"`
	Value  string    `json:"value,omitempty"`
	Prefix QueryKey  `json:"prefix,omitempty"`
}

// CollectionRule matches ["/api/products"], ["/api/products?limit=10"],
// ["/api/products/7"] and ["/api/products", ...] for collection "/api/products".
func CollectionRule(collection string) MatchRule {
	return MatchRule{Kind: MatchCollection, Value: collection}
}

// ContainsRule matches keys with a segment containing substr.
func ContainsRule(substr string) MatchRule {
	return MatchRule{Kind: MatchContains, Value: substr}
}

// PrefixRule matches keys that start with prefix.
func PrefixRule(prefix QueryKey) MatchRule {
	return MatchRule{Kind: MatchPrefix, Prefix: prefix}
}

// Match implements Predicate. Unknown kinds and empty values match nothing.
func (r MatchRule) Match(key QueryKey) bool {
	switch r.Kind {
	case MatchCollection:
		if r.Value == "" || len(key) == 0 || key[0].IsNumber() {
			return false
		}
		first := key[0].String()
		if first == r.Value {
			return true
		}
		rest, ok := strings.CutPrefix(first, r.Value)
		if !ok {
			return false
		}
		// A collection ending in "/" is a path root such as "/".
		return strings.HasSuffix(r.Value, "/") || rest[0] == '?' || rest[0] == '/'
	case MatchContains:
		if r.Value == "" {
			return false
		}
		for _, s := range key {
			if strings.Contains(s.String(), r.Value) {
				return true
			}
		}
		return false
	case MatchPrefix:
		return key.HasPrefix(r.Prefix)
	default:
		return false
	}
}

// Action is the kind of synchronization event.
type Action string

const (
	// Invalidate marks a single key stale.
	Invalidate Action = "invalidate"

	// InvalidateMatch marks every key matching Rule stale.
	InvalidateMatch Action = "invalidate_match"

	// Remove drops a single key.
	Remove Action = "remove"

	// Clear drops every key.
	Clear Action = "clear"
)

// InvalidationEvent is published to other instances so they apply the same
// staleness changes to their local index.
type InvalidationEvent struct {
	Key    QueryKey   `json:"key,omitempty"`
	Rule   *MatchRule `json:"rule,omitempty"`
	Sender string     `json:"sender"`
	Action Action     `json:"action"`
}
