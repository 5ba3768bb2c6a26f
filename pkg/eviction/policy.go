// Eviction policies decide which entry leaves a cache instance once it grows past its capacity.
// Policy names double as the leaf directory names of the on-disk layout, so they must never change.

package eviction

import (
	"fmt"
	"slices"
	"strings"
)

type Policy string

const (
	None                Policy = "none"                  // Unbounded growth; cleanup is manual.
	LeastRecentlyStored Policy = "least-recently-stored" // FIFO on write time.
	LeastRecentlyUsed   Policy = "least-recently-used"   // Every fetch or store promotes recency.
	LeastFrequentlyUsed Policy = "least-frequently-used" // Every fetch increments the access counter.
)

// Policies lists every supported policy.
func Policies() []Policy {
	return []Policy{None, LeastRecentlyStored, LeastRecentlyUsed, LeastFrequentlyUsed}
}

var policyAliases = map[string]Policy{
	"fifo": LeastRecentlyStored,
	"lrs":  LeastRecentlyStored,
	"lru":  LeastRecentlyUsed,
	"lfu":  LeastFrequentlyUsed,
}

// ParsePolicy accepts canonical names, their upper snake case form (LEAST_RECENTLY_USED) and short aliases (lru).
func ParsePolicy(name string) (Policy, error) {
	normalized := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), "_", "-")
	if alias, found := policyAliases[normalized]; found {
		return alias, nil
	}
	for _, policy := range Policies() {
		if string(policy) == normalized {
			return policy, nil
		}
	}
	return "", fmt.Errorf("unknown eviction policy %q", name)
}

// Valid reports whether p is the canonical name of a supported policy.
func (p Policy) Valid() bool {
	return slices.Contains(Policies(), p)
}

func (p Policy) String() string {
	return string(p)
}
