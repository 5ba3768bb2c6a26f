// Namespace listings can be narrowed down with glob patterns on the computation identity.

package manager

import (
	"fmt"
	"iter"

	"v.io/v23/glob"
)

// matchGlob keeps the namespaces whose identity matches `pattern`. An empty pattern matches everything.
func matchGlob(pattern string, namespaces iter.Seq[Namespace]) (iter.Seq[Namespace], error) {
	if pattern == "" {
		return namespaces, nil
	}
	parsedPattern, err := glob.Parse(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid glob pattern %q: %w", pattern, err)
	}
	return func(yield func(Namespace) bool) {
		for namespace := range namespaces {
			if parsedPattern.Head().Match(namespace.Identity) {
				if !yield(namespace) {
					return
				}
			}
		}
	}, nil
}
