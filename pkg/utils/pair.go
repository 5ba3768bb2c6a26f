// Nothing to see here in this module. Couldn't find a better place for Pair.

package utils

// Pair holds two related values; bound call arguments are (name, value) pairs for instance.
type Pair[K any, V any] struct {
	Key   K
	Value V
}

// MakePair is a shorthand for constructing a Pair with inferred types.
func MakePair[K any, V any](key K, value V) Pair[K, V] {
	return Pair[K, V]{Key: key, Value: value}
}
