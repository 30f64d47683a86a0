package vexel

import "fmt"

// Bounds-checked access helpers. Every decoder routes index, range and
// key lookups that come from file content through these instead of
// trusting declared lengths; the returned errors name the offending
// value and the actual bound.

// getAt returns s[i], or an error naming i and len(s).
func getAt[T any](s []T, i int) (T, error) {
	if i < 0 || i >= len(s) {
		var zero T

		return zero, fmt.Errorf("index %d out of range for length %d: %w", i, len(s), ErrBounds)
	}

	return s[i], nil
}

// getRange returns s[from:to], or an error naming the range and len(s).
func getRange[T any](s []T, from, to int) ([]T, error) {
	if from < 0 || from > to || to > len(s) {
		return nil, fmt.Errorf("range [%d:%d] out of range for length %d: %w", from, to, len(s), ErrBounds)
	}

	return s[from:to], nil
}

// getKey returns m[k], or an error naming the missing key.
func getKey[K comparable, V any](m map[K]V, k K) (V, error) {
	v, ok := m[k]
	if !ok {
		return v, fmt.Errorf("key %v not present: %w", k, ErrMissingKey)
	}

	return v, nil
}
