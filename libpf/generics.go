// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package libpf // import "go.opentelemetry.io/rejit/libpf"

// Set is a convenience alias for a map with a `Void` key.
type Set[T comparable] map[T]Void

// MapKeysToSlice creates a slice from a map's keys.
func MapKeysToSlice[K comparable, V any](m map[K]V) []K {
	slice := make([]K, 0, len(m))
	for key := range m {
		slice = append(slice, key)
	}
	return slice
}

// SliceToSet creates a set from a slice, deduplicating it.
func SliceToSet[T comparable](s []T) Set[T] {
	set := make(map[T]Void, len(s))
	for _, item := range s {
		set[item] = Void{}
	}
	return set
}
