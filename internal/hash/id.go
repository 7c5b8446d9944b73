// Package hash derives the 64-bit IDs used to index metric names.
package hash

import "github.com/cespare/xxhash/v2"

// ID computes the xxHash64 of a flattened metric name.
func ID(name string) uint64 {
	return xxhash.Sum64String(name)
}
