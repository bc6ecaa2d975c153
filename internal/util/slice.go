// Package util holds small generic slice helpers shared by the spectrad packages.
package util

// CloneSlice clones slice with cloneSize.
// This function will use src length as the clone size if cloneSize is 0.
func CloneSlice[T any](src []T, cloneSize int) []T {
	if cloneSize == 0 {
		cloneSize = len(src)
	}
	clone := make([]T, cloneSize)
	copy(clone, src)

	return clone
}

// Resize returns a slice of length n backed by s when its capacity allows,
// otherwise a newly allocated slice holding the first elements of s.
func Resize[T any](s []T, n int) []T {
	if n <= cap(s) {
		return s[:n]
	}

	grown := make([]T, n)
	copy(grown, s)

	return grown
}
