// Package vector provides the append-only similarity index backing long-term
// memory. Vectors are identified by their ordinal position: the first vector
// added is position 0, the next is 1, and positions are never reused.
package vector

import "errors"

// ErrDimensionMismatch is returned when a vector does not match the index dimension.
var ErrDimensionMismatch = errors.New("vector dimension mismatch")

// Hit is a single search result: the ordinal position of a stored vector and
// its squared L2 distance from the query.
type Hit struct {
	Position uint64
	Distance float32
}

// Index is an append-only vector similarity index.
type Index interface {
	// Add appends vec and returns its ordinal position.
	Add(vec []float32) (uint64, error)
	// Search returns up to k nearest hits ordered by ascending distance.
	Search(query []float32, k int) ([]Hit, error)
	// Size returns the number of vectors stored.
	Size() uint64
	// Dimensions returns the vector dimension the index was created with.
	Dimensions() int
	// Save writes a snapshot of the index to path.
	Save(path string) error
}
