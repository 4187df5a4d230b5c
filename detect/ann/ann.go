// Package ann provides the pluggable approximate-nearest-neighbor backend
// used by the Vocabulary. Index kind and distance are chosen by
// configuration; a binary descriptor type forces a Hamming-variant backend
// regardless of the configured kind.
package ann

import "github.com/prudodetect/objdetect/detect/descriptor"

// IndexKind selects the ANN data structure.
type IndexKind int

const (
	KindKDTree IndexKind = iota
	KindLinear
)

// IndexParams configures index construction.
type IndexParams struct {
	Kind IndexKind `mapstructure:"kind"`
	// Trees is advisory for multi-tree backends; the kd-tree backend here
	// builds a single balanced tree regardless.
	Trees int `mapstructure:"trees"`
}

// SearchParams configures query-time search effort (flannSearchParams).
type SearchParams struct {
	Checks int `mapstructure:"checks"`
}

// DistanceType selects the metric (flannDistanceType).
type DistanceType int

const (
	DistanceL2 DistanceType = iota
	DistanceL1
	DistanceHamming
	DistanceHamming2
)

// Result is one neighbor hit: its row index in the backend's indexed set
// and the distance to the query, as a float for uniform downstream
// handling even when the underlying metric (Hamming) is integer-valued.
type Result struct {
	Index    int
	Distance float64
}

// Backend is the contract every ANN implementation satisfies. Build
// replaces the indexed set wholesale (the Vocabulary calls it once per
// update()); KNN is read-only and must be safe to call concurrently from
// multiple workers once Build has returned.
type Backend interface {
	Build(data descriptor.Matrix) error
	KNN(query []byte, queryF32 []float32, k int) []Result
}

// New selects a backend for the given element type, distance, and
// requested kind. Uint8 descriptors always get a Hamming-aware linear
// backend: a kd-tree's axis-aligned splits don't model Hamming distance
// well, so the Vocabulary never routes binary descriptors through it.
func New(elem descriptor.ElemType, dist DistanceType, kind IndexKind) Backend {
	if elem == descriptor.Uint8 {
		hamming2 := dist == DistanceHamming2
		return NewLinearHamming(hamming2)
	}
	switch kind {
	case KindKDTree:
		return NewKDTree()
	default:
		return NewLinearFloat(dist)
	}
}
