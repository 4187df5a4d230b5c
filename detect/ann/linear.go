package ann

import (
	"math"
	"sort"

	"github.com/prudodetect/objdetect/detect/descriptor"
)

// LinearHamming is a brute-force Hamming/Hamming2 scan over uint8 rows,
// used both as the always-available fallback backend for binary
// descriptors and as the in-call linear index over the Vocabulary's
// not_indexed buffer.
type LinearHamming struct {
	data     descriptor.Matrix
	hamming2 bool
}

func NewLinearHamming(hamming2 bool) *LinearHamming {
	return &LinearHamming{hamming2: hamming2}
}

func (l *LinearHamming) Build(data descriptor.Matrix) error {
	l.data = data
	return nil
}

func (l *LinearHamming) KNN(query []byte, _ []float32, k int) []Result {
	if l.data.Empty() {
		return nil
	}
	dist := descriptor.Hamming
	if l.hamming2 {
		dist = descriptor.Hamming2
	}
	all := make([]Result, l.data.Rows)
	for i := 0; i < l.data.Rows; i++ {
		all[i] = Result{Index: i, Distance: float64(dist(query, l.data.RowU8(i)))}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Distance < all[j].Distance })
	return padTo(all, k)
}

// LinearFloat is a brute-force L1/L2 scan over float32 rows.
type LinearFloat struct {
	data descriptor.Matrix
	dist DistanceType
}

func NewLinearFloat(dist DistanceType) *LinearFloat {
	return &LinearFloat{dist: dist}
}

func (l *LinearFloat) Build(data descriptor.Matrix) error {
	l.data = data
	return nil
}

func (l *LinearFloat) KNN(_ []byte, query []float32, k int) []Result {
	if l.data.Empty() {
		return nil
	}
	all := make([]Result, l.data.Rows)
	for i := 0; i < l.data.Rows; i++ {
		row := l.data.RowF32(i)
		var d float64
		if l.dist == DistanceL1 {
			d = descriptor.L1(query, row)
		} else {
			d = math.Sqrt(descriptor.L2Squared(query, row))
		}
		all[i] = Result{Index: i, Distance: d}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Distance < all[j].Distance })
	return padTo(all, k)
}

func padTo(results []Result, k int) []Result {
	if len(results) > k {
		results = results[:k]
	}
	for len(results) < k {
		results = append(results, Result{Index: -1, Distance: math.Inf(1)})
	}
	return results
}
