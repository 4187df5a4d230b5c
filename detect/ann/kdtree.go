package ann

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/spatial/kdtree"

	"github.com/prudodetect/objdetect/detect/descriptor"
)

// KDTree is the default ANN backend for float descriptors: a full rebuild
// over the indexed set on every Build call. The Vocabulary only calls
// Build once per update(), so the O(N log N) rebuild cost is amortized
// over every query made against that generation of the index.
type KDTree struct {
	tree *kdtree.Tree
	dim  int
	n    int
}

func NewKDTree() *KDTree { return &KDTree{} }

// row is one indexed descriptor, implementing kdtree.Comparable. Distance
// returns squared Euclidean distance, since kdtree.NewNKeeper compares
// radii in squared units and a sqrt per comparison would be wasted work.
type row struct {
	vec []float32
	idx int
}

func (r row) Compare(c kdtree.Comparable, d kdtree.Dim) float64 {
	return float64(r.vec[d]) - float64(c.(row).vec[d])
}

func (r row) Dims() int { return len(r.vec) }

func (r row) Distance(c kdtree.Comparable) float64 {
	o := c.(row)
	var sum float64
	for i := range r.vec {
		diff := float64(r.vec[i]) - float64(o.vec[i])
		sum += diff * diff
	}
	return sum
}

// rows implements kdtree.Interface over a mutable slice of row. Pivot uses
// a full sort (rather than a median-of-medians partition) by the requested
// dimension: the kdtree.Interface contract only requires the list be
// partitioned around the returned index, and a full sort trivially
// satisfies that at the cost of an extra log factor per tree level.
type rows []row

func (r rows) Index(i int) kdtree.Comparable { return r[i] }
func (r rows) Len() int                      { return len(r) }

func (r rows) Pivot(d kdtree.Dim) int {
	sort.Slice(r, func(i, j int) bool { return r[i].vec[d] < r[j].vec[d] })
	return len(r) / 2
}

func (r rows) Slice(start, end int) kdtree.Interface { return r[start:end] }

func (k *KDTree) Build(data descriptor.Matrix) error {
	if data.Empty() {
		k.tree = nil
		k.n = 0
		return nil
	}
	k.dim = data.Cols
	k.n = data.Rows
	rs := make(rows, data.Rows)
	for i := 0; i < data.Rows; i++ {
		rs[i] = row{vec: data.RowF32(i), idx: i}
	}
	k.tree = kdtree.New(rs, false)
	return nil
}

func (k *KDTree) KNN(_ []byte, queryF32 []float32, kNeighbors int) []Result {
	if k.tree == nil || k.n == 0 {
		return nil
	}
	keeper := kdtree.NewNKeeper(kNeighbors)
	k.tree.NearestSet(keeper, row{vec: queryF32, idx: -1})

	found := make([]Result, 0, len(keeper.Heap))
	for _, item := range keeper.Heap {
		r, ok := item.Comparable.(row)
		if !ok {
			continue
		}
		found = append(found, Result{Index: r.idx, Distance: math.Sqrt(item.Dist)})
	}
	sort.Slice(found, func(i, j int) bool { return found[i].Distance < found[j].Distance })

	// Pad with -1 sentinels when k exceeds the indexed set size.
	for len(found) < kNeighbors {
		found = append(found, Result{Index: -1, Distance: math.Inf(1)})
	}
	return found
}
