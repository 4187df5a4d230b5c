package geom

import (
	"errors"
	"math"
	"math/rand"
	"sort"

	"gonum.org/v1/gonum/mat"
)

// Method selects the robust estimator used by EstimateHomography: RANSAC
// or least-median-of-squares.
type Method int

const (
	MethodRANSAC Method = iota
	MethodLMedS
)

const (
	minSamplePoints = 4
	ransacIterations = 500
)

var errTooFewPoints = errors.New("geom: need at least 4 correspondences to estimate a homography")

// EstimateHomography fits a homography mapping src -> dst using a robust
// estimator, returning the fitted transform and a per-correspondence
// inlier mask. The sampling RNG is seeded deterministically so results are
// reproducible across runs with the same input.
func EstimateHomography(src, dst []Point2D, method Method, reprojThreshold float64) (Matrix3x3, []bool, error) {
	n := len(src)
	if n != len(dst) || n < minSamplePoints {
		return Matrix3x3{}, nil, errTooFewPoints
	}

	rng := rand.New(rand.NewSource(42))
	sampler := newIndexSampler(n)

	var bestH Matrix3x3
	bestScore := math.Inf(-1)
	bestMedian := math.Inf(1)
	found := false

	for iter := 0; iter < ransacIterations; iter++ {
		idx := sampler.sample(rng, minSamplePoints)
		sampleSrc := gather(src, idx)
		sampleDst := gather(dst, idx)

		h, ok := fitDLT(sampleSrc, sampleDst)
		if !ok {
			continue
		}

		residuals := reprojectionErrors(h, src, dst)

		switch method {
		case MethodLMedS:
			median := medianOf(residuals)
			if median < bestMedian {
				bestMedian = median
				bestH = h
				found = true
			}
		default:
			score := 0.0
			for _, r := range residuals {
				if r < reprojThreshold {
					score++
				}
			}
			if score > bestScore {
				bestScore = score
				bestH = h
				found = true
			}
		}
	}

	if !found {
		return Matrix3x3{}, nil, errTooFewPoints
	}

	// Refine using all inliers of the best model, the same way OpenCV-style
	// robust estimators re-fit on the consensus set.
	residuals := reprojectionErrors(bestH, src, dst)
	mask := make([]bool, n)
	var inSrc, inDst []Point2D
	for i, r := range residuals {
		if r < reprojThreshold {
			mask[i] = true
			inSrc = append(inSrc, src[i])
			inDst = append(inDst, dst[i])
		}
	}
	if len(inSrc) >= minSamplePoints {
		if refined, ok := fitDLT(inSrc, inDst); ok {
			bestH = refined
		}
	}

	return bestH, mask, nil
}

// indexSampler draws distinct index subsets from [0, n) repeatedly via a
// partial Fisher-Yates shuffle, reusing one identity-initialized pool
// across calls instead of materializing a fresh permutation of n on every
// RANSAC iteration. Each sample touches only its k swapped slots and undoes
// them before returning, so the pool is always identity-ordered going into
// the next sample.
type indexSampler struct {
	pool []int
}

func newIndexSampler(n int) *indexSampler {
	pool := make([]int, n)
	for i := range pool {
		pool[i] = i
	}
	return &indexSampler{pool: pool}
}

func (s *indexSampler) sample(rng *rand.Rand, k int) []int {
	n := len(s.pool)
	swaps := make([]int, k)
	for i := 0; i < k; i++ {
		j := i + rng.Intn(n-i)
		swaps[i] = j
		s.pool[i], s.pool[j] = s.pool[j], s.pool[i]
	}

	out := append([]int(nil), s.pool[:k]...)

	// Swaps are self-inverse: replaying them in reverse order restores the
	// pool to identity order for the next call.
	for i := k - 1; i >= 0; i-- {
		j := swaps[i]
		s.pool[i], s.pool[j] = s.pool[j], s.pool[i]
	}
	return out
}

func gather(points []Point2D, idx []int) []Point2D {
	out := make([]Point2D, len(idx))
	for i, j := range idx {
		out[i] = points[j]
	}
	return out
}

func medianOf(values []float64) float64 {
	sorted := append([]float64{}, values...)
	sort.Float64s(sorted)
	n := len(sorted)
	if n == 0 {
		return math.Inf(1)
	}
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

func reprojectionErrors(h Matrix3x3, src, dst []Point2D) []float64 {
	out := make([]float64, len(src))
	for i := range src {
		p := h.Apply(src[i])
		out[i] = math.Hypot(p.X-dst[i].X, p.Y-dst[i].Y)
	}
	return out
}

// fitDLT fits a homography via normalized direct linear transform: builds
// the 2n x 9 design matrix and takes the right singular vector with the
// smallest singular value as the solution.
func fitDLT(src, dst []Point2D) (Matrix3x3, bool) {
	n := len(src)
	if n < minSamplePoints {
		return Matrix3x3{}, false
	}

	srcN, srcT := normalizePoints(src)
	dstN, dstT := normalizePoints(dst)

	a := mat.NewDense(2*n, 9, nil)
	for i := 0; i < n; i++ {
		x, y := srcN[i].X, srcN[i].Y
		u, v := dstN[i].X, dstN[i].Y
		a.SetRow(2*i, []float64{-x, -y, -1, 0, 0, 0, u * x, u * y, u})
		a.SetRow(2*i+1, []float64{0, 0, 0, -x, -y, -1, v * x, v * y, v})
	}

	var svd mat.SVD
	if !svd.Factorize(a, mat.SVDFull) {
		return Matrix3x3{}, false
	}
	var v mat.Dense
	svd.VTo(&v)

	col := 8
	var h Matrix3x3
	for i := 0; i < 9; i++ {
		h[i] = v.At(i, col)
	}

	// Denormalize: H = dstT^-1 * H_normalized * srcT
	hDen := denormalize(h, srcT, dstT)
	if hDen.At(2, 2) != 0 {
		scale := hDen.At(2, 2)
		for i := range hDen {
			hDen[i] /= scale
		}
	}
	return hDen, true
}

// normalizePoints translates/scales points so their centroid is the origin
// and their average distance to the origin is sqrt(2), the standard
// conditioning step for a numerically stable DLT fit. Returns the
// normalized points and the 3x3 similarity transform used.
func normalizePoints(points []Point2D) ([]Point2D, Matrix3x3) {
	n := float64(len(points))
	var cx, cy float64
	for _, p := range points {
		cx += p.X
		cy += p.Y
	}
	cx /= n
	cy /= n

	var meanDist float64
	for _, p := range points {
		meanDist += math.Hypot(p.X-cx, p.Y-cy)
	}
	meanDist /= n
	if meanDist == 0 {
		meanDist = 1
	}
	scale := math.Sqrt2 / meanDist

	t := Matrix3x3{
		scale, 0, -scale * cx,
		0, scale, -scale * cy,
		0, 0, 1,
	}

	out := make([]Point2D, len(points))
	for i, p := range points {
		out[i] = Point2D{X: scale * (p.X - cx), Y: scale * (p.Y - cy)}
	}
	return out, t
}

func invert3x3(m Matrix3x3) Matrix3x3 {
	a, b, c := m.At(0, 0), m.At(0, 1), m.At(0, 2)
	d, e, f := m.At(1, 0), m.At(1, 1), m.At(1, 2)
	g, h, i := m.At(2, 0), m.At(2, 1), m.At(2, 2)

	det := a*(e*i-f*h) - b*(d*i-f*g) + c*(d*h-e*g)
	if det == 0 {
		return Matrix3x3{1, 0, 0, 0, 1, 0, 0, 0, 1}
	}
	invDet := 1 / det
	return Matrix3x3{
		(e*i - f*h) * invDet, (c*h - b*i) * invDet, (b*f - c*e) * invDet,
		(f*g - d*i) * invDet, (a*i - c*g) * invDet, (c*d - a*f) * invDet,
		(d*h - e*g) * invDet, (b*g - a*h) * invDet, (a*e - b*d) * invDet,
	}
}

func multiply3x3(a, b Matrix3x3) Matrix3x3 {
	var out Matrix3x3
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			var sum float64
			for k := 0; k < 3; k++ {
				sum += a.At(r, k) * b.At(k, c)
			}
			out[r*3+c] = sum
		}
	}
	return out
}

func denormalize(hNorm Matrix3x3, srcT, dstT Matrix3x3) Matrix3x3 {
	dstTInv := invert3x3(dstT)
	return multiply3x3(multiply3x3(dstTInv, hNorm), srcT)
}
