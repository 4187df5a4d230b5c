// Package geom implements the planar geometry used by the homography
// worker and validator: robust homography estimation via gonum's linear
// algebra, and the angle/distance helpers the validator's predicate chain
// needs.
package geom

import "math"

// Point2D is a point in image or scene coordinates.
type Point2D struct {
	X, Y float64
}

func (p Point2D) Sub(o Point2D) Point2D { return Point2D{p.X - o.X, p.Y - o.Y} }

// Length returns the Euclidean norm of p treated as a vector.
func (p Point2D) Length() float64 { return math.Hypot(p.X, p.Y) }

// AngleTo returns the angle in degrees between p and o, treated as vectors
// from the origin. The validator uses it to measure the interior angle of
// a transformed quadrilateral at a shared vertex, for the ByAngle rejection
// predicate.
func (p Point2D) AngleTo(o Point2D) float64 {
	dot := p.X*o.X + p.Y*o.Y
	denom := p.Length() * o.Length()
	if denom == 0 {
		return 0
	}
	cos := dot / denom
	if cos > 1 {
		cos = 1
	} else if cos < -1 {
		cos = -1
	}
	return math.Acos(cos) * 180.0 / math.Pi
}

// Matrix3x3 is a row-major 3x3 homogeneous transform.
type Matrix3x3 [9]float64

// At returns the element at (row, col), zero-indexed.
func (m Matrix3x3) At(row, col int) float64 { return m[row*3+col] }

// NonZeroCount reports how many cells are non-zero. It backs the
// validator's "H has fewer than one nonzero cell" degenerate-matrix check
// in the AllInliers rejection predicate.
func (m Matrix3x3) NonZeroCount() int {
	n := 0
	for _, v := range m {
		if v != 0 {
			n++
		}
	}
	return n
}

// Translation returns (m13, m23), the transform's translation component,
// used by the multi-detection "Superposed" predicate.
func (m Matrix3x3) Translation() (float64, float64) {
	return m.At(0, 2), m.At(1, 2)
}

// Apply transforms p by m under perspective division.
func (m Matrix3x3) Apply(p Point2D) Point2D {
	x := m.At(0, 0)*p.X + m.At(0, 1)*p.Y + m.At(0, 2)
	y := m.At(1, 0)*p.X + m.At(1, 1)*p.Y + m.At(1, 2)
	w := m.At(2, 0)*p.X + m.At(2, 1)*p.Y + m.At(2, 2)
	if w == 0 {
		return Point2D{X: math.Inf(1), Y: math.Inf(1)}
	}
	return Point2D{X: x / w, Y: y / w}
}

// ApplyToRectCorners maps the four corners of a (w, h) rectangle, anchored
// at the origin, through m in the order TL, TR, BR, BL, producing the
// quadrilateral the validator's angle and bounds predicates operate on.
func ApplyToRectCorners(m Matrix3x3, w, h float64) [4]Point2D {
	corners := [4]Point2D{{0, 0}, {w, 0}, {w, h}, {0, h}}
	var out [4]Point2D
	for i, c := range corners {
		out[i] = m.Apply(c)
	}
	return out
}

// TranslationDistance is the Euclidean distance between two transforms'
// translation components, used by the Superposed multi-detection rejection
// predicate.
func TranslationDistance(a, b Matrix3x3) float64 {
	ax, ay := a.Translation()
	bx, by := b.Translation()
	return math.Hypot(ax-bx, ay-by)
}

// QuadInteriorAngles returns the four interior angles (degrees) of a
// quadrilateral given in TL, TR, BR, BL order.
func QuadInteriorAngles(q [4]Point2D) [4]float64 {
	var angles [4]float64
	for i := 0; i < 4; i++ {
		prev := q[(i+3)%4]
		cur := q[i]
		next := q[(i+1)%4]
		a := prev.Sub(cur)
		b := next.Sub(cur)
		angles[i] = a.AngleTo(b)
	}
	return angles
}
