// Package descriptor implements the tagged dense matrix type that holds
// keypoint descriptors, dispatching between a binary (Hamming-space) and a
// float (Euclidean-space) element variant at the type boundary.
package descriptor

import "fmt"

// ElemType discriminates the descriptor element storage: binary
// descriptors (ORB/BRIEF/BRISK, uint8 rows compared by Hamming distance)
// vs. float descriptors (SIFT/SURF-style, compared by L1/L2).
type ElemType int

const (
	Uint8 ElemType = iota
	Float32
)

func (t ElemType) String() string {
	switch t {
	case Uint8:
		return "uint8"
	case Float32:
		return "float32"
	default:
		return "unknown"
	}
}

// Matrix is a dense, row-major (N, D) descriptor matrix sharing a single
// element type: every descriptor participating in one vocabulary must
// share (D, T).
type Matrix struct {
	Elem ElemType
	Rows int
	Cols int
	u8   []uint8
	f32  []float32
}

// NewUint8Matrix wraps a flat row-major uint8 buffer of shape (rows, cols).
func NewUint8Matrix(rows, cols int, data []uint8) Matrix {
	return Matrix{Elem: Uint8, Rows: rows, Cols: cols, u8: data}
}

// NewFloat32Matrix wraps a flat row-major float32 buffer of shape (rows, cols).
func NewFloat32Matrix(rows, cols int, data []float32) Matrix {
	return Matrix{Elem: Float32, Rows: rows, Cols: cols, f32: data}
}

// Empty reports whether the matrix has no rows.
func (m Matrix) Empty() bool { return m.Rows == 0 }

// SameShape reports whether two matrices share (Cols, ElemType), the
// precondition for concatenation, search, and NNDR comparisons.
func (m Matrix) SameShape(o Matrix) bool {
	return m.Elem == o.Elem && m.Cols == o.Cols
}

// RowU8 returns the ith row of a Uint8 matrix. Panics if the matrix is not
// Uint8-typed or i is out of range; both are programmer errors, not
// runtime conditions.
func (m Matrix) RowU8(i int) []uint8 {
	if m.Elem != Uint8 {
		panic(fmt.Sprintf("descriptor: RowU8 called on %s matrix", m.Elem))
	}
	return m.u8[i*m.Cols : (i+1)*m.Cols]
}

// RowF32 returns the ith row of a Float32 matrix.
func (m Matrix) RowF32(i int) []float32 {
	if m.Elem != Float32 {
		panic(fmt.Sprintf("descriptor: RowF32 called on %s matrix", m.Elem))
	}
	return m.f32[i*m.Cols : (i+1)*m.Cols]
}

// Slice returns the half-open row range [start, end) as a new Matrix
// sharing the same backing array.
func (m Matrix) Slice(start, end int) Matrix {
	out := Matrix{Elem: m.Elem, Rows: end - start, Cols: m.Cols}
	switch m.Elem {
	case Uint8:
		out.u8 = m.u8[start*m.Cols : end*m.Cols]
	case Float32:
		out.f32 = m.f32[start*m.Cols : end*m.Cols]
	}
	return out
}

// Append concatenates o's rows after m's, returning a new Matrix. Both
// inputs must share (Cols, ElemType); the empty Matrix appends as identity.
func (m Matrix) Append(o Matrix) (Matrix, error) {
	if m.Empty() {
		return o, nil
	}
	if o.Empty() {
		return m, nil
	}
	if !m.SameShape(o) {
		return Matrix{}, fmt.Errorf("descriptor: cannot append %s(cols=%d) to %s(cols=%d)",
			o.Elem, o.Cols, m.Elem, m.Cols)
	}
	out := Matrix{Elem: m.Elem, Rows: m.Rows + o.Rows, Cols: m.Cols}
	switch m.Elem {
	case Uint8:
		out.u8 = append(append([]uint8{}, m.u8...), o.u8...)
	case Float32:
		out.f32 = append(append([]float32{}, m.f32...), o.f32...)
	}
	return out, nil
}
