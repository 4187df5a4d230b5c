package descriptor

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHammingCountsDifferingBits(t *testing.T) {
	a := []uint8{0b1111_0000, 0b0000_0000}
	b := []uint8{0b0000_0000, 0b1111_1111}
	assert.Equal(t, 4+8, Hamming(a, b))
}

func TestHammingIdenticalRowsIsZero(t *testing.T) {
	a := []uint8{1, 2, 3}
	assert.Equal(t, 0, Hamming(a, a))
}

func TestHamming2PairsAdjacentBits(t *testing.T) {
	// 0b01 and 0b10 each count as a single mismatched pair under
	// NORM_HAMMING2, unlike plain Hamming which would count 2 bits.
	a := []uint8{0b0100_0000}
	b := []uint8{0b1000_0000}
	assert.Equal(t, 1, Hamming2(a, b))
	assert.Equal(t, 2, Hamming(a, b))
}

func TestL1SumsAbsoluteDifferences(t *testing.T) {
	a := []float32{1, -2, 3}
	b := []float32{4, 2, 0}
	assert.InDelta(t, 3+4+3, L1(a, b), 1e-9)
}

func TestL2SquaredSumsSquaredDifferences(t *testing.T) {
	a := []float32{0, 0}
	b := []float32{3, 4}
	assert.InDelta(t, 25.0, L2Squared(a, b), 1e-9)
}
