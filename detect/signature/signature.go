// Package signature implements the per-object keypoint/descriptor bundle
// used to represent one registered object.
package signature

import (
	"sort"

	"github.com/prudodetect/objdetect/detect/descriptor"
)

// Keypoint is one detected local feature, carrying only the fields the
// pipeline needs downstream (response for capping, X/Y for the corner/angle
// geometry the homography validator consumes via the matched descriptor
// rows).
type Keypoint struct {
	X, Y     float64
	Size     float64
	Angle    float64
	Response float64
}

// Rect is an axis-aligned region in image coordinates, in practice the
// object image's own bounding box (0, 0, W, H).
type Rect struct {
	X, Y, W, H float64
}

// Signature is the registry's per-object record: id, source
// filename/rect, keypoints, their descriptors, and the word-id -> local
// keypoint index multimap populated by the vocabulary during
// registration.
type Signature struct {
	ID          uint32
	Filename    string
	Rect        Rect
	Keypoints   []Keypoint
	Descriptors descriptor.Matrix
	Words       map[int][]int
}

// New constructs an empty signature for the given id/filename/rect; callers
// populate Keypoints/Descriptors via SetFeatures once extraction completes.
func New(id uint32, filename string, rect Rect) *Signature {
	return &Signature{
		ID:       id,
		Filename: filename,
		Rect:     rect,
		Words:    make(map[int][]int),
	}
}

// SetFeatures installs the extracted keypoints and their descriptors. Both
// slices/matrix must agree on row count.
func (s *Signature) SetFeatures(keypoints []Keypoint, descriptors descriptor.Matrix) error {
	if len(keypoints) != descriptors.Rows {
		return &featureCountMismatchError{keypoints: len(keypoints), rows: descriptors.Rows}
	}
	s.Keypoints = keypoints
	s.Descriptors = descriptors
	return nil
}

// AddWord records that local keypoint index idx belongs to wordID, building
// up the reverse mapping the matcher consults in inverted mode.
func (s *Signature) AddWord(wordID, idx int) {
	s.Words[wordID] = append(s.Words[wordID], idx)
}

type featureCountMismatchError struct {
	keypoints, rows int
}

func (e *featureCountMismatchError) Error() string {
	return "signature: keypoint count does not match descriptor row count"
}

// topByResponse returns the indices of the top maxFeatures keypoints ranked
// by |response|, restored to original order, shared by both capping
// functions below so their ranking/tie-breaking rule can never drift apart.
func topByResponse(keypoints []Keypoint, maxFeatures int) []int {
	order := make([]int, len(keypoints))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		ra, rb := keypoints[order[a]].Response, keypoints[order[b]].Response
		if ra < 0 {
			ra = -ra
		}
		if rb < 0 {
			rb = -rb
		}
		return ra > rb
	})
	keep := order[:maxFeatures]
	sort.Ints(keep)
	return keep
}

// CapKeypointsByResponse keeps the top maxFeatures keypoints ranked by
// |response|, without touching any descriptors. It runs ahead of
// descriptor computation so descriptors are never computed for keypoints
// that will be discarded. A maxFeatures <= 0 or a keypoint count already within budget
// is a no-op.
func CapKeypointsByResponse(keypoints []Keypoint, maxFeatures int) []Keypoint {
	if maxFeatures <= 0 || len(keypoints) <= maxFeatures {
		return keypoints
	}

	keep := topByResponse(keypoints, maxFeatures)
	kept := make([]Keypoint, len(keep))
	for i, idx := range keep {
		kept[i] = keypoints[idx]
	}
	return kept
}

// CapByResponse keeps the top maxFeatures keypoints ranked by |response|,
// pruning both the keypoint slice and the corresponding descriptor rows in
// lockstep. A maxFeatures <= 0 or a keypoint count already within budget
// is a no-op.
func CapByResponse(keypoints []Keypoint, descriptors descriptor.Matrix, maxFeatures int) ([]Keypoint, descriptor.Matrix) {
	if maxFeatures <= 0 || len(keypoints) <= maxFeatures {
		return keypoints, descriptors
	}

	keep := topByResponse(keypoints, maxFeatures)
	keptKeypoints := make([]Keypoint, len(keep))
	keptDescriptors := make([]descriptor.Matrix, len(keep))
	for i, idx := range keep {
		keptKeypoints[i] = keypoints[idx]
		keptDescriptors[i] = descriptors.Slice(idx, idx+1)
	}

	merged := keptDescriptors[0]
	for _, d := range keptDescriptors[1:] {
		var err error
		merged, err = merged.Append(d)
		if err != nil {
			// Rows share shape by construction (sliced from the same
			// matrix), so this cannot happen.
			panic(err)
		}
	}
	return keptKeypoints, merged
}
