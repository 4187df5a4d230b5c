// Package homography implements the per-object RANSAC/LMedS fit plus a
// multi-predicate rejection state machine: each worker receives one
// object's surviving correspondences and returns zero or more Detections,
// looping on the outlier set when a fit is rejected as Superposed so a
// second instance of the same object can still be found.
package homography

import (
	"github.com/RoaringBitmap/roaring"

	"github.com/prudodetect/objdetect/detect/geom"
)

// RejectedCode enumerates the validator's outcomes.
type RejectedCode int

const (
	Undef RejectedCode = iota
	LowMatches
	LowInliers
	AllInliers
	NotValid
	ByAngle
	Superposed
	CornersOutside
)

func (c RejectedCode) String() string {
	switch c {
	case Undef:
		return "Undef"
	case LowMatches:
		return "LowMatches"
	case LowInliers:
		return "LowInliers"
	case AllInliers:
		return "AllInliers"
	case NotValid:
		return "NotValid"
	case ByAngle:
		return "ByAngle"
	case Superposed:
		return "Superposed"
	case CornersOutside:
		return "CornersOutside"
	default:
		return "Unknown"
	}
}

// Config gates the validator's predicate chain.
type Config struct {
	Method               geom.Method
	ReprojThreshold      float64
	MinInliers           int
	IgnoreWhenAllInliers bool
	MinAngleDegrees      float64
	AllCornersVisible    bool
	MultiDetection       bool
	MultiDetectionRadius float64
}

// Correspondence pairs one object-plane point with its matched scene-plane
// point, in the units EstimateHomography expects.
type Correspondence struct {
	ObjPoint   geom.Point2D
	ScenePoint geom.Point2D
	// MatchIndex is the caller's own index for this correspondence (e.g. an
	// index into a matcher.Match slice), carried through so Detection's
	// inlier/outlier bitmaps can be mapped back by the caller.
	MatchIndex int
}

// Detection is one object instance's outcome: either an accepted transform
// with its inlier/outlier partition, or a RejectedCode explaining why no
// transform was accepted for the remaining candidate set.
type Detection struct {
	ObjectID uint32
	H        geom.Matrix3x3
	Inliers  *roaring.Bitmap
	Outliers *roaring.Bitmap
	Rejected RejectedCode
}

// Accepted reports whether this Detection represents a validated transform.
func (d Detection) Accepted() bool { return d.Rejected == Undef }

// Detect runs the fit/validate loop for one object's correspondences,
// producing one or more Detections via an ordered predicate chain:
// LowMatches, AllInliers, NotValid, ByAngle, Superposed, CornersOutside,
// LowInliers, else accepted. When cfg.MultiDetection is set, a Superposed
// rejection re-queues the fit's outliers as a fresh candidate set for the
// same object rather than terminating the loop, so a second
// non-overlapping instance can still be found.
func Detect(objectID uint32, corrs []Correspondence, objW, objH, sceneW, sceneH float64, cfg Config) []Detection {
	var results []Detection
	var acceptedTransforms []geom.Matrix3x3

	active := make([]int, len(corrs))
	for i := range active {
		active[i] = i
	}

	for {
		if len(active) < cfg.MinInliers {
			if len(results) == 0 {
				results = append(results, Detection{ObjectID: objectID, Rejected: LowMatches})
			}
			return results
		}

		src := make([]geom.Point2D, len(active))
		dst := make([]geom.Point2D, len(active))
		for j, idx := range active {
			src[j] = corrs[idx].ObjPoint
			dst[j] = corrs[idx].ScenePoint
		}

		H, mask, err := geom.EstimateHomography(src, dst, cfg.Method, cfg.ReprojThreshold)
		if err != nil {
			if len(results) == 0 {
				results = append(results, Detection{ObjectID: objectID, Rejected: LowMatches})
			}
			return results
		}

		var inlierLocal, outlierLocal []int
		for j, ok := range mask {
			if ok {
				inlierLocal = append(inlierLocal, active[j])
			} else {
				outlierLocal = append(outlierLocal, active[j])
			}
		}

		if len(outlierLocal) == 0 && (cfg.IgnoreWhenAllInliers || H.NonZeroCount() < 1) {
			results = append(results, Detection{ObjectID: objectID, Rejected: AllInliers})
			return results
		}

		corners := geom.ApplyToRectCorners(H, objW, objH)
		if cornersOutsideLooseBounds(corners, sceneW, sceneH) {
			results = append(results, Detection{ObjectID: objectID, Rejected: NotValid})
			return results
		}

		if anglesOutOfRange(geom.QuadInteriorAngles(corners), cfg.MinAngleDegrees) {
			results = append(results, Detection{ObjectID: objectID, Rejected: ByAngle})
			return results
		}

		if cfg.MultiDetection && isSuperposed(H, acceptedTransforms, cfg.MultiDetectionRadius) {
			results = append(results, Detection{ObjectID: objectID, Rejected: Superposed})
			if len(outlierLocal) == 0 {
				return results
			}
			active = outlierLocal
			continue
		}

		if cfg.AllCornersVisible && cornersOutsideSceneRect(corners, sceneW, sceneH) {
			results = append(results, Detection{ObjectID: objectID, Rejected: CornersOutside})
			return results
		}

		if len(inlierLocal) < cfg.MinInliers {
			results = append(results, Detection{ObjectID: objectID, Rejected: LowInliers})
			return results
		}

		det := Detection{
			ObjectID: objectID,
			H:        H,
			Inliers:  toBitmap(corrs, inlierLocal),
			Outliers: toBitmap(corrs, outlierLocal),
			Rejected: Undef,
		}
		results = append(results, det)
		acceptedTransforms = append(acceptedTransforms, H)

		if !cfg.MultiDetection || len(outlierLocal) < cfg.MinInliers {
			return results
		}
		active = outlierLocal
	}
}

func toBitmap(corrs []Correspondence, localIdx []int) *roaring.Bitmap {
	bm := roaring.New()
	for _, idx := range localIdx {
		bm.Add(uint32(corrs[idx].MatchIndex))
	}
	return bm
}

// cornersOutsideLooseBounds is the "NotValid" predicate: any transformed
// object corner falling outside [-W, 2W] x [-H, 2H] signals a degenerate
// fit rather than a legitimately out-of-frame placement.
func cornersOutsideLooseBounds(corners [4]geom.Point2D, sceneW, sceneH float64) bool {
	for _, c := range corners {
		if c.X < -sceneW || c.X > 2*sceneW || c.Y < -sceneH || c.Y > 2*sceneH {
			return true
		}
	}
	return false
}

// cornersOutsideSceneRect is the "CornersOutside" predicate, gated by
// cfg.AllCornersVisible: every corner must land within [0,W] x [0,H].
func cornersOutsideSceneRect(corners [4]geom.Point2D, sceneW, sceneH float64) bool {
	for _, c := range corners {
		if c.X < 0 || c.X > sceneW || c.Y < 0 || c.Y > sceneH {
			return true
		}
	}
	return false
}

func anglesOutOfRange(angles [4]float64, minAngle float64) bool {
	for _, a := range angles {
		if a < minAngle || a > 180-minAngle {
			return true
		}
	}
	return false
}

// isSuperposed reports whether H's translation lies within radius of any
// previously accepted transform's translation for the same object.
func isSuperposed(h geom.Matrix3x3, accepted []geom.Matrix3x3, radius float64) bool {
	for _, prior := range accepted {
		if geom.TranslationDistance(h, prior) < radius {
			return true
		}
	}
	return false
}
