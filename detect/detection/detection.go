// Package detection implements the orchestrator that drives the full
// pipeline: grayscale conversion, scene keypoint extraction, a
// vocabulary/object consistency check, mode-dependent vocabulary rebuild,
// matching dispatch, and homography validation, all assembled into a
// DetectionInfo result.
package detection

import (
	"context"
	"time"

	"github.com/prudodetect/objdetect/detect/assertx"
	"github.com/prudodetect/objdetect/detect/config"
	"github.com/prudodetect/objdetect/detect/descriptor"
	"github.com/prudodetect/objdetect/detect/detectlog"
	"github.com/prudodetect/objdetect/detect/geom"
	"github.com/prudodetect/objdetect/detect/homography"
	"github.com/prudodetect/objdetect/detect/matcher"
	"github.com/prudodetect/objdetect/detect/registry"
	"github.com/prudodetect/objdetect/detect/signature"
	"github.com/prudodetect/objdetect/detect/vocabulary"
	"github.com/prudodetect/objdetect/detect/wavepool"
)

// GrayscaleConverter is the optional step-1 collaborator: convert the input
// to single-channel 8-bit luminance. Image decoding and pixel formats are
// out of scope here, so the orchestrator only calls this hook when one is
// configured.
type GrayscaleConverter interface {
	ToGrayscale(img registry.Image) (registry.Image, error)
}

// DetectionInfo is the per-call result bundle.
type DetectionInfo struct {
	SceneKeypoints   []signature.Keypoint
	SceneDescriptors descriptor.Matrix

	Matches     map[uint32][]matcher.Match
	MinDistance float64
	MaxDistance float64
	HasDistance bool

	Detections []homography.Detection

	Timings map[string]time.Duration

	Success bool
	Warning string
}

// accepted reports whether any object instance was validated.
func (info DetectionInfo) accepted() bool {
	for _, d := range info.Detections {
		if d.Accepted() {
			return true
		}
	}
	return false
}

// Orchestrator wires the Vocabulary, Registry, Matcher, and Homography
// stages together.
type Orchestrator struct {
	Registry   *registry.Registry
	Vocabulary *vocabulary.Vocabulary
	Extractor  registry.FeatureExtractor
	Grayscale  GrayscaleConverter
	Config     config.DetectorConfig
	Assert     *assertx.Handler

	// OnObjectsFound fires an outbound event: invoked when at least one
	// object was detected, or unconditionally when SendNoObjDetectedEvents
	// is set. No event bus dependency is introduced; this is the seam a
	// caller wires into whatever bus they use.
	OnObjectsFound func(DetectionInfo)
}

// New assembles an Orchestrator and its collaborators from one
// DetectorConfig: a shared assert handler, a registry whose monotonic id
// generator starts at general.nextObjID, and a vocabulary whose ANN
// backend and NNDR parameters come from the ann/nearestNeighbor/feature2d
// sections. Grayscale and OnObjectsFound are optional and left for the
// caller to set.
func New(cfg config.DetectorConfig, extractor registry.FeatureExtractor) *Orchestrator {
	assertHandler := assertx.NewHandler()
	reg := registry.New(assertHandler)
	reg.SeedNextID(cfg.General.NextObjID)
	vocab := vocabulary.New(vocabulary.Config{
		IndexKind: cfg.ANN.IndexParams.Kind,
		Distance:  cfg.ANN.DistanceType,
		NNDRRatio: cfg.NearestNeighbor.NNDRRatio,
		ORBWTAK:   cfg.Feature2D.ORBWTAK,
	}, assertHandler)
	return &Orchestrator{
		Registry:   reg,
		Vocabulary: vocab,
		Extractor:  extractor,
		Config:     cfg,
		Assert:     assertHandler,
	}
}

// Detect runs the full six-step pipeline over one scene image. sceneRect is
// the scene's own (W, H) bounding box, needed by the homography
// validator's corner-bounds predicates.
func (o *Orchestrator) Detect(scene registry.Image, sceneRect signature.Rect) (DetectionInfo, error) {
	log := detectlog.Component("orchestrator")
	info := DetectionInfo{
		Matches: make(map[uint32][]matcher.Match),
		Timings: make(map[string]time.Duration),
	}

	totalStart := time.Now()
	defer func() { info.Timings["total"] = time.Since(totalStart) }()

	// Step 1: grayscale conversion, when the caller wired a converter.
	if o.Grayscale != nil {
		converted, err := o.Grayscale.ToGrayscale(scene)
		if err != nil {
			return info, err
		}
		scene = converted
	}

	// Step 2: detect, cap by response, then compute descriptors.
	kpStart := time.Now()
	keypoints, err := o.Extractor.Detect(scene)
	if err != nil {
		return info, err
	}
	keypoints = signature.CapKeypointsByResponse(keypoints, o.Config.Feature2D.MaxFeatures)
	info.Timings["keypoint"] = time.Since(kpStart)

	if len(keypoints) == 0 {
		log.Info().Msg("no scene keypoints detected")
		info.Success = true
		return info, nil
	}

	descStart := time.Now()
	sceneDescriptors, err := o.Extractor.Compute(scene, keypoints)
	if err != nil {
		return info, err
	}
	info.Timings["descriptor"] = time.Since(descStart)

	info.SceneKeypoints = keypoints
	info.SceneDescriptors = sceneDescriptors

	// Step 3: consistency checks.
	if o.Registry.Len() == 0 {
		log.Info().Msg("no objects registered")
		info.Success = true
		return info, nil
	}

	if o.Config.General.InvertedSearch && o.Vocabulary.Size() == 0 {
		log.Warn().Msg("vocabulary not populated for inverted search")
		info.Warning = "vocabulary not populated"
		info.Success = false
		return info, nil
	}

	if elem, cols, ok := o.Registry.DescriptorShape(); ok {
		if sceneDescriptors.Elem != elem || sceneDescriptors.Cols != cols {
			log.Warn().
				Str("sceneType", sceneDescriptors.Elem.String()).
				Str("objectType", elem.String()).
				Msg("scene descriptor type/dimension mismatch against registered objects")
			info.Warning = "descriptor type mismatch"
			info.Success = false
			return info, nil
		}
	}

	pred := matcher.Predicates{
		NNDRUsed:        o.Config.NearestNeighbor.NNDRRatioUsed,
		NNDRRatio:       o.Config.NearestNeighbor.NNDRRatio,
		MinDistanceUsed: o.Config.NearestNeighbor.MinDistanceUsed,
		MinDistance:     o.Config.NearestNeighbor.MinDistance,
	}
	threads := o.Config.General.Threads

	// Step 4 & 5: mode-dependent vocabulary rebuild and matching dispatch.
	var result *matcher.Result
	if o.Config.General.InvertedSearch {
		matchStart := time.Now()
		result, err = matcher.InvertedSearch(sceneDescriptors, o.Vocabulary, o.Registry, pred)
		info.Timings["matching"] = time.Since(matchStart)
	} else {
		idxStart := time.Now()
		o.Vocabulary.Clear()
		words, addErr := o.Vocabulary.AddWords(sceneDescriptors, matcher.SceneObjectID, o.Config.General.VocabularyIncremental)
		if addErr != nil {
			return info, addErr
		}
		// AddWords only ever appends unmatched rows into the not_indexed
		// buffer, incremental or not; Update must always run before Search
		// is legal, regardless of the incremental flag.
		if updErr := o.Vocabulary.Update(); updErr != nil {
			return info, updErr
		}
		info.Timings["indexing"] = time.Since(idxStart)

		matchStart := time.Now()
		result, err = matcher.DirectSearch(words, o.Vocabulary, o.Registry, pred, threads)
		info.Timings["matching"] = time.Since(matchStart)
	}
	if err != nil {
		return info, err
	}

	info.Matches = result.Matches
	info.MinDistance = result.MinDistance
	info.MaxDistance = result.MaxDistance
	info.HasDistance = result.HasDistance

	// Step 6: homography dispatch, one worker per candidate object.
	if o.Config.Homography.Computed {
		homStart := time.Now()
		info.Detections = o.runHomography(result, keypoints, sceneRect, threads)
		info.Timings["homography"] = time.Since(homStart)
	}

	info.Success = true
	if info.accepted() || o.Config.General.SendNoObjDetectedEvents {
		if o.OnObjectsFound != nil {
			o.OnObjectsFound(info)
		}
	}
	return info, nil
}

func homographyMethodToGeom(m config.HomographyMethod) geom.Method {
	if m == config.MethodLMedS {
		return geom.MethodLMedS
	}
	return geom.MethodRANSAC
}

func (o *Orchestrator) runHomography(result *matcher.Result, sceneKeypoints []signature.Keypoint, sceneRect signature.Rect, threads int) []homography.Detection {
	objects := o.Registry.Objects()
	hcfg := homography.Config{
		Method:               homographyMethodToGeom(o.Config.Homography.Method),
		ReprojThreshold:      o.Config.Homography.RansacReprojThr,
		MinInliers:           o.Config.Homography.MinInliers,
		IgnoreWhenAllInliers: o.Config.Homography.IgnoreWhenAllInliers,
		MinAngleDegrees:      o.Config.Homography.MinAngle,
		AllCornersVisible:    o.Config.Homography.AllCornersVisible,
		MultiDetection:       o.Config.General.MultiDetection,
		MultiDetectionRadius: o.Config.General.MultiDetectionRadius,
	}

	perObject := make([][]homography.Detection, len(objects))
	tasks := make([]wavepool.Task, len(objects))
	for idx := range objects {
		idx := idx
		sig := objects[idx]
		tasks[idx] = func(ctx context.Context) error {
			matches := result.Matches[sig.ID]
			corrs := make([]homography.Correspondence, len(matches))
			for i, m := range matches {
				corrs[i] = homography.Correspondence{
					ObjPoint:   geom.Point2D{X: sig.Keypoints[m.ObjKptIdx].X, Y: sig.Keypoints[m.ObjKptIdx].Y},
					ScenePoint: geom.Point2D{X: sceneKeypoints[m.SceneKptIdx].X, Y: sceneKeypoints[m.SceneKptIdx].Y},
					MatchIndex: i,
				}
			}
			perObject[idx] = homography.Detect(sig.ID, corrs, sig.Rect.W, sig.Rect.H, sceneRect.W, sceneRect.H, hcfg)
			return nil
		}
	}

	pool := wavepool.New(threads)
	pool.RunWave(context.Background(), tasks)

	var out []homography.Detection
	for _, dets := range perObject {
		out = append(out, dets...)
	}
	return out
}
