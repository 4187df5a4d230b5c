// Package detect is the root namespace for the planar-object detection
// pipeline: an incremental visual vocabulary, scene/object matching, and
// parallel homography verification.
package detect

// Default tunables, mirrored into config.DetectorConfig's viper defaults.
const (
	DefaultAppName = "detectord"

	DefaultVocabularyUpdateMinWords = 100
	DefaultMaxFeatures              = 400
	DefaultThreads                  = 0 // one worker per task
	DefaultNNDRRatio                = 0.8
	DefaultMinDistance              = 50.0
	DefaultHomographyMinInliers     = 10
	DefaultRansacReprojThreshold    = 3.0
	DefaultMinAngle                 = 10.0
	DefaultMultiDetectionRadius     = 50.0
)
