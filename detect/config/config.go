// Package config loads the tunables that gate vocabulary, matching, and
// homography behavior through a Viper-backed settings bundle.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/prudodetect/objdetect/detect/ann"
)

// HomographyMethod selects the robust estimator used to fit H.
type HomographyMethod int

const (
	MethodRANSAC HomographyMethod = iota
	MethodLMedS
)

// HomographyConfig groups the predicates applied by the validator state
// machine.
type HomographyConfig struct {
	Computed             bool              `mapstructure:"computed"`
	MinInliers           int               `mapstructure:"minInliers"`
	RansacReprojThr      float64           `mapstructure:"ransacReprojThr"`
	Method               HomographyMethod  `mapstructure:"-"`
	MethodName           string            `mapstructure:"homographyMethod"`
	IgnoreWhenAllInliers bool              `mapstructure:"ignoreWhenAllInliers"`
	MinAngle             float64           `mapstructure:"minAngle"`
	AllCornersVisible    bool              `mapstructure:"allCornersVisible"`
}

// DetectorConfig is the injected configuration bundle consumed by the core
// pipeline.
type DetectorConfig struct {
	General struct {
		InvertedSearch           bool    `mapstructure:"invertedSearch"`
		VocabularyIncremental    bool    `mapstructure:"vocabularyIncremental"`
		VocabularyUpdateMinWords int     `mapstructure:"vocabularyUpdateMinWords"`
		Threads                  int     `mapstructure:"threads"`
		MultiDetection           bool    `mapstructure:"multiDetection"`
		MultiDetectionRadius     float64 `mapstructure:"multiDetectionRadius"`
		NextObjID                uint32  `mapstructure:"nextObjID"`
		SendNoObjDetectedEvents  bool    `mapstructure:"sendNoObjDetectedEvents"`
	} `mapstructure:"general"`

	NearestNeighbor struct {
		NNDRRatioUsed   bool    `mapstructure:"nndrRatioUsed"`
		NNDRRatio       float64 `mapstructure:"nndrRatio"`
		MinDistanceUsed bool    `mapstructure:"minDistanceUsed"`
		MinDistance     float64 `mapstructure:"minDistance"`
	} `mapstructure:"nearestNeighbor"`

	ANN struct {
		IndexParams  ann.IndexParams  `mapstructure:"flannIndexParams"`
		SearchParams ann.SearchParams `mapstructure:"flannSearchParams"`
		DistanceType ann.DistanceType `mapstructure:"-"`
		DistanceName string           `mapstructure:"flannDistanceType"`
	} `mapstructure:"ann"`

	Feature2D struct {
		MaxFeatures int `mapstructure:"maxFeatures"`
		ORBWTAK     int `mapstructure:"wtaK"`
	} `mapstructure:"feature2d"`

	Homography HomographyConfig `mapstructure:"homography"`
}

var current DetectorConfig

// Load reads configuration from an optional file, then environment
// variables (GENERAL_THREADS, HOMOGRAPHY_MININLIERS, ...) via a `.` -> `_`
// key replacer, and falls back to compiled-in defaults when neither is
// present.
func Load(configPath string) (*DetectorConfig, error) {
	if configPath != "" {
		viper.SetConfigFile(configPath)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigName("detectord")
		viper.SetConfigType("yaml")
	}

	setDefaults()

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			// No config file: defaults and env vars still apply.
		} else {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	if err := viper.Unmarshal(&current); err != nil {
		return nil, fmt.Errorf("unable to decode configuration: %w", err)
	}

	resolveEnums(&current)
	return &current, nil
}

func setDefaults() {
	viper.SetDefault("general.invertedSearch", true)
	viper.SetDefault("general.vocabularyIncremental", false)
	viper.SetDefault("general.vocabularyUpdateMinWords", 100)
	viper.SetDefault("general.threads", 0)
	viper.SetDefault("general.multiDetection", false)
	viper.SetDefault("general.multiDetectionRadius", 50.0)
	viper.SetDefault("general.nextObjID", 1)
	viper.SetDefault("general.sendNoObjDetectedEvents", false)

	viper.SetDefault("nearestNeighbor.nndrRatioUsed", true)
	viper.SetDefault("nearestNeighbor.nndrRatio", 0.8)
	viper.SetDefault("nearestNeighbor.minDistanceUsed", false)
	viper.SetDefault("nearestNeighbor.minDistance", 50.0)

	viper.SetDefault("ann.flannDistanceType", "l2")

	viper.SetDefault("feature2d.maxFeatures", 400)
	viper.SetDefault("feature2d.wtaK", 2)

	viper.SetDefault("homography.computed", true)
	viper.SetDefault("homography.minInliers", 10)
	viper.SetDefault("homography.ransacReprojThr", 3.0)
	viper.SetDefault("homography.homographyMethod", "ransac")
	viper.SetDefault("homography.ignoreWhenAllInliers", true)
	viper.SetDefault("homography.minAngle", 10.0)
	viper.SetDefault("homography.allCornersVisible", false)
}

func resolveEnums(c *DetectorConfig) {
	switch strings.ToLower(c.Homography.MethodName) {
	case "lmeds":
		c.Homography.Method = MethodLMedS
	default:
		c.Homography.Method = MethodRANSAC
	}

	switch strings.ToLower(c.ANN.DistanceName) {
	case "l1":
		c.ANN.DistanceType = ann.DistanceL1
	case "hamming":
		c.ANN.DistanceType = ann.DistanceHamming
	case "hamming2":
		c.ANN.DistanceType = ann.DistanceHamming2
	default:
		c.ANN.DistanceType = ann.DistanceL2
	}
}

// Default returns a DetectorConfig populated purely from the compiled-in
// defaults, bypassing Viper. Useful for unit tests that don't want to
// touch the process-global viper instance.
func Default() DetectorConfig {
	var c DetectorConfig
	c.General.InvertedSearch = true
	c.General.VocabularyUpdateMinWords = 100
	c.General.MultiDetectionRadius = 50.0
	c.General.NextObjID = 1

	c.NearestNeighbor.NNDRRatioUsed = true
	c.NearestNeighbor.NNDRRatio = 0.8
	c.NearestNeighbor.MinDistance = 50.0

	c.ANN.DistanceType = ann.DistanceL2
	c.ANN.IndexParams = ann.IndexParams{Kind: ann.KindKDTree}
	c.ANN.SearchParams = ann.SearchParams{Checks: 32}

	c.Feature2D.MaxFeatures = 400
	c.Feature2D.ORBWTAK = 2

	c.Homography.Computed = true
	c.Homography.MinInliers = 10
	c.Homography.RansacReprojThr = 3.0
	c.Homography.Method = MethodRANSAC
	c.Homography.IgnoreWhenAllInliers = true
	c.Homography.MinAngle = 10.0
	return c
}
