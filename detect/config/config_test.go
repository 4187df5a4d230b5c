package config

import (
	"os"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prudodetect/objdetect/detect/ann"
)

func withTempDir(t *testing.T) {
	t.Helper()
	orig, err := os.Getwd()
	require.NoError(t, err)
	dir := t.TempDir()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(orig) })
	viper.Reset()
}

func TestDefaultMatchesDocumentedDefaults(t *testing.T) {
	c := Default()
	assert.True(t, c.General.InvertedSearch)
	assert.Equal(t, 0.8, c.NearestNeighbor.NNDRRatio)
	assert.Equal(t, 400, c.Feature2D.MaxFeatures)
	assert.Equal(t, 10, c.Homography.MinInliers)
	assert.Equal(t, MethodRANSAC, c.Homography.Method)
	assert.True(t, c.Homography.IgnoreWhenAllInliers)
}

func TestLoadWithoutConfigFileFallsBackToDefaults(t *testing.T) {
	withTempDir(t)

	c, err := Load("")
	require.NoError(t, err)
	assert.True(t, c.General.InvertedSearch)
	assert.Equal(t, 3.0, c.Homography.RansacReprojThr)
	assert.Equal(t, MethodRANSAC, c.Homography.Method)
}

func TestLoadResolvesLMedSMethodName(t *testing.T) {
	withTempDir(t)
	t.Setenv("HOMOGRAPHY_HOMOGRAPHYMETHOD", "lmeds")

	c, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, MethodLMedS, c.Homography.Method)
}

func TestLoadResolvesHammingDistanceName(t *testing.T) {
	withTempDir(t)
	t.Setenv("ANN_FLANNDISTANCETYPE", "hamming2")

	c, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ann.DistanceHamming2, c.ANN.DistanceType)
}
