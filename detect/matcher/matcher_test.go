package matcher

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prudodetect/objdetect/detect/ann"
	"github.com/prudodetect/objdetect/detect/assertx"
	"github.com/prudodetect/objdetect/detect/descriptor"
	"github.com/prudodetect/objdetect/detect/registry"
	"github.com/prudodetect/objdetect/detect/signature"
	"github.com/prudodetect/objdetect/detect/vocabulary"
)

func testConfig() vocabulary.Config {
	return vocabulary.Config{
		IndexKind: ann.KindKDTree,
		Distance:  ann.DistanceL2,
		NNDRRatio: 0.8,
		ORBWTAK:   2,
	}
}

func rowsToMatrix(rows [][]float32) descriptor.Matrix {
	cols := len(rows[0])
	flat := make([]float32, 0, len(rows)*cols)
	for _, row := range rows {
		flat = append(flat, row...)
	}
	return descriptor.NewFloat32Matrix(len(rows), cols, flat)
}

func nndrOnlyPredicates() Predicates {
	return Predicates{NNDRUsed: true, NNDRRatio: 0.8}
}

func TestPredicatesAcceptNNDR(t *testing.T) {
	pred := nndrOnlyPredicates()
	assert.True(t, pred.accept(1.0, 2.0, true))
	assert.False(t, pred.accept(1.9, 2.0, true))
	assert.False(t, pred.accept(1.0, 2.0, false))
}

func TestPredicatesAcceptMinDistanceOnly(t *testing.T) {
	pred := Predicates{MinDistanceUsed: true, MinDistance: 5.0}
	assert.True(t, pred.accept(4.0, 0, false))
	assert.False(t, pred.accept(6.0, 0, false))
}

func TestPredicatesAcceptNoneConfiguredAlwaysMatches(t *testing.T) {
	pred := Predicates{}
	assert.True(t, pred.accept(1000.0, 0, false))
}

func TestNNDRKReflectsPredicateConfiguration(t *testing.T) {
	assert.Equal(t, 2, nndrOnlyPredicates().NNDRK())
	assert.Equal(t, 1, Predicates{}.NNDRK())
}

func buildRegistryWithTwoObjects(t *testing.T) (*registry.Registry, *vocabulary.Vocabulary) {
	t.Helper()
	reg := registry.New(assertx.NewHandler())

	sig1, err := reg.Register(1, "a.png", signature.Rect{})
	require.NoError(t, err)
	require.NoError(t, sig1.SetFeatures(
		[]signature.Keypoint{{}, {}},
		rowsToMatrix([][]float32{{0, 0, 0}, {10, 10, 10}}),
	))

	sig2, err := reg.Register(2, "b.png", signature.Rect{})
	require.NoError(t, err)
	require.NoError(t, sig2.SetFeatures(
		[]signature.Keypoint{{}},
		rowsToMatrix([][]float32{{100, 100, 100}}),
	))

	vocab := vocabulary.New(testConfig(), assertx.NewHandler())
	require.NoError(t, reg.UpdateVocabulary(vocab, registry.UpdateParams{Concatenate: true}))
	return reg, vocab
}

func TestInvertedSearchMatchesNearestObjectRow(t *testing.T) {
	reg, vocab := buildRegistryWithTwoObjects(t)

	scene := rowsToMatrix([][]float32{{0, 0, 1}, {100, 100, 99}})
	result, err := InvertedSearch(scene, vocab, reg, Predicates{})
	require.NoError(t, err)

	require.Contains(t, result.Matches, uint32(1))
	require.Contains(t, result.Matches, uint32(2))
	assert.NotEmpty(t, result.Matches[1])
	assert.NotEmpty(t, result.Matches[2])
	assert.True(t, result.HasDistance)
}

func TestInvertedSearchEveryObjectHasEntryEvenWithoutMatches(t *testing.T) {
	reg, vocab := buildRegistryWithTwoObjects(t)

	scene := rowsToMatrix([][]float32{{1000, 1000, 1000}})
	pred := Predicates{MinDistanceUsed: true, MinDistance: 0.001}
	result, err := InvertedSearch(scene, vocab, reg, pred)
	require.NoError(t, err)

	assert.Contains(t, result.Matches, uint32(1))
	assert.Contains(t, result.Matches, uint32(2))
	assert.Empty(t, result.Matches[1])
	assert.Empty(t, result.Matches[2])
}

func buildSceneVocabulary(t *testing.T, scene descriptor.Matrix, incremental bool) (*vocabulary.Vocabulary, vocabulary.WordAssignment) {
	t.Helper()
	sceneVocab := vocabulary.New(testConfig(), assertx.NewHandler())
	words, err := sceneVocab.AddWords(scene, SceneObjectID, incremental)
	require.NoError(t, err)
	require.NoError(t, sceneVocab.Update())
	return sceneVocab, words
}

func TestDirectSearchSerialMatchesViaDataRange(t *testing.T) {
	reg, _ := buildRegistryWithTwoObjects(t)

	scene := rowsToMatrix([][]float32{{0, 0, 1}, {100, 100, 99}})
	sceneVocab, words := buildSceneVocabulary(t, scene, false)

	result, err := DirectSearch(words, sceneVocab, reg, Predicates{}, 1)
	require.NoError(t, err)

	require.Contains(t, result.Matches, uint32(1))
	require.Contains(t, result.Matches, uint32(2))
	assert.NotEmpty(t, result.Matches[1])
	assert.NotEmpty(t, result.Matches[2])
}

func TestDirectSearchParallelMatchesPerObject(t *testing.T) {
	reg, _ := buildRegistryWithTwoObjects(t)

	scene := rowsToMatrix([][]float32{{0, 0, 1}, {100, 100, 99}})
	sceneVocab, words := buildSceneVocabulary(t, scene, false)

	result, err := DirectSearch(words, sceneVocab, reg, Predicates{}, 4)
	require.NoError(t, err)

	require.Contains(t, result.Matches, uint32(1))
	require.Contains(t, result.Matches, uint32(2))
	assert.NotEmpty(t, result.Matches[1])
	assert.NotEmpty(t, result.Matches[2])
}

func TestDirectSearchSerialAndParallelAgreeOnMatchCounts(t *testing.T) {
	reg, _ := buildRegistryWithTwoObjects(t)
	scene := rowsToMatrix([][]float32{{0, 0, 1}, {100, 100, 99}})
	sceneVocab, words := buildSceneVocabulary(t, scene, false)

	serial, err := DirectSearch(words, sceneVocab, reg, Predicates{}, 1)
	require.NoError(t, err)
	parallel, err := DirectSearch(words, sceneVocab, reg, Predicates{}, 4)
	require.NoError(t, err)

	assert.Len(t, parallel.Matches[1], len(serial.Matches[1]))
	assert.Len(t, parallel.Matches[2], len(serial.Matches[2]))
}

func TestDirectSearchDropsAmbiguousSceneWords(t *testing.T) {
	reg, _ := buildRegistryWithTwoObjects(t)

	// Two identical scene rows, bulk-added so each gets its own word, then
	// both words marked as witnessed by two scene indices, the ambiguous
	// shape an incremental scene vocabulary produces for repeated features.
	// Whichever word the tie-broken search returns, its multiplicity is 2
	// and the match must be dropped.
	scene := rowsToMatrix([][]float32{{5, 5, 5}, {5, 5, 5}})
	sceneVocab, words := buildSceneVocabulary(t, scene, false)
	for id := range words {
		words[id] = []int{0, 1}
	}

	result, err := DirectSearch(words, sceneVocab, reg, Predicates{}, 1)
	require.NoError(t, err)
	assert.Empty(t, result.Matches[1])
	assert.Empty(t, result.Matches[2])
}

func TestResultMergeCombinesMatchesAndDistanceRange(t *testing.T) {
	a := newResult()
	a.Matches[1] = []Match{{ObjKptIdx: 0, SceneKptIdx: 0}}
	a.observe(1.0)
	a.observe(3.0)

	b := newResult()
	b.Matches[1] = []Match{{ObjKptIdx: 1, SceneKptIdx: 1}}
	b.Matches[2] = []Match{{ObjKptIdx: 0, SceneKptIdx: 2}}
	b.observe(0.5)
	b.observe(10.0)

	a.merge(b)
	assert.Len(t, a.Matches[1], 2)
	assert.Len(t, a.Matches[2], 1)
	assert.Equal(t, 0.5, a.MinDistance)
	assert.Equal(t, 10.0, a.MaxDistance)
}
