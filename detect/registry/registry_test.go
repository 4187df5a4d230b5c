package registry

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prudodetect/objdetect/detect/ann"
	"github.com/prudodetect/objdetect/detect/assertx"
	"github.com/prudodetect/objdetect/detect/descriptor"
	"github.com/prudodetect/objdetect/detect/signature"
	"github.com/prudodetect/objdetect/detect/vocabulary"
)

func testVocab() *vocabulary.Vocabulary {
	return vocabulary.New(vocabulary.Config{
		IndexKind: ann.KindKDTree,
		Distance:  ann.DistanceL2,
		NNDRRatio: 0.8,
		ORBWTAK:   2,
	}, assertx.NewHandler())
}

func descRows(rows [][]float32) descriptor.Matrix {
	cols := len(rows[0])
	flat := make([]float32, 0, len(rows)*cols)
	for _, row := range rows {
		flat = append(flat, row...)
	}
	return descriptor.NewFloat32Matrix(len(rows), cols, flat)
}

func TestRegisterAssignsIDFromFilenamePrefix(t *testing.T) {
	r := New(assertx.NewHandler())
	sig, err := r.Register(0, "42_box.png", signature.Rect{W: 10, H: 10})
	require.NoError(t, err)
	assert.Equal(t, uint32(42), sig.ID)
}

func TestRegisterFallsBackToMonotonicGenerator(t *testing.T) {
	r := New(assertx.NewHandler())
	sig, err := r.Register(0, "no_digits.png", signature.Rect{})
	require.NoError(t, err)
	assert.Equal(t, uint32(1), sig.ID)
}

func TestRegisterRejectsDuplicateExplicitID(t *testing.T) {
	r := New(assertx.NewHandler())
	_, err := r.Register(5, "a.png", signature.Rect{})
	require.NoError(t, err)

	_, err = r.Register(5, "b.png", signature.Rect{})
	assert.Error(t, err)
}

func TestRegisterWarnsButSucceedsOnDuplicateFilename(t *testing.T) {
	r := New(assertx.NewHandler())
	_, err := r.Register(1, "dup.png", signature.Rect{})
	require.NoError(t, err)

	sig, err := r.Register(2, "dup.png", signature.Rect{})
	require.NoError(t, err)
	assert.Equal(t, uint32(2), sig.ID)

	prevID, existed := r.filenames.Insert("dup.png", 3)
	assert.True(t, existed)
	assert.Equal(t, uint32(2), prevID)
}

func TestRegisterDoesNotReuseIDTakenByPrefix(t *testing.T) {
	r := New(assertx.NewHandler())
	_, err := r.Register(0, "7_first.png", signature.Rect{})
	require.NoError(t, err)

	sig, err := r.Register(0, "7_second.png", signature.Rect{})
	require.NoError(t, err)
	assert.NotEqual(t, uint32(7), sig.ID)
}

type stubExtractor struct {
	keypoints map[uint32][]signature.Keypoint
	err       error
}

func (s *stubExtractor) Detect(img Image) ([]signature.Keypoint, error) {
	if s.err != nil {
		return nil, s.err
	}
	return img.([]signature.Keypoint), nil
}

func (s *stubExtractor) Compute(img Image, keypoints []signature.Keypoint) (descriptor.Matrix, error) {
	rows := make([][]float32, len(keypoints))
	for i := range rows {
		rows[i] = []float32{float32(i), float32(i), float32(i)}
	}
	return descRows(rows), nil
}

func TestUpdateObjectsExtractsAndCapsFeatures(t *testing.T) {
	r := New(assertx.NewHandler())
	sig, err := r.Register(1, "obj.png", signature.Rect{W: 5, H: 5})
	require.NoError(t, err)

	kps := []signature.Keypoint{
		{Response: 0.1}, {Response: 0.9}, {Response: 0.5},
	}
	images := map[uint32]Image{1: Image(kps)}

	extractor := &stubExtractor{}
	require.NoError(t, r.UpdateObjects(extractor, images, 2, 0))
	assert.Len(t, sig.Keypoints, 2)
	assert.Equal(t, 2, sig.Descriptors.Rows)
}

func TestUpdateObjectsPropagatesDetectError(t *testing.T) {
	r := New(assertx.NewHandler())
	_, err := r.Register(1, "obj.png", signature.Rect{})
	require.NoError(t, err)

	boom := errors.New("boom")
	images := map[uint32]Image{1: Image([]signature.Keypoint{})}
	require.Error(t, r.UpdateObjects(&stubExtractor{err: boom}, images, 0, 0))
}

func TestUpdateVocabularyBuildsDataRange(t *testing.T) {
	r := New(assertx.NewHandler())
	sig1, err := r.Register(1, "a.png", signature.Rect{})
	require.NoError(t, err)
	require.NoError(t, sig1.SetFeatures(
		[]signature.Keypoint{{}, {}},
		descRows([][]float32{{0, 0, 0}, {1, 1, 1}}),
	))

	sig2, err := r.Register(2, "b.png", signature.Rect{})
	require.NoError(t, err)
	require.NoError(t, sig2.SetFeatures(
		[]signature.Keypoint{{}},
		descRows([][]float32{{9, 9, 9}}),
	))

	vocab := testVocab()
	require.NoError(t, r.UpdateVocabulary(vocab, UpdateParams{Concatenate: true}))

	assert.Equal(t, 3, vocab.Size())
	assert.Equal(t, 3, r.ConcatenatedDescriptors().Rows)

	objID, localRow, ok := r.DataRange(0)
	require.True(t, ok)
	assert.Equal(t, uint32(1), objID)
	assert.Equal(t, 0, localRow)

	objID, localRow, ok = r.DataRange(1)
	require.True(t, ok)
	assert.Equal(t, uint32(1), objID)
	assert.Equal(t, 1, localRow)

	objID, localRow, ok = r.DataRange(2)
	require.True(t, ok)
	assert.Equal(t, uint32(2), objID)
	assert.Equal(t, 0, localRow)

	_, _, ok = r.DataRange(3)
	assert.False(t, ok)
}

func TestUpdateVocabularyPerObjectMode(t *testing.T) {
	r := New(assertx.NewHandler())
	sig, err := r.Register(1, "a.png", signature.Rect{})
	require.NoError(t, err)
	require.NoError(t, sig.SetFeatures(
		[]signature.Keypoint{{}},
		descRows([][]float32{{1, 2, 3}}),
	))

	vocab := testVocab()
	require.NoError(t, r.UpdateVocabulary(vocab, UpdateParams{}))

	perObject := r.ObjectDescriptors()
	require.Contains(t, perObject, uint32(1))
	assert.Equal(t, 1, perObject[1].Rows)
	assert.True(t, r.ConcatenatedDescriptors().Empty())
}

func TestSeedNextIDAdvancesGenerator(t *testing.T) {
	r := New(assertx.NewHandler())
	r.SeedNextID(100)

	sig, err := r.Register(0, "no_digits.png", signature.Rect{})
	require.NoError(t, err)
	assert.Equal(t, uint32(100), sig.ID)

	// Seeding backwards never reissues a live id.
	r.SeedNextID(1)
	sig, err = r.Register(0, "also_no_digits.png", signature.Rect{})
	require.NoError(t, err)
	assert.Equal(t, uint32(101), sig.ID)
}

func TestUpdateVocabularyIncrementalIntermediateUpdate(t *testing.T) {
	r := New(assertx.NewHandler())
	sig1, err := r.Register(1, "a.png", signature.Rect{})
	require.NoError(t, err)
	require.NoError(t, sig1.SetFeatures(
		[]signature.Keypoint{{}, {}},
		descRows([][]float32{{0, 0, 0}, {100, 0, 0}}),
	))

	sig2, err := r.Register(2, "b.png", signature.Rect{})
	require.NoError(t, err)
	// Each of object 2's rows is equidistant from both of object 1's words,
	// so the NNDR ratio test fails and every row becomes a fresh word.
	require.NoError(t, sig2.SetFeatures(
		[]signature.Keypoint{{}, {}},
		descRows([][]float32{{50, 100, 0}, {50, -100, 0}}),
	))

	vocab := testVocab()
	require.NoError(t, r.UpdateVocabulary(vocab, UpdateParams{
		Incremental:    true,
		Concatenate:    true,
		UpdateMinWords: 1,
	}))

	// Every descriptor became a word, the intermediate updates drained the
	// pending buffer along the way, and search is legal right after the
	// batch.
	assert.Equal(t, 4, vocab.Size())
	assert.Equal(t, 0, vocab.PendingWords())
	_, _, err = vocab.Search(sig1.Descriptors, 1)
	assert.NoError(t, err)
}

func TestRegisterInvalidatesVocabularyDerivedState(t *testing.T) {
	r := New(assertx.NewHandler())
	sig, err := r.Register(1, "a.png", signature.Rect{})
	require.NoError(t, err)
	require.NoError(t, sig.SetFeatures(
		[]signature.Keypoint{{}},
		descRows([][]float32{{1, 2, 3}}),
	))

	vocab := testVocab()
	require.NoError(t, r.UpdateVocabulary(vocab, UpdateParams{Concatenate: true}))
	assert.Equal(t, 1, r.ConcatenatedDescriptors().Rows)

	_, err = r.Register(2, "b.png", signature.Rect{})
	require.NoError(t, err)
	assert.True(t, r.ConcatenatedDescriptors().Empty())
}
