// Package vocabulary implements the incrementally-rebuilt visual
// vocabulary. It maps descriptor rows to word identifiers and exposes
// approximate k-nearest-neighbor search once rows have been committed
// with update().
package vocabulary

import (
	"sort"
	"sync"

	"github.com/RoaringBitmap/roaring"

	"github.com/prudodetect/objdetect/detect/ann"
	"github.com/prudodetect/objdetect/detect/assertx"
	"github.com/prudodetect/objdetect/detect/descriptor"
)

// Config gates the ANN backend and the NNDR acceptance test used during
// incremental add_words (index kind/distance, NNDR ratio, ORB WTA_K).
type Config struct {
	IndexKind ann.IndexKind
	Distance  ann.DistanceType
	NNDRRatio float64
	ORBWTAK   int
}

// wordEntry tracks which objects witness a word, and how many times. The
// word-to-objects relation is a multimap, so the same (word, object) pair
// can be recorded more than once. A roaring.Bitmap gives compact distinct
// membership (used by the matcher to enumerate candidate objects for a
// word); the counts map gives the exact multiplicity the matcher's
// "unique word per object" predicate needs.
type wordEntry struct {
	objects *roaring.Bitmap
	counts  map[uint32]int
}

func newWordEntry() *wordEntry {
	return &wordEntry{objects: roaring.New(), counts: make(map[uint32]int)}
}

func (e *wordEntry) add(objectID uint32) {
	e.objects.Add(objectID)
	e.counts[objectID]++
}

// WordAssignment maps a word id to the local row indices (within the call
// that produced it) assigned to that word.
type WordAssignment map[int][]int

// Vocabulary is the additive word index: descriptor rows accumulate into
// it and are never individually removed, only rebuilt wholesale via Clear.
type Vocabulary struct {
	mu sync.RWMutex

	cfg    Config
	assert *assertx.Handler

	elemSet bool
	elem    descriptor.ElemType
	cols    int

	indexed           descriptor.Matrix
	notIndexed        descriptor.Matrix
	notIndexedWordIDs []int

	wordToObjects map[int]*wordEntry

	backend ann.Backend
}

// New constructs an empty Vocabulary.
func New(cfg Config, assertHandler *assertx.Handler) *Vocabulary {
	return &Vocabulary{
		cfg:           cfg,
		assert:        assertHandler,
		wordToObjects: make(map[int]*wordEntry),
	}
}

// Clear discards all state: indexed/not-indexed rows, pending word ids, and
// the word-to-object multimap. Words are never individually deleted;
// Clear is the only way to shrink the vocabulary.
func (v *Vocabulary) Clear() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.elemSet = false
	v.indexed = descriptor.Matrix{}
	v.notIndexed = descriptor.Matrix{}
	v.notIndexedWordIDs = nil
	v.wordToObjects = make(map[int]*wordEntry)
	v.backend = nil
}

// Size returns indexed.rows + not_indexed.rows.
func (v *Vocabulary) Size() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.indexed.Rows + v.notIndexed.Rows
}

// PendingWords returns the number of rows still awaiting Update.
func (v *Vocabulary) PendingWords() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.notIndexed.Rows
}

// ObjectsForWord returns the distinct object ids that witness wordID.
func (v *Vocabulary) ObjectsForWord(wordID int) []uint32 {
	v.mu.RLock()
	defer v.mu.RUnlock()
	e, ok := v.wordToObjects[wordID]
	if !ok {
		return nil
	}
	arr := e.objects.ToArray()
	return arr
}

// CountForWord returns how many times (wordID, objectID) was recorded,
// the multiplicity the matcher's uniqueness filters check against 1.
func (v *Vocabulary) CountForWord(wordID int, objectID uint32) int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	e, ok := v.wordToObjects[wordID]
	if !ok {
		return 0
	}
	return e.counts[objectID]
}

func (v *Vocabulary) recordWitness(wordID int, objectID uint32) {
	e, ok := v.wordToObjects[wordID]
	if !ok {
		e = newWordEntry()
		v.wordToObjects[wordID] = e
	}
	e.add(objectID)
}

// checkShape verifies/records the vocabulary-wide (D, T); a mismatch is a
// contract violation, not a silent coercion.
func (v *Vocabulary) checkShape(data descriptor.Matrix) error {
	if !v.elemSet {
		v.elem = data.Elem
		v.cols = data.Cols
		v.elemSet = true
		return nil
	}
	if data.Elem != v.elem || data.Cols != v.cols {
		return v.assert.DescriptorMismatch("vocabulary.AddWords",
			v.elem.String(), v.cols, data.Elem.String(), data.Cols)
	}
	return nil
}

type candidate struct {
	wordID   int
	distance float64
}

// AddWords commits descriptor rows either as fresh words (bulk, non
// incremental) or via NNDR-gated incremental dedup.
func (v *Vocabulary) AddWords(data descriptor.Matrix, objectID uint32, incremental bool) (WordAssignment, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	words := make(WordAssignment)
	if data.Empty() {
		return words, nil
	}
	if err := v.checkShape(data); err != nil {
		return nil, err
	}

	if !incremental {
		base := v.indexed.Rows + v.notIndexed.Rows
		merged, err := v.notIndexed.Append(data)
		if err != nil {
			return nil, err
		}
		v.notIndexed = merged
		for i := 0; i < data.Rows; i++ {
			wordID := base + i
			words[wordID] = append(words[wordID], i)
			v.notIndexedWordIDs = append(v.notIndexedWordIDs, wordID)
			v.recordWitness(wordID, objectID)
		}
		return words, nil
	}

	const k = 2
	globalSearch := v.backend != nil && v.indexed.Rows >= k

	for i := 0; i < data.Rows; i++ {
		var candidates []candidate

		if v.notIndexed.Rows > 0 {
			localK := k
			if v.notIndexed.Rows < localK {
				localK = v.notIndexed.Rows
			}
			for _, r := range v.linearSearchNotIndexed(data, i, localK) {
				if r.Index < 0 {
					continue
				}
				candidates = append(candidates, candidate{
					wordID:   v.notIndexedWordIDs[r.Index],
					distance: r.Distance,
				})
			}
		}

		if globalSearch {
			for _, r := range v.queryBackend(data, i, k) {
				if r.Index < 0 {
					continue
				}
				candidates = append(candidates, candidate{wordID: r.Index, distance: r.Distance})
			}
		}

		sort.Slice(candidates, func(a, b int) bool { return candidates[a].distance < candidates[b].distance })

		match := len(candidates) >= 2 && candidates[0].distance <= v.cfg.NNDRRatio*candidates[1].distance

		var wordID int
		if match {
			wordID = candidates[0].wordID
		} else {
			wordID = v.indexed.Rows + v.notIndexed.Rows
			rowMat := data.Slice(i, i+1)
			merged, err := v.notIndexed.Append(rowMat)
			if err != nil {
				return nil, err
			}
			v.notIndexed = merged
			v.notIndexedWordIDs = append(v.notIndexedWordIDs, wordID)
		}

		words[wordID] = append(words[wordID], i)
		v.recordWitness(wordID, objectID)
	}

	return words, nil
}

// linearSearchNotIndexed brute-force scans the pending buffer for the ith
// row of data: Hamming2 when WTA_K is 3 or 4, otherwise plain Hamming for
// uint8 rows; a fresh linear float index otherwise.
func (v *Vocabulary) linearSearchNotIndexed(data descriptor.Matrix, i, k int) []ann.Result {
	if v.elem == descriptor.Uint8 {
		hamming2 := v.cfg.ORBWTAK == 3 || v.cfg.ORBWTAK == 4
		backend := ann.NewLinearHamming(hamming2)
		backend.Build(v.notIndexed)
		return backend.KNN(data.RowU8(i), nil, k)
	}
	backend := ann.NewLinearFloat(v.cfg.Distance)
	backend.Build(v.notIndexed)
	return backend.KNN(nil, data.RowF32(i), k)
}

func (v *Vocabulary) queryBackend(data descriptor.Matrix, i, k int) []ann.Result {
	if v.elem == descriptor.Uint8 {
		return v.backend.KNN(data.RowU8(i), nil, k)
	}
	return v.backend.KNN(nil, data.RowF32(i), k)
}

// Update commits not_indexed into indexed and rebuilds the ANN backend.
// After Update returns, Search is legal.
func (v *Vocabulary) Update() error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.notIndexed.Rows > 0 {
		merged, err := v.indexed.Append(v.notIndexed)
		if err != nil {
			return err
		}
		v.indexed = merged
		v.notIndexed = descriptor.Matrix{}
		v.notIndexedWordIDs = nil
	}

	if !v.indexed.Empty() {
		backend := ann.New(v.elem, v.cfg.Distance, v.cfg.IndexKind)
		if err := backend.Build(v.indexed); err != nil {
			return err
		}
		v.backend = backend
	}
	return nil
}

// Search runs ANN k-NN over the indexed set. Precondition: not_indexed is
// empty (enforced as a contract violation, not a silent no-op). Safe to
// call concurrently from multiple workers once Update has returned, since
// the backend's KNN performs no mutation.
func (v *Vocabulary) Search(query descriptor.Matrix, k int) ([][]int, [][]float64, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	if v.notIndexed.Rows > 0 {
		return nil, nil, v.assert.PendingRows(v.notIndexed.Rows)
	}

	indices := make([][]int, query.Rows)
	dists := make([][]float64, query.Rows)
	for i := 0; i < query.Rows; i++ {
		var results []ann.Result
		if v.backend != nil {
			if query.Elem == descriptor.Uint8 {
				results = v.backend.KNN(query.RowU8(i), nil, k)
			} else {
				results = v.backend.KNN(nil, query.RowF32(i), k)
			}
		}
		idxRow := make([]int, k)
		distRow := make([]float64, k)
		for j := 0; j < k; j++ {
			if j < len(results) {
				idxRow[j] = results[j].Index
				distRow[j] = results[j].Distance
			} else {
				idxRow[j] = -1
			}
		}
		indices[i] = idxRow
		dists[i] = distRow
	}
	return indices, dists, nil
}
