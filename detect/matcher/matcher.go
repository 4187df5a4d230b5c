// Package matcher implements the two symmetric search directions: inverted
// (scene -> vocabulary-of-objects) and direct (object -> vocabulary-of-
// scene), both gated by the same NNDR/absolute-distance acceptance
// predicates.
package matcher

import (
	"context"
	"fmt"

	"github.com/prudodetect/objdetect/detect/descriptor"
	"github.com/prudodetect/objdetect/detect/registry"
	"github.com/prudodetect/objdetect/detect/vocabulary"
	"github.com/prudodetect/objdetect/detect/wavepool"
)

// SceneObjectID is the sentinel object id used when the scene's own
// descriptors are added to a vocabulary for direct-mode search. Scene
// rows never belong to a registered object, so this never collides with a
// real (positive, registry-assigned) object id.
const SceneObjectID = ^uint32(0)

// Predicates gates match acceptance: the NNDR and absolute-distance
// predicates, evaluated in a fixed order.
type Predicates struct {
	NNDRUsed        bool
	NNDRRatio       float64
	MinDistanceUsed bool
	MinDistance     float64
}

// accept reports whether a candidate with nearest distance d0 (and, if
// haveD1, second-nearest d1) is accepted.
func (p Predicates) accept(d0, d1 float64, haveD1 bool) bool {
	matched := false
	if p.NNDRUsed && haveD1 && d0 <= p.NNDRRatio*d1 {
		matched = true
	}
	if (matched || !p.NNDRUsed) && p.MinDistanceUsed {
		if d0 <= p.MinDistance {
			matched = true
		} else {
			matched = false
		}
	}
	if !matched && !p.NNDRUsed && !p.MinDistanceUsed {
		matched = true
	}
	return matched
}

// NNDRK returns 2 when the NNDR predicate is enabled (it needs a second
// neighbor), else 1.
func (p Predicates) NNDRK() int {
	if p.NNDRUsed {
		return 2
	}
	return 1
}

// Match is one accepted correspondence between an object keypoint and a
// scene keypoint.
type Match struct {
	ObjKptIdx   int
	SceneKptIdx int
}

// Result is the per-detect() match bundle: per-object correspondences plus
// the global min/max matched distance.
type Result struct {
	Matches     map[uint32][]Match
	MinDistance float64
	MaxDistance float64
	HasDistance bool
}

func newResult() *Result {
	return &Result{Matches: make(map[uint32][]Match)}
}

func (r *Result) observe(d0 float64) {
	if !r.HasDistance {
		r.MinDistance, r.MaxDistance = d0, d0
		r.HasDistance = true
		return
	}
	if d0 < r.MinDistance {
		r.MinDistance = d0
	}
	if d0 > r.MaxDistance {
		r.MaxDistance = d0
	}
}

func (r *Result) merge(o *Result) {
	for id, matches := range o.Matches {
		r.Matches[id] = append(r.Matches[id], matches...)
	}
	if !o.HasDistance {
		return
	}
	if !r.HasDistance {
		r.MinDistance, r.MaxDistance = o.MinDistance, o.MaxDistance
		r.HasDistance = true
		return
	}
	if o.MinDistance < r.MinDistance {
		r.MinDistance = o.MinDistance
	}
	if o.MaxDistance > r.MaxDistance {
		r.MaxDistance = o.MaxDistance
	}
}

// InvertedSearch matches each scene descriptor row against the vocabulary
// built over all registered objects. reg must have had UpdateVocabulary run
// against vocab beforehand.
func InvertedSearch(scene descriptor.Matrix, vocab *vocabulary.Vocabulary, reg *registry.Registry, pred Predicates) (*Result, error) {
	result := newResult()
	for _, sig := range reg.Objects() {
		result.Matches[sig.ID] = nil
	}

	k := pred.NNDRK()
	indices, dists, err := vocab.Search(scene, k)
	if err != nil {
		return nil, err
	}

	for i := range indices {
		d0 := dists[i][0]
		haveD1 := k >= 2
		var d1 float64
		if haveD1 {
			d1 = dists[i][1]
		}
		matched := pred.accept(d0, d1, haveD1)
		result.observe(d0)

		if !matched || indices[i][0] < 0 {
			continue
		}
		wordID := indices[i][0]

		for _, objID := range vocab.ObjectsForWord(wordID) {
			if vocab.CountForWord(wordID, objID) != 1 {
				continue
			}
			sig, ok := reg.Get(objID)
			if !ok {
				continue
			}
			localIdxs, ok := sig.Words[wordID]
			if !ok || len(localIdxs) == 0 {
				continue
			}
			result.Matches[objID] = append(result.Matches[objID], Match{
				ObjKptIdx:   localIdxs[0],
				SceneKptIdx: i,
			})
		}
	}

	return result, nil
}

// DirectSearch searches the already-built scene vocabulary with each
// object's descriptors. sceneWords is the WordAssignment returned by the
// orchestrator's AddWords call that built sceneVocab over the scene
// descriptors; a scene word is only trusted when it is unique within that
// assignment (len == 1), dropping ambiguous scene features.
//
// When threads == 1, search runs once over the registry's concatenated
// descriptor matrix and resolves object identity via a data_range
// lower-bound lookup. Otherwise each object's search runs on its own
// worker over its own descriptor matrix, dispatched in bounded waves.
func DirectSearch(sceneWords vocabulary.WordAssignment, sceneVocab *vocabulary.Vocabulary, reg *registry.Registry, pred Predicates, threads int) (*Result, error) {
	k := pred.NNDRK()

	if threads == 1 {
		return directSearchSerial(sceneWords, sceneVocab, reg, pred, k)
	}
	return directSearchParallel(sceneWords, sceneVocab, reg, pred, k, threads)
}

func directSearchSerial(sceneWords vocabulary.WordAssignment, sceneVocab *vocabulary.Vocabulary, reg *registry.Registry, pred Predicates, k int) (*Result, error) {
	result := newResult()
	for _, sig := range reg.Objects() {
		result.Matches[sig.ID] = nil
	}

	concatenated := reg.ConcatenatedDescriptors()
	if concatenated.Empty() {
		return result, nil
	}

	indices, dists, err := sceneVocab.Search(concatenated, k)
	if err != nil {
		return nil, err
	}

	for i := range indices {
		d0 := dists[i][0]
		haveD1 := k >= 2
		var d1 float64
		if haveD1 {
			d1 = dists[i][1]
		}
		matched := pred.accept(d0, d1, haveD1)
		result.observe(d0)

		if !matched || indices[i][0] < 0 {
			continue
		}
		wordID := indices[i][0]
		if len(sceneWords[wordID]) != 1 {
			continue
		}

		objID, localRow, ok := reg.DataRange(i)
		if !ok {
			continue
		}
		result.Matches[objID] = append(result.Matches[objID], Match{
			ObjKptIdx:   localRow,
			SceneKptIdx: sceneWords[wordID][0],
		})
	}

	return result, nil
}

func directSearchParallel(sceneWords vocabulary.WordAssignment, sceneVocab *vocabulary.Vocabulary, reg *registry.Registry, pred Predicates, k, threads int) (*Result, error) {
	objects := reg.Objects()
	perTask := make([]*Result, len(objects))

	tasks := make([]wavepool.Task, len(objects))
	for idx := range objects {
		idx := idx
		sig := objects[idx]
		tasks[idx] = func(ctx context.Context) error {
			local := newResult()
			local.Matches[sig.ID] = nil
			if sig.Descriptors.Empty() {
				perTask[idx] = local
				return nil
			}

			indices, dists, err := sceneVocab.Search(sig.Descriptors, k)
			if err != nil {
				return fmt.Errorf("matcher: object %d search failed: %w", sig.ID, err)
			}

			for i := range indices {
				d0 := dists[i][0]
				haveD1 := k >= 2
				var d1 float64
				if haveD1 {
					d1 = dists[i][1]
				}
				matched := pred.accept(d0, d1, haveD1)
				local.observe(d0)

				if !matched || indices[i][0] < 0 {
					continue
				}
				wordID := indices[i][0]
				if len(sceneWords[wordID]) != 1 {
					continue
				}
				local.Matches[sig.ID] = append(local.Matches[sig.ID], Match{
					ObjKptIdx:   i,
					SceneKptIdx: sceneWords[wordID][0],
				})
			}

			perTask[idx] = local
			return nil
		}
	}

	pool := wavepool.New(threads)
	errs := pool.RunWave(context.Background(), tasks)
	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}

	result := newResult()
	for _, sig := range objects {
		result.Matches[sig.ID] = nil
	}
	for _, r := range perTask {
		if r != nil {
			result.merge(r)
		}
	}
	return result, nil
}
