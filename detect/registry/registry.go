// Package registry implements the Object Registry: a keyed collection of
// object signatures, descriptor concatenation, and the data_range reverse
// lookup the matcher's direct mode needs.
package registry

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/prudodetect/objdetect/detect/assertx"
	"github.com/prudodetect/objdetect/detect/descriptor"
	"github.com/prudodetect/objdetect/detect/detectlog"
	"github.com/prudodetect/objdetect/detect/signature"
	"github.com/prudodetect/objdetect/detect/vocabulary"
	"github.com/prudodetect/objdetect/detect/wavepool"
)

// Image is an opaque handle to pixel data, passed through unchanged to the
// caller-supplied FeatureExtractor. RegisterDirectory decodes PNG/JPEG files
// into image.Image values; otherwise image loading and decoding are left to
// the caller.
type Image interface{}

// FeatureExtractor is the pluggable detect/compute pair treated as an
// external collaborator, never implemented by this module.
type FeatureExtractor interface {
	Detect(img Image) ([]signature.Keypoint, error)
	Compute(img Image, keypoints []signature.Keypoint) (descriptor.Matrix, error)
}

type dataRangeEntry struct {
	lastRow  int
	objectID uint32
}

// Registry is the ordered object_id -> signature collection.
type Registry struct {
	assert *assertx.Handler

	order   []uint32
	objects map[uint32]*signature.Signature

	nextID uint32

	filenames *filenameIndex

	dataRange    []dataRangeEntry
	concatenated descriptor.Matrix
	perObject    map[uint32]descriptor.Matrix

	shapeSet bool
	shapeElem descriptor.ElemType
	shapeCols int
}

// New constructs an empty Registry. The first auto-assigned id is 1; ids
// are always positive integers.
func New(assertHandler *assertx.Handler) *Registry {
	return &Registry{
		assert:    assertHandler,
		objects:   make(map[uint32]*signature.Signature),
		filenames: newFilenameIndex(),
		nextID:    1,
		perObject: make(map[uint32]descriptor.Matrix),
	}
}

// SeedNextID advances the monotonic id generator to start at id (config
// nextObjID). Values at or below the current counter are ignored so a
// reseed can never reissue a live id.
func (r *Registry) SeedNextID(id uint32) {
	if id > r.nextID {
		r.nextID = id
	}
}

// Register adds a new object signature. If id is 0, an id is assigned
// either from the filename's leading integer prefix (if parseable and
// free) or from a monotonic generator; an explicit non-zero id that
// collides with an existing object is rejected.
func (r *Registry) Register(id uint32, filename string, rect signature.Rect) (*signature.Signature, error) {
	if id == 0 {
		id = r.assignID(filename)
	} else if _, exists := r.objects[id]; exists {
		return nil, r.assert.DuplicateObjectID(id)
	}

	sig := signature.New(id, filename, rect)
	r.objects[id] = sig
	r.order = append(r.order, id)
	if prevID, existed := r.filenames.Insert(filename, id); existed && prevID != id {
		log := detectlog.Component("registry")
		log.Warn().
			Str("filename", filename).
			Uint32("newID", id).
			Uint32("previousID", prevID).
			Msg("duplicate object filename; a previously registered object shares this basename")
	}
	r.invalidateVocabulary()
	return sig, nil
}

func (r *Registry) assignID(filename string) uint32 {
	if parsed, ok := parseLeadingID(filename); ok {
		if _, exists := r.objects[parsed]; !exists {
			return parsed
		}
	}
	for {
		candidate := r.nextID
		r.nextID++
		if _, exists := r.objects[candidate]; !exists {
			return candidate
		}
	}
}

// parseLeadingID extracts the base filename's leading run of digits, used
// to assign an object id from its filename prefix when one is parseable.
func parseLeadingID(filename string) (uint32, bool) {
	base := filename
	if idx := strings.LastIndexAny(base, `/\`); idx >= 0 {
		base = base[idx+1:]
	}
	i := 0
	for i < len(base) && base[i] >= '0' && base[i] <= '9' {
		i++
	}
	if i == 0 {
		return 0, false
	}
	n, err := strconv.ParseUint(base[:i], 10, 32)
	if err != nil || n == 0 {
		return 0, false
	}
	return uint32(n), true
}

// invalidateVocabulary clears derived structures: adding, removing, or
// renaming objects invalidates the vocabulary.
func (r *Registry) invalidateVocabulary() {
	r.dataRange = nil
	r.concatenated = descriptor.Matrix{}
	r.perObject = make(map[uint32]descriptor.Matrix)
	r.shapeSet = false
}

// Get returns the signature for id, if registered.
func (r *Registry) Get(id uint32) (*signature.Signature, bool) {
	s, ok := r.objects[id]
	return s, ok
}

// Objects returns signatures in registration order.
func (r *Registry) Objects() []*signature.Signature {
	out := make([]*signature.Signature, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.objects[id])
	}
	return out
}

func (r *Registry) Len() int { return len(r.order) }

// UpdateObjects extracts keypoints and descriptors for each registered
// object whose image is present in images, one worker per object in
// bounded waves (threads <= 0 means one worker per object), pruning by
// response magnitude to maxFeatures when positive. Each worker writes only
// its own signature, so the waves share no mutable state.
func (r *Registry) UpdateObjects(extractor FeatureExtractor, images map[uint32]Image, maxFeatures, threads int) error {
	type job struct {
		sig *signature.Signature
		img Image
	}
	var jobs []job
	for _, id := range r.order {
		img, ok := images[id]
		if !ok {
			continue
		}
		jobs = append(jobs, job{sig: r.objects[id], img: img})
	}

	tasks := make([]wavepool.Task, len(jobs))
	for idx := range jobs {
		j := jobs[idx]
		tasks[idx] = func(ctx context.Context) error {
			keypoints, err := extractor.Detect(j.img)
			if err != nil {
				return fmt.Errorf("registry: detect failed for object %d: %w", j.sig.ID, err)
			}
			desc, err := extractor.Compute(j.img, keypoints)
			if err != nil {
				return fmt.Errorf("registry: compute failed for object %d: %w", j.sig.ID, err)
			}

			keypoints, desc = signature.CapByResponse(keypoints, desc, maxFeatures)
			if err := j.sig.SetFeatures(keypoints, desc); err != nil {
				return fmt.Errorf("registry: object %d: %w", j.sig.ID, err)
			}
			return nil
		}
	}

	for _, err := range wavepool.New(threads).RunWave(context.Background(), tasks) {
		if err != nil {
			return err
		}
	}
	return nil
}

// UpdateParams gates how UpdateVocabulary rebuilds derived state.
type UpdateParams struct {
	// Incremental routes each object's descriptors through NNDR-gated word
	// merging instead of bulk append.
	Incremental bool
	// Concatenate selects one concatenated descriptor matrix plus the
	// data_range map over per-object matrices; the caller picks according
	// to search mode and thread count.
	Concatenate bool
	// UpdateMinWords, when positive and Incremental is set, runs an
	// intermediate vocabulary Update whenever at least that many new words
	// are pending, so later objects in the same batch query a built index
	// instead of an ever-growing linear buffer.
	UpdateMinWords int
}

// UpdateVocabulary re-verifies that all object descriptor matrices share
// (D, T), rebuilds the vocabulary from scratch over the current objects,
// and (re)builds data_range plus either a single concatenated matrix or a
// per-object map.
func (r *Registry) UpdateVocabulary(vocab *vocabulary.Vocabulary, p UpdateParams) error {
	vocab.Clear()
	r.invalidateVocabulary()

	var (
		elemSet bool
		elem    descriptor.ElemType
		cols    int
		row     int
	)

	for _, id := range r.order {
		sig := r.objects[id]
		if sig.Descriptors.Empty() {
			continue
		}
		if !elemSet {
			elem = sig.Descriptors.Elem
			cols = sig.Descriptors.Cols
			elemSet = true
		} else if sig.Descriptors.Elem != elem || sig.Descriptors.Cols != cols {
			return r.assert.DescriptorMismatch("registry.UpdateVocabulary",
				elem.String(), cols, sig.Descriptors.Elem.String(), sig.Descriptors.Cols)
		}
		r.shapeSet, r.shapeElem, r.shapeCols = elemSet, elem, cols

		words, err := vocab.AddWords(sig.Descriptors, id, p.Incremental)
		if err != nil {
			return err
		}
		for wordID, localIdxs := range words {
			for _, idx := range localIdxs {
				sig.AddWord(wordID, idx)
			}
		}

		if p.Incremental && p.UpdateMinWords > 0 && vocab.PendingWords() >= p.UpdateMinWords {
			if err := vocab.Update(); err != nil {
				return err
			}
		}

		row += sig.Descriptors.Rows
		r.dataRange = append(r.dataRange, dataRangeEntry{lastRow: row - 1, objectID: id})

		if p.Concatenate {
			merged, err := r.concatenated.Append(sig.Descriptors)
			if err != nil {
				return err
			}
			r.concatenated = merged
		} else {
			r.perObject[id] = sig.Descriptors
		}
	}

	return vocab.Update()
}

// DataRange resolves a global descriptor row (valid only when the registry
// was built with concatenate=true) back to its owning object id and the
// row's local index within that object, via a sorted lower-bound search
// over data_range.
func (r *Registry) DataRange(globalRow int) (objectID uint32, localRow int, ok bool) {
	n := len(r.dataRange)
	i := sort.Search(n, func(i int) bool { return r.dataRange[i].lastRow >= globalRow })
	if i == n {
		return 0, 0, false
	}
	prevLast := -1
	if i > 0 {
		prevLast = r.dataRange[i-1].lastRow
	}
	return r.dataRange[i].objectID, globalRow - prevLast - 1, true
}

// ConcatenatedDescriptors returns the single descriptor matrix built when
// UpdateVocabulary was called with concatenate=true.
func (r *Registry) ConcatenatedDescriptors() descriptor.Matrix { return r.concatenated }

// ObjectDescriptors returns the per-object descriptor matrices built when
// UpdateVocabulary was called with concatenate=false.
func (r *Registry) ObjectDescriptors() map[uint32]descriptor.Matrix { return r.perObject }

// DescriptorShape reports the (ElemType, Cols) shared by every registered
// object's descriptors, as last observed by UpdateVocabulary. ok is false
// until UpdateVocabulary has run at least once over a non-empty registry.
func (r *Registry) DescriptorShape() (elem descriptor.ElemType, cols int, ok bool) {
	return r.shapeElem, r.shapeCols, r.shapeSet
}
