package registry

import (
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"sort"
	"strings"

	exiflib "github.com/rwcarlsen/goexif/exif"
	ignore "github.com/sabhiram/go-gitignore"
	"github.com/rs/zerolog"

	"github.com/prudodetect/objdetect/detect/detectlog"
	"github.com/prudodetect/objdetect/detect/signature"
	"github.com/prudodetect/objdetect/detect/vocabulary"
)

var imageExtensions = map[string]bool{
	".png": true, ".jpg": true, ".jpeg": true, ".bmp": true,
}

// RegisterDirectory walks dirPath, honors an optional ignoreFile (parsed as
// gitignore-style patterns, e.g. ".detectignore"), registers one object per
// surviving image file with id parsed from the filename's leading integer,
// then runs UpdateObjects and UpdateVocabulary once over the whole batch so
// every newly registered object leaves the call with populated
// keypoints/descriptors and a rebuilt vocabulary. maxFeatures, threads and
// p are forwarded to UpdateObjects/UpdateVocabulary unchanged.
func (r *Registry) RegisterDirectory(dirPath, ignoreFile string, extractor FeatureExtractor, vocab *vocabulary.Vocabulary, maxFeatures, threads int, p UpdateParams) (int, error) {
	log := detectlog.Component("registry")

	var matcher *ignore.GitIgnore
	if ignoreFile != "" {
		if _, err := os.Stat(ignoreFile); err == nil {
			m, err := ignore.CompileIgnoreFile(ignoreFile)
			if err != nil {
				return 0, err
			}
			matcher = m
		}
	}

	entries, err := os.ReadDir(dirPath)
	if err != nil {
		return 0, err
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	images := make(map[uint32]Image)
	loaded := 0
	for _, name := range names {
		if !imageExtensions[strings.ToLower(filepath.Ext(name))] {
			continue
		}
		fullPath := filepath.Join(dirPath, name)
		if matcher != nil && matcher.MatchesPath(fullPath) {
			log.Debug().Str("path", fullPath).Msg("skipping ignored file")
			continue
		}

		id, _ := parseLeadingID(name)
		decoded, rect, err := decodeImage(fullPath)
		if err != nil {
			log.Warn().Err(err).Str("path", fullPath).Msg("failed to read image")
			continue
		}

		sig, err := r.Register(id, fullPath, rect)
		if err != nil {
			log.Warn().Err(err).Str("path", fullPath).Msg("failed to register object")
			continue
		}

		warnIfSidewaysOrientation(log, fullPath)
		warnIfSharesBasenamePrefix(log, r, sig.ID, name)
		images[sig.ID] = decoded
		loaded++
	}

	if loaded == 0 {
		return 0, nil
	}

	if err := r.UpdateObjects(extractor, images, maxFeatures, threads); err != nil {
		return loaded, err
	}
	if err := r.UpdateVocabulary(vocab, p); err != nil {
		return loaded, err
	}

	return loaded, nil
}

// decodeImage fully decodes the image at path, returning it as an opaque
// Image handle (any registered extractor is expected to accept
// image.Image) alongside its (W, H) bounding rect.
func decodeImage(path string) (Image, signature.Rect, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, signature.Rect{}, err
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, signature.Rect{}, err
	}
	bounds := img.Bounds()
	return img, signature.Rect{W: float64(bounds.Dx()), H: float64(bounds.Dy())}, nil
}

// warnIfSharesBasenamePrefix logs a diagnostic, non-fatal warning when
// another registered file's normalized basename shares this file's
// extension-stripped stem as a prefix, e.g. "box.png" and "box_alt.png".
// This is advisory only: no invariant depends on basenames being distinct.
func warnIfSharesBasenamePrefix(log zerolog.Logger, r *Registry, id uint32, name string) {
	stem := strings.TrimSuffix(strings.ToLower(name), strings.ToLower(filepath.Ext(name)))
	matches := r.filenames.PrefixMatches(stem)
	if len(matches) <= 1 {
		return
	}
	log.Warn().Uint32("objectID", id).Str("stem", stem).Int("sharedPrefixCount", len(matches)).
		Msg("multiple registered files share a basename prefix")
}

// warnIfSidewaysOrientation logs a warning when an image carries an EXIF
// orientation tag indicating a 90/270 degree rotation, since detection never
// auto-rotates registered images. Any failure to read EXIF (no tags, not a
// JPEG) is silent: it is advisory logging, not a registration error.
func warnIfSidewaysOrientation(log zerolog.Logger, path string) {
	f, err := os.Open(path)
	if err != nil {
		return
	}
	defer f.Close()

	x, err := exiflib.Decode(f)
	if err != nil {
		return
	}
	tag, err := x.Get(exiflib.Orientation)
	if err != nil {
		return
	}
	orientation, err := tag.Int(0)
	if err != nil {
		return
	}
	if orientation == 6 || orientation == 8 {
		log.Warn().Str("path", path).Int("orientation", orientation).
			Msg("registering image with sideways EXIF orientation; detection does not auto-rotate")
	}
}
