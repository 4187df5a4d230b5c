package registry

import (
	"path/filepath"
	"strings"
	"sync"

	"github.com/armon/go-radix"
)

// filenameIndex is a patricia-tree index from normalized basename to object
// id, used by RegisterDirectory for O(k) duplicate-name detection.
type filenameIndex struct {
	mu   sync.RWMutex
	tree *radix.Tree
}

func newFilenameIndex() *filenameIndex {
	return &filenameIndex{tree: radix.New()}
}

func normalizeFilename(path string) string {
	return strings.ToLower(filepath.Base(path))
}

// Insert records name -> objectID, returning the previous owner (if any) so
// the caller can detect a collision.
func (idx *filenameIndex) Insert(name string, objectID uint32) (uint32, bool) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	key := normalizeFilename(name)
	prev, existed := idx.tree.Insert(key, objectID)
	if existed {
		return prev.(uint32), true
	}
	return 0, false
}

func (idx *filenameIndex) Lookup(name string) (uint32, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	v, ok := idx.tree.Get(normalizeFilename(name))
	if !ok {
		return 0, false
	}
	return v.(uint32), true
}

// PrefixMatches returns object ids whose filename shares the given prefix.
// It is a diagnostic helper, not required by any registry invariant.
func (idx *filenameIndex) PrefixMatches(prefix string) []uint32 {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	var out []uint32
	idx.tree.WalkPrefix(strings.ToLower(prefix), func(_ string, v interface{}) bool {
		out = append(out, v.(uint32))
		return false
	})
	return out
}

func (idx *filenameIndex) Clear() {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.tree = radix.New()
}
