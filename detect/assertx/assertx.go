// Package assertx carries the module's contract-violation boundary:
// conditions that should be structurally impossible (descriptor type or
// dimension mismatch, search() called with pending rows, duplicate object
// id). These are never panics and never silently ignored; they are
// returned as ordinary errors so a caller can log and abort the current
// operation.
package assertx

import (
	"fmt"

	"github.com/ZanzyTHEbar/assert-lib"
)

// Handler threads an *assert.AssertHandler through the pipeline's
// constructors. Every component that can hit a contract violation
// (Vocabulary, Registry) accepts one.
type Handler struct {
	inner *assert.AssertHandler
}

// NewHandler constructs the shared contract-violation handler.
func NewHandler() *Handler {
	return &Handler{inner: assert.NewAssertHandler()}
}

// Violation formats a contract violation into an error. It never panics:
// callers treat the returned error as a programmer mistake to fix, not a
// recoverable runtime condition.
func (h *Handler) Violation(format string, args ...interface{}) error {
	return fmt.Errorf("contract violation: %s", fmt.Sprintf(format, args...))
}

// DescriptorMismatch reports a type or dimension mismatch between two
// descriptor matrices that were expected to be homogeneous.
func (h *Handler) DescriptorMismatch(op string, wantType string, wantCols int, gotType string, gotCols int) error {
	return h.Violation("%s: descriptor mismatch (want type=%s cols=%d, got type=%s cols=%d)",
		op, wantType, wantCols, gotType, gotCols)
}

// DuplicateObjectID reports an explicit object id collision during
// registration.
func (h *Handler) DuplicateObjectID(id uint32) error {
	return h.Violation("object id %d already registered", id)
}

// PendingRows reports search() called while the vocabulary still has
// unindexed rows awaiting update().
func (h *Handler) PendingRows(count int) error {
	return h.Violation("search() called with %d rows still pending update()", count)
}
