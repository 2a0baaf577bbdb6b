/*
errors.go - Centralized error types for the cost engine

PURPOSE:
  All error kinds in one place for consistency and discoverability.
  Domain packages wrap these errors with additional context.

ERROR CATEGORIES:
  1. Structural errors - Invalid parent/child combinations
  2. Reference errors  - Dangling or cyclic percentage references
  3. Lifecycle errors  - Blocked deletes, valuation type changes
  4. Store errors      - Transaction-level write conflicts

USAGE:
  Callers classify with errors.Is:

    if errors.Is(err, costtree.ErrConcurrentConflict) {
        // retry the whole Apply
    }

  Every error except ErrConcurrentConflict is permanent for the given
  input and must be corrected by the caller.

SEE ALSO:
  - engine.go:    Where most errors originate
  - store/sqlite: Maps driver conflicts onto ErrConcurrentConflict
*/
package costtree

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrInvalidParent is returned when a create names a missing parent or a
	// parent whose kind cannot structurally hold the child kind.
	ErrInvalidParent = errors.New("invalid parent")

	// ErrDanglingReference is returned when a percentage item points at a
	// node that is absent or was deleted.
	ErrDanglingReference = errors.New("dangling reference")

	// ErrCyclicReference is returned when a reference edge would close a
	// cycle, including self-reference and referencing an own ancestor.
	ErrCyclicReference = errors.New("cyclic reference")

	// ErrReferencedByOthers is returned when a delete is blocked because
	// surviving percentage items still point into the doomed subtree.
	ErrReferencedByOthers = errors.New("referenced by other items")

	// ErrConcurrentConflict is returned when the underlying transaction
	// manager detects a write-write conflict. The whole Apply was rolled
	// back; the caller should retry it.
	ErrConcurrentConflict = errors.New("concurrent write conflict")

	// ErrNodeNotFound is returned when a mutation targets a missing node.
	ErrNodeNotFound = errors.New("node not found")

	// ErrValuationKindChange is returned when an update tries to switch an
	// item to a different valuation type. Model this as delete + recreate.
	ErrValuationKindChange = errors.New("valuation kind change not allowed")

	// ErrInvalidValuation is returned when a valuation is malformed, missing
	// on an Item, or present on a non-Item node.
	ErrInvalidValuation = errors.New("invalid valuation")

	// ErrDuplicateDisplayOrder is returned when a create or reorder would
	// give two siblings the same display order.
	ErrDuplicateDisplayOrder = errors.New("duplicate display order among siblings")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// InvalidParentError details a structural violation on create.
type InvalidParentError struct {
	ParentID   NodeID
	ParentKind NodeKind // zero when the parent does not exist
	ChildKind  NodeKind
}

func (e *InvalidParentError) Error() string {
	if e.ParentKind == "" {
		return fmt.Sprintf("invalid parent: %s does not exist", e.ParentID)
	}
	return fmt.Sprintf("invalid parent: %s cannot hold %s under %s", e.ParentID, e.ChildKind, e.ParentKind)
}

func (e *InvalidParentError) Unwrap() error { return ErrInvalidParent }

// DanglingReferenceError details a missing percentage reference.
type DanglingReferenceError struct {
	ItemID      NodeID // zero while validating a not-yet-created item
	ReferenceID NodeID
}

func (e *DanglingReferenceError) Error() string {
	return fmt.Sprintf("dangling reference: %s points at missing node %s", e.ItemID, e.ReferenceID)
}

func (e *DanglingReferenceError) Unwrap() error { return ErrDanglingReference }

// CyclicReferenceError details a rejected reference edge.
type CyclicReferenceError struct {
	From NodeID
	To   NodeID
}

func (e *CyclicReferenceError) Error() string {
	if e.From == e.To {
		return fmt.Sprintf("cyclic reference: %s cannot reference itself", e.From)
	}
	return fmt.Sprintf("cyclic reference: %s -> %s closes a dependency cycle", e.From, e.To)
}

func (e *CyclicReferenceError) Unwrap() error { return ErrCyclicReference }

// ReferencedByOthersError details a blocked delete.
type ReferencedByOthersError struct {
	NodeID    NodeID
	Referrers []NodeID // surviving percentage items pointing into the subtree
}

func (e *ReferencedByOthersError) Error() string {
	return fmt.Sprintf("cannot delete %s: still referenced by %d percentage item(s)", e.NodeID, len(e.Referrers))
}

func (e *ReferencedByOthersError) Unwrap() error { return ErrReferencedByOthers }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentConflict)
}

// IsClientError returns true if the error is due to invalid caller input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidParent) ||
		errors.Is(err, ErrDanglingReference) ||
		errors.Is(err, ErrCyclicReference) ||
		errors.Is(err, ErrReferencedByOthers) ||
		errors.Is(err, ErrValuationKindChange) ||
		errors.Is(err, ErrInvalidValuation) ||
		errors.Is(err, ErrDuplicateDisplayOrder)
}

// IsNotFound returns true if the error indicates a missing node.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNodeNotFound)
}
