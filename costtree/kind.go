/*
kind.go - Document kind registration and lookup

PURPOSE:
  Provides a registry for business packages to register their document
  kinds. BOQs, cost reports, final accounts and budgets are all views over
  the same engine; the registry is how storage and the API reconstruct a
  concrete kind from its stored ID without this package knowing any of
  them.

USAGE:
  // In boq/types.go
  func init() {
      costtree.RegisterKind(boq.KindBillOfQuantities)
  }

  // In storage / API
  kind := costtree.LookupKind("boq")

WHY A REGISTRY:
  - The engine package stays domain-agnostic
  - Domains own their types
  - Clean reconstruction from stored strings

SEE ALSO:
  - boq/types.go:    Bill of Quantities kind
  - budget/types.go: Budget, cost report and final account kinds
*/
package costtree

import (
	"fmt"
	"sync"
)

// DocumentKind identifies which business family a root Document belongs
// to. The engine has no knowledge of specific kinds; domain packages
// define concrete implementations and register them.
type DocumentKind interface {
	// KindID returns the unique identifier stored with document records.
	KindID() string

	// KindDomain returns which domain package owns this kind.
	KindDomain() string
}

// =============================================================================
// KIND REGISTRY
// =============================================================================

var (
	kindRegistry = make(map[string]DocumentKind)
	kindMu       sync.RWMutex
)

// RegisterKind adds a document kind to the global registry.
// Call this from domain package init() functions.
func RegisterKind(k DocumentKind) {
	kindMu.Lock()
	defer kindMu.Unlock()
	kindRegistry[k.KindID()] = k
}

// LookupKind finds a registered kind by ID. Returns nil if not found.
func LookupKind(id string) DocumentKind {
	kindMu.RLock()
	defer kindMu.RUnlock()
	return kindRegistry[id]
}

// MustLookupKind finds a registered kind or panics. Use in tests or when
// the kind is certain to exist.
func MustLookupKind(id string) DocumentKind {
	k := LookupKind(id)
	if k == nil {
		panic(fmt.Sprintf("document kind not registered: %s", id))
	}
	return k
}

// ListKinds returns all registered document kinds.
func ListKinds() []DocumentKind {
	kindMu.RLock()
	defer kindMu.RUnlock()
	kinds := make([]DocumentKind, 0, len(kindRegistry))
	for _, k := range kindRegistry {
		kinds = append(kinds, k)
	}
	return kinds
}
