/*
store.go - Persistence interfaces for the cost node tree

PURPOSE:
  Defines the interface between the engine and the database. The Store owns
  node identity, parent/child edges and the stored fields; it holds no
  valuation logic. Different implementations can use SQLite, PostgreSQL,
  or in-memory storage.

KEY INTERFACES:
  Store:         Node persistence and tree traversal queries
  TxStore:       Transactional wrapper; every Apply runs inside one WithTx
  DocumentStore: Which root Documents belong to which business family

WRITE DISCIPLINE:
  SetTotal is a raw write used only by the rollup propagator after
  computation. API consumers never call it; they go through Engine.Apply.

SNAPSHOT READS:
  All reads performed inside one WithTx observe a single consistent
  snapshot. Two Applies touching disjoint subtrees may run in parallel;
  overlapping ones are serialized by the transaction manager and surface
  ErrConcurrentConflict to the loser.

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go:   Durable SQLite store (goose migrations)
  - costtree/store/memory.go: In-memory store for tests and demos

SEE ALSO:
  - propagate.go: The only caller of SetTotal
  - engine.go:    Sequences validation, persistence and settlement
*/
package costtree

import (
	"context"
	"time"
)

// =============================================================================
// STORE - Node persistence and traversal
// =============================================================================

type Store interface {
	// CreateNode persists a new node. The store assigns CreatedSeq.
	CreateNode(ctx context.Context, node *CostNode) error

	// GetNode returns the node or (nil, nil) if absent.
	GetNode(ctx context.Context, id NodeID) (*CostNode, error)

	// GetChildren returns direct children ordered by display order ascending,
	// ties broken by creation order.
	GetChildren(ctx context.Context, id NodeID) ([]CostNode, error)

	// GetAncestors returns the parent chain ordered leaf-to-root, excluding
	// the node itself. Finite by construction.
	GetAncestors(ctx context.Context, id NodeID) ([]CostNode, error)

	// SetTotal is a raw total write. Propagator use only.
	SetTotal(ctx context.Context, id NodeID, total Amount) error

	// SetValuation replaces an Item's valuation fields.
	SetValuation(ctx context.Context, id NodeID, v ItemValuation) error

	// SetDisplayOrder moves a node among its siblings.
	SetDisplayOrder(ctx context.Context, id NodeID, order int) error

	// DeleteSubtree removes the node and every descendant.
	DeleteSubtree(ctx context.Context, id NodeID) error

	// SubtreeIDs returns the IDs of the node and all its descendants.
	SubtreeIDs(ctx context.Context, id NodeID) ([]NodeID, error)

	// ReferencingItems returns every percentage item whose reference points
	// at the given node, in creation order.
	ReferencingItems(ctx context.Context, target NodeID) ([]CostNode, error)

	// ListRoots returns all root Document nodes.
	ListRoots(ctx context.Context) ([]CostNode, error)
}

// =============================================================================
// TRANSACTIONAL STORE
// =============================================================================

// TxStore wraps Store with transaction support. If fn returns an error the
// transaction is rolled back and no partial writes survive.
type TxStore interface {
	Store

	WithTx(ctx context.Context, fn func(Store) error) error
}

// =============================================================================
// DOCUMENT STORE - Root ownership records for business document families
// =============================================================================

// DocumentRecord links a root Document node to the business family that
// owns it (BOQ, cost report, final account, budget, ...).
type DocumentRecord struct {
	NodeID    NodeID
	Kind      string // a registered DocumentKind ID
	Title     string
	CreatedAt time.Time
}

type DocumentStore interface {
	SaveDocument(ctx context.Context, rec DocumentRecord) error

	// GetDocument returns the record or (nil, nil) if absent.
	GetDocument(ctx context.Context, id NodeID) (*DocumentRecord, error)

	// ListDocuments returns records for one kind, or all kinds when kind
	// is empty, ordered by creation time.
	ListDocuments(ctx context.Context, kind string) ([]DocumentRecord, error)

	DeleteDocument(ctx context.Context, id NodeID) error
}
