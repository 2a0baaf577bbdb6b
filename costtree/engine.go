/*
engine.go - The mutation gateway

PURPOSE:
  The sole externally callable mutation surface. Sequences the valuation
  resolver, reference graph checker and rollup propagator inside one store
  transaction, and returns a fully settled result or a clear failure.

SEQUENCING (create/update of a percentage item):
  1. Structural validation (parent kind, valuation shape, sibling order)
  2. Reference resolution (target must exist)
  3. Reference graph check (edge must not close a cycle)
  4. Persistence through the store
  5. Settlement to a fixed point

SIDE EFFECT CONTRACT:
  Every successful Apply leaves the tree satisfying all invariants; a
  failed Apply leaves no partial writes behind. Deletion cascades across
  parent/child edges only, never across reference edges: deletes are
  rejected while surviving percentage items point into the doomed subtree.

VERSIONING:
  Each successful Apply returns a monotonically increasing version owned
  by this engine instance, replacing shared "current version" counter rows.

SEE ALSO:
  - propagate.go: Settlement algorithm
  - refgraph.go:  Cycle detection
  - audit.go:     Collaborator interfaces fed after settlement
*/
package costtree

import (
	"context"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// ENGINE
// =============================================================================

// Engine is the mutation gateway over one cost tree store.
type Engine struct {
	store   TxStore
	audit   AuditSink
	notify  Notifier
	version atomic.Int64
	now     func() time.Time
}

// Option configures optional engine collaborators.
type Option func(*Engine)

// WithAuditSink hands before/after snapshots of every touched node to the
// audit collaborator after each successful Apply.
func WithAuditSink(sink AuditSink) Option {
	return func(e *Engine) { e.audit = sink }
}

// WithNotifier reports which root Documents had their total change after
// each successful Apply.
func WithNotifier(n Notifier) Option {
	return func(e *Engine) { e.notify = n }
}

func NewEngine(store TxStore, opts ...Option) *Engine {
	e := &Engine{store: store, now: time.Now}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// =============================================================================
// READ ACCESSORS - For presentation and wrapper packages
// =============================================================================

func (e *Engine) GetNode(ctx context.Context, id NodeID) (*CostNode, error) {
	return e.store.GetNode(ctx, id)
}

func (e *Engine) GetChildren(ctx context.Context, id NodeID) ([]CostNode, error) {
	return e.store.GetChildren(ctx, id)
}

func (e *Engine) GetAncestors(ctx context.Context, id NodeID) ([]CostNode, error) {
	return e.store.GetAncestors(ctx, id)
}

func (e *Engine) ListRoots(ctx context.Context) ([]CostNode, error) {
	return e.store.ListRoots(ctx)
}

// =============================================================================
// APPLY
// =============================================================================

// Apply executes one mutation atomically and settles the tree. On success
// the result carries the settled snapshots; on failure nothing was written.
func (e *Engine) Apply(ctx context.Context, m Mutation) (*Result, error) {
	res := &Result{Changed: map[NodeID]NodeChange{}}

	err := e.store.WithTx(ctx, func(s Store) error {
		return e.applyIn(ctx, s, m, res)
	})
	if err != nil {
		return nil, err
	}

	res.Version = e.version.Add(1)
	res.ChangedRoots = changedRoots(res.Changed)

	if e.audit != nil {
		e.audit.Record(ctx, e.auditEntries(res, m))
	}
	if e.notify != nil && len(res.ChangedRoots) > 0 {
		e.notify.TotalsChanged(ctx, res.ChangedRoots)
	}
	return res, nil
}

func (e *Engine) applyIn(ctx context.Context, s Store, m Mutation, res *Result) error {
	switch mut := m.(type) {
	case Create:
		return e.applyCreate(ctx, s, mut, res)
	case Update:
		return e.applyUpdate(ctx, s, mut, res)
	case Reorder:
		return e.applyReorder(ctx, s, mut, res)
	case Delete:
		return e.applyDelete(ctx, s, mut, res)
	}
	return fmt.Errorf("unknown mutation type %T", m)
}

// =============================================================================
// CREATE
// =============================================================================

func (e *Engine) applyCreate(ctx context.Context, s Store, m Create, res *Result) error {
	if !m.Kind.Valid() {
		return fmt.Errorf("%w: unknown node kind %q", ErrInvalidParent, m.Kind)
	}
	if err := ValidateValuation(m.Kind, m.Valuation); err != nil {
		return err
	}

	if m.ParentID == nil {
		if m.Kind != KindDocument {
			return fmt.Errorf("%w: %s requires a parent", ErrInvalidParent, m.Kind)
		}
	} else {
		parent, err := s.GetNode(ctx, *m.ParentID)
		if err != nil {
			return err
		}
		if parent == nil {
			return &InvalidParentError{ParentID: *m.ParentID, ChildKind: m.Kind}
		}
		if !parent.Kind.CanParent(m.Kind) {
			return &InvalidParentError{ParentID: parent.ID, ParentKind: parent.Kind, ChildKind: m.Kind}
		}
		if err := checkSiblingOrder(ctx, s, *m.ParentID, m.DisplayOrder, ""); err != nil {
			return err
		}
	}

	node := &CostNode{
		ID:           NodeID(uuid.NewString()),
		ParentID:     m.ParentID,
		Kind:         m.Kind,
		Label:        m.Label,
		DisplayOrder: m.DisplayOrder,
		Total:        ZeroAmount(),
	}
	if m.Valuation != nil {
		v := *m.Valuation
		node.Valuation = &v
	}

	if err := s.CreateNode(ctx, node); err != nil {
		return err
	}

	// The edge check runs after the node exists so that references into the
	// new item's own ancestor chain are caught as cycles.
	if node.Valuation != nil && node.Valuation.Kind == ValuationPercentageOf {
		if err := e.checkReference(ctx, s, node.ID, node.Valuation.ReferenceID); err != nil {
			return err
		}
	}

	res.NodeID = node.ID
	res.Changed[node.ID] = NodeChange{Before: nil, After: node.Clone()}
	return e.settleInto(ctx, s, res, node.ID)
}

// =============================================================================
// UPDATE
// =============================================================================

func (e *Engine) applyUpdate(ctx context.Context, s Store, m Update, res *Result) error {
	node, err := s.GetNode(ctx, m.NodeID)
	if err != nil {
		return err
	}
	if node == nil {
		return fmt.Errorf("%w: %s", ErrNodeNotFound, m.NodeID)
	}
	if !node.Kind.IsLeaf() || node.Valuation == nil {
		return fmt.Errorf("%w: %s is not a valued item", ErrInvalidValuation, m.NodeID)
	}
	if node.Valuation.Kind != m.Valuation.Kind {
		return fmt.Errorf("%w: %s -> %s on %s",
			ErrValuationKindChange, node.Valuation.Kind, m.Valuation.Kind, m.NodeID)
	}

	if m.Valuation.Kind == ValuationPercentageOf {
		if err := e.checkReference(ctx, s, node.ID, m.Valuation.ReferenceID); err != nil {
			return err
		}
	}

	before := node.Clone()
	if err := s.SetValuation(ctx, node.ID, m.Valuation); err != nil {
		return err
	}
	after := node.Clone()
	v := m.Valuation
	after.Valuation = &v

	res.NodeID = node.ID
	res.Changed[node.ID] = NodeChange{Before: before, After: after}
	return e.settleInto(ctx, s, res, node.ID)
}

// =============================================================================
// REORDER
// =============================================================================

func (e *Engine) applyReorder(ctx context.Context, s Store, m Reorder, res *Result) error {
	node, err := s.GetNode(ctx, m.NodeID)
	if err != nil {
		return err
	}
	if node == nil {
		return fmt.Errorf("%w: %s", ErrNodeNotFound, m.NodeID)
	}

	if node.ParentID != nil {
		if err := checkSiblingOrder(ctx, s, *node.ParentID, m.DisplayOrder, node.ID); err != nil {
			return err
		}
	}

	before := node.Clone()
	if err := s.SetDisplayOrder(ctx, node.ID, m.DisplayOrder); err != nil {
		return err
	}
	after := node.Clone()
	after.DisplayOrder = m.DisplayOrder

	// Display order never affects valuation; no settlement needed.
	res.NodeID = node.ID
	res.Changed[node.ID] = NodeChange{Before: before, After: after}
	return nil
}

// =============================================================================
// DELETE
// =============================================================================

func (e *Engine) applyDelete(ctx context.Context, s Store, m Delete, res *Result) error {
	node, err := s.GetNode(ctx, m.NodeID)
	if err != nil {
		return err
	}
	if node == nil {
		return fmt.Errorf("%w: %s", ErrNodeNotFound, m.NodeID)
	}

	subtree, err := s.SubtreeIDs(ctx, node.ID)
	if err != nil {
		return err
	}
	doomed := make(map[NodeID]bool, len(subtree))
	for _, id := range subtree {
		doomed[id] = true
	}

	// Reference edges never cascade: every surviving percentage item that
	// points into the subtree blocks the delete.
	var referrers []NodeID
	for _, id := range subtree {
		items, err := s.ReferencingItems(ctx, id)
		if err != nil {
			return err
		}
		for i := range items {
			if !doomed[items[i].ID] {
				referrers = append(referrers, items[i].ID)
			}
		}
	}
	if len(referrers) > 0 {
		return &ReferencedByOthersError{NodeID: node.ID, Referrers: referrers}
	}

	for _, id := range subtree {
		victim, err := s.GetNode(ctx, id)
		if err != nil {
			return err
		}
		if victim != nil {
			res.Changed[id] = NodeChange{Before: victim.Clone(), After: nil}
		}
	}

	if err := s.DeleteSubtree(ctx, node.ID); err != nil {
		return err
	}

	res.NodeID = node.ID
	if node.ParentID != nil {
		return e.settleInto(ctx, s, res, *node.ParentID)
	}
	return nil
}

// =============================================================================
// SHARED HELPERS
// =============================================================================

// checkReference validates existence and acyclicity of a proposed edge.
func (e *Engine) checkReference(ctx context.Context, s Store, from, to NodeID) error {
	target, err := s.GetNode(ctx, to)
	if err != nil {
		return err
	}
	if target == nil {
		return &DanglingReferenceError{ItemID: from, ReferenceID: to}
	}

	checker := &Checker{Store: s}
	ok, err := checker.CanAddEdge(ctx, from, to)
	if err != nil {
		return err
	}
	if !ok {
		return &CyclicReferenceError{From: from, To: to}
	}
	return nil
}

// settleInto runs the propagator and merges its snapshots into the result,
// preserving the earliest Before recorded for each node.
func (e *Engine) settleInto(ctx context.Context, s Store, res *Result, seeds ...NodeID) error {
	prop := &Propagator{Store: s}
	settled, err := prop.Settle(ctx, seeds...)
	if err != nil {
		return err
	}
	for id, change := range settled {
		if existing, ok := res.Changed[id]; ok {
			existing.After = change.After
			res.Changed[id] = existing
			continue
		}
		res.Changed[id] = change
	}
	return nil
}

func checkSiblingOrder(ctx context.Context, s Store, parentID NodeID, order int, self NodeID) error {
	siblings, err := s.GetChildren(ctx, parentID)
	if err != nil {
		return err
	}
	for i := range siblings {
		if siblings[i].ID == self {
			continue
		}
		if siblings[i].DisplayOrder == order {
			return fmt.Errorf("%w: order %d under %s", ErrDuplicateDisplayOrder, order, parentID)
		}
	}
	return nil
}

func changedRoots(changes map[NodeID]NodeChange) []NodeID {
	var roots []NodeID
	for id, change := range changes {
		n := change.After
		if n == nil {
			n = change.Before
		}
		if n != nil && n.Kind == KindDocument && change.TotalChanged() {
			roots = append(roots, id)
		}
	}
	return roots
}

func (e *Engine) auditEntries(res *Result, m Mutation) []AuditEntry {
	entries := make([]AuditEntry, 0, len(res.Changed))
	at := e.now().UTC()
	for id, change := range res.Changed {
		entries = append(entries, AuditEntry{
			Version:  res.Version,
			Mutation: mutationName(m),
			NodeID:   id,
			Before:   change.Before,
			After:    change.After,
			At:       at,
		})
	}
	// Changed is a map; sort so one mutation always feeds the sink in the
	// same order.
	sort.Slice(entries, func(i, j int) bool { return entries[i].NodeID < entries[j].NodeID })
	return entries
}

func mutationName(m Mutation) string {
	switch m.(type) {
	case Create:
		return "create"
	case Update:
		return "update"
	case Reorder:
		return "reorder"
	case Delete:
		return "delete"
	}
	return "unknown"
}
