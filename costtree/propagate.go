/*
propagate.go - Rollup propagation to a fixed point

PURPOSE:
  After any node's own total changes (by direct valuation or by a child's
  aggregate changing), recompute every node whose value depends on it until
  the tree reaches a fixed point. Runs inside the caller's transaction, so
  no intermediate state is externally observable.

ALGORITHM (one worklist, two dependency kinds):
  Pop a suspect node and recompute its own value: leaf items through the
  valuation resolver, non-leaf nodes as the sum of their children. If the
  stored total differs, write it, record the before/after snapshot, and
  push the node's parent (ancestor aggregation) plus every percentage item
  referencing it (reference propagation). An unchanged value pushes
  nothing: an unchanged aggregate cannot change its own ancestors.

TERMINATION:
  The dependency graph is acyclic (refgraph.go) and a node is revisited
  only when one of its inputs actually changed, bounding total work to
  O(edges + ancestor depth) per originating mutation.

FAILURE:
  If a percentage item's reference disappears mid-propagation (concurrent
  delete), settlement fails with ErrDanglingReference and the surrounding
  transaction rolls back rather than leaving partial aggregates.

SEE ALSO:
  - valuation.go: The pure resolver wrapped by resolveItem
  - engine.go:    Seeds settlement after each mutation
*/
package costtree

import (
	"context"
	"errors"
)

// Propagator keeps ancestor aggregates and dependent percentage items
// consistent with their inputs.
type Propagator struct {
	Store Store
}

// Settle recomputes the given suspect nodes and everything downstream of
// them, writing only values that actually changed. It returns a snapshot
// per touched node. Settling an already-settled tree writes nothing.
func (p *Propagator) Settle(ctx context.Context, seeds ...NodeID) (map[NodeID]NodeChange, error) {
	changes := map[NodeID]NodeChange{}

	queue := make([]NodeID, 0, len(seeds))
	queue = append(queue, seeds...)

	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]

		node, err := p.Store.GetNode(ctx, id)
		if err != nil {
			return nil, err
		}
		if node == nil {
			continue // deleted underneath us; its dependents were seeded separately
		}

		want, err := p.recompute(ctx, node)
		if err != nil {
			return nil, err
		}
		if node.Total.Equal(want) {
			continue // short-circuit: nothing downstream can change
		}

		before := node.Clone()
		if err := p.Store.SetTotal(ctx, id, want); err != nil {
			return nil, err
		}
		after := node.Clone()
		after.Total = want
		recordChange(changes, id, before, after)

		if node.ParentID != nil {
			queue = append(queue, *node.ParentID)
		}
		dependents, err := p.Store.ReferencingItems(ctx, id)
		if err != nil {
			return nil, err
		}
		for i := range dependents {
			queue = append(queue, dependents[i].ID)
		}
	}

	return changes, nil
}

// recompute returns the value the node should hold given current inputs.
func (p *Propagator) recompute(ctx context.Context, node *CostNode) (Amount, error) {
	if node.Kind.IsLeaf() {
		return p.resolveItem(ctx, node)
	}

	children, err := p.Store.GetChildren(ctx, node.ID)
	if err != nil {
		return Amount{}, err
	}
	sum := ZeroAmount()
	for i := range children {
		sum = sum.Add(children[i].Total)
	}
	return sum.RoundMinor(), nil
}

// resolveItem resolves a leaf through the pure resolver, with reference
// lookups served from the store and store failures surfaced as such.
func (p *Propagator) resolveItem(ctx context.Context, node *CostNode) (Amount, error) {
	if node.Valuation == nil {
		return Amount{}, ErrInvalidValuation
	}

	var lookupErr error
	amount, err := Resolve(*node.Valuation, func(id NodeID) (Amount, bool) {
		ref, gerr := p.Store.GetNode(ctx, id)
		if gerr != nil {
			lookupErr = gerr
			return Amount{}, false
		}
		if ref == nil {
			return Amount{}, false
		}
		return ref.Total, true
	})
	if lookupErr != nil {
		return Amount{}, lookupErr
	}
	if err != nil {
		var dangling *DanglingReferenceError
		if errors.As(err, &dangling) {
			dangling.ItemID = node.ID
		}
		return Amount{}, err
	}
	return amount, nil
}

// recordChange keeps the earliest Before and the latest After for a node
// that settlement touches more than once.
func recordChange(changes map[NodeID]NodeChange, id NodeID, before, after *CostNode) {
	if existing, ok := changes[id]; ok {
		existing.After = after
		changes[id] = existing
		return
	}
	changes[id] = NodeChange{Before: before, After: after}
}
