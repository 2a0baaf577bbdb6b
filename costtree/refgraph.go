/*
refgraph.go - Cycle detection for percentage references

PURPOSE:
  Validates that reference edges (percentage item -> referenced node) keep
  the dependency graph acyclic. The check runs BEFORE the edge is
  persisted; once persisted, the propagator assumes acyclicity and never
  re-checks it, to avoid quadratic cost on every mutation.

DEPENDENCY GRAPH:
  A node's value depends on:
    - its children, when it is a non-leaf (aggregation edges)
    - its referenced node, when it is a percentage item (reference edges)

  Both edge kinds participate in cycles. A percentage item referencing its
  own ancestor is just as cyclic as a chain of percentage items closing on
  itself: the ancestor's aggregate would include the item that tracks it.

ALGORITHM:
  Depth-first reachability from the proposed reference target back to the
  referencing item, over existing dependency edges. Bounded by the total
  node count. Percentage chains are expected shallow in practice, but no
  depth limit is hard-coded; arbitrarily long acyclic chains are legal.

SEE ALSO:
  - propagate.go: Relies on the acyclicity this check guarantees
  - engine.go:    Invokes the check on create/update of percentage items
*/
package costtree

import "context"

// Checker validates proposed reference edges against the stored tree.
type Checker struct {
	Store Store
}

// CanAddEdge reports whether the edge from -> to may be added without
// closing a dependency cycle. Self-reference is always rejected.
func (c *Checker) CanAddEdge(ctx context.Context, from, to NodeID) (bool, error) {
	if from == to {
		return false, nil
	}

	// DFS from the target over depends-on edges; reaching `from` means the
	// target's value already (transitively) depends on the referencing item.
	visited := map[NodeID]bool{}
	stack := []NodeID{to}

	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if id == from {
			return false, nil
		}
		if visited[id] {
			continue
		}
		visited[id] = true

		node, err := c.Store.GetNode(ctx, id)
		if err != nil {
			return false, err
		}
		if node == nil {
			continue // dangling edges are handled elsewhere
		}

		if node.Kind.IsLeaf() {
			if node.Valuation != nil && node.Valuation.Kind == ValuationPercentageOf {
				stack = append(stack, node.Valuation.ReferenceID)
			}
			continue
		}

		children, err := c.Store.GetChildren(ctx, id)
		if err != nil {
			return false, err
		}
		for i := range children {
			stack = append(stack, children[i].ID)
		}
	}

	return true, nil
}
