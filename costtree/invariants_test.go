package costtree_test

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"testing"

	"github.com/warp/cost-engine/costtree"
	"github.com/warp/cost-engine/costtree/store"
)

// =============================================================================
// AGGREGATE INVARIANT PROPERTY TEST
// =============================================================================
// After every successful mutation:
//   1. every non-leaf total equals the sum of its children's totals
//   2. every item total equals its valuation resolved against current totals

func assertInvariants(t *testing.T, engine *costtree.Engine, rootID costtree.NodeID) {
	t.Helper()
	ctx := context.Background()

	var walk func(id costtree.NodeID)
	walk = func(id costtree.NodeID) {
		node, err := engine.GetNode(ctx, id)
		if err != nil {
			t.Fatalf("get %s: %v", id, err)
		}
		if node == nil {
			t.Fatalf("node %s vanished", id)
		}

		if node.Kind.IsLeaf() {
			want, err := costtree.Resolve(*node.Valuation, func(ref costtree.NodeID) (costtree.Amount, bool) {
				refNode, gerr := engine.GetNode(ctx, ref)
				if gerr != nil || refNode == nil {
					return costtree.ZeroAmount(), false
				}
				return refNode.Total, true
			})
			if err != nil {
				t.Fatalf("resolve %s: %v", id, err)
			}
			if !node.Total.Equal(want) {
				t.Fatalf("item %s total %s, valuation resolves to %s", id, node.Total, want)
			}
			return
		}

		children, err := engine.GetChildren(ctx, id)
		if err != nil {
			t.Fatalf("children of %s: %v", id, err)
		}
		sum := costtree.ZeroAmount()
		for i := range children {
			sum = sum.Add(children[i].Total)
			walk(children[i].ID)
		}
		if !node.Total.Equal(sum.RoundMinor()) {
			t.Fatalf("%s %s total %s, children sum %s", node.Kind, id, node.Total, sum)
		}
	}
	walk(rootID)
}

func TestInvariants_RandomMutationSequences(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	ctx := context.Background()
	engine := newTestEngine()

	doc := mustApply(t, engine, costtree.Create{Kind: costtree.KindDocument, Label: "Fuzz doc"})

	var groups, items []costtree.NodeID
	nextOrder := 0

	for i := 0; i < 3; i++ {
		nextOrder++
		groups = append(groups, mustApply(t, engine, costtree.Create{
			ParentID: &doc, Kind: costtree.KindGroup,
			Label: fmt.Sprintf("Group %d", i), DisplayOrder: nextOrder,
		}))
	}

	expectable := func(err error) bool {
		// Mutations picked blindly may legitimately be rejected; anything
		// else is a real failure.
		return errors.Is(err, costtree.ErrCyclicReference) ||
			errors.Is(err, costtree.ErrReferencedByOthers) ||
			errors.Is(err, costtree.ErrNodeNotFound) ||
			errors.Is(err, costtree.ErrDuplicateDisplayOrder)
	}

	amount := func() string { return fmt.Sprintf("%d.%02d", rng.Intn(5000), rng.Intn(100)) }

	for step := 0; step < 200; step++ {
		var err error
		switch op := rng.Intn(10); {
		case op < 4: // add a valued item
			parent := groups[rng.Intn(len(groups))]
			nextOrder++
			var res *costtree.Result
			res, err = engine.Apply(ctx, costtree.Create{
				ParentID: &parent, Kind: costtree.KindItem,
				Label: fmt.Sprintf("Item %d", step), DisplayOrder: nextOrder,
				Valuation: costtree.FixedSumValuation(amount()),
			})
			if err == nil {
				items = append(items, res.NodeID)
			}

		case op < 6 && len(items) > 0: // add a percentage tracker
			parent := groups[rng.Intn(len(groups))]
			ref := items[rng.Intn(len(items))]
			nextOrder++
			var res *costtree.Result
			res, err = engine.Apply(ctx, costtree.Create{
				ParentID: &parent, Kind: costtree.KindItem,
				Label: fmt.Sprintf("Tracker %d", step), DisplayOrder: nextOrder,
				Valuation: costtree.PercentageOfValuation(ref, fmt.Sprintf("%d", 1+rng.Intn(50))),
			})
			if err == nil {
				items = append(items, res.NodeID)
			}

		case op < 8 && len(items) > 0: // update a fixed item in place
			id := items[rng.Intn(len(items))]
			node, gerr := engine.GetNode(ctx, id)
			if gerr != nil || node == nil || node.Valuation.Kind != costtree.ValuationFixedSum {
				continue
			}
			_, err = engine.Apply(ctx, costtree.Update{
				NodeID:    id,
				Valuation: *costtree.FixedSumValuation(amount()),
			})

		case len(items) > 0: // delete an item; may be blocked by referrers
			idx := rng.Intn(len(items))
			_, err = engine.Apply(ctx, costtree.Delete{NodeID: items[idx]})
			if err == nil {
				items = append(items[:idx], items[idx+1:]...)
			}

		default:
			continue
		}

		if err != nil && !expectable(err) {
			t.Fatalf("step %d: unexpected error %v", step, err)
		}
		assertInvariants(t, engine, doc)
	}
}

// =============================================================================
// SETTLEMENT IDEMPOTENCE
// =============================================================================

// countingStore wraps a Store and counts total writes.
type countingStore struct {
	costtree.Store
	setTotalCalls int
}

func (c *countingStore) SetTotal(ctx context.Context, id costtree.NodeID, total costtree.Amount) error {
	c.setTotalCalls++
	return c.Store.SetTotal(ctx, id, total)
}

func TestSettle_IdempotentOnSettledTree(t *testing.T) {
	// GIVEN: A settled tree with measured, fixed and percentage items
	// WHEN: Settling again from every node
	// THEN: Not a single total is written

	ctx := context.Background()
	mem := store.NewTxMemory()
	engine := costtree.NewEngine(mem)

	doc := mustApply(t, engine, costtree.Create{Kind: costtree.KindDocument, Label: "Doc"})
	group := mustApply(t, engine, costtree.Create{
		ParentID: &doc, Kind: costtree.KindGroup, Label: "Works", DisplayOrder: 1,
	})
	i1 := mustApply(t, engine, costtree.Create{
		ParentID: &group, Kind: costtree.KindItem, Label: "Base", DisplayOrder: 1,
		Valuation: costtree.QuantityValuation("10", "5", "2"),
	})
	mustApply(t, engine, costtree.Create{
		ParentID: &group, Kind: costtree.KindItem, Label: "Tracker", DisplayOrder: 2,
		Valuation: costtree.PercentageOfValuation(i1, "10"),
	})

	counting := &countingStore{Store: mem}
	prop := &costtree.Propagator{Store: counting}

	changes, err := prop.Settle(ctx, i1, group, doc)
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	if len(changes) != 0 {
		t.Errorf("re-settling reported %d changes, want 0", len(changes))
	}
	if counting.setTotalCalls != 0 {
		t.Errorf("re-settling wrote %d totals, want 0", counting.setTotalCalls)
	}
}
