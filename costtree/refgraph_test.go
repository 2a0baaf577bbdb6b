package costtree_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/warp/cost-engine/costtree"
	"github.com/warp/cost-engine/costtree/store"
)

// =============================================================================
// CYCLE DETECTION TESTS
// =============================================================================

func assertEdge(t *testing.T, checker *costtree.Checker, from, to costtree.NodeID, want bool) {
	t.Helper()
	ok, err := checker.CanAddEdge(context.Background(), from, to)
	if err != nil {
		t.Fatalf("CanAddEdge(%s, %s): %v", from, to, err)
	}
	if ok != want {
		t.Errorf("CanAddEdge(%s, %s) = %v, want %v", from, to, ok, want)
	}
}

func TestChecker_SelfReferenceRejected(t *testing.T) {
	checker := &costtree.Checker{Store: store.NewMemory()}
	assertEdge(t, checker, "a", "a", false)
}

func TestChecker_ReferenceChainCycle(t *testing.T) {
	// GIVEN: I4 -> I3 -> I1 (percentage chain)
	// WHEN: Checking I1 -> I4
	// THEN: Rejected; the chain would close on itself

	ctx := context.Background()
	engine := newTestEngine()
	tree := buildBasicTree(t, ctx, engine)

	i3 := mustApply(t, engine, costtree.Create{
		ParentID: &tree.group, Kind: costtree.KindItem, Label: "Overheads", DisplayOrder: 3,
		Valuation: costtree.PercentageOfValuation(tree.i1, "10"),
	})
	i4 := mustApply(t, engine, costtree.Create{
		ParentID: &tree.group, Kind: costtree.KindItem, Label: "Margin", DisplayOrder: 4,
		Valuation: costtree.PercentageOfValuation(i3, "20"),
	})

	checker := checkerOver(engine, t)
	assertEdge(t, checker, tree.i1, i4, false)
	assertEdge(t, checker, tree.i1, tree.i2, true) // unrelated sibling is fine
}

func TestChecker_AncestorReferenceRejected(t *testing.T) {
	// An item's group aggregates the item, so item -> group is cyclic even
	// though no percentage chain exists yet.
	ctx := context.Background()
	engine := newTestEngine()
	tree := buildBasicTree(t, ctx, engine)

	checker := checkerOver(engine, t)
	assertEdge(t, checker, tree.i1, tree.group, false)
	assertEdge(t, checker, tree.i1, tree.doc, false)
}

func TestChecker_CrossGroupReferenceAllowed(t *testing.T) {
	// References may span groups; only cycles are forbidden.
	ctx := context.Background()
	engine := newTestEngine()
	tree := buildBasicTree(t, ctx, engine)

	g2 := mustApply(t, engine, costtree.Create{
		ParentID: &tree.doc, Kind: costtree.KindGroup, Label: "Externals", DisplayOrder: 2,
	})
	other := mustApply(t, engine, costtree.Create{
		ParentID: &g2, Kind: costtree.KindItem, Label: "Fencing", DisplayOrder: 1,
		Valuation: costtree.FixedSumValuation("30"),
	})

	checker := checkerOver(engine, t)
	assertEdge(t, checker, tree.i1, other, true)
	// But an item may not reference a sibling group's parent chain that
	// contains itself: i1 -> doc still closes through aggregation.
	assertEdge(t, checker, tree.i1, tree.doc, false)
}

func TestChecker_LongAcyclicChainAllowed(t *testing.T) {
	// A 20-deep percentage chain is legal; no depth limit applies.
	ctx := context.Background()
	engine := newTestEngine()
	tree := buildBasicTree(t, ctx, engine)

	prev := tree.i1
	for i := 0; i < 20; i++ {
		prev = mustApply(t, engine, costtree.Create{
			ParentID: &tree.group, Kind: costtree.KindItem,
			Label:        fmt.Sprintf("Uplift %d", i),
			DisplayOrder: 10 + i,
			Valuation:    costtree.PercentageOfValuation(prev, "50"),
		})
	}

	checker := checkerOver(engine, t)
	// One more link onto the end is still acyclic.
	assertEdge(t, checker, tree.i2, prev, true)
	// Closing the loop from the base is not.
	assertEdge(t, checker, tree.i1, prev, false)
}

// checkerOver builds a Checker over the engine's persisted tree; the
// checker only needs read access.
func checkerOver(engine *costtree.Engine, t *testing.T) *costtree.Checker {
	t.Helper()
	return &costtree.Checker{Store: engineStore{engine}}
}

// engineStore adapts the engine's read accessors to the Store interface for
// checker tests. Write methods are never called by CanAddEdge.
type engineStore struct {
	engine *costtree.Engine
}

func (s engineStore) CreateNode(context.Context, *costtree.CostNode) error { panic("read-only") }
func (s engineStore) GetNode(ctx context.Context, id costtree.NodeID) (*costtree.CostNode, error) {
	return s.engine.GetNode(ctx, id)
}
func (s engineStore) GetChildren(ctx context.Context, id costtree.NodeID) ([]costtree.CostNode, error) {
	return s.engine.GetChildren(ctx, id)
}
func (s engineStore) GetAncestors(ctx context.Context, id costtree.NodeID) ([]costtree.CostNode, error) {
	return s.engine.GetAncestors(ctx, id)
}
func (s engineStore) SetTotal(context.Context, costtree.NodeID, costtree.Amount) error {
	panic("read-only")
}
func (s engineStore) SetValuation(context.Context, costtree.NodeID, costtree.ItemValuation) error {
	panic("read-only")
}
func (s engineStore) SetDisplayOrder(context.Context, costtree.NodeID, int) error {
	panic("read-only")
}
func (s engineStore) DeleteSubtree(context.Context, costtree.NodeID) error { panic("read-only") }
func (s engineStore) SubtreeIDs(context.Context, costtree.NodeID) ([]costtree.NodeID, error) {
	panic("read-only")
}
func (s engineStore) ReferencingItems(context.Context, costtree.NodeID) ([]costtree.CostNode, error) {
	panic("read-only")
}
func (s engineStore) ListRoots(ctx context.Context) ([]costtree.CostNode, error) {
	return s.engine.ListRoots(ctx)
}
