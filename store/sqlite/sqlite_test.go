package sqlite_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/cost-engine/costtree"
	"github.com/warp/cost-engine/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestStore(t *testing.T) *sqlite.Store {
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func newNode(id, parent string, kind costtree.NodeKind, order int) *costtree.CostNode {
	node := &costtree.CostNode{
		ID:           costtree.NodeID(id),
		Kind:         kind,
		Label:        id,
		DisplayOrder: order,
		Total:        costtree.ZeroAmount(),
	}
	if parent != "" {
		pid := costtree.NodeID(parent)
		node.ParentID = &pid
	}
	return node
}

// seedTree persists doc -> group -> (item-a quantity, item-b fixed).
func seedTree(t *testing.T, store *sqlite.Store) {
	t.Helper()
	ctx := context.Background()

	require.NoError(t, store.CreateNode(ctx, newNode("doc", "", costtree.KindDocument, 0)))
	require.NoError(t, store.CreateNode(ctx, newNode("group", "doc", costtree.KindGroup, 1)))

	itemA := newNode("item-a", "group", costtree.KindItem, 1)
	itemA.Valuation = costtree.QuantityValuation("10", "5", "2")
	require.NoError(t, store.CreateNode(ctx, itemA))

	itemB := newNode("item-b", "group", costtree.KindItem, 2)
	itemB.Valuation = costtree.FixedSumValuation("100")
	require.NoError(t, store.CreateNode(ctx, itemB))
}

// =============================================================================
// NODE CRUD
// =============================================================================

func TestStore_NodeRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	seedTree(t, store)

	node, err := store.GetNode(ctx, "item-a")
	require.NoError(t, err)
	require.NotNil(t, node)

	assert.Equal(t, costtree.KindItem, node.Kind)
	assert.Equal(t, "item-a", node.Label)
	require.NotNil(t, node.ParentID)
	assert.Equal(t, costtree.NodeID("group"), *node.ParentID)

	require.NotNil(t, node.Valuation)
	assert.Equal(t, costtree.ValuationQuantity, node.Valuation.Kind)
	assert.True(t, node.Valuation.Qty.Equal(costtree.MustParseDecimal("10")))
	assert.True(t, node.Valuation.SupplyRate.Equal(costtree.MustParseDecimal("5")))
	assert.True(t, node.Valuation.InstallRate.Equal(costtree.MustParseDecimal("2")))
}

func TestStore_GetNode_MissingReturnsNil(t *testing.T) {
	store := newTestStore(t)

	node, err := store.GetNode(context.Background(), "nope")
	require.NoError(t, err)
	assert.Nil(t, node)
}

func TestStore_ChildrenOrderedByDisplayOrder(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	seedTree(t, store)

	// Insert out of order; reads must sort by display_order.
	itemC := newNode("item-c", "group", costtree.KindItem, 0)
	itemC.Valuation = costtree.HeaderValuation()
	require.NoError(t, store.CreateNode(ctx, itemC))

	children, err := store.GetChildren(ctx, "group")
	require.NoError(t, err)
	require.Len(t, children, 3)
	assert.Equal(t, costtree.NodeID("item-c"), children[0].ID)
	assert.Equal(t, costtree.NodeID("item-a"), children[1].ID)
	assert.Equal(t, costtree.NodeID("item-b"), children[2].ID)
}

func TestStore_AncestorsLeafToRoot(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	seedTree(t, store)

	ancestors, err := store.GetAncestors(ctx, "item-a")
	require.NoError(t, err)
	require.Len(t, ancestors, 2)
	assert.Equal(t, costtree.NodeID("group"), ancestors[0].ID)
	assert.Equal(t, costtree.NodeID("doc"), ancestors[1].ID)
}

func TestStore_SetTotalPersistsDecimal(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	seedTree(t, store)

	total := costtree.Amount{Value: costtree.MustParseDecimal("1234.56")}
	require.NoError(t, store.SetTotal(ctx, "item-a", total))

	node, err := store.GetNode(ctx, "item-a")
	require.NoError(t, err)
	assert.True(t, node.Total.Equal(total), "got %s", node.Total)
}

func TestStore_SetTotal_MissingNode(t *testing.T) {
	store := newTestStore(t)

	err := store.SetTotal(context.Background(), "nope", costtree.ZeroAmount())
	assert.ErrorIs(t, err, costtree.ErrNodeNotFound)
}

func TestStore_SetValuationReplacesFields(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	seedTree(t, store)

	require.NoError(t, store.SetValuation(ctx, "item-a", *costtree.QuantityValuation("20", "5", "2")))

	node, err := store.GetNode(ctx, "item-a")
	require.NoError(t, err)
	require.NotNil(t, node.Valuation)
	assert.True(t, node.Valuation.Qty.Equal(costtree.MustParseDecimal("20")))
}

func TestStore_DuplicateSiblingOrderRejected(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	seedTree(t, store)

	dup := newNode("item-dup", "group", costtree.KindItem, 1)
	dup.Valuation = costtree.HeaderValuation()
	err := store.CreateNode(ctx, dup)
	assert.ErrorIs(t, err, costtree.ErrDuplicateDisplayOrder)
}

func TestStore_SubtreeIDsAndDelete(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	seedTree(t, store)

	ids, err := store.SubtreeIDs(ctx, "group")
	require.NoError(t, err)
	assert.ElementsMatch(t,
		[]costtree.NodeID{"group", "item-a", "item-b"}, ids)

	require.NoError(t, store.DeleteSubtree(ctx, "group"))

	node, err := store.GetNode(ctx, "item-a")
	require.NoError(t, err)
	assert.Nil(t, node, "cascade should remove descendants")

	doc, err := store.GetNode(ctx, "doc")
	require.NoError(t, err)
	assert.NotNil(t, doc, "root survives")
}

func TestStore_ReferencingItems(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	seedTree(t, store)

	tracker := newNode("tracker", "group", costtree.KindItem, 3)
	tracker.Valuation = costtree.PercentageOfValuation("item-a", "10")
	require.NoError(t, store.CreateNode(ctx, tracker))

	refs, err := store.ReferencingItems(ctx, "item-a")
	require.NoError(t, err)
	require.Len(t, refs, 1)
	assert.Equal(t, costtree.NodeID("tracker"), refs[0].ID)

	refs, err = store.ReferencingItems(ctx, "item-b")
	require.NoError(t, err)
	assert.Empty(t, refs)
}

func TestStore_ListRoots(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	seedTree(t, store)
	require.NoError(t, store.CreateNode(ctx, newNode("doc-2", "", costtree.KindDocument, 0)))

	roots, err := store.ListRoots(ctx)
	require.NoError(t, err)
	require.Len(t, roots, 2)
	assert.Equal(t, costtree.NodeID("doc"), roots[0].ID)
	assert.Equal(t, costtree.NodeID("doc-2"), roots[1].ID)
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

func TestStore_WithTxRollsBackOnError(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	seedTree(t, store)

	boom := errors.New("boom")
	err := store.WithTx(ctx, func(s costtree.Store) error {
		if err := s.SetTotal(ctx, "item-a", costtree.NewAmountFromInt(999)); err != nil {
			return err
		}
		node := newNode("item-x", "group", costtree.KindItem, 9)
		node.Valuation = costtree.HeaderValuation()
		if err := s.CreateNode(ctx, node); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	node, err := store.GetNode(ctx, "item-a")
	require.NoError(t, err)
	assert.True(t, node.Total.IsZero(), "write should be rolled back")

	ghost, err := store.GetNode(ctx, "item-x")
	require.NoError(t, err)
	assert.Nil(t, ghost, "insert should be rolled back")
}

func TestStore_WithTxCommits(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	seedTree(t, store)

	err := store.WithTx(ctx, func(s costtree.Store) error {
		return s.SetTotal(ctx, "item-a", costtree.NewAmountFromInt(70))
	})
	require.NoError(t, err)

	node, err := store.GetNode(ctx, "item-a")
	require.NoError(t, err)
	assert.True(t, node.Total.Equal(costtree.NewAmountFromInt(70)))
}

// =============================================================================
// DOCUMENT RECORDS
// =============================================================================

func TestStore_DocumentRecords(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	seedTree(t, store)

	rec := costtree.DocumentRecord{
		NodeID:    "doc",
		Kind:      "boq",
		Title:     "Office Block",
		CreatedAt: time.Now().UTC().Truncate(time.Second),
	}
	require.NoError(t, store.SaveDocument(ctx, rec))

	got, err := store.GetDocument(ctx, "doc")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "boq", got.Kind)
	assert.Equal(t, "Office Block", got.Title)

	byKind, err := store.ListDocuments(ctx, "boq")
	require.NoError(t, err)
	assert.Len(t, byKind, 1)

	none, err := store.ListDocuments(ctx, "budget")
	require.NoError(t, err)
	assert.Empty(t, none)

	require.NoError(t, store.DeleteDocument(ctx, "doc"))
	gone, err := store.GetDocument(ctx, "doc")
	require.NoError(t, err)
	assert.Nil(t, gone)
}

// =============================================================================
// ENGINE OVER SQLITE
// =============================================================================

func TestEngine_OnSQLiteStore_SettlesAndPersists(t *testing.T) {
	// The full gateway path against the real store: build a tree, change a
	// rate, verify persisted settled totals.
	store := newTestStore(t)
	ctx := context.Background()
	engine := costtree.NewEngine(store)

	res, err := engine.Apply(ctx, costtree.Create{Kind: costtree.KindDocument, Label: "Project"})
	require.NoError(t, err)
	doc := res.NodeID

	res, err = engine.Apply(ctx, costtree.Create{
		ParentID: &doc, Kind: costtree.KindGroup, Label: "Works", DisplayOrder: 1,
	})
	require.NoError(t, err)
	group := res.NodeID

	res, err = engine.Apply(ctx, costtree.Create{
		ParentID: &group, Kind: costtree.KindItem, Label: "Excavation", DisplayOrder: 1,
		Valuation: costtree.QuantityValuation("10", "5", "2"),
	})
	require.NoError(t, err)
	i1 := res.NodeID

	res, err = engine.Apply(ctx, costtree.Create{
		ParentID: &group, Kind: costtree.KindItem, Label: "Overheads", DisplayOrder: 2,
		Valuation: costtree.PercentageOfValuation(i1, "10"),
	})
	require.NoError(t, err)
	tracker := res.NodeID

	_, err = engine.Apply(ctx, costtree.Update{
		NodeID:    i1,
		Valuation: *costtree.QuantityValuation("20", "5", "2"),
	})
	require.NoError(t, err)

	node, err := store.GetNode(ctx, i1)
	require.NoError(t, err)
	assert.Equal(t, "140.00", node.Total.String())

	node, err = store.GetNode(ctx, tracker)
	require.NoError(t, err)
	assert.Equal(t, "14.00", node.Total.String())

	node, err = store.GetNode(ctx, doc)
	require.NoError(t, err)
	assert.Equal(t, "154.00", node.Total.String())
}

func TestEngine_OnSQLiteStore_FailedApplyLeavesNoWrites(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	engine := costtree.NewEngine(store)

	res, err := engine.Apply(ctx, costtree.Create{Kind: costtree.KindDocument, Label: "Project"})
	require.NoError(t, err)
	doc := res.NodeID

	res, err = engine.Apply(ctx, costtree.Create{
		ParentID: &doc, Kind: costtree.KindGroup, Label: "Works", DisplayOrder: 1,
	})
	require.NoError(t, err)
	group := res.NodeID

	_, err = engine.Apply(ctx, costtree.Create{
		ParentID: &group, Kind: costtree.KindItem, Label: "Ghost", DisplayOrder: 1,
		Valuation: costtree.PercentageOfValuation("no-such-node", "10"),
	})
	require.ErrorIs(t, err, costtree.ErrDanglingReference)

	children, err := store.GetChildren(ctx, group)
	require.NoError(t, err)
	assert.Empty(t, children, "failed create must roll back the insert")
}
