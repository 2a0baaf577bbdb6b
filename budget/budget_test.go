package budget_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/cost-engine/budget"
	"github.com/warp/cost-engine/costtree"
	"github.com/warp/cost-engine/costtree/store"
)

func newTestManager() *budget.Manager {
	mem := store.NewTxMemory()
	return budget.NewManager(costtree.NewEngine(mem), mem)
}

func addFixedItem(t *testing.T, m *budget.Manager, docID costtree.NodeID, amount string) {
	t.Helper()
	ctx := context.Background()

	res, err := m.Engine.Apply(ctx, costtree.Create{
		ParentID: &docID, Kind: costtree.KindGroup, Label: "Costs", DisplayOrder: 1,
	})
	require.NoError(t, err)
	group := res.NodeID

	_, err = m.Engine.Apply(ctx, costtree.Create{
		ParentID: &group, Kind: costtree.KindItem, Label: "Allowance", DisplayOrder: 1,
		Valuation: costtree.FixedSumValuation(amount),
	})
	require.NoError(t, err)
}

func TestManager_KindsAreRegistered(t *testing.T) {
	for _, kind := range []budget.Kind{budget.KindBudget, budget.KindCostReport, budget.KindFinalAccount} {
		assert.NotNil(t, costtree.LookupKind(kind.KindID()), "kind %s", kind)
	}
}

func TestManager_DocumentsListedByKind(t *testing.T) {
	ctx := context.Background()
	m := newTestManager()

	_, err := m.CreateDocument(ctx, budget.KindBudget, "2026 Budget")
	require.NoError(t, err)
	_, err = m.CreateDocument(ctx, budget.KindCostReport, "Q1 Cost Report")
	require.NoError(t, err)

	budgets, err := m.ListDocuments(ctx, budget.KindBudget)
	require.NoError(t, err)
	require.Len(t, budgets, 1)
	assert.Equal(t, "2026 Budget", budgets[0].Title)

	reports, err := m.ListDocuments(ctx, budget.KindCostReport)
	require.NoError(t, err)
	assert.Len(t, reports, 1)
}

func TestManager_CompareTotals(t *testing.T) {
	ctx := context.Background()
	m := newTestManager()

	baseline, err := m.CreateDocument(ctx, budget.KindBudget, "Budget")
	require.NoError(t, err)
	actual, err := m.CreateDocument(ctx, budget.KindCostReport, "Report")
	require.NoError(t, err)

	addFixedItem(t, m, baseline, "1000")
	addFixedItem(t, m, actual, "1250")

	v, err := m.CompareTotals(ctx, baseline, actual)
	require.NoError(t, err)
	assert.Equal(t, "1000.00", v.Baseline.String())
	assert.Equal(t, "1250.00", v.Actual.String())
	assert.Equal(t, "250.00", v.Delta.String())
	assert.True(t, v.Overrun())
}

func TestManager_CompareTotals_MissingDocument(t *testing.T) {
	ctx := context.Background()
	m := newTestManager()

	baseline, err := m.CreateDocument(ctx, budget.KindBudget, "Budget")
	require.NoError(t, err)

	_, err = m.CompareTotals(ctx, baseline, "nope")
	assert.ErrorIs(t, err, costtree.ErrNodeNotFound)
}
