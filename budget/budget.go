// Package budget implements internal cost-control documents over the cost
// tree engine: budgets, periodic cost reports and final accounts. They
// share the BOQ tree shape; what differs is the document kind and the
// variance views layered on top.
package budget

import (
	"context"
	"time"

	"github.com/warp/cost-engine/costtree"
)

// =============================================================================
// BUDGET DOCUMENT KINDS
// =============================================================================

// Kind is the concrete document kind for the budget domain.
// Implements costtree.DocumentKind.
type Kind string

func (k Kind) KindID() string     { return string(k) }
func (k Kind) KindDomain() string { return "budget" }

var _ costtree.DocumentKind = Kind("")

const (
	KindBudget       Kind = "budget"
	KindCostReport   Kind = "cost_report"
	KindFinalAccount Kind = "final_account"
)

func init() {
	costtree.RegisterKind(KindBudget)
	costtree.RegisterKind(KindCostReport)
	costtree.RegisterKind(KindFinalAccount)
}

// =============================================================================
// MANAGER
// =============================================================================

// Manager exposes budget-domain operations. Structure editing happens
// through the shared gateway; this layer owns kind records and variance.
type Manager struct {
	Engine *costtree.Engine
	Docs   costtree.DocumentStore
}

func NewManager(engine *costtree.Engine, docs costtree.DocumentStore) *Manager {
	return &Manager{Engine: engine, Docs: docs}
}

// CreateDocument creates a new root of the given budget kind.
func (m *Manager) CreateDocument(ctx context.Context, kind Kind, title string) (costtree.NodeID, error) {
	res, err := m.Engine.Apply(ctx, costtree.Create{
		Kind:  costtree.KindDocument,
		Label: title,
	})
	if err != nil {
		return "", err
	}
	if m.Docs != nil {
		err := m.Docs.SaveDocument(ctx, costtree.DocumentRecord{
			NodeID:    res.NodeID,
			Kind:      kind.KindID(),
			Title:     title,
			CreatedAt: time.Now().UTC(),
		})
		if err != nil {
			return "", err
		}
	}
	return res.NodeID, nil
}

// ListDocuments returns document records of one budget kind.
func (m *Manager) ListDocuments(ctx context.Context, kind Kind) ([]costtree.DocumentRecord, error) {
	if m.Docs == nil {
		return nil, nil
	}
	return m.Docs.ListDocuments(ctx, kind.KindID())
}

// =============================================================================
// VARIANCE
// =============================================================================

// Variance compares one document's total against another's, typically a
// cost report against its budget.
type Variance struct {
	BaselineID costtree.NodeID
	ActualID   costtree.NodeID
	Baseline   costtree.Amount
	Actual     costtree.Amount
	Delta      costtree.Amount // Actual - Baseline
}

// Overrun reports whether actuals exceed the baseline.
func (v Variance) Overrun() bool {
	return v.Delta.Value.IsPositive()
}

// CompareTotals computes the root-level variance between two documents.
func (m *Manager) CompareTotals(ctx context.Context, baselineID, actualID costtree.NodeID) (*Variance, error) {
	baseline, err := m.Engine.GetNode(ctx, baselineID)
	if err != nil {
		return nil, err
	}
	actual, err := m.Engine.GetNode(ctx, actualID)
	if err != nil {
		return nil, err
	}
	if baseline == nil || actual == nil {
		return nil, costtree.ErrNodeNotFound
	}
	return &Variance{
		BaselineID: baselineID,
		ActualID:   actualID,
		Baseline:   baseline.Total,
		Actual:     actual.Total,
		Delta:      actual.Total.Sub(baseline.Total),
	}, nil
}
