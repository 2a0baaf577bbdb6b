/*
manager.go - BOQ operations over the mutation gateway

PURPOSE:
  Thin domain layer that translates estimating vocabulary (bills, sections,
  measured items, provisional sums) into engine mutations. Everything goes
  through Engine.Apply, so every BOQ operation inherits atomicity, cycle
  checking and settled totals for free.

OPERATIONS:
  CreateBill:        New root Document plus its DocumentRecord
  AddSection:        Trade section (Group) under the bill
  AddSubsection:     Subgroup under a section
  AddMeasuredItem:   qty x (supply + install) item
  AddProvisionalSum: Fixed allowance item
  AddPercentageItem: Item valued as a percentage of another node
  AddHeading:        Unvalued annotation row

SEE ALSO:
  - costtree/engine.go: The gateway every call routes through
  - presets.go:         JSON templates for standard bill breakdowns
*/
package boq

import (
	"context"
	"fmt"
	"time"

	"github.com/warp/cost-engine/costtree"
)

// =============================================================================
// MANAGER
// =============================================================================

// Manager exposes BOQ operations. Docs may be nil when document records
// are not tracked (tests, scratch trees).
type Manager struct {
	Engine *costtree.Engine
	Docs   costtree.DocumentStore
}

func NewManager(engine *costtree.Engine, docs costtree.DocumentStore) *Manager {
	return &Manager{Engine: engine, Docs: docs}
}

// =============================================================================
// DOCUMENT OPERATIONS
// =============================================================================

// CreateBill creates a new BOQ root and records its document kind.
func (m *Manager) CreateBill(ctx context.Context, kind Kind, title string) (costtree.NodeID, error) {
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

// ListBills returns document records for this domain's kinds.
func (m *Manager) ListBills(ctx context.Context) ([]costtree.DocumentRecord, error) {
	if m.Docs == nil {
		return nil, nil
	}
	var bills []costtree.DocumentRecord
	for _, kind := range []Kind{KindBillOfQuantities, KindSchedule} {
		recs, err := m.Docs.ListDocuments(ctx, kind.KindID())
		if err != nil {
			return nil, err
		}
		bills = append(bills, recs...)
	}
	return bills, nil
}

// =============================================================================
// STRUCTURE OPERATIONS
// =============================================================================

// AddSection adds a trade section (Group) under a bill root.
func (m *Manager) AddSection(ctx context.Context, billID costtree.NodeID, label string, order int) (costtree.NodeID, error) {
	res, err := m.Engine.Apply(ctx, costtree.Create{
		ParentID:     &billID,
		Kind:         costtree.KindGroup,
		Label:        label,
		DisplayOrder: order,
	})
	if err != nil {
		return "", err
	}
	return res.NodeID, nil
}

// AddSubsection adds a Subgroup under a section.
func (m *Manager) AddSubsection(ctx context.Context, sectionID costtree.NodeID, label string, order int) (costtree.NodeID, error) {
	res, err := m.Engine.Apply(ctx, costtree.Create{
		ParentID:     &sectionID,
		Kind:         costtree.KindSubgroup,
		Label:        label,
		DisplayOrder: order,
	})
	if err != nil {
		return "", err
	}
	return res.NodeID, nil
}

// =============================================================================
// ITEM OPERATIONS
// =============================================================================

// AddMeasuredItem adds a quantity-valued item: qty x (supply + install).
// Decimal inputs are strings to keep callers away from float money.
func (m *Manager) AddMeasuredItem(ctx context.Context, parentID costtree.NodeID, label string, order int, qty, supplyRate, installRate string) (costtree.NodeID, error) {
	return m.addItem(ctx, parentID, label, order,
		costtree.QuantityValuation(qty, supplyRate, installRate))
}

// AddProvisionalSum adds a fixed-amount allowance item.
func (m *Manager) AddProvisionalSum(ctx context.Context, parentID costtree.NodeID, label string, order int, amount string) (costtree.NodeID, error) {
	return m.addItem(ctx, parentID, label, order,
		costtree.FixedSumValuation(amount))
}

// AddPercentageItem adds an item valued as a percentage of another node's
// total. The engine rejects dangling targets and reference cycles.
func (m *Manager) AddPercentageItem(ctx context.Context, parentID costtree.NodeID, label string, order int, ref costtree.NodeID, percentage string) (costtree.NodeID, error) {
	return m.addItem(ctx, parentID, label, order,
		costtree.PercentageOfValuation(ref, percentage))
}

// AddHeading adds an unvalued annotation row. It always contributes zero.
func (m *Manager) AddHeading(ctx context.Context, parentID costtree.NodeID, label string, order int) (costtree.NodeID, error) {
	return m.addItem(ctx, parentID, label, order, costtree.HeaderValuation())
}

func (m *Manager) addItem(ctx context.Context, parentID costtree.NodeID, label string, order int, v *costtree.ItemValuation) (costtree.NodeID, error) {
	res, err := m.Engine.Apply(ctx, costtree.Create{
		ParentID:     &parentID,
		Kind:         costtree.KindItem,
		Label:        label,
		DisplayOrder: order,
		Valuation:    v,
	})
	if err != nil {
		return "", err
	}
	return res.NodeID, nil
}

// =============================================================================
// REPORTING
// =============================================================================

// SectionSummaries returns one summary per section of a bill, in display
// order, with rolled-up totals and leaf item counts.
func (m *Manager) SectionSummaries(ctx context.Context, billID costtree.NodeID) ([]SectionSummary, error) {
	root, err := m.Engine.GetNode(ctx, billID)
	if err != nil {
		return nil, err
	}
	if root == nil {
		return nil, fmt.Errorf("%w: %s", costtree.ErrNodeNotFound, billID)
	}

	sections, err := m.Engine.GetChildren(ctx, billID)
	if err != nil {
		return nil, err
	}

	summaries := make([]SectionSummary, 0, len(sections))
	for i := range sections {
		count, err := m.countItems(ctx, sections[i].ID)
		if err != nil {
			return nil, err
		}
		summaries = append(summaries, SectionSummary{
			SectionID: sections[i].ID,
			Label:     sections[i].Label,
			Total:     sections[i].Total,
			ItemCount: count,
		})
	}
	return summaries, nil
}

func (m *Manager) countItems(ctx context.Context, id costtree.NodeID) (int, error) {
	children, err := m.Engine.GetChildren(ctx, id)
	if err != nil {
		return 0, err
	}
	count := 0
	for i := range children {
		if children[i].Kind.IsLeaf() {
			count++
			continue
		}
		sub, err := m.countItems(ctx, children[i].ID)
		if err != nil {
			return 0, err
		}
		count += sub
	}
	return count, nil
}
