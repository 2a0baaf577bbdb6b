/*
Package costtree provides the core cost rollup and valuation engine.

PURPOSE:
  This package contains domain-agnostic types and algorithms for managing
  hierarchical cost documents. Whether the caller is a Bill of Quantities,
  a cost report, a final account, or a budget, the same engine handles
  item valuation, cross-reference resolution, and aggregate rollups.

KEY CONCEPTS IN THIS FILE (types.go):
  - Amount: A currency value backed by decimal.Decimal
  - CostNode: A node in the cost tree (Document, Group, Subgroup, Item)
  - ItemValuation: A tagged union of valuation rules for Item nodes
  - Mutation: Create/Update/Reorder/Delete submitted to the engine

DESIGN PRINCIPLES:
  1. One engine, many documents: business document types are thin wrappers
  2. Precision: decimal.Decimal everywhere money appears, never float64
  3. Consistency: every ancestor total equals the sum of its children
  4. Explicit propagation: rollups are a callable algorithm, not side effects

USAGE:
  engine := costtree.NewEngine(store.NewTxMemory())
  res, err := engine.Apply(ctx, costtree.Create{
      ParentID:  &groupID,
      Kind:      costtree.KindItem,
      Valuation: costtree.QuantityValuation("10", "5", "2"),
  })

SEE ALSO:
  - valuation.go: Per-type valuation rules
  - refgraph.go:  Cycle detection for percentage references
  - propagate.go: Rollup propagation to a fixed point
  - engine.go:    The mutation gateway
*/
package costtree

import (
	"github.com/shopspring/decimal"
)

// =============================================================================
// AMOUNT - Currency value in the document's single currency
// =============================================================================

// minorUnitDigits is the precision every settled amount is rounded to.
// Rounding is half-even (banker's), matching ledger conventions.
const minorUnitDigits = 2

type Amount struct {
	Value decimal.Decimal
}

func NewAmount(value float64) Amount {
	return Amount{Value: decimal.NewFromFloat(value)}
}

func NewAmountFromInt(value int) Amount {
	return Amount{Value: decimal.NewFromInt(int64(value))}
}

func ZeroAmount() Amount {
	return Amount{Value: decimal.Zero}
}

func MustParseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func (a Amount) Add(b Amount) Amount          { return Amount{Value: a.Value.Add(b.Value)} }
func (a Amount) Sub(b Amount) Amount          { return Amount{Value: a.Value.Sub(b.Value)} }
func (a Amount) Mul(s decimal.Decimal) Amount { return Amount{Value: a.Value.Mul(s)} }
func (a Amount) Neg() Amount                  { return Amount{Value: a.Value.Neg()} }
func (a Amount) IsZero() bool                 { return a.Value.IsZero() }
func (a Amount) IsNegative() bool             { return a.Value.IsNegative() }
func (a Amount) Equal(b Amount) bool          { return a.Value.Equal(b.Value) }
func (a Amount) String() string               { return a.Value.StringFixed(minorUnitDigits) }

// RoundMinor rounds to the currency's minor unit using round-half-even.
func (a Amount) RoundMinor() Amount {
	return Amount{Value: a.Value.RoundBank(minorUnitDigits)}
}

// =============================================================================
// IDENTIFIERS
// =============================================================================

type NodeID string

// =============================================================================
// NODE KINDS - Structural levels of the cost tree
// =============================================================================

type NodeKind string

const (
	KindDocument NodeKind = "document" // root; owns nothing but its children
	KindGroup    NodeKind = "group"    // e.g. a BOQ bill or report section
	KindSubgroup NodeKind = "subgroup" // e.g. a BOQ section or sub-section
	KindItem     NodeKind = "item"     // leaf; carries an ItemValuation
)

func (k NodeKind) Valid() bool {
	switch k {
	case KindDocument, KindGroup, KindSubgroup, KindItem:
		return true
	}
	return false
}

// IsLeaf reports whether nodes of this kind carry a valuation instead of
// aggregating children.
func (k NodeKind) IsLeaf() bool { return k == KindItem }

// CanParent reports whether a node of this kind may hold a child of the
// given kind. Items may not hang directly off a Document.
func (k NodeKind) CanParent(child NodeKind) bool {
	switch k {
	case KindDocument:
		return child == KindGroup
	case KindGroup:
		return child == KindSubgroup || child == KindItem
	case KindSubgroup:
		return child == KindItem
	}
	return false
}

// =============================================================================
// COST NODE
// =============================================================================

// CostNode is one node of a cost document tree. Total is an aggregate for
// non-leaf kinds and a computed value for Item kind; it is owned by the
// propagator and never written directly by callers.
type CostNode struct {
	ID           NodeID
	ParentID     *NodeID // nil only for Document roots
	Kind         NodeKind
	Label        string
	DisplayOrder int // unique among siblings; presentation only
	Total        Amount

	// Valuation is set exactly when Kind == KindItem.
	Valuation *ItemValuation

	// CreatedSeq is assigned by the store and breaks display-order ties.
	CreatedSeq int64
}

// IsRoot reports whether the node is a root Document.
func (n *CostNode) IsRoot() bool { return n.ParentID == nil }

// Clone returns a deep copy, safe to hand to audit sinks.
func (n *CostNode) Clone() *CostNode {
	if n == nil {
		return nil
	}
	c := *n
	if n.ParentID != nil {
		p := *n.ParentID
		c.ParentID = &p
	}
	if n.Valuation != nil {
		v := *n.Valuation
		c.Valuation = &v
	}
	return &c
}

// =============================================================================
// ITEM VALUATION - Tagged union of valuation rules
// =============================================================================

type ValuationKind string

const (
	// ValuationQuantity: amount = quantity x (supply rate + install rate).
	ValuationQuantity ValuationKind = "quantity"
	// ValuationFixedSum: amount stored verbatim. Models prime-cost and
	// provisional-sum lines whose exact cost is not yet known.
	ValuationFixedSum ValuationKind = "fixed_sum"
	// ValuationPercentageOf: amount = referenced node's total x pct / 100.
	// The reference may point at any node in the tree, not only a sibling.
	ValuationPercentageOf ValuationKind = "percentage_of"
	// ValuationHeader: always zero. A non-valued label inside a section.
	ValuationHeader ValuationKind = "header"
)

func (k ValuationKind) Valid() bool {
	switch k {
	case ValuationQuantity, ValuationFixedSum, ValuationPercentageOf, ValuationHeader:
		return true
	}
	return false
}

// ItemValuation describes how an Item node's total is computed. Only the
// fields for the active Kind are meaningful. Negative quantities, rates and
// percentages are accepted and simply yield negative amounts.
type ItemValuation struct {
	Kind ValuationKind

	// Quantity fields
	Qty         decimal.Decimal
	SupplyRate  decimal.Decimal
	InstallRate decimal.Decimal

	// FixedSum field
	FixedAmount Amount

	// PercentageOf fields
	ReferenceID NodeID
	Percentage  decimal.Decimal
}

// QuantityValuation builds a measured-work valuation. Arguments are decimal
// strings; malformed input parses as zero (matching MustParseDecimal).
func QuantityValuation(qty, supplyRate, installRate string) *ItemValuation {
	return &ItemValuation{
		Kind:        ValuationQuantity,
		Qty:         MustParseDecimal(qty),
		SupplyRate:  MustParseDecimal(supplyRate),
		InstallRate: MustParseDecimal(installRate),
	}
}

// FixedSumValuation builds a prime-cost / provisional-sum valuation.
func FixedSumValuation(amount string) *ItemValuation {
	return &ItemValuation{
		Kind:        ValuationFixedSum,
		FixedAmount: Amount{Value: MustParseDecimal(amount)},
	}
}

// PercentageOfValuation builds a valuation that tracks a percentage of
// another node's settled total.
func PercentageOfValuation(reference NodeID, percentage string) *ItemValuation {
	return &ItemValuation{
		Kind:        ValuationPercentageOf,
		ReferenceID: reference,
		Percentage:  MustParseDecimal(percentage),
	}
}

// HeaderValuation builds a zero-valued heading line.
func HeaderValuation() *ItemValuation {
	return &ItemValuation{Kind: ValuationHeader}
}

// =============================================================================
// MUTATIONS - The only inputs the gateway accepts
// =============================================================================

// Mutation is a create, update, reorder or delete submitted to Engine.Apply.
type Mutation interface {
	mutation()
}

// Create adds a node. ParentID nil creates a root Document; otherwise the
// parent must exist and structurally accept the child kind. Valuation is
// required exactly when Kind is KindItem.
type Create struct {
	ParentID     *NodeID
	Kind         NodeKind
	Label        string
	DisplayOrder int
	Valuation    *ItemValuation
}

// Update re-specifies an Item's valuation. The valuation kind must match
// the existing one: changing type is modeled as delete + recreate.
type Update struct {
	NodeID    NodeID
	Valuation ItemValuation
}

// Reorder changes a node's display order. Display order is advisory and
// owned by the caller; the engine only enforces sibling uniqueness.
type Reorder struct {
	NodeID       NodeID
	DisplayOrder int
}

// Delete removes a node and its entire subtree. It is rejected while any
// surviving percentage item still references into the doomed subtree.
type Delete struct {
	NodeID NodeID
}

func (Create) mutation()  {}
func (Update) mutation()  {}
func (Reorder) mutation() {}
func (Delete) mutation()  {}

// =============================================================================
// RESULT - What a settled Apply reports back
// =============================================================================

// NodeChange is a before/after snapshot of one touched node.
// Before is nil for creates; After is nil for deletes.
type NodeChange struct {
	Before *CostNode
	After  *CostNode
}

// TotalChanged reports whether the settled total differs from before.
func (c NodeChange) TotalChanged() bool {
	switch {
	case c.Before == nil && c.After == nil:
		return false
	case c.Before == nil || c.After == nil:
		return true
	}
	return !c.Before.Total.Equal(c.After.Total)
}

// Result describes a fully settled mutation. On return all tree invariants
// hold; no intermediate state was externally observable.
type Result struct {
	// Version increases monotonically with each successful Apply.
	Version int64

	// NodeID is the node the mutation targeted (the created node for Create).
	NodeID NodeID

	// Changed holds every node whose stored state was touched, keyed by ID.
	Changed map[NodeID]NodeChange

	// ChangedRoots lists root Documents whose settled total changed, for
	// downstream notification fan-out.
	ChangedRoots []NodeID
}
