/*
valuation.go - Per-type valuation rules for Item nodes

PURPOSE:
  Resolve is the pure function from an ItemValuation (plus, for percentage
  items, the current total of the referenced node) to a settled amount.
  It performs no I/O; the store-aware wrapper lives in propagate.go.

VALUATION RULES:
  Quantity:     qty x (supply rate + install rate)
  FixedSum:     stored amount verbatim
  PercentageOf: referenced total x percentage / 100
  Header:       always zero

ROUNDING:
  Every resolved amount is rounded to the currency's minor unit with
  round-half-even. Negative inputs are legal and yield negative amounts;
  the schema deliberately does not forbid them.

SEE ALSO:
  - propagate.go: resolveItem, the store-backed wrapper
  - refgraph.go:  Reference validation that runs before persistence
*/
package costtree

import "github.com/shopspring/decimal"

// AmountLookup returns the current settled total of a node, or false when
// the node is absent or deleted.
type AmountLookup func(NodeID) (Amount, bool)

var hundred = decimal.NewFromInt(100)

// Resolve computes an item's own amount from its valuation. Quantity and
// FixedSum never fail on well-formed numeric input; PercentageOf fails with
// ErrDanglingReference when the lookup misses.
func Resolve(v ItemValuation, lookup AmountLookup) (Amount, error) {
	switch v.Kind {
	case ValuationHeader:
		return ZeroAmount(), nil

	case ValuationQuantity:
		rate := v.SupplyRate.Add(v.InstallRate)
		return Amount{Value: v.Qty.Mul(rate)}.RoundMinor(), nil

	case ValuationFixedSum:
		return v.FixedAmount.RoundMinor(), nil

	case ValuationPercentageOf:
		ref, ok := lookup(v.ReferenceID)
		if !ok {
			return ZeroAmount(), &DanglingReferenceError{ReferenceID: v.ReferenceID}
		}
		return Amount{Value: ref.Value.Mul(v.Percentage).Div(hundred)}.RoundMinor(), nil
	}

	return ZeroAmount(), ErrInvalidValuation
}

// ValidateValuation checks structural well-formedness of a valuation for a
// node of the given kind, before any store access.
func ValidateValuation(kind NodeKind, v *ItemValuation) error {
	if kind == KindItem {
		if v == nil || !v.Kind.Valid() {
			return ErrInvalidValuation
		}
		return nil
	}
	if v != nil {
		return ErrInvalidValuation
	}
	return nil
}
