// Package boq implements Bill of Quantities documents over the cost tree
// engine. A BOQ is a priced breakdown of measured works: trade sections,
// optional subsections, and measured or provisional items at the leaves.
package boq

import "github.com/warp/cost-engine/costtree"

// =============================================================================
// BOQ DOCUMENT KIND
// =============================================================================

// Kind is the concrete document kind for the BOQ domain.
// Implements costtree.DocumentKind.
type Kind string

func (k Kind) KindID() string     { return string(k) }
func (k Kind) KindDomain() string { return "boq" }

// Compile-time check that Kind implements costtree.DocumentKind
var _ costtree.DocumentKind = Kind("")

const (
	// KindBillOfQuantities is a full tender-stage priced BOQ.
	KindBillOfQuantities Kind = "boq"

	// KindSchedule is a lighter schedule of rates, same tree shape.
	KindSchedule Kind = "schedule_of_rates"
)

func init() {
	costtree.RegisterKind(KindBillOfQuantities)
	costtree.RegisterKind(KindSchedule)
}

// =============================================================================
// SECTION SUMMARY
// =============================================================================

// SectionSummary is a flattened view of one section for collection pages:
// the section label, its rolled-up total, and the item count beneath it.
type SectionSummary struct {
	SectionID costtree.NodeID
	Label     string
	Total     costtree.Amount
	ItemCount int
}
