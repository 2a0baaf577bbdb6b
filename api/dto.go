/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract, allowing:
  - Field renaming without breaking clients
  - API-specific validation
  - Version evolution

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

MONEY:
  Amounts, rates and percentages travel as decimal strings, never floats.
  The engine stores decimals; DTOs preserve them verbatim.

VALIDATION:
  Validation is done in handlers, not in DTOs. DTOs are pure data carriers.

SEE ALSO:
  - handlers.go: Uses these types
  - factory/template.go: Template JSON shape for POST /api/documents
*/
package api

import (
	"github.com/warp/cost-engine/costtree"
)

// =============================================================================
// NODE TYPES
// =============================================================================

// ValuationDTO is the wire form of an item valuation. Only the fields for
// the given type are meaningful.
type ValuationDTO struct {
	Type string `json:"type"` // quantity, fixed_sum, percentage_of, header

	Quantity    string `json:"quantity,omitempty"`
	SupplyRate  string `json:"supply_rate,omitempty"`
	InstallRate string `json:"install_rate,omitempty"`

	Amount string `json:"amount,omitempty"`

	ReferenceID string `json:"reference_id,omitempty"`
	Percentage  string `json:"percentage,omitempty"`
}

// NodeDTO represents one cost node in API responses.
type NodeDTO struct {
	ID           string        `json:"id"`
	ParentID     string        `json:"parent_id,omitempty"`
	Kind         string        `json:"kind"`
	Label        string        `json:"label"`
	DisplayOrder int           `json:"display_order"`
	Total        string        `json:"total"`
	Valuation    *ValuationDTO `json:"valuation,omitempty"`
}

// TreeDTO is a node with its children, recursively, in display order.
type TreeDTO struct {
	NodeDTO
	Children []TreeDTO `json:"children,omitempty"`
}

// DocumentDTO represents a root document with its settled total.
type DocumentDTO struct {
	NodeID    string `json:"node_id"`
	Kind      string `json:"kind"`
	Title     string `json:"title"`
	Total     string `json:"total"`
	CreatedAt string `json:"created_at,omitempty"`
}

// =============================================================================
// REQUEST TYPES
// =============================================================================

// CreateDocumentRequest creates a root document. When Template is set the
// whole structure is built from the factory template JSON and Kind/Title
// come from the template; otherwise an empty root of Kind/Title is created.
type CreateDocumentRequest struct {
	Kind     string `json:"kind,omitempty"`
	Title    string `json:"title,omitempty"`
	Template string `json:"template,omitempty"`
}

// CreateNodeRequest creates a child node under an existing parent.
type CreateNodeRequest struct {
	ParentID     string        `json:"parent_id"`
	Kind         string        `json:"kind"`
	Label        string        `json:"label"`
	DisplayOrder int           `json:"display_order"`
	Valuation    *ValuationDTO `json:"valuation,omitempty"`
}

// UpdateValuationRequest re-specifies an item's valuation in place.
type UpdateValuationRequest struct {
	Valuation ValuationDTO `json:"valuation"`
}

// ReorderRequest changes a node's display order.
type ReorderRequest struct {
	DisplayOrder int `json:"display_order"`
}

// =============================================================================
// RESPONSE TYPES
// =============================================================================

// MutationResultDTO reports a settled mutation.
type MutationResultDTO struct {
	Version      int64    `json:"version"`
	NodeID       string   `json:"node_id"`
	ChangedCount int      `json:"changed_count"`
	ChangedRoots []string `json:"changed_roots,omitempty"`
}

// AuditEntryDTO is one recent change record.
type AuditEntryDTO struct {
	Version     int64  `json:"version"`
	Mutation    string `json:"mutation"`
	NodeID      string `json:"node_id"`
	Label       string `json:"label,omitempty"`
	TotalBefore string `json:"total_before,omitempty"`
	TotalAfter  string `json:"total_after,omitempty"`
	At          string `json:"at"`
}

// ErrorResponse is the standard error envelope.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func toNodeDTO(n *costtree.CostNode) NodeDTO {
	dto := NodeDTO{
		ID:           string(n.ID),
		Kind:         string(n.Kind),
		Label:        n.Label,
		DisplayOrder: n.DisplayOrder,
		Total:        n.Total.String(),
	}
	if n.ParentID != nil {
		dto.ParentID = string(*n.ParentID)
	}
	if n.Valuation != nil {
		dto.Valuation = toValuationDTO(n.Valuation)
	}
	return dto
}

func toValuationDTO(v *costtree.ItemValuation) *ValuationDTO {
	dto := &ValuationDTO{Type: string(v.Kind)}
	switch v.Kind {
	case costtree.ValuationQuantity:
		dto.Quantity = v.Qty.String()
		dto.SupplyRate = v.SupplyRate.String()
		dto.InstallRate = v.InstallRate.String()
	case costtree.ValuationFixedSum:
		dto.Amount = v.FixedAmount.Value.String()
	case costtree.ValuationPercentageOf:
		dto.ReferenceID = string(v.ReferenceID)
		dto.Percentage = v.Percentage.String()
	}
	return dto
}

func fromValuationDTO(dto *ValuationDTO) *costtree.ItemValuation {
	if dto == nil {
		return nil
	}
	switch costtree.ValuationKind(dto.Type) {
	case costtree.ValuationQuantity:
		return costtree.QuantityValuation(dto.Quantity, dto.SupplyRate, dto.InstallRate)
	case costtree.ValuationFixedSum:
		return costtree.FixedSumValuation(dto.Amount)
	case costtree.ValuationPercentageOf:
		return costtree.PercentageOfValuation(costtree.NodeID(dto.ReferenceID), dto.Percentage)
	case costtree.ValuationHeader:
		return costtree.HeaderValuation()
	}
	return nil
}

func toMutationResultDTO(res *costtree.Result) MutationResultDTO {
	dto := MutationResultDTO{
		Version:      res.Version,
		NodeID:       string(res.NodeID),
		ChangedCount: len(res.Changed),
	}
	for _, id := range res.ChangedRoots {
		dto.ChangedRoots = append(dto.ChangedRoots, string(id))
	}
	return dto
}

func toAuditEntryDTO(e costtree.AuditEntry) AuditEntryDTO {
	dto := AuditEntryDTO{
		Version:  e.Version,
		Mutation: e.Mutation,
		NodeID:   string(e.NodeID),
		At:       e.At.Format("2006-01-02T15:04:05Z07:00"),
	}
	if e.After != nil {
		dto.Label = e.After.Label
		dto.TotalAfter = e.After.Total.String()
	}
	if e.Before != nil {
		if dto.Label == "" {
			dto.Label = e.Before.Label
		}
		dto.TotalBefore = e.Before.Total.String()
	}
	return dto
}
