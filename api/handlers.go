/*
handlers.go - HTTP API handlers for the cost engine

PURPOSE:
  Exposes the cost tree engine via REST API. Handles HTTP request/response,
  JSON serialization, and delegates to the mutation gateway.

ENDPOINTS:
  Documents:
    GET    /api/documents              List root documents with totals
    POST   /api/documents              Create root (optionally from template)
    GET    /api/documents/{id}/tree    Settled tree for presentation
    DELETE /api/documents/{id}         Delete a whole document

  Nodes:
    POST   /api/nodes                  Create child node
    GET    /api/nodes/{id}             Get one node
    GET    /api/nodes/{id}/children    Direct children, display order
    GET    /api/nodes/{id}/ancestors   Chain to the root
    PUT    /api/nodes/{id}/valuation   Re-specify same-kind valuation
    PUT    /api/nodes/{id}/order       Change display order
    DELETE /api/nodes/{id}             Delete subtree

  Changes:
    GET    /api/changes                Recent audit entries

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input, structural violations
  - 404: Node not found
  - 409: Blocked delete (still referenced) or retryable write conflict
  - 500: Internal errors

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/warp/cost-engine/costtree"
	"github.com/warp/cost-engine/factory"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Engine  *costtree.Engine
	Docs    costtree.DocumentStore
	Audit   *costtree.MemoryAuditSink
	Factory *factory.TemplateFactory
}

// NewHandler creates a new handler over the given engine and stores.
func NewHandler(engine *costtree.Engine, docs costtree.DocumentStore, audit *costtree.MemoryAuditSink) *Handler {
	return &Handler{
		Engine:  engine,
		Docs:    docs,
		Audit:   audit,
		Factory: factory.NewTemplateFactory(),
	}
}

// =============================================================================
// DOCUMENT HANDLERS
// =============================================================================

// ListDocuments returns all root documents with settled totals.
// GET /api/documents?kind=boq
func (h *Handler) ListDocuments(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	recs, err := h.Docs.ListDocuments(ctx, r.URL.Query().Get("kind"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list documents", err)
		return
	}

	dtos := make([]DocumentDTO, 0, len(recs))
	for _, rec := range recs {
		dto := DocumentDTO{
			NodeID:    string(rec.NodeID),
			Kind:      rec.Kind,
			Title:     rec.Title,
			CreatedAt: rec.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
		}
		node, err := h.Engine.GetNode(ctx, rec.NodeID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "Failed to load document root", err)
			return
		}
		if node != nil {
			dto.Total = node.Total.String()
		}
		dtos = append(dtos, dto)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateDocument creates a root document, optionally building the whole
// structure from a factory template.
// POST /api/documents
func (h *Handler) CreateDocument(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req CreateDocumentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	if req.Template != "" {
		tpl, err := h.Factory.Parse(req.Template)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid template", err)
			return
		}
		built, err := h.Factory.Build(ctx, h.Engine, h.Docs, tpl)
		if err != nil {
			writeEngineError(w, "Failed to build document", err)
			return
		}
		writeJSON(w, http.StatusCreated, MutationResultDTO{
			Version: built.Version,
			NodeID:  string(built.RootID),
		})
		return
	}

	if req.Title == "" {
		writeError(w, http.StatusBadRequest, "Title is required", nil)
		return
	}
	if costtree.LookupKind(req.Kind) == nil {
		writeError(w, http.StatusBadRequest, "Unknown document kind", nil)
		return
	}

	res, err := h.Engine.Apply(ctx, costtree.Create{
		Kind:  costtree.KindDocument,
		Label: req.Title,
	})
	if err != nil {
		writeEngineError(w, "Failed to create document", err)
		return
	}
	err = h.Docs.SaveDocument(ctx, costtree.DocumentRecord{
		NodeID:    res.NodeID,
		Kind:      req.Kind,
		Title:     req.Title,
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to record document", err)
		return
	}
	writeJSON(w, http.StatusCreated, toMutationResultDTO(res))
}

// GetTree returns a document's settled tree.
// GET /api/documents/{id}/tree
func (h *Handler) GetTree(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := costtree.NodeID(chi.URLParam(r, "id"))

	root, err := h.Engine.GetNode(ctx, id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get document", err)
		return
	}
	if root == nil {
		writeError(w, http.StatusNotFound, "Document not found", nil)
		return
	}

	tree, err := h.buildTree(r, root)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to walk tree", err)
		return
	}
	writeJSON(w, http.StatusOK, tree)
}

func (h *Handler) buildTree(r *http.Request, node *costtree.CostNode) (TreeDTO, error) {
	tree := TreeDTO{NodeDTO: toNodeDTO(node)}
	children, err := h.Engine.GetChildren(r.Context(), node.ID)
	if err != nil {
		return tree, err
	}
	for i := range children {
		sub, err := h.buildTree(r, &children[i])
		if err != nil {
			return tree, err
		}
		tree.Children = append(tree.Children, sub)
	}
	return tree, nil
}

// DeleteDocument deletes a whole document tree and its record.
// DELETE /api/documents/{id}
func (h *Handler) DeleteDocument(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := costtree.NodeID(chi.URLParam(r, "id"))

	res, err := h.Engine.Apply(ctx, costtree.Delete{NodeID: id})
	if err != nil {
		writeEngineError(w, "Failed to delete document", err)
		return
	}
	if err := h.Docs.DeleteDocument(ctx, id); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to remove document record", err)
		return
	}
	writeJSON(w, http.StatusOK, toMutationResultDTO(res))
}

// =============================================================================
// NODE HANDLERS
// =============================================================================

// CreateNode creates a child node under an existing parent.
// POST /api/nodes
func (h *Handler) CreateNode(w http.ResponseWriter, r *http.Request) {
	var req CreateNodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.ParentID == "" {
		writeError(w, http.StatusBadRequest, "parent_id is required; create roots via /api/documents", nil)
		return
	}

	parentID := costtree.NodeID(req.ParentID)
	res, err := h.Engine.Apply(r.Context(), costtree.Create{
		ParentID:     &parentID,
		Kind:         costtree.NodeKind(req.Kind),
		Label:        req.Label,
		DisplayOrder: req.DisplayOrder,
		Valuation:    fromValuationDTO(req.Valuation),
	})
	if err != nil {
		writeEngineError(w, "Failed to create node", err)
		return
	}
	writeJSON(w, http.StatusCreated, toMutationResultDTO(res))
}

// GetNode returns one node.
// GET /api/nodes/{id}
func (h *Handler) GetNode(w http.ResponseWriter, r *http.Request) {
	node, err := h.Engine.GetNode(r.Context(), costtree.NodeID(chi.URLParam(r, "id")))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get node", err)
		return
	}
	if node == nil {
		writeError(w, http.StatusNotFound, "Node not found", nil)
		return
	}
	writeJSON(w, http.StatusOK, toNodeDTO(node))
}

// GetChildren returns a node's direct children in display order.
// GET /api/nodes/{id}/children
func (h *Handler) GetChildren(w http.ResponseWriter, r *http.Request) {
	children, err := h.Engine.GetChildren(r.Context(), costtree.NodeID(chi.URLParam(r, "id")))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get children", err)
		return
	}
	dtos := make([]NodeDTO, 0, len(children))
	for i := range children {
		dtos = append(dtos, toNodeDTO(&children[i]))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetAncestors returns the chain from a node's parent up to the root.
// GET /api/nodes/{id}/ancestors
func (h *Handler) GetAncestors(w http.ResponseWriter, r *http.Request) {
	ancestors, err := h.Engine.GetAncestors(r.Context(), costtree.NodeID(chi.URLParam(r, "id")))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get ancestors", err)
		return
	}
	dtos := make([]NodeDTO, 0, len(ancestors))
	for i := range ancestors {
		dtos = append(dtos, toNodeDTO(&ancestors[i]))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// UpdateValuation re-specifies an item's valuation. The valuation type
// must match the stored one.
// PUT /api/nodes/{id}/valuation
func (h *Handler) UpdateValuation(w http.ResponseWriter, r *http.Request) {
	var req UpdateValuationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	v := fromValuationDTO(&req.Valuation)
	if v == nil {
		writeError(w, http.StatusBadRequest, "Unknown valuation type", nil)
		return
	}

	res, err := h.Engine.Apply(r.Context(), costtree.Update{
		NodeID:    costtree.NodeID(chi.URLParam(r, "id")),
		Valuation: *v,
	})
	if err != nil {
		writeEngineError(w, "Failed to update valuation", err)
		return
	}
	writeJSON(w, http.StatusOK, toMutationResultDTO(res))
}

// ReorderNode changes a node's display order.
// PUT /api/nodes/{id}/order
func (h *Handler) ReorderNode(w http.ResponseWriter, r *http.Request) {
	var req ReorderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	res, err := h.Engine.Apply(r.Context(), costtree.Reorder{
		NodeID:       costtree.NodeID(chi.URLParam(r, "id")),
		DisplayOrder: req.DisplayOrder,
	})
	if err != nil {
		writeEngineError(w, "Failed to reorder node", err)
		return
	}
	writeJSON(w, http.StatusOK, toMutationResultDTO(res))
}

// DeleteNode deletes a node and its subtree. Deletes blocked by surviving
// percentage references return 409 with the error detail.
// DELETE /api/nodes/{id}
func (h *Handler) DeleteNode(w http.ResponseWriter, r *http.Request) {
	res, err := h.Engine.Apply(r.Context(), costtree.Delete{
		NodeID: costtree.NodeID(chi.URLParam(r, "id")),
	})
	if err != nil {
		writeEngineError(w, "Failed to delete node", err)
		return
	}
	writeJSON(w, http.StatusOK, toMutationResultDTO(res))
}

// =============================================================================
// CHANGE FEED
// =============================================================================

// ListChanges returns recent audit entries, newest last.
// GET /api/changes?limit=50
func (h *Handler) ListChanges(w http.ResponseWriter, r *http.Request) {
	if h.Audit == nil {
		writeJSON(w, http.StatusOK, []AuditEntryDTO{})
		return
	}

	limit := 50
	if s := r.URL.Query().Get("limit"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 {
			limit = n
		}
	}

	entries := h.Audit.Recent(limit)
	dtos := make([]AuditEntryDTO, 0, len(entries))
	for _, e := range entries {
		dtos = append(dtos, toAuditEntryDTO(e))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeEngineError maps engine error kinds onto HTTP status codes.
func writeEngineError(w http.ResponseWriter, message string, err error) {
	switch {
	case costtree.IsNotFound(err):
		writeError(w, http.StatusNotFound, message, err)
	case errors.Is(err, costtree.ErrReferencedByOthers):
		writeError(w, http.StatusConflict, message, err)
	case costtree.IsRetryable(err):
		writeError(w, http.StatusConflict, message, err)
	case costtree.IsClientError(err):
		writeError(w, http.StatusBadRequest, message, err)
	default:
		writeError(w, http.StatusInternalServerError, message, err)
	}
}
