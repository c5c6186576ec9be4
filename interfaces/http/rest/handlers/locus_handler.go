package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"loci/application/services/content"
	"loci/application/services/ordering"
	"loci/domain/core/entities"
	"loci/domain/core/valueobjects"
	pkgerrors "loci/pkg/errors"
)

// LocusHandler reads and rearranges the ordered contents of a locus.
type LocusHandler struct {
	responder
	content *content.Service
}

// NewLocusHandler creates a new locus handler
func NewLocusHandler(contentService *content.Service, errHandler *pkgerrors.ErrorHandler, logger *zap.Logger) *LocusHandler {
	return &LocusHandler{
		responder: newResponder(errHandler, logger),
		content:   contentService,
	}
}

// ItemResponse is one placement together with the record it places.
type ItemResponse struct {
	*entities.ContentItem
	Content entities.Record `json:"content"`
}

// ListItems handles GET /loci/{locusID}/items
func (h *LocusHandler) ListItems(w http.ResponseWriter, r *http.Request) {
	var contentType *valueobjects.ContentType
	if raw := r.URL.Query().Get("contentType"); raw != "" {
		ct, err := valueobjects.ParseContentType(raw)
		if err != nil {
			h.respondError(w, r, err)
			return
		}
		contentType = &ct
	}

	items, err := h.content.GetLocusContentItems(r.Context(), principalOf(r.Context()),
		chi.URLParam(r, "locusID"), contentType, r.URL.Query().Get("parentId"))
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	out := make([]ItemResponse, len(items))
	for i, item := range items {
		out[i] = ItemResponse{ContentItem: item.Item, Content: item.Content.Record()}
	}
	h.respondJSON(w, http.StatusOK, map[string]interface{}{"items": out})
}

// ReorderRequest lists content IDs in their new order.
type ReorderRequest struct {
	ContentType       string   `json:"contentType" validate:"required"`
	OrderedContentIDs []string `json:"orderedContentIds" validate:"required,min=1"`
	ParentID          string   `json:"parentId"`
}

// Reorder handles PUT /loci/{locusID}/items/order
func (h *LocusHandler) Reorder(w http.ResponseWriter, r *http.Request) {
	var req ReorderRequest
	if err := decode(r, &req); err != nil {
		h.respondError(w, r, err)
		return
	}
	contentType, err := valueobjects.ParseContentType(req.ContentType)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	if err := h.content.ReorderLocusContentItems(r.Context(), principalOf(r.Context()),
		chi.URLParam(r, "locusID"), contentType, req.OrderedContentIDs, req.ParentID); err != nil {
		h.respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// MoveItemRequest is the destination of a content item. A missing
// newPosition appends.
type MoveItemRequest struct {
	NewLocusID   string `json:"newLocusId" validate:"required"`
	NewLocusType string `json:"newLocusType" validate:"omitempty,oneof=notebook nexus"`
	NewParentID  string `json:"newParentId"`
	NewPosition  *int   `json:"newPosition" validate:"omitempty,gte=0"`
}

// MoveItem handles POST /content-items/{itemID}/move
func (h *LocusHandler) MoveItem(w http.ResponseWriter, r *http.Request) {
	var req MoveItemRequest
	if err := decode(r, &req); err != nil {
		h.respondError(w, r, err)
		return
	}
	item, err := h.content.MoveLocusContentItem(r.Context(), principalOf(r.Context()), ordering.MoveRequest{
		ItemID: chi.URLParam(r, "itemID"),
		Destination: ordering.Destination{
			LocusID:   req.NewLocusID,
			LocusType: valueobjects.LocusType(req.NewLocusType),
			ParentID:  req.NewParentID,
		},
		NewPosition: req.NewPosition,
	})
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, item)
}
