package handlers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"loci/application/services/cascade"
	"loci/domain/core/valueobjects"
	pkgerrors "loci/pkg/errors"
)

// CascadeHandler deletes containers with everything under them.
type CascadeHandler struct {
	responder
	cascade *cascade.Service
}

// NewCascadeHandler creates a new cascade handler
func NewCascadeHandler(cascadeService *cascade.Service, errHandler *pkgerrors.ErrorHandler, logger *zap.Logger) *CascadeHandler {
	return &CascadeHandler{
		responder: newResponder(errHandler, logger),
		cascade:   cascadeService,
	}
}

type deleteFunc func(ctx context.Context, p valueobjects.Principal, id string, opts cascade.Options) (*cascade.Report, error)

// delete serves DELETE /{kind}/{id}. A dry run answers 200 with the plan,
// a real cascade answers 200 with what was removed.
func (h *CascadeHandler) delete(fn deleteFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		preview, err := dryRun(r)
		if err != nil {
			h.respondError(w, r, err)
			return
		}
		report, err := fn(r.Context(), principalOf(r.Context()), chi.URLParam(r, "id"), cascade.Options{DryRun: preview})
		if err != nil {
			h.respondError(w, r, err)
			return
		}
		h.respondJSON(w, http.StatusOK, report)
	}
}

// DeleteNexus handles DELETE /nexi/{id}
func (h *CascadeHandler) DeleteNexus(w http.ResponseWriter, r *http.Request) {
	h.delete(h.cascade.DeleteNexus)(w, r)
}

// DeleteNotebook handles DELETE /notebooks/{id}
func (h *CascadeHandler) DeleteNotebook(w http.ResponseWriter, r *http.Request) {
	h.delete(h.cascade.DeleteNotebook)(w, r)
}

// DeleteChunk handles DELETE /chunks/{id}
func (h *CascadeHandler) DeleteChunk(w http.ResponseWriter, r *http.Request) {
	h.delete(h.cascade.DeleteChunk)(w, r)
}

// DeleteTag handles DELETE /tags/{id}
func (h *CascadeHandler) DeleteTag(w http.ResponseWriter, r *http.Request) {
	h.delete(h.cascade.DeleteTag)(w, r)
}

// DeleteConversation handles DELETE /conversations/{id}
func (h *CascadeHandler) DeleteConversation(w http.ResponseWriter, r *http.Request) {
	h.delete(h.cascade.DeleteConversation)(w, r)
}

// DeleteChunkConnection handles DELETE /chunk-connections/{id}
func (h *CascadeHandler) DeleteChunkConnection(w http.ResponseWriter, r *http.Request) {
	h.delete(h.cascade.DeleteChunkConnection)(w, r)
}

// Repair handles POST /admin/repair
func (h *CascadeHandler) Repair(w http.ResponseWriter, r *http.Request) {
	preview, err := dryRun(r)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	report, err := h.cascade.RepairOrphans(r.Context(), cascade.Options{DryRun: preview})
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, report)
}
