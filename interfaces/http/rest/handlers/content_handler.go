package handlers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"loci/application/services/content"
	"loci/domain/core/entities"
	"loci/domain/core/valueobjects"
	pkgerrors "loci/pkg/errors"
)

// ContentHandler creates and moves records of the knowledge tree.
type ContentHandler struct {
	responder
	content *content.Service
}

// NewContentHandler creates a new content handler
func NewContentHandler(contentService *content.Service, errHandler *pkgerrors.ErrorHandler, logger *zap.Logger) *ContentHandler {
	return &ContentHandler{
		responder: newResponder(errHandler, logger),
		content:   contentService,
	}
}

// create decodes a body of type In, runs fn and answers 201 with the result.
func create[In any, Out any](h *ContentHandler, fn func(context.Context, valueobjects.Principal, In) (Out, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var in In
		if err := decode(r, &in); err != nil {
			h.respondError(w, r, err)
			return
		}
		out, err := fn(r.Context(), principalOf(r.Context()), in)
		if err != nil {
			h.respondError(w, r, err)
			return
		}
		h.respondJSON(w, http.StatusCreated, out)
	}
}

// CreateNexus handles POST /nexi
func (h *ContentHandler) CreateNexus(w http.ResponseWriter, r *http.Request) {
	create(h, h.content.CreateNexus)(w, r)
}

// CreateNotebook handles POST /notebooks
func (h *ContentHandler) CreateNotebook(w http.ResponseWriter, r *http.Request) {
	create(h, h.content.CreateNotebook)(w, r)
}

// CreateTag handles POST /tags
func (h *ContentHandler) CreateTag(w http.ResponseWriter, r *http.Request) {
	create(h, h.content.CreateTag)(w, r)
}

// CreateChunk handles POST /chunks
func (h *ContentHandler) CreateChunk(w http.ResponseWriter, r *http.Request) {
	create(h, h.content.CreateChunk)(w, r)
}

// CreateChunkConnection handles POST /chunk-connections
func (h *ContentHandler) CreateChunkConnection(w http.ResponseWriter, r *http.Request) {
	create(h, h.content.CreateChunkConnection)(w, r)
}

// CreateConversation handles POST /conversations
func (h *ContentHandler) CreateConversation(w http.ResponseWriter, r *http.Request) {
	create(h, h.content.CreateConversation)(w, r)
}

// MessageRequest is the body of POST /conversations/{conversationID}/messages.
type MessageRequest struct {
	Role string `json:"role" validate:"required,oneof=user assistant system"`
	Text string `json:"text" validate:"required"`
}

// AddMessage handles POST /conversations/{conversationID}/messages
func (h *ContentHandler) AddMessage(w http.ResponseWriter, r *http.Request) {
	var req MessageRequest
	if err := decode(r, &req); err != nil {
		h.respondError(w, r, err)
		return
	}
	msg, err := h.content.AddConversationMessage(r.Context(), principalOf(r.Context()), content.AddMessageInput{
		ConversationID: chi.URLParam(r, "conversationID"),
		Role:           req.Role,
		Text:           req.Text,
	})
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusCreated, msg)
}

// MoveChunkRequest names the target notebook. An empty target keeps the
// chunk in its notebook.
type MoveChunkRequest struct {
	TargetNotebookID string `json:"targetNotebookId"`
}

type chunkMover func(ctx context.Context, p valueobjects.Principal, chunkID, targetNotebookID string) (*entities.ContentItem, error)

func (h *ContentHandler) moveChunk(move chunkMover) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req MoveChunkRequest
		if r.ContentLength != 0 {
			if err := decode(r, &req); err != nil {
				h.respondError(w, r, err)
				return
			}
		}
		item, err := move(r.Context(), principalOf(r.Context()), chi.URLParam(r, "chunkID"), req.TargetNotebookID)
		if err != nil {
			h.respondError(w, r, err)
			return
		}
		h.respondJSON(w, http.StatusOK, item)
	}
}

// MoveChunk handles POST /chunks/{chunkID}/move
func (h *ContentHandler) MoveChunk(w http.ResponseWriter, r *http.Request) {
	h.moveChunk(h.content.MoveChunk)(w, r)
}

// MoveChunkToTop handles POST /chunks/{chunkID}/move-top
func (h *ContentHandler) MoveChunkToTop(w http.ResponseWriter, r *http.Request) {
	h.moveChunk(h.content.MoveChunkToTop)(w, r)
}

// MoveChunkToBottom handles POST /chunks/{chunkID}/move-bottom
func (h *ContentHandler) MoveChunkToBottom(w http.ResponseWriter, r *http.Request) {
	h.moveChunk(h.content.MoveChunkToBottom)(w, r)
}
