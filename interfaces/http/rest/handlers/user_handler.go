package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"loci/application/services/content"
	"loci/application/services/ledger"
	"loci/domain/core/valueobjects"
	pkgerrors "loci/pkg/errors"
)

// UserHandler serves the caller's own profile.
type UserHandler struct {
	responder
	ledger  *ledger.Service
	content *content.Service
}

// NewUserHandler creates a new user handler
func NewUserHandler(ledgerService *ledger.Service, contentService *content.Service, errHandler *pkgerrors.ErrorHandler, logger *zap.Logger) *UserHandler {
	return &UserHandler{
		responder: newResponder(errHandler, logger),
		ledger:    ledgerService,
		content:   contentService,
	}
}

// RegisterRequest carries the profile fields not present in the token.
type RegisterRequest struct {
	Email string `json:"email" validate:"omitempty,email"`
}

// Register handles POST /users/me
func (h *UserHandler) Register(w http.ResponseWriter, r *http.Request) {
	p := principalOf(r.Context())
	if err := p.RequireUser(); err != nil {
		h.respondError(w, r, err)
		return
	}
	var req RegisterRequest
	if r.ContentLength != 0 {
		if err := decode(r, &req); err != nil {
			h.respondError(w, r, err)
			return
		}
	}

	user, created, err := h.ledger.RegisterUser(r.Context(), p.UserID, req.Email)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	h.respondJSON(w, status, user)
}

// PlacementRequest sets one placement preference.
type PlacementRequest struct {
	Category  string `json:"category" validate:"required,oneof=add import research"`
	Placement string `json:"placement" validate:"required,oneof=top bottom"`
}

// SetPlacement handles PUT /users/me/placement
func (h *UserHandler) SetPlacement(w http.ResponseWriter, r *http.Request) {
	var req PlacementRequest
	if err := decode(r, &req); err != nil {
		h.respondError(w, r, err)
		return
	}
	user, err := h.content.SetPlacementPreference(r.Context(), principalOf(r.Context()),
		valueobjects.PlacementCategory(req.Category), valueobjects.Placement(req.Placement))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, user)
}
